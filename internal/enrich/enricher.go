// Package enrich augments raw driver attributes with reference data before
// events are built.
package enrich

// Enricher adds derived keys to a raw attribute map. Implementations must
// return a new map, keep every input key and be safe for concurrent use.
type Enricher interface {
	Enrich(raw map[string]any) map[string]any
}

// Func adapts a plain function to the Enricher interface.
type Func func(map[string]any) map[string]any

// Enrich calls f.
func (f Func) Enrich(raw map[string]any) map[string]any { return f(raw) }

// Chain runs enrichers in order, each seeing the previous output.
type Chain []Enricher

// Enrich applies every enricher in the chain.
func (c Chain) Enrich(raw map[string]any) map[string]any {
	out := raw
	for _, e := range c {
		out = e.Enrich(out)
	}
	return out
}
