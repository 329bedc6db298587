// Package normalizer turns driver-built events into their final normalized
// form. Normalizers are chained by a Registry in configured order.
package normalizer

import (
	"github.com/GabrielNunesIT/go-libs/logger"

	"github.com/GabrielNunesIT/protocol-hub/internal/model"
)

// Normalizer transforms an event into a new event. Implementations must not
// modify the input's maps.
type Normalizer interface {
	// Name returns a unique identifier for this normalizer.
	Name() string

	// Supports reports whether the normalizer claims the event.
	Supports(e model.NormalizedEvent) bool

	// Normalize returns the transformed event.
	Normalize(e model.NormalizedEvent) model.NormalizedEvent
}

// Registry applies an ordered list of normalizers to each event.
type Registry struct {
	normalizers []Normalizer
	logger      logger.ILogger
}

// NewRegistry creates a registry that runs normalizers in the given order.
func NewRegistry(log logger.ILogger, normalizers ...Normalizer) *Registry {
	return &Registry{
		normalizers: normalizers,
		logger:      log.SubLogger("NormalizerRegistry"),
	}
}

// Apply folds the event through every normalizer that supports it. A
// normalizer that panics is skipped and the last good event is kept.
func (r *Registry) Apply(e model.NormalizedEvent) model.NormalizedEvent {
	cur := e
	for _, n := range r.normalizers {
		if !n.Supports(cur) {
			continue
		}
		cur = r.safeNormalize(n, cur)
	}
	return cur
}

func (r *Registry) safeNormalize(n Normalizer, e model.NormalizedEvent) (out model.NormalizedEvent) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Errorf("normalizer %s panicked on event %s: %v", n.Name(), e.ID, rec)
			out = e
		}
	}()
	return n.Normalize(e)
}

// Add appends a normalizer to the end of the chain.
func (r *Registry) Add(n Normalizer) {
	r.normalizers = append(r.normalizers, n)
}

// Len returns the number of normalizers in the chain.
func (r *Registry) Len() int {
	return len(r.normalizers)
}

// Names returns normalizer names in application order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.normalizers))
	for i, n := range r.normalizers {
		names[i] = n.Name()
	}
	return names
}
