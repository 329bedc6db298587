// Package model defines the normalized event that flows from drivers through
// the normalizer chain to emitters.
package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrMissingField is returned by Builder.Build when a required field is absent.
var ErrMissingField = errors.New("missing required field")

// Source identifies the peer that sent a message.
type Source struct {
	Host      string    `json:"host"`
	Port      int       `json:"port"`
	Hostname  string    `json:"hostname,omitempty"`
	Transport Transport `json:"transport"`
}

// Metric is an optional numeric measurement carried by an event.
type Metric struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
	Unit  string  `json:"unit,omitempty"`
}

// NormalizedEvent is the protocol-agnostic record produced by drivers.
//
// Events are treated as immutable once built: normalizers derive new values
// through Derive or WithEnrichment instead of editing maps in place.
type NormalizedEvent struct {
	ID         string            `json:"id"`
	Timestamp  time.Time         `json:"ts"`
	ReceivedAt time.Time         `json:"receivedTs"`
	Protocol   Protocol          `json:"protocol"`
	Kind       Kind              `json:"kind"`
	Source     Source            `json:"source"`
	PluginID   string            `json:"pluginId,omitempty"`
	Tenant     string            `json:"tenant,omitempty"`
	Severity   Severity          `json:"severity,omitempty"`
	Body       string            `json:"body,omitempty"`
	Metric     *Metric           `json:"metric,omitempty"`
	Tags       map[string]string `json:"tags"`
	Attributes map[string]any    `json:"attributes"`
	Bytes      int               `json:"bytes,omitempty"`
}

// Builder assembles a NormalizedEvent. The zero value is ready to use.
type Builder struct {
	ev NormalizedEvent
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder { return &Builder{} }

func (b *Builder) ID(id string) *Builder                { b.ev.ID = id; return b }
func (b *Builder) Timestamp(ts time.Time) *Builder      { b.ev.Timestamp = ts; return b }
func (b *Builder) ReceivedAt(ts time.Time) *Builder     { b.ev.ReceivedAt = ts; return b }
func (b *Builder) Protocol(p Protocol) *Builder         { b.ev.Protocol = p; return b }
func (b *Builder) Kind(k Kind) *Builder                 { b.ev.Kind = k; return b }
func (b *Builder) Source(s Source) *Builder             { b.ev.Source = s; return b }
func (b *Builder) PluginID(id string) *Builder          { b.ev.PluginID = id; return b }
func (b *Builder) Tenant(t string) *Builder             { b.ev.Tenant = t; return b }
func (b *Builder) Severity(s Severity) *Builder         { b.ev.Severity = s; return b }
func (b *Builder) Body(body string) *Builder            { b.ev.Body = body; return b }
func (b *Builder) Bytes(n int) *Builder                 { b.ev.Bytes = n; return b }
func (b *Builder) Tags(tags map[string]string) *Builder { b.ev.Tags = tags; return b }
func (b *Builder) Attributes(a map[string]any) *Builder { b.ev.Attributes = a; return b }

// Metric sets the optional metric. A nil metric clears it.
func (b *Builder) Metric(m *Metric) *Builder {
	if m == nil {
		b.ev.Metric = nil
		return b
	}
	cp := *m
	b.ev.Metric = &cp
	return b
}

// Tag sets a single tag.
func (b *Builder) Tag(k, v string) *Builder {
	if b.ev.Tags == nil {
		b.ev.Tags = make(map[string]string)
	}
	b.ev.Tags[k] = v
	return b
}

// Attribute sets a single top-level attribute.
func (b *Builder) Attribute(k string, v any) *Builder {
	if b.ev.Attributes == nil {
		b.ev.Attributes = make(map[string]any)
	}
	b.ev.Attributes[k] = v
	return b
}

// Build validates the required fields and returns the event. Tags and
// attributes are deep-copied so later changes to the builder's inputs do
// not leak into the event.
func (b *Builder) Build() (NormalizedEvent, error) {
	ev := b.ev
	switch {
	case ev.Timestamp.IsZero():
		return NormalizedEvent{}, fmt.Errorf("%w: ts", ErrMissingField)
	case ev.Protocol == "":
		return NormalizedEvent{}, fmt.Errorf("%w: protocol", ErrMissingField)
	case ev.Kind == "":
		return NormalizedEvent{}, fmt.Errorf("%w: kind", ErrMissingField)
	case ev.Source.Transport == "":
		return NormalizedEvent{}, fmt.Errorf("%w: source.transport", ErrMissingField)
	}

	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now()
	}
	ev.Tags = CopyTags(ev.Tags)
	ev.Attributes = CopyAttributes(ev.Attributes)
	if ev.Metric != nil {
		m := *ev.Metric
		ev.Metric = &m
	}
	return ev, nil
}

// Derive returns a builder seeded with a deep copy of e.
func (e NormalizedEvent) Derive() *Builder {
	cp := e
	cp.Tags = CopyTags(e.Tags)
	cp.Attributes = CopyAttributes(e.Attributes)
	if e.Metric != nil {
		m := *e.Metric
		cp.Metric = &m
	}
	return &Builder{ev: cp}
}

// WithEnrichment returns a copy of e with tags, attributes and severity
// replaced. Every other field is carried over.
func (e NormalizedEvent) WithEnrichment(tags map[string]string, attrs map[string]any, sev Severity) NormalizedEvent {
	out := e
	out.Tags = CopyTags(tags)
	out.Attributes = CopyAttributes(attrs)
	out.Severity = sev
	return out
}

// WithTenant returns a copy of e with the tenant set.
func (e NormalizedEvent) WithTenant(tenant string) NormalizedEvent {
	out := e.Derive().ev
	out.Tenant = tenant
	return out
}

// Clone returns a deep copy of e.
func (e NormalizedEvent) Clone() NormalizedEvent {
	return e.Derive().ev
}

// CopyTags copies a tag map. Nil yields an empty map.
func CopyTags(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// CopyAttributes deep-copies an attribute tree. Nested maps and slices are
// copied; scalar values are shared. Nil yields an empty map.
func CopyAttributes(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CopyAttributes(t)
	case map[string]string:
		return CopyTags(t)
	case []any:
		cp := make([]any, len(t))
		for i, item := range t {
			cp[i] = copyValue(item)
		}
		return cp
	case []string:
		return append([]string(nil), t...)
	case []byte:
		return append([]byte(nil), t...)
	default:
		return v
	}
}
