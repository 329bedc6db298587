// Package emitter defines the interface and implementations for event
// destinations.
package emitter

import (
	"context"
	"net/http"
	"strings"

	"github.com/GabrielNunesIT/protocol-hub/internal/model"
)

// Emitter defines the contract for event destinations.
// Each emitter receives normalized events and writes them to a destination.
type Emitter interface {
	// Start initializes the emitter (connections, buffers, etc.).
	// Called once before Emit is called.
	Start(ctx context.Context) error

	// Emit sends an event to the destination.
	// Must be safe to call concurrently.
	Emit(ctx context.Context, ev model.NormalizedEvent) error

	// Stop gracefully shuts down the emitter.
	// Should flush any buffered data before returning.
	Stop(ctx context.Context) error

	// Name returns a unique identifier for this emitter.
	Name() string
}

// HTTPDoer abstracts HTTP client operations for testing.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Ensure http.Client implements HTTPDoer.
var _ HTTPDoer = (*http.Client)(nil)

// message returns the human-readable line for an event: its body, or for
// bodiless events such as traps the trap OID, or else protocol/kind.
func message(ev model.NormalizedEvent) string {
	if ev.Body != "" {
		return ev.Body
	}
	if oid, ok := ev.Attributes["snmpTrapOID"].(string); ok && oid != "" {
		if name, ok := ev.Tags["trap"]; ok {
			return name + " (" + oid + ")"
		}
		return oid
	}
	return string(ev.Protocol) + "/" + string(ev.Kind)
}

// severity returns the event severity, or INFO when unset.
func severity(ev model.NormalizedEvent) model.Severity {
	if ev.Severity == "" {
		return model.SeverityInfo
	}
	return ev.Severity
}

func lower(v any) string {
	switch s := v.(type) {
	case model.Protocol:
		return strings.ToLower(string(s))
	case model.Kind:
		return strings.ToLower(string(s))
	case model.Severity:
		return strings.ToLower(string(s))
	case string:
		return strings.ToLower(s)
	}
	return ""
}
