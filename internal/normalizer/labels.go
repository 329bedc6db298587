package normalizer

import (
	"os"
	"time"

	"github.com/GabrielNunesIT/protocol-hub/internal/config"
	"github.com/GabrielNunesIT/protocol-hub/internal/model"
)

// LabelsNormalizer stamps collector-side metadata onto events.
type LabelsNormalizer struct {
	name     string
	pluginID string
	cfg      config.NormalizerConfig
	hostname string
	now      func() time.Time
}

// NewLabelsNormalizer creates a labelling normalizer.
func NewLabelsNormalizer(cfg config.NormalizerConfig) *LabelsNormalizer {
	l := &LabelsNormalizer{
		name:     cfg.Name,
		pluginID: cfg.PluginID,
		cfg:      cfg,
		now:      time.Now,
	}
	if l.name == "" {
		l.name = config.NormalizerLabels
	}

	// Pre-fetch hostname
	if cfg.AddHostname {
		l.hostname, _ = os.Hostname()
	}

	return l
}

// WithHostname creates a LabelsNormalizer that adds a specific hostname.
func WithHostname(cfg config.NormalizerConfig, hostname string) *LabelsNormalizer {
	l := NewLabelsNormalizer(cfg)
	l.hostname = hostname
	return l
}

// Name returns the normalizer identifier.
func (l *LabelsNormalizer) Name() string { return l.name }

// Supports claims every event, or one plugin's events when configured.
func (l *LabelsNormalizer) Supports(e model.NormalizedEvent) bool {
	return l.pluginID == "" || e.PluginID == l.pluginID
}

// Normalize adds the collector tag, static tags, an optional processing
// timestamp and a default tenant. Existing tags are kept.
func (l *LabelsNormalizer) Normalize(e model.NormalizedEvent) model.NormalizedEvent {
	tags := model.CopyTags(e.Tags)
	attrs := e.Attributes

	if l.cfg.AddHostname && l.hostname != "" {
		if _, ok := tags["collector"]; !ok {
			tags["collector"] = l.hostname
		}
	}
	for k, v := range l.cfg.StaticTags {
		if _, ok := tags[k]; !ok {
			tags[k] = v
		}
	}
	if l.cfg.AddTimestamp {
		attrs = model.CopyAttributes(e.Attributes)
		attrs["processed_at"] = l.now().UTC().Format(time.RFC3339Nano)
	}

	out := e.WithEnrichment(tags, attrs, e.Severity)
	if out.Tenant == "" && l.cfg.Tenant != "" {
		out.Tenant = l.cfg.Tenant
	}
	return out
}
