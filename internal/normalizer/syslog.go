package normalizer

import (
	"regexp"

	"github.com/GabrielNunesIT/protocol-hub/internal/model"
)

// CPUPattern extracts a CPU percentage from a syslog body. It is matched
// case-insensitively.
const CPUPattern = `cpu[:=]\s*(?<pct>\d{1,3})%`

// CPUAttribute is the attribute the extracted percentage is written to.
const CPUAttribute = "syslog.cpu_pct"

var cpuRe = regexp.MustCompile("(?i)" + CPUPattern)

// SyslogCPUNormalizer pulls CPU utilisation out of syslog bodies. Matching
// events get the percentage as an attribute and WARN severity unless one
// is already set.
type SyslogCPUNormalizer struct {
	name     string
	pluginID string
}

// NewSyslogCPUNormalizer creates the built-in CPU normalizer. With an empty
// pluginID it claims every SYSLOG event.
func NewSyslogCPUNormalizer(name, pluginID string) *SyslogCPUNormalizer {
	if name == "" {
		name = "syslog-cpu"
	}
	return &SyslogCPUNormalizer{name: name, pluginID: pluginID}
}

// Name returns the normalizer identifier.
func (n *SyslogCPUNormalizer) Name() string { return n.name }

// Supports claims syslog events, restricted to one plugin when configured.
func (n *SyslogCPUNormalizer) Supports(e model.NormalizedEvent) bool {
	if n.pluginID != "" {
		return e.PluginID == n.pluginID
	}
	return e.Protocol == model.ProtocolSyslog
}

// Normalize returns e unchanged when the body carries no CPU reading.
func (n *SyslogCPUNormalizer) Normalize(e model.NormalizedEvent) model.NormalizedEvent {
	if e.Body == "" {
		return e
	}
	m := cpuRe.FindStringSubmatch(e.Body)
	if m == nil {
		return e
	}

	attrs := model.CopyAttributes(e.Attributes)
	attrs[CPUAttribute] = m[cpuRe.SubexpIndex("pct")]
	sev := e.Severity
	if sev == "" {
		sev = model.SeverityWarn
	}
	return e.WithEnrichment(model.CopyTags(e.Tags), attrs, sev)
}
