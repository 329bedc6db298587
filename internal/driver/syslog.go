package driver

import (
	"strconv"
	"strings"

	"github.com/GabrielNunesIT/protocol-hub/internal/model"
)

// syslogHeader holds the fields decoded from a leading <PRI>.
type syslogHeader struct {
	priority int
	facility int
	severity int
	message  string
}

// parseSyslogHeader extracts priority, facility and severity from a
// message starting with <PRI>. Supports RFC 3164 and RFC 5424 framing.
func parseSyslogHeader(raw string) (syslogHeader, bool) {
	if len(raw) == 0 || raw[0] != '<' {
		return syslogHeader{}, false
	}

	end := strings.IndexByte(raw, '>')
	if end < 2 || end > 4 {
		return syslogHeader{}, false
	}

	priority, err := strconv.Atoi(raw[1:end])
	if err != nil || priority < 0 || priority > 191 {
		return syslogHeader{}, false
	}

	return syslogHeader{
		priority: priority,
		facility: priority / 8,
		severity: priority % 8,
		message:  strings.TrimSpace(raw[end+1:]),
	}, true
}

func (h syslogHeader) attributes() map[string]any {
	return map[string]any{
		"priority":      h.priority,
		"facility":      h.facility,
		"severity":      h.severity,
		"facility_name": facilityName(h.facility),
		"severity_name": severityName(h.severity),
		"message":       h.message,
	}
}

// eventSeverity maps a syslog severity (0-7) onto the event scale.
func (h syslogHeader) eventSeverity() model.Severity {
	switch {
	case h.severity <= 2:
		return model.SeverityCritical
	case h.severity == 3:
		return model.SeverityError
	case h.severity == 4:
		return model.SeverityWarn
	case h.severity <= 6:
		return model.SeverityInfo
	default:
		return model.SeverityDebug
	}
}

// facilityName returns the human-readable facility name.
func facilityName(facility int) string {
	names := []string{
		"kern", "user", "mail", "daemon", "auth", "syslog", "lpr", "news",
		"uucp", "cron", "authpriv", "ftp", "ntp", "audit", "alert", "clock",
		"local0", "local1", "local2", "local3", "local4", "local5", "local6", "local7",
	}
	if facility >= 0 && facility < len(names) {
		return names[facility]
	}
	return "unknown"
}

// severityName returns the human-readable severity name.
func severityName(severity int) string {
	names := []string{
		"emerg", "alert", "crit", "err", "warning", "notice", "info", "debug",
	}
	if severity >= 0 && severity < len(names) {
		return names[severity]
	}
	return "unknown"
}
