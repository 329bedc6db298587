package driver

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/GabrielNunesIT/protocol-hub/internal/model"
)

func TestParseSyslogHeader(t *testing.T) {
	tests := []struct {
		name         string
		raw          string
		ok           bool
		facilityName string
		severityName string
		severity     model.Severity
		message      string
	}{
		{
			name:         "RFC3164 message",
			raw:          "<134>Oct 11 22:14:15 mymachine su: 'su root' failed",
			ok:           true,
			facilityName: "local0",
			severityName: "info",
			severity:     model.SeverityInfo,
			message:      "Oct 11 22:14:15 mymachine su: 'su root' failed",
		},
		{
			name:         "RFC5424 message",
			raw:          "<165>1 2003-10-11T22:14:15.003Z mymachine.example.com evntslog - ID47 - An application event",
			ok:           true,
			facilityName: "local4",
			severityName: "notice",
			severity:     model.SeverityInfo,
		},
		{
			name:         "kernel emergency",
			raw:          "<0>panic",
			ok:           true,
			facilityName: "kern",
			severityName: "emerg",
			severity:     model.SeverityCritical,
		},
		{
			name:         "error",
			raw:          "<11>disk failed",
			ok:           true,
			facilityName: "user",
			severityName: "err",
			severity:     model.SeverityError,
		},
		{
			name:         "warning",
			raw:          "<12>disk almost full",
			ok:           true,
			facilityName: "user",
			severityName: "warning",
			severity:     model.SeverityWarn,
		},
		{
			name:         "debug",
			raw:          "<15>trace",
			ok:           true,
			facilityName: "user",
			severityName: "debug",
			severity:     model.SeverityDebug,
		},
		{name: "no header", raw: "plain message"},
		{name: "unterminated", raw: "<13 plain"},
		{name: "not a number", raw: "<ab>x"},
		{name: "out of range", raw: "<192>x"},
		{name: "empty", raw: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, ok := parseSyslogHeader(tt.raw)
			assert.Equal(t, tt.ok, ok)
			if !tt.ok {
				return
			}
			attrs := h.attributes()
			assert.Equal(t, tt.facilityName, attrs["facility_name"])
			assert.Equal(t, tt.severityName, attrs["severity_name"])
			assert.Equal(t, tt.severity, h.eventSeverity())
			if tt.message != "" {
				assert.Equal(t, tt.message, attrs["message"])
			}
		})
	}
}

func TestFacilityAndSeverityNames(t *testing.T) {
	assert.Equal(t, "unknown", facilityName(24))
	assert.Equal(t, "unknown", severityName(-1))
	assert.Equal(t, "local7", facilityName(23))
	assert.Equal(t, "crit", severityName(2))
}
