package model

import (
	"fmt"
	"strings"
)

// Protocol identifies the wire protocol an event arrived on.
type Protocol string

const (
	ProtocolSNMPTrap  Protocol = "SNMP_TRAP"
	ProtocolSyslog    Protocol = "SYSLOG"
	ProtocolFlow      Protocol = "FLOW"
	ProtocolTelemetry Protocol = "TELEMETRY"
)

// Kind is the coarse category of an event.
type Kind string

const (
	KindTrap      Kind = "TRAP"
	KindLog       Kind = "LOG"
	KindFlow      Kind = "FLOW"
	KindTelemetry Kind = "TELEMETRY"
)

// Transport is the transport the message was received over.
type Transport string

const (
	TransportUDP  Transport = "UDP"
	TransportTCP  Transport = "TCP"
	TransportTLS  Transport = "TLS"
	TransportGRPC Transport = "GRPC"
	// TransportLocal marks events read from a local source such as the
	// systemd journal.
	TransportLocal Transport = "LOCAL"
)

// Severity is the normalized severity of an event. The zero value means unset.
type Severity string

const (
	SeverityDebug    Severity = "DEBUG"
	SeverityInfo     Severity = "INFO"
	SeverityWarn     Severity = "WARN"
	SeverityError    Severity = "ERROR"
	SeverityCritical Severity = "CRITICAL"
)

// ParseProtocol parses a protocol name case-insensitively.
func ParseProtocol(s string) (Protocol, error) {
	switch p := Protocol(strings.ToUpper(strings.TrimSpace(s))); p {
	case ProtocolSNMPTrap, ProtocolSyslog, ProtocolFlow, ProtocolTelemetry:
		return p, nil
	}
	return "", fmt.Errorf("unknown protocol %q", s)
}

// ParseKind parses an event kind case-insensitively.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToUpper(strings.TrimSpace(s))); k {
	case KindTrap, KindLog, KindFlow, KindTelemetry:
		return k, nil
	}
	return "", fmt.Errorf("unknown kind %q", s)
}

// ParseTransport parses a transport name case-insensitively.
func ParseTransport(s string) (Transport, error) {
	switch t := Transport(strings.ToUpper(strings.TrimSpace(s))); t {
	case TransportUDP, TransportTCP, TransportTLS, TransportGRPC, TransportLocal:
		return t, nil
	}
	return "", fmt.Errorf("unknown transport %q", s)
}

// ParseSeverity parses a severity name case-insensitively. WARNING is accepted
// as an alias of WARN.
func ParseSeverity(s string) (Severity, error) {
	up := strings.ToUpper(strings.TrimSpace(s))
	if up == "WARNING" {
		return SeverityWarn, nil
	}
	switch sev := Severity(up); sev {
	case SeverityDebug, SeverityInfo, SeverityWarn, SeverityError, SeverityCritical:
		return sev, nil
	}
	return "", fmt.Errorf("unknown severity %q", s)
}
