package config

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

const minPassphraseLen = 8

// Validate checks the configuration for structural problems. Every problem
// found is reported, joined into a single error.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...)))
	}

	if c.Pipeline.BufferSize < 0 {
		add("pipeline.buffersize must not be negative")
	}

	seen := map[string]bool{}
	claim := func(id, where string) {
		if id == "" {
			add("%s: pluginid is required", where)
			return
		}
		if seen[id] {
			add("%s: duplicate pluginid %q", where, id)
		}
		seen[id] = true
	}

	for i, d := range c.Drivers.Line {
		where := fmt.Sprintf("drivers.line[%d]", i)
		claim(d.PluginID, where)
		if d.Network != "udp" && d.Network != "tcp" {
			add("%s: network must be udp or tcp, got %q", where, d.Network)
		}
		if !validPort(d.Port) {
			add("%s: invalid port %d", where, d.Port)
		}
		if d.MaxMessageBytes < 0 {
			add("%s: maxmessagebytes must not be negative", where)
		}
	}

	for i, d := range c.Drivers.Traps {
		where := fmt.Sprintf("drivers.traps[%d]", i)
		claim(d.PluginID, where)
		if !validPort(d.Port) {
			add("%s: invalid port %d", where, d.Port)
		}
		if d.QueueCapacity < 1 {
			add("%s: queuecapacity must be at least 1", where)
		}
		if d.WorkerThreads < 1 {
			add("%s: workerthreads must be at least 1", where)
		}
		switch strings.ToUpper(d.OverflowPolicy) {
		case OverflowBlock, OverflowDropNewest:
		default:
			add("%s: overflowpolicy must be BLOCK or DROP_NEWEST, got %q", where, d.OverflowPolicy)
		}
		if d.OfferTimeoutMs < 0 {
			add("%s: offertimeoutms must not be negative", where)
		}
		if d.MaxMessageBytes < 0 {
			add("%s: maxmessagebytes must not be negative", where)
		}
		for j, u := range d.Users {
			for _, msg := range u.problems() {
				add("%s.users[%d]: %s", where, j, msg)
			}
		}
	}

	if c.Drivers.Journal.Enabled {
		claim(c.Drivers.Journal.PluginID, "drivers.journal")
	}

	for i, n := range c.Normalizers {
		where := fmt.Sprintf("normalizers[%d]", i)
		switch n.Type {
		case NormalizerRules:
			if n.RulesFile == "" {
				add("%s: rules normalizer needs rulesfile", where)
			}
		case NormalizerTrap, NormalizerParser, NormalizerLabels, NormalizerSyslogCPU:
		default:
			add("%s: unknown type %q", where, n.Type)
		}
	}

	if c.MIB.Enabled && c.MIB.Dir == "" {
		add("mib.dir is required when mib is enabled")
	}

	return errors.Join(errs...)
}

func validPort(p int) bool {
	return p >= 0 && p <= 65535
}

func (u SNMPUserConfig) problems() []string {
	var out []string
	if strings.TrimSpace(u.Username) == "" {
		out = append(out, "username is required")
	}

	auth := strings.ToUpper(u.AuthProtocol)
	priv := strings.ToUpper(u.PrivProtocol)

	switch auth {
	case "", "NONE":
		auth = "NONE"
	case "MD5", "SHA":
		if len(u.AuthPassphrase) < minPassphraseLen {
			out = append(out, fmt.Sprintf("authpassphrase must be at least %d characters", minPassphraseLen))
		}
	default:
		out = append(out, fmt.Sprintf("unknown authprotocol %q", u.AuthProtocol))
	}

	switch priv {
	case "", "NONE":
	case "DES", "AES", "AES128":
		if auth == "NONE" {
			out = append(out, "privacy requires authentication")
		}
		if len(u.PrivPassphrase) < minPassphraseLen {
			out = append(out, fmt.Sprintf("privpassphrase must be at least %d characters", minPassphraseLen))
		}
	default:
		out = append(out, fmt.Sprintf("unknown privprotocol %q", u.PrivProtocol))
	}
	return out
}
