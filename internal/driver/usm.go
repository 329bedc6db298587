package driver

import (
	"fmt"
	"io"
	stdlog "log"
	"strings"

	"github.com/gosnmp/gosnmp"

	"github.com/GabrielNunesIT/protocol-hub/internal/config"
)

// snmpLogger silences gosnmp's internal logging.
var snmpLogger = gosnmp.NewLogger(stdlog.New(io.Discard, "", 0))

func authProtocol(s string) (gosnmp.SnmpV3AuthProtocol, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "NONE":
		return gosnmp.NoAuth, nil
	case "MD5":
		return gosnmp.MD5, nil
	case "SHA":
		return gosnmp.SHA, nil
	}
	return gosnmp.NoAuth, fmt.Errorf("unknown auth protocol %q", s)
}

func privProtocol(s string) (gosnmp.SnmpV3PrivProtocol, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "NONE":
		return gosnmp.NoPriv, nil
	case "DES":
		return gosnmp.DES, nil
	case "AES", "AES128":
		return gosnmp.AES, nil
	}
	return gosnmp.NoPriv, fmt.Errorf("unknown privacy protocol %q", s)
}

// usmSecurityTable builds the USM table used to authenticate and decrypt
// SNMPv3 traps. It returns nil when no users are configured, which leaves
// SNMPv3 disabled.
func usmSecurityTable(users []config.SNMPUserConfig) (*gosnmp.SnmpV3SecurityParametersTable, gosnmp.SnmpV3MsgFlags, error) {
	if len(users) == 0 {
		return nil, gosnmp.NoAuthNoPriv, nil
	}

	table := gosnmp.NewSnmpV3SecurityParametersTable(snmpLogger)
	flags := gosnmp.NoAuthNoPriv

	for _, u := range users {
		auth, err := authProtocol(u.AuthProtocol)
		if err != nil {
			return nil, flags, fmt.Errorf("user %s: %w", u.Username, err)
		}
		priv, err := privProtocol(u.PrivProtocol)
		if err != nil {
			return nil, flags, fmt.Errorf("user %s: %w", u.Username, err)
		}
		if priv != gosnmp.NoPriv && auth == gosnmp.NoAuth {
			return nil, flags, fmt.Errorf("user %s: privacy requires authentication", u.Username)
		}

		params := &gosnmp.UsmSecurityParameters{
			UserName:                 u.Username,
			AuthenticationProtocol:   auth,
			AuthenticationPassphrase: u.AuthPassphrase,
			PrivacyProtocol:          priv,
			PrivacyPassphrase:        u.PrivPassphrase,
			Logger:                   snmpLogger,
		}
		if err := table.Add(u.Username, params); err != nil {
			return nil, flags, fmt.Errorf("user %s: %w", u.Username, err)
		}

		switch {
		case priv != gosnmp.NoPriv:
			flags = gosnmp.AuthPriv
		case auth != gosnmp.NoAuth && flags == gosnmp.NoAuthNoPriv:
			flags = gosnmp.AuthNoPriv
		}
	}

	return table, flags, nil
}
