package cli

import (
	"github.com/spf13/cobra"
)

// Execute builds and runs the CLI.
func Execute() error {
	return NewRootCmd().Execute()
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	var (
		cfgFile  string
		logLevel string
	)

	rootCmd := &cobra.Command{
		Use:   "protocol-hub",
		Short: "A network telemetry hub for SNMP traps, syslog and line protocols",
		Long: `protocol-hub receives network telemetry (SNMP traps, syslog and other
line-oriented protocols, the local systemd journal), turns every message into a
normalized event, runs it through a configurable normalizer chain and fans it
out to every configured emitter (stdout, file, elasticsearch, loki,
victorialogs, nats).

Hot-reload: When a config file is specified, changes to it and to the rule
files it references are applied without requiring a restart.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default: ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(
		NewRunCmd(&cfgFile, &logLevel),
		NewValidateCmd(&cfgFile),
		NewRulesCmd(),
		NewVersionCmd(),
	)

	return rootCmd
}
