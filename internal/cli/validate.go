package cli

import (
	"fmt"
	"io"

	"github.com/GabrielNunesIT/go-libs/logger"
	"github.com/spf13/cobra"

	"github.com/GabrielNunesIT/protocol-hub/internal/config"
	"github.com/GabrielNunesIT/protocol-hub/internal/pipeline"
)

// NewValidateCmd creates the validate command. Besides the structural
// checks of config.Load it builds the pipeline, so rule files and MIB
// modules are compiled too.
func NewValidateCmd(cfgFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgFile)
			if err != nil {
				return fmt.Errorf("configuration error: %w", err)
			}

			log := logger.NewConsoleLogger(io.Discard)
			p, err := pipeline.New(cfg, log)
			if err != nil {
				return fmt.Errorf("pipeline configuration error: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Configuration valid:\n")
			fmt.Fprintf(out, "  Drivers:     %d configured\n", p.DriverCount())
			fmt.Fprintf(out, "  Normalizers: %d in chain\n", len(p.Normalizers()))
			fmt.Fprintf(out, "  Emitters:    %d enabled\n", p.EmitterCount())
			return nil
		},
	}
}
