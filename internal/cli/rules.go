package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/GabrielNunesIT/protocol-hub/internal/normalizer"
)

// NewRulesCmd creates the rules command group.
func NewRulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Work with normalizer rule files",
	}
	cmd.AddCommand(newRulesCheckCmd())
	return cmd
}

func newRulesCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <file>",
		Short: "Compile a rule file and report errors",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rf, err := normalizer.LoadRuleFile(args[0])
			if err != nil {
				return err
			}
			n, err := normalizer.NewRuleNormalizerFromFile(args[0], "", rf)
			if err != nil {
				return fmt.Errorf("compiling %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d rules OK (mode %s)\n", args[0], n.Rules(), n.Mode())
			return nil
		},
	}
}
