package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/healdb/heal/internal/rules"
)

func newRulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Work with expected-shape rule files",
	}
	cmd.AddCommand(newRulesValidateCmd())
	return cmd
}

func newRulesValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Parse a rule file and report conflicts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rs, err := rules.Load(args[0])
			if err != nil {
				return fmt.Errorf("invalid rule file: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d rules across %d tables, no conflicts\n",
				args[0], len(rs.All()), len(rs.Tables()))
			return nil
		},
	}
}
