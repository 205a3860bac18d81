package cli

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/healdb/heal/internal/config"
)

var cfgFile string

// Execute creates the root command tree and runs it.
func Execute(version, commit, date string) error {
	rootCmd := newRootCmd(version, commit, date)
	return rootCmd.Execute()
}

func newRootCmd(version, commit, date string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "heal",
		Short: "Keep a live database schema matching its expected shape",
		Long: `Heal continuously introspects a live relational database, detects structural
defects (type mismatches, missing tables/columns/indexes/foreign keys), scans
application source for the code patterns that cause them, and repairs both
online: reversible, idempotent, with backups and a full audit trail.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./heal.yaml)")

	cobra.OnInitialize(initConfig)

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newCheckCmd())
	cmd.AddCommand(newRulesCmd())
	cmd.AddCommand(newMCPCmd())
	cmd.AddCommand(newVersionCmd(version, commit, date))

	return cmd
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("heal")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.heal")
	}

	viper.SetEnvPrefix("HEAL")
	viper.AutomaticEnv()
	config.SetDefaults(viper.GetViper())
	viper.ReadInConfig() //nolint:errcheck // config file is optional
}
