// Package app provides the commands of the botcha issuer.
package app

import (
	"github.com/layer-3/botcha/config"
	"github.com/spf13/cobra"
)

var configPath string

// NewRootCmd creates the root command of the issuer CLI
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:               "botcha",
		DisableAutoGenTag: true,
		Short:             "BOTCHA token issuer",
		Long: `botcha serves challenges to automated clients and exchanges solved
challenges for short-lived bearer tokens that resource servers verify with a
shared secret.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"Path to a YAML configuration file (environment variables prefixed with "+config.EnvPrefix+" override it)")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newValidateCmd())

	return rootCmd
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := config.Load(configPath); err != nil {
				return err
			}
			cmd.Println("configuration is valid")
			return nil
		},
	}
}
