package main

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"visitly-go/infrastructure/config"
)

// Version is set at build time.
var Version = "dev"

// runFunc executes a visit run with a loaded configuration.
type runFunc func(ctx context.Context, cfg *config.Config) error

func newRootCmd(v *viper.Viper, run runFunc) *cobra.Command {
	var cfgFile string

	root := &cobra.Command{
		Use:           "visitly",
		Short:         "Visitly visits a list of sites with per-domain automation scripts.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./visitly.yaml)")
	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	root.AddCommand(newRunCmd(v, &cfgFile, run))
	root.AddCommand(newHistoryCmd(v, &cfgFile))
	return root
}
