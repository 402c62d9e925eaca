// Package cli wires the service commands: serve runs the capture
// service, export re-ships a retained session directory.
package cli

import (
	"github.com/spf13/cobra"
)

const (
	serviceName       = "capture-service"
	serviceVersion    = "1.0.0"
	defaultConfigPath = "configs/config.yaml"
)

func NewRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "capture-service",
		Short:         "Per-speaker voice channel capture",
		Long:          "Captures multi-speaker voice channels from the gateway, splits each speaker's audio on silence and delivers encoded segments to the recording platform.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.Version = serviceVersion
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath, "Path to configuration file")

	rootCmd.AddCommand(NewServeCmd(&configPath))
	rootCmd.AddCommand(NewExportCmd(&configPath))

	return rootCmd
}
