// Package cmd provides the CLI commands for FitBridge.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fitbridge/fitbridge/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "fitbridge",
	Short: "FitBridge - MCP server for workout and exercise tracking",
	Long: `FitBridge exposes a fitness tracker as Model Context Protocol (MCP) tools.

It serves exercise search, workout listings, and body weight tracking over a
streamable HTTP endpoint or a local stdio pipe, backed by a wger REST API.

Quick start:
  1. Create a config file: fitbridge.yaml
  2. Run: fitbridge start

Configuration:
  Config is loaded from fitbridge.yaml in the current directory,
  $HOME/.fitbridge/, or /etc/fitbridge/.

  Environment variables can override config values with the FITBRIDGE_ prefix.
  Example: FITBRIDGE_SERVER_PORT=9090

Commands:
  start       Start the server (HTTP by default, --stdio for a local pipe)
  stop        Stop the running server
  hash-token  Generate a hash of the bearer token for config
  version     Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./fitbridge.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
