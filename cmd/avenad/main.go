package main

import (
	"fmt"
	"os"

	"github.com/oats-center/avena/pkg/log"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "avenad",
	Short: "Avena - fleet management agent for edge devices",
	Long: `avenad is the device agent that runs on every edge node: it joins
the local NATS mesh, announces itself to its peers, accepts or initiates
link handshakes, and reconciles the workloads assigned to this device
against systemd.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"avenad version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("config-dir", "/etc/avena", "Directory holding NATS credentials and the rendered server config")
	rootCmd.PersistentFlags().String("data-dir", "/var/lib/avena", "Directory holding the HLC clock state and link creds")
	rootCmd.PersistentFlags().String("nats-url", "nats://127.0.0.1:4222", "URL of this device's local NATS broker")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(keygenCmd)
	rootCmd.AddCommand(serveCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}
