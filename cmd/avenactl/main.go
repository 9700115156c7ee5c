package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/oats-center/avena/pkg/client"
	"github.com/oats-center/avena/pkg/log"
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
	Use:   "avenactl",
	Short: "Avena - operator CLI for a device's local mesh",
	Long: `avenactl talks directly to a single device's local NATS broker to
apply workload manifests and manage mesh links. There is no central
manager: every command targets one device's broker at a time.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"avenactl version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("nats-url", "nats://127.0.0.1:4222", "URL of the target device's local NATS broker")
	rootCmd.PersistentFlags().String("creds", "", "Path to the avena-admin.creds file authorizing this command")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(linkCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

func connect(cmd *cobra.Command) (*client.Client, error) {
	natsURL, _ := cmd.Flags().GetString("nats-url")
	creds, _ := cmd.Flags().GetString("creds")
	return client.NewClient(natsURL, creds)
}
