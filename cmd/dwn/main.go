package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nodeledger/dwn-core/pkg/log"
)

var (
	// Version information (set via ldflags during build)
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "dwn",
	Short: "dwn - a Decentralized Web Node core",
	Long: `dwn drives a single node's message store, protocol authorization
engine and event log/stream directly, in-process. It is not a wire
transport: "dwn serve" exposes only metrics, and "dwn process-message"
and "dwn protocols configure" call the dispatcher locally for
bootstrapping and smoke-testing a node's data directory.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("dwn version %s\nCommit: %s\n", Version, Commit))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("data-dir", "./data", "Directory holding the node's bbolt files")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(processMessageCmd)
	rootCmd.AddCommand(protocolsCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}
