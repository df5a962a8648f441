package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nodeledger/dwn-core/pkg/config"
	"github.com/nodeledger/dwn-core/pkg/didtest"
	"github.com/nodeledger/dwn-core/pkg/envelope"
	"github.com/nodeledger/dwn-core/pkg/message"
	"github.com/nodeledger/dwn-core/pkg/metrics"
	"github.com/nodeledger/dwn-core/pkg/protocol"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Open a node's data directory and expose its metrics endpoint",
	Long: `serve opens the node's bbolt files, seeds the built-in permissions
protocol for every configured tenant, starts the Prometheus metrics
endpoint, and blocks until interrupted.

It does not open a wire transport: process_message is still only
reachable in-process, by another command or an embedding program.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, _ := cmd.Flags().GetString("data-dir")
		configPath, _ := cmd.Flags().GetString("config")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

		cfg := config.Default()
		cfg.DataDir = dataDir
		cfg.MetricsAddr = metricsAddr
		if configPath != "" {
			loaded, err := config.Load(configPath)
			if err != nil {
				return err
			}
			cfg = loaded
		}

		fmt.Println("Starting dwn node...")
		fmt.Printf("  Data directory: %s\n", cfg.DataDir)

		n, err := openNode(cfg.DataDir)
		if err != nil {
			metrics.RegisterComponent("kv", false, err.Error())
			return fmt.Errorf("open node: %w", err)
		}
		defer n.Close()
		// The KV engine is the one component that can degrade after
		// startup (its backing file lives on disk), so it gets a live
		// probe; the rest are wired once and registered as static.
		metrics.RegisterProbe("kv", func() error {
			_, _, err := n.Engine.Get(context.Background(), "health", []byte("probe"))
			return err
		})
		metrics.RegisterComponent("index", true, "")
		metrics.RegisterComponent("dispatcher", true, "")

		for _, tenant := range cfg.SeedTenants {
			if err := seedPermissionsProtocol(n, tenant); err != nil {
				return fmt.Errorf("seed permissions protocol for %s: %w", tenant, err)
			}
			fmt.Printf("✓ Permissions protocol seeded for %s\n", tenant)
		}

		if cfg.MetricsAddr != "" {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			mux.Handle("/health", metrics.HealthHandler())
			mux.Handle("/ready", metrics.ReadyHandler())
			mux.Handle("/live", metrics.LivenessHandler())
			go func() {
				if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
					fmt.Fprintf(os.Stderr, "metrics server error: %v\n", err)
				}
			}()
			fmt.Printf("✓ Metrics endpoint: http://%s/metrics\n", cfg.MetricsAddr)
		}

		fmt.Println("Node is running. Press Ctrl+C to stop.")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		fmt.Println("\nShutting down...")
		return nil
	},
}

func init() {
	serveCmd.Flags().String("config", "", "Path to a dwn YAML config file (overrides --data-dir)")
	serveCmd.Flags().String("metrics-addr", "", "Address to serve Prometheus metrics on (disabled if empty)")
}

// seedPermissionsProtocol configures the built-in permissions protocol
// for tenant, signing with a fresh key minted and registered for this
// process only — real tenant keys live outside the CLI's reach.
func seedPermissionsProtocol(n *node, tenant string) error {
	signer, err := didtest.NewSigner(n.Registry, tenant)
	if err != nil {
		return err
	}

	desc := message.ProtocolsConfigureDescriptor{
		Definition: protocol.BuiltinPermissionsDefinition(),
	}
	return configureProtocol(n, signer, tenant, desc)
}

func configureProtocol(n *node, signer *didtest.Signer, tenant string, desc message.ProtocolsConfigureDescriptor) error {
	descMap, err := buildProtocolsConfigureDescriptorMap(desc)
	if err != nil {
		return err
	}

	msg := message.Message{Descriptor: descMap}
	if err := signer.AuthorizeMessage(&msg, message.SignaturePayload{}); err != nil {
		return err
	}

	reply := n.Dispatcher.ProcessMessage(context.Background(), tenant, msg, nil)
	if reply.Status.Code >= 400 {
		return fmt.Errorf("dwn: %d %s", reply.Status.Code, reply.Status.Detail)
	}
	return nil
}

func buildProtocolsConfigureDescriptorMap(desc message.ProtocolsConfigureDescriptor) (map[string]any, error) {
	desc.Interface = message.InterfaceProtocols
	desc.Method = message.MethodConfigure
	desc.MessageTimestamp = envelope.Now()
	return message.ToDescriptorMap(desc)
}
