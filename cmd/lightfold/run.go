package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lightfold/lightfold/node"
)

var runFlags struct {
	config   string
	backend  string
	metrics  string
	relayOut string
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "start the prover",
	Long: `Start the prover loop: bootstrap the checkpoint cache from the
configured genesis anchor, then validate, fold and prove incoming consensus
updates until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := node.LoadConfig(runFlags.config)
		if err != nil {
			return err
		}
		// Flags override the file.
		if runFlags.backend != "" {
			cfg.Backend = runFlags.backend
		}
		if runFlags.metrics != "" {
			cfg.MetricsAddr = runFlags.metrics
		}
		if runFlags.relayOut != "" {
			cfg.RelayFile = runFlags.relayOut
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		fmt.Printf("lightfold %s starting\n", version)
		fmt.Printf("  config:  %s\n", runFlags.config)
		fmt.Printf("  genesis: %s\n", cfg.GenesisFile)
		fmt.Printf("  backend: %s\n", cfg.Backend)
		if cfg.MetricsAddr != "" {
			fmt.Printf("  metrics: %s\n", cfg.MetricsAddr)
		}

		n, err := node.New(cfg)
		if err != nil {
			return err
		}
		if err := n.Start(); err != nil {
			return err
		}

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		fmt.Printf("received %v, shutting down\n", sig)

		return n.Stop()
	},
}

func init() {
	runCmd.Flags().StringVar(&runFlags.config, "config", "lightfold.toml", "path to the TOML configuration file")
	runCmd.Flags().StringVar(&runFlags.backend, "backend", "", "proving backend: mock, groth16 or recursive (overrides config)")
	runCmd.Flags().StringVar(&runFlags.metrics, "metrics", "", "Prometheus listen address (overrides config)")
	runCmd.Flags().StringVar(&runFlags.relayOut, "relay-out", "", "proven-checkpoint output file (overrides config)")
}
