package main

import (
	"fmt"
	"os"

	"github.com/aretw0/lattice/internal/config"
	"github.com/spf13/cobra"
)

// cfg is loaded once per invocation by the root pre-run hook.
var cfg config.Config

var rootCmd = &cobra.Command{
	Use:   "lattice",
	Short: "Lattice is a clustered session store",
	Long: `Lattice keeps HTTP-style sessions consistent across many nodes sharing one store.
Nodes cache sessions locally, commit with optimistic versioning, and sweep
expired or orphaned sessions in the background.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		loaded, err := config.Load(path)
		if err != nil {
			return err
		}
		if node, _ := cmd.Flags().GetString("node"); node != "" {
			loaded.NodeID = node
		}
		if backend, _ := cmd.Flags().GetString("backend"); backend != "" {
			loaded.Backend = backend
		}
		if err := loaded.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		cfg = loaded
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().String("config", "lattice.yaml", "Path to the YAML or JSON configuration file")
	rootCmd.PersistentFlags().String("node", "", "Node id (overrides nodeId; defaults to a random id)")
	rootCmd.PersistentFlags().String("backend", "", "Store backend: memory, redis or file (overrides backend)")
}
