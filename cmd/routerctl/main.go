package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "routerctl",
		Short: "Operator tool for the GARVIS inference router",
		Long: `routerctl inspects a GARVIS router deployment without running the server.

Examples:
  routerctl validate --config configs/router.yaml
  routerctl probe
  routerctl decide "write a SQL query for monthly revenue"
  routerctl token --subject ci --ttl 24h
  routerctl stats --since 24h`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("config", envOr("ROUTER_CONFIG", "configs/router.yaml"), "Routing configuration file")

	root.AddCommand(newValidateCmd())
	root.AddCommand(newProbeCmd())
	root.AddCommand(newDecideCmd())
	root.AddCommand(newTokenCmd())
	root.AddCommand(newStatsCmd())
	return root
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
