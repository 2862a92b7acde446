package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"vmbalance/cmd/vmbalance/ui"
	"vmbalance/internal/cluster"
	"vmbalance/internal/report"
)

var (
	generateVMs      int
	generateHosts    int
	generateSeed     int64
	generatePriority string
	generateOut      string
)

// generateCmd creates a synthetic unbalanced inventory
var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a synthetic unbalanced cluster inventory",
	Long: `Creates a randomized set of VMs packed unevenly onto hosts, prints the
per-host utilization, and optionally writes the inventory as JSON for
the balance and solve commands.

The generator skews placements on purpose so there is something for the
solver to improve.

Example:
  vmbalance generate --vms 120 --hosts 6 --seed 42 -o cluster.json`,
	RunE: runGenerate,
}

func runGenerate(cmd *cobra.Command, args []string) error {
	priority, err := parsePriorityFlag(generatePriority)
	if err != nil {
		return err
	}

	numVMs := generateVMs
	if numVMs == 0 {
		numVMs = cfg.Limits.VMs.Value
	}
	numHosts := generateHosts
	if numHosts == 0 {
		numHosts = cfg.Limits.Hosts.Value
	}
	numVMs = cfg.Limits.VMs.Clamp(numVMs)
	numHosts = cfg.Limits.Hosts.Clamp(numHosts)

	seed := generateSeed
	if seed == 0 {
		seed = cfg.Cluster.Seed
	}

	gen := cluster.NewGeneratorWithConfig(cluster.GeneratorConfig{
		Seed:   seed,
		CPUCap: cfg.Cluster.CPUCap,
		MemCap: cfg.Cluster.MemCap,
	})
	inv, err := gen.Generate(numVMs, numHosts)
	if err != nil {
		return fmt.Errorf("failed to generate inventory: %w", err)
	}
	logger.Debug("Inventory generated",
		zap.Int("vms", numVMs),
		zap.Int("hosts", numHosts),
		zap.Int64("seed", seed))

	styles := ui.DefaultStyles()
	fmt.Print(renderUtilization(styles, inv))

	factor := cluster.BalanceFactor(inv.Hosts, priority)
	fmt.Println(styles.Bold.Render(report.Summary(factor)))

	if generateOut != "" {
		if err := saveJSON(generateOut, inv); err != nil {
			return err
		}
		fmt.Printf("Inventory written to %s\n", generateOut)
	}
	return nil
}

func init() {
	generateCmd.Flags().IntVar(&generateVMs, "vms", 0, "Number of VMs (default from config)")
	generateCmd.Flags().IntVar(&generateHosts, "hosts", 0, "Number of hosts (default from config)")
	generateCmd.Flags().Int64Var(&generateSeed, "seed", 0, "Random seed (0 uses the configured seed)")
	generateCmd.Flags().StringVar(&generatePriority, "priority", "cpu", "Balance priority: cpu or memory")
	generateCmd.Flags().StringVarP(&generateOut, "output", "o", "", "Write the inventory JSON to this file")
	rootCmd.AddCommand(generateCmd)
}
