// Package main implements the vmbalance CLI. It generates synthetic
// cluster inventories, scores how evenly they use their hosts, and
// rebalances them through the hybrid solver service.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"vmbalance/cmd/vmbalance/ui"
	"vmbalance/internal/cluster"
	"vmbalance/internal/config"
	"vmbalance/internal/logging"
	"vmbalance/internal/report"
)

var (
	// Global flags
	cfgFile string
	verbose bool

	// Loaded config and logger, shared by every command
	cfg    *config.Config
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "vmbalance",
	Short: "VM load balancing demo backed by a hybrid solver",
	Long: `vmbalance generates synthetic virtual machine workloads, scores how
evenly they sit across their hosts, and asks a hybrid solver service
for a better placement.

The balance of a cluster is a single number between 0 and 1: the higher
it is, the more evenly CPU and memory are spread across hosts. A solve
builds a constrained quadratic model of the placement problem, submits
it to the solver, and applies the returned assignment.

Typical flow:
  vmbalance generate --vms 120 --hosts 6 -o cluster.json
  vmbalance balance -i cluster.json
  vmbalance solve -i cluster.json --priority memory -o balanced.json`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}

		if verbose {
			cfg.Logging.Level = "debug"
		}
		logger, err = logging.New(cfg.Logging)
		if err != nil {
			return err
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "vmbalance.yaml", "Config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// parsePriorityFlag parses a --priority value, defaulting to CPU.
func parsePriorityFlag(raw string) (cluster.Priority, error) {
	if raw == "" {
		return cluster.PriorityCPU, nil
	}
	return cluster.ParsePriority(raw)
}

// loadInventory reads an inventory snapshot written by generate or solve.
// Host usage figures are recomputed since hand-edited files drift.
func loadInventory(path string) (*cluster.Inventory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read inventory: %w", err)
	}
	var inv cluster.Inventory
	if err := json.Unmarshal(data, &inv); err != nil {
		return nil, fmt.Errorf("failed to parse inventory %s: %w", path, err)
	}
	if len(inv.VMs) == 0 || len(inv.Hosts) == 0 {
		return nil, fmt.Errorf("inventory %s has no VMs or no hosts", path)
	}
	inv.RecomputeUsage()
	return &inv, nil
}

// saveJSON writes v to path as indented JSON.
func saveJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", path, err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// renderPercentTable renders one per-host utilization table with the
// mean and standard deviation line the charts annotate.
func renderPercentTable(styles ui.Styles, title string, pt report.PercentTable) string {
	table := ui.NewSimpleTable(title, []string{"Host", "Used %"})
	table.AlignRight(1)
	for _, row := range pt.Rows {
		table.AddRow(row.Host, fmt.Sprintf("%.1f", row.Percent))
	}
	return table.View(styles) + styles.Muted.Render(pt.Annotation()) + "\n\n"
}

// renderUtilization prints both percent tables for an inventory.
func renderUtilization(styles ui.Styles, inv *cluster.Inventory) string {
	tables := report.Build(inv)
	out := renderPercentTable(styles, "Percent CPU Used", tables.CPUPercent)
	out += renderPercentTable(styles, "Percent Memory Used", tables.MemPercent)
	return out
}
