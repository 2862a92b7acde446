package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"vmbalance/cmd/vmbalance/ui"
	"vmbalance/internal/cluster"
	"vmbalance/internal/report"
)

var (
	balanceInput    string
	balancePriority string
)

// balanceCmd scores an inventory without solving
var balanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Score how evenly an inventory uses its hosts",
	Long: `Reads an inventory snapshot and prints its cluster balance factor with
the per-host utilization tables.

Example:
  vmbalance balance -i cluster.json --priority memory`,
	RunE: runBalance,
}

func runBalance(cmd *cobra.Command, args []string) error {
	priority, err := parsePriorityFlag(balancePriority)
	if err != nil {
		return err
	}
	inv, err := loadInventory(balanceInput)
	if err != nil {
		return err
	}

	styles := ui.DefaultStyles()
	fmt.Print(renderUtilization(styles, inv))

	factor := cluster.BalanceFactor(inv.Hosts, priority)
	fmt.Println(styles.Bold.Render(report.Summary(factor)))
	return nil
}

func init() {
	balanceCmd.Flags().StringVarP(&balanceInput, "input", "i", "", "Inventory JSON file (required)")
	balanceCmd.MarkFlagRequired("input")
	balanceCmd.Flags().StringVar(&balancePriority, "priority", "cpu", "Balance priority: cpu or memory")
	rootCmd.AddCommand(balanceCmd)
}
