package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"vmbalance/cmd/vmbalance/ui"
	"vmbalance/internal/report"
	"vmbalance/internal/run"
	"vmbalance/internal/solver"
	"vmbalance/internal/store"
)

var (
	solveInput     string
	solvePriority  string
	solveTimeLimit int
	solveOut       string
)

// solveCmd rebalances an inventory through the solver service
var solveCmd = &cobra.Command{
	Use:   "solve",
	Short: "Rebalance an inventory through the hybrid solver",
	Long: `Builds a constrained quadratic model from the inventory, submits it to
the solver service, and applies the best returned assignment. Press
Ctrl+C to cancel a solve in flight.

Requires a solver API key (set SOLVER_API_KEY or solver.api_key).

Example:
  vmbalance solve -i cluster.json --priority memory --time-limit 30 -o balanced.json`,
	RunE: runSolve,
}

func runSolve(cmd *cobra.Command, args []string) error {
	if err := cfg.ValidateSolve(); err != nil {
		return err
	}
	priority, err := parsePriorityFlag(solvePriority)
	if err != nil {
		return err
	}
	inv, err := loadInventory(solveInput)
	if err != nil {
		return err
	}

	client := solver.NewWithConfig(solver.Config{
		APIKey:     cfg.Solver.APIKey,
		BaseURL:    cfg.Solver.BaseURL,
		MaxRetries: cfg.Solver.MaxRetries,
	})

	// Run history is best effort for the CLI: a broken database should
	// not keep a solve from running.
	var runStore *store.RunStore
	if cfg.Storage.DatabasePath != "" {
		runStore, err = store.NewRunStore(cfg.Storage.DatabasePath)
		if err != nil {
			logger.Warn("Run history disabled", zap.Error(err))
		} else {
			defer runStore.Close()
		}
	}

	manager, err := run.NewManager(run.ManagerConfig{
		Sampler: client,
		Store:   runStore,
		Logger:  logger,
		Label:   cfg.Solver.Label,
	})
	if err != nil {
		return err
	}
	defer manager.Close()

	job, err := manager.Start(run.Request{
		Inventory: inv,
		Priority:  priority,
		TimeLimit: cfg.ClampSolveTime(solveTimeLimit),
	})
	if err != nil {
		return err
	}

	// Ctrl+C triggers the same cancel the demo's cancel button does.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nCancelling solve...")
		_ = manager.Cancel(job.ID)
	}()

	fmt.Printf("Solving placement for %d VMs on %d hosts (time limit %ds)...\n",
		job.NumVMs, job.NumHosts, int(job.TimeLimit/time.Second))

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for !job.Phase.Terminal() {
		<-ticker.C
		job, err = manager.Get(job.ID)
		if err != nil {
			return err
		}
	}

	styles := ui.DefaultStyles()
	switch job.Phase {
	case run.PhaseCancelled:
		fmt.Println(styles.Warning.Render("Solve cancelled."))
		return nil
	case run.PhaseFailed:
		return job.Err
	}

	result := job.Result
	fmt.Print(renderUtilization(styles, result.Inventory))
	fmt.Println(styles.Bold.Render(report.SolveSummary(result.FactorAfter, result.Improvement)))
	fmt.Printf("%d of %d VMs moved, solver energy %.2f\n", result.Moves, len(result.Plan), result.Energy)
	if !result.Feasible {
		fmt.Println(styles.Warning.Render("Best sample violates constraints; treat the plan as a suggestion."))
	}

	if solveOut != "" {
		if err := saveJSON(solveOut, result.Inventory); err != nil {
			return err
		}
		fmt.Printf("Rebalanced inventory written to %s\n", solveOut)
	}
	return nil
}

func init() {
	solveCmd.Flags().StringVarP(&solveInput, "input", "i", "", "Inventory JSON file (required)")
	solveCmd.MarkFlagRequired("input")
	solveCmd.Flags().StringVar(&solvePriority, "priority", "cpu", "Balance priority: cpu or memory")
	solveCmd.Flags().IntVar(&solveTimeLimit, "time-limit", 0, "Solver time limit in seconds (default from config)")
	solveCmd.Flags().StringVarP(&solveOut, "output", "o", "", "Write the rebalanced inventory JSON to this file")
	rootCmd.AddCommand(solveCmd)
}
