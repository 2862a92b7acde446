package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"vmbalance/cmd/vmbalance/ui"
	"vmbalance/internal/store"
)

var (
	runsLimit    int
	runsMarkdown bool
)

// runsCmd inspects past balancing runs
var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect past balancing runs",
	Long: `List and inspect balancing runs recorded in the local database.

Subcommands:
  list   - List recent runs
  show   - Show one run in detail`,
	RunE: runRunsList,
}

// runsListCmd lists recent runs
var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent balancing runs",
	RunE:  runRunsList,
}

// runsShowCmd shows a single run
var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one balancing run in detail",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsShow,
}

func openRunStore() (*store.RunStore, error) {
	if cfg.Storage.DatabasePath == "" {
		return nil, fmt.Errorf("run history not configured (set storage.database_path or VMBALANCE_DB)")
	}
	return store.NewRunStore(cfg.Storage.DatabasePath)
}

func runRunsList(cmd *cobra.Command, args []string) error {
	runStore, err := openRunStore()
	if err != nil {
		return err
	}
	defer runStore.Close()

	runs, err := runStore.ListRuns(runsLimit)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}
	if len(runs) == 0 {
		fmt.Println("No balancing runs recorded yet.")
		return nil
	}

	styles := ui.DefaultStyles()
	table := ui.NewSimpleTable("Balancing Runs", []string{"ID", "Created", "VMs", "Hosts", "Priority", "Status", "Improvement"})
	table.AlignRight(2, 3, 6)
	for _, r := range runs {
		table.AddRow(
			r.ID,
			r.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			strconv.Itoa(r.NumVMs),
			strconv.Itoa(r.NumHosts),
			r.Priority,
			r.Status,
			fmt.Sprintf("%.2f", r.Improvement),
		)
	}
	fmt.Print(table.View(styles))
	fmt.Printf("Total: %d runs\n", len(runs))
	return nil
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	runStore, err := openRunStore()
	if err != nil {
		return err
	}
	defer runStore.Close()

	record, err := runStore.GetRun(args[0])
	if err != nil {
		return fmt.Errorf("failed to load run %s: %w", args[0], err)
	}

	if runsMarkdown {
		return renderRunMarkdown(record)
	}

	styles := ui.DefaultStyles()
	fmt.Println(styles.Title.Render("Balancing Run " + record.ID))
	fmt.Printf("  Created:     %s\n", record.CreatedAt.Local().Format(time.RFC1123))
	if !record.FinishedAt.IsZero() {
		fmt.Printf("  Finished:    %s\n", record.FinishedAt.Local().Format(time.RFC1123))
	}
	fmt.Printf("  Cluster:     %d VMs on %d hosts\n", record.NumVMs, record.NumHosts)
	fmt.Printf("  Priority:    %s\n", record.Priority)
	fmt.Printf("  Time limit:  %ds\n", record.TimeLimitS)
	fmt.Printf("  Status:      %s\n", record.Status)

	if record.Error != "" {
		fmt.Println(styles.Error.Render("  Error: " + record.Error))
		return nil
	}

	fmt.Printf("  Balance:     %.2f -> %.2f (improvement %.2f)\n",
		record.FactorBefore, record.FactorAfter, record.Improvement)

	if len(record.Plan) > 0 {
		table := ui.NewSimpleTable("Plan", []string{"VM", "Host"})
		for _, a := range record.Plan {
			table.AddRow(a.VM, a.Host)
		}
		fmt.Print(table.View(styles))
	}
	return nil
}

// renderRunMarkdown renders the run as a markdown report. Rendering
// failures fall back to the raw markdown.
func renderRunMarkdown(record *store.RunRecord) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Balancing Run %s\n\n", record.ID)
	fmt.Fprintf(&sb, "- **Created:** %s\n", record.CreatedAt.Local().Format(time.RFC1123))
	if !record.FinishedAt.IsZero() {
		fmt.Fprintf(&sb, "- **Finished:** %s\n", record.FinishedAt.Local().Format(time.RFC1123))
	}
	fmt.Fprintf(&sb, "- **Cluster:** %d VMs on %d hosts\n", record.NumVMs, record.NumHosts)
	fmt.Fprintf(&sb, "- **Priority:** %s\n", record.Priority)
	fmt.Fprintf(&sb, "- **Time limit:** %ds\n", record.TimeLimitS)
	fmt.Fprintf(&sb, "- **Status:** %s\n", record.Status)

	if record.Error != "" {
		fmt.Fprintf(&sb, "\n**Error:** %s\n", record.Error)
	} else {
		fmt.Fprintf(&sb, "- **Balance:** %.2f -> %.2f (improvement %.2f)\n",
			record.FactorBefore, record.FactorAfter, record.Improvement)
	}

	if len(record.Plan) > 0 {
		sb.WriteString("\n## Plan\n\n")
		sb.WriteString("| VM | Host |\n")
		sb.WriteString("| --- | --- |\n")
		for _, a := range record.Plan {
			fmt.Fprintf(&sb, "| %s | %s |\n", a.VM, a.Host)
		}
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)
	if err != nil {
		fmt.Print(sb.String())
		return nil
	}
	out, err := renderer.Render(sb.String())
	if err != nil {
		fmt.Print(sb.String())
		return nil
	}
	fmt.Print(out)
	return nil
}

func init() {
	runsListCmd.Flags().IntVar(&runsLimit, "limit", 0, "Maximum runs to list (0 uses the store default)")
	runsShowCmd.Flags().BoolVar(&runsMarkdown, "markdown", false, "Render the run as a markdown report")
	runsCmd.AddCommand(runsListCmd, runsShowCmd)
	rootCmd.AddCommand(runsCmd)
}
