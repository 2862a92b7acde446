// Package report shapes cluster state into the rows the demo's results
// pane plots: per-host utilization percentages with a mean/stddev
// annotation, per-VM usage bars grouped by host, and the headline
// balance-factor text. Rendering is left to the consumer.
package report

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"vmbalance/internal/cluster"
)

// HostPercent is one bar of a utilization chart.
type HostPercent struct {
	Host    string  `json:"host"`
	Percent float64 `json:"percent"`
}

// PercentTable is a per-host utilization table for one resource, ordered
// by host index.
type PercentTable struct {
	Rows []HostPercent `json:"rows"`
	// Mean and StdDev summarize the rows; StdDev is the sample standard
	// deviation and is 0 with fewer than two hosts.
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
}

// VMUsage is one VM's share of a host's resource bar.
type VMUsage struct {
	Host string  `json:"host"`
	VM   string  `json:"vm"`
	Use  float64 `json:"use"`
}

// Tables bundles everything the results pane consumes for one inventory.
type Tables struct {
	CPUPercent PercentTable `json:"cpu_percent"`
	MemPercent PercentTable `json:"mem_percent"`
	CPUUsage   []VMUsage    `json:"cpu_usage"`
	MemUsage   []VMUsage    `json:"mem_usage"`
}

// Build assembles all report tables for an inventory.
func Build(inv *cluster.Inventory) Tables {
	return Tables{
		CPUPercent: CPUPercents(inv.Hosts),
		MemPercent: MemPercents(inv.Hosts),
		CPUUsage:   CPUUsage(inv),
		MemUsage:   MemUsage(inv),
	}
}

// CPUPercents returns the per-host CPU utilization table.
func CPUPercents(hosts []cluster.Host) PercentTable {
	return percents(hosts, func(h cluster.Host) (float64, float64) {
		return h.CPUUsed, h.CPUCap
	})
}

// MemPercents returns the per-host memory utilization table.
func MemPercents(hosts []cluster.Host) PercentTable {
	return percents(hosts, func(h cluster.Host) (float64, float64) {
		return h.MemUsed, h.MemCap
	})
}

func percents(hosts []cluster.Host, resource func(cluster.Host) (used, cap float64)) PercentTable {
	table := PercentTable{Rows: make([]HostPercent, 0, len(hosts))}
	for _, h := range hosts {
		used, capacity := resource(h)
		ratio := 0.0
		if capacity > 0 {
			// Round to three decimals before scaling, as the charts do.
			ratio = math.Round(used/capacity*1000) / 1000
		}
		table.Rows = append(table.Rows, HostPercent{Host: h.Name, Percent: ratio * 100})
	}
	sort.SliceStable(table.Rows, func(i, j int) bool {
		return hostLess(table.Rows[i].Host, table.Rows[j].Host)
	})

	values := make([]float64, len(table.Rows))
	for i, r := range table.Rows {
		values[i] = r.Percent
	}
	table.Mean, table.StdDev = meanStdDev(values)
	return table
}

// CPUUsage returns per-VM CPU rows grouped by host.
func CPUUsage(inv *cluster.Inventory) []VMUsage {
	return usage(inv, func(vm cluster.VM) float64 { return vm.CPU })
}

// MemUsage returns per-VM memory rows grouped by host.
func MemUsage(inv *cluster.Inventory) []VMUsage {
	return usage(inv, func(vm cluster.VM) float64 { return vm.Memory })
}

func usage(inv *cluster.Inventory, resource func(cluster.VM) float64) []VMUsage {
	rows := make([]VMUsage, 0, len(inv.VMs))
	for _, vm := range inv.VMs {
		rows = append(rows, VMUsage{Host: vm.CurrentHost, VM: vm.Name, Use: resource(vm)})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return hostLess(rows[i].Host, rows[j].Host)
	})
	return rows
}

// hostLess orders host names by their numeric suffix ("Host 10" after
// "Host 2"), falling back to lexicographic order.
func hostLess(a, b string) bool {
	ia, ib := hostIndex(a), hostIndex(b)
	if ia != ib {
		return ia < ib
	}
	return a < b
}

func hostIndex(name string) int {
	fields := strings.Fields(name)
	if len(fields) < 2 {
		return 0
	}
	n, err := strconv.Atoi(fields[len(fields)-1])
	if err != nil {
		return 0
	}
	return n
}

func meanStdDev(values []float64) (mean, sd float64) {
	if len(values) == 0 {
		return 0, 0
	}
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	if len(values) < 2 {
		return mean, 0
	}
	var ss float64
	for _, v := range values {
		d := v - mean
		ss += d * d
	}
	return mean, math.Sqrt(ss / float64(len(values)-1))
}

// Annotation formats the mean/stddev line drawn on a percent chart.
func (t PercentTable) Annotation() string {
	return fmt.Sprintf("mean: %.0f%% (standard deviation: %.1f)", t.Mean, t.StdDev)
}

// Summary formats the headline metric shown above the charts.
func Summary(factor float64) string {
	return fmt.Sprintf("Cluster Balance Factor: %.2f", factor)
}

// SolveSummary is the post-solve headline, with the improvement the plan
// achieved over the starting layout.
func SolveSummary(factor, improvement float64) string {
	return fmt.Sprintf("%s, Improvement: %v", Summary(factor), improvement)
}
