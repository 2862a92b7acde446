package cluster

import (
	"fmt"
	"math"
	"strings"
)

// Priority selects which resource the balancer treats as the hard
// constraint. The other resource is balanced on a best-effort basis.
type Priority string

const (
	PriorityCPU    Priority = "cpu"
	PriorityMemory Priority = "memory"
)

// DefaultPriorityWeight is how much more the prioritized resource counts
// toward the balance factor than the secondary one.
const DefaultPriorityWeight = 10

// ParsePriority converts user input to a Priority. It accepts any casing
// and the short form "mem".
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cpu":
		return PriorityCPU, nil
	case "memory", "mem":
		return PriorityMemory, nil
	default:
		return "", fmt.Errorf("unknown priority %q (want cpu or memory)", s)
	}
}

// String returns the canonical lowercase form.
func (p Priority) String() string { return string(p) }

// Valid reports whether p is one of the defined priorities.
func (p Priority) Valid() bool {
	return p == PriorityCPU || p == PriorityMemory
}

// BalanceFactor scores how evenly the hosts are utilized, between 0 and 1.
// 1 means every host sits at the same CPU and memory utilization.
//
// For each resource the spread is max−min of used/cap across hosts; the
// factor blends the inverted spreads, weighting the prioritized resource
// DefaultPriorityWeight times heavier than the other.
func BalanceFactor(hosts []Host, priority Priority) float64 {
	return WeightedBalanceFactor(hosts, priority, DefaultPriorityWeight)
}

// WeightedBalanceFactor is BalanceFactor with an explicit priority weight.
func WeightedBalanceFactor(hosts []Host, priority Priority, priorityWeight float64) float64 {
	if len(hosts) == 0 {
		return 0
	}

	memWeight, cpuWeight := priorityWeight, 1.0
	if priority == PriorityCPU {
		memWeight, cpuWeight = 1.0, priorityWeight
	}

	minCPU, maxCPU := math.Inf(1), math.Inf(-1)
	minMem, maxMem := math.Inf(1), math.Inf(-1)
	for _, h := range hosts {
		minCPU = math.Min(minCPU, h.CPUPercent())
		maxCPU = math.Max(maxCPU, h.CPUPercent())
		minMem = math.Min(minMem, h.MemPercent())
		maxMem = math.Max(maxMem, h.MemPercent())
	}

	memRange := maxMem - minMem
	cpuRange := maxCPU - minCPU

	return ((1-memRange)*memWeight + (1-cpuRange)*cpuWeight) / (cpuWeight + memWeight)
}

// Improvement returns the balance factor delta after−before, rounded to
// two decimals. Negative values mean the plan made things worse.
func Improvement(before, after float64) float64 {
	return math.Round((after-before)*100) / 100
}
