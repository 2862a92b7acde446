package cluster

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"
)

// budgetStep is the stride used when sampling per-host resource budgets.
// A coarse step keeps host utilizations well separated so the generated
// cluster starts visibly unbalanced.
const budgetStep = 3

// Generator produces synthetic inventories. The output is deliberately
// unbalanced: each host is assigned a different share of the VM population
// and a different resource budget, so there is always something for the
// solver to improve.
type Generator struct {
	rng    *rand.Rand
	cpuCap int
	memCap int
}

// GeneratorConfig holds configuration for the generator.
type GeneratorConfig struct {
	// Seed for the random source. Zero selects a time-based seed, giving
	// a different inventory on every run.
	Seed int64
	// Host capacities. Zero values fall back to CPUCap and MemoryCap.
	CPUCap int
	MemCap int
}

// NewGenerator returns a Generator with default capacities seeded with
// seed.
func NewGenerator(seed int64) *Generator {
	return NewGeneratorWithConfig(GeneratorConfig{Seed: seed})
}

// NewGeneratorWithConfig returns a Generator with custom config.
func NewGeneratorWithConfig(config GeneratorConfig) *Generator {
	if config.Seed == 0 {
		config.Seed = time.Now().UnixNano()
	}
	if config.CPUCap <= 0 {
		config.CPUCap = CPUCap
	}
	if config.MemCap <= 0 {
		config.MemCap = MemoryCap
	}
	return &Generator{
		rng:    rand.New(rand.NewSource(config.Seed)),
		cpuCap: config.CPUCap,
		memCap: config.MemCap,
	}
}

// Generate builds an inventory of totalVMs virtual machines spread across
// totalHosts hosts.
//
// Each host is guaranteed at least floor(totalVMs/(2*totalHosts))+1 VMs;
// the remainder is split by random cut points so host populations vary.
// Per-host CPU and memory budgets are drawn without replacement from a
// strided range between 25% and 100% of capacity, then divided among the
// host's VMs in random proportions.
func (g *Generator) Generate(totalVMs, totalHosts int) (*Inventory, error) {
	if totalHosts < 1 {
		return nil, fmt.Errorf("total hosts must be positive, got %d", totalHosts)
	}
	if totalVMs < totalHosts {
		return nil, fmt.Errorf("need at least one VM per host: %d VMs across %d hosts", totalVMs, totalHosts)
	}

	// Force each host to hold at least baseVMs machines; only the
	// remainder is distributed randomly.
	baseVMs := totalVMs / (2 * totalHosts)
	remaining := totalVMs - baseVMs*totalHosts

	perHost, err := g.splitVMs(remaining, totalHosts, baseVMs)
	if err != nil {
		return nil, err
	}

	cpuBudgets, err := g.sampleBudgets(g.cpuCap, totalHosts)
	if err != nil {
		return nil, fmt.Errorf("failed to sample host CPU budgets: %w", err)
	}
	memBudgets, err := g.sampleBudgets(g.memCap, totalHosts)
	if err != nil {
		return nil, fmt.Errorf("failed to sample host memory budgets: %w", err)
	}

	inv := &Inventory{
		VMs:   make([]VM, 0, totalVMs),
		Hosts: make([]Host, 0, totalHosts),
	}

	vmNum := 1
	for i, count := range perHost {
		hostName := fmt.Sprintf("Host %d", i+1)
		cpuUse := g.spreadResource(count, float64(cpuBudgets[i]))
		memUse := g.spreadResource(count, float64(memBudgets[i]))

		for j := 0; j < count; j++ {
			inv.VMs = append(inv.VMs, VM{
				Name:        fmt.Sprintf("VM %d", vmNum),
				Status:      StatusRunning,
				CurrentHost: hostName,
				CPU:         cpuUse[j],
				Memory:      memUse[j],
			})
			vmNum++
		}

		inv.Hosts = append(inv.Hosts, Host{
			Name:          hostName,
			ProcessorType: processorTypeCPU,
			CPUCap:        float64(g.cpuCap),
			MemCap:        float64(g.memCap),
		})
	}

	inv.RecomputeUsage()
	return inv, nil
}

// splitVMs divides remaining VMs into totalHosts parts using sorted random
// cut points, then adds base to every part. Every part ends up >= base+1.
func (g *Generator) splitVMs(remaining, totalHosts, base int) ([]int, error) {
	if remaining < totalHosts {
		return nil, fmt.Errorf("cannot cut %d remaining VMs into %d parts", remaining, totalHosts)
	}

	cuts := g.rng.Perm(remaining - 1)[:totalHosts-1]
	for i := range cuts {
		cuts[i]++
	}
	sort.Ints(cuts)

	divides := make([]int, 0, totalHosts+1)
	divides = append(divides, 0)
	divides = append(divides, cuts...)
	divides = append(divides, remaining)

	perHost := make([]int, totalHosts)
	for i := 0; i < totalHosts; i++ {
		perHost[i] = divides[i+1] - divides[i] + base
	}
	return perHost, nil
}

// sampleBudgets draws count distinct budgets from the progression
// ceil(capacity*0.25), +budgetStep, ... strictly below capacity.
func (g *Generator) sampleBudgets(capacity, count int) ([]int, error) {
	start := int(math.Ceil(float64(capacity) * 0.25))

	var candidates []int
	for v := start; v < capacity; v += budgetStep {
		candidates = append(candidates, v)
	}
	if count > len(candidates) {
		return nil, fmt.Errorf("capacity %d yields %d candidate budgets, need %d", capacity, len(candidates), count)
	}

	idx := g.rng.Perm(len(candidates))
	out := make([]int, count)
	for i := 0; i < count; i++ {
		out[i] = candidates[idx[i]]
	}
	return out, nil
}

// spreadResource splits total across n VMs in random proportions.
func (g *Generator) spreadResource(n int, total float64) []float64 {
	weights := make([]float64, n)
	var sum float64
	for i := range weights {
		weights[i] = g.rng.Float64()
		sum += weights[i]
	}

	out := make([]float64, n)
	if sum == 0 {
		return out
	}
	scale := total / sum
	for i, w := range weights {
		out[i] = w * scale
	}
	return out
}
