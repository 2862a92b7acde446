package cqm

import (
	"fmt"

	"vmbalance/internal/cluster"
)

// Build assembles the balancing model for an inventory.
//
// Each host gets two capacity constraints, one per resource, bounding the
// resource requested by the VMs placed on it to the host's fair share:
// hostCap * totalRequested / totalAvailable. The prioritized resource is a
// hard constraint; the other is soft with weight 1 so the solver trades it
// off quadratically. A one-hot group per VM forces exactly one placement.
func Build(inv *cluster.Inventory, priority cluster.Priority) (*Model, error) {
	if len(inv.VMs) == 0 {
		return nil, fmt.Errorf("inventory has no VMs")
	}
	if len(inv.Hosts) == 0 {
		return nil, fmt.Errorf("inventory has no hosts")
	}
	if !priority.Valid() {
		return nil, fmt.Errorf("invalid priority %q", priority)
	}

	totalCPU := inv.TotalAvailableCPU()
	totalMem := inv.TotalAvailableMem()
	if totalCPU <= 0 || totalMem <= 0 {
		return nil, fmt.Errorf("hosts have no capacity (cpu=%v mem=%v)", totalCPU, totalMem)
	}
	requestedCPU := inv.TotalRequestedCPU()
	requestedMem := inv.TotalRequestedMem()

	model := &Model{
		Variables:   make([]string, 0, len(inv.VMs)*len(inv.Hosts)),
		Constraints: make([]Constraint, 0, 2*len(inv.Hosts)),
		Discrete:    make([]Discrete, 0, len(inv.VMs)),
	}

	for _, host := range inv.Hosts {
		cpuTerms := make([]Term, 0, len(inv.VMs))
		memTerms := make([]Term, 0, len(inv.VMs))
		for _, vm := range inv.VMs {
			name := VariableName(vm.Name, host.Name)
			model.Variables = append(model.Variables, name)
			cpuTerms = append(cpuTerms, Term{Var: name, Coef: vm.CPU})
			memTerms = append(memTerms, Term{Var: name, Coef: vm.Memory})
		}

		// Fair share of the cluster-wide demand, scaled by this host's
		// slice of total capacity.
		balancedCPU := host.CPUCap * requestedCPU / totalCPU
		balancedMem := host.MemCap * requestedMem / totalMem

		cpuConstraint := Constraint{
			Label:   fmt.Sprintf("cpu_%s", host.Name),
			Terms:   cpuTerms,
			Sense:   SenseLE,
			RHS:     balancedCPU,
			Penalty: PenaltyQuadratic,
		}
		memConstraint := Constraint{
			Label:   fmt.Sprintf("mem_%s", host.Name),
			Terms:   memTerms,
			Sense:   SenseLE,
			RHS:     balancedMem,
			Penalty: PenaltyQuadratic,
		}

		if priority == cluster.PriorityCPU {
			memConstraint.Weight = 1
		} else {
			cpuConstraint.Weight = 1
		}

		model.Constraints = append(model.Constraints, cpuConstraint, memConstraint)
	}

	for _, vm := range inv.VMs {
		vars := make([]string, 0, len(inv.Hosts))
		for _, host := range inv.Hosts {
			vars = append(vars, VariableName(vm.Name, host.Name))
		}
		model.Discrete = append(model.Discrete, Discrete{
			Label: fmt.Sprintf("discrete_%s", vm.Name),
			Vars:  vars,
		})
	}

	return model, nil
}
