package cqm

import (
	"fmt"
	"strings"

	"vmbalance/internal/cluster"
)

const varSeparator = "_on_"

// Assignment places one VM on one host.
type Assignment struct {
	VM   string `json:"vm"`
	Host string `json:"host"`
}

// Plan is the placement chosen by the solver: one assignment per VM.
type Plan []Assignment

// ParsePlan converts selected variable names (the variables the best sample
// set to 1) into assignments.
func ParsePlan(selected []string) (Plan, error) {
	plan := make(Plan, 0, len(selected))
	for _, name := range selected {
		parts := strings.Split(name, varSeparator)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("malformed assignment variable %q", name)
		}
		plan = append(plan, Assignment{VM: parts[0], Host: parts[1]})
	}
	return plan, nil
}

// Apply rewrites the inventory's placements to match the plan: host usage
// is zeroed, then each assignment moves its VM and adds its resource use
// to the destination host.
//
// The plan must cover every VM exactly once; anything else means the
// solver returned an infeasible or partial sample and is an error.
func (p Plan) Apply(inv *cluster.Inventory) error {
	assigned := make(map[string]bool, len(p))

	for i := range inv.Hosts {
		inv.Hosts[i].CPUUsed = 0
		inv.Hosts[i].MemUsed = 0
	}

	for _, a := range p {
		vm := inv.FindVM(a.VM)
		if vm == nil {
			return fmt.Errorf("plan references unknown VM %q", a.VM)
		}
		host := inv.FindHost(a.Host)
		if host == nil {
			return fmt.Errorf("plan references unknown host %q", a.Host)
		}
		if assigned[a.VM] {
			return fmt.Errorf("plan assigns VM %q more than once", a.VM)
		}
		assigned[a.VM] = true

		host.CPUUsed += vm.CPU
		host.MemUsed += vm.Memory
		vm.CurrentHost = host.Name
	}

	for _, vm := range inv.VMs {
		if !assigned[vm.Name] {
			return fmt.Errorf("plan leaves VM %q unassigned", vm.Name)
		}
	}
	return nil
}

// Moves counts how many VMs the plan relocates relative to the inventory's
// current placements.
func (p Plan) Moves(inv *cluster.Inventory) int {
	moves := 0
	for _, a := range p {
		if vm := inv.FindVM(a.VM); vm != nil && vm.CurrentHost != a.Host {
			moves++
		}
	}
	return moves
}
