package cqm

import (
	"testing"

	"vmbalance/internal/cluster"
)

func TestParsePlan(t *testing.T) {
	plan, err := ParsePlan([]string{"VM 1_on_Host 2", "VM 2_on_Host 1"})
	if err != nil {
		t.Fatalf("ParsePlan failed: %v", err)
	}
	if len(plan) != 2 {
		t.Fatalf("expected 2 assignments, got %d", len(plan))
	}
	if plan[0].VM != "VM 1" || plan[0].Host != "Host 2" {
		t.Errorf("assignment 0 = %+v, want VM 1 on Host 2", plan[0])
	}
	if plan[1].VM != "VM 2" || plan[1].Host != "Host 1" {
		t.Errorf("assignment 1 = %+v, want VM 2 on Host 1", plan[1])
	}
}

func TestParsePlan_Malformed(t *testing.T) {
	for _, bad := range []string{
		"VM 1-Host 2",
		"_on_Host 2",
		"VM 1_on_",
		"a_on_b_on_c",
		"",
	} {
		if _, err := ParsePlan([]string{bad}); err == nil {
			t.Errorf("ParsePlan(%q) expected error", bad)
		}
	}
}

func TestPlanApply_MovesVMsAndRecomputesUsage(t *testing.T) {
	inv := testInventory()

	// Move VM 1 to Host 2, keep the rest.
	plan := Plan{
		{VM: "VM 1", Host: "Host 2"},
		{VM: "VM 2", Host: "Host 1"},
		{VM: "VM 3", Host: "Host 2"},
	}
	if err := plan.Apply(inv); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	if got := inv.FindVM("VM 1").CurrentHost; got != "Host 2" {
		t.Errorf("VM 1 on %q, want Host 2", got)
	}

	host1 := inv.FindHost("Host 1")
	host2 := inv.FindHost("Host 2")
	if host1.CPUUsed != 20 || host1.MemUsed != 50 {
		t.Errorf("Host 1 usage %v/%v, want 20/50", host1.CPUUsed, host1.MemUsed)
	}
	if host2.CPUUsed != 40 || host2.MemUsed != 250 {
		t.Errorf("Host 2 usage %v/%v, want 40/250", host2.CPUUsed, host2.MemUsed)
	}
}

func TestPlanApply_Errors(t *testing.T) {
	tests := []struct {
		name string
		plan Plan
	}{
		{"unknown VM", Plan{{VM: "VM 99", Host: "Host 1"}, {VM: "VM 2", Host: "Host 1"}, {VM: "VM 3", Host: "Host 1"}}},
		{"unknown host", Plan{{VM: "VM 1", Host: "Host 99"}, {VM: "VM 2", Host: "Host 1"}, {VM: "VM 3", Host: "Host 1"}}},
		{"duplicate assignment", Plan{{VM: "VM 1", Host: "Host 1"}, {VM: "VM 1", Host: "Host 2"}, {VM: "VM 2", Host: "Host 1"}, {VM: "VM 3", Host: "Host 1"}}},
		{"unassigned VM", Plan{{VM: "VM 1", Host: "Host 1"}, {VM: "VM 2", Host: "Host 1"}}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.plan.Apply(testInventory()); err == nil {
				t.Errorf("expected error for %s", tc.name)
			}
		})
	}
}

func TestPlanMoves(t *testing.T) {
	inv := testInventory()

	plan := Plan{
		{VM: "VM 1", Host: "Host 2"}, // moved
		{VM: "VM 2", Host: "Host 1"}, // stays
		{VM: "VM 3", Host: "Host 1"}, // moved
	}
	if got := plan.Moves(inv); got != 2 {
		t.Errorf("Moves = %d, want 2", got)
	}

	stay := Plan{
		{VM: "VM 1", Host: "Host 1"},
		{VM: "VM 2", Host: "Host 1"},
		{VM: "VM 3", Host: "Host 2"},
	}
	if got := stay.Moves(inv); got != 0 {
		t.Errorf("Moves = %d, want 0", got)
	}
}
