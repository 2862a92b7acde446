// Package cluster models the virtual machines and hosts that the demo
// balances. It owns the synthetic inventory generator and the cluster
// balance factor metric used to score an assignment of VMs to hosts.
package cluster

// Resource capacities for every generated host. Both caps must be larger
// than the maximum host count so the per-host budget sampler has enough
// distinct values to draw from.
const (
	CPUCap      = 167
	MemoryCap   = 1026
	CPUUnits    = "GHz"
	MemoryUnits = "GiB"
)

// StatusRunning is the only status the generator assigns. The field exists
// so a real inventory source can carry through states like "Stopped".
const StatusRunning = "Running"

const processorTypeCPU = "CPU"

// VM is a virtual machine with its current placement and resource use.
// CPU is in CPUUnits, Memory in MemoryUnits.
type VM struct {
	Name        string  `json:"name" yaml:"name"`
	Status      string  `json:"status" yaml:"status"`
	CurrentHost string  `json:"current_host" yaml:"current_host"`
	CPU         float64 `json:"cpu" yaml:"cpu"`
	Memory      float64 `json:"mem" yaml:"mem"`
}

// Host is a machine VMs run on. Used figures are the sums over the VMs
// currently placed on it; caps are fixed at generation time.
type Host struct {
	Name          string  `json:"name" yaml:"name"`
	ProcessorType string  `json:"processor_type" yaml:"processor_type"`
	CPUUsed       float64 `json:"cpu_used" yaml:"cpu_used"`
	MemUsed       float64 `json:"mem_used" yaml:"mem_used"`
	CPUCap        float64 `json:"cpu_cap" yaml:"cpu_cap"`
	MemCap        float64 `json:"mem_cap" yaml:"mem_cap"`
}

// CPUPercent returns CPU utilization as a fraction of capacity.
func (h Host) CPUPercent() float64 {
	if h.CPUCap == 0 {
		return 0
	}
	return h.CPUUsed / h.CPUCap
}

// MemPercent returns memory utilization as a fraction of capacity.
func (h Host) MemPercent() float64 {
	if h.MemCap == 0 {
		return 0
	}
	return h.MemUsed / h.MemCap
}

// Inventory is a snapshot of a cluster: every VM and every host. Order is
// stable (VM 1..N, Host 1..M for generated inventories) so serialized
// snapshots diff cleanly.
type Inventory struct {
	VMs   []VM   `json:"vms" yaml:"vms"`
	Hosts []Host `json:"hosts" yaml:"hosts"`
}

// FindVM returns a pointer to the named VM, or nil if absent.
func (inv *Inventory) FindVM(name string) *VM {
	for i := range inv.VMs {
		if inv.VMs[i].Name == name {
			return &inv.VMs[i]
		}
	}
	return nil
}

// FindHost returns a pointer to the named host, or nil if absent.
func (inv *Inventory) FindHost(name string) *Host {
	for i := range inv.Hosts {
		if inv.Hosts[i].Name == name {
			return &inv.Hosts[i]
		}
	}
	return nil
}

// Clone returns a deep copy. Callers that mutate placements (applying a
// solver plan) work on a clone so the pre-solve snapshot survives.
func (inv *Inventory) Clone() *Inventory {
	if inv == nil {
		return nil
	}
	out := &Inventory{
		VMs:   make([]VM, len(inv.VMs)),
		Hosts: make([]Host, len(inv.Hosts)),
	}
	copy(out.VMs, inv.VMs)
	copy(out.Hosts, inv.Hosts)
	return out
}

// RecomputeUsage resets every host's used figures and re-accumulates them
// from VM placements. It is the authoritative reconciliation after any
// placement change.
func (inv *Inventory) RecomputeUsage() {
	for i := range inv.Hosts {
		inv.Hosts[i].CPUUsed = 0
		inv.Hosts[i].MemUsed = 0
	}
	for i := range inv.VMs {
		host := inv.FindHost(inv.VMs[i].CurrentHost)
		if host == nil {
			continue
		}
		host.CPUUsed += inv.VMs[i].CPU
		host.MemUsed += inv.VMs[i].Memory
	}
}

// TotalRequestedCPU sums CPU use across all VMs.
func (inv *Inventory) TotalRequestedCPU() float64 {
	var total float64
	for _, vm := range inv.VMs {
		total += vm.CPU
	}
	return total
}

// TotalRequestedMem sums memory use across all VMs.
func (inv *Inventory) TotalRequestedMem() float64 {
	var total float64
	for _, vm := range inv.VMs {
		total += vm.Memory
	}
	return total
}

// TotalAvailableCPU sums CPU capacity across all hosts.
func (inv *Inventory) TotalAvailableCPU() float64 {
	var total float64
	for _, h := range inv.Hosts {
		total += h.CPUCap
	}
	return total
}

// TotalAvailableMem sums memory capacity across all hosts.
func (inv *Inventory) TotalAvailableMem() float64 {
	var total float64
	for _, h := range inv.Hosts {
		total += h.MemCap
	}
	return total
}
