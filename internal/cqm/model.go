// Package cqm builds the constrained quadratic model for the VM balancing
// problem and interprets solver samples back into cluster placements.
//
// The model itself is plain data. Solving happens remotely; this package
// only defines the wire shape the solver service accepts.
package cqm

import "fmt"

// Constraint senses and penalty kinds understood by the solver service.
const (
	SenseLE          = "<="
	PenaltyQuadratic = "quadratic"
)

// Term is one linear coefficient in a constraint: Coef * value(Var).
type Term struct {
	Var  string  `json:"var"`
	Coef float64 `json:"coef"`
}

// Constraint is a linear constraint over binary variables. Weight zero
// marks a hard constraint; a positive weight makes it soft, violations
// penalized per Penalty.
type Constraint struct {
	Label   string  `json:"label"`
	Terms   []Term  `json:"terms"`
	Sense   string  `json:"sense"`
	RHS     float64 `json:"rhs"`
	Penalty string  `json:"penalty,omitempty"`
	Weight  float64 `json:"weight,omitempty"`
}

// Discrete is a one-hot constraint: exactly one of Vars takes value 1.
type Discrete struct {
	Label string   `json:"label"`
	Vars  []string `json:"vars"`
}

// Model is a constrained quadratic model over binary variables, serialized
// as-is when submitted to the solver. Variable and constraint order is
// deterministic for a given inventory.
type Model struct {
	Variables   []string     `json:"variables"`
	Constraints []Constraint `json:"constraints"`
	Discrete    []Discrete   `json:"discrete"`
}

// NumVariables returns the number of binary decision variables.
func (m *Model) NumVariables() int { return len(m.Variables) }

// NumConstraints returns linear plus one-hot constraint counts.
func (m *Model) NumConstraints() int { return len(m.Constraints) + len(m.Discrete) }

// VariableName returns the decision variable for placing vm on host.
func VariableName(vm, host string) string {
	return fmt.Sprintf("%s_on_%s", vm, host)
}
