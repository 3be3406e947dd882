package sim

import (
	"github.com/pkg/errors"
)

// Solver represents a constraint solver backend.
type Solver interface {
	// Returns the satisfiability of the set of constraints. If the formula
	// is satisfiable, a valid value is returned for each array passed in.
	Solve(constraints []Expr, arrays []*Array) (satisfiable bool, values [][]byte, err error)
}

// Ensure type implements interface.
var _ Plugin = (*SolverEngine)(nil)

// SolverEngine is the state plugin that holds the path constraints and
// answers queries about expressions against them.
type SolverEngine struct {
	BasePlugin
	solver      Solver
	constraints []Expr
}

// NewSolverEngine returns a new instance of SolverEngine using a backend solver.
func NewSolverEngine(solver Solver) *SolverEngine {
	return &SolverEngine{solver: solver}
}

// Backend returns the underlying solver.
func (e *SolverEngine) Backend() Solver { return e.solver }

// Constraints returns a copy of the path constraints.
func (e *SolverEngine) Constraints() []Expr {
	other := make([]Expr, len(e.constraints))
	copy(other, e.constraints)
	return other
}

// Copy returns a new engine with the same backend and a copy of the constraints.
func (e *SolverEngine) Copy() Plugin {
	return &SolverEngine{
		solver:      e.solver,
		constraints: e.Constraints(),
	}
}

// BV returns a new unconstrained symbolic value. The engine must be bound
// to a state.
func (e *SolverEngine) BV(name string, width uint) Expr {
	assert(e.state != nil, "solver: BV on unbound engine")
	return e.state.BV(name, width)
}

// BVV returns a concrete value.
func (e *SolverEngine) BVV(value uint64, width uint) *ConstantExpr {
	return NewConstantExpr(value, width)
}

// Add adds constraints to the path. Logical conjunctions are split into
// separate constraints and constant true constraints are dropped.
func (e *SolverEngine) Add(exprs ...Expr) {
	for _, expr := range exprs {
		e.constraints = AddConstraint(e.constraints, expr)
	}
}

// AddConstraint adds expr to constraints and returns the new constraint list.
// If expr is a binary AND expression then its LHS & RHS are split into
// independent constraints.
func AddConstraint(a []Expr, expr Expr) []Expr {
	assert(ExprWidth(expr) == WidthBool, "constraint must be boolean: width=%d", ExprWidth(expr))
	if IsConstantTrue(expr) {
		return a
	} else if expr, ok := expr.(*BinaryExpr); ok && expr.Op == AND {
		a = AddConstraint(a, expr.LHS)
		a = AddConstraint(a, expr.RHS)
		return a
	}
	return append(a, expr)
}

// IsSymbolic returns true if expr references any symbolic variable.
func (e *SolverEngine) IsSymbolic(expr Expr) bool {
	return IsSymbolic(expr)
}

// Satisfiable returns true if the constraints, plus any extra constraints,
// have a solution.
func (e *SolverEngine) Satisfiable(extra ...Expr) (bool, error) {
	sat, _, err := e.solve(nil, extra)
	return sat, err
}

// Any returns one possible value of expr.
func (e *SolverEngine) Any(expr Expr, extra ...Expr) (*ConstantExpr, error) {
	if expr, ok := expr.(*ConstantExpr); ok {
		return expr, nil
	}

	sat, ee, err := e.solve([]Expr{expr}, extra)
	if err != nil {
		return nil, err
	} else if !sat {
		return nil, ErrUnsatisfiable
	}
	return ee.Evaluate(expr)
}

// Eval returns up to n distinct possible values of expr.
func (e *SolverEngine) Eval(expr Expr, n int, extra ...Expr) ([]*ConstantExpr, error) {
	if expr, ok := expr.(*ConstantExpr); ok {
		return []*ConstantExpr{expr}, nil
	}

	constraints := append([]Expr{}, extra...)
	var values []*ConstantExpr
	for len(values) < n {
		sat, ee, err := e.solve([]Expr{expr}, constraints)
		if err != nil {
			return nil, err
		} else if !sat {
			break
		}

		value, err := ee.Evaluate(expr)
		if err != nil {
			return nil, err
		}
		values = append(values, value)
		constraints = append(constraints, NewBinaryExpr(NE, expr, value))
	}

	if len(values) == 0 {
		return nil, ErrUnsatisfiable
	}
	return values, nil
}

// Unique returns true if expr has exactly one possible value.
func (e *SolverEngine) Unique(expr Expr, extra ...Expr) (bool, error) {
	if IsConstantExpr(expr) {
		return true, nil
	}
	values, err := e.Eval(expr, 2, extra...)
	if err != nil {
		return false, err
	}
	return len(values) == 1, nil
}

// Solution returns true if expr can be equal to value.
func (e *SolverEngine) Solution(expr, value Expr) (bool, error) {
	return e.Satisfiable(NewBinaryExpr(EQ, expr, value))
}

// Max returns the maximum unsigned value of expr.
func (e *SolverEngine) Max(expr Expr, extra ...Expr) (*ConstantExpr, error) {
	return e.bound(expr, true, extra)
}

// Min returns the minimum unsigned value of expr.
func (e *SolverEngine) Min(expr Expr, extra ...Expr) (*ConstantExpr, error) {
	return e.bound(expr, false, extra)
}

// bound performs a binary search over the unsigned range of expr. Each
// satisfying model moves the bound to the value it witnessed.
func (e *SolverEngine) bound(expr Expr, max bool, extra []Expr) (*ConstantExpr, error) {
	if expr, ok := expr.(*ConstantExpr); ok {
		return expr, nil
	}

	witness, err := e.Any(expr, extra...)
	if err != nil {
		return nil, err
	}

	width := ExprWidth(expr)
	one := NewConstantExpr(1, width)
	lo, hi := NewConstantExpr(0, width), NewConstantExpr(0, width).Not()
	if max {
		lo = witness
	} else {
		hi = witness
	}

	for lo.Ult(hi).IsTrue() {
		// Midpoint rounded towards the unexplored side.
		diff := hi.Sub(lo)
		half := diff.LShr(one)
		var mid *ConstantExpr
		var cond Expr
		if max {
			mid = lo.Add(half).Add(diff.And(one))
			cond = NewBinaryExpr(UGE, expr, mid)
		} else {
			mid = lo.Add(half)
			cond = NewBinaryExpr(ULE, expr, mid)
		}

		sat, ee, err := e.solve([]Expr{expr}, append(append([]Expr{}, extra...), cond))
		if err != nil {
			return nil, err
		}

		switch {
		case sat && max:
			if lo, err = ee.Evaluate(expr); err != nil {
				return nil, err
			}
		case sat && !max:
			if hi, err = ee.Evaluate(expr); err != nil {
				return nil, err
			}
		case !sat && max:
			hi = mid.Sub(one)
		default:
			lo = mid.Add(one)
		}
	}

	if max {
		return lo, nil
	}
	return hi, nil
}

// solve runs the backend over the constraints plus extra. The returned
// evaluator binds every array referenced by exprs or any constraint.
func (e *SolverEngine) solve(exprs []Expr, extra []Expr) (bool, *ExprEvaluator, error) {
	constraints := make([]Expr, 0, len(e.constraints)+len(extra))
	for _, c := range append(e.Constraints(), extra...) {
		if IsConstantFalse(c) {
			return false, nil, nil
		}
		constraints = AddConstraint(constraints, c)
	}

	arrays := FindArrays(append(append([]Expr{}, constraints...), exprs...)...)
	sat, values, err := e.solver.Solve(constraints, arrays)
	if err != nil {
		return false, nil, errors.Wrap(err, "solve")
	} else if !sat {
		return false, nil, nil
	}
	if len(values) != len(arrays) {
		values = make([][]byte, len(arrays))
		for i := range arrays {
			values[i] = make([]byte, arrays[i].Size)
		}
	}
	return true, NewExprEvaluator(arrays, values), nil
}

// Merge keeps the constraints shared by every participant and joins the
// remainder into a single disjunction guarded by the merge flag.
func (e *SolverEngine) Merge(others []Plugin, flag Expr, flagValues []uint64) ([]Expr, error) {
	all := [][]Expr{e.constraints}
	for _, p := range others {
		other, ok := p.(*SolverEngine)
		if !ok {
			return nil, newMergeError(PluginSolver, "type mismatch: %T", p)
		}
		all = append(all, other.constraints)
	}

	n := commonConstraintPrefix(all)
	branches := make([]Expr, len(all))
	for k, constraints := range all {
		guard := NewBinaryExpr(EQ, flag, NewConstantExpr(flagValues[k], ExprWidth(flag)))
		branches[k] = Conjunction(append([]Expr{guard}, constraints[n:]...)...)
	}

	merged := make([]Expr, n, n+1)
	copy(merged, e.constraints[:n])
	e.constraints = AddConstraint(merged, Disjunction(branches...))
	return nil, nil
}

// commonConstraintPrefix returns the length of the longest constraint prefix
// shared by all sets.
func commonConstraintPrefix(sets [][]Expr) int {
	n := len(sets[0])
	for _, set := range sets[1:] {
		if len(set) < n {
			n = len(set)
		}
	}
	for i := 0; i < n; i++ {
		for _, set := range sets[1:] {
			if CompareExpr(sets[0][i], set[i]) != 0 {
				return i
			}
		}
	}
	return n
}
