package simtest

import (
	"encoding/binary"

	"github.com/benbjohnson/sim"
)

// DefaultMaxSteps is the default search budget of Solver.
const DefaultMaxSteps = 1 << 20

// Ensure type implements interface.
var _ sim.Solver = (*Solver)(nil)

// Solver is a sim.Solver that searches a finite domain for each array.
// One-byte arrays range over every value. Wider arrays range over the
// candidates in Domains, if present, or else over zero, all ones and every
// constant in the constraints (plus and minus one) encoded to the array size.
//
// It is complete for one-byte arrays only and is meant for tests.
type Solver struct {
	Domains  map[string][][]byte // candidate values by array name
	MaxSteps int

	// Number of Solve calls.
	SolveN int
}

// NewSolver returns a new finite-domain solver.
func NewSolver() *Solver {
	return &Solver{
		Domains:  make(map[string][][]byte),
		MaxSteps: DefaultMaxSteps,
	}
}

// Solve searches for an assignment of arrays satisfying every constraint.
// Arrays not referenced by a constraint are assigned their first candidate.
func (s *Solver) Solve(constraints []sim.Expr, arrays []*sim.Array) (bool, [][]byte, error) {
	s.SolveN++

	// Constant constraints are decided up front.
	var pending []sim.Expr
	for _, c := range constraints {
		if c, ok := c.(*sim.ConstantExpr); ok {
			if c.IsFalse() {
				return false, nil, nil
			}
			continue
		}
		pending = append(pending, c)
	}

	constants := collectConstants(pending)
	n := len(arrays)

	// Attach each constraint to the last array it depends on.
	index := make(map[uint64]int, len(arrays))
	for i, a := range arrays {
		index[a.ID] = i
	}
	checks := make([][]sim.Expr, len(arrays))
	for _, c := range pending {
		last := -1
		for _, a := range sim.FindArrays(c) {
			i, ok := index[a.ID]
			if !ok {
				// Arrays not passed in are treated as part of the problem.
				arrays = append(arrays, a)
				checks = append(checks, nil)
				i = len(arrays) - 1
				index[a.ID] = i
			}
			if i > last {
				last = i
			}
		}
		checks[last] = append(checks[last], c)
	}

	domains := make([][][]byte, len(arrays))
	for i, a := range arrays {
		domains[i] = s.domain(a, constants)
	}

	values := make([][]byte, len(arrays))
	steps := 0
	var search func(i int) (bool, error)
	search = func(i int) (bool, error) {
		if i == len(arrays) {
			return true, nil
		}
		for _, v := range domains[i] {
			if steps++; s.MaxSteps > 0 && steps > s.MaxSteps {
				return false, sim.ErrSolverResourceLimit
			}
			values[i] = v

			ok, err := holds(checks[i], arrays[:i+1], values[:i+1])
			if err != nil {
				return false, err
			} else if !ok {
				continue
			}

			if ok, err := search(i + 1); err != nil || ok {
				return ok, err
			}
		}
		return false, nil
	}

	if ok, err := search(0); err != nil || !ok {
		return false, nil, err
	}
	return true, values[:n], nil
}

// holds returns true if every constraint evaluates to true.
func holds(constraints []sim.Expr, arrays []*sim.Array, values [][]byte) (bool, error) {
	if len(constraints) == 0 {
		return true, nil
	}
	ee := sim.NewExprEvaluator(arrays, values)
	for _, c := range constraints {
		v, err := ee.Evaluate(c)
		if err != nil {
			return false, err
		} else if !v.IsTrue() {
			return false, nil
		}
	}
	return true, nil
}

// domain returns the candidate values of a.
func (s *Solver) domain(a *sim.Array, constants []uint64) [][]byte {
	if d, ok := s.Domains[a.Name]; ok {
		return d
	}

	if a.Size == 1 {
		d := make([][]byte, 256)
		for i := range d {
			d[i] = []byte{byte(i)}
		}
		return d
	}

	seen := make(map[string]struct{})
	var d [][]byte
	add := func(v uint64) {
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], v)

		b := make([]byte, a.Size)
		if a.Size >= 8 {
			copy(b[a.Size-8:], buf[:])
		} else {
			copy(b, buf[8-a.Size:])
		}
		if _, ok := seen[string(b)]; !ok {
			seen[string(b)] = struct{}{}
			d = append(d, b)
		}
	}

	add(0)
	for _, v := range constants {
		add(v)
		add(v + 1)
		add(v - 1)
	}
	add(^uint64(0))
	return d
}

// collectConstants returns every constant of at most 64 bits in exprs.
func collectConstants(exprs []sim.Expr) []uint64 {
	var a []uint64
	var walk func(expr sim.Expr)
	walk = func(expr sim.Expr) {
		switch expr := expr.(type) {
		case *sim.ConstantExpr:
			if expr.Width > 1 && expr.IsUint64() {
				a = append(a, expr.Uint64())
			}
		case *sim.BinaryExpr:
			walk(expr.LHS)
			walk(expr.RHS)
		case *sim.CastExpr:
			walk(expr.Src)
		case *sim.ConcatExpr:
			walk(expr.MSB)
			walk(expr.LSB)
		case *sim.ExtractExpr:
			walk(expr.Expr)
		case *sim.IteExpr:
			walk(expr.Cond)
			walk(expr.Then)
			walk(expr.Else)
		case *sim.NotExpr:
			walk(expr.Expr)
		case *sim.SelectExpr:
			// Index constants address bytes, not values.
		}
	}
	for _, expr := range exprs {
		walk(expr)
	}
	return a
}
