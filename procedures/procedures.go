// Package procedures implements models of library calls that run directly
// against a machine state.
package procedures

import (
	"sort"

	"github.com/benbjohnson/sim"
	"github.com/pkg/errors"
)

// ErrNoReturn is returned when a procedure finishes without returning.
var ErrNoReturn = errors.New("procedures: procedure did not return")

// Procedure represents a model of a library function.
type Procedure interface {
	// Performs the side effects of the call on c.State and returns through c.
	Run(c *Call) error
}

// ProcedureFunc is an adapter to allow the use of ordinary functions as procedures.
type ProcedureFunc func(c *Call) error

// Run calls fn(c).
func (fn ProcedureFunc) Run(c *Call) error { return fn(c) }

// Result represents the outcome of a call.
type Result struct {
	// Value placed in the return register.
	Value sim.Expr

	// Address execution continues at.
	ReturnAddr sim.Expr
}

// Call represents one invocation of a procedure. The state is positioned at
// the entry of the callee, as left by State.PrepareCallsite.
type Call struct {
	State *sim.State
	Name  string

	result *Result
}

// NewCall returns a new call of the named function on s.
func NewCall(s *sim.State, name string) *Call {
	return &Call{State: s, Name: name}
}

// Arg returns argument i.
func (c *Call) Arg(i int) (sim.Expr, error) {
	v, err := c.State.CallArg(i)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: arg %d", c.Name, i)
	}
	return v, nil
}

// Return sets the return value and resolves the return address from the
// link register or the stack.
func (c *Call) Return(value sim.Expr) error {
	cc := c.State.Arch().Convention
	if err := c.State.SetReg(cc.Return, value); err != nil {
		return errors.Wrapf(err, "%s: return", c.Name)
	}

	var ret sim.Expr
	var err error
	if cc.Link != "" {
		ret, err = c.State.Reg(cc.Link)
	} else {
		ret, err = c.State.StackPop()
	}
	if err != nil {
		return errors.Wrapf(err, "%s: return address", c.Name)
	}

	c.result = &Result{Value: value, ReturnAddr: ret}
	return nil
}

// Result returns the result set by Return, or nil if the call has not returned.
func (c *Call) Result() *Result { return c.result }

// Run invokes p as the named function on s and fires the call events.
func Run(s *sim.State, name string, p Procedure) (*Result, error) {
	s.Inspect(sim.EventCall, sim.BPBefore, sim.Attrs{sim.AttrFunctionName: name})

	c := NewCall(s, name)
	if err := p.Run(c); err != nil {
		return nil, err
	} else if c.result == nil {
		return nil, errors.Wrap(ErrNoReturn, name)
	}

	s.Inspect(sim.EventCall, sim.BPAfter, sim.Attrs{sim.AttrFunctionName: name})
	return c.result, nil
}

// Libc maps C library symbols to their models.
var Libc = map[string]Procedure{
	"malloc": &Malloc{},
	"read":   &Read{},
	"write":  &Write{},
}

// Lookup returns the model of a C library symbol.
func Lookup(name string) (Procedure, bool) {
	p, ok := Libc[name]
	return p, ok
}

// Names returns the modeled C library symbols, sorted.
func Names() []string {
	a := make([]string, 0, len(Libc))
	for name := range Libc {
		a = append(a, name)
	}
	sort.Strings(a)
	return a
}

// concreteLength returns a concrete value for a length argument. A symbolic
// length is replaced by its maximum, clamped to limit.
func concreteLength(s *sim.State, length sim.Expr, limit uint64) (uint64, error) {
	if !sim.IsSymbolic(length) {
		v, err := s.Solver().Any(length)
		if err != nil {
			return 0, err
		}
		return v.Uint64(), nil
	}

	max, err := s.Solver().Max(length)
	if err != nil {
		return 0, err
	} else if !max.IsUint64() || max.Uint64() > limit {
		return limit, nil
	}
	return max.Uint64(), nil
}
