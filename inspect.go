package sim

import (
	"reflect"
)

// EventType represents a kind of event that breakpoints can be attached to.
type EventType string

// Event types.
const (
	EventMemRead               = EventType("mem_read")
	EventMemWrite              = EventType("mem_write")
	EventAddressConcretization = EventType("address_concretization")
	EventRegRead               = EventType("reg_read")
	EventRegWrite              = EventType("reg_write")
	EventTmpRead               = EventType("tmp_read")
	EventTmpWrite              = EventType("tmp_write")
	EventExpr                  = EventType("expr")
	EventStatement             = EventType("statement")
	EventInstruction           = EventType("instruction")
	EventIRSB                  = EventType("irsb")
	EventConstraints           = EventType("constraints")
	EventExit                  = EventType("exit")
	EventSymbolicVariable      = EventType("symbolic_variable")
	EventCall                  = EventType("call")
)

// EventTypes lists every event type.
var EventTypes = []EventType{
	EventMemRead, EventMemWrite, EventAddressConcretization,
	EventRegRead, EventRegWrite, EventTmpRead, EventTmpWrite,
	EventExpr, EventStatement, EventInstruction, EventIRSB,
	EventConstraints, EventExit, EventSymbolicVariable, EventCall,
}

// BreakpointWhen specifies whether a breakpoint fires before or after an event.
type BreakpointWhen int

const (
	BPBefore = BreakpointWhen(1)
	BPAfter  = BreakpointWhen(2)
	BPBoth   = BreakpointWhen(3)
)

// Attribute names a value describing the event being fired.
type Attribute string

// Event attributes.
const (
	AttrMemReadAddress              = Attribute("mem_read_address")
	AttrMemReadExpr                 = Attribute("mem_read_expr")
	AttrMemReadLength               = Attribute("mem_read_length")
	AttrMemWriteAddress             = Attribute("mem_write_address")
	AttrMemWriteExpr                = Attribute("mem_write_expr")
	AttrMemWriteLength              = Attribute("mem_write_length")
	AttrRegReadOffset               = Attribute("reg_read_offset")
	AttrRegReadExpr                 = Attribute("reg_read_expr")
	AttrRegReadLength               = Attribute("reg_read_length")
	AttrRegWriteOffset              = Attribute("reg_write_offset")
	AttrRegWriteExpr                = Attribute("reg_write_expr")
	AttrRegWriteLength              = Attribute("reg_write_length")
	AttrTmpReadNum                  = Attribute("tmp_read_num")
	AttrTmpReadExpr                 = Attribute("tmp_read_expr")
	AttrTmpWriteNum                 = Attribute("tmp_write_num")
	AttrTmpWriteExpr                = Attribute("tmp_write_expr")
	AttrAddedConstraints            = Attribute("added_constraints")
	AttrSymbolicName                = Attribute("symbolic_name")
	AttrSymbolicSize                = Attribute("symbolic_size")
	AttrSymbolicExpr                = Attribute("symbolic_expr")
	AttrFunctionName                = Attribute("function_name")
	AttrFunctionAddress             = Attribute("function_address")
	AttrAddressConcretizationExpr   = Attribute("address_concretization_expr")
	AttrAddressConcretizationResult = Attribute("address_concretization_result")
)

// Attrs holds attribute values.
type Attrs map[Attribute]interface{}

// Breakpoint represents a callback fired on an event when all of its
// conditions hold.
type Breakpoint struct {
	When    BreakpointWhen
	Enabled bool

	// Optional predicate evaluated against the state.
	Condition func(s *State) bool

	// Called when the breakpoint fires.
	Action func(s *State)

	// Required attribute values. A symbolic attribute value matches if it
	// can equal the required value and, unless MatchAny is set, has no
	// other possible value.
	Attrs    Attrs
	MatchAny bool
}

// NewBreakpoint returns an enabled breakpoint.
func NewBreakpoint(when BreakpointWhen, action func(s *State)) *Breakpoint {
	return &Breakpoint{
		When:    when,
		Enabled: true,
		Action:  action,
		Attrs:   make(Attrs),
	}
}

// Check returns true if the breakpoint should fire for the event.
func (bp *Breakpoint) Check(s *State, when BreakpointWhen, attrs Attrs) bool {
	if !bp.Enabled || (bp.When != when && bp.When != BPBoth) {
		return false
	}

	for attr, want := range bp.Attrs {
		if want == nil {
			continue
		}
		got, ok := attrs[attr]
		if !ok || got == nil {
			return false
		} else if !bp.match(s, got, want) {
			return false
		}
	}

	return bp.Condition == nil || bp.Condition(s)
}

func (bp *Breakpoint) match(s *State, got, want interface{}) bool {
	expr, ok := got.(Expr)
	if !ok {
		if x, ok := toUint64(got); ok {
			y, ok := toUint64(want)
			return ok && x == y
		}
		return reflect.DeepEqual(got, want)
	}

	var value Expr
	if v, ok := want.(Expr); ok {
		value = v
	} else if v, ok := toUint64(want); ok {
		value = NewConstantExpr(v, ExprWidth(expr))
	} else {
		return false
	}
	if ExprWidth(value) != ExprWidth(expr) {
		return false
	}

	if !IsSymbolic(expr) {
		return IsConstantTrue(NewBinaryExpr(EQ, expr, value))
	}

	solver := s.Solver()
	if ok, err := solver.Solution(expr, value); err != nil || !ok {
		return false
	} else if bp.MatchAny {
		return true
	}
	unique, err := solver.Unique(expr)
	return err == nil && unique
}

// toUint64 converts any integer kind to uint64.
func toUint64(v interface{}) (uint64, bool) {
	switch v := v.(type) {
	case int:
		return uint64(v), true
	case int8:
		return uint64(v), true
	case int16:
		return uint64(v), true
	case int32:
		return uint64(v), true
	case int64:
		return uint64(v), true
	case uint:
		return uint64(v), true
	case uint8:
		return uint64(v), true
	case uint16:
		return uint64(v), true
	case uint32:
		return uint64(v), true
	case uint64:
		return v, true
	case uintptr:
		return uint64(v), true
	default:
		return 0, false
	}
}

// Ensure type implements interface.
var _ Plugin = (*Inspector)(nil)

// Inspector is the state plugin that fires breakpoints on state events.
type Inspector struct {
	BasePlugin
	breakpoints map[EventType][]*Breakpoint
	attrs       Attrs
}

// NewInspector returns an inspector with no breakpoints.
func NewInspector() *Inspector {
	return &Inspector{
		breakpoints: make(map[EventType][]*Breakpoint),
		attrs:       make(Attrs),
	}
}

// AddBreakpoint attaches bp to event.
func (i *Inspector) AddBreakpoint(event EventType, bp *Breakpoint) {
	i.breakpoints[event] = append(i.breakpoints[event], bp)
}

// RemoveBreakpoint detaches bp from event. Returns false if not attached.
func (i *Inspector) RemoveBreakpoint(event EventType, bp *Breakpoint) bool {
	a := i.breakpoints[event]
	for j := range a {
		if a[j] == bp {
			other := make([]*Breakpoint, 0, len(a)-1)
			other = append(other, a[:j]...)
			i.breakpoints[event] = append(other, a[j+1:]...)
			return true
		}
	}
	return false
}

// Breakpoints returns the breakpoints attached to event.
func (i *Inspector) Breakpoints(event EventType) []*Breakpoint {
	return i.breakpoints[event]
}

// Attr returns the value of an attribute of the event being fired.
func (i *Inspector) Attr(attr Attribute) interface{} {
	return i.attrs[attr]
}

// SetAttr changes an attribute of the event being fired. Actions use it to
// rewrite values such as the expression being written.
func (i *Inspector) SetAttr(attr Attribute, value interface{}) {
	i.attrs[attr] = value
}

// Action fires every matching breakpoint for the event and returns the
// attributes as left by the actions.
func (i *Inspector) Action(event EventType, when BreakpointWhen, attrs Attrs) Attrs {
	a := i.breakpoints[event]
	if len(a) == 0 {
		return attrs
	}

	// Actions may fire nested events; the outer event's attributes come back
	// once this one is done.
	prev := i.attrs
	defer func() { i.attrs = prev }()

	i.attrs = make(Attrs, len(attrs))
	for k, v := range attrs {
		i.attrs[k] = v
	}
	for _, bp := range a {
		if bp.Check(i.state, when, i.attrs) && bp.Action != nil {
			bp.Action(i.state)
		}
	}
	return i.attrs
}

// Downsize clears the attributes of the last event.
func (i *Inspector) Downsize() {
	i.attrs = make(Attrs)
}

// Copy returns an inspector with the same breakpoints and the attributes of
// the event being fired.
func (i *Inspector) Copy() Plugin {
	other := NewInspector()
	for event, a := range i.breakpoints {
		other.breakpoints[event] = append([]*Breakpoint{}, a...)
	}
	for k, v := range i.attrs {
		other.attrs[k] = v
	}
	return other
}

// Merge adds every breakpoint from others that is not already attached.
func (i *Inspector) Merge(others []Plugin, flag Expr, flagValues []uint64) ([]Expr, error) {
	for _, p := range others {
		other, ok := p.(*Inspector)
		if !ok {
			return nil, newMergeError(PluginInspector, "type mismatch: %T", p)
		}
		for event, a := range other.breakpoints {
			for _, bp := range a {
				if !i.hasBreakpoint(event, bp) {
					i.AddBreakpoint(event, bp)
				}
			}
		}
	}
	return nil, nil
}

func (i *Inspector) hasBreakpoint(event EventType, bp *Breakpoint) bool {
	for _, x := range i.breakpoints[event] {
		if x == bp {
			return true
		}
	}
	return false
}
