package sim

import (
	"bytes"
	"fmt"
	"math/bits"
	"sort"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// State represents the machine state of one analyzed path: its registers,
// memory, open files and path constraints. Each component is a plugin that
// is copied when the state forks and merged when states join.
//
// A state is not safe for concurrent use.
type State struct {
	id      int
	session *Session
	arch    *Arch

	plugins map[PluginName]Plugin

	// Block-local scratch values, indexed by temp number.
	temps map[int]Expr

	mode Mode

	// Behavior flags. Copied on fork.
	Options Options
}

// ID returns an autoincrementing ID assigned by the session.
func (s *State) ID() int { return s.id }

// Session returns the session that created the state.
func (s *State) Session() *Session { return s.session }

// Arch returns the architecture of the state.
func (s *State) Arch() *Arch { return s.arch }

// Mode returns the analysis mode of the state.
func (s *State) Mode() Mode { return s.mode }

// HasOption returns true if opt is set on the state.
func (s *State) HasOption(opt Option) bool { return s.Options.Has(opt) }

// Logger returns the session logger annotated with the state ID.
func (s *State) Logger() logrus.FieldLogger {
	return s.session.Logger.WithField("state", s.id)
}

// Plugin returns the named plugin. If the state does not have it yet then
// the session default is created and registered.
func (s *State) Plugin(name PluginName) Plugin {
	if p, ok := s.plugins[name]; ok {
		return p
	}

	p, ok := s.session.registry.New(name)
	assert(ok, "no default plugin: %q", name)
	s.RegisterPlugin(name, p)
	return p
}

// HasPlugin returns true if the named plugin is registered.
func (s *State) HasPlugin(name PluginName) bool {
	_, ok := s.plugins[name]
	return ok
}

// RegisterPlugin binds p to the state under name, replacing any existing plugin.
func (s *State) RegisterPlugin(name PluginName, p Plugin) {
	p.SetState(s)
	s.plugins[name] = p
}

// ReleasePlugin removes the named plugin from the state.
func (s *State) ReleasePlugin(name PluginName) {
	delete(s.plugins, name)
}

// PluginNames returns the names of the registered plugins, sorted.
func (s *State) PluginNames() []PluginName {
	a := make([]PluginName, 0, len(s.plugins))
	for name := range s.plugins {
		a = append(a, name)
	}
	sortPluginNames(a)
	return a
}

// Memory returns the memory plugin.
func (s *State) Memory() *Memory { return s.Plugin(PluginMemory).(*Memory) }

// Registers returns the register file plugin.
func (s *State) Registers() *Memory { return s.Plugin(PluginRegisters).(*Memory) }

// Solver returns the solver engine plugin.
func (s *State) Solver() *SolverEngine { return s.Plugin(PluginSolver).(*SolverEngine) }

// Posix returns the file table plugin.
func (s *State) Posix() *Posix { return s.Plugin(PluginPosix).(*Posix) }

// Inspector returns the inspector plugin.
func (s *State) Inspector() *Inspector { return s.Plugin(PluginInspector).(*Inspector) }

// Inspect fires breakpoints for the event if the state has an inspector.
// Returns the attributes as left by the breakpoint actions.
func (s *State) Inspect(event EventType, when BreakpointWhen, attrs Attrs) Attrs {
	p, ok := s.plugins[PluginInspector]
	if !ok {
		return attrs
	}
	return p.(*Inspector).Action(event, when, attrs)
}

// attrExpr returns the Expr value of attr, or def if it is not an Expr.
func attrExpr(attrs Attrs, attr Attribute, def Expr) Expr {
	if expr, ok := attrs[attr].(Expr); ok && expr != nil {
		return expr
	}
	return def
}

// BV returns a new unconstrained symbolic value of the given width.
func (s *State) BV(name string, width uint) Expr {
	assert(width > 0, "bv: invalid width")
	return s.newArray(name, minBytes(width)).Expr(width)
}

// BVV returns a concrete value of the given width.
func (s *State) BVV(value uint64, width uint) *ConstantExpr {
	return NewConstantExpr(value, width)
}

// newArray returns a new array of size bytes and fires the symbolic
// variable event.
func (s *State) newArray(name string, size uint) *Array {
	s.Inspect(EventSymbolicVariable, BPBefore, Attrs{AttrSymbolicName: name, AttrSymbolicSize: size * 8})
	array := s.session.newArray(name, size)
	s.Inspect(EventSymbolicVariable, BPAfter, Attrs{AttrSymbolicExpr: array.Expr(size * 8)})
	return array
}

// AddConstraints adds constraints to the path. Constraints are discarded
// unless OptionTrackConstraints is set.
func (s *State) AddConstraints(exprs ...Expr) {
	if len(exprs) == 0 || !s.HasOption(OptionTrackConstraints) {
		return
	}
	s.Inspect(EventConstraints, BPBefore, Attrs{AttrAddedConstraints: exprs})
	s.Solver().Add(exprs...)
	s.Inspect(EventConstraints, BPAfter, nil)
}

// Satisfiable returns true if the path constraints have a solution.
func (s *State) Satisfiable() (bool, error) {
	return s.Solver().Satisfiable()
}

// load reads from m and commits the constraints the read assumed.
func (s *State) load(m *Memory, addr Expr, length uint) (Expr, error) {
	value, constraints, err := m.Load(addr, length)
	if err != nil {
		return nil, err
	}
	s.AddConstraints(constraints...)
	return value, nil
}

// store writes to m and commits the constraints the write assumed.
func (s *State) store(m *Memory, addr, content, size Expr) error {
	constraints, err := m.Store(addr, content, size)
	if err != nil {
		return err
	}
	s.AddConstraints(constraints...)
	return nil
}

// Tmp returns the value of a temp.
func (s *State) Tmp(id int) (Expr, error) {
	s.Inspect(EventTmpRead, BPBefore, Attrs{AttrTmpReadNum: id})
	v, ok := s.temps[id]
	if !ok {
		return nil, errors.Wrapf(ErrTmpNotFound, "t%d", id)
	}
	attrs := s.Inspect(EventTmpRead, BPAfter, Attrs{AttrTmpReadExpr: v})
	return attrExpr(attrs, AttrTmpReadExpr, v), nil
}

// StoreTmp sets a temp. Storing to a temp that already holds a value
// constrains the two values to be equal.
func (s *State) StoreTmp(id int, content Expr) {
	attrs := s.Inspect(EventTmpWrite, BPBefore, Attrs{AttrTmpWriteNum: id, AttrTmpWriteExpr: content})
	content = attrExpr(attrs, AttrTmpWriteExpr, content)

	if prev, ok := s.temps[id]; ok {
		s.AddConstraints(NewBinaryExpr(EQ, prev, content))
	} else {
		s.temps[id] = content
	}
	s.Inspect(EventTmpWrite, BPAfter, nil)
}

// ClearTemps removes every temp.
func (s *State) ClearTemps() {
	s.temps = make(map[int]Expr)
}

// RegExpr returns length bytes of the register file at offset, in the byte
// order of the architecture.
func (s *State) RegExpr(offset, length uint) (Expr, error) {
	s.Inspect(EventRegRead, BPBefore, Attrs{AttrRegReadOffset: offset, AttrRegReadLength: length})

	e, err := s.load(s.Registers(), NewConstantExpr64(uint64(offset)), length)
	if err != nil {
		return nil, errors.Wrapf(err, "read register %d", offset)
	}
	if s.arch.RegisterEndness == LittleEndian {
		e = ReverseBytes(e)
	}

	attrs := s.Inspect(EventRegRead, BPAfter, Attrs{AttrRegReadExpr: e})
	return attrExpr(attrs, AttrRegReadExpr, e), nil
}

// Reg returns the value of the named register.
func (s *State) Reg(name string) (Expr, error) {
	reg, ok := s.arch.Register(name)
	if !ok {
		return nil, errors.Wrapf(ErrRegisterNotFound, "%s", name)
	}
	return s.RegExpr(reg.Offset, reg.Size)
}

// StoreReg writes content to the register file at offset.
func (s *State) StoreReg(offset uint, content Expr) error {
	attrs := s.Inspect(EventRegWrite, BPBefore, Attrs{
		AttrRegWriteOffset: offset,
		AttrRegWriteExpr:   content,
		AttrRegWriteLength: ExprWidth(content) / 8,
	})
	content = attrExpr(attrs, AttrRegWriteExpr, content)

	if s.arch.RegisterEndness == LittleEndian {
		content = ReverseBytes(content)
	}
	if err := s.store(s.Registers(), NewConstantExpr64(uint64(offset)), content, nil); err != nil {
		return errors.Wrapf(err, "write register %d", offset)
	}

	s.Inspect(EventRegWrite, BPAfter, nil)
	return nil
}

// SetReg writes content to the named register. Content is zero extended or
// truncated to the register width.
func (s *State) SetReg(name string, content Expr) error {
	reg, ok := s.arch.Register(name)
	if !ok {
		return errors.Wrapf(ErrRegisterNotFound, "%s", name)
	}
	return s.StoreReg(reg.Offset, NewCastExpr(content, reg.Size*8, false))
}

// RegConcrete returns the value of the named register. Returns a
// *SymbolicValueError if the value is symbolic.
func (s *State) RegConcrete(name string) (*ConstantExpr, error) {
	e, err := s.Reg(name)
	if err != nil {
		return nil, err
	}
	return s.concrete("reg_concrete", e)
}

// MemExpr returns length bytes of memory at addr in the given byte order.
func (s *State) MemExpr(addr Expr, length uint, endness Endness) (Expr, error) {
	s.Inspect(EventMemRead, BPBefore, Attrs{AttrMemReadAddress: addr, AttrMemReadLength: length})

	e, err := s.load(s.Memory(), addr, length)
	if err != nil {
		return nil, errors.Wrapf(err, "read memory %s", addr)
	}
	if endness == LittleEndian {
		e = ReverseBytes(e)
	}

	attrs := s.Inspect(EventMemRead, BPAfter, Attrs{AttrMemReadExpr: e})
	return attrExpr(attrs, AttrMemReadExpr, e), nil
}

// StoreMem writes all of content to memory at addr in the given byte order.
func (s *State) StoreMem(addr, content Expr, endness Endness) error {
	return s.StoreMemLength(addr, content, nil, endness)
}

// StoreMemLength writes the first length bytes of content to memory at addr.
// A symbolic length writes every byte of content conditionally. If length is
// nil then all of content is written.
func (s *State) StoreMemLength(addr, content, length Expr, endness Endness) error {
	attrLength := length
	if attrLength == nil {
		attrLength = NewConstantExpr(uint64(ExprWidth(content)/8), s.arch.Bits)
	}
	attrs := s.Inspect(EventMemWrite, BPBefore, Attrs{
		AttrMemWriteAddress: addr,
		AttrMemWriteExpr:    content,
		AttrMemWriteLength:  attrLength,
	})
	content = attrExpr(attrs, AttrMemWriteExpr, content)

	if endness == LittleEndian {
		content = ReverseBytes(content)
	}
	if err := s.store(s.Memory(), addr, content, length); err != nil {
		return errors.Wrapf(err, "write memory %s", addr)
	}

	s.Inspect(EventMemWrite, BPAfter, nil)
	return nil
}

// MemConcrete returns length bytes of memory at addr. Returns a
// *SymbolicValueError if the value is symbolic.
func (s *State) MemConcrete(addr Expr, length uint, endness Endness) (*ConstantExpr, error) {
	e, err := s.MemExpr(addr, length, endness)
	if err != nil {
		return nil, err
	}
	return s.concrete("mem_concrete", e)
}

func (s *State) concrete(op string, e Expr) (*ConstantExpr, error) {
	if c, ok := e.(*ConstantExpr); ok {
		return c, nil
	} else if IsSymbolic(e) {
		return nil, &SymbolicValueError{Op: op, Expr: e}
	}
	return s.Solver().Any(e)
}

// ForceConcrete returns a concrete value of e. If e is symbolic then one
// possible value is chosen and the path is constrained to it.
func (s *State) ForceConcrete(e Expr) (*ConstantExpr, error) {
	if c, ok := e.(*ConstantExpr); ok {
		return c, nil
	}

	v, err := s.Solver().Any(e)
	if err != nil {
		return nil, errors.Wrap(err, "force concrete")
	}
	s.AddConstraints(NewBinaryExpr(EQ, e, v))
	s.Logger().WithField("expr", e.String()).WithField("value", v.String()).Debug("[concretize] forced")
	return v, nil
}

// SP returns the stack pointer.
func (s *State) SP() (Expr, error) {
	return s.RegExpr(s.arch.SPOffset(), s.arch.PointerSize())
}

// BP returns the base pointer.
func (s *State) BP() (Expr, error) {
	return s.RegExpr(s.arch.BPOffset(), s.arch.PointerSize())
}

// StackPush moves the stack pointer by one pointer and writes value at the
// new top of stack. Value is zero extended or truncated to the pointer width.
func (s *State) StackPush(value Expr) error {
	if fn := s.arch.Overrides.StackPush; fn != nil {
		return fn(s, value)
	}

	sp, err := s.SP()
	if err != nil {
		return err
	}
	op := ADD
	if s.arch.StackGrowsDown {
		op = SUB
	}
	sp = NewBinaryExpr(op, sp, NewConstantExpr(uint64(s.arch.PointerSize()), s.arch.Bits))
	if err := s.StoreReg(s.arch.SPOffset(), sp); err != nil {
		return err
	}
	return s.StoreMem(sp, NewCastExpr(value, s.arch.Bits, false), s.arch.MemoryEndness)
}

// StackPop returns the value at the top of stack and moves the stack pointer
// back by one pointer.
func (s *State) StackPop() (Expr, error) {
	if fn := s.arch.Overrides.StackPop; fn != nil {
		return fn(s)
	}

	sp, err := s.SP()
	if err != nil {
		return nil, err
	}
	value, err := s.MemExpr(sp, s.arch.PointerSize(), s.arch.MemoryEndness)
	if err != nil {
		return nil, err
	}

	op := SUB
	if s.arch.StackGrowsDown {
		op = ADD
	}
	sp = NewBinaryExpr(op, sp, NewConstantExpr(uint64(s.arch.PointerSize()), s.arch.Bits))
	if err := s.StoreReg(s.arch.SPOffset(), sp); err != nil {
		return nil, err
	}
	return value, nil
}

// StackRead returns length bytes at offset from the stack pointer, or from
// the base pointer if bp is true. The stack pointer is unchanged.
func (s *State) StackRead(offset Expr, length uint, bp bool) (Expr, error) {
	if fn := s.arch.Overrides.StackRead; fn != nil {
		return fn(s, offset, length, bp)
	}

	base, err := s.SP()
	if bp {
		base, err = s.BP()
	}
	if err != nil {
		return nil, err
	}
	addr := NewBinaryExpr(ADD, base, NewCastExpr(offset, s.arch.Bits, false))
	return s.MemExpr(addr, length, s.arch.MemoryEndness)
}

// PrepareCallsite sets up a call as the caller would just before transferring
// control: arguments are placed per the calling convention and the return
// address is set in the link register or pushed. A nil ret skips the return
// address.
func (s *State) PrepareCallsite(ret Expr, args ...Expr) error {
	if fn := s.arch.Overrides.PrepareCallsite; fn != nil {
		return fn(s, ret, args)
	}

	cc := s.arch.Convention
	for i, arg := range args {
		if i >= len(cc.Args) {
			break
		} else if err := s.SetReg(cc.Args[i], arg); err != nil {
			return err
		}
	}

	// Remaining arguments are pushed right to left.
	if len(args) > len(cc.Args) {
		stack := args[len(cc.Args):]
		for i := len(stack) - 1; i >= 0; i-- {
			if err := s.StackPush(stack[i]); err != nil {
				return err
			}
		}
	}

	if ret == nil {
		return nil
	} else if cc.Link != "" {
		return s.SetReg(cc.Link, ret)
	}
	return s.StackPush(ret)
}

// CallArg returns argument i of the current call, assuming the state is at
// the entry of the callee.
func (s *State) CallArg(i int) (Expr, error) {
	cc := s.arch.Convention
	if i < len(cc.Args) {
		return s.Reg(cc.Args[i])
	}

	ptr := uint64(s.arch.PointerSize())
	offset := uint64(cc.StackArgOffset) + uint64(i-len(cc.Args))*ptr
	return s.StackRead(NewConstantExpr(offset, s.arch.Bits), uint(ptr), false)
}

// Copy returns a fork of the state. The fork shares the architecture and
// temp values but owns an independent copy of every plugin.
func (s *State) Copy() *State {
	other := &State{
		id:      s.session.nextStateID(),
		session: s.session,
		arch:    s.arch,
		plugins: make(map[PluginName]Plugin, len(s.plugins)),
		temps:   make(map[int]Expr, len(s.temps)),
		mode:    s.mode,
		Options: s.Options.Copy(),
	}
	for id, v := range s.temps {
		other.temps[id] = v
	}
	for name, p := range s.plugins {
		other.RegisterPlugin(name, p.Copy())
	}

	s.Logger().WithField("child", other.id).Debug("[fork]")
	return other
}

// Merge joins others into a copy of s. The returned selector is a fresh
// symbolic value: under selector == 0 the merged state behaves as s, and
// under selector == k it behaves as others[k-1].
//
// Every participant must have the same plugins and architecture. On error
// no participant is modified.
func (s *State) Merge(others ...*State) (*State, Expr, error) {
	names := s.PluginNames()
	for _, other := range others {
		if other.arch != s.arch {
			return nil, nil, newMergeError("", "architecture mismatch: %s != %s", s.arch, other.arch)
		} else if !equalPluginNames(names, other.PluginNames()) {
			return nil, nil, newMergeError("", "plugin set mismatch: %v != %v", names, other.PluginNames())
		}
	}

	width := uint(bits.Len(uint(len(others))))
	if width == 0 {
		width = 1
	}
	merged := s.Copy()
	flag := merged.BV(s.session.nextMergeName(), width)
	flagValues := make([]uint64, len(others)+1)
	for i := range flagValues {
		flagValues[i] = uint64(i)
	}

	var constraints []Expr
	for _, name := range names {
		peers := make([]Plugin, len(others))
		for i, other := range others {
			peers[i] = other.plugins[name]
		}

		a, err := merged.plugins[name].Merge(peers, flag, flagValues)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "merge %s", name)
		}
		constraints = append(constraints, a...)
	}
	merged.AddConstraints(constraints...)

	s.Logger().WithFields(logrus.Fields{
		"merged": merged.id,
		"n":      len(others) + 1,
		"flag":   flag.String(),
	}).Debug("[merge]")
	return merged, flag, nil
}

func equalPluginNames(a, b []PluginName) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Dump returns a human readable description of the registers, memory,
// files and constraints of the state. It never creates symbolic values.
func (s *State) Dump() string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "state %d (%s, %s)\n", s.id, s.arch, s.mode)

	if len(s.temps) > 0 {
		fmt.Fprintln(&buf, "temps:")
		ids := make([]int, 0, len(s.temps))
		for id := range s.temps {
			ids = append(ids, id)
		}
		sort.Ints(ids)
		for _, id := range ids {
			fmt.Fprintf(&buf, "t%d = %s\n", id, s.temps[id])
		}
	}

	if p, ok := s.plugins[PluginRegisters]; ok {
		fmt.Fprintln(&buf, "registers:")
		buf.WriteString(p.(*Memory).Dump())
	}
	if p, ok := s.plugins[PluginMemory]; ok {
		fmt.Fprintln(&buf, "memory:")
		buf.WriteString(p.(*Memory).Dump())
	}
	if p, ok := s.plugins[PluginPosix]; ok {
		fmt.Fprintln(&buf, "files:")
		buf.WriteString(p.(*Posix).Dump())
	}
	if p, ok := s.plugins[PluginSolver]; ok {
		fmt.Fprintln(&buf, "constraints:")
		for _, c := range p.(*SolverEngine).Constraints() {
			fmt.Fprintln(&buf, c.String())
		}
	}
	return buf.String()
}

// DumpStack returns depth pointer-sized stack slots starting at the stack
// pointer. If depth is zero then the slots up to the base pointer are shown.
func (s *State) DumpStack(depth int) (string, error) {
	sp, err := s.SP()
	if err != nil {
		return "", err
	}
	bp, err := s.BP()
	if err != nil {
		return "", err
	}

	if IsSymbolic(sp) {
		return "SP is SYMBOLIC\n", nil
	} else if IsSymbolic(bp) {
		return "BP is SYMBOLIC\n", nil
	}
	spv, err := s.concrete("dump_stack", sp)
	if err != nil {
		return "", err
	}
	bpv, err := s.concrete("dump_stack", bp)
	if err != nil {
		return "", err
	}

	ptr := uint64(s.arch.PointerSize())
	spAddr, bpAddr := spv.Uint64(), bpv.Uint64()
	if depth <= 0 {
		depth = 1
		if bpAddr > spAddr {
			depth = int((bpAddr-spAddr)/ptr) + 1
		}
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "SP = 0x%08x, BP = 0x%08x\n", spAddr, bpAddr)
	for i := 0; i < depth; i++ {
		addr := spAddr + uint64(i)*ptr
		v, err := s.StackRead(NewConstantExpr(uint64(i)*ptr, s.arch.Bits), uint(ptr), false)
		if err != nil {
			return "", err
		}

		value := "SYMBOLIC"
		if c, ok := v.(*ConstantExpr); ok {
			value = fmt.Sprintf("0x%08x", c.Uint64())
		}

		switch addr {
		case spAddr:
			fmt.Fprintf(&buf, "(sp)%16x | %s\n", addr, value)
		case bpAddr:
			fmt.Fprintf(&buf, "(bp)%16x | %s\n", addr, value)
		default:
			fmt.Fprintf(&buf, "%20x | %s\n", addr, value)
		}
	}
	return buf.String(), nil
}
