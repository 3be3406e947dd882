package sim

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/benbjohnson/immutable"
	"github.com/pkg/errors"
)

// AddressUnit is the number of bytes held at one address of a Memory.
const AddressUnit = 1

// Ensure type implements interface.
var _ Plugin = (*Memory)(nil)

// Memory represents a byte-addressable store. It backs the memory and
// register plugins and the contents of files.
//
// Bytes are kept in a persistent sorted map so copies share structure and
// never observe each other's writes. Bytes that were never written are
// created on first read as fresh symbolic bytes.
type Memory struct {
	BasePlugin
	id    string
	bytes *immutable.SortedMap // uint64 -> 8-bit Expr
}

// NewMemory returns an empty memory. The id prefixes the names of symbolic
// bytes it creates.
func NewMemory(id string) *Memory {
	return &Memory{
		id:    id,
		bytes: immutable.NewSortedMap(&uint64Comparer{}),
	}
}

// ID returns the identifier of the memory.
func (m *Memory) ID() string { return m.id }

// Len returns the number of initialized bytes.
func (m *Memory) Len() int { return m.bytes.Len() }

// Copy returns a memory that shares all current bytes with m.
func (m *Memory) Copy() Plugin {
	return &Memory{id: m.id, bytes: m.bytes}
}

// Load reads length bytes at addr and returns them as a single expression
// with the byte at addr as the most significant byte. A symbolic address is
// concretized; the returned constraints record the assumption made.
func (m *Memory) Load(addr Expr, length uint) (Expr, []Expr, error) {
	assert(length > 0, "load: invalid length")

	addrs, constraints, err := m.concretizeAddress(addr, "load")
	if err != nil {
		return nil, nil, err
	}

	// Candidates are joined from the last so the first takes precedence.
	value := m.loadBytes(addrs[len(addrs)-1].Uint64(), length)
	for i := len(addrs) - 2; i >= 0; i-- {
		value = NewIteExpr(NewBinaryExpr(EQ, addr, addrs[i]), m.loadBytes(addrs[i].Uint64(), length), value)
	}
	return value, constraints, nil
}

// Store writes content at addr. If size is nil then all of content is
// written; otherwise only the first size bytes of content are written. A
// symbolic size writes each byte conditionally on its index being below size.
func (m *Memory) Store(addr Expr, content Expr, size Expr) ([]Expr, error) {
	w := ExprWidth(content)
	assert(w%8 == 0, "store: content width not byte aligned: %d", w)
	n := w / 8

	addrs, constraints, err := m.concretizeAddress(addr, "store")
	if err != nil {
		return nil, err
	}

	// Narrow a concrete size down to a byte count.
	if size, ok := size.(*ConstantExpr); ok && size.IsUint64() && size.Uint64() < uint64(n) {
		n = uint(size.Uint64())
	}

	for _, a := range addrs {
		base := a.Uint64()
		for i := uint(0); i < n; i++ {
			b := NewExtractExpr(content, (w/8-i-1)*8, Width8)

			if size != nil && !IsConstantExpr(size) {
				cond := NewBinaryExpr(ULT, NewConstantExpr(uint64(i), ExprWidth(size)), size)
				b = NewIteExpr(cond, b, m.loadBytes(base+uint64(i), 1))
			}
			if len(addrs) > 1 {
				b = NewIteExpr(NewBinaryExpr(EQ, addr, a), b, m.loadBytes(base+uint64(i), 1))
			}
			m.bytes = m.bytes.Set(base+uint64(i), b)
		}
	}
	return constraints, nil
}

// loadBytes returns n bytes at concrete address addr, initializing missing
// bytes in contiguous runs.
func (m *Memory) loadBytes(addr uint64, n uint) Expr {
	exprs := make([]Expr, n)
	for i := uint(0); i < n; i++ {
		if v, ok := m.bytes.Get(addr + uint64(i)); ok {
			exprs[i] = v.(Expr)
			continue
		}

		j := i
		for j < n && !m.has(addr+uint64(j)) {
			j++
		}
		copy(exprs[i:j], m.fill(addr+uint64(i), j-i))
		i = j - 1
	}
	return NewConcatExprs(exprs...)
}

func (m *Memory) has(addr uint64) bool {
	_, ok := m.bytes.Get(addr)
	return ok
}

// fill initializes n bytes at addr and returns them.
func (m *Memory) fill(addr uint64, n uint) []Expr {
	exprs := make([]Expr, n)
	if m.state != nil && m.state.HasOption(OptionZeroFillUnconstrained) {
		for i := range exprs {
			exprs[i] = NewConstantExpr8(0)
		}
	} else {
		assert(m.state != nil, "memory %s: uninitialized read on unbound memory", m.id)
		array := m.state.newArray(fmt.Sprintf("%s_%x", m.id, addr), n)
		for i := range exprs {
			exprs[i] = array.Byte(uint(i))
		}
	}

	for i := range exprs {
		m.bytes = m.bytes.Set(addr+uint64(i), exprs[i])
	}
	return exprs
}

// concretizeAddress returns the candidate concrete addresses for addr and
// the constraint restricting addr to them.
func (m *Memory) concretizeAddress(addr Expr, op string) ([]*ConstantExpr, []Expr, error) {
	if addr, ok := addr.(*ConstantExpr); ok {
		assert(addr.IsUint64(), "%s: address exceeds 64 bits: %s", op, addr)
		return []*ConstantExpr{addr}, nil, nil
	} else if m.state == nil {
		return nil, nil, &SymbolicValueError{Op: op, Expr: addr}
	}

	limit := m.state.Session().Config.AddressLimit
	if limit < 1 || m.state.HasOption(OptionSingleAddressConcretization) {
		limit = 1
	}

	m.state.Inspect(EventAddressConcretization, BPBefore, Attrs{AttrAddressConcretizationExpr: addr})
	addrs, err := m.state.Solver().Eval(addr, limit)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "%s: concretize address", op)
	}
	m.state.Inspect(EventAddressConcretization, BPAfter, Attrs{AttrAddressConcretizationExpr: addr, AttrAddressConcretizationResult: addrs})

	conds := make([]Expr, len(addrs))
	for i, a := range addrs {
		conds[i] = NewBinaryExpr(EQ, addr, a)
	}
	m.state.Logger().WithField("addr", addr.String()).WithField("n", len(addrs)).Debug("[concretize] symbolic address")
	return addrs, []Expr{Disjunction(conds...)}, nil
}

// Merge joins every address present in any participant into an
// if-then-else chain over the merge flag.
func (m *Memory) Merge(others []Plugin, flag Expr, flagValues []uint64) ([]Expr, error) {
	all := []*Memory{m}
	shared := true
	for _, p := range others {
		other, ok := p.(*Memory)
		if !ok {
			return nil, newMergeError(PluginName(m.id), "type mismatch: %T", p)
		} else if other.id != m.id {
			return nil, newMergeError(PluginName(m.id), "id mismatch: %s != %s", m.id, other.id)
		}
		all = append(all, other)
		shared = shared && other.bytes == m.bytes
	}
	if shared {
		return nil, nil
	}

	width := ExprWidth(flag)
	for _, addr := range mergeKeys(all) {
		values := make([]Expr, len(all))
		same := true
		for k, mem := range all {
			if v, ok := mem.bytes.Get(addr); ok {
				values[k] = v.(Expr)
			} else {
				values[k] = m.fill(addr, 1)[0]
			}
			same = same && CompareExpr(values[k], values[0]) == 0
		}
		if same {
			m.bytes = m.bytes.Set(addr, values[0])
			continue
		}

		value := values[len(values)-1]
		for k := len(values) - 2; k >= 0; k-- {
			value = NewIteExpr(NewBinaryExpr(EQ, flag, NewConstantExpr(flagValues[k], width)), values[k], value)
		}
		m.bytes = m.bytes.Set(addr, value)
	}
	return nil, nil
}

// mergeKeys returns the sorted union of addresses across memories.
func mergeKeys(a []*Memory) []uint64 {
	set := make(map[uint64]struct{})
	for _, mem := range a {
		itr := mem.bytes.Iterator()
		for !itr.Done() {
			k, _ := itr.Next()
			set[k.(uint64)] = struct{}{}
		}
	}

	keys := make([]uint64, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Dump returns every initialized byte as a string, one per line.
func (m *Memory) Dump() string {
	var buf bytes.Buffer
	itr := m.bytes.Iterator()
	for !itr.Done() {
		k, v := itr.Next()
		fmt.Fprintf(&buf, "%016x %s\n", k.(uint64), v.(Expr).String())
	}
	return buf.String()
}

// uint64Comparer compares two 64-bit unsigned integers. Implements immutable.Comparer.
type uint64Comparer struct{}

// Compare returns -1 if a is less than b, returns 1 if a is greater than b, and
// returns 0 if a is equal to b. Panic if a or b is not an uint64.
func (c *uint64Comparer) Compare(a, b interface{}) int {
	if i, j := a.(uint64), b.(uint64); i < j {
		return -1
	} else if i > j {
		return 1
	}
	return 0
}
