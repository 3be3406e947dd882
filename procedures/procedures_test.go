package procedures_test

import (
	"testing"

	"github.com/benbjohnson/sim"
	"github.com/benbjohnson/sim/internal/simtest"
	"github.com/benbjohnson/sim/procedures"
	"github.com/stretchr/testify/require"
)

const (
	stackTop   = 0x7fff0000
	returnAddr = 0x400123
	bufAddr    = 0x2000
)

// newState returns an AMD64 state with a concrete stack pointer.
func newState(tb testing.TB, config sim.Config) *sim.State {
	tb.Helper()
	s := simtest.NewSessionWithConfig(tb, config).NewState(sim.AMD64)
	require.NoError(tb, s.SetReg("rsp", s.BVV(stackTop, 64)))
	return s
}

// call places args and a return address on s and runs the named procedure.
func call(tb testing.TB, s *sim.State, name string, args ...sim.Expr) *procedures.Result {
	tb.Helper()
	p, ok := procedures.Lookup(name)
	require.True(tb, ok, "no procedure: %s", name)
	require.NoError(tb, s.PrepareCallsite(s.BVV(returnAddr, 64), args...))

	result, err := procedures.Run(s, name, p)
	require.NoError(tb, err)
	return result
}

func TestMalloc(t *testing.T) {
	t.Run("Concrete", func(t *testing.T) {
		s := newState(t, sim.DefaultConfig())

		result := call(t, s, "malloc", s.BVV(16, 64))
		require.Equal(t, uint64(sim.DefaultHeapBase), simtest.MustEval(t, s, result.Value))
		require.Equal(t, uint64(returnAddr), simtest.MustEval(t, s, result.ReturnAddr))
		require.Equal(t, uint64(sim.DefaultHeapBase+16), s.Posix().HeapLocation)

		rax, err := s.RegConcrete("rax")
		require.NoError(t, err)
		require.Equal(t, uint64(sim.DefaultHeapBase), rax.Uint64())

		// Stack pointer is restored once the return address is popped.
		rsp, err := s.RegConcrete("rsp")
		require.NoError(t, err)
		require.Equal(t, uint64(stackTop), rsp.Uint64())
	})

	t.Run("Monotonic", func(t *testing.T) {
		s := newState(t, sim.DefaultConfig())

		var prev, prevSize uint64
		for i, size := range []uint64{8, 0, 100, 1, 4096} {
			addr := simtest.MustEval(t, s, call(t, s, "malloc", s.BVV(size, 64)).Value)
			if i > 0 {
				require.GreaterOrEqual(t, addr, prev+prevSize)
			}
			prev, prevSize = addr, size
		}
	})

	t.Run("Symbolic", func(t *testing.T) {
		s := newState(t, sim.DefaultConfig())
		size := s.BV("size", 8)
		s.AddConstraints(sim.NewBinaryExpr(sim.ULE, size, s.BVV(50, 8)))

		addr := simtest.MustEval(t, s, call(t, s, "malloc", size).Value)
		require.Equal(t, uint64(sim.DefaultHeapBase), addr)
		require.Equal(t, uint64(sim.DefaultHeapBase+50), s.Posix().HeapLocation)
	})

	t.Run("SymbolicClamped", func(t *testing.T) {
		s := newState(t, sim.DefaultConfig())
		size := s.BV("size", 8)
		s.AddConstraints(sim.NewBinaryExpr(sim.ULE, size, s.BVV(200, 8)))

		call(t, s, "malloc", size)
		require.Equal(t, uint64(sim.DefaultHeapBase+sim.DefaultMaxVariableSize), s.Posix().HeapLocation)
	})

	// Forks allocate from the heap mark they inherited and do not see each
	// other's allocations.
	t.Run("Forks", func(t *testing.T) {
		s := newState(t, sim.DefaultConfig())
		call(t, s, "malloc", s.BVV(32, 64))
		mark := s.Posix().HeapLocation

		a, b := s.Copy(), s.Copy()
		addrA := simtest.MustEval(t, a, call(t, a, "malloc", a.BVV(16, 64)).Value)
		addrB := simtest.MustEval(t, b, call(t, b, "malloc", b.BVV(16, 64)).Value)
		require.Equal(t, mark, addrA)
		require.Equal(t, mark, addrB)
		require.Equal(t, mark, s.Posix().HeapLocation)
	})
}

func TestRead(t *testing.T) {
	t.Run("Stdin", func(t *testing.T) {
		s := newState(t, sim.DefaultConfig())
		stdin, ok := s.Posix().File(0)
		require.True(t, ok)
		_, err := stdin.WriteAt(0, sim.NewBytesExpr([]byte("test")), nil)
		require.NoError(t, err)

		result := call(t, s, "read", s.BVV(0, 64), s.BVV(bufAddr, 64), s.BVV(4, 64))
		require.Equal(t, uint64(4), simtest.MustEval(t, s, result.Value))
		require.Equal(t, uint64(4), stdin.Pos())

		data, err := s.MemConcrete(s.BVV(bufAddr, 64), 4, sim.BigEndian)
		require.NoError(t, err)
		require.Equal(t, []byte("test"), data.Bytes())
	})

	t.Run("Sequential", func(t *testing.T) {
		s := newState(t, sim.DefaultConfig())
		stdin, _ := s.Posix().File(0)
		_, err := stdin.WriteAt(0, sim.NewBytesExpr([]byte("abcdef")), nil)
		require.NoError(t, err)

		call(t, s, "read", s.BVV(0, 64), s.BVV(bufAddr, 64), s.BVV(2, 64))
		call(t, s, "read", s.BVV(0, 64), s.BVV(bufAddr+2, 64), s.BVV(4, 64))
		require.Equal(t, uint64(6), stdin.Pos())

		data, err := s.MemConcrete(s.BVV(bufAddr, 64), 6, sim.BigEndian)
		require.NoError(t, err)
		require.Equal(t, []byte("abcdef"), data.Bytes())
	})

	t.Run("SymbolicContent", func(t *testing.T) {
		s := newState(t, sim.DefaultConfig())
		call(t, s, "read", s.BVV(0, 64), s.BVV(bufAddr, 64), s.BVV(1, 64))

		b, err := s.MemExpr(s.BVV(bufAddr, 64), 1, sim.BigEndian)
		require.NoError(t, err)
		require.True(t, sim.IsSymbolic(b))

		values, err := s.Solver().Eval(b, 3)
		require.NoError(t, err)
		require.Len(t, values, 3)
	})

	t.Run("SymbolicLengthClamped", func(t *testing.T) {
		config := sim.DefaultConfig()
		config.MaxLength = 8
		s := newState(t, config)
		count := s.BV("count", 8)
		s.AddConstraints(sim.NewBinaryExpr(sim.ULE, count, s.BVV(100, 8)))

		result := call(t, s, "read", s.BVV(0, 64), s.BVV(bufAddr, 64), count)
		require.True(t, sim.IsSymbolic(result.Value))

		stdin, _ := s.Posix().File(0)
		require.Equal(t, uint64(8), stdin.Pos())
	})

	t.Run("ErrBadDescriptor", func(t *testing.T) {
		s := newState(t, sim.DefaultConfig())
		require.NoError(t, s.PrepareCallsite(s.BVV(returnAddr, 64), s.BVV(7, 64), s.BVV(bufAddr, 64), s.BVV(1, 64)))

		_, err := procedures.Run(s, "read", &procedures.Read{})
		require.ErrorIs(t, err, sim.ErrBadDescriptor)
	})

	t.Run("ErrWriteOnly", func(t *testing.T) {
		s := newState(t, sim.DefaultConfig())
		require.NoError(t, s.PrepareCallsite(s.BVV(returnAddr, 64), s.BVV(1, 64), s.BVV(bufAddr, 64), s.BVV(1, 64)))

		_, err := procedures.Run(s, "read", &procedures.Read{})
		require.ErrorIs(t, err, sim.ErrBadDescriptor)
	})
}

func TestWrite(t *testing.T) {
	s := newState(t, sim.DefaultConfig())
	require.NoError(t, s.StoreMem(s.BVV(bufAddr, 64), sim.NewBytesExpr([]byte("hi!!")), sim.BigEndian))

	result := call(t, s, "write", s.BVV(1, 64), s.BVV(bufAddr, 64), s.BVV(4, 64))
	require.Equal(t, uint64(4), simtest.MustEval(t, s, result.Value))

	stdout, ok := s.Posix().File(1)
	require.True(t, ok)
	require.Equal(t, uint64(4), stdout.Pos())

	data, _, err := stdout.ReadAt(0, 4)
	require.NoError(t, err)
	require.Equal(t, sim.NewBytesExpr([]byte("hi!!")), data)
}

func TestRun(t *testing.T) {
	t.Run("Events", func(t *testing.T) {
		s := newState(t, sim.DefaultConfig())

		var before, after int
		bpBefore := sim.NewBreakpoint(sim.BPBefore, func(s *sim.State) { before++ })
		bpBefore.Attrs[sim.AttrFunctionName] = "malloc"
		bpAfter := sim.NewBreakpoint(sim.BPAfter, func(s *sim.State) { after++ })
		bpAfter.Attrs[sim.AttrFunctionName] = "malloc"
		s.Inspector().AddBreakpoint(sim.EventCall, bpBefore)
		s.Inspector().AddBreakpoint(sim.EventCall, bpAfter)

		call(t, s, "malloc", s.BVV(1, 64))
		call(t, s, "write", s.BVV(1, 64), s.BVV(bufAddr, 64), s.BVV(0, 64))
		require.Equal(t, 1, before)
		require.Equal(t, 1, after)
	})

	t.Run("ErrNoReturn", func(t *testing.T) {
		s := newState(t, sim.DefaultConfig())
		_, err := procedures.Run(s, "noop", procedures.ProcedureFunc(func(c *procedures.Call) error { return nil }))
		require.ErrorIs(t, err, procedures.ErrNoReturn)
	})

	t.Run("LinkRegister", func(t *testing.T) {
		s := simtest.NewState(t, sim.ARM)
		require.NoError(t, s.PrepareCallsite(s.BVV(0x8000, 32), s.BVV(24, 32)))

		result, err := procedures.Run(s, "malloc", &procedures.Malloc{})
		require.NoError(t, err)
		require.Equal(t, uint64(0x8000), simtest.MustEval(t, s, result.ReturnAddr))

		r0, err := s.RegConcrete("r0")
		require.NoError(t, err)
		require.Equal(t, uint64(sim.DefaultHeapBase), r0.Uint64())
	})

	t.Run("StackArgs", func(t *testing.T) {
		s := newState(t, sim.DefaultConfig())
		args := make([]sim.Expr, 8)
		for i := range args {
			args[i] = s.BVV(uint64(i+1)*10, 64)
		}
		require.NoError(t, s.PrepareCallsite(s.BVV(returnAddr, 64), args...))

		var got []uint64
		result, err := procedures.Run(s, "sum", procedures.ProcedureFunc(func(c *procedures.Call) error {
			var sum sim.Expr = c.State.BVV(0, 64)
			for i := range args {
				v, err := c.Arg(i)
				if err != nil {
					return err
				}
				got = append(got, simtest.MustEval(t, c.State, v))
				sum = sim.NewBinaryExpr(sim.ADD, sum, v)
			}
			return c.Return(sum)
		}))
		require.NoError(t, err)
		require.Equal(t, []uint64{10, 20, 30, 40, 50, 60, 70, 80}, got)
		require.Equal(t, uint64(360), simtest.MustEval(t, s, result.Value))
		require.Equal(t, uint64(returnAddr), simtest.MustEval(t, s, result.ReturnAddr))
	})
}

func TestNames(t *testing.T) {
	require.Equal(t, []string{"malloc", "read", "write"}, procedures.Names())
}
