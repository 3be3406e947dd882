package sim_test

import (
	"errors"
	"testing"

	"github.com/benbjohnson/sim"
	"github.com/benbjohnson/sim/internal/simtest"
	"github.com/google/go-cmp/cmp"
)

// evalUnder evaluates expr with the merge selector bound to value. Expr must
// depend on no other symbolic value.
func evalUnder(tb testing.TB, flag sim.Expr, value byte, expr sim.Expr) uint64 {
	tb.Helper()
	arrays := sim.FindArrays(flag)
	if len(arrays) != 1 {
		tb.Fatalf("unexpected selector arrays: %s", simtest.Dump(arrays))
	}

	v, err := sim.NewExprEvaluator(arrays, [][]byte{{value}}).Evaluate(expr)
	if err != nil {
		tb.Fatal(err)
	}
	return v.Uint64()
}

// forkPair returns two forks of a state with a concrete stack pointer.
func forkPair(tb testing.TB) (*sim.State, *sim.State) {
	tb.Helper()
	s := simtest.NewState(tb, sim.AMD64)
	if err := s.SetReg("rsp", sim.NewConstantExpr64(0x1000)); err != nil {
		tb.Fatal(err)
	}
	s.Posix()
	s.Inspector()
	return s.Copy(), s.Copy()
}

func TestState_Merge(t *testing.T) {
	t.Run("TwoWay", func(t *testing.T) {
		a, b := forkPair(t)
		for _, tt := range []struct {
			s   *sim.State
			rax uint64
			mem uint64
		}{
			{a, 1, 0xaa},
			{b, 2, 0xbb},
		} {
			if err := tt.s.SetReg("rax", sim.NewConstantExpr64(tt.rax)); err != nil {
				t.Fatal(err)
			} else if err := tt.s.StoreMem(sim.NewConstantExpr64(0x10), sim.NewConstantExpr8(tt.mem), sim.BigEndian); err != nil {
				t.Fatal(err)
			}
		}

		merged, flag, err := a.Merge(b)
		if err != nil {
			t.Fatal(err)
		}

		if arrays := sim.FindArrays(flag); len(arrays) != 1 || arrays[0].Name != "state_merge_0" {
			t.Fatalf("unexpected selector: %s", flag)
		} else if w := sim.ExprWidth(flag); w != 1 {
			t.Fatalf("got=%d, expected 1", w)
		}

		rax, err := merged.Reg("rax")
		if err != nil {
			t.Fatal(err)
		}
		mem, err := merged.MemExpr(sim.NewConstantExpr64(0x10), 1, sim.BigEndian)
		if err != nil {
			t.Fatal(err)
		}

		if got := evalUnder(t, flag, 0, rax); got != 1 {
			t.Fatalf("rax: got=%d, expected 1", got)
		} else if got := evalUnder(t, flag, 1, rax); got != 2 {
			t.Fatalf("rax: got=%d, expected 2", got)
		} else if got := evalUnder(t, flag, 0, mem); got != 0xaa {
			t.Fatalf("mem: got=%#x, expected 0xaa", got)
		} else if got := evalUnder(t, flag, 1, mem); got != 0xbb {
			t.Fatalf("mem: got=%#x, expected 0xbb", got)
		}

		// Identical values are not joined.
		if v, err := merged.RegConcrete("rsp"); err != nil {
			t.Fatal(err)
		} else if v.Uint64() != 0x1000 {
			t.Fatalf("got=%#x, expected 0x1000", v.Uint64())
		}

		// Inputs are unchanged.
		if v, err := a.RegConcrete("rax"); err != nil {
			t.Fatal(err)
		} else if v.Uint64() != 1 {
			t.Fatalf("got=%d, expected 1", v.Uint64())
		}
	})

	t.Run("ThreeWay", func(t *testing.T) {
		a, b := forkPair(t)
		c := a.Copy()
		for i, s := range []*sim.State{a, b, c} {
			if err := s.SetReg("rax", sim.NewConstantExpr64(uint64(10+i))); err != nil {
				t.Fatal(err)
			}
		}

		merged, flag, err := a.Merge(b, c)
		if err != nil {
			t.Fatal(err)
		} else if w := sim.ExprWidth(flag); w != 2 {
			t.Fatalf("got=%d, expected 2", w)
		}

		rax, err := merged.Reg("rax")
		if err != nil {
			t.Fatal(err)
		}
		for i := 0; i < 3; i++ {
			if got := evalUnder(t, flag, byte(i), rax); got != uint64(10+i) {
				t.Fatalf("flag=%d: got=%d, expected %d", i, got, 10+i)
			}
		}

		// Selector values past the last participant are excluded.
		values, err := merged.Solver().Eval(flag, 4)
		if err != nil {
			t.Fatal(err)
		} else if len(values) != 3 {
			t.Fatalf("got=%d, expected 3", len(values))
		}
	})

	t.Run("Sequential", func(t *testing.T) {
		a, b := forkPair(t)
		_, first, err := a.Merge(b)
		if err != nil {
			t.Fatal(err)
		}
		_, second, err := a.Merge(b)
		if err != nil {
			t.Fatal(err)
		}

		if x, y := sim.FindArrays(first)[0], sim.FindArrays(second)[0]; x.Name != "state_merge_0" || y.Name != "state_merge_1" {
			t.Fatalf("unexpected selectors: %s, %s", x, y)
		}
	})

	t.Run("Constraints", func(t *testing.T) {
		a, b := forkPair(t)
		x := a.BV("x", 8)
		a.AddConstraints(sim.NewBinaryExpr(sim.EQ, x, sim.NewConstantExpr8(1)))
		b.AddConstraints(sim.NewBinaryExpr(sim.EQ, x, sim.NewConstantExpr8(2)))

		merged, flag, err := a.Merge(b)
		if err != nil {
			t.Fatal(err)
		}

		width := sim.ExprWidth(flag)
		if v, err := merged.Solver().Any(x, sim.NewBinaryExpr(sim.EQ, flag, sim.NewConstantExpr(1, width))); err != nil {
			t.Fatal(err)
		} else if v.Uint64() != 2 {
			t.Fatalf("got=%d, expected 2", v.Uint64())
		}
	})

	t.Run("Posix", func(t *testing.T) {
		a, b := forkPair(t)
		a.Posix().Allocate(16)
		b.Posix().Allocate(32)
		if _, err := a.Posix().Write(1, sim.NewConstantExpr8('x'), nil); err != nil {
			t.Fatal(err)
		} else if _, err := b.Posix().Write(1, sim.NewConstantExpr8('y'), nil); err != nil {
			t.Fatal(err)
		}

		merged, flag, err := a.Merge(b)
		if err != nil {
			t.Fatal(err)
		} else if got, exp := merged.Posix().HeapLocation, uint64(sim.DefaultHeapBase+32); got != exp {
			t.Fatalf("got=%#x, expected %#x", got, exp)
		}

		stdout, _ := merged.Posix().File(1)
		data, _, err := stdout.ReadAt(0, 1)
		if err != nil {
			t.Fatal(err)
		} else if got := evalUnder(t, flag, 0, data); got != 'x' {
			t.Fatalf("got=%c, expected x", got)
		} else if got := evalUnder(t, flag, 1, data); got != 'y' {
			t.Fatalf("got=%c, expected y", got)
		} else if stdout.Pos() != 1 {
			t.Fatalf("got=%d, expected 1", stdout.Pos())
		}
	})

	t.Run("Inspector", func(t *testing.T) {
		a, b := forkPair(t)
		bp := sim.NewBreakpoint(sim.BPBefore, nil)
		b.Inspector().AddBreakpoint(sim.EventExit, bp)

		merged, _, err := a.Merge(b)
		if err != nil {
			t.Fatal(err)
		} else if diff := cmp.Diff(len(merged.Inspector().Breakpoints(sim.EventExit)), 1); diff != "" {
			t.Fatal(diff)
		}
	})
}

func TestState_Merge_Errors(t *testing.T) {
	t.Run("ErrArchMismatch", func(t *testing.T) {
		session := simtest.NewSession(t)
		a, b := session.NewState(sim.AMD64), session.NewState(sim.X86)
		if _, _, err := a.Merge(b); !sim.IsMergeError(err) {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("ErrPluginSetMismatch", func(t *testing.T) {
		s := simtest.NewState(t, sim.AMD64)
		a, b := s.Copy(), s.Copy()
		b.Posix()
		if _, _, err := a.Merge(b); !sim.IsMergeError(err) {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("ErrFilePosition", func(t *testing.T) {
		a, b := forkPair(t)
		if err := a.SetReg("rax", sim.NewConstantExpr64(1)); err != nil {
			t.Fatal(err)
		} else if err := b.Posix().Seek(0, 3); err != nil {
			t.Fatal(err)
		}
		constraints := len(a.Solver().Constraints())

		merged, flag, err := a.Merge(b)
		if !sim.IsMergeError(err) {
			t.Fatalf("unexpected error: %v", err)
		} else if merged != nil || flag != nil {
			t.Fatal("expected no merged state")
		}

		// No participant is modified.
		if v, err := a.RegConcrete("rax"); err != nil {
			t.Fatal(err)
		} else if v.Uint64() != 1 {
			t.Fatalf("got=%d, expected 1", v.Uint64())
		} else if n := len(a.Solver().Constraints()); n != constraints {
			t.Fatalf("got=%d, expected %d", n, constraints)
		} else if f, _ := b.Posix().File(0); f.Pos() != 3 {
			t.Fatalf("got=%d, expected 3", f.Pos())
		}
	})

	t.Run("ErrFileTable", func(t *testing.T) {
		a, b := forkPair(t)
		if _, err := b.Posix().Open("x", sim.O_RDONLY); err != nil {
			t.Fatal(err)
		}
		if _, _, err := a.Merge(b); !sim.IsMergeError(err) {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("ErrNotImplemented", func(t *testing.T) {
		a, b := forkPair(t)
		a.RegisterPlugin("counter", &counter{})
		b.RegisterPlugin("counter", &counter{})
		if _, _, err := a.Merge(b); !errors.Is(err, sim.ErrNotImplemented) {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}
