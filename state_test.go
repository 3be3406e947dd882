package sim_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/benbjohnson/sim"
	"github.com/benbjohnson/sim/internal/simtest"
	"github.com/google/go-cmp/cmp"
)

// counter is a test plugin holding a single integer.
type counter struct {
	sim.BasePlugin
	n int
}

func (c *counter) Copy() sim.Plugin { return &counter{n: c.n} }

func TestState_Plugins(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		s := simtest.NewState(t, sim.AMD64)
		if diff := cmp.Diff(s.PluginNames(), []sim.PluginName{sim.PluginMemory, sim.PluginRegisters, sim.PluginSolver}); diff != "" {
			t.Fatal(diff)
		}

		// Other plugins are created on first access.
		if s.HasPlugin(sim.PluginPosix) {
			t.Fatal("unexpected posix plugin")
		} else if s.Posix() == nil {
			t.Fatal("expected posix plugin")
		} else if !s.HasPlugin(sim.PluginPosix) {
			t.Fatal("expected posix plugin")
		} else if s.Posix().State() != s {
			t.Fatal("expected bound plugin")
		}
	})

	t.Run("Register", func(t *testing.T) {
		s := simtest.NewState(t, sim.AMD64)
		c := &counter{n: 1}
		s.RegisterPlugin("counter", c)

		if s.Plugin("counter") != c {
			t.Fatal("unexpected plugin")
		} else if c.State() != s {
			t.Fatal("expected bound plugin")
		}

		s.ReleasePlugin("counter")
		if s.HasPlugin("counter") {
			t.Fatal("unexpected plugin")
		}
	})

	t.Run("SessionDefault", func(t *testing.T) {
		session := simtest.NewSession(t)
		session.RegisterDefault("counter", func() sim.Plugin { return &counter{n: 7} })

		s := session.NewState(sim.AMD64)
		if c := s.Plugin("counter").(*counter); c.n != 7 {
			t.Fatalf("got=%d, expected 7", c.n)
		}
	})

	t.Run("ErrNoDefault", func(t *testing.T) {
		s := simtest.NewState(t, sim.AMD64)
		defer func() {
			if r := recover(); r == nil {
				t.Fatal("expected panic")
			}
		}()
		s.Plugin("missing")
	})
}

func TestState_Temps(t *testing.T) {
	s := simtest.NewState(t, sim.AMD64)

	if _, err := s.Tmp(1); !errors.Is(err, sim.ErrTmpNotFound) {
		t.Fatalf("unexpected error: %v", err)
	}

	x := s.BV("x", 8)
	s.StoreTmp(1, x)
	if v, err := s.Tmp(1); err != nil {
		t.Fatal(err)
	} else if diff := cmp.Diff(v, x); diff != "" {
		t.Fatal(diff)
	}

	// A second store constrains the temp instead of replacing it.
	s.StoreTmp(1, sim.NewConstantExpr8(5))
	if v, err := s.Tmp(1); err != nil {
		t.Fatal(err)
	} else if got := simtest.MustEval(t, s, v); got != 5 {
		t.Fatalf("got=%d, expected 5", got)
	}

	s.ClearTemps()
	if _, err := s.Tmp(1); !errors.Is(err, sim.ErrTmpNotFound) {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestState_Registers(t *testing.T) {
	t.Run("LittleEndian", func(t *testing.T) {
		s := simtest.NewState(t, sim.AMD64)
		if err := s.SetReg("rax", sim.NewConstantExpr64(0x1122334455667788)); err != nil {
			t.Fatal(err)
		}

		for _, tt := range []struct {
			name string
			exp  uint64
		}{
			{"rax", 0x1122334455667788},
			{"eax", 0x55667788},
			{"ax", 0x7788},
			{"al", 0x88},
		} {
			if v, err := s.RegConcrete(tt.name); err != nil {
				t.Fatal(err)
			} else if v.Uint64() != tt.exp {
				t.Fatalf("%s: got=%#x, expected %#x", tt.name, v.Uint64(), tt.exp)
			}
		}

		// Writes to a narrower register only touch its bytes.
		if err := s.SetReg("eax", sim.NewConstantExpr32(0xaabbccdd)); err != nil {
			t.Fatal(err)
		} else if v, err := s.RegConcrete("rax"); err != nil {
			t.Fatal(err)
		} else if v.Uint64() != 0x11223344aabbccdd {
			t.Fatalf("got=%#x, expected 0x11223344aabbccdd", v.Uint64())
		}
	})

	t.Run("BigEndian", func(t *testing.T) {
		s := simtest.NewState(t, sim.PPC32)
		if err := s.SetReg("r3", sim.NewConstantExpr32(0x11223344)); err != nil {
			t.Fatal(err)
		} else if v, err := s.RegConcrete("r3"); err != nil {
			t.Fatal(err)
		} else if v.Uint64() != 0x11223344 {
			t.Fatalf("got=%#x, expected 0x11223344", v.Uint64())
		}

		// The most significant byte is at the register offset.
		r3, _ := sim.PPC32.Register("r3")
		if v, err := s.RegExpr(r3.Offset, 1); err != nil {
			t.Fatal(err)
		} else if diff := cmp.Diff(v, sim.Expr(sim.NewConstantExpr8(0x11))); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("Truncate", func(t *testing.T) {
		s := simtest.NewState(t, sim.X86)
		if err := s.SetReg("eax", sim.NewConstantExpr64(0x1122334455667788)); err != nil {
			t.Fatal(err)
		} else if v, err := s.RegConcrete("eax"); err != nil {
			t.Fatal(err)
		} else if v.Uint64() != 0x55667788 {
			t.Fatalf("got=%#x, expected 0x55667788", v.Uint64())
		}
	})

	t.Run("ErrRegisterNotFound", func(t *testing.T) {
		s := simtest.NewState(t, sim.AMD64)
		if _, err := s.Reg("xyz"); !errors.Is(err, sim.ErrRegisterNotFound) {
			t.Fatalf("unexpected error: %v", err)
		} else if err := s.SetReg("xyz", sim.NewConstantExpr64(0)); !errors.Is(err, sim.ErrRegisterNotFound) {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("ErrSymbolic", func(t *testing.T) {
		s := simtest.NewState(t, sim.AMD64)
		if _, err := s.RegConcrete("rbx"); !sim.IsSymbolicValueError(err) {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestState_ForceConcrete(t *testing.T) {
	s := simtest.NewState(t, sim.AMD64)
	x := s.BV("x", 8)
	s.AddConstraints(sim.NewBinaryExpr(sim.ULT, x, sim.NewConstantExpr8(3)))

	v, err := s.ForceConcrete(x)
	if err != nil {
		t.Fatal(err)
	} else if v.Uint64() >= 3 {
		t.Fatalf("unexpected value: %d", v.Uint64())
	}

	// The path is constrained to the chosen value.
	if got := simtest.MustEval(t, s, x); got != v.Uint64() {
		t.Fatalf("got=%d, expected %d", got, v.Uint64())
	}
}

func TestState_Stack(t *testing.T) {
	t.Run("PushPop", func(t *testing.T) {
		s := simtest.NewState(t, sim.AMD64)
		if err := s.SetReg("rsp", sim.NewConstantExpr64(0x1000)); err != nil {
			t.Fatal(err)
		} else if err := s.StackPush(sim.NewConstantExpr32(0xdeadbeef)); err != nil {
			t.Fatal(err)
		}

		if v, err := s.RegConcrete("rsp"); err != nil {
			t.Fatal(err)
		} else if v.Uint64() != 0xff8 {
			t.Fatalf("got=%#x, expected 0xff8", v.Uint64())
		} else if v, err := s.MemConcrete(sim.NewConstantExpr64(0xff8), 8, sim.LittleEndian); err != nil {
			t.Fatal(err)
		} else if v.Uint64() != 0xdeadbeef {
			t.Fatalf("got=%#x, expected 0xdeadbeef", v.Uint64())
		}

		if v, err := s.StackRead(sim.NewConstantExpr64(0), 8, false); err != nil {
			t.Fatal(err)
		} else if diff := cmp.Diff(v, sim.Expr(sim.NewConstantExpr64(0xdeadbeef))); diff != "" {
			t.Fatal(diff)
		}

		if v, err := s.StackPop(); err != nil {
			t.Fatal(err)
		} else if diff := cmp.Diff(v, sim.Expr(sim.NewConstantExpr64(0xdeadbeef))); diff != "" {
			t.Fatal(diff)
		} else if v, err := s.RegConcrete("rsp"); err != nil {
			t.Fatal(err)
		} else if v.Uint64() != 0x1000 {
			t.Fatalf("got=%#x, expected 0x1000", v.Uint64())
		}
	})

	t.Run("BasePointer", func(t *testing.T) {
		s := simtest.NewState(t, sim.X86)
		if err := s.SetReg("ebp", sim.NewConstantExpr32(0x2000)); err != nil {
			t.Fatal(err)
		} else if err := s.StoreMem(sim.NewConstantExpr32(0x2004), sim.NewConstantExpr32(0x01020304), sim.LittleEndian); err != nil {
			t.Fatal(err)
		} else if v, err := s.StackRead(sim.NewConstantExpr32(4), 4, true); err != nil {
			t.Fatal(err)
		} else if diff := cmp.Diff(v, sim.Expr(sim.NewConstantExpr32(0x01020304))); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("Overrides", func(t *testing.T) {
		arch := *sim.AMD64
		var pushed []sim.Expr
		arch.Overrides.StackPush = func(s *sim.State, value sim.Expr) error {
			pushed = append(pushed, value)
			return nil
		}

		s := simtest.NewState(t, &arch)
		if err := s.StackPush(sim.NewConstantExpr64(1)); err != nil {
			t.Fatal(err)
		} else if diff := cmp.Diff(pushed, []sim.Expr{sim.NewConstantExpr64(1)}); diff != "" {
			t.Fatal(diff)
		} else if s.Memory().Len() != 0 {
			t.Fatalf("unexpected memory writes: %d", s.Memory().Len())
		}
	})
}

func TestState_PrepareCallsite(t *testing.T) {
	t.Run("Stack", func(t *testing.T) {
		s := simtest.NewState(t, sim.X86)
		if err := s.SetReg("esp", sim.NewConstantExpr32(0x1000)); err != nil {
			t.Fatal(err)
		} else if err := s.PrepareCallsite(sim.NewConstantExpr32(0x400), sim.NewConstantExpr32(1), sim.NewConstantExpr32(2)); err != nil {
			t.Fatal(err)
		}

		if v, err := s.RegConcrete("esp"); err != nil {
			t.Fatal(err)
		} else if v.Uint64() != 0xff4 {
			t.Fatalf("got=%#x, expected 0xff4", v.Uint64())
		}

		for i, exp := range []uint64{1, 2} {
			if v, err := s.CallArg(i); err != nil {
				t.Fatal(err)
			} else if got := simtest.MustEval(t, s, v); got != exp {
				t.Fatalf("arg %d: got=%d, expected %d", i, got, exp)
			}
		}

		if v, err := s.StackPop(); err != nil {
			t.Fatal(err)
		} else if got := simtest.MustEval(t, s, v); got != 0x400 {
			t.Fatalf("got=%#x, expected 0x400", got)
		}
	})

	t.Run("Link", func(t *testing.T) {
		s := simtest.NewState(t, sim.ARM)
		if err := s.PrepareCallsite(sim.NewConstantExpr32(0x8000), sim.NewConstantExpr32(5)); err != nil {
			t.Fatal(err)
		} else if v, err := s.RegConcrete("lr"); err != nil {
			t.Fatal(err)
		} else if v.Uint64() != 0x8000 {
			t.Fatalf("got=%#x, expected 0x8000", v.Uint64())
		} else if v, err := s.CallArg(0); err != nil {
			t.Fatal(err)
		} else if got := simtest.MustEval(t, s, v); got != 5 {
			t.Fatalf("got=%d, expected 5", got)
		}
	})
}

func TestState_DumpStack(t *testing.T) {
	t.Run("OK", func(t *testing.T) {
		s := simtest.NewState(t, sim.AMD64)
		if err := s.SetReg("rsp", sim.NewConstantExpr64(0x1000)); err != nil {
			t.Fatal(err)
		} else if err := s.SetReg("rbp", sim.NewConstantExpr64(0x1010)); err != nil {
			t.Fatal(err)
		}
		for i, v := range []uint64{1, 2, 3} {
			if err := s.StoreMem(sim.NewConstantExpr64(0x1000+uint64(i)*8), sim.NewConstantExpr64(v), sim.LittleEndian); err != nil {
				t.Fatal(err)
			}
		}

		got, err := s.DumpStack(0)
		if err != nil {
			t.Fatal(err)
		}
		exp := "SP = 0x00001000, BP = 0x00001010\n" +
			"(sp)            1000 | 0x00000001\n" +
			"                1008 | 0x00000002\n" +
			"(bp)            1010 | 0x00000003\n"
		if got != exp {
			t.Fatalf("got=%q, expected %q", got, exp)
		}
	})

	t.Run("Symbolic", func(t *testing.T) {
		s := simtest.NewState(t, sim.AMD64)
		if got, err := s.DumpStack(1); err != nil {
			t.Fatal(err)
		} else if got != "SP is SYMBOLIC\n" {
			t.Fatalf("unexpected output: %q", got)
		}
	})
}

func TestState_Dump(t *testing.T) {
	s := simtest.NewState(t, sim.AMD64)
	s.StoreTmp(3, sim.NewConstantExpr8(9))
	if err := s.StoreMem(sim.NewConstantExpr64(0x20), sim.NewConstantExpr8(0xff), sim.BigEndian); err != nil {
		t.Fatal(err)
	}
	s.Posix()

	got := s.Dump()
	for _, exp := range []string{
		"state 1 (AMD64, symbolic)\n",
		"temps:\nt3 = (const 9 8)\n",
		"memory:\n0000000000000020 (const 255 8)\n",
		"files:\nheap=0xc0000000\n",
		"constraints:\n",
	} {
		if !strings.Contains(got, exp) {
			t.Fatalf("expected %q in:\n%s", exp, got)
		}
	}
}

func TestState_Copy(t *testing.T) {
	s := simtest.NewState(t, sim.AMD64)
	if err := s.SetReg("rax", sim.NewConstantExpr64(1)); err != nil {
		t.Fatal(err)
	} else if err := s.StoreMem(sim.NewConstantExpr64(0x10), sim.NewConstantExpr8(1), sim.BigEndian); err != nil {
		t.Fatal(err)
	}
	s.StoreTmp(0, sim.NewConstantExpr8(1))

	other := s.Copy()
	if other.ID() == s.ID() {
		t.Fatal("expected new id")
	} else if err := other.SetReg("rax", sim.NewConstantExpr64(2)); err != nil {
		t.Fatal(err)
	} else if err := other.StoreMem(sim.NewConstantExpr64(0x10), sim.NewConstantExpr8(2), sim.BigEndian); err != nil {
		t.Fatal(err)
	}
	other.Options.Add(sim.OptionZeroFillUnconstrained)
	other.ClearTemps()

	if v, err := s.RegConcrete("rax"); err != nil {
		t.Fatal(err)
	} else if v.Uint64() != 1 {
		t.Fatalf("got=%d, expected 1", v.Uint64())
	} else if v, err := s.MemConcrete(sim.NewConstantExpr64(0x10), 1, sim.BigEndian); err != nil {
		t.Fatal(err)
	} else if v.Uint64() != 1 {
		t.Fatalf("got=%d, expected 1", v.Uint64())
	} else if s.HasOption(sim.OptionZeroFillUnconstrained) {
		t.Fatal("unexpected option")
	} else if _, err := s.Tmp(0); err != nil {
		t.Fatal(err)
	}

	// Plugins of the copy are bound to the copy.
	if other.Memory().State() != other {
		t.Fatal("expected memory bound to copy")
	}
}
