package sim_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/benbjohnson/sim"
	"github.com/benbjohnson/sim/internal/simtest"
	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
)

func TestParseConfig(t *testing.T) {
	t.Run("Empty", func(t *testing.T) {
		config, err := sim.ParseConfig(nil)
		if err != nil {
			t.Fatal(err)
		} else if diff := cmp.Diff(config, sim.DefaultConfig()); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("OK", func(t *testing.T) {
		config, err := sim.ParseConfig([]byte(`
mode: static
options:
  - zero_fill_unconstrained_memory
heap-base: 0x10000
max-length: 64
max-variable-size: 32
address-limit: 2
`))
		if err != nil {
			t.Fatal(err)
		} else if diff := cmp.Diff(config, sim.Config{
			Mode:            sim.ModeStatic,
			Options:         []sim.Option{sim.OptionZeroFillUnconstrained},
			HeapBase:        0x10000,
			MaxLength:       64,
			MaxVariableSize: 32,
			AddressLimit:    2,
		}); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("ErrUnknownMode", func(t *testing.T) {
		if _, err := sim.ParseConfig([]byte("mode: fast\n")); err == nil || err.Error() != `sim: unknown mode: "fast"` {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("ErrUnknownOption", func(t *testing.T) {
		if _, err := sim.ParseConfig([]byte("options: [lazy]\n")); err == nil || err.Error() != `sim: unknown option: "lazy"` {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("ErrAddressLimit", func(t *testing.T) {
		if _, err := sim.ParseConfig([]byte("address-limit: 0\n")); err == nil || err.Error() != `sim: address limit must be positive: 0` {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("ErrSyntax", func(t *testing.T) {
		if _, err := sim.ParseConfig([]byte("mode: [")); err == nil || !strings.HasPrefix(err.Error(), "parse config: ") {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestLoadConfig(t *testing.T) {
	t.Run("OK", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "sim.yaml")
		if err := os.WriteFile(path, []byte("max-length: 12\n"), 0666); err != nil {
			t.Fatal(err)
		}

		config, err := sim.LoadConfig(path)
		if err != nil {
			t.Fatal(err)
		} else if config.MaxLength != 12 {
			t.Fatalf("got=%d, expected 12", config.MaxLength)
		} else if config.HeapBase != sim.DefaultHeapBase {
			t.Fatalf("got=%#x, expected %#x", config.HeapBase, sim.DefaultHeapBase)
		}
	})

	t.Run("ErrNotExist", func(t *testing.T) {
		if _, err := sim.LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); !os.IsNotExist(errors.Cause(err)) {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestParseMode(t *testing.T) {
	for _, tt := range []struct {
		s   string
		exp sim.Mode
	}{
		{"", sim.ModeSymbolic},
		{"symbolic", sim.ModeSymbolic},
		{"static", sim.ModeStatic},
		{"concrete", sim.ModeConcrete},
	} {
		if got, err := sim.ParseMode(tt.s); err != nil {
			t.Fatal(err)
		} else if got != tt.exp {
			t.Fatalf("%q: got=%s, expected %s", tt.s, got, tt.exp)
		}
	}

	if _, err := sim.ParseMode("Symbolic"); err == nil {
		t.Fatal("expected error")
	}
}

func TestDefaultOptions(t *testing.T) {
	for _, tt := range []struct {
		mode sim.Mode
		exp  []sim.Option
	}{
		{sim.ModeSymbolic, []sim.Option{sim.OptionTrackConstraints}},
		{sim.ModeStatic, []sim.Option{sim.OptionSingleAddressConcretization}},
		{sim.ModeConcrete, []sim.Option{sim.OptionSingleAddressConcretization, sim.OptionZeroFillUnconstrained}},
	} {
		if diff := cmp.Diff(sim.DefaultOptions(tt.mode).Slice(), tt.exp); diff != "" {
			t.Fatalf("%s: %s", tt.mode, diff)
		}
	}
}

func TestOptions(t *testing.T) {
	opts := sim.NewOptions(sim.OptionTrackConstraints)
	other := opts.Copy()
	other.Add(sim.OptionZeroFillUnconstrained)
	other.Remove(sim.OptionTrackConstraints)

	if !opts.Has(sim.OptionTrackConstraints) {
		t.Fatal("expected option")
	} else if opts.Has(sim.OptionZeroFillUnconstrained) {
		t.Fatal("unexpected option")
	} else if diff := cmp.Diff(other.Slice(), []sim.Option{sim.OptionZeroFillUnconstrained}); diff != "" {
		t.Fatal(diff)
	}
}

func TestSession_Config(t *testing.T) {
	t.Run("Concrete", func(t *testing.T) {
		config := sim.DefaultConfig()
		config.Mode = sim.ModeConcrete
		s := simtest.NewSessionWithConfig(t, config).NewState(sim.AMD64)

		if s.Mode() != sim.ModeConcrete {
			t.Fatalf("got=%s, expected %s", s.Mode(), sim.ModeConcrete)
		} else if v, err := s.RegConcrete("rax"); err != nil {
			t.Fatal(err)
		} else if !v.IsZero() {
			t.Fatalf("expected zero: %s", v)
		}

		// Constraints are not tracked in concrete mode.
		s.AddConstraints(sim.NewBinaryExpr(sim.EQ, s.BV("x", 8), sim.NewConstantExpr8(1)))
		if n := len(s.Solver().Constraints()); n != 0 {
			t.Fatalf("got=%d, expected 0", n)
		}
	})

	t.Run("Options", func(t *testing.T) {
		config := sim.DefaultConfig()
		config.Options = []sim.Option{sim.OptionZeroFillUnconstrained}
		s := simtest.NewSessionWithConfig(t, config).NewState(sim.AMD64)

		if diff := cmp.Diff(s.Options.Slice(), []sim.Option{sim.OptionTrackConstraints, sim.OptionZeroFillUnconstrained}); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("HeapBase", func(t *testing.T) {
		config := sim.DefaultConfig()
		config.HeapBase = 0x1000
		s := simtest.NewSessionWithConfig(t, config).NewState(sim.AMD64)
		if addr := s.Posix().Allocate(1); addr != 0x1000 {
			t.Fatalf("got=%#x, expected 0x1000", addr)
		}
	})
}
