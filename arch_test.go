package sim_test

import (
	"testing"

	"github.com/benbjohnson/sim"
	"github.com/google/go-cmp/cmp"
)

func TestArch_RegisterNames(t *testing.T) {
	// Aliases at a shared offset sort by name.
	if diff := cmp.Diff(sim.ARM.RegisterNames(), []string{
		"r0", "r1", "r2", "r3", "r4", "r5", "r6", "r7", "r8", "r9", "r10", "r11", "r12",
		"r13", "sp", "lr", "r14", "pc", "r15", "cpsr",
	}); diff != "" {
		t.Fatal(diff)
	}

	// Wider registers come first at a shared offset.
	if diff := cmp.Diff(sim.AMD64.RegisterNames()[:4], []string{"rax", "eax", "ax", "al"}); diff != "" {
		t.Fatal(diff)
	}
}

func TestArch_PointerSize(t *testing.T) {
	for _, tt := range []struct {
		arch *sim.Arch
		exp  uint
	}{
		{sim.AMD64, 8},
		{sim.X86, 4},
		{sim.ARM, 4},
		{sim.PPC32, 4},
	} {
		if got := tt.arch.PointerSize(); got != tt.exp {
			t.Fatalf("%s: got=%d, expected %d", tt.arch, got, tt.exp)
		}
	}
}

func TestArch_Registers(t *testing.T) {
	for _, arch := range sim.Architectures() {
		for _, name := range []string{arch.SP, arch.BP, arch.IP, arch.Convention.Return} {
			if _, ok := arch.Register(name); !ok {
				t.Fatalf("%s: missing register %q", arch, name)
			}
		}
		for _, name := range arch.Convention.Args {
			if reg, ok := arch.Register(name); !ok {
				t.Fatalf("%s: missing argument register %q", arch, name)
			} else if reg.Size != arch.PointerSize() {
				t.Fatalf("%s: %s: got=%d, expected %d", arch, name, reg.Size, arch.PointerSize())
			}
		}
	}
}

func TestArchitectures(t *testing.T) {
	m := sim.Architectures()
	if len(m) != 4 {
		t.Fatalf("got=%d, expected 4", len(m))
	} else if m["AMD64"] != sim.AMD64 {
		t.Fatal("expected AMD64")
	} else if m["PPC32"].MemoryEndness != sim.BigEndian {
		t.Fatal("expected big endian PPC32")
	}
}

func TestEndness_String(t *testing.T) {
	if got := sim.LittleEndian.String(); got != "LE" {
		t.Fatalf("got=%s, expected LE", got)
	} else if got := sim.BigEndian.String(); got != "BE" {
		t.Fatalf("got=%s, expected BE", got)
	}
}
