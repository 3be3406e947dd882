package sim

import (
	"fmt"
	"sort"
)

// Endness represents the byte order of a value in a store.
type Endness int

const (
	BigEndian    = Endness(0)
	LittleEndian = Endness(1)
)

// String returns the name of the byte order.
func (e Endness) String() string {
	switch e {
	case BigEndian:
		return "BE"
	case LittleEndian:
		return "LE"
	default:
		return fmt.Sprintf("Endness<%d>", int(e))
	}
}

// Register represents the location of a register in the register file.
type Register struct {
	Offset uint // in bytes
	Size   uint // in bytes
}

// CallingConvention describes how arguments and return values are passed.
type CallingConvention struct {
	// Registers holding the leading arguments, in order.
	Args []string

	// Distance from the stack pointer, at function entry, to the first
	// argument passed on the stack.
	StackArgOffset uint

	// Register holding the return value.
	Return string

	// Register holding the return address. If empty, the return address is
	// pushed on the stack.
	Link string
}

// ArchOverrides holds replacements for the generic stack helpers of State.
// A nil entry uses the generic helper.
type ArchOverrides struct {
	StackPush       func(s *State, value Expr) error
	StackPop        func(s *State) (Expr, error)
	StackRead       func(s *State, offset Expr, length uint, bp bool) (Expr, error)
	PrepareCallsite func(s *State, ret Expr, args []Expr) error
}

// Arch describes a target architecture. Arch values are shared by every
// state that uses them and must not be modified after use.
type Arch struct {
	Name string
	Bits uint

	Registers map[string]Register

	// Register names of the stack, base and instruction pointers.
	SP string
	BP string
	IP string

	MemoryEndness   Endness
	RegisterEndness Endness
	StackGrowsDown  bool

	Convention CallingConvention
	Overrides  ArchOverrides
}

// PointerSize returns the size of a pointer, in bytes.
func (a *Arch) PointerSize() uint { return a.Bits / 8 }

// Register returns the location of the named register.
func (a *Arch) Register(name string) (Register, bool) {
	reg, ok := a.Registers[name]
	return reg, ok
}

// SPOffset returns the register file offset of the stack pointer.
func (a *Arch) SPOffset() uint { return a.mustRegister(a.SP).Offset }

// BPOffset returns the register file offset of the base pointer.
func (a *Arch) BPOffset() uint { return a.mustRegister(a.BP).Offset }

// RegisterNames returns the register names sorted by offset, then size
// descending, then name.
func (a *Arch) RegisterNames() []string {
	names := make([]string, 0, len(a.Registers))
	for name := range a.Registers {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		x, y := a.Registers[names[i]], a.Registers[names[j]]
		if x.Offset != y.Offset {
			return x.Offset < y.Offset
		} else if x.Size != y.Size {
			return x.Size > y.Size
		}
		return names[i] < names[j]
	})
	return names
}

// String returns the architecture name.
func (a *Arch) String() string { return a.Name }

func (a *Arch) mustRegister(name string) Register {
	reg, ok := a.Registers[name]
	assert(ok, "%s: register not found: %q", a.Name, name)
	return reg
}

// Architectures returns the built-in architecture descriptors by name.
func Architectures() map[string]*Arch {
	return map[string]*Arch{
		AMD64.Name: AMD64,
		X86.Name:   X86,
		ARM.Name:   ARM,
		PPC32.Name: PPC32,
	}
}

// AMD64 is the 64-bit x86 architecture with the System V calling convention.
var AMD64 = &Arch{
	Name:            "AMD64",
	Bits:            64,
	Registers:       amd64Registers(),
	SP:              "rsp",
	BP:              "rbp",
	IP:              "rip",
	MemoryEndness:   LittleEndian,
	RegisterEndness: LittleEndian,
	StackGrowsDown:  true,
	Convention: CallingConvention{
		Args:           []string{"rdi", "rsi", "rdx", "rcx", "r8", "r9"},
		StackArgOffset: 8,
		Return:         "rax",
	},
}

func amd64Registers() map[string]Register {
	m := make(map[string]Register)
	legacy := []string{"ax", "cx", "dx", "bx", "sp", "bp", "si", "di"}
	for i, name := range legacy {
		off := uint(i) * 8
		m["r"+name] = Register{Offset: off, Size: 8}
		m["e"+name] = Register{Offset: off, Size: 4}
		m[name] = Register{Offset: off, Size: 2}
	}
	for _, name := range []string{"ax", "cx", "dx", "bx"} {
		m[name[:1]+"l"] = Register{Offset: m[name].Offset, Size: 1}
	}
	for i := 8; i < 16; i++ {
		off := uint(i) * 8
		m[fmt.Sprintf("r%d", i)] = Register{Offset: off, Size: 8}
		m[fmt.Sprintf("r%dd", i)] = Register{Offset: off, Size: 4}
	}
	m["rip"] = Register{Offset: 128, Size: 8}
	m["rflags"] = Register{Offset: 136, Size: 8}
	for i := 0; i < 16; i++ {
		m[fmt.Sprintf("xmm%d", i)] = Register{Offset: 144 + uint(i)*32, Size: 16}
		m[fmt.Sprintf("ymm%d", i)] = Register{Offset: 144 + uint(i)*32, Size: 32}
	}
	return m
}

// X86 is the 32-bit x86 architecture with the cdecl calling convention.
var X86 = &Arch{
	Name:            "X86",
	Bits:            32,
	Registers:       x86Registers(),
	SP:              "esp",
	BP:              "ebp",
	IP:              "eip",
	MemoryEndness:   LittleEndian,
	RegisterEndness: LittleEndian,
	StackGrowsDown:  true,
	Convention: CallingConvention{
		StackArgOffset: 4,
		Return:         "eax",
	},
}

func x86Registers() map[string]Register {
	m := make(map[string]Register)
	for i, name := range []string{"ax", "cx", "dx", "bx", "sp", "bp", "si", "di"} {
		off := uint(i) * 4
		m["e"+name] = Register{Offset: off, Size: 4}
		m[name] = Register{Offset: off, Size: 2}
	}
	for _, name := range []string{"ax", "cx", "dx", "bx"} {
		m[name[:1]+"l"] = Register{Offset: m[name].Offset, Size: 1}
	}
	m["eip"] = Register{Offset: 32, Size: 4}
	m["eflags"] = Register{Offset: 36, Size: 4}
	return m
}

// ARM is the 32-bit ARM architecture with the AAPCS calling convention.
var ARM = &Arch{
	Name:            "ARM",
	Bits:            32,
	Registers:       armRegisters(),
	SP:              "sp",
	BP:              "r11",
	IP:              "pc",
	MemoryEndness:   LittleEndian,
	RegisterEndness: LittleEndian,
	StackGrowsDown:  true,
	Convention: CallingConvention{
		Args:   []string{"r0", "r1", "r2", "r3"},
		Return: "r0",
		Link:   "lr",
	},
}

func armRegisters() map[string]Register {
	m := make(map[string]Register)
	for i := 0; i < 16; i++ {
		m[fmt.Sprintf("r%d", i)] = Register{Offset: uint(i) * 4, Size: 4}
	}
	m["sp"] = m["r13"]
	m["lr"] = m["r14"]
	m["pc"] = m["r15"]
	m["cpsr"] = Register{Offset: 64, Size: 4}
	return m
}

// PPC32 is the 32-bit big-endian PowerPC architecture.
var PPC32 = &Arch{
	Name:            "PPC32",
	Bits:            32,
	Registers:       ppc32Registers(),
	SP:              "r1",
	BP:              "r31",
	IP:              "pc",
	MemoryEndness:   BigEndian,
	RegisterEndness: BigEndian,
	StackGrowsDown:  true,
	Convention: CallingConvention{
		Args:           []string{"r3", "r4", "r5", "r6", "r7", "r8", "r9", "r10"},
		StackArgOffset: 8,
		Return:         "r3",
		Link:           "lr",
	},
}

func ppc32Registers() map[string]Register {
	m := make(map[string]Register)
	for i := 0; i < 32; i++ {
		m[fmt.Sprintf("r%d", i)] = Register{Offset: uint(i) * 4, Size: 4}
	}
	m["sp"] = m["r1"]
	m["pc"] = Register{Offset: 128, Size: 4}
	m["lr"] = Register{Offset: 132, Size: 4}
	m["ctr"] = Register{Offset: 136, Size: 4}
	m["cr"] = Register{Offset: 140, Size: 4}
	return m
}
