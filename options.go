package sim

import (
	"sort"

	"github.com/pkg/errors"
)

// Option represents a behavior flag of a State.
type Option string

const (
	// Constraints are recorded in the solver engine. Without it they are
	// silently discarded.
	OptionTrackConstraints = Option("track_constraints")

	// Uninitialized memory reads as zero instead of fresh symbolic bytes.
	OptionZeroFillUnconstrained = Option("zero_fill_unconstrained_memory")

	// Symbolic addresses resolve to a single concrete address.
	OptionSingleAddressConcretization = Option("single_address_concretization")
)

// Options represents a set of options.
type Options map[Option]struct{}

// NewOptions returns a set containing opts.
func NewOptions(opts ...Option) Options {
	m := make(Options, len(opts))
	for _, opt := range opts {
		m[opt] = struct{}{}
	}
	return m
}

// Has returns true if opt is set.
func (m Options) Has(opt Option) bool {
	_, ok := m[opt]
	return ok
}

// Add sets opt.
func (m Options) Add(opt Option) { m[opt] = struct{}{} }

// Remove clears opt.
func (m Options) Remove(opt Option) { delete(m, opt) }

// Copy returns an independent copy of the set.
func (m Options) Copy() Options {
	other := make(Options, len(m))
	for opt := range m {
		other[opt] = struct{}{}
	}
	return other
}

// Slice returns the options in sorted order.
func (m Options) Slice() []Option {
	a := make([]Option, 0, len(m))
	for opt := range m {
		a = append(a, opt)
	}
	sort.Slice(a, func(i, j int) bool { return a[i] < a[j] })
	return a
}

// Mode represents an analysis mode. Each mode implies a default option set.
type Mode string

const (
	ModeSymbolic = Mode("symbolic")
	ModeStatic   = Mode("static")
	ModeConcrete = Mode("concrete")
)

// ParseMode returns the mode named by s.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeSymbolic, ModeStatic, ModeConcrete:
		return m, nil
	case "":
		return ModeSymbolic, nil
	default:
		return "", errors.Errorf("sim: unknown mode: %q", s)
	}
}

// DefaultOptions returns the default option set for mode.
func DefaultOptions(mode Mode) Options {
	switch mode {
	case ModeStatic:
		return NewOptions(OptionSingleAddressConcretization)
	case ModeConcrete:
		return NewOptions(OptionZeroFillUnconstrained, OptionSingleAddressConcretization)
	default:
		return NewOptions(OptionTrackConstraints)
	}
}
