package procedures

import (
	"github.com/benbjohnson/sim"
	"github.com/pkg/errors"
)

// Malloc models malloc(size). Memory is taken from the heap mark of the
// file table plugin and is never reused.
type Malloc struct{}

// Run allocates the requested size. A symbolic size allocates its maximum,
// clamped to the configured maximum variable size.
func (*Malloc) Run(c *Call) error {
	size, err := c.Arg(0)
	if err != nil {
		return err
	}

	posix := c.State.Posix()

	var n uint64
	if sim.IsSymbolic(size) {
		if n, err = concreteLength(c.State, size, posix.MaxVariableSize); err != nil {
			return errors.Wrap(err, "malloc: size")
		}
	} else {
		v, err := c.State.Solver().Any(size)
		if err != nil {
			return errors.Wrap(err, "malloc: size")
		}
		n = v.Uint64() * sim.AddressUnit
	}

	addr := posix.Allocate(n)
	c.State.Logger().WithField("addr", addr).WithField("size", n).Debug("[alloc] malloc")
	return c.Return(sim.NewConstantExpr(addr, c.State.Arch().Bits))
}
