package procedures

import (
	"github.com/benbjohnson/sim"
	"github.com/pkg/errors"
)

// Write models write(fd, buf, count). The bytes at buf are written at the
// current position of the file. The call always returns count.
type Write struct{}

// Run writes memory to the file. A symbolic count writes its maximum,
// clamped to the configured maximum length.
func (*Write) Run(c *Call) error {
	fdArg, err := c.Arg(0)
	if err != nil {
		return err
	}
	src, err := c.Arg(1)
	if err != nil {
		return err
	}
	count, err := c.Arg(2)
	if err != nil {
		return err
	}

	fd, err := c.State.ForceConcrete(fdArg)
	if err != nil {
		return errors.Wrap(err, "write: fd")
	}

	posix := c.State.Posix()
	n, err := concreteLength(c.State, count, posix.MaxLength)
	if err != nil {
		return errors.Wrap(err, "write: count")
	} else if n == 0 {
		return c.Return(count)
	}

	data, err := c.State.MemExpr(src, uint(n), sim.BigEndian)
	if err != nil {
		return errors.Wrap(err, "write: load")
	}

	constraints, err := posix.Write(int(fd.Uint64()), data, nil)
	if err != nil {
		return errors.Wrap(err, "write")
	}
	c.State.AddConstraints(constraints...)
	return c.Return(count)
}
