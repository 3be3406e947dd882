package procedures

import (
	"github.com/benbjohnson/sim"
	"github.com/pkg/errors"
)

// Read models read(fd, buf, count). The bytes come from the current
// position of the file, which advances past them. Partial reads, end of file
// and error returns are not modeled: the call always returns count.
type Read struct{}

// Run reads from the file into memory. A symbolic count reads its maximum,
// clamped to the configured maximum length.
func (*Read) Run(c *Call) error {
	fdArg, err := c.Arg(0)
	if err != nil {
		return err
	}
	dst, err := c.Arg(1)
	if err != nil {
		return err
	}
	count, err := c.Arg(2)
	if err != nil {
		return err
	}

	// The descriptor indexes the file table so it must be concrete.
	fd, err := c.State.ForceConcrete(fdArg)
	if err != nil {
		return errors.Wrap(err, "read: fd")
	}

	posix := c.State.Posix()
	n, err := concreteLength(c.State, count, posix.MaxLength)
	if err != nil {
		return errors.Wrap(err, "read: count")
	}

	data, constraints, err := posix.Read(int(fd.Uint64()), uint(n))
	if err != nil {
		return errors.Wrap(err, "read")
	}
	c.State.AddConstraints(constraints...)

	if data != nil {
		if err := c.State.StoreMem(dst, data, sim.BigEndian); err != nil {
			return errors.Wrap(err, "read: store")
		}
	}
	return c.Return(count)
}
