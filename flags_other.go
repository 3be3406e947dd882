//go:build !linux

package sim

import (
	"os"
)

var hostFlags = []struct {
	host int
	flag Flags
}{
	{os.O_CREATE, O_CREAT},
	{os.O_EXCL, O_EXCL},
	{os.O_APPEND, O_APPEND},
	{os.O_TRUNC, O_TRUNC},
	{os.O_SYNC, O_SYNC},
}

// HostFlags translates open(2) flags of the running host into Flags.
func HostFlags(flags int) Flags {
	var f Flags
	switch {
	case flags&os.O_RDWR == os.O_RDWR:
		f = O_RDWR
	case flags&os.O_WRONLY == os.O_WRONLY:
		f = O_WRONLY
	}
	for _, hf := range hostFlags {
		if flags&hf.host == hf.host {
			f |= hf.flag
		}
	}
	return f
}
