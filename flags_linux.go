package sim

import (
	"golang.org/x/sys/unix"
)

var hostFlags = []struct {
	host int
	flag Flags
}{
	{unix.O_ASYNC, O_ASYNC},
	{unix.O_CREAT, O_CREAT},
	{unix.O_CLOEXEC, O_CLOEXEC},
	{unix.O_NOCTTY, O_NOCTTY},
	{unix.O_EXCL, O_EXCL},
	{unix.O_APPEND, O_APPEND},
	{unix.O_NONBLOCK, O_NONBLOCK},
	{unix.O_TRUNC, O_TRUNC},
	{unix.O_DIRECT, O_DIRECT},
	{unix.O_LARGEFILE, O_LARGEFILE},
	{unix.O_DIRECTORY, O_DIRECTORY},
	{unix.O_NOFOLLOW, O_NOFOLLOW},
	{unix.O_NOATIME, O_NOATIME},
	{unix.O_SYNC, O_SYNC},
}

// HostFlags translates open(2) flags of the running host into Flags.
func HostFlags(flags int) Flags {
	var f Flags
	switch flags & unix.O_ACCMODE {
	case unix.O_WRONLY:
		f = O_WRONLY
	case unix.O_RDWR:
		f = O_RDWR
	}
	for _, hf := range hostFlags {
		if hf.host != 0 && flags&hf.host == hf.host {
			f |= hf.flag
		}
	}
	return f
}
