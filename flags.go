package sim

import (
	"strings"
)

// Flags represents the mode of an open file, encoded with the bit values
// used by the analyzed programs.
type Flags int

// Open flags.
const (
	O_RDONLY    = Flags(0)
	O_WRONLY    = Flags(1)
	O_RDWR      = Flags(2)
	O_ACCMODE   = Flags(3)
	O_ASYNC     = Flags(64)
	O_CREAT     = Flags(256)
	O_CLOEXEC   = Flags(512)
	O_NOCTTY    = Flags(1024)
	O_EXCL      = Flags(2048)
	O_APPEND    = Flags(4096)
	O_NONBLOCK  = Flags(8192)
	O_NDELAY    = O_NONBLOCK
	// O_TRUNC sits on a bit unused by the rest of this table. It is not
	// taken from a platform header; the bit was chosen only so the value
	// collides with no other flag here, O_NOCTTY included.
	O_TRUNC     = Flags(16384)
	O_DIRECT    = Flags(262144)
	O_LARGEFILE = Flags(1048576)
	O_DIRECTORY = Flags(2097152)
	O_NOFOLLOW  = Flags(4194304)
	O_NOATIME   = Flags(16777216)
	O_SYNC      = Flags(67174400)
)

var flagNames = []struct {
	flag Flags
	name string
}{
	{O_ASYNC, "O_ASYNC"},
	{O_CREAT, "O_CREAT"},
	{O_CLOEXEC, "O_CLOEXEC"},
	{O_NOCTTY, "O_NOCTTY"},
	{O_EXCL, "O_EXCL"},
	{O_APPEND, "O_APPEND"},
	{O_NONBLOCK, "O_NONBLOCK"},
	{O_TRUNC, "O_TRUNC"},
	{O_DIRECT, "O_DIRECT"},
	{O_LARGEFILE, "O_LARGEFILE"},
	{O_DIRECTORY, "O_DIRECTORY"},
	{O_NOFOLLOW, "O_NOFOLLOW"},
	{O_NOATIME, "O_NOATIME"},
	{O_SYNC, "O_SYNC"},
}

// Access returns the access mode bits.
func (f Flags) Access() Flags { return f & O_ACCMODE }

// Readable returns true if the access mode permits reading.
func (f Flags) Readable() bool { return f.Access() == O_RDONLY || f.Access() == O_RDWR }

// Writable returns true if the access mode permits writing.
func (f Flags) Writable() bool { return f.Access() == O_WRONLY || f.Access() == O_RDWR }

// Has returns true if every bit in other is set.
func (f Flags) Has(other Flags) bool { return f&other == other }

// String returns the flags joined by "|".
func (f Flags) String() string {
	var a []string
	switch f.Access() {
	case O_WRONLY:
		a = append(a, "O_WRONLY")
	case O_RDWR:
		a = append(a, "O_RDWR")
	default:
		a = append(a, "O_RDONLY")
	}

	for _, fn := range flagNames {
		if f.Has(fn.flag) {
			a = append(a, fn.name)
		}
	}
	return strings.Join(a, "|")
}

// ParseFlags parses an fopen-style mode string such as "r", "w+" or "ab".
func ParseFlags(mode string) (Flags, bool) {
	mode = strings.Replace(mode, "b", "", -1)
	switch mode {
	case "r":
		return O_RDONLY, true
	case "r+":
		return O_RDWR, true
	case "w":
		return O_WRONLY | O_CREAT | O_TRUNC, true
	case "w+":
		return O_RDWR | O_CREAT | O_TRUNC, true
	case "a":
		return O_WRONLY | O_CREAT | O_APPEND, true
	case "a+":
		return O_RDWR | O_CREAT | O_APPEND, true
	default:
		return 0, false
	}
}
