package sim

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/pkg/errors"
)

// MaxOpenFiles is the size of the file descriptor table.
const MaxOpenFiles = 1024

// Ensure type implements interface.
var _ Plugin = (*Posix)(nil)

// Posix is the state plugin holding the file descriptor table and the heap
// high-water mark used by the allocator model.
type Posix struct {
	BasePlugin
	files map[int]*File

	// Next address returned by Allocate. Only increases along a path.
	HeapLocation uint64

	// Upper bounds used when a read length or an allocation size is symbolic.
	MaxLength       uint64
	MaxVariableSize uint64
}

// NewPosix returns a file table with stdin, stdout and stderr open.
func NewPosix(config Config) *Posix {
	p := &Posix{
		files:           make(map[int]*File),
		HeapLocation:    config.HeapBase,
		MaxLength:       config.MaxLength,
		MaxVariableSize: config.MaxVariableSize,
	}
	p.files[0] = NewFile(0, "stdin", O_RDONLY)
	p.files[1] = NewFile(1, "stdout", O_WRONLY)
	p.files[2] = NewFile(2, "stderr", O_WRONLY)
	return p
}

// SetState binds the plugin and every file to s.
func (p *Posix) SetState(s *State) {
	p.BasePlugin.SetState(s)
	for _, f := range p.files {
		f.SetState(s)
	}
}

// File returns the file open at fd.
func (p *Posix) File(fd int) (*File, bool) {
	f, ok := p.files[fd]
	return f, ok
}

// Files returns all open files, sorted by descriptor.
func (p *Posix) Files() []*File {
	a := make([]*File, 0, len(p.files))
	for _, f := range p.files {
		a = append(a, f)
	}
	sort.Slice(a, func(i, j int) bool { return a[i].fd < a[j].fd })
	return a
}

// Open opens a new file at the lowest free descriptor and returns it.
func (p *Posix) Open(name string, mode Flags) (int, error) {
	for fd := 0; fd < MaxOpenFiles; fd++ {
		if _, ok := p.files[fd]; ok {
			continue
		}
		f := NewFile(fd, name, mode)
		if s := p.State(); s != nil {
			f.SetState(s)
		}
		p.files[fd] = f
		return fd, nil
	}
	return -1, ErrTooManyFiles
}

// Close removes fd from the table.
func (p *Posix) Close(fd int) error {
	if _, ok := p.files[fd]; !ok {
		return errors.Wrapf(ErrBadDescriptor, "close %d", fd)
	}
	delete(p.files, fd)
	return nil
}

// Read reads length bytes from fd at its position and advances the position.
func (p *Posix) Read(fd int, length uint) (Expr, []Expr, error) {
	f, ok := p.files[fd]
	if !ok || !f.mode.Readable() {
		return nil, nil, errors.Wrapf(ErrBadDescriptor, "read %d", fd)
	}
	return f.Read(length)
}

// Write writes content to fd at its position and advances the position.
func (p *Posix) Write(fd int, content Expr, size Expr) ([]Expr, error) {
	f, ok := p.files[fd]
	if !ok || !f.mode.Writable() {
		return nil, errors.Wrapf(ErrBadDescriptor, "write %d", fd)
	}
	return f.Write(content, size)
}

// Seek moves the position of fd.
func (p *Posix) Seek(fd int, pos uint64) error {
	f, ok := p.files[fd]
	if !ok {
		return errors.Wrapf(ErrBadDescriptor, "seek %d", fd)
	}
	f.Seek(pos)
	return nil
}

// Allocate returns the current heap mark and advances it by size.
func (p *Posix) Allocate(size uint64) uint64 {
	addr := p.HeapLocation
	p.HeapLocation += size
	return addr
}

// Copy returns an independent copy of the file table.
func (p *Posix) Copy() Plugin {
	other := &Posix{
		files:           make(map[int]*File, len(p.files)),
		HeapLocation:    p.HeapLocation,
		MaxLength:       p.MaxLength,
		MaxVariableSize: p.MaxVariableSize,
	}
	for fd, f := range p.files {
		other.files[fd] = f.Copy()
	}
	return other
}

// Merge merges file contents. All participants must have the same set of
// descriptors and matching files.
//
// The heap mark becomes the highest mark of any participant, whatever the
// selector value. A merged state therefore does not allocate exactly like
// participant 0 would, but no merged path can reuse an address.
func (p *Posix) Merge(others []Plugin, flag Expr, flagValues []uint64) ([]Expr, error) {
	all := make([]*Posix, len(others))
	for i, o := range others {
		other, ok := o.(*Posix)
		if !ok {
			return nil, newMergeError(PluginPosix, "type mismatch: %T", o)
		} else if len(other.files) != len(p.files) {
			return nil, newMergeError(PluginPosix, "file descriptor set mismatch: %d != %d files", len(p.files), len(other.files))
		}
		for fd := range p.files {
			if _, ok := other.files[fd]; !ok {
				return nil, newMergeError(PluginPosix, "file descriptor set mismatch: fd %d", fd)
			}
		}
		all[i] = other
	}

	// Validate every file before touching any of them.
	for fd, f := range p.files {
		if err := f.checkMerge(filesAt(all, fd)); err != nil {
			return nil, err
		}
	}

	var constraints []Expr
	for _, f := range p.Files() {
		a, err := f.Merge(filesAt(all, f.fd), flag, flagValues)
		if err != nil {
			return nil, err
		}
		constraints = append(constraints, a...)
	}

	for _, other := range all {
		if other.HeapLocation > p.HeapLocation {
			p.HeapLocation = other.HeapLocation
		}
	}
	return constraints, nil
}

func filesAt(a []*Posix, fd int) []*File {
	files := make([]*File, len(a))
	for i := range a {
		files[i] = a[i].files[fd]
	}
	return files
}

// Dump returns the file table as a string.
func (p *Posix) Dump() string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "heap=%#x\n", p.HeapLocation)
	for _, f := range p.Files() {
		fmt.Fprintln(&buf, f.String())
	}
	return buf.String()
}
