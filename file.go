package sim

import (
	"fmt"
)

// File represents an open file of the analyzed program. Its content is an
// addressable store indexed by file offset. The position is always concrete.
type File struct {
	fd      int
	name    string
	mode    Flags
	pos     uint64
	content *Memory
}

// NewFile returns a new, empty file.
func NewFile(fd int, name string, mode Flags) *File {
	return &File{
		fd:      fd,
		name:    name,
		mode:    mode,
		content: NewMemory(fmt.Sprintf("file_%d", fd)),
	}
}

// FD returns the file descriptor.
func (f *File) FD() int { return f.fd }

// Name returns the file name.
func (f *File) Name() string { return f.name }

// Mode returns the open flags.
func (f *File) Mode() Flags { return f.mode }

// Pos returns the current position.
func (f *File) Pos() uint64 { return f.pos }

// Content returns the store holding the file data.
func (f *File) Content() *Memory { return f.content }

// SetState binds the file content to s.
func (f *File) SetState(s *State) { f.content.SetState(s) }

// Read returns length bytes at the current position and advances the position.
func (f *File) Read(length uint) (Expr, []Expr, error) {
	data, constraints, err := f.ReadAt(f.pos, length)
	if err != nil {
		return nil, nil, err
	}
	f.pos += uint64(length)
	return data, constraints, nil
}

// ReadAt returns length bytes at pos. The position is unchanged.
// Returns a nil expression if length is zero.
func (f *File) ReadAt(pos uint64, length uint) (Expr, []Expr, error) {
	if length == 0 {
		return nil, nil, nil
	}
	return f.content.Load(NewConstantExpr64(pos), length)
}

// Write stores content at the current position and advances the position
// past it. If size is not nil then only the first size bytes are written.
func (f *File) Write(content Expr, size Expr) ([]Expr, error) {
	n := uint64(ExprWidth(content) / 8)
	if size != nil {
		c, ok := size.(*ConstantExpr)
		if !ok {
			return nil, &SymbolicValueError{Op: "write", Expr: size}
		} else if c.IsUint64() && c.Uint64() < n {
			n = c.Uint64()
		}
	}

	constraints, err := f.WriteAt(f.pos, content, size)
	if err != nil {
		return nil, err
	}
	f.pos += n
	return constraints, nil
}

// WriteAt stores content at pos. The position is unchanged.
func (f *File) WriteAt(pos uint64, content Expr, size Expr) ([]Expr, error) {
	return f.content.Store(NewConstantExpr64(pos), content, size)
}

// Seek moves the position to pos.
func (f *File) Seek(pos uint64) {
	f.pos = pos
}

// Copy returns an independent copy of the file.
func (f *File) Copy() *File {
	return &File{
		fd:      f.fd,
		name:    f.name,
		mode:    f.mode,
		pos:     f.pos,
		content: f.content.Copy().(*Memory),
	}
}

// Merge merges the content of others into f. Descriptor, position, name and
// mode must match across all participants.
func (f *File) Merge(others []*File, flag Expr, flagValues []uint64) ([]Expr, error) {
	if err := f.checkMerge(others); err != nil {
		return nil, err
	}

	contents := make([]Plugin, len(others))
	for i, other := range others {
		contents[i] = other.content
	}
	return f.content.Merge(contents, flag, flagValues)
}

func (f *File) checkMerge(others []*File) error {
	for _, other := range others {
		switch {
		case other.fd != f.fd:
			return newMergeError(PluginPosix, "file descriptor mismatch: %d != %d", f.fd, other.fd)
		case other.pos != f.pos:
			return newMergeError(PluginPosix, "fd %d: position mismatch: %d != %d", f.fd, f.pos, other.pos)
		case other.name != f.name:
			return newMergeError(PluginPosix, "fd %d: name mismatch: %q != %q", f.fd, f.name, other.name)
		case other.mode != f.mode:
			return newMergeError(PluginPosix, "fd %d: mode mismatch: %s != %s", f.fd, f.mode, other.mode)
		}
	}
	return nil
}

// String returns a string representation of the file.
func (f *File) String() string {
	return fmt.Sprintf("(file %d %q %s pos=%d)", f.fd, f.name, f.mode, f.pos)
}
