package sim

import (
	"fmt"
)

// Array represents a named source of unconstrained symbolic bytes. Every
// symbolic variable is built from selects over an array.
type Array struct {
	ID   uint64 // unique id, assigned by the session
	Name string // human readable name, not necessarily unique
	Size uint   // width, in bytes
}

// NewArray returns a new Array of the given size.
func NewArray(id uint64, name string, size uint) *Array {
	assert(size > 0, "array: invalid size: %d", size)
	return &Array{
		ID:   id,
		Name: name,
		Size: size,
	}
}

// String returns a string representation of the array.
func (a *Array) String() string {
	if a.Name != "" {
		return fmt.Sprintf("(array %s#%d %d)", a.Name, a.ID, a.Size)
	}
	return fmt.Sprintf("(array #%d %d)", a.ID, a.Size)
}

// Byte returns a select expression for the byte at offset.
func (a *Array) Byte(offset uint) Expr {
	assert(offset < a.Size, "array: byte out of bounds: %d >= %d", offset, a.Size)
	return NewSelectExpr(a, NewConstantExpr64(uint64(offset)))
}

// Expr returns a width-bit expression over the array. Byte zero is the most
// significant byte. Widths that are not byte aligned use the low bits.
func (a *Array) Expr(width uint) Expr {
	n := minBytes(width)
	assert(width > 0 && n <= a.Size, "array: invalid width %d for %d bytes", width, a.Size)

	exprs := make([]Expr, n)
	for i := range exprs {
		exprs[i] = a.Byte(uint(i))
	}
	return NewCastExpr(NewConcatExprs(exprs...), width, false)
}

// CompareArray returns an integer comparing two arrays.
// The result will be 0 if a==b, -1 if a < b, and +1 if a > b.
func CompareArray(a, b *Array) int {
	if a == nil && b != nil {
		return -1
	} else if a != nil && b == nil {
		return 1
	} else if a == nil && b == nil {
		return 0
	}

	if a.ID < b.ID {
		return -1
	} else if a.ID > b.ID {
		return 1
	}

	if a.Size < b.Size {
		return -1
	} else if a.Size > b.Size {
		return 1
	}

	if a.Name < b.Name {
		return -1
	} else if a.Name > b.Name {
		return 1
	}
	return 0
}
