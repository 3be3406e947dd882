package sim

import (
	"fmt"

	"github.com/pkg/errors"
)

// Standard widths.
const (
	WidthBool = 1
	Width8    = 8
	Width16   = 16
	Width32   = 32
	Width64   = 64
	Width128  = 128
	Width256  = 256
)

// MaxConstantWidth is the widest value a ConstantExpr can hold.
const MaxConstantWidth = Width256

var (
	ErrSolverTimeout       = errors.New("Solver timeout")
	ErrSolverCanceled      = errors.New("Solver canceled")
	ErrSolverResourceLimit = errors.New("Solver resource limit")
	ErrSolverUnknown       = errors.New("Solver unknown error")
)

var (
	ErrNotImplemented   = errors.New("sim: plugin operation not implemented")
	ErrUnsatisfiable    = errors.New("sim: unsatisfiable")
	ErrTmpNotFound      = errors.New("sim: temp not found")
	ErrRegisterNotFound = errors.New("sim: register not found")
	ErrBadDescriptor    = errors.New("sim: bad file descriptor")
	ErrTooManyFiles     = errors.New("sim: too many open files")
)

// MergeError is returned when states or plugins cannot be merged because
// their structure differs. No participant is modified when it is returned.
type MergeError struct {
	Plugin PluginName
	Reason string
}

// Error returns the error as a string.
func (e *MergeError) Error() string {
	if e.Plugin == "" {
		return fmt.Sprintf("sim: cannot merge: %s", e.Reason)
	}
	return fmt.Sprintf("sim: cannot merge %s: %s", e.Plugin, e.Reason)
}

func newMergeError(plugin PluginName, format string, args ...interface{}) *MergeError {
	return &MergeError{Plugin: plugin, Reason: fmt.Sprintf(format, args...)}
}

// SymbolicValueError is returned when a concrete value is required but the
// expression has more than one possible value.
type SymbolicValueError struct {
	Op   string
	Expr Expr
}

// Error returns the error as a string.
func (e *SymbolicValueError) Error() string {
	return fmt.Sprintf("sim: %s: symbolic value: %s", e.Op, e.Expr)
}

// IsMergeError returns true if err is or wraps a *MergeError.
func IsMergeError(err error) bool {
	var e *MergeError
	return errors.As(err, &e)
}

// IsSymbolicValueError returns true if err is or wraps a *SymbolicValueError.
func IsSymbolicValueError(err error) bool {
	var e *SymbolicValueError
	return errors.As(err, &e)
}

// assert panics if condition is false.
func assert(condition bool, format string, args ...interface{}) {
	if !condition {
		panic(fmt.Sprintf("assert: "+format, args...))
	}
}
