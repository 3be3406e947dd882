package z3

import (
	"fmt"
	"strings"
	"time"
	"unsafe"

	"github.com/benbjohnson/sim"
)

/*
#cgo LDFLAGS: -lz3
#include <z3.h>
#include <stdlib.h>
#include <stdio.h>
*/
import "C"

// Ensure solver implements interface.
var _ sim.Solver = (*Solver)(nil)

// Solver represents a solver that uses an embedded Z3 solver.
// A Solver must not be used from multiple goroutines at once.
type Solver struct {
	ctx   *Context
	stats Stats
}

// NewSolver returns a new instance of Solver.
func NewSolver() *Solver {
	return &Solver{
		ctx: NewContext(),
	}
}

// Close deletes the underlying Z3 context.
func (s *Solver) Close() error {
	return s.ctx.Close()
}

// Stats returns statistics for the solver.
func (s *Solver) Stats() Stats {
	return s.stats
}

// Solve checks the conjunction of constraints. If it is satisfiable then the
// model value of every array is returned in the same order as arrays.
func (s *Solver) Solve(constraints []sim.Expr, arrays []*sim.Array) (satisfiable bool, values [][]byte, err error) {
	t := time.Now()
	defer func() {
		s.stats.SolveN++
		s.stats.SolveTime += time.Since(t)
		if satisfiable {
			s.stats.SatN++
		}
	}()

	solver := C.Z3_mk_solver(s.ctx.raw)
	if err := s.ctx.err("Z3_mk_solver"); err != nil {
		return false, nil, err
	}
	C.Z3_solver_inc_ref(s.ctx.raw, solver)
	defer C.Z3_solver_dec_ref(s.ctx.raw, solver)

	for _, constraint := range constraints {
		ast, err := s.ctx.toAST(constraint)
		if err != nil {
			return false, nil, err
		}
		C.Z3_solver_assert(s.ctx.raw, solver, ast)
		if err := s.ctx.err("Z3_solver_assert"); err != nil {
			return false, nil, err
		}
	}

	// Exit immediately if unsatisfiable or the solver gave up.
	switch C.Z3_solver_check(s.ctx.raw, solver) {
	case C.Z3_L_FALSE:
		return false, nil, s.ctx.err("Z3_solver_check")
	case C.Z3_L_UNDEF:
		if err := s.ctx.err("Z3_solver_check"); err != nil {
			return false, nil, err
		}
		return false, nil, unknownError(C.GoString(C.Z3_solver_get_reason_unknown(s.ctx.raw, solver)))
	}
	if err := s.ctx.err("Z3_solver_check"); err != nil {
		return false, nil, err
	} else if len(arrays) == 0 {
		return true, nil, nil // no symbolics, ignore model
	}

	model := C.Z3_solver_get_model(s.ctx.raw, solver)
	if err := s.ctx.err("Z3_solver_get_model"); err != nil {
		return true, nil, err
	}
	C.Z3_model_inc_ref(s.ctx.raw, model)
	defer C.Z3_model_dec_ref(s.ctx.raw, model)

	if values, err = s.ctx.eval(model, arrays); err != nil {
		return true, nil, err
	}
	return true, values, nil
}

// unknownError maps the reason Z3 returns for an undecided check to an error.
func unknownError(reason string) error {
	switch {
	case strings.Contains(reason, "timeout"):
		return sim.ErrSolverTimeout
	case strings.Contains(reason, "canceled"):
		return sim.ErrSolverCanceled
	case strings.Contains(reason, "(resource limits reached)"):
		return sim.ErrSolverResourceLimit
	case strings.Contains(reason, "unknown"):
		return sim.ErrSolverUnknown
	default:
		return fmt.Errorf("z3: %s", reason)
	}
}

// Context represents a Z3 context object that is used for constructing expressions.
type Context struct {
	raw C.Z3_context
}

// NewContext returns a new instance of Context.
func NewContext() *Context {
	config := C.Z3_mk_config()
	defer C.Z3_del_config(config)

	raw := C.Z3_mk_context(config)
	C.Z3_set_error_handler(raw, nil)
	C.Z3_set_ast_print_mode(raw, C.Z3_PRINT_SMTLIB2_COMPLIANT)
	return &Context{raw: raw}
}

// Close deletes the underlying Z3 context.
func (ctx *Context) Close() error {
	C.Z3_del_context(ctx.raw)
	return nil
}

// err returns the error for the last API call. Returns nil if last call was successful.
func (ctx *Context) err(op string) error {
	if code := C.Z3_get_error_code(ctx.raw); code != C.Z3_OK {
		return &Error{Code: int(code), Op: op, Message: C.GoString(C.Z3_get_error_msg(ctx.raw, code))}
	}
	return nil
}

// toAST converts an expression into a Z3 AST. One-bit expressions use the
// boolean sort; wider expressions use bit-vector sorts.
func (ctx *Context) toAST(expr sim.Expr) (C.Z3_ast, error) {
	switch expr := expr.(type) {
	case *sim.ConstantExpr:
		return ctx.toConstantAST(expr)
	case *sim.SelectExpr:
		return ctx.toSelectAST(expr)
	case *sim.ConcatExpr:
		return ctx.toConcatAST(expr)
	case *sim.ExtractExpr:
		return ctx.toExtractAST(expr)
	case *sim.CastExpr:
		return ctx.toCastAST(expr)
	case *sim.NotExpr:
		return ctx.toNotAST(expr)
	case *sim.IteExpr:
		return ctx.toIteAST(expr)
	case *sim.BinaryExpr:
		return ctx.toBinaryAST(expr)
	default:
		return nil, fmt.Errorf("z3.Context.toAST: invalid expression type: %T", expr)
	}
}

func (ctx *Context) toConstantAST(expr *sim.ConstantExpr) (C.Z3_ast, error) {
	if expr.Width == sim.WidthBool {
		if expr.IsTrue() {
			return C.Z3_mk_true(ctx.raw), ctx.err("Z3_mk_true")
		}
		return C.Z3_mk_false(ctx.raw), ctx.err("Z3_mk_false")
	} else if expr.IsUint64() {
		return ctx.makeUint64(expr.Width, expr.Uint64())
	}
	return ctx.makeNumeral(expr.Width, expr.Value.Dec())
}

func (ctx *Context) toSelectAST(expr *sim.SelectExpr) (C.Z3_ast, error) {
	array, err := ctx.makeArrayConst(expr.Array)
	if err != nil {
		return nil, err
	}
	index, err := ctx.toAST(expr.Index)
	if err != nil {
		return nil, err
	}
	return C.Z3_mk_select(ctx.raw, array, index), ctx.err("Z3_mk_select")
}

func (ctx *Context) toConcatAST(expr *sim.ConcatExpr) (C.Z3_ast, error) {
	msb, err := ctx.toBitVectorAST(expr.MSB)
	if err != nil {
		return nil, err
	}
	lsb, err := ctx.toBitVectorAST(expr.LSB)
	if err != nil {
		return nil, err
	}
	return C.Z3_mk_concat(ctx.raw, msb, lsb), ctx.err("Z3_mk_concat")
}

func (ctx *Context) toExtractAST(expr *sim.ExtractExpr) (C.Z3_ast, error) {
	src, err := ctx.toBitVectorAST(expr.Expr)
	if err != nil {
		return nil, err
	}

	hi := C.uint(expr.Offset + expr.Width - 1)
	ast := C.Z3_mk_extract(ctx.raw, hi, C.uint(expr.Offset), src)
	if err := ctx.err("Z3_mk_extract"); err != nil {
		return nil, err
	} else if expr.Width != sim.WidthBool {
		return ast, nil
	}

	// Single bits compare against one to produce the boolean sort.
	one, err := ctx.makeUint64(1, 1)
	if err != nil {
		return nil, err
	}
	return C.Z3_mk_eq(ctx.raw, ast, one), ctx.err("Z3_mk_eq")
}

func (ctx *Context) toCastAST(expr *sim.CastExpr) (C.Z3_ast, error) {
	src, err := ctx.toAST(expr.Src)
	if err != nil {
		return nil, err
	}

	// Boolean sources select between the extended values of one and zero.
	if sim.ExprWidth(expr.Src) == sim.WidthBool {
		value := sim.NewConstantExpr(1, expr.Width)
		if expr.Signed {
			value = sim.NewConstantExpr(0, expr.Width).Not()
		}
		whenTrue, err := ctx.toConstantAST(value)
		if err != nil {
			return nil, err
		}
		whenFalse, err := ctx.makeUint64(expr.Width, 0)
		if err != nil {
			return nil, err
		}
		return C.Z3_mk_ite(ctx.raw, src, whenTrue, whenFalse), ctx.err("Z3_mk_ite")
	}

	n := C.uint(expr.Width - sim.ExprWidth(expr.Src))
	if expr.Signed {
		return C.Z3_mk_sign_ext(ctx.raw, n, src), ctx.err("Z3_mk_sign_ext")
	}
	return C.Z3_mk_zero_ext(ctx.raw, n, src), ctx.err("Z3_mk_zero_ext")
}

func (ctx *Context) toNotAST(expr *sim.NotExpr) (C.Z3_ast, error) {
	src, err := ctx.toAST(expr.Expr)
	if err != nil {
		return nil, err
	}
	if sim.ExprWidth(expr.Expr) == sim.WidthBool {
		return C.Z3_mk_not(ctx.raw, src), ctx.err("Z3_mk_not")
	}
	return C.Z3_mk_bvnot(ctx.raw, src), ctx.err("Z3_mk_bvnot")
}

func (ctx *Context) toIteAST(expr *sim.IteExpr) (C.Z3_ast, error) {
	cond, err := ctx.toAST(expr.Cond)
	if err != nil {
		return nil, err
	}
	then, err := ctx.toAST(expr.Then)
	if err != nil {
		return nil, err
	}
	els, err := ctx.toAST(expr.Else)
	if err != nil {
		return nil, err
	}
	return C.Z3_mk_ite(ctx.raw, cond, then, els), ctx.err("Z3_mk_ite")
}

// mkBinary constructs a Z3 term from two operands.
type mkBinary func(c C.Z3_context, lhs, rhs C.Z3_ast) C.Z3_ast

// bvBinaryOps maps operators to their bit-vector constructors.
var bvBinaryOps = map[sim.BinaryOp]struct {
	name string
	fn   mkBinary
}{
	sim.ADD:  {"Z3_mk_bvadd", func(c C.Z3_context, a, b C.Z3_ast) C.Z3_ast { return C.Z3_mk_bvadd(c, a, b) }},
	sim.SUB:  {"Z3_mk_bvsub", func(c C.Z3_context, a, b C.Z3_ast) C.Z3_ast { return C.Z3_mk_bvsub(c, a, b) }},
	sim.MUL:  {"Z3_mk_bvmul", func(c C.Z3_context, a, b C.Z3_ast) C.Z3_ast { return C.Z3_mk_bvmul(c, a, b) }},
	sim.UDIV: {"Z3_mk_bvudiv", func(c C.Z3_context, a, b C.Z3_ast) C.Z3_ast { return C.Z3_mk_bvudiv(c, a, b) }},
	sim.SDIV: {"Z3_mk_bvsdiv", func(c C.Z3_context, a, b C.Z3_ast) C.Z3_ast { return C.Z3_mk_bvsdiv(c, a, b) }},
	sim.UREM: {"Z3_mk_bvurem", func(c C.Z3_context, a, b C.Z3_ast) C.Z3_ast { return C.Z3_mk_bvurem(c, a, b) }},
	sim.SREM: {"Z3_mk_bvsrem", func(c C.Z3_context, a, b C.Z3_ast) C.Z3_ast { return C.Z3_mk_bvsrem(c, a, b) }},
	sim.AND:  {"Z3_mk_bvand", func(c C.Z3_context, a, b C.Z3_ast) C.Z3_ast { return C.Z3_mk_bvand(c, a, b) }},
	sim.OR:   {"Z3_mk_bvor", func(c C.Z3_context, a, b C.Z3_ast) C.Z3_ast { return C.Z3_mk_bvor(c, a, b) }},
	sim.XOR:  {"Z3_mk_bvxor", func(c C.Z3_context, a, b C.Z3_ast) C.Z3_ast { return C.Z3_mk_bvxor(c, a, b) }},
	sim.SHL:  {"Z3_mk_bvshl", func(c C.Z3_context, a, b C.Z3_ast) C.Z3_ast { return C.Z3_mk_bvshl(c, a, b) }},
	sim.LSHR: {"Z3_mk_bvlshr", func(c C.Z3_context, a, b C.Z3_ast) C.Z3_ast { return C.Z3_mk_bvlshr(c, a, b) }},
	sim.ASHR: {"Z3_mk_bvashr", func(c C.Z3_context, a, b C.Z3_ast) C.Z3_ast { return C.Z3_mk_bvashr(c, a, b) }},
	sim.EQ:   {"Z3_mk_eq", func(c C.Z3_context, a, b C.Z3_ast) C.Z3_ast { return C.Z3_mk_eq(c, a, b) }},
	sim.ULT:  {"Z3_mk_bvult", func(c C.Z3_context, a, b C.Z3_ast) C.Z3_ast { return C.Z3_mk_bvult(c, a, b) }},
	sim.ULE:  {"Z3_mk_bvule", func(c C.Z3_context, a, b C.Z3_ast) C.Z3_ast { return C.Z3_mk_bvule(c, a, b) }},
	sim.SLT:  {"Z3_mk_bvslt", func(c C.Z3_context, a, b C.Z3_ast) C.Z3_ast { return C.Z3_mk_bvslt(c, a, b) }},
	sim.SLE:  {"Z3_mk_bvsle", func(c C.Z3_context, a, b C.Z3_ast) C.Z3_ast { return C.Z3_mk_bvsle(c, a, b) }},
}

// boolBinaryOps maps operators on one-bit operands to boolean constructors.
var boolBinaryOps = map[sim.BinaryOp]struct {
	name string
	fn   mkBinary
}{
	sim.AND: {"Z3_mk_and", func(c C.Z3_context, a, b C.Z3_ast) C.Z3_ast {
		args := [2]C.Z3_ast{a, b}
		return C.Z3_mk_and(c, 2, &args[0])
	}},
	sim.OR: {"Z3_mk_or", func(c C.Z3_context, a, b C.Z3_ast) C.Z3_ast {
		args := [2]C.Z3_ast{a, b}
		return C.Z3_mk_or(c, 2, &args[0])
	}},
	sim.XOR: {"Z3_mk_xor", func(c C.Z3_context, a, b C.Z3_ast) C.Z3_ast { return C.Z3_mk_xor(c, a, b) }},
	sim.EQ:  {"Z3_mk_iff", func(c C.Z3_context, a, b C.Z3_ast) C.Z3_ast { return C.Z3_mk_iff(c, a, b) }},
}

func (ctx *Context) toBinaryAST(expr *sim.BinaryExpr) (C.Z3_ast, error) {
	isBool := sim.ExprWidth(expr.LHS) == sim.WidthBool

	// Boolean operands use the boolean constructors where one exists.
	if op, ok := boolBinaryOps[expr.Op]; ok && isBool {
		lhs, err := ctx.toAST(expr.LHS)
		if err != nil {
			return nil, err
		}
		rhs, err := ctx.toAST(expr.RHS)
		if err != nil {
			return nil, err
		}
		return op.fn(ctx.raw, lhs, rhs), ctx.err(op.name)
	}

	op, ok := bvBinaryOps[expr.Op]
	if !ok {
		return nil, fmt.Errorf("z3.Context.toBinaryAST: unexpected operation: %s", expr.Op)
	}
	lhs, err := ctx.toBitVectorAST(expr.LHS)
	if err != nil {
		return nil, err
	}
	rhs, err := ctx.toBitVectorAST(expr.RHS)
	if err != nil {
		return nil, err
	}
	ast := op.fn(ctx.raw, lhs, rhs)
	if err := ctx.err(op.name); err != nil {
		return nil, err
	} else if !isBool || expr.Op.IsCompare() {
		return ast, nil
	}

	// One-bit arithmetic results are converted back to the boolean sort.
	one, err := ctx.makeUint64(1, 1)
	if err != nil {
		return nil, err
	}
	return C.Z3_mk_eq(ctx.raw, ast, one), ctx.err("Z3_mk_eq")
}

// toBitVectorAST converts expr and coerces the boolean sort to a one-bit vector.
func (ctx *Context) toBitVectorAST(expr sim.Expr) (C.Z3_ast, error) {
	ast, err := ctx.toAST(expr)
	if err != nil {
		return nil, err
	} else if sim.ExprWidth(expr) != sim.WidthBool {
		return ast, nil
	}

	one, err := ctx.makeUint64(1, 1)
	if err != nil {
		return nil, err
	}
	zero, err := ctx.makeUint64(1, 0)
	if err != nil {
		return nil, err
	}
	return C.Z3_mk_ite(ctx.raw, ast, one, zero), ctx.err("Z3_mk_ite")
}

func (ctx *Context) makeBVSort(width uint) (C.Z3_sort, error) {
	return C.Z3_mk_bv_sort(ctx.raw, C.uint(width)), ctx.err("Z3_mk_bv_sort")
}

func (ctx *Context) makeUint64(width uint, value uint64) (C.Z3_ast, error) {
	t, err := ctx.makeBVSort(width)
	if err != nil {
		return nil, err
	}
	return C.Z3_mk_unsigned_int64(ctx.raw, C.uint64_t(value), t), ctx.err("Z3_mk_unsigned_int64")
}

// makeNumeral returns a bit-vector constant from its decimal representation.
func (ctx *Context) makeNumeral(width uint, dec string) (C.Z3_ast, error) {
	t, err := ctx.makeBVSort(width)
	if err != nil {
		return nil, err
	}
	cdec := C.CString(dec)
	defer C.free(unsafe.Pointer(cdec))
	return C.Z3_mk_numeral(ctx.raw, cdec, t), ctx.err("Z3_mk_numeral")
}

// makeArrayConst returns the array constant for array: 64-bit indexes to bytes.
func (ctx *Context) makeArrayConst(array *sim.Array) (C.Z3_ast, error) {
	domainSort, err := ctx.makeBVSort(sim.Width64)
	if err != nil {
		return nil, err
	}
	rangeSort, err := ctx.makeBVSort(sim.Width8)
	if err != nil {
		return nil, err
	}
	arraySort := C.Z3_mk_array_sort(ctx.raw, domainSort, rangeSort)
	if err := ctx.err("Z3_mk_array_sort"); err != nil {
		return nil, err
	}

	cname := C.CString(arrayName(array))
	defer C.free(unsafe.Pointer(cname))
	symbol := C.Z3_mk_string_symbol(ctx.raw, cname)

	return C.Z3_mk_const(ctx.raw, symbol, arraySort), ctx.err("Z3_mk_const")
}

// eval evaluates arrays into their byte slice values under model.
func (ctx *Context) eval(model C.Z3_model, arrays []*sim.Array) ([][]byte, error) {
	values := make([][]byte, 0, len(arrays))
	for _, array := range arrays {
		value, err := ctx.evalArray(model, array)
		if err != nil {
			return nil, err
		}
		values = append(values, value)
	}
	return values, nil
}

// evalArray evaluates every byte of array. Bytes the model leaves
// unconstrained are completed with an arbitrary value.
func (ctx *Context) evalArray(model C.Z3_model, array *sim.Array) ([]byte, error) {
	root, err := ctx.makeArrayConst(array)
	if err != nil {
		return nil, err
	}

	value := make([]byte, array.Size)
	for offset := range value {
		index, err := ctx.makeUint64(sim.Width64, uint64(offset))
		if err != nil {
			return nil, err
		}
		sel := C.Z3_mk_select(ctx.raw, root, index)
		if err := ctx.err("Z3_mk_select"); err != nil {
			return nil, err
		}

		var result C.Z3_ast
		C.Z3_model_eval(ctx.raw, model, sel, C.bool(true), &result)
		if err := ctx.err("Z3_model_eval"); err != nil {
			return nil, err
		}

		var b C.int
		C.Z3_get_numeral_int(ctx.raw, result, &b)
		if err := ctx.err("Z3_get_numeral_int"); err != nil {
			return nil, err
		}
		value[offset] = byte(b)
	}
	return value, nil
}

// ASTString returns the SMT-LIB representation of expr. Used for debugging.
func (ctx *Context) ASTString(expr sim.Expr) (string, error) {
	ast, err := ctx.toAST(expr)
	if err != nil {
		return "", err
	}
	return C.GoString(C.Z3_ast_to_string(ctx.raw, ast)), nil
}

func arrayName(array *sim.Array) string {
	return fmt.Sprintf("A%d", array.ID)
}

// Error represents an error from the Z3 API.
type Error struct {
	Code    int
	Op      string
	Message string
}

// Error returns the error as a string.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s (%d)", e.Op, e.Message, e.Code)
}

// Possible error codes.
const (
	ErrorCodeOK = iota
	ErrorCodeSortError
	ErrorCodeIOB
	ErrorCodeInvalidArg
	ErrorCodeParserError
	ErrorCodeNoParser
	ErrorCodeInvalidPattern
	ErrorCodeMemoutFail
	ErrorCodeFileAccessError
	ErrorCodeInternalFatal
	ErrorCodeInvalidUsage
	ErrorCodeDecRefError
	ErrorCodeException
)

// Stats holds solver counters.
type Stats struct {
	SolveN    int
	SatN      int
	SolveTime time.Duration
}
