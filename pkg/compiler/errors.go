package compiler

import "errors"

// Sentinel errors for the failure classes callers branch on. All
// compile errors wrap one of these (or carry plain context) via
// fmt.Errorf with %w, so errors.Is works across the pipeline.
var (
	// ErrRedeclaration: a name declared twice in the same scope, or a
	// function registered twice with the same parameter signature.
	ErrRedeclaration = errors.New("redeclaration")

	// ErrUndefinedSymbol: a variable reference that resolves to nothing.
	ErrUndefinedSymbol = errors.New("undefined symbol")

	// ErrUnknownFunction: a call whose name and argument types match no
	// builtin, library or user function.
	ErrUnknownFunction = errors.New("unknown function")

	// ErrTypeMismatch: operand or assignment types that do not agree.
	ErrTypeMismatch = errors.New("type mismatch")

	// ErrNotAssignable: assignment to something that is not an lvalue
	// (a literal, a call result, a swizzle with duplicate components).
	ErrNotAssignable = errors.New("not assignable")

	// ErrNonConstantArraySize: an array dimension that does not fold to
	// a positive integer constant.
	ErrNonConstantArraySize = errors.New("array size is not a positive constant")

	// ErrInvalidArgumentCount: a constructor with the wrong number of
	// component values for its type.
	ErrInvalidArgumentCount = errors.New("invalid argument count")
)
