package compiler

import "fmt"

// Scope is one lexical scope. Lookup walks outward through parents, so
// inner declarations shadow outer ones; Declare only checks the current
// level, which is what makes shadowing legal and same-scope
// redeclaration an error.
type Scope struct {
	parent  *Scope
	symbols map[string]*Symbol
}

// NewScope returns a fresh scope nested in parent (nil for the root).
func NewScope(parent *Scope) *Scope {
	return &Scope{parent: parent, symbols: make(map[string]*Symbol)}
}

// Declare adds sym to this scope level.
func (s *Scope) Declare(sym *Symbol) error {
	if _, exists := s.symbols[sym.Name]; exists {
		return fmt.Errorf("%w: %q already declared in this scope", ErrRedeclaration, sym.Name)
	}
	s.symbols[sym.Name] = sym
	return nil
}

// Lookup resolves name against this scope and its ancestors.
func (s *Scope) Lookup(name string) (*Symbol, bool) {
	for sc := s; sc != nil; sc = sc.parent {
		if sym, ok := sc.symbols[name]; ok {
			return sym, true
		}
	}
	return nil, false
}

// ---- Constant folding ----
//
// Array sizes and const initializers must reduce to a value at compile
// time. The folder handles literals, const references, unary minus and
// the arithmetic/bitwise operators over matching scalar kinds. Anything
// else is simply "not constant"; callers decide whether that is an
// error.

// foldConst evaluates e in scope sc, returning ok=false when e is not a
// compile-time constant.
func foldConst(e Expr, sc *Scope) (ConstValue, bool) {
	switch n := e.(type) {
	case *FloatLit:
		return ConstValue{Kind: KindFloat, F: n.Value}, true
	case *IntLit:
		return ConstValue{Kind: KindInt, I: n.Value}, true
	case *UintLit:
		return ConstValue{Kind: KindUInt, U: n.Value}, true
	case *BoolLit:
		return ConstValue{Kind: KindBool, B: n.Value}, true

	case *VarRef:
		if sc == nil {
			return ConstValue{}, false
		}
		sym, ok := sc.Lookup(n.Name)
		if !ok || !sym.Const {
			return ConstValue{}, false
		}
		return sym.ConstVal, true

	case *UnaryExpr:
		v, ok := foldConst(n.Operand, sc)
		if !ok {
			return ConstValue{}, false
		}
		switch n.Op {
		case MINUS:
			switch v.Kind {
			case KindFloat:
				v.F = -v.F
				return v, true
			case KindInt:
				v.I = -v.I
				return v, true
			case KindUInt:
				v.U = -v.U & 0xFFFFFFFF
				return v, true
			}
		case NOT:
			if v.Kind == KindBool {
				v.B = !v.B
				return v, true
			}
		case TILDE:
			switch v.Kind {
			case KindInt:
				v.I = ^v.I
				return v, true
			case KindUInt:
				v.U = ^v.U & 0xFFFFFFFF
				return v, true
			}
		}
		return ConstValue{}, false

	case *BinaryExpr:
		a, ok := foldConst(n.Left, sc)
		if !ok {
			return ConstValue{}, false
		}
		b, ok := foldConst(n.Right, sc)
		if !ok || a.Kind != b.Kind {
			return ConstValue{}, false
		}
		return foldBinary(n.Op, a, b)
	}
	return ConstValue{}, false
}

func foldBinary(op TokenType, a, b ConstValue) (ConstValue, bool) {
	switch a.Kind {
	case KindFloat:
		r := ConstValue{Kind: KindFloat}
		switch op {
		case PLUS:
			r.F = a.F + b.F
		case MINUS:
			r.F = a.F - b.F
		case STAR:
			r.F = a.F * b.F
		case SLASH:
			if b.F == 0 {
				return ConstValue{}, false
			}
			r.F = a.F / b.F
		default:
			return ConstValue{}, false
		}
		return r, true

	case KindInt:
		r := ConstValue{Kind: KindInt}
		switch op {
		case PLUS:
			r.I = a.I + b.I
		case MINUS:
			r.I = a.I - b.I
		case STAR:
			r.I = a.I * b.I
		case SLASH:
			if b.I == 0 {
				return ConstValue{}, false
			}
			r.I = a.I / b.I
		case PERCENT:
			if b.I == 0 {
				return ConstValue{}, false
			}
			r.I = a.I % b.I
		case AMP:
			r.I = a.I & b.I
		case PIPE:
			r.I = a.I | b.I
		case CARET:
			r.I = a.I ^ b.I
		case SHL_OP:
			r.I = a.I << (uint64(b.I) & 31)
		case SHR_OP:
			r.I = a.I >> (uint64(b.I) & 31)
		default:
			return ConstValue{}, false
		}
		return r, true

	case KindUInt:
		r := ConstValue{Kind: KindUInt}
		switch op {
		case PLUS:
			r.U = (a.U + b.U) & 0xFFFFFFFF
		case MINUS:
			r.U = (a.U - b.U) & 0xFFFFFFFF
		case STAR:
			r.U = (a.U * b.U) & 0xFFFFFFFF
		case SLASH:
			if b.U == 0 {
				return ConstValue{}, false
			}
			r.U = a.U / b.U
		case PERCENT:
			if b.U == 0 {
				return ConstValue{}, false
			}
			r.U = a.U % b.U
		case AMP:
			r.U = a.U & b.U
		case PIPE:
			r.U = a.U | b.U
		case CARET:
			r.U = a.U ^ b.U
		case SHL_OP:
			r.U = (a.U << (b.U & 31)) & 0xFFFFFFFF
		case SHR_OP:
			r.U = a.U >> (b.U & 31)
		default:
			return ConstValue{}, false
		}
		return r, true

	case KindBool:
		r := ConstValue{Kind: KindBool}
		switch op {
		case EQUALS:
			r.B = a.B == b.B
		case NOT_EQ:
			r.B = a.B != b.B
		default:
			return ConstValue{}, false
		}
		return r, true
	}
	return ConstValue{}, false
}

// foldArraySize reduces an array-size expression to its int value.
// Sizes must be int constants greater than zero.
func foldArraySize(e Expr, sc *Scope) (int, error) {
	v, ok := foldConst(e, sc)
	if !ok || v.Kind != KindInt {
		return 0, fmt.Errorf("%w: %s", ErrNonConstantArraySize, e)
	}
	if v.I <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrNonConstantArraySize, v.I)
	}
	return int(v.I), nil
}
