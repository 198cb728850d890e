package compiler

import (
	"fmt"

	"glowc/pkg/ir"
)

var swizzleIdx = map[rune]int{
	'x': 0, 'y': 1, 'z': 2, 'w': 3,
	'r': 0, 'g': 1, 'b': 2, 'a': 3,
	's': 0, 't': 1, 'p': 2, 'q': 3,
}

// op1 emits a single-operand instruction into a fresh register.
func (fg *funcGen) op1(op ir.Op, k ir.Class, a ir.Reg) ir.Reg {
	r := fg.newReg()
	fg.emit(ir.Instr{Op: op, Kind: k, Dst: r, HasDst: true, A: a})
	return r
}

// op2 emits a two-operand instruction into a fresh register.
func (fg *funcGen) op2(op ir.Op, k ir.Class, a, b ir.Reg) ir.Reg {
	r := fg.newReg()
	fg.emit(ir.Instr{Op: op, Kind: k, Dst: r, HasDst: true, A: a, B: b})
	return r
}

// mov copies a into a fresh register.
func (fg *funcGen) mov(a ir.Reg) ir.Reg {
	return fg.op1(ir.Mov, ir.UInt, a)
}

// ---- LValues ----

// loadLValue reads the current value of lv into fresh registers.
func (fg *funcGen) loadLValue(lv *LValue) []ir.Reg {
	n := lv.Type.Components()
	out := make([]ir.Reg, n)
	switch {
	case lv.IsSSA():
		for i, r := range lv.Regs {
			out[i] = fg.mov(r)
		}
	case lv.Pattern == AccessArrayElement:
		base := fg.op2(ir.Add, ir.UInt, lv.Addr, lv.ElemOff)
		for i := 0; i < n; i++ {
			r := fg.newReg()
			fg.emit(ir.Instr{Op: ir.Load, Dst: r, HasDst: true, A: base, Imm: int64(i * 4)})
			out[i] = r
		}
	default:
		for i, off := range lv.ComponentOffsets() {
			r := fg.newReg()
			fg.emit(ir.Instr{Op: ir.Load, Dst: r, HasDst: true, A: lv.Addr, Imm: int64(off)})
			out[i] = r
		}
	}
	return out
}

// storeLValue writes vals into lv. len(vals) must match the type's
// component count; callers have already type-checked.
func (fg *funcGen) storeLValue(lv *LValue, vals []ir.Reg) {
	switch {
	case lv.IsSSA():
		for i, r := range lv.Regs {
			fg.emit(ir.Instr{Op: ir.Mov, Dst: r, HasDst: true, A: vals[i]})
		}
	case lv.Pattern == AccessArrayElement:
		base := fg.op2(ir.Add, ir.UInt, lv.Addr, lv.ElemOff)
		for i, v := range vals {
			fg.emit(ir.Instr{Op: ir.Store, A: base, B: v, Imm: int64(i * 4)})
		}
	default:
		for i, off := range lv.ComponentOffsets() {
			fg.emit(ir.Instr{Op: ir.Store, A: lv.Addr, B: vals[i], Imm: int64(off)})
		}
	}
}

// materializeAddr collapses a pointer lvalue to a single base address.
func (fg *funcGen) materializeAddr(lv *LValue) ir.Reg {
	if lv.Pattern == AccessArrayElement {
		return fg.op2(ir.Add, ir.UInt, lv.Addr, lv.ElemOff)
	}
	return lv.Addr
}

// genLValue resolves an assignable expression to an LValue. It is used
// for assignment targets, ++/-- operands and out/inout arguments, so a
// swizzle with repeated components is always an error here.
func (fg *funcGen) genLValue(e Expr) (LValue, error) {
	switch n := e.(type) {
	case *VarRef:
		sym, ok := fg.scope.Lookup(n.Name)
		if !ok {
			return LValue{}, fmt.Errorf("line %d: %w: %q", n.Line, ErrUndefinedSymbol, n.Name)
		}
		if sym.Const {
			return LValue{}, fmt.Errorf("line %d: %w: %q is a constant", n.Line, ErrNotAssignable, n.Name)
		}
		return sym.LV, nil

	case *MemberExpr:
		base, err := fg.genLValue(n.Base)
		if err != nil {
			return LValue{}, err
		}
		switch base.Type.Tag {
		case TagStruct:
			off, ft, ok := base.Type.FieldOffset(n.Member)
			if !ok {
				return LValue{}, fmt.Errorf("line %d: %s has no field %q", n.Line, base.Type, n.Member)
			}
			if base.IsSSA() {
				w := off / 4
				return LValue{Type: ft, Regs: base.Regs[w : w+ft.Components()]}, nil
			}
			addr := fg.materializeAddr(&base)
			fieldAddr := fg.newReg()
			fg.emit(ir.Instr{Op: ir.AddImm, Dst: fieldAddr, HasDst: true, A: addr, Imm: int64(off), Kind: ir.UInt})
			return LValue{Type: ft, Addr: fieldAddr, Pattern: AccessDirect}, nil

		case TagVector:
			idxs, err := swizzleIndices(n.Member, base.Type.Count, n.Line)
			if err != nil {
				return LValue{}, err
			}
			seen := map[int]bool{}
			for _, i := range idxs {
				if seen[i] {
					return LValue{}, fmt.Errorf("line %d: %w: swizzle %q repeats a component",
						n.Line, ErrNotAssignable, n.Member)
				}
				seen[i] = true
			}
			t := swizzleType(base.Type, len(idxs))
			if base.IsSSA() {
				regs := make([]ir.Reg, len(idxs))
				for i, c := range idxs {
					regs[i] = base.Regs[c]
				}
				return LValue{Type: t, Regs: regs}, nil
			}
			addr := fg.materializeAddr(&base)
			sel := make([]int, len(idxs))
			for i, c := range idxs {
				if base.Pattern == AccessComponentSelect {
					sel[i] = base.Select[c]
				} else {
					sel[i] = c * 4
				}
			}
			return LValue{Type: t, Addr: addr, Pattern: AccessComponentSelect, Select: sel}, nil
		}
		return LValue{}, fmt.Errorf("line %d: %s has no member %q", n.Line, base.Type, n.Member)

	case *IndexExpr:
		base, err := fg.genLValue(n.Base)
		if err != nil {
			return LValue{}, err
		}
		switch base.Type.Tag {
		case TagArray:
			idx, it, err := fg.genExpr(n.Index)
			if err != nil {
				return LValue{}, err
			}
			if !it.Equal(TypeInt) {
				return LValue{}, fmt.Errorf("line %d: %w: array index is %s, want int",
					n.Line, ErrTypeMismatch, it)
			}
			addr := fg.materializeAddr(&base)
			sz := fg.constWord(int64(base.Type.Elem.ByteSize()), ir.Int)
			off := fg.op2(ir.Mul, ir.Int, idx[0], sz)
			return LValue{Type: *base.Type.Elem, Addr: addr, Pattern: AccessArrayElement,
				ElemOff: off, ElemTy: *base.Type.Elem}, nil

		case TagVector:
			c, err := fg.constIndex(n.Index, base.Type.Count, n.Line)
			if err != nil {
				return LValue{}, err
			}
			st := TypeFloat
			if base.Type.Kind == KindBool {
				st = TypeBool
			}
			if base.IsSSA() {
				return LValue{Type: st, Regs: base.Regs[c : c+1]}, nil
			}
			addr := fg.materializeAddr(&base)
			off := c * 4
			if base.Pattern == AccessComponentSelect {
				off = base.Select[c]
			}
			return LValue{Type: st, Addr: addr, Pattern: AccessComponentSelect, Select: []int{off}}, nil

		case TagMatrix:
			c, err := fg.constIndex(n.Index, base.Type.Rows, n.Line)
			if err != nil {
				return LValue{}, err
			}
			rt := Vec(base.Type.Rows)
			w := c * base.Type.Rows
			if base.IsSSA() {
				return LValue{Type: rt, Regs: base.Regs[w : w+base.Type.Rows]}, nil
			}
			addr := fg.materializeAddr(&base)
			rowAddr := fg.newReg()
			fg.emit(ir.Instr{Op: ir.AddImm, Dst: rowAddr, HasDst: true, A: addr, Imm: int64(w * 4), Kind: ir.UInt})
			return LValue{Type: rt, Addr: rowAddr, Pattern: AccessDirect}, nil
		}
		return LValue{}, fmt.Errorf("line %d: %s is not indexable", n.Line, base.Type)
	}
	return LValue{}, fmt.Errorf("line %d: %w: %s", e.SrcLine(), ErrNotAssignable, e)
}

// constIndex folds a vector or matrix index, which must be a constant
// inside the component range.
func (fg *funcGen) constIndex(e Expr, n, line int) (int, error) {
	v, ok := foldConst(e, fg.scope)
	if !ok || v.Kind != KindInt {
		return 0, fmt.Errorf("line %d: vector and matrix indices must be integer constants", line)
	}
	if v.I < 0 || v.I >= int64(n) {
		return 0, fmt.Errorf("line %d: index %d out of range [0, %d)", line, v.I, n)
	}
	return int(v.I), nil
}

func swizzleIndices(member string, count, line int) ([]int, error) {
	if len(member) < 1 || len(member) > 4 {
		return nil, fmt.Errorf("line %d: bad swizzle %q", line, member)
	}
	idxs := make([]int, 0, len(member))
	for _, ch := range member {
		i, ok := swizzleIdx[ch]
		if !ok || i >= count {
			return nil, fmt.Errorf("line %d: component %q not valid for a %d-component vector",
				line, string(ch), count)
		}
		idxs = append(idxs, i)
	}
	return idxs, nil
}

func swizzleType(base Type, n int) Type {
	if n == 1 {
		if base.Kind == KindBool {
			return TypeBool
		}
		return TypeFloat
	}
	if base.Kind == KindBool {
		return BVec(n)
	}
	return Vec(n)
}

// ---- Expressions ----

func (fg *funcGen) genExpr(e Expr) ([]ir.Reg, Type, error) {
	switch n := e.(type) {
	case *FloatLit:
		return []ir.Reg{fg.constFloat(n.Value)}, TypeFloat, nil
	case *IntLit:
		return []ir.Reg{fg.constWord(n.Value, ir.Int)}, TypeInt, nil
	case *UintLit:
		return []ir.Reg{fg.constWord(int64(uint32(n.Value)), ir.UInt)}, TypeUInt, nil
	case *BoolLit:
		v := int64(0)
		if n.Value {
			v = 1
		}
		return []ir.Reg{fg.constWord(v, ir.Bool)}, TypeBool, nil
	case *StringLit:
		return nil, Type{}, fmt.Errorf("line %d: string literals are only valid as print arguments", n.Line)

	case *VarRef:
		sym, ok := fg.scope.Lookup(n.Name)
		if !ok {
			return nil, Type{}, fmt.Errorf("line %d: %w: %q", n.Line, ErrUndefinedSymbol, n.Name)
		}
		if sym.Const {
			return []ir.Reg{fg.constValue(sym.ConstVal)}, sym.Type, nil
		}
		lv := sym.LV
		return fg.loadLValue(&lv), sym.Type, nil

	case *UnaryExpr:
		return fg.genUnary(n)
	case *PostfixExpr:
		return fg.genIncDec(n.Operand, n.Op, false, n.Line)
	case *BinaryExpr:
		l, lt, err := fg.genExpr(n.Left)
		if err != nil {
			return nil, Type{}, err
		}
		r, rt, err := fg.genExpr(n.Right)
		if err != nil {
			return nil, Type{}, err
		}
		return fg.emitBinary(n.Op, lt, l, rt, r, n.Line)

	case *LogicalExpr:
		return fg.genLogical(n)
	case *CallExpr:
		return fg.genCallExpr(n)
	case *ConstructorCall:
		return fg.genConstructor(n)
	case *MemberExpr:
		return fg.genMemberRead(n)
	case *IndexExpr:
		return fg.genIndexRead(n)
	}
	return nil, Type{}, fmt.Errorf("unhandled expression %T", e)
}

// constValue materialises a folded constant.
func (fg *funcGen) constValue(v ConstValue) ir.Reg {
	switch v.Kind {
	case KindFloat:
		return fg.constFloat(v.F)
	case KindInt:
		return fg.constWord(v.I, ir.Int)
	case KindUInt:
		return fg.constWord(int64(uint32(v.U)), ir.UInt)
	default:
		b := int64(0)
		if v.B {
			b = 1
		}
		return fg.constWord(b, ir.Bool)
	}
}

func (fg *funcGen) genUnary(n *UnaryExpr) ([]ir.Reg, Type, error) {
	switch n.Op {
	case PLUS_PLUS, MINUS_MINUS:
		return fg.genIncDec(n.Operand, n.Op, true, n.Line)
	}

	vals, t, err := fg.genExpr(n.Operand)
	if err != nil {
		return nil, Type{}, err
	}
	switch n.Op {
	case MINUS:
		if t.IsFloatish() {
			out := make([]ir.Reg, len(vals))
			for i, v := range vals {
				out[i] = fg.op1(ir.FNeg, ir.Float, v)
			}
			return out, t, nil
		}
		if t.IsNumeric() {
			return []ir.Reg{fg.op1(ir.Neg, t.Kind.irClass(), vals[0])}, t, nil
		}
	case NOT:
		if t.Equal(TypeBool) {
			return []ir.Reg{fg.op1(ir.Not, ir.Bool, vals[0])}, t, nil
		}
	case TILDE:
		if t.Equal(TypeInt) || t.Equal(TypeUInt) {
			ones := fg.constWord(-1, t.Kind.irClass())
			return []ir.Reg{fg.op2(ir.Xor, t.Kind.irClass(), vals[0], ones)}, t, nil
		}
	}
	return nil, Type{}, fmt.Errorf("line %d: %w: operator %s on %s",
		n.Line, ErrTypeMismatch, opSymbol(n.Op), t)
}

// genIncDec lowers ++/-- in either fixity. prefix selects whether the
// updated or the original value is the expression's result.
func (fg *funcGen) genIncDec(operand Expr, op TokenType, prefix bool, line int) ([]ir.Reg, Type, error) {
	lv, err := fg.genLValue(operand)
	if err != nil {
		return nil, Type{}, err
	}
	t := lv.Type
	if t.Tag != TagScalar || t.Kind == KindBool {
		return nil, Type{}, fmt.Errorf("line %d: %w: %s on %s",
			line, ErrTypeMismatch, opSymbol(op), t)
	}
	old := fg.loadLValue(&lv)[0]

	var one ir.Reg
	var updated ir.Reg
	if t.Kind == KindFloat {
		one = fg.constFloat(1.0)
		irOp := ir.FAdd
		if op == MINUS_MINUS {
			irOp = ir.FSub
		}
		updated = fg.op2(irOp, ir.Float, old, one)
	} else {
		one = fg.constWord(1, t.Kind.irClass())
		irOp := ir.Add
		if op == MINUS_MINUS {
			irOp = ir.Sub
		}
		updated = fg.op2(irOp, t.Kind.irClass(), old, one)
	}
	fg.storeLValue(&lv, []ir.Reg{updated})

	if prefix {
		return []ir.Reg{updated}, t, nil
	}
	return []ir.Reg{old}, t, nil
}

func (fg *funcGen) genLogical(n *LogicalExpr) ([]ir.Reg, Type, error) {
	l, err := fg.genCond(n.Left)
	if err != nil {
		return nil, Type{}, err
	}
	res := fg.newReg()
	fg.emit(ir.Instr{Op: ir.Mov, Dst: res, HasDst: true, A: l})

	rightB := fg.newBlock()
	endB := fg.newBlock()
	if n.Op == AND_LOGICAL {
		fg.emit(ir.Instr{Op: ir.Br, A: l, Blk: rightB, Blk2: endB})
	} else {
		fg.emit(ir.Instr{Op: ir.Br, A: l, Blk: endB, Blk2: rightB})
	}

	fg.setBlock(rightB)
	r, err := fg.genCond(n.Right)
	if err != nil {
		return nil, Type{}, err
	}
	fg.emit(ir.Instr{Op: ir.Mov, Dst: res, HasDst: true, A: r})
	fg.emit(ir.Instr{Op: ir.Jmp, Blk: endB})

	fg.setBlock(endB)
	return []ir.Reg{res}, TypeBool, nil
}

// ---- Binary operators ----

func floatBinOp(op TokenType) (ir.Op, bool) {
	switch op {
	case PLUS:
		return ir.FAdd, true
	case MINUS:
		return ir.FSub, true
	case STAR:
		return ir.FMul, true
	case SLASH:
		return ir.FDiv, true
	}
	return 0, false
}

func intBinOp(op TokenType, k ScalarKind) (ir.Op, bool) {
	switch op {
	case PLUS:
		return ir.Add, true
	case MINUS:
		return ir.Sub, true
	case STAR:
		return ir.Mul, true
	case SLASH:
		return ir.Div, true
	case PERCENT:
		return ir.Mod, true
	case AMP:
		return ir.And, true
	case PIPE:
		return ir.Or, true
	case CARET:
		return ir.Xor, true
	case SHL_OP:
		return ir.Shl, true
	case SHR_OP:
		if k == KindInt {
			return ir.Sar, true
		}
		return ir.Shr, true
	}
	return 0, false
}

func cmpOp(op TokenType) (ir.Op, bool) {
	switch op {
	case EQUALS:
		return ir.CmpEq, true
	case NOT_EQ:
		return ir.CmpNe, true
	case LESS:
		return ir.CmpLt, true
	case LESS_EQ:
		return ir.CmpLe, true
	case GREATER:
		return ir.CmpGt, true
	case GREATER_EQ:
		return ir.CmpGe, true
	}
	return 0, false
}

func (fg *funcGen) emitBinary(op TokenType, lt Type, l []ir.Reg, rt Type, r []ir.Reg, line int) ([]ir.Reg, Type, error) {
	mismatch := func() ([]ir.Reg, Type, error) {
		return nil, Type{}, fmt.Errorf("line %d: %w: %s %s %s",
			line, ErrTypeMismatch, lt, opSymbol(op), rt)
	}

	// Comparisons work on scalars only; vectors compare through the
	// equal/lessThan builtin family.
	if cop, ok := cmpOp(op); ok {
		if lt.Tag != TagScalar || !lt.Equal(rt) {
			return mismatch()
		}
		if lt.Kind == KindBool && op != EQUALS && op != NOT_EQ {
			return mismatch()
		}
		return []ir.Reg{fg.op2(cop, lt.Kind.irClass(), l[0], r[0])}, TypeBool, nil
	}

	// Scalar integer arithmetic, bitwise and shifts.
	if lt.IsNumeric() && lt.Kind != KindFloat && lt.Equal(rt) {
		iop, ok := intBinOp(op, lt.Kind)
		if !ok {
			return mismatch()
		}
		return []ir.Reg{fg.op2(iop, lt.Kind.irClass(), l[0], r[0])}, lt, nil
	}

	fop, isArith := floatBinOp(op)
	if !isArith {
		return mismatch()
	}

	switch {
	// float op float
	case lt.Equal(TypeFloat) && rt.Equal(TypeFloat):
		return []ir.Reg{fg.op2(fop, ir.Float, l[0], r[0])}, lt, nil

	// vecN op vecN, componentwise
	case lt.Tag == TagVector && lt.Kind == KindFloat && lt.Equal(rt):
		out := make([]ir.Reg, len(l))
		for i := range l {
			out[i] = fg.op2(fop, ir.Float, l[i], r[i])
		}
		return out, lt, nil

	// vecN op float / float op vecN, broadcast
	case lt.Tag == TagVector && lt.Kind == KindFloat && rt.Equal(TypeFloat):
		out := make([]ir.Reg, len(l))
		for i := range l {
			out[i] = fg.op2(fop, ir.Float, l[i], r[0])
		}
		return out, lt, nil
	case lt.Equal(TypeFloat) && rt.Tag == TagVector && rt.Kind == KindFloat:
		out := make([]ir.Reg, len(r))
		for i := range r {
			out[i] = fg.op2(fop, ir.Float, l[0], r[i])
		}
		return out, rt, nil

	// matrix cases
	case lt.Tag == TagMatrix || rt.Tag == TagMatrix:
		return fg.emitMatrixOp(op, fop, lt, l, rt, r, line)
	}
	return mismatch()
}

// emitMatrixOp handles the matrix forms of + - * /. Storage is
// row-major: element (row, col) sits at index row*N+col.
func (fg *funcGen) emitMatrixOp(op TokenType, fop ir.Op, lt Type, l []ir.Reg, rt Type, r []ir.Reg, line int) ([]ir.Reg, Type, error) {
	mismatch := func() ([]ir.Reg, Type, error) {
		return nil, Type{}, fmt.Errorf("line %d: %w: %s %s %s",
			line, ErrTypeMismatch, lt, opSymbol(op), rt)
	}

	// matN +- matN and matN */ scalar are componentwise.
	componentwise := func(a, b []ir.Reg, broadcastB ir.Reg, useB bool, t Type) []ir.Reg {
		out := make([]ir.Reg, len(a))
		for i := range a {
			if useB {
				out[i] = fg.op2(fop, ir.Float, a[i], broadcastB)
			} else {
				out[i] = fg.op2(fop, ir.Float, a[i], b[i])
			}
		}
		return out
	}

	switch {
	case lt.Tag == TagMatrix && lt.Equal(rt):
		if op == PLUS || op == MINUS {
			return componentwise(l, r, 0, false, lt), lt, nil
		}
		if op == STAR {
			n := lt.Rows
			out := make([]ir.Reg, n*n)
			for row := 0; row < n; row++ {
				for col := 0; col < n; col++ {
					var acc ir.Reg
					for k := 0; k < n; k++ {
						p := fg.op2(ir.FMul, ir.Float, l[row*n+k], r[k*n+col])
						if k == 0 {
							acc = p
						} else {
							acc = fg.op2(ir.FAdd, ir.Float, acc, p)
						}
					}
					out[row*n+col] = acc
				}
			}
			return out, lt, nil
		}
		return mismatch()

	case lt.Tag == TagMatrix && rt.Equal(TypeFloat):
		if op == STAR || op == SLASH {
			return componentwise(l, nil, r[0], true, lt), lt, nil
		}
		return mismatch()

	case lt.Equal(TypeFloat) && rt.Tag == TagMatrix && op == STAR:
		out := make([]ir.Reg, len(r))
		for i := range r {
			out[i] = fg.op2(ir.FMul, ir.Float, l[0], r[i])
		}
		return out, rt, nil

	case lt.Tag == TagMatrix && rt.Tag == TagVector && rt.Kind == KindFloat &&
		rt.Count == lt.Rows && op == STAR:
		n := lt.Rows
		out := make([]ir.Reg, n)
		for row := 0; row < n; row++ {
			var acc ir.Reg
			for col := 0; col < n; col++ {
				p := fg.op2(ir.FMul, ir.Float, l[row*n+col], r[col])
				if col == 0 {
					acc = p
				} else {
					acc = fg.op2(ir.FAdd, ir.Float, acc, p)
				}
			}
			out[row] = acc
		}
		return out, rt, nil
	}
	return mismatch()
}

// ---- Member and index reads ----

func (fg *funcGen) genMemberRead(n *MemberExpr) ([]ir.Reg, Type, error) {
	vals, t, err := fg.genExpr(n.Base)
	if err != nil {
		return nil, Type{}, err
	}
	switch t.Tag {
	case TagStruct:
		off, ft, ok := t.FieldOffset(n.Member)
		if !ok {
			return nil, Type{}, fmt.Errorf("line %d: %s has no field %q", n.Line, t, n.Member)
		}
		w := off / 4
		return vals[w : w+ft.Components()], ft, nil

	case TagVector:
		idxs, err := swizzleIndices(n.Member, t.Count, n.Line)
		if err != nil {
			return nil, Type{}, err
		}
		out := make([]ir.Reg, len(idxs))
		for i, c := range idxs {
			out[i] = vals[c]
		}
		return out, swizzleType(t, len(idxs)), nil
	}
	return nil, Type{}, fmt.Errorf("line %d: %s has no member %q", n.Line, t, n.Member)
}

func (fg *funcGen) genIndexRead(n *IndexExpr) ([]ir.Reg, Type, error) {
	// Array reads go through the lvalue machinery so dynamic indices
	// get a real address computation.
	if lv, err := fg.tryLValueArray(n); lv != nil {
		vals := fg.loadLValue(lv)
		return vals, lv.Type, nil
	} else if err != nil {
		return nil, Type{}, err
	}

	vals, t, err := fg.genExpr(n.Base)
	if err != nil {
		return nil, Type{}, err
	}
	switch t.Tag {
	case TagVector:
		c, err := fg.constIndex(n.Index, t.Count, n.Line)
		if err != nil {
			return nil, Type{}, err
		}
		st := TypeFloat
		if t.Kind == KindBool {
			st = TypeBool
		}
		return vals[c : c+1], st, nil
	case TagMatrix:
		c, err := fg.constIndex(n.Index, t.Rows, n.Line)
		if err != nil {
			return nil, Type{}, err
		}
		return vals[c*t.Rows : (c+1)*t.Rows], Vec(t.Rows), nil
	case TagArray:
		// Array rvalues (call results) only take constant indices;
		// there is no address to offset at runtime.
		c, err := fg.constIndex(n.Index, t.Size, n.Line)
		if err != nil {
			return nil, Type{}, err
		}
		ew := t.Elem.Components()
		return vals[c*ew : (c+1)*ew], *t.Elem, nil
	}
	return nil, Type{}, fmt.Errorf("line %d: %s is not indexable", n.Line, t)
}

// tryLValueArray resolves n as an array-element lvalue when its base
// is an addressable array; (nil, nil) means "not that shape, fall back".
func (fg *funcGen) tryLValueArray(n *IndexExpr) (*LValue, error) {
	t, ok := fg.staticTypeOf(n.Base)
	if !ok || t.Tag != TagArray {
		return nil, nil
	}
	lv, err := fg.genLValue(n)
	if err != nil {
		return nil, err
	}
	return &lv, nil
}

// staticTypeOf types simple addressable expressions without emitting
// code. It only needs to be right for the shapes genLValue accepts.
func (fg *funcGen) staticTypeOf(e Expr) (Type, bool) {
	switch n := e.(type) {
	case *VarRef:
		sym, ok := fg.scope.Lookup(n.Name)
		if !ok || sym.Const {
			return Type{}, false
		}
		return sym.Type, true
	case *MemberExpr:
		bt, ok := fg.staticTypeOf(n.Base)
		if !ok || bt.Tag != TagStruct {
			return Type{}, false
		}
		_, ft, ok := bt.FieldOffset(n.Member)
		return ft, ok
	case *IndexExpr:
		bt, ok := fg.staticTypeOf(n.Base)
		if !ok || bt.Tag != TagArray {
			return Type{}, false
		}
		return *bt.Elem, true
	}
	return Type{}, false
}

// ---- Calls ----

func (fg *funcGen) genCallExpr(s *CallExpr) ([]ir.Reg, Type, error) {
	if s.Name == "print" {
		return fg.genPrint(s)
	}

	argVals := make([][]ir.Reg, len(s.Args))
	argTypes := make([]Type, len(s.Args))
	for i, a := range s.Args {
		vals, t, err := fg.genExpr(a)
		if err != nil {
			return nil, Type{}, err
		}
		argVals[i] = vals
		argTypes[i] = t
	}

	o, err := fg.mg.reg.Resolve(s.Name, argTypes)
	if err != nil {
		return nil, Type{}, fmt.Errorf("line %d: %w", s.Line, err)
	}
	if err := fg.mg.require(o); err != nil {
		return nil, Type{}, err
	}

	retN := o.Ret.Components()
	var args []ir.Reg
	var sretAddr ir.Reg
	if retN > 1 {
		off := fg.allocScratch(o.Ret.ByteSize())
		sretAddr = fg.frameAddr(off)
		args = append(args, sretAddr)
	}

	// out/inout arguments travel through frame scratch: the callee
	// writes behind a pointer, and the caller copies the result back
	// into the original lvalue afterwards. That keeps swizzled and
	// SSA-resident arguments on the same path as plain variables.
	type writeback struct {
		lv   LValue
		addr ir.Reg
		n    int
	}
	var wbs []writeback

	for i, p := range o.Params {
		if p.Qual == QualIn {
			args = append(args, argVals[i]...)
			continue
		}
		lv, err := fg.genLValue(s.Args[i])
		if err != nil {
			return nil, Type{}, fmt.Errorf("line %d: argument %d of %s must be assignable: %w",
				s.Line, i+1, s.Name, err)
		}
		n := p.Type.Components()
		off := fg.allocScratch(n * 4)
		addr := fg.frameAddr(off)
		if p.Qual == QualInOut {
			for c, v := range argVals[i] {
				fg.emit(ir.Instr{Op: ir.Store, A: addr, B: v, Imm: int64(c * 4)})
			}
		}
		args = append(args, addr)
		wbs = append(wbs, writeback{lv: lv, addr: addr, n: n})
	}

	var dst ir.Reg
	hasDst := retN == 1
	if hasDst {
		dst = fg.newReg()
	}
	fg.emit(ir.Instr{Op: ir.Call, Sym: o.Mangled, Dst: dst, HasDst: hasDst, Args: args})

	for _, wb := range wbs {
		vals := make([]ir.Reg, wb.n)
		for c := 0; c < wb.n; c++ {
			r := fg.newReg()
			fg.emit(ir.Instr{Op: ir.Load, Dst: r, HasDst: true, A: wb.addr, Imm: int64(c * 4)})
			vals[c] = r
		}
		fg.storeLValue(&wb.lv, vals)
	}

	switch {
	case retN == 0:
		return nil, TypeVoid, nil
	case retN == 1:
		return []ir.Reg{dst}, o.Ret, nil
	default:
		out := make([]ir.Reg, retN)
		for c := 0; c < retN; c++ {
			r := fg.newReg()
			fg.emit(ir.Instr{Op: ir.Load, Dst: r, HasDst: true, A: sretAddr, Imm: int64(c * 4)})
			out[c] = r
		}
		return out, o.Ret, nil
	}
}

// genPrint lowers the debug print statement to host imports. Each
// argument goes out through its own typed import; print_nl finishes
// the line.
func (fg *funcGen) genPrint(s *CallExpr) ([]ir.Reg, Type, error) {
	for i, a := range s.Args {
		if lit, ok := a.(*StringLit); ok {
			off := fg.mg.addString(lit.Value)
			addr := fg.newReg()
			fg.emit(ir.Instr{Op: ir.DataAddr, Dst: addr, HasDst: true, Imm: int64(off)})
			ln := fg.constWord(int64(len(lit.Value)), ir.UInt)
			fg.emit(ir.Instr{Op: ir.HostCall, Sym: "print_str", Args: []ir.Reg{addr, ln}})
			continue
		}
		vals, t, err := fg.genExpr(a)
		if err != nil {
			return nil, Type{}, err
		}
		if t.Tag != TagScalar {
			return nil, Type{}, fmt.Errorf("line %d: print argument %d is %s; only scalars and strings print",
				s.Line, i+1, t)
		}
		var sym string
		switch t.Kind {
		case KindFloat:
			sym = "print_f"
		case KindInt:
			sym = "print_i"
		case KindUInt:
			sym = "print_u"
		default:
			sym = "print_b"
		}
		fg.emit(ir.Instr{Op: ir.HostCall, Sym: sym, Args: []ir.Reg{vals[0]}})
	}
	fg.emit(ir.Instr{Op: ir.HostCall, Sym: "print_nl"})
	return nil, TypeVoid, nil
}

// ---- Constructors ----

func (fg *funcGen) genConstructor(s *ConstructorCall) ([]ir.Reg, Type, error) {
	switch s.TypeName {
	case "float", "int", "uint", "bool":
		return fg.genScalarConv(s)
	case "vec2", "vec3", "vec4":
		return fg.genVectorCtor(s, Vec(int(s.TypeName[3]-'0')), KindFloat)
	case "bvec2", "bvec3", "bvec4":
		return fg.genVectorCtor(s, BVec(int(s.TypeName[4]-'0')), KindBool)
	case "mat2", "mat3", "mat4":
		return fg.genMatrixCtor(s, Mat(int(s.TypeName[3]-'0')))
	}
	if t, ok := fg.mg.structs.Lookup(s.TypeName); ok {
		return fg.genStructCtor(s, t)
	}
	return nil, Type{}, fmt.Errorf("line %d: unknown constructor %q", s.Line, s.TypeName)
}

// genScalarConv handles the explicit conversions. There are no
// implicit ones, so this is the only place types change kind.
func (fg *funcGen) genScalarConv(s *ConstructorCall) ([]ir.Reg, Type, error) {
	if len(s.Args) != 1 {
		return nil, Type{}, fmt.Errorf("line %d: %w: %s() takes one argument, got %d",
			s.Line, ErrInvalidArgumentCount, s.TypeName, len(s.Args))
	}
	vals, from, err := fg.genExpr(s.Args[0])
	if err != nil {
		return nil, Type{}, err
	}
	if from.Tag != TagScalar {
		return nil, Type{}, fmt.Errorf("line %d: %w: %s(%s)", s.Line, ErrTypeMismatch, s.TypeName, from)
	}
	v := vals[0]

	switch s.TypeName {
	case "float":
		switch from.Kind {
		case KindFloat:
			return []ir.Reg{v}, TypeFloat, nil
		case KindInt, KindBool:
			return []ir.Reg{fg.op1(ir.CvtIF, ir.Int, v)}, TypeFloat, nil
		case KindUInt:
			return []ir.Reg{fg.op1(ir.CvtIF, ir.UInt, v)}, TypeFloat, nil
		}
	case "int":
		switch from.Kind {
		case KindFloat:
			// Truncate toward zero; the bit pattern wraps, it never
			// saturates.
			return []ir.Reg{fg.op1(ir.CvtFI, ir.Int, v)}, TypeInt, nil
		case KindInt:
			return []ir.Reg{v}, TypeInt, nil
		case KindUInt, KindBool:
			return []ir.Reg{fg.mov(v)}, TypeInt, nil
		}
	case "uint":
		switch from.Kind {
		case KindFloat:
			return []ir.Reg{fg.op1(ir.CvtFI, ir.UInt, v)}, TypeUInt, nil
		case KindUInt:
			return []ir.Reg{v}, TypeUInt, nil
		case KindInt, KindBool:
			return []ir.Reg{fg.mov(v)}, TypeUInt, nil
		}
	case "bool":
		if from.Kind == KindBool {
			return []ir.Reg{v}, TypeBool, nil
		}
	}
	return nil, Type{}, fmt.Errorf("line %d: %w: no conversion %s(%s)",
		s.Line, ErrTypeMismatch, s.TypeName, from)
}

func (fg *funcGen) genVectorCtor(s *ConstructorCall, t Type, kind ScalarKind) ([]ir.Reg, Type, error) {
	n := t.Count
	var flat []ir.Reg
	for i, a := range s.Args {
		vals, at, err := fg.genExpr(a)
		if err != nil {
			return nil, Type{}, err
		}
		okScalar := at.Tag == TagScalar && at.Kind == kind
		okVector := at.Tag == TagVector && at.Kind == kind
		if !okScalar && !okVector {
			return nil, Type{}, fmt.Errorf("line %d: %w: argument %d of %s() is %s",
				s.Line, ErrTypeMismatch, i+1, t, at)
		}
		flat = append(flat, vals...)
	}

	// A single scalar splats across all components.
	if len(s.Args) == 1 && len(flat) == 1 {
		out := make([]ir.Reg, n)
		for i := range out {
			out[i] = flat[0]
		}
		return out, t, nil
	}
	if len(flat) != n {
		return nil, Type{}, fmt.Errorf("line %d: %w: %s() needs %d components, got %d",
			s.Line, ErrInvalidArgumentCount, t, n, len(flat))
	}
	return flat, t, nil
}

func (fg *funcGen) genMatrixCtor(s *ConstructorCall, t Type) ([]ir.Reg, Type, error) {
	n := t.Rows
	var flat []ir.Reg
	allScalar := true
	allRows := true
	for _, a := range s.Args {
		vals, at, err := fg.genExpr(a)
		if err != nil {
			return nil, Type{}, err
		}
		switch {
		case at.Equal(TypeFloat):
			allRows = false
		case at.Tag == TagVector && at.Kind == KindFloat && at.Count == n:
			allScalar = false
		default:
			return nil, Type{}, fmt.Errorf("line %d: %w: argument of %s() is %s",
				s.Line, ErrTypeMismatch, t, at)
		}
		flat = append(flat, vals...)
	}

	switch {
	// Single scalar builds the scaled identity.
	case len(s.Args) == 1 && allScalar:
		zero := fg.constFloat(0)
		out := make([]ir.Reg, n*n)
		for row := 0; row < n; row++ {
			for col := 0; col < n; col++ {
				if row == col {
					out[row*n+col] = flat[0]
				} else {
					out[row*n+col] = zero
				}
			}
		}
		return out, t, nil
	case allScalar && len(flat) == n*n:
		return flat, t, nil
	case allRows && len(s.Args) == n:
		return flat, t, nil
	}
	return nil, Type{}, fmt.Errorf("line %d: %w: %s() takes 1 scalar, %d scalars or %d vec%d rows",
		s.Line, ErrInvalidArgumentCount, t, n*n, n, n)
}

func (fg *funcGen) genStructCtor(s *ConstructorCall, t Type) ([]ir.Reg, Type, error) {
	if len(s.Args) != len(t.Fields) {
		return nil, Type{}, fmt.Errorf("line %d: %w: %s() takes %d fields, got %d",
			s.Line, ErrInvalidArgumentCount, t, len(t.Fields), len(s.Args))
	}
	var flat []ir.Reg
	for i, a := range s.Args {
		vals, at, err := fg.genExpr(a)
		if err != nil {
			return nil, Type{}, err
		}
		if !at.Equal(t.Fields[i].Type) {
			return nil, Type{}, fmt.Errorf("line %d: %w: field %q of %s is %s, got %s",
				s.Line, ErrTypeMismatch, t.Fields[i].Name, t, t.Fields[i].Type, at)
		}
		flat = append(flat, vals...)
	}
	return flat, t, nil
}
