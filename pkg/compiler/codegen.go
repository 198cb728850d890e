package compiler

import (
	"fmt"
	"math"

	"glowc/pkg/ir"
)

// moduleGen lowers a compilation unit to IR. Functions are lowered on
// demand: user functions eagerly (they are the exports), builtin and
// library overloads the first time a call resolves to them, so unused
// prelude code never reaches the backends.
type moduleGen struct {
	structs *StructTable
	reg     *Registry
	root    *Scope // module-level constants
	mod     *ir.Module

	emitted map[string]bool
	strOffs map[string]int
}

func newModuleGen(structs *StructTable, reg *Registry, root *Scope) *moduleGen {
	return &moduleGen{
		structs: structs,
		reg:     reg,
		root:    root,
		mod:     &ir.Module{},
		emitted: make(map[string]bool),
		strOffs: make(map[string]int),
	}
}

// require makes sure the overload's lowered function exists in the
// module, generating it if this is the first use.
func (mg *moduleGen) require(o *Overload) error {
	if mg.emitted[o.Mangled] {
		return nil
	}
	mg.emitted[o.Mangled] = true
	if o.Build != nil {
		return o.Build(mg)
	}
	return mg.lowerDecl(o)
}

// addString interns a literal into the data segment and returns its
// byte offset.
func (mg *moduleGen) addString(s string) int {
	if off, ok := mg.strOffs[s]; ok {
		return off
	}
	off := len(mg.mod.Data)
	mg.mod.Data = append(mg.mod.Data, []byte(s)...)
	mg.strOffs[s] = off
	return off
}

// resolveType turns a syntactic TypeSpec into a semantic Type,
// folding any array size against sc.
func (mg *moduleGen) resolveType(ts TypeSpec, sc *Scope) (Type, error) {
	var base Type
	switch ts.Token {
	case FLOAT:
		base = TypeFloat
	case INT:
		base = TypeInt
	case UINT:
		base = TypeUInt
	case BOOL:
		base = TypeBool
	case VEC2:
		base = Vec(2)
	case VEC3:
		base = Vec(3)
	case VEC4:
		base = Vec(4)
	case BVEC2:
		base = BVec(2)
	case BVEC3:
		base = BVec(3)
	case BVEC4:
		base = BVec(4)
	case MAT2:
		base = Mat(2)
	case MAT3:
		base = Mat(3)
	case MAT4:
		base = Mat(4)
	case VOID:
		base = TypeVoid
	case IDENTIFIER:
		t, ok := mg.structs.Lookup(ts.Name)
		if !ok {
			return Type{}, fmt.Errorf("line %d: unknown type %q", ts.Line, ts.Name)
		}
		base = t
	default:
		return Type{}, fmt.Errorf("line %d: bad type", ts.Line)
	}
	if ts.ArraySize != nil {
		if base.Tag == TagVoid {
			return Type{}, fmt.Errorf("line %d: array of void", ts.Line)
		}
		n, err := foldArraySize(ts.ArraySize, sc)
		if err != nil {
			return Type{}, fmt.Errorf("line %d: %w", ts.Line, err)
		}
		base = ArrayOf(base, n)
	}
	return base, nil
}

// lowerDecl generates the IR function for a parsed overload body.
func (mg *moduleGen) lowerDecl(o *Overload) error {
	fn := &ir.Func{
		Name:     o.Mangled,
		Ret:      o.Ret.Desc(),
		Exported: o.Kind == FuncUser,
	}

	// Hidden return pointer for any multi-word return.
	if o.Ret.Components() > 1 {
		fn.Params = append(fn.Params, ir.Param{
			Name: "$ret", Desc: ir.ValueDesc{Class: ir.UInt, Words: 1}, HiddenRet: true,
		})
	}
	for i, p := range o.Params {
		fn.Params = append(fn.Params, ir.Param{
			Name:  o.Decl.Params[i].Name,
			Desc:  p.Type.Desc(),
			ByRef: p.Qual != QualIn,
		})
	}
	fn.NumRegs = fn.ArgWords()

	fg := &funcGen{
		mg:      mg,
		fn:      fn,
		ovl:     o,
		retType: o.Ret,
		scope:   NewScope(mg.root),
	}
	mg.mod.Funcs = append(mg.mod.Funcs, fn)

	entry := fg.newBlock()
	fg.setBlock(entry)
	if err := fg.bindParams(); err != nil {
		return err
	}
	if err := fg.genBlockInto(o.Decl.Body, fg.scope); err != nil {
		return fmt.Errorf("in %s: %w", o.Name, err)
	}

	// Fall off the end: legal for void, and for non-void only if every
	// path already returned. An unterminated tail returns zeros so the
	// backends never run off the block list.
	if !fg.fn.Blocks[fg.cur].Terminated() {
		if o.Ret.Tag != TagVoid {
			zero := make([]ir.Reg, o.Ret.Components())
			for i := range zero {
				zero[i] = fg.constWord(0, o.Ret.Desc().Class)
			}
			fg.emitReturn(zero)
		} else {
			fg.emit(ir.Instr{Op: ir.Ret})
		}
	}
	return nil
}

// funcGen carries the state for lowering one function body.
type funcGen struct {
	mg      *moduleGen
	fn      *ir.Func
	ovl     *Overload
	scope   *Scope
	cur     int
	retPtr  ir.Reg
	retType Type
	loops   []loopCtx
}

type loopCtx struct {
	brk  int // jump target for break
	cont int // jump target for continue
}

func (fg *funcGen) newReg() ir.Reg {
	r := fg.fn.NumRegs
	fg.fn.NumRegs++
	return r
}

func (fg *funcGen) newBlock() int {
	fg.fn.Blocks = append(fg.fn.Blocks, &ir.Block{})
	return len(fg.fn.Blocks) - 1
}

func (fg *funcGen) setBlock(i int) { fg.cur = i }

func (fg *funcGen) emit(in ir.Instr) {
	b := fg.fn.Blocks[fg.cur]
	b.Instrs = append(b.Instrs, in)
}

// allocScratch reserves n bytes in the function frame and returns the
// byte offset.
func (fg *funcGen) allocScratch(n int) int {
	off := fg.fn.FrameSize
	fg.fn.FrameSize += n
	return off
}

// frameAddr loads the address of a frame offset into a fresh register.
func (fg *funcGen) frameAddr(off int) ir.Reg {
	r := fg.newReg()
	fg.emit(ir.Instr{Op: ir.FrameAddr, Dst: r, HasDst: true, Imm: int64(off), Kind: ir.UInt})
	return r
}

// constWord emits a Const of the given class.
func (fg *funcGen) constWord(imm int64, k ir.Class) ir.Reg {
	r := fg.newReg()
	fg.emit(ir.Instr{Op: ir.Const, Dst: r, HasDst: true, Imm: imm, Kind: k})
	return r
}

// constFloat emits a float constant. The raw float64 bits travel in
// Imm until the fixed-point pass rewrites them to Q32.
func (fg *funcGen) constFloat(v float64) ir.Reg {
	r := fg.newReg()
	fg.emit(ir.Instr{Op: ir.Const, Dst: r, HasDst: true,
		Imm: int64(math.Float64bits(v)), Kind: ir.Float})
	return r
}

// bindParams maps the function's argument words to symbols. By-value
// words become the variable's fixed registers; by-reference parameters
// and array-carrying values get memory-backed lvalues.
func (fg *funcGen) bindParams() error {
	word := 0
	if fg.fn.UsesSret() {
		fg.retPtr = 0
		word = 1
	}
	for i, p := range fg.ovl.Params {
		name := fg.ovl.Decl.Params[i].Name
		sym := &Symbol{Name: name, Type: p.Type}

		switch {
		case p.Qual != QualIn:
			sym.LV = LValue{Type: p.Type, Addr: ir.Reg(word), Pattern: AccessDirect}
			word++
		case p.Type.ContainsArray():
			// Value arrives flattened in registers but indexing needs
			// an address, so spill it to the frame on entry.
			n := p.Type.Components()
			off := fg.allocScratch(n * 4)
			base := fg.frameAddr(off)
			for c := 0; c < n; c++ {
				fg.emit(ir.Instr{Op: ir.Store, A: base, B: ir.Reg(word + c), Imm: int64(c * 4)})
			}
			sym.LV = LValue{Type: p.Type, Addr: base, Pattern: AccessDirect}
			word += n
		default:
			n := p.Type.Components()
			regs := make([]ir.Reg, n)
			for c := 0; c < n; c++ {
				regs[c] = ir.Reg(word + c)
			}
			sym.LV = LValue{Type: p.Type, Regs: regs}
			word += n
		}
		if err := fg.scope.Declare(sym); err != nil {
			return err
		}
	}
	return nil
}

// emitReturn emits the return sequence for the given value words.
func (fg *funcGen) emitReturn(vals []ir.Reg) {
	if fg.fn.UsesSret() {
		for i, v := range vals {
			fg.emit(ir.Instr{Op: ir.Store, A: fg.retPtr, B: v, Imm: int64(i * 4)})
		}
		fg.emit(ir.Instr{Op: ir.Ret})
		return
	}
	if len(vals) == 0 {
		fg.emit(ir.Instr{Op: ir.Ret})
		return
	}
	fg.emit(ir.Instr{Op: ir.Ret, Args: []ir.Reg{vals[0]}})
}

// ---- Statements ----

// genBlockInto lowers the statements of blk in the given scope. The
// caller controls scoping so that function bodies share the parameter
// scope instead of opening a second level.
func (fg *funcGen) genBlockInto(blk *BlockStmt, sc *Scope) error {
	prev := fg.scope
	fg.scope = sc
	defer func() { fg.scope = prev }()

	for _, st := range blk.Stmts {
		if fg.fn.Blocks[fg.cur].Terminated() {
			// Unreachable code after return/break/continue is allowed
			// but never lowered.
			return nil
		}
		if err := fg.genStmt(st); err != nil {
			return err
		}
	}
	return nil
}

func (fg *funcGen) genStmt(st Stmt) error {
	switch s := st.(type) {
	case *BlockStmt:
		return fg.genBlockInto(s, NewScope(fg.scope))
	case *VarDecl:
		return fg.genVarDecl(s)
	case *ConstDecl:
		return fg.genConstDecl(s)
	case *Assignment:
		return fg.genAssign(s)
	case *ReturnStmt:
		return fg.genReturn(s)
	case *IfStmt:
		return fg.genIf(s)
	case *WhileStmt:
		return fg.genWhile(s)
	case *DoWhileStmt:
		return fg.genDoWhile(s)
	case *ForStmt:
		return fg.genFor(s)
	case *BreakStmt:
		if len(fg.loops) == 0 {
			return fmt.Errorf("line %d: break outside loop", s.Line)
		}
		fg.emit(ir.Instr{Op: ir.Jmp, Blk: fg.loops[len(fg.loops)-1].brk})
		return nil
	case *ContinueStmt:
		if len(fg.loops) == 0 {
			return fmt.Errorf("line %d: continue outside loop", s.Line)
		}
		fg.emit(ir.Instr{Op: ir.Jmp, Blk: fg.loops[len(fg.loops)-1].cont})
		return nil
	case *ExprStmt:
		_, _, err := fg.genExpr(s.E)
		return err
	}
	return fmt.Errorf("unhandled statement %T", st)
}

func (fg *funcGen) genVarDecl(s *VarDecl) error {
	t, err := fg.mg.resolveType(s.Type, fg.scope)
	if err != nil {
		return err
	}
	if t.Tag == TagVoid {
		return fmt.Errorf("line %d: variable %q of type void", s.Line, s.Name)
	}

	sym := &Symbol{Name: s.Name, Type: t}
	n := t.Components()

	if t.ContainsArray() {
		off := fg.allocScratch(n * 4)
		base := fg.frameAddr(off)
		sym.LV = LValue{Type: t, Addr: base, Pattern: AccessDirect}
	} else {
		regs := make([]ir.Reg, n)
		for i := range regs {
			regs[i] = fg.newReg()
		}
		sym.LV = LValue{Type: t, Regs: regs}
	}

	if s.Init != nil {
		vals, vt, err := fg.genExpr(s.Init)
		if err != nil {
			return err
		}
		if !vt.Equal(t) {
			return fmt.Errorf("line %d: %w: cannot initialise %s %q with %s",
				s.Line, ErrTypeMismatch, t, s.Name, vt)
		}
		fg.storeLValue(&sym.LV, vals)
	} else {
		// Declarations start zeroed so reads before first assignment
		// are deterministic on both targets.
		zero := fg.constWord(0, t.Desc().Class)
		vals := make([]ir.Reg, n)
		for i := range vals {
			vals[i] = zero
		}
		fg.storeLValue(&sym.LV, vals)
	}
	return fg.scope.Declare(sym)
}

func (fg *funcGen) genConstDecl(s *ConstDecl) error {
	t, err := fg.mg.resolveType(s.Type, fg.scope)
	if err != nil {
		return err
	}
	sym, err := foldConstDecl(s, t, fg.scope)
	if err != nil {
		return err
	}
	return fg.scope.Declare(sym)
}

// foldConstDecl checks and folds a const declaration; shared with the
// module-level const pass in Compile.
func foldConstDecl(s *ConstDecl, t Type, sc *Scope) (*Symbol, error) {
	if t.Tag != TagScalar {
		return nil, fmt.Errorf("line %d: const %q must be a scalar", s.Line, s.Name)
	}
	v, ok := foldConst(s.Init, sc)
	if !ok {
		return nil, fmt.Errorf("line %d: const %q initialiser is not a compile-time constant", s.Line, s.Name)
	}
	if v.Kind != t.Kind {
		return nil, fmt.Errorf("line %d: %w: const %s %q initialised with %s",
			s.Line, ErrTypeMismatch, t, s.Name, v.Kind)
	}
	return &Symbol{Name: s.Name, Type: t, Const: true, ConstVal: v}, nil
}

func (fg *funcGen) genAssign(s *Assignment) error {
	lv, err := fg.genLValue(s.Target)
	if err != nil {
		return err
	}
	rhs, rt, err := fg.genExpr(s.Value)
	if err != nil {
		return err
	}

	if s.Op != ASSIGN {
		cur := fg.loadLValue(&lv)
		var binOp TokenType
		switch s.Op {
		case PLUS_ASSIGN:
			binOp = PLUS
		case MINUS_ASSIGN:
			binOp = MINUS
		case STAR_ASSIGN:
			binOp = STAR
		case SLASH_ASSIGN:
			binOp = SLASH
		}
		combined, ct, err := fg.emitBinary(binOp, lv.Type, cur, rt, rhs, s.Line)
		if err != nil {
			return err
		}
		if !ct.Equal(lv.Type) {
			return fmt.Errorf("line %d: %w: %s %s= %s", s.Line, ErrTypeMismatch, lv.Type, opSymbol(binOp), rt)
		}
		fg.storeLValue(&lv, combined)
		return nil
	}

	if !rt.Equal(lv.Type) {
		return fmt.Errorf("line %d: %w: cannot assign %s to %s", s.Line, ErrTypeMismatch, rt, lv.Type)
	}
	fg.storeLValue(&lv, rhs)
	return nil
}

func (fg *funcGen) genReturn(s *ReturnStmt) error {
	if s.Value == nil {
		if fg.retType.Tag != TagVoid {
			return fmt.Errorf("line %d: missing return value (function returns %s)", s.Line, fg.retType)
		}
		fg.emit(ir.Instr{Op: ir.Ret})
		return nil
	}
	vals, t, err := fg.genExpr(s.Value)
	if err != nil {
		return err
	}
	if !t.Equal(fg.retType) {
		return fmt.Errorf("line %d: %w: returning %s from function returning %s",
			s.Line, ErrTypeMismatch, t, fg.retType)
	}
	fg.emitReturn(vals)
	return nil
}

// genCond lowers a condition expression, which must be scalar bool.
func (fg *funcGen) genCond(e Expr) (ir.Reg, error) {
	vals, t, err := fg.genExpr(e)
	if err != nil {
		return 0, err
	}
	if !t.Equal(TypeBool) {
		return 0, fmt.Errorf("line %d: %w: condition is %s, want bool", e.SrcLine(), ErrTypeMismatch, t)
	}
	return vals[0], nil
}

func (fg *funcGen) genIf(s *IfStmt) error {
	cond, err := fg.genCond(s.Cond)
	if err != nil {
		return err
	}
	thenB := fg.newBlock()
	endB := fg.newBlock()
	elseB := endB
	if s.Else != nil {
		elseB = fg.newBlock()
	}
	fg.emit(ir.Instr{Op: ir.Br, A: cond, Blk: thenB, Blk2: elseB})

	fg.setBlock(thenB)
	if err := fg.genBlockInto(s.Then, NewScope(fg.scope)); err != nil {
		return err
	}
	if !fg.fn.Blocks[fg.cur].Terminated() {
		fg.emit(ir.Instr{Op: ir.Jmp, Blk: endB})
	}

	if s.Else != nil {
		fg.setBlock(elseB)
		if err := fg.genStmt(s.Else); err != nil {
			return err
		}
		if !fg.fn.Blocks[fg.cur].Terminated() {
			fg.emit(ir.Instr{Op: ir.Jmp, Blk: endB})
		}
	}
	fg.setBlock(endB)
	return nil
}

func (fg *funcGen) genWhile(s *WhileStmt) error {
	headB := fg.newBlock()
	bodyB := fg.newBlock()
	endB := fg.newBlock()

	fg.emit(ir.Instr{Op: ir.Jmp, Blk: headB})
	fg.setBlock(headB)
	cond, err := fg.genCond(s.Cond)
	if err != nil {
		return err
	}
	fg.emit(ir.Instr{Op: ir.Br, A: cond, Blk: bodyB, Blk2: endB})

	fg.loops = append(fg.loops, loopCtx{brk: endB, cont: headB})
	fg.setBlock(bodyB)
	if err := fg.genBlockInto(s.Body, NewScope(fg.scope)); err != nil {
		return err
	}
	fg.loops = fg.loops[:len(fg.loops)-1]
	if !fg.fn.Blocks[fg.cur].Terminated() {
		fg.emit(ir.Instr{Op: ir.Jmp, Blk: headB})
	}
	fg.setBlock(endB)
	return nil
}

func (fg *funcGen) genDoWhile(s *DoWhileStmt) error {
	bodyB := fg.newBlock()
	condB := fg.newBlock()
	endB := fg.newBlock()

	fg.emit(ir.Instr{Op: ir.Jmp, Blk: bodyB})
	fg.loops = append(fg.loops, loopCtx{brk: endB, cont: condB})
	fg.setBlock(bodyB)
	if err := fg.genBlockInto(s.Body, NewScope(fg.scope)); err != nil {
		return err
	}
	fg.loops = fg.loops[:len(fg.loops)-1]
	if !fg.fn.Blocks[fg.cur].Terminated() {
		fg.emit(ir.Instr{Op: ir.Jmp, Blk: condB})
	}

	fg.setBlock(condB)
	cond, err := fg.genCond(s.Cond)
	if err != nil {
		return err
	}
	fg.emit(ir.Instr{Op: ir.Br, A: cond, Blk: bodyB, Blk2: endB})
	fg.setBlock(endB)
	return nil
}

func (fg *funcGen) genFor(s *ForStmt) error {
	// The init declaration lives in its own scope wrapping the loop.
	outer := NewScope(fg.scope)
	prev := fg.scope
	fg.scope = outer
	defer func() { fg.scope = prev }()

	if s.Init != nil {
		if err := fg.genStmt(s.Init); err != nil {
			return err
		}
	}

	headB := fg.newBlock()
	bodyB := fg.newBlock()
	postB := fg.newBlock()
	endB := fg.newBlock()

	fg.emit(ir.Instr{Op: ir.Jmp, Blk: headB})
	fg.setBlock(headB)
	if s.Cond != nil {
		cond, err := fg.genCond(s.Cond)
		if err != nil {
			return err
		}
		fg.emit(ir.Instr{Op: ir.Br, A: cond, Blk: bodyB, Blk2: endB})
	} else {
		fg.emit(ir.Instr{Op: ir.Jmp, Blk: bodyB})
	}

	fg.loops = append(fg.loops, loopCtx{brk: endB, cont: postB})
	fg.setBlock(bodyB)
	if err := fg.genBlockInto(s.Body, NewScope(fg.scope)); err != nil {
		return err
	}
	fg.loops = fg.loops[:len(fg.loops)-1]
	if !fg.fn.Blocks[fg.cur].Terminated() {
		fg.emit(ir.Instr{Op: ir.Jmp, Blk: postB})
	}

	fg.setBlock(postB)
	if s.Post != nil {
		if err := fg.genStmt(s.Post); err != nil {
			return err
		}
	}
	fg.emit(ir.Instr{Op: ir.Jmp, Blk: headB})
	fg.setBlock(endB)
	return nil
}
