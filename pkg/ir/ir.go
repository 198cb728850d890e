// Package ir defines the portable intermediate representation produced
// by the shader compiler and consumed by the execution backends.
//
// The IR is deliberately word-oriented: every value is a 32-bit word in
// a virtual register, and aggregate source values (vectors, matrices,
// structs) are either spread over consecutive registers or addressed in
// frame memory. Control flow is explicit basic blocks; each block ends
// in a jump, branch or return.
package ir

import (
	"fmt"
	"strings"
)

// Class is the scalar interpretation of a word.
type Class uint8

const (
	Float Class = iota // Q32 after the fixed-point pass
	Int
	UInt
	Bool
)

func (c Class) String() string {
	switch c {
	case Float:
		return "f"
	case Int:
		return "i"
	case UInt:
		return "u"
	case Bool:
		return "b"
	}
	return "?"
}

// ValueDesc describes a flattened source-level value: its scalar class
// and how many 32-bit words it spans (vec3 = 3, mat2 = 4, void = 0).
// Mat distinguishes a matrix from a vector of the same width, which
// matters at the host boundary (mat2 and vec4 both span 4 words).
type ValueDesc struct {
	Class Class
	Words int
	Mat   bool
}

// Reg is a virtual register index within a function.
type Reg = int

// Op enumerates IR instructions. Ops in the "float-semantic" group only
// exist between code generation and the fixed-point pass; backends never
// see them.
type Op uint8

const (
	Nop Op = iota

	Const     // Dst = Imm
	Mov       // Dst = A
	FrameAddr // Dst = frame base + Imm
	DataAddr  // Dst = address of module data + Imm
	Load      // Dst = mem32[A + Imm]
	Store     // mem32[A + Imm] = B

	Add // Dst = A + B (also Q32 add after the pass)
	Sub
	Mul // integer multiply (Kind selects signedness where it matters)
	Div
	Mod
	Neg
	And
	Or
	Xor
	Not // Dst = A == 0 ? 1 : 0 (logical)
	Shl
	Shr
	Sar
	AddImm // Dst = A + Imm

	CmpEq // Dst = A == B (Kind: Int/UInt/Float ordering)
	CmpNe
	CmpLt
	CmpLe
	CmpGt
	CmpGe

	// Float-semantic operations, rewritten by the fixed-point pass.
	FAdd
	FSub
	FMul
	FDiv
	FNeg
	FAbs
	FMin
	FMax
	FFloor
	FCeil
	FFract
	FSin
	FCos
	FSqrt
	FPow
	CvtFI // float -> int/uint, truncate toward zero, wrap
	CvtIF // int/uint -> float

	// Q32 operations, produced by the fixed-point pass.
	QMul
	QDiv
	QSqrt
	QSin
	QCos
	QPow
	QTrunc
	QFromInt
	QFloor
	QCeil
	QFract
	QAbs
	MinS // signed min/max; Q32 ordering equals int32 ordering
	MaxS

	Call     // Sym(Args...) -> Dst when HasDst
	HostCall // host import Sym(Args...)

	Jmp // -> Blk
	Br  // A != 0 ? Blk : Blk2
	Ret // return Args[0] if present
)

var opNames = map[Op]string{
	Nop: "nop", Const: "const", Mov: "mov", FrameAddr: "frameaddr",
	DataAddr: "dataaddr", Load: "load", Store: "store",
	Add: "add", Sub: "sub", Mul: "mul", Div: "div", Mod: "mod", Neg: "neg",
	And: "and", Or: "or", Xor: "xor", Not: "not",
	Shl: "shl", Shr: "shr", Sar: "sar", AddImm: "addimm",
	CmpEq: "cmpeq", CmpNe: "cmpne", CmpLt: "cmplt", CmpLe: "cmple",
	CmpGt: "cmpgt", CmpGe: "cmpge",
	FAdd: "fadd", FSub: "fsub", FMul: "fmul", FDiv: "fdiv", FNeg: "fneg",
	FAbs: "fabs", FMin: "fmin", FMax: "fmax", FFloor: "ffloor",
	FCeil: "fceil", FFract: "ffract", FSin: "fsin", FCos: "fcos",
	FSqrt: "fsqrt", FPow: "fpow", CvtFI: "cvtfi", CvtIF: "cvtif",
	QMul: "qmul", QDiv: "qdiv", QSqrt: "qsqrt", QSin: "qsin", QCos: "qcos",
	QPow: "qpow", QTrunc: "qtrunc", QFromInt: "qfromint", QFloor: "qfloor",
	QCeil: "qceil", QFract: "qfract", QAbs: "qabs", MinS: "mins", MaxS: "maxs",
	Call: "call", HostCall: "hostcall", Jmp: "jmp", Br: "br", Ret: "ret",
}

func (op Op) String() string {
	if s, ok := opNames[op]; ok {
		return s
	}
	return fmt.Sprintf("Op(%d)", uint8(op))
}

// Instr is one IR instruction. Not every field is meaningful for every
// op; see the Op constants for which are read.
type Instr struct {
	Op     Op
	Kind   Class
	Dst    Reg
	HasDst bool
	A, B   Reg
	Imm    int64
	Sym    string
	Args   []Reg
	Blk    int
	Blk2   int
}

// Block is a basic block: straight-line instructions ending in a
// terminator (Jmp, Br or Ret).
type Block struct {
	Instrs []Instr
}

// Terminated reports whether the block already ends in a terminator.
func (b *Block) Terminated() bool {
	if len(b.Instrs) == 0 {
		return false
	}
	switch b.Instrs[len(b.Instrs)-1].Op {
	case Jmp, Br, Ret:
		return true
	}
	return false
}

// Param is one lowered parameter of a function. Hidden return pointers
// and by-reference (out/inout) parameters occupy a single address word.
type Param struct {
	Name      string
	Desc      ValueDesc
	ByRef     bool
	HiddenRet bool
}

// WordCount returns how many argument words the parameter occupies.
func (p Param) WordCount() int {
	if p.ByRef || p.HiddenRet {
		return 1
	}
	return p.Desc.Words
}

// Func is a lowered function. Parameter words are bound to registers
// 0..n-1 in declaration order; NumRegs covers them plus all temporaries.
// FrameSize is the byte size of the function's scratch area (arrays,
// structs, struct-return buffers for callees).
type Func struct {
	Name      string
	Params    []Param
	Ret       ValueDesc // logical return; Words > 1 implies a hidden pointer param
	NumRegs   int
	FrameSize int
	Blocks    []*Block
	Exported  bool
}

// ArgWords returns the total number of argument words, including any
// hidden return pointer.
func (f *Func) ArgWords() int {
	n := 0
	for _, p := range f.Params {
		n += p.WordCount()
	}
	return n
}

// UsesSret reports whether the function returns through a hidden
// pointer parameter.
func (f *Func) UsesSret() bool {
	return len(f.Params) > 0 && f.Params[0].HiddenRet
}

// Module is a complete compiled unit: functions plus a read-only data
// segment (string literals for the debug print import).
type Module struct {
	Funcs []*Func
	Data  []byte
}

// Lookup returns the function with the given (mangled) name.
func (m *Module) Lookup(name string) *Func {
	for _, f := range m.Funcs {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// Imports returns the set of host import names the module calls.
func (m *Module) Imports() []string {
	seen := map[string]bool{}
	var names []string
	for _, f := range m.Funcs {
		for _, b := range f.Blocks {
			for _, in := range b.Instrs {
				if in.Op == HostCall && !seen[in.Sym] {
					seen[in.Sym] = true
					names = append(names, in.Sym)
				}
			}
		}
	}
	return names
}

// String renders the module for debugging and golden tests.
func (m *Module) String() string {
	var sb strings.Builder
	for _, f := range m.Funcs {
		fmt.Fprintf(&sb, "func %s(", f.Name)
		for i, p := range f.Params {
			if i > 0 {
				sb.WriteString(", ")
			}
			tag := ""
			if p.HiddenRet {
				tag = "sret "
			} else if p.ByRef {
				tag = "ref "
			}
			fmt.Fprintf(&sb, "%s%s:%s%d", tag, p.Name, p.Desc.Class, p.Desc.Words)
		}
		fmt.Fprintf(&sb, ") ret %s%d regs=%d frame=%d\n", f.Ret.Class, f.Ret.Words, f.NumRegs, f.FrameSize)
		for bi, blk := range f.Blocks {
			fmt.Fprintf(&sb, "b%d:\n", bi)
			for _, in := range blk.Instrs {
				sb.WriteString("  ")
				sb.WriteString(in.String())
				sb.WriteByte('\n')
			}
		}
	}
	return sb.String()
}

func (in Instr) String() string {
	var sb strings.Builder
	if in.HasDst {
		fmt.Fprintf(&sb, "r%d = ", in.Dst)
	}
	fmt.Fprintf(&sb, "%s", in.Op)
	switch in.Op {
	case Const, FrameAddr, DataAddr:
		fmt.Fprintf(&sb, " %d", in.Imm)
	case Load:
		fmt.Fprintf(&sb, " [r%d+%d]", in.A, in.Imm)
	case Store:
		fmt.Fprintf(&sb, " [r%d+%d], r%d", in.A, in.Imm, in.B)
	case AddImm:
		fmt.Fprintf(&sb, " r%d, %d", in.A, in.Imm)
	case Mov, Neg, Not, FNeg, FAbs, FFloor, FCeil, FFract, FSin, FCos,
		FSqrt, CvtFI, CvtIF, QSqrt, QSin, QCos, QTrunc, QFromInt,
		QFloor, QCeil, QFract, QAbs:
		fmt.Fprintf(&sb, " r%d", in.A)
	case Call, HostCall:
		fmt.Fprintf(&sb, " %s(", in.Sym)
		for i, a := range in.Args {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "r%d", a)
		}
		sb.WriteString(")")
	case Jmp:
		fmt.Fprintf(&sb, " b%d", in.Blk)
	case Br:
		fmt.Fprintf(&sb, " r%d, b%d, b%d", in.A, in.Blk, in.Blk2)
	case Ret:
		if len(in.Args) > 0 {
			fmt.Fprintf(&sb, " r%d", in.Args[0])
		}
	default:
		fmt.Fprintf(&sb, ".%s r%d, r%d", in.Kind, in.A, in.B)
	}
	return sb.String()
}
