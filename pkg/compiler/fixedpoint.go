package compiler

import (
	"math"

	"glowc/pkg/ir"
	"glowc/pkg/q32"
)

// fixedPointPass rewrites float-semantic IR into Q32 16.16 integer
// operations. After this pass no F* opcode remains: addition and
// subtraction keep their integer forms (Q32 add is int32 add),
// multiplication and the transcendental ops move to their Q* versions,
// and float comparisons become signed comparisons because Q32 values
// order exactly like their int32 bit patterns.
func fixedPointPass(m *ir.Module) {
	for _, f := range m.Funcs {
		for _, b := range f.Blocks {
			for i := range b.Instrs {
				rewriteInstr(&b.Instrs[i])
			}
		}
	}
}

func rewriteInstr(in *ir.Instr) {
	switch in.Op {
	case ir.Const:
		if in.Kind == ir.Float {
			v := math.Float64frombits(uint64(in.Imm))
			in.Imm = int64(q32.FromFloat(v))
		}

	case ir.FAdd:
		in.Op = ir.Add
	case ir.FSub:
		in.Op = ir.Sub
	case ir.FNeg:
		in.Op = ir.Neg
	case ir.FMul:
		in.Op = ir.QMul
	case ir.FDiv:
		in.Op = ir.QDiv
	case ir.FAbs:
		in.Op = ir.QAbs
	case ir.FMin:
		in.Op = ir.MinS
	case ir.FMax:
		in.Op = ir.MaxS
	case ir.FFloor:
		in.Op = ir.QFloor
	case ir.FCeil:
		in.Op = ir.QCeil
	case ir.FFract:
		in.Op = ir.QFract
	case ir.FSin:
		in.Op = ir.QSin
	case ir.FCos:
		in.Op = ir.QCos
	case ir.FSqrt:
		in.Op = ir.QSqrt
	case ir.FPow:
		in.Op = ir.QPow
	case ir.CvtFI:
		in.Op = ir.QTrunc
	case ir.CvtIF:
		in.Op = ir.QFromInt

	case ir.CmpEq, ir.CmpNe, ir.CmpLt, ir.CmpLe, ir.CmpGt, ir.CmpGe:
		if in.Kind == ir.Float {
			in.Kind = ir.Int
		}
	}
}
