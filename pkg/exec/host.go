package exec

import (
	"encoding/binary"
	"fmt"
	"io"

	"glowc/pkg/ir"
	"glowc/pkg/q32"
)

// The host engine threads each function into a chain of closures, one
// per IR instruction, with jumps resolved to step indices ahead of
// time. Frame memory and the data segment live in a single arena so
// pointers (frame addresses, hidden return buffers, out-parameters)
// are plain offsets, the same shape the embedded target uses. Every
// invocation gets its own arena, so a compiled module can be invoked
// from any number of goroutines at once.

const (
	hostArenaSize = 1 << 16
	hostMaxSteps  = 10_000_000
)

type hostBackend struct {
	funcs map[string]*hostFunc
	data  []byte
	out   io.Writer
}

// hostArena is one invocation's memory: the data segment at offset 0
// followed by frame space, shared by every nested call.
type hostArena struct {
	mem []byte
	sp  int // next free frame byte
}

type hostState struct {
	ar      *hostArena
	regs    []uint32
	scratch uint32 // this call's frame scratch base in the arena
	ret     uint32
}

// hostStep executes one instruction and returns the next step index,
// or -1 when the function returns.
type hostStep func(st *hostState) (int, error)

type hostFunc struct {
	fn    *ir.Func
	steps []hostStep
}

func newHostBackend(m *ir.Module) (*hostBackend, error) {
	if err := checkImports(m); err != nil {
		return nil, err
	}
	be := &hostBackend{
		funcs: make(map[string]*hostFunc, len(m.Funcs)),
		data:  append([]byte(nil), m.Data...),
		out:   io.Discard,
	}

	// Shells first so calls can link to functions defined later.
	for _, f := range m.Funcs {
		be.funcs[f.Name] = &hostFunc{fn: f}
	}
	for _, f := range m.Funcs {
		if err := be.compile(be.funcs[f.Name]); err != nil {
			return nil, err
		}
	}
	return be, nil
}

func (be *hostBackend) setOutput(w io.Writer) {
	if w == nil {
		w = io.Discard
	}
	be.out = w
}

func (be *hostBackend) invoke(name string, args []uint32, retWords int) ([]uint32, error) {
	hf, ok := be.funcs[name]
	if !ok {
		return nil, fmt.Errorf("no function %s", name)
	}

	ar := &hostArena{mem: make([]byte, hostArenaSize)}
	copy(ar.mem, be.data)
	ar.sp = (len(be.data) + 3) &^ 3

	callArgs := args
	var sret uint32
	if retWords > 1 {
		sret = uint32(ar.sp)
		ar.sp += retWords * 4
		callArgs = append([]uint32{sret}, args...)
	}

	ret, err := be.call(hf, ar, callArgs)
	if err != nil {
		return nil, err
	}
	switch {
	case retWords == 0:
		return nil, nil
	case retWords == 1:
		return []uint32{ret}, nil
	default:
		out := make([]uint32, retWords)
		for i := range out {
			out[i] = binary.LittleEndian.Uint32(ar.mem[sret+uint32(i*4):])
		}
		return out, nil
	}
}

// call runs one function activation to completion.
func (be *hostBackend) call(hf *hostFunc, ar *hostArena, args []uint32) (uint32, error) {
	st := &hostState{ar: ar, regs: make([]uint32, hf.fn.NumRegs)}
	copy(st.regs, args)
	st.scratch = uint32(ar.sp)
	ar.sp += hf.fn.FrameSize
	defer func() { ar.sp -= hf.fn.FrameSize }()
	if ar.sp > len(ar.mem) {
		return 0, fmt.Errorf("frame arena exhausted in %s", hf.fn.Name)
	}

	budget := hostMaxSteps
	i := 0
	for i >= 0 {
		if budget--; budget < 0 {
			return 0, fmt.Errorf("step limit exceeded in %s", hf.fn.Name)
		}
		next, err := hf.steps[i](st)
		if err != nil {
			return 0, err
		}
		i = next
	}
	return st.ret, nil
}

// compile lowers a function's blocks into the step chain.
func (be *hostBackend) compile(hf *hostFunc) error {
	entry := make([]int, len(hf.fn.Blocks))
	n := 0
	for bi, b := range hf.fn.Blocks {
		entry[bi] = n
		n += len(b.Instrs)
	}
	hf.steps = make([]hostStep, 0, n)

	idx := 0
	for _, b := range hf.fn.Blocks {
		for _, in := range b.Instrs {
			step, err := be.compileInstr(hf.fn, in, idx+1, entry)
			if err != nil {
				return fmt.Errorf("%s: %w", hf.fn.Name, err)
			}
			hf.steps = append(hf.steps, step)
			idx++
		}
	}
	return nil
}

func (be *hostBackend) compileInstr(fn *ir.Func, in ir.Instr, next int, entry []int) (hostStep, error) {
	d, a, b := in.Dst, in.A, in.B

	switch in.Op {
	case ir.Nop:
		return func(st *hostState) (int, error) { return next, nil }, nil

	case ir.Const:
		v := uint32(in.Imm)
		return func(st *hostState) (int, error) {
			st.regs[d] = v
			return next, nil
		}, nil

	case ir.Mov:
		return func(st *hostState) (int, error) {
			st.regs[d] = st.regs[a]
			return next, nil
		}, nil

	case ir.FrameAddr:
		off := uint32(in.Imm)
		return func(st *hostState) (int, error) {
			st.regs[d] = st.scratch + off
			return next, nil
		}, nil

	case ir.DataAddr:
		off := uint32(in.Imm)
		return func(st *hostState) (int, error) {
			st.regs[d] = off
			return next, nil
		}, nil

	case ir.Load:
		off := uint32(in.Imm)
		return func(st *hostState) (int, error) {
			st.regs[d] = binary.LittleEndian.Uint32(st.ar.mem[st.regs[a]+off:])
			return next, nil
		}, nil

	case ir.Store:
		off := uint32(in.Imm)
		return func(st *hostState) (int, error) {
			binary.LittleEndian.PutUint32(st.ar.mem[st.regs[a]+off:], st.regs[b])
			return next, nil
		}, nil

	case ir.AddImm:
		imm := uint32(in.Imm)
		return func(st *hostState) (int, error) {
			st.regs[d] = st.regs[a] + imm
			return next, nil
		}, nil

	case ir.Neg:
		return func(st *hostState) (int, error) {
			st.regs[d] = uint32(-int32(st.regs[a]))
			return next, nil
		}, nil

	case ir.Not:
		return func(st *hostState) (int, error) {
			if st.regs[a] == 0 {
				st.regs[d] = 1
			} else {
				st.regs[d] = 0
			}
			return next, nil
		}, nil

	case ir.QSqrt, ir.QSin, ir.QCos, ir.QTrunc, ir.QFromInt,
		ir.QFloor, ir.QCeil, ir.QFract, ir.QAbs:
		f := unaryQ(in.Op)
		return func(st *hostState) (int, error) {
			st.regs[d] = uint32(f(int32(st.regs[a])))
			return next, nil
		}, nil

	case ir.Add, ir.Sub, ir.Mul, ir.Div, ir.Mod, ir.And, ir.Or, ir.Xor,
		ir.Shl, ir.Shr, ir.Sar,
		ir.CmpEq, ir.CmpNe, ir.CmpLt, ir.CmpLe, ir.CmpGt, ir.CmpGe,
		ir.QMul, ir.QDiv, ir.QPow, ir.MinS, ir.MaxS:
		f := binaryOp(in.Op, in.Kind)
		return func(st *hostState) (int, error) {
			st.regs[d] = f(st.regs[a], st.regs[b])
			return next, nil
		}, nil

	case ir.Call:
		callee, ok := be.funcs[in.Sym]
		if !ok {
			return nil, fmt.Errorf("call to missing function %s", in.Sym)
		}
		argRegs := in.Args
		hasDst := in.HasDst
		return func(st *hostState) (int, error) {
			args := make([]uint32, len(argRegs))
			for i, r := range argRegs {
				args[i] = st.regs[r]
			}
			ret, err := be.call(callee, st.ar, args)
			if err != nil {
				return 0, err
			}
			if hasDst {
				st.regs[d] = ret
			}
			return next, nil
		}, nil

	case ir.HostCall:
		h, err := be.hostHandler(in.Sym)
		if err != nil {
			return nil, err
		}
		argRegs := in.Args
		return func(st *hostState) (int, error) {
			args := make([]uint32, len(argRegs))
			for i, r := range argRegs {
				args[i] = st.regs[r]
			}
			h(st, args)
			return next, nil
		}, nil

	case ir.Jmp:
		t := entry[in.Blk]
		return func(st *hostState) (int, error) { return t, nil }, nil

	case ir.Br:
		t1, t2 := entry[in.Blk], entry[in.Blk2]
		return func(st *hostState) (int, error) {
			if st.regs[a] != 0 {
				return t1, nil
			}
			return t2, nil
		}, nil

	case ir.Ret:
		if len(in.Args) > 0 {
			r := in.Args[0]
			return func(st *hostState) (int, error) {
				st.ret = st.regs[r]
				return -1, nil
			}, nil
		}
		return func(st *hostState) (int, error) { return -1, nil }, nil
	}
	return nil, fmt.Errorf("unlowered op %s", in.Op)
}

func (be *hostBackend) hostHandler(sym string) (func(st *hostState, args []uint32), error) {
	switch sym {
	case "print_str":
		return func(st *hostState, args []uint32) {
			fmt.Fprintf(be.out, "%s", st.ar.mem[args[0]:args[0]+args[1]])
		}, nil
	case "print_f":
		return func(st *hostState, args []uint32) {
			fmt.Fprintf(be.out, "%g", q32.Float(int32(args[0])))
		}, nil
	case "print_i":
		return func(st *hostState, args []uint32) {
			fmt.Fprintf(be.out, "%d", int32(args[0]))
		}, nil
	case "print_u":
		return func(st *hostState, args []uint32) {
			fmt.Fprintf(be.out, "%d", args[0])
		}, nil
	case "print_b":
		return func(st *hostState, args []uint32) {
			fmt.Fprintf(be.out, "%t", args[0] != 0)
		}, nil
	case "print_nl":
		return func(st *hostState, args []uint32) {
			fmt.Fprintln(be.out)
		}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnboundImport, sym)
}

func unaryQ(op ir.Op) func(int32) int32 {
	switch op {
	case ir.QSqrt:
		return q32.Sqrt
	case ir.QSin:
		return q32.Sin
	case ir.QCos:
		return q32.Cos
	case ir.QTrunc:
		return q32.Trunc
	case ir.QFromInt:
		return q32.FromInt
	case ir.QFloor:
		return q32.Floor
	case ir.QCeil:
		return q32.Ceil
	case ir.QFract:
		return q32.Fract
	default:
		return q32.Abs
	}
}

func binaryOp(op ir.Op, kind ir.Class) func(a, b uint32) uint32 {
	signed := kind == ir.Int || kind == ir.Float
	bool32 := func(v bool) uint32 {
		if v {
			return 1
		}
		return 0
	}
	switch op {
	case ir.Add:
		return func(a, b uint32) uint32 { return a + b }
	case ir.Sub:
		return func(a, b uint32) uint32 { return a - b }
	case ir.Mul:
		return func(a, b uint32) uint32 { return a * b }
	case ir.Div:
		if signed {
			return func(a, b uint32) uint32 {
				if int32(b) == 0 {
					return 0
				}
				return uint32(int32(a) / int32(b))
			}
		}
		return func(a, b uint32) uint32 {
			if b == 0 {
				return 0
			}
			return a / b
		}
	case ir.Mod:
		if signed {
			return func(a, b uint32) uint32 {
				if int32(b) == 0 {
					return 0
				}
				return uint32(int32(a) % int32(b))
			}
		}
		return func(a, b uint32) uint32 {
			if b == 0 {
				return 0
			}
			return a % b
		}
	case ir.And:
		return func(a, b uint32) uint32 { return a & b }
	case ir.Or:
		return func(a, b uint32) uint32 { return a | b }
	case ir.Xor:
		return func(a, b uint32) uint32 { return a ^ b }
	case ir.Shl:
		return func(a, b uint32) uint32 { return a << (b & 31) }
	case ir.Shr:
		return func(a, b uint32) uint32 { return a >> (b & 31) }
	case ir.Sar:
		return func(a, b uint32) uint32 { return uint32(int32(a) >> (b & 31)) }

	case ir.CmpEq:
		return func(a, b uint32) uint32 { return bool32(a == b) }
	case ir.CmpNe:
		return func(a, b uint32) uint32 { return bool32(a != b) }
	case ir.CmpLt:
		if signed {
			return func(a, b uint32) uint32 { return bool32(int32(a) < int32(b)) }
		}
		return func(a, b uint32) uint32 { return bool32(a < b) }
	case ir.CmpLe:
		if signed {
			return func(a, b uint32) uint32 { return bool32(int32(a) <= int32(b)) }
		}
		return func(a, b uint32) uint32 { return bool32(a <= b) }
	case ir.CmpGt:
		if signed {
			return func(a, b uint32) uint32 { return bool32(int32(a) > int32(b)) }
		}
		return func(a, b uint32) uint32 { return bool32(a > b) }
	case ir.CmpGe:
		if signed {
			return func(a, b uint32) uint32 { return bool32(int32(a) >= int32(b)) }
		}
		return func(a, b uint32) uint32 { return bool32(a >= b) }

	case ir.QMul:
		return func(a, b uint32) uint32 { return uint32(q32.Mul(int32(a), int32(b))) }
	case ir.QDiv:
		return func(a, b uint32) uint32 { return uint32(q32.Div(int32(a), int32(b))) }
	case ir.QPow:
		return func(a, b uint32) uint32 { return uint32(q32.Pow(int32(a), int32(b))) }
	case ir.MinS:
		return func(a, b uint32) uint32 { return uint32(q32.Min(int32(a), int32(b))) }
	case ir.MaxS:
		return func(a, b uint32) uint32 { return uint32(q32.Max(int32(a), int32(b))) }
	}
	return func(a, b uint32) uint32 { return 0 }
}
