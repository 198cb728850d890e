package exec

import (
	"fmt"
	"io"
	"strings"

	"glowc/pkg/asm"
	"glowc/pkg/ir"
	"glowc/pkg/q32"
	"glowc/pkg/vm"
)

// The embedded engine lowers IR to assembly for the effect CPU and runs
// the assembled image in the VM.
//
// Memory map: address 0 holds a lone HLT so a top-level return lands on
// a halt, code starts at 0x0100 with the data segment appended after
// the last function, and the stack grows down from 0xFFB0. The 16-word
// region above the stack top is the hidden-return buffer for invoked
// entry points.
//
// Calling convention: R2 is the frame pointer, R3 the stack pointer.
// The first four argument words travel in R4..R7, the rest are pushed
// right to left so the fifth word sits at FP+8. A scalar result comes
// back in R4. Every virtual register is given a frame slot; R0 and R1
// stage operands.
const (
	embCodeBase = 0x0100
	embStackTop = 0xFFB0
	embSretAddr = 0xFFC0
)

type embeddedBackend struct {
	m   *vm.VM
	res *asm.Result
	out io.Writer
}

func newEmbeddedBackend(mod *ir.Module) (*embeddedBackend, error) {
	if err := checkImports(mod); err != nil {
		return nil, err
	}
	src, imports, err := genAsm(mod)
	if err != nil {
		return nil, err
	}
	res, err := asm.Assemble(src)
	if err != nil {
		return nil, fmt.Errorf("assemble: %w", err)
	}

	be := &embeddedBackend{m: vm.New(res), res: res, out: io.Discard}
	be.m.Hosts = make([]vm.HostFunc, len(imports))
	for i, sym := range imports {
		h, err := be.hostFunc(sym)
		if err != nil {
			return nil, err
		}
		be.m.Hosts[i] = h
	}
	return be, nil
}

func (be *embeddedBackend) setOutput(w io.Writer) {
	if w == nil {
		w = io.Discard
	}
	be.out = w
}

func (be *embeddedBackend) invoke(name string, args []uint32, retWords int) ([]uint32, error) {
	entry, ok := be.res.Labels[name]
	if !ok {
		return nil, fmt.Errorf("no function %s", name)
	}
	be.m.Reset()
	be.m.Regs[vm.RegSP] = embStackTop

	words := args
	if retWords > 1 {
		words = append([]uint32{embSretAddr}, args...)
	}

	push := func(v uint32) {
		be.m.Regs[vm.RegSP] -= 4
		be.m.WriteWord(be.m.Regs[vm.RegSP], v)
	}
	for i := len(words) - 1; i >= 4; i-- {
		push(words[i])
	}
	// Returning from the entry function lands on the HLT at address 0.
	push(0)
	for i := 0; i < len(words) && i < 4; i++ {
		be.m.Regs[vm.RegA0+i] = words[i]
	}

	be.m.PC = entry
	if err := be.m.Run(); err != nil {
		return nil, err
	}
	if !be.m.Halted() {
		return nil, fmt.Errorf("%s: machine stopped without halting", name)
	}

	switch {
	case retWords == 0:
		return nil, nil
	case retWords == 1:
		return []uint32{be.m.Regs[vm.RegA0]}, nil
	default:
		out := make([]uint32, retWords)
		for i := range out {
			out[i] = be.m.ReadWord(embSretAddr + uint32(i*4))
		}
		return out, nil
	}
}

func (be *embeddedBackend) hostFunc(sym string) (vm.HostFunc, error) {
	switch sym {
	case "print_str":
		return func(m *vm.VM) error {
			b := m.ReadBytes(m.Regs[vm.RegA0], m.Regs[vm.RegA0+1])
			_, err := be.out.Write(b)
			return err
		}, nil
	case "print_f":
		return func(m *vm.VM) error {
			_, err := fmt.Fprintf(be.out, "%g", q32.Float(int32(m.Regs[vm.RegA0])))
			return err
		}, nil
	case "print_i":
		return func(m *vm.VM) error {
			_, err := fmt.Fprintf(be.out, "%d", int32(m.Regs[vm.RegA0]))
			return err
		}, nil
	case "print_u":
		return func(m *vm.VM) error {
			_, err := fmt.Fprintf(be.out, "%d", m.Regs[vm.RegA0])
			return err
		}, nil
	case "print_b":
		return func(m *vm.VM) error {
			_, err := fmt.Fprintf(be.out, "%t", m.Regs[vm.RegA0] != 0)
			return err
		}, nil
	case "print_nl":
		return func(m *vm.VM) error {
			_, err := fmt.Fprintln(be.out)
			return err
		}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnboundImport, sym)
}

// genAsm lowers a module to assembly source. The returned import list
// is index-aligned with the HOST operands in the code.
func genAsm(mod *ir.Module) (string, []string, error) {
	imports := mod.Imports()
	importIdx := make(map[string]int, len(imports))
	for i, sym := range imports {
		importIdx[sym] = i
	}

	var sb strings.Builder
	sb.WriteString(".ORG 0\nHLT\n\n.ORG 0x0100\n")
	for _, f := range mod.Funcs {
		g := &asmGen{sb: &sb, fn: f, importIdx: importIdx}
		if err := g.lower(); err != nil {
			return "", nil, fmt.Errorf("%s: %w", f.Name, err)
		}
	}

	sb.WriteString("\n__data:\n")
	for i := 0; i < len(mod.Data); i += 16 {
		end := i + 16
		if end > len(mod.Data) {
			end = len(mod.Data)
		}
		parts := make([]string, 0, 16)
		for _, b := range mod.Data[i:end] {
			parts = append(parts, fmt.Sprintf("%d", b))
		}
		fmt.Fprintf(&sb, ".BYTE %s\n", strings.Join(parts, ", "))
	}
	return sb.String(), imports, nil
}

type asmGen struct {
	sb        *strings.Builder
	fn        *ir.Func
	importIdx map[string]int
}

// frameBytes is the full frame: one slot per virtual register plus the
// function's scratch area below them.
func (g *asmGen) frameBytes() int {
	return 4*g.fn.NumRegs + g.fn.FrameSize
}

// slotOff returns the FP-relative offset of a virtual register's slot.
func (g *asmGen) slotOff(r ir.Reg) int {
	return -4 * (r + 1)
}

func (g *asmGen) ins(format string, args ...any) {
	fmt.Fprintf(g.sb, "    "+format+"\n", args...)
}

// loadSlot stages a virtual register into a machine register.
func (g *asmGen) loadSlot(mr int, r ir.Reg) {
	g.ins("LD R%d, [R2%+d]", mr, g.slotOff(r))
}

// storeSlot writes a machine register back to a virtual register slot.
func (g *asmGen) storeSlot(r ir.Reg, mr int) {
	g.ins("ST [R2%+d], R%d", g.slotOff(r), mr)
}

func (g *asmGen) blockLabel(bi int) string {
	return fmt.Sprintf("%s_b%d", g.fn.Name, bi)
}

func (g *asmGen) lower() error {
	fmt.Fprintf(g.sb, "\n%s:\n", g.fn.Name)
	g.ins("PUSH R2")
	g.ins("MOV R2, R3")
	g.ins("ADDI R3, R3, #%d", -g.frameBytes())

	// Bind incoming argument words to their slots.
	word := 0
	for _, p := range g.fn.Params {
		for w := 0; w < p.WordCount(); w++ {
			if word < 4 {
				g.storeSlot(word, vm.RegA0+word)
			} else {
				g.ins("LD R0, [R2+%d]", 8+4*(word-4))
				g.storeSlot(word, 0)
			}
			word++
		}
	}

	for bi, b := range g.fn.Blocks {
		fmt.Fprintf(g.sb, "%s:\n", g.blockLabel(bi))
		for _, in := range b.Instrs {
			if err := g.instr(in); err != nil {
				return err
			}
		}
	}
	return nil
}

func (g *asmGen) instr(in ir.Instr) error {
	switch in.Op {
	case ir.Nop:

	case ir.Const:
		g.ins("LDI R0, #%d", int32(uint32(in.Imm)))
		g.storeSlot(in.Dst, 0)

	case ir.Mov:
		g.loadSlot(0, in.A)
		g.storeSlot(in.Dst, 0)

	case ir.FrameAddr:
		g.ins("ADDI R0, R2, #%d", -g.frameBytes()+int(in.Imm))
		g.storeSlot(in.Dst, 0)

	case ir.DataAddr:
		g.ins("LDI R0, #__data")
		if in.Imm != 0 {
			g.ins("ADDI R0, R0, #%d", in.Imm)
		}
		g.storeSlot(in.Dst, 0)

	case ir.Load:
		g.loadSlot(0, in.A)
		g.ins("LD R0, [R0%+d]", in.Imm)
		g.storeSlot(in.Dst, 0)

	case ir.Store:
		g.loadSlot(0, in.A)
		g.loadSlot(1, in.B)
		g.ins("ST [R0%+d], R1", in.Imm)

	case ir.AddImm:
		g.loadSlot(0, in.A)
		g.ins("ADDI R0, R0, #%d", int32(uint32(in.Imm)))
		g.storeSlot(in.Dst, 0)

	case ir.Neg:
		g.loadSlot(0, in.A)
		g.ins("NEG R0, R0")
		g.storeSlot(in.Dst, 0)

	case ir.Not:
		g.loadSlot(0, in.A)
		g.ins("NOT R0, R0")
		g.storeSlot(in.Dst, 0)

	case ir.QSqrt, ir.QSin, ir.QCos, ir.QTrunc, ir.QFromInt,
		ir.QFloor, ir.QCeil, ir.QFract, ir.QAbs:
		g.loadSlot(0, in.A)
		g.ins("%s R0, R0", unaryMnemonic(in.Op))
		g.storeSlot(in.Dst, 0)

	case ir.Add, ir.Sub, ir.Mul, ir.Div, ir.Mod, ir.And, ir.Or, ir.Xor,
		ir.Shl, ir.Shr, ir.Sar,
		ir.CmpEq, ir.CmpNe, ir.CmpLt, ir.CmpLe, ir.CmpGt, ir.CmpGe,
		ir.QMul, ir.QDiv, ir.QPow, ir.MinS, ir.MaxS:
		g.loadSlot(0, in.A)
		g.loadSlot(1, in.B)
		g.ins("%s R0, R0, R1", binaryMnemonic(in.Op, in.Kind))
		g.storeSlot(in.Dst, 0)

	case ir.Call:
		for i := len(in.Args) - 1; i >= 4; i-- {
			g.loadSlot(0, in.Args[i])
			g.ins("PUSH R0")
		}
		for i := 0; i < len(in.Args) && i < 4; i++ {
			g.loadSlot(vm.RegA0+i, in.Args[i])
		}
		g.ins("CALL #%s", in.Sym)
		if extra := len(in.Args) - 4; extra > 0 {
			g.ins("ADDI R3, R3, #%d", 4*extra)
		}
		if in.HasDst {
			g.storeSlot(in.Dst, vm.RegA0)
		}

	case ir.HostCall:
		if len(in.Args) > 4 {
			return fmt.Errorf("host import %s takes too many words", in.Sym)
		}
		for i, a := range in.Args {
			g.loadSlot(vm.RegA0+i, a)
		}
		g.ins("HOST #%d", g.importIdx[in.Sym])

	case ir.Jmp:
		g.ins("JMP #%s", g.blockLabel(in.Blk))

	case ir.Br:
		g.loadSlot(0, in.A)
		g.ins("BNZ R0, #%s", g.blockLabel(in.Blk))
		g.ins("JMP #%s", g.blockLabel(in.Blk2))

	case ir.Ret:
		if len(in.Args) > 0 {
			g.loadSlot(vm.RegA0, in.Args[0])
		}
		g.ins("MOV R3, R2")
		g.ins("POP R2")
		g.ins("RET")

	default:
		return fmt.Errorf("unlowered op %s", in.Op)
	}
	return nil
}

func unaryMnemonic(op ir.Op) string {
	switch op {
	case ir.QSqrt:
		return "QSQRT"
	case ir.QSin:
		return "QSIN"
	case ir.QCos:
		return "QCOS"
	case ir.QTrunc:
		return "QTRUNC"
	case ir.QFromInt:
		return "QI2Q"
	case ir.QFloor:
		return "QFLOOR"
	case ir.QCeil:
		return "QCEIL"
	case ir.QFract:
		return "QFRACT"
	}
	return "QABS"
}

func binaryMnemonic(op ir.Op, kind ir.Class) string {
	signed := kind == ir.Int || kind == ir.Float
	pick := func(s, u string) string {
		if signed {
			return s
		}
		return u
	}
	switch op {
	case ir.Add:
		return "ADD"
	case ir.Sub:
		return "SUB"
	case ir.Mul:
		return "MUL"
	case ir.Div:
		return pick("DIVS", "DIVU")
	case ir.Mod:
		return pick("MODS", "MODU")
	case ir.And:
		return "AND"
	case ir.Or:
		return "OR"
	case ir.Xor:
		return "XOR"
	case ir.Shl:
		return "SHL"
	case ir.Shr:
		return "SHRU"
	case ir.Sar:
		return "SHRS"
	case ir.CmpEq:
		return "CEQ"
	case ir.CmpNe:
		return "CNE"
	case ir.CmpLt:
		return pick("CLTS", "CLTU")
	case ir.CmpLe:
		return pick("CLES", "CLEU")
	case ir.CmpGt:
		return pick("CGTS", "CGTU")
	case ir.CmpGe:
		return pick("CGES", "CGEU")
	case ir.QMul:
		return "QMUL"
	case ir.QDiv:
		return "QDIV"
	case ir.QPow:
		return "QPOW"
	case ir.MinS:
		return "MINS"
	}
	return "MAXS"
}
