// Package vm executes images produced by the asm package. The machine
// is deliberately small: eight 32-bit registers, 64 KiB of memory and
// a downward-growing stack. Fixed-point math is delegated to pkg/q32
// so the embedded target agrees bit for bit with the host target.
package vm

import (
	"encoding/binary"
	"fmt"
	"io"

	"glowc/pkg/asm"
	"glowc/pkg/q32"
)

// MemSize is the full addressable range.
const MemSize = 1 << 16

// Register conventions used by compiled code. R0 and R1 are free
// scratch, R4..R7 carry arguments and results.
const (
	RegFP = 2
	RegSP = 3
	RegA0 = 4
)

// HostFunc handles one HOST instruction. It may read registers and
// memory and write results back through the VM.
type HostFunc func(m *VM) error

// VM is one machine instance. Memory persists across Run calls; Reset
// reloads the original image.
type VM struct {
	Regs [8]uint32
	PC   uint32
	Mem  []byte

	// Hosts is the import table indexed by the HOST operand.
	Hosts []HostFunc

	// Output receives print output; nil discards it.
	Output io.Writer

	halted bool
	image  []byte
	steps  int
}

// MaxSteps bounds one Run so a buggy loop cannot hang the caller.
const MaxSteps = 10_000_000

// New builds a VM around an assembled image.
func New(res *asm.Result) *VM {
	m := &VM{Mem: make([]byte, MemSize), image: res.Image}
	copy(m.Mem, res.Image)
	return m
}

// Reset restores memory to the loaded image and clears registers.
func (m *VM) Reset() {
	copy(m.Mem, m.image)
	m.Regs = [8]uint32{}
	m.PC = 0
	m.halted = false
	m.steps = 0
}

// Halted reports whether the last Run ended on HLT.
func (m *VM) Halted() bool { return m.halted }

// Word accesses are forced to 4-byte alignment; compiled code never
// issues unaligned loads and masking keeps a bad address from running
// off the end of memory.
func (m *VM) word(addr uint32) uint32 {
	return binary.LittleEndian.Uint32(m.Mem[addr&0xFFFC:])
}

func (m *VM) setWord(addr, v uint32) {
	binary.LittleEndian.PutUint32(m.Mem[addr&0xFFFC:], v)
}

// ReadWord exposes aligned word reads to host functions.
func (m *VM) ReadWord(addr uint32) uint32 { return m.word(addr) }

// WriteWord exposes word writes to host functions.
func (m *VM) WriteWord(addr, v uint32) { m.setWord(addr, v) }

// ReadBytes copies n bytes starting at addr.
func (m *VM) ReadBytes(addr, n uint32) []byte {
	out := make([]byte, n)
	for i := uint32(0); i < n; i++ {
		out[i] = m.Mem[(addr+i)&0xFFFF]
	}
	return out
}

func (m *VM) push(v uint32) {
	m.Regs[RegSP] -= 4
	m.setWord(m.Regs[RegSP], v)
}

func (m *VM) pop() uint32 {
	v := m.word(m.Regs[RegSP])
	m.Regs[RegSP] += 4
	return v
}

func (m *VM) fetch8() byte {
	b := m.Mem[m.PC&0xFFFF]
	m.PC++
	return b
}

func (m *VM) fetch16() uint16 {
	v := binary.LittleEndian.Uint16(m.Mem[m.PC&0xFFFF:])
	m.PC += 2
	return v
}

func (m *VM) fetch32() uint32 {
	v := binary.LittleEndian.Uint32(m.Mem[m.PC&0xFFFF:])
	m.PC += 4
	return v
}

// Run executes from the current PC until HLT or the step bound.
func (m *VM) Run() error {
	m.halted = false
	for {
		if m.steps++; m.steps > MaxSteps {
			return fmt.Errorf("step limit exceeded at PC=0x%04X", m.PC)
		}
		op := m.fetch8()
		switch op {
		case asm.OpHLT:
			m.halted = true
			return nil

		case asm.OpLDI:
			rd := m.fetch8()
			m.Regs[rd&7] = m.fetch32()
		case asm.OpMOV:
			rd, rs := m.fetch8(), m.fetch8()
			m.Regs[rd&7] = m.Regs[rs&7]
		case asm.OpLD:
			rd, rs := m.fetch8(), m.fetch8()
			off := int16(m.fetch16())
			m.Regs[rd&7] = m.word(m.Regs[rs&7] + uint32(int32(off)))
		case asm.OpST:
			rd := m.fetch8()
			off := int16(m.fetch16())
			rs := m.fetch8()
			m.setWord(m.Regs[rd&7]+uint32(int32(off)), m.Regs[rs&7])

		case asm.OpADD, asm.OpSUB, asm.OpMUL, asm.OpDIVS, asm.OpDIVU,
			asm.OpMODS, asm.OpMODU, asm.OpAND, asm.OpOR, asm.OpXOR,
			asm.OpSHL, asm.OpSHRU, asm.OpSHRS,
			asm.OpCEQ, asm.OpCNE, asm.OpCLTS, asm.OpCLES, asm.OpCGTS, asm.OpCGES,
			asm.OpCLTU, asm.OpCLEU, asm.OpCGTU, asm.OpCGEU,
			asm.OpQMUL, asm.OpQDIV, asm.OpQPOW, asm.OpMINS, asm.OpMAXS:
			rd, rs, rt := m.fetch8()&7, m.fetch8()&7, m.fetch8()&7
			m.Regs[rd] = alu3(op, m.Regs[rs], m.Regs[rt])

		case asm.OpNEG:
			rd, rs := m.fetch8()&7, m.fetch8()&7
			m.Regs[rd] = uint32(-int32(m.Regs[rs]))
		case asm.OpNOT:
			rd, rs := m.fetch8()&7, m.fetch8()&7
			if m.Regs[rs] == 0 {
				m.Regs[rd] = 1
			} else {
				m.Regs[rd] = 0
			}
		case asm.OpADDI:
			rd, rs := m.fetch8()&7, m.fetch8()&7
			m.Regs[rd] = m.Regs[rs] + m.fetch32()

		case asm.OpQSQRT, asm.OpQSIN, asm.OpQCOS, asm.OpQTRUNC, asm.OpQI2Q,
			asm.OpQFLOOR, asm.OpQCEIL, asm.OpQFRACT, asm.OpQABS:
			rd, rs := m.fetch8()&7, m.fetch8()&7
			m.Regs[rd] = alu2(op, m.Regs[rs])

		case asm.OpJMP:
			m.PC = m.fetch32()
		case asm.OpBNZ:
			rs := m.fetch8() & 7
			addr := m.fetch32()
			if m.Regs[rs] != 0 {
				m.PC = addr
			}
		case asm.OpBZ:
			rs := m.fetch8() & 7
			addr := m.fetch32()
			if m.Regs[rs] == 0 {
				m.PC = addr
			}
		case asm.OpCALL:
			addr := m.fetch32()
			m.push(m.PC)
			m.PC = addr
		case asm.OpRET:
			m.PC = m.pop()
		case asm.OpPUSH:
			rs := m.fetch8() & 7
			m.push(m.Regs[rs])
		case asm.OpPOP:
			rd := m.fetch8() & 7
			m.Regs[rd] = m.pop()

		case asm.OpHOST:
			idx := m.fetch16()
			if int(idx) >= len(m.Hosts) || m.Hosts[idx] == nil {
				return fmt.Errorf("HOST %d: no such import", idx)
			}
			if err := m.Hosts[idx](m); err != nil {
				return err
			}

		default:
			return fmt.Errorf("illegal opcode 0x%02X at PC=0x%04X", op, m.PC-1)
		}
	}
}

func alu3(op byte, a, b uint32) uint32 {
	sa, sb := int32(a), int32(b)
	bool32 := func(v bool) uint32 {
		if v {
			return 1
		}
		return 0
	}
	switch op {
	case asm.OpADD:
		return a + b
	case asm.OpSUB:
		return a - b
	case asm.OpMUL:
		return a * b
	case asm.OpDIVS:
		if sb == 0 {
			return 0
		}
		return uint32(sa / sb)
	case asm.OpDIVU:
		if b == 0 {
			return 0
		}
		return a / b
	case asm.OpMODS:
		if sb == 0 {
			return 0
		}
		return uint32(sa % sb)
	case asm.OpMODU:
		if b == 0 {
			return 0
		}
		return a % b
	case asm.OpAND:
		return a & b
	case asm.OpOR:
		return a | b
	case asm.OpXOR:
		return a ^ b
	case asm.OpSHL:
		return a << (b & 31)
	case asm.OpSHRU:
		return a >> (b & 31)
	case asm.OpSHRS:
		return uint32(sa >> (b & 31))

	case asm.OpCEQ:
		return bool32(a == b)
	case asm.OpCNE:
		return bool32(a != b)
	case asm.OpCLTS:
		return bool32(sa < sb)
	case asm.OpCLES:
		return bool32(sa <= sb)
	case asm.OpCGTS:
		return bool32(sa > sb)
	case asm.OpCGES:
		return bool32(sa >= sb)
	case asm.OpCLTU:
		return bool32(a < b)
	case asm.OpCLEU:
		return bool32(a <= b)
	case asm.OpCGTU:
		return bool32(a > b)
	case asm.OpCGEU:
		return bool32(a >= b)

	case asm.OpQMUL:
		return uint32(q32.Mul(sa, sb))
	case asm.OpQDIV:
		return uint32(q32.Div(sa, sb))
	case asm.OpQPOW:
		return uint32(q32.Pow(sa, sb))
	case asm.OpMINS:
		return uint32(q32.Min(sa, sb))
	case asm.OpMAXS:
		return uint32(q32.Max(sa, sb))
	}
	return 0
}

func alu2(op byte, a uint32) uint32 {
	sa := int32(a)
	switch op {
	case asm.OpQSQRT:
		return uint32(q32.Sqrt(sa))
	case asm.OpQSIN:
		return uint32(q32.Sin(sa))
	case asm.OpQCOS:
		return uint32(q32.Cos(sa))
	case asm.OpQTRUNC:
		return uint32(q32.Trunc(sa))
	case asm.OpQI2Q:
		return uint32(q32.FromInt(sa))
	case asm.OpQFLOOR:
		return uint32(q32.Floor(sa))
	case asm.OpQCEIL:
		return uint32(q32.Ceil(sa))
	case asm.OpQFRACT:
		return uint32(q32.Fract(sa))
	case asm.OpQABS:
		return uint32(q32.Abs(sa))
	}
	return 0
}
