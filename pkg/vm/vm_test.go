package vm

import (
	"strings"
	"testing"

	"glowc/pkg/asm"
	"glowc/pkg/q32"
)

func run(t *testing.T, src string) *VM {
	t.Helper()
	res, err := asm.Assemble(src)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	m := New(res)
	if err := m.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !m.Halted() {
		t.Fatal("machine did not halt")
	}
	return m
}

func TestArithmetic(t *testing.T) {
	m := run(t, `
LDI R1, #20
LDI R2, #-6
ADD R4, R1, R2
MUL R5, R1, R2
DIVS R6, R2, R1
SHRS R7, R2, R1
HLT
`)
	if m.Regs[4] != 14 {
		t.Errorf("20 + -6 = %d", int32(m.Regs[4]))
	}
	if int32(m.Regs[5]) != -120 {
		t.Errorf("20 * -6 = %d", int32(m.Regs[5]))
	}
	if m.Regs[6] != 0 {
		t.Errorf("-6 / 20 = %d", int32(m.Regs[6]))
	}
	// -6 >> (20 & 31) arithmetic keeps the sign.
	if int32(m.Regs[7]) != -1 {
		t.Errorf("-6 >>s 20 = %d", int32(m.Regs[7]))
	}
}

func TestDivideByZeroYieldsZero(t *testing.T) {
	m := run(t, `
LDI R1, #9
LDI R2, #0
DIVS R4, R1, R2
DIVU R5, R1, R2
MODS R6, R1, R2
QDIV R7, R1, R2
HLT
`)
	for i := 4; i <= 7; i++ {
		if m.Regs[i] != 0 {
			t.Errorf("R%d = %d, want 0", i, m.Regs[i])
		}
	}
}

func TestComparisonsProduceFlagsInRegisters(t *testing.T) {
	m := run(t, `
LDI R1, #-1
LDI R2, #1
CLTS R4, R1, R2
CLTU R5, R1, R2
CEQ R6, R1, R1
CNE R7, R1, R2
HLT
`)
	if m.Regs[4] != 1 {
		t.Error("-1 <s 1 should be 1")
	}
	// As unsigned, 0xFFFFFFFF is the larger operand.
	if m.Regs[5] != 0 {
		t.Error("-1 <u 1 should be 0")
	}
	if m.Regs[6] != 1 || m.Regs[7] != 1 {
		t.Errorf("CEQ/CNE = %d, %d", m.Regs[6], m.Regs[7])
	}
}

func TestLoadStore(t *testing.T) {
	m := run(t, `
LDI R1, #0x2000
LDI R2, #1234
ST [R1+4], R2
LD R4, [R1+4]
HLT
`)
	if m.Regs[4] != 1234 {
		t.Errorf("load after store = %d", m.Regs[4])
	}
	if m.ReadWord(0x2004) != 1234 {
		t.Error("memory word not written")
	}
}

func TestBranchLoop(t *testing.T) {
	// Sum 1..5 with a counted loop.
	m := run(t, `
LDI R1, #5
LDI R4, #0
loop:
ADD R4, R4, R1
ADDI R1, R1, #-1
BNZ R1, #loop
HLT
`)
	if m.Regs[4] != 15 {
		t.Errorf("sum = %d, want 15", m.Regs[4])
	}
}

func TestCallRetAndStack(t *testing.T) {
	m := run(t, `
LDI R3, #0x8000
LDI R4, #7
CALL #double
HLT
double:
ADD R4, R4, R4
RET
`)
	if m.Regs[4] != 14 {
		t.Errorf("double(7) = %d", m.Regs[4])
	}
	if m.Regs[RegSP] != 0x8000 {
		t.Errorf("SP = 0x%04X, want balanced 0x8000", m.Regs[RegSP])
	}
}

func TestPushPop(t *testing.T) {
	m := run(t, `
LDI R3, #0x8000
LDI R1, #11
LDI R2, #22
PUSH R1
PUSH R2
POP R4
POP R5
HLT
`)
	if m.Regs[4] != 22 || m.Regs[5] != 11 {
		t.Errorf("pop order = %d, %d", m.Regs[4], m.Regs[5])
	}
}

func TestFixedPointOps(t *testing.T) {
	m := run(t, `
LDI R1, #0x28000
LDI R2, #0x18000
QMUL R4, R1, R2
QSQRT R5, R1
LDI R6, #0x10000
QSIN R6, R6
HLT
`)
	// 2.5 * 1.5 = 3.75
	if m.Regs[4] != uint32(q32.FromFloat(3.75)) {
		t.Errorf("QMUL = 0x%08X", m.Regs[4])
	}
	if m.Regs[5] != uint32(q32.Sqrt(q32.FromFloat(2.5))) {
		t.Errorf("QSQRT disagrees with the q32 package")
	}
	if m.Regs[6] != uint32(q32.Sin(q32.One)) {
		t.Errorf("QSIN disagrees with the q32 package")
	}
}

func TestHostImport(t *testing.T) {
	res, err := asm.Assemble(`
LDI R4, #42
HOST #0
HLT
`)
	if err != nil {
		t.Fatal(err)
	}
	m := New(res)
	var got uint32
	m.Hosts = []HostFunc{func(m *VM) error {
		got = m.Regs[RegA0]
		return nil
	}}
	if err := m.Run(); err != nil {
		t.Fatal(err)
	}
	if got != 42 {
		t.Errorf("host saw %d", got)
	}
}

func TestHostMissingImport(t *testing.T) {
	res, err := asm.Assemble("HOST #5\nHLT")
	if err != nil {
		t.Fatal(err)
	}
	m := New(res)
	err = m.Run()
	if err == nil || !strings.Contains(err.Error(), "no such import") {
		t.Errorf("got %v, want missing-import error", err)
	}
}

func TestStepLimit(t *testing.T) {
	res, err := asm.Assemble("spin: JMP #spin")
	if err != nil {
		t.Fatal(err)
	}
	m := New(res)
	err = m.Run()
	if err == nil || !strings.Contains(err.Error(), "step limit") {
		t.Errorf("got %v, want step limit error", err)
	}
}

func TestIllegalOpcode(t *testing.T) {
	res, err := asm.Assemble(".BYTE 0xEE")
	if err != nil {
		t.Fatal(err)
	}
	m := New(res)
	if err := m.Run(); err == nil {
		t.Error("illegal opcode executed")
	}
}

func TestReset(t *testing.T) {
	m := run(t, `
LDI R1, #0x3000
LDI R2, #9
ST [R1+0], R2
HLT
`)
	if m.ReadWord(0x3000) != 9 {
		t.Fatal("setup store failed")
	}
	m.Reset()
	if m.ReadWord(0x3000) != 0 {
		t.Error("Reset kept dirty memory")
	}
	if m.Regs[1] != 0 || m.PC != 0 {
		t.Error("Reset kept registers")
	}
}
