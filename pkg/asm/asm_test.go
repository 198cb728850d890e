package asm

import (
	"encoding/binary"
	"testing"
)

func mustAssemble(t *testing.T, src string) *Result {
	t.Helper()
	res, err := Assemble(src)
	if err != nil {
		t.Fatalf("Assemble: %v\nsource:\n%s", err, src)
	}
	return res
}

func TestAssembleEncoding(t *testing.T) {
	res := mustAssemble(t, `
LDI R1, #258
MOV R2, R1
ADD R3, R1, R2
HLT
`)
	want := []byte{
		OpLDI, 1, 2, 1, 0, 0,
		OpMOV, 2, 1,
		OpADD, 3, 1, 2,
		OpHLT,
	}
	if res.Size != uint32(len(want)) {
		t.Fatalf("size = %d, want %d", res.Size, len(want))
	}
	for i, b := range want {
		if res.Image[i] != b {
			t.Errorf("byte %d = 0x%02X, want 0x%02X", i, res.Image[i], b)
		}
	}
}

func TestAssembleLabels(t *testing.T) {
	res := mustAssemble(t, `
.ORG 0x0100
start:
	LDI R0, #1
loop:
	ADDI R0, R0, #1
	JMP #loop
`)
	if res.Labels["start"] != 0x0100 {
		t.Errorf("start = 0x%04X", res.Labels["start"])
	}
	if res.Labels["loop"] != 0x0106 {
		t.Errorf("loop = 0x%04X", res.Labels["loop"])
	}
	// The JMP operand must hold the resolved loop address.
	jmpAt := res.Labels["loop"] + 7
	if res.Image[jmpAt] != OpJMP {
		t.Fatalf("expected JMP at 0x%04X", jmpAt)
	}
	if got := binary.LittleEndian.Uint32(res.Image[jmpAt+1:]); got != res.Labels["loop"] {
		t.Errorf("JMP target = 0x%04X, want 0x%04X", got, res.Labels["loop"])
	}
}

func TestAssembleMemOperands(t *testing.T) {
	res := mustAssemble(t, `
LD R1, [R2+8]
LD R4, [R2-12]
ST [R2-4], R5
`)
	if off := int16(binary.LittleEndian.Uint16(res.Image[3:])); off != 8 {
		t.Errorf("LD offset = %d, want 8", off)
	}
	if off := int16(binary.LittleEndian.Uint16(res.Image[8:])); off != -12 {
		t.Errorf("LD negative offset = %d, want -12", off)
	}
	st := res.Image[10:]
	if st[0] != OpST || st[1] != 2 || st[4] != 5 {
		t.Errorf("ST encoding = % X", st[:5])
	}
	if off := int16(binary.LittleEndian.Uint16(st[2:])); off != -4 {
		t.Errorf("ST offset = %d, want -4", off)
	}
}

func TestAssembleDirectives(t *testing.T) {
	res := mustAssemble(t, `
.ORG 0x0200
table:
.WORD 1, 0xFFFF, after
.BYTE 7, 8
msg:
.STRING "hi\n"
after:
HLT
`)
	at := res.Labels["table"]
	if at != 0x0200 {
		t.Fatalf("table = 0x%04X", at)
	}
	if binary.LittleEndian.Uint32(res.Image[at:]) != 1 {
		t.Error("first word wrong")
	}
	if binary.LittleEndian.Uint32(res.Image[at+4:]) != 0xFFFF {
		t.Error("second word wrong")
	}
	if got := binary.LittleEndian.Uint32(res.Image[at+8:]); got != res.Labels["after"] {
		t.Errorf("label word = 0x%04X, want 0x%04X", got, res.Labels["after"])
	}
	if res.Image[at+12] != 7 || res.Image[at+13] != 8 {
		t.Error("bytes wrong")
	}
	if string(res.Image[res.Labels["msg"]:res.Labels["msg"]+3]) != "hi\n" {
		t.Error("string wrong")
	}
}

func TestAssembleComments(t *testing.T) {
	res := mustAssemble(t, `
; full line comment
HLT ; trailing
.STRING "semi;inside"
`)
	if res.Size != 1+uint32(len("semi;inside")) {
		t.Errorf("size = %d", res.Size)
	}
	if string(res.Image[1:12]) != "semi;inside" {
		t.Errorf("string = %q", res.Image[1:12])
	}
}

func TestAssembleLabelWithInstruction(t *testing.T) {
	res := mustAssemble(t, "entry: HLT")
	if addr, ok := res.Labels["entry"]; !ok || addr != 0 {
		t.Errorf("entry = %d, %v", addr, ok)
	}
	if res.Image[0] != OpHLT {
		t.Error("instruction after label lost")
	}
}

func TestAssembleErrors(t *testing.T) {
	bad := map[string]string{
		"unknown mnemonic":  "FROB R1, R2",
		"bad register":      "MOV R9, R1",
		"missing immediate": "LDI R1, 5",
		"undefined label":   "JMP #nowhere",
		"duplicate label":   "a:\nHLT\na:\nHLT",
		"operand count":     "ADD R1, R2",
		"unknown directive": ".DATA 5",
	}
	for name, src := range bad {
		if _, err := Assemble(src); err == nil {
			t.Errorf("%s: %q assembled, want error", name, src)
		}
	}
}

func TestAssembleHostIndex(t *testing.T) {
	res := mustAssemble(t, "HOST #3")
	if res.Image[0] != OpHOST || res.Image[1] != 3 || res.Image[2] != 0 {
		t.Errorf("HOST encoding = % X", res.Image[:3])
	}
}

func TestMnemonicsCaseInsensitive(t *testing.T) {
	res := mustAssemble(t, "ldi r1, #5\nhlt")
	if res.Image[0] != OpLDI || res.Image[6] != OpHLT {
		t.Error("lowercase source not accepted")
	}
}
