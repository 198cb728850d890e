// Package asm implements a two-pass assembler for the 32-bit effect
// CPU. The first pass measures instruction sizes and collects labels;
// the second pass emits bytes with every label resolved to an absolute
// address. The output is a flat memory image plus the label table, so
// callers can find their entry points.
package asm

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// Opcodes. One byte each; operands follow little-endian.
const (
	OpHLT  = 0x00
	OpLDI  = 0x01 // LDI Rd, #imm32
	OpMOV  = 0x02 // MOV Rd, Rs
	OpLD   = 0x03 // LD Rd, [Rs+off16]
	OpST   = 0x04 // ST [Rd+off16], Rs
	OpADD  = 0x05 // ADD Rd, Rs, Rt
	OpSUB  = 0x06
	OpMUL  = 0x07
	OpDIVS = 0x08
	OpDIVU = 0x09
	OpMODS = 0x0A
	OpMODU = 0x0B
	OpNEG  = 0x0C // NEG Rd, Rs
	OpAND  = 0x0D
	OpOR   = 0x0E
	OpXOR  = 0x0F
	OpSHL  = 0x10
	OpSHRU = 0x11
	OpSHRS = 0x12
	OpNOT  = 0x13 // NOT Rd, Rs (logical)
	OpADDI = 0x14 // ADDI Rd, Rs, #imm32

	OpCEQ  = 0x20 // CEQ Rd, Rs, Rt -> 0/1
	OpCNE  = 0x21
	OpCLTS = 0x22
	OpCLES = 0x23
	OpCGTS = 0x24
	OpCGES = 0x25
	OpCLTU = 0x26
	OpCLEU = 0x27
	OpCGTU = 0x28
	OpCGEU = 0x29

	OpQMUL   = 0x30
	OpQDIV   = 0x31
	OpQSQRT  = 0x32
	OpQSIN   = 0x33
	OpQCOS   = 0x34
	OpQPOW   = 0x35
	OpQTRUNC = 0x36
	OpQI2Q   = 0x37
	OpQFLOOR = 0x38
	OpQCEIL  = 0x39
	OpQFRACT = 0x3A
	OpQABS   = 0x3B
	OpMINS   = 0x3C
	OpMAXS   = 0x3D

	OpJMP  = 0x40 // JMP #addr32
	OpBNZ  = 0x41 // BNZ Rs, #addr32
	OpBZ   = 0x42 // BZ Rs, #addr32
	OpCALL = 0x43 // CALL #addr32
	OpRET  = 0x44
	OpPUSH = 0x45 // PUSH Rs
	OpPOP  = 0x46 // POP Rd
	OpHOST = 0x47 // HOST #idx16
)

// operand layout classes
type form int

const (
	formNone    form = iota // op
	formRegImm              // op rd imm32
	formRegReg              // op rd rs
	formRegMem              // op rd rs off16
	formMemReg              // op rd off16 rs
	formRRR                 // op rd rs rt
	formRRImm               // op rd rs imm32
	formImm                 // op imm32
	formRegAddr             // op rs addr32
	formReg                 // op r
	formIdx                 // op idx16
)

var mnemonics = map[string]struct {
	op byte
	f  form
}{
	"HLT":  {OpHLT, formNone},
	"LDI":  {OpLDI, formRegImm},
	"MOV":  {OpMOV, formRegReg},
	"LD":   {OpLD, formRegMem},
	"ST":   {OpST, formMemReg},
	"ADD":  {OpADD, formRRR},
	"SUB":  {OpSUB, formRRR},
	"MUL":  {OpMUL, formRRR},
	"DIVS": {OpDIVS, formRRR},
	"DIVU": {OpDIVU, formRRR},
	"MODS": {OpMODS, formRRR},
	"MODU": {OpMODU, formRRR},
	"NEG":  {OpNEG, formRegReg},
	"AND":  {OpAND, formRRR},
	"OR":   {OpOR, formRRR},
	"XOR":  {OpXOR, formRRR},
	"SHL":  {OpSHL, formRRR},
	"SHRU": {OpSHRU, formRRR},
	"SHRS": {OpSHRS, formRRR},
	"NOT":  {OpNOT, formRegReg},
	"ADDI": {OpADDI, formRRImm},

	"CEQ":  {OpCEQ, formRRR},
	"CNE":  {OpCNE, formRRR},
	"CLTS": {OpCLTS, formRRR},
	"CLES": {OpCLES, formRRR},
	"CGTS": {OpCGTS, formRRR},
	"CGES": {OpCGES, formRRR},
	"CLTU": {OpCLTU, formRRR},
	"CLEU": {OpCLEU, formRRR},
	"CGTU": {OpCGTU, formRRR},
	"CGEU": {OpCGEU, formRRR},

	"QMUL":   {OpQMUL, formRRR},
	"QDIV":   {OpQDIV, formRRR},
	"QSQRT":  {OpQSQRT, formRegReg},
	"QSIN":   {OpQSIN, formRegReg},
	"QCOS":   {OpQCOS, formRegReg},
	"QPOW":   {OpQPOW, formRRR},
	"QTRUNC": {OpQTRUNC, formRegReg},
	"QI2Q":   {OpQI2Q, formRegReg},
	"QFLOOR": {OpQFLOOR, formRegReg},
	"QCEIL":  {OpQCEIL, formRegReg},
	"QFRACT": {OpQFRACT, formRegReg},
	"QABS":   {OpQABS, formRegReg},
	"MINS":   {OpMINS, formRRR},
	"MAXS":   {OpMAXS, formRRR},

	"JMP":  {OpJMP, formImm},
	"BNZ":  {OpBNZ, formRegAddr},
	"BZ":   {OpBZ, formRegAddr},
	"CALL": {OpCALL, formImm},
	"RET":  {OpRET, formNone},
	"PUSH": {OpPUSH, formReg},
	"POP":  {OpPOP, formReg},
	"HOST": {OpHOST, formIdx},
}

func instrSize(f form) int {
	switch f {
	case formNone:
		return 1
	case formReg:
		return 2
	case formRegReg:
		return 3
	case formIdx:
		return 3
	case formRegMem, formMemReg:
		return 5
	case formImm:
		return 5
	case formRegImm, formRegAddr:
		return 6
	case formRRR:
		return 4
	case formRRImm:
		return 7
	}
	return 0
}

// Result is an assembled image.
type Result struct {
	Image  []byte            // memory image, indexed by address
	Labels map[string]uint32 // label -> absolute address
	Size   uint32            // highest written address + 1
}

type line struct {
	num    int
	label  string
	mnem   string
	args   []string
	direct string // directive name (without dot), if any
	darg   string
}

// Assemble runs both passes over source and returns the image.
func Assemble(source string) (*Result, error) {
	lines, err := parseLines(source)
	if err != nil {
		return nil, err
	}

	labels := make(map[string]uint32)
	if err := pass1(lines, labels); err != nil {
		return nil, err
	}
	return pass2(lines, labels)
}

func parseLines(source string) ([]line, error) {
	var out []line
	for num, raw := range strings.Split(source, "\n") {
		text := raw
		// Comments run from ';' to end of line, except inside strings.
		if i := commentIndex(text); i >= 0 {
			text = text[:i]
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		ln := line{num: num + 1}

		// A label may share a line with an instruction.
		if i := strings.Index(text, ":"); i >= 0 && !strings.HasPrefix(text, ".") &&
			!strings.Contains(text[:i], " ") && !strings.Contains(text[:i], "\"") {
			ln.label = text[:i]
			text = strings.TrimSpace(text[i+1:])
		}

		if strings.HasPrefix(text, ".") {
			parts := strings.SplitN(text[1:], " ", 2)
			ln.direct = strings.ToUpper(parts[0])
			if len(parts) == 2 {
				ln.darg = strings.TrimSpace(parts[1])
			}
		} else if text != "" {
			parts := strings.SplitN(text, " ", 2)
			ln.mnem = strings.ToUpper(parts[0])
			if len(parts) == 2 {
				for _, a := range splitArgs(parts[1]) {
					ln.args = append(ln.args, strings.TrimSpace(a))
				}
			}
		}
		out = append(out, ln)
	}
	return out, nil
}

func commentIndex(s string) int {
	inStr := false
	for i, r := range s {
		switch {
		case r == '"':
			inStr = !inStr
		case r == ';' && !inStr:
			return i
		}
	}
	return -1
}

// splitArgs splits on commas outside string literals.
func splitArgs(s string) []string {
	var out []string
	depth := false
	start := 0
	for i, r := range s {
		switch {
		case r == '"':
			depth = !depth
		case r == ',' && !depth:
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

// pass1 assigns addresses to labels.
func pass1(lines []line, labels map[string]uint32) error {
	var pc uint32
	for _, ln := range lines {
		if ln.label != "" {
			if _, dup := labels[ln.label]; dup {
				return fmt.Errorf("line %d: duplicate label %q", ln.num, ln.label)
			}
			labels[ln.label] = pc
		}
		n, err := lineSize(ln, pc)
		if err != nil {
			return err
		}
		if ln.direct == "ORG" {
			pc = n
		} else {
			pc += n
		}
	}
	return nil
}

// lineSize returns the byte size of a line, or the new origin for .ORG.
func lineSize(ln line, pc uint32) (uint32, error) {
	switch {
	case ln.direct == "ORG":
		v, err := parseNumber(ln.darg)
		if err != nil {
			return 0, fmt.Errorf("line %d: bad .ORG address %q", ln.num, ln.darg)
		}
		return uint32(v), nil
	case ln.direct == "WORD":
		return uint32(4 * len(splitArgs(ln.darg))), nil
	case ln.direct == "BYTE":
		return uint32(len(splitArgs(ln.darg))), nil
	case ln.direct == "STRING":
		s, err := parseString(ln.darg)
		if err != nil {
			return 0, fmt.Errorf("line %d: %v", ln.num, err)
		}
		return uint32(len(s)), nil
	case ln.direct != "":
		return 0, fmt.Errorf("line %d: unknown directive .%s", ln.num, ln.direct)
	case ln.mnem == "":
		return 0, nil
	}
	m, ok := mnemonics[ln.mnem]
	if !ok {
		return 0, fmt.Errorf("line %d: unknown mnemonic %q", ln.num, ln.mnem)
	}
	return uint32(instrSize(m.f)), nil
}

// pass2 emits the image.
func pass2(lines []line, labels map[string]uint32) (*Result, error) {
	image := make([]byte, 1<<16)
	var pc, size uint32

	write := func(b ...byte) error {
		if int(pc)+len(b) > len(image) {
			return fmt.Errorf("image overflow at 0x%04X", pc)
		}
		copy(image[pc:], b)
		pc += uint32(len(b))
		if pc > size {
			size = pc
		}
		return nil
	}

	for _, ln := range lines {
		switch {
		case ln.direct == "ORG":
			v, _ := parseNumber(ln.darg)
			pc = uint32(v)
			if pc > size {
				size = pc
			}
			continue
		case ln.direct == "WORD":
			for _, a := range splitArgs(ln.darg) {
				v, err := resolveValue(strings.TrimSpace(a), labels)
				if err != nil {
					return nil, fmt.Errorf("line %d: %v", ln.num, err)
				}
				var buf [4]byte
				binary.LittleEndian.PutUint32(buf[:], v)
				if err := write(buf[:]...); err != nil {
					return nil, err
				}
			}
			continue
		case ln.direct == "BYTE":
			for _, a := range splitArgs(ln.darg) {
				v, err := resolveValue(strings.TrimSpace(a), labels)
				if err != nil {
					return nil, fmt.Errorf("line %d: %v", ln.num, err)
				}
				if err := write(byte(v)); err != nil {
					return nil, err
				}
			}
			continue
		case ln.direct == "STRING":
			s, _ := parseString(ln.darg)
			if err := write([]byte(s)...); err != nil {
				return nil, err
			}
			continue
		case ln.mnem == "":
			continue
		}

		m := mnemonics[ln.mnem]
		enc, err := encode(ln, m.op, m.f, labels)
		if err != nil {
			return nil, err
		}
		if err := write(enc...); err != nil {
			return nil, err
		}
	}
	return &Result{Image: image, Labels: labels, Size: size}, nil
}

func encode(ln line, op byte, f form, labels map[string]uint32) ([]byte, error) {
	need := map[form]int{
		formNone: 0, formReg: 1, formRegReg: 2, formIdx: 1, formImm: 1,
		formRegImm: 2, formRegAddr: 2, formRegMem: 2, formMemReg: 2,
		formRRR: 3, formRRImm: 3,
	}[f]
	if len(ln.args) != need {
		return nil, fmt.Errorf("line %d: %s takes %d operands, got %d", ln.num, ln.mnem, need, len(ln.args))
	}
	fail := func(err error) ([]byte, error) {
		return nil, fmt.Errorf("line %d: %v", ln.num, err)
	}

	switch f {
	case formNone:
		return []byte{op}, nil
	case formReg:
		r, err := parseReg(ln.args[0])
		if err != nil {
			return fail(err)
		}
		return []byte{op, r}, nil
	case formRegReg:
		rd, err := parseReg(ln.args[0])
		if err != nil {
			return fail(err)
		}
		rs, err := parseReg(ln.args[1])
		if err != nil {
			return fail(err)
		}
		return []byte{op, rd, rs}, nil
	case formRRR:
		rd, err := parseReg(ln.args[0])
		if err != nil {
			return fail(err)
		}
		rs, err := parseReg(ln.args[1])
		if err != nil {
			return fail(err)
		}
		rt, err := parseReg(ln.args[2])
		if err != nil {
			return fail(err)
		}
		return []byte{op, rd, rs, rt}, nil
	case formRegImm, formRegAddr:
		r, err := parseReg(ln.args[0])
		if err != nil {
			return fail(err)
		}
		v, err := parseImm(ln.args[1], labels)
		if err != nil {
			return fail(err)
		}
		out := []byte{op, r, 0, 0, 0, 0}
		binary.LittleEndian.PutUint32(out[2:], v)
		return out, nil
	case formRRImm:
		rd, err := parseReg(ln.args[0])
		if err != nil {
			return fail(err)
		}
		rs, err := parseReg(ln.args[1])
		if err != nil {
			return fail(err)
		}
		v, err := parseImm(ln.args[2], labels)
		if err != nil {
			return fail(err)
		}
		out := []byte{op, rd, rs, 0, 0, 0, 0}
		binary.LittleEndian.PutUint32(out[3:], v)
		return out, nil
	case formImm:
		v, err := parseImm(ln.args[0], labels)
		if err != nil {
			return fail(err)
		}
		out := []byte{op, 0, 0, 0, 0}
		binary.LittleEndian.PutUint32(out[1:], v)
		return out, nil
	case formIdx:
		v, err := parseImm(ln.args[0], labels)
		if err != nil {
			return fail(err)
		}
		return []byte{op, byte(v), byte(v >> 8)}, nil
	case formRegMem:
		rd, err := parseReg(ln.args[0])
		if err != nil {
			return fail(err)
		}
		rs, off, err := parseMem(ln.args[1])
		if err != nil {
			return fail(err)
		}
		out := []byte{op, rd, rs, 0, 0}
		binary.LittleEndian.PutUint16(out[3:], uint16(off))
		return out, nil
	case formMemReg:
		rd, off, err := parseMem(ln.args[0])
		if err != nil {
			return fail(err)
		}
		rs, err := parseReg(ln.args[1])
		if err != nil {
			return fail(err)
		}
		out := []byte{op, rd, 0, 0, rs}
		binary.LittleEndian.PutUint16(out[2:], uint16(off))
		return out, nil
	}
	return nil, fmt.Errorf("line %d: unencodable form", ln.num)
}

func parseReg(s string) (byte, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if len(s) == 2 && s[0] == 'R' && s[1] >= '0' && s[1] <= '7' {
		return s[1] - '0', nil
	}
	return 0, fmt.Errorf("bad register %q", s)
}

// parseImm resolves "#value" where value is a number or a label.
func parseImm(s string, labels map[string]uint32) (uint32, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "#") {
		return 0, fmt.Errorf("immediate must start with #, got %q", s)
	}
	return resolveValue(s[1:], labels)
}

func resolveValue(s string, labels map[string]uint32) (uint32, error) {
	if v, err := parseNumber(s); err == nil {
		return uint32(v), nil
	}
	if addr, ok := labels[s]; ok {
		return addr, nil
	}
	return 0, fmt.Errorf("undefined symbol %q", s)
}

func parseNumber(s string) (int64, error) {
	s = strings.TrimSpace(s)
	return strconv.ParseInt(s, 0, 64)
}

// parseMem parses "[Rn+off]" or "[Rn-off]"; the offset may be omitted.
func parseMem(s string) (byte, int16, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "[") || !strings.HasSuffix(s, "]") {
		return 0, 0, fmt.Errorf("bad memory operand %q", s)
	}
	inner := s[1 : len(s)-1]
	sign := int16(1)
	regPart := inner
	offPart := ""
	if i := strings.IndexAny(inner, "+-"); i > 0 {
		if inner[i] == '-' {
			sign = -1
		}
		regPart = inner[:i]
		offPart = inner[i+1:]
	}
	r, err := parseReg(regPart)
	if err != nil {
		return 0, 0, err
	}
	var off int16
	if offPart != "" {
		v, err := parseNumber(offPart)
		if err != nil {
			return 0, 0, fmt.Errorf("bad offset in %q", s)
		}
		off = int16(v) * sign
	}
	return r, off, nil
}

func parseString(s string) (string, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 || !strings.HasPrefix(s, "\"") || !strings.HasSuffix(s, "\"") {
		return "", fmt.Errorf("bad string literal %s", s)
	}
	return strconv.Unquote(s)
}
