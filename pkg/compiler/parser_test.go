package compiler

import (
	"strings"
	"testing"
)

func parseProgram(t *testing.T, src string) *Program {
	t.Helper()
	prog, err := Parse(src)
	if err != nil {
		t.Fatalf("Parse: %v\nsource:\n%s", err, src)
	}
	return prog
}

func parseExprString(t *testing.T, expr string) string {
	t.Helper()
	prog := parseProgram(t, "void f() { x = "+expr+"; }")
	body := prog.Functions[0].Body.Stmts
	if len(body) != 1 {
		t.Fatalf("expected 1 statement, got %d", len(body))
	}
	asn, ok := body[0].(*Assignment)
	if !ok {
		t.Fatalf("expected assignment, got %T", body[0])
	}
	return asn.Value.String()
}

// Precedence and associativity, checked through the parenthesised
// String form.
func TestParseExprPrecedence(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"1 + 2 * 3", "(1 + (2 * 3))"},
		{"(1 + 2) * 3", "((1 + 2) * 3)"},
		{"a - b - c", "((a - b) - c)"},
		{"a + b << 2", "((a + b) << 2)"},
		{"a < b == c > d", "((a < b) == (c > d))"},
		{"a & b ^ c | d", "(((a & b) ^ c) | d)"},
		{"a == b && c != d || e", "(((a == b) && (c != d)) || e)"},
		{"-a * b", "((-a) * b)"},
		{"!a && ~b < 0", "((!a) && ((~b) < 0))"},
		{"a.x + v[i].y", "(a.x + v[i].y)"},
		{"2.0 * sin(t)", "(2 * sin(t))"},
		{"vec3(1.0, 2.0, 3.0).xz", "vec3(1, 2, 3).xz"},
	}
	for _, tt := range tests {
		if got := parseExprString(t, tt.in); got != tt.want {
			t.Errorf("parse %q = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestParseTopLevel(t *testing.T) {
	prog := parseProgram(t, `
struct Light {
	vec3 pos;
	float power;
};

const int COUNT = 8;
const float GAIN = 0.5;

float shade(Light l, out float dist) {
	dist = l.power;
	return l.pos.x;
}

void main() {
}
`)
	if len(prog.Structs) != 1 || prog.Structs[0].Name != "Light" {
		t.Fatalf("structs = %v", prog.Structs)
	}
	if len(prog.Structs[0].Fields) != 2 {
		t.Fatalf("Light has %d fields", len(prog.Structs[0].Fields))
	}
	if len(prog.Consts) != 2 || prog.Consts[1].Name != "GAIN" {
		t.Fatalf("consts = %v", prog.Consts)
	}
	if len(prog.Functions) != 2 {
		t.Fatalf("functions = %d", len(prog.Functions))
	}
	f := prog.Functions[0]
	if f.Name != "shade" || len(f.Params) != 2 {
		t.Fatalf("shade = %s", f)
	}
	if f.Params[0].Qual != QualIn || f.Params[1].Qual != QualOut {
		t.Errorf("param quals = %v, %v", f.Params[0].Qual, f.Params[1].Qual)
	}
	if f.Params[0].Type.Token != IDENTIFIER || f.Params[0].Type.Name != "Light" {
		t.Errorf("param 0 type = %s", f.Params[0].Type)
	}
}

func TestParseArrayDeclarations(t *testing.T) {
	prog := parseProgram(t, `
void main() {
	float levels[8];
	levels[0] = 1.0;
}
`)
	vd, ok := prog.Functions[0].Body.Stmts[0].(*VarDecl)
	if !ok {
		t.Fatalf("expected VarDecl, got %T", prog.Functions[0].Body.Stmts[0])
	}
	if vd.Type.ArraySize == nil {
		t.Fatal("array size missing")
	}
	if vd.Type.String() != "float[8]" {
		t.Errorf("type = %s", vd.Type)
	}
}

func TestParseControlFlow(t *testing.T) {
	prog := parseProgram(t, `
void main() {
	for (int i = 0; i < 10; i++) {
		if (i == 5) { break; } else { continue; }
	}
	while (true) { break; }
	do { x += 1.0; } while (x < 4.0);
}
`)
	body := prog.Functions[0].Body.Stmts
	if _, ok := body[0].(*ForStmt); !ok {
		t.Errorf("stmt 0 = %T, want ForStmt", body[0])
	}
	if _, ok := body[1].(*WhileStmt); !ok {
		t.Errorf("stmt 1 = %T, want WhileStmt", body[1])
	}
	dw, ok := body[2].(*DoWhileStmt)
	if !ok {
		t.Fatalf("stmt 2 = %T, want DoWhileStmt", body[2])
	}
	if dw.Cond.String() != "(x < 4)" {
		t.Errorf("do-while cond = %s", dw.Cond)
	}
	fs := body[0].(*ForStmt)
	ifs, ok := fs.Body.Stmts[0].(*IfStmt)
	if !ok || ifs.Else == nil {
		t.Fatalf("for body = %v", fs.Body)
	}
}

func TestParseElseIfChain(t *testing.T) {
	prog := parseProgram(t, `
void main() {
	if (a) { x = 1.0; } else if (b) { x = 2.0; } else { x = 3.0; }
}
`)
	ifs := prog.Functions[0].Body.Stmts[0].(*IfStmt)
	inner, ok := ifs.Else.(*IfStmt)
	if !ok {
		t.Fatalf("else = %T, want nested IfStmt", ifs.Else)
	}
	if inner.Else == nil {
		t.Error("inner else missing")
	}
}

func TestParseCompoundAssign(t *testing.T) {
	prog := parseProgram(t, "void main() { v.xy *= 2.0; }")
	asn := prog.Functions[0].Body.Stmts[0].(*Assignment)
	if asn.Op != STAR_ASSIGN {
		t.Errorf("op = %s", asn.Op)
	}
	if asn.Target.String() != "v.xy" {
		t.Errorf("target = %s", asn.Target)
	}
}

func TestParseErrors(t *testing.T) {
	bad := []string{
		"void main() { if x { } }",       // missing parens
		"void main() { return 1.0 }",     // missing semicolon
		"struct S { };",                  // empty struct
		"float f(",                       // truncated
		"void main() { float 2x; }",      // bad identifier
		"void main() { break }",          // missing semicolon
		"int x = 1;",                     // top-level var without const
		"void main() { do { } (x); }",    // malformed do-while
	}
	for _, src := range bad {
		if _, err := Parse(src); err == nil {
			t.Errorf("Parse(%q) succeeded, want error", src)
		}
	}
}

func TestParseNestedCalls(t *testing.T) {
	got := parseExprString(t, "mix(a, clamp(b, 0.0, 1.0), step(0.5, c))")
	want := "mix(a, clamp(b, 0, 1), step(0.5, c))"
	if got != want {
		t.Errorf("got %s, want %s", got, want)
	}
	if !strings.Contains(got, "clamp") {
		t.Error("inner call lost")
	}
}
