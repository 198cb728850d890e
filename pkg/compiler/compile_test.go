package compiler

import (
	"errors"
	"strings"
	"testing"

	"glowc/pkg/ir"
)

func mustCompile(t *testing.T, src string) *ir.Module {
	t.Helper()
	m, err := Compile(src)
	if err != nil {
		t.Fatalf("Compile: %v\nsource:\n%s", err, src)
	}
	return m
}

func TestCompileMinimal(t *testing.T) {
	m := mustCompile(t, `
float brightness(float t) {
	return 0.5 + 0.5 * sin(t);
}
`)
	f := m.Lookup("brightness__f")
	if f == nil {
		t.Fatal("brightness__f not in module")
	}
	if !f.Exported {
		t.Error("user function must be exported")
	}
	if f.Ret.Words != 1 || f.Ret.Class != ir.Float {
		t.Errorf("return desc = %+v", f.Ret)
	}
}

// Multi-word returns go through a hidden pointer parameter in slot 0.
func TestCompileHiddenReturnPointer(t *testing.T) {
	m := mustCompile(t, `
vec3 solid() {
	return vec3(1.0, 0.0, 0.0);
}
`)
	f := m.Lookup("solid__v")
	if f == nil {
		t.Fatal("solid__v not in module")
	}
	if !f.UsesSret() {
		t.Fatal("vec3 return must use a hidden pointer")
	}
	if f.Params[0].WordCount() != 1 {
		t.Error("hidden pointer must be one address word")
	}
	if f.Ret.Words != 3 {
		t.Errorf("Ret.Words = %d, want 3", f.Ret.Words)
	}
}

func TestCompileOnlyReachablePrelude(t *testing.T) {
	m := mustCompile(t, `
float pass(float x) { return x; }
`)
	for _, f := range m.Funcs {
		if strings.Contains(f.Name, "hsv2rgb") {
			t.Error("unreached library function was lowered")
		}
	}
}

// A user function may reuse a builtin or library signature; call sites
// keep resolving to the earlier namespace.
func TestCompileUserRedefinesPrelude(t *testing.T) {
	m := mustCompile(t, `
float sin(float x) { return x; }
vec3 hsv2rgb(vec3 hsv) { return hsv; }
float use(float t) { return sin(t) + hsv2rgb(vec3(t, 1.0, 1.0)).x; }
`)
	for _, name := range []string{"sin__f", "hsv2rgb__v3"} {
		f := m.Lookup(name)
		if f == nil {
			t.Fatalf("%s not in module", name)
		}
		if !f.Exported {
			t.Errorf("%s must be exported", name)
		}
	}
	use := m.Lookup("use__f")
	if use == nil {
		t.Fatal("use__f not in module")
	}
	for _, b := range use.Blocks {
		for _, in := range b.Instrs {
			if in.Op != ir.Call {
				continue
			}
			if in.Sym == "sin__f" || in.Sym == "hsv2rgb__v3" {
				t.Errorf("call to %s resolved to the user overload", in.Sym)
			}
		}
	}
	if m.Lookup("lib__hsv2rgb__v3") == nil {
		t.Error("library hsv2rgb was not lowered for the call site")
	}
}

func TestCompileOverloadsByShape(t *testing.T) {
	m := mustCompile(t, `
float pick(float x) { return x; }
float pick(vec2 v) { return v.x; }
float pick(float a, float b) { return a + b; }
`)
	for _, name := range []string{"pick__f", "pick__v2", "pick__f_f"} {
		if m.Lookup(name) == nil {
			t.Errorf("%s missing", name)
		}
	}
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want error
	}{
		{"undefined variable", "float f() { return q; }", ErrUndefinedSymbol},
		{"undefined function", "float f() { return nosuch(1.0); }", ErrUnknownFunction},
		{"no implicit conversion", "float f() { return sin(1); }", ErrUnknownFunction},
		{"assign across types", "void f() { int i = 1.0; }", ErrTypeMismatch},
		{"assign to const", "const float K = 1.0; void f() { K = 2.0; }", ErrNotAssignable},
		{"assign to call result", "void f() { sin(1.0) = 2.0; }", ErrNotAssignable},
		{"duplicate swizzle write", "void f() { vec3 v; v.xx = vec2(1.0, 2.0); }", ErrNotAssignable},
		{"same-scope redeclaration", "void f() { float a; float a; }", ErrRedeclaration},
		{"duplicate signature", "float f(float x) { return x; } float f(float y) { return y; }", ErrRedeclaration},
		{"print reserved", "void print(float x) { }", ErrRedeclaration},
		{"bad array size", "void f() { float a[0]; }", ErrNonConstantArraySize},
		{"constructor arity", "void f() { vec3 v = vec3(1.0, 2.0); }", ErrInvalidArgumentCount},
		{"condition not bool", "void f() { if (1) { } }", ErrTypeMismatch},
		{"non-bool logical", "void f() { bool b = 1.0 && true; }", ErrTypeMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.src)
			if !errors.Is(err, tt.want) {
				t.Errorf("Compile = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestCompileShadowingLegal(t *testing.T) {
	mustCompile(t, `
float f(float x) {
	float y = x;
	{
		int y = 2;
		x = x + float(y);
	}
	return x + y;
}
`)
}

func TestCompileRecursionRejected(t *testing.T) {
	_, err := Compile(`
float a(float x) { return b(x); }
float b(float x) { return a(x); }
`)
	if err == nil {
		t.Fatal("mutual recursion compiled")
	}
	if !strings.Contains(err.Error(), "recursion") {
		t.Errorf("error %q does not mention recursion", err)
	}

	_, err = Compile("float f(float x) { return f(x); }")
	if err == nil || !strings.Contains(err.Error(), "recursion") {
		t.Errorf("self recursion = %v", err)
	}
}

func TestCompileFixedPointRewrite(t *testing.T) {
	m := mustCompile(t, `
float f(float a, float b) {
	return a * b + 1.5;
}
`)
	f := m.Lookup("f__f_f")
	sawQMul, sawConst := false, false
	for _, b := range f.Blocks {
		for _, in := range b.Instrs {
			switch in.Op {
			case ir.FMul, ir.FAdd, ir.FSub, ir.FDiv:
				t.Fatalf("float-semantic op %s survived lowering", in.Op)
			case ir.QMul:
				sawQMul = true
			case ir.Const:
				if in.Imm == 3<<15 { // 1.5 in 16.16
					sawConst = true
				}
			}
		}
	}
	if !sawQMul {
		t.Error("float multiply did not become QMul")
	}
	if !sawConst {
		t.Error("1.5 literal was not converted to Q32")
	}
}

func TestCompileStructsAndArrays(t *testing.T) {
	m := mustCompile(t, `
struct Light {
	vec3 pos;
	float power;
};

const int N = 4;

float total(Light l) {
	float levels[N];
	for (int i = 0; i < N; i++) {
		levels[i] = l.power;
	}
	float sum = 0.0;
	for (int i = 0; i < N; i++) {
		sum += levels[i];
	}
	return sum + l.pos.y;
}
`)
	f := m.Lookup("total__sLight")
	if f == nil {
		t.Fatal("total__sLight not found")
	}
	if f.FrameSize < 16 {
		t.Errorf("frame %d bytes cannot hold float[4]", f.FrameSize)
	}
}

func TestCompileWithLibraryEmpty(t *testing.T) {
	_, err := CompileWithLibrary("float f(float h) { return hsv2rgb(vec3(h, 1.0, 1.0)).x; }", "")
	if !errors.Is(err, ErrUnknownFunction) {
		t.Errorf("library function resolved without the library: %v", err)
	}
	mustCompile(t, "vec3 f(float h) { return hsv2rgb(vec3(h, 1.0, 1.0)); }")
}
