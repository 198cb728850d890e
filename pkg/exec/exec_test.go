package exec

import (
	"bytes"
	"errors"
	"math"
	"reflect"
	"sync"
	"testing"
)

var targets = []Target{TargetHost, TargetEmbedded}

func compileBoth(t *testing.T, src string) map[Target]*Module {
	t.Helper()
	out := make(map[Target]*Module, len(targets))
	for _, tgt := range targets {
		m, err := Compile(src, tgt)
		if err != nil {
			t.Fatalf("%s: compile: %v\nsource:\n%s", tgt, err, src)
		}
		out[tgt] = m
	}
	return out
}

// invokeBoth runs one export on both engines and checks they agree on
// the exact result words before returning it.
func invokeBoth(t *testing.T, src, fn string, args ...Value) Value {
	t.Helper()
	mods := compileBoth(t, src)
	var ref Value
	for i, tgt := range targets {
		v, err := mods[tgt].Invoke(fn, args...)
		if err != nil {
			t.Fatalf("%s: invoke %s: %v", tgt, fn, err)
		}
		if i == 0 {
			ref = v
		} else if v != ref {
			t.Fatalf("engines disagree on %s: host=%s embedded=%s", fn, ref, v)
		}
	}
	return ref
}

func TestScalarArithmetic(t *testing.T) {
	src := `
float poly(float x) {
	return 2.0 * x * x - 3.0 * x + 0.5;
}
`
	got := invokeBoth(t, src, "poly", Float(2.0)).AsFloat()
	if math.Abs(got-2.5) > 0.001 {
		t.Errorf("poly(2) = %v, want 2.5", got)
	}
}

func TestIntAndUintOps(t *testing.T) {
	src := `
int mask(int x) {
	return (x << 3) | 5;
}
uint umix(uint a, uint b) {
	return (a ^ b) % 1000u;
}
`
	if got := invokeBoth(t, src, "mask", Int(4)).AsInt(); got != 37 {
		t.Errorf("mask(4) = %d, want 37", got)
	}
	if got := invokeBoth(t, src, "umix", Uint(0xFFFFFFFF), Uint(0x0F)).AsUint(); got != 0xFFFFFFF0%1000 {
		t.Errorf("umix = %d", got)
	}
}

// float-to-uint conversion truncates toward zero and wraps rather
// than clamping, so uint(-3.2) is the two's-complement image of -3.
func TestUintConversionWraps(t *testing.T) {
	src := `
uint cvt(float x) {
	return uint(x);
}
`
	if got := invokeBoth(t, src, "cvt", Float(-3.2)).AsUint(); got != 4294967293 {
		t.Errorf("uint(-3.2) = %d, want 4294967293", got)
	}
	if got := invokeBoth(t, src, "cvt", Float(7.9)).AsUint(); got != 7 {
		t.Errorf("uint(7.9) = %d, want 7", got)
	}
	if got := invokeBoth(t, src, "cvt", Float(-1.0)).AsUint(); got != 4294967295 {
		t.Errorf("uint(-1.0) = %d, want 4294967295", got)
	}
}

func TestVectorReturnShapes(t *testing.T) {
	src := `
vec2 two() { return vec2(1.0, 2.0); }
vec3 three() { return vec3(1.0, 2.0, 3.0); }
vec4 four() { return vec4(1.0, 2.0, 3.0, 4.0); }
`
	for i, fn := range []string{"two", "three", "four"} {
		v := invokeBoth(t, src, fn)
		comps := v.Vec()
		if len(comps) != i+2 {
			t.Fatalf("%s returned %d components", fn, len(comps))
		}
		for c, f := range comps {
			if f != float64(c+1) {
				t.Errorf("%s[%d] = %v, want %d", fn, c, f, c+1)
			}
		}
	}
}

func TestSwizzleReadWrite(t *testing.T) {
	src := `
vec3 rearrange(vec3 v) {
	vec3 r;
	r.zy = v.xy;
	r.x = v.z;
	return r;
}
`
	got := invokeBoth(t, src, "rearrange", Vec3(1, 2, 3)).Vec()
	want := []float64{3, 2, 1}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("rearrange = %v, want %v", got, want)
	}
}

func TestOutAndInoutParams(t *testing.T) {
	src := `
void split(float x, out float ipart, out float fpart) {
	ipart = floor(x);
	fpart = fract(x);
}
void bump(inout float x) {
	x += 1.0;
}
float use(float x) {
	float i;
	float f;
	split(x, i, f);
	bump(i);
	return i * 100.0 + f;
}
`
	got := invokeBoth(t, src, "use", Float(2.75)).AsFloat()
	if math.Abs(got-300.75) > 0.01 {
		t.Errorf("use(2.75) = %v, want 300.75", got)
	}
}

func TestControlFlowLoops(t *testing.T) {
	src := `
int sums(int n) {
	int total = 0;
	for (int i = 1; i <= n; i++) {
		if (i % 2 == 0) {
			continue;
		}
		total += i;
	}
	int w = 0;
	while (w < 3) {
		w++;
		total++;
	}
	do {
		total--;
	} while (false);
	return total;
}
`
	// odd sum 1..9 = 25, +3, -1
	if got := invokeBoth(t, src, "sums", Int(9)).AsInt(); got != 27 {
		t.Errorf("sums(9) = %d, want 27", got)
	}
}

func TestShadowedVariable(t *testing.T) {
	src := `
float layered(float x) {
	float v = x;
	{
		float v = 100.0;
		x = x + v;
	}
	return x + v;
}
`
	got := invokeBoth(t, src, "layered", Float(1.0)).AsFloat()
	if math.Abs(got-102.0) > 0.001 {
		t.Errorf("layered(1) = %v, want 102", got)
	}
}

func TestOverloadDispatchByArgumentShape(t *testing.T) {
	src := `
float pick(float x) { return 1.0; }
float pick(int x) { return 2.0; }
float pick(vec2 v) { return 3.0; }
float pick(float a, float b) { return 4.0; }
`
	cases := []struct {
		args []Value
		want float64
	}{
		{[]Value{Float(0)}, 1},
		{[]Value{Int(0)}, 2},
		{[]Value{Vec2(0, 0)}, 3},
		{[]Value{Float(0), Float(0)}, 4},
	}
	for _, c := range cases {
		if got := invokeBoth(t, src, "pick", c.args...).AsFloat(); got != c.want {
			t.Errorf("pick%v = %v, want %v", c.args, got, c.want)
		}
	}
}

func TestStructsAndArrays(t *testing.T) {
	src := `
struct Pixel {
	vec3 color;
	float weight;
};

float blend(float w) {
	Pixel px[3];
	for (int i = 0; i < 3; i++) {
		px[i] = Pixel(vec3(float(i), 0.0, 0.0), w);
	}
	float acc = 0.0;
	for (int i = 0; i < 3; i++) {
		acc += px[i].color.x * px[i].weight;
	}
	return acc;
}
`
	got := invokeBoth(t, src, "blend", Float(0.5)).AsFloat()
	if math.Abs(got-1.5) > 0.01 {
		t.Errorf("blend(0.5) = %v, want 1.5", got)
	}
}

func TestMatrixVectorProduct(t *testing.T) {
	src := `
vec2 spin(vec2 v) {
	mat2 m = mat2(0.0, -1.0, 1.0, 0.0);
	return m * v;
}
`
	got := invokeBoth(t, src, "spin", Vec2(1, 0)).Vec()
	if math.Abs(got[0]-0) > 0.001 || math.Abs(got[1]-1) > 0.001 {
		t.Errorf("spin(1,0) = %v, want (0, 1)", got)
	}
}

// Matrix values cross the host boundary in both directions, and a
// 4-word mat2 stays a mat2 rather than decaying to vec4.
func TestMatrixReturnShapes(t *testing.T) {
	src := `
mat2 rot90() { return mat2(0.0, -1.0, 1.0, 0.0); }
mat3 diag(float d) { return mat3(d); }
mat4 fill() {
	return mat4(0.0, 1.0, 2.0, 3.0,
	            4.0, 5.0, 6.0, 7.0,
	            8.0, 9.0, 10.0, 11.0,
	            12.0, 13.0, 14.0, 15.0);
}
`
	m2 := invokeBoth(t, src, "rot90")
	if m2.Kind() != KindMat2 {
		t.Fatalf("rot90 kind = %s, want mat2", m2.Kind())
	}
	for i, want := range []float64{0, -1, 1, 0} {
		if m2.At(i) != want {
			t.Errorf("rot90[%d] = %v, want %v", i, m2.At(i), want)
		}
	}

	m3 := invokeBoth(t, src, "diag", Float(2.5))
	if m3.Kind() != KindMat3 {
		t.Fatalf("diag kind = %s, want mat3", m3.Kind())
	}
	for i, got := range m3.Vec() {
		want := 0.0
		if i%4 == 0 {
			want = 2.5
		}
		if got != want {
			t.Errorf("diag[%d] = %v, want %v", i, got, want)
		}
	}

	m4 := invokeBoth(t, src, "fill")
	if m4.Kind() != KindMat4 {
		t.Fatalf("fill kind = %s, want mat4", m4.Kind())
	}
	for i, got := range m4.Vec() {
		if got != float64(i) {
			t.Errorf("fill[%d] = %v, want %d", i, got, i)
		}
	}
}

func TestMatrixArguments(t *testing.T) {
	src := `
vec2 apply(mat2 m, vec2 v) { return m * v; }
float trace(mat3 m) { return m[0][0] + m[1][1] + m[2][2]; }
`
	got := invokeBoth(t, src, "apply", Mat2([4]float64{0, -1, 1, 0}), Vec2(1, 0)).Vec()
	if math.Abs(got[0]-0) > 0.001 || math.Abs(got[1]-1) > 0.001 {
		t.Errorf("apply = %v, want (0, 1)", got)
	}

	tr := invokeBoth(t, src, "trace", Mat3([9]float64{1, 0, 0, 0, 2, 0, 0, 0, 4})).AsFloat()
	if math.Abs(tr-7.0) > 0.001 {
		t.Errorf("trace = %v, want 7", tr)
	}
}

func TestTrigWithinTolerance(t *testing.T) {
	src := `
float s(float x) { return sin(x); }
float c(float x) { return cos(x); }
`
	for d := -360; d <= 360; d += 15 {
		rad := float64(d) * math.Pi / 180
		if got := invokeBoth(t, src, "s", Float(rad)).AsFloat(); math.Abs(got-math.Sin(rad)) > 0.03 {
			t.Errorf("sin(%d deg) = %v, want %v", d, got, math.Sin(rad))
		}
		if got := invokeBoth(t, src, "c", Float(rad)).AsFloat(); math.Abs(got-math.Cos(rad)) > 0.03 {
			t.Errorf("cos(%d deg) = %v, want %v", d, got, math.Cos(rad))
		}
	}
}

func TestVectorBuiltins(t *testing.T) {
	src := `
float len(vec3 v) { return length(v); }
vec3 mixv(vec3 a, vec3 b, float t) { return mix(a, b, t); }
bool same(vec3 a, vec3 b) { return all(equal(a, b)); }
`
	if got := invokeBoth(t, src, "len", Vec3(3, 4, 0)).AsFloat(); math.Abs(got-5.0) > 0.01 {
		t.Errorf("length(3,4,0) = %v, want 5", got)
	}
	mid := invokeBoth(t, src, "mixv", Vec3(0, 0, 0), Vec3(2, 4, 6), Float(0.5)).Vec()
	for i, want := range []float64{1, 2, 3} {
		if math.Abs(mid[i]-want) > 0.01 {
			t.Errorf("mix[%d] = %v, want %v", i, mid[i], want)
		}
	}
	if !invokeBoth(t, src, "same", Vec3(1, 2, 3), Vec3(1, 2, 3)).AsBool() {
		t.Error("equal vectors compared unequal")
	}
	if invokeBoth(t, src, "same", Vec3(1, 2, 3), Vec3(1, 9, 3)).AsBool() {
		t.Error("unequal vectors compared equal")
	}
}

// equal and notEqual also take bool vectors, so one comparison's
// result can feed another.
func TestComparisonResultsCompare(t *testing.T) {
	src := `
bool agree(vec2 a, vec2 b, vec2 c) {
	return all(equal(equal(a, b), equal(b, c)));
}
bool differ(vec3 a, vec3 b, vec3 c) {
	return any(notEqual(notEqual(a, b), notEqual(b, c)));
}
`
	if !invokeBoth(t, src, "agree", Vec2(1, 2), Vec2(1, 2), Vec2(1, 2)).AsBool() {
		t.Error("identical vectors: comparisons must agree")
	}
	if invokeBoth(t, src, "agree", Vec2(1, 2), Vec2(1, 2), Vec2(1, 9)).AsBool() {
		t.Error("a=b but b!=c: comparisons must disagree")
	}
	if !invokeBoth(t, src, "differ", Vec3(1, 2, 3), Vec3(1, 2, 3), Vec3(9, 2, 3)).AsBool() {
		t.Error("differ must see the x mismatch")
	}
	if invokeBoth(t, src, "differ", Vec3(1, 2, 3), Vec3(1, 2, 3), Vec3(1, 2, 3)).AsBool() {
		t.Error("identical vectors: nothing differs")
	}
}

// A user function may reuse a library signature. Call sites inside the
// program keep the library version; the host reaches the user version
// by name.
func TestUserOverridesLibraryName(t *testing.T) {
	src := `
vec3 hsv2rgb(vec3 hsv) { return vec3(9.0, 9.0, 9.0); }
vec3 tint(float h) { return hsv2rgb(vec3(h, 1.0, 1.0)); }
`
	for _, tgt := range targets {
		m, err := Compile(src, tgt)
		if err != nil {
			t.Fatal(err)
		}
		red, err := m.Invoke("tint", Float(0.0))
		if err != nil {
			t.Fatal(err)
		}
		if math.Abs(red.At(0)-1.0) > 0.02 || math.Abs(red.At(1)) > 0.02 {
			t.Errorf("%s: tint(0) = %s, want library red", tgt, red)
		}
		user, err := m.Invoke("hsv2rgb", Vec3(0, 1, 1))
		if err != nil {
			t.Fatal(err)
		}
		if user.At(0) != 9.0 || user.At(1) != 9.0 || user.At(2) != 9.0 {
			t.Errorf("%s: hsv2rgb = %s, want the user overload", tgt, user)
		}
	}
}

func TestLibraryHsv2rgb(t *testing.T) {
	src := `
vec3 tint(float h) {
	return hsv2rgb(vec3(h, 1.0, 1.0));
}
`
	red := invokeBoth(t, src, "tint", Float(0.0)).Vec()
	want := []float64{1, 0, 0}
	for i := range want {
		if math.Abs(red[i]-want[i]) > 0.02 {
			t.Errorf("hsv2rgb(0,1,1)[%d] = %v, want %v", i, red[i], want[i])
		}
	}
	green := invokeBoth(t, src, "tint", Float(1.0/3.0)).Vec()
	if green[1] < 0.97 || green[0] > 0.03 {
		t.Errorf("hsv2rgb(1/3,1,1) = %v, want green", green)
	}
}

func TestShortCircuit(t *testing.T) {
	// An inout counter makes the evaluation (or skipping) of the
	// right-hand side observable.
	src := `
bool touch(inout int n) {
	n = n + 1;
	return true;
}
int gate(bool lhs) {
	int hits = 0;
	bool r = lhs && touch(hits);
	bool r2 = lhs || touch(hits);
	if (r || r2) { }
	return hits;
}
`
	if got := invokeBoth(t, src, "gate", Bool(false)).AsInt(); got != 1 {
		t.Errorf("gate(false) touched %d times, want 1", got)
	}
	if got := invokeBoth(t, src, "gate", Bool(true)).AsInt(); got != 1 {
		t.Errorf("gate(true) touched %d times, want 1", got)
	}
}

func TestPrintOutput(t *testing.T) {
	src := `
void report(float x, int n) {
	print("x=", x, " n=", n, " ok=", n > 2);
}
`
	mods := compileBoth(t, src)
	var texts []string
	for _, tgt := range targets {
		var buf bytes.Buffer
		mods[tgt].SetOutput(&buf)
		if _, err := mods[tgt].Invoke("report", Float(1.5), Int(3)); err != nil {
			t.Fatalf("%s: %v", tgt, err)
		}
		texts = append(texts, buf.String())
	}
	want := "x=1.5 n=3 ok=true\n"
	for i, tgt := range targets {
		if texts[i] != want {
			t.Errorf("%s printed %q, want %q", tgt, texts[i], want)
		}
	}
}

// Each invocation gets its own frame arena, so one compiled module
// serves many goroutines at once.
func TestConcurrentInvoke(t *testing.T) {
	src := `
vec3 shade(float t, vec3 base) {
	float taps[4];
	for (int i = 0; i < 4; i++) {
		taps[i] = 0.5 + 0.5 * sin(t + float(i));
	}
	float gain = 0.0;
	for (int i = 0; i < 4; i++) {
		gain += taps[i];
	}
	return base * (gain / 4.0);
}
`
	m, err := Compile(src, TargetHost)
	if err != nil {
		t.Fatal(err)
	}

	inputs := make([]Value, 16)
	want := make([]Value, len(inputs))
	for i := range inputs {
		inputs[i] = Float(float64(i) * 0.37)
		want[i], err = m.Invoke("shade", inputs[i], Vec3(1, 0.5, 0.25))
		if err != nil {
			t.Fatal(err)
		}
	}

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for iter := 0; iter < 200; iter++ {
				i := iter % len(inputs)
				got, err := m.Invoke("shade", inputs[i], Vec3(1, 0.5, 0.25))
				if err != nil {
					t.Errorf("shade: %v", err)
					return
				}
				if got != want[i] {
					t.Errorf("shade(%s) = %s, want %s", inputs[i], got, want[i])
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestExports(t *testing.T) {
	src := `
float a(float x) { return x; }
float a(int x) { return 0.0; }
void b() { }
`
	m, err := Compile(src, TargetHost)
	if err != nil {
		t.Fatal(err)
	}
	got := m.Exports()
	want := []string{"a", "b"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Exports = %v, want %v", got, want)
	}
}

func TestInvokeErrors(t *testing.T) {
	src := `
float f(float x) { return x; }
void g(out float x) { x = 1.0; }
`
	for _, tgt := range targets {
		m, err := Compile(src, tgt)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := m.Invoke("missing", Float(1)); !errors.Is(err, ErrNoSuchExport) {
			t.Errorf("%s: missing = %v", tgt, err)
		}
		if _, err := m.Invoke("f", Int(1)); !errors.Is(err, ErrInvalidArguments) {
			t.Errorf("%s: wrong shape = %v", tgt, err)
		}
		if _, err := m.Invoke("f"); !errors.Is(err, ErrInvalidArguments) {
			t.Errorf("%s: wrong count = %v", tgt, err)
		}
		if _, err := m.Invoke("g", Float(1)); !errors.Is(err, ErrNoSuchExport) {
			t.Errorf("%s: out param = %v", tgt, err)
		}
	}
}

func TestParseTarget(t *testing.T) {
	cases := map[string]Target{
		"":         TargetHost,
		"host":     TargetHost,
		"embedded": TargetEmbedded,
		"VM":       TargetEmbedded,
	}
	for s, want := range cases {
		got, err := ParseTarget(s)
		if err != nil || got != want {
			t.Errorf("ParseTarget(%q) = %v, %v", s, got, err)
		}
	}
	if _, err := ParseTarget("gpu"); err == nil {
		t.Error("ParseTarget accepted nonsense")
	}
}

func TestDeepCallChain(t *testing.T) {
	src := `
float leaf(float x) { return x + 1.0; }
float mid(float x) { return leaf(x) * 2.0; }
float top(float x) { return mid(x) + leaf(x); }
`
	got := invokeBoth(t, src, "top", Float(1.0)).AsFloat()
	if math.Abs(got-6.0) > 0.001 {
		t.Errorf("top(1) = %v, want 6", got)
	}
}

func TestManyArgumentsSpillToStack(t *testing.T) {
	// Seven scalar words force three of them through stack slots on
	// the embedded target.
	src := `
float weigh(float a, float b, float c, float d, float e, float f, float g) {
	return a + 2.0*b + 3.0*c + 4.0*d + 5.0*e + 6.0*f + 7.0*g;
}
`
	got := invokeBoth(t, src, "weigh",
		Float(1), Float(1), Float(1), Float(1), Float(1), Float(1), Float(1)).AsFloat()
	if math.Abs(got-28.0) > 0.01 {
		t.Errorf("weigh = %v, want 28", got)
	}
}
