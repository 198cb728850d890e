package compiler

import (
	"fmt"

	"glowc/pkg/ir"
)

// The builtin namespace has two layers. Primitives map directly onto
// IR operations and are built by hand below. Everything that can be
// written in the language itself (vector variants, clamp, mix, the
// comparison family) lives in builtinSource and goes through the
// normal lowering path, so builtins exercise the same code generator
// as user code.

func primFunc(name string, params int, class ir.Class, ret ir.Class) *ir.Func {
	fn := &ir.Func{Name: name, Ret: ir.ValueDesc{Class: ret, Words: 1}}
	for i := 0; i < params; i++ {
		fn.Params = append(fn.Params, ir.Param{
			Name: fmt.Sprintf("p%d", i),
			Desc: ir.ValueDesc{Class: class, Words: 1},
		})
	}
	fn.NumRegs = params
	fn.Blocks = []*ir.Block{{}}
	return fn
}

func fparams(n int) []ParamInfo {
	ps := make([]ParamInfo, n)
	for i := range ps {
		ps[i] = ParamInfo{Type: TypeFloat}
	}
	return ps
}

// registerPrimitives adds the hand-built builtin overloads.
func registerPrimitives(r *Registry) error {
	unary := map[string]ir.Op{
		"sin":   ir.FSin,
		"cos":   ir.FCos,
		"sqrt":  ir.FSqrt,
		"abs":   ir.FAbs,
		"floor": ir.FFloor,
		"ceil":  ir.FCeil,
		"fract": ir.FFract,
	}
	for name, op := range unary {
		o := &Overload{Kind: FuncBuiltin, Name: name, Params: fparams(1), Ret: TypeFloat}
		op := op
		o.Build = func(mg *moduleGen) error {
			fn := primFunc(o.Mangled, 1, ir.Float, ir.Float)
			res := fn.NumRegs
			fn.NumRegs++
			fn.Blocks[0].Instrs = []ir.Instr{
				{Op: op, Kind: ir.Float, Dst: res, HasDst: true, A: 0},
				{Op: ir.Ret, Args: []ir.Reg{res}},
			}
			mg.mod.Funcs = append(mg.mod.Funcs, fn)
			return nil
		}
		if err := r.Register(o); err != nil {
			return err
		}
	}

	binary := map[string]ir.Op{
		"min": ir.FMin,
		"max": ir.FMax,
		"pow": ir.FPow,
	}
	for name, op := range binary {
		o := &Overload{Kind: FuncBuiltin, Name: name, Params: fparams(2), Ret: TypeFloat}
		op := op
		o.Build = func(mg *moduleGen) error {
			fn := primFunc(o.Mangled, 2, ir.Float, ir.Float)
			res := fn.NumRegs
			fn.NumRegs++
			fn.Blocks[0].Instrs = []ir.Instr{
				{Op: op, Kind: ir.Float, Dst: res, HasDst: true, A: 0, B: 1},
				{Op: ir.Ret, Args: []ir.Reg{res}},
			}
			mg.mod.Funcs = append(mg.mod.Funcs, fn)
			return nil
		}
		if err := r.Register(o); err != nil {
			return err
		}
	}

	// Integer and unsigned min/max select with a branch; there is no
	// unsigned compare-free idiom worth the obscurity.
	for _, v := range []struct {
		name string
		t    Type
		less bool
	}{
		{"min", TypeInt, true},
		{"max", TypeInt, false},
		{"min", TypeUInt, true},
		{"max", TypeUInt, false},
	} {
		v := v
		o := &Overload{Kind: FuncBuiltin, Name: v.name,
			Params: []ParamInfo{{Type: v.t}, {Type: v.t}}, Ret: v.t}
		o.Build = func(mg *moduleGen) error {
			k := v.t.Kind.irClass()
			fn := primFunc(o.Mangled, 2, k, k)
			c := fn.NumRegs
			fn.NumRegs++
			fn.Blocks = []*ir.Block{{}, {}, {}}
			takeA, takeB := 1, 2
			if !v.less {
				takeA, takeB = 2, 1
			}
			fn.Blocks[0].Instrs = []ir.Instr{
				{Op: ir.CmpLt, Kind: k, Dst: c, HasDst: true, A: 0, B: 1},
				{Op: ir.Br, A: c, Blk: takeA, Blk2: takeB},
			}
			fn.Blocks[1].Instrs = []ir.Instr{{Op: ir.Ret, Args: []ir.Reg{0}}}
			fn.Blocks[2].Instrs = []ir.Instr{{Op: ir.Ret, Args: []ir.Reg{1}}}
			mg.mod.Funcs = append(mg.mod.Funcs, fn)
			return nil
		}
		if err := r.Register(o); err != nil {
			return err
		}
	}

	// abs(int): branchless sign trick, (x ^ s) - s with s = x >> 31.
	{
		o := &Overload{Kind: FuncBuiltin, Name: "abs",
			Params: []ParamInfo{{Type: TypeInt}}, Ret: TypeInt}
		o.Build = func(mg *moduleGen) error {
			fn := primFunc(o.Mangled, 1, ir.Int, ir.Int)
			c31 := fn.NumRegs
			s := c31 + 1
			x := c31 + 2
			res := c31 + 3
			fn.NumRegs += 4
			fn.Blocks[0].Instrs = []ir.Instr{
				{Op: ir.Const, Kind: ir.Int, Dst: c31, HasDst: true, Imm: 31},
				{Op: ir.Sar, Kind: ir.Int, Dst: s, HasDst: true, A: 0, B: c31},
				{Op: ir.Xor, Kind: ir.Int, Dst: x, HasDst: true, A: 0, B: s},
				{Op: ir.Sub, Kind: ir.Int, Dst: res, HasDst: true, A: x, B: s},
				{Op: ir.Ret, Args: []ir.Reg{res}},
			}
			mg.mod.Funcs = append(mg.mod.Funcs, fn)
			return nil
		}
		if err := r.Register(o); err != nil {
			return err
		}
	}

	// mod(x, y) = x - y*floor(x/y), the sign-of-y flooring form.
	{
		o := &Overload{Kind: FuncBuiltin, Name: "mod", Params: fparams(2), Ret: TypeFloat}
		o.Build = func(mg *moduleGen) error {
			fn := primFunc(o.Mangled, 2, ir.Float, ir.Float)
			q := fn.NumRegs
			fq := q + 1
			m := q + 2
			res := q + 3
			fn.NumRegs += 4
			fn.Blocks[0].Instrs = []ir.Instr{
				{Op: ir.FDiv, Kind: ir.Float, Dst: q, HasDst: true, A: 0, B: 1},
				{Op: ir.FFloor, Kind: ir.Float, Dst: fq, HasDst: true, A: q},
				{Op: ir.FMul, Kind: ir.Float, Dst: m, HasDst: true, A: 1, B: fq},
				{Op: ir.FSub, Kind: ir.Float, Dst: res, HasDst: true, A: 0, B: m},
				{Op: ir.Ret, Args: []ir.Reg{res}},
			}
			mg.mod.Funcs = append(mg.mod.Funcs, fn)
			return nil
		}
		if err := r.Register(o); err != nil {
			return err
		}
	}

	// dot products: straight multiply-accumulate over the flattened
	// component words.
	for _, n := range []int{2, 3, 4} {
		n := n
		o := &Overload{Kind: FuncBuiltin, Name: "dot",
			Params: []ParamInfo{{Type: Vec(n)}, {Type: Vec(n)}}, Ret: TypeFloat}
		o.Build = func(mg *moduleGen) error {
			fn := &ir.Func{Name: o.Mangled, Ret: ir.ValueDesc{Class: ir.Float, Words: 1}}
			fn.Params = []ir.Param{
				{Name: "a", Desc: ir.ValueDesc{Class: ir.Float, Words: n}},
				{Name: "b", Desc: ir.ValueDesc{Class: ir.Float, Words: n}},
			}
			fn.NumRegs = 2 * n
			blk := &ir.Block{}
			fn.Blocks = []*ir.Block{blk}
			var acc ir.Reg
			for i := 0; i < n; i++ {
				p := fn.NumRegs
				fn.NumRegs++
				blk.Instrs = append(blk.Instrs,
					ir.Instr{Op: ir.FMul, Kind: ir.Float, Dst: p, HasDst: true, A: i, B: n + i})
				if i == 0 {
					acc = p
					continue
				}
				s := fn.NumRegs
				fn.NumRegs++
				blk.Instrs = append(blk.Instrs,
					ir.Instr{Op: ir.FAdd, Kind: ir.Float, Dst: s, HasDst: true, A: acc, B: p})
				acc = s
			}
			blk.Instrs = append(blk.Instrs, ir.Instr{Op: ir.Ret, Args: []ir.Reg{acc}})
			mg.mod.Funcs = append(mg.mod.Funcs, fn)
			return nil
		}
		if err := r.Register(o); err != nil {
			return err
		}
	}
	return nil
}

// builtinSource is the language-level half of the builtin namespace.
// It is compiled like any other unit; only the overloads a program
// actually calls get lowered.
const builtinSource = `
// length / distance / normalize

float length(vec2 v) { return sqrt(dot(v, v)); }
float length(vec3 v) { return sqrt(dot(v, v)); }
float length(vec4 v) { return sqrt(dot(v, v)); }

float distance(vec2 a, vec2 b) { return length(a - b); }
float distance(vec3 a, vec3 b) { return length(a - b); }
float distance(vec4 a, vec4 b) { return length(a - b); }

vec2 normalize(vec2 v) {
	float l = length(v);
	if (l == 0.0) { return vec2(0.0); }
	return v / l;
}
vec3 normalize(vec3 v) {
	float l = length(v);
	if (l == 0.0) { return vec3(0.0); }
	return v / l;
}
vec4 normalize(vec4 v) {
	float l = length(v);
	if (l == 0.0) { return vec4(0.0); }
	return v / l;
}

vec3 cross(vec3 a, vec3 b) {
	return vec3(a.y * b.z - a.z * b.y,
	            a.z * b.x - a.x * b.z,
	            a.x * b.y - a.y * b.x);
}

// clamp / mix / step / smoothstep

float clamp(float x, float lo, float hi) { return min(max(x, lo), hi); }
int   clamp(int x, int lo, int hi)       { return min(max(x, lo), hi); }
uint  clamp(uint x, uint lo, uint hi)    { return min(max(x, lo), hi); }

vec2 clamp(vec2 x, float lo, float hi) { return vec2(clamp(x.x, lo, hi), clamp(x.y, lo, hi)); }
vec3 clamp(vec3 x, float lo, float hi) { return vec3(clamp(x.x, lo, hi), clamp(x.y, lo, hi), clamp(x.z, lo, hi)); }
vec4 clamp(vec4 x, float lo, float hi) { return vec4(clamp(x.x, lo, hi), clamp(x.y, lo, hi), clamp(x.z, lo, hi), clamp(x.w, lo, hi)); }

float mix(float a, float b, float t) { return a + (b - a) * t; }
vec2 mix(vec2 a, vec2 b, float t) { return a + (b - a) * t; }
vec3 mix(vec3 a, vec3 b, float t) { return a + (b - a) * t; }
vec4 mix(vec4 a, vec4 b, float t) { return a + (b - a) * t; }

float step(float edge, float x) {
	if (x < edge) { return 0.0; }
	return 1.0;
}
vec2 step(float edge, vec2 x) { return vec2(step(edge, x.x), step(edge, x.y)); }
vec3 step(float edge, vec3 x) { return vec3(step(edge, x.x), step(edge, x.y), step(edge, x.z)); }
vec4 step(float edge, vec4 x) { return vec4(step(edge, x.x), step(edge, x.y), step(edge, x.z), step(edge, x.w)); }

float smoothstep(float e0, float e1, float x) {
	float t = clamp((x - e0) / (e1 - e0), 0.0, 1.0);
	return t * t * (3.0 - 2.0 * t);
}

// componentwise variants of the scalar primitives

vec2 sin(vec2 v) { return vec2(sin(v.x), sin(v.y)); }
vec3 sin(vec3 v) { return vec3(sin(v.x), sin(v.y), sin(v.z)); }
vec4 sin(vec4 v) { return vec4(sin(v.x), sin(v.y), sin(v.z), sin(v.w)); }

vec2 cos(vec2 v) { return vec2(cos(v.x), cos(v.y)); }
vec3 cos(vec3 v) { return vec3(cos(v.x), cos(v.y), cos(v.z)); }
vec4 cos(vec4 v) { return vec4(cos(v.x), cos(v.y), cos(v.z), cos(v.w)); }

vec2 abs(vec2 v) { return vec2(abs(v.x), abs(v.y)); }
vec3 abs(vec3 v) { return vec3(abs(v.x), abs(v.y), abs(v.z)); }
vec4 abs(vec4 v) { return vec4(abs(v.x), abs(v.y), abs(v.z), abs(v.w)); }

vec2 floor(vec2 v) { return vec2(floor(v.x), floor(v.y)); }
vec3 floor(vec3 v) { return vec3(floor(v.x), floor(v.y), floor(v.z)); }
vec4 floor(vec4 v) { return vec4(floor(v.x), floor(v.y), floor(v.z), floor(v.w)); }

vec2 fract(vec2 v) { return vec2(fract(v.x), fract(v.y)); }
vec3 fract(vec3 v) { return vec3(fract(v.x), fract(v.y), fract(v.z)); }
vec4 fract(vec4 v) { return vec4(fract(v.x), fract(v.y), fract(v.z), fract(v.w)); }

vec2 min(vec2 a, vec2 b) { return vec2(min(a.x, b.x), min(a.y, b.y)); }
vec3 min(vec3 a, vec3 b) { return vec3(min(a.x, b.x), min(a.y, b.y), min(a.z, b.z)); }
vec4 min(vec4 a, vec4 b) { return vec4(min(a.x, b.x), min(a.y, b.y), min(a.z, b.z), min(a.w, b.w)); }

vec2 max(vec2 a, vec2 b) { return vec2(max(a.x, b.x), max(a.y, b.y)); }
vec3 max(vec3 a, vec3 b) { return vec3(max(a.x, b.x), max(a.y, b.y), max(a.z, b.z)); }
vec4 max(vec4 a, vec4 b) { return vec4(max(a.x, b.x), max(a.y, b.y), max(a.z, b.z), max(a.w, b.w)); }

vec2 mod(vec2 x, float y) { return vec2(mod(x.x, y), mod(x.y, y)); }
vec3 mod(vec3 x, float y) { return vec3(mod(x.x, y), mod(x.y, y), mod(x.z, y)); }
vec4 mod(vec4 x, float y) { return vec4(mod(x.x, y), mod(x.y, y), mod(x.z, y), mod(x.w, y)); }

// componentwise comparisons: vectors never compare with operators,
// they produce bool vectors through this family.

bvec2 equal(vec2 a, vec2 b) { return bvec2(a.x == b.x, a.y == b.y); }
bvec3 equal(vec3 a, vec3 b) { return bvec3(a.x == b.x, a.y == b.y, a.z == b.z); }
bvec4 equal(vec4 a, vec4 b) { return bvec4(a.x == b.x, a.y == b.y, a.z == b.z, a.w == b.w); }

bvec2 notEqual(vec2 a, vec2 b) { return bvec2(a.x != b.x, a.y != b.y); }
bvec3 notEqual(vec3 a, vec3 b) { return bvec3(a.x != b.x, a.y != b.y, a.z != b.z); }
bvec4 notEqual(vec4 a, vec4 b) { return bvec4(a.x != b.x, a.y != b.y, a.z != b.z, a.w != b.w); }

// bool-vector forms, so comparison results compare again: the result
// of equal(a, b) is itself a valid argument to equal.

bvec2 equal(bvec2 a, bvec2 b) { return bvec2(a.x == b.x, a.y == b.y); }
bvec3 equal(bvec3 a, bvec3 b) { return bvec3(a.x == b.x, a.y == b.y, a.z == b.z); }
bvec4 equal(bvec4 a, bvec4 b) { return bvec4(a.x == b.x, a.y == b.y, a.z == b.z, a.w == b.w); }

bvec2 notEqual(bvec2 a, bvec2 b) { return bvec2(a.x != b.x, a.y != b.y); }
bvec3 notEqual(bvec3 a, bvec3 b) { return bvec3(a.x != b.x, a.y != b.y, a.z != b.z); }
bvec4 notEqual(bvec4 a, bvec4 b) { return bvec4(a.x != b.x, a.y != b.y, a.z != b.z, a.w != b.w); }

bvec2 lessThan(vec2 a, vec2 b) { return bvec2(a.x < b.x, a.y < b.y); }
bvec3 lessThan(vec3 a, vec3 b) { return bvec3(a.x < b.x, a.y < b.y, a.z < b.z); }
bvec4 lessThan(vec4 a, vec4 b) { return bvec4(a.x < b.x, a.y < b.y, a.z < b.z, a.w < b.w); }

bvec2 lessThanEqual(vec2 a, vec2 b) { return bvec2(a.x <= b.x, a.y <= b.y); }
bvec3 lessThanEqual(vec3 a, vec3 b) { return bvec3(a.x <= b.x, a.y <= b.y, a.z <= b.z); }
bvec4 lessThanEqual(vec4 a, vec4 b) { return bvec4(a.x <= b.x, a.y <= b.y, a.z <= b.z, a.w <= b.w); }

bvec2 greaterThan(vec2 a, vec2 b) { return bvec2(a.x > b.x, a.y > b.y); }
bvec3 greaterThan(vec3 a, vec3 b) { return bvec3(a.x > b.x, a.y > b.y, a.z > b.z); }
bvec4 greaterThan(vec4 a, vec4 b) { return bvec4(a.x > b.x, a.y > b.y, a.z > b.z, a.w > b.w); }

bvec2 greaterThanEqual(vec2 a, vec2 b) { return bvec2(a.x >= b.x, a.y >= b.y); }
bvec3 greaterThanEqual(vec3 a, vec3 b) { return bvec3(a.x >= b.x, a.y >= b.y, a.z >= b.z); }
bvec4 greaterThanEqual(vec4 a, vec4 b) { return bvec4(a.x >= b.x, a.y >= b.y, a.z >= b.z, a.w >= b.w); }

bool any(bvec2 v) { return v.x || v.y; }
bool any(bvec3 v) { return v.x || v.y || v.z; }
bool any(bvec4 v) { return v.x || v.y || v.z || v.w; }

bool all(bvec2 v) { return v.x && v.y; }
bool all(bvec3 v) { return v.x && v.y && v.z; }
bool all(bvec4 v) { return v.x && v.y && v.z && v.w; }

bvec2 not(bvec2 v) { return bvec2(!v.x, !v.y); }
bvec3 not(bvec3 v) { return bvec3(!v.x, !v.y, !v.z); }
bvec4 not(bvec4 v) { return bvec4(!v.x, !v.y, !v.z, !v.w); }
`
