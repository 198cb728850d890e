package exec

import (
	"fmt"
	"strings"

	"glowc/pkg/q32"
)

// Kind enumerates the value shapes that cross the host/effect
// boundary. Structs and arrays stay inside compiled code; exported
// entry points exchange scalars, float vectors and float matrices.
type Kind uint8

const (
	KindVoid Kind = iota
	KindFloat
	KindInt
	KindUint
	KindBool
	KindVec2
	KindVec3
	KindVec4
	KindMat2
	KindMat3
	KindMat4
)

func (k Kind) String() string {
	switch k {
	case KindVoid:
		return "void"
	case KindFloat:
		return "float"
	case KindInt:
		return "int"
	case KindUint:
		return "uint"
	case KindBool:
		return "bool"
	case KindVec2:
		return "vec2"
	case KindVec3:
		return "vec3"
	case KindVec4:
		return "vec4"
	case KindMat2:
		return "mat2"
	case KindMat3:
		return "mat3"
	case KindMat4:
		return "mat4"
	}
	return "?"
}

// Words returns how many 32-bit words a value of this kind spans.
func (k Kind) Words() int {
	switch k {
	case KindVoid:
		return 0
	case KindVec2:
		return 2
	case KindVec3:
		return 3
	case KindVec4:
		return 4
	case KindMat2:
		return 4
	case KindMat3:
		return 9
	case KindMat4:
		return 16
	}
	return 1
}

// Value is one argument or result. Floats are stored in their Q32
// wire form so a Value round-trips through either backend without
// conversion loss.
type Value struct {
	kind Kind
	w    [16]uint32
}

// Float wraps a float scalar.
func Float(v float64) Value {
	return floatValue(KindFloat, v)
}

// Int wraps a signed integer scalar.
func Int(v int32) Value {
	return Value{kind: KindInt, w: [16]uint32{uint32(v)}}
}

// Uint wraps an unsigned integer scalar.
func Uint(v uint32) Value {
	return Value{kind: KindUint, w: [16]uint32{v}}
}

// Bool wraps a boolean.
func Bool(v bool) Value {
	var b uint32
	if v {
		b = 1
	}
	return Value{kind: KindBool, w: [16]uint32{b}}
}

// Vec2 wraps a 2-component float vector.
func Vec2(x, y float64) Value {
	return floatValue(KindVec2, x, y)
}

// Vec3 wraps a 3-component float vector.
func Vec3(x, y, z float64) Value {
	return floatValue(KindVec3, x, y, z)
}

// Vec4 wraps a 4-component float vector.
func Vec4(x, y, z, w float64) Value {
	return floatValue(KindVec4, x, y, z, w)
}

// Mat2 wraps a 2x2 float matrix, components in row-major order.
func Mat2(m [4]float64) Value {
	return floatValue(KindMat2, m[:]...)
}

// Mat3 wraps a 3x3 float matrix, components in row-major order.
func Mat3(m [9]float64) Value {
	return floatValue(KindMat3, m[:]...)
}

// Mat4 wraps a 4x4 float matrix, components in row-major order.
func Mat4(m [16]float64) Value {
	return floatValue(KindMat4, m[:]...)
}

func floatValue(k Kind, comps ...float64) Value {
	v := Value{kind: k}
	for i, c := range comps {
		v.w[i] = uint32(q32.FromFloat(c))
	}
	return v
}

// Kind reports the value's shape.
func (v Value) Kind() Kind { return v.kind }

// AsFloat returns the scalar float value.
func (v Value) AsFloat() float64 { return q32.Float(int32(v.w[0])) }

// AsInt returns the scalar int value.
func (v Value) AsInt() int32 { return int32(v.w[0]) }

// AsUint returns the scalar uint value.
func (v Value) AsUint() uint32 { return v.w[0] }

// AsBool returns the scalar bool value.
func (v Value) AsBool() bool { return v.w[0] != 0 }

// At returns vector component i as a float.
func (v Value) At(i int) float64 { return q32.Float(int32(v.w[i])) }

// Vec returns all float components.
func (v Value) Vec() []float64 {
	out := make([]float64, v.kind.Words())
	for i := range out {
		out[i] = v.At(i)
	}
	return out
}

func (v Value) String() string {
	switch v.kind {
	case KindVoid:
		return "void"
	case KindFloat:
		return fmt.Sprintf("%g", v.AsFloat())
	case KindInt:
		return fmt.Sprintf("%d", v.AsInt())
	case KindUint:
		return fmt.Sprintf("%du", v.AsUint())
	case KindBool:
		return fmt.Sprintf("%t", v.AsBool())
	}
	parts := make([]string, v.kind.Words())
	for i := range parts {
		parts[i] = fmt.Sprintf("%g", v.At(i))
	}
	return fmt.Sprintf("%s(%s)", v.kind, strings.Join(parts, ", "))
}

// words returns the flattened argument words.
func (v Value) words() []uint32 {
	return v.w[:v.kind.Words()]
}

// mangleElem is the signature fragment the compiler uses for this
// shape; Invoke rebuilds the lowered name from argument kinds.
func (k Kind) mangleElem() string {
	switch k {
	case KindFloat:
		return "f"
	case KindInt:
		return "i"
	case KindUint:
		return "u"
	case KindBool:
		return "b"
	case KindVec2:
		return "v2"
	case KindVec3:
		return "v3"
	case KindVec4:
		return "v4"
	case KindMat2:
		return "m2"
	case KindMat3:
		return "m3"
	case KindMat4:
		return "m4"
	}
	return "x"
}
