package compiler

import (
	"fmt"

	"glowc/pkg/ir"
)

// ScalarKind is the element kind of a scalar, vector or matrix type.
type ScalarKind uint8

const (
	KindFloat ScalarKind = iota
	KindInt
	KindUInt
	KindBool
)

func (k ScalarKind) String() string {
	switch k {
	case KindFloat:
		return "float"
	case KindInt:
		return "int"
	case KindUInt:
		return "uint"
	case KindBool:
		return "bool"
	}
	return "?"
}

// TypeTag discriminates the Type union.
type TypeTag uint8

const (
	TagVoid TypeTag = iota
	TagScalar
	TagVector
	TagMatrix
	TagStruct
	TagArray
	TagString // string literals only; not declarable
)

// Type is the compiler's type representation. Equality is structural
// and exact: there is no implicit widening anywhere in the language.
type Type struct {
	Tag    TypeTag
	Kind   ScalarKind // scalar kind; element kind for vectors
	Count  int        // vector component count (2..4)
	Rows   int        // matrix dimension (square, 2..4)
	Name   string     // struct name
	Elem   *Type      // array element type
	Size   int        // array length
	Fields []Field    // struct fields, in declaration order
}

// Field is one named struct member.
type Field struct {
	Name string
	Type Type
}

var (
	TypeVoid  = Type{Tag: TagVoid}
	TypeFloat = Type{Tag: TagScalar, Kind: KindFloat}
	TypeInt   = Type{Tag: TagScalar, Kind: KindInt}
	TypeUInt  = Type{Tag: TagScalar, Kind: KindUInt}
	TypeBool  = Type{Tag: TagScalar, Kind: KindBool}
)

// Vec returns the float vector type with n components.
func Vec(n int) Type { return Type{Tag: TagVector, Kind: KindFloat, Count: n} }

// BVec returns the bool vector type with n components.
func BVec(n int) Type { return Type{Tag: TagVector, Kind: KindBool, Count: n} }

// Mat returns the square float matrix type with n rows and columns.
func Mat(n int) Type { return Type{Tag: TagMatrix, Kind: KindFloat, Rows: n} }

// ArrayOf returns the array type of size elements of elem.
func ArrayOf(elem Type, size int) Type {
	e := elem
	return Type{Tag: TagArray, Elem: &e, Size: size}
}

func (t Type) String() string {
	switch t.Tag {
	case TagVoid:
		return "void"
	case TagScalar:
		return t.Kind.String()
	case TagVector:
		if t.Kind == KindBool {
			return fmt.Sprintf("bvec%d", t.Count)
		}
		return fmt.Sprintf("vec%d", t.Count)
	case TagMatrix:
		return fmt.Sprintf("mat%d", t.Rows)
	case TagStruct:
		return t.Name
	case TagArray:
		return fmt.Sprintf("%s[%d]", t.Elem, t.Size)
	case TagString:
		return "string"
	}
	return "?"
}

// Equal reports exact structural equality.
func (t Type) Equal(o Type) bool {
	if t.Tag != o.Tag {
		return false
	}
	switch t.Tag {
	case TagVoid, TagString:
		return true
	case TagScalar:
		return t.Kind == o.Kind
	case TagVector:
		return t.Kind == o.Kind && t.Count == o.Count
	case TagMatrix:
		return t.Rows == o.Rows
	case TagStruct:
		// Struct identity is nominal: one definition per name per unit.
		return t.Name == o.Name
	case TagArray:
		return t.Size == o.Size && t.Elem.Equal(*o.Elem)
	}
	return false
}

// IsNumeric reports whether t is an arithmetic scalar.
func (t Type) IsNumeric() bool {
	return t.Tag == TagScalar && t.Kind != KindBool
}

// IsFloatish reports whether t is float, vecN or matN.
func (t Type) IsFloatish() bool {
	switch t.Tag {
	case TagScalar, TagVector:
		return t.Kind == KindFloat
	case TagMatrix:
		return true
	}
	return false
}

// Components returns how many 32-bit words a value of t occupies when
// flattened. Array and struct sizes count their full extent.
func (t Type) Components() int {
	switch t.Tag {
	case TagVoid:
		return 0
	case TagScalar:
		return 1
	case TagVector:
		return t.Count
	case TagMatrix:
		return t.Rows * t.Rows
	case TagArray:
		return t.Size * t.Elem.Components()
	case TagStruct:
		n := 0
		for _, f := range t.Fields {
			n += f.Type.Components()
		}
		return n
	}
	return 0
}

// ByteSize returns the flattened size in bytes (4 bytes per word).
func (t Type) ByteSize() int { return t.Components() * 4 }

// ContainsArray reports whether t is or transitively contains an array.
// Such values are always memory-backed: dynamic indexing needs an
// address, not a register set.
func (t Type) ContainsArray() bool {
	switch t.Tag {
	case TagArray:
		return true
	case TagStruct:
		for _, f := range t.Fields {
			if f.Type.ContainsArray() {
				return true
			}
		}
	}
	return false
}

// FieldOffset returns the byte offset and type of a struct field.
func (t Type) FieldOffset(name string) (int, Type, bool) {
	off := 0
	for _, f := range t.Fields {
		if f.Name == name {
			return off, f.Type, true
		}
		off += f.Type.ByteSize()
	}
	return 0, Type{}, false
}

// Desc maps t onto the IR's flattened value descriptor.
func (t Type) Desc() ir.ValueDesc {
	var c ir.Class
	switch t.Kind {
	case KindFloat:
		c = ir.Float
	case KindInt:
		c = ir.Int
	case KindUInt:
		c = ir.UInt
	case KindBool:
		c = ir.Bool
	}
	if t.Tag == TagMatrix {
		c = ir.Float
	}
	return ir.ValueDesc{Class: c, Words: t.Components(), Mat: t.Tag == TagMatrix}
}

// irClass maps a scalar kind to its IR class.
func (k ScalarKind) irClass() ir.Class {
	switch k {
	case KindFloat:
		return ir.Float
	case KindInt:
		return ir.Int
	case KindUInt:
		return ir.UInt
	}
	return ir.Bool
}

// mangleElem is the signature fragment for a type, used to build
// overload-unique lowered function names ("dot__v3_v3").
func (t Type) mangleElem() string {
	switch t.Tag {
	case TagScalar:
		switch t.Kind {
		case KindFloat:
			return "f"
		case KindInt:
			return "i"
		case KindUInt:
			return "u"
		default:
			return "b"
		}
	case TagVector:
		if t.Kind == KindBool {
			return fmt.Sprintf("bv%d", t.Count)
		}
		return fmt.Sprintf("v%d", t.Count)
	case TagMatrix:
		return fmt.Sprintf("m%d", t.Rows)
	case TagStruct:
		return "s" + t.Name
	case TagArray:
		return fmt.Sprintf("a%d%s", t.Size, t.Elem.mangleElem())
	case TagString:
		return "str"
	}
	return "x"
}

// StructTable holds the unit's struct definitions. Each compilation
// owns its own table; nothing is shared across Compile calls.
type StructTable struct {
	defs  map[string]Type
	order []string
}

func NewStructTable() *StructTable {
	return &StructTable{defs: make(map[string]Type)}
}

// Define registers a struct type. A struct may not contain itself,
// directly or through other structs; that is rejected here rather than
// supported through indirection.
func (st *StructTable) Define(name string, fields []Field) (Type, error) {
	if _, exists := st.defs[name]; exists {
		return Type{}, fmt.Errorf("struct %q redefined", name)
	}
	t := Type{Tag: TagStruct, Name: name, Fields: fields}
	if st.embedsStruct(t, name) {
		return Type{}, fmt.Errorf("struct %q contains itself", name)
	}
	st.defs[name] = t
	st.order = append(st.order, name)
	return t, nil
}

// embedsStruct walks fields transitively looking for target.
func (st *StructTable) embedsStruct(t Type, target string) bool {
	for _, f := range t.Fields {
		ft := f.Type
		for ft.Tag == TagArray {
			ft = *ft.Elem
		}
		if ft.Tag != TagStruct {
			continue
		}
		if ft.Name == target {
			return true
		}
		if def, ok := st.defs[ft.Name]; ok && st.embedsStruct(def, target) {
			return true
		}
	}
	return false
}

// Lookup returns the struct type registered under name.
func (st *StructTable) Lookup(name string) (Type, bool) {
	t, ok := st.defs[name]
	return t, ok
}
