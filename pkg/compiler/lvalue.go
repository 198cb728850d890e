package compiler

import "glowc/pkg/ir"

// AccessPattern says how a pointer-based lvalue addresses its storage.
type AccessPattern uint8

const (
	// AccessDirect: the whole object at the base address.
	AccessDirect AccessPattern = iota
	// AccessComponentSelect: a fixed component subset of the object,
	// given by Select (byte offsets from the base address).
	AccessComponentSelect
	// AccessArrayElement: base plus a runtime element offset register
	// (byte offset, already scaled).
	AccessArrayElement
)

// LValue is a typed reference to mutable storage. Every assignable
// expression evaluates to one of exactly two shapes:
//
//   - SSA-bound: the value lives in virtual registers, one per
//     component. Assignment rebinds registers in the symbol table.
//   - Pointer-based: the value lives in memory behind a base address
//     register. Assignment stores through the address.
//
// Reads and writes go through the same structure for both shapes, so
// swizzled stores, array elements and out-parameters all share one
// code path in the generator.
type LValue struct {
	Type Type

	// SSA shape.
	Regs []ir.Reg // one register per component; nil for pointer-based

	// Pointer shape.
	Addr    ir.Reg // base address register
	Pattern AccessPattern
	Select  []int  // byte offsets for AccessComponentSelect
	ElemOff ir.Reg // runtime byte offset for AccessArrayElement
	ElemTy  Type   // element type for AccessArrayElement
}

// IsSSA reports whether the lvalue is register-resident.
func (lv *LValue) IsSSA() bool { return lv.Regs != nil }

// ComponentOffsets returns the byte offsets this lvalue covers relative
// to its base address. Only meaningful for pointer-based lvalues with a
// static access pattern.
func (lv *LValue) ComponentOffsets() []int {
	if lv.Pattern == AccessComponentSelect {
		return lv.Select
	}
	n := lv.Type.Components()
	offs := make([]int, n)
	for i := range offs {
		offs[i] = i * 4
	}
	return offs
}

// Symbol is one named entity visible in a scope.
type Symbol struct {
	Name     string
	Type     Type
	Const    bool
	ConstVal ConstValue // folded value when Const
	LV       LValue
}

// ConstValue is the result of compile-time folding: a scalar tagged
// with its kind.
type ConstValue struct {
	Kind ScalarKind
	F    float64
	I    int64
	U    uint64
	B    bool
}
