package compiler

import (
	"errors"
	"testing"
)

func TestScopeShadowing(t *testing.T) {
	outer := NewScope(nil)
	if err := outer.Declare(&Symbol{Name: "x", Type: TypeFloat}); err != nil {
		t.Fatal(err)
	}

	inner := NewScope(outer)
	if err := inner.Declare(&Symbol{Name: "x", Type: TypeInt}); err != nil {
		t.Fatalf("shadowing in inner scope must be legal: %v", err)
	}

	sym, ok := inner.Lookup("x")
	if !ok || sym.Type.Kind != KindInt {
		t.Errorf("inner lookup resolved to %v, want the int shadow", sym)
	}
	sym, ok = outer.Lookup("x")
	if !ok || sym.Type.Kind != KindFloat {
		t.Errorf("outer lookup resolved to %v, want the original float", sym)
	}
}

func TestScopeRedeclaration(t *testing.T) {
	sc := NewScope(nil)
	if err := sc.Declare(&Symbol{Name: "v", Type: TypeFloat}); err != nil {
		t.Fatal(err)
	}
	err := sc.Declare(&Symbol{Name: "v", Type: TypeFloat})
	if !errors.Is(err, ErrRedeclaration) {
		t.Errorf("same-scope redeclaration = %v, want ErrRedeclaration", err)
	}
}

func TestScopeLookupWalksOut(t *testing.T) {
	root := NewScope(nil)
	root.Declare(&Symbol{Name: "g", Type: TypeUInt})
	leaf := NewScope(NewScope(NewScope(root)))
	if _, ok := leaf.Lookup("g"); !ok {
		t.Error("lookup did not reach the root scope")
	}
	if _, ok := leaf.Lookup("missing"); ok {
		t.Error("lookup invented a symbol")
	}
}

func foldExpr(t *testing.T, src string, sc *Scope) (ConstValue, bool) {
	t.Helper()
	prog, err := Parse("void f() { x = " + src + "; }")
	if err != nil {
		t.Fatalf("parse %q: %v", src, err)
	}
	e := prog.Functions[0].Body.Stmts[0].(*Assignment).Value
	return foldConst(e, sc)
}

func TestFoldConst(t *testing.T) {
	tests := []struct {
		src  string
		want ConstValue
	}{
		{"1 + 2 * 3", ConstValue{Kind: KindInt, I: 7}},
		{"-4", ConstValue{Kind: KindInt, I: -4}},
		{"~0", ConstValue{Kind: KindInt, I: -1}},
		{"1 << 4", ConstValue{Kind: KindInt, I: 16}},
		{"0.5 * 4.0", ConstValue{Kind: KindFloat, F: 2.0}},
		{"6u / 2u", ConstValue{Kind: KindUInt, U: 3}},
		{"0xFFu & 0x0Fu", ConstValue{Kind: KindUInt, U: 0x0F}},
		{"!true", ConstValue{Kind: KindBool, B: false}},
		{"true != false", ConstValue{Kind: KindBool, B: true}},
	}
	for _, tt := range tests {
		got, ok := foldExpr(t, tt.src, nil)
		if !ok {
			t.Errorf("fold %q: not constant", tt.src)
			continue
		}
		if got != tt.want {
			t.Errorf("fold %q = %+v, want %+v", tt.src, got, tt.want)
		}
	}
}

// Unsigned folding stays within 32 bits even though the folder works
// in uint64.
func TestFoldUintWraps(t *testing.T) {
	got, ok := foldExpr(t, "-1u", nil)
	if !ok || got.U != 0xFFFFFFFF {
		t.Errorf("fold -1u = %+v, want 4294967295", got)
	}
	got, ok = foldExpr(t, "0xFFFFFFFFu + 2u", nil)
	if !ok || got.U != 1 {
		t.Errorf("fold overflow add = %+v, want 1", got)
	}
}

func TestFoldConstReference(t *testing.T) {
	sc := NewScope(nil)
	sc.Declare(&Symbol{
		Name: "N", Type: TypeInt, Const: true,
		ConstVal: ConstValue{Kind: KindInt, I: 12},
	})
	got, ok := foldExpr(t, "N / 3", sc)
	if !ok || got.I != 4 {
		t.Errorf("fold N/3 = %+v, want 4", got)
	}

	// Non-const symbols never fold.
	sc.Declare(&Symbol{Name: "v", Type: TypeInt})
	if _, ok := foldExpr(t, "v + 1", sc); ok {
		t.Error("folded through a runtime variable")
	}
}

func TestFoldNotConstant(t *testing.T) {
	for _, src := range []string{"sin(1.0)", "1 / 0", "1 + 2.0", "x"} {
		if _, ok := foldExpr(t, src, nil); ok {
			t.Errorf("fold %q succeeded, want not-constant", src)
		}
	}
}

func TestFoldArraySize(t *testing.T) {
	prog, err := Parse("void f() { float a[4 * 2]; }")
	if err != nil {
		t.Fatal(err)
	}
	vd := prog.Functions[0].Body.Stmts[0].(*VarDecl)
	n, err := foldArraySize(vd.Type.ArraySize, nil)
	if err != nil || n != 8 {
		t.Errorf("size = %d, %v; want 8", n, err)
	}

	for _, src := range []string{"float a[0];", "float a[-1];", "float a[n];", "float a[2.0];"} {
		prog, err := Parse("void f() { " + src + " }")
		if err != nil {
			t.Fatalf("parse %q: %v", src, err)
		}
		vd := prog.Functions[0].Body.Stmts[0].(*VarDecl)
		if _, err := foldArraySize(vd.Type.ArraySize, nil); !errors.Is(err, ErrNonConstantArraySize) {
			t.Errorf("size of %q = %v, want ErrNonConstantArraySize", src, err)
		}
	}
}
