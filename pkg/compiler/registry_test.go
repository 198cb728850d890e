package compiler

import (
	"errors"
	"strings"
	"testing"
)

func params(types ...Type) []ParamInfo {
	out := make([]ParamInfo, len(types))
	for i, t := range types {
		out[i] = ParamInfo{Type: t}
	}
	return out
}

func TestMangle(t *testing.T) {
	tests := []struct {
		name string
		p    []ParamInfo
		want string
	}{
		{"tick", nil, "tick__v"},
		{"wave", params(TypeFloat), "wave__f"},
		{"clamp", params(TypeFloat, TypeFloat, TypeFloat), "clamp__f_f_f"},
		{"mix", params(Vec(3), Vec(3), TypeFloat), "mix__v3_v3_f"},
		{"any", params(BVec(2)), "any__bv2"},
		{"scale", params(Mat(2), TypeFloat), "scale__m2_f"},
		{"sum", params(ArrayOf(TypeFloat, 8)), "sum__a8f"},
	}
	for _, tt := range tests {
		if got := mangle(tt.name, tt.p); got != tt.want {
			t.Errorf("mangle(%s) = %s, want %s", tt.name, got, tt.want)
		}
	}
}

func TestRegistryExactMatch(t *testing.T) {
	r := NewRegistry()
	scalar := &Overload{Kind: FuncBuiltin, Name: "glow", Params: params(TypeFloat), Ret: TypeFloat}
	vector := &Overload{Kind: FuncLibrary, Name: "glow", Params: params(Vec(3)), Ret: Vec(3)}
	if err := r.Register(scalar); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(vector); err != nil {
		t.Fatal(err)
	}

	o, err := r.Resolve("glow", []Type{Vec(3)})
	if err != nil {
		t.Fatal(err)
	}
	if o != vector {
		t.Error("resolved the wrong overload")
	}

	// int does not widen to float; there are no implicit conversions.
	_, err = r.Resolve("glow", []Type{TypeInt})
	if !errors.Is(err, ErrUnknownFunction) {
		t.Fatalf("resolve(int) = %v, want ErrUnknownFunction", err)
	}
	if !strings.Contains(err.Error(), "candidates") {
		t.Errorf("error %q does not list candidates", err)
	}
}

func TestRegistryNamespaceOrder(t *testing.T) {
	r := NewRegistry()
	builtin := &Overload{Kind: FuncBuiltin, Name: "wave", Params: params(TypeFloat)}
	library := &Overload{Kind: FuncLibrary, Name: "wave", Params: params(TypeFloat)}
	user := &Overload{Kind: FuncUser, Name: "wave", Params: params(TypeFloat)}
	for _, o := range []*Overload{builtin, library, user} {
		if err := r.Register(o); err != nil {
			t.Fatal(err)
		}
	}

	o, err := r.Resolve("wave", []Type{TypeFloat})
	if err != nil {
		t.Fatal(err)
	}
	if o != builtin {
		t.Errorf("resolved %s overload, want builtin", o.Kind)
	}

	// Lowered names stay distinct per namespace; the user one is bare so
	// the host can reach it by mangled name.
	if builtin.Mangled == library.Mangled || library.Mangled == user.Mangled {
		t.Errorf("lowered names collide: %s %s %s", builtin.Mangled, library.Mangled, user.Mangled)
	}
	if user.Mangled != "wave__f" {
		t.Errorf("user Mangled = %s, want wave__f", user.Mangled)
	}

	// Within one namespace the same signature is a redeclaration.
	err = r.Register(&Overload{Kind: FuncUser, Name: "wave", Params: params(TypeFloat)})
	if !errors.Is(err, ErrRedeclaration) {
		t.Fatalf("duplicate signature = %v, want ErrRedeclaration", err)
	}

	// A different arity under the same name is a fresh overload.
	if err := r.Register(&Overload{Kind: FuncUser, Name: "wave", Params: params(TypeFloat, TypeFloat)}); err != nil {
		t.Errorf("distinct signature rejected: %v", err)
	}
}

func TestRegistryUnknownName(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Resolve("nothing", nil); !errors.Is(err, ErrUnknownFunction) {
		t.Errorf("got %v, want ErrUnknownFunction", err)
	}
	if r.Known("nothing") {
		t.Error("Known reported an unregistered name")
	}
}

// Parameter direction does not take part in the signature: out float
// and float collide, matching call sites that cannot spell the
// difference.
func TestRegistryQualifierIgnoredInSignature(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&Overload{
		Kind: FuncUser, Name: "split",
		Params: []ParamInfo{{Type: TypeFloat, Qual: QualOut}},
	}); err != nil {
		t.Fatal(err)
	}
	err := r.Register(&Overload{Kind: FuncUser, Name: "split", Params: params(TypeFloat)})
	if !errors.Is(err, ErrRedeclaration) {
		t.Errorf("got %v, want ErrRedeclaration", err)
	}
}
