package compiler

import (
	"fmt"
	"strings"
)

// FuncKind says which namespace an overload was registered in.
// Resolution tries builtins first, then the extension library, then
// user code: a user function may reuse a builtin or library signature,
// and the earlier namespace wins at call sites. Each namespace holds a
// signature at most once.
type FuncKind uint8

const (
	FuncBuiltin FuncKind = iota
	FuncLibrary
	FuncUser
)

func (k FuncKind) String() string {
	switch k {
	case FuncBuiltin:
		return "builtin"
	case FuncLibrary:
		return "library"
	}
	return "user"
}

// ParamInfo is one parameter of a registered overload.
type ParamInfo struct {
	Type Type
	Qual ParamQual
}

// Overload is one concrete (name, parameter types) registration.
// Exactly one of Decl and Build is set: library and user functions
// carry their parsed body, builtins carry a synthesizer that produces
// the lowered function on first use.
type Overload struct {
	Kind    FuncKind
	Name    string
	Params  []ParamInfo
	Ret     Type
	Mangled string

	Decl  *FunctionDecl
	Build func(mg *moduleGen) error
}

// mangle builds the unique lowered name for a (name, params) pair.
// The "__" separator keeps the result a valid assembler label and
// cannot collide with user identifiers containing single underscores.
func mangle(name string, params []ParamInfo) string {
	if len(params) == 0 {
		return name + "__v"
	}
	parts := make([]string, len(params))
	for i, p := range params {
		parts[i] = p.Type.mangleElem()
	}
	return name + "__" + strings.Join(parts, "_")
}

// nsPrefix qualifies a lowered name with its namespace. User names stay
// bare: they are the export surface the host invokes by mangled name.
func nsPrefix(kind FuncKind) string {
	switch kind {
	case FuncBuiltin:
		return "bi__"
	case FuncLibrary:
		return "lib__"
	}
	return ""
}

// Registry holds every callable visible to a compilation unit.
type Registry struct {
	byKey  map[string]*Overload
	byName map[string][]*Overload
}

func NewRegistry() *Registry {
	return &Registry{
		byKey:  make(map[string]*Overload),
		byName: make(map[string][]*Overload),
	}
}

// Register adds one overload. A second registration with the same
// name and parameter types in the same namespace fails; the same
// signature in a different namespace shadows per the resolution order.
func (r *Registry) Register(o *Overload) error {
	o.Mangled = nsPrefix(o.Kind) + mangle(o.Name, o.Params)
	if _, exists := r.byKey[o.Mangled]; exists {
		return fmt.Errorf("%w: %s function %s(%s) already defined",
			ErrRedeclaration, o.Kind, o.Name, paramTypeList(o.Params))
	}
	r.byKey[o.Mangled] = o
	r.byName[o.Name] = append(r.byName[o.Name], o)
	return nil
}

// Resolve finds the overload exactly matching the argument types,
// preferring builtins over the library over user code. There are no
// implicit conversions, so "exact" is the whole rule.
func (r *Registry) Resolve(name string, args []Type) (*Overload, error) {
	params := make([]ParamInfo, len(args))
	for i, a := range args {
		params[i] = ParamInfo{Type: a}
	}
	base := mangle(name, params)
	for _, kind := range []FuncKind{FuncBuiltin, FuncLibrary, FuncUser} {
		if o, ok := r.byKey[nsPrefix(kind)+base]; ok {
			return o, nil
		}
	}
	if alts := r.byName[name]; len(alts) > 0 {
		var sigs []string
		for _, o := range alts {
			sigs = append(sigs, fmt.Sprintf("%s(%s)", name, paramTypeList(o.Params)))
		}
		return nil, fmt.Errorf("%w: no overload of %s takes (%s); candidates: %s",
			ErrUnknownFunction, name, typeList(args), strings.Join(sigs, ", "))
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownFunction, name)
}

// Known reports whether any overload is registered under name.
func (r *Registry) Known(name string) bool {
	return len(r.byName[name]) > 0
}

func typeList(types []Type) string {
	parts := make([]string, len(types))
	for i, t := range types {
		parts[i] = t.String()
	}
	return strings.Join(parts, ", ")
}

func paramTypeList(params []ParamInfo) string {
	parts := make([]string, len(params))
	for i, p := range params {
		if p.Qual != QualIn {
			parts[i] = p.Qual.String() + " " + p.Type.String()
		} else {
			parts[i] = p.Type.String()
		}
	}
	return strings.Join(parts, ", ")
}
