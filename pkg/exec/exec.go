// Package exec compiles effect source and runs its exported functions
// on one of two targets: a host engine that executes the compiled IR
// directly, and an embedded engine that assembles the IR for the
// 32-bit effect CPU and runs it in the VM. Both targets share the Q32
// fixed-point runtime, so the same program produces identical words on
// either.
package exec

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"glowc/pkg/compiler"
	"glowc/pkg/ir"
)

var (
	// ErrNoSuchExport: Invoke named a function the compiled module does
	// not export, or one not reachable from the host API.
	ErrNoSuchExport = errors.New("no such export")

	// ErrInvalidArguments: Invoke named an exported function, but the
	// argument list matches none of its signatures.
	ErrInvalidArguments = errors.New("invalid argument list")

	// ErrUnboundImport: the program calls a host import this runtime
	// does not provide.
	ErrUnboundImport = errors.New("unbound host import")
)

// Target selects the execution engine.
type Target int

const (
	TargetHost Target = iota
	TargetEmbedded
)

func (t Target) String() string {
	if t == TargetEmbedded {
		return "embedded"
	}
	return "host"
}

// ParseTarget maps a configuration string to a Target.
func ParseTarget(s string) (Target, error) {
	switch strings.ToLower(s) {
	case "", "host":
		return TargetHost, nil
	case "embedded", "vm":
		return TargetEmbedded, nil
	}
	return TargetHost, fmt.Errorf("unknown target %q (want host or embedded)", s)
}

// backend is one execution engine over a lowered module.
type backend interface {
	invoke(name string, args []uint32, retWords int) ([]uint32, error)
	setOutput(w io.Writer)
}

// Module is a compiled effect ready to run.
type Module struct {
	ir *ir.Module
	be backend
}

// Compile builds src for the given target with the default library.
func Compile(src string, target Target) (*Module, error) {
	m, err := compiler.Compile(src)
	if err != nil {
		return nil, err
	}
	return NewModule(m, target)
}

// NewModule wraps an already-lowered IR module in an execution engine.
func NewModule(m *ir.Module, target Target) (*Module, error) {
	var be backend
	var err error
	switch target {
	case TargetEmbedded:
		be, err = newEmbeddedBackend(m)
	default:
		be, err = newHostBackend(m)
	}
	if err != nil {
		return nil, err
	}
	return &Module{ir: m, be: be}, nil
}

// SetOutput directs print output; nil discards it.
func (m *Module) SetOutput(w io.Writer) { m.be.setOutput(w) }

// Exports lists the source names of the module's exported functions.
func (m *Module) Exports() []string {
	seen := map[string]bool{}
	var names []string
	for _, f := range m.ir.Funcs {
		if !f.Exported {
			continue
		}
		n := exportName(f.Name)
		if !seen[n] {
			seen[n] = true
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names
}

// Invoke runs the export whose name and argument shapes match. The
// exchange format is limited to scalars, float vectors and float
// matrices: an export taking or returning structs, arrays or
// out-parameters is not reachable from the host API.
func (m *Module) Invoke(name string, args ...Value) (Value, error) {
	mangled := mangleCall(name, args)
	fn := m.ir.Lookup(mangled)
	if fn == nil || !fn.Exported {
		if m.exportsName(name) {
			return Value{}, fmt.Errorf("%w: %s(%s)", ErrInvalidArguments, name, kindList(args))
		}
		return Value{}, fmt.Errorf("%w: %s", ErrNoSuchExport, name)
	}
	for _, p := range fn.Params {
		if p.ByRef {
			return Value{}, fmt.Errorf("%w: %s has out parameters", ErrNoSuchExport, name)
		}
	}
	retKind, err := retKindOf(fn.Ret)
	if err != nil {
		return Value{}, fmt.Errorf("%s: %w", name, err)
	}

	var words []uint32
	for _, a := range args {
		words = append(words, a.words()...)
	}
	out, err := m.be.invoke(mangled, words, fn.Ret.Words)
	if err != nil {
		return Value{}, fmt.Errorf("invoke %s: %w", name, err)
	}

	v := Value{kind: retKind}
	copy(v.w[:], out)
	return v, nil
}

// mangleCall mirrors the compiler's lowered naming scheme.
func mangleCall(name string, args []Value) string {
	if len(args) == 0 {
		return name + "__v"
	}
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = a.kind.mangleElem()
	}
	return name + "__" + strings.Join(parts, "_")
}

func kindList(args []Value) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = a.kind.String()
	}
	return strings.Join(parts, ", ")
}

func retKindOf(d ir.ValueDesc) (Kind, error) {
	switch {
	case d.Words == 0:
		return KindVoid, nil
	case d.Words == 1:
		switch d.Class {
		case ir.Float:
			return KindFloat, nil
		case ir.Int:
			return KindInt, nil
		case ir.UInt:
			return KindUint, nil
		default:
			return KindBool, nil
		}
	case d.Mat && d.Class == ir.Float:
		switch d.Words {
		case 4:
			return KindMat2, nil
		case 9:
			return KindMat3, nil
		case 16:
			return KindMat4, nil
		}
	case d.Words >= 2 && d.Words <= 4 && d.Class == ir.Float:
		return KindVec2 + Kind(d.Words-2), nil
	}
	return KindVoid, fmt.Errorf("return shape %s%d is not invokable from the host", d.Class, d.Words)
}

// exportsName reports whether any exported function has this source name.
func (m *Module) exportsName(name string) bool {
	for _, f := range m.ir.Funcs {
		if f.Exported && exportName(f.Name) == name {
			return true
		}
	}
	return false
}

// exportName strips the signature suffix from a lowered name.
func exportName(mangled string) string {
	if i := strings.Index(mangled, "__"); i >= 0 {
		return mangled[:i]
	}
	return mangled
}

// hostImports is the runtime's import surface. Both backends bind
// exactly these; a program calling anything else fails at load.
var hostImports = map[string]bool{
	"print_str": true,
	"print_f":   true,
	"print_i":   true,
	"print_u":   true,
	"print_b":   true,
	"print_nl":  true,
}

func checkImports(m *ir.Module) error {
	for _, sym := range m.Imports() {
		if !hostImports[sym] {
			return fmt.Errorf("%w: %s", ErrUnboundImport, sym)
		}
	}
	return nil
}
