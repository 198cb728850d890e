package compiler

import (
	"fmt"
	"strings"

	"glowc/pkg/ir"
)

// Compile parses, checks and lowers one effect source unit to IR,
// with the default extension library in scope.
func Compile(src string) (*ir.Module, error) {
	return CompileWithLibrary(src, LibrarySource)
}

// CompileWithLibrary compiles src against a caller-supplied extension
// library (pass an empty string for none). The returned module holds
// the user functions plus every builtin and library overload they
// reach, already rewritten to Q32 fixed point.
func CompileWithLibrary(src, library string) (*ir.Module, error) {
	structs := NewStructTable()
	reg := NewRegistry()
	root := NewScope(nil)
	mg := newModuleGen(structs, reg, root)

	if err := registerPrimitives(reg); err != nil {
		return nil, err
	}
	builtinProg, err := Parse(builtinSource)
	if err != nil {
		return nil, fmt.Errorf("builtin prelude: %w", err)
	}
	if err := registerFunctions(mg, builtinProg, FuncBuiltin); err != nil {
		return nil, fmt.Errorf("builtin prelude: %w", err)
	}

	if library != "" {
		libProg, err := Parse(library)
		if err != nil {
			return nil, fmt.Errorf("library: %w", err)
		}
		if err := registerFunctions(mg, libProg, FuncLibrary); err != nil {
			return nil, fmt.Errorf("library: %w", err)
		}
	}

	prog, err := Parse(src)
	if err != nil {
		return nil, err
	}

	// Struct and const declarations resolve in source order, so a
	// struct can embed earlier structs and a const can use earlier
	// consts.
	for _, sd := range prog.Structs {
		fields := make([]Field, 0, len(sd.Fields))
		for _, f := range sd.Fields {
			ft, err := mg.resolveType(f.Type, root)
			if err != nil {
				return nil, err
			}
			if ft.Tag == TagVoid {
				return nil, fmt.Errorf("line %d: field %q of type void", f.Line, f.Name)
			}
			fields = append(fields, Field{Name: f.Name, Type: ft})
		}
		if _, err := structs.Define(sd.Name, fields); err != nil {
			return nil, fmt.Errorf("line %d: %w", sd.Line, err)
		}
	}
	for _, cd := range prog.Consts {
		t, err := mg.resolveType(cd.Type, root)
		if err != nil {
			return nil, err
		}
		sym, err := foldConstDecl(cd, t, root)
		if err != nil {
			return nil, err
		}
		if err := root.Declare(sym); err != nil {
			return nil, fmt.Errorf("line %d: %w", cd.Line, err)
		}
	}

	userOvls, err := registerUserFunctions(mg, prog)
	if err != nil {
		return nil, err
	}

	// User functions are the exports; lower all of them. Builtin and
	// library overloads follow on demand as calls resolve.
	for _, o := range userOvls {
		if err := mg.require(o); err != nil {
			return nil, err
		}
	}

	if err := checkRecursion(mg.mod); err != nil {
		return nil, err
	}
	fixedPointPass(mg.mod)
	return mg.mod, nil
}

// registerFunctions registers every function of a prelude program.
func registerFunctions(mg *moduleGen, prog *Program, kind FuncKind) error {
	for _, fd := range prog.Functions {
		if _, err := registerOne(mg, fd, kind); err != nil {
			return err
		}
	}
	return nil
}

func registerUserFunctions(mg *moduleGen, prog *Program) ([]*Overload, error) {
	ovls := make([]*Overload, 0, len(prog.Functions))
	for _, fd := range prog.Functions {
		o, err := registerOne(mg, fd, FuncUser)
		if err != nil {
			return nil, err
		}
		ovls = append(ovls, o)
	}
	return ovls, nil
}

func registerOne(mg *moduleGen, fd *FunctionDecl, kind FuncKind) (*Overload, error) {
	if fd.Name == "print" {
		return nil, fmt.Errorf("line %d: %w: print is reserved", fd.Line, ErrRedeclaration)
	}
	ret, err := mg.resolveType(fd.RetType, mg.root)
	if err != nil {
		return nil, err
	}

	params := make([]ParamInfo, 0, len(fd.Params))
	for _, pd := range fd.Params {
		t, err := mg.resolveType(pd.Type, mg.root)
		if err != nil {
			return nil, err
		}
		if t.Tag == TagVoid {
			return nil, fmt.Errorf("line %d: parameter %q of type void", pd.Line, pd.Name)
		}
		params = append(params, ParamInfo{Type: t, Qual: pd.Qual})
	}

	o := &Overload{Kind: kind, Name: fd.Name, Params: params, Ret: ret, Decl: fd}
	if err := mg.reg.Register(o); err != nil {
		return nil, fmt.Errorf("line %d: %w", fd.Line, err)
	}
	return o, nil
}

// checkRecursion rejects call cycles. Every function's frame is laid
// out statically, so re-entering a function would overwrite its own
// locals.
func checkRecursion(m *ir.Module) error {
	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	state := make(map[string]int, len(m.Funcs))

	var visit func(f *ir.Func, path []string) error
	visit = func(f *ir.Func, path []string) error {
		state[f.Name] = inStack
		path = append(path, srcName(f.Name))
		for _, b := range f.Blocks {
			for _, in := range b.Instrs {
				if in.Op != ir.Call {
					continue
				}
				callee := m.Lookup(in.Sym)
				if callee == nil {
					return fmt.Errorf("call to missing function %s", in.Sym)
				}
				switch state[callee.Name] {
				case inStack:
					return fmt.Errorf("recursion is not supported: %s -> %s",
						strings.Join(path, " -> "), srcName(callee.Name))
				case unvisited:
					if err := visit(callee, path); err != nil {
						return err
					}
				}
			}
		}
		state[f.Name] = done
		return nil
	}

	for _, f := range m.Funcs {
		if state[f.Name] == unvisited {
			if err := visit(f, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

// srcName strips the namespace prefix and signature suffix from a
// mangled name.
func srcName(mangled string) string {
	mangled = strings.TrimPrefix(mangled, "bi__")
	mangled = strings.TrimPrefix(mangled, "lib__")
	if i := strings.Index(mangled, "__"); i >= 0 {
		return mangled[:i]
	}
	return mangled
}
