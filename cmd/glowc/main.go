// Command glowc compiles an effect source file and optionally runs one
// of its exported functions.
//
// Usage:
//
//	glowc effect.glow                 compile and report the exports
//	glowc effect.glow fade 0.5 2.0    compile, then run fade(0.5, 2.0)
//
// Configuration comes from the environment:
//
//	GLOWC_TARGET  host (default) or embedded
//	GLOWC_DUMP    set to dump the lowered IR before running
package main

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/xyproto/env/v2"

	"glowc/pkg/compiler"
	"glowc/pkg/exec"
)

func main() {
	log.SetFlags(0)
	if len(os.Args) < 2 {
		log.Fatalf("usage: %s <effect.glow> [function [args...]]", os.Args[0])
	}

	target, err := exec.ParseTarget(env.Str("GLOWC_TARGET"))
	if err != nil {
		log.Fatal(err)
	}

	source, err := os.ReadFile(os.Args[1])
	if err != nil {
		log.Fatalf("read source: %v", err)
	}

	m, err := compiler.Compile(string(source))
	if err != nil {
		log.Fatalf("compile: %v", err)
	}
	if env.Bool("GLOWC_DUMP") {
		fmt.Print(m.String())
	}

	mod, err := exec.NewModule(m, target)
	if err != nil {
		log.Fatalf("load (%s): %v", target, err)
	}
	mod.SetOutput(os.Stdout)

	if len(os.Args) < 3 {
		fmt.Printf("compiled for %s; exports: %s\n", target, strings.Join(mod.Exports(), ", "))
		return
	}

	args, err := parseArgs(os.Args[3:])
	if err != nil {
		log.Fatal(err)
	}
	result, err := mod.Invoke(os.Args[2], args...)
	if err != nil {
		log.Fatal(err)
	}
	if result.Kind() != exec.KindVoid {
		fmt.Println(result)
	}
}

// parseArgs maps command-line words to typed values: "true"/"false"
// are bools, a u suffix marks uint, a decimal point or exponent marks
// float, anything else integral is int.
func parseArgs(words []string) ([]exec.Value, error) {
	out := make([]exec.Value, 0, len(words))
	for _, w := range words {
		switch {
		case w == "true" || w == "false":
			out = append(out, exec.Bool(w == "true"))
		case strings.HasSuffix(w, "u"):
			u, err := strconv.ParseUint(strings.TrimSuffix(w, "u"), 0, 32)
			if err != nil {
				return nil, fmt.Errorf("bad uint argument %q", w)
			}
			out = append(out, exec.Uint(uint32(u)))
		case strings.ContainsAny(w, ".eE") && !strings.HasPrefix(w, "0x"):
			f, err := strconv.ParseFloat(w, 64)
			if err != nil {
				return nil, fmt.Errorf("bad float argument %q", w)
			}
			out = append(out, exec.Float(f))
		default:
			i, err := strconv.ParseInt(w, 0, 32)
			if err != nil {
				return nil, fmt.Errorf("bad argument %q", w)
			}
			out = append(out, exec.Int(int32(i)))
		}
	}
	return out, nil
}
