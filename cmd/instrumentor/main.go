// instrumentor is a command-line tool that instruments a Wasm module's
// tracee functions with wmprof pre-/post-call hooks.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"

	wmprof "github.com/kateinoigakukun/wasm-memprof"
	"github.com/kateinoigakukun/wasm-memprof/internal/hook"
)

// traceeListFlag accumulates repeated --tracee name=pre,post flags into a
// tracee list. pflag has no built-in "repeatable flag with its own
// sub-parsing" primitive, so this implements pflag.Value directly, the way
// a caller would add any custom flag type.
type traceeListFlag struct {
	tracees *[]wmprof.Tracee
}

func (f *traceeListFlag) String() string {
	if f.tracees == nil || len(*f.tracees) == 0 {
		return ""
	}
	parts := make([]string, len(*f.tracees))
	for i, t := range *f.tracees {
		parts[i] = fmt.Sprintf("%s=%s", t.Name, t.HookPoints)
	}
	return strings.Join(parts, ",")
}

func (f *traceeListFlag) Type() string { return "name=pre,post" }

func (f *traceeListFlag) Set(value string) error {
	name, spec, ok := strings.Cut(value, "=")
	if !ok || name == "" {
		return fmt.Errorf("invalid --tracee value %q: want name=pre,post", value)
	}
	var points wmprof.HookPoint
	for _, p := range strings.Split(spec, ",") {
		switch strings.TrimSpace(p) {
		case "pre":
			points |= hook.Pre
		case "post":
			points |= hook.Post
		default:
			return fmt.Errorf("invalid --tracee hook point %q: want pre or post", p)
		}
	}
	if points == 0 {
		return fmt.Errorf("invalid --tracee value %q: at least one of pre,post required", value)
	}
	*f.tracees = append(*f.tracees, wmprof.Tracee{Name: name, HookPoints: points})
	return nil
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := pflag.NewFlagSet("instrumentor", pflag.ContinueOnError)
	var tracees []wmprof.Tracee
	fs.Var(&traceeListFlag{tracees: &tracees}, "tracee", "instrument this function instead of the allocator defaults, repeatable (name=pre,post)")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [--tracee name=pre,post ...] <wasm_file>\n", os.Args[0])
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return 1
	}
	inputPath := fs.Arg(0)

	if len(tracees) == 0 {
		tracees = wmprof.AllocatorTracees()
	}

	input, err := os.ReadFile(inputPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reading %s: %v\n", inputPath, err)
		return 1
	}

	output, err := wmprof.Instrument(input, tracees)
	if err != nil {
		fmt.Fprintf(os.Stderr, "instrumenting %s: %v\n", inputPath, err)
		return 2
	}

	outputPath := inputPath + ".instrumented"
	if err := os.WriteFile(outputPath, output, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "writing %s: %v\n", outputPath, err)
		return 2
	}
	return 0
}
