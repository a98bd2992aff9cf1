// Package wmprof interposes observation hooks around chosen internal
// functions of a Wasm module: every use of a tracee (direct call,
// element-segment slot, export) is redirected to a synthesized wrapper that
// calls wmprof.prehook_<name>/wmprof.posthook_<name> host imports around the
// original function.
package wmprof

import (
	"bytes"

	"github.com/sirupsen/logrus"

	"github.com/kateinoigakukun/wasm-memprof/internal/callgraph"
	"github.com/kateinoigakukun/wasm-memprof/internal/hook"
	"github.com/kateinoigakukun/wasm-memprof/internal/wasm/encoding"
)

// Tracee names a function to instrument and which hooks to install around
// it. Re-exported from internal/hook so callers never need to import an
// internal package to build a tracee list.
type Tracee = hook.Tracee

// HookPoint selects which of the pre-/post-call hooks a tracee wants.
type HookPoint = hook.HookPoint

const (
	Pre  = hook.Pre
	Post = hook.Post
)

// AllocatorTracees returns the default allocator watch-list: malloc, free,
// calloc, realloc, posix_memalign, aligned_alloc, and their dl-prefixed
// counterparts, all observed post-call.
func AllocatorTracees() []Tracee {
	return hook.AllocatorTracees()
}

// Instrument parses input as a Wasm module, synthesizes a wrapper around
// every tracee that resolves to a local function, redirects every recorded
// use-site of each to its wrapper, and re-emits the module. A requested
// tracee name that does not resolve is skipped with an info log line, not
// an error — the default allocator list intentionally overshoots to cover
// multiple libc flavors.
//
// Instrument is synchronous and holds no state across calls; concurrent
// calls over disjoint inputs are independent.
func Instrument(input []byte, tracees []Tracee, opts ...Option) ([]byte, error) {
	o := resolveOptions(opts)
	log := o.logger

	log.Info("parsing input module")
	m, err := encoding.ReadModule(bytes.NewReader(input))
	if err != nil {
		return nil, newParseError(err)
	}

	log.Info("building call graph")
	g := callgraph.Build(m)

	replace := make(hook.ReplaceMap)
	for _, tracee := range tracees {
		fn, ok := m.FindFunctionByName(tracee.Name)
		if !ok {
			log.WithField("tracee", tracee.Name).Info("tracee not found, skipping")
			continue
		}
		log.WithFields(logFields(tracee)).Info("instrumenting tracee")

		wrapper, err := hook.Synthesize(m, fn, tracee.Name, tracee.HookPoints)
		if err != nil {
			return nil, err
		}
		replace[fn] = wrapper
	}

	log.WithField("count", len(replace)).Info("redirecting use-sites")
	hook.Redirect(replace, m, g)

	log.Info("emitting instrumented module")
	var out bytes.Buffer
	if err := encoding.WriteModule(&out, m); err != nil {
		return nil, newEmitError(err)
	}
	return out.Bytes(), nil
}

func logFields(t Tracee) logrus.Fields {
	return logrus.Fields{"name": t.Name, "hooks": t.HookPoints.String()}
}
