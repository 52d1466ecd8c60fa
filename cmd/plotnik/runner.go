package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/fatih/color"

	"github.com/plotnik-lang/plotnik-sub003/internal/ast"
	"github.com/plotnik-lang/plotnik-sub003/internal/bytecode"
	"github.com/plotnik-lang/plotnik-sub003/internal/cache"
	"github.com/plotnik-lang/plotnik-sub003/internal/compile"
	"github.com/plotnik-lang/plotnik-sub003/internal/config"
	"github.com/plotnik-lang/plotnik-sub003/internal/depgraph"
	"github.com/plotnik-lang/plotnik-sub003/internal/diag"
	"github.com/plotnik-lang/plotnik-sub003/internal/grammar"
	"github.com/plotnik-lang/plotnik-sub003/internal/ir"
	"github.com/plotnik-lang/plotnik-sub003/internal/linker"
	"github.com/plotnik-lang/plotnik-sub003/internal/optimize"
	"github.com/plotnik-lang/plotnik-sub003/internal/resolve"
	"github.com/plotnik-lang/plotnik-sub003/internal/shape"
	"github.com/plotnik-lang/plotnik-sub003/internal/source"
	"github.com/plotnik-lang/plotnik-sub003/internal/syntax"
	"github.com/plotnik-lang/plotnik-sub003/internal/typeinfer"
)

// runner drives the pipeline stages in order for each subcommand.
type runner struct {
	cfg *config.Config
	fl  *flags
}

// analysis is the output of the static stages.
type analysis struct {
	srcs     *source.Map
	interner *source.Interner
	sink     *diag.Sink
	files    []*ast.File
	table    *resolve.Table
	graph    *depgraph.Graph
	shapes   *shape.Result
	inf      *typeinfer.Result
}

// loadQuerySources assembles the session's query sources: -q text, query
// file arguments ("-" for stdin), or stdin when neither is given.
func (r *runner) loadQuerySources(args []string) (*source.Map, error) {
	srcs := source.New()
	if r.fl.query != "" {
		srcs.AddText(source.OneLiner, r.fl.query)
	}
	for _, arg := range args {
		if arg == "-" {
			text, err := io.ReadAll(os.Stdin)
			if err != nil {
				return nil, fmt.Errorf("reading stdin: %w", err)
			}
			srcs.AddText(source.Stdin, string(text))
			continue
		}
		if _, err := srcs.AddFile(arg); err != nil {
			return nil, err
		}
	}
	if srcs.Len() == 0 {
		text, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("reading stdin: %w", err)
		}
		srcs.AddText(source.Stdin, string(text))
	}
	return srcs, nil
}

// analyze runs parse through type inference. Stages keep going on errors so
// the sink accumulates the full report; callers gate on sink.HasErrors
// before compiling.
func (r *runner) analyze(args []string) (*analysis, error) {
	srcs, err := r.loadQuerySources(args)
	if err != nil {
		return nil, err
	}
	an := &analysis{
		srcs:     srcs,
		interner: source.NewInterner(),
		sink:     diag.NewSink(),
	}
	budget := syntax.Budget{MaxDepth: r.cfg.MaxDepth, MaxTokens: r.cfg.MaxTokens}
	for _, entry := range srcs.All() {
		f, _ := syntax.Parse(uint32(entry.ID), entry.Text, an.sink, budget)
		an.files = append(an.files, f)
	}
	an.table = resolve.Resolve(an.files, an.sink)
	an.graph = depgraph.Analyze(an.table, an.sink)
	an.shapes = shape.Classify(an.graph, an.sink)
	an.inf = typeinfer.Infer(an.graph, an.sink)
	return an, nil
}

// renderDiags writes the accumulated diagnostics and reports whether any
// were present.
func (r *runner) renderDiags(an *analysis) bool {
	if !an.sink.HasErrors() {
		return false
	}
	diag.Render(os.Stderr, an.srcs, an.sink.All(), r.colorMode())
	return true
}

func (r *runner) colorMode() diag.ColorMode {
	switch r.fl.color {
	case "always":
		return diag.ColorAlways
	case "never":
		return diag.ColorNever
	default:
		if color.NoColor {
			return diag.ColorNever
		}
		return diag.ColorAlways
	}
}

// provider returns the grammar provider for -l, or nil when no language was
// given.
func (r *runner) provider() (grammar.Provider, error) {
	if r.fl.lang == "" {
		return nil, nil
	}
	return grammar.Lookup(r.fl.lang)
}

// emitModule compiles, optimizes, and emits an analyzed query, linking it
// against p when given. With strict off, a link failure degrades to the
// unlinked module.
func (r *runner) emitModule(an *analysis, p grammar.Provider) ([]byte, error) {
	compiled := compile.Compile(an.graph, an.inf, an.interner)
	optimize.Run(compiled.Graph, compiled.Entrypoints)

	names := make([]string, len(an.graph.Defs))
	for i, d := range an.graph.Defs {
		names[i] = d.Name
	}
	trivia := []string{"comment"}
	if p != nil {
		trivia = p.TriviaKinds()
	}
	raw, err := bytecode.Emit(&bytecode.Input{
		Graph:       compiled.Graph,
		Entrypoints: compiled.Entrypoints,
		EntryNames:  names,
		EntryTypes:  compiled.DefType,
		TC:          compiled.TC,
		Interner:    an.interner,
		Regexes:     compiled.Regexes,
		Trivia:      trivia,
	})
	if err != nil {
		return nil, err
	}
	if p == nil {
		return raw, nil
	}
	linkSink := diag.NewSink()
	linked, err := linker.Link(raw, p, linkSink)
	if err != nil {
		if r.fl.strict {
			diag.Render(os.Stderr, an.srcs, linkSink.All(), r.colorMode())
			return nil, err
		}
		return raw, nil
	}
	return linked, nil
}

// module produces the executable module for the current invocation, going
// through the cache when one is configured. Cache trouble always degrades
// to a fresh compile.
func (r *runner) module(an *analysis, p grammar.Provider) ([]byte, error) {
	var store *cache.Store
	var key, grammarKey string
	if r.fl.cacheDSN != "" && p != nil {
		var texts []string
		for _, e := range an.srcs.All() {
			texts = append(texts, e.Text)
		}
		key = cache.HashQuery(strings.Join(texts, "\x00"))
		grammarKey = p.Name() + "/" + p.Version()
		if s, err := cache.Connect(r.fl.cacheDSN, r.fl.verbosity > 1); err == nil {
			store = s
			defer store.Close()
			if raw, ok := store.Get(key, grammarKey); ok {
				if _, err := bytecode.Decode(raw); err == nil {
					return raw, nil
				}
			}
		} else if r.fl.verbosity > 0 {
			fmt.Fprintf(os.Stderr, "cache unavailable: %v\n", err)
		}
	}

	raw, err := r.emitModule(an, p)
	if err != nil {
		return nil, err
	}
	if store != nil {
		meta := map[string]any{"entrypoints": entryMeta(an)}
		if err := store.Put(key, grammarKey, raw, meta); err != nil && r.fl.verbosity > 0 {
			fmt.Fprintf(os.Stderr, "cache write failed: %v\n", err)
		}
	}
	return raw, nil
}

func entryMeta(an *analysis) []map[string]string {
	var out []map[string]string
	for i, d := range an.graph.Defs {
		out = append(out, map[string]string{
			"name": d.Name,
			"type": formatType(an.inf.TC, an.inf.DefType[i], nil),
		})
	}
	return out
}

// sourceTree parses the -s source (a literal, or a path to a file) with the
// -l grammar.
func (r *runner) sourceTree(p grammar.Provider) (*grammar.Tree, error) {
	if p == nil {
		return nil, fmt.Errorf("a language is required (-l); see 'plotnik langs'")
	}
	if r.fl.source == "" {
		return nil, fmt.Errorf("a source is required (-s TEXT or -s path/to/file)")
	}
	text := []byte(r.fl.source)
	if st, err := os.Stat(r.fl.source); err == nil && st.Mode().IsRegular() {
		b, err := os.ReadFile(r.fl.source)
		if err != nil {
			return nil, err
		}
		text = b
	}
	return p.Parse(context.Background(), text)
}

// selectEntry picks the entrypoint to execute: --entry by name, else the
// session's unnamed expression, else the first definition.
func (r *runner) selectEntry(mod *bytecode.Module) (bytecode.Entrypoint, error) {
	if len(mod.Entrypoints) == 0 {
		return bytecode.Entrypoint{}, fmt.Errorf("module has no entrypoints")
	}
	name := r.fl.entry
	if name == "" {
		if ep, ok := mod.EntrypointByName(ast.UnnamedDefName); ok {
			return ep, nil
		}
		return mod.Entrypoints[0], nil
	}
	ep, ok := mod.EntrypointByName(name)
	if !ok {
		return bytecode.Entrypoint{}, fmt.Errorf("no definition named %q", name)
	}
	return ep, nil
}

// output returns the writer results go to (-o FILE or stdout).
func (r *runner) output() (io.WriteCloser, error) {
	if r.fl.output == "" {
		return nopCloser{os.Stdout}, nil
	}
	return os.Create(r.fl.output)
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// formatType pretty-prints a result type for the infer subcommand.
func formatType(tc *ir.TypeContext, id ir.TypeId, seen map[ir.TypeId]bool) string {
	if name, ok := tc.Name(id); ok && seen != nil && seen[id] {
		return name
	}
	if seen == nil {
		seen = map[ir.TypeId]bool{}
	}
	if seen[id] {
		return fmt.Sprintf("<recursive #%d>", id)
	}
	seen[id] = true
	defer delete(seen, id)

	s := tc.Shape(id)
	switch s.Kind {
	case ir.Void:
		return "void"
	case ir.Node:
		return "node"
	case ir.String:
		return "string"
	case ir.Optional:
		return formatType(tc, s.Inner, seen) + "?"
	case ir.ArrayStar:
		return "[" + formatType(tc, s.Inner, seen) + "]*"
	case ir.ArrayPlus:
		return "[" + formatType(tc, s.Inner, seen) + "]+"
	case ir.Alias:
		return formatType(tc, s.Inner, seen)
	case ir.Struct:
		var parts []string
		for _, m := range s.Members {
			parts = append(parts, m.Name+": "+formatType(tc, m.Type, seen))
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case ir.Enum:
		var parts []string
		for _, m := range s.Members {
			parts = append(parts, m.Name+"("+formatType(tc, m.Type, seen)+")")
		}
		return "[" + strings.Join(parts, " | ") + "]"
	}
	return "?"
}

// sortedNames returns tc's explicit type names in sorted order.
func sortedNames(tc *ir.TypeContext) []string {
	var out []string
	for name := range tc.Names() {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
