package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/plotnik-lang/plotnik-sub003/internal/bytecode"
	"github.com/plotnik-lang/plotnik-sub003/internal/engine"
	"github.com/plotnik-lang/plotnik-sub003/internal/grammar"
	"github.com/plotnik-lang/plotnik-sub003/internal/ir"
	"github.com/plotnik-lang/plotnik-sub003/internal/values"
)

func newTreeCmd(r *runner) *cobra.Command {
	return &cobra.Command{
		Use:   "tree",
		Short: "Parse the source (-s, -l) and dump its syntax tree",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := r.provider()
			if err != nil {
				return err
			}
			tree, err := r.sourceTree(p)
			if err != nil {
				return err
			}
			out, err := r.output()
			if err != nil {
				return err
			}
			defer out.Close()
			dumpTree(out, tree, 0, 0)
			return nil
		},
	}
}

func dumpTree(w io.Writer, t *grammar.Tree, idx int32, depth int) {
	n := t.Nodes[idx]
	if n.Named || depth == 0 {
		indent := strings.Repeat("  ", depth)
		field := ""
		if n.Field != grammar.NoField {
			field = t.Provider.FieldName(n.Field) + ": "
		}
		fmt.Fprintf(w, "%s%s(%s) [%d, %d]\n", indent, field, t.Provider.KindName(n.Kind), n.StartByte, n.EndByte)
	}
	for ch := n.FirstChild; ch >= 0; ch = t.Nodes[ch].NextSibling {
		d := depth
		if n.Named || depth == 0 {
			d++
		}
		dumpTree(w, t, ch, d)
	}
}

func newCheckCmd(r *runner) *cobra.Command {
	return &cobra.Command{
		Use:   "check [query files]",
		Short: "Validate a query without emitting bytecode",
		RunE: func(cmd *cobra.Command, args []string) error {
			an, err := r.analyze(args)
			if err != nil {
				return err
			}
			if r.renderDiags(an) {
				return fmt.Errorf("query is invalid")
			}
			if r.fl.verbosity > 0 {
				fmt.Fprintf(os.Stderr, "%d definition(s) ok\n", len(an.graph.Defs))
			}
			return nil
		},
	}
}

func newInferCmd(r *runner) *cobra.Command {
	return &cobra.Command{
		Use:   "infer [query files]",
		Short: "Print each definition's inferred result type",
		RunE: func(cmd *cobra.Command, args []string) error {
			an, err := r.analyze(args)
			if err != nil {
				return err
			}
			if r.renderDiags(an) {
				return fmt.Errorf("query is invalid")
			}
			out, err := r.output()
			if err != nil {
				return err
			}
			defer out.Close()
			for i, d := range an.graph.Defs {
				name := d.Name
				if name == "" {
					name = "(unnamed)"
				}
				fmt.Fprintf(out, "%s: %s\n", name, formatType(an.inf.TC, an.inf.DefType[i], nil))
			}
			for _, name := range sortedNames(an.inf.TC) {
				id, _ := an.inf.TC.NamedType(name)
				fmt.Fprintf(out, "type %s = %s\n", name, formatType(an.inf.TC, id, nil))
			}
			return nil
		},
	}
}

func newDumpCmd(r *runner) *cobra.Command {
	return &cobra.Command{
		Use:   "dump [query files]",
		Short: "Emit bytecode (-o FILE) or print a disassembly",
		RunE: func(cmd *cobra.Command, args []string) error {
			an, err := r.analyze(args)
			if err != nil {
				return err
			}
			if r.renderDiags(an) {
				return fmt.Errorf("query is invalid")
			}
			p, err := r.provider()
			if err != nil {
				return err
			}
			raw, err := r.emitModule(an, p)
			if err != nil {
				return err
			}
			if r.fl.check {
				if _, err := bytecode.Decode(raw); err != nil {
					return fmt.Errorf("round-trip check failed: %w", err)
				}
				if r.fl.verbosity > 0 {
					fmt.Fprintln(os.Stderr, "round-trip check ok")
				}
			}
			if r.fl.output != "" {
				return os.WriteFile(r.fl.output, raw, 0o644)
			}
			mod, err := bytecode.Decode(raw)
			if err != nil {
				return err
			}
			disassemble(os.Stdout, mod)
			return nil
		},
	}
}

func disassemble(w io.Writer, m *bytecode.Module) {
	fmt.Fprintf(w, "module: %d bytes, %d strings, %d types, %d entrypoints, linked=%v\n",
		len(m.Raw), len(m.Strings), len(m.TypeDefs), len(m.Entrypoints), m.Linked)
	for _, ep := range m.Entrypoints {
		name := m.String(ep.Name)
		if name == "" {
			name = "(unnamed)"
		}
		fmt.Fprintf(w, "entry %s: step %d, type %d\n", name, ep.Step, ep.Type)
	}
	for _, id := range m.StepOrder {
		st := m.Steps[id]
		var b strings.Builder
		fmt.Fprintf(&b, "%5d  %-8s", id, st.Op)
		switch st.Op {
		case bytecode.OpCall:
			fmt.Fprintf(&b, " nav=%s target=%d return=%d", navName(st.Nav), st.Target, st.Return)
		case bytecode.OpReturn:
		default:
			fmt.Fprintf(&b, " nav=%s", navName(st.Nav))
			if st.Wildcard {
				b.WriteString(" type=_")
			} else if st.TypeIdx >= 0 {
				fmt.Fprintf(&b, " type=%s", m.String(uint16(m.NodeTypes[st.TypeIdx])))
			}
			if st.FieldIdx >= 0 {
				fmt.Fprintf(&b, " field=%s", m.String(uint16(m.NodeFields[st.FieldIdx])))
			}
			if st.RegexID > 0 {
				fmt.Fprintf(&b, " regex=%d", st.RegexID)
			}
			if len(st.Pre)+len(st.Post) > 0 {
				fmt.Fprintf(&b, " effects=%d+%d", len(st.Pre), len(st.Post))
			}
			fmt.Fprintf(&b, " -> %v", st.Succs)
		}
		fmt.Fprintln(w, b.String())
	}
}

func navName(n ir.Nav) string {
	names := []string{"eps", "stay", "stay!", "down", "down~", "down!", "next", "next~", "next!", "up", "up~", "up!"}
	if int(n.Kind) >= len(names) {
		return "?"
	}
	s := names[n.Kind]
	if n.Kind == ir.NavUp || n.Kind == ir.NavUpSkipTrivia || n.Kind == ir.NavUpExact {
		s = fmt.Sprintf("%s(%d,%d)", s, n.N, n.Floor)
	}
	return s
}

func newExecCmd(r *runner) *cobra.Command {
	return &cobra.Command{
		Use:   "exec [query files]",
		Short: "Compile, link, and execute a query against a source",
		RunE:  func(cmd *cobra.Command, args []string) error { return r.runExec(args, nil) },
	}
}

func newTraceCmd(r *runner) *cobra.Command {
	return &cobra.Command{
		Use:   "trace [query files]",
		Short: "Execute a query, printing each engine step",
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.runExec(args, func(ev engine.TraceEvent) {
				note := ""
				if ev.Note != "" {
					note = " (" + ev.Note + ")"
				}
				fmt.Fprintf(os.Stderr, "step %5d %-8s cursor=%d%s\n", ev.Step, ev.Op, ev.Cursor, note)
			})
		},
	}
}

func (r *runner) runExec(args []string, traceFn func(engine.TraceEvent)) error {
	an, err := r.analyze(args)
	if err != nil {
		return err
	}
	if r.renderDiags(an) {
		return fmt.Errorf("query is invalid")
	}
	p, err := r.provider()
	if err != nil {
		return err
	}
	tree, err := r.sourceTree(p)
	if err != nil {
		return err
	}
	raw, err := r.module(an, p)
	if err != nil {
		return err
	}
	mod, err := bytecode.Decode(raw)
	if err != nil {
		return err
	}
	ep, err := r.selectEntry(mod)
	if err != nil {
		return err
	}
	eng, err := engine.New(mod, tree, engine.Options{
		Fuel:        r.fl.fuel,
		RawWildcard: r.fl.raw,
		Trace:       traceFn,
	})
	if err != nil {
		return err
	}
	res, err := eng.First(ep)
	if err != nil {
		return err
	}
	if res == nil {
		return fmt.Errorf("no match")
	}
	if r.fl.noResult {
		return nil
	}
	out, err := r.output()
	if err != nil {
		return err
	}
	defer out.Close()
	b, err := values.EncodeJSON(res.Value, values.RenderOptions{
		Compact:      r.fl.compact,
		Spans:        r.fl.spans,
		VerboseNodes: r.fl.verboseNodes,
		NoNodeType:   r.fl.noNodeType,
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(out, string(b))
	return nil
}

func newLangsCmd(r *runner) *cobra.Command {
	return &cobra.Command{
		Use:   "langs",
		Short: "List supported languages",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range grammar.Names() {
				fmt.Println(name)
			}
			return nil
		},
	}
}
