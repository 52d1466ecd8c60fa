// Package resolve implements the two-pass name resolver: collect every
// top-level definition across all sources into one symbol
// table, then validate that every Ref names something in it.
package resolve

import (
	"github.com/plotnik-lang/plotnik-sub003/internal/ast"
	"github.com/plotnik-lang/plotnik-sub003/internal/diag"
)

// Def is one resolved top-level definition: its name, body, and the
// defining source.
type Def struct {
	Name      string
	Public    bool
	Body      ast.Expr
	Source    uint32
	NameRange diag.Range
}

// Table is the resolved symbol table: definitions keyed by name, in
// insertion order.
type Table struct {
	byName map[string]int
	Defs   []Def
	// Unnamed is the index into Defs of the single allowed unnamed
	// top-level expression, or -1 if none was present.
	Unnamed int
}

func newTable() *Table {
	return &Table{byName: make(map[string]int), Unnamed: -1}
}

// Lookup returns the Def for name and whether it exists.
func (t *Table) Lookup(name string) (Def, bool) {
	i, ok := t.byName[name]
	if !ok {
		return Def{}, false
	}
	return t.Defs[i], true
}

// Resolve runs both passes over files and returns the symbol table. Callers
// should check sink.HasErrors() before trusting the table downstream.
func Resolve(files []*ast.File, sink *diag.Sink) *Table {
	t := newTable()

	// Pass 1: collect definitions.
	for _, f := range files {
		for _, d := range f.Defs {
			if d.Name == ast.UnnamedDefName {
				if t.Unnamed >= 0 {
					prev := t.Defs[t.Unnamed]
					sink.Report(diag.Diagnostic{
						Kind:    diag.InvalidQuery,
						Message: "only one unnamed top-level expression is allowed per session",
						Primary: d.Body.Range(),
						Related: []diag.Related{{Range: prev.Body.Range(), Message: "first unnamed expression here"}},
					})
					continue
				}
				idx := len(t.Defs)
				t.Defs = append(t.Defs, Def{Name: d.Name, Public: d.Public, Body: d.Body, Source: d.Source, NameRange: d.NameRange})
				t.Unnamed = idx
				continue
			}
			if prevIdx, dup := t.byName[d.Name]; dup {
				prev := t.Defs[prevIdx]
				sink.Report(diag.Diagnostic{
					Kind:    diag.DuplicateDefinition,
					Message: "duplicate definition of " + d.Name,
					Primary: d.NameRange,
					Related: []diag.Related{{Range: prev.NameRange, Message: "previously defined here"}},
				})
				continue
			}
			idx := len(t.Defs)
			t.byName[d.Name] = idx
			t.Defs = append(t.Defs, Def{Name: d.Name, Public: d.Public, Body: d.Body, Source: d.Source, NameRange: d.NameRange})
		}
	}

	// Pass 2: validate references.
	for _, d := range t.Defs {
		walkRefs(d.Body, t, sink)
	}

	return t
}

func walkRefs(e ast.Expr, t *Table, sink *diag.Sink) {
	switch n := e.(type) {
	case ast.Ref:
		if _, ok := t.byName[n.Name]; !ok {
			sink.Report(diag.Diagnostic{
				Kind:    diag.UndefinedReference,
				Message: "undefined reference to " + n.Name,
				Primary: n.Rng,
			})
		}
	case ast.NamedNode:
		for _, c := range n.Children {
			walkRefs(c, t, sink)
		}
	case ast.Field:
		walkRefs(n.Inner, t, sink)
	case ast.Capture:
		walkRefs(n.Inner, t, sink)
	case ast.Quantified:
		walkRefs(n.Inner, t, sink)
	case ast.Seq:
		for _, c := range n.Items {
			walkRefs(c, t, sink)
		}
	case ast.Alt:
		for _, b := range n.Branches {
			walkRefs(b.Body, t, sink)
		}
	case ast.Predicated:
		walkRefs(n.Inner, t, sink)
	}
}
