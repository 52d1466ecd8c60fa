package depgraph

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/plotnik-lang/plotnik-sub003/internal/ast"
	"github.com/plotnik-lang/plotnik-sub003/internal/diag"
	"github.com/plotnik-lang/plotnik-sub003/internal/resolve"
	"github.com/plotnik-lang/plotnik-sub003/internal/syntax"
)

func analyze(t *testing.T, text string) (*Graph, *diag.Sink) {
	t.Helper()
	sink := diag.NewSink()
	f, _ := syntax.Parse(0, text, sink, syntax.DefaultBudget)
	table := resolve.Resolve([]*ast.File{f}, sink)
	return Analyze(table, sink), sink
}

func defIndex(t *testing.T, g *Graph, name string) int {
	t.Helper()
	for i, d := range g.Defs {
		if d.Name == name {
			return i
		}
	}
	t.Fatalf("no definition %q", name)
	return -1
}

func TestAnalyze_LeavesGetLowerDefIDs(t *testing.T) {
	g, sink := analyze(t, `
A = (call (B))
B = (call (C))
C = (identifier)
`)
	require.False(t, sink.HasErrors())
	a := g.DefID[defIndex(t, g, "A")]
	b := g.DefID[defIndex(t, g, "B")]
	c := g.DefID[defIndex(t, g, "C")]
	require.Less(t, c, b)
	require.Less(t, b, a)
}

func TestAnalyze_MutualRecursionOneSCC(t *testing.T) {
	g, sink := analyze(t, `
A = [(B) (identifier)]
B = [(A) (number)]
`)
	require.False(t, sink.HasErrors())
	ai := defIndex(t, g, "A")
	bi := defIndex(t, g, "B")
	require.Equal(t, g.SCC[ai], g.SCC[bi])
	require.True(t, g.Recursive[ai])
	require.True(t, g.Recursive[bi])
}

func TestAnalyze_SelfLoopIsRecursive(t *testing.T) {
	g, sink := analyze(t, `A = [(A) (identifier)]`)
	require.False(t, sink.HasErrors())
	require.True(t, g.Recursive[defIndex(t, g, "A")])
}

func TestAnalyze_TerminationOKWithEscape(t *testing.T) {
	// The recursive reference sits in an Alt with another branch, so every
	// cycle has an escape.
	_, sink := analyze(t, `
Expr = [Lit: (number) @v  Rec: (call (Expr) @inner)]
`)
	require.False(t, sink.HasErrors())
}

func TestAnalyze_NonTerminatingCycleReported(t *testing.T) {
	g, sink := analyze(t, `
A = (call (B))
B = (call (A))
`)
	_ = g
	require.True(t, sink.HasErrors())
	found := false
	for _, d := range sink.Raw() {
		if d.Kind == diag.RecursionCannotTerminate {
			found = true
			require.NotEmpty(t, d.Related)
		}
	}
	require.True(t, found)
}

func TestAnalyze_NonTerminatingSelfLoopReported(t *testing.T) {
	_, sink := analyze(t, `A = (call (A))`)
	require.True(t, sink.HasErrors())
	require.Equal(t, diag.RecursionCannotTerminate, sink.Raw()[0].Kind)
}

func TestAnalyze_StarQuantifierIsSkippable(t *testing.T) {
	_, sink := analyze(t, `A = (call (A)*)`)
	require.False(t, sink.HasErrors())
}
