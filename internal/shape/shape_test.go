package shape

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/plotnik-lang/plotnik-sub003/internal/ast"
	"github.com/plotnik-lang/plotnik-sub003/internal/depgraph"
	"github.com/plotnik-lang/plotnik-sub003/internal/diag"
	"github.com/plotnik-lang/plotnik-sub003/internal/resolve"
	"github.com/plotnik-lang/plotnik-sub003/internal/syntax"
)

func classify(t *testing.T, text string) (*depgraph.Graph, *Result, *diag.Sink) {
	t.Helper()
	sink := diag.NewSink()
	f, _ := syntax.Parse(0, text, sink, syntax.DefaultBudget)
	table := resolve.Resolve([]*ast.File{f}, sink)
	g := depgraph.Analyze(table, sink)
	return g, Classify(g, sink), sink
}

func shapeOf(t *testing.T, g *depgraph.Graph, r *Result, name string) Kind {
	t.Helper()
	for i, d := range g.Defs {
		if d.Name == name {
			return r.DefShape[i]
		}
	}
	t.Fatalf("no definition %q", name)
	return Invalid
}

func TestClassify_SingleNodeIsOne(t *testing.T) {
	g, r, sink := classify(t, `A = (identifier)`)
	require.False(t, sink.HasErrors())
	require.Equal(t, One, shapeOf(t, g, r, "A"))
}

func TestClassify_MultiItemSeqIsMany(t *testing.T) {
	g, r, sink := classify(t, `A = {(a) (b)}`)
	require.False(t, sink.HasErrors())
	require.Equal(t, Many, shapeOf(t, g, r, "A"))
}

func TestClassify_RefInheritsMany(t *testing.T) {
	g, r, sink := classify(t, "A = {(a) (b)}\nB = (A)")
	require.False(t, sink.HasErrors())
	require.Equal(t, Many, shapeOf(t, g, r, "B"))
}

func TestClassify_FieldOverManyReported(t *testing.T) {
	_, _, sink := classify(t, `A = (call body: {(a) (b)})`)
	require.True(t, sink.HasErrors())
	require.Equal(t, diag.FieldSequenceValue, sink.Raw()[0].Kind)
}

func TestClassify_FieldOverOneAccepted(t *testing.T) {
	_, _, sink := classify(t, `A = (call body: (block))`)
	require.False(t, sink.HasErrors())
}
