package resolve

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/plotnik-lang/plotnik-sub003/internal/ast"
	"github.com/plotnik-lang/plotnik-sub003/internal/diag"
	"github.com/plotnik-lang/plotnik-sub003/internal/syntax"
)

func parseFiles(t *testing.T, texts ...string) ([]*ast.File, *diag.Sink) {
	t.Helper()
	sink := diag.NewSink()
	var files []*ast.File
	for i, text := range texts {
		f, _ := syntax.Parse(uint32(i), text, sink, syntax.DefaultBudget)
		files = append(files, f)
	}
	return files, sink
}

func TestResolve_CollectsAcrossSources(t *testing.T) {
	files, sink := parseFiles(t, `A = (identifier)`, `B = (A)`)
	table := Resolve(files, sink)
	require.False(t, sink.HasErrors())
	require.Len(t, table.Defs, 2)

	a, ok := table.Lookup("A")
	require.True(t, ok)
	require.Equal(t, uint32(0), a.Source)
	b, ok := table.Lookup("B")
	require.True(t, ok)
	require.Equal(t, uint32(1), b.Source)
}

func TestResolve_DuplicateDefinition(t *testing.T) {
	files, sink := parseFiles(t, `A = (identifier)`, `A = (number)`)
	Resolve(files, sink)
	require.True(t, sink.HasErrors())
	require.Equal(t, diag.DuplicateDefinition, sink.Raw()[0].Kind)
	require.NotEmpty(t, sink.Raw()[0].Related)
}

func TestResolve_UndefinedReference(t *testing.T) {
	files, sink := parseFiles(t, `A = (call (Missing))`)
	Resolve(files, sink)
	require.True(t, sink.HasErrors())
	require.Equal(t, diag.UndefinedReference, sink.Raw()[0].Kind)
}

func TestResolve_SingleUnnamedAllowed(t *testing.T) {
	files, sink := parseFiles(t, `(identifier) @x`)
	table := Resolve(files, sink)
	require.False(t, sink.HasErrors())
	require.Equal(t, 0, table.Unnamed)
}

func TestResolve_SecondUnnamedRejected(t *testing.T) {
	files, sink := parseFiles(t, `(identifier) @x`, `(number) @y`)
	Resolve(files, sink)
	require.True(t, sink.HasErrors())
}
