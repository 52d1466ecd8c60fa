package linker

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/plotnik-lang/plotnik-sub003/internal/ast"
	"github.com/plotnik-lang/plotnik-sub003/internal/bytecode"
	"github.com/plotnik-lang/plotnik-sub003/internal/compile"
	"github.com/plotnik-lang/plotnik-sub003/internal/depgraph"
	"github.com/plotnik-lang/plotnik-sub003/internal/diag"
	"github.com/plotnik-lang/plotnik-sub003/internal/grammar"
	"github.com/plotnik-lang/plotnik-sub003/internal/optimize"
	"github.com/plotnik-lang/plotnik-sub003/internal/resolve"
	"github.com/plotnik-lang/plotnik-sub003/internal/shape"
	"github.com/plotnik-lang/plotnik-sub003/internal/source"
	"github.com/plotnik-lang/plotnik-sub003/internal/syntax"
	"github.com/plotnik-lang/plotnik-sub003/internal/typeinfer"
)

func emitQuery(t *testing.T, text string) []byte {
	t.Helper()
	sink := diag.NewSink()
	f, _ := syntax.Parse(0, text, sink, syntax.DefaultBudget)
	table := resolve.Resolve([]*ast.File{f}, sink)
	g := depgraph.Analyze(table, sink)
	shape.Classify(g, sink)
	inf := typeinfer.Infer(g, sink)
	require.False(t, sink.HasErrors())

	interner := source.NewInterner()
	res := compile.Compile(g, inf, interner)
	optimize.Run(res.Graph, res.Entrypoints)
	names := make([]string, len(g.Defs))
	for i, d := range g.Defs {
		names[i] = d.Name
	}
	raw, err := bytecode.Emit(&bytecode.Input{
		Graph:       res.Graph,
		Entrypoints: res.Entrypoints,
		EntryNames:  names,
		EntryTypes:  res.DefType,
		TC:          res.TC,
		Interner:    interner,
		Regexes:     res.Regexes,
		Trivia:      []string{"comment"},
	})
	require.NoError(t, err)
	return raw
}

func testLang() *grammar.StaticLang {
	return grammar.NewStaticLang("testlang",
		[]string{"program", "identifier", "number", "comment", "call"},
		[]string{"function", "arguments"},
		[]string{"comment"},
	)
}

func TestLink_ResolvesKindsAndFields(t *testing.T) {
	raw := emitQuery(t, `Q = (call function: (identifier) @f)`)
	lang := testLang()

	sink := diag.NewSink()
	linked, err := Link(raw, lang, sink)
	require.NoError(t, err)
	require.False(t, sink.HasErrors())

	m, err := bytecode.Decode(linked)
	require.NoError(t, err)
	require.True(t, m.Linked)

	callID, _ := lang.KindID("call")
	identID, _ := lang.KindID("identifier")
	require.Contains(t, m.NodeTypes, uint32(callID))
	require.Contains(t, m.NodeTypes, uint32(identID))

	fnID, _ := lang.FieldID("function")
	require.Contains(t, m.NodeFields, uint32(fnID))

	// The input module is untouched and still decodes as unlinked.
	orig, err := bytecode.Decode(raw)
	require.NoError(t, err)
	require.False(t, orig.Linked)
}

func TestLink_UnknownKindReported(t *testing.T) {
	raw := emitQuery(t, `Q = (flux_capacitor) @x`)
	sink := diag.NewSink()
	_, err := Link(raw, testLang(), sink)
	require.Error(t, err)
	require.True(t, sink.HasErrors())
	require.Equal(t, diag.UnknownKind, sink.Raw()[0].Kind)
}

func TestLink_UnknownFieldReported(t *testing.T) {
	raw := emitQuery(t, `Q = (call flux: (identifier) @x)`)
	sink := diag.NewSink()
	_, err := Link(raw, testLang(), sink)
	require.Error(t, err)
	found := false
	for _, d := range sink.Raw() {
		if d.Kind == diag.UnknownField {
			found = true
		}
	}
	require.True(t, found)
}

func TestLink_AlreadyLinkedRejected(t *testing.T) {
	raw := emitQuery(t, `Q = (identifier) @x`)
	sink := diag.NewSink()
	linked, err := Link(raw, testLang(), sink)
	require.NoError(t, err)
	_, err = Link(linked, testLang(), sink)
	require.ErrorContains(t, err, "already linked")
}
