package bytecode

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/plotnik-lang/plotnik-sub003/internal/ast"
	"github.com/plotnik-lang/plotnik-sub003/internal/compile"
	"github.com/plotnik-lang/plotnik-sub003/internal/depgraph"
	"github.com/plotnik-lang/plotnik-sub003/internal/diag"
	"github.com/plotnik-lang/plotnik-sub003/internal/ir"
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
	require.False(t, sink.HasErrors(), "diagnostics: %+v", sink.Raw())

	interner := source.NewInterner()
	res := compile.Compile(g, inf, interner)
	optimize.Run(res.Graph, res.Entrypoints)

	names := make([]string, len(g.Defs))
	for i, d := range g.Defs {
		names[i] = d.Name
	}
	raw, err := Emit(&Input{
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

const sampleQuery = `
Expr = [Lit: (number) @v :: string
        Rec: (call_expression function: (identifier) @f arguments: (Expr) @inner)]
Q = (program (identifier)* @ids)
P = (identifier) @id ~ /^_.*/
`

func TestEmit_HeaderAndDecode(t *testing.T) {
	raw := emitQuery(t, sampleQuery)
	require.GreaterOrEqual(t, len(raw), HeaderSize)
	require.Equal(t, Magic, string(raw[0:4]))
	require.Zero(t, len(raw)%LineSize)

	m, err := Decode(raw)
	require.NoError(t, err)
	require.False(t, m.Linked)
	require.Len(t, m.Entrypoints, 3)

	ep, ok := m.EntrypointByName("Expr")
	require.True(t, ok)
	require.NotNil(t, m.Steps[ep.Step])
}

func TestDecode_RejectsCorruption(t *testing.T) {
	raw := emitQuery(t, `Q = (identifier) @id`)

	bad := append([]byte(nil), raw...)
	bad[0] = 'X'
	_, err := Decode(bad)
	require.ErrorContains(t, err, "magic")

	bad = append([]byte(nil), raw...)
	bad[len(bad)-1] ^= 0xFF
	_, err = Decode(bad)
	require.ErrorContains(t, err, "checksum")

	_, err = Decode(raw[:HeaderSize-1])
	require.ErrorContains(t, err, "too short")
}

func TestDecode_RoundTripsInstructions(t *testing.T) {
	raw := emitQuery(t, sampleQuery)
	m, err := Decode(raw)
	require.NoError(t, err)

	// Every referenced step resolves to a decoded instruction.
	for _, st := range m.Steps {
		for _, s := range st.Succs {
			require.NotNil(t, m.Steps[s], "step %d has dangling successor %d", st.ID, s)
		}
		if st.Op == OpCall {
			require.NotNil(t, m.Steps[st.Target], "dangling call target")
			require.NotNil(t, m.Steps[st.Return], "dangling return address")
		}
	}

	// Decoding the same bytes twice is deterministic.
	m2, err := Decode(raw)
	require.NoError(t, err)
	require.Equal(t, m.StepOrder, m2.StepOrder)
	require.Equal(t, m.Strings, m2.Strings)
}

func TestEmit_LayoutAlignmentInvariant(t *testing.T) {
	raw := emitQuery(t, sampleQuery)
	m, err := Decode(raw)
	require.NoError(t, err)
	for _, id := range m.StepOrder {
		st := m.Steps[id]
		size := sizeOf(st.Op)
		if size >= 16 {
			offsetInLine := (int(id) * StepSize) % LineSize
			require.LessOrEqual(t, offsetInLine+size, LineSize,
				"step %d (%s) straddles a cache line", id, st.Op)
		}
	}
}

func TestEmit_EffectBoundsInvariant(t *testing.T) {
	raw := emitQuery(t, sampleQuery)
	m, err := Decode(raw)
	require.NoError(t, err)
	for _, st := range m.Steps {
		require.LessOrEqual(t, len(st.Pre), optimize.MaxPreEffects)
		require.LessOrEqual(t, len(st.Post), optimize.MaxPostEffects)
		require.LessOrEqual(t, len(st.NegIdx), optimize.MaxNegFields)
		require.LessOrEqual(t, len(st.Succs), optimize.MaxSuccessors)
	}
}

func TestEmit_RegexTableAndBlob(t *testing.T) {
	raw := emitQuery(t, `P = (identifier) @id ~ /^_.*/`)
	m, err := Decode(raw)
	require.NoError(t, err)
	require.Len(t, m.Regexes, 2)
	require.Nil(t, m.Regexes[0], "index 0 is reserved")
	require.NotNil(t, m.Regexes[1])
	require.True(t, m.Regexes[1].Run([]byte("_hidden")))
	require.False(t, m.Regexes[1].Run([]byte("visible")))
}

func TestModule_TypesRebuild(t *testing.T) {
	raw := emitQuery(t, `Q = (identifier) @id`)
	m, err := Decode(raw)
	require.NoError(t, err)
	tc, err := m.Types()
	require.NoError(t, err)

	ep, ok := m.EntrypointByName("Q")
	require.True(t, ok)
	s := tc.Shape(ep.Type)
	require.Equal(t, ir.Struct, s.Kind)
	require.Len(t, s.Members, 1)
	require.Equal(t, "id", s.Members[0].Name)
	require.Equal(t, ir.Node, tc.Shape(s.Members[0].Type).Kind)
}

func TestEmit_NoEpsilonMatchesSurvive(t *testing.T) {
	// After optimization and emission, no reachable Match should be a pure
	// routing epsilon with a single successor and no effects.
	raw := emitQuery(t, sampleQuery)
	m, err := Decode(raw)
	require.NoError(t, err)
	for _, st := range m.Steps {
		if !st.Op.IsMatch() {
			continue
		}
		if st.Nav.Kind == ir.NavEpsilon && st.TypeIdx < 0 && !st.Wildcard &&
			st.FieldIdx < 0 && st.RegexID == 0 && len(st.NegIdx) == 0 &&
			len(st.Pre) == 0 && len(st.Post) == 0 {
			require.Greater(t, len(st.Succs), 1,
				"step %d is a pure epsilon with a single successor", st.ID)
		}
	}
}
