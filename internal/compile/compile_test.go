package compile

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/plotnik-lang/plotnik-sub003/internal/ast"
	"github.com/plotnik-lang/plotnik-sub003/internal/depgraph"
	"github.com/plotnik-lang/plotnik-sub003/internal/diag"
	"github.com/plotnik-lang/plotnik-sub003/internal/ir"
	"github.com/plotnik-lang/plotnik-sub003/internal/resolve"
	"github.com/plotnik-lang/plotnik-sub003/internal/shape"
	"github.com/plotnik-lang/plotnik-sub003/internal/source"
	"github.com/plotnik-lang/plotnik-sub003/internal/syntax"
	"github.com/plotnik-lang/plotnik-sub003/internal/typeinfer"
)

func compileQuery(t *testing.T, text string) (*Result, *source.Interner) {
	t.Helper()
	sink := diag.NewSink()
	f, _ := syntax.Parse(0, text, sink, syntax.DefaultBudget)
	table := resolve.Resolve([]*ast.File{f}, sink)
	g := depgraph.Analyze(table, sink)
	shape.Classify(g, sink)
	inf := typeinfer.Infer(g, sink)
	require.False(t, sink.HasErrors(), "diagnostics: %+v", sink.Raw())
	interner := source.NewInterner()
	return Compile(g, inf, interner), interner
}

// reachable collects every instruction reachable from the entrypoints.
func reachable(res *Result) []*ir.Instr {
	seen := map[ir.Label]bool{}
	var out []*ir.Instr
	var stack []ir.Label
	stack = append(stack, res.Entrypoints...)
	for len(stack) > 0 {
		l := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[l] {
			continue
		}
		seen[l] = true
		instr := res.Graph.Get(l)
		if instr == nil {
			continue
		}
		out = append(out, instr)
		switch instr.Op {
		case ir.OpMatch:
			stack = append(stack, instr.Successors...)
		case ir.OpCall, ir.OpTrampoline:
			stack = append(stack, instr.Target, instr.ReturnAddr)
		}
	}
	return out
}

func TestCompile_SingleCaptureShape(t *testing.T) {
	res, interner := compileQuery(t, `Q = (identifier) @id`)
	require.Len(t, res.Entrypoints, 1)

	entry := res.Graph.Get(res.Entrypoints[0])
	require.Equal(t, ir.OpTrampoline, entry.Op)

	kindSym, ok := interner.Lookup("identifier")
	require.True(t, ok)

	var matchInstr *ir.Instr
	var haveObj, haveEndObj, haveNode, haveSet bool
	for _, instr := range reachable(res) {
		if instr.Op == ir.OpMatch && instr.NodeType == int(kindSym) {
			matchInstr = instr
		}
		for _, eff := range append(append([]ir.Effect{}, instr.PreEffects...), instr.PostEffects...) {
			switch eff.Op {
			case ir.Obj:
				haveObj = true
			case ir.EndObj:
				haveEndObj = true
			case ir.NodeEff:
				haveNode = true
			case ir.Set:
				haveSet = true
				require.Equal(t, int(mustSym(t, interner, "id")), eff.Member)
			}
		}
	}
	require.NotNil(t, matchInstr, "no match instruction for identifier")
	require.Equal(t, ir.NavStayExact, matchInstr.Nav.Kind)
	require.True(t, haveObj && haveEndObj && haveNode && haveSet)
}

func mustSym(t *testing.T, in *source.Interner, s string) source.Symbol {
	t.Helper()
	sym, ok := in.Lookup(s)
	require.True(t, ok, "symbol %q not interned", s)
	return sym
}

func TestCompile_RefBecomesCall(t *testing.T) {
	res, _ := compileQuery(t, "A = (identifier)\nB = (A)")
	var calls int
	for _, instr := range reachable(res) {
		if instr.Op == ir.OpCall {
			calls++
			require.NotEqual(t, ir.NoLabel, instr.Target)
			require.NotEqual(t, ir.NoLabel, instr.ReturnAddr)
		}
	}
	require.Equal(t, 1, calls)
}

func TestCompile_FieldConstraintOnRefCall(t *testing.T) {
	res, interner := compileQuery(t, "A = (identifier)\nB = (call arguments: (A))")
	fieldSym := mustSym(t, interner, "arguments")
	found := false
	for _, instr := range reachable(res) {
		if instr.Op == ir.OpCall && instr.NodeField == int(fieldSym) {
			found = true
		}
	}
	require.True(t, found, "field constraint not attached to the Call")
}

func TestCompile_QuantifierEmitsArrayEffects(t *testing.T) {
	res, _ := compileQuery(t, `Q = (program (identifier)* @ids)`)
	var haveStart, havePush, haveEnd bool
	for _, instr := range reachable(res) {
		for _, eff := range append(append([]ir.Effect{}, instr.PreEffects...), instr.PostEffects...) {
			switch eff.Op {
			case ir.StartArr:
				haveStart = true
			case ir.Push:
				havePush = true
			case ir.EndArr:
				haveEnd = true
			}
		}
	}
	require.True(t, haveStart && havePush && haveEnd)
}

func TestCompile_LazyQuantifierPrefersExit(t *testing.T) {
	eager, _ := compileQuery(t, `Q = (program (identifier)* @ids)`)
	lazy, _ := compileQuery(t, `Q = (program (identifier)*? @ids)`)

	countBranchOrders := func(res *Result) (exitFirst int) {
		for _, instr := range reachable(res) {
			if instr.Op != ir.OpMatch || len(instr.Successors) != 2 {
				continue
			}
			// A loop branch's exit leads to the EndArr epsilon.
			first := res.Graph.Get(instr.Successors[0])
			if first != nil && len(first.PreEffects) == 1 && first.PreEffects[0].Op == ir.EndArr {
				exitFirst++
			}
		}
		return
	}
	require.Zero(t, countBranchOrders(eager))
	require.NotZero(t, countBranchOrders(lazy))
}

func TestCompile_NegatedFieldFoldsIntoNodeMatch(t *testing.T) {
	res, interner := compileQuery(t, `Q = (call !arguments)`)
	negSym := mustSym(t, interner, "arguments")
	found := false
	for _, instr := range reachable(res) {
		for _, f := range instr.NegFields {
			if f == int(negSym) {
				found = true
			}
		}
	}
	require.True(t, found)
}

func TestCompile_UpCarriesFloor(t *testing.T) {
	res, _ := compileQuery(t, `Q = (outer (inner (leaf)))`)
	floors := map[uint8]bool{}
	for _, instr := range reachable(res) {
		if instr.Op == ir.OpMatch && instr.Nav.IsUp() {
			floors[instr.Nav.Floor] = true
		}
	}
	// outer's child list closes at floor 0, inner's at floor 1.
	require.True(t, floors[0])
	require.True(t, floors[1])
}
