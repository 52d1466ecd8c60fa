package optimize

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/plotnik-lang/plotnik-sub003/internal/ir"
)

func match(g *ir.Graph, nav ir.Nav, successors ...ir.Label) ir.Label {
	l := g.Alloc()
	g.Add(&ir.Instr{
		Label: l, Op: ir.OpMatch, Nav: nav,
		NodeType: -1, NodeField: -1, RegexID: -1,
		Successors: successors,
	})
	return l
}

func typedMatch(g *ir.Graph, nodeType int, successors ...ir.Label) ir.Label {
	l := g.Alloc()
	g.Add(&ir.Instr{
		Label: l, Op: ir.OpMatch, Nav: ir.Down(),
		NodeType: nodeType, NodeField: -1, RegexID: -1,
		Successors: successors,
	})
	return l
}

func TestEliminateEpsilons_NoEffectSingleSuccessor(t *testing.T) {
	g := ir.NewGraph()
	ret := g.Alloc()
	g.Add(&ir.Instr{Label: ret, Op: ir.OpReturn})
	eps := match(g, ir.Epsilon(), ret)
	entry := typedMatch(g, 5, eps)

	EliminateEpsilons(g)

	require.Nil(t, g.Get(eps))
	require.Equal(t, []ir.Label{ret}, g.Get(entry).Successors)
}

func TestEliminateEpsilons_WithEffectsFoldsIntoMatchPredecessor(t *testing.T) {
	g := ir.NewGraph()
	ret := g.Alloc()
	g.Add(&ir.Instr{Label: ret, Op: ir.OpReturn})
	eps := g.Alloc()
	g.Add(&ir.Instr{
		Label: eps, Op: ir.OpMatch, Nav: ir.Epsilon(),
		NodeType: -1, NodeField: -1, RegexID: -1,
		PreEffects: []ir.Effect{{Op: ir.NodeEff}},
		Successors: []ir.Label{ret},
	})
	entry := typedMatch(g, 5, eps)

	EliminateEpsilons(g)

	require.Nil(t, g.Get(eps))
	got := g.Get(entry)
	require.Equal(t, []ir.Label{ret}, got.Successors)
	require.Equal(t, []ir.Effect{{Op: ir.NodeEff}}, got.PostEffects)
}

func TestEliminateEpsilons_LeavesCallReturnAddrEffectsAlone(t *testing.T) {
	g := ir.NewGraph()
	ret := g.Alloc()
	g.Add(&ir.Instr{Label: ret, Op: ir.OpReturn})
	eps := g.Alloc()
	g.Add(&ir.Instr{
		Label: eps, Op: ir.OpMatch, Nav: ir.Epsilon(),
		NodeType: -1, NodeField: -1, RegexID: -1,
		PreEffects: []ir.Effect{{Op: ir.NodeEff}},
		Successors: []ir.Label{ret},
	})
	call := g.Alloc()
	g.Add(&ir.Instr{Label: call, Op: ir.OpCall, Target: typedMatch(g, 1), ReturnAddr: eps})

	EliminateEpsilons(g)

	// eps has an effect and its only predecessor is a Call (no effect list),
	// so it must survive untouched.
	require.NotNil(t, g.Get(eps))
	require.Equal(t, eps, g.Get(call).ReturnAddr)
}

func TestDCE_RemovesUnreachable(t *testing.T) {
	g := ir.NewGraph()
	dead := typedMatch(g, 9)
	_ = dead
	ret := g.Alloc()
	g.Add(&ir.Instr{Label: ret, Op: ir.OpReturn})
	entry := typedMatch(g, 5, ret)

	DCE(g, []ir.Label{entry})

	require.Nil(t, g.Get(dead))
	require.NotNil(t, g.Get(entry))
	require.NotNil(t, g.Get(ret))
}

func TestPrefixCollapse_MergesStructurallyIdenticalSuccessors(t *testing.T) {
	g := ir.NewGraph()
	retA := g.Alloc()
	g.Add(&ir.Instr{Label: retA, Op: ir.OpReturn})
	retB := g.Alloc()
	g.Add(&ir.Instr{Label: retB, Op: ir.OpReturn})

	branch1 := typedMatch(g, 7, retA)
	branch2 := typedMatch(g, 7, retB)
	owner := g.Alloc()
	g.Add(&ir.Instr{
		Label: owner, Op: ir.OpMatch, Nav: ir.Epsilon(),
		NodeType: -1, NodeField: -1, RegexID: -1,
		Successors: []ir.Label{branch1, branch2},
	})

	PrefixCollapse(g)

	ownerInstr := g.Get(owner)
	require.Len(t, ownerInstr.Successors, 1)
	merged := g.Get(ownerInstr.Successors[0])
	require.Equal(t, 7, merged.NodeType)
	require.ElementsMatch(t, []ir.Label{retA, retB}, merged.Successors)
}

func TestUpFuse_CombinesConsecutiveUpNavigations(t *testing.T) {
	g := ir.NewGraph()
	ret := g.Alloc()
	g.Add(&ir.Instr{Label: ret, Op: ir.OpReturn})
	up2 := g.Alloc()
	g.Add(&ir.Instr{
		Label: up2, Op: ir.OpMatch, Nav: ir.Up(2),
		NodeType: -1, NodeField: -1, RegexID: -1,
		Successors: []ir.Label{ret},
	})
	up1 := g.Alloc()
	g.Add(&ir.Instr{
		Label: up1, Op: ir.OpMatch, Nav: ir.Up(1),
		NodeType: -1, NodeField: -1, RegexID: -1,
		Successors: []ir.Label{up2},
	})

	UpFuse(g)

	require.Nil(t, g.Get(up2))
	fused := g.Get(up1)
	require.Equal(t, uint8(3), fused.Nav.N)
	require.Equal(t, []ir.Label{ret}, fused.Successors)
}

func TestUpFuse_SkipsWhenSecondHasAnotherPredecessor(t *testing.T) {
	g := ir.NewGraph()
	ret := g.Alloc()
	g.Add(&ir.Instr{Label: ret, Op: ir.OpReturn})
	up2 := g.Alloc()
	g.Add(&ir.Instr{
		Label: up2, Op: ir.OpMatch, Nav: ir.Up(2),
		NodeType: -1, NodeField: -1, RegexID: -1,
		Successors: []ir.Label{ret},
	})
	up1 := g.Alloc()
	g.Add(&ir.Instr{
		Label: up1, Op: ir.OpMatch, Nav: ir.Up(1),
		NodeType: -1, NodeField: -1, RegexID: -1,
		Successors: []ir.Label{up2},
	})
	// A second predecessor of up2.
	other := g.Alloc()
	g.Add(&ir.Instr{
		Label: other, Op: ir.OpMatch, Nav: ir.Epsilon(),
		NodeType: -1, NodeField: -1, RegexID: -1,
		Successors: []ir.Label{up2},
	})

	UpFuse(g)

	require.NotNil(t, g.Get(up2))
	require.Equal(t, uint8(1), g.Get(up1).Nav.N)
}

func TestLower_SplitsOverflowingEffectsAndSuccessors(t *testing.T) {
	g := ir.NewGraph()
	rets := make([]ir.Label, 30)
	for i := range rets {
		rets[i] = g.Alloc()
		g.Add(&ir.Instr{Label: rets[i], Op: ir.OpReturn})
	}
	effects := make([]ir.Effect, 10)
	for i := range effects {
		effects[i] = ir.Effect{Op: ir.Push}
	}
	entry := g.Alloc()
	g.Add(&ir.Instr{
		Label: entry, Op: ir.OpMatch, Nav: ir.Down(),
		NodeType: 3, NodeField: -1, RegexID: -1,
		PreEffects: effects,
		Successors: rets,
	})

	Lower(g)

	got := g.Get(entry)
	require.LessOrEqual(t, len(got.PreEffects), MaxPreEffects)
	require.LessOrEqual(t, len(got.Successors), MaxSuccessors)

	// Walking the chain should reach every original return eventually.
	reached := map[ir.Label]bool{}
	var walk func(l ir.Label)
	walk = func(l ir.Label) {
		instr := g.Get(l)
		if instr == nil || reached[l] {
			return
		}
		reached[l] = true
		for _, s := range instr.Successors {
			walk(s)
		}
	}
	walk(entry)
	for _, r := range rets {
		require.True(t, reached[r], "return %d not reachable through lowered chain", r)
	}
}

func TestFingerprint_StableAcrossEpsilonElimination(t *testing.T) {
	build := func() (*ir.Graph, ir.Label) {
		g := ir.NewGraph()
		ret := g.Alloc()
		g.Add(&ir.Instr{Label: ret, Op: ir.OpReturn})
		eps := match(g, ir.Epsilon(), ret)
		entry := typedMatch(g, 5, eps)
		return g, entry
	}

	g1, entry1 := build()
	before := Fingerprint(g1, []ir.Label{entry1})

	g2, entry2 := build()
	EliminateEpsilons(g2)
	after := Fingerprint(g2, []ir.Label{entry2})

	require.Equal(t, before, after)
}
