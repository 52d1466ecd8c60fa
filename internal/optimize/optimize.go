// Package optimize implements the ordered IR optimization passes:
// epsilon elimination, dead-code elimination, prefix
// collapse, Up-fusion, and overflow lowering. Passes run in that order
// against an internal/compile.Result's ir.Graph, in place.
package optimize

import (
	"sort"

	"github.com/plotnik-lang/plotnik-sub003/internal/ir"
)

// Limits are the per-list encoding bounds that Lower enforces.
const (
	MaxPreEffects  = 7
	MaxPostEffects = 7
	MaxNegFields   = 7
	MaxSuccessors  = 28
)

// Run executes all five passes in their required order against g, using
// entrypoints as the graph's live roots.
func Run(g *ir.Graph, entrypoints []ir.Label) {
	EliminateEpsilons(g)
	DCE(g, entrypoints)
	PrefixCollapse(g)
	UpFuse(g)
	DCE(g, entrypoints) // prefix collapse and Up-fusion both orphan old labels
	Lower(g)
}

// isPureEpsilon reports whether instr is a routing-only epsilon Match: no
// type/field/negfield/predicate constraint, Nav = Epsilon.
func isPureEpsilon(instr *ir.Instr) bool {
	return instr.Op == ir.OpMatch &&
		instr.Nav.Kind == ir.NavEpsilon &&
		instr.NodeType == -1 &&
		!instr.Wildcard &&
		instr.NodeField == -1 &&
		len(instr.NegFields) == 0 &&
		instr.RegexID == -1
}

type refKind int

const (
	refSuccessor refKind = iota // a slot within a Successors slice
	refTarget                   // Call/Trampoline.Target
	refReturn                   // Call/Trampoline.ReturnAddr
)

// ref is one place in the graph that names a Label.
type ref struct {
	owner ir.Label
	kind  refKind
	idx   int // index within Successors, for refSuccessor
}

// buildRefs indexes every outgoing label reference in g, keyed by the
// referenced label.
func buildRefs(g *ir.Graph) map[ir.Label][]ref {
	out := make(map[ir.Label][]ref)
	for _, l := range g.Labels() {
		instr := g.Get(l)
		switch instr.Op {
		case ir.OpMatch:
			for i, s := range instr.Successors {
				out[s] = append(out[s], ref{owner: l, kind: refSuccessor, idx: i})
			}
		case ir.OpCall, ir.OpTrampoline:
			out[instr.Target] = append(out[instr.Target], ref{owner: l, kind: refTarget})
			out[instr.ReturnAddr] = append(out[instr.ReturnAddr], ref{owner: l, kind: refReturn})
		}
	}
	return out
}

// EliminateEpsilons removes reachable pure-epsilon Match instructions whose
// removal is observably a no-op: a no-effect epsilon
// can always be skipped by splicing its successors into every predecessor's
// reference; an epsilon that carries effects can only be folded backward
// into predecessors that themselves own an effect list (Match
// predecessors) — Call/Trampoline predecessors have nowhere to put the
// effects, so those chains are left alone. Runs to a fixpoint since
// removing one epsilon can expose another.
func EliminateEpsilons(g *ir.Graph) {
	for {
		changed := false
		// Rebuilt after every single elimination: a splice that changes a
		// successor list's length shifts the recorded indices of every later
		// reference on the same owner, so stale refs must never be applied.
		refs := buildRefs(g)
		for _, l := range g.Labels() {
			instr := g.Get(l)
			if instr == nil || !isPureEpsilon(instr) || len(instr.Successors) == 0 {
				continue
			}
			if l == instr.Successors[0] && len(instr.Successors) == 1 {
				continue // self-loop; nothing to do
			}
			preds := refs[l]
			noEffects := len(instr.PreEffects) == 0 && len(instr.PostEffects) == 0
			if noEffects {
				if eliminateNoEffect(g, l, instr, preds) {
					changed = true
					break
				}
				continue
			}
			if len(instr.Successors) != 1 {
				continue // ambiguous which successor inherits the effects
			}
			if eliminateWithEffects(g, l, instr, preds) {
				changed = true
				break
			}
		}
		if !changed {
			return
		}
	}
}

// eliminateNoEffect splices instr's successors directly into every
// predecessor reference. List-valued references (Successors) accept the
// full splice; singular references (Call/Trampoline Target/ReturnAddr) only
// accept it when instr has exactly one successor.
func eliminateNoEffect(g *ir.Graph, l ir.Label, instr *ir.Instr, preds []ref) bool {
	if len(preds) == 0 {
		g.Delete(l)
		return true
	}
	for _, p := range preds {
		if p.kind != refSuccessor && len(instr.Successors) != 1 {
			return false
		}
	}
	// Apply successor splices highest-index first so one owner holding two
	// references to this epsilon keeps its other indices valid.
	sort.Slice(preds, func(i, j int) bool { return preds[i].idx > preds[j].idx })
	for _, p := range preds {
		owner := g.Get(p.owner)
		switch p.kind {
		case refSuccessor:
			owner.Successors = spliceAt(owner.Successors, p.idx, instr.Successors)
		case refTarget:
			owner.Target = instr.Successors[0]
		case refReturn:
			owner.ReturnAddr = instr.Successors[0]
		}
	}
	g.Delete(l)
	return true
}

// eliminateWithEffects appends instr's effects onto the end of every
// Match predecessor's effect list and rewires its successor reference to
// instr's sole successor, skipping (leaving instr in place) if any
// predecessor cannot carry effects.
func eliminateWithEffects(g *ir.Graph, l ir.Label, instr *ir.Instr, preds []ref) bool {
	if len(preds) == 0 {
		g.Delete(l)
		return true
	}
	for _, p := range preds {
		owner := g.Get(p.owner)
		if owner.Op != ir.OpMatch {
			return false
		}
		// Folding onto the owner runs the effects before its successor
		// choice, so every alternative must already lead here.
		for _, s := range owner.Successors {
			if s != l {
				return false
			}
		}
	}
	succ := instr.Successors[0]
	seen := map[ir.Label]bool{}
	for _, p := range preds {
		owner := g.Get(p.owner)
		if !seen[p.owner] {
			seen[p.owner] = true
			owner.PostEffects = append(append([]ir.Effect{}, owner.PostEffects...), instr.PreEffects...)
			owner.PostEffects = append(owner.PostEffects, instr.PostEffects...)
		}
		owner.Successors[p.idx] = succ
	}
	g.Delete(l)
	return true
}

func spliceAt(list []ir.Label, idx int, repl []ir.Label) []ir.Label {
	out := make([]ir.Label, 0, len(list)-1+len(repl))
	out = append(out, list[:idx]...)
	out = append(out, repl...)
	out = append(out, list[idx+1:]...)
	return out
}

// successorsOf returns every label instr can transfer control to, using a
// conservative (never-under-approximating) view of Call/Trampoline: their
// ReturnAddr is treated as reachable directly from the call site, since the
// callee is assumed to eventually Return there.
func successorsOf(instr *ir.Instr) []ir.Label {
	switch instr.Op {
	case ir.OpMatch:
		return instr.Successors
	case ir.OpCall, ir.OpTrampoline:
		return []ir.Label{instr.Target, instr.ReturnAddr}
	default: // OpReturn
		return nil
	}
}

// DCE removes every instruction not reachable from entrypoints.
func DCE(g *ir.Graph, entrypoints []ir.Label) {
	reachable := make(map[ir.Label]bool)
	var stack []ir.Label
	stack = append(stack, entrypoints...)
	for len(stack) > 0 {
		l := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if reachable[l] {
			continue
		}
		reachable[l] = true
		instr := g.Get(l)
		if instr == nil {
			continue
		}
		for _, s := range successorsOf(instr) {
			if !reachable[s] {
				stack = append(stack, s)
			}
		}
	}
	for _, l := range g.Labels() {
		if !reachable[l] {
			g.Delete(l)
		}
	}
}
