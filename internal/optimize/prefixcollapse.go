package optimize

import (
	"fmt"

	"github.com/plotnik-lang/plotnik-sub003/internal/ir"
)

// structKey returns a string uniquely identifying instr's own match
// constraints and effects, ignoring its Successors — two instructions with
// the same key are candidates for prefix collapse.
func structKey(instr *ir.Instr) string {
	if instr.Op != ir.OpMatch {
		return ""
	}
	return fmt.Sprintf("%d:%d:%d:%v:%d:%d:%v:%v:%v:%d",
		instr.Nav.Kind, instr.Nav.N, instr.Nav.Floor, instr.Wildcard,
		instr.NodeType, instr.NodeField, instr.NegFields,
		instr.PreEffects, instr.PostEffects, instr.RegexID)
}

// PrefixCollapse merges structurally-identical successors of a shared
// instruction into one, unioning their downstream successors. Uses a
// collect-then-apply strategy: every merge group across the
// whole graph is computed first, then applied, so that creating a merged
// instruction for one owner never disturbs the grouping computed for
// another.
func PrefixCollapse(g *ir.Graph) {
	type mergeOp struct {
		owner   ir.Label
		members []ir.Label
		newInst *ir.Instr
	}
	var ops []mergeOp

	for _, l := range g.Labels() {
		instr := g.Get(l)
		if instr == nil || instr.Op != ir.OpMatch || len(instr.Successors) < 2 {
			continue
		}
		groups := map[string][]ir.Label{}
		order := []string{}
		for _, s := range instr.Successors {
			si := g.Get(s)
			if si == nil || si.Op != ir.OpMatch {
				continue
			}
			k := structKey(si)
			if _, ok := groups[k]; !ok {
				order = append(order, k)
			}
			groups[k] = append(groups[k], s)
		}
		for _, k := range order {
			members := groups[k]
			if len(members) < 2 {
				continue
			}
			first := g.Get(members[0])
			union := []ir.Label{}
			seen := map[ir.Label]bool{}
			for _, m := range members {
				for _, s := range g.Get(m).Successors {
					if !seen[s] {
						seen[s] = true
						union = append(union, s)
					}
				}
			}
			newInst := &ir.Instr{
				Op:          ir.OpMatch,
				Nav:         first.Nav,
				NodeType:    first.NodeType,
				Wildcard:    first.Wildcard,
				NodeField:   first.NodeField,
				NegFields:   append([]int{}, first.NegFields...),
				PreEffects:  append([]ir.Effect{}, first.PreEffects...),
				PostEffects: append([]ir.Effect{}, first.PostEffects...),
				RegexID:     first.RegexID,
				Successors:  union,
			}
			ops = append(ops, mergeOp{owner: l, members: members, newInst: newInst})
		}
	}

	for _, op := range ops {
		label := g.Alloc()
		op.newInst.Label = label
		g.Add(op.newInst)

		owner := g.Get(op.owner)
		memberSet := map[ir.Label]bool{}
		for _, m := range op.members {
			memberSet[m] = true
		}
		replaced := false
		var next []ir.Label
		for _, s := range owner.Successors {
			if memberSet[s] {
				if !replaced {
					next = append(next, label)
					replaced = true
				}
				continue
			}
			next = append(next, s)
		}
		owner.Successors = next
	}
}
