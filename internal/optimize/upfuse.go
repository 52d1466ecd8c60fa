package optimize

import "github.com/plotnik-lang/plotnik-sub003/internal/ir"

// isPureUp reports whether instr is a navigation-only Up instruction: no
// type/field/predicate constraint, single successor.
func isPureUp(instr *ir.Instr) bool {
	return instr.Op == ir.OpMatch &&
		instr.Nav.IsUp() &&
		instr.NodeType == -1 &&
		!instr.Wildcard &&
		instr.NodeField == -1 &&
		len(instr.NegFields) == 0 &&
		instr.RegexID == -1 &&
		len(instr.Successors) == 1
}

// UpFuse collapses Up(n) -> Up(m) into Up(min(n+m, 63)) when both share the
// same Up kind, the first carries no post-effects, and the second has no
// other predecessors. Runs to a fixpoint since fusing can expose another
// fusible pair.
func UpFuse(g *ir.Graph) {
	for {
		changed := false
		refcount := make(map[ir.Label]int)
		for _, l := range g.Labels() {
			instr := g.Get(l)
			for _, s := range successorsOf(instr) {
				refcount[s]++
			}
		}
		for _, l := range g.Labels() {
			a := g.Get(l)
			if a == nil || !isPureUp(a) || len(a.PostEffects) != 0 {
				continue
			}
			bLabel := a.Successors[0]
			b := g.Get(bLabel)
			if b == nil || !isPureUp(b) || b.Nav.Kind != a.Nav.Kind {
				continue
			}
			if refcount[bLabel] != 1 || bLabel == l {
				continue
			}
			if b.Nav.Floor > a.Nav.Floor {
				continue // ascending a then b always ends at b's (outer) floor
			}
			n := int(a.Nav.N) + int(b.Nav.N)
			if n > 63 {
				n = 63
			}
			a.Nav.N = uint8(n)
			a.Nav.Floor = b.Nav.Floor
			a.PreEffects = append(a.PreEffects, b.PreEffects...)
			a.PostEffects = append(a.PostEffects, b.PostEffects...)
			a.Successors = b.Successors
			g.Delete(bLabel)
			changed = true
		}
		if !changed {
			return
		}
	}
}
