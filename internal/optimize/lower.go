package optimize

import "github.com/plotnik-lang/plotnik-sub003/internal/ir"

// Lower splits every instruction whose pre_effects, post_effects, neg_fields,
// or successors exceed the encoding bounds into a
// chain of epsilon-matches, each carrying a legal slice, threaded through the
// instruction's original exits. Must run after every pass that can add to
// these lists (PrefixCollapse's successor union, Up-fusion's effect
// concatenation).
func Lower(g *ir.Graph) {
	for _, l := range g.Labels() {
		instr := g.Get(l)
		if instr == nil || instr.Op != ir.OpMatch {
			continue
		}
		lowerNegFields(g, instr)
		lowerSuccessors(g, instr)
		lowerEffects(g, instr)
		lowerFit(g, instr)
	}
}

// MaxPayloadSlots is the number of u16 payload slots the largest instruction
// size class (Match64) can carry after its header. The per-list bounds above
// keep each list encodable on its own; this bound keeps their sum encodable
// on one instruction.
const MaxPayloadSlots = 28

// payloadSlots counts the u16 slots instr's non-successor payload occupies:
// one each for a present node type, node field, and regex id, plus every
// neg-field and effect entry.
func payloadSlots(instr *ir.Instr) int {
	n := len(instr.NegFields) + len(instr.PreEffects) + len(instr.PostEffects)
	if instr.NodeType >= 0 {
		n++
	}
	if instr.NodeField >= 0 {
		n++
	}
	if instr.RegexID > 0 {
		n++
	}
	return n
}

// lowerFit funnels successors through an epsilon dispatch whenever instr's
// total payload would overflow Match64.
func lowerFit(g *ir.Graph, instr *ir.Instr) {
	other := payloadSlots(instr)
	if other+len(instr.Successors) <= MaxPayloadSlots {
		return
	}
	keep := MaxPayloadSlots - other - 1
	overflow := newEpsilonDispatch(g, append([]ir.Label{}, instr.Successors[keep:]...))
	instr.Successors = append(instr.Successors[:keep:keep], overflow)
}

// lowerNegFields keeps the first MaxNegFields entries on instr itself and
// threads the remainder onto a chain of Stay-navigation (cursor does not
// move) continuation instructions that re-assert the node is still named,
// so each additional neg_fields slice is checked against the same matched
// node.
func lowerNegFields(g *ir.Graph, instr *ir.Instr) {
	if len(instr.NegFields) <= MaxNegFields {
		return
	}
	rest := instr.NegFields[MaxNegFields:]
	instr.NegFields = instr.NegFields[:MaxNegFields]
	tail := instr.Successors
	instr.Successors = []ir.Label{buildNegFieldChain(g, rest, tail)}
}

// buildNegFieldChain builds a chain of Stay-navigation (cursor does not
// move) continuation instructions, each re-asserting the node is still
// named so every additional neg_fields slice is checked against the same
// matched node, ending with successors = tail.
func buildNegFieldChain(g *ir.Graph, fields []int, tail []ir.Label) ir.Label {
	n := len(fields)
	if n > MaxNegFields {
		n = MaxNegFields
	}
	chunk := fields[:n]
	rest := fields[n:]
	l := g.Alloc()
	instr := &ir.Instr{
		Label:     l,
		Op:        ir.OpMatch,
		Nav:       ir.Stay(),
		NodeType:  -1,
		Wildcard:  true,
		NodeField: -1,
		NegFields: chunk,
		RegexID:   -1,
	}
	if len(rest) == 0 {
		instr.Successors = tail
	} else {
		instr.Successors = []ir.Label{buildNegFieldChain(g, rest, tail)}
	}
	g.Add(instr)
	return l
}

// lowerSuccessors keeps the first MaxSuccessors-1 successors on instr and
// funnels the rest through one overflow epsilon-dispatch instruction
// (recursively split the same way if it is itself oversized).
func lowerSuccessors(g *ir.Graph, instr *ir.Instr) {
	if len(instr.Successors) <= MaxSuccessors {
		return
	}
	rest := instr.Successors[MaxSuccessors-1:]
	kept := instr.Successors[:MaxSuccessors-1]
	overflow := newEpsilonDispatch(g, rest)
	instr.Successors = append(kept, overflow)
}

func newEpsilonDispatch(g *ir.Graph, successors []ir.Label) ir.Label {
	l := g.Alloc()
	instr := &ir.Instr{
		Label:     l,
		Op:        ir.OpMatch,
		Nav:       ir.Epsilon(),
		NodeType:  -1,
		NodeField: -1,
		RegexID:   -1,
	}
	if len(successors) <= MaxSuccessors {
		instr.Successors = successors
	} else {
		kept := successors[:MaxSuccessors-1]
		overflow := newEpsilonDispatch(g, successors[MaxSuccessors-1:])
		instr.Successors = append(kept, overflow)
	}
	g.Add(instr)
	return l
}

// lowerEffects keeps the first MaxPreEffects/MaxPostEffects entries on instr
// and threads any overflow onto a chain of pure-epsilon continuation
// instructions, preserving pre-then-post execution order.
func lowerEffects(g *ir.Graph, instr *ir.Instr) {
	overflow := []ir.Effect{}
	if len(instr.PreEffects) > MaxPreEffects {
		overflow = append(overflow, instr.PreEffects[MaxPreEffects:]...)
		instr.PreEffects = instr.PreEffects[:MaxPreEffects]
	}
	if len(instr.PostEffects) > MaxPostEffects {
		overflow = append(overflow, instr.PostEffects[MaxPostEffects:]...)
		instr.PostEffects = instr.PostEffects[:MaxPostEffects]
	}
	if len(overflow) == 0 {
		return
	}
	tail := instr.Successors
	instr.Successors = nil
	head := buildEffectChain(g, overflow, tail)
	instr.Successors = []ir.Label{head}
}

// buildEffectChain builds a chain of epsilon-matches, each holding up to
// MaxPreEffects of effects, ending with successors = tail.
func buildEffectChain(g *ir.Graph, effects []ir.Effect, tail []ir.Label) ir.Label {
	n := len(effects)
	if n > MaxPreEffects {
		n = MaxPreEffects
	}
	chunk := effects[:n]
	rest := effects[n:]
	l := g.Alloc()
	instr := &ir.Instr{
		Label:      l,
		Op:         ir.OpMatch,
		Nav:        ir.Epsilon(),
		NodeType:   -1,
		NodeField:  -1,
		RegexID:    -1,
		PreEffects: chunk,
	}
	if len(rest) == 0 {
		instr.Successors = tail
	} else {
		instr.Successors = []ir.Label{buildEffectChain(g, rest, tail)}
	}
	g.Add(instr)
	return l
}
