// Package compile implements the Thompson-construction compiler: the
// analyzed, typed query tree becomes an instruction IR graph,
// one entrypoint per definition.
package compile

import (
	"github.com/plotnik-lang/plotnik-sub003/internal/ast"
	"github.com/plotnik-lang/plotnik-sub003/internal/depgraph"
	"github.com/plotnik-lang/plotnik-sub003/internal/ir"
	"github.com/plotnik-lang/plotnik-sub003/internal/source"
	"github.com/plotnik-lang/plotnik-sub003/internal/typeinfer"
)

// Result is the compiled-but-unoptimized module.
type Result struct {
	Graph       *ir.Graph
	Entrypoints []ir.Label // indexed by definition index; each a Trampoline instruction
	TC          *ir.TypeContext
	DefType     []ir.TypeId
	Regexes     []string // index 0 reserved "no regex"
}

// Compiler holds the mutable state threaded through one compilation. depth
// is the nesting level of the pattern node currently being compiled,
// relative to the definition's match root; it becomes the Floor of every Up
// emitted while inside that node.
type Compiler struct {
	g         *ir.Graph
	interner  *source.Interner
	depth     uint8
	bodyEntry []ir.Label
	nameIndex map[string]int
	regexID   map[string]int
	regexes   []string
}

// Compile runs the Thompson construction over every definition in g, using
// infRes for type/member information.
func Compile(g *depgraph.Graph, infRes *typeinfer.Result, interner *source.Interner) *Result {
	c := &Compiler{
		g:         ir.NewGraph(),
		interner:  interner,
		nameIndex: make(map[string]int, len(g.Defs)),
		regexID:   make(map[string]int),
		regexes:   []string{""}, // index 0: no regex
	}
	for i, d := range g.Defs {
		if d.Name != ast.UnnamedDefName {
			c.nameIndex[d.Name] = i
		}
	}

	c.bodyEntry = make([]ir.Label, len(g.Defs))
	for i := range g.Defs {
		c.bodyEntry[i] = c.g.Alloc()
	}

	entrypoints := make([]ir.Label, len(g.Defs))
	for i, defNode := range infRes.DefNode {
		bodyReturn := c.g.Alloc()
		c.g.Add(&ir.Instr{Label: bodyReturn, Op: ir.OpReturn})
		start := c.compileValue(defNode, ir.StayExact(), bodyReturn)
		c.g.Add(&ir.Instr{Label: c.bodyEntry[i], Op: ir.OpMatch, Nav: ir.Epsilon(), NodeType: -1, NodeField: -1, RegexID: -1, Successors: []ir.Label{start}})

		topReturn := c.g.Alloc()
		c.g.Add(&ir.Instr{Label: topReturn, Op: ir.OpReturn})
		tramp := c.g.Alloc()
		c.g.Add(&ir.Instr{Label: tramp, Op: ir.OpTrampoline, Target: c.bodyEntry[i], ReturnAddr: topReturn})
		entrypoints[i] = tramp
	}

	return &Result{Graph: c.g, Entrypoints: entrypoints, TC: infRes.TC, DefType: infRes.DefType, Regexes: c.regexes}
}

// memberSym returns the Set payload for a capture member: the interned
// symbol of its name. The engine keys struct members by this symbol and the
// emitter writes it through the string table, so no scope-local ordinal
// bookkeeping is needed here.
func (c *Compiler) memberSym(name string) int {
	return int(c.interner.Intern(name))
}

func (c *Compiler) internRegex(pattern string) int {
	if id, ok := c.regexID[pattern]; ok {
		return id
	}
	id := len(c.regexes)
	c.regexes = append(c.regexes, pattern)
	c.regexID[pattern] = id
	return id
}

// compileValue compiles node so that, by the time control reaches exitJoin,
// exactly one value is pending on the value-assembly stack representing
// node's result: a freshly opened
// struct scope for bubbling members, the naturally-produced composite value
// of a Ref/Alt/Quantified, or an explicit Node effect for a bare scalar
// match.
func (c *Compiler) compileValue(node *typeinfer.Node, nav ir.Nav, exitJoin ir.Label) ir.Label {
	if node.Info.Members != nil {
		endObj := c.g.Alloc()
		c.g.Add(&ir.Instr{Label: endObj, Op: ir.OpMatch, Nav: ir.Epsilon(), NodeType: -1, NodeField: -1, RegexID: -1, PreEffects: []ir.Effect{{Op: ir.EndObj}}, Successors: []ir.Label{exitJoin}})
		bodyStart := c.compileExpr(node, nav, endObj)
		objStart := c.g.Alloc()
		c.g.Add(&ir.Instr{Label: objStart, Op: ir.OpMatch, Nav: ir.Epsilon(), NodeType: -1, NodeField: -1, RegexID: -1, PostEffects: []ir.Effect{{Op: ir.Obj}}, Successors: []ir.Label{bodyStart}})
		return objStart
	}
	if isComposite(node) {
		return c.compileExpr(node, nav, exitJoin)
	}
	nodeGlue := c.g.Alloc()
	c.g.Add(&ir.Instr{Label: nodeGlue, Op: ir.OpMatch, Nav: ir.Epsilon(), NodeType: -1, NodeField: -1, RegexID: -1, PreEffects: []ir.Effect{{Op: ir.NodeEff}}, Successors: []ir.Label{exitJoin}})
	return c.compileExpr(node, nav, nodeGlue)
}

// isComposite reports whether node's core expression (after unwrapping
// Field/Predicated wrappers) produces its pending value on its own
// (Quantified arrays/optionals, Ref calls, alternations), rather than
// needing an explicit Node effect.
func isComposite(node *typeinfer.Node) bool {
	core := node
	for {
		switch core.Expr.(type) {
		case ast.Field, ast.Predicated:
			core = core.Inner
			continue
		}
		break
	}
	switch core.Expr.(type) {
	case ast.Quantified, ast.Ref, ast.Alt:
		return true
	}
	return false
}

func isAnchor(n *typeinfer.Node) bool {
	_, ok := n.Expr.(ast.Anchor)
	return ok
}

func toNextNav(nav ir.Nav) ir.Nav {
	switch nav.Kind {
	case ir.NavDown:
		return ir.Next()
	case ir.NavDownSkip:
		return ir.Nav{Kind: ir.NavNextSkip}
	case ir.NavDownExact:
		return ir.NextExact()
	default:
		return nav
	}
}

func exactOf(nav ir.Nav) ir.Nav {
	switch nav.Kind {
	case ir.NavDown:
		return ir.DownExact()
	case ir.NavNext:
		return ir.NextExact()
	default:
		return nav
	}
}

// compileSequence compiles a sibling list (a NamedNode's children, or an
// explicit Seq's items) into a chain of matches, tightening the first/last
// real item's navigation when an ast.Anchor ('.') brackets it.
func (c *Compiler) compileSequence(items []*typeinfer.Node, firstNav ir.Nav, join ir.Label) ir.Label {
	leading := len(items) > 0 && isAnchor(items[0])
	trailing := len(items) > 0 && isAnchor(items[len(items)-1])
	var real []*typeinfer.Node
	for _, it := range items {
		if !isAnchor(it) {
			real = append(real, it)
		}
	}
	if len(real) == 0 {
		return join
	}
	if leading {
		firstNav = exactOf(firstNav)
	}
	return c.compileSeqItems(real, firstNav, trailing, join)
}

// compileSeqItems compiles items left to right. An item whose quantifier
// admits an empty match ('?' or '*') leaves the cursor where it was, so the
// remaining items are compiled twice: once continuing with sibling
// navigation after a real match, and once re-using the current navigation
// after the empty variant. The duplication is bounded by the item count.
func (c *Compiler) compileSeqItems(items []*typeinfer.Node, nav ir.Nav, trailing bool, join ir.Label) ir.Label {
	if len(items) == 0 {
		return join
	}
	item := items[0]
	itemNav := nav
	if len(items) == 1 && trailing {
		itemNav = exactOf(itemNav)
	}

	capNode, quantNode, qk, capable := splitEmptyCapable(item)
	if !capable {
		rest := c.compileSeqItems(items[1:], toNextNav(nav), trailing, join)
		return c.compileExpr(item, itemNav, rest)
	}

	restOnce := c.compileSeqItems(items[1:], toNextNav(nav), trailing, join)
	restEmpty := c.compileSeqItems(items[1:], nav, trailing, join)

	nonEmpty := c.compileForcedNonEmpty(capNode, quantNode, qk, itemNav, restOnce)
	empty := c.compileEmptyVariant(capNode, qk, restEmpty)

	branch := c.g.Alloc()
	succ := []ir.Label{nonEmpty, empty}
	if qk.Lazy() {
		succ = []ir.Label{empty, nonEmpty}
	}
	c.g.Add(&ir.Instr{Label: branch, Op: ir.OpMatch, Nav: ir.Epsilon(), NodeType: -1, NodeField: -1, RegexID: -1, Successors: succ})
	return branch
}

// splitEmptyCapable recognizes a sequence item of the form "expr?" /
// "expr*", optionally under a plain capture, which can match zero nodes.
func splitEmptyCapable(item *typeinfer.Node) (capNode, quantNode *typeinfer.Node, qk ast.QuantKind, ok bool) {
	n := item
	if capExpr, isCap := n.Expr.(ast.Capture); isCap {
		if capExpr.AsString {
			return nil, nil, 0, false
		}
		capNode = n
		n = n.Inner
	}
	q, isQ := n.Expr.(ast.Quantified)
	if !isQ {
		return nil, nil, 0, false
	}
	switch q.Quant {
	case ast.QuantOpt, ast.QuantOptLazy, ast.QuantStar, ast.QuantStarLazy:
		return capNode, n, q.Quant, true
	}
	return nil, nil, 0, false
}

// compileForcedNonEmpty compiles the taken variant of an empty-capable
// item: the optional's body exactly once, or the star as a one-or-more
// loop, with the capture's Set applied when present.
func (c *Compiler) compileForcedNonEmpty(capNode, quantNode *typeinfer.Node, qk ast.QuantKind, nav ir.Nav, join ir.Label) ir.Label {
	captured := capNode != nil
	exit := join
	if captured {
		idx := c.memberSym(capNode.Expr.(ast.Capture).Name)
		setGlue := c.g.Alloc()
		c.g.Add(&ir.Instr{Label: setGlue, Op: ir.OpMatch, Nav: ir.Epsilon(), NodeType: -1, NodeField: -1, RegexID: -1, PreEffects: []ir.Effect{{Op: ir.Set, Member: idx}}, Successors: []ir.Label{join}})
		exit = setGlue
	}

	if qk == ast.QuantOpt || qk == ast.QuantOptLazy {
		if captured {
			return c.compileValue(quantNode.Inner, nav, exit)
		}
		return c.compileExpr(quantNode.Inner, nav, exit)
	}

	// Star, forced to at least one iteration.
	lazy := qk.Lazy()
	nextNav := toNextNav(nav)
	if !captured {
		repeatBranch := c.g.Alloc()
		repeatBody := c.compileExpr(quantNode.Inner, nextNav, repeatBranch)
		succ := []ir.Label{repeatBody, exit}
		if lazy {
			succ = []ir.Label{exit, repeatBody}
		}
		c.g.Add(&ir.Instr{Label: repeatBranch, Op: ir.OpMatch, Nav: ir.Epsilon(), NodeType: -1, NodeField: -1, RegexID: -1, Successors: succ})
		return c.compileExpr(quantNode.Inner, nav, repeatBranch)
	}

	endArr := c.g.Alloc()
	c.g.Add(&ir.Instr{Label: endArr, Op: ir.OpMatch, Nav: ir.Epsilon(), NodeType: -1, NodeField: -1, RegexID: -1, PreEffects: []ir.Effect{{Op: ir.EndArr}}, Successors: []ir.Label{exit}})
	repeatBranch := c.g.Alloc()
	repeatBody := c.compileIteration(quantNode.Inner, nextNav, repeatBranch)
	succ := []ir.Label{repeatBody, endArr}
	if lazy {
		succ = []ir.Label{endArr, repeatBody}
	}
	c.g.Add(&ir.Instr{Label: repeatBranch, Op: ir.OpMatch, Nav: ir.Epsilon(), NodeType: -1, NodeField: -1, RegexID: -1, Successors: succ})
	firstBody := c.compileIteration(quantNode.Inner, nav, repeatBranch)
	startArr := c.g.Alloc()
	c.g.Add(&ir.Instr{Label: startArr, Op: ir.OpMatch, Nav: ir.Epsilon(), NodeType: -1, NodeField: -1, RegexID: -1, PostEffects: []ir.Effect{{Op: ir.StartArr}}, Successors: []ir.Label{firstBody}})
	return startArr
}

// compileEmptyVariant emits the zero-match variant's effects: a null (for
// '?') or an empty array (for '*') assigned to the capture member. An
// uncaptured empty variant has no observable effect at all.
func (c *Compiler) compileEmptyVariant(capNode *typeinfer.Node, qk ast.QuantKind, join ir.Label) ir.Label {
	if capNode == nil {
		return join
	}
	idx := c.memberSym(capNode.Expr.(ast.Capture).Name)
	var effs []ir.Effect
	if qk == ast.QuantOpt || qk == ast.QuantOptLazy {
		effs = []ir.Effect{{Op: ir.NullEff}, {Op: ir.Set, Member: idx}}
	} else {
		effs = []ir.Effect{{Op: ir.StartArr}, {Op: ir.EndArr}, {Op: ir.Set, Member: idx}}
	}
	l := c.g.Alloc()
	c.g.Add(&ir.Instr{Label: l, Op: ir.OpMatch, Nav: ir.Epsilon(), NodeType: -1, NodeField: -1, RegexID: -1, PreEffects: effs, Successors: []ir.Label{join}})
	return l
}

// compileExpr compiles node using nav for its own leading match (if any),
// continuing to join once node's matching (and effects) are complete.
func (c *Compiler) compileExpr(node *typeinfer.Node, nav ir.Nav, join ir.Label) ir.Label {
	switch n := node.Expr.(type) {
	case ast.NamedNode:
		return c.compileNamedNode(node, n, nav, join)
	case ast.AnonymousNode:
		litSym := int(c.interner.Intern(n.Literal))
		start := c.g.Alloc()
		c.g.Add(&ir.Instr{Label: start, Op: ir.OpMatch, Nav: nav, NodeType: litSym, NodeField: -1, RegexID: -1, Successors: []ir.Label{join}})
		return start
	case ast.Wildcard:
		start := c.g.Alloc()
		c.g.Add(&ir.Instr{Label: start, Op: ir.OpMatch, Nav: nav, Wildcard: true, NodeType: -1, NodeField: -1, RegexID: -1, Successors: []ir.Label{join}})
		return start
	case ast.Anchor:
		return join
	case ast.NegatedField:
		return join // folded into the enclosing NamedNode's NegFields
	case ast.Field:
		return c.compileField(node, n, nav, join)
	case ast.Capture:
		return c.compileCapture(node, n, nav, join)
	case ast.Quantified:
		return c.compileQuantified(node, n, nav, join)
	case ast.Seq:
		return c.compileSequence(node.Items, nav, join)
	case ast.Alt:
		return c.compileAlt(node, n, nav, join)
	case ast.Ref:
		idx := c.nameIndex[n.Name]
		callL := c.g.Alloc()
		c.g.Add(&ir.Instr{Label: callL, Op: ir.OpCall, Nav: nav, NodeField: -1, Target: c.bodyEntry[idx], ReturnAddr: join})
		return callL
	case ast.Predicated:
		regexID := c.internRegex(n.Predicate.Pattern)
		start := c.compileExpr(node.Inner, nav, join)
		if instr := c.g.Get(start); instr != nil && instr.Op == ir.OpMatch {
			instr.RegexID = regexID
		}
		return start
	case ast.Error:
		return join
	}
	return join
}

func (c *Compiler) compileNamedNode(node *typeinfer.Node, n ast.NamedNode, nav ir.Nav, join ir.Label) ir.Label {
	kindSym := int(c.interner.Intern(n.Kind))

	var negSyms []int
	var real []*typeinfer.Node
	for _, ch := range node.Children {
		if nf, ok := ch.Expr.(ast.NegatedField); ok {
			negSyms = append(negSyms, int(c.interner.Intern(nf.Name)))
			continue
		}
		real = append(real, ch)
	}

	var successors []ir.Label
	if len(real) == 0 {
		successors = []ir.Label{join}
	} else {
		upLabel := c.g.Alloc()
		c.g.Add(&ir.Instr{Label: upLabel, Op: ir.OpMatch, Nav: ir.UpTo(1, c.depth), NodeType: -1, NodeField: -1, RegexID: -1, Successors: []ir.Label{join}})
		c.depth++
		childStart := c.compileSequence(real, ir.Down(), upLabel)
		c.depth--
		successors = []ir.Label{childStart}
	}

	start := c.g.Alloc()
	c.g.Add(&ir.Instr{Label: start, Op: ir.OpMatch, Nav: nav, NodeType: kindSym, NodeField: -1, NegFields: negSyms, RegexID: -1, Successors: successors})
	return start
}

func (c *Compiler) compileField(node *typeinfer.Node, n ast.Field, nav ir.Nav, join ir.Label) ir.Label {
	fieldSym := int(c.interner.Intern(n.Name))
	start := c.compileExpr(node.Inner, nav, join)
	if instr := c.g.Get(start); instr != nil && instr.NodeField == -1 {
		switch instr.Op {
		case ir.OpMatch, ir.OpCall:
			instr.NodeField = fieldSym
		}
	}
	return start
}

func (c *Compiler) compileCapture(node *typeinfer.Node, n ast.Capture, nav ir.Nav, join ir.Label) ir.Label {
	idx := c.memberSym(n.Name)
	setGlue := c.g.Alloc()
	c.g.Add(&ir.Instr{Label: setGlue, Op: ir.OpMatch, Nav: ir.Epsilon(), NodeType: -1, NodeField: -1, RegexID: -1, PreEffects: []ir.Effect{{Op: ir.Set, Member: idx}}, Successors: []ir.Label{join}})
	if n.AsString {
		textGlue := c.g.Alloc()
		c.g.Add(&ir.Instr{Label: textGlue, Op: ir.OpMatch, Nav: ir.Epsilon(), NodeType: -1, NodeField: -1, RegexID: -1, PreEffects: []ir.Effect{{Op: ir.TextEff}}, Successors: []ir.Label{setGlue}})
		return c.compileExpr(node.Inner, nav, textGlue)
	}
	return c.compileValue(node.Inner, nav, setGlue)
}

func (c *Compiler) compileQuantified(node *typeinfer.Node, n ast.Quantified, nav ir.Nav, join ir.Label) ir.Label {
	lazy := n.Quant.Lazy()
	if n.Quant == ast.QuantOpt || n.Quant == ast.QuantOptLazy {
		// The skipped path still owes its consumer a value.
		nullGlue := c.g.Alloc()
		c.g.Add(&ir.Instr{Label: nullGlue, Op: ir.OpMatch, Nav: ir.Epsilon(), NodeType: -1, NodeField: -1, RegexID: -1, PreEffects: []ir.Effect{{Op: ir.NullEff}}, Successors: []ir.Label{join}})
		branch := c.g.Alloc()
		bodyStart := c.compileValue(node.Inner, nav, join)
		succ := []ir.Label{bodyStart, nullGlue}
		if lazy {
			succ = []ir.Label{nullGlue, bodyStart}
		}
		c.g.Add(&ir.Instr{Label: branch, Op: ir.OpMatch, Nav: ir.Epsilon(), NodeType: -1, NodeField: -1, RegexID: -1, Successors: succ})
		return branch
	}

	plus := n.Quant == ast.QuantPlus || n.Quant == ast.QuantPlusLazy
	nextNav := toNextNav(nav)

	endArr := c.g.Alloc()
	c.g.Add(&ir.Instr{Label: endArr, Op: ir.OpMatch, Nav: ir.Epsilon(), NodeType: -1, NodeField: -1, RegexID: -1, PreEffects: []ir.Effect{{Op: ir.EndArr}}, Successors: []ir.Label{join}})

	repeatBranch := c.g.Alloc()
	repeatBody := c.compileIteration(node.Inner, nextNav, repeatBranch)
	repeatSucc := []ir.Label{repeatBody, endArr}
	if lazy {
		repeatSucc = []ir.Label{endArr, repeatBody}
	}
	c.g.Add(&ir.Instr{Label: repeatBranch, Op: ir.OpMatch, Nav: ir.Epsilon(), NodeType: -1, NodeField: -1, RegexID: -1, Successors: repeatSucc})

	firstBody := c.compileIteration(node.Inner, nav, repeatBranch)

	var entry ir.Label
	if plus {
		entry = firstBody
	} else {
		firstBranch := c.g.Alloc()
		firstSucc := []ir.Label{firstBody, endArr}
		if lazy {
			firstSucc = []ir.Label{endArr, firstBody}
		}
		c.g.Add(&ir.Instr{Label: firstBranch, Op: ir.OpMatch, Nav: ir.Epsilon(), NodeType: -1, NodeField: -1, RegexID: -1, Successors: firstSucc})
		entry = firstBranch
	}

	startArr := c.g.Alloc()
	c.g.Add(&ir.Instr{Label: startArr, Op: ir.OpMatch, Nav: ir.Epsilon(), NodeType: -1, NodeField: -1, RegexID: -1, PostEffects: []ir.Effect{{Op: ir.StartArr}}, Successors: []ir.Label{entry}})
	return startArr
}

// compileIteration compiles one repetition of a quantifier's body, ending
// with a Push effect that appends the iteration's value to the array
// builder, then continues to loopJoin.
func (c *Compiler) compileIteration(inner *typeinfer.Node, nav ir.Nav, loopJoin ir.Label) ir.Label {
	push := c.g.Alloc()
	c.g.Add(&ir.Instr{Label: push, Op: ir.OpMatch, Nav: ir.Epsilon(), NodeType: -1, NodeField: -1, RegexID: -1, PreEffects: []ir.Effect{{Op: ir.Push}}, Successors: []ir.Label{loopJoin}})
	return c.compileValue(inner, nav, push)
}

func (c *Compiler) compileAlt(node *typeinfer.Node, n ast.Alt, nav ir.Nav, join ir.Label) ir.Label {
	tagged := false
	for _, b := range n.Branches {
		if b.Label != "" {
			tagged = true
			break
		}
	}

	if tagged {
		succs := make([]ir.Label, len(node.Branches))
		for i, b := range node.Branches {
			endEnum := c.g.Alloc()
			c.g.Add(&ir.Instr{Label: endEnum, Op: ir.OpMatch, Nav: ir.Epsilon(), NodeType: -1, NodeField: -1, RegexID: -1, PreEffects: []ir.Effect{{Op: ir.EndEnum}}, Successors: []ir.Label{join}})
			bodyStart := c.compileValue(b.Body, nav, endEnum)
			tagStart := c.g.Alloc()
			c.g.Add(&ir.Instr{Label: tagStart, Op: ir.OpMatch, Nav: ir.Epsilon(), NodeType: -1, NodeField: -1, RegexID: -1, PostEffects: []ir.Effect{{Op: ir.EnumTag, Tag: b.Label}}, Successors: []ir.Label{bodyStart}})
			succs[i] = tagStart
		}
		dispatch := c.g.Alloc()
		c.g.Add(&ir.Instr{Label: dispatch, Op: ir.OpMatch, Nav: ir.Epsilon(), NodeType: -1, NodeField: -1, RegexID: -1, Successors: succs})
		return dispatch
	}

	unified := node.Info.Members
	succs := make([]ir.Label, len(node.Branches))
	for i, b := range node.Branches {
		cont := join
		for j := len(unified) - 1; j >= 0; j-- {
			if hasMember(b.Body.Info.Members, unified[j].Name) {
				continue
			}
			idx := c.memberSym(unified[j].Name)
			nullGlue := c.g.Alloc()
			c.g.Add(&ir.Instr{Label: nullGlue, Op: ir.OpMatch, Nav: ir.Epsilon(), NodeType: -1, NodeField: -1, RegexID: -1, PreEffects: []ir.Effect{{Op: ir.NullEff}, {Op: ir.Set, Member: idx}}, Successors: []ir.Label{cont}})
			cont = nullGlue
		}
		succs[i] = c.compileExpr(b.Body, nav, cont)
	}
	dispatch := c.g.Alloc()
	c.g.Add(&ir.Instr{Label: dispatch, Op: ir.OpMatch, Nav: ir.Epsilon(), NodeType: -1, NodeField: -1, RegexID: -1, Successors: succs})
	return dispatch
}

func hasMember(members []ir.Member, name string) bool {
	for _, m := range members {
		if m.Name == name {
			return true
		}
	}
	return false
}
