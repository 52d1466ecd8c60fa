// Package typeinfer implements the bottom-up type inference pass: every
// expression gets a TermInfo describing the TypeId it
// contributes and how it contributes (a scalar value at its own position, or
// a bubble of named fields that aggregate into the nearest enclosing
// struct-creating scope, the "bubble capture" behavior).
package typeinfer

import (
	"github.com/plotnik-lang/plotnik-sub003/internal/ast"
	"github.com/plotnik-lang/plotnik-sub003/internal/depgraph"
	"github.com/plotnik-lang/plotnik-sub003/internal/diag"
	"github.com/plotnik-lang/plotnik-sub003/internal/ir"
)

// TermInfo is the inferred contribution of one expression.
type TermInfo struct {
	Type    ir.TypeId
	Members []ir.Member // non-nil when this expression bubbles named fields
}

// Node decorates one ast.Expr with its inferred TermInfo and the decorated
// form of its subterms, mirroring the ast.Expr shape so the compiler can
// walk ast and Node trees in lockstep.
type Node struct {
	Expr     ast.Expr
	Info     TermInfo
	Children []*Node // NamedNode.Children
	Items    []*Node // Seq.Items
	Branches []BranchNode
	Inner    *Node // Field/Capture/Quantified/Predicated
}

// BranchNode is one decorated Alt branch.
type BranchNode struct {
	Label string
	Body  *Node
}

// Result is the output of Infer.
type Result struct {
	TC      *ir.TypeContext
	DefType []ir.TypeId // indexed by definition index
	DefNode []*Node     // decorated body per definition
}

type inferrer struct {
	tc        *ir.TypeContext
	nameIndex map[string]int
	defType   []ir.TypeId
	sink      *diag.Sink
}

// Infer runs type inference over every definition in g, processing SCCs in
// g.SCCs order (already reverse topological, i.e. dependencies first) so
// that a Ref(B) always resolves against an already-sealed (or, for a
// same-SCC recursive reference, already-reserved) TypeId for B.
func Infer(g *depgraph.Graph, sink *diag.Sink) *Result {
	inf := &inferrer{
		tc:        ir.NewTypeContext(),
		nameIndex: make(map[string]int, len(g.Defs)),
		defType:   make([]ir.TypeId, len(g.Defs)),
		sink:      sink,
	}
	for i, d := range g.Defs {
		if d.Name != ast.UnnamedDefName {
			inf.nameIndex[d.Name] = i
		}
	}

	defNode := make([]*Node, len(g.Defs))

	for _, comp := range g.SCCs {
		recursive := len(comp) > 1 || g.Recursive[comp[0]]
		reserved := make(map[int]ir.TypeId)
		if recursive {
			for _, idx := range comp {
				reserved[idx] = inf.tc.Reserve()
				inf.defType[idx] = reserved[idx]
			}
		}
		for _, idx := range comp {
			n := inf.infer(g.Defs[idx].Body)
			defNode[idx] = n
			resultType := finalType(inf.tc, n)
			if recursive {
				inf.tc.Seal(reserved[idx], inf.tc.Shape(resultType))
				inf.defType[idx] = reserved[idx]
			} else {
				inf.defType[idx] = resultType
			}
		}
	}

	return &Result{TC: inf.tc, DefType: inf.defType, DefNode: defNode}
}

// finalType resolves a decorated root node's TermInfo into the definition's
// declared result type: bubbled members become a Struct; otherwise the
// node's own scalar Type is used directly. A top-level capture like
// "(identifier) @id" bubbles its member via Capture, so most real
// definitions take the Struct path.
func finalType(tc *ir.TypeContext, n *Node) ir.TypeId {
	if n.Info.Members != nil {
		return tc.StructType(n.Info.Members)
	}
	return n.Info.Type
}

func (inf *inferrer) infer(e ast.Expr) *Node {
	switch n := e.(type) {
	case ast.NamedNode:
		children := make([]*Node, len(n.Children))
		var members []ir.Member
		for i, c := range n.Children {
			children[i] = inf.infer(c)
			members = mergeMembers(inf.sink, members, children[i].Info.Members)
		}
		return &Node{Expr: e, Children: children, Info: TermInfo{Type: inf.tc.Scalar(ir.Node), Members: members}}

	case ast.AnonymousNode:
		return &Node{Expr: e, Info: TermInfo{Type: inf.tc.Scalar(ir.Node)}}

	case ast.Wildcard:
		return &Node{Expr: e, Info: TermInfo{Type: inf.tc.Scalar(ir.Node)}}

	case ast.Anchor:
		return &Node{Expr: e, Info: TermInfo{Type: inf.tc.Scalar(ir.Void)}}

	case ast.NegatedField:
		return &Node{Expr: e, Info: TermInfo{Type: inf.tc.Scalar(ir.Void)}}

	case ast.Field:
		inner := inf.infer(n.Inner)
		return &Node{Expr: e, Inner: inner, Info: inner.Info}

	case ast.Capture:
		inner := inf.infer(n.Inner)
		t := inner.Info.Type
		if inner.Info.Members != nil {
			t = inf.tc.StructType(inner.Info.Members)
		}
		if n.AsString {
			t = inf.tc.Scalar(ir.String)
		}
		if n.TypeName != "" {
			inf.tc.RegisterName(n.TypeName, t)
		}
		member := ir.Member{Name: n.Name, Type: t}
		return &Node{Expr: e, Inner: inner, Info: TermInfo{Type: inf.tc.StructType([]ir.Member{member}), Members: []ir.Member{member}}}

	case ast.Quantified:
		inner := inf.infer(n.Inner)
		innerType := inner.Info.Type
		if inner.Info.Members != nil {
			innerType = inf.tc.StructType(inner.Info.Members)
		}
		var wrapped ir.TypeId
		switch n.Quant {
		case ast.QuantOpt, ast.QuantOptLazy:
			wrapped = inf.tc.Wrap(ir.Optional, innerType)
		case ast.QuantStar, ast.QuantStarLazy:
			wrapped = inf.tc.Wrap(ir.ArrayStar, innerType)
		default: // QuantPlus, QuantPlusLazy
			wrapped = inf.tc.Wrap(ir.ArrayPlus, innerType)
		}
		return &Node{Expr: e, Inner: inner, Info: TermInfo{Type: wrapped}}

	case ast.Seq:
		items := make([]*Node, len(n.Items))
		var members []ir.Member
		for i, c := range n.Items {
			items[i] = inf.infer(c)
			members = mergeMembers(inf.sink, members, items[i].Info.Members)
		}
		t := inf.tc.Scalar(ir.Void)
		if members != nil {
			t = inf.tc.StructType(members)
		}
		return &Node{Expr: e, Items: items, Info: TermInfo{Type: t, Members: members}}

	case ast.Alt:
		return inf.inferAlt(e, n)

	case ast.Ref:
		idx, ok := inf.nameIndex[n.Name]
		if !ok {
			return &Node{Expr: e, Info: TermInfo{Type: inf.tc.Scalar(ir.Void)}}
		}
		return &Node{Expr: e, Info: TermInfo{Type: inf.defType[idx]}}

	case ast.Predicated:
		inner := inf.infer(n.Inner)
		return &Node{Expr: e, Inner: inner, Info: inner.Info}

	case ast.Error:
		return &Node{Expr: e, Info: TermInfo{Type: inf.tc.Scalar(ir.Void)}}
	}
	return &Node{Expr: e, Info: TermInfo{Type: inf.tc.Scalar(ir.Void)}}
}

func (inf *inferrer) inferAlt(e ast.Expr, n ast.Alt) *Node {
	branches := make([]BranchNode, len(n.Branches))
	tagged, untagged := 0, 0
	for i, b := range n.Branches {
		body := inf.infer(b.Body)
		branches[i] = BranchNode{Label: b.Label, Body: body}
		if b.Label != "" {
			tagged++
		} else {
			untagged++
		}
	}
	if tagged > 0 && untagged > 0 {
		inf.sink.Report(diag.Diagnostic{
			Kind:    diag.MixedTaggedAndUntagged,
			Message: "alternation mixes tagged and untagged branches",
			Primary: e.Range(),
		})
	}

	if tagged > 0 {
		variants := make([]ir.Member, len(branches))
		for i, b := range branches {
			t := b.Body.Info.Type
			if b.Body.Info.Members != nil {
				t = inf.tc.StructType(b.Body.Info.Members)
			}
			variants[i] = ir.Member{Name: b.Label, Type: t}
		}
		return &Node{Expr: e, Branches: branches, Info: TermInfo{Type: inf.tc.EnumType(variants)}}
	}

	// Untagged: unify branch field sets, marking fields absent from some
	// branch as Optional.
	type fieldInfo struct {
		typ      ir.TypeId
		allTypes []ir.TypeId
		count    int
	}
	order := []string{}
	fields := map[string]*fieldInfo{}
	for _, b := range branches {
		for _, m := range b.Body.Info.Members {
			fi, ok := fields[m.Name]
			if !ok {
				fi = &fieldInfo{typ: m.Type}
				fields[m.Name] = fi
				order = append(order, m.Name)
			}
			fi.allTypes = append(fi.allTypes, m.Type)
			fi.count++
		}
	}
	var unified []ir.Member
	for _, name := range order {
		fi := fields[name]
		for _, t := range fi.allTypes {
			if t != fi.typ {
				inf.sink.Report(diag.Diagnostic{
					Kind:    diag.TypeMismatch,
					Message: "field " + name + " has different types across alternation branches",
					Primary: e.Range(),
				})
				break
			}
		}
		t := fi.typ
		if fi.count < len(branches) {
			t = inf.tc.Wrap(ir.Optional, t)
		}
		unified = append(unified, ir.Member{Name: name, Type: t})
	}
	return &Node{Expr: e, Branches: branches, Info: TermInfo{Members: unified, Type: inf.tc.Scalar(ir.Void)}}
}

// mergeMembers appends src onto dst, reporting TypeMismatch on a name
// collision with a differing type (e.g. two sibling captures reusing a
// member name).
func mergeMembers(sink *diag.Sink, dst, src []ir.Member) []ir.Member {
	if src == nil {
		return dst
	}
	seen := map[string]ir.TypeId{}
	for _, m := range dst {
		seen[m.Name] = m.Type
	}
	for _, m := range src {
		if existing, ok := seen[m.Name]; ok && existing != m.Type {
			sink.Report(diag.Diagnostic{Kind: diag.TypeMismatch, Message: "member " + m.Name + " redeclared with a different type"})
		}
		seen[m.Name] = m.Type
		dst = append(dst, m)
	}
	return dst
}
