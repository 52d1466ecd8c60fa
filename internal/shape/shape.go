// Package shape implements the shape/arity classifier: every expression is
// One (a single matched position), Many (a multi-element
// sequence, or a reference to one), or Invalid, and a field constraint's
// inner expression must be One.
package shape

import (
	"github.com/plotnik-lang/plotnik-sub003/internal/ast"
	"github.com/plotnik-lang/plotnik-sub003/internal/depgraph"
	"github.com/plotnik-lang/plotnik-sub003/internal/diag"
)

// Kind is the shape classification of an expression.
type Kind int

const (
	One Kind = iota
	Many
	Invalid
)

// Result holds the per-definition shape (indexed by definition index in the
// dependency graph's Defs slice) computed by Classify.
type Result struct {
	DefShape []Kind
}

type ctx struct {
	nameIndex map[string]int
	defShape  []Kind
}

// Classify computes the shape of every definition's body in g, iterating to
// a fixpoint so that recursive definitions (whose Ref shape depends on their
// own SCC) converge, then validates every Field constraint's inner
// expression is One, reporting FieldSequenceValue otherwise.
func Classify(g *depgraph.Graph, sink *diag.Sink) *Result {
	c := &ctx{nameIndex: make(map[string]int, len(g.Defs)), defShape: make([]Kind, len(g.Defs))}
	for i, d := range g.Defs {
		if d.Name != ast.UnnamedDefName {
			c.nameIndex[d.Name] = i
		}
		c.defShape[i] = One
	}

	// Shape only has three states and each pass can only move a def from One
	// towards Many or Invalid, never back, so this converges in at most
	// len(Defs) passes.
	for pass := 0; pass < len(g.Defs)+1; pass++ {
		changed := false
		for i, d := range g.Defs {
			k := c.classify(d.Body)
			if k != c.defShape[i] {
				c.defShape[i] = k
				changed = true
			}
		}
		if !changed {
			break
		}
	}

	for _, d := range g.Defs {
		c.checkFields(d.Body, sink)
	}

	return &Result{DefShape: c.defShape}
}

func (c *ctx) classify(e ast.Expr) Kind {
	switch n := e.(type) {
	case ast.NamedNode, ast.AnonymousNode, ast.Wildcard, ast.Anchor, ast.NegatedField:
		return One
	case ast.Field:
		return One
	case ast.Capture:
		return One
	case ast.Quantified:
		if c.classify(n.Inner) == Invalid {
			return Invalid
		}
		return One
	case ast.Seq:
		if len(n.Items) == 0 {
			return One
		}
		if len(n.Items) > 1 {
			return Many
		}
		return c.classify(n.Items[0])
	case ast.Alt:
		worst := One
		for _, b := range n.Branches {
			k := c.classify(b.Body)
			if k == Invalid {
				worst = Invalid
			} else if k == Many && worst != Invalid {
				worst = Many
			}
		}
		return worst
	case ast.Ref:
		if idx, ok := c.nameIndex[n.Name]; ok {
			return c.defShape[idx]
		}
		return Invalid // undefined reference, already reported by resolve
	case ast.Predicated:
		return c.classify(n.Inner)
	case ast.Error:
		return Invalid
	}
	return Invalid
}

// checkFields walks e looking for Field nodes whose inner expression is Many,
// reporting FieldSequenceValue.
func (c *ctx) checkFields(e ast.Expr, sink *diag.Sink) {
	switch n := e.(type) {
	case ast.NamedNode:
		for _, ch := range n.Children {
			c.checkFields(ch, sink)
		}
	case ast.Field:
		if c.classify(n.Inner) == Many {
			sink.Report(diag.Diagnostic{
				Kind:    diag.FieldSequenceValue,
				Message: "field " + n.Name + " cannot hold a multi-element sequence",
				Primary: n.Inner.Range(),
			})
		}
		c.checkFields(n.Inner, sink)
	case ast.Capture:
		c.checkFields(n.Inner, sink)
	case ast.Quantified:
		c.checkFields(n.Inner, sink)
	case ast.Seq:
		for _, ch := range n.Items {
			c.checkFields(ch, sink)
		}
	case ast.Alt:
		for _, b := range n.Branches {
			c.checkFields(b.Body, sink)
		}
	case ast.Predicated:
		c.checkFields(n.Inner, sink)
	}
}
