// Package ast holds the typed Expression view over a parsed query: the sum
// type every later stage (resolve, depgraph, shape,
// typeinfer, compile) walks.
package ast

import "github.com/plotnik-lang/plotnik-sub003/internal/diag"

// Expr is the expression sum type. Every concrete variant
// below implements it by embedding its own Rng field and Range() method.
type Expr interface {
	Range() diag.Range
	exprNode()
}

// NamedNode matches a named tree-sitter node of a given kind, e.g.
// "(identifier)". SubKind holds the optional "/alias" form of the
// Tree grammar.
type NamedNode struct {
	Rng      diag.Range
	Kind     string
	SubKind  string
	Children []Expr
}

func (n NamedNode) Range() diag.Range { return n.Rng }
func (NamedNode) exprNode()           {}

// AnonymousNode matches an anonymous literal node, e.g. "\"+\"".
type AnonymousNode struct {
	Rng     diag.Range
	Literal string
}

func (n AnonymousNode) Range() diag.Range { return n.Rng }
func (AnonymousNode) exprNode()           {}

// Wildcard matches any named node ("_").
type Wildcard struct {
	Rng diag.Range
}

func (n Wildcard) Range() diag.Range { return n.Rng }
func (Wildcard) exprNode()           {}

// Anchor is the "." marker that tightens sibling navigation to Exact.
type Anchor struct {
	Rng diag.Range
}

func (n Anchor) Range() diag.Range { return n.Rng }
func (Anchor) exprNode()           {}

// Field attaches a field-name constraint to an inner expression:
// "name: expr". Inner must be shape One.
type Field struct {
	Rng   diag.Range
	Name  string
	Inner Expr
}

func (n Field) Range() diag.Range { return n.Rng }
func (Field) exprNode()           {}

// NegatedField asserts the absence of a field: "!name".
type NegatedField struct {
	Rng  diag.Range
	Name string
}

func (n NegatedField) Range() diag.Range { return n.Rng }
func (NegatedField) exprNode()           {}

// Capture binds the inner expression's value to a struct member:
// "expr @name" or "expr @name :: TypeName".
type Capture struct {
	Rng      diag.Range
	Inner    Expr
	Name     string
	AsString bool   // "::string" coercion
	TypeName string // explicit "@x :: Name" annotation, empty if none
}

func (n Capture) Range() diag.Range { return n.Rng }
func (Capture) exprNode()           {}

// QuantKind enumerates the six postfix quantifiers.
type QuantKind int

const (
	QuantOpt      QuantKind = iota // ?
	QuantStar                     // *
	QuantPlus                     // +
	QuantOptLazy                  // ??
	QuantStarLazy                 // *?
	QuantPlusLazy                 // +?
)

// Lazy reports whether the quantifier prefers the shortest match.
func (q QuantKind) Lazy() bool {
	return q == QuantOptLazy || q == QuantStarLazy || q == QuantPlusLazy
}

// Quantified applies a quantifier to an inner expression.
type Quantified struct {
	Rng   diag.Range
	Inner Expr
	Quant QuantKind
}

func (n Quantified) Range() diag.Range { return n.Rng }
func (Quantified) exprNode()           {}

// Seq is a sequence of sibling expressions: "{ e1 e2 ... }", or the
// implicit child list inside a Tree.
type Seq struct {
	Rng      diag.Range
	Leading  bool // leading "." anchor present
	Trailing bool // trailing "." anchor present
	Items    []Expr
}

func (n Seq) Range() diag.Range { return n.Rng }
func (Seq) exprNode()           {}

// Branch is one arm of an Alt. A capitalized Label makes the Alt tagged
// (produces an Enum); an empty Label makes it untagged.
type Branch struct {
	Rng   diag.Range
	Label string
	Body  Expr
}

// Alt is an alternation: "[ branch1 branch2 ... ]".
type Alt struct {
	Rng      diag.Range
	Branches []Branch
}

func (n Alt) Range() diag.Range { return n.Rng }
func (Alt) exprNode()           {}

// Ref is a reference to another definition by name.
type Ref struct {
	Rng  diag.Range
	Name string
}

func (n Ref) Range() diag.Range { return n.Rng }
func (Ref) exprNode()           {}

// Regex is an anchored regex predicate attached via "~ /pattern/".
type Regex struct {
	Rng     diag.Range
	Pattern string
}

// Predicated wraps an expression with a regex predicate tested against the
// matched node's text.
type Predicated struct {
	Rng       diag.Range
	Inner     Expr
	Predicate Regex
}

func (n Predicated) Range() diag.Range { return n.Rng }
func (Predicated) exprNode()           {}

// Error is a parse-error placeholder inserted during recovery so that later
// stages (and the lossless reconstruction property) still see full source
// coverage.
type Error struct {
	Rng  diag.Range
	Text string
}

func (n Error) Range() diag.Range { return n.Rng }
func (Error) exprNode()           {}

// Def is one top-level "Name = expr" definition, or the sentinel unnamed
// top-level expression.
type Def struct {
	Name      string // "" for the unnamed sentinel definition
	Public    bool
	Body      Expr
	Source    uint32
	NameRange diag.Range
}

// UnnamedDefName is the sentinel key for the single allowed unnamed
// top-level expression per session.
const UnnamedDefName = ""

// File is the parsed content of one source: its definitions in source
// order.
type File struct {
	Source uint32
	Defs   []Def
}
