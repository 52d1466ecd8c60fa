// Package ir holds the instruction IR and the structural type context
// shared by the compiler, optimizer, and emitter.
package ir

import "strconv"

// TypeId points into a TypeContext. The zero value is reserved for Void.
type TypeId int

// TypeKind is the closed set of result shapes.
type TypeKind int

const (
	Void TypeKind = iota
	Node
	String
	Optional
	ArrayStar
	ArrayPlus
	Struct
	Enum
	Alias
)

// Member is one named field of a Struct or one tagged variant of an Enum.
type Member struct {
	Name string
	Type TypeId
}

// Shape is the full description of one interned type.
type Shape struct {
	Kind    TypeKind
	Inner   TypeId   // wrapper types: Optional/ArrayStar/ArrayPlus/Alias
	Members []Member // Struct fields or Enum variants, insertion order
	sealed  bool
}

// TypeContext is the arena of interned Shapes for one compilation.
// Structural interning means two shapes that are field-by-field equal share
// one TypeId; recursion is handled by Reserve/Seal.
type TypeContext struct {
	shapes  []Shape
	byKey   map[string]TypeId
	names   map[TypeId]string // explicit "@x :: Name" registrations
	nameIdx map[string]TypeId
}

// NewTypeContext returns a context with Void pre-registered at TypeId(0).
func NewTypeContext() *TypeContext {
	tc := &TypeContext{byKey: make(map[string]TypeId), names: make(map[TypeId]string), nameIdx: make(map[string]TypeId)}
	tc.shapes = append(tc.shapes, Shape{Kind: Void, sealed: true})
	tc.byKey["void"] = 0
	return tc
}

// Shape returns the shape for id.
func (tc *TypeContext) Shape(id TypeId) Shape { return tc.shapes[id] }

// Len returns the number of distinct interned shapes.
func (tc *TypeContext) Len() int { return len(tc.shapes) }

// All returns every shape in interning order. Callers must not mutate it.
func (tc *TypeContext) All() []Shape { return tc.shapes }

// Scalar returns (interning) the TypeId for a non-composite kind (Node,
// String, Void).
func (tc *TypeContext) Scalar(kind TypeKind) TypeId {
	return tc.intern(Shape{Kind: kind, sealed: true})
}

// Wrap returns (interning) the TypeId for Optional/ArrayStar/ArrayPlus/Alias
// over inner.
func (tc *TypeContext) Wrap(kind TypeKind, inner TypeId) TypeId {
	return tc.intern(Shape{Kind: kind, Inner: inner, sealed: true})
}

// StructType returns (interning) the TypeId for a struct with the given
// insertion-ordered members.
func (tc *TypeContext) StructType(members []Member) TypeId {
	return tc.intern(Shape{Kind: Struct, Members: members, sealed: true})
}

// EnumType returns (interning) the TypeId for an enum with the given
// insertion-ordered variants.
func (tc *TypeContext) EnumType(variants []Member) TypeId {
	return tc.intern(Shape{Kind: Enum, Members: variants, sealed: true})
}

func (tc *TypeContext) intern(s Shape) TypeId {
	key := shapeKey(s)
	if id, ok := tc.byKey[key]; ok {
		return id
	}
	id := TypeId(len(tc.shapes))
	tc.shapes = append(tc.shapes, s)
	tc.byKey[key] = id
	return id
}

// Reserve allocates a fresh, unsealed TypeId for a recursive definition's
// result type before its body is inferred, so self-references see a stable
// id.
func (tc *TypeContext) Reserve() TypeId {
	id := TypeId(len(tc.shapes))
	tc.shapes = append(tc.shapes, Shape{})
	return id
}

// Seal fills in a previously Reserved id with its computed shape. It
// deliberately does not structurally dedup against other shapes: a
// recursive type's identity is its reservation, not its (possibly
// self-referential) structural key.
func (tc *TypeContext) Seal(id TypeId, s Shape) {
	s.sealed = true
	tc.shapes[id] = s
}

// RegisterName records an explicit "@x :: Name" annotation for id, emitted
// later as a TypeNames bytecode entry.
func (tc *TypeContext) RegisterName(name string, id TypeId) {
	tc.names[id] = name
	tc.nameIdx[name] = id
}

// Name returns the explicit type name for id, if any.
func (tc *TypeContext) Name(id TypeId) (string, bool) {
	n, ok := tc.names[id]
	return n, ok
}

// NamedType returns the TypeId registered under name, if any.
func (tc *TypeContext) NamedType(name string) (TypeId, bool) {
	id, ok := tc.nameIdx[name]
	return id, ok
}

// Names returns every explicit type-name registration; the emitter sorts
// them into the TypeNames section.
func (tc *TypeContext) Names() map[string]TypeId {
	out := make(map[string]TypeId, len(tc.nameIdx))
	for k, v := range tc.nameIdx {
		out[k] = v
	}
	return out
}

func shapeKey(s Shape) string {
	switch s.Kind {
	case Void, Node, String:
		return kindLetter(s.Kind)
	case Optional, ArrayStar, ArrayPlus, Alias:
		return kindLetter(s.Kind) + "(" + strconv.Itoa(int(s.Inner)) + ")"
	case Struct, Enum:
		key := kindLetter(s.Kind) + "{"
		for _, m := range s.Members {
			key += m.Name + ":" + strconv.Itoa(int(m.Type)) + ","
		}
		return key + "}"
	}
	return "?"
}

func kindLetter(k TypeKind) string {
	switch k {
	case Void:
		return "V"
	case Node:
		return "N"
	case String:
		return "S"
	case Optional:
		return "O"
	case ArrayStar:
		return "A*"
	case ArrayPlus:
		return "A+"
	case Struct:
		return "St"
	case Enum:
		return "E"
	case Alias:
		return "Al"
	}
	return "?"
}
