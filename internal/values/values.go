// Package values holds the JSON-like result tree a match produces and the
// type-directed verification that checks a produced value
// against its definition's declared result type.
package values

import (
	"bytes"
	"encoding/json"
)

// Value is the sum type of everything a match can produce.
type Value interface {
	value()
}

// Null is the absent value (missing optional fields, Void results).
type Null struct{}

// Node is an opaque reference to a matched tree node, carrying enough of the
// node to render without the tree.
type Node struct {
	Kind  string
	Text  string
	Start uint32
	End   uint32
}

// String is UTF-8 text extracted from a node (the "::string" coercion).
type String string

// Array is an ordered list of values.
type Array []Value

// Member is one named field of an Object, in capture order.
type Member struct {
	Name string
	V    Value
}

// Object is an insertion-ordered struct value.
type Object []Member

// Tagged is an enum variant with its payload.
type Tagged struct {
	Tag  string
	Data Value
}

func (Null) value()   {}
func (Node) value()   {}
func (String) value() {}
func (Array) value()  {}
func (Object) value() {}
func (Tagged) value() {}

// Get returns the member named name, if present.
func (o Object) Get(name string) (Value, bool) {
	for _, m := range o {
		if m.Name == name {
			return m.V, true
		}
	}
	return nil, false
}

// RenderOptions controls JSON rendering, mirroring the CLI's output flags.
type RenderOptions struct {
	Compact      bool
	Spans        bool // include byte spans on node values
	VerboseNodes bool // with NoNodeType, keep node values as objects instead of bare text
	NoNodeType   bool // omit the kind on node values
}

// EncodeJSON renders v as JSON with insertion-ordered object keys.
func EncodeJSON(v Value, opts RenderOptions) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	if !opts.Compact {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(view{v, opts}); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// view wraps a Value so json.Marshal renders it under opts.
type view struct {
	v    Value
	opts RenderOptions
}

func (w view) MarshalJSON() ([]byte, error) {
	switch x := w.v.(type) {
	case nil, Null:
		return []byte("null"), nil
	case String:
		return json.Marshal(string(x))
	case Node:
		if w.opts.NoNodeType && !w.opts.VerboseNodes && !w.opts.Spans {
			return json.Marshal(x.Text)
		}
		var members []Member
		if !w.opts.NoNodeType {
			members = append(members, Member{Name: "kind", V: String(x.Kind)})
		}
		members = append(members, Member{Name: "text", V: String(x.Text)})
		if w.opts.Spans {
			return marshalNodeWithSpan(members, x, w.opts)
		}
		return marshalMembers(members, w.opts, nil)
	case Array:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, e := range x {
			if i > 0 {
				buf.WriteByte(',')
			}
			b, err := json.Marshal(view{e, w.opts})
			if err != nil {
				return nil, err
			}
			buf.Write(b)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	case Object:
		return marshalMembers(x, w.opts, nil)
	case Tagged:
		return marshalMembers(Object{
			{Name: "$tag", V: String(x.Tag)},
			{Name: "$data", V: x.Data},
		}, w.opts, nil)
	}
	return []byte("null"), nil
}

// marshalMembers writes an ordered JSON object; extra appends pre-rendered
// trailing entries (used for node spans).
func marshalMembers(members []Member, opts RenderOptions, extra []byte) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, m := range members {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(m.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		b, err := json.Marshal(view{m.V, opts})
		if err != nil {
			return nil, err
		}
		buf.Write(b)
	}
	if len(extra) > 0 {
		if len(members) > 0 {
			buf.WriteByte(',')
		}
		buf.Write(extra)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func marshalNodeWithSpan(members []Member, n Node, opts RenderOptions) ([]byte, error) {
	span, err := json.Marshal([2]uint32{n.Start, n.End})
	if err != nil {
		return nil, err
	}
	extra := append([]byte(`"span":`), span...)
	return marshalMembers(members, opts, extra)
}
