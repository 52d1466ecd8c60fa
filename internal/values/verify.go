package values

import (
	"fmt"

	"github.com/plotnik-lang/plotnik-sub003/internal/ir"
)

// Verify checks that v conforms to the shape t describes in tc: object
// keys match struct members set-wise, array cardinality
// satisfies + vs *, enum tags exist with conforming payloads, and optional
// admits null. A failure is a compiler bug, not a user error; the returned
// error carries the precise path to the mismatch.
func Verify(v Value, t ir.TypeId, tc *ir.TypeContext) error {
	return verify(v, t, tc, "$")
}

func verify(v Value, t ir.TypeId, tc *ir.TypeContext, path string) error {
	s := tc.Shape(t)
	switch s.Kind {
	case ir.Void:
		switch v.(type) {
		case nil, Null:
			return nil
		}
		return mismatch(path, "void", v)

	case ir.Node:
		if _, ok := v.(Node); ok {
			return nil
		}
		return mismatch(path, "node", v)

	case ir.String:
		if _, ok := v.(String); ok {
			return nil
		}
		return mismatch(path, "string", v)

	case ir.Optional:
		switch v.(type) {
		case nil, Null:
			return nil
		}
		return verify(v, s.Inner, tc, path)

	case ir.ArrayStar, ir.ArrayPlus:
		arr, ok := v.(Array)
		if !ok {
			return mismatch(path, "array", v)
		}
		if s.Kind == ir.ArrayPlus && len(arr) == 0 {
			return fmt.Errorf("values: %s: non-empty array required, got 0 elements", path)
		}
		for i, e := range arr {
			if err := verify(e, s.Inner, tc, fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
		return nil

	case ir.Struct:
		obj, ok := v.(Object)
		if !ok {
			return mismatch(path, "object", v)
		}
		seen := make(map[string]bool, len(obj))
		for _, m := range obj {
			seen[m.Name] = true
		}
		for _, member := range s.Members {
			mv, ok := obj.Get(member.Name)
			if !ok {
				if tc.Shape(member.Type).Kind == ir.Optional {
					continue
				}
				return fmt.Errorf("values: %s: missing member %q", path, member.Name)
			}
			delete(seen, member.Name)
			if err := verify(mv, member.Type, tc, path+"."+member.Name); err != nil {
				return err
			}
		}
		for name, present := range seen {
			if present {
				return fmt.Errorf("values: %s: unexpected member %q", path, name)
			}
		}
		return nil

	case ir.Enum:
		tv, ok := v.(Tagged)
		if !ok {
			return mismatch(path, "tagged variant", v)
		}
		for _, variant := range s.Members {
			if variant.Name == tv.Tag {
				return verify(tv.Data, variant.Type, tc, path+"."+tv.Tag)
			}
		}
		return fmt.Errorf("values: %s: unknown variant tag %q", path, tv.Tag)

	case ir.Alias:
		return verify(v, s.Inner, tc, path)
	}
	return fmt.Errorf("values: %s: unknown type kind %d", path, s.Kind)
}

func mismatch(path, want string, v Value) error {
	return fmt.Errorf("values: %s: expected %s, got %s", path, want, describe(v))
}

func describe(v Value) string {
	switch v.(type) {
	case nil, Null:
		return "null"
	case Node:
		return "node"
	case String:
		return "string"
	case Array:
		return "array"
	case Object:
		return "object"
	case Tagged:
		return "tagged variant"
	}
	return "unknown value"
}
