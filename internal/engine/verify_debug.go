//go:build plotnik_debug

package engine

import (
	"github.com/plotnik-lang/plotnik-sub003/internal/ir"
	"github.com/plotnik-lang/plotnik-sub003/internal/values"
)

// verifyResult checks every accepted value against its definition's
// declared result type. A mismatch is a compiler bug, never a user error,
// so it panics with the precise path.
func verifyResult(v values.Value, t ir.TypeId, tc *ir.TypeContext) {
	if err := values.Verify(v, t, tc); err != nil {
		panic(err)
	}
}
