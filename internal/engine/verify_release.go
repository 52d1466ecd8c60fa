//go:build !plotnik_debug

package engine

import (
	"github.com/plotnik-lang/plotnik-sub003/internal/ir"
	"github.com/plotnik-lang/plotnik-sub003/internal/values"
)

// verifyResult is a no-op outside plotnik_debug builds; the debug variant
// panics on a value/type mismatch.
func verifyResult(values.Value, ir.TypeId, *ir.TypeContext) {}
