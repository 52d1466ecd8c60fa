package diag

// Dedup implements the deterministic cascading-error filter: at a given
// (file, byte offset), only the first-reported diagnostic
// survives (root-cause priority), and a small set of known consequence
// kinds are suppressed outright whenever any non-consequence diagnostic
// exists in the same source file, whether reported before or after them.
func Dedup(in []Diagnostic) []Diagnostic {
	if len(in) == 0 {
		return nil
	}

	// A consequence kind is suppressed whenever some other, non-consequence
	// diagnostic exists in the same file: it is only informative when it is
	// the sole problem.
	otherErrorInFile := make(map[uint32]bool)
	for _, d := range in {
		if !isConsequenceKind(d.Kind) {
			otherErrorInFile[d.Primary.File] = true
		}
	}

	seenPos := make(map[posKey]bool)
	out := make([]Diagnostic, 0, len(in))
	for _, d := range in {
		if isConsequenceKind(d.Kind) && otherErrorInFile[d.Primary.File] {
			continue
		}
		key := posKey{d.Primary.File, d.Primary.StartByte}
		if seenPos[key] {
			continue
		}
		seenPos[key] = true
		out = append(out, d)
	}
	return out
}

type posKey struct {
	file uint32
	off  uint32
}

// consequenceKinds are diagnostics that are only meaningful when they are
// the sole problem in a file. DefNameLowercase is the only such kind.
var consequenceKinds = map[Kind]bool{
	DefNameLowercase: true,
}

func isConsequenceKind(k Kind) bool {
	return consequenceKinds[k]
}
