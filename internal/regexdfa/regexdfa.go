// Package regexdfa compiles the anchored regex predicates used by
// ast.Regex/ast.Predicated into sparse, subset-construction DFAs.
package regexdfa

import (
	"fmt"
	"regexp/syntax"
	"sort"
	"strings"

	"github.com/plotnik-lang/plotnik-sub003/internal/diag"
)

// DFA is one compiled regex predicate: a byte-driven deterministic automaton
// matching the full input (both ends anchored), evaluated one byte at a
// time with no backtracking.
type DFA struct {
	States []State
}

// State is one DFA state: a sorted, non-overlapping set of byte ranges each
// naming the next state, plus whether this state accepts (full input
// consumed here).
type State struct {
	Accept bool
	Ranges []Range
}

// Range is [Lo, Hi] (inclusive) -> Next, in byte-value order.
type Range struct {
	Lo, Hi byte
	Next   int
}

// Run evaluates the DFA against text, returning whether it fully matches.
func (d *DFA) Run(text []byte) bool {
	state := 0
	for _, b := range text {
		next := -1
		for _, r := range d.States[state].Ranges {
			if b >= r.Lo && b <= r.Hi {
				next = r.Next
				break
			}
		}
		if next < 0 {
			return false
		}
		state = next
	}
	return d.States[state].Accept
}

// unsupportedErr names a rejected pattern with the diag.Kind the caller
// should report.
type unsupportedErr struct {
	kind diag.Kind
	msg  string
}

func (e *unsupportedErr) Error() string { return e.msg }

// Kind returns the diag.Kind an unsupportedErr should be reported with, or
// diag.RegexSyntaxError for any other compile error.
func Kind(err error) diag.Kind {
	if ue, ok := err.(*unsupportedErr); ok {
		return ue.kind
	}
	return diag.RegexSyntaxError
}

// Compile parses pattern as an anchored Perl-syntax regex and builds its
// sparse DFA. Backreferences and lookaround are not valid regexp/syntax
// input and are caught by a pre-scan (they'd otherwise surface as a less
// specific syntax error); named captures parse fine in Go's regex syntax
// but are rejected explicitly since the engine never exposes capture
// groups to queries.
func Compile(pattern string) (*DFA, error) {
	if pattern == "" {
		return nil, &unsupportedErr{kind: diag.EmptyRegex, msg: "empty regex pattern"}
	}
	if err := preScan(pattern); err != nil {
		return nil, err
	}

	re, err := syntax.Parse(pattern, syntax.Perl)
	if err != nil {
		return nil, &unsupportedErr{kind: diag.RegexSyntaxError, msg: err.Error()}
	}
	if hasNamedCapture(re) {
		return nil, &unsupportedErr{kind: diag.RegexNamedCapture, msg: "named captures are not supported in predicates"}
	}
	re = re.Simplify()
	prog, err := syntax.Compile(re)
	if err != nil {
		return nil, &unsupportedErr{kind: diag.RegexSyntaxError, msg: err.Error()}
	}

	return subsetConstruct(prog), nil
}

func hasNamedCapture(re *syntax.Regexp) bool {
	if re.Op == syntax.OpCapture && re.Name != "" {
		return true
	}
	for _, sub := range re.Sub {
		if hasNamedCapture(sub) {
			return true
		}
	}
	return false
}

// preScan rejects backreference and lookaround escapes before handing the
// pattern to regexp/syntax, whose own error for these is a generic "invalid
// escape sequence" / "missing argument to repetition operator" that doesn't
// identify which unsupported feature was used.
func preScan(pattern string) error {
	for i := 0; i < len(pattern); i++ {
		if pattern[i] == '\\' && i+1 < len(pattern) {
			c := pattern[i+1]
			if c >= '1' && c <= '9' {
				return &unsupportedErr{kind: diag.RegexBackreference, msg: "backreferences are not supported in predicates"}
			}
			i++
			continue
		}
		if pattern[i] == '(' {
			rest := pattern[i:]
			if strings.HasPrefix(rest, "(?=") || strings.HasPrefix(rest, "(?!") ||
				strings.HasPrefix(rest, "(?<=") || strings.HasPrefix(rest, "(?<!") {
				return &unsupportedErr{kind: diag.RegexLookaround, msg: "lookaround assertions are not supported in predicates"}
			}
		}
	}
	return nil
}

// subsetConstruct builds a sparse DFA from prog via classical subset
// construction over byte values 0-255, without minimization.
// Begin/end-of-text assertions are treated as always satisfied:
// Compile always hands the engine a fully-anchored pattern, so ^ and $
// never need a runtime position check here — a documented simplification.
// Byte-level matching is exact for ASCII-range classes (identifiers,
// punctuation, keywords — the expected predicate vocabulary) and is an
// approximation for explicit non-ASCII rune classes, since each byte 0-255
// is tested as its own single-rune codepoint rather than decoded as UTF-8.
func subsetConstruct(prog *syntax.Prog) *DFA {
	closure := func(pcs []uint32) []uint32 {
		seen := map[uint32]bool{}
		var stack, out []uint32
		stack = append(stack, pcs...)
		for len(stack) > 0 {
			pc := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if seen[pc] {
				continue
			}
			seen[pc] = true
			inst := &prog.Inst[pc]
			switch inst.Op {
			case syntax.InstAlt, syntax.InstAltMatch:
				stack = append(stack, inst.Out, inst.Arg)
			case syntax.InstCapture, syntax.InstEmptyWidth, syntax.InstNop:
				stack = append(stack, inst.Out)
			default:
				out = append(out, pc)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
		return out
	}

	key := func(pcs []uint32) string {
		var sb strings.Builder
		for _, pc := range pcs {
			fmt.Fprintf(&sb, "%d,", pc)
		}
		return sb.String()
	}

	var states []State
	index := map[string]int{}
	var order [][]uint32

	addState := func(pcs []uint32) int {
		k := key(pcs)
		if idx, ok := index[k]; ok {
			return idx
		}
		idx := len(order)
		index[k] = idx
		order = append(order, pcs)
		states = append(states, State{})
		return idx
	}

	start := addState(closure([]uint32{uint32(prog.Start)}))

	for i := 0; i < len(order); i++ {
		pcs := order[i]
		accept := false
		for _, pc := range pcs {
			if prog.Inst[pc].Op == syntax.InstMatch {
				accept = true
			}
		}

		var ranges []Range
		// Determine, per byte value, the resulting closure; coalesce
		// consecutive bytes with identical outcomes into one range.
		var curLo int = -1
		var curNext = -2
		flush := func(hi int) {
			if curLo < 0 {
				return
			}
			ranges = append(ranges, Range{Lo: byte(curLo), Hi: byte(hi), Next: curNext})
			curLo = -1
		}
		for b := 0; b < 256; b++ {
			var moves []uint32
			for _, pc := range pcs {
				inst := &prog.Inst[pc]
				switch inst.Op {
				case syntax.InstRune, syntax.InstRune1, syntax.InstRuneAny, syntax.InstRuneAnyNotNL:
					if inst.MatchRune(rune(b)) {
						moves = append(moves, inst.Out)
					}
				}
			}
			next := -1
			if len(moves) > 0 {
				next = addState(closure(moves))
			}
			if next == curNext {
				continue
			}
			flush(b - 1)
			curLo, curNext = b, next
		}
		flush(255)

		// Drop dead-end ranges (next == -1): a byte with no valid
		// transition simply fails the match, so the sparse table only
		// needs to record live transitions.
		live := ranges[:0]
		for _, r := range ranges {
			if r.Next >= 0 {
				live = append(live, r)
			}
		}
		states[i] = State{Accept: accept, Ranges: live}
	}

	_ = start // start state is always index 0 by construction
	return &DFA{States: states}
}
