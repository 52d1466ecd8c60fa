// Package diag implements Plotnik's diagnostic sink and caret-pointed
// terminal rendering.
package diag

// Kind enumerates the diagnostic kinds. Not exhaustive
// by design — new stages may add kinds as needed.
type Kind string

const (
	UnexpectedToken             Kind = "UnexpectedToken"
	ExpectedX                   Kind = "ExpectedX"
	UnclosedDelimiter            Kind = "UnclosedDelimiter"
	BareIdentifier               Kind = "BareIdentifier"
	InvalidFieldEquals           Kind = "InvalidFieldEquals"
	CaptureNameHasDots           Kind = "CaptureNameHasDots"
	CaptureNameHasHyphens        Kind = "CaptureNameHasHyphens"
	CaptureNameHasUppercase      Kind = "CaptureNameHasUppercase"
	DefNameLowercase             Kind = "DefNameLowercase"
	BranchLabelHasSeparators     Kind = "BranchLabelHasSeparators"
	EmptyRegex                   Kind = "EmptyRegex"
	RegexBackreference           Kind = "RegexBackreference"
	RegexLookaround              Kind = "RegexLookaround"
	RegexNamedCapture            Kind = "RegexNamedCapture"
	RegexSyntaxError             Kind = "RegexSyntaxError"
	UnsupportedHostPredicate     Kind = "UnsupportedHostPredicate"
	UndefinedReference           Kind = "UndefinedReference"
	DuplicateDefinition          Kind = "DuplicateDefinition"
	MixedTaggedAndUntagged       Kind = "MixedTaggedAndUntagged"
	RecursionCannotTerminate     Kind = "RecursionCannotTerminate"
	FieldSequenceValue           Kind = "FieldSequenceValue"
	TypeMismatch                 Kind = "TypeMismatch"
	UnlinkedSymbol               Kind = "UnlinkedSymbol"
	UnknownKind                  Kind = "UnknownKind"
	UnknownField                 Kind = "UnknownField"
	ResourceExhausted            Kind = "ResourceExhausted"
	ExecFuelExhausted            Kind = "ExecFuelExhausted"
	RecursionLimitExceeded       Kind = "RecursionLimitExceeded"
	InvalidQuery                 Kind = "InvalidQuery"
)

// Range is a byte span within one source file.
type Range struct {
	File       uint32
	StartByte  uint32
	EndByte    uint32
	StartLine  int
	StartCol   int
}

// Fix is an optional auto-fix suggestion attached to a Diagnostic.
type Fix struct {
	Replacement string
	Description string
}

// Related is a secondary span that clarifies a diagnostic (e.g. "defined
// here", "tagged branch here").
type Related struct {
	Range   Range
	Message string
}

// Diagnostic is a single structured report, the unit every stage hands the
// sink.
type Diagnostic struct {
	Kind    Kind
	Message string
	Primary Range
	Related []Related
	Fix     *Fix
}

// Sink accumulates diagnostics across every compilation stage. Stages never
// stop on the first error; they instead consult HasErrors before deciding
// whether to hand their output to the next stage.
type Sink struct {
	diags []Diagnostic
}

// NewSink returns an empty Sink.
func NewSink() *Sink {
	return &Sink{}
}

// Report appends d to the sink.
func (s *Sink) Report(d Diagnostic) {
	s.diags = append(s.diags, d)
}

// HasErrors reports whether any diagnostic has been recorded. Plotnik has no
// separate warning severity at the bytecode boundary: any recorded
// diagnostic makes the query InvalidQuery.
func (s *Sink) HasErrors() bool {
	return len(s.diags) > 0
}

// All returns every diagnostic recorded so far, grouped and sorted by file
// then byte offset, with cascading duplicates at the same position suppressed by
// Dedup.
func (s *Sink) All() []Diagnostic {
	out := Dedup(s.diags)
	sortDiagnostics(out)
	return out
}

// Raw returns every diagnostic in emission order, without filtering. Used by
// tests that want to assert on the exact stage output.
func (s *Sink) Raw() []Diagnostic {
	return s.diags
}

func sortDiagnostics(diags []Diagnostic) {
	// insertion sort: diagnostic counts per compilation are small (tens, not
	// thousands), and insertion sort is stable, so diagnostics with equal
	// keys keep their emission order.
	for i := 1; i < len(diags); i++ {
		for j := i; j > 0 && less(diags[j], diags[j-1]); j-- {
			diags[j], diags[j-1] = diags[j-1], diags[j]
		}
	}
}

func less(a, b Diagnostic) bool {
	if a.Primary.File != b.Primary.File {
		return a.Primary.File < b.Primary.File
	}
	return a.Primary.StartByte < b.Primary.StartByte
}
