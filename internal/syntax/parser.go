// Package syntax implements the query surface-syntax lexer and
// recursive-descent parser.
//
// The parser never aborts on malformed input within its resource budget: it
// reports a diagnostic, synthesizes an ast.Error placeholder, and resumes at
// the next recovery token, so every byte of a query (however broken) is
// accounted for by some node in the resulting ast.File.
package syntax

import (
	"fmt"
	"unicode"

	"github.com/plotnik-lang/plotnik-sub003/internal/ast"
	"github.com/plotnik-lang/plotnik-sub003/internal/diag"
)

// Budget bounds the parser's work so pathological input fails fast with a
// recoverable diagnostic instead of exhausting memory or the Go call
// stack.
type Budget struct {
	MaxDepth  int
	MaxTokens int
}

// DefaultBudget is used when a caller does not specify one.
var DefaultBudget = Budget{MaxDepth: 256, MaxTokens: 1_000_000}

// Parser turns one source's text into an ast.File plus any diagnostics.
type Parser struct {
	lex    *Lexer
	cur    Token
	sink   *diag.Sink
	source uint32
	budget Budget
	depth  int
	tokens int
	fuel   bool // true once ResourceExhausted has already fired, to avoid spamming
}

// Parse parses text (from source file id) into an ast.File. ok is false iff
// the sink recorded any diagnostic while parsing this source.
func Parse(sourceID uint32, text string, sink *diag.Sink, budget Budget) (*ast.File, bool) {
	p := &Parser{lex: NewLexer(text), sink: sink, source: sourceID, budget: budget}
	p.advance()
	before := len(sink.Raw())
	defs := p.parseFile()
	ok := len(sink.Raw()) == before
	return &ast.File{Source: sourceID, Defs: defs}, ok
}

func (p *Parser) advance() {
	p.cur = p.lex.Next()
	p.tokens++
}

func (p *Parser) rng(start, end uint32) diag.Range {
	return diag.Range{File: p.source, StartByte: start, EndByte: end}
}

func (p *Parser) here() diag.Range {
	return p.rng(p.cur.Start, p.cur.End)
}

func (p *Parser) report(kind diag.Kind, r diag.Range, format string, args...any) {
	p.sink.Report(diag.Diagnostic{Kind: kind, Message: fmt.Sprintf(format, args...), Primary: r})
}

func (p *Parser) checkFuel() bool {
	if p.tokens > p.budget.MaxTokens {
		if !p.fuel {
			p.fuel = true
			p.report(diag.ResourceExhausted, p.here(), "query exceeds the token budget (%d)", p.budget.MaxTokens)
		}
		return false
	}
	return true
}

func (p *Parser) enter() bool {
	p.depth++
	if p.depth > p.budget.MaxDepth {
		p.report(diag.RecursionLimitExceeded, p.here(), "query nesting exceeds the depth budget (%d)", p.budget.MaxDepth)
		return false
	}
	return true
}

func (p *Parser) leave() { p.depth-- }

// isRecoveryToken reports whether k is one of the tokens the parser
// resynchronizes on after an error.
func isRecoveryToken(k TokenKind) bool {
	switch k {
	case TokRBrace, TokRBracket, TokRParen, TokEquals, TokEOF:
		return true
	default:
		return false
	}
}

func (p *Parser) syncAndError(start uint32) ast.Expr {
	errStart := start
	if isRecoveryToken(p.cur.Kind) && p.cur.Kind != TokEOF {
		// Already at a recovery token: consume just that token so the
		// caller's loop makes progress and resumes right after it.
		p.advance()
	} else {
		for !isRecoveryToken(p.cur.Kind) && p.cur.Kind != TokEOF && p.checkFuel() {
			p.advance()
		}
	}
	r := p.rng(errStart, p.cur.Start)
	p.report(diag.UnexpectedToken, r, "unexpected input")
	return ast.Error{Text: "", Rng: r}
}

func (p *Parser) parseFile() []ast.Def {
	var defs []ast.Def
	haveUnnamed := false
	for p.cur.Kind != TokEOF && p.checkFuel() {
		d, isDef := p.parseTopLevel()
		if !isDef {
			if haveUnnamed {
				p.report(diag.InvalidQuery, d.Body.Range(), "only one unnamed top-level expression is allowed per session")
			}
			haveUnnamed = true
		}
		defs = append(defs, d)
	}
	return defs
}

func (p *Parser) parseTopLevel() (ast.Def, bool) {
	public := false
	if p.cur.Kind == TokPub {
		public = true
		p.advance()
	}
	if p.cur.Kind == TokIdent {
		name := p.cur.Text
		nameRng := p.here()
		p.advance()
		if p.cur.Kind == TokEquals {
			p.advance()
			body := p.parseExpr()
			if !startsUpper(name) {
				p.report(diag.DefNameLowercase, nameRng, "definition name %q must start with an uppercase letter", name)
			}
			return ast.Def{Name: name, Public: public, Body: body, Source: p.source, NameRange: nameRng}, true
		}
		// Not a definition: this identifier was a Ref; continue parsing it
		// as the sole unnamed top-level expression.
		e := ast.Expr(ast.Ref{Name: name, Rng: nameRng})
		e = p.parsePostfix(e)
		return ast.Def{Name: ast.UnnamedDefName, Body: e, Source: p.source}, false
	}
	start := p.cur.Start
	body := p.parseExpr()
	_ = start
	return ast.Def{Name: ast.UnnamedDefName, Body: body, Source: p.source}, false
}

// parseExpr parses one full expression, including its postfix chain of
// quantifier, capture, and regex predicate.
func (p *Parser) parseExpr() ast.Expr {
	if !p.enter() {
		defer p.leave()
		// Skip the too-deep input up to the next recovery token so the
		// enclosing loop makes progress instead of retrying this position.
		start := p.cur.Start
		for !isRecoveryToken(p.cur.Kind) && p.checkFuel() {
			p.advance()
		}
		return ast.Error{Rng: p.rng(start, p.cur.Start)}
	}
	defer p.leave()
	e := p.parsePrimary()
	return p.parsePostfix(e)
}

func (p *Parser) parsePrimary() ast.Expr {
	if !p.checkFuel() {
		return ast.Error{}
	}
	start := p.cur.Start
	switch p.cur.Kind {
	case TokLParen:
		return p.parseTree()
	case TokLBrace:
		return p.parseSeq()
	case TokLBracket:
		return p.parseAlt()
	case TokString:
		lit := p.cur.Text
		p.advance()
		return ast.AnonymousNode{Literal: lit, Rng: p.rng(start, p.prevEnd())}
	case TokUnderscore:
		p.advance()
		return ast.Wildcard{Rng: p.rng(start, p.prevEnd())}
	case TokDot:
		p.advance()
		return ast.Anchor{Rng: p.rng(start, p.prevEnd())}
	case TokBang:
		p.advance()
		if p.cur.Kind != TokIdent {
			return p.syncAndError(start)
		}
		name := p.cur.Text
		p.advance()
		return ast.NegatedField{Name: name, Rng: p.rng(start, p.prevEnd())}
	case TokIdent:
		name := p.cur.Text
		p.advance()
		if p.cur.Kind == TokColon {
			p.advance()
			inner := p.parseExpr()
			return ast.Field{Name: name, Inner: inner, Rng: p.rng(start, p.prevEnd())}
		}
		return ast.Ref{Name: name, Rng: p.rng(start, p.prevEnd())}
	default:
		return p.syncAndError(start)
	}
}

// parsePostfix applies zero-or-more quantifiers, then an optional capture,
// then an optional regex predicate, to e.
func (p *Parser) parsePostfix(e ast.Expr) ast.Expr {
	startByte := e.Range().StartByte
	for {
		var q ast.QuantKind
		switch p.cur.Kind {
		case TokStar:
			q = ast.QuantStar
		case TokPlus:
			q = ast.QuantPlus
		case TokQuestion:
			q = ast.QuantOpt
		case TokStarLazy:
			q = ast.QuantStarLazy
		case TokPlusLazy:
			q = ast.QuantPlusLazy
		case TokOptLazy:
			q = ast.QuantOptLazy
		default:
			goto quantDone
		}
		p.advance()
		e = ast.Quantified{Inner: e, Quant: q, Rng: p.rng(startByte, p.prevEnd())}
	}
quantDone:

	if p.cur.Kind == TokAt {
		p.advance()
		name := ""
		if p.cur.Kind == TokIdent {
			name = p.cur.Text
			checkCaptureName(p, name, p.here())
			p.advance()
		} else {
			p.report(diag.ExpectedX, p.here(), "expected a capture name after '@'")
		}
		asString := false
		typeName := ""
		if p.cur.Kind == TokColonColon {
			p.advance()
			if p.cur.Kind == TokIdent {
				if p.cur.Text == "string" {
					asString = true
				} else {
					typeName = p.cur.Text
				}
				p.advance()
			} else {
				p.report(diag.ExpectedX, p.here(), "expected a type name after '::'")
			}
		}
		e = ast.Capture{Inner: e, Name: name, AsString: asString, TypeName: typeName, Rng: p.rng(startByte, p.prevEnd())}
	}

	if p.cur.Kind == TokTilde {
		predStart := p.cur.Start
		pattern, ok := p.lex.LexRegex()
		p.advance()
		predEnd := p.prevEnd()
		r := p.rng(predStart, predEnd)
		if !ok {
			p.report(diag.RegexSyntaxError, r, "unterminated regex literal")
		} else if pattern == "" {
			p.report(diag.EmptyRegex, r, "regex predicate must not be empty")
		}
		e = ast.Predicated{Inner: e, Predicate: ast.Regex{Pattern: pattern, Rng: r}, Rng: p.rng(startByte, predEnd)}
	}

	if p.cur.Kind == TokHostPredicate {
		p.report(diag.UnsupportedHostPredicate, p.here(), "host predicates (#name?) are not supported; use '~ /regex/'")
		p.advance()
	}

	return e
}

func (p *Parser) parseTree() ast.Expr {
	start := p.cur.Start
	p.advance() // '('
	kind := ""
	sub := ""
	if p.cur.Kind == TokIdent {
		kind = p.cur.Text
		p.advance()
		if p.cur.Kind == TokSlash {
			p.advance()
			if p.cur.Kind == TokIdent {
				sub = p.cur.Text
				p.advance()
			} else {
				p.report(diag.ExpectedX, p.here(), "expected a node kind after '/'")
			}
		}
	}
	var items []ast.Expr
	for p.cur.Kind != TokRParen && p.cur.Kind != TokEOF && p.checkFuel() {
		items = append(items, p.parseExpr())
	}
	if p.cur.Kind == TokRParen {
		p.advance()
	} else {
		p.report(diag.UnclosedDelimiter, p.rng(start, start+1), "unclosed '('")
	}
	rng := p.rng(start, p.prevEnd())
	// A capitalized head names a definition, not a node kind: "(Expr)" is a
	// reference. Node kinds are lowercase by grammar convention, definition
	// names uppercase (DefNameLowercase enforces the latter). ERROR and
	// MISSING are keywords for the parser-injected node kinds.
	if startsUpper(kind) && sub == "" && kind != "ERROR" && kind != "MISSING" {
		if len(items) > 0 {
			p.report(diag.UnexpectedToken, rng, "a definition reference cannot have children")
		}
		return ast.Ref{Name: kind, Rng: rng}
	}
	return ast.NamedNode{Kind: kind, SubKind: sub, Children: items, Rng: rng}
}

func (p *Parser) parseSeq() ast.Expr {
	start := p.cur.Start
	p.advance() // '{'
	var items []ast.Expr
	for p.cur.Kind != TokRBrace && p.cur.Kind != TokEOF && p.checkFuel() {
		items = append(items, p.parseExpr())
	}
	if p.cur.Kind == TokRBrace {
		p.advance()
	} else {
		p.report(diag.UnclosedDelimiter, p.rng(start, start+1), "unclosed '{'")
	}
	leading := len(items) > 0
	if leading {
		_, leading = items[0].(ast.Anchor)
	}
	trailing := len(items) > 0
	if trailing {
		_, trailing = items[len(items)-1].(ast.Anchor)
	}
	return ast.Seq{Items: items, Leading: leading, Trailing: trailing, Rng: p.rng(start, p.prevEnd())}
}

func (p *Parser) parseAlt() ast.Expr {
	start := p.cur.Start
	p.advance() // '['
	var branches []ast.Branch
	for p.cur.Kind != TokRBracket && p.cur.Kind != TokEOF && p.checkFuel() {
		branches = append(branches, p.parseAltItem())
	}
	if p.cur.Kind == TokRBracket {
		p.advance()
	} else {
		p.report(diag.UnclosedDelimiter, p.rng(start, start+1), "unclosed '['")
	}
	return ast.Alt{Branches: branches, Rng: p.rng(start, p.prevEnd())}
}

func (p *Parser) parseAltItem() ast.Branch {
	start := p.cur.Start
	if p.cur.Kind == TokIdent {
		name := p.cur.Text
		nameRng := p.here()
		p.advance()
		if p.cur.Kind == TokColon {
			p.advance()
			body := p.parseExpr()
			if hasSeparator(name) {
				p.report(diag.BranchLabelHasSeparators, nameRng, "branch label %q must not contain '.' or '-'", name)
			}
			if !startsUpper(name) {
				// Lowercase "ident:" inside an alternation is a field
				// constraint on one untagged branch, not a tagged variant.
				body = ast.Field{Name: name, Inner: body, Rng: p.rng(start, body.Range().EndByte)}
			}
			return ast.Branch{Label: labelOrEmpty(name), Body: body, Rng: p.rng(start, body.Range().EndByte)}
		}
		e := ast.Expr(ast.Ref{Name: name, Rng: nameRng})
		e = p.parsePostfix(e)
		return ast.Branch{Body: e, Rng: p.rng(start, e.Range().EndByte)}
	}
	e := p.parseExpr()
	return ast.Branch{Body: e, Rng: p.rng(start, e.Range().EndByte)}
}

func labelOrEmpty(name string) string {
	if startsUpper(name) {
		return name
	}
	return ""
}

func (p *Parser) prevEnd() uint32 {
	// cur has already been advanced past the token we just consumed; its
	// Start is therefore the end of the previous token's span for
	// contiguous (non-trivia-separated) ranges. For ranges that matter for
	// diagnostics this over-approximation (including trailing trivia) is
	// acceptable: it never under-covers the source.
	return p.cur.Start
}

func checkCaptureName(p *Parser, name string, r diag.Range) {
	if hasDot(name) {
		p.report(diag.CaptureNameHasDots, r, "capture name %q must not contain '.'", name)
	}
	if hasHyphen(name) {
		p.report(diag.CaptureNameHasHyphens, r, "capture name %q must not contain '-'", name)
	}
	if startsUpper(name) {
		p.report(diag.CaptureNameHasUppercase, r, "capture name %q must start with a lowercase letter", name)
	}
}

func startsUpper(s string) bool {
	if s == "" {
		return false
	}
	return unicode.IsUpper(rune(s[0]))
}

func hasSeparator(s string) bool {
	return hasDot(s) || hasHyphen(s)
}

func hasDot(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			return true
		}
	}
	return false
}

func hasHyphen(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == '-' {
			return true
		}
	}
	return false
}
