// Package lexer adapts the token stream produced by the external
// preprocessor (cc_preprocess, out of scope per SPEC_FULL.md §1) into the
// []token.TokenAndValue shape lang/parser consumes. cc_preprocess itself —
// macro expansion, #include handling, __VA_OPT__, token pasting and
// stringizing — is not implemented here; this package only documents and
// validates the contract at the boundary, mirroring how the teacher's
// lang/scanner.ScanFiles documents the shape handed to lang/parser.
package lexer

import (
	"fmt"

	"github.com/jcc-lang/jcc/lang/token"
)

// Source is the input a preprocessor delivers for one translation unit: the
// file name (for diagnostics) and the already-macro-expanded token list.
type Source struct {
	Filename string
	Tokens   []token.TokenAndValue
}

// Adapt validates that src's token list is well-formed (ends with exactly
// one EOF, carries monotonically non-decreasing positions) and returns it
// unchanged for the parser. Preprocessors that violate the contract produce
// an error here rather than corrupting parser state downstream.
func Adapt(src Source) ([]token.TokenAndValue, error) {
	if len(src.Tokens) == 0 || src.Tokens[len(src.Tokens)-1].Tok != token.EOF {
		return nil, fmt.Errorf("%s: token stream must end with a single EOF token", src.Filename)
	}
	for i := 1; i < len(src.Tokens); i++ {
		prev, cur := src.Tokens[i-1].Pos, src.Tokens[i].Pos
		if cur.Line < prev.Line || (cur.Line == prev.Line && cur.Col < prev.Col) {
			return nil, fmt.Errorf("%s: token stream positions must be non-decreasing (token %d)", src.Filename, i)
		}
	}
	return src.Tokens, nil
}

// FromRunes is a minimal stand-in tokenizer for single-translation-unit
// inputs that need no macro expansion; the driver (internal/maincmd) and the
// tests tokenize source with it. It recognizes identifiers and keywords,
// decimal integer literals, digit-led literals containing a '.', string
// literals (no escape processing), and the ASCII punctuators this module's
// parser grammar subset uses. A full C lexer (trigraphs, universal
// character names, every numeric literal suffix) is cc_preprocess's job.
func FromRunes(filename string, src []byte) ([]token.TokenAndValue, error) {
	var toks []token.TokenAndValue
	line, col := 1, 1
	advance := func(from, n int) {
		for k := from; k < from+n; k++ {
			if k < len(src) && src[k] == '\n' {
				line++
				col = 1
			} else {
				col++
			}
		}
	}
	pos := func() token.Position { return token.Position{Filename: filename, Line: line, Col: col} }

	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\r' || c == '\n':
			advance(i, 1)
			i++
		case isIdentStart(c):
			start := i
			for i < len(src) && isIdentCont(src[i]) {
				i++
			}
			word := string(src[start:i])
			p := pos()
			advance(start, i-start)
			if kw, ok := token.Keywords[word]; ok {
				toks = append(toks, token.TokenAndValue{Tok: kw, Pos: p})
			} else {
				toks = append(toks, token.TokenAndValue{Tok: token.IDENT, Pos: p, Val: token.Value{Str: word}})
			}
		case isDigit(c):
			start := i
			for i < len(src) && (isDigit(src[i]) || src[i] == '.') {
				i++
			}
			text := string(src[start:i])
			p := pos()
			advance(start, i-start)
			kind := token.INT
			var ival int64
			var fval float64
			if containsDot(text) {
				kind = token.FLOAT
				fval = parseFloat(text)
			} else {
				ival = parseInt(text)
			}
			toks = append(toks, token.TokenAndValue{Tok: kind, Pos: p, Val: token.Value{Int: ival, Float: fval, Kind: litKind(kind)}})
		case c == '"':
			start := i
			i++
			for i < len(src) && src[i] != '"' {
				i++
			}
			i++
			text := string(src[start+1 : i-1])
			p := pos()
			advance(start, i-start)
			toks = append(toks, token.TokenAndValue{Tok: token.STRING, Pos: p, Val: token.Value{Str: text, Kind: token.StringLiteral}})
		default:
			tok, n, ok := punct(src[i:])
			if !ok {
				return nil, fmt.Errorf("%s:%d:%d: unrecognized character %q", filename, line, col, c)
			}
			p := pos()
			advance(i, n)
			i += n
			toks = append(toks, token.TokenAndValue{Tok: tok, Pos: p})
		}
	}
	toks = append(toks, token.TokenAndValue{Tok: token.EOF, Pos: pos()})
	return toks, nil
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
func isIdentCont(c byte) bool { return isIdentStart(c) || isDigit(c) }
func isDigit(c byte) bool     { return c >= '0' && c <= '9' }

func containsDot(s string) bool {
	for _, r := range s {
		if r == '.' {
			return true
		}
	}
	return false
}

func parseInt(s string) int64 {
	var v int64
	for _, r := range s {
		v = v*10 + int64(r-'0')
	}
	return v
}

func parseFloat(s string) float64 {
	var whole, frac float64
	var fracDiv float64 = 1
	seenDot := false
	for _, r := range s {
		if r == '.' {
			seenDot = true
			continue
		}
		d := float64(r - '0')
		if !seenDot {
			whole = whole*10 + d
		} else {
			fracDiv *= 10
			frac = frac*10 + d
		}
	}
	return whole + frac/fracDiv
}

func litKind(t token.Token) token.LiteralKind {
	if t == token.FLOAT {
		return token.FloatLiteral
	}
	return token.IntLiteral
}

// multi-byte punctuators are matched longest-first.
var punctTable = []struct {
	s string
	t token.Token
}{
	{"<<=", token.LTLT_EQ}, {">>=", token.GTGT_EQ}, {"...", token.ELLIPSIS},
	{"->", token.ARROW}, {"++", token.INC}, {"--", token.DEC},
	{"<<", token.LTLT}, {">>", token.GTGT}, {"<=", token.LE}, {">=", token.GE},
	{"==", token.EQL}, {"!=", token.NEQ}, {"&&", token.ANDAND}, {"||", token.OROR},
	{"+=", token.PLUS_EQ}, {"-=", token.MINUS_EQ}, {"*=", token.STAR_EQ},
	{"/=", token.SLASH_EQ}, {"%=", token.PERCENT_EQ}, {"&=", token.AMP_EQ},
	{"|=", token.PIPE_EQ}, {"^=", token.CIRCUMFLEX_EQ},
	{"+", token.PLUS}, {"-", token.MINUS}, {"*", token.STAR}, {"/", token.SLASH},
	{"%", token.PERCENT}, {"&", token.AMPERSAND}, {"|", token.PIPE},
	{"^", token.CIRCUMFLEX}, {"~", token.TILDE}, {"!", token.NOT},
	{"<", token.LT}, {">", token.GT}, {"=", token.EQ}, {".", token.DOT},
	{",", token.COMMA}, {";", token.SEMI}, {":", token.COLON}, {"?", token.QUESTION},
	{"(", token.LPAREN}, {")", token.RPAREN}, {"[", token.LBRACK}, {"]", token.RBRACK},
	{"{", token.LBRACE}, {"}", token.RBRACE},
}

func punct(src []byte) (token.Token, int, bool) {
	for _, p := range punctTable {
		if len(src) >= len(p.s) && string(src[:len(p.s)]) == p.s {
			return p.t, len(p.s), true
		}
	}
	return token.ILLEGAL, 0, false
}
