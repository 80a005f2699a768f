// Package parser implements the recursive-descent parser: tokens in,
// ([]*ast.Obj, error) out. All frontend state (scope stack, current
// function, goto patch table) lives on the single *parser struct threaded
// explicitly through every method — the Design Notes §9 strategy for the
// source's global mutable state, already the shape the teacher's own
// lang/parser.parser struct uses.
package parser

import (
	"fmt"

	"github.com/jcc-lang/jcc/lang/ast"
	"github.com/jcc-lang/jcc/lang/ctype"
	"github.com/jcc-lang/jcc/lang/token"
	"golang.org/x/exp/slices"
)

// Mode controls optional parser behavior.
type Mode uint8

const (
	// Recover enables error-recovery mode: diagnostics accumulate instead of
	// aborting on the first one, and a synchronization point is found before
	// resuming (SPEC_FULL.md §4.2).
	Recover Mode = 1 << iota
)

type gotoRef struct {
	node *ast.Node
	name string
}

type parser struct {
	file string
	toks []token.TokenAndValue
	pos  int
	mode Mode

	scope   *scope
	globals []*ast.Obj

	curFunc    *ast.Obj
	labels     map[string]bool
	gotoRefs   []gotoRef
	stringNext int

	errs ErrorList
}

// ParseTokens parses one translation unit's token list into its list of
// top-level Objs (globals and functions), performing type checking inline
// as chibicc-family single-pass C compilers do (there is no separate
// resolver phase in this pipeline — semantic analysis happens during
// parsing, see DESIGN.md).
func ParseTokens(mode Mode, filename string, toks []token.TokenAndValue) (objs []*ast.Obj, err error) {
	p := &parser{file: filename, toks: toks, mode: mode, scope: newScope(nil), labels: map[string]bool{}}

	defer func() {
		if r := recover(); r != nil {
			if ie, ok := r.(*internalError); ok {
				err = ie
				return
			}
			if ce, ok := r.(*ast.ConstantError); ok {
				objs, err = nil, &Error{Pos: ce.Node.Tok.Pos, Msg: ce.Error()}
				return
			}
			panic(r)
		}
	}()

	p.pushScope() // file scope
	// va_list has no header to declare it from (this module has no
	// preprocessor, SPEC_FULL.md §4.2): predeclare it as the two-cursor
	// layout lang/compiler's va_start/va_arg expect, one pointer into the
	// integer register-save bank and one into the float bank.
	p.declareTypedef("va_list", ctype.ArrayOf(ctype.PointerTo(ctype.TyVoid), 2))
	for !p.atEOF() {
		if err := p.topLevelDecl(); err != nil {
			if p.mode&Recover == 0 {
				return nil, err
			}
			p.errs = append(p.errs, toParserError(err))
			p.syncAfterError()
		}
	}
	p.popScope()

	if len(p.errs) > 0 {
		return nil, p.errs
	}

	ast.MarkLive(p.globals)
	return p.globals, nil
}

func toParserError(err error) *Error {
	if pe, ok := err.(*Error); ok {
		return pe
	}
	return &Error{Msg: err.Error()}
}

// syncAfterError advances past the current token until the next `;`, `}`,
// or a statement-starting keyword, per SPEC_FULL.md §4.2's recovery
// synchronization rule.
func (p *parser) syncAfterError() {
	for !p.atEOF() {
		t := p.cur().Tok
		if t == token.SEMI {
			p.advance()
			return
		}
		if t == token.RBRACE || isStmtStart(t) {
			return
		}
		p.advance()
	}
}

func isStmtStart(t token.Token) bool {
	switch t {
	case token.IF, token.FOR, token.WHILE, token.DO, token.RETURN, token.SWITCH,
		token.BREAK, token.CONTINUE, token.GOTO, token.LBRACE:
		return true
	}
	return false
}

// -- token cursor --

func (p *parser) cur() token.TokenAndValue {
	if p.pos >= len(p.toks) {
		return token.TokenAndValue{Tok: token.EOF}
	}
	return p.toks[p.pos]
}

func (p *parser) peek(n int) token.TokenAndValue {
	if p.pos+n >= len(p.toks) {
		return token.TokenAndValue{Tok: token.EOF}
	}
	return p.toks[p.pos+n]
}

func (p *parser) advance() token.TokenAndValue {
	t := p.cur()
	if p.pos < len(p.toks) {
		p.pos++
	}
	return t
}

func (p *parser) atEOF() bool { return p.cur().Tok == token.EOF }

func (p *parser) at(t token.Token) bool { return p.cur().Tok == t }

func (p *parser) accept(t token.Token) (token.TokenAndValue, bool) {
	if p.at(t) {
		return p.advance(), true
	}
	return token.TokenAndValue{}, false
}

func (p *parser) expect(t token.Token) (token.TokenAndValue, error) {
	if p.at(t) {
		return p.advance(), nil
	}
	return token.TokenAndValue{}, p.errorf("expected %s, got %s", t, p.cur().Tok)
}

func (p *parser) errorf(format string, args ...any) *Error {
	return &Error{Pos: p.cur().Pos, Msg: fmt.Sprintf(format, args...)}
}

// skipAttributes consumes zero or more GNU __attribute__((...)) or C23
// [[...]] attribute-specifier-sequences, discarding their contents.
// structOrUnionSpecifier (decl.go) scans the attributes it skips around a
// struct/union for `packed` and marks the type packed; `aligned` and every
// other attribute have no effect.
func (p *parser) skipAttributes() {
	for {
		switch {
		case p.at(token.ATTRIBUTE):
			p.advance()
			p.skipParenGroup()
		case p.at(token.LBRACK) && p.peek(1).Tok == token.LBRACK:
			p.advance()
			p.advance()
			depth := 2
			for depth > 0 && !p.atEOF() {
				switch p.cur().Tok {
				case token.LBRACK:
					depth++
				case token.RBRACK:
					depth--
				}
				p.advance()
			}
		default:
			return
		}
	}
}

func (p *parser) skipParenGroup() {
	if _, ok := p.accept(token.LPAREN); !ok {
		return
	}
	depth := 1
	for depth > 0 && !p.atEOF() {
		switch p.cur().Tok {
		case token.LPAREN:
			depth++
		case token.RPAREN:
			depth--
		}
		p.advance()
	}
}

func (p *parser) newStringLocal(val string) *ast.Obj {
	p.stringNext++
	name := fmt.Sprintf(".Lstr%d", p.stringNext)
	t := ctype.ArrayOf(ctype.TyChar, int64(len(val)+1))
	data := append([]byte(val), 0)
	o := &ast.Obj{Name: name, Type: t, IsDefinition: true, InitData: data, IsStatic: true, IsLive: true}
	p.globals = append(p.globals, o)
	return o
}

// unresolvedGotoNames returns, sorted, the names of every goto target that
// never got a matching label within the current function.
func (p *parser) unresolvedGotoNames() []string {
	var names []string
	for _, g := range p.gotoRefs {
		if !p.labels[g.name] {
			names = append(names, g.name)
		}
	}
	slices.Sort(names)
	return names
}
