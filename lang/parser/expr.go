package parser

import (
	"github.com/jcc-lang/jcc/lang/ast"
	"github.com/jcc-lang/jcc/lang/ctype"
	"github.com/jcc-lang/jcc/lang/token"
)

// constantExpr parses a constant-expression and folds it to an int64 at
// parse time, the shape array bounds, enum values, and bitfield widths all
// need. Full constant folding (§4.2) only covers the integer arithmetic
// operators; anything else is a parse error.
func (p *parser) constantExpr() (int64, error) {
	n, err := p.condExpr()
	if err != nil {
		return 0, err
	}
	v, ok := foldConstant(n)
	if !ok {
		return 0, p.errorf("expected a constant expression")
	}
	return v, nil
}

func foldConstant(n *ast.Node) (int64, bool) {
	switch n.Kind {
	case ast.IntLit:
		return n.IVal, true
	case ast.Neg:
		v, ok := foldConstant(n.Lhs)
		return -v, ok
	case ast.Not:
		v, ok := foldConstant(n.Lhs)
		if v == 0 {
			return 1, ok
		}
		return 0, ok
	case ast.BitNot:
		v, ok := foldConstant(n.Lhs)
		return ^v, ok
	case ast.Add, ast.Sub, ast.Mul, ast.Div, ast.Mod, ast.BitAnd, ast.BitOr, ast.BitXor,
		ast.Shl, ast.Shr, ast.Lt, ast.Le, ast.Gt, ast.Ge, ast.Eq, ast.Ne, ast.LogAnd, ast.LogOr:
		l, lok := foldConstant(n.Lhs)
		r, rok := foldConstant(n.Rhs)
		if !lok || !rok {
			return 0, false
		}
		return foldBinary(n.Kind, l, r), true
	case ast.Cond:
		c, ok := foldConstant(n.Cond_)
		if !ok {
			return 0, false
		}
		if c != 0 {
			return foldConstant(n.Then)
		}
		return foldConstant(n.Else)
	}
	return 0, false
}

func foldBinary(kind ast.Kind, l, r int64) int64 {
	b2i := func(b bool) int64 {
		if b {
			return 1
		}
		return 0
	}
	switch kind {
	case ast.Add:
		return l + r
	case ast.Sub:
		return l - r
	case ast.Mul:
		return l * r
	case ast.Div:
		if r == 0 {
			return 0
		}
		return l / r
	case ast.Mod:
		if r == 0 {
			return 0
		}
		return l % r
	case ast.BitAnd:
		return l & r
	case ast.BitOr:
		return l | r
	case ast.BitXor:
		return l ^ r
	case ast.Shl:
		return l << uint(r)
	case ast.Shr:
		return l >> uint(r)
	case ast.Lt:
		return b2i(l < r)
	case ast.Le:
		return b2i(l <= r)
	case ast.Gt:
		return b2i(l > r)
	case ast.Ge:
		return b2i(l >= r)
	case ast.Eq:
		return b2i(l == r)
	case ast.Ne:
		return b2i(l != r)
	case ast.LogAnd:
		return b2i(l != 0 && r != 0)
	case ast.LogOr:
		return b2i(l != 0 || r != 0)
	}
	return 0
}

// expr parses a comma expression.
func (p *parser) expr() (*ast.Node, error) {
	n, err := p.assignExpr()
	if err != nil {
		return nil, err
	}
	for {
		tv, ok := p.accept(token.COMMA)
		if !ok {
			return n, nil
		}
		rhs, err := p.assignExpr()
		if err != nil {
			return nil, err
		}
		n = &ast.Node{Kind: ast.Comma, Lhs: n, Rhs: rhs, Typ: rhs.Typ, Tok: tv}
	}
}

var compoundOps = map[token.Token]token.Token{
	token.PLUS_EQ: token.PLUS, token.MINUS_EQ: token.MINUS, token.STAR_EQ: token.STAR,
	token.SLASH_EQ: token.SLASH, token.PERCENT_EQ: token.PERCENT, token.AMP_EQ: token.AMPERSAND,
	token.PIPE_EQ: token.PIPE, token.CIRCUMFLEX_EQ: token.CIRCUMFLEX,
	token.LTLT_EQ: token.LTLT, token.GTGT_EQ: token.GTGT,
}

// assignExpr parses a (right-associative) assignment-expression.
func (p *parser) assignExpr() (*ast.Node, error) {
	lhs, err := p.condExpr()
	if err != nil {
		return nil, err
	}
	if tv, ok := p.accept(token.EQ); ok {
		rhs, err := p.assignExpr()
		if err != nil {
			return nil, err
		}
		if !lhs.IsLvalue() {
			return nil, p.errorf("left side of assignment is not an lvalue")
		}
		return &ast.Node{Kind: ast.Assign, Lhs: lhs, Rhs: rhs, Typ: lhs.Typ, Tok: tv}, nil
	}
	if op, isCompound := compoundOps[p.cur().Tok]; isCompound {
		tv := p.advance()
		rhs, err := p.assignExpr()
		if err != nil {
			return nil, err
		}
		if !lhs.IsLvalue() {
			return nil, p.errorf("left side of assignment is not an lvalue")
		}
		return &ast.Node{Kind: ast.CompoundAssign, Op: op, Lhs: lhs, Rhs: rhs, Typ: lhs.Typ, Tok: tv}, nil
	}
	return lhs, nil
}

// condExpr parses `a ? b : c`, falling through to logOrExpr when there is
// no `?`.
func (p *parser) condExpr() (*ast.Node, error) {
	cond, err := p.logOrExpr()
	if err != nil {
		return nil, err
	}
	tv, ok := p.accept(token.QUESTION)
	if !ok {
		return cond, nil
	}
	then, err := p.expr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(token.COLON); err != nil {
		return nil, err
	}
	els, err := p.condExpr()
	if err != nil {
		return nil, err
	}
	return &ast.Node{Kind: ast.Cond, Cond_: cond, Then: then, Else: els, Typ: resultType(then.Typ, els.Typ), Tok: tv}, nil
}

func (p *parser) logOrExpr() (*ast.Node, error) {
	return p.binaryBool(token.OROR, ast.LogOr, (*parser).logAndExpr)
}
func (p *parser) logAndExpr() (*ast.Node, error) {
	return p.binaryBool(token.ANDAND, ast.LogAnd, (*parser).bitOrExpr)
}

func (p *parser) binaryBool(tok token.Token, kind ast.Kind, next func(*parser) (*ast.Node, error)) (*ast.Node, error) {
	n, err := next(p)
	if err != nil {
		return nil, err
	}
	for {
		tv, ok := p.accept(tok)
		if !ok {
			return n, nil
		}
		rhs, err := next(p)
		if err != nil {
			return nil, err
		}
		n = &ast.Node{Kind: kind, Lhs: n, Rhs: rhs, Typ: ctype.TyInt, Tok: tv}
	}
}

func (p *parser) bitOrExpr() (*ast.Node, error)  { return p.leftAssoc(token.PIPE, ast.BitOr, (*parser).bitXorExpr) }
func (p *parser) bitXorExpr() (*ast.Node, error) { return p.leftAssoc(token.CIRCUMFLEX, ast.BitXor, (*parser).bitAndExpr) }
func (p *parser) bitAndExpr() (*ast.Node, error) { return p.leftAssoc(token.AMPERSAND, ast.BitAnd, (*parser).eqExpr) }

func (p *parser) eqExpr() (*ast.Node, error) {
	n, err := p.relExpr()
	if err != nil {
		return nil, err
	}
	for {
		var kind ast.Kind
		switch p.cur().Tok {
		case token.EQL:
			kind = ast.Eq
		case token.NEQ:
			kind = ast.Ne
		default:
			return n, nil
		}
		tv := p.advance()
		rhs, err := p.relExpr()
		if err != nil {
			return nil, err
		}
		n = &ast.Node{Kind: kind, Lhs: n, Rhs: rhs, Typ: ctype.TyInt, Tok: tv}
	}
}

func (p *parser) relExpr() (*ast.Node, error) {
	n, err := p.shiftExpr()
	if err != nil {
		return nil, err
	}
	for {
		var kind ast.Kind
		switch p.cur().Tok {
		case token.LT:
			kind = ast.Lt
		case token.LE:
			kind = ast.Le
		case token.GT:
			kind = ast.Gt
		case token.GE:
			kind = ast.Ge
		default:
			return n, nil
		}
		tv := p.advance()
		rhs, err := p.shiftExpr()
		if err != nil {
			return nil, err
		}
		n = &ast.Node{Kind: kind, Lhs: n, Rhs: rhs, Typ: ctype.TyInt, Tok: tv}
	}
}

func (p *parser) shiftExpr() (*ast.Node, error) {
	n, err := p.addExpr()
	if err != nil {
		return nil, err
	}
	for {
		var kind ast.Kind
		switch p.cur().Tok {
		case token.LTLT:
			kind = ast.Shl
		case token.GTGT:
			kind = ast.Shr
		default:
			return n, nil
		}
		tv := p.advance()
		rhs, err := p.addExpr()
		if err != nil {
			return nil, err
		}
		n = &ast.Node{Kind: kind, Lhs: n, Rhs: rhs, Typ: n.Typ, Tok: tv}
	}
}

func (p *parser) addExpr() (*ast.Node, error) {
	n, err := p.mulExpr()
	if err != nil {
		return nil, err
	}
	for {
		var kind ast.Kind
		switch p.cur().Tok {
		case token.PLUS:
			kind = ast.Add
		case token.MINUS:
			kind = ast.Sub
		default:
			return n, nil
		}
		tv := p.advance()
		rhs, err := p.mulExpr()
		if err != nil {
			return nil, err
		}
		n = ast.NewBinary(kind, n, rhs, tv)
		n.Typ = resultType(n.Lhs.Typ, n.Rhs.Typ)
		if isPtrType(n.Lhs.Typ) {
			n.Typ = n.Lhs.Typ
			if kind == ast.Sub && isPtrType(n.Rhs.Typ) {
				n.Typ = ctype.TyLong
			}
		}
	}
}

func (p *parser) mulExpr() (*ast.Node, error) {
	n, err := p.castExpr()
	if err != nil {
		return nil, err
	}
	for {
		var kind ast.Kind
		switch p.cur().Tok {
		case token.STAR:
			kind = ast.Mul
		case token.SLASH:
			kind = ast.Div
		case token.PERCENT:
			kind = ast.Mod
		default:
			return n, nil
		}
		tv := p.advance()
		rhs, err := p.castExpr()
		if err != nil {
			return nil, err
		}
		n = &ast.Node{Kind: kind, Lhs: n, Rhs: rhs, Typ: resultType(n.Typ, rhs.Typ), Tok: tv}
	}
}

// castExpr parses `( type-name ) cast-expression` or falls through to
// unaryExpr. The lookahead disambiguates a parenthesized type name from a
// parenthesized expression by checking whether a declaration could start
// there.
func (p *parser) castExpr() (*ast.Node, error) {
	if p.at(token.LPAREN) && p.startsTypeNameAt(1) {
		tv := p.advance()
		t, err := p.typeName()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(token.RPAREN); err != nil {
			return nil, err
		}
		operand, err := p.castExpr()
		if err != nil {
			return nil, err
		}
		return &ast.Node{Kind: ast.Cast, Lhs: operand, CastType: t, Typ: t, Tok: tv}, nil
	}
	return p.unaryExpr()
}

// startsTypeNameAt reports whether the token n positions ahead begins a
// type-name (used only to disambiguate `(int)x` from `(x)`).
func (p *parser) startsTypeNameAt(n int) bool {
	tok := p.peek(n).Tok
	switch tok {
	case token.VOID, token.KW_BOOL, token.KW_CHAR, token.KW_SHORT, token.KW_INT, token.KW_LONG,
		token.KW_FLOAT, token.KW_DOUBLE, token.KW_SIGNED, token.KW_UNSIGNED,
		token.STRUCT, token.UNION, token.ENUM, token.CONST, token.ATOMIC, token.TYPEOF:
		return true
	case token.IDENT:
		if e := p.scope.findVar(p.peek(n).Val.Str); e != nil && e.kind == entryTypedef {
			return true
		}
	}
	return false
}

func (p *parser) unaryExpr() (*ast.Node, error) {
	switch p.cur().Tok {
	case token.PLUS:
		p.advance()
		return p.castExpr()
	case token.MINUS:
		tv := p.advance()
		operand, err := p.castExpr()
		if err != nil {
			return nil, err
		}
		return &ast.Node{Kind: ast.Neg, Lhs: operand, Typ: operand.Typ, Tok: tv}, nil
	case token.NOT:
		tv := p.advance()
		operand, err := p.castExpr()
		if err != nil {
			return nil, err
		}
		return &ast.Node{Kind: ast.Not, Lhs: operand, Typ: ctype.TyInt, Tok: tv}, nil
	case token.TILDE:
		tv := p.advance()
		operand, err := p.castExpr()
		if err != nil {
			return nil, err
		}
		return &ast.Node{Kind: ast.BitNot, Lhs: operand, Typ: operand.Typ, Tok: tv}, nil
	case token.STAR:
		tv := p.advance()
		operand, err := p.castExpr()
		if err != nil {
			return nil, err
		}
		if operand.Typ == nil || operand.Typ.Base == nil {
			return nil, p.errorf("cannot dereference a non-pointer")
		}
		return &ast.Node{Kind: ast.Deref, Lhs: operand, Typ: operand.Typ.Base, Tok: tv}, nil
	case token.AMPERSAND:
		tv := p.advance()
		operand, err := p.castExpr()
		if err != nil {
			return nil, err
		}
		if !operand.IsLvalue() {
			return nil, p.errorf("cannot take the address of a non-lvalue")
		}
		return &ast.Node{Kind: ast.Addr, Lhs: operand, Typ: ctype.PointerTo(operand.Typ), Tok: tv}, nil
	case token.INC:
		tv := p.advance()
		operand, err := p.castExpr()
		if err != nil {
			return nil, err
		}
		return &ast.Node{Kind: ast.PreInc, Lhs: operand, Typ: operand.Typ, Tok: tv}, nil
	case token.DEC:
		tv := p.advance()
		operand, err := p.castExpr()
		if err != nil {
			return nil, err
		}
		return &ast.Node{Kind: ast.PreDec, Lhs: operand, Typ: operand.Typ, Tok: tv}, nil
	case token.ANDAND:
		// GNU labels-as-values: &&label
		tv := p.advance()
		nameTok, err := p.expect(token.IDENT)
		if err != nil {
			return nil, err
		}
		return &ast.Node{Kind: ast.LabelAddr, Label: nameTok.Val.Str, Typ: ctype.PointerTo(ctype.TyVoid), Tok: tv}, nil
	case token.SIZEOF:
		tv := p.advance()
		if p.at(token.LPAREN) && p.startsTypeNameAt(1) {
			p.advance()
			t, err := p.typeName()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(token.RPAREN); err != nil {
				return nil, err
			}
			return &ast.Node{Kind: ast.SizeofType, CastType: t, Typ: ctype.TyULong, IVal: t.Size, Tok: tv}, nil
		}
		operand, err := p.unaryExpr()
		if err != nil {
			return nil, err
		}
		return &ast.Node{Kind: ast.SizeofExpr, Lhs: operand, Typ: ctype.TyULong, Tok: tv}, nil
	case token.ALIGNOF:
		tv := p.advance()
		if _, err := p.expect(token.LPAREN); err != nil {
			return nil, err
		}
		t, err := p.typeName()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(token.RPAREN); err != nil {
			return nil, err
		}
		return &ast.Node{Kind: ast.AlignofType, CastType: t, Typ: ctype.TyULong, IVal: t.Align, Tok: tv}, nil
	}
	return p.postfixExpr()
}

func (p *parser) postfixExpr() (*ast.Node, error) {
	n, err := p.primaryExpr()
	if err != nil {
		return nil, err
	}
	for {
		switch p.cur().Tok {
		case token.LBRACK:
			tv := p.advance()
			idx, err := p.expr()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(token.RBRACK); err != nil {
				return nil, err
			}
			add := ast.NewBinary(ast.Add, n, idx, tv)
			elemType := n.Typ
			if elemType != nil && elemType.Base != nil {
				elemType = elemType.Base
			}
			n = &ast.Node{Kind: ast.Deref, Lhs: add, Typ: elemType, Tok: tv}
		case token.DOT:
			tv := p.advance()
			nameTok, err := p.expect(token.IDENT)
			if err != nil {
				return nil, err
			}
			m, mt := lookupMember(n.Typ, nameTok.Val.Str)
			n = &ast.Node{Kind: ast.Member, Lhs: n, MemberName: nameTok.Val.Str, MemberT: m, Typ: mt, Tok: tv}
		case token.ARROW:
			tv := p.advance()
			nameTok, err := p.expect(token.IDENT)
			if err != nil {
				return nil, err
			}
			var base *ctype.Type
			if n.Typ != nil {
				base = n.Typ.Base
			}
			m, mt := lookupMember(base, nameTok.Val.Str)
			n = &ast.Node{Kind: ast.Arrow, Lhs: n, MemberName: nameTok.Val.Str, MemberT: m, Typ: mt, Tok: tv}
		case token.INC:
			tv := p.advance()
			n = &ast.Node{Kind: ast.PostInc, Lhs: n, Typ: n.Typ, Tok: tv}
		case token.DEC:
			tv := p.advance()
			n = &ast.Node{Kind: ast.PostDec, Lhs: n, Typ: n.Typ, Tok: tv}
		case token.LPAREN:
			args, funcType, tv, err := p.callArgs()
			if err != nil {
				return nil, err
			}
			if funcType == nil && n.Typ != nil {
				switch {
				case n.Typ.Kind == ctype.Func:
					funcType = n.Typ
				case n.Typ.Kind == ctype.Ptr && n.Typ.Base != nil && n.Typ.Base.Kind == ctype.Func:
					funcType = n.Typ.Base
				}
			}
			retType := ctype.TyInt
			if funcType != nil && funcType.Return != nil {
				retType = funcType.Return
			}
			n = &ast.Node{Kind: ast.Call, Lhs: n, Args: args, FuncType: funcType, Typ: retType, Tok: tv}
		default:
			return n, nil
		}
	}
}

func (p *parser) callArgs() ([]*ast.Node, *ctype.Type, token.TokenAndValue, error) {
	tv, _ := p.accept(token.LPAREN)
	var args []*ast.Node
	if !p.at(token.RPAREN) {
		for {
			a, err := p.assignExpr()
			if err != nil {
				return nil, nil, tv, err
			}
			args = append(args, a)
			if _, ok := p.accept(token.COMMA); !ok {
				break
			}
		}
	}
	if _, err := p.expect(token.RPAREN); err != nil {
		return nil, nil, tv, err
	}
	return args, nil, tv, nil
}

func lookupMember(t *ctype.Type, name string) (*ctype.Member, *ctype.Type) {
	if t == nil {
		return nil, ctype.TyInt
	}
	for _, m := range t.Members {
		if m.Name == name {
			return m, m.Type
		}
	}
	return nil, ctype.TyInt
}

func (p *parser) primaryExpr() (*ast.Node, error) {
	tv := p.cur()
	switch tv.Tok {
	case token.LPAREN:
		p.advance()
		if p.at(token.LBRACE) {
			// GNU statement expression ({ ... })
			body, err := p.compoundStmt()
			if err != nil {
				return nil, err
			}
			var resultType *ctype.Type = ctype.TyVoid
			if len(body.Body) > 0 {
				last := body.Body[len(body.Body)-1]
				if last.Kind == ast.ExprStmt {
					resultType = last.Lhs.Typ
				}
			}
			if _, err := p.expect(token.RPAREN); err != nil {
				return nil, err
			}
			return &ast.Node{Kind: ast.StmtExpr, Body: body.Body, Typ: resultType, Tok: tv}, nil
		}
		n, err := p.expr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(token.RPAREN); err != nil {
			return nil, err
		}
		return n, nil
	case token.INT, token.FLOAT:
		p.advance()
		if tv.Tok == token.FLOAT {
			return &ast.Node{Kind: ast.FloatLit, FVal: tv.Val.Float, Typ: ctype.TyDouble, Tok: tv}, nil
		}
		t := ctype.TyInt
		if tv.Val.IsLong {
			t = ctype.TyLong
		}
		if tv.Val.IsUns {
			t = ctype.TyUInt
			if tv.Val.IsLong {
				t = ctype.TyULong
			}
		}
		return &ast.Node{Kind: ast.IntLit, IVal: tv.Val.Int, Typ: t, Tok: tv}, nil
	case token.STRING:
		p.advance()
		local := p.newStringLocal(tv.Val.Str)
		return &ast.Node{Kind: ast.VarRef, Name: local.Name, Obj: local, Typ: local.Type, Tok: tv}, nil
	case token.IDENT:
		if name := tv.Val.Str; name == "va_start" || name == "va_arg" || name == "va_end" {
			return p.vaBuiltin(name, tv)
		}
		p.advance()
		e := p.scope.findVar(tv.Val.Str)
		if e == nil {
			return nil, p.errorf("undeclared identifier %q", tv.Val.Str)
		}
		switch e.kind {
		case entryEnumConst:
			return &ast.Node{Kind: ast.IntLit, IVal: e.enumVal, Typ: e.enumType, Tok: tv}, nil
		case entryTypedef:
			return nil, p.errorf("%q is a type, not a value", tv.Val.Str)
		default:
			n := &ast.Node{Kind: ast.VarRef, Name: tv.Val.Str, Obj: e.obj, Typ: e.obj.Type, Tok: tv}
			if p.curFunc != nil {
				p.curFunc.Refs = append(p.curFunc.Refs, tv.Val.Str)
			}
			return n, nil
		}
	case token.GENERIC:
		return p.genericSelection()
	}
	return nil, p.errorf("expected an expression, got %s", tv.Tok)
}

// vaBuiltin parses one of the three stdarg.h forms directly rather than as
// an ordinary call: va_arg's second operand is a type name, not an
// expression (like sizeof/alignof above), so it cannot go through
// postfixExpr's generic ast.Call machinery and be dispatched by name later
// the way lang/compiler/addr.go's heapBuiltins map handles malloc/free.
func (p *parser) vaBuiltin(name string, tv token.TokenAndValue) (*ast.Node, error) {
	p.advance()
	if _, err := p.expect(token.LPAREN); err != nil {
		return nil, err
	}
	ap, err := p.assignExpr()
	if err != nil {
		return nil, err
	}
	switch name {
	case "va_start":
		if _, err := p.expect(token.COMMA); err != nil {
			return nil, err
		}
		if _, err := p.assignExpr(); err != nil { // last named parameter: unused, the frame already knows its own va_area offset
			return nil, err
		}
		if _, err := p.expect(token.RPAREN); err != nil {
			return nil, err
		}
		return &ast.Node{Kind: ast.VaStart, Lhs: ap, Typ: ctype.TyVoid, Tok: tv}, nil
	case "va_arg":
		if _, err := p.expect(token.COMMA); err != nil {
			return nil, err
		}
		t, err := p.typeName()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(token.RPAREN); err != nil {
			return nil, err
		}
		return &ast.Node{Kind: ast.VaArg, Lhs: ap, Typ: t, Tok: tv}, nil
	default: // va_end
		if _, err := p.expect(token.RPAREN); err != nil {
			return nil, err
		}
		return &ast.Node{Kind: ast.VaEnd, Lhs: ap, Typ: ctype.TyVoid, Tok: tv}, nil
	}
}

// genericSelection parses a C11 `_Generic(expr, type: expr, ..., default:
// expr)` and resolves it at parse time against the controlling expression's
// type, since this module compiles each translation unit in one pass with
// no separate instantiation phase.
func (p *parser) genericSelection() (*ast.Node, error) {
	p.advance()
	if _, err := p.expect(token.LPAREN); err != nil {
		return nil, err
	}
	ctrl, err := p.assignExpr()
	if err != nil {
		return nil, err
	}
	var result *ast.Node
	var defaultResult *ast.Node
	for {
		if _, ok := p.accept(token.COMMA); !ok {
			break
		}
		if _, ok := p.accept(token.DEFAULT); ok {
			if _, err := p.expect(token.COLON); err != nil {
				return nil, err
			}
			e, err := p.assignExpr()
			if err != nil {
				return nil, err
			}
			defaultResult = e
			continue
		}
		t, err := p.typeName()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(token.COLON); err != nil {
			return nil, err
		}
		e, err := p.assignExpr()
		if err != nil {
			return nil, err
		}
		if result == nil && ctype.IsCompatible(t, ctrl.Typ) {
			result = e
		}
	}
	if _, err := p.expect(token.RPAREN); err != nil {
		return nil, err
	}
	if result != nil {
		return result, nil
	}
	if defaultResult != nil {
		return defaultResult, nil
	}
	return nil, p.errorf("_Generic: no matching association")
}

func (p *parser) leftAssoc(tok token.Token, kind ast.Kind, next func(*parser) (*ast.Node, error)) (*ast.Node, error) {
	n, err := next(p)
	if err != nil {
		return nil, err
	}
	for {
		tv, ok := p.accept(tok)
		if !ok {
			return n, nil
		}
		rhs, err := next(p)
		if err != nil {
			return nil, err
		}
		n = &ast.Node{Kind: kind, Lhs: n, Rhs: rhs, Typ: resultType(n.Typ, rhs.Typ), Tok: tv}
	}
}

func isPtrType(t *ctype.Type) bool {
	return t != nil && (t.Kind == ctype.Ptr || t.Kind == ctype.Array)
}

// resultType applies a simplified "usual arithmetic conversions": the wider
// rank (by Size, floating beats integer) wins. Good enough for this
// module's scalar type set; full C promotion/conversion rank ordering is
// not modeled.
func resultType(a, b *ctype.Type) *ctype.Type {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if a.IsFloating() && !b.IsFloating() {
		return a
	}
	if b.IsFloating() && !a.IsFloating() {
		return b
	}
	if a.Size >= b.Size {
		return a
	}
	return b
}
