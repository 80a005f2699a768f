package parser

import (
	"github.com/jcc-lang/jcc/lang/ast"
	"github.com/jcc-lang/jcc/lang/ctype"
	"github.com/jcc-lang/jcc/lang/token"
)

// funcDeclarator parses a top-level function declarator: `[*]name(params)`.
// Unlike declarator/declaratorSuffix (used for variables, typedefs, and
// abstract type-names, where only the resulting *ctype.Type matters), a
// function definition also needs each parameter's name to declare it in the
// function body's scope, so this path is kept separate and simpler than the
// general spiral-rule declarator.
func (p *parser) funcDeclarator(base *ctype.Type) (name string, sig *ctype.Type, params []*ast.Obj, err error) {
	for {
		if _, ok := p.accept(token.STAR); !ok {
			break
		}
		base = ctype.PointerTo(base)
	}
	nameTok, err := p.expect(token.IDENT)
	if err != nil {
		return "", nil, nil, err
	}
	name = nameTok.Val.Str
	if _, err := p.expect(token.LPAREN); err != nil {
		return "", nil, nil, err
	}
	var paramTypes []*ctype.Type
	variadic := false
	if !p.at(token.RPAREN) {
		for {
			if _, ok := p.accept(token.ELLIPSIS); ok {
				variadic = true
				break
			}
			pbase, _, _, _, _, _, err := p.declSpec()
			if err != nil {
				return "", nil, nil, err
			}
			pname, pt, err := p.declarator(pbase)
			if err != nil {
				return "", nil, nil, err
			}
			pt = ctype.Decay(pt)
			paramTypes = append(paramTypes, pt)
			params = append(params, &ast.Obj{Name: pname, Type: pt})
			if _, ok := p.accept(token.COMMA); !ok {
				break
			}
		}
	}
	if _, err := p.expect(token.RPAREN); err != nil {
		return "", nil, nil, err
	}
	return name, ctype.FuncType(base, paramTypes, variadic), params, nil
}

// looksLikeFuncDecl reports whether, starting at the current token, a
// function declarator follows (zero or more `*`, an identifier, then `(`),
// the disambiguation topLevelDecl needs to choose between funcDeclarator and
// the general variable declarator loop.
func (p *parser) looksLikeFuncDecl() bool {
	i := 0
	for p.peek(i).Tok == token.STAR {
		i++
	}
	return p.peek(i).Tok == token.IDENT && p.peek(i+1).Tok == token.LPAREN
}

// topLevelDecl parses one top-level declaration: a typedef, a function
// prototype or definition, or one or more global-variable declarators.
func (p *parser) topLevelDecl() error {
	base, isTypedef, isStatic, isExtern, _, _, err := p.declSpec()
	if err != nil {
		return err
	}
	p.skipAttributes()
	if _, ok := p.accept(token.SEMI); ok {
		return nil // struct/union/enum definition used only to declare a tag
	}

	if isTypedef {
		for {
			name, t, err := p.declarator(base)
			if err != nil {
				return err
			}
			p.declareTypedef(name, t)
			if _, ok := p.accept(token.COMMA); !ok {
				break
			}
		}
		_, err := p.expect(token.SEMI)
		return err
	}

	if p.looksLikeFuncDecl() {
		return p.funcDeclOrDef(base, isStatic)
	}

	for {
		name, t, err := p.declarator(base)
		if err != nil {
			return err
		}
		obj := &ast.Obj{Name: name, Type: t, IsStatic: isStatic, IsRoot: !isStatic}
		if _, ok := p.accept(token.EQ); ok {
			init, err := p.initializer(t)
			if err != nil {
				return err
			}
			data, relocs := init.FlattenGlobal()
			obj.InitData = data
			obj.Relocations = relocs
			obj.IsDefinition = true
		} else if !isExtern {
			sz := t.Size
			if sz < 0 {
				sz = 0
			}
			obj.InitData = make([]byte, sz)
			obj.IsDefinition = true
			obj.IsTentative = true
		}
		p.declareVar(name, obj)
		p.globals = append(p.globals, obj)
		if _, ok := p.accept(token.COMMA); !ok {
			break
		}
	}
	_, err = p.expect(token.SEMI)
	return err
}

func (p *parser) funcDeclOrDef(base *ctype.Type, isStatic bool) error {
	name, sig, params, err := p.funcDeclarator(base)
	if err != nil {
		return err
	}
	obj := &ast.Obj{Name: name, Type: sig, IsFunction: true, IsStatic: isStatic,
		IsVariadic: sig.IsVariadic, IsRoot: name == "main" || !isStatic}
	p.declareVar(name, obj)

	if !p.at(token.LBRACE) {
		_, err := p.expect(token.SEMI)
		p.globals = append(p.globals, obj)
		return err
	}

	prevFunc := p.curFunc
	prevLabels, prevGotos := p.labels, p.gotoRefs
	p.curFunc = obj
	p.labels = map[string]bool{}
	p.gotoRefs = nil

	p.pushScope()
	for _, prm := range params {
		p.declareVar(prm.Name, prm)
	}
	body, err := p.compoundStmt()
	if err != nil {
		p.popScope()
		p.curFunc, p.labels, p.gotoRefs = prevFunc, prevLabels, prevGotos
		return err
	}
	p.popScope()

	if unresolved := p.unresolvedGotoNames(); len(unresolved) > 0 {
		err := p.errorf("use of undeclared label %q", unresolved[0])
		p.curFunc, p.labels, p.gotoRefs = prevFunc, prevLabels, prevGotos
		return err
	}

	obj.Body = body
	obj.Params = params
	obj.IsDefinition = true
	p.curFunc, p.labels, p.gotoRefs = prevFunc, prevLabels, prevGotos
	p.globals = append(p.globals, obj)
	return nil
}

// compoundStmt parses `{ (declaration | statement)* }` into a Block node.
func (p *parser) compoundStmt() (*ast.Node, error) {
	open, err := p.expect(token.LBRACE)
	if err != nil {
		return nil, err
	}
	p.pushScope()
	defer p.popScope()

	var body []*ast.Node
	for !p.at(token.RBRACE) && !p.atEOF() {
		if p.isDeclStart() {
			stmts, err := p.localDecl()
			if err != nil {
				return nil, err
			}
			body = append(body, stmts...)
			continue
		}
		s, err := p.statement()
		if err != nil {
			return nil, err
		}
		body = append(body, s)
	}
	if _, err := p.expect(token.RBRACE); err != nil {
		return nil, err
	}
	return &ast.Node{Kind: ast.Block, Body: body, Tok: open}, nil
}

// localDecl parses one local declaration (possibly several comma-separated
// declarators) into a Decl statement node recording the declared Objs,
// followed by one ExprStmt per explicitly-initialized leaf.
func (p *parser) localDecl() ([]*ast.Node, error) {
	base, isTypedef, isStatic, _, _, isConstexpr, err := p.declSpec()
	if err != nil {
		return nil, err
	}
	p.skipAttributes()
	if _, ok := p.accept(token.SEMI); ok {
		return nil, nil
	}

	if isTypedef {
		for {
			name, t, err := p.declarator(base)
			if err != nil {
				return nil, err
			}
			p.declareTypedef(name, t)
			if _, ok := p.accept(token.COMMA); !ok {
				break
			}
		}
		_, err := p.expect(token.SEMI)
		return nil, err
	}

	var decl ast.Node
	decl.Kind = ast.Decl
	var stmts []*ast.Node
	for {
		name, t, err := p.declarator(base)
		if err != nil {
			return nil, err
		}
		obj := &ast.Obj{Name: name, Type: t, IsStatic: isStatic, IsConstexpr: isConstexpr}
		decl.Decls = append(decl.Decls, obj)
		if isStatic {
			p.globals = append(p.globals, obj)
			obj.IsDefinition = true
		} else if p.curFunc != nil {
			p.curFunc.Locals = append(p.curFunc.Locals, obj)
		}
		p.declareVar(name, obj)

		if _, ok := p.accept(token.EQ); ok {
			init, err := p.initializer(t)
			if err != nil {
				return nil, err
			}
			if isStatic {
				data, relocs := init.FlattenGlobal()
				obj.InitData = data
				obj.Relocations = relocs
			} else {
				target := &ast.Node{Kind: ast.VarRef, Name: name, Obj: obj, Typ: t}
				stmts = append(stmts, init.Flatten(target)...)
			}
		}
		if _, ok := p.accept(token.COMMA); !ok {
			break
		}
	}
	if _, err := p.expect(token.SEMI); err != nil {
		return nil, err
	}
	return append([]*ast.Node{&decl}, stmts...), nil
}

// initializer parses a brace-enclosed or scalar initializer for t, mutating
// t's ArrayLen/Size in place when t is an incomplete array sized by its
// initializer (`int a[] = {1,2,3}` or a string literal).
func (p *parser) initializer(t *ctype.Type) (*ast.Initializer, error) {
	if t.Kind == ctype.Array && t.Base.Kind == ctype.Char && p.at(token.STRING) {
		tv := p.advance()
		bytes := append([]byte(tv.Val.Str), 0)
		if t.ArrayLen < 0 {
			t.ArrayLen = int64(len(bytes))
			t.Size = t.ArrayLen
		}
		init := &ast.Initializer{Type: t, Children: make([]*ast.Initializer, t.ArrayLen)}
		for i := range init.Children {
			var b byte
			if i < len(bytes) {
				b = bytes[i]
			}
			init.Children[i] = &ast.Initializer{Type: ctype.TyChar, Expr: &ast.Node{Kind: ast.IntLit, IVal: int64(b), Typ: ctype.TyChar}}
		}
		return init, nil
	}

	if !p.at(token.LBRACE) {
		e, err := p.assignExpr()
		if err != nil {
			return nil, err
		}
		return &ast.Initializer{Type: t, Expr: e}, nil
	}

	p.advance() // {
	init := ast.NewInitializer(t)
	switch t.Kind {
	case ctype.Struct, ctype.Union:
		idx := 0
		for !p.at(token.RBRACE) {
			if _, ok := p.accept(token.DOT); ok {
				nameTok, err := p.expect(token.IDENT)
				if err != nil {
					return nil, err
				}
				for i, m := range t.Members {
					if m.Name == nameTok.Val.Str {
						idx = i
					}
				}
				if _, err := p.expect(token.EQ); err != nil {
					return nil, err
				}
			}
			if idx < len(init.Children) && idx < len(t.Members) {
				child, err := p.initializer(t.Members[idx].Type)
				if err != nil {
					return nil, err
				}
				init.Children[idx] = child
			}
			idx++
			if _, ok := p.accept(token.COMMA); !ok {
				break
			}
		}
	case ctype.Array, ctype.VLA:
		idx := 0
		for !p.at(token.RBRACE) {
			if _, ok := p.accept(token.LBRACK); ok {
				n, err := p.constantExpr()
				if err != nil {
					return nil, err
				}
				idx = int(n)
				if _, err := p.expect(token.RBRACK); err != nil {
					return nil, err
				}
				if _, err := p.expect(token.EQ); err != nil {
					return nil, err
				}
			}
			for idx >= len(init.Children) {
				init.Children = append(init.Children, ast.NewInitializer(t.Base))
			}
			child, err := p.initializer(t.Base)
			if err != nil {
				return nil, err
			}
			init.Children[idx] = child
			idx++
			if _, ok := p.accept(token.COMMA); !ok {
				break
			}
		}
		if t.ArrayLen < 0 {
			t.ArrayLen = int64(len(init.Children))
			t.Size = t.Base.Size * t.ArrayLen
		}
	default:
		child, err := p.initializer(t)
		if err != nil {
			return nil, err
		}
		init = child
	}
	if _, err := p.expect(token.RBRACE); err != nil {
		return nil, err
	}
	return init, nil
}

// statement parses one statement (everything that is not a declaration).
func (p *parser) statement() (*ast.Node, error) {
	switch p.cur().Tok {
	case token.LBRACE:
		return p.compoundStmt()
	case token.IF:
		return p.ifStmt()
	case token.FOR:
		return p.forStmt()
	case token.WHILE:
		return p.whileStmt()
	case token.DO:
		return p.doWhileStmt()
	case token.SWITCH:
		return p.switchStmt()
	case token.CASE:
		return p.caseStmt()
	case token.DEFAULT:
		return p.defaultStmt()
	case token.BREAK:
		tv := p.advance()
		_, err := p.expect(token.SEMI)
		return &ast.Node{Kind: ast.Break, Tok: tv}, err
	case token.CONTINUE:
		tv := p.advance()
		_, err := p.expect(token.SEMI)
		return &ast.Node{Kind: ast.Continue, Tok: tv}, err
	case token.GOTO:
		return p.gotoStmt()
	case token.RETURN:
		return p.returnStmt()
	case token.SEMI:
		tv := p.advance()
		return &ast.Node{Kind: ast.Block, Tok: tv}, nil
	case token.IDENT:
		if p.peek(1).Tok == token.COLON {
			return p.labelStmt()
		}
	}
	return p.exprStmt()
}

func (p *parser) exprStmt() (*ast.Node, error) {
	tv := p.cur()
	e, err := p.expr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(token.SEMI); err != nil {
		return nil, err
	}
	return &ast.Node{Kind: ast.ExprStmt, Lhs: e, Tok: tv}, nil
}

func (p *parser) ifStmt() (*ast.Node, error) {
	tv := p.advance()
	if _, err := p.expect(token.LPAREN); err != nil {
		return nil, err
	}
	cond, err := p.expr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(token.RPAREN); err != nil {
		return nil, err
	}
	then, err := p.statement()
	if err != nil {
		return nil, err
	}
	n := &ast.Node{Kind: ast.If, Cond_: cond, Then: then, Tok: tv}
	if _, ok := p.accept(token.ELSE); ok {
		els, err := p.statement()
		if err != nil {
			return nil, err
		}
		n.Else = els
	}
	return n, nil
}

func (p *parser) forStmt() (*ast.Node, error) {
	tv := p.advance()
	if _, err := p.expect(token.LPAREN); err != nil {
		return nil, err
	}
	p.pushScope()
	defer p.popScope()

	n := &ast.Node{Kind: ast.For, Tok: tv}
	if !p.at(token.SEMI) {
		if p.isDeclStart() {
			stmts, err := p.localDecl()
			if err != nil {
				return nil, err
			}
			n.Init = &ast.Node{Kind: ast.Block, Body: stmts}
		} else {
			e, err := p.expr()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(token.SEMI); err != nil {
				return nil, err
			}
			n.Init = &ast.Node{Kind: ast.ExprStmt, Lhs: e}
		}
	} else {
		p.advance()
	}
	if !p.at(token.SEMI) {
		cond, err := p.expr()
		if err != nil {
			return nil, err
		}
		n.Cond_ = cond
	}
	if _, err := p.expect(token.SEMI); err != nil {
		return nil, err
	}
	if !p.at(token.RPAREN) {
		post, err := p.expr()
		if err != nil {
			return nil, err
		}
		n.Post = post
	}
	if _, err := p.expect(token.RPAREN); err != nil {
		return nil, err
	}
	body, err := p.statement()
	if err != nil {
		return nil, err
	}
	n.Then = body
	return n, nil
}

func (p *parser) whileStmt() (*ast.Node, error) {
	tv := p.advance()
	if _, err := p.expect(token.LPAREN); err != nil {
		return nil, err
	}
	cond, err := p.expr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(token.RPAREN); err != nil {
		return nil, err
	}
	body, err := p.statement()
	if err != nil {
		return nil, err
	}
	return &ast.Node{Kind: ast.For, Cond_: cond, Then: body, Tok: tv}, nil
}

func (p *parser) doWhileStmt() (*ast.Node, error) {
	tv := p.advance()
	body, err := p.statement()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(token.WHILE); err != nil {
		return nil, err
	}
	if _, err := p.expect(token.LPAREN); err != nil {
		return nil, err
	}
	cond, err := p.expr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(token.RPAREN); err != nil {
		return nil, err
	}
	if _, err := p.expect(token.SEMI); err != nil {
		return nil, err
	}
	return &ast.Node{Kind: ast.DoWhile, Cond_: cond, Then: body, Tok: tv}, nil
}

func (p *parser) switchStmt() (*ast.Node, error) {
	tv := p.advance()
	if _, err := p.expect(token.LPAREN); err != nil {
		return nil, err
	}
	cond, err := p.expr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(token.RPAREN); err != nil {
		return nil, err
	}
	body, err := p.statement()
	if err != nil {
		return nil, err
	}
	n := &ast.Node{Kind: ast.Switch, Cond_: cond, Then: body, Tok: tv}
	collectCases(body, &n.Cases)
	return n, nil
}

// collectCases walks a switch body collecting its direct Case/Default
// children (not descending into nested switches), which lang/compiler
// lowers to its compare chain.
func collectCases(n *ast.Node, out *[]*ast.Node) {
	if n == nil {
		return
	}
	switch n.Kind {
	case ast.Case, ast.Default:
		*out = append(*out, n)
		collectCases(n.Then, out)
	case ast.Switch:
		return
	case ast.Block:
		for _, s := range n.Body {
			collectCases(s, out)
		}
	case ast.If:
		collectCases(n.Then, out)
		collectCases(n.Else, out)
	case ast.For, ast.DoWhile:
		collectCases(n.Then, out)
	case ast.Label:
		collectCases(n.Then, out)
	}
}

func (p *parser) caseStmt() (*ast.Node, error) {
	tv := p.advance()
	lo, err := p.constantExpr()
	if err != nil {
		return nil, err
	}
	hi := lo
	if _, ok := p.accept(token.ELLIPSIS); ok {
		hi, err = p.constantExpr()
		if err != nil {
			return nil, err
		}
	}
	if _, err := p.expect(token.COLON); err != nil {
		return nil, err
	}
	body, err := p.statement()
	if err != nil {
		return nil, err
	}
	return &ast.Node{Kind: ast.Case, IVal: lo, CaseHi: hi, Then: body, Tok: tv}, nil
}

func (p *parser) defaultStmt() (*ast.Node, error) {
	tv := p.advance()
	if _, err := p.expect(token.COLON); err != nil {
		return nil, err
	}
	body, err := p.statement()
	if err != nil {
		return nil, err
	}
	return &ast.Node{Kind: ast.Default, Then: body, Tok: tv}, nil
}

func (p *parser) gotoStmt() (*ast.Node, error) {
	tv := p.advance()
	if _, ok := p.accept(token.STAR); ok {
		target, err := p.expr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(token.SEMI); err != nil {
			return nil, err
		}
		return &ast.Node{Kind: ast.ComputedGoto, Lhs: target, Tok: tv}, nil
	}
	nameTok, err := p.expect(token.IDENT)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(token.SEMI); err != nil {
		return nil, err
	}
	p.gotoRefs = append(p.gotoRefs, gotoRef{name: nameTok.Val.Str})
	return &ast.Node{Kind: ast.Goto, Label: nameTok.Val.Str, Tok: tv}, nil
}

func (p *parser) labelStmt() (*ast.Node, error) {
	nameTok := p.advance()
	p.advance() // :
	p.labels[nameTok.Val.Str] = true
	body, err := p.statement()
	if err != nil {
		return nil, err
	}
	return &ast.Node{Kind: ast.Label, Label: nameTok.Val.Str, Then: body, Tok: nameTok}, nil
}

func (p *parser) returnStmt() (*ast.Node, error) {
	tv := p.advance()
	if _, ok := p.accept(token.SEMI); ok {
		return &ast.Node{Kind: ast.Return, Tok: tv}, nil
	}
	e, err := p.expr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(token.SEMI); err != nil {
		return nil, err
	}
	return &ast.Node{Kind: ast.Return, Lhs: e, Tok: tv}, nil
}
