package parser

import (
	"github.com/jcc-lang/jcc/lang/ctype"
	"github.com/jcc-lang/jcc/lang/token"
)

// typeSpec accumulates the type-specifier keywords seen in a
// declaration-specifiers list, the chibicc-style bitmask approach that
// tolerates any standard-permitted ordering (`unsigned long long`, `long
// unsigned`, ...) without a combinatorial switch.
type typeSpec struct {
	void, char, short, int_, long, float_, double, signed, unsigned, bool_ int
	isConst, isAtomic                                                     bool
	named                                                                  *ctype.Type // struct/union/enum/typedef resolved type, if any
}

// declSpec parses one declaration-specifiers list (storage class, qualifiers,
// and type specifiers) into a *ctype.Type, SPEC_FULL.md §4.2's "parses
// declaration-specifiers into a *ctype.Type" requirement. isTypedef/isStatic
// report the storage-class keywords seen, since those affect the Obj built
// by the caller rather than the Type itself.
func (p *parser) declSpec() (t *ctype.Type, isTypedef, isStatic, isExtern, isInline, isConstexpr bool, err error) {
	var spec typeSpec
	sawAny := false

loop:
	for {
		switch p.cur().Tok {
		case token.TYPEDEF:
			isTypedef = true
			p.advance()
		case token.STATIC:
			isStatic = true
			p.advance()
		case token.EXTERN:
			isExtern = true
			p.advance()
		case token.INLINE:
			isInline = true
			p.advance()
		case token.CONSTEXPR:
			isConstexpr = true
			p.advance()
		case token.REGISTER, token.AUTO:
			p.advance()
		case token.CONST:
			spec.isConst = true
			p.advance()
		case token.VOLATILE, token.RESTRICT:
			p.advance()
		case token.ATOMIC:
			spec.isAtomic = true
			p.advance()
		case token.ATTRIBUTE, token.LBRACK:
			if p.cur().Tok == token.LBRACK && p.peek(1).Tok != token.LBRACK {
				break loop
			}
			p.skipAttributes()
		case token.VOID:
			spec.void++
			sawAny = true
			p.advance()
		case token.KW_BOOL:
			spec.bool_++
			sawAny = true
			p.advance()
		case token.KW_CHAR:
			spec.char++
			sawAny = true
			p.advance()
		case token.KW_SHORT:
			spec.short++
			sawAny = true
			p.advance()
		case token.KW_INT:
			spec.int_++
			sawAny = true
			p.advance()
		case token.KW_LONG:
			spec.long++
			sawAny = true
			p.advance()
		case token.KW_FLOAT:
			spec.float_++
			sawAny = true
			p.advance()
		case token.KW_DOUBLE:
			spec.double++
			sawAny = true
			p.advance()
		case token.KW_SIGNED:
			spec.signed++
			sawAny = true
			p.advance()
		case token.KW_UNSIGNED:
			spec.unsigned++
			sawAny = true
			p.advance()
		case token.STRUCT, token.UNION:
			named, err := p.structOrUnionSpecifier()
			if err != nil {
				return nil, false, false, false, false, false, err
			}
			spec.named = named
			sawAny = true
		case token.ENUM:
			named, err := p.enumSpecifier()
			if err != nil {
				return nil, false, false, false, false, false, err
			}
			spec.named = named
			sawAny = true
		case token.TYPEOF:
			p.advance()
			if _, err := p.expect(token.LPAREN); err != nil {
				return nil, false, false, false, false, false, err
			}
			inner, err := p.typeName()
			if err != nil {
				return nil, false, false, false, false, false, err
			}
			if _, err := p.expect(token.RPAREN); err != nil {
				return nil, false, false, false, false, false, err
			}
			spec.named = inner
			sawAny = true
		case token.IDENT:
			if sawAny {
				break loop
			}
			if e := p.scope.findVar(p.cur().Val.Str); e != nil && e.kind == entryTypedef {
				spec.named = e.typedef
				sawAny = true
				p.advance()
				continue
			}
			break loop
		default:
			break loop
		}
	}

	if !sawAny {
		return nil, false, false, false, false, false, p.errorf("expected a type")
	}

	if spec.named != nil {
		return spec.named, isTypedef, isStatic, isExtern, isInline, isConstexpr, nil
	}
	resolved, err := spec.resolve()
	if err != nil {
		return nil, false, false, false, false, false, p.errorf("%s", err.Error())
	}
	return resolved, isTypedef, isStatic, isExtern, isInline, isConstexpr, nil
}

func (s *typeSpec) resolve() (*ctype.Type, error) {
	switch {
	case s.void > 0:
		return ctype.TyVoid, nil
	case s.bool_ > 0:
		return ctype.TyBool, nil
	case s.char > 0:
		if s.unsigned > 0 {
			return ctype.TyUChar, nil
		}
		return ctype.TyChar, nil
	case s.float_ > 0:
		return ctype.TyFloat, nil
	case s.double > 0:
		if s.long > 0 {
			return ctype.TyLongDouble, nil
		}
		return ctype.TyDouble, nil
	case s.short > 0:
		if s.unsigned > 0 {
			return ctype.TyUShort, nil
		}
		return ctype.TyShort, nil
	case s.long > 0:
		if s.unsigned > 0 {
			return ctype.TyULong, nil
		}
		return ctype.TyLong, nil
	case s.unsigned > 0:
		return ctype.TyUInt, nil
	default:
		// bare `int`, `signed`, or nothing but a storage-class keyword implies int
		return ctype.TyInt, nil
	}
}

// structOrUnionSpecifier parses `struct`/`union` [tag] [{ member-decl* }].
func (p *parser) structOrUnionSpecifier() (*ctype.Type, error) {
	isUnion := p.cur().Tok == token.UNION
	p.advance()
	isPacked := false
	markPacked := func(from int) {
		for _, tv := range p.toks[from:p.pos] {
			if tv.Tok == token.IDENT && (tv.Val.Str == "packed" || tv.Val.Str == "__packed__") {
				isPacked = true
			}
		}
	}
	attrStart := p.pos
	p.skipAttributes()
	markPacked(attrStart)

	var tag string
	if tv, ok := p.accept(token.IDENT); ok {
		tag = tv.Val.Str
	}

	if !p.at(token.LBRACE) {
		if tag == "" {
			return nil, p.errorf("expected a struct/union tag or body")
		}
		if t := p.scope.findTag(tag); t != nil {
			return t, nil
		}
		// forward reference to an incomplete tag; filled in once defined
		fwd := &ctype.Type{Kind: ctype.Struct, Size: -1}
		if isUnion {
			fwd.Kind = ctype.Union
		}
		p.declareTag(tag, fwd)
		return fwd, nil
	}

	p.advance() // {
	var members []*ctype.Member
	for !p.at(token.RBRACE) {
		memberBase, _, _, _, _, _, err := p.declSpec()
		if err != nil {
			return nil, err
		}
		p.skipAttributes()
		for {
			name, mt, err := p.declarator(memberBase)
			if err != nil {
				return nil, err
			}
			bitWidth := 0
			if _, ok := p.accept(token.COLON); ok {
				n, err := p.constantExpr()
				if err != nil {
					return nil, err
				}
				bitWidth = int(n)
			}
			members = append(members, &ctype.Member{Name: name, Type: mt, BitWidth: bitWidth})
			if _, ok := p.accept(token.COMMA); !ok {
				break
			}
		}
		if _, err := p.expect(token.SEMI); err != nil {
			return nil, err
		}
	}
	if _, err := p.expect(token.RBRACE); err != nil {
		return nil, err
	}
	attrStart = p.pos
	p.skipAttributes()
	markPacked(attrStart)

	t := ctype.NewStruct(tag, members, isPacked, isUnion)
	if tag != "" {
		p.declareTag(tag, t)
	}
	return t, nil
}

// enumSpecifier parses `enum` [tag] [{ ident [= const-expr] , ... }].
func (p *parser) enumSpecifier() (*ctype.Type, error) {
	p.advance()
	p.skipAttributes()

	var tag string
	if tv, ok := p.accept(token.IDENT); ok {
		tag = tv.Val.Str
	}

	if !p.at(token.LBRACE) {
		if tag != "" {
			if t := p.scope.findTag(tag); t != nil {
				return t, nil
			}
		}
		return ctype.TyInt, nil // unknown enum tag used only by value, treat as int
	}

	p.advance()
	t := &ctype.Type{Kind: ctype.Enum, Size: 4, Align: 4}
	var next int64
	for !p.at(token.RBRACE) {
		nameTok, err := p.expect(token.IDENT)
		if err != nil {
			return nil, err
		}
		val := next
		if _, ok := p.accept(token.EQ); ok {
			v, err := p.constantExpr()
			if err != nil {
				return nil, err
			}
			val = v
		}
		t.Enumerators = append(t.Enumerators, ctype.EnumConstant{Name: nameTok.Val.Str, Value: val})
		p.declareEnumConst(nameTok.Val.Str, val, t)
		next = val + 1
		if _, ok := p.accept(token.COMMA); !ok {
			break
		}
	}
	if _, err := p.expect(token.RBRACE); err != nil {
		return nil, err
	}
	if tag != "" {
		p.declareTag(tag, t)
	}
	return t, nil
}

// declarator parses one declarator (pointer stars, the direct-declarator
// core, and trailing array/function suffixes), threading base through the
// spiral rule so `int *a[3]` resolves as "array of 3 pointers to int".
func (p *parser) declarator(base *ctype.Type) (name string, t *ctype.Type, err error) {
	for {
		if _, ok := p.accept(token.STAR); !ok {
			break
		}
		base = ctype.PointerTo(base)
		for p.at(token.CONST) || p.at(token.VOLATILE) || p.at(token.RESTRICT) || p.at(token.ATOMIC) {
			p.advance()
		}
	}

	if _, ok := p.accept(token.LPAREN); ok {
		// nested declarator: `int (*f)(void)` etc. Parse the inner declarator
		// against a placeholder, then splice the real base type in once the
		// suffix (array/function) has been resolved.
		placeholder := &ctype.Type{}
		innerName, innerT, err := p.declarator(placeholder)
		if err != nil {
			return "", nil, err
		}
		if _, err := p.expect(token.RPAREN); err != nil {
			return "", nil, err
		}
		final, err := p.declaratorSuffix(base)
		if err != nil {
			return "", nil, err
		}
		*placeholder = *final
		return innerName, innerT, nil
	}

	var name_ string
	if tv, ok := p.accept(token.IDENT); ok {
		name_ = tv.Val.Str
	}

	final, err := p.declaratorSuffix(base)
	if err != nil {
		return "", nil, err
	}
	return name_, final, nil
}

// declaratorSuffix parses the `[N]`/`(params)` suffixes that follow a
// declarator's core, applying the C type-composition rule (arrays of
// functions/pointers, functions returning pointers) left to right.
func (p *parser) declaratorSuffix(base *ctype.Type) (*ctype.Type, error) {
	if _, ok := p.accept(token.LBRACK); ok {
		length := int64(-1)
		if !p.at(token.RBRACK) {
			n, err := p.constantExpr()
			if err != nil {
				return nil, err
			}
			length = n
		}
		if _, err := p.expect(token.RBRACK); err != nil {
			return nil, err
		}
		elem, err := p.declaratorSuffix(base)
		if err != nil {
			return nil, err
		}
		return ctype.ArrayOf(elem, length), nil
	}

	if _, ok := p.accept(token.LPAREN); ok {
		var params []*ctype.Type
		variadic := false
		if !p.at(token.RPAREN) {
			for {
				if _, ok := p.accept(token.ELLIPSIS); ok {
					variadic = true
					break
				}
				pbase, _, _, _, _, _, err := p.declSpec()
				if err != nil {
					return nil, err
				}
				_, pt, err := p.declarator(pbase)
				if err != nil {
					return nil, err
				}
				params = append(params, ctype.Decay(pt))
				if _, ok := p.accept(token.COMMA); !ok {
					break
				}
			}
		}
		if _, err := p.expect(token.RPAREN); err != nil {
			return nil, err
		}
		return ctype.FuncType(base, params, variadic), nil
	}

	return base, nil
}

// typeName parses an abstract declarator (no identifier) used by sizeof,
// casts, and compound-literal type names.
func (p *parser) typeName() (*ctype.Type, error) {
	base, _, _, _, _, _, err := p.declSpec()
	if err != nil {
		return nil, err
	}
	_, t, err := p.declarator(base)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// isDeclStart reports whether the current token can begin a
// declaration-specifiers list, used to disambiguate a declaration from an
// expression statement.
func (p *parser) isDeclStart() bool {
	switch p.cur().Tok {
	case token.TYPEDEF, token.STATIC, token.EXTERN, token.INLINE, token.CONSTEXPR,
		token.CONST, token.VOLATILE, token.RESTRICT, token.ATOMIC, token.REGISTER, token.AUTO,
		token.VOID, token.KW_BOOL, token.KW_CHAR, token.KW_SHORT, token.KW_INT, token.KW_LONG,
		token.KW_FLOAT, token.KW_DOUBLE, token.KW_SIGNED, token.KW_UNSIGNED,
		token.STRUCT, token.UNION, token.ENUM, token.TYPEOF:
		return true
	case token.IDENT:
		if e := p.scope.findVar(p.cur().Val.Str); e != nil && e.kind == entryTypedef {
			return true
		}
	}
	return false
}
