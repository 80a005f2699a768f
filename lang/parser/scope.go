package parser

import (
	"github.com/jcc-lang/jcc/lang/ast"
	"github.com/jcc-lang/jcc/lang/ctype"
)

type varEntryKind uint8

const (
	entryVar varEntryKind = iota
	entryTypedef
	entryEnumConst
)

// varEntry is what a name resolves to within a scope: a variable/function
// Obj, a typedef's aliased type, or an enumeration constant's value.
type varEntry struct {
	kind     varEntryKind
	obj      *ast.Obj
	typedef  *ctype.Type
	enumVal  int64
	enumType *ctype.Type
}

// scope is one block-scope level of the lexical environment: a flat map of
// ordinary identifiers (vars, typedefs, enum constants share one namespace
// in C) plus a separate tag namespace (struct/union/enum names), chained to
// its parent so lookups walk outward. This mirrors the block-scope chain
// the teacher's own parser keeps, generalized to C's two-namespace rule.
type scope struct {
	vars   map[string]*varEntry
	tags   map[string]*ctype.Type
	parent *scope
}

func newScope(parent *scope) *scope {
	return &scope{vars: map[string]*varEntry{}, tags: map[string]*ctype.Type{}, parent: parent}
}

func (s *scope) findVar(name string) *varEntry {
	for sc := s; sc != nil; sc = sc.parent {
		if e, ok := sc.vars[name]; ok {
			return e
		}
	}
	return nil
}

func (s *scope) findTag(name string) *ctype.Type {
	for sc := s; sc != nil; sc = sc.parent {
		if t, ok := sc.tags[name]; ok {
			return t
		}
	}
	return nil
}

func (p *parser) pushScope() { p.scope = newScope(p.scope) }

func (p *parser) popScope() { p.scope = p.scope.parent }

func (p *parser) declareVar(name string, obj *ast.Obj) {
	p.scope.vars[name] = &varEntry{kind: entryVar, obj: obj}
}

func (p *parser) declareTypedef(name string, t *ctype.Type) {
	p.scope.vars[name] = &varEntry{kind: entryTypedef, typedef: t}
}

func (p *parser) declareEnumConst(name string, val int64, t *ctype.Type) {
	p.scope.vars[name] = &varEntry{kind: entryEnumConst, enumVal: val, enumType: t}
}

func (p *parser) declareTag(name string, t *ctype.Type) {
	p.scope.tags[name] = t
}
