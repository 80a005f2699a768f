// Package ffi bridges VM bytecode (the CALLF opcode) to natively-compiled
// Go functions. No pack repo binds a C ABI in pure Go (no cgo, no libffi
// bindings anywhere in the corpus), so this package uses reflect.Value.Call
// for late-bound dispatch instead of a per-architecture calling-convention
// trampoline: the embedder registers a Go function by name, and CALLF
// marshals VM registers into reflect.Values and back by the function's own
// declared signature.
package ffi

import (
	"fmt"
	"reflect"
)

// Entry is one host function callable from VM bytecode through CALLF.
type Entry struct {
	Name          string
	Fn            reflect.Value
	FixedArgs     int  // number of non-variadic parameters
	ReturnsDouble bool // true if Fn's return type is float32/float64
	IsVariadic    bool
}

// Table maps FFIImport names (lang/compiler.FFIImport) to host Entries,
// resolved once at load time before the program runs.
type Table struct {
	byName  map[string]*Entry
	byIndex []*Entry
}

// NewTable returns an empty registration table.
func NewTable() *Table { return &Table{byName: make(map[string]*Entry)} }

// Register binds name to fn, a Go func value, callable by CALLF. fn's
// return type, if any, must be an integer, pointer, uintptr, float32 or
// float64: the single value the C ABI can return in R1/F0.
func (t *Table) Register(name string, fn any) error {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func {
		return fmt.Errorf("ffi: %s is not a function value", name)
	}
	typ := v.Type()
	e := &Entry{Name: name, Fn: v, FixedArgs: typ.NumIn(), IsVariadic: typ.IsVariadic()}
	if typ.NumOut() > 1 {
		return fmt.Errorf("ffi: %s: at most one return value is supported", name)
	}
	if typ.NumOut() == 1 {
		switch typ.Out(0).Kind() {
		case reflect.Float32, reflect.Float64:
			e.ReturnsDouble = true
		}
	}
	t.byIndex = append(t.byIndex, e)
	t.byName[name] = e
	return nil
}

// Index returns the registration index of name, used to resolve an
// FFIImport at program-load time into the integer CALLF expects.
func (t *Table) Index(name string) (int, bool) {
	e, ok := t.byName[name]
	if !ok {
		return 0, false
	}
	for i, c := range t.byIndex {
		if c == e {
			return i, true
		}
	}
	return 0, false
}

// At returns the Entry registered at index, or nil if out of range.
func (t *Table) At(index int) *Entry {
	if index < 0 || index >= len(t.byIndex) {
		return nil
	}
	return t.byIndex[index]
}

// Args is a fully marshaled argument list for one CALLF, already split by
// the register bank each value came from; Call converts these into
// reflect.Values per the entry's declared parameter types.
type Args struct {
	Ints    []uint64
	Floats  []float64
	IsFloat []bool // len == Ints+Floats combined logical arg count; true selects the next Floats slot
}

// Call invokes e with args marshaled per e.Fn's declared signature, and
// returns the result as either an integer (pointer-sized) or a float,
// selected by e.ReturnsDouble.
func (e *Entry) Call(args Args) (intResult uint64, fltResult float64, err error) {
	typ := e.Fn.Type()
	in := make([]reflect.Value, 0, len(args.IsFloat))
	ii, fi := 0, 0
	for i, isFloat := range args.IsFloat {
		var paramType reflect.Type
		if i < typ.NumIn() {
			paramType = typ.In(i)
		}
		if isFloat {
			v := args.Floats[fi]
			fi++
			in = append(in, adaptFloat(v, paramType))
		} else {
			v := args.Ints[ii]
			ii++
			in = append(in, adaptInt(v, paramType))
		}
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("ffi: call to %s panicked: %v", e.Name, r)
		}
	}()
	out := e.Fn.Call(in)
	if len(out) == 0 {
		return 0, 0, nil
	}
	rv := out[0]
	switch rv.Kind() {
	case reflect.Float32, reflect.Float64:
		return 0, rv.Float(), nil
	case reflect.Bool:
		if rv.Bool() {
			return 1, 0, nil
		}
		return 0, 0, nil
	case reflect.Uintptr, reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint(), 0, nil
	default:
		return uint64(rv.Int()), 0, nil
	}
}

func adaptInt(v uint64, t reflect.Type) reflect.Value {
	if t == nil {
		return reflect.ValueOf(int64(v))
	}
	rv := reflect.New(t).Elem()
	switch t.Kind() {
	case reflect.Uintptr, reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		rv.SetUint(v)
	default:
		rv.SetInt(int64(v))
	}
	return rv
}

func adaptFloat(v float64, t reflect.Type) reflect.Value {
	if t == nil {
		return reflect.ValueOf(v)
	}
	rv := reflect.New(t).Elem()
	rv.SetFloat(v)
	return rv
}
