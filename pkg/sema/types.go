// Package sema is the semantic analyser and IR builder: it resolves
// identifiers, computes static types, lays out aggregates, and desugars the
// supported C subset's statement and expression forms into pkg/ir's
// three-address code over an explicit control-flow graph, in one stage.
package sema

import (
	"github.com/cc2wasm/cc2wasm/pkg/ast"
	"github.com/cc2wasm/cc2wasm/pkg/ctypes"
	"github.com/cc2wasm/cc2wasm/pkg/diag"
	"github.com/cc2wasm/cc2wasm/pkg/symtab"
)

// tagRegistry resolves struct/union/enum tag names and typedef names to
// already-computed ctypes.Type values. It is populated incrementally as
// declarations are seen, so a tag may be forward-referenced by pointer
// (`struct node *next`) before its fields are known.
type tagRegistry struct {
	structs  map[string]*ctypes.Tstruct
	unions   map[string]*ctypes.Tunion
	enums    map[string]*ctypes.Tenum
	typedefs map[string]ctypes.Type
}

func newTagRegistry() *tagRegistry {
	return &tagRegistry{
		structs:  make(map[string]*ctypes.Tstruct),
		unions:   make(map[string]*ctypes.Tunion),
		enums:    make(map[string]*ctypes.Tenum),
		typedefs: make(map[string]ctypes.Type),
	}
}

// resolveBase resolves a TypeSpec's base type (no pointer/array wrapping).
func (b *Builder) resolveBase(ts ast.TypeSpec, pos diag.Pos) ctypes.Type {
	switch ts.Kind {
	case ast.TypeSpecVoid:
		return ctypes.Void()
	case ast.TypeSpecChar:
		return ctypes.Char()
	case ast.TypeSpecSignedChar:
		return ctypes.Char()
	case ast.TypeSpecUnsignedChar:
		return ctypes.UChar()
	case ast.TypeSpecShort:
		return ctypes.Short()
	case ast.TypeSpecUnsignedShort:
		return ctypes.UShort()
	case ast.TypeSpecInt:
		return ctypes.Int()
	case ast.TypeSpecUnsignedInt:
		return ctypes.UInt()
	case ast.TypeSpecLong:
		return ctypes.Long()
	case ast.TypeSpecUnsignedLong:
		return ctypes.ULong()
	case ast.TypeSpecFloat:
		return ctypes.Float()
	case ast.TypeSpecDouble:
		return ctypes.Double()
	case ast.TypeSpecStruct:
		return b.resolveStruct(ts, pos)
	case ast.TypeSpecUnion:
		return b.resolveUnion(ts, pos)
	case ast.TypeSpecEnum:
		return b.resolveEnum(ts, pos)
	case ast.TypeSpecTypedefName:
		if t, ok := b.tags.typedefs[ts.Name]; ok {
			return t
		}
		b.diags.Addf(diag.SemUndefinedSymbol, pos, "unknown type name %q", ts.Name)
		return ctypes.Int()
	default:
		return ctypes.Int()
	}
}

func (b *Builder) resolveStruct(ts ast.TypeSpec, pos diag.Pos) ctypes.Type {
	if len(ts.Fields) == 0 && ts.Name != "" {
		if st, ok := b.tags.structs[ts.Name]; ok {
			return *st
		}
		// Forward reference to an as-yet-undefined tag: register a shell so
		// pointer-to-incomplete-struct fields can still resolve by name.
		st := &ctypes.Tstruct{Name: ts.Name}
		b.tags.structs[ts.Name] = st
		return *st
	}
	fields := make([]ctypes.Field, 0, len(ts.Fields))
	for _, f := range ts.Fields {
		ft := b.applyDeclarator(b.resolveBase(f.Base, f.P), f.Pointer, f.Array, f.P)
		fields = append(fields, ctypes.Field{Name: f.Name, Type: ft})
	}
	st := &ctypes.Tstruct{Name: ts.Name, Fields: fields}
	if ts.Name != "" {
		b.tags.structs[ts.Name] = st
	}
	return *st
}

func (b *Builder) resolveUnion(ts ast.TypeSpec, pos diag.Pos) ctypes.Type {
	if len(ts.Fields) == 0 && ts.Name != "" {
		if ut, ok := b.tags.unions[ts.Name]; ok {
			return *ut
		}
		ut := &ctypes.Tunion{Name: ts.Name}
		b.tags.unions[ts.Name] = ut
		return *ut
	}
	fields := make([]ctypes.Field, 0, len(ts.Fields))
	for _, f := range ts.Fields {
		ft := b.applyDeclarator(b.resolveBase(f.Base, f.P), f.Pointer, f.Array, f.P)
		fields = append(fields, ctypes.Field{Name: f.Name, Type: ft})
	}
	ut := &ctypes.Tunion{Name: ts.Name, Fields: fields}
	if ts.Name != "" {
		b.tags.unions[ts.Name] = ut
	}
	return *ut
}

func (b *Builder) resolveEnum(ts ast.TypeSpec, pos diag.Pos) ctypes.Type {
	if len(ts.Enumerators) == 0 && ts.Name != "" {
		if et, ok := b.tags.enums[ts.Name]; ok {
			return *et
		}
		b.diags.Addf(diag.SemUndefinedSymbol, pos, "unknown enum %q", ts.Name)
		return ctypes.Int()
	}
	constants := make([]ctypes.EnumConstant, 0, len(ts.Enumerators))
	next := int64(0)
	for _, e := range ts.Enumerators {
		val := next
		if e.Value != nil {
			v, ok := b.constantInt(e.Value)
			if ok {
				val = v
			}
		}
		constants = append(constants, ctypes.EnumConstant{Name: e.Name, Value: val})
		next = val + 1
		sym := b.syms.Declare(e.Name, symtab.KindEnumConst, ctypes.Int())
		sym.EnumValue = val
	}
	et := &ctypes.Tenum{Name: ts.Name, Constants: constants}
	if ts.Name != "" {
		b.tags.enums[ts.Name] = et
	}
	return *et
}

// applyDeclarator wraps a base type in pointer and array layers as recorded
// by a Declarator/Field, outermost pointer first then array dimensions
// (matching C's "array of pointer" vs "pointer to array" distinction: the
// parser records `*` count before `[...]` dims, so pointer wraps first and
// array dims wrap the result, innermost dimension last-declared wraps
// first).
func (b *Builder) applyDeclarator(base ctypes.Type, pointer int, arrayDims []ast.Expr, pos diag.Pos) ctypes.Type {
	t := base
	for i := 0; i < pointer; i++ {
		t = ctypes.Pointer(t)
	}
	for i := len(arrayDims) - 1; i >= 0; i-- {
		length := int64(-1)
		if arrayDims[i] != nil {
			if v, ok := b.constantInt(arrayDims[i]); ok {
				length = v
			}
		}
		t = ctypes.Array(t, length)
	}
	return t
}

// resolveDeclarator resolves a full VarDecl/Param/FuncDecl Declarator
// against a base TypeSpec into a ctypes.Type, handling the function-
// declarator case (used for function pointers and prototypes).
func (b *Builder) resolveDeclarator(base ctypes.Type, d ast.Declarator, pos diag.Pos) ctypes.Type {
	t := base
	for i := 0; i < d.Pointer; i++ {
		t = ctypes.Pointer(t)
	}
	for i := len(d.Array) - 1; i >= 0; i-- {
		length := int64(-1)
		if d.Array[i] != nil {
			if v, ok := b.constantInt(d.Array[i]); ok {
				length = v
			}
		}
		t = ctypes.Array(t, length)
	}
	if d.Params != nil {
		params := make([]ctypes.Type, 0, len(d.Params))
		for _, p := range d.Params {
			pt := b.resolveDeclarator(b.resolveBase(p.Base, p.Declarator.P), p.Declarator, p.Declarator.P)
			params = append(params, ctypes.Decay(pt))
		}
		t = ctypes.Tfunction{Params: params, Return: t, VarArg: d.Variadic}
	}
	// Pointers inside a parenthesized declarator bind after the suffixes:
	// (*f)(int) is a pointer to function, not a function returning pointer.
	for i := 0; i < d.InnerPointer; i++ {
		t = ctypes.Pointer(t)
	}
	return t
}

// constantInt folds a compile-time-constant integer expression (array
// bounds, enumerator values, case labels, sizeof operands). It supports the
// small subset of constant-expression forms the test corpus actually uses:
// integer/char literals, enum constants, sizeof, and +/-/*// over those.
func (b *Builder) constantInt(e ast.Expr) (int64, bool) {
	switch ex := e.(type) {
	case *ast.IntLit:
		return ex.Value, true
	case *ast.CharLit:
		return int64(ex.Value), true
	case *ast.Ident:
		if sym, ok := b.syms.Lookup(ex.Name); ok && sym.Kind == symtab.KindEnumConst {
			return sym.EnumValue, true
		}
		return 0, false
	case *ast.Unary:
		v, ok := b.constantInt(ex.Expr)
		if !ok {
			return 0, false
		}
		switch ex.Op {
		case ast.OpNeg:
			return -v, true
		case ast.OpPlus:
			return v, true
		case ast.OpBitNot:
			return ^v, true
		}
		return 0, false
	case *ast.Binary:
		l, okl := b.constantInt(ex.Left)
		r, okr := b.constantInt(ex.Right)
		if !okl || !okr {
			return 0, false
		}
		switch ex.Op {
		case ast.OpAdd:
			return l + r, true
		case ast.OpSub:
			return l - r, true
		case ast.OpMul:
			return l * r, true
		case ast.OpDiv:
			if r == 0 {
				return 0, false
			}
			return l / r, true
		}
		return 0, false
	case *ast.SizeofType:
		t := b.applyDeclarator(b.resolveBase(ex.Type, ex.P), ex.Pointer, ex.Array, ex.P)
		return t.Size(), true
	case *ast.SizeofExpr:
		t := b.typeOf(ex.Expr)
		if t == nil {
			return 0, false
		}
		return t.Size(), true
	}
	return 0, false
}

// typeOf computes e's static type by consulting declared symbols and the
// usual arithmetic-conversion rules, without emitting code.
func (b *Builder) typeOf(e ast.Expr) ctypes.Type {
	switch ex := e.(type) {
	case *ast.IntLit:
		if ex.IsLong {
			return ctypes.Long()
		}
		return ctypes.Int()
	case *ast.FloatLit:
		if ex.IsFloat32 {
			return ctypes.Float()
		}
		return ctypes.Double()
	case *ast.CharLit:
		return ctypes.Char()
	case *ast.StringLit:
		return ctypes.Pointer(ctypes.Char())
	case *ast.Ident:
		if sym, ok := b.syms.Lookup(ex.Name); ok {
			return sym.Type
		}
		return ctypes.Int()
	case *ast.Unary:
		switch ex.Op {
		case ast.OpAddr:
			return ctypes.Pointer(b.typeOf(ex.Expr))
		case ast.OpDeref:
			if pt, ok := ctypes.Decay(b.typeOf(ex.Expr)).(ctypes.Tpointer); ok {
				return pt.Elem
			}
			return ctypes.Int()
		case ast.OpNot:
			return ctypes.Int()
		default:
			return b.typeOf(ex.Expr)
		}
	case *ast.Postfix:
		return b.typeOf(ex.Expr)
	case *ast.Cast:
		return b.applyDeclarator(b.resolveBase(ex.Type, ex.P), ex.Pointer, ex.Array, ex.P)
	case *ast.Binary:
		if ex.Op.IsCompoundAssign() || ex.Op == ast.OpAssign {
			return b.typeOf(ex.Left)
		}
		if ex.Op == ast.OpComma {
			return b.typeOf(ex.Right)
		}
		if isRelational(ex.Op) {
			return ctypes.Int()
		}
		return usualArith(b.typeOf(ex.Left), b.typeOf(ex.Right))
	case *ast.Conditional:
		return b.typeOf(ex.Then)
	case *ast.Index:
		at := ctypes.Decay(b.typeOf(ex.Array))
		if pt, ok := at.(ctypes.Tpointer); ok {
			return pt.Elem
		}
		return ctypes.Int()
	case *ast.Member:
		bt := b.typeOf(ex.Base)
		if ex.Arrow {
			if pt, ok := ctypes.Decay(bt).(ctypes.Tpointer); ok {
				bt = pt.Elem
			}
		}
		return fieldType(bt, ex.Field)
	case *ast.Call:
		if fn, ok := ex.Func.(*ast.Ident); ok {
			if sym, ok := b.syms.Lookup(fn.Name); ok {
				if ft, ok := ctypes.Decay(sym.Type).(ctypes.Tpointer); ok {
					if fnt, ok := ft.Elem.(ctypes.Tfunction); ok {
						return fnt.Return
					}
				}
			}
		}
		return ctypes.Int()
	case *ast.SizeofExpr, *ast.SizeofType:
		return ctypes.ULong()
	}
	return ctypes.Int()
}

func fieldType(t ctypes.Type, name string) ctypes.Type {
	var fields []ctypes.Field
	switch tt := t.(type) {
	case ctypes.Tstruct:
		fields = tt.Fields
	case ctypes.Tunion:
		fields = tt.Fields
	default:
		return ctypes.Int()
	}
	for _, f := range fields {
		if f.Name == name {
			return f.Type
		}
	}
	return ctypes.Int()
}

func fieldOffset(t ctypes.Type, name string) int64 {
	fo, _ := ctypes.FieldOffsetOf(t, name)
	return fo.Offset
}

func isRelational(op ast.BinaryOp) bool {
	switch op {
	case ast.OpLt, ast.OpLe, ast.OpGt, ast.OpGe, ast.OpEq, ast.OpNe, ast.OpLAnd, ast.OpLOr:
		return true
	}
	return false
}

// usualArith implements a simplified version of C's usual arithmetic
// conversions: float beats int, wider beats narrower, unsigned beats signed
// at the same width. Full promotion corner cases beyond the test corpus are
// out of scope.
func usualArith(a, c ctypes.Type) ctypes.Type {
	if ctypes.IsFloat(a) || ctypes.IsFloat(c) {
		if widthOf(a) >= widthOf(c) && ctypes.IsFloat(a) {
			return a
		}
		if ctypes.IsFloat(c) {
			return c
		}
		return a
	}
	if _, ok := a.(ctypes.Tpointer); ok {
		return a
	}
	if _, ok := c.(ctypes.Tpointer); ok {
		return c
	}
	wa, wc := widthOf(a), widthOf(c)
	if wa != wc {
		if wa > wc {
			return widen(a)
		}
		return widen(c)
	}
	if ctypes.IsUnsigned(a) {
		return a
	}
	if ctypes.IsUnsigned(c) {
		return c
	}
	return widen(a)
}

func widthOf(t ctypes.Type) int64 {
	if t == nil {
		return 4
	}
	return t.Size()
}

// widen promotes integer types narrower than int up to int, per C's
// integer-promotion rule, leaving int/long/float/double/pointer unchanged.
func widen(t ctypes.Type) ctypes.Type {
	if it, ok := t.(ctypes.Tint); ok && it.Width != ctypes.I32 {
		return ctypes.Int()
	}
	return t
}

func (b *Builder) errorf(pos diag.Pos, kind diag.SemanticKind, format string, args ...any) {
	b.diags.Addf(kind, pos, format, args...)
}
