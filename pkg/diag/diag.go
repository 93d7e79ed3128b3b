// Package diag implements the compiler's closed error taxonomy and the
// accumulating collector used by the semantic analyser.
package diag

import "fmt"

// Pos is a source location: 1-based line and column, as produced by the
// lexer and threaded through the AST and IR builder.
type Pos struct {
	Line   int
	Column int
}

func (p Pos) String() string {
	return fmt.Sprintf("line %d, col %d", p.Line, p.Column)
}

// Kind is the closed taxonomy of error kinds from which every diagnostic is
// drawn.
type Kind int

const (
	KindLex Kind = iota
	KindParse
	KindSemantic
	KindIR
	KindEmit
	KindIO
)

func (k Kind) String() string {
	switch k {
	case KindLex:
		return "lex error"
	case KindParse:
		return "parse error"
	case KindSemantic:
		return "semantic error"
	case KindIR:
		return "internal compiler error"
	case KindEmit:
		return "internal compiler error"
	case KindIO:
		return "I/O error"
	default:
		return "error"
	}
}

// SemanticKind subdivides KindSemantic diagnostics.
type SemanticKind int

const (
	SemUndefinedSymbol SemanticKind = iota
	SemDuplicateSymbol
	SemTypeMismatch
	SemNonLvalue
	SemControlFlowMisplacement
	SemReturnType
)

func (k SemanticKind) String() string {
	names := [...]string{
		"undefined symbol",
		"duplicate symbol",
		"type mismatch",
		"non-lvalue",
		"misplaced control-flow statement",
		"return type mismatch",
	}
	if int(k) < len(names) {
		return names[k]
	}
	return "semantic error"
}

// Error is a single diagnostic: a kind, an optional source position, and a
// message. LexError and ParseError terminate their stage immediately;
// SemanticError accumulates in a Collector; IRError and EmitError are
// always fatal and carry the offending function's name in Func.
type Error struct {
	Kind    Kind
	SemKind SemanticKind // only meaningful when Kind == KindSemantic
	Pos     Pos
	Func    string // offending function, for IRError/EmitError
	Msg     string
}

func (e *Error) Error() string {
	if e.Kind == KindIR || e.Kind == KindEmit {
		if e.Func != "" {
			return fmt.Sprintf("%s: in function %q: %s", e.Kind, e.Func, e.Msg)
		}
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	}
	if e.Kind == KindSemantic {
		return fmt.Sprintf("%s: %s (%s): %s", e.Pos, e.Kind, e.SemKind, e.Msg)
	}
	if e.Pos != (Pos{}) {
		return fmt.Sprintf("%s: %s: %s", e.Pos, e.Kind, e.Msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Lexf builds a KindLex error at pos.
func Lexf(pos Pos, format string, args ...any) *Error {
	return &Error{Kind: KindLex, Pos: pos, Msg: fmt.Sprintf(format, args...)}
}

// Parsef builds a KindParse error at pos.
func Parsef(pos Pos, format string, args ...any) *Error {
	return &Error{Kind: KindParse, Pos: pos, Msg: fmt.Sprintf(format, args...)}
}

// Semanticf builds a KindSemantic error of the given subkind at pos.
func Semanticf(kind SemanticKind, pos Pos, format string, args ...any) *Error {
	return &Error{Kind: KindSemantic, SemKind: kind, Pos: pos, Msg: fmt.Sprintf(format, args...)}
}

// IRf builds a fatal, non-accumulated KindIR error naming the offending
// function.
func IRf(fn, format string, args ...any) *Error {
	return &Error{Kind: KindIR, Func: fn, Msg: fmt.Sprintf(format, args...)}
}

// Emitf builds a fatal, non-accumulated KindEmit error naming the
// offending function.
func Emitf(fn, format string, args ...any) *Error {
	return &Error{Kind: KindEmit, Func: fn, Msg: fmt.Sprintf(format, args...)}
}

// IOf builds a KindIO error.
func IOf(format string, args ...any) *Error {
	return &Error{Kind: KindIO, Msg: fmt.Sprintf(format, args...)}
}

// Collector accumulates SemanticErrors across a whole compilation unit so
// the semantic analyser can report as many as it finds before aborting.
// It is scoped to a single Compile call, not shared process-wide state.
type Collector struct {
	errs []*Error
}

// NewCollector returns an empty Collector.
func NewCollector() *Collector {
	return &Collector{}
}

// Add records a diagnostic. Only KindSemantic errors are expected here;
// other kinds are fatal and should be returned directly, not collected.
func (c *Collector) Add(e *Error) {
	c.errs = append(c.errs, e)
}

// Addf is a convenience wrapper around Add(Semanticf(...)).
func (c *Collector) Addf(kind SemanticKind, pos Pos, format string, args ...any) {
	c.Add(Semanticf(kind, pos, format, args...))
}

// HasErrors reports whether any diagnostics were collected.
func (c *Collector) HasErrors() bool {
	return len(c.errs) > 0
}

// Errors returns all collected diagnostics in the order they were added.
func (c *Collector) Errors() []*Error {
	return c.errs
}
