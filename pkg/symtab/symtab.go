// Package symtab implements the compiler's symbol table: scoped bindings
// from names to stable integer symbol ids, with a separate namespace for
// struct/union/enum tags as C requires.
package symtab

import "github.com/cc2wasm/cc2wasm/pkg/ctypes"

// ScopeKind classifies a scope for diagnostics and for deciding storage
// defaults (e.g. file-scope variables default to static storage duration).
type ScopeKind int

const (
	ScopeFile ScopeKind = iota
	ScopeFunction
	ScopeBlock
)

// SymbolID is a stable, process-unique identifier for one binding. IDs are
// assigned in declaration order and never reused, so later passes can use
// them as map keys or slice indices without caring about scope nesting.
type SymbolID int

// Kind classifies what a Symbol names.
type Kind int

const (
	KindVar Kind = iota
	KindFunc
	KindTypedef
	KindEnumConst
)

// Symbol is one bound name: a variable, function, typedef, or enumeration
// constant.
type Symbol struct {
	ID      SymbolID
	Name    string
	Kind    Kind
	Type    ctypes.Type
	ScopeID int
	// AddressTaken marks a symbol whose address escapes. The IR builder
	// does not set it: it records `&name` on the function's ir.Local
	// (ir.Local.AddressTaken), which is the flag the stack allocator reads.
	AddressTaken bool
	// EnumValue holds the constant's value when Kind == KindEnumConst.
	EnumValue int64
}

// scope is one lexical scope: a name->id map plus a parent link.
type scope struct {
	id     int
	kind   ScopeKind
	parent *scope
	names  map[string]SymbolID
	tags   map[string]SymbolID // disjoint namespace for struct/union/enum tags
}

// Table is a symbol table for one translation unit. Scopes are pushed and
// popped as the parser/semantic analyser enters and leaves blocks; symbols
// themselves are never removed, so IDs assigned during a now-closed scope
// remain valid keys for later passes (e.g. the IR builder's per-function
// local list).
type Table struct {
	symbols []*Symbol
	cur     *scope
	nextID  int
	nextScopeID int
}

// New returns a Table with one open file scope.
func New() *Table {
	t := &Table{}
	t.PushScope(ScopeFile)
	return t
}

// PushScope opens a new nested scope and returns its id.
func (t *Table) PushScope(kind ScopeKind) int {
	id := t.nextScopeID
	t.nextScopeID++
	t.cur = &scope{
		id:     id,
		kind:   kind,
		parent: t.cur,
		names:  make(map[string]SymbolID),
		tags:   make(map[string]SymbolID),
	}
	return id
}

// PopScope closes the current scope, reverting lookups to its parent.
func (t *Table) PopScope() {
	if t.cur != nil {
		t.cur = t.cur.parent
	}
}

// CurrentScopeID returns the id of the innermost open scope.
func (t *Table) CurrentScopeID() int {
	if t.cur == nil {
		return -1
	}
	return t.cur.id
}

// CurrentScopeKind returns the kind of the innermost open scope.
func (t *Table) CurrentScopeKind() ScopeKind {
	if t.cur == nil {
		return ScopeFile
	}
	return t.cur.kind
}

// Declare binds name to a new Symbol in the current scope and returns it.
// The caller is responsible for checking DeclaredInCurrentScope first; a
// redeclaration here just shadows (or, for KindVar/KindFunc at the same
// scope, the semantic analyser reports SemDuplicateSymbol before calling
// this).
func (t *Table) Declare(name string, kind Kind, typ ctypes.Type) *Symbol {
	id := SymbolID(t.nextID)
	t.nextID++
	sym := &Symbol{ID: id, Name: name, Kind: kind, Type: typ, ScopeID: t.cur.id}
	t.symbols = append(t.symbols, sym)
	t.cur.names[name] = id
	return sym
}

// DeclareTag binds a struct/union/enum tag name in the current scope's tag
// namespace, which never collides with the ordinary identifier namespace.
func (t *Table) DeclareTag(name string, typ ctypes.Type) *Symbol {
	id := SymbolID(t.nextID)
	t.nextID++
	sym := &Symbol{ID: id, Name: name, Kind: KindTypedef, Type: typ, ScopeID: t.cur.id}
	t.symbols = append(t.symbols, sym)
	t.cur.tags[name] = id
	return sym
}

// Lookup searches the current scope and its ancestors for name, returning
// the nearest binding.
func (t *Table) Lookup(name string) (*Symbol, bool) {
	for s := t.cur; s != nil; s = s.parent {
		if id, ok := s.names[name]; ok {
			return t.symbols[id], true
		}
	}
	return nil, false
}

// LookupTag searches the current scope and its ancestors for a tag name.
func (t *Table) LookupTag(name string) (*Symbol, bool) {
	for s := t.cur; s != nil; s = s.parent {
		if id, ok := s.tags[name]; ok {
			return t.symbols[id], true
		}
	}
	return nil, false
}

// DeclaredInCurrentScope reports whether name is already bound in the
// innermost scope (not an ancestor), the condition for a duplicate-symbol
// error.
func (t *Table) DeclaredInCurrentScope(name string) bool {
	if t.cur == nil {
		return false
	}
	_, ok := t.cur.names[name]
	return ok
}

// IsTypedefName reports whether name is bound to a typedef in the current
// scope chain. This is threaded back into the lexer so the grammar can tell
// a type name from an ordinary identifier without backtracking.
func (t *Table) IsTypedefName(name string) bool {
	sym, ok := t.Lookup(name)
	return ok && sym.Kind == KindTypedef
}

// Symbol returns the Symbol for a previously assigned id.
func (t *Table) Symbol(id SymbolID) *Symbol {
	return t.symbols[id]
}

// All returns every symbol ever declared, in declaration order.
func (t *Table) All() []*Symbol {
	return t.symbols
}
