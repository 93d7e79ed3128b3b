// Package ast defines the abstract syntax tree produced by the parser:
// declarations, statements, and expressions for the supported C subset.
// Every node carries a diag.Pos so later stages can report spans.
package ast

import "github.com/cc2wasm/cc2wasm/pkg/diag"

// Node is the base interface for all AST nodes.
type Node interface {
	Pos() diag.Pos
}

// Expr is the interface for all expression nodes.
type Expr interface {
	Node
	exprNode()
}

// Stmt is the interface for all statement nodes.
type Stmt interface {
	Node
	stmtNode()
}

// Decl is the interface for top-level and block-scope declarations.
type Decl interface {
	Node
	declNode()
}

// TypeSpec is a syntactic base-type reference: a builtin keyword, a typedef
// name, or a struct/union/enum tag. Pointer and array declarators are not
// part of it; they are recorded on the Declarator (or on the Cast or
// SizeofType node) that applies them. Resolving a TypeSpec to a ctypes.Type is the
// semantic analyser's job (pkg/sema); the parser only records what it saw.
type TypeSpec struct {
	// Kind is one of the TypeSpec* constants below.
	Kind      TypeSpecKind
	Name      string     // typedef name, or struct/union/enum tag
	Fields    []Field    // struct/union member list, when Kind is TypeSpecStruct/Union and this is a definition
	Enumerators []Enumerator // enum member list, when Kind is TypeSpecEnum and this is a definition
	IsConst   bool
	IsVolatile bool
}

type TypeSpecKind int

const (
	TypeSpecVoid TypeSpecKind = iota
	TypeSpecChar
	TypeSpecSignedChar
	TypeSpecUnsignedChar
	TypeSpecShort
	TypeSpecUnsignedShort
	TypeSpecInt
	TypeSpecUnsignedInt
	TypeSpecLong
	TypeSpecUnsignedLong
	TypeSpecFloat
	TypeSpecDouble
	TypeSpecStruct
	TypeSpecUnion
	TypeSpecEnum
	TypeSpecTypedefName
)

// Field is one member of a struct/union type declarator.
type Field struct {
	Base    TypeSpec
	Name    string
	Pointer int // number of leading '*'
	Array   []Expr // one entry per '[' N ']', nil length for '[]'
	P       diag.Pos
}

// Enumerator is one `NAME` or `NAME = value` member of an enum.
type Enumerator struct {
	Name  string
	Value Expr // nil if implicit (previous + 1)
	P     diag.Pos
}

// Declarator is a name plus the pointer/array/function wrapping applied to
// a base TypeSpec, e.g. `int *argv[]` or `int (*fp)(int, int)`.
type Declarator struct {
	Name    string
	Pointer int      // number of leading '*'
	// InnerPointer counts the '*'s of a parenthesized declarator like
	// (*name)(params) or (*name)[n]: pointers applied after the array and
	// function suffixes, which is how C spells pointer-to-function and
	// pointer-to-array.
	InnerPointer int
	Array   []Expr   // one entry per '[' expr ']'; nil entry means '[]'
	Params  []Param  // non-nil when this declares a function
	Variadic bool
	P       diag.Pos
}

// Param is one parameter in a function declarator.
type Param struct {
	Base       TypeSpec
	Declarator Declarator
}

// StorageClass records the declaration's storage-class specifier, if any.
type StorageClass int

const (
	StorageNone StorageClass = iota
	StorageAuto
	StorageStatic
	StorageExtern
	StorageRegister
	StorageTypedef
)

// ---- Top-level / block declarations ----

// VarDecl declares one or more variables (or a typedef, when Storage is
// StorageTypedef) sharing a base TypeSpec.
type VarDecl struct {
	Base    TypeSpec
	Storage StorageClass
	Items   []VarDeclItem
	P       diag.Pos
}

// VarDeclItem is one `declarator` or `declarator = initializer` in a
// VarDecl's comma-separated list.
type VarDeclItem struct {
	Declarator Declarator
	Init       Expr // scalar initializer, or nil
	InitList   []Expr // brace initializer list for arrays/aggregates, or nil
}

// FuncDecl is a function prototype (no body) or definition (Body != nil).
type FuncDecl struct {
	Base     TypeSpec
	Storage  StorageClass
	Declarator Declarator
	Body     *BlockStmt // nil for a prototype
	P        diag.Pos
}

// TagDecl declares (and optionally defines) a struct/union/enum tag with no
// variable of that type, e.g. `struct point { int x, y; };`.
type TagDecl struct {
	Base TypeSpec
	P    diag.Pos
}

func (VarDecl) declNode()  {}
func (FuncDecl) declNode() {}
func (TagDecl) declNode()  {}

func (d VarDecl) Pos() diag.Pos  { return d.P }
func (d FuncDecl) Pos() diag.Pos { return d.P }
func (d TagDecl) Pos() diag.Pos  { return d.P }

// Program is a translation unit: an ordered list of top-level declarations.
type Program struct {
	Decls []Decl
}

// ---- Statements ----

type BlockStmt struct {
	Items []Node // each is a Decl or a Stmt
	P     diag.Pos
}

type ExprStmt struct {
	Expr Expr // nil for a bare `;`
	P    diag.Pos
}

type IfStmt struct {
	Cond Expr
	Then Stmt
	Else Stmt // nil if no else
	P    diag.Pos
}

type WhileStmt struct {
	Cond Expr
	Body Stmt
	P    diag.Pos
}

type DoWhileStmt struct {
	Body Stmt
	Cond Expr
	P    diag.Pos
}

type ForStmt struct {
	Init Node // ExprStmt, VarDecl, or nil
	Cond Expr // nil means "true"
	Post Expr // nil means no step
	Body Stmt
	P    diag.Pos
}

type SwitchStmt struct {
	Tag  Expr
	Body Stmt // typically a BlockStmt containing CaseStmt/DefaultStmt labels
	P    diag.Pos
}

type CaseStmt struct {
	Value Expr // must be a compile-time integer constant
	P     diag.Pos
}

type DefaultStmt struct {
	P diag.Pos
}

type BreakStmt struct{ P diag.Pos }
type ContinueStmt struct{ P diag.Pos }

type ReturnStmt struct {
	Expr Expr // nil for bare return
	P    diag.Pos
}

type GotoStmt struct {
	Label string
	P     diag.Pos
}

type LabeledStmt struct {
	Label string
	Stmt  Stmt
	P     diag.Pos
}

func (BlockStmt) stmtNode()    {}
func (ExprStmt) stmtNode()     {}
func (IfStmt) stmtNode()       {}
func (WhileStmt) stmtNode()    {}
func (DoWhileStmt) stmtNode()  {}
func (ForStmt) stmtNode()      {}
func (SwitchStmt) stmtNode()   {}
func (CaseStmt) stmtNode()     {}
func (DefaultStmt) stmtNode()  {}
func (BreakStmt) stmtNode()    {}
func (ContinueStmt) stmtNode() {}
func (ReturnStmt) stmtNode()   {}
func (GotoStmt) stmtNode()     {}
func (LabeledStmt) stmtNode()  {}

func (s BlockStmt) Pos() diag.Pos    { return s.P }
func (s ExprStmt) Pos() diag.Pos     { return s.P }
func (s IfStmt) Pos() diag.Pos       { return s.P }
func (s WhileStmt) Pos() diag.Pos    { return s.P }
func (s DoWhileStmt) Pos() diag.Pos  { return s.P }
func (s ForStmt) Pos() diag.Pos      { return s.P }
func (s SwitchStmt) Pos() diag.Pos   { return s.P }
func (s CaseStmt) Pos() diag.Pos     { return s.P }
func (s DefaultStmt) Pos() diag.Pos  { return s.P }
func (s BreakStmt) Pos() diag.Pos    { return s.P }
func (s ContinueStmt) Pos() diag.Pos { return s.P }
func (s ReturnStmt) Pos() diag.Pos   { return s.P }
func (s GotoStmt) Pos() diag.Pos     { return s.P }
func (s LabeledStmt) Pos() diag.Pos  { return s.P }

// ---- Expressions ----

// BinaryOp represents binary operators, including assignment and the
// compound-assignment family.
type BinaryOp int

const (
	OpAdd BinaryOp = iota
	OpSub
	OpMul
	OpDiv
	OpMod
	OpLt
	OpLe
	OpGt
	OpGe
	OpEq
	OpNe
	OpLAnd // &&
	OpLOr  // ||
	OpBitAnd
	OpBitOr
	OpBitXor
	OpShl
	OpShr
	OpAssign
	OpAddAssign
	OpSubAssign
	OpMulAssign
	OpDivAssign
	OpModAssign
	OpAndAssign
	OpOrAssign
	OpXorAssign
	OpShlAssign
	OpShrAssign
	OpComma
)

var binaryOpNames = [...]string{
	"+", "-", "*", "/", "%", "<", "<=", ">", ">=", "==", "!=", "&&", "||",
	"&", "|", "^", "<<", ">>", "=", "+=", "-=", "*=", "/=", "%=", "&=",
	"|=", "^=", "<<=", ">>=", ",",
}

func (op BinaryOp) String() string {
	if int(op) < len(binaryOpNames) {
		return binaryOpNames[op]
	}
	return "?"
}

// IsCompoundAssign reports whether op is one of the `OP=` family.
func (op BinaryOp) IsCompoundAssign() bool {
	return op >= OpAddAssign && op <= OpShrAssign
}

// UnderlyingOp returns the plain binary operator a compound-assignment
// operator desugars around, e.g. OpAddAssign -> OpAdd.
func (op BinaryOp) UnderlyingOp() BinaryOp {
	return op - (OpAddAssign - OpAdd)
}

// UnaryOp represents prefix unary operators.
type UnaryOp int

const (
	OpNeg    UnaryOp = iota // -x
	OpPlus                  // +x (no-op, kept for promotion)
	OpNot                   // !x
	OpBitNot                // ~x
	OpAddr                  // &x
	OpDeref                 // *x
	OpPreInc                // ++x
	OpPreDec                // --x
)

var unaryOpNames = [...]string{"-", "+", "!", "~", "&", "*", "++", "--"}

func (op UnaryOp) String() string {
	if int(op) < len(unaryOpNames) {
		return unaryOpNames[op]
	}
	return "?"
}

// PostfixOp represents postfix ++/--.
type PostfixOp int

const (
	OpPostInc PostfixOp = iota
	OpPostDec
)

func (op PostfixOp) String() string {
	if op == OpPostInc {
		return "++"
	}
	return "--"
}

type IntLit struct {
	Value    int64
	Unsigned bool
	IsLong   bool
	P        diag.Pos
}

type FloatLit struct {
	Value      float64
	IsFloat32  bool
	P          diag.Pos
}

type CharLit struct {
	Value byte
	P     diag.Pos
}

type StringLit struct {
	Value string // decoded bytes, no trailing NUL (the IR builder appends it)
	P     diag.Pos
}

type Ident struct {
	Name string
	P    diag.Pos
}

type Unary struct {
	Op   UnaryOp
	Expr Expr
	P    diag.Pos
}

type Postfix struct {
	Op   PostfixOp
	Expr Expr
	P    diag.Pos
}

type Binary struct {
	Op    BinaryOp
	Left  Expr
	Right Expr
	P     diag.Pos
}

type Conditional struct {
	Cond Expr
	Then Expr
	Else Expr
	P    diag.Pos
}

type Call struct {
	Func Expr
	Args []Expr
	P    diag.Pos
}

type Index struct {
	Array Expr
	Index Expr
	P     diag.Pos
}

type Member struct {
	Base    Expr
	Field   string
	Arrow   bool // true for `->`, false for `.`
	P       diag.Pos
}

type Cast struct {
	Type TypeSpec
	Pointer int
	Array   []Expr
	Expr    Expr
	P       diag.Pos
}

// SizeofExpr computes sizeof(expr); SizeofType computes sizeof(type-name).
// They are separate node types: SizeofExpr carries only Expr.
type SizeofExpr struct {
	Expr Expr
	P    diag.Pos
}

type SizeofType struct {
	Type    TypeSpec
	Pointer int
	Array   []Expr
	P       diag.Pos
}

func (IntLit) exprNode()      {}
func (FloatLit) exprNode()    {}
func (CharLit) exprNode()     {}
func (StringLit) exprNode()   {}
func (Ident) exprNode()       {}
func (Unary) exprNode()       {}
func (Postfix) exprNode()     {}
func (Binary) exprNode()      {}
func (Conditional) exprNode() {}
func (Call) exprNode()        {}
func (Index) exprNode()       {}
func (Member) exprNode()      {}
func (Cast) exprNode()        {}
func (SizeofExpr) exprNode()  {}
func (SizeofType) exprNode()  {}

func (e IntLit) Pos() diag.Pos      { return e.P }
func (e FloatLit) Pos() diag.Pos    { return e.P }
func (e CharLit) Pos() diag.Pos     { return e.P }
func (e StringLit) Pos() diag.Pos   { return e.P }
func (e Ident) Pos() diag.Pos       { return e.P }
func (e Unary) Pos() diag.Pos       { return e.P }
func (e Postfix) Pos() diag.Pos     { return e.P }
func (e Binary) Pos() diag.Pos      { return e.P }
func (e Conditional) Pos() diag.Pos { return e.P }
func (e Call) Pos() diag.Pos        { return e.P }
func (e Index) Pos() diag.Pos       { return e.P }
func (e Member) Pos() diag.Pos      { return e.P }
func (e Cast) Pos() diag.Pos        { return e.P }
func (e SizeofExpr) Pos() diag.Pos  { return e.P }
func (e SizeofType) Pos() diag.Pos  { return e.P }
