// Package parser implements a recursive-descent parser for the supported C
// subset, building a pkg/ast tree. It tracks typedef names as it goes and
// feeds them back to the lexer via IsTypedef so the grammar can tell a type
// name from an ordinary identifier without backtracking.
package parser

import (
	"strconv"
	"strings"

	"github.com/cc2wasm/cc2wasm/pkg/ast"
	"github.com/cc2wasm/cc2wasm/pkg/diag"
	"github.com/cc2wasm/cc2wasm/pkg/lexer"
)

// Parser parses C source code into an ast.Program.
type Parser struct {
	l         *lexer.Lexer
	curToken  lexer.Token
	peekToken lexer.Token
	errors    []*diag.Error

	// typedefs tracks every name declared via `typedef` anywhere in the
	// translation unit. The subset this compiler accepts has no nested
	// function scopes shadowing typedef names, so a single flat set
	// (rather than a scope stack) is sufficient.
	typedefs map[string]bool
}

// New creates a new Parser reading from l.
func New(l *lexer.Lexer) *Parser {
	p := &Parser{l: l, typedefs: make(map[string]bool)}
	l.IsTypedef = func(name string) bool { return p.typedefs[name] }
	p.nextToken()
	p.nextToken()
	return p
}

// Errors returns every parse error accumulated so far. The parser does not
// stop at the first error inside a declaration list; it resynchronizes at
// the next statement/declaration boundary so a single source file can
// report more than one mistake.
func (p *Parser) Errors() []*diag.Error {
	return p.errors
}

func (p *Parser) pos() diag.Pos {
	return diag.Pos{Line: p.curToken.Line, Column: p.curToken.Column}
}

func (p *Parser) nextToken() {
	p.curToken = p.peekToken
	p.peekToken = p.l.NextToken()
}

func (p *Parser) addError(format string, args ...any) {
	p.errors = append(p.errors, diag.Parsef(p.pos(), format, args...))
}

func (p *Parser) curTokenIs(t lexer.TokenType) bool  { return p.curToken.Type == t }
func (p *Parser) peekTokenIs(t lexer.TokenType) bool { return p.peekToken.Type == t }

func (p *Parser) expect(t lexer.TokenType) bool {
	if p.curTokenIs(t) {
		p.nextToken()
		return true
	}
	p.addError("expected %s, got %s", t, p.curToken.Type)
	return false
}

// ParseProgram parses an entire translation unit.
func (p *Parser) ParseProgram() *ast.Program {
	prog := &ast.Program{}
	for !p.curTokenIs(lexer.TokenEOF) {
		d := p.parseExternalDecl()
		if d != nil {
			prog.Decls = append(prog.Decls, d)
		} else {
			p.resynchronize()
		}
	}
	return prog
}

// resynchronize skips tokens until a declaration boundary (';' or '}') so a
// malformed top-level declaration doesn't cascade into spurious errors for
// everything after it.
func (p *Parser) resynchronize() {
	for !p.curTokenIs(lexer.TokenEOF) {
		if p.curTokenIs(lexer.TokenSemicolon) || p.curTokenIs(lexer.TokenRBrace) {
			p.nextToken()
			return
		}
		p.nextToken()
	}
}

func isTypeStart(t lexer.TokenType) bool {
	switch t {
	case lexer.TokenVoid, lexer.TokenInt_, lexer.TokenChar_, lexer.TokenShort, lexer.TokenLong,
		lexer.TokenFloat_, lexer.TokenDouble, lexer.TokenSigned, lexer.TokenUnsigned,
		lexer.TokenStruct, lexer.TokenUnion, lexer.TokenEnum, lexer.TokenTypeName,
		lexer.TokenConst, lexer.TokenVolatile:
		return true
	}
	return false
}

func storageClassFor(t lexer.TokenType) (ast.StorageClass, bool) {
	switch t {
	case lexer.TokenStatic:
		return ast.StorageStatic, true
	case lexer.TokenExtern:
		return ast.StorageExtern, true
	case lexer.TokenAuto:
		return ast.StorageAuto, true
	case lexer.TokenRegister:
		return ast.StorageRegister, true
	case lexer.TokenTypedef:
		return ast.StorageTypedef, true
	}
	return ast.StorageNone, false
}

// parseExternalDecl parses one top-level declaration: a function definition
// or prototype, a variable declaration, a typedef, or a bare struct/union/
// enum tag declaration.
func (p *Parser) parseExternalDecl() ast.Decl {
	startPos := p.pos()
	storage := ast.StorageNone
	for {
		if sc, ok := storageClassFor(p.curToken.Type); ok {
			storage = sc
			p.nextToken()
			continue
		}
		break
	}

	base, ok := p.parseTypeSpec()
	if !ok {
		p.addError("expected a type specifier, got %s", p.curToken.Type)
		return nil
	}

	// `struct foo { ... };` with no declarator at all.
	if p.curTokenIs(lexer.TokenSemicolon) {
		p.nextToken()
		return &ast.TagDecl{Base: base, P: startPos}
	}

	decl := p.parseDeclarator()

	if storage == ast.StorageTypedef {
		p.typedefs[decl.Name] = true
		p.expect(lexer.TokenSemicolon)
		return &ast.VarDecl{Base: base, Storage: storage, Items: []ast.VarDeclItem{{Declarator: decl}}, P: startPos}
	}

	if decl.Params != nil && p.curTokenIs(lexer.TokenLBrace) {
		body := p.parseBlock()
		return &ast.FuncDecl{Base: base, Storage: storage, Declarator: decl, Body: body, P: startPos}
	}

	if decl.Params != nil {
		// A prototype: `int foo(int x);`
		p.expect(lexer.TokenSemicolon)
		return &ast.FuncDecl{Base: base, Storage: storage, Declarator: decl, P: startPos}
	}

	// A variable declaration, possibly with a comma-separated list and
	// initializers.
	items := []ast.VarDeclItem{p.parseVarDeclItem(decl)}
	for p.curTokenIs(lexer.TokenComma) {
		p.nextToken()
		next := p.parseDeclarator()
		items = append(items, p.parseVarDeclItem(next))
	}
	p.expect(lexer.TokenSemicolon)
	return &ast.VarDecl{Base: base, Storage: storage, Items: items, P: startPos}
}

func (p *Parser) parseVarDeclItem(decl ast.Declarator) ast.VarDeclItem {
	item := ast.VarDeclItem{Declarator: decl}
	if p.curTokenIs(lexer.TokenAssign) {
		p.nextToken()
		if p.curTokenIs(lexer.TokenLBrace) {
			item.InitList = p.parseInitList()
		} else {
			item.Init = p.parseAssignExpr()
		}
	}
	return item
}

func (p *Parser) parseInitList() []ast.Expr {
	p.nextToken() // consume '{'
	var items []ast.Expr
	for !p.curTokenIs(lexer.TokenRBrace) && !p.curTokenIs(lexer.TokenEOF) {
		items = append(items, p.parseAssignExpr())
		if p.curTokenIs(lexer.TokenComma) {
			p.nextToken()
		} else {
			break
		}
	}
	p.expect(lexer.TokenRBrace)
	return items
}

// parseTypeSpec parses the base type of a declaration: builtin keywords,
// `struct`/`union`/`enum` (with an optional inline definition), or a
// previously declared typedef name. Leading/trailing const/volatile
// qualifiers are absorbed as modifiers on the result.
func (p *Parser) parseTypeSpec() (ast.TypeSpec, bool) {
	var spec ast.TypeSpec
	for p.curTokenIs(lexer.TokenConst) || p.curTokenIs(lexer.TokenVolatile) {
		if p.curTokenIs(lexer.TokenConst) {
			spec.IsConst = true
		} else {
			spec.IsVolatile = true
		}
		p.nextToken()
	}

	switch p.curToken.Type {
	case lexer.TokenVoid:
		spec.Kind = ast.TypeSpecVoid
		p.nextToken()
	case lexer.TokenChar_:
		spec.Kind = ast.TypeSpecChar
		p.nextToken()
	case lexer.TokenShort:
		spec.Kind = ast.TypeSpecShort
		p.nextToken()
		if p.curTokenIs(lexer.TokenInt_) {
			p.nextToken()
		}
	case lexer.TokenLong:
		spec.Kind = ast.TypeSpecLong
		p.nextToken()
		if p.curTokenIs(lexer.TokenInt_) || p.curTokenIs(lexer.TokenLong) {
			p.nextToken()
		}
	case lexer.TokenFloat_:
		spec.Kind = ast.TypeSpecFloat
		p.nextToken()
	case lexer.TokenDouble:
		spec.Kind = ast.TypeSpecDouble
		p.nextToken()
	case lexer.TokenSigned:
		p.nextToken()
		spec.Kind = p.signedKindAfterSigned()
	case lexer.TokenUnsigned:
		p.nextToken()
		spec.Kind = p.unsignedKindAfterUnsigned()
	case lexer.TokenInt_:
		spec.Kind = ast.TypeSpecInt
		p.nextToken()
	case lexer.TokenStruct, lexer.TokenUnion:
		isUnion := p.curTokenIs(lexer.TokenUnion)
		p.nextToken()
		if p.curTokenIs(lexer.TokenIdent) || p.curTokenIs(lexer.TokenTypeName) {
			spec.Name = p.curToken.Literal
			p.nextToken()
		}
		if p.curTokenIs(lexer.TokenLBrace) {
			spec.Fields = p.parseFieldList()
		}
		if isUnion {
			spec.Kind = ast.TypeSpecUnion
		} else {
			spec.Kind = ast.TypeSpecStruct
		}
	case lexer.TokenEnum:
		p.nextToken()
		if p.curTokenIs(lexer.TokenIdent) || p.curTokenIs(lexer.TokenTypeName) {
			spec.Name = p.curToken.Literal
			p.nextToken()
		}
		if p.curTokenIs(lexer.TokenLBrace) {
			spec.Enumerators = p.parseEnumeratorList()
		}
		spec.Kind = ast.TypeSpecEnum
	case lexer.TokenTypeName:
		spec.Kind = ast.TypeSpecTypedefName
		spec.Name = p.curToken.Literal
		p.nextToken()
	default:
		return spec, false
	}

	for p.curTokenIs(lexer.TokenConst) || p.curTokenIs(lexer.TokenVolatile) {
		if p.curTokenIs(lexer.TokenConst) {
			spec.IsConst = true
		} else {
			spec.IsVolatile = true
		}
		p.nextToken()
	}
	return spec, true
}

func (p *Parser) signedKindAfterSigned() ast.TypeSpecKind {
	switch p.curToken.Type {
	case lexer.TokenChar_:
		p.nextToken()
		return ast.TypeSpecSignedChar
	case lexer.TokenShort:
		p.nextToken()
		if p.curTokenIs(lexer.TokenInt_) {
			p.nextToken()
		}
		return ast.TypeSpecShort
	case lexer.TokenLong:
		p.nextToken()
		if p.curTokenIs(lexer.TokenInt_) {
			p.nextToken()
		}
		return ast.TypeSpecLong
	case lexer.TokenInt_:
		p.nextToken()
		return ast.TypeSpecInt
	default:
		return ast.TypeSpecInt
	}
}

func (p *Parser) unsignedKindAfterUnsigned() ast.TypeSpecKind {
	switch p.curToken.Type {
	case lexer.TokenChar_:
		p.nextToken()
		return ast.TypeSpecUnsignedChar
	case lexer.TokenShort:
		p.nextToken()
		if p.curTokenIs(lexer.TokenInt_) {
			p.nextToken()
		}
		return ast.TypeSpecUnsignedShort
	case lexer.TokenLong:
		p.nextToken()
		if p.curTokenIs(lexer.TokenInt_) {
			p.nextToken()
		}
		return ast.TypeSpecUnsignedLong
	case lexer.TokenInt_:
		p.nextToken()
		return ast.TypeSpecUnsignedInt
	default:
		return ast.TypeSpecUnsignedInt
	}
}

func (p *Parser) parseFieldList() []ast.Field {
	p.nextToken() // consume '{'
	var fields []ast.Field
	for !p.curTokenIs(lexer.TokenRBrace) && !p.curTokenIs(lexer.TokenEOF) {
		base, ok := p.parseTypeSpec()
		if !ok {
			p.addError("expected a type specifier in field list, got %s", p.curToken.Type)
			p.nextToken()
			continue
		}
		for {
			decl := p.parseDeclarator()
			fields = append(fields, ast.Field{Base: base, Name: decl.Name, Pointer: decl.Pointer, Array: decl.Array, P: p.pos()})
			if p.curTokenIs(lexer.TokenComma) {
				p.nextToken()
				continue
			}
			break
		}
		p.expect(lexer.TokenSemicolon)
	}
	p.expect(lexer.TokenRBrace)
	return fields
}

func (p *Parser) parseEnumeratorList() []ast.Enumerator {
	p.nextToken() // consume '{'
	var items []ast.Enumerator
	for !p.curTokenIs(lexer.TokenRBrace) && !p.curTokenIs(lexer.TokenEOF) {
		pos := p.pos()
		name := p.curToken.Literal
		p.expect(lexer.TokenIdent)
		e := ast.Enumerator{Name: name, P: pos}
		if p.curTokenIs(lexer.TokenAssign) {
			p.nextToken()
			e.Value = p.parseConditionalExpr()
		}
		items = append(items, e)
		if p.curTokenIs(lexer.TokenComma) {
			p.nextToken()
			continue
		}
		break
	}
	p.expect(lexer.TokenRBrace)
	return items
}

// parseDeclarator parses `*...name[dims...](params...)`.
func (p *Parser) parseDeclarator() ast.Declarator {
	var d ast.Declarator
	d.P = p.pos()
	for p.curTokenIs(lexer.TokenStar) {
		d.Pointer++
		p.nextToken()
		for p.curTokenIs(lexer.TokenConst) || p.curTokenIs(lexer.TokenVolatile) || p.curTokenIs(lexer.TokenRestrict) {
			p.nextToken()
		}
	}
	if p.curTokenIs(lexer.TokenLParen) && p.peekTokenIs(lexer.TokenStar) {
		// A parenthesized declarator: (*name)(params) or (*name)[n]. Only
		// the single-level pointer-to-function/array form is supported.
		p.nextToken()
		for p.curTokenIs(lexer.TokenStar) {
			d.InnerPointer++
			p.nextToken()
		}
		if p.curTokenIs(lexer.TokenIdent) || p.curTokenIs(lexer.TokenTypeName) {
			d.Name = p.curToken.Literal
			p.nextToken()
		}
		p.expect(lexer.TokenRParen)
	} else if p.curTokenIs(lexer.TokenIdent) || p.curTokenIs(lexer.TokenTypeName) {
		d.Name = p.curToken.Literal
		p.nextToken()
	}
	for p.curTokenIs(lexer.TokenLBracket) {
		p.nextToken()
		if p.curTokenIs(lexer.TokenRBracket) {
			d.Array = append(d.Array, nil)
		} else {
			d.Array = append(d.Array, p.parseConditionalExpr())
		}
		p.expect(lexer.TokenRBracket)
	}
	if p.curTokenIs(lexer.TokenLParen) {
		p.nextToken()
		d.Params, d.Variadic = p.parseParamList()
		p.expect(lexer.TokenRParen)
	}
	return d
}

func (p *Parser) parseParamList() ([]ast.Param, bool) {
	var params []ast.Param
	variadic := false
	if p.curTokenIs(lexer.TokenRParen) {
		return []ast.Param{}, false
	}
	if p.curTokenIs(lexer.TokenVoid) && p.peekTokenIs(lexer.TokenRParen) {
		p.nextToken()
		return []ast.Param{}, false
	}
	for {
		if p.curTokenIs(lexer.TokenEllipsis) {
			variadic = true
			p.nextToken()
			break
		}
		base, ok := p.parseTypeSpec()
		if !ok {
			p.addError("expected parameter type, got %s", p.curToken.Type)
			break
		}
		decl := p.parseDeclarator()
		params = append(params, ast.Param{Base: base, Declarator: decl})
		if p.curTokenIs(lexer.TokenComma) {
			p.nextToken()
			continue
		}
		break
	}
	return params, variadic
}

// ---- Statements ----

func (p *Parser) parseBlock() *ast.BlockStmt {
	block := &ast.BlockStmt{P: p.pos()}
	p.expect(lexer.TokenLBrace)
	for !p.curTokenIs(lexer.TokenRBrace) && !p.curTokenIs(lexer.TokenEOF) {
		if isTypeStart(p.curToken.Type) || isStorageClassStart(p.curToken.Type) {
			block.Items = append(block.Items, p.parseLocalDecl())
		} else {
			stmt := p.parseStatement()
			if stmt != nil {
				block.Items = append(block.Items, stmt)
			}
		}
	}
	p.expect(lexer.TokenRBrace)
	return block
}

func isStorageClassStart(t lexer.TokenType) bool {
	_, ok := storageClassFor(t)
	return ok
}

func (p *Parser) parseLocalDecl() ast.Decl {
	startPos := p.pos()
	storage := ast.StorageNone
	for {
		if sc, ok := storageClassFor(p.curToken.Type); ok {
			storage = sc
			p.nextToken()
			continue
		}
		break
	}
	base, ok := p.parseTypeSpec()
	if !ok {
		p.addError("expected a type specifier, got %s", p.curToken.Type)
		p.nextToken()
		return nil
	}
	if p.curTokenIs(lexer.TokenSemicolon) {
		p.nextToken()
		return &ast.TagDecl{Base: base, P: startPos}
	}
	decl := p.parseDeclarator()
	if storage == ast.StorageTypedef {
		p.typedefs[decl.Name] = true
		p.expect(lexer.TokenSemicolon)
		return &ast.VarDecl{Base: base, Storage: storage, Items: []ast.VarDeclItem{{Declarator: decl}}, P: startPos}
	}
	items := []ast.VarDeclItem{p.parseVarDeclItem(decl)}
	for p.curTokenIs(lexer.TokenComma) {
		p.nextToken()
		next := p.parseDeclarator()
		items = append(items, p.parseVarDeclItem(next))
	}
	p.expect(lexer.TokenSemicolon)
	return &ast.VarDecl{Base: base, Storage: storage, Items: items, P: startPos}
}

func (p *Parser) parseStatement() ast.Stmt {
	switch p.curToken.Type {
	case lexer.TokenLBrace:
		return p.parseBlock()
	case lexer.TokenIf:
		return p.parseIfStatement()
	case lexer.TokenWhile:
		return p.parseWhileStatement()
	case lexer.TokenDo:
		return p.parseDoWhileStatement()
	case lexer.TokenFor:
		return p.parseForStatement()
	case lexer.TokenSwitch:
		return p.parseSwitchStatement()
	case lexer.TokenCase:
		return p.parseCaseStatement()
	case lexer.TokenDefault:
		return p.parseDefaultStatement()
	case lexer.TokenBreak:
		pos := p.pos()
		p.nextToken()
		p.expect(lexer.TokenSemicolon)
		return &ast.BreakStmt{P: pos}
	case lexer.TokenContinue:
		pos := p.pos()
		p.nextToken()
		p.expect(lexer.TokenSemicolon)
		return &ast.ContinueStmt{P: pos}
	case lexer.TokenReturn:
		return p.parseReturnStatement()
	case lexer.TokenGoto:
		pos := p.pos()
		p.nextToken()
		label := p.curToken.Literal
		p.expect(lexer.TokenIdent)
		p.expect(lexer.TokenSemicolon)
		return &ast.GotoStmt{Label: label, P: pos}
	case lexer.TokenSemicolon:
		pos := p.pos()
		p.nextToken()
		return &ast.ExprStmt{P: pos}
	case lexer.TokenIdent:
		if p.peekTokenIs(lexer.TokenColon) {
			return p.parseLabeledStatement()
		}
		return p.parseExprStatement()
	default:
		return p.parseExprStatement()
	}
}

func (p *Parser) parseExprStatement() ast.Stmt {
	pos := p.pos()
	expr := p.parseExpr()
	p.expect(lexer.TokenSemicolon)
	return &ast.ExprStmt{Expr: expr, P: pos}
}

func (p *Parser) parseLabeledStatement() ast.Stmt {
	pos := p.pos()
	label := p.curToken.Literal
	p.nextToken() // ident
	p.nextToken() // ':'
	return &ast.LabeledStmt{Label: label, Stmt: p.parseStatement(), P: pos}
}

func (p *Parser) parseIfStatement() ast.Stmt {
	pos := p.pos()
	p.nextToken()
	p.expect(lexer.TokenLParen)
	cond := p.parseExpr()
	p.expect(lexer.TokenRParen)
	then := p.parseStatement()
	var els ast.Stmt
	if p.curTokenIs(lexer.TokenElse) {
		p.nextToken()
		els = p.parseStatement()
	}
	return &ast.IfStmt{Cond: cond, Then: then, Else: els, P: pos}
}

func (p *Parser) parseWhileStatement() ast.Stmt {
	pos := p.pos()
	p.nextToken()
	p.expect(lexer.TokenLParen)
	cond := p.parseExpr()
	p.expect(lexer.TokenRParen)
	body := p.parseStatement()
	return &ast.WhileStmt{Cond: cond, Body: body, P: pos}
}

func (p *Parser) parseDoWhileStatement() ast.Stmt {
	pos := p.pos()
	p.nextToken()
	body := p.parseStatement()
	p.expect(lexer.TokenWhile)
	p.expect(lexer.TokenLParen)
	cond := p.parseExpr()
	p.expect(lexer.TokenRParen)
	p.expect(lexer.TokenSemicolon)
	return &ast.DoWhileStmt{Body: body, Cond: cond, P: pos}
}

func (p *Parser) parseForStatement() ast.Stmt {
	pos := p.pos()
	p.nextToken()
	p.expect(lexer.TokenLParen)

	var init ast.Node
	if isTypeStart(p.curToken.Type) || isStorageClassStart(p.curToken.Type) {
		init = p.parseLocalDecl()
	} else if !p.curTokenIs(lexer.TokenSemicolon) {
		initPos := p.pos()
		init = &ast.ExprStmt{Expr: p.parseExpr(), P: initPos}
		p.expect(lexer.TokenSemicolon)
	} else {
		p.nextToken()
	}

	var cond ast.Expr
	if !p.curTokenIs(lexer.TokenSemicolon) {
		cond = p.parseExpr()
	}
	p.expect(lexer.TokenSemicolon)

	var post ast.Expr
	if !p.curTokenIs(lexer.TokenRParen) {
		post = p.parseExpr()
	}
	p.expect(lexer.TokenRParen)

	body := p.parseStatement()
	return &ast.ForStmt{Init: init, Cond: cond, Post: post, Body: body, P: pos}
}

func (p *Parser) parseSwitchStatement() ast.Stmt {
	pos := p.pos()
	p.nextToken()
	p.expect(lexer.TokenLParen)
	tag := p.parseExpr()
	p.expect(lexer.TokenRParen)
	body := p.parseStatement()
	return &ast.SwitchStmt{Tag: tag, Body: body, P: pos}
}

func (p *Parser) parseCaseStatement() ast.Stmt {
	pos := p.pos()
	p.nextToken()
	value := p.parseConditionalExpr()
	p.expect(lexer.TokenColon)
	return &ast.CaseStmt{Value: value, P: pos}
}

func (p *Parser) parseDefaultStatement() ast.Stmt {
	pos := p.pos()
	p.nextToken()
	p.expect(lexer.TokenColon)
	return &ast.DefaultStmt{P: pos}
}

func (p *Parser) parseReturnStatement() ast.Stmt {
	pos := p.pos()
	p.nextToken()
	var expr ast.Expr
	if !p.curTokenIs(lexer.TokenSemicolon) {
		expr = p.parseExpr()
	}
	p.expect(lexer.TokenSemicolon)
	return &ast.ReturnStmt{Expr: expr, P: pos}
}

// ---- Expressions ----
// Precedence climbing over C's binary operators, with dedicated recursive
// calls for the non-left-associative forms (assignment, the ternary
// conditional) and for postfix/unary/primary.

func (p *Parser) parseExpr() ast.Expr {
	e := p.parseAssignExpr()
	for p.curTokenIs(lexer.TokenComma) {
		pos := p.pos()
		p.nextToken()
		rhs := p.parseAssignExpr()
		e = &ast.Binary{Op: ast.OpComma, Left: e, Right: rhs, P: pos}
	}
	return e
}

var compoundAssignOps = map[lexer.TokenType]ast.BinaryOp{
	lexer.TokenAssign:        ast.OpAssign,
	lexer.TokenPlusAssign:    ast.OpAddAssign,
	lexer.TokenMinusAssign:   ast.OpSubAssign,
	lexer.TokenStarAssign:    ast.OpMulAssign,
	lexer.TokenSlashAssign:   ast.OpDivAssign,
	lexer.TokenPercentAssign: ast.OpModAssign,
	lexer.TokenAndAssign:     ast.OpAndAssign,
	lexer.TokenOrAssign:      ast.OpOrAssign,
	lexer.TokenXorAssign:     ast.OpXorAssign,
	lexer.TokenShlAssign:     ast.OpShlAssign,
	lexer.TokenShrAssign:     ast.OpShrAssign,
}

func (p *Parser) parseAssignExpr() ast.Expr {
	lhs := p.parseConditionalExpr()
	if op, ok := compoundAssignOps[p.curToken.Type]; ok {
		pos := p.pos()
		p.nextToken()
		rhs := p.parseAssignExpr() // right-associative
		return &ast.Binary{Op: op, Left: lhs, Right: rhs, P: pos}
	}
	return lhs
}

func (p *Parser) parseConditionalExpr() ast.Expr {
	cond := p.parseBinaryExpr(1)
	if p.curTokenIs(lexer.TokenQuestion) {
		pos := p.pos()
		p.nextToken()
		then := p.parseExpr()
		p.expect(lexer.TokenColon)
		els := p.parseConditionalExpr()
		return &ast.Conditional{Cond: cond, Then: then, Else: els, P: pos}
	}
	return cond
}

// binaryOpPrec maps each left-associative binary operator token to its
// precedence (higher binds tighter). This mirrors C's standard table,
// collapsing relational/equality into the usual two tiers.
var binaryOpPrec = map[lexer.TokenType]int{
	lexer.TokenOr:        4,
	lexer.TokenAnd:       5,
	lexer.TokenPipe:      6,
	lexer.TokenCaret:     7,
	lexer.TokenAmpersand: 8,
	lexer.TokenEq:        9,
	lexer.TokenNe:        9,
	lexer.TokenLt:        10,
	lexer.TokenLe:        10,
	lexer.TokenGt:        10,
	lexer.TokenGe:        10,
	lexer.TokenShl:       11,
	lexer.TokenShr:       11,
	lexer.TokenPlus:      12,
	lexer.TokenMinus:     12,
	lexer.TokenStar:      13,
	lexer.TokenSlash:     13,
	lexer.TokenPercent:   13,
}

var binaryOpFor = map[lexer.TokenType]ast.BinaryOp{
	lexer.TokenOr:        ast.OpLOr,
	lexer.TokenAnd:       ast.OpLAnd,
	lexer.TokenPipe:      ast.OpBitOr,
	lexer.TokenCaret:     ast.OpBitXor,
	lexer.TokenAmpersand: ast.OpBitAnd,
	lexer.TokenEq:        ast.OpEq,
	lexer.TokenNe:        ast.OpNe,
	lexer.TokenLt:        ast.OpLt,
	lexer.TokenLe:        ast.OpLe,
	lexer.TokenGt:        ast.OpGt,
	lexer.TokenGe:        ast.OpGe,
	lexer.TokenShl:       ast.OpShl,
	lexer.TokenShr:       ast.OpShr,
	lexer.TokenPlus:      ast.OpAdd,
	lexer.TokenMinus:     ast.OpSub,
	lexer.TokenStar:      ast.OpMul,
	lexer.TokenSlash:     ast.OpDiv,
	lexer.TokenPercent:   ast.OpMod,
}

func (p *Parser) parseBinaryExpr(minPrec int) ast.Expr {
	left := p.parseCastExpr()
	for {
		prec, ok := binaryOpPrec[p.curToken.Type]
		if !ok || prec < minPrec {
			return left
		}
		op := binaryOpFor[p.curToken.Type]
		pos := p.pos()
		p.nextToken()
		right := p.parseBinaryExpr(prec + 1)
		left = &ast.Binary{Op: op, Left: left, Right: right, P: pos}
	}
}

func (p *Parser) looksLikeCastAhead() bool {
	return isTypeStart(p.peekToken.Type)
}

func (p *Parser) parseCastExpr() ast.Expr {
	if p.curTokenIs(lexer.TokenLParen) && p.looksLikeCastAhead() {
		pos := p.pos()
		p.nextToken() // consume '('
		base, _ := p.parseTypeSpec()
		pointer := 0
		for p.curTokenIs(lexer.TokenStar) {
			pointer++
			p.nextToken()
		}
		p.expect(lexer.TokenRParen)
		expr := p.parseCastExpr()
		return &ast.Cast{Type: base, Pointer: pointer, Expr: expr, P: pos}
	}
	return p.parseUnaryExpr()
}

func (p *Parser) parseUnaryExpr() ast.Expr {
	switch p.curToken.Type {
	case lexer.TokenMinus:
		pos := p.pos()
		p.nextToken()
		return &ast.Unary{Op: ast.OpNeg, Expr: p.parseCastExpr(), P: pos}
	case lexer.TokenPlus:
		pos := p.pos()
		p.nextToken()
		return &ast.Unary{Op: ast.OpPlus, Expr: p.parseCastExpr(), P: pos}
	case lexer.TokenNot:
		pos := p.pos()
		p.nextToken()
		return &ast.Unary{Op: ast.OpNot, Expr: p.parseCastExpr(), P: pos}
	case lexer.TokenTilde:
		pos := p.pos()
		p.nextToken()
		return &ast.Unary{Op: ast.OpBitNot, Expr: p.parseCastExpr(), P: pos}
	case lexer.TokenAmpersand:
		pos := p.pos()
		p.nextToken()
		return &ast.Unary{Op: ast.OpAddr, Expr: p.parseCastExpr(), P: pos}
	case lexer.TokenStar:
		pos := p.pos()
		p.nextToken()
		return &ast.Unary{Op: ast.OpDeref, Expr: p.parseCastExpr(), P: pos}
	case lexer.TokenIncrement:
		pos := p.pos()
		p.nextToken()
		return &ast.Unary{Op: ast.OpPreInc, Expr: p.parseUnaryExpr(), P: pos}
	case lexer.TokenDecrement:
		pos := p.pos()
		p.nextToken()
		return &ast.Unary{Op: ast.OpPreDec, Expr: p.parseUnaryExpr(), P: pos}
	case lexer.TokenSizeof:
		return p.parseSizeof()
	default:
		return p.parsePostfixExpr()
	}
}

func (p *Parser) parseSizeof() ast.Expr {
	pos := p.pos()
	p.nextToken()
	if p.curTokenIs(lexer.TokenLParen) && isTypeStart(p.peekToken.Type) {
		p.nextToken() // consume '('
		base, _ := p.parseTypeSpec()
		pointer := 0
		for p.curTokenIs(lexer.TokenStar) {
			pointer++
			p.nextToken()
		}
		var arrayDims []ast.Expr
		for p.curTokenIs(lexer.TokenLBracket) {
			p.nextToken()
			if !p.curTokenIs(lexer.TokenRBracket) {
				arrayDims = append(arrayDims, p.parseConditionalExpr())
			} else {
				arrayDims = append(arrayDims, nil)
			}
			p.expect(lexer.TokenRBracket)
		}
		p.expect(lexer.TokenRParen)
		return &ast.SizeofType{Type: base, Pointer: pointer, Array: arrayDims, P: pos}
	}
	return &ast.SizeofExpr{Expr: p.parseUnaryExpr(), P: pos}
}

func (p *Parser) parsePostfixExpr() ast.Expr {
	e := p.parsePrimaryExpr()
	for {
		switch p.curToken.Type {
		case lexer.TokenLBracket:
			pos := p.pos()
			p.nextToken()
			idx := p.parseExpr()
			p.expect(lexer.TokenRBracket)
			e = &ast.Index{Array: e, Index: idx, P: pos}
		case lexer.TokenLParen:
			pos := p.pos()
			p.nextToken()
			var args []ast.Expr
			for !p.curTokenIs(lexer.TokenRParen) && !p.curTokenIs(lexer.TokenEOF) {
				args = append(args, p.parseAssignExpr())
				if p.curTokenIs(lexer.TokenComma) {
					p.nextToken()
					continue
				}
				break
			}
			p.expect(lexer.TokenRParen)
			e = &ast.Call{Func: e, Args: args, P: pos}
		case lexer.TokenDot:
			pos := p.pos()
			p.nextToken()
			field := p.curToken.Literal
			p.expect(lexer.TokenIdent)
			e = &ast.Member{Base: e, Field: field, Arrow: false, P: pos}
		case lexer.TokenArrow:
			pos := p.pos()
			p.nextToken()
			field := p.curToken.Literal
			p.expect(lexer.TokenIdent)
			e = &ast.Member{Base: e, Field: field, Arrow: true, P: pos}
		case lexer.TokenIncrement:
			pos := p.pos()
			p.nextToken()
			e = &ast.Postfix{Op: ast.OpPostInc, Expr: e, P: pos}
		case lexer.TokenDecrement:
			pos := p.pos()
			p.nextToken()
			e = &ast.Postfix{Op: ast.OpPostDec, Expr: e, P: pos}
		default:
			return e
		}
	}
}

func (p *Parser) parsePrimaryExpr() ast.Expr {
	pos := p.pos()
	switch p.curToken.Type {
	case lexer.TokenInt:
		lit := p.curToken.Literal
		p.nextToken()
		return parseIntLit(lit, pos)
	case lexer.TokenFloat:
		lit := p.curToken.Literal
		p.nextToken()
		return parseFloatLit(lit, pos)
	case lexer.TokenChar:
		lit := p.curToken.Literal
		p.nextToken()
		var b byte
		if len(lit) > 0 {
			b = lit[0]
		}
		return &ast.CharLit{Value: b, P: pos}
	case lexer.TokenString:
		lit := p.curToken.Literal
		p.nextToken()
		for p.curTokenIs(lexer.TokenString) { // adjacent string literal concatenation
			lit += p.curToken.Literal
			p.nextToken()
		}
		return &ast.StringLit{Value: lit, P: pos}
	case lexer.TokenIdent, lexer.TokenTypeName:
		name := p.curToken.Literal
		p.nextToken()
		return &ast.Ident{Name: name, P: pos}
	case lexer.TokenLParen:
		p.nextToken()
		e := p.parseExpr()
		p.expect(lexer.TokenRParen)
		return e
	default:
		p.addError("expected expression, got %s", p.curToken.Type)
		p.nextToken()
		return &ast.IntLit{Value: 0, P: pos}
	}
}

func parseIntLit(lit string, pos diag.Pos) ast.Expr {
	trimmed := lit
	unsigned := false
	long := false
loop:
	for len(trimmed) > 0 {
		switch trimmed[len(trimmed)-1] {
		case 'u', 'U':
			unsigned = true
		case 'l', 'L':
			long = true
		default:
			break loop
		}
		trimmed = trimmed[:len(trimmed)-1]
	}
	base := 10
	digits := trimmed
	switch {
	case strings.HasPrefix(trimmed, "0x") || strings.HasPrefix(trimmed, "0X"):
		base = 16
		digits = trimmed[2:]
	case len(trimmed) > 1 && trimmed[0] == '0':
		base = 8
		digits = trimmed[1:]
	}
	v, _ := strconv.ParseUint(digits, base, 64)
	return &ast.IntLit{Value: int64(v), Unsigned: unsigned, IsLong: long, P: pos}
}

func parseFloatLit(lit string, pos diag.Pos) ast.Expr {
	trimmed := lit
	isFloat32 := false
	if len(trimmed) > 0 {
		switch trimmed[len(trimmed)-1] {
		case 'f', 'F':
			isFloat32 = true
			trimmed = trimmed[:len(trimmed)-1]
		case 'l', 'L':
			trimmed = trimmed[:len(trimmed)-1]
		}
	}
	v, _ := strconv.ParseFloat(trimmed, 64)
	return &ast.FloatLit{Value: v, IsFloat32: isFloat32, P: pos}
}
