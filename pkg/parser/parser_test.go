package parser

import (
	"testing"

	"github.com/cc2wasm/cc2wasm/pkg/ast"
	"github.com/cc2wasm/cc2wasm/pkg/lexer"
)

func parseProgram(t *testing.T, src string) *ast.Program {
	t.Helper()
	p := New(lexer.New(src))
	prog := p.ParseProgram()
	if len(p.Errors()) != 0 {
		t.Fatalf("unexpected parse errors for %q: %v", src, p.Errors())
	}
	return prog
}

func TestParseSimpleFunction(t *testing.T) {
	prog := parseProgram(t, `int add(int a, int b) { return a + b; }`)
	if len(prog.Decls) != 1 {
		t.Fatalf("expected 1 decl, got %d", len(prog.Decls))
	}
	fn, ok := prog.Decls[0].(*ast.FuncDecl)
	if !ok {
		t.Fatalf("expected *ast.FuncDecl, got %T", prog.Decls[0])
	}
	if fn.Declarator.Name != "add" {
		t.Errorf("expected name add, got %s", fn.Declarator.Name)
	}
	if len(fn.Declarator.Params) != 2 {
		t.Fatalf("expected 2 params, got %d", len(fn.Declarator.Params))
	}
	if fn.Body == nil || len(fn.Body.Items) != 1 {
		t.Fatalf("expected 1 statement in body")
	}
	ret, ok := fn.Body.Items[0].(*ast.ReturnStmt)
	if !ok {
		t.Fatalf("expected *ast.ReturnStmt, got %T", fn.Body.Items[0])
	}
	bin, ok := ret.Expr.(*ast.Binary)
	if !ok || bin.Op != ast.OpAdd {
		t.Fatalf("expected a + binary, got %#v", ret.Expr)
	}
}

func TestParseFibonacci(t *testing.T) {
	src := `
int fib(int n) {
    if (n < 2) return n;
    return fib(n - 1) + fib(n - 2);
}`
	prog := parseProgram(t, src)
	fn := prog.Decls[0].(*ast.FuncDecl)
	if len(fn.Body.Items) != 2 {
		t.Fatalf("expected 2 statements, got %d", len(fn.Body.Items))
	}
	ifStmt, ok := fn.Body.Items[0].(*ast.IfStmt)
	if !ok {
		t.Fatalf("expected *ast.IfStmt, got %T", fn.Body.Items[0])
	}
	if _, ok := ifStmt.Then.(*ast.ReturnStmt); !ok {
		t.Fatalf("expected return in then-branch, got %T", ifStmt.Then)
	}
}

func TestParseForLoopAndAssignOps(t *testing.T) {
	src := `
int sum(int n) {
    int total = 0;
    for (int i = 0; i < n; i++) {
        total += i;
    }
    return total;
}`
	prog := parseProgram(t, src)
	fn := prog.Decls[0].(*ast.FuncDecl)
	forStmt, ok := fn.Body.Items[1].(*ast.ForStmt)
	if !ok {
		t.Fatalf("expected *ast.ForStmt, got %T", fn.Body.Items[1])
	}
	if _, ok := forStmt.Init.(*ast.VarDecl); !ok {
		t.Fatalf("expected VarDecl init, got %T", forStmt.Init)
	}
	body, ok := forStmt.Body.(*ast.BlockStmt)
	if !ok {
		t.Fatalf("expected block body, got %T", forStmt.Body)
	}
	exprStmt, ok := body.Items[0].(*ast.ExprStmt)
	if !ok {
		t.Fatalf("expected expr stmt, got %T", body.Items[0])
	}
	bin, ok := exprStmt.Expr.(*ast.Binary)
	if !ok || bin.Op != ast.OpAddAssign {
		t.Fatalf("expected += binary, got %#v", exprStmt.Expr)
	}
}

func TestParseTypedefAndPointer(t *testing.T) {
	src := `
typedef struct node { int value; struct node *next; } node_t;
int head(node_t *n) { return n->value; }
`
	prog := parseProgram(t, src)
	if len(prog.Decls) != 2 {
		t.Fatalf("expected 2 decls, got %d", len(prog.Decls))
	}
	fn, ok := prog.Decls[1].(*ast.FuncDecl)
	if !ok {
		t.Fatalf("expected *ast.FuncDecl, got %T", prog.Decls[1])
	}
	if fn.Base.Kind != ast.TypeSpecInt {
		t.Errorf("expected int return type")
	}
	if fn.Declarator.Params[0].Declarator.Pointer != 1 {
		t.Errorf("expected pointer parameter")
	}
	ret := fn.Body.Items[0].(*ast.ReturnStmt)
	member, ok := ret.Expr.(*ast.Member)
	if !ok || !member.Arrow || member.Field != "value" {
		t.Fatalf("expected n->value, got %#v", ret.Expr)
	}
}

func TestParseSwitchStatement(t *testing.T) {
	src := `
int classify(int x) {
    switch (x) {
    case 0:
        return 1;
    case 1:
        return 2;
    default:
        return 0;
    }
}`
	prog := parseProgram(t, src)
	fn := prog.Decls[0].(*ast.FuncDecl)
	sw, ok := fn.Body.Items[0].(*ast.SwitchStmt)
	if !ok {
		t.Fatalf("expected *ast.SwitchStmt, got %T", fn.Body.Items[0])
	}
	block, ok := sw.Body.(*ast.BlockStmt)
	if !ok || len(block.Items) != 6 {
		t.Fatalf("expected 6 items (3 case/default labels + 3 returns), got %#v", sw.Body)
	}
}

func TestRoundTripReparse(t *testing.T) {
	src := `int max(int a, int b) { if (a > b) return a; else return b; }`
	prog := parseProgram(t, src)
	printed := ast.Print(prog)
	reparsed := parseProgram(t, printed)
	if ast.Print(reparsed) != printed {
		t.Fatalf("unparse-reparse did not converge:\nfirst:  %s\nsecond: %s", printed, ast.Print(reparsed))
	}
}
