package parse

import (
	"testing"

	"occ/internal/ast"
	"occ/internal/diag"
	"occ/internal/token"
)

func parseExprString(t *testing.T, src string) *ast.Node {
	t.Helper()
	toks := token.Tokenize("t.c", src)
	p := New(toks)
	n, err := p.parseExpression()
	if err != nil {
		t.Fatalf("parseExpression(%q): %v", src, err)
	}
	return n
}

// dump renders a minimal left-to-right sketch of binary nesting, enough to
// assert associativity shape: "((10-3)-2)" vs "(10-(3-2))".
func dump(n *ast.Node) string {
	if n == nil {
		return "<nil>"
	}
	switch n.Kind {
	case ast.IntegerLiteral, ast.Identifier:
		return n.Tok.Lexeme
	case ast.Expression:
		switch n.ExprKind {
		case ast.ExprBinary, ast.ExprLogicalAnd, ast.ExprLogicalOr:
			return "(" + dump(n.Children[0]) + n.Op + dump(n.Children[1]) + ")"
		case ast.ExprAssign:
			return "(" + dump(n.Children[0]) + "=" + dump(n.Children[1]) + ")"
		}
	}
	return "?"
}

// TestSubtractionIsLeftAssociative is regression test S7: 10-3-2 must mean
// (10-3)-2 = 5, not 10-(3-2) = 9.
func TestSubtractionIsLeftAssociative(t *testing.T) {
	n := parseExprString(t, "10-3-2")
	if got, want := dump(n), "((10-3)-2)"; got != want {
		t.Fatalf("10-3-2 parsed as %s, want %s", got, want)
	}
}

// TestDivisionIsLeftAssociative is regression test S8: 8/4/2 must mean
// (8/4)/2 = 1, not 8/(4/2) = 4.
func TestDivisionIsLeftAssociative(t *testing.T) {
	n := parseExprString(t, "8/4/2")
	if got, want := dump(n), "((8/4)/2)"; got != want {
		t.Fatalf("8/4/2 parsed as %s, want %s", got, want)
	}
}

func TestLogicalAndIsLeftAssociative(t *testing.T) {
	n := parseExprString(t, "a&&b&&c")
	if got, want := dump(n), "((a&&b)&&c)"; got != want {
		t.Fatalf("a&&b&&c parsed as %s, want %s", got, want)
	}
}

func TestAssignmentIsRightAssociative(t *testing.T) {
	n := parseExprString(t, "a=b=c")
	if got, want := dump(n), "(a=(b=c))"; got != want {
		t.Fatalf("a=b=c parsed as %s, want %s", got, want)
	}
}

func TestMultiplicativeBindsTighterThanAdditive(t *testing.T) {
	n := parseExprString(t, "1+2*3")
	if n.ExprKind != ast.ExprBinary || n.Op != "+" {
		t.Fatalf("expected top-level '+', got %+v", n)
	}
	rhs := n.Children[1]
	if rhs.Op != "*" {
		t.Fatalf("expected rhs '*', got %+v", rhs)
	}
}

func TestCastBindsLooserThanAssignment(t *testing.T) {
	// "a = b as i32" must parse as "(a = b) as i32", not "a = (b as i32)",
	// since cast wraps the full result of assignment without chaining.
	toks := token.Tokenize("t.c", "a = b as i32")
	p := New(toks)
	n, err := p.parseCastLevel()
	if err != nil {
		t.Fatalf("parseCastLevel: %v", err)
	}
	if n.Kind != ast.Expression || n.ExprKind != ast.ExprCast {
		t.Fatalf("expected top-level cast, got %+v", n)
	}
	inner := n.Children[1]
	if inner.ExprKind != ast.ExprAssign {
		t.Fatalf("expected cast to wrap an assignment, got %+v", inner)
	}
}

func TestTernaryIsRightAssociative(t *testing.T) {
	n := parseExprString(t, "a?b:c?d:e")
	if n.ExprKind != ast.ExprTernary {
		t.Fatalf("expected top-level ternary, got %+v", n)
	}
	elseBranch := n.Children[2]
	if elseBranch.ExprKind != ast.ExprTernary {
		t.Fatalf("expected nested ternary in else branch, got %+v", elseBranch)
	}
}

func TestCallArgumentsStopAtCastLevel(t *testing.T) {
	// Inside call arguments, ',' separates arguments rather than acting as
	// the comma operator, so "f(a,b)" must have two arguments, not one
	// comma-expression argument.
	n := parseExprString(t, "f(a,b)")
	if n.ExprKind != ast.ExprCall {
		t.Fatalf("expected call, got %+v", n)
	}
	if len(n.Children) != 3 {
		t.Fatalf("expected callee + 2 args, got %d children", len(n.Children))
	}
}

func TestCommaOperatorAtTopLevel(t *testing.T) {
	n := parseExprString(t, "a,b,c")
	if got, want := dump(n), "((a,b),c)"; got != want {
		t.Fatalf("a,b,c parsed as %s, want %s", got, want)
	}
}

func TestDereferenceUsedAsAssignmentTarget(t *testing.T) {
	toks := token.Tokenize("t.c", "*p = 1")
	p := New(toks)
	n, err := p.parseExpression()
	if err != nil {
		t.Fatalf("parseExpression: %v", err)
	}
	if n.ExprKind != ast.ExprAssign {
		t.Fatalf("expected assignment, got %+v", n)
	}
	target := n.Children[0]
	if target.ExprKind != ast.ExprDereferenceLeft {
		t.Fatalf("expected dereference-as-target, got %+v", target)
	}
}

func TestParseSimpleFunction(t *testing.T) {
	src := `i32 add(i32 a, i32 b) { return a+b; }`
	toks := token.Tokenize("t.c", src)
	rec := &diag.Recorder{}
	lib := ParseLibrary(toks, rec)
	if rec.HasErrors() {
		t.Fatalf("unexpected parse errors: %v", rec.All())
	}
	if len(lib.Children) != 1 {
		t.Fatalf("expected 1 function, got %d", len(lib.Children))
	}
	fn := lib.Children[0]
	if fn.Kind != ast.Function {
		t.Fatalf("expected Function node, got %v", fn.Kind)
	}
	name := fn.Children[1]
	if name.Tok.Lexeme != "add" {
		t.Fatalf("expected function name 'add', got %q", name.Tok.Lexeme)
	}
}

func TestParseIfWhileDoWhileLoop(t *testing.T) {
	src := `void f() {
		if (1) { return 0; } else { return 1; }
		while (1) { break; }
		do { continue; } while (0);
		loop { break; }
	}`
	toks := token.Tokenize("t.c", src)
	rec := &diag.Recorder{}
	lib := ParseLibrary(toks, rec)
	if rec.HasErrors() {
		t.Fatalf("unexpected parse errors: %v", rec.All())
	}
	body := lib.Children[0].Children[3]
	if len(body.Children) != 4 {
		t.Fatalf("expected 4 statements in body, got %d", len(body.Children))
	}
}

func TestParseDeclarationWithMultipleAssignees(t *testing.T) {
	src := `void f() { i32 a = 1, b = 2; }`
	toks := token.Tokenize("t.c", src)
	rec := &diag.Recorder{}
	lib := ParseLibrary(toks, rec)
	if rec.HasErrors() {
		t.Fatalf("unexpected parse errors: %v", rec.All())
	}
	body := lib.Children[0].Children[3]
	decl := body.Children[0]
	if decl.Kind != ast.AssignmentStatement {
		t.Fatalf("expected AssignmentStatement, got %v", decl.Kind)
	}
	assigns := decl.Children[1]
	if len(assigns.Children) != 2 {
		t.Fatalf("expected 2 assignees, got %d", len(assigns.Children))
	}
}

// TestErrorInOneFunctionDoesNotBlockTheNext exercises the §7 policy: a
// function with a parse error is skipped via resync, and the next
// function in the same translation unit still parses.
func TestErrorInOneFunctionDoesNotBlockTheNext(t *testing.T) {
	src := `i32 broken( { return 0; } i32 ok() { return 1; }`
	toks := token.Tokenize("t.c", src)
	rec := &diag.Recorder{}
	lib := ParseLibrary(toks, rec)
	if !rec.HasErrors() {
		t.Fatalf("expected a recorded error for the broken function")
	}
	found := false
	for _, fn := range lib.Children {
		if fn.Children[1].Tok.Lexeme == "ok" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected function 'ok' to still be parsed after the earlier error")
	}
}
