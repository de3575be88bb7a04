// Package parse implements the compiler's recursive-descent parser: a
// 17-level (counting comma) expression precedence ladder plus statement
// and function-definition grammar, producing an ast.Node tree.
package parse

import (
	"occ/internal/ast"
	"occ/internal/diag"
	"occ/internal/token"
)

// Parser holds the token cursor for one translation unit.
type Parser struct {
	toks []token.Token
	pos  int
}

// New builds a Parser over an already-tokenized source.
func New(toks []token.Token) *Parser {
	return &Parser{toks: toks}
}

// ParseLibrary parses a full translation unit: a sequence of function
// definitions. A function that fails to parse is recorded in rec as an
// error-severity diagnostic; the parser resynchronizes at the next
// balanced '}' and attempts the remaining functions, per spec §7's policy
// that parse errors in one function do not prevent attempting the rest.
func ParseLibrary(toks []token.Token, rec *diag.Recorder) *ast.Node {
	p := New(toks)
	var funcs []*ast.Node

	for !p.atEOF() {
		fn, err := p.parseFunction()
		if err != nil {
			if fe, ok := err.(*diag.FatalError); ok {
				rec.Error(fe.Diagnostic.Location, "%s", fe.Diagnostic.Message)
			} else {
				rec.Error(diag.Location{}, "%s", err.Error())
			}
			p.resync()
			continue
		}
		funcs = append(funcs, fn)
	}

	return ast.NewInner(ast.Library, funcs...)
}

// resync skips tokens until just past the next top-level '}', or to EOF,
// to let the parser attempt the next function after an error.
func (p *Parser) resync() {
	depth := 0
	seenOpen := false
	for !p.atEOF() {
		switch p.cur().Lexeme {
		case "{":
			depth++
			seenOpen = true
		case "}":
			depth--
			if seenOpen && depth <= 0 {
				p.advance()
				return
			}
		}
		p.advance()
	}
}

func (p *Parser) cur() token.Token {
	if p.pos < len(p.toks) {
		return p.toks[p.pos]
	}
	return p.toks[len(p.toks)-1]
}

func (p *Parser) atEOF() bool { return p.cur().Kind == token.KindEOF }

func (p *Parser) advance() token.Token {
	t := p.cur()
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

func (p *Parser) check(lexeme string) bool {
	return !p.atEOF() && p.cur().Lexeme == lexeme
}

func (p *Parser) checkType() bool { return p.cur().Kind == token.KindType }

func (p *Parser) expect(lexeme string) (token.Token, error) {
	if p.atEOF() {
		return token.Token{}, diag.NewFatal(p.cur().Location, "unexpected EOF while parsing, expected %q", lexeme)
	}
	if p.cur().Lexeme != lexeme {
		return token.Token{}, diag.NewFatal(p.cur().Location, "expected %q, got %q", lexeme, p.cur().Lexeme)
	}
	return p.advance(), nil
}

func (p *Parser) expectIdentifier() (token.Token, error) {
	if p.atEOF() {
		return token.Token{}, diag.NewFatal(p.cur().Location, "unexpected EOF while parsing, expected identifier")
	}
	if p.cur().Kind != token.KindIdent {
		return token.Token{}, diag.NewFatal(p.cur().Location, "expected identifier, got %q", p.cur().Lexeme)
	}
	return p.advance(), nil
}

func (p *Parser) expectInteger() (token.Token, error) {
	if p.atEOF() {
		return token.Token{}, diag.NewFatal(p.cur().Location, "unexpected EOF while parsing, expected integer")
	}
	if p.cur().Kind != token.KindInt {
		return token.Token{}, diag.NewFatal(p.cur().Location, "expected integer, got %q", p.cur().Lexeme)
	}
	return p.advance(), nil
}

// --- top level: functions, types, arguments ---

func (p *Parser) parseFunction() (*ast.Node, error) {
	retType, err := p.parseType()
	if err != nil {
		return nil, err
	}
	name, err := p.expectIdentifier()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect("("); err != nil {
		return nil, err
	}
	args, err := p.parseArguments()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(")"); err != nil {
		return nil, err
	}
	body, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	return ast.NewInner(ast.Function, retType, ast.NewLeaf(ast.Identifier, name), args, body), nil
}

func (p *Parser) parseArguments() (*ast.Node, error) {
	var items []*ast.Node
	for !p.check(")") {
		t, err := p.parseType()
		if err != nil {
			return nil, err
		}
		name, err := p.expectIdentifier()
		if err != nil {
			return nil, err
		}
		items = append(items, ast.NewInner(ast.Argument, t, ast.NewLeaf(ast.Identifier, name)))
		if p.check(",") {
			p.advance()
		} else {
			break
		}
	}
	return ast.NewInner(ast.Arguments, items...), nil
}

func (p *Parser) parseType() (*ast.Node, error) {
	if !p.checkType() {
		return nil, diag.NewFatal(p.cur().Location, "expected type, got %q", p.cur().Lexeme)
	}
	raw := p.advance()
	n := &ast.Node{Kind: ast.Type, Children: []*ast.Node{ast.NewLeaf(ast.RawType, raw)}}
	for p.check("*") {
		p.advance()
		n.PointerDepth++
	}
	return n, nil
}

// --- statements ---

func (p *Parser) parseStatement() (*ast.Node, error) {
	switch {
	case p.check(";"):
		p.advance()
		return ast.NewInner(ast.Statement), nil

	case p.check("{"):
		return p.parseCompound()

	case p.check("if"):
		return p.parseIf()

	case p.check("while"):
		return p.parseWhile()

	case p.check("do"):
		return p.parseDoWhile()

	case p.check("loop"):
		return p.parseLoop()

	case p.check("return"):
		return p.parseReturn()

	case p.check("continue"):
		tok := p.advance()
		if _, err := p.expect(";"); err != nil {
			return nil, err
		}
		return ast.NewInner(ast.Statement, ast.NewLeaf(ast.RawToken, tok)), nil

	case p.check("break"):
		tok := p.advance()
		if _, err := p.expect(";"); err != nil {
			return nil, err
		}
		return ast.NewInner(ast.Statement, ast.NewLeaf(ast.RawToken, tok)), nil

	case p.checkType():
		return p.parseDeclaration()

	default:
		expr, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(";"); err != nil {
			return nil, err
		}
		return ast.NewInner(ast.Statement, expr), nil
	}
}

func (p *Parser) parseCompound() (*ast.Node, error) {
	if _, err := p.expect("{"); err != nil {
		return nil, err
	}
	var stmts []*ast.Node
	for !p.check("}") {
		if p.atEOF() {
			return nil, diag.NewFatal(p.cur().Location, "unexpected EOF while parsing, expected %q", "}")
		}
		s, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, s)
	}
	p.advance()
	return ast.NewInner(ast.Statements, stmts...), nil
}

func (p *Parser) parseIf() (*ast.Node, error) {
	p.advance()
	if _, err := p.expect("("); err != nil {
		return nil, err
	}
	cond, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(")"); err != nil {
		return nil, err
	}
	then, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	elseStmt := ast.NewInner(ast.Statement)
	if p.check("else") {
		p.advance()
		elseStmt, err = p.parseStatement()
		if err != nil {
			return nil, err
		}
	}
	return ast.NewInner(ast.IfStatement, cond, then, elseStmt), nil
}

func (p *Parser) parseWhile() (*ast.Node, error) {
	p.advance()
	if _, err := p.expect("("); err != nil {
		return nil, err
	}
	cond, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(")"); err != nil {
		return nil, err
	}
	body, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	return ast.NewInner(ast.WhileLoop, cond, body), nil
}

func (p *Parser) parseDoWhile() (*ast.Node, error) {
	p.advance()
	body, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect("while"); err != nil {
		return nil, err
	}
	if _, err := p.expect("("); err != nil {
		return nil, err
	}
	cond, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(")"); err != nil {
		return nil, err
	}
	if _, err := p.expect(";"); err != nil {
		return nil, err
	}
	return ast.NewInner(ast.DoWhileLoop, body, cond), nil
}

func (p *Parser) parseLoop() (*ast.Node, error) {
	p.advance()
	body, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	return ast.NewInner(ast.Loop, body), nil
}

func (p *Parser) parseReturn() (*ast.Node, error) {
	p.advance()
	expr, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(";"); err != nil {
		return nil, err
	}
	return ast.NewInner(ast.ReturnStatement, expr), nil
}

func (p *Parser) parseDeclaration() (*ast.Node, error) {
	t, err := p.parseType()
	if err != nil {
		return nil, err
	}
	var assigns []*ast.Node
	for {
		name, err := p.expectIdentifier()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect("="); err != nil {
			return nil, err
		}
		expr, err := p.parseCastLevel()
		if err != nil {
			return nil, err
		}
		assigns = append(assigns, ast.NewInner(ast.Assignment, ast.NewLeaf(ast.Identifier, name), expr))
		if p.check(",") {
			p.advance()
			continue
		}
		break
	}
	if _, err := p.expect(";"); err != nil {
		return nil, err
	}
	return ast.NewInner(ast.AssignmentStatement, t, ast.NewInner(ast.Assignments, assigns...)), nil
}
