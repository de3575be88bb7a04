package parse

import (
	"occ/internal/ast"
	"occ/internal/diag"
	"occ/internal/token"
)

// The expression grammar is a 17-level precedence ladder (0-indexed
// 0-16, loosest last): primary, postfix (indexing, calls and postfix
// ++/--), prefix, then the binary
// operators from multiplicative up through logical-or (each
// left-associative, unlike the grounding source which recurses at the
// same depth for its right operand and is therefore right-associative
// there — see S7/S8 in parser_test.go), ternary and
// assignment (both correctly right-associative), cast (binds the result
// of assignment, checked once, not chained), and finally comma.
//
// parseExpression is the depth-16 (comma) entry point used for general
// expressions (if-conditions, return values, statement expressions).
// Call arguments and declaration initializers stop one level short, at
// cast (depth 15), so a comma inside an argument list is never mistaken
// for the comma operator.

func (p *Parser) parseExpression() (*ast.Node, error) {
	return p.parseComma()
}

func (p *Parser) parseComma() (*ast.Node, error) {
	lhs, err := p.parseCastLevel()
	if err != nil {
		return nil, err
	}
	for p.check(",") {
		p.advance()
		rhs, err := p.parseCastLevel()
		if err != nil {
			return nil, err
		}
		lhs = ast.NewExpr(ast.ExprBinary, ",", lhs, rhs)
	}
	return lhs, nil
}

func (p *Parser) parseCastLevel() (*ast.Node, error) {
	lhs, err := p.parseAssignment()
	if err != nil {
		return nil, err
	}
	if p.check("as") {
		p.advance()
		t, err := p.parseType()
		if err != nil {
			return nil, err
		}
		lhs = ast.NewExpr(ast.ExprCast, "as", t, lhs)
	}
	return lhs, nil
}

var compoundAssignOps = map[string]bool{
	"+=": true, "-=": true, "*=": true, "/=": true, "%=": true,
	"&=": true, "|=": true, "^=": true, "<<=": true, ">>=": true,
}

func (p *Parser) parseAssignment() (*ast.Node, error) {
	lhs, err := p.parseTernary()
	if err != nil {
		return nil, err
	}
	if p.check("=") {
		p.advance()
		rhs, err := p.parseAssignment()
		if err != nil {
			return nil, err
		}
		return ast.NewExpr(ast.ExprAssign, "=", asAssignTarget(lhs), rhs), nil
	}
	if op := p.cur().Lexeme; compoundAssignOps[op] {
		p.advance()
		rhs, err := p.parseAssignment()
		if err != nil {
			return nil, err
		}
		return ast.NewExpr(ast.ExprCompoundAssign, op, asAssignTarget(lhs), rhs), nil
	}
	return lhs, nil
}

// asAssignTarget rewrites a bare dereference ("*p" read as a value) into
// its assignment-target form when it is used on the left of "=" or a
// compound-assignment operator.
func asAssignTarget(n *ast.Node) *ast.Node {
	if n.Kind == ast.Expression && n.ExprKind == ast.ExprDereference {
		return ast.NewExpr(ast.ExprDereferenceLeft, n.Op, n.Children...)
	}
	return n
}

func (p *Parser) parseTernary() (*ast.Node, error) {
	cond, err := p.parseLogicalOr()
	if err != nil {
		return nil, err
	}
	if p.check("?") {
		p.advance()
		then, err := p.parseAssignment()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(":"); err != nil {
			return nil, err
		}
		elseExpr, err := p.parseTernary()
		if err != nil {
			return nil, err
		}
		return ast.NewExpr(ast.ExprTernary, "?:", cond, then, elseExpr), nil
	}
	return cond, nil
}

// leftAssocBinary implements one level of the ladder as an iterative
// (left-associative) loop over one or more operator lexemes, all
// resolving to the same ExprKind.
func (p *Parser) leftAssocBinary(next func() (*ast.Node, error), kind ast.ExprKind, ops ...string) (*ast.Node, error) {
	lhs, err := next()
	if err != nil {
		return nil, err
	}
	for {
		op := p.cur().Lexeme
		matched := false
		for _, want := range ops {
			if op == want {
				matched = true
				break
			}
		}
		if !matched {
			return lhs, nil
		}
		p.advance()
		rhs, err := next()
		if err != nil {
			return nil, err
		}
		lhs = ast.NewExpr(kind, op, lhs, rhs)
	}
}

func (p *Parser) parseLogicalOr() (*ast.Node, error) {
	return p.leftAssocBinary(p.parseLogicalAnd, ast.ExprLogicalOr, "||")
}

func (p *Parser) parseLogicalAnd() (*ast.Node, error) {
	return p.leftAssocBinary(p.parseBitOr, ast.ExprLogicalAnd, "&&")
}

func (p *Parser) parseBitOr() (*ast.Node, error) {
	return p.leftAssocBinary(p.parseBitXor, ast.ExprBinary, "|")
}

func (p *Parser) parseBitXor() (*ast.Node, error) {
	return p.leftAssocBinary(p.parseBitAnd, ast.ExprBinary, "^")
}

func (p *Parser) parseBitAnd() (*ast.Node, error) {
	return p.leftAssocBinary(p.parseEquality, ast.ExprBinary, "&")
}

func (p *Parser) parseEquality() (*ast.Node, error) {
	return p.leftAssocBinary(p.parseRelational, ast.ExprBinary, "==", "!=")
}

func (p *Parser) parseRelational() (*ast.Node, error) {
	return p.leftAssocBinary(p.parseShift, ast.ExprBinary, "<", "<=", ">", ">=")
}

func (p *Parser) parseShift() (*ast.Node, error) {
	return p.leftAssocBinary(p.parseAdditive, ast.ExprBinary, "<<", ">>")
}

func (p *Parser) parseAdditive() (*ast.Node, error) {
	return p.leftAssocBinary(p.parseMultiplicative, ast.ExprBinary, "+", "-")
}

func (p *Parser) parseMultiplicative() (*ast.Node, error) {
	return p.leftAssocBinary(p.parsePrefix, ast.ExprBinary, "*", "/", "%")
}

var prefixUnaryOps = map[string]bool{"+": true, "-": true, "!": true, "~": true}

func (p *Parser) parsePrefix() (*ast.Node, error) {
	switch p.cur().Lexeme {
	case "++", "--":
		op := p.advance().Lexeme
		operand, err := p.parsePrefix()
		if err != nil {
			return nil, err
		}
		return ast.NewExpr(ast.ExprPreIncDec, op, operand), nil
	case "*":
		p.advance()
		operand, err := p.parsePrefix()
		if err != nil {
			return nil, err
		}
		return ast.NewExpr(ast.ExprDereference, "*", operand), nil
	case "&":
		p.advance()
		operand, err := p.parsePrefix()
		if err != nil {
			return nil, err
		}
		return ast.NewExpr(ast.ExprAddressOf, "&", operand), nil
	}
	if prefixUnaryOps[p.cur().Lexeme] {
		op := p.advance().Lexeme
		operand, err := p.parsePrefix()
		if err != nil {
			return nil, err
		}
		return ast.NewExpr(ast.ExprUnary, op, operand), nil
	}
	return p.parsePostfix()
}

func (p *Parser) parsePostfix() (*ast.Node, error) {
	n, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch p.cur().Lexeme {
		case "[":
			p.advance()
			idx, err := p.parseExpression()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect("]"); err != nil {
				return nil, err
			}
			n = ast.NewExpr(ast.ExprArrayAccess, "[]", n, idx)

		case "(":
			p.advance()
			var args []*ast.Node
			for !p.check(")") {
				arg, err := p.parseCastLevel()
				if err != nil {
					return nil, err
				}
				args = append(args, arg)
				if p.check(",") {
					p.advance()
					continue
				}
				break
			}
			if _, err := p.expect(")"); err != nil {
				return nil, err
			}
			n = ast.NewExpr(ast.ExprCall, "()", append([]*ast.Node{n}, args...)...)

		case "++", "--":
			op := p.advance().Lexeme
			n = ast.NewExpr(ast.ExprPostIncDec, op, n)

		default:
			return n, nil
		}
	}
}

func (p *Parser) parsePrimary() (*ast.Node, error) {
	switch {
	case p.cur().Kind == token.KindInt:
		tok := p.advance()
		return ast.NewLeaf(ast.IntegerLiteral, tok), nil

	case p.cur().Kind == token.KindIdent:
		tok := p.advance()
		return ast.NewLeaf(ast.Identifier, tok), nil

	case p.check("("):
		p.advance()
		inner, err := p.parseComma()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(")"); err != nil {
			return nil, err
		}
		return inner, nil
	}

	if p.atEOF() {
		return nil, diag.NewFatal(p.cur().Location, "unexpected EOF while parsing, expected expression")
	}
	return nil, diag.NewFatal(p.cur().Location, "expected expression, got %q", p.cur().Lexeme)
}
