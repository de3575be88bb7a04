// Package irbuild lowers a parsed function into the three-address IR:
// parameter binding, a single return slot and exit label, statement and
// expression lowering (including short-circuit && / ||, pre/post
// increment, the ternary operator, casts, array indexing and the
// dereference-as-lvalue form), and call argument pushing.
package irbuild

import (
	"math/big"

	"occ/internal/ast"
	"occ/internal/diag"
	"occ/internal/ir"
)

// Build lowers one parsed ast.Function node into an *ir.Function. A
// function that fails to build (an unknown identifier, a malformed
// construct the parser let through) returns a diagnostic error; per the
// driver's policy, one function's build failure does not prevent
// attempting the rest of the translation unit.
func Build(fnNode *ast.Node) (*ir.Function, error) {
	retType := typeFromNode(fnNode.Children[0])
	nameTok := fnNode.Children[1].Tok
	argsNode := fnNode.Children[2]
	body := fnNode.Children[3]

	var params []ir.Symbol
	for _, arg := range argsNode.Children {
		t := typeFromNode(arg.Children[0])
		name := arg.Children[1].Tok.Lexeme
		params = append(params, ir.Symbol{Name: name, Type: t})
	}

	f := ir.NewFunction(nameTok.Lexeme, params, retType)
	for _, p := range params {
		f.Declare(p.Name, p.Type)
	}
	if retType.Raw != ir.Void {
		f.ReturnSlot = ir.SymbolValue(f.Declare("R0", retType))
	}

	exit := f.FreshLabel("exit")
	b := &builder{fn: f, exitLabel: exit}
	if err := b.statement(body); err != nil {
		return nil, err
	}

	f.PlaceLabel(exit)
	if retType.Raw == ir.Void {
		f.Emit(ir.Instruction{Op: ir.Ret})
	} else {
		f.Emit(ir.Instruction{Op: ir.Ret, Src1: f.ReturnSlot})
	}
	return f, nil
}

type builder struct {
	fn        *ir.Function
	exitLabel string
}

func typeFromNode(n *ast.Node) ir.DataType {
	raw := rawTypeFromLexeme(n.Children[0].Tok.Lexeme)
	return ir.DataType{Raw: raw, PointerDepth: n.PointerDepth}
}

func rawTypeFromLexeme(s string) ir.RawType {
	switch s {
	case "i8":
		return ir.I8
	case "u8":
		return ir.U8
	case "i16":
		return ir.I16
	case "u16":
		return ir.U16
	case "i32":
		return ir.I32
	case "u32":
		return ir.U32
	case "i64":
		return ir.I64
	case "u64":
		return ir.U64
	case "bool":
		return ir.Bool
	case "void":
		return ir.Void
	}
	return ir.Unknown
}

// --- statements ---

func (b *builder) statement(n *ast.Node) error {
	switch n.Kind {
	case ast.Statements:
		for _, s := range n.Children {
			if err := b.statement(s); err != nil {
				return err
			}
		}
		return nil

	case ast.Statement:
		if len(n.Children) == 0 {
			return nil
		}
		child := n.Children[0]
		if child.Kind == ast.RawToken {
			switch child.Tok.Lexeme {
			case "continue":
				label, ok := b.fn.CurrentContinue()
				if !ok {
					return diag.NewFatal(child.Tok.Location, "continue used outside of a loop")
				}
				b.fn.Emit(ir.Instruction{Op: ir.Jmp, Dst: ir.LabelValue(label)})
				return nil
			case "break":
				label, ok := b.fn.CurrentBreak()
				if !ok {
					return diag.NewFatal(child.Tok.Location, "break used outside of a loop")
				}
				b.fn.Emit(ir.Instruction{Op: ir.Jmp, Dst: ir.LabelValue(label)})
				return nil
			}
		}
		_, err := b.expr(child)
		return err

	case ast.AssignmentStatement:
		return b.declaration(n)

	case ast.IfStatement:
		return b.ifStatement(n)

	case ast.WhileLoop:
		return b.whileLoop(n)

	case ast.DoWhileLoop:
		return b.doWhileLoop(n)

	case ast.Loop:
		return b.bareLoop(n)

	case ast.ReturnStatement:
		return b.returnStatement(n)

	case ast.Empty:
		return nil
	}
	return diag.NewFatalNoLoc("irbuild: unhandled statement kind %v", n.Kind)
}

func (b *builder) declaration(n *ast.Node) error {
	t := typeFromNode(n.Children[0])
	for _, assign := range n.Children[1].Children {
		name := assign.Children[0].Tok.Lexeme
		sym := b.fn.Declare(name, t)
		b.fn.Emit(ir.Instruction{Op: ir.Alloc, Dst: ir.SymbolValue(sym)})
		val, err := b.expr(assign.Children[1])
		if err != nil {
			return err
		}
		b.fn.Emit(ir.Instruction{Op: ir.Mov, Dst: ir.SymbolValue(sym), Src1: val})
	}
	return nil
}

func (b *builder) ifStatement(n *ast.Node) error {
	cond, err := b.expr(n.Children[0])
	if err != nil {
		return err
	}
	elseLabel := b.fn.FreshLabel("else")
	endLabel := b.fn.FreshLabel("endif")
	b.fn.Emit(ir.Instruction{Op: ir.Beq, Src1: cond, Src2: ir.LiteralValue(ir.NewLiteral(0, cond.Type())), Dst: ir.LabelValue(elseLabel)})
	if err := b.statement(n.Children[1]); err != nil {
		return err
	}
	b.fn.Emit(ir.Instruction{Op: ir.Jmp, Dst: ir.LabelValue(endLabel)})
	b.fn.PlaceLabel(elseLabel)
	if err := b.statement(n.Children[2]); err != nil {
		return err
	}
	b.fn.PlaceLabel(endLabel)
	return nil
}

func (b *builder) whileLoop(n *ast.Node) error {
	top := b.fn.FreshLabel("while")
	body := b.fn.FreshLabel("whilebody")
	end := b.fn.FreshLabel("endwhile")

	b.fn.PlaceLabel(top)
	cond, err := b.expr(n.Children[0])
	if err != nil {
		return err
	}
	b.fn.Emit(ir.Instruction{Op: ir.Beq, Src1: cond, Src2: ir.LiteralValue(ir.NewLiteral(0, cond.Type())), Dst: ir.LabelValue(end)})
	b.fn.PlaceLabel(body)
	b.fn.PushLoop(top, end)
	err = b.statement(n.Children[1])
	b.fn.PopLoop()
	if err != nil {
		return err
	}
	b.fn.Emit(ir.Instruction{Op: ir.Jmp, Dst: ir.LabelValue(top)})
	b.fn.PlaceLabel(end)
	return nil
}

func (b *builder) doWhileLoop(n *ast.Node) error {
	top := b.fn.FreshLabel("dowhile")
	continueLabel := b.fn.FreshLabel("dowhilecond")
	end := b.fn.FreshLabel("enddowhile")

	b.fn.PlaceLabel(top)
	b.fn.PushLoop(continueLabel, end)
	err := b.statement(n.Children[0])
	b.fn.PopLoop()
	if err != nil {
		return err
	}
	b.fn.PlaceLabel(continueLabel)
	cond, err := b.expr(n.Children[1])
	if err != nil {
		return err
	}
	b.fn.Emit(ir.Instruction{Op: ir.Bne, Src1: cond, Src2: ir.LiteralValue(ir.NewLiteral(0, cond.Type())), Dst: ir.LabelValue(top)})
	b.fn.PlaceLabel(end)
	return nil
}

func (b *builder) bareLoop(n *ast.Node) error {
	top := b.fn.FreshLabel("loop")
	end := b.fn.FreshLabel("endloop")
	b.fn.PlaceLabel(top)
	b.fn.PushLoop(top, end)
	err := b.statement(n.Children[0])
	b.fn.PopLoop()
	if err != nil {
		return err
	}
	b.fn.Emit(ir.Instruction{Op: ir.Jmp, Dst: ir.LabelValue(top)})
	b.fn.PlaceLabel(end)
	return nil
}

func (b *builder) returnStatement(n *ast.Node) error {
	val, err := b.expr(n.Children[0])
	if err != nil {
		return err
	}
	if b.fn.ReturnSlot.IsSymbol() {
		b.fn.Emit(ir.Instruction{Op: ir.Mov, Dst: b.fn.ReturnSlot, Src1: val})
	}
	b.fn.Emit(ir.Instruction{Op: ir.Jmp, Dst: ir.LabelValue(b.exitLabel)})
	return nil
}

// --- expressions ---

func (b *builder) expr(n *ast.Node) (ir.Value, error) {
	switch n.Kind {
	case ast.IntegerLiteral:
		v := new(big.Int)
		v.SetString(n.Tok.Lexeme, 10)
		return ir.LiteralValue(ir.Literal{Value: v, Type: ir.DataType{Raw: ir.Unknown}}), nil

	case ast.Identifier:
		sym, ok := b.fn.Symbols[n.Tok.Lexeme]
		if !ok {
			return ir.Value{}, diag.NewFatal(n.Tok.Location, "use of undeclared identifier %q", n.Tok.Lexeme)
		}
		return ir.SymbolValue(sym), nil

	case ast.Expression:
		return b.exprNode(n)
	}
	return ir.Value{}, diag.NewFatalNoLoc("irbuild: unhandled expression kind %v", n.Kind)
}

func (b *builder) exprNode(n *ast.Node) (ir.Value, error) {
	switch n.ExprKind {
	case ast.ExprBinary:
		return b.binary(n)
	case ast.ExprLogicalAnd:
		return b.logicalAnd(n)
	case ast.ExprLogicalOr:
		return b.logicalOr(n)
	case ast.ExprUnary:
		return b.unary(n)
	case ast.ExprAssign:
		return b.assign(n)
	case ast.ExprCompoundAssign:
		return b.compoundAssign(n)
	case ast.ExprCast:
		return b.cast(n)
	case ast.ExprTernary:
		return b.ternary(n)
	case ast.ExprArrayAccess:
		return b.arrayAccess(n)
	case ast.ExprCall:
		return b.call(n)
	case ast.ExprDereference:
		return b.dereference(n)
	case ast.ExprDereferenceLeft:
		return ir.Value{}, diag.NewFatalNoLoc("irbuild: dereference-as-lvalue reached rvalue context")
	case ast.ExprAddressOf:
		return b.addressOf(n)
	case ast.ExprPreIncDec:
		return b.preIncDec(n)
	case ast.ExprPostIncDec:
		return b.postIncDec(n)
	}
	return ir.Value{}, diag.NewFatalNoLoc("irbuild: unhandled expr kind %v", n.ExprKind)
}

var binaryOps = map[string]ir.OpCode{
	"+": ir.Add, "-": ir.Sub, "*": ir.Mul, "/": ir.Div, "%": ir.Mod,
	"<<": ir.Shl, ">>": ir.Shr, "&": ir.And, "|": ir.Or, "^": ir.Xor,
	"==": ir.Ceq, "!=": ir.Cne, "<": ir.Clt, ">": ir.Cgt, "<=": ir.Cle, ">=": ir.Cge,
}

func (b *builder) binary(n *ast.Node) (ir.Value, error) {
	if n.Op == "," {
		if _, err := b.expr(n.Children[0]); err != nil {
			return ir.Value{}, err
		}
		return b.expr(n.Children[1])
	}
	lhs, err := b.expr(n.Children[0])
	if err != nil {
		return ir.Value{}, err
	}
	rhs, err := b.expr(n.Children[1])
	if err != nil {
		return ir.Value{}, err
	}
	op, ok := binaryOps[n.Op]
	if !ok {
		return ir.Value{}, diag.NewFatalNoLoc("irbuild: unknown binary operator %q", n.Op)
	}
	resultType := ir.DataType{Raw: ir.Unknown}
	if op.IsCompare() {
		resultType = ir.DataType{Raw: ir.Bool}
	}
	dst := b.fn.FreshRegister(resultType)
	b.fn.Emit(ir.Instruction{Op: op, Dst: ir.SymbolValue(dst), Src1: lhs, Src2: rhs})
	return ir.SymbolValue(dst), nil
}

// logicalAnd/logicalOr implement short-circuit evaluation: the rhs is
// only evaluated, and only its side effects occur, when the lhs didn't
// already decide the result.
func (b *builder) logicalAnd(n *ast.Node) (ir.Value, error) {
	result := b.fn.FreshRegister(ir.DataType{Raw: ir.Bool})
	lhs, err := b.expr(n.Children[0])
	if err != nil {
		return ir.Value{}, err
	}
	b.fn.Emit(ir.Instruction{Op: ir.Mov, Dst: ir.SymbolValue(result), Src1: lhs})
	short := b.fn.FreshLabel("andshort")
	b.fn.Emit(ir.Instruction{Op: ir.Beq, Src1: ir.SymbolValue(result), Src2: ir.LiteralValue(ir.NewLiteral(0, ir.DataType{Raw: ir.Bool})), Dst: ir.LabelValue(short)})
	rhs, err := b.expr(n.Children[1])
	if err != nil {
		return ir.Value{}, err
	}
	b.fn.Emit(ir.Instruction{Op: ir.Mov, Dst: ir.SymbolValue(result), Src1: rhs})
	b.fn.PlaceLabel(short)
	return ir.SymbolValue(result), nil
}

func (b *builder) logicalOr(n *ast.Node) (ir.Value, error) {
	result := b.fn.FreshRegister(ir.DataType{Raw: ir.Bool})
	lhs, err := b.expr(n.Children[0])
	if err != nil {
		return ir.Value{}, err
	}
	b.fn.Emit(ir.Instruction{Op: ir.Mov, Dst: ir.SymbolValue(result), Src1: lhs})
	short := b.fn.FreshLabel("orshort")
	b.fn.Emit(ir.Instruction{Op: ir.Bne, Src1: ir.SymbolValue(result), Src2: ir.LiteralValue(ir.NewLiteral(0, ir.DataType{Raw: ir.Bool})), Dst: ir.LabelValue(short)})
	rhs, err := b.expr(n.Children[1])
	if err != nil {
		return ir.Value{}, err
	}
	b.fn.Emit(ir.Instruction{Op: ir.Mov, Dst: ir.SymbolValue(result), Src1: rhs})
	b.fn.PlaceLabel(short)
	return ir.SymbolValue(result), nil
}

func (b *builder) unary(n *ast.Node) (ir.Value, error) {
	operand, err := b.expr(n.Children[0])
	if err != nil {
		return ir.Value{}, err
	}
	switch n.Op {
	case "-":
		dst := b.fn.FreshRegister(ir.DataType{Raw: ir.Unknown})
		b.fn.Emit(ir.Instruction{Op: ir.Sub, Dst: ir.SymbolValue(dst), Src1: ir.LiteralValue(ir.NewLiteral(0, operand.Type())), Src2: operand})
		return ir.SymbolValue(dst), nil
	case "+":
		return operand, nil
	case "!":
		dst := b.fn.FreshRegister(ir.DataType{Raw: ir.Bool})
		b.fn.Emit(ir.Instruction{Op: ir.Ceq, Dst: ir.SymbolValue(dst), Src1: operand, Src2: ir.LiteralValue(ir.NewLiteral(0, operand.Type()))})
		return ir.SymbolValue(dst), nil
	case "~":
		dst := b.fn.FreshRegister(operand.Type())
		b.fn.Emit(ir.Instruction{Op: ir.Xor, Dst: ir.SymbolValue(dst), Src1: operand, Src2: ir.LiteralValue(ir.NewLiteral(-1, operand.Type()))})
		return ir.SymbolValue(dst), nil
	}
	return ir.Value{}, diag.NewFatalNoLoc("irbuild: unknown unary operator %q", n.Op)
}

// assign evaluates the right-hand side and hands it to storeInto, which
// resolves the lvalue into the symbol (or pointer dereference) to write
// through, per the node's ExprKind.
func (b *builder) assign(n *ast.Node) (ir.Value, error) {
	rhs, err := b.expr(n.Children[1])
	if err != nil {
		return ir.Value{}, err
	}
	return rhs, b.storeInto(n.Children[0], rhs)
}

func (b *builder) storeInto(target *ast.Node, val ir.Value) error {
	if target.Kind == ast.Identifier {
		sym, ok := b.fn.Symbols[target.Tok.Lexeme]
		if !ok {
			return diag.NewFatal(target.Tok.Location, "use of undeclared identifier %q", target.Tok.Lexeme)
		}
		b.fn.Emit(ir.Instruction{Op: ir.Mov, Dst: ir.SymbolValue(sym), Src1: val})
		return nil
	}
	if target.Kind == ast.Expression && target.ExprKind == ast.ExprDereferenceLeft {
		ptr, err := b.expr(target.Children[0])
		if err != nil {
			return err
		}
		b.fn.Emit(ir.Instruction{Op: ir.Deref, Dst: ptr, Src1: val})
		return nil
	}
	return diag.NewFatalNoLoc("irbuild: invalid assignment target %v", target.Kind)
}

func (b *builder) compoundAssign(n *ast.Node) (ir.Value, error) {
	opLexeme := n.Op[:len(n.Op)-1] // strip trailing '='
	op, ok := binaryOps[opLexeme]
	if !ok {
		return ir.Value{}, diag.NewFatalNoLoc("irbuild: unknown compound-assignment operator %q", n.Op)
	}
	lhs, err := b.expr(n.Children[0])
	if err != nil {
		return ir.Value{}, err
	}
	rhs, err := b.expr(n.Children[1])
	if err != nil {
		return ir.Value{}, err
	}
	dst := b.fn.FreshRegister(lhs.Type())
	b.fn.Emit(ir.Instruction{Op: op, Dst: ir.SymbolValue(dst), Src1: lhs, Src2: rhs})
	return ir.SymbolValue(dst), b.storeInto(n.Children[0], ir.SymbolValue(dst))
}

func (b *builder) cast(n *ast.Node) (ir.Value, error) {
	targetType := typeFromNode(n.Children[0])
	operand, err := b.expr(n.Children[1])
	if err != nil {
		return ir.Value{}, err
	}
	dst := b.fn.FreshRegister(targetType)
	b.fn.Emit(ir.Instruction{Op: ir.Cast, Dst: ir.SymbolValue(dst), Src1: operand})
	return ir.SymbolValue(dst), nil
}

func (b *builder) ternary(n *ast.Node) (ir.Value, error) {
	cond, err := b.expr(n.Children[0])
	if err != nil {
		return ir.Value{}, err
	}
	result := b.fn.FreshRegister(ir.DataType{Raw: ir.Unknown})
	elseLabel := b.fn.FreshLabel("ternelse")
	endLabel := b.fn.FreshLabel("ternend")
	b.fn.Emit(ir.Instruction{Op: ir.Beq, Src1: cond, Src2: ir.LiteralValue(ir.NewLiteral(0, cond.Type())), Dst: ir.LabelValue(elseLabel)})
	thenVal, err := b.expr(n.Children[1])
	if err != nil {
		return ir.Value{}, err
	}
	b.fn.Emit(ir.Instruction{Op: ir.Mov, Dst: ir.SymbolValue(result), Src1: thenVal})
	b.fn.Emit(ir.Instruction{Op: ir.Jmp, Dst: ir.LabelValue(endLabel)})
	b.fn.PlaceLabel(elseLabel)
	elseVal, err := b.expr(n.Children[2])
	if err != nil {
		return ir.Value{}, err
	}
	b.fn.Emit(ir.Instruction{Op: ir.Mov, Dst: ir.SymbolValue(result), Src1: elseVal})
	b.fn.PlaceLabel(endLabel)
	return ir.SymbolValue(result), nil
}

func (b *builder) arrayAccess(n *ast.Node) (ir.Value, error) {
	base, err := b.expr(n.Children[0])
	if err != nil {
		return ir.Value{}, err
	}
	idx, err := b.expr(n.Children[1])
	if err != nil {
		return ir.Value{}, err
	}
	elemType := base.Type()
	if elemType.PointerDepth > 0 {
		elemType.PointerDepth--
	}
	dst := b.fn.FreshRegister(elemType)
	b.fn.Emit(ir.Instruction{Op: ir.Array, Dst: ir.SymbolValue(dst), Src1: base, Src2: idx})
	return ir.SymbolValue(dst), nil
}

func (b *builder) call(n *ast.Node) (ir.Value, error) {
	calleeNode := n.Children[0]
	if calleeNode.Kind != ast.Identifier {
		return ir.Value{}, diag.NewFatalNoLoc("irbuild: call target must be a function name")
	}
	var args []ir.Value
	for _, argNode := range n.Children[1:] {
		v, err := b.expr(argNode)
		if err != nil {
			return ir.Value{}, err
		}
		args = append(args, v)
		b.fn.Emit(ir.Instruction{Op: ir.Push, Src1: v})
	}
	dst := b.fn.FreshRegister(ir.DataType{Raw: ir.Unknown})
	b.fn.Emit(ir.Instruction{Op: ir.Call, Dst: ir.SymbolValue(dst), Src1: ir.SymbolValue(ir.Symbol{Name: calleeNode.Tok.Lexeme}), Args: args})
	return ir.SymbolValue(dst), nil
}

func (b *builder) dereference(n *ast.Node) (ir.Value, error) {
	ptr, err := b.expr(n.Children[0])
	if err != nil {
		return ir.Value{}, err
	}
	elemType := ptr.Type()
	if elemType.PointerDepth > 0 {
		elemType.PointerDepth--
	}
	dst := b.fn.FreshRegister(elemType)
	b.fn.Emit(ir.Instruction{Op: ir.Deref, Dst: ir.SymbolValue(dst), Src1: ptr})
	return ir.SymbolValue(dst), nil
}

func (b *builder) addressOf(n *ast.Node) (ir.Value, error) {
	target := n.Children[0]
	if target.Kind != ast.Identifier {
		return ir.Value{}, diag.NewFatalNoLoc("irbuild: address-of operand must be an identifier")
	}
	sym, ok := b.fn.Symbols[target.Tok.Lexeme]
	if !ok {
		return ir.Value{}, diag.NewFatal(target.Tok.Location, "use of undeclared identifier %q", target.Tok.Lexeme)
	}
	ptrType := sym.Type
	ptrType.PointerDepth++
	dst := b.fn.FreshRegister(ptrType)
	b.fn.Emit(ir.Instruction{Op: ir.Ref, Dst: ir.SymbolValue(dst), Src1: ir.SymbolValue(sym)})
	return ir.SymbolValue(dst), nil
}

func (b *builder) preIncDec(n *ast.Node) (ir.Value, error) {
	op := ir.Add
	if n.Op == "--" {
		op = ir.Sub
	}
	cur, err := b.expr(n.Children[0])
	if err != nil {
		return ir.Value{}, err
	}
	dst := b.fn.FreshRegister(cur.Type())
	b.fn.Emit(ir.Instruction{Op: op, Dst: ir.SymbolValue(dst), Src1: cur, Src2: ir.LiteralValue(ir.NewLiteral(1, cur.Type()))})
	return ir.SymbolValue(dst), b.storeInto(n.Children[0], ir.SymbolValue(dst))
}

func (b *builder) postIncDec(n *ast.Node) (ir.Value, error) {
	op := ir.Add
	if n.Op == "--" {
		op = ir.Sub
	}
	cur, err := b.expr(n.Children[0])
	if err != nil {
		return ir.Value{}, err
	}
	old := b.fn.FreshRegister(cur.Type())
	b.fn.Emit(ir.Instruction{Op: ir.Mov, Dst: ir.SymbolValue(old), Src1: cur})
	updated := b.fn.FreshRegister(cur.Type())
	b.fn.Emit(ir.Instruction{Op: op, Dst: ir.SymbolValue(updated), Src1: cur, Src2: ir.LiteralValue(ir.NewLiteral(1, cur.Type()))})
	if err := b.storeInto(n.Children[0], ir.SymbolValue(updated)); err != nil {
		return ir.Value{}, err
	}
	return ir.SymbolValue(old), nil
}
