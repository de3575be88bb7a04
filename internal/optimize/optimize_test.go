package optimize

import (
	"testing"

	"occ/internal/ir"
)

func TestDeadCodeAfterReturnIsRemoved(t *testing.T) {
	fn := ir.NewFunction("f", nil, ir.DataType{Raw: ir.I32})
	fn.Emit(ir.Instruction{Op: ir.Ret, Src1: ir.LiteralValue(ir.NewLiteral(0, ir.DataType{Raw: ir.I32}))})
	x := fn.FreshRegister(ir.DataType{Raw: ir.I32})
	fn.Emit(ir.Instruction{Op: ir.Mov, Dst: ir.SymbolValue(x), Src1: ir.LiteralValue(ir.NewLiteral(1, ir.DataType{Raw: ir.I32}))})

	Run(fn, LevelBasic)

	for _, ins := range fn.Instructions {
		if ins.Op == ir.Mov {
			t.Fatalf("expected unreachable mov to be eliminated, got %v", fn.Instructions)
		}
	}
}

// TestConstantPropagationRewritesUse exercises constant propagation
// feeding arithmetic constant folding to a fixed point: x=5 propagates
// into "y = x + 1", which folds to "y = 6", and that constant in turn
// propagates into the return, leaving "ret 6".
func TestConstantPropagationRewritesUse(t *testing.T) {
	fn := ir.NewFunction("f", nil, ir.DataType{Raw: ir.I32})
	x := fn.FreshRegister(ir.DataType{Raw: ir.I32})
	fn.Emit(ir.Instruction{Op: ir.Mov, Dst: ir.SymbolValue(x), Src1: ir.LiteralValue(ir.NewLiteral(5, ir.DataType{Raw: ir.I32}))})
	y := fn.FreshRegister(ir.DataType{Raw: ir.I32})
	fn.Emit(ir.Instruction{Op: ir.Add, Dst: ir.SymbolValue(y), Src1: ir.SymbolValue(x), Src2: ir.LiteralValue(ir.NewLiteral(1, ir.DataType{Raw: ir.I32}))})
	fn.Emit(ir.Instruction{Op: ir.Ret, Src1: ir.SymbolValue(y)})

	Run(fn, LevelBasic)

	found := false
	for _, ins := range fn.Instructions {
		if ins.Op == ir.Ret && ins.Src1.IsLiteral() && ins.Src1.Literal.Value.Int64() == 6 {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected x=5 propagated and folded through y=6 into ret 6, got %v", fn.Instructions)
	}
}

func TestArithmeticConstantsFoldsLiteralOperands(t *testing.T) {
	fn := ir.NewFunction("f", nil, ir.DataType{Raw: ir.I32})
	r := fn.FreshRegister(ir.DataType{Raw: ir.I32})
	fn.Emit(ir.Instruction{Op: ir.Mul, Dst: ir.SymbolValue(r), Src1: ir.LiteralValue(ir.NewLiteral(3, ir.DataType{Raw: ir.I32})), Src2: ir.LiteralValue(ir.NewLiteral(4, ir.DataType{Raw: ir.I32}))})
	fn.Emit(ir.Instruction{Op: ir.Ret, Src1: ir.SymbolValue(r)})

	Run(fn, LevelBasic)

	for _, ins := range fn.Instructions {
		if ins.Op == ir.Ret && ins.Src1.IsLiteral() && ins.Src1.Literal.Value.Int64() == 12 {
			return
		}
	}
	t.Fatalf("expected 3*4 folded to 12, got %v", fn.Instructions)
}

func TestRedundantMovesDropsSelfMove(t *testing.T) {
	fn := ir.NewFunction("f", nil, ir.DataType{Raw: ir.Void})
	x := fn.Declare("x", ir.DataType{Raw: ir.I32})
	fn.Emit(ir.Instruction{Op: ir.Mov, Dst: ir.SymbolValue(x), Src1: ir.SymbolValue(x)})
	fn.Emit(ir.Instruction{Op: ir.Ret})

	if !redundantMoves(fn) {
		t.Fatalf("expected redundantMoves to report a change")
	}
	if fn.Instructions[0].Op != ir.Nop {
		t.Fatalf("expected self-move turned into a nop, got %v", fn.Instructions[0])
	}
}

func TestUnusedRegisterRemoved(t *testing.T) {
	fn := ir.NewFunction("f", nil, ir.DataType{Raw: ir.Void})
	x := fn.FreshRegister(ir.DataType{Raw: ir.I32})
	fn.Emit(ir.Instruction{Op: ir.Mov, Dst: ir.SymbolValue(x), Src1: ir.LiteralValue(ir.NewLiteral(1, ir.DataType{Raw: ir.I32}))})
	fn.Emit(ir.Instruction{Op: ir.Ret})

	Run(fn, LevelBasic)

	for _, ins := range fn.Instructions {
		if ins.Op == ir.Mov {
			t.Fatalf("expected unused register's mov to be eliminated, got %v", fn.Instructions)
		}
	}
}
