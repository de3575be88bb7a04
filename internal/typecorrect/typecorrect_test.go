package typecorrect

import (
	"testing"

	"occ/internal/ir"
)

func unknownLiteral(n int64) ir.Value {
	lit := ir.NewLiteral(n, ir.DataType{Raw: ir.Unknown})
	return ir.LiteralValue(lit)
}

func TestUnknownLiteralResolvesFromSymbolType(t *testing.T) {
	fn := ir.NewFunction("f", nil, ir.DataType{Raw: ir.Void})
	x := fn.Declare("x", ir.DataType{Raw: ir.I16})
	fn.Emit(ir.Instruction{Op: ir.Mov, Dst: ir.SymbolValue(x), Src1: unknownLiteral(1)})

	Run(fn)

	ins := fn.Instructions[0]
	if ins.Src1.Literal.Type.Raw != ir.I16 {
		t.Fatalf("expected literal resolved to i16, got %v", ins.Src1.Literal.Type.Raw)
	}
}

func TestUnresolvedDefaultsToI32(t *testing.T) {
	fn := ir.NewFunction("f", nil, ir.DataType{Raw: ir.Void})
	t1 := fn.FreshRegister(ir.DataType{Raw: ir.Unknown})
	fn.Emit(ir.Instruction{Op: ir.Mov, Dst: ir.SymbolValue(t1), Src1: unknownLiteral(1)})

	Run(fn)

	if fn.Symbols[t1.Name].Type.Raw != ir.I32 {
		t.Fatalf("expected default i32, got %v", fn.Symbols[t1.Name].Type.Raw)
	}
}
