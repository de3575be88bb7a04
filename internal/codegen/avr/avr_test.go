package avr

import (
	"strings"
	"testing"

	"occ/internal/ir"
)

func u8ptr() ir.DataType { return ir.DataType{Raw: ir.U8, PointerDepth: 1} }

// TestIOWindowStore exercises scenario S5: storing through a
// compile-time-constant pointer inside the I/O window lowers to an
// immediate load followed by an out, not a generic ld/st sequence.
func TestIOWindowStore(t *testing.T) {
	fn := ir.NewFunction("p", nil, ir.DataType{Raw: ir.Void})
	addr := ir.LiteralValue(ir.NewLiteral(0x25, u8ptr()))
	val := ir.LiteralValue(ir.NewLiteral(0xAA, ir.DataType{Raw: ir.U8}))
	fn.Emit(ir.Instruction{Op: ir.Deref, Dst: addr, Src1: val})
	fn.Emit(ir.Instruction{Op: ir.Ret})

	out, err := Function(fn)
	if err != nil {
		t.Fatalf("Function: %v", err)
	}
	if !strings.Contains(out, "ldi r16, 170") {
		t.Fatalf("expected the stored byte loaded into r16, got:\n%s", out)
	}
	if !strings.Contains(out, "out 5, r16") {
		t.Fatalf("expected an out to the I/O-window-relative address 5, got:\n%s", out)
	}
}

// TestIOWindowLoad mirrors TestIOWindowStore for the dereference-as-load
// form: reading a literal I/O address lowers to a single in.
func TestIOWindowLoad(t *testing.T) {
	fn := ir.NewFunction("r", nil, ir.DataType{Raw: ir.U8})
	dst := fn.FreshRegister(ir.DataType{Raw: ir.U8})
	addr := ir.LiteralValue(ir.NewLiteral(0x23, u8ptr()))
	fn.Emit(ir.Instruction{Op: ir.Deref, Dst: ir.SymbolValue(dst), Src1: addr})
	fn.Emit(ir.Instruction{Op: ir.Ret, Src1: ir.SymbolValue(dst)})

	out, err := Function(fn)
	if err != nil {
		t.Fatalf("Function: %v", err)
	}
	if !strings.Contains(out, "in r25, 3") {
		t.Fatalf("expected an in from I/O-window-relative address 3, got:\n%s", out)
	}
}

// TestAddOfOneBecomesInc checks the "add of constant 1" special case.
func TestAddOfOneBecomesInc(t *testing.T) {
	fn := ir.NewFunction("f", nil, ir.DataType{Raw: ir.I8})
	x := fn.Declare("x", ir.DataType{Raw: ir.I8})
	fn.Emit(ir.Instruction{Op: ir.Add, Dst: ir.SymbolValue(x), Src1: ir.SymbolValue(x), Src2: ir.LiteralValue(ir.NewLiteral(1, ir.DataType{Raw: ir.I8}))})
	fn.Emit(ir.Instruction{Op: ir.Ret, Src1: ir.SymbolValue(x)})

	out, err := Function(fn)
	if err != nil {
		t.Fatalf("Function: %v", err)
	}
	if !strings.Contains(out, "inc r") {
		t.Fatalf("expected add-of-1 lowered to inc, got:\n%s", out)
	}
}

// TestBranchEmitsTrueAndFalseTargets checks the Blt lowering emits both
// the conditional branch to the true label and the explicit jmp to the
// fall-through (false) label.
func TestBranchEmitsTrueAndFalseTargets(t *testing.T) {
	fn := ir.NewFunction("g", []ir.Symbol{{Name: "x", Type: ir.DataType{Raw: ir.I32}}}, ir.DataType{Raw: ir.I32})
	x := fn.Declare("x", ir.DataType{Raw: ir.I32})
	fn.PlaceLabel("body")
	fn.Emit(ir.Instruction{Op: ir.Blt, Src1: ir.SymbolValue(x), Src2: ir.LiteralValue(ir.NewLiteral(5, ir.DataType{Raw: ir.I32})), Dst: ir.LabelValue("body")})
	fn.Emit(ir.Instruction{Op: ir.Ret, Src1: ir.SymbolValue(x)})

	out, err := Function(fn)
	if err != nil {
		t.Fatalf("Function: %v", err)
	}
	if !strings.Contains(out, "brlo body") {
		t.Fatalf("expected brlo to the true label, got:\n%s", out)
	}
	if !strings.Contains(out, "jmp g_bf") {
		t.Fatalf("expected an explicit jmp to the synthesized false label, got:\n%s", out)
	}
}
