// Package typecorrect resolves every Unknown-typed value (integer
// literals and the temporaries derived from them) in a function to a
// concrete type, by propagating concrete types across instructions to a
// fixed point and defaulting anything still unresolved to i32.
package typecorrect

import "occ/internal/ir"

// Run repeatedly sweeps fn's instructions, propagating any concrete
// type found on one side of an instruction onto an Unknown type on the
// other side (and onto the destination), until a full sweep makes no
// further change. Anything still Unknown afterward defaults to i32,
// matching the grounding algorithm's two-scan-per-iteration shape:
// forward (within each instruction, between operands and destination)
// then backward (a symbol's known type, via the symbol table, onto its
// other occurrences) within each pass.
func Run(fn *ir.Function) {
	symbolType := map[string]ir.DataType{}
	for name, sym := range fn.Symbols {
		symbolType[name] = sym.Type
	}

	changed := true
	for changed {
		changed = false

		// Forward scan: an instruction's known operand type resolves its
		// destination's type and an Unknown other operand, and a known
		// destination type resolves Unknown literal operands.
		for idx := range fn.Instructions {
			if propagateForward(fn, idx, symbolType) {
				changed = true
			}
		}

		// Backward scan: once a symbol's type is known anywhere (e.g. it
		// was declared with a concrete type, or resolved above), apply it
		// to every other occurrence of that same symbol.
		for name, t := range symbolType {
			if t.Raw == ir.Unknown {
				continue
			}
			for idx := range fn.Instructions {
				if backPropagateSymbol(fn, idx, name, t) {
					changed = true
				}
			}
		}
	}

	// Default anything still unresolved to i32, the language default.
	for idx := range fn.Instructions {
		defaultInstruction(&fn.Instructions[idx], symbolType)
	}
	for name, sym := range fn.Symbols {
		if sym.Type.Raw == ir.Unknown {
			sym.Type.Raw = ir.I32
			fn.Symbols[name] = sym
		}
	}
}

func knownType(v ir.Value, symbolType map[string]ir.DataType) (ir.DataType, bool) {
	switch v.Kind {
	case ir.ValueSymbol:
		if t, ok := symbolType[v.Symbol.Name]; ok && t.Raw != ir.Unknown {
			return t, true
		}
		return ir.DataType{}, false
	case ir.ValueLiteral:
		if v.Literal.Type.Raw != ir.Unknown {
			return v.Literal.Type, true
		}
		return ir.DataType{}, false
	}
	return ir.DataType{}, false
}

func setType(v *ir.Value, t ir.DataType, symbolType map[string]ir.DataType) bool {
	switch v.Kind {
	case ir.ValueSymbol:
		if cur, ok := symbolType[v.Symbol.Name]; !ok || cur.Raw == ir.Unknown {
			t2 := t
			t2.PointerDepth = v.Symbol.Type.PointerDepth
			symbolType[v.Symbol.Name] = t2
			v.Symbol.Type = t2
			return true
		}
	case ir.ValueLiteral:
		if v.Literal.Type.Raw == ir.Unknown {
			v.Literal.Type = t
			return true
		}
	}
	return false
}

func propagateForward(fn *ir.Function, idx int, symbolType map[string]ir.DataType) bool {
	ins := &fn.Instructions[idx]
	changed := false

	if ins.Op.IsArith() || ins.Op == ir.Mov || ins.Op == ir.Ref || ins.Op == ir.Deref {
		t1, ok1 := knownType(ins.Src1, symbolType)
		t2, ok2 := knownType(ins.Src2, symbolType)
		switch {
		case ok1 && !ok2 && !(ins.Src2.IsSymbol() && ins.Src2.Symbol.Name == "") || (ok1 && ins.Op == ir.Mov):
			if setType(&ins.Src2, t1, symbolType) {
				changed = true
			}
			if setType(&ins.Dst, t1, symbolType) {
				changed = true
			}
		case ok2 && !ok1:
			if setType(&ins.Src1, t2, symbolType) {
				changed = true
			}
			if setType(&ins.Dst, t2, symbolType) {
				changed = true
			}
		case ok1:
			if setType(&ins.Dst, t1, symbolType) {
				changed = true
			}
		case ok2:
			if setType(&ins.Dst, t2, symbolType) {
				changed = true
			}
		}
	}

	if dt, ok := knownType(ins.Dst, symbolType); ok {
		if ins.Src1.Kind == ir.ValueLiteral && ins.Src1.Literal.Type.Raw == ir.Unknown && !ins.Op.IsCompare() {
			if setType(&ins.Src1, dt, symbolType) {
				changed = true
			}
		}
		if ins.Src2.Kind == ir.ValueLiteral && ins.Src2.Literal.Type.Raw == ir.Unknown && !ins.Op.IsCompare() {
			if setType(&ins.Src2, dt, symbolType) {
				changed = true
			}
		}
	}

	return changed
}

func backPropagateSymbol(fn *ir.Function, idx int, name string, t ir.DataType) bool {
	ins := &fn.Instructions[idx]
	changed := false
	for _, v := range []*ir.Value{&ins.Dst, &ins.Src1, &ins.Src2} {
		if v.Kind == ir.ValueSymbol && v.Symbol.Name == name && v.Symbol.Type.Raw == ir.Unknown {
			v.Symbol.Type = t
			changed = true
		}
	}
	for i := range ins.Args {
		if ins.Args[i].Kind == ir.ValueSymbol && ins.Args[i].Symbol.Name == name && ins.Args[i].Symbol.Type.Raw == ir.Unknown {
			ins.Args[i].Symbol.Type = t
			changed = true
		}
	}
	return changed
}

func defaultInstruction(ins *ir.Instruction, symbolType map[string]ir.DataType) {
	for _, v := range []*ir.Value{&ins.Dst, &ins.Src1, &ins.Src2} {
		defaultValue(v, symbolType)
	}
	for i := range ins.Args {
		defaultValue(&ins.Args[i], symbolType)
	}
}

func defaultValue(v *ir.Value, symbolType map[string]ir.DataType) {
	switch v.Kind {
	case ir.ValueSymbol:
		if v.Symbol.Type.Raw == ir.Unknown {
			v.Symbol.Type.Raw = ir.I32
			symbolType[v.Symbol.Name] = v.Symbol.Type
		}
	case ir.ValueLiteral:
		if v.Literal.Type.Raw == ir.Unknown {
			v.Literal.Type.Raw = ir.I32
		}
	}
}
