// Package irdump renders a function's three-address IR as the
// compiler's own textual dump format: a signature line, then one
// column-aligned line per instruction, with label lines interleaved at
// the instruction they target.
package irdump

import (
	"fmt"
	"strings"

	"occ/internal/ir"
)

// Function renders one function's IR, matching the original compiler's
// "opcode padded to a column, then operands" layout so the dump reads
// as a table rather than a ragged list.
func Function(fn *ir.Function) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s {\n", fn.RenderSignature())
	for idx, ins := range fn.Instructions {
		if label, ok := fn.LabelAt[idx]; ok {
			fmt.Fprintf(&b, "%s:\n", label)
		}
		fmt.Fprintf(&b, "    %-4d %s\n", idx, renderInstruction(ins))
	}
	b.WriteString("}\n")
	return b.String()
}

func renderInstruction(ins ir.Instruction) string {
	op := fmt.Sprintf("%-6s", ins.Op.String())
	switch ins.Op {
	case ir.Nop:
		return strings.TrimSpace(op)
	case ir.Ret:
		if ins.Src1.Kind == 0 && !ins.Src1.IsSymbol() && !ins.Src1.IsLiteral() {
			return strings.TrimSpace(op)
		}
		return fmt.Sprintf("%s%s", op, ins.Src1)
	case ir.Jmp:
		return fmt.Sprintf("%s%s", op, ins.Dst)
	case ir.Call:
		return fmt.Sprintf("%-6s%s = %s(%s)", op, ins.Dst, ins.Src1, joinValues(ins.Args))
	case ir.Push:
		return fmt.Sprintf("%s%s", op, ins.Src1)
	case ir.Array:
		return fmt.Sprintf("%-6s%s = %s[%s]", op, ins.Dst, ins.Src1, ins.Src2)
	default:
		if ins.Op.IsBranch() {
			return fmt.Sprintf("%s%s, %s, %s", op, ins.Src1, ins.Src2, ins.Dst)
		}
		if ins.Src2.Kind == 0 && !ins.Src2.IsSymbol() && !ins.Src2.IsLiteral() && !ins.Src2.IsLabel() {
			return fmt.Sprintf("%s%s = %s", op, ins.Dst, ins.Src1)
		}
		return fmt.Sprintf("%s%s = %s, %s", op, ins.Dst, ins.Src1, ins.Src2)
	}
}

func joinValues(vs []ir.Value) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = v.String()
	}
	return strings.Join(parts, ", ")
}
