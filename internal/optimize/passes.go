package optimize

import (
	"math/big"

	"occ/internal/ir"
)

// compactNops removes every Nop instruction that carries no live label (a
// Nop whose label is still in fn.Labels must stay, as a placeholder for
// its jump target, until removeUnusedLabels confirms nothing references
// it), re-indexing every label to account for the removed slots.
func compactNops(fn *ir.Function) bool {
	if len(fn.Instructions) == 0 {
		return false
	}
	oldToNew := make([]int, len(fn.Instructions))
	var kept []ir.Instruction
	changed := false
	for i, ins := range fn.Instructions {
		_, labelLive := fn.Labels[ins.Label]
		if ins.Op == ir.Nop && (ins.Label == "" || !labelLive) {
			oldToNew[i] = -1
			changed = true
			continue
		}
		oldToNew[i] = len(kept)
		kept = append(kept, ins)
	}
	if !changed {
		return false
	}

	// Migrate label -> index maps through the old-to-new mapping. A
	// label that pointed at a removed Nop now points at the next
	// surviving instruction.
	newLabels := map[string]int{}
	for name, idx := range fn.Labels {
		ni := idx
		for ni < len(oldToNew) && oldToNew[ni] == -1 {
			ni++
		}
		if ni >= len(oldToNew) {
			newLabels[name] = len(kept)
		} else {
			newLabels[name] = oldToNew[ni]
		}
	}
	fn.Labels = newLabels

	newLabelAt := map[int]string{}
	for name, idx := range newLabels {
		newLabelAt[idx] = name
	}
	fn.LabelAt = newLabelAt
	fn.Instructions = kept
	return true
}

// chainJumps collapses "jmp A" where the instruction at A is itself
// "jmp B" into a direct jump to the final target,
// short-circuiting chains of unconditional jumps the earlier passes
// introduced (e.g. via if/else lowering with an empty branch).
func chainJumps(fn *ir.Function) bool {
	changed := false
	resolve := func(label string) (string, bool) {
		seen := map[string]bool{}
		cur := label
		for {
			idx, ok := fn.Labels[cur]
			if !ok || idx >= len(fn.Instructions) {
				return cur, cur != label
			}
			target := fn.Instructions[idx]
			if target.Op != ir.Jmp || !target.Dst.IsLabel() {
				return cur, cur != label
			}
			if seen[cur] {
				return cur, cur != label // cyclic; leave as-is
			}
			seen[cur] = true
			cur = target.Dst.Label
		}
	}
	for i := range fn.Instructions {
		ins := &fn.Instructions[i]
		if (ins.Op == ir.Jmp || ins.Op.IsBranch()) && ins.Dst.IsLabel() {
			if final, ok := resolve(ins.Dst.Label); ok {
				ins.Dst = ir.LabelValue(final)
				changed = true
			}
		}
	}
	return changed
}

// eliminateDeadCode drops every instruction unreachable from the
// function entry, found via breadth-first reachability over the
// control-flow graph.
func eliminateDeadCode(fn *ir.Function) bool {
	if len(fn.Instructions) == 0 {
		return false
	}
	reachable := fn.ExploredFrom(0)
	changed := false
	for i := range fn.Instructions {
		if !reachable[i] && fn.Instructions[i].Op != ir.Nop {
			fn.ChangeToNop(i)
			changed = true
		}
	}
	return changed
}

// foldCasts implements remove_casts: a non-parameter symbol written
// exactly once, by a Cast whose source is a Literal, has the Cast
// deleted and the literal -- retyped to the symbol's type -- substituted
// at every read, including the overloaded Deref-as-store form where the
// pointer being stored through sits in Dst rather than a source operand.
func foldCasts(fn *ir.Function) bool {
	params := map[string]bool{}
	for _, p := range fn.Params {
		params[p.Name] = true
	}

	writeCount := map[string]int{}
	for _, ins := range fn.Instructions {
		if ins.Op != ir.Jmp && !ins.Op.IsBranch() && ins.Dst.IsSymbol() {
			writeCount[ins.Dst.Symbol.Name]++
		}
	}

	changed := false
	for i := range fn.Instructions {
		ins := &fn.Instructions[i]
		if ins.Op != ir.Cast || !ins.Dst.IsSymbol() || !ins.Src1.IsLiteral() {
			continue
		}
		name := ins.Dst.Symbol.Name
		if params[name] || writeCount[name] != 1 {
			continue
		}
		retyped := ir.LiteralValue(ir.Literal{Value: ins.Src1.Literal.Value, Type: ins.Dst.Symbol.Type})

		for j := range fn.Instructions {
			if j == i {
				continue
			}
			other := &fn.Instructions[j]
			if rewriteSource(other, name, retyped) {
				changed = true
			}
			if other.Op == ir.Deref && other.Dst.Type().IsPointer() &&
				other.Dst.IsSymbol() && other.Dst.Symbol.Name == name {
				other.Dst = retyped
				changed = true
			}
		}
		fn.ChangeToNop(i)
		changed = true
	}
	return changed
}

// arithmeticConstants folds "op r, lit0, lit1" for Add/Sub/Mul/Div into
// "Mov r, fold(op,lit0,lit1)" once both operands have settled to
// literals, skipping a Div by zero so the backend sees the original
// division and reports it rather than the optimizer panicking on it.
func arithmeticConstants(fn *ir.Function) bool {
	changed := false
	for i := range fn.Instructions {
		ins := &fn.Instructions[i]
		if !ins.Src1.IsLiteral() || !ins.Src2.IsLiteral() {
			continue
		}
		a, b := ins.Src1.Literal.Value, ins.Src2.Literal.Value
		var result big.Int
		switch ins.Op {
		case ir.Add:
			result.Add(a, b)
		case ir.Sub:
			result.Sub(a, b)
		case ir.Mul:
			result.Mul(a, b)
		case ir.Div:
			if b.Sign() == 0 {
				continue
			}
			result.Quo(a, b)
		default:
			continue
		}
		ins.Op = ir.Mov
		ins.Src1 = ir.LiteralValue(ir.Literal{Value: &result, Type: ins.Dst.Type()})
		ins.Src2 = ir.Value{}
		changed = true
	}
	return changed
}

// redundantMoves drops "Mov a, a", the self-moves that combine_domains
// coalescing (or constant/copy propagation) can leave behind once two
// names collapse onto the same symbol.
func redundantMoves(fn *ir.Function) bool {
	changed := false
	for i := range fn.Instructions {
		ins := &fn.Instructions[i]
		if ins.Op != ir.Mov || !ins.Dst.IsSymbol() || !ins.Src1.IsSymbol() {
			continue
		}
		if ins.Dst.Symbol.Name == ins.Src1.Symbol.Name {
			fn.ChangeToNop(i)
			changed = true
		}
	}
	return changed
}

// redundantLabels canonicalizes every Label operand to the one label
// name LabelAt records for its target index, collapsing the aliases
// that if/else and loop lowering leave at shared join points before
// removeUnusedLabels sweeps up whatever no longer has a reference.
func redundantLabels(fn *ir.Function) bool {
	changed := false
	canon := func(v *ir.Value) {
		if !v.IsLabel() {
			return
		}
		idx, ok := fn.Labels[v.Label]
		if !ok {
			return
		}
		if name, ok := fn.LabelAt[idx]; ok && name != v.Label {
			v.Label = name
			changed = true
		}
	}
	for i := range fn.Instructions {
		ins := &fn.Instructions[i]
		canon(&ins.Dst)
		canon(&ins.Src1)
		canon(&ins.Src2)
	}
	return changed
}

// cleanRegisters is constant and copy propagation: every read of a
// register whose sole reaching definition is "dst = mov src" (a literal
// or another symbol) is rewritten to read src directly, as long as src
// isn't itself redefined between the definition and the use. Rewriting
// stops at the next jump target, where another definition could reach.
func cleanRegisters(fn *ir.Function) bool {
	changed := false
	jumpTargets := map[int]bool{}
	for _, idx := range fn.Labels {
		jumpTargets[idx] = true
	}
	for i := range fn.Instructions {
		def := fn.Instructions[i]
		if def.Op != ir.Mov || !def.Dst.IsSymbol() {
			continue
		}
		name := def.Dst.Symbol.Name
		replacement := def.Src1

		// Only propagate through a replacement that is itself stable
		// (a literal, or a symbol not redefined before its next use).
		if replacement.IsSymbol() && symbolRedefinedBetween(fn, i+1, len(fn.Instructions), replacement.Symbol.Name) {
			continue
		}

		for j := i + 1; j < len(fn.Instructions); j++ {
			if jumpTargets[j] {
				break
			}
			ins := &fn.Instructions[j]
			if instructionRedefines(*ins, name) {
				break
			}
			if rewriteSource(ins, name, replacement) {
				changed = true
			}
		}
	}
	return changed
}

func instructionRedefines(ins ir.Instruction, name string) bool {
	return (ins.Op != ir.Jmp && !ins.Op.IsBranch()) && ins.Dst.IsSymbol() && ins.Dst.Symbol.Name == name
}

func symbolRedefinedBetween(fn *ir.Function, from, to int, name string) bool {
	for i := from; i < to && i < len(fn.Instructions); i++ {
		if instructionRedefines(fn.Instructions[i], name) {
			return true
		}
	}
	return false
}

func rewriteSource(ins *ir.Instruction, name string, replacement ir.Value) bool {
	changed := false
	if ins.Src1.IsSymbol() && ins.Src1.Symbol.Name == name {
		ins.Src1 = replacement
		changed = true
	}
	if ins.Src2.IsSymbol() && ins.Src2.Symbol.Name == name {
		ins.Src2 = replacement
		changed = true
	}
	for i := range ins.Args {
		if ins.Args[i].IsSymbol() && ins.Args[i].Symbol.Name == name {
			ins.Args[i] = replacement
			changed = true
		}
	}
	return changed
}

// removeUnusedRegisters turns a "dst = ..." instruction into a Nop when
// dst is never read anywhere in the function and the instruction has no
// other side effect.
func removeUnusedRegisters(fn *ir.Function) bool {
	used := map[string]bool{}
	for idx := range fn.Instructions {
		reads, _ := fn.ReadsWritesFor(idx)
		for name := range reads {
			used[name] = true
		}
	}
	if fn.ReturnSlot.IsSymbol() {
		used[fn.ReturnSlot.Symbol.Name] = true
	}

	changed := false
	for i := range fn.Instructions {
		ins := &fn.Instructions[i]
		if ins.Op == ir.Nop || ins.HasSideEffects() {
			continue
		}
		if ins.Dst.IsSymbol() && !used[ins.Dst.Symbol.Name] {
			fn.ChangeToNop(i)
			changed = true
		}
	}
	return changed
}

// removeUnusedLabels drops every label nothing jumps to, so a
// now-dead-but-still-labeled Nop can be compacted away.
func removeUnusedLabels(fn *ir.Function) bool {
	referenced := map[string]bool{}
	for _, ins := range fn.Instructions {
		if (ins.Op == ir.Jmp || ins.Op.IsBranch()) && ins.Dst.IsLabel() {
			referenced[ins.Dst.Label] = true
		}
	}
	changed := false
	for name := range fn.Labels {
		if !referenced[name] {
			fn.RemoveLabel(name)
			changed = true
		}
	}
	return changed
}

// cleanBranches fuses a comparison immediately followed by a
// branch-if-zero/nonzero test of its result into a single compare-and-
// branch instruction (Clt+Beq(result,0) -> Bge, etc), eliminating the
// intermediate boolean register when it has no other use.
func cleanBranches(fn *ir.Function) bool {
	changed := false
	for i := 0; i+1 < len(fn.Instructions); i++ {
		cmp := fn.Instructions[i]
		branch := fn.Instructions[i+1]
		if !cmp.Op.IsCompare() || !cmp.Dst.IsSymbol() {
			continue
		}
		if branch.Op != ir.Beq && branch.Op != ir.Bne {
			continue
		}
		if !branch.Src1.IsSymbol() || branch.Src1.Symbol.Name != cmp.Dst.Symbol.Name {
			continue
		}
		if !branch.Src2.IsLiteral() || branch.Src2.Literal.Value.Sign() != 0 {
			continue
		}
		if usedLaterThan(fn, i+1, cmp.Dst.Symbol.Name) {
			continue
		}

		fused, ok := ir.CompareToBranch(cmp.Op)
		if !ok {
			continue
		}
		if branch.Op == ir.Beq {
			if inverted, ok := fused.InvertedBranch(); ok {
				fused = inverted
			}
		}
		fn.Instructions[i+1] = ir.Instruction{Op: fused, Src1: cmp.Src1, Src2: cmp.Src2, Dst: branch.Dst, Label: branch.Label}
		fn.ChangeToNop(i)
		changed = true
	}
	return changed
}

func usedLaterThan(fn *ir.Function, idx int, name string) bool {
	for i := idx + 1; i < len(fn.Instructions); i++ {
		reads, _ := fn.ReadsWritesFor(i)
		if reads[name] {
			return true
		}
	}
	return false
}

// combineDomains coalesces two symbols into one name when their live
// ranges (RegisterDomain) never overlap, reducing the number of
// distinct storage locations the backend has to allocate.
func combineDomains(fn *ir.Function) bool {
	names := fn.SortedSymbolNames()
	changed := false
	for a := 0; a < len(names); a++ {
		for b := a + 1; b < len(names); b++ {
			na, nb := names[a], names[b]
			sa, sb := fn.Symbols[na], fn.Symbols[nb]
			if sa.Type.Raw == ir.Void || sb.Type.Raw == ir.Void {
				continue
			}
			if !sa.Type.Equal(sb.Type) {
				continue
			}
			fa, la, ok1 := fn.RegisterDomain(na)
			fb, lb, ok2 := fn.RegisterDomain(nb)
			if !ok1 || !ok2 {
				continue
			}
			if la < fb || lb < fa {
				renameSymbol(fn, nb, na)
				changed = true
			}
		}
	}
	return changed
}

func renameSymbol(fn *ir.Function, from, to string) {
	toSym := fn.Symbols[to]
	rename := func(v *ir.Value) {
		if v.IsSymbol() && v.Symbol.Name == from {
			*v = ir.SymbolValue(toSym)
		}
	}
	for i := range fn.Instructions {
		ins := &fn.Instructions[i]
		rename(&ins.Dst)
		rename(&ins.Src1)
		rename(&ins.Src2)
		for j := range ins.Args {
			rename(&ins.Args[j])
		}
	}
	delete(fn.Symbols, from)
}
