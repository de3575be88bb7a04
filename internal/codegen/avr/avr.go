// Package avr implements the 8-bit MCU assembly backend: a fixed
// 8-register free-pool allocator over an AVR-like instruction set, with
// a reserved scratch register and a dedicated I/O address window
// handled through in/out rather than ld/st.
package avr

import (
	"fmt"
	"sort"
	"strings"

	"occ/internal/diag"
	"occ/internal/ir"
)

// freeRegs is the pool of 8-bit general-purpose registers the allocator
// hands out, in allocation-preference order.
var freeRegs = []int{25, 23, 22, 21, 20, 19, 18, 17}

// scratchReg is never handed out by the allocator; it is reserved for
// loading immediates and other single-instruction shuffles.
const scratchReg = 16

// ioWindowLow and ioWindowHigh bound the memory-mapped I/O address
// range accessed via in/out rather than ld/st.
const (
	ioWindowLow  = 0x20
	ioWindowHigh = 0x60
)

// Context holds the per-function allocator state while lowering.
type Context struct {
	fn *ir.Function

	free    []int // currently available registers, subset of freeRegs
	symReg  map[string]int
	regSym  map[int]string
	lines   []string
	labels  map[int]bool
	current int

	// lastConstant shadows the value last loaded into scratchReg, so a
	// repeated "ldi r16, N" for the same N can be skipped.
	lastConstant *int
}

// Function lowers fn to AVR-like assembly text.
func Function(fn *ir.Function) (string, error) {
	c := &Context{
		fn:     fn,
		free:   append([]int(nil), freeRegs...),
		symReg: map[string]int{},
		regSym: map[int]string{},
		labels: map[int]bool{},
	}
	for idx, ins := range fn.Instructions {
		if _, ok := fn.LabelAt[idx]; ok {
			c.labels[idx] = true
		}
		if err := c.lower(idx, ins); err != nil {
			return "", err
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "; %s\n", fn.RenderSignature())
	fmt.Fprintf(&b, "%s:\n", fn.Name)
	for _, line := range c.lines {
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String(), nil
}

func (c *Context) emit(format string, args ...interface{}) {
	c.lines = append(c.lines, "    "+fmt.Sprintf(format, args...))
}

func (c *Context) emitLabel(name string) {
	c.lines = append(c.lines, name+":")
}

// getU8Reg returns the register holding (or newly allocated for) an
// 8-bit symbol, allocating from the free pool on first use.
func (c *Context) getU8Reg(name string) (int, error) {
	if r, ok := c.symReg[name]; ok {
		return r, nil
	}
	if len(c.free) == 0 {
		return 0, diag.NewFatalNoLoc("avr: register pool exhausted allocating %q", name)
	}
	r := c.free[0]
	c.free = c.free[1:]
	c.symReg[name] = r
	c.regSym[r] = name
	return r, nil
}

// getU16Reg returns an even register with a free odd successor, the
// only pairing AVR's 16-bit pseudo-ops accept, allocating both halves
// together.
func (c *Context) getU16Reg(name string) (int, error) {
	if r, ok := c.symReg[name]; ok {
		return r, nil
	}
	for i, r := range c.free {
		if r%2 != 0 {
			continue
		}
		// need r+1 also free
		oddIdx := -1
		for j, r2 := range c.free {
			if r2 == r+1 {
				oddIdx = j
				break
			}
		}
		if oddIdx == -1 {
			continue
		}
		// remove both from free, preserving order of the rest
		newFree := make([]int, 0, len(c.free)-2)
		for k, v := range c.free {
			if k == i || k == oddIdx {
				continue
			}
			newFree = append(newFree, v)
		}
		c.free = newFree
		c.symReg[name] = r
		c.regSym[r] = name
		c.regSym[r+1] = name
		return r, nil
	}
	return 0, diag.NewFatalNoLoc("avr: no even/odd register pair available for 16-bit value %q", name)
}

func (c *Context) regFor(v ir.Value) (int, error) {
	if !v.IsSymbol() {
		return 0, diag.NewFatalNoLoc("avr: expected a register operand, got %s", v)
	}
	if v.Type().Bits() > 8 {
		return c.getU16Reg(v.Symbol.Name)
	}
	return c.getU8Reg(v.Symbol.Name)
}

// loadImmediate puts a literal operand's value into the scratch
// register, skipping the load if the shadowed last-loaded constant
// already matches.
func (c *Context) loadImmediate(v ir.Value) int {
	n := int(v.Literal.Value.Int64())
	if c.lastConstant != nil && *c.lastConstant == n {
		return scratchReg
	}
	c.emit("ldi r%d, %d", scratchReg, n)
	c.lastConstant = &n
	return scratchReg
}

func (c *Context) operandReg(v ir.Value) (int, error) {
	if v.IsLiteral() {
		return c.loadImmediate(v), nil
	}
	return c.regFor(v)
}

// ptrReg returns the 16-bit register pair holding a pointer symbol's
// address; pointers are always addresses on this target regardless of
// their pointee's width, so this bypasses regFor's pointee-width check
// and allocates through the even/odd pairing on first use. A symbol that
// regFor already placed in an odd register is rejected with a fatal error.
func (c *Context) ptrReg(v ir.Value) (int, error) {
	if !v.IsSymbol() {
		return 0, diag.NewFatalNoLoc("avr: expected a register operand, got %s", v)
	}
	r, err := c.getU16Reg(v.Symbol.Name)
	if err != nil {
		return 0, err
	}
	if r%2 != 0 {
		return 0, diag.NewFatalNoLoc("avr: pointer %q is held in odd register r%d, not an even register pair", v.Symbol.Name, r)
	}
	return r, nil
}

func inIOWindow(addr int64) bool {
	return addr >= ioWindowLow && addr < ioWindowHigh
}

func (c *Context) lower(idx int, ins ir.Instruction) error {
	if label, ok := c.fn.LabelAt[idx]; ok {
		c.emitLabel(label)
	}
	c.lastConstant = nil // invalidated before every instruction, so the skip applies only within one instruction

	switch ins.Op {
	case ir.Nop:
		return nil

	case ir.Ret:
		if ins.Src1.IsSymbol() || ins.Src1.IsLiteral() {
			r, err := c.operandReg(ins.Src1)
			if err != nil {
				return err
			}
			c.emit("mov r24, r%d", r)
		}
		c.emit("ret")

	case ir.Mov:
		dst, err := c.regFor(ins.Dst)
		if err != nil {
			return err
		}
		if ins.Src1.IsLiteral() {
			c.loadLiteralInto(dst, ins.Src1, ins.Dst.Type())
			return nil
		}
		src, err := c.regFor(ins.Src1)
		if err != nil {
			return err
		}
		c.emit("mov r%d, r%d", dst, src)

	case ir.Alloc:
		_, err := c.regFor(ins.Dst)
		return err

	case ir.Cast:
		dst, err := c.regFor(ins.Dst)
		if err != nil {
			return err
		}
		if ins.Src1.IsLiteral() {
			c.loadLiteralInto(dst, ins.Src1, ins.Dst.Type())
			return nil
		}
		src, err := c.regFor(ins.Src1)
		if err != nil {
			return err
		}
		c.emit("mov r%d, r%d", dst, src)

	case ir.Deref:
		if ins.Dst.Type().IsPointer() {
			return c.lowerStore(ins)
		}
		return c.lowerLoad(ins)

	case ir.Ref:
		dst, err := c.regFor(ins.Dst)
		if err != nil {
			return err
		}
		c.emit("ldi r%d, lo8(%s)", dst, ins.Src1)

	case ir.Jmp:
		c.emit("jmp %s", ins.Dst)

	case ir.Add, ir.Sub, ir.Mul, ir.Div, ir.Mod, ir.Shl, ir.Shr, ir.And, ir.Or, ir.Xor:
		return c.lowerArith(ins)

	case ir.Ceq, ir.Cne, ir.Clt, ir.Cgt, ir.Cle, ir.Cge:
		return c.lowerCompare(idx, ins)

	case ir.Beq, ir.Bne, ir.Blt, ir.Bgt, ir.Ble, ir.Bge:
		return c.lowerBranch(idx, ins)

	case ir.Push:
		r, err := c.operandReg(ins.Src1)
		if err != nil {
			return err
		}
		c.emit("push r%d", r)

	case ir.Call:
		c.emit("call %s", ins.Src1)
		if ins.Dst.IsSymbol() {
			dst, err := c.regFor(ins.Dst)
			if err != nil {
				return err
			}
			c.emit("mov r%d, r24", dst)
		}

	case ir.Array:
		return diag.NewFatalNoLoc("avr: array indexing is not supported by this backend")

	default:
		return diag.NewFatalNoLoc("avr: unsupported opcode %s", ins.Op)
	}
	return nil
}

// loadLiteralInto emits "ldi rDst, L & 0xFF" directly into dst, plus a
// second "ldi rDst+1, (L>>8) & 0xFF" for a 16-bit destination, instead of
// routing the load through the scratch register and a following mov.
func (c *Context) loadLiteralInto(dst int, lit ir.Value, t ir.DataType) {
	n := lit.Literal.Value.Int64()
	c.emit("ldi r%d, %d", dst, n&0xFF)
	if t.Bits() > 8 {
		c.emit("ldi r%d, %d", dst+1, (n>>8)&0xFF)
	}
}

var arithMnemonic = map[ir.OpCode]string{
	ir.Add: "add", ir.Sub: "sub", ir.And: "and", ir.Or: "or", ir.Xor: "eor",
}

func (c *Context) lowerArith(ins ir.Instruction) error {
	dst, err := c.regFor(ins.Dst)
	if err != nil {
		return err
	}
	lhs, err := c.operandReg(ins.Src1)
	if err != nil {
		return err
	}
	if dst != lhs {
		c.emit("mov r%d, r%d", dst, lhs)
	}

	if ins.Op == ir.Add && ins.Src2.IsLiteral() && ins.Src2.Literal.Value.Int64() == 1 {
		c.emit("inc r%d", dst)
		return nil
	}

	rhs, err := c.operandReg(ins.Src2)
	if err != nil {
		return err
	}
	switch ins.Op {
	case ir.Mul:
		c.emit("mul r%d, r%d", dst, rhs)
		c.emit("mov r%d, r0", dst)
	case ir.Div, ir.Mod:
		return diag.NewFatalNoLoc("avr: opcode %s has no direct hardware instruction on this target", ins.Op)
	case ir.Shl:
		c.emit("lsl r%d", dst)
	case ir.Shr:
		c.emit("lsr r%d", dst)
	default:
		mnem, ok := arithMnemonic[ins.Op]
		if !ok {
			return diag.NewFatalNoLoc("avr: unsupported arithmetic opcode %s", ins.Op)
		}
		c.emit("%s r%d, r%d", mnem, dst, rhs)
		if ins.Dst.Type().Bits() > 8 && (ins.Op == ir.Add || ins.Op == ir.Sub) {
			carry := "adc"
			if ins.Op == ir.Sub {
				carry = "sbc"
			}
			c.emit("%s r%d, r%d", carry, dst+1, rhs+1)
		}
	}
	return nil
}

// branchPrimitive maps one of the six compare/branch relations onto the
// target's three branch primitives, breq/brne/brlo, reporting
// whether the operands must be swapped before the cp (to compute the
// mirror relation) and whether the true/false targets must be swapped
// (because the primitive only tests the relation's negation).
func branchPrimitive(rel ir.OpCode) (mnemonic string, swapOperands, swapTargets bool) {
	switch rel {
	case ir.Beq:
		return "breq", false, false
	case ir.Bne:
		return "brne", false, false
	case ir.Blt:
		return "brlo", false, false
	case ir.Bgt:
		return "brlo", true, false
	case ir.Ble:
		return "brlo", true, true
	case ir.Bge:
		return "brlo", false, true
	}
	return "brne", false, false
}

// lowerCompare materializes a Cxx comparison's 0/1 result into dst via
// the same breq/brne/brlo primitive lowerBranch uses, set/cleared
// across a pair of synthetic local labels scoped to this instruction's
// index so nested comparisons never collide.
func (c *Context) lowerCompare(idx int, ins ir.Instruction) error {
	dst, err := c.regFor(ins.Dst)
	if err != nil {
		return err
	}
	rel, ok := ir.CompareToBranch(ins.Op)
	if !ok {
		return diag.NewFatalNoLoc("avr: unsupported compare opcode %s", ins.Op)
	}
	mnem, swapOperands, swapTargets := branchPrimitive(rel)

	a, b := ins.Src1, ins.Src2
	if swapOperands {
		a, b = b, a
	}
	lhs, err := c.operandReg(a)
	if err != nil {
		return err
	}
	rhs, err := c.operandReg(b)
	if err != nil {
		return err
	}
	c.emit("cp r%d, r%d", lhs, rhs)

	taken := fmt.Sprintf("%s_ct%d", c.fn.Name, idx)
	done := fmt.Sprintf("%s_cd%d", c.fn.Name, idx)
	setOnTaken, clearOnTaken := 1, 0
	if swapTargets {
		setOnTaken, clearOnTaken = 0, 1
	}
	c.emit("%s %s", mnem, taken)
	c.emit("ldi r%d, %d", dst, clearOnTaken)
	c.emit("jmp %s", done)
	c.emitLabel(taken)
	c.emit("ldi r%d, %d", dst, setOnTaken)
	c.emitLabel(done)
	return nil
}

// lowerBranch implements the B<rel> contract: cp/cpi then br<rel> to the
// true label and an explicit jmp to the false (fall-through) label,
// folding all six relations onto breq/brne/brlo via branchPrimitive.
func (c *Context) lowerBranch(idx int, ins ir.Instruction) error {
	mnem, swapOperands, swapTargets := branchPrimitive(ins.Op)

	a, b := ins.Src1, ins.Src2
	if swapOperands {
		a, b = b, a
	}
	lhs, err := c.operandReg(a)
	if err != nil {
		return err
	}
	rhs, err := c.operandReg(b)
	if err != nil {
		return err
	}
	c.emit("cp r%d, r%d", lhs, rhs)

	trueLabel := ins.Dst.Label
	falseLabel := fmt.Sprintf("%s_bf%d", c.fn.Name, idx)
	if swapTargets {
		c.emit("%s %s", mnem, falseLabel)
		c.emit("jmp %s", trueLabel)
	} else {
		c.emit("%s %s", mnem, trueLabel)
		c.emit("jmp %s", falseLabel)
	}
	c.emitLabel(falseLabel)
	return nil
}

// lowerStore implements a Deref used as a store (Dst is the pointer,
// Src1 the value): the I/O-window/out-of-window/reference-symbol cases
// of the dereference contract.
func (c *Context) lowerStore(ins ir.Instruction) error {
	val, err := c.operandReg(ins.Src1)
	if err != nil {
		return err
	}
	if val != scratchReg {
		c.emit("mov r%d, r%d", scratchReg, val)
		val = scratchReg
	}

	if ins.Dst.IsLiteral() {
		addr := ins.Dst.Literal.Value.Int64()
		if inIOWindow(addr) {
			c.emit("out %d, r%d", addr-ioWindowLow, val)
			return nil
		}
		c.emit("ldi r26, %d", addr&0xFF)
		c.emit("ldi r27, %d", (addr>>8)&0xFF)
		c.emit("st X, r%d", val)
		return nil
	}

	ptr, err := c.ptrReg(ins.Dst)
	if err != nil {
		return err
	}
	c.emit("movw r26, r%d", ptr)
	c.emit("st X, r%d", val)
	return nil
}

// lowerLoad implements a Deref used as a load (Dst is the fresh result
// register, Src1 the pointer): the I/O-window/out-of-window/
// reference-symbol cases of the dereference contract.
func (c *Context) lowerLoad(ins ir.Instruction) error {
	dst, err := c.regFor(ins.Dst)
	if err != nil {
		return err
	}

	if ins.Src1.IsLiteral() {
		addr := ins.Src1.Literal.Value.Int64()
		if inIOWindow(addr) {
			c.emit("in r%d, %d", dst, addr-ioWindowLow)
			return nil
		}
		c.emit("ldi r26, %d", addr&0xFF)
		c.emit("ldi r27, %d", (addr>>8)&0xFF)
		c.emit("ld r%d, X", dst)
		return nil
	}

	ptr, err := c.ptrReg(ins.Src1)
	if err != nil {
		return err
	}
	c.emit("movw r26, r%d", ptr)
	c.emit("ld r%d, X", dst)
	return nil
}

// SortedAllocation returns the symbol -> register assignments made
// during lowering, sorted by symbol name, for diagnostics and tests.
func (c *Context) SortedAllocation() []string {
	names := make([]string, 0, len(c.symReg))
	for n := range c.symReg {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = fmt.Sprintf("%s=r%d", n, c.symReg[n])
	}
	return out
}
