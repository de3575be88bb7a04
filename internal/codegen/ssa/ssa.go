// Package ssa implements the typed SSA-like backend: it lowers a
// function's three-address IR onto github.com/llir/llvm's IR builder,
// giving every symbol a stack slot (alloca) and threading loads/stores
// through it, so the emitted text is ordinary (if unoptimized) LLVM IR
// rather than a bespoke textual format.
package ssa

import (
	"fmt"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"occ/internal/config"
	occir "occ/internal/ir"
)

// Module lowers every function in fns onto one llir/llvm module, tagged
// with cfg's target triple and data layout.
func Module(cfg config.Config, fns []*occir.Function) (*ir.Module, error) {
	m := ir.NewModule()
	m.TargetTriple = cfg.LLVMTargetTriple
	m.DataLayout = cfg.LLVMDataLayout

	declared := map[string]*ir.Func{}
	for _, fn := range fns {
		params := make([]*ir.Param, len(fn.Params))
		for i, p := range fn.Params {
			params[i] = ir.NewParam(p.Name, llvmType(p.Type))
		}
		f := m.NewFunc(fn.Name, llvmType(fn.ReturnType), params...)
		declared[fn.Name] = f
	}

	for _, fn := range fns {
		if err := lowerFunction(fn, declared[fn.Name], declared); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func llvmType(t occir.DataType) types.Type {
	var base types.Type
	switch t.Raw {
	case occir.I8, occir.U8:
		base = types.I8
	case occir.I16, occir.U16:
		base = types.I16
	case occir.I32, occir.U32:
		base = types.I32
	case occir.I64, occir.U64:
		base = types.I64
	case occir.Bool:
		base = types.I1
	case occir.Void:
		base = types.Void
	default:
		base = types.I32
	}
	for i := 0; i < t.PointerDepth; i++ {
		base = types.NewPointer(base)
	}
	return base
}

type fnCtx struct {
	f       *ir.Func
	blocks  map[string]*ir.Block
	slots   map[string]value.Value // symbol name -> alloca'd pointer
	symType map[string]occir.DataType
	funcs   map[string]*ir.Func
	cur     *ir.Block
}

func lowerFunction(fn *occir.Function, f *ir.Func, funcs map[string]*ir.Func) error {
	entry := f.NewBlock("entry")
	c := &fnCtx{f: f, blocks: map[string]*ir.Block{}, slots: map[string]value.Value{}, symType: map[string]occir.DataType{}, funcs: funcs}

	for name, sym := range fn.Symbols {
		c.symType[name] = sym.Type
		if sym.Type.Raw == occir.Void && sym.Type.PointerDepth == 0 {
			continue
		}
		c.slots[name] = entry.NewAlloca(llvmType(sym.Type))
	}
	for i, p := range fn.Params {
		entry.NewStore(f.Params[i], c.slots[p.Name])
	}

	// Pre-create a block per label so forward branches resolve.
	for _, label := range fn.Labels {
		name := fn.LabelAt[label]
		if name == "" {
			continue
		}
		c.blocks[name] = f.NewBlock(name)
	}

	blockForIndex := func(idx int) *ir.Block {
		if label, ok := fn.LabelAt[idx]; ok {
			return c.blocks[label]
		}
		return nil
	}

	c.cur = entry
	for idx, ins := range fn.Instructions {
		if b := blockForIndex(idx); b != nil && idx != 0 {
			if c.cur.Term == nil {
				c.cur.NewBr(b)
			}
			c.cur = b
		}
		if err := c.lower(c.cur, ins); err != nil {
			return err
		}
	}
	if c.cur.Term == nil {
		if fn.ReturnType.Raw == occir.Void {
			c.cur.NewRet(nil)
		} else {
			c.cur.NewRet(constant.NewInt(llvmType(fn.ReturnType).(*types.IntType), 0))
		}
	}
	return nil
}

func (c *fnCtx) load(v occir.Value) (value.Value, error) {
	switch v.Kind {
	case occir.ValueLiteral:
		t := llvmType(v.Literal.Type)
		it, ok := t.(*types.IntType)
		if !ok {
			return nil, fmt.Errorf("ssa: literal with non-integer type %s", v.Literal.Type)
		}
		return constant.NewIntFromString(it, v.Literal.Value.String())
	case occir.ValueSymbol:
		slot, ok := c.slots[v.Symbol.Name]
		if !ok {
			return nil, fmt.Errorf("ssa: unknown symbol %q", v.Symbol.Name)
		}
		return slot, nil // filled in properly via loadBlock below
	}
	return nil, fmt.Errorf("ssa: cannot load value of kind %v", v.Kind)
}

// loadBlock dereferences a symbol's slot into an SSA value within b;
// literals pass through unchanged.
func (c *fnCtx) loadBlock(b *ir.Block, v occir.Value) (value.Value, error) {
	if v.Kind == occir.ValueLiteral {
		return c.load(v)
	}
	if v.Kind != occir.ValueSymbol {
		return nil, fmt.Errorf("ssa: expected symbol or literal operand, got %v", v.Kind)
	}
	slot, ok := c.slots[v.Symbol.Name]
	if !ok {
		return nil, fmt.Errorf("ssa: unknown symbol %q", v.Symbol.Name)
	}
	return b.NewLoad(llvmType(v.Symbol.Type), slot), nil
}

func (c *fnCtx) store(b *ir.Block, dst occir.Value, v value.Value) error {
	if !dst.IsSymbol() {
		return fmt.Errorf("ssa: store target must be a symbol")
	}
	slot, ok := c.slots[dst.Symbol.Name]
	if !ok {
		return fmt.Errorf("ssa: unknown destination symbol %q", dst.Symbol.Name)
	}
	b.NewStore(v, slot)
	return nil
}

var icmpSigned = map[occir.OpCode]enum.IPred{
	occir.Ceq: enum.IPredEQ, occir.Cne: enum.IPredNE,
	occir.Clt: enum.IPredSLT, occir.Cgt: enum.IPredSGT,
	occir.Cle: enum.IPredSLE, occir.Cge: enum.IPredSGE,
}

var icmpUnsigned = map[occir.OpCode]enum.IPred{
	occir.Ceq: enum.IPredEQ, occir.Cne: enum.IPredNE,
	occir.Clt: enum.IPredULT, occir.Cgt: enum.IPredUGT,
	occir.Cle: enum.IPredULE, occir.Cge: enum.IPredUGE,
}

func (c *fnCtx) lower(b *ir.Block, ins occir.Instruction) error {
	switch ins.Op {
	case occir.Nop:
		return nil

	case occir.Alloc:
		return nil // slots for every symbol were pre-allocated in entry

	case occir.Mov:
		v, err := c.loadBlock(b, ins.Src1)
		if err != nil {
			return err
		}
		return c.store(b, ins.Dst, v)

	case occir.Cast:
		return c.lowerCast(b, ins)

	case occir.Ret:
		if !ins.Src1.IsSymbol() && !ins.Src1.IsLiteral() {
			b.NewRet(nil)
			return nil
		}
		v, err := c.loadBlock(b, ins.Src1)
		if err != nil {
			return err
		}
		b.NewRet(v)
		return nil

	case occir.Jmp:
		target := c.blocks[ins.Dst.Label]
		if target == nil {
			return fmt.Errorf("ssa: unknown jump target %q", ins.Dst.Label)
		}
		b.NewBr(target)
		return nil

	case occir.Add, occir.Sub, occir.Mul, occir.Div, occir.Mod,
		occir.Shl, occir.Shr, occir.And, occir.Or, occir.Xor:
		return c.lowerArith(b, ins)

	case occir.Ceq, occir.Cne, occir.Clt, occir.Cgt, occir.Cle, occir.Cge:
		return c.lowerCompare(b, ins)

	case occir.Beq, occir.Bne, occir.Blt, occir.Bgt, occir.Ble, occir.Bge:
		return c.lowerBranch(b, ins)

	case occir.Ref:
		slot, ok := c.slots[ins.Src1.Symbol.Name]
		if !ok {
			return fmt.Errorf("ssa: unknown symbol %q", ins.Src1.Symbol.Name)
		}
		return c.store(b, ins.Dst, slot)

	case occir.Deref:
		ptr, err := c.loadBlock(b, ins.Src1)
		if err != nil {
			return err
		}
		loaded := b.NewLoad(llvmType(elemType(ins.Src1.Type())), ptr)
		return c.store(b, ins.Dst, loaded)

	case occir.Call:
		fn, ok := c.funcs[ins.Src1.Symbol.Name]
		if !ok {
			return fmt.Errorf("ssa: call to unknown function %q", ins.Src1.Symbol.Name)
		}
		args := make([]value.Value, len(ins.Args))
		for i, a := range ins.Args {
			v, err := c.loadBlock(b, a)
			if err != nil {
				return err
			}
			args[i] = v
		}
		result := b.NewCall(fn, args...)
		if ins.Dst.IsSymbol() {
			return c.store(b, ins.Dst, result)
		}
		return nil

	case occir.Push:
		return nil // argument marshaling for Call is handled from Args directly
	}
	return fmt.Errorf("ssa: unsupported opcode %s", ins.Op)
}

func elemType(t occir.DataType) occir.DataType {
	if t.PointerDepth > 0 {
		t.PointerDepth--
	}
	return t
}

func (c *fnCtx) lowerCast(b *ir.Block, ins occir.Instruction) error {
	src, err := c.loadBlock(b, ins.Src1)
	if err != nil {
		return err
	}
	fromType := ins.Src1.Type()
	toType := ins.Dst.Type()
	dstLLVM := llvmType(toType)

	var result value.Value
	switch {
	case fromType.IsPointer() && toType.IsPointer():
		result = b.NewBitCast(src, dstLLVM)
	case fromType.IsPointer() && !toType.IsPointer():
		result = b.NewPtrToInt(src, dstLLVM)
	case !fromType.IsPointer() && toType.IsPointer():
		result = b.NewIntToPtr(src, dstLLVM)
	case fromType.Bits() == toType.Bits():
		result = src
	case fromType.Bits() < toType.Bits():
		if toType.IsSigned() {
			result = b.NewSExt(src, dstLLVM)
		} else {
			result = b.NewZExt(src, dstLLVM)
		}
	default:
		result = b.NewTrunc(src, dstLLVM)
	}
	return c.store(b, ins.Dst, result)
}

func (c *fnCtx) lowerArith(b *ir.Block, ins occir.Instruction) error {
	lhs, err := c.loadBlock(b, ins.Src1)
	if err != nil {
		return err
	}
	rhs, err := c.loadBlock(b, ins.Src2)
	if err != nil {
		return err
	}
	signed := ins.Src1.Type().IsSigned()
	var result value.Value
	switch ins.Op {
	case occir.Add:
		result = b.NewAdd(lhs, rhs)
	case occir.Sub:
		result = b.NewSub(lhs, rhs)
	case occir.Mul:
		result = b.NewMul(lhs, rhs)
	case occir.Div:
		if signed {
			result = b.NewSDiv(lhs, rhs)
		} else {
			result = b.NewUDiv(lhs, rhs)
		}
	case occir.Mod:
		if signed {
			result = b.NewSRem(lhs, rhs)
		} else {
			result = b.NewURem(lhs, rhs)
		}
	case occir.Shl:
		result = b.NewShl(lhs, rhs)
	case occir.Shr:
		if signed {
			result = b.NewAShr(lhs, rhs)
		} else {
			result = b.NewLShr(lhs, rhs)
		}
	case occir.And:
		result = b.NewAnd(lhs, rhs)
	case occir.Or:
		result = b.NewOr(lhs, rhs)
	case occir.Xor:
		result = b.NewXor(lhs, rhs)
	}
	return c.store(b, ins.Dst, result)
}

func (c *fnCtx) icmp(b *ir.Block, ins occir.Instruction) (value.Value, error) {
	lhs, err := c.loadBlock(b, ins.Src1)
	if err != nil {
		return nil, err
	}
	rhs, err := c.loadBlock(b, ins.Src2)
	if err != nil {
		return nil, err
	}
	table := icmpUnsigned
	if ins.Src1.Type().IsSigned() {
		table = icmpSigned
	}
	pred, ok := table[ins.Op]
	if !ok {
		return nil, fmt.Errorf("ssa: unsupported comparison opcode %s", ins.Op)
	}
	return b.NewICmp(pred, lhs, rhs), nil
}

func (c *fnCtx) lowerCompare(b *ir.Block, ins occir.Instruction) error {
	cmp, err := c.icmp(b, ins)
	if err != nil {
		return err
	}
	return c.store(b, ins.Dst, cmp)
}

func (c *fnCtx) lowerBranch(b *ir.Block, ins occir.Instruction) error {
	cmp, err := c.icmp(b, occir.Instruction{Op: branchToCompare(ins.Op), Src1: ins.Src1, Src2: ins.Src2})
	if err != nil {
		return err
	}
	target := c.blocks[ins.Dst.Label]
	if target == nil {
		return fmt.Errorf("ssa: unknown branch target %q", ins.Dst.Label)
	}
	fallthroughBlock := c.f.NewBlock("")
	b.NewCondBr(cmp, target, fallthroughBlock)
	c.cur = fallthroughBlock
	return nil
}

func branchToCompare(op occir.OpCode) occir.OpCode {
	switch op {
	case occir.Beq:
		return occir.Ceq
	case occir.Bne:
		return occir.Cne
	case occir.Blt:
		return occir.Clt
	case occir.Bgt:
		return occir.Cgt
	case occir.Ble:
		return occir.Cle
	case occir.Bge:
		return occir.Cge
	}
	return op
}
