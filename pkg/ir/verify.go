package ir

import "fmt"

// operandArity gives the exact number of operands each opcode requires, when
// that count is fixed. Opcodes absent from this map (OpCall, OpPhi, OpConstant,
// OpParam, OpReturn) are checked by dedicated rules in Verify.
var operandArity = map[Opcode]int{
	OpAdd: 2, OpSub: 2, OpMul: 2, OpDiv: 2, OpRem: 2,
	OpAnd: 2, OpOr: 2, OpXor: 2, OpShl: 2, OpShr: 2, OpCmp: 2,
	OpNeg: 1, OpCast: 1,
	OpSelect: 3,
	OpAlloca: 0, OpLoad: 1, OpStore: 2, OpGEP: 2,
	OpBr: 0, OpCondBr: 1,
	OpAtomicCAS: 3, OpAtomicAdd: 2, OpAtomicExchange: 2,
	OpShuffle: 2, OpVote: 1, OpBarrier: 0,
	OpTensorMMA: 3,
}

// Verify checks every invariant the rest of the pipeline is allowed to rely
// on: every function ends each block in exactly one terminator, every
// operand resolves to a value already defined in a predecessor or earlier in
// the same block, and operand counts match each opcode's fixed arity. It
// does not check pointer element types or address spaces. It returns the first
// violation found, wrapped as a *CompilationError with Kind
// VerificationFailed.
func Verify(m *Module) error {
	for _, fn := range m.Functions {
		if err := verifyFunction(fn); err != nil {
			return err
		}
	}
	for _, ep := range m.Entries {
		if ep.Function == nil {
			return &CompilationError{Kind: VerificationFailed, Pass: "verify",
				Detail: fmt.Sprintf("entry point %q has no function", ep.Name)}
		}
	}
	return nil
}

func verifyFunction(fn *Function) error {
	if len(fn.Blocks) == 0 {
		return &CompilationError{Kind: VerificationFailed, Pass: "verify",
			Detail: fmt.Sprintf("function %q has no basic blocks", fn.Name)}
	}

	defined := make(map[ValueID]bool)
	for _, p := range fn.Params {
		defined[p.ID] = true
	}

	// Single-entry, single-exit-per-path: every block must end in exactly one
	// terminator, which must be the block's last value.
	for _, b := range fn.Blocks {
		if err := verifyBlockTerminator(fn, b); err != nil {
			return err
		}
	}

	// Use-before-def, in block order following predecessor edges: a simple
	// forward walk from the entry block catches straight-line violations;
	// values defined in a block are visible to all of that block's
	// successors, which is sufficient because phis are the only legal way to
	// merge values across a join and are exempted below.
	order := reversePostOrder(fn)
	for _, b := range order {
		for _, v := range b.Values {
			if err := verifyValue(fn, v, defined); err != nil {
				return err
			}
			defined[v.ID] = true
		}
	}
	return nil
}

func verifyBlockTerminator(fn *Function, b *BasicBlock) error {
	if len(b.Values) == 0 {
		return &CompilationError{Kind: VerificationFailed, Pass: "verify",
			Detail: fmt.Sprintf("function %q: block %q is empty", fn.Name, b.Name)}
	}
	for i, v := range b.Values {
		isLast := i == len(b.Values)-1
		if v.Op.IsTerminator() && !isLast {
			return NewVerificationError("verify", v,
				fmt.Sprintf("terminator in block %q is not the last value", b.Name))
		}
	}
	last := b.Values[len(b.Values)-1]
	if !last.Op.IsTerminator() {
		return NewVerificationError("verify", last,
			fmt.Sprintf("block %q does not end in a terminator", b.Name))
	}
	return nil
}

func verifyValue(fn *Function, v *Value, defined map[ValueID]bool) error {
	switch v.Op {
	case OpParam, OpConstant:
		return nil
	case OpReturn:
		if len(v.Operands) > 1 {
			return NewVerificationError("verify", v,
				fmt.Sprintf("return takes at most one value, got %d", len(v.Operands)))
		}
	case OpPhi:
		if len(v.Operands) != len(v.Block.Preds) {
			return NewVerificationError("verify", v,
				fmt.Sprintf("phi has %d operands but block has %d predecessors",
					len(v.Operands), len(v.Block.Preds)))
		}
		return nil
	case OpCall:
		if len(v.Operands) == 0 {
			return NewVerificationError("verify", v, "call has no callee operand")
		}
	default:
		if want, ok := operandArity[v.Op]; ok && len(v.Operands) != want {
			return NewVerificationError("verify", v,
				fmt.Sprintf("%s expects %d operands, got %d", v.Op, want, len(v.Operands)))
		}
	}

	for _, opID := range v.Operands {
		if !defined[opID] {
			return NewVerificationError("verify", v,
				fmt.Sprintf("operand %%%d used before it is defined", opID))
		}
	}
	return nil
}

// reversePostOrder returns fn's blocks ordered so that every block appears
// after all of its predecessors reachable from the entry block: the order
// verifyFunction walks to check use-before-def.
func reversePostOrder(fn *Function) []*BasicBlock {
	entry := fn.Entry()
	if entry == nil {
		return nil
	}
	visited := make(map[*BasicBlock]bool)
	var post []*BasicBlock
	var visit func(b *BasicBlock)
	visit = func(b *BasicBlock) {
		if visited[b] {
			return
		}
		visited[b] = true
		for _, s := range b.Succs {
			visit(s)
		}
		post = append(post, b)
	}
	visit(entry)
	for i, j := 0, len(post)-1; i < j; i, j = i+1, j-1 {
		post[i], post[j] = post[j], post[i]
	}
	// Any block unreachable from entry (should not occur in well-formed IR,
	// but cheap to be defensive about) is appended at the end so verification
	// still inspects it rather than silently skipping it.
	for _, b := range fn.Blocks {
		if !visited[b] {
			post = append(post, b)
		}
	}
	return post
}
