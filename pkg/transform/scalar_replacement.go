package transform

import "github.com/orneryd/hxc/pkg/ir"

// ScalarReplacement eliminates stack allocations whose address never
// escapes (never passed to OpCall, never stored through another pointer,
// never read via a GEP that itself escapes) by replacing each Store/Load
// pair through the alloca with direct value forwarding: a Load immediately
// following a Store to the same alloca, with no intervening store, reuses
// the stored value rather than reading it back from memory.
type ScalarReplacement struct{}

func (ScalarReplacement) Name() string { return "scalar-replacement" }

func (ScalarReplacement) Run(fn *ir.Function, m *ir.Module) error {
	for _, b := range fn.Blocks {
		escapes := addressTakenAllocas(b)
		isAlloca := make(map[ir.ValueID]bool)
		for _, v := range b.Values {
			if v.Op == ir.OpAlloca {
				isAlloca[v.ID] = true
			}
		}

		var last map[ir.ValueID]ir.ValueID = make(map[ir.ValueID]ir.ValueID)
		for _, v := range b.Values {
			switch v.Op {
			case ir.OpStore:
				if len(v.Operands) != 2 {
					continue
				}
				ptr, val := v.Operands[0], v.Operands[1]
				if isAlloca[ptr] && !escapes[ptr] {
					last[ptr] = val
				}
			case ir.OpLoad:
				if len(v.Operands) != 1 {
					continue
				}
				ptr := v.Operands[0]
				if stored, ok := last[ptr]; ok && !escapes[ptr] {
					v.Op = ir.OpCast // identity forward: same type, single operand
					v.Operands = []ir.ValueID{stored}
				}
			}
		}
	}
	return nil
}

// addressTakenAllocas identifies alloca ids whose pointer value is used
// anywhere other than as the first operand of a Load or the first operand
// of a Store: i.e. its address has escaped the simple load/store pattern
// this pass can safely forward.
func addressTakenAllocas(b *ir.BasicBlock) map[ir.ValueID]bool {
	allocas := make(map[ir.ValueID]bool)
	for _, v := range b.Values {
		if v.Op == ir.OpAlloca {
			allocas[v.ID] = true
		}
	}
	escapes := make(map[ir.ValueID]bool)
	for _, v := range b.Values {
		for i, o := range v.Operands {
			if !allocas[o] {
				continue
			}
			safe := (v.Op == ir.OpLoad && i == 0) || (v.Op == ir.OpStore && i == 0)
			if !safe {
				escapes[o] = true
			}
		}
	}
	return escapes
}
