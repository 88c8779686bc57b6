package transform

import "github.com/orneryd/hxc/pkg/ir"

// AddrSpaceInference propagates concrete address spaces from allocation
// sites (OpAlloca always yields AddrLocalThread; pointer parameters carry
// whatever space the front end declared) forward through GEP, Load, Store,
// and Cast uses. A pointer value keeps AddrGeneric only where the forward
// walk cannot resolve a single concrete source, for example a phi merging
// pointers from two different spaces.
type AddrSpaceInference struct{}

func (AddrSpaceInference) Name() string { return "addrspace-inference" }

func (AddrSpaceInference) Run(fn *ir.Function, m *ir.Module) error {
	spaceOf := make(map[ir.ValueID]ir.AddressSpace)

	for _, p := range fn.Params {
		if p.Type.IsPointer() {
			spaceOf[p.ID] = p.Type.Space()
		}
	}

	changed := true
	for changed {
		changed = false
		for _, b := range fn.Blocks {
			for _, v := range b.Values {
				if !v.Type.IsPointer() {
					continue
				}
				resolved, ok := resolveSpace(v, spaceOf)
				if !ok {
					continue
				}
				if cur, seen := spaceOf[v.ID]; !seen || cur != resolved {
					spaceOf[v.ID] = resolved
					changed = true
				}
			}
		}
	}

	for _, b := range fn.Blocks {
		for _, v := range b.Values {
			if v.Op == ir.OpAlloca {
				v.Type = v.Type.WithSpace(ir.AddrLocalThread)
				continue
			}
			if space, ok := spaceOf[v.ID]; ok && v.Type.IsPointer() && v.Type.Space() == ir.AddrGeneric {
				v.Type = v.Type.WithSpace(space)
			}
		}
	}
	return nil
}

// resolveSpace determines the address space a pointer-typed value should
// carry, from operand spaces already known. GEP and Cast inherit their base
// pointer's space; a phi resolves only when every incoming value agrees.
func resolveSpace(v *ir.Value, spaceOf map[ir.ValueID]ir.AddressSpace) (ir.AddressSpace, bool) {
	switch v.Op {
	case ir.OpAlloca:
		return ir.AddrLocalThread, true
	case ir.OpGEP, ir.OpCast:
		if len(v.Operands) == 0 {
			return 0, false
		}
		s, ok := spaceOf[v.Operands[0]]
		return s, ok
	case ir.OpPhi:
		if len(v.Operands) == 0 {
			return 0, false
		}
		first, ok := spaceOf[v.Operands[0]]
		if !ok {
			return 0, false
		}
		for _, o := range v.Operands[1:] {
			s, ok := spaceOf[o]
			if !ok || s != first {
				return 0, false
			}
		}
		return first, true
	default:
		return 0, false
	}
}
