package transform

import "github.com/orneryd/hxc/pkg/ir"

// DeadCodeElimination removes values with no remaining uses and no side
// effects, iterating to a fixpoint: removing one dead value can make its
// operands dead in turn, so a single pass is not enough in general.
type DeadCodeElimination struct{}

func (DeadCodeElimination) Name() string { return "dce" }

func (DeadCodeElimination) Run(fn *ir.Function, m *ir.Module) error {
	for {
		if !dceOnePass(fn) {
			return nil
		}
	}
}

func dceOnePass(fn *ir.Function) bool {
	used := make(map[ir.ValueID]bool)
	for _, b := range fn.Blocks {
		for _, v := range b.Values {
			for _, o := range v.Operands {
				used[o] = true
			}
		}
	}
	// Entry point parameters and launch configuration are always observed
	// by the caller even when unused inside the body.
	for _, p := range fn.Params {
		used[p.ID] = true
	}

	removedAny := false
	for _, b := range fn.Blocks {
		kept := b.Values[:0]
		for _, v := range b.Values {
			if v.Op.HasSideEffects() || used[v.ID] {
				kept = append(kept, v)
				continue
			}
			removedAny = true
		}
		b.Values = kept
	}
	return removedAny
}
