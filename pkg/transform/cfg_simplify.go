package transform

import "github.com/orneryd/hxc/pkg/ir"

// CFGSimplification merges a block into its unique predecessor when that
// predecessor has no other successor, and drops blocks unreachable from the
// function's entry.
type CFGSimplification struct{}

func (CFGSimplification) Name() string { return "cfg-simplify" }

func (CFGSimplification) Run(fn *ir.Function, m *ir.Module) error {
	removeUnreachable(fn)
	mergeLinearChains(fn)
	return nil
}

func removeUnreachable(fn *ir.Function) {
	entry := fn.Entry()
	if entry == nil {
		return
	}
	visited := map[*ir.BasicBlock]bool{entry: true}
	queue := []*ir.BasicBlock{entry}
	for len(queue) > 0 {
		b := queue[0]
		queue = queue[1:]
		for _, s := range b.Succs {
			if !visited[s] {
				visited[s] = true
				queue = append(queue, s)
			}
		}
	}
	kept := fn.Blocks[:0]
	for _, b := range fn.Blocks {
		if visited[b] {
			kept = append(kept, b)
		}
	}
	fn.Blocks = kept
}

// mergeLinearChains folds a block B into its predecessor A when A has
// exactly one successor (B) and B has exactly one predecessor (A): the pair
// is a straight-line chain with no other path reaching B, so A's
// terminating branch can be dropped and B's values appended directly.
func mergeLinearChains(fn *ir.Function) {
	changed := true
	for changed {
		changed = false
		for _, a := range fn.Blocks {
			if len(a.Succs) != 1 {
				continue
			}
			b := a.Succs[0]
			if b == a || len(b.Preds) != 1 {
				continue
			}
			mergeInto(a, b)
			removeBlock(fn, b)
			changed = true
			break
		}
	}
}

func mergeInto(a, b *ir.BasicBlock) {
	if term := a.Terminator(); term != nil && term.Op == ir.OpBr {
		a.Values = a.Values[:len(a.Values)-1] // drop the now-redundant branch
	}
	a.Values = append(a.Values, b.Values...)
	for _, v := range b.Values {
		v.Block = a
	}
	a.Succs = b.Succs
	for _, s := range b.Succs {
		for i, p := range s.Preds {
			if p == b {
				s.Preds[i] = a
			}
		}
	}
}

func removeBlock(fn *ir.Function, target *ir.BasicBlock) {
	kept := fn.Blocks[:0]
	for _, b := range fn.Blocks {
		if b != target {
			kept = append(kept, b)
		}
	}
	fn.Blocks = kept
}
