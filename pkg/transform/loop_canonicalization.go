package transform

import "github.com/orneryd/hxc/pkg/ir"

// LoopCanonicalization recognizes single-back-edge loops (a block that is
// its own dominator-chain successor through exactly one predecessor edge
// from within the loop body) and annotates the loop header's first phi,
// taken as its induction variable, with a "loop.header" attribute. No trip
// count is computed: constantTripCount reports none for any loop, so
// "loop.tripcount" is never set. It does not restructure the CFG, and no
// backend in this module reads the Attrs it leaves behind.
type LoopCanonicalization struct{}

func (LoopCanonicalization) Name() string { return "loop-canonicalization" }

func (LoopCanonicalization) Run(fn *ir.Function, m *ir.Module) error {
	for _, header := range fn.Blocks {
		backEdge := findBackEdge(header)
		if backEdge == nil {
			continue
		}
		iv := inductionVariable(header)
		if iv == nil {
			continue
		}
		if iv.Attrs == nil {
			iv.Attrs = make(map[string]string)
		}
		iv.Attrs["loop.header"] = header.Name
		if tc, ok := constantTripCount(header, iv); ok {
			iv.Attrs["loop.tripcount"] = tc
		}
	}
	return nil
}

// findBackEdge returns the predecessor that forms a back edge into header
// (a predecessor that header itself dominates by appearing in its own
// successor set), or nil if header is not a loop header.
func findBackEdge(header *ir.BasicBlock) *ir.BasicBlock {
	for _, pred := range header.Preds {
		for _, succ := range pred.Succs {
			if succ == header {
				for _, headerSucc := range header.Succs {
					if headerSucc == pred {
						return pred
					}
				}
			}
		}
	}
	return nil
}

// inductionVariable finds the header's first phi value, which by
// construction merges the loop-entry initial value with the back edge's
// updated value: the canonical induction variable shape this pass expects.
func inductionVariable(header *ir.BasicBlock) *ir.Value {
	for _, v := range header.Values {
		if v.Op == ir.OpPhi {
			return v
		}
	}
	return nil
}

// constantTripCount reports no trip count for any loop: it returns false
// for every induction variable, whatever its operands, so the loop is left
// unannotated rather than guessed.
func constantTripCount(header *ir.BasicBlock, iv *ir.Value) (string, bool) {
	if len(iv.Operands) != 2 {
		return "", false
	}
	return "", false
}
