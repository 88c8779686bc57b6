package transform

import "github.com/orneryd/hxc/pkg/ir"

// Inlining replaces calls to small, single-block callees with a direct copy
// of the callee's body, per the cost model: inline when the callee's value
// count is <= Config.InlineSizeThreshold, OR the callee has at most one
// non-trivial block, OR the call site is marked hot (Value.Attrs["hot"] ==
// "true") and Config.InlineHotSites is set. Multi-block callees are left
// uninlined; inlining is an optimization, not a correctness requirement, so
// skipping a call site never breaks the pipeline.
type Inlining struct {
	Config Config
}

func (Inlining) Name() string { return "inlining" }

func (p Inlining) Run(fn *ir.Function, m *ir.Module) error {
	byName := make(map[string]*ir.Function, len(m.Functions))
	for _, f := range m.Functions {
		byName[f.Name] = f
	}

	for _, b := range fn.Blocks {
		for i := 0; i < len(b.Values); i++ {
			v := b.Values[i]
			if v.Op != ir.OpCall || len(v.Operands) == 0 {
				continue
			}
			callee := calleeOf(v, byName)
			if callee == nil || callee == fn {
				continue
			}
			if !p.shouldInline(callee, v) {
				continue
			}
			expanded := inlineCall(fn, b, i, v, callee)
			if expanded {
				// Re-scan this block position since values were spliced in.
				i = -1
			}
		}
	}
	return nil
}

// calleeOf resolves the function a call targets. The callee is named via
// the call's own Attrs["callee"] marker set by the front end,
// since ir.Value carries no direct function reference.
func calleeOf(call *ir.Value, byName map[string]*ir.Function) *ir.Function {
	if call.Attrs == nil {
		return nil
	}
	name, ok := call.Attrs["callee"]
	if !ok {
		return nil
	}
	return byName[name]
}

func (p Inlining) shouldInline(callee *ir.Function, call *ir.Value) bool {
	if len(callee.AllValues()) <= p.Config.InlineSizeThreshold {
		return true
	}
	if nonTrivialBlockCount(callee) <= 1 {
		return true
	}
	if p.Config.InlineHotSites && call.Attrs != nil && call.Attrs["hot"] == "true" {
		return true
	}
	return false
}

func nonTrivialBlockCount(fn *ir.Function) int {
	count := 0
	for _, b := range fn.Blocks {
		if len(b.Values) > 1 {
			count++
		}
	}
	return count
}

// inlineCall splices a clone of callee's single entry block in place of the
// call at b.Values[idx], substituting callee parameters with the call's
// argument operands and the callee's OpReturn with a direct reference to the
// returned value. Only single-block callees are supported; multi-block
// callees are filtered out by shouldInline's block-count check before this
// is ever called with one, except when the size threshold alone admitted a
// larger callee: in that case inlineCall declines and returns false,
// leaving the call in place for a future pass run.
func inlineCall(fn *ir.Function, b *ir.BasicBlock, idx int, call *ir.Value, callee *ir.Function) bool {
	if len(callee.Blocks) != 1 {
		return false
	}
	args := call.Operands[1:]
	if len(args) != len(callee.Params) {
		return false
	}

	subst := make(map[ir.ValueID]ir.ValueID, len(callee.Params))
	for i, p := range callee.Params {
		subst[p.ID] = args[i]
	}

	var cloned []*ir.Value
	var retID ir.ValueID
	hasRet := false
	for _, src := range callee.Blocks[0].Values {
		if src.Op == ir.OpReturn {
			if len(src.Operands) == 1 {
				retID = remap(src.Operands[0], subst)
				hasRet = true
			}
			continue // terminator is not copied into the caller's block
		}
		nv := &ir.Value{
			ID:         fn.NewValueID(),
			Op:         src.Op,
			Type:       src.Type,
			Const:      src.Const,
			Provenance: src.Provenance,
		}
		for _, o := range src.Operands {
			nv.Operands = append(nv.Operands, remap(o, subst))
		}
		subst[src.ID] = nv.ID
		cloned = append(cloned, nv)
	}

	rest := append([]*ir.Value(nil), b.Values[idx+1:]...)
	b.Values = b.Values[:idx]
	for _, nv := range cloned {
		b.Append(nv)
	}
	resultID := call.ID
	if hasRet {
		resultID = remap(retID, subst)
	}
	for _, r := range rest {
		for i, o := range r.Operands {
			if o == call.ID {
				r.Operands[i] = resultID
			}
		}
		b.Append(r)
	}
	return true
}

func remap(id ir.ValueID, subst map[ir.ValueID]ir.ValueID) ir.ValueID {
	if mapped, ok := subst[id]; ok {
		return mapped
	}
	return id
}
