package transform

import "github.com/orneryd/hxc/pkg/ir"

// ParamMaterialization ensures every entry-point parameter declared in its
// ParamLayout has a corresponding explicit ir.Value in the function body.
// Front ends are allowed to omit trailing unused parameters from the value
// graph; this pass adds OpParam values for anything missing so every later
// pass can assume fn.Params and the entry point's Params line up 1:1.
type ParamMaterialization struct{}

func (ParamMaterialization) Name() string { return "param-materialization" }

func (ParamMaterialization) Run(fn *ir.Function, m *ir.Module) error {
	var ep *ir.EntryPoint
	for i := range m.Entries {
		if m.Entries[i].Function == fn {
			ep = &m.Entries[i]
			break
		}
	}
	if ep == nil {
		return nil // not an entry point; nothing to materialize
	}

	for i, pl := range ep.Params {
		if i < len(fn.Params) {
			continue
		}
		v := &ir.Value{ID: fn.NewValueID(), Op: ir.OpParam, Type: pl.Type}
		fn.Params = append(fn.Params, v)
		fn.ParamTypes = append(fn.ParamTypes, pl.Type)
	}
	return nil
}
