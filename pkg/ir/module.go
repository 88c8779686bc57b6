package ir

import "fmt"

// Dimensionality is the index-space rank of a kernel launch: 1-D, 2-D or
// 3-D.
type Dimensionality int

const (
	Dim1D Dimensionality = 1
	Dim2D Dimensionality = 2
	Dim3D Dimensionality = 3
)

// ParamLayout describes one entry-point parameter's host-visible size and
// alignment, as the front end must guarantee when it hands a module to the
// core.
type ParamLayout struct {
	Name      string
	Type      Type
	SizeBytes int
	AlignTo   int
}

// EntryPoint names a Function visible from the host plus its launch
// signature: dimensionality, parameter layout, required shared memory, and
// whether the group size is implicit (chosen by the runtime rather than the
// caller).
type EntryPoint struct {
	Name               string
	Function           *Function
	Dim                Dimensionality
	Params             []ParamLayout
	StaticSharedBytes  int
	ImplicitGroupSize  bool
	TensorCoreAttr     *TensorCoreAttr
	PlatformHints      map[string]string
}

// TensorCoreAttr marks an entry point as eligible for WMMA-fragment lowering
// on backends that support it. Shape must be one of the validated set
// {16x16x16, 16x16x8, 32x8x16, 8x32x16}; a backend that does not recognize
// the shape falls back to scalar multiply-add lowering instead (see
// ptx.emitTensorMMA) rather than rejecting the module.
type TensorCoreAttr struct {
	M, N, K        int
	PrecisionTier  PrecisionTier
}

// PrecisionTier orders the tensor-core precision ladder used by backend tie
// breaks: among the precisions a device supports, pick the smallest one that
// is still >= the op's declared precision.
type PrecisionTier int

const (
	PrecisionFP16 PrecisionTier = iota
	PrecisionBF16
	PrecisionTF32
	PrecisionFP32
)

func (p PrecisionTier) String() string {
	switch p {
	case PrecisionFP16:
		return "fp16"
	case PrecisionBF16:
		return "bf16"
	case PrecisionTF32:
		return "tf32"
	case PrecisionFP32:
		return "fp32"
	default:
		return "unknown"
	}
}

// GlobalConstant is a module-scope immutable value, addressable from any
// function in the module.
type GlobalConstant struct {
	Name  string
	Type  Type
	Const Const
}

// Module owns every function, the interned type table, global constants,
// and the list of entry points. Modules are constructed, then Close()d; no
// further edits are permitted after closure.
type Module struct {
	Types     *TypeTable
	Functions []*Function
	Globals   []GlobalConstant
	Entries   []EntryPoint

	closed bool
}

// NewModule creates an empty, editable module with a fresh type table.
func NewModule() *Module {
	return &Module{Types: NewTypeTable()}
}

// AddFunction registers fn with the module. Panics if the module is closed.
func (m *Module) AddFunction(fn *Function) {
	m.mustBeOpen("AddFunction")
	m.Functions = append(m.Functions, fn)
}

// AddGlobal registers a module-scope constant. Panics if the module is
// closed.
func (m *Module) AddGlobal(g GlobalConstant) {
	m.mustBeOpen("AddGlobal")
	m.Globals = append(m.Globals, g)
}

// AddEntryPoint registers ep as host-visible. Panics if the module is
// closed.
func (m *Module) AddEntryPoint(ep EntryPoint) {
	m.mustBeOpen("AddEntryPoint")
	m.Entries = append(m.Entries, ep)
}

func (m *Module) mustBeOpen(op string) {
	if m.closed {
		panic(fmt.Sprintf("ir: %s called on a closed module", op))
	}
}

// Close freezes the module: no function, global, or entry point may be
// added afterward. Close is idempotent.
func (m *Module) Close() {
	m.closed = true
}

// Closed reports whether the module has been closed.
func (m *Module) Closed() bool { return m.closed }

// EntryPointByName looks up a registered entry point by name, returning
// (ep, true) on success.
func (m *Module) EntryPointByName(name string) (EntryPoint, bool) {
	for _, ep := range m.Entries {
		if ep.Name == name {
			return ep, true
		}
	}
	return EntryPoint{}, false
}

// Clone produces a deep, independent copy of the module sharing no mutable
// state with the original: each backend/transform invocation gets its own
// module to lower in place. A module is owned by exactly one pass pipeline
// at a time; Clone is how a caller keeps its original while handing a
// pipeline a module to mutate.
func (m *Module) Clone() *Module {
	clone := &Module{Types: m.Types, closed: false}
	clone.Globals = append(clone.Globals, m.Globals...)

	funcByOld := make(map[*Function]*Function, len(m.Functions))
	for _, fn := range m.Functions {
		newFn := cloneFunction(fn)
		funcByOld[fn] = newFn
		clone.Functions = append(clone.Functions, newFn)
	}
	for _, ep := range m.Entries {
		newEP := ep
		newEP.Function = funcByOld[ep.Function]
		clone.Entries = append(clone.Entries, newEP)
	}
	return clone
}

// cloneValue returns a deep copy of v, sharing no mutable state (Operands,
// Attrs) with the original.
func cloneValue(v *Value) *Value {
	nv := &Value{
		ID:         v.ID,
		Op:         v.Op,
		Type:       v.Type,
		Operands:   append([]ValueID(nil), v.Operands...),
		Const:      v.Const,
		Provenance: v.Provenance,
	}
	if v.Attrs != nil {
		nv.Attrs = make(map[string]string, len(v.Attrs))
		for k, val := range v.Attrs {
			nv.Attrs[k] = val
		}
	}
	return nv
}

func cloneFunction(fn *Function) *Function {
	newFn := &Function{
		Name:       fn.Name,
		ParamTypes: append([]Type(nil), fn.ParamTypes...),
		ReturnType: fn.ReturnType,
		nextID:     fn.nextID,
	}

	// Params live only in fn.Params, never inside a block (see
	// transform.ParamMaterialization), so they must be cloned explicitly
	// here rather than discovered while walking block values.
	newFn.Params = make([]*Value, len(fn.Params))
	for i, p := range fn.Params {
		newFn.Params[i] = cloneValue(p)
	}

	blockByOld := make(map[*BasicBlock]*BasicBlock, len(fn.Blocks))
	for _, b := range fn.Blocks {
		nb := &BasicBlock{Name: b.Name}
		blockByOld[b] = nb
		newFn.Blocks = append(newFn.Blocks, nb)
	}
	for _, b := range fn.Blocks {
		nb := blockByOld[b]
		for _, v := range b.Values {
			nb.Append(cloneValue(v))
		}
		for _, p := range b.Preds {
			nb.Preds = append(nb.Preds, blockByOld[p])
		}
		for _, s := range b.Succs {
			nb.Succs = append(nb.Succs, blockByOld[s])
		}
	}
	return newFn
}
