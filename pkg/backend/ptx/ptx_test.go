package ptx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/hxc/pkg/device"
	"github.com/orneryd/hxc/pkg/ir"
)

// sm80Caps is a representative Ampere-class descriptor: every tensor
// precision tier supported, matching sm_80's real hardware capability.
var sm80Caps = device.CapabilityDescriptor{
	ComputeCapability: "sm_80",
	TensorPrecisions:  []int{int(ir.PrecisionFP16), int(ir.PrecisionBF16), int(ir.PrecisionTF32), int(ir.PrecisionFP32)},
}

func buildEntry(m *ir.Module) ir.EntryPoint {
	i32 := m.Types.Int(32)
	fn := &ir.Function{Name: "k", ReturnType: i32}
	p := &ir.Value{ID: fn.NewValueID(), Op: ir.OpParam, Type: i32}
	fn.Params = append(fn.Params, p)
	entry := &ir.BasicBlock{Name: "entry"}
	fn.Blocks = append(fn.Blocks, entry)
	one := &ir.Value{ID: fn.NewValueID(), Op: ir.OpConstant, Type: i32, Const: ir.Const{Int: 1}}
	sum := &ir.Value{ID: fn.NewValueID(), Op: ir.OpAdd, Type: i32, Operands: []ir.ValueID{p.ID, one.ID}}
	entry.Append(one)
	entry.Append(sum)
	entry.Append(&ir.Value{ID: fn.NewValueID(), Op: ir.OpReturn, Operands: []ir.ValueID{sum.ID}})

	ep := ir.EntryPoint{Name: "k", Function: fn, Dim: ir.Dim1D, Params: []ir.ParamLayout{{Name: "x", Type: i32}}}
	m.AddFunction(fn)
	m.AddEntryPoint(ep)
	return ep
}

func TestEmitModuleProducesValidPTXHeader(t *testing.T) {
	m := ir.NewModule()
	buildEntry(m)
	m.Close()

	text, err := EmitModule(m, sm80Caps)
	require.NoError(t, err)
	assert.Contains(t, text, ".target sm_80")
	assert.Contains(t, text, ".visible .entry k(")
	assert.Contains(t, text, "ret;")
}

func TestEmitTensorMMAFallsBackForUnsupportedShape(t *testing.T) {
	m := ir.NewModule()
	i32 := m.Types.Int(32)
	fn := &ir.Function{Name: "mma_bad", ReturnType: i32}
	entry := &ir.BasicBlock{Name: "entry"}
	fn.Blocks = append(fn.Blocks, entry)
	a := &ir.Value{ID: fn.NewValueID(), Op: ir.OpConstant, Type: m.Types.Float(32), Const: ir.Const{Float: 1}}
	bv := &ir.Value{ID: fn.NewValueID(), Op: ir.OpConstant, Type: m.Types.Float(32), Const: ir.Const{Float: 2}}
	mma := &ir.Value{ID: fn.NewValueID(), Op: ir.OpTensorMMA, Type: m.Types.Float(32), Operands: []ir.ValueID{a.ID, bv.ID}}
	entry.Append(a)
	entry.Append(bv)
	entry.Append(mma)
	entry.Append(&ir.Value{ID: fn.NewValueID(), Op: ir.OpReturn})

	ep := ir.EntryPoint{Name: "mma_bad", Function: fn, Dim: ir.Dim1D,
		TensorCoreAttr: &ir.TensorCoreAttr{M: 7, N: 7, K: 7, PrecisionTier: ir.PrecisionFP32}}
	m.AddFunction(fn)
	m.AddEntryPoint(ep)
	m.Close()

	text, err := EmitModule(m, sm80Caps)
	require.NoError(t, err)
	assert.Contains(t, text, "falling back to scalar multiply-add")
}

func TestEmitTensorMMAFallsBackWhenDeviceLacksPrecisionTier(t *testing.T) {
	m := ir.NewModule()
	fn := &ir.Function{Name: "mma_fp16_only", ReturnType: m.Types.Float(32)}
	entry := &ir.BasicBlock{Name: "entry"}
	fn.Blocks = append(fn.Blocks, entry)
	a := &ir.Value{ID: fn.NewValueID(), Op: ir.OpConstant, Type: m.Types.Float(32), Const: ir.Const{Float: 1}}
	bv := &ir.Value{ID: fn.NewValueID(), Op: ir.OpConstant, Type: m.Types.Float(32), Const: ir.Const{Float: 2}}
	mma := &ir.Value{ID: fn.NewValueID(), Op: ir.OpTensorMMA, Type: m.Types.Float(32), Operands: []ir.ValueID{a.ID, bv.ID}}
	entry.Append(a)
	entry.Append(bv)
	entry.Append(mma)
	entry.Append(&ir.Value{ID: fn.NewValueID(), Op: ir.OpReturn})

	ep := ir.EntryPoint{Name: "mma_fp16_only", Function: fn, Dim: ir.Dim1D,
		TensorCoreAttr: &ir.TensorCoreAttr{M: 16, N: 16, K: 16, PrecisionTier: ir.PrecisionTF32}}
	m.AddFunction(fn)
	m.AddEntryPoint(ep)
	m.Close()

	fp16Only := device.CapabilityDescriptor{ComputeCapability: "sm_80", TensorPrecisions: []int{int(ir.PrecisionFP16)}}
	text, err := EmitModule(m, fp16Only)
	require.NoError(t, err)
	assert.Contains(t, text, "device does not support the requested precision tier")
	assert.NotContains(t, text, "wmma.mma.sync")
}

func TestEmitAtomicCASAndCondBr(t *testing.T) {
	m := ir.NewModule()
	i32 := m.Types.Int(32)
	ptrI32 := m.Types.Pointer(i32, ir.AddrGlobal)
	fn := &ir.Function{Name: "cas_branch"}
	addr := &ir.Value{ID: fn.NewValueID(), Op: ir.OpParam, Type: ptrI32}
	pred := &ir.Value{ID: fn.NewValueID(), Op: ir.OpParam, Type: i32}
	fn.Params = []*ir.Value{addr, pred}

	entry := &ir.BasicBlock{Name: "entry"}
	taken := &ir.BasicBlock{Name: "taken"}
	fallthru := &ir.BasicBlock{Name: "fallthru"}
	entry.Succs = []*ir.BasicBlock{taken, fallthru}
	fn.Blocks = []*ir.BasicBlock{entry, taken, fallthru}

	cmp := &ir.Value{ID: fn.NewValueID(), Op: ir.OpConstant, Type: i32, Const: ir.Const{Int: 0}}
	newVal := &ir.Value{ID: fn.NewValueID(), Op: ir.OpConstant, Type: i32, Const: ir.Const{Int: 1}}
	cas := &ir.Value{ID: fn.NewValueID(), Op: ir.OpAtomicCAS, Type: i32, Operands: []ir.ValueID{addr.ID, cmp.ID, newVal.ID}}
	br := &ir.Value{ID: fn.NewValueID(), Op: ir.OpCondBr, Operands: []ir.ValueID{pred.ID}}
	entry.Append(cmp)
	entry.Append(newVal)
	entry.Append(cas)
	entry.Append(br)
	taken.Append(&ir.Value{ID: fn.NewValueID(), Op: ir.OpReturn})
	fallthru.Append(&ir.Value{ID: fn.NewValueID(), Op: ir.OpReturn})

	ep := ir.EntryPoint{Name: "cas_branch", Function: fn, Dim: ir.Dim1D,
		Params: []ir.ParamLayout{{Name: "addr", Type: ptrI32}, {Name: "pred", Type: i32}}}
	m.AddFunction(fn)
	m.AddEntryPoint(ep)
	m.Close()

	text, err := EmitModule(m, sm80Caps)
	require.NoError(t, err)
	assert.Contains(t, text, "atom.global.cas.b32")
	assert.Contains(t, text, "bra taken;")
	assert.Contains(t, text, "bra.uni fallthru;")
}

func TestEmitTensorMMAUsesWMMAForValidatedShape(t *testing.T) {
	m := ir.NewModule()
	i32 := m.Types.Int(32)
	_ = i32
	fn := &ir.Function{Name: "mma_ok", ReturnType: m.Types.Float(32)}
	entry := &ir.BasicBlock{Name: "entry"}
	fn.Blocks = append(fn.Blocks, entry)
	a := &ir.Value{ID: fn.NewValueID(), Op: ir.OpConstant, Type: m.Types.Float(32), Const: ir.Const{Float: 1}}
	bv := &ir.Value{ID: fn.NewValueID(), Op: ir.OpConstant, Type: m.Types.Float(32), Const: ir.Const{Float: 2}}
	mma := &ir.Value{ID: fn.NewValueID(), Op: ir.OpTensorMMA, Type: m.Types.Float(32), Operands: []ir.ValueID{a.ID, bv.ID}}
	entry.Append(a)
	entry.Append(bv)
	entry.Append(mma)
	entry.Append(&ir.Value{ID: fn.NewValueID(), Op: ir.OpReturn})

	ep := ir.EntryPoint{Name: "mma_ok", Function: fn, Dim: ir.Dim1D,
		TensorCoreAttr: &ir.TensorCoreAttr{M: 16, N: 16, K: 16, PrecisionTier: ir.PrecisionFP16}}
	m.AddFunction(fn)
	m.AddEntryPoint(ep)
	m.Close()

	text, err := EmitModule(m, sm80Caps)
	require.NoError(t, err)
	assert.Contains(t, text, "wmma.mma.sync.aligned.row.row.m16n16k16.fp16")
}
