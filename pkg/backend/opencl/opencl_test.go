package opencl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/hxc/pkg/ir"
)

func TestEmitModuleProducesKernelFunction(t *testing.T) {
	m := ir.NewModule()
	i32 := m.Types.Int(32)
	fn := &ir.Function{Name: "add_one", ReturnType: i32}
	p := &ir.Value{ID: fn.NewValueID(), Op: ir.OpParam, Type: i32}
	fn.Params = append(fn.Params, p)
	entry := &ir.BasicBlock{Name: "entry"}
	fn.Blocks = append(fn.Blocks, entry)
	one := &ir.Value{ID: fn.NewValueID(), Op: ir.OpConstant, Type: i32, Const: ir.Const{Int: 1}}
	sum := &ir.Value{ID: fn.NewValueID(), Op: ir.OpAdd, Type: i32, Operands: []ir.ValueID{p.ID, one.ID}}
	entry.Append(one)
	entry.Append(sum)
	entry.Append(&ir.Value{ID: fn.NewValueID(), Op: ir.OpReturn})

	m.AddFunction(fn)
	m.AddEntryPoint(ir.EntryPoint{
		Name: "add_one", Function: fn, Dim: ir.Dim1D,
		Params: []ir.ParamLayout{{Name: "x", Type: i32}},
	})
	m.Close()

	text, err := EmitModule(m)
	require.NoError(t, err)
	assert.Contains(t, text, "__kernel void add_one(int x)")
	assert.Contains(t, text, "return;")
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

	text, err := EmitModule(m)
	require.NoError(t, err)
	assert.Contains(t, text, "atomic_cmpxchg(")
	assert.Contains(t, text, "if (")
	assert.Contains(t, text, "goto bl_taken;")
	assert.Contains(t, text, "goto bl_fallthru;")
}

func TestOpenCLQualifiedPointerType(t *testing.T) {
	m := ir.NewModule()
	f32 := m.Types.Float(32)
	p := m.Types.Pointer(f32, ir.AddrGlobal)
	assert.Equal(t, "__global float*", openclQualifiedType(p))

	local := m.Types.Pointer(f32, ir.AddrSharedGroup)
	assert.Equal(t, "__local float*", openclQualifiedType(local))
}
