package cpu

import (
	"context"
	"encoding/binary"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/hxc/pkg/device"
	"github.com/orneryd/hxc/pkg/ir"
)

func buildAddOneModule() *ir.Module {
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
	entry.Append(&ir.Value{ID: fn.NewValueID(), Op: ir.OpReturn, Operands: []ir.ValueID{sum.ID}})

	m.AddFunction(fn)
	m.AddEntryPoint(ir.EntryPoint{Name: "add_one", Function: fn, Dim: ir.Dim1D})
	m.Close()
	return m
}

func TestLowerProducesOneKernelPerEntry(t *testing.T) {
	m := buildAddOneModule()
	art, err := Lower(m)
	require.NoError(t, err)
	assert.Contains(t, art.Entries, "add_one")
	assert.Greater(t, art.PoolSize, 0)
}

func TestLaunchInvokesKernelOncePerThread(t *testing.T) {
	var calls int64
	art := &Artifact{
		PoolSize: 4,
		Entries: map[string]KernelFunc{
			"count": func(m *machine, idx [3]int, args []device.LaunchArg) error {
				atomic.AddInt64(&calls, 1)
				return nil
			},
		},
	}

	err := Launch(context.Background(), art, "count", [3]int{4, 1, 1}, [3]int{8, 1, 1}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(4*8), atomic.LoadInt64(&calls))
}

func TestLaunchUnknownEntryErrors(t *testing.T) {
	art := &Artifact{Entries: map[string]KernelFunc{}}
	err := Launch(context.Background(), art, "missing", [3]int{1, 1, 1}, [3]int{1, 1, 1}, nil, nil)
	require.Error(t, err)
}

func TestDriverEnumerateReportsCPUBackend(t *testing.T) {
	d := &Driver{}
	caps, err := d.Enumerate()
	require.NoError(t, err)
	require.Len(t, caps, 1)
	assert.Equal(t, device.BackendCPU, caps[0].BackendTag)
}

func TestDriverAllocAndCopy(t *testing.T) {
	d := &Driver{}
	ctx, err := d.CreateContext(0)
	require.NoError(t, err)

	src, err := d.Alloc(ctx, 4)
	require.NoError(t, err)
	dst, err := d.Alloc(ctx, 4)
	require.NoError(t, err)

	copy(d.mem[src], []byte{1, 2, 3, 4})
	require.NoError(t, d.Copy(ctx, dst, src, 4, device.CopyHostToDevice))
	assert.Equal(t, []byte{1, 2, 3, 4}, d.mem[dst])
}

// buildAtomicCASModule builds d[i] = CAS(&a[0], b[i], c[i]) against buffer
// parameters a, b, c, d, matching the atomic compare-and-swap scenario
// literally: a single contended cell, one winner, everyone else told what
// is already there.
func buildAtomicCASModule() *ir.Module {
	m := ir.NewModule()
	i32 := m.Types.Int(32)
	ptrI32 := m.Types.Pointer(i32, ir.AddrGlobal)

	fn := &ir.Function{Name: "cas_kernel"}
	tidX := &ir.Value{ID: fn.NewValueID(), Op: ir.OpParam, Type: i32}
	tidY := &ir.Value{ID: fn.NewValueID(), Op: ir.OpParam, Type: i32}
	tidZ := &ir.Value{ID: fn.NewValueID(), Op: ir.OpParam, Type: i32}
	pA := &ir.Value{ID: fn.NewValueID(), Op: ir.OpParam, Type: ptrI32}
	pB := &ir.Value{ID: fn.NewValueID(), Op: ir.OpParam, Type: ptrI32}
	pC := &ir.Value{ID: fn.NewValueID(), Op: ir.OpParam, Type: ptrI32}
	pD := &ir.Value{ID: fn.NewValueID(), Op: ir.OpParam, Type: ptrI32}
	fn.Params = []*ir.Value{tidX, tidY, tidZ, pA, pB, pC, pD}

	entry := &ir.BasicBlock{Name: "entry"}
	fn.Blocks = append(fn.Blocks, entry)

	bGEP := &ir.Value{ID: fn.NewValueID(), Op: ir.OpGEP, Type: ptrI32, Operands: []ir.ValueID{pB.ID, tidX.ID}}
	bLoad := &ir.Value{ID: fn.NewValueID(), Op: ir.OpLoad, Type: i32, Operands: []ir.ValueID{bGEP.ID}}
	cGEP := &ir.Value{ID: fn.NewValueID(), Op: ir.OpGEP, Type: ptrI32, Operands: []ir.ValueID{pC.ID, tidX.ID}}
	cLoad := &ir.Value{ID: fn.NewValueID(), Op: ir.OpLoad, Type: i32, Operands: []ir.ValueID{cGEP.ID}}
	cas := &ir.Value{ID: fn.NewValueID(), Op: ir.OpAtomicCAS, Type: i32, Operands: []ir.ValueID{pA.ID, bLoad.ID, cLoad.ID}}
	dGEP := &ir.Value{ID: fn.NewValueID(), Op: ir.OpGEP, Type: ptrI32, Operands: []ir.ValueID{pD.ID, tidX.ID}}
	store := &ir.Value{ID: fn.NewValueID(), Op: ir.OpStore, Operands: []ir.ValueID{dGEP.ID, cas.ID}}
	ret := &ir.Value{ID: fn.NewValueID(), Op: ir.OpReturn}

	for _, v := range []*ir.Value{bGEP, bLoad, cGEP, cLoad, cas, dGEP, store, ret} {
		entry.Append(v)
	}

	m.AddFunction(fn)
	m.AddEntryPoint(ir.EntryPoint{Name: "cas_kernel", Function: fn, Dim: ir.Dim1D})
	m.Close()
	return m
}

// TestDriverLoadAndLaunchExecutesAtomicCompareAndSwap drives the real
// Driver end to end (LoadModule then Launch, no direct call into the
// package-level Launch helper) over a kernel that reads and writes
// through buffer pointers and performs a contended atomic CAS, matching
// the literal atomic compare-and-swap scenario: exactly one element of d
// comes back 0, every other comes back 1, and a[0] ends at 1.
func TestDriverLoadAndLaunchExecutesAtomicCompareAndSwap(t *testing.T) {
	m := buildAtomicCASModule()
	art, err := Lower(m)
	require.NoError(t, err)

	d := &Driver{}
	ctx, err := d.CreateContext(0)
	require.NoError(t, err)

	const n = 1024
	aH, err := d.Alloc(ctx, 4)
	require.NoError(t, err)
	bH, err := d.Alloc(ctx, n*4)
	require.NoError(t, err)
	cH, err := d.Alloc(ctx, n*4)
	require.NoError(t, err)
	dH, err := d.Alloc(ctx, n*4)
	require.NoError(t, err)

	// a and b are already zero from Alloc; c is filled with 1 in every slot.
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint32(d.mem[cH][i*4:i*4+4], 1)
	}

	token := EncodeArtifact(art)
	modHandle, err := d.LoadModule(ctx, token)
	require.NoError(t, err)

	args := []device.LaunchArg{
		{IsBuffer: true, Buffer: aH},
		{IsBuffer: true, Buffer: bH},
		{IsBuffer: true, Buffer: cH},
		{IsBuffer: true, Buffer: dH},
	}
	future, err := d.Launch(ctx, modHandle, "cas_kernel", [3]int{n, 1, 1}, [3]int{1, 1, 1}, 0, args)
	require.NoError(t, err)
	require.Nil(t, future)

	assert.Equal(t, uint32(1), binary.LittleEndian.Uint32(d.mem[aH]))

	zeros := 0
	for i := 0; i < n; i++ {
		v := binary.LittleEndian.Uint32(d.mem[dH][i*4 : i*4+4])
		if v == 0 {
			zeros++
		} else {
			assert.Equal(t, uint32(1), v)
		}
	}
	assert.Equal(t, 1, zeros)
}
