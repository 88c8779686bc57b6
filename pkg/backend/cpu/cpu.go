// Package cpu implements the CPU backend: lowering a module to host
// functions that evaluate one kernel invocation per thread-index tuple, run
// across a bounded worker pool sized to the logical CPU count.
package cpu

import (
	"context"
	"encoding/binary"
	"math"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/orneryd/hxc/pkg/device"
	"github.com/orneryd/hxc/pkg/ir"
)

func init() {
	device.Register(device.BackendCPU, &Driver{})
}

// MemoryAccessor resolves a device.MemHandle to its backing bytes. Driver
// implements this directly against its own allocation table; the
// interpreter never touches device memory any other way.
type MemoryAccessor interface {
	Bytes(h device.MemHandle) []byte
}

// machine is the state shared by every thread a single Launch call fans
// out across: the memory accessor buffers resolve through, and the mutex
// that serializes the atomic family so concurrent goroutines see the same
// read-modify-write ordering a real device's atomic unit would provide.
type machine struct {
	mem      MemoryAccessor
	atomicMu sync.Mutex
}

// KernelFunc is the lowered, host-callable form of one entry point: given
// the flattened 3-D thread index and the launch arguments, it performs one
// unit of work. The CPU backend's Lower produces one of these per entry
// point name; nothing else in the pipeline depends on how it was derived
// from the IR.
type KernelFunc func(m *machine, threadIdx [3]int, args []device.LaunchArg) error

// Artifact is what Lower returns: every entry point's KernelFunc, keyed by
// name, plus the worker pool size it was sized for.
type Artifact struct {
	Entries  map[string]KernelFunc
	PoolSize int
}

// SizeBytes reports a nominal resident size for cache accounting. An
// Artifact's real footprint is a handful of Go closures with no meaningful
// byte size of their own, so this is a fixed per-entry-point estimate
// rather than a measurement, enough for the kernel cache's LRU budget to
// treat CPU artifacts consistently against PTX/OpenCL text blobs, which
// do have a real byte size.
func (a *Artifact) SizeBytes() int {
	const perEntry = 256
	return len(a.Entries) * perEntry
}

// Lower evaluates every entry point in m using evalFunction, producing one
// KernelFunc per name. m must already have passed the standard transform
// pipeline (see pkg/transform) and final verification.
func Lower(m *ir.Module) (*Artifact, error) {
	art := &Artifact{Entries: make(map[string]KernelFunc, len(m.Entries)), PoolSize: runtime.NumCPU()}
	for _, ep := range m.Entries {
		entry := ep
		art.Entries[entry.Name] = func(m *machine, threadIdx [3]int, args []device.LaunchArg) error {
			return evalFunction(m, entry.Function, threadIdx, args)
		}
	}
	return art, nil
}

// artifactRegistry hands LoadModule something to decode. A compiled
// Artifact is a table of Go closures with no host-visible byte
// representation: unlike PTX text or OpenCL C source, there is nothing
// meaningful to serialize, so this backend never round-trips it through
// a real encoding. EncodeArtifact instead registers art in an in-process
// table and returns an opaque token; decodeArtifactToken resolves that
// token back to the same *Artifact within this process. A token from a
// different process, or after a restart, resolves to nothing, which is
// correct: a Go closure cannot outlive the process that created it.
var (
	artifactRegistryMu sync.Mutex
	artifactRegistry   = map[uint64]*Artifact{}
	nextArtifactToken  uint64
)

// EncodeArtifact is this backend's kernel.ArtifactBytes function.
func EncodeArtifact(art *Artifact) []byte {
	artifactRegistryMu.Lock()
	defer artifactRegistryMu.Unlock()
	nextArtifactToken++
	tok := nextArtifactToken
	artifactRegistry[tok] = art
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, tok)
	return b
}

func decodeArtifactToken(b []byte) (*Artifact, bool) {
	if len(b) != 8 {
		return nil, false
	}
	tok := binary.LittleEndian.Uint64(b)
	artifactRegistryMu.Lock()
	defer artifactRegistryMu.Unlock()
	art, ok := artifactRegistry[tok]
	return art, ok
}

// Launch runs one task per work group of the grid, each evaluating entry's
// KernelFunc once per thread-index tuple of its group, with at most
// art.PoolSize tasks running at once; the grid is not split into chunks
// sized to the pool. It blocks until every task completes, one of them
// returns an error, or ctx is cancelled. mem resolves the buffer handles carried by args; a nil
// mem is only valid for kernels that touch no buffers.
func Launch(ctx context.Context, art *Artifact, entryName string, grid, group [3]int, args []device.LaunchArg, mem MemoryAccessor) error {
	fn, ok := art.Entries[entryName]
	if !ok {
		return &ir.CompilationError{Kind: ir.UnsupportedOpcode, Pass: "cpu", Detail: "unknown entry point " + entryName}
	}

	m := &machine{mem: mem}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(art.PoolSize)

	for gz := 0; gz < grid[2]; gz++ {
		for gy := 0; gy < grid[1]; gy++ {
			for gx := 0; gx < grid[0]; gx++ {
				gx, gy, gz := gx, gy, gz
				g.Go(func() error {
					select {
					case <-gctx.Done():
						return gctx.Err()
					default:
					}
					for lz := 0; lz < group[2]; lz++ {
						for ly := 0; ly < group[1]; ly++ {
							for lx := 0; lx < group[0]; lx++ {
								idx := [3]int{gx*group[0] + lx, gy*group[1] + ly, gz*group[2] + lz}
								if err := fn(m, idx, args); err != nil {
									return err
								}
							}
						}
					}
					return nil
				})
			}
		}
	}
	return g.Wait()
}

// cpuValue is the interpreter's per-SSA-value slot. Exactly one of ptr or
// Const is meaningful: pointer-typed values (parameters bound to a buffer,
// OpAlloca, OpGEP results) carry ptr; everything else carries Const, typed
// by Type so OpStore knows how many bytes to write.
type cpuValue struct {
	Const ir.Const
	Type  ir.Type
	ptr   *ptrValue
}

// ptrValue is a byte-addressable reference into either a device buffer
// (resolved through machine.mem) or an OpAlloca's thread-local storage.
type ptrValue struct {
	buf    []byte
	offset int
}

// evalFunction walks fn from its entry block, following each block's
// chosen successor until a block yields none, once per thread;
// a real code generator would compile this to native machine code ahead of
// time, but interpreting the verified IR directly is sufficient for every
// correctness property the pipeline promises and keeps this backend free of
// an on-the-fly compiler of its own.
func evalFunction(m *machine, fn *ir.Function, threadIdx [3]int, args []device.LaunchArg) error {
	if fn == nil || len(fn.Blocks) == 0 {
		return nil
	}
	env := make(map[ir.ValueID]cpuValue, len(fn.AllValues()))
	for i, p := range fn.Params {
		switch {
		case i < 3:
			env[p.ID] = cpuValue{Const: ir.Const{Int: int64(threadIdx[i])}, Type: p.Type}
		case i-3 >= len(args):
			// front end under-supplied arguments; leave unbound
		case args[i-3].IsBuffer:
			var buf []byte
			if m.mem != nil {
				buf = m.mem.Bytes(args[i-3].Buffer)
			}
			env[p.ID] = cpuValue{ptr: &ptrValue{buf: buf}, Type: p.Type}
		default:
			env[p.ID] = cpuValue{Const: bytesToConst(args[i-3].Bytes, p.Type), Type: p.Type}
		}
	}

	var prev *ir.BasicBlock
	block := fn.Entry()
	for block != nil {
		next, err := evalBlock(m, block, prev, env)
		if err != nil {
			return err
		}
		prev = block
		block = next
	}
	return nil
}

func evalBlock(m *machine, b *ir.BasicBlock, prev *ir.BasicBlock, env map[ir.ValueID]cpuValue) (*ir.BasicBlock, error) {
	for _, v := range b.Values {
		switch v.Op {
		case ir.OpConstant:
			env[v.ID] = cpuValue{Const: v.Const, Type: v.Type}

		case ir.OpAdd, ir.OpSub, ir.OpMul, ir.OpDiv, ir.OpRem,
			ir.OpAnd, ir.OpOr, ir.OpXor, ir.OpShl, ir.OpShr:
			if len(v.Operands) != 2 {
				return nil, ir.NewUnsupportedOpcodeError("cpu", v)
			}
			env[v.ID] = cpuValue{
				Const: evalBinary(v.Op, env[v.Operands[0]].Const, env[v.Operands[1]].Const, v.Type.Kind() == ir.KindFloat),
				Type:  v.Type,
			}

		case ir.OpSelect:
			if len(v.Operands) != 3 {
				return nil, ir.NewUnsupportedOpcodeError("cpu", v)
			}
			if env[v.Operands[0]].Const.Int != 0 {
				env[v.ID] = env[v.Operands[1]]
			} else {
				env[v.ID] = env[v.Operands[2]]
			}

		case ir.OpCast:
			if len(v.Operands) != 1 {
				return nil, ir.NewUnsupportedOpcodeError("cpu", v)
			}
			src := env[v.Operands[0]]
			env[v.ID] = cpuValue{Const: castConst(src.Const, src.Type, v.Type), Type: v.Type}

		case ir.OpAlloca:
			size := v.Type.Elem().SizeBytes()
			if size <= 0 {
				size = 1
			}
			env[v.ID] = cpuValue{ptr: &ptrValue{buf: make([]byte, size)}, Type: v.Type}

		case ir.OpGEP:
			if len(v.Operands) != 2 {
				return nil, ir.NewUnsupportedOpcodeError("cpu", v)
			}
			base := env[v.Operands[0]].ptr
			if base == nil {
				return nil, ir.NewUnsupportedOpcodeError("cpu", v)
			}
			stride := v.Type.Elem().SizeBytes()
			if stride <= 0 {
				stride = 1
			}
			idx := int(env[v.Operands[1]].Const.Int)
			env[v.ID] = cpuValue{ptr: &ptrValue{buf: base.buf, offset: base.offset + idx*stride}, Type: v.Type}

		case ir.OpLoad:
			if len(v.Operands) != 1 {
				return nil, ir.NewUnsupportedOpcodeError("cpu", v)
			}
			ptr := env[v.Operands[0]].ptr
			if ptr == nil {
				return nil, ir.NewUnsupportedOpcodeError("cpu", v)
			}
			size := v.Type.SizeBytes()
			env[v.ID] = cpuValue{Const: bytesToConst(ptr.buf[ptr.offset:ptr.offset+size], v.Type), Type: v.Type}

		case ir.OpStore:
			if len(v.Operands) != 2 {
				return nil, ir.NewUnsupportedOpcodeError("cpu", v)
			}
			ptr := env[v.Operands[0]].ptr
			if ptr == nil {
				return nil, ir.NewUnsupportedOpcodeError("cpu", v)
			}
			val := env[v.Operands[1]]
			size := val.Type.SizeBytes()
			constToBytes(val.Const, val.Type, ptr.buf[ptr.offset:ptr.offset+size])

		case ir.OpAtomicCAS:
			if len(v.Operands) != 3 {
				return nil, ir.NewUnsupportedOpcodeError("cpu", v)
			}
			ptr := env[v.Operands[0]].ptr
			if ptr == nil {
				return nil, ir.NewUnsupportedOpcodeError("cpu", v)
			}
			cmp := env[v.Operands[1]].Const
			newVal := env[v.Operands[2]].Const
			size := v.Type.SizeBytes()

			m.atomicMu.Lock()
			old := bytesToConst(ptr.buf[ptr.offset:ptr.offset+size], v.Type)
			if old.Int == cmp.Int && old.Float == cmp.Float {
				constToBytes(newVal, v.Type, ptr.buf[ptr.offset:ptr.offset+size])
			}
			m.atomicMu.Unlock()
			env[v.ID] = cpuValue{Const: old, Type: v.Type}

		case ir.OpAtomicAdd:
			if len(v.Operands) != 2 {
				return nil, ir.NewUnsupportedOpcodeError("cpu", v)
			}
			ptr := env[v.Operands[0]].ptr
			if ptr == nil {
				return nil, ir.NewUnsupportedOpcodeError("cpu", v)
			}
			delta := env[v.Operands[1]].Const
			size := v.Type.SizeBytes()
			isFloat := v.Type.Kind() == ir.KindFloat

			m.atomicMu.Lock()
			old := bytesToConst(ptr.buf[ptr.offset:ptr.offset+size], v.Type)
			updated := evalBinary(ir.OpAdd, old, delta, isFloat)
			constToBytes(updated, v.Type, ptr.buf[ptr.offset:ptr.offset+size])
			m.atomicMu.Unlock()
			env[v.ID] = cpuValue{Const: old, Type: v.Type}

		case ir.OpAtomicExchange:
			if len(v.Operands) != 2 {
				return nil, ir.NewUnsupportedOpcodeError("cpu", v)
			}
			ptr := env[v.Operands[0]].ptr
			if ptr == nil {
				return nil, ir.NewUnsupportedOpcodeError("cpu", v)
			}
			newVal := env[v.Operands[1]].Const
			size := v.Type.SizeBytes()

			m.atomicMu.Lock()
			old := bytesToConst(ptr.buf[ptr.offset:ptr.offset+size], v.Type)
			constToBytes(newVal, v.Type, ptr.buf[ptr.offset:ptr.offset+size])
			m.atomicMu.Unlock()
			env[v.ID] = cpuValue{Const: old, Type: v.Type}

		case ir.OpShuffle:
			// Each logical thread here is its own goroutine, not a lane in a
			// real warp/wavefront, so there is no cross-lane value to pull
			// from; the only sound behavior without a lane-group scheduler of
			// our own is the identity shuffle.
			if len(v.Operands) != 2 {
				return nil, ir.NewUnsupportedOpcodeError("cpu", v)
			}
			env[v.ID] = env[v.Operands[0]]

		case ir.OpVote:
			// Same limitation as OpShuffle: no warp-wide ballot exists across
			// independent goroutines, so the vote reports the calling
			// thread's own predicate rather than a real cross-lane reduction.
			if len(v.Operands) != 1 {
				return nil, ir.NewUnsupportedOpcodeError("cpu", v)
			}
			env[v.ID] = env[v.Operands[0]]

		case ir.OpBarrier:
			// Threads in this backend run to completion independently rather
			// than in lockstep groups, so there is no partial execution state
			// for a barrier to wait on; it is a correct no-op here.

		case ir.OpPhi:
			idx := -1
			for i, pb := range b.Preds {
				if pb == prev {
					idx = i
					break
				}
			}
			if idx < 0 || idx >= len(v.Operands) {
				return nil, ir.NewUnsupportedOpcodeError("cpu", v)
			}
			env[v.ID] = env[v.Operands[idx]]

		case ir.OpReturn:
			return nil, nil

		case ir.OpBr:
			if len(b.Succs) == 1 {
				return b.Succs[0], nil
			}
			return nil, ir.NewUnsupportedOpcodeError("cpu", v)

		case ir.OpCondBr:
			if len(v.Operands) == 1 && len(b.Succs) == 2 {
				if env[v.Operands[0]].Const.Int != 0 {
					return b.Succs[0], nil
				}
				return b.Succs[1], nil
			}
			return nil, ir.NewUnsupportedOpcodeError("cpu", v)

		default:
			// OpCall, OpTensorMMA, OpCmp, OpNeg, and anything else reaching
			// here has no interpreter semantics on this backend: tensor-core
			// ops are meaningless on a scalar host loop, and a surviving
			// OpCall means the front end handed the backend a module the
			// standard transform pipeline's inliner was expected to have
			// already removed every call site from. Reporting it beats
			// silently treating it as a no-op.
			return nil, ir.NewUnsupportedOpcodeError("cpu", v)
		}
	}
	return nil, ir.NewUnsupportedOpcodeError("cpu", b.Values[len(b.Values)-1])
}

func evalBinary(op ir.Opcode, a, b ir.Const, isFloat bool) ir.Const {
	if isFloat {
		var r float64
		switch op {
		case ir.OpAdd:
			r = a.Float + b.Float
		case ir.OpSub:
			r = a.Float - b.Float
		case ir.OpMul:
			r = a.Float * b.Float
		case ir.OpDiv:
			if b.Float != 0 {
				r = a.Float / b.Float
			}
		}
		return ir.Const{Float: r}
	}
	var r int64
	switch op {
	case ir.OpAdd:
		r = a.Int + b.Int
	case ir.OpSub:
		r = a.Int - b.Int
	case ir.OpMul:
		r = a.Int * b.Int
	case ir.OpDiv:
		if b.Int != 0 {
			r = a.Int / b.Int
		}
	case ir.OpRem:
		if b.Int != 0 {
			r = a.Int % b.Int
		}
	case ir.OpAnd:
		r = a.Int & b.Int
	case ir.OpOr:
		r = a.Int | b.Int
	case ir.OpXor:
		r = a.Int ^ b.Int
	case ir.OpShl:
		r = a.Int << uint(b.Int)
	case ir.OpShr:
		r = a.Int >> uint(b.Int)
	}
	return ir.Const{Int: r}
}

// castConst converts a value from one scalar type to another. Pointer and
// aggregate casts do not reach this backend: OpCast's operand arity is 1
// and transform.ScalarReplacement has already eliminated aggregate-typed
// values by the time a module reaches a backend.
func castConst(c ir.Const, from, to ir.Type) ir.Const {
	fromFloat := from.Kind() == ir.KindFloat
	toFloat := to.Kind() == ir.KindFloat
	switch {
	case fromFloat && toFloat:
		return c
	case fromFloat && !toFloat:
		return ir.Const{Int: int64(c.Float)}
	case !fromFloat && toFloat:
		return ir.Const{Float: float64(c.Int)}
	default:
		return c
	}
}

// bytesToConst decodes a little-endian byte slice into the Const form of
// ty: IEEE-754 single or double precision for floats, sign-extended two's
// complement for everything else.
func bytesToConst(b []byte, ty ir.Type) ir.Const {
	if ty.Kind() == ir.KindFloat {
		switch ty.BitWidth() {
		case 32:
			if len(b) >= 4 {
				return ir.Const{Float: float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))}
			}
		default:
			if len(b) >= 8 {
				return ir.Const{Float: math.Float64frombits(binary.LittleEndian.Uint64(b))}
			}
		}
		return ir.Const{}
	}
	var v int64
	for i := 0; i < len(b) && i < 8; i++ {
		v |= int64(b[i]) << (8 * i)
	}
	if n := len(b); n > 0 && n < 8 {
		shift := uint(64 - 8*n)
		v = v << shift >> shift
	}
	return ir.Const{Int: v}
}

// constToBytes is bytesToConst's inverse, writing c's little-endian
// encoding into dst. dst must be at least ty.SizeBytes() long.
func constToBytes(c ir.Const, ty ir.Type, dst []byte) {
	if ty.Kind() == ir.KindFloat {
		switch ty.BitWidth() {
		case 32:
			if len(dst) >= 4 {
				binary.LittleEndian.PutUint32(dst, math.Float32bits(float32(c.Float)))
			}
		default:
			if len(dst) >= 8 {
				binary.LittleEndian.PutUint64(dst, math.Float64bits(c.Float))
			}
		}
		return
	}
	v := uint64(c.Int)
	for i := 0; i < len(dst) && i < 8; i++ {
		dst[i] = byte(v >> (8 * i))
	}
}

