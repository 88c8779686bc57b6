package cpu

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/orneryd/hxc/pkg/device"
	"github.com/orneryd/hxc/pkg/ir"
)

// Driver implements device.Driver for the CPU backend: "memory" is a plain
// Go byte slice behind a handle, "context" is a no-op since there is only
// ever one host process, and "launch" delegates to Launch in this package.
type Driver struct {
	mu      sync.Mutex
	mem     map[device.MemHandle][]byte
	nextMem uint64

	// modules maps a loaded module handle back to the Artifact it was
	// decoded from, so Launch knows which entry-point table to dispatch
	// into. Two LoadModule calls for the same Artifact token get distinct
	// handles, matching how a real driver treats separate loads as
	// independently lifetimed even when they share an underlying binary.
	modules map[device.ModuleHandle]*Artifact
	nextMod uint64
}

func (d *Driver) Enumerate() ([]device.CapabilityDescriptor, error) {
	return []device.CapabilityDescriptor{{
		BackendTag:         device.BackendCPU,
		MaxGridDim:         [3]int{1 << 20, 1 << 20, 1 << 20},
		MaxGroupDim:        [3]int{1024, 1024, 1024},
		MaxSharedMemBytes:  256 << 10,
		MaxSIMDWidth:       simdWidth(),
		PreferredAlignment: 64,
	}}, nil
}

func (d *Driver) CreateContext(deviceIndex int) (device.ContextHandle, error) {
	return device.ContextHandle(1), nil
}

func (d *Driver) Alloc(ctx device.ContextHandle, sizeBytes int) (device.MemHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.mem == nil {
		d.mem = make(map[device.MemHandle][]byte)
	}
	h := device.MemHandle(atomic.AddUint64(&d.nextMem, 1))
	d.mem[h] = make([]byte, sizeBytes)
	return h, nil
}

func (d *Driver) Free(ctx device.ContextHandle, mem device.MemHandle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.mem, mem)
	return nil
}

func (d *Driver) Copy(ctx device.ContextHandle, dst, src device.MemHandle, sizeBytes int, kind device.CopyKind) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	copy(d.mem[dst], d.mem[src][:sizeBytes])
	return nil
}

// Bytes implements MemoryAccessor: it gives the interpreter direct,
// in-process access to a buffer's backing storage by its handle. This is
// the same map Alloc/Free/Copy operate on, so a Launch sees whatever the
// host last wrote via Copy and whatever a prior kernel invocation wrote
// through a pointer argument.
func (d *Driver) Bytes(h device.MemHandle) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mem[h]
}

func (d *Driver) LoadModule(ctx device.ContextHandle, artifact []byte) (device.ModuleHandle, error) {
	art, ok := decodeArtifactToken(artifact)
	if !ok {
		return 0, &ir.CompilationError{Kind: ir.BackendInternal, Pass: "cpu",
			Detail: "artifact token does not resolve to a compiled Artifact in this process"}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.modules == nil {
		d.modules = make(map[device.ModuleHandle]*Artifact)
	}
	d.nextMod++
	h := device.ModuleHandle(d.nextMod)
	d.modules[h] = art
	return h, nil
}

func (d *Driver) Launch(ctx device.ContextHandle, mod device.ModuleHandle, entry string, grid, group [3]int, smemBytes int, args []device.LaunchArg) (device.Future, error) {
	d.mu.Lock()
	art, ok := d.modules[mod]
	d.mu.Unlock()
	if !ok {
		return nil, device.NewLaunchError(device.KernelNotLoaded, "module handle was never returned by this driver's LoadModule")
	}

	// This backend executes synchronously: by the time Launch returns, the
	// work is done. Returning a nil Future alongside a nil error is how
	// kernel.Kernel.Launch recognizes synchronous completion rather than an
	// in-flight submission to wait on.
	if err := Launch(context.Background(), art, entry, grid, group, args, d); err != nil {
		return nil, err
	}
	return nil, nil
}

func simdWidth() int {
	switch runtime.GOARCH {
	case "amd64":
		return 8 // AVX2, 8 x float32 lanes
	case "arm64":
		return 4 // NEON, 4 x float32 lanes
	default:
		return 1
	}
}
