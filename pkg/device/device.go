// Package device provides the tagged-variant Accelerator abstraction: one
// concrete type covering every backend (CPU, PTX/CUDA, OpenCL), selected by
// a BackendTag rather than a hierarchy of backend-specific subclasses. A
// Driver implements the enumerate/create/alloc/copy/load/launch surface for
// exactly one backend; Accelerator dispatches to whichever Driver its tag
// names.
package device

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// BackendTag discriminates the compute backends this package drives.
type BackendTag int

const (
	BackendNone BackendTag = iota
	BackendCPU
	BackendPTX
	BackendOpenCL
)

func (b BackendTag) String() string {
	switch b {
	case BackendCPU:
		return "cpu"
	case BackendPTX:
		return "ptx"
	case BackendOpenCL:
		return "opencl"
	default:
		return "none"
	}
}

// CapabilityDescriptor reports what the underlying hardware actually
// supports (grid and group limits, shared memory, SIMD width, tensor-core
// precision tiers, alignment), so the transform
// pipeline and backends can make tie-break decisions without probing
// hardware themselves.
type CapabilityDescriptor struct {
	BackendTag         BackendTag `yaml:"backend_tag"`
	ComputeCapability  string     `yaml:"compute_capability"` // e.g. "sm_80" for PTX, empty otherwise
	MaxGridDim         [3]int     `yaml:"max_grid_dim"`
	MaxGroupDim        [3]int     `yaml:"max_group_dim"`
	MaxSharedMemBytes  int        `yaml:"max_shared_mem_bytes"`
	MaxSIMDWidth       int        `yaml:"max_simd_width"`
	SupportsTensorCore bool       `yaml:"supports_tensor_core"`
	TensorPrecisions   []int      `yaml:"tensor_precisions"` // ir.PrecisionTier values supported, ascending
	PreferredAlignment int        `yaml:"preferred_alignment"`
}

// SupportsPrecisionTier reports whether this descriptor can honor a
// requested tensor precision tier.
func (c CapabilityDescriptor) SupportsPrecisionTier(tier int) bool {
	for _, p := range c.TensorPrecisions {
		if p == tier {
			return true
		}
	}
	return false
}

// SelectPrecisionTier applies the backend tensor-op tie-break: among the
// precisions this descriptor supports, return the smallest one still >=
// declared (the ir.PrecisionTier ordering is fp16 < bf16 < tf32 < fp32, and
// a tensor op's declared tier is its minimum acceptable precision). Returns
// false if no supported tier meets that bound. Kept decoupled from
// package ir's PrecisionTier type so device carries no dependency on the IR
// layer; callers pass the plain int value of their ir.PrecisionTier.
func (c CapabilityDescriptor) SelectPrecisionTier(declared int) (int, bool) {
	best := -1
	for _, p := range c.TensorPrecisions {
		if p < declared {
			continue
		}
		if best == -1 || p < best {
			best = p
		}
	}
	return best, best != -1
}

// Driver is the boundary every backend implements: enumerate available
// devices, create a context, allocate and copy device memory, load a
// compiled module, launch it, and wait for completion. Accelerator and
// Stream are built on top of this boundary; nothing above it ever reaches
// past a Driver to touch hardware directly.
type Driver interface {
	Enumerate() ([]CapabilityDescriptor, error)
	CreateContext(deviceIndex int) (ContextHandle, error)
	Alloc(ctx ContextHandle, sizeBytes int) (MemHandle, error)
	Free(ctx ContextHandle, mem MemHandle) error
	Copy(ctx ContextHandle, dst, src MemHandle, sizeBytes int, kind CopyKind) error
	LoadModule(ctx ContextHandle, artifact []byte) (ModuleHandle, error)
	Launch(ctx ContextHandle, mod ModuleHandle, entry string, grid, group [3]int, smemBytes int, args []LaunchArg) (Future, error)
}

// ContextHandle, MemHandle, and ModuleHandle are opaque identifiers a Driver
// hands back; only that Driver knows how to interpret them.
type ContextHandle uint64
type MemHandle uint64
type ModuleHandle uint64

// CopyKind names the direction of a memory transfer.
type CopyKind int

const (
	CopyHostToDevice CopyKind = iota
	CopyDeviceToHost
	CopyDeviceToDevice
)

// LaunchArg is one kernel argument, tagged by its carrying form: either raw
// host bytes (scalars) or a device memory handle (buffers).
type LaunchArg struct {
	IsBuffer bool
	Bytes    []byte
	Buffer   MemHandle
}

// Future represents an in-flight launch. Wait blocks until the launch
// completes and returns its error; Done is closed once it completes.
type Future interface {
	Wait() error
	Done() <-chan struct{}
}

// Status is the accelerator's coarse availability state, transitioned by
// launch/completion and by the backend reporting driver loss or a hard
// failure. See Accelerator.MarkBusy/MarkAvailable/MarkUnavailable/MarkError.
type Status int

const (
	StatusAvailable Status = iota
	StatusBusy
	StatusUnavailable
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusAvailable:
		return "available"
	case StatusBusy:
		return "busy"
	case StatusUnavailable:
		return "unavailable"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Accelerator is the single concrete handle callers hold for a device,
// regardless of backend. Internals are owned by the Driver its BackendTag
// selected; callers never type-switch on backend.
//
// Accelerator owns the live-buffer/live-kernel registry referenced by
// spec's lifetime invariant: liveRefs counts every outstanding Buffer and
// Kernel registered against this Accelerator via AddRef/ReleaseRef, and
// Release refuses to tear down the context while the count is positive.
type Accelerator struct {
	mu      sync.RWMutex
	id      uuid.UUID
	tag     BackendTag
	driver  Driver
	caps    CapabilityDescriptor
	ctx     ContextHandle
	closed  bool
	status  Status
	liveRefs int64
}

// Registry maps a BackendTag to the Driver implementing it. Backends
// register themselves in their package init (see pkg/backend/cpu,
// pkg/backend/ptx, pkg/backend/opencl) rather than this package importing
// them, so a build that never references a backend never links its driver.
var (
	registryMu sync.RWMutex
	registry   = map[BackendTag]Driver{}
)

// Register installs drv as the Driver for tag. Intended to be called from a
// backend package's init().
func Register(tag BackendTag, drv Driver) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[tag] = drv
}

func driverFor(tag BackendTag) (Driver, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	drv, ok := registry[tag]
	if !ok {
		return nil, NewDeviceError(UnsupportedBackend, fmt.Sprintf("no driver registered for backend %s", tag))
	}
	return drv, nil
}

// EnumerateBackend reports every capability descriptor the backend
// registered under tag currently exposes, without opening a context for
// any of them. Used by callers that want to list available devices before
// committing to Open.
func EnumerateBackend(tag BackendTag) ([]CapabilityDescriptor, error) {
	drv, err := driverFor(tag)
	if err != nil {
		return nil, err
	}
	caps, err := drv.Enumerate()
	if err != nil {
		return nil, NewDeviceError(EnumerationFailed, err.Error())
	}
	return caps, nil
}

// Open selects deviceIndex on the named backend and returns a ready
// Accelerator. The caller must Release it.
func Open(tag BackendTag, deviceIndex int) (*Accelerator, error) {
	drv, err := driverFor(tag)
	if err != nil {
		return nil, err
	}
	caps, err := drv.Enumerate()
	if err != nil {
		return nil, NewDeviceError(EnumerationFailed, err.Error())
	}
	if deviceIndex < 0 || deviceIndex >= len(caps) {
		return nil, NewDeviceError(NoSuchDevice, fmt.Sprintf("device index %d out of range (%d available)", deviceIndex, len(caps)))
	}
	ctx, err := drv.CreateContext(deviceIndex)
	if err != nil {
		return nil, NewDeviceError(ContextCreationFailed, err.Error())
	}
	return &Accelerator{tag: tag, driver: drv, caps: caps[deviceIndex], ctx: ctx, id: uuid.New(), status: StatusAvailable}, nil
}

// ID is this accelerator's stable identity, independent of the backend's own
// device index, so identity survives a driver re-enumeration.
func (a *Accelerator) ID() uuid.UUID { return a.id }

// Tag reports the backend this accelerator drives.
func (a *Accelerator) Tag() BackendTag { return a.tag }

// Capabilities reports the device's capability descriptor.
func (a *Accelerator) Capabilities() CapabilityDescriptor { return a.caps }

// Context returns the opaque context handle for use by Stream and memory
// operations within this package.
func (a *Accelerator) Context() ContextHandle { return a.ctx }

// Driver exposes the backend's Driver for Stream/memory plumbing internal
// to this package's callers (pkg/memory, pkg/engine).
func (a *Accelerator) Driver() Driver { return a.driver }

// Status reports the accelerator's current availability.
func (a *Accelerator) Status() Status {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.status
}

// CheckAvailable returns a DeviceError if the accelerator is latched into
// Unavailable or Error, rejecting new work fast rather than attempting a
// launch or allocation that is certain to fail. Sticky per §7: once Error
// or Unavailable is observed, every subsequent operation fails the same way
// until the accelerator is reopened.
func (a *Accelerator) CheckAvailable() error {
	switch a.Status() {
	case StatusError:
		return NewDeviceError(Lost, "accelerator is in a terminal error state")
	case StatusUnavailable:
		return NewDeviceError(Unavailable, "accelerator is unavailable")
	default:
		return nil
	}
}

// MarkBusy transitions Available -> Busy on launch submission. A no-op from
// any other state (an accelerator already Busy, Unavailable, or Error stays
// there; callers should have checked CheckAvailable first).
func (a *Accelerator) MarkBusy() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.status == StatusAvailable {
		a.status = StatusBusy
	}
}

// MarkAvailable transitions Busy -> Available on launch completion.
func (a *Accelerator) MarkAvailable() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.status == StatusBusy {
		a.status = StatusAvailable
	}
}

// MarkUnavailable latches Available -> Unavailable on driver loss. Terminal
// until the accelerator is reopened; Error always takes precedence.
func (a *Accelerator) MarkUnavailable() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.status != StatusError {
		a.status = StatusUnavailable
	}
}

// MarkError latches any state -> Error on a hard, unrecoverable failure.
// Terminal: no other transition can move an Accelerator out of Error.
func (a *Accelerator) MarkError() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.status = StatusError
}

// AddRef registers one live reference (a Buffer or Kernel) against this
// accelerator. Paired with ReleaseRef, this is what lets Release enforce
// the invariant that an accelerator cannot be disposed while anything it
// owns is still live.
func (a *Accelerator) AddRef() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.liveRefs++
}

// ReleaseRef unregisters one live reference previously counted by AddRef.
func (a *Accelerator) ReleaseRef() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.liveRefs > 0 {
		a.liveRefs--
	}
}

// LiveRefs reports the number of outstanding Buffer/Kernel references.
func (a *Accelerator) LiveRefs() int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.liveRefs
}

// Release tears down the accelerator's context. Safe to call more than
// once. Fails with a LifetimeViolation DeviceError while any buffer or
// kernel still references this accelerator (testable property 4); dispose
// every such resource first.
func (a *Accelerator) Release() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	if a.liveRefs > 0 {
		return NewDeviceError(LifetimeViolation, fmt.Sprintf("%d live buffer/kernel reference(s) remain", a.liveRefs))
	}
	a.closed = true
	return nil
}

// Closed reports whether Release has been called.
func (a *Accelerator) Closed() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.closed
}
