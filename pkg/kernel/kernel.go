// Package kernel implements spec's Kernel: a compiled artifact bound to one
// accelerator plus an entry point, carrying a weak reference to the
// backing cache entry (via Fingerprint lookup, pinned for the kernel's own
// lifetime with KernelCache.Acquire/Release) and a strong lifetime tie to
// its Accelerator (device.Accelerator.AddRef/ReleaseRef). It implements the
// state machine from spec §4.7: compiled -> loaded -> (launched <-> idle)*
// -> released.
package kernel

import (
	"sync"

	"github.com/google/uuid"

	"github.com/orneryd/hxc/pkg/cache"
	"github.com/orneryd/hxc/pkg/device"
)

// State is one point in a Kernel's lifecycle.
type State int

const (
	StateCompiled State = iota
	StateLoaded
	StateLaunched
	StateIdle
	StateReleased
)

func (s State) String() string {
	switch s {
	case StateCompiled:
		return "compiled"
	case StateLoaded:
		return "loaded"
	case StateLaunched:
		return "launched"
	case StateIdle:
		return "idle"
	case StateReleased:
		return "released"
	default:
		return "unknown"
	}
}

// ArtifactBytes renders a cached Artifact into the byte blob a Driver's
// LoadModule expects. Backends that cache their own native Go form (e.g.
// pkg/backend/cpu's function table) supply a no-op-ish encoding; backends
// that cache text/bytes (PTX, OpenCL) pass those through directly.
type ArtifactBytes func(cache.Artifact) []byte

// Kernel is a compiled artifact loaded onto one Accelerator under one entry
// point name, ready to Launch.
type Kernel struct {
	mu          sync.Mutex
	id          uuid.UUID
	accel       *device.Accelerator
	cache       *cache.KernelCache
	fp          cache.Fingerprint
	entry       string
	mod         device.ModuleHandle
	state       State
	outstanding int
}

// Load gets-or-compiles the artifact for fp from c, pins it for this
// Kernel's lifetime, and loads it onto accel's driver under entryName,
// transitioning Compiled -> Loaded. The Accelerator is held alive
// (AddRef'd) until Release runs.
func Load(accel *device.Accelerator, c *cache.KernelCache, fp cache.Fingerprint, entryName string, toBytes ArtifactBytes, decode func([]byte) (cache.Artifact, error), compile cache.CompileFunc) (*Kernel, error) {
	if err := accel.CheckAvailable(); err != nil {
		return nil, err
	}

	art, err := c.GetOrCompile(fp, decode, compile)
	if err != nil {
		return nil, err
	}
	c.Acquire(fp.Key())

	modHandle, err := accel.Driver().LoadModule(accel.Context(), toBytes(art))
	if err != nil {
		c.Release(fp.Key())
		return nil, device.NewDeviceError(device.ContextCreationFailed, err.Error())
	}

	accel.AddRef()
	return &Kernel{
		id: uuid.New(), accel: accel, cache: c, fp: fp, entry: entryName,
		mod: modHandle, state: StateLoaded,
	}, nil
}

// ID is this kernel's identity, independent of its cache fingerprint, so
// callers can track a specific load distinct from others sharing the same
// compiled artifact.
func (k *Kernel) ID() uuid.UUID { return k.id }

// State reports the kernel's current lifecycle state.
func (k *Kernel) State() State {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.state
}

// Accelerator returns the device this kernel is loaded on.
func (k *Kernel) Accelerator() *device.Accelerator { return k.accel }

// Fingerprint returns the cache key this kernel's artifact was compiled
// under.
func (k *Kernel) Fingerprint() cache.Fingerprint { return k.fp }

// Launch dispatches one invocation: checks launch bounds against the
// accelerator's capability descriptor (spec §4.2: a LaunchBoundsError
// never reaches the driver), then submits through the backend's Driver.
// Launch is non-blocking with respect to device completion when the driver
// returns a Future; the kernel reports Launched while at least one
// submission is outstanding and returns to Idle only once every
// outstanding Future has completed.
func (k *Kernel) Launch(grid, group [3]int, smemBytes int, args []device.LaunchArg) (device.Future, error) {
	k.mu.Lock()
	switch k.state {
	case StateReleased:
		k.mu.Unlock()
		return nil, device.NewLaunchError(device.KernelNotLoaded, "kernel has been released")
	case StateCompiled:
		k.mu.Unlock()
		return nil, device.NewLaunchError(device.KernelNotLoaded, "kernel has not been loaded onto a device")
	}
	if err := k.accel.CheckAvailable(); err != nil {
		k.mu.Unlock()
		return nil, err
	}
	if err := device.CheckLaunchBounds(k.accel.Capabilities(), grid, group, smemBytes); err != nil {
		k.mu.Unlock()
		return nil, err
	}
	k.state = StateLaunched
	k.outstanding++
	k.mu.Unlock()

	k.accel.MarkBusy()
	future, err := k.accel.Driver().Launch(k.accel.Context(), k.mod, k.entry, grid, group, smemBytes, args)
	if err != nil {
		k.settleOne()
		return nil, device.NewLaunchError(device.LaunchRejectedByDriver, err.Error())
	}
	if future == nil {
		k.settleOne()
		return nil, nil
	}

	go func() {
		future.Wait()
		k.settleOne()
	}()
	return future, nil
}

// settleOne records the completion of one outstanding submission,
// returning the kernel to Idle once none remain, and reflects the
// completion on the accelerator's busy/available status.
func (k *Kernel) settleOne() {
	k.mu.Lock()
	if k.outstanding > 0 {
		k.outstanding--
	}
	if k.outstanding == 0 && k.state == StateLaunched {
		k.state = StateIdle
	}
	k.mu.Unlock()
	k.accel.MarkAvailable()
}

// Release requires no outstanding launches (spec §4.7). On success it
// unpins the cache entry and drops this kernel's hold on the accelerator.
// Safe to call more than once.
func (k *Kernel) Release() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.state == StateReleased {
		return nil
	}
	if k.outstanding > 0 {
		return device.NewLaunchError(device.LaunchRejectedByDriver, "cannot release a kernel with launches in flight")
	}
	k.state = StateReleased
	k.cache.Release(k.fp.Key())
	k.accel.ReleaseRef()
	return nil
}
