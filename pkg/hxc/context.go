// Package hxc is the runtime-to-caller boundary: a Context owns every
// Accelerator it opens plus the process-wide kernel cache, and is
// configured once at construction from a Config struct whose defaults can
// be overridden by environment variables. Nothing in this package probes
// hardware directly; it only wires together pkg/device, pkg/cache, and
// pkg/scheduler the way a caller otherwise would by hand.
package hxc

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/orneryd/hxc/pkg/cache"
	"github.com/orneryd/hxc/pkg/device"
	"github.com/orneryd/hxc/pkg/scheduler"
	"github.com/orneryd/hxc/pkg/telemetry"
)

// Environment variables LoadConfigFromEnv recognizes. Unrecognized
// variables are ignored; recognized ones with an invalid value fall back
// to the corresponding DefaultConfig() value rather than failing startup.
const (
	EnvDiskCachePath    = "HXC_CACHE_DIR"
	EnvCacheByteBudget  = "HXC_CACHE_BYTES"
	EnvSchedulingPolicy = "HXC_SCHED_POLICY"
	EnvEnableCPU        = "HXC_ENABLE_CPU"
	EnvEnableCUDA       = "HXC_ENABLE_CUDA"
	EnvEnableOpenCL     = "HXC_ENABLE_OPENCL"
)

// Config controls one Context's behavior. Every field has a zero-config
// default via DefaultConfig; LoadConfigFromEnv starts from that default and
// applies whichever of the Env* variables above are set.
type Config struct {
	// DiskCachePath, if non-empty, backs the kernel cache with a
	// FileDiskStore rooted there, which the cache reads on a miss; the
	// cache writes nothing to it. Empty means no disk store.
	DiskCachePath string
	// CacheByteBudget bounds the in-memory kernel cache's resident size.
	CacheByteBudget int
	// DefaultPolicy is the scheduling.Policy BuildPlan uses when a caller
	// does not name one explicitly.
	DefaultPolicy scheduler.Policy
	// BackendEnabled gates which backends Open will accept; a disabled
	// backend's accelerators cannot be opened through this Context even if
	// a driver is registered for it. Defaults to every backend enabled.
	BackendEnabled map[device.BackendTag]bool
	// Logger receives this Context's own diagnostic output (backend
	// disablement); cache disk-store errors are not logged. Defaults to telemetry.Discard()
	// so a caller that does not configure one pays no logging cost.
	Logger *telemetry.Logger
}

// DefaultConfig returns the zero-environment configuration: a 256MiB
// memory-only kernel cache, the performance-optimized scheduling policy,
// every backend enabled, and a discarding logger.
func DefaultConfig() Config {
	return Config{
		CacheByteBudget: 256 << 20,
		DefaultPolicy:   scheduler.PerformanceOptimized,
		BackendEnabled: map[device.BackendTag]bool{
			device.BackendCPU:    true,
			device.BackendPTX:    true,
			device.BackendOpenCL: true,
		},
		Logger: telemetry.Discard(),
	}
}

// LoadConfigFromEnv starts from DefaultConfig and applies any recognized
// environment variable override.
func LoadConfigFromEnv() Config {
	cfg := DefaultConfig()

	if v := os.Getenv(EnvDiskCachePath); v != "" {
		cfg.DiskCachePath = v
	}
	if v := os.Getenv(EnvCacheByteBudget); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.CacheByteBudget = n
		}
	}
	if v := os.Getenv(EnvSchedulingPolicy); v != "" {
		if p, ok := parsePolicy(v); ok {
			cfg.DefaultPolicy = p
		}
	}

	cfg.BackendEnabled[device.BackendCPU] = boolEnvOr(EnvEnableCPU, cfg.BackendEnabled[device.BackendCPU])
	cfg.BackendEnabled[device.BackendPTX] = boolEnvOr(EnvEnableCUDA, cfg.BackendEnabled[device.BackendPTX])
	cfg.BackendEnabled[device.BackendOpenCL] = boolEnvOr(EnvEnableOpenCL, cfg.BackendEnabled[device.BackendOpenCL])

	return cfg
}

func boolEnvOr(name string, def bool) bool {
	v, ok := os.LookupEnv(name)
	if !ok {
		return def
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "0", "false", "off", "no":
		return false
	case "1", "true", "on", "yes":
		return true
	default:
		return def
	}
}

func parsePolicy(v string) (scheduler.Policy, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "performance", "performance-optimized":
		return scheduler.PerformanceOptimized, true
	case "energy", "energy-efficient":
		return scheduler.EnergyEfficient, true
	case "load-balanced", "load-balance":
		return scheduler.LoadBalanced, true
	case "latency", "latency-optimized":
		return scheduler.LatencyOptimized, true
	case "respect-hints":
		return scheduler.RespectHints, true
	default:
		return 0, false
	}
}

// WithBackendEnabled returns a copy of cfg with only tag's enablement
// flipped, leaving every other backend's setting untouched. Intended for
// tests that need to exercise the UnsupportedBackend path without an env
// var round-trip.
func WithBackendEnabled(cfg Config, tag device.BackendTag, enabled bool) Config {
	out := cfg
	out.BackendEnabled = make(map[device.BackendTag]bool, len(cfg.BackendEnabled))
	for k, v := range cfg.BackendEnabled {
		out.BackendEnabled[k] = v
	}
	out.BackendEnabled[tag] = enabled
	return out
}

// Context is the runtime's top-level handle. It owns every Accelerator
// opened through it (Destroy tears them all down) and the kernel cache
// they share.
type Context struct {
	cfg   Config
	cache *cache.KernelCache
	scope *device.Scope
	log   *telemetry.Logger

	mu     sync.Mutex
	accels []*device.Accelerator
}

// NewContext builds a Context from cfg. A non-empty cfg.DiskCachePath wires
// a FileDiskStore backing the kernel cache; an empty one leaves the cache
// memory-only.
func NewContext(cfg Config) *Context {
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.Discard()
	}

	var disk cache.DiskStore
	if cfg.DiskCachePath != "" {
		disk = cache.NewFileDiskStore(cfg.DiskCachePath)
	}

	return &Context{
		cfg:   cfg,
		cache: cache.NewKernelCache(cfg.CacheByteBudget, disk),
		scope: device.NewScope(),
		log:   logger,
	}
}

// Cache exposes the kernel cache shared by every accelerator this Context
// opened.
func (c *Context) Cache() *cache.KernelCache { return c.cache }

// Policy reports the configured default scheduling policy.
func (c *Context) Policy() scheduler.Policy { return c.cfg.DefaultPolicy }

// BackendEnabled reports whether tag may be opened through this Context.
// A tag absent from the configuration map is treated as enabled, matching
// DefaultConfig's all-enabled default.
func (c *Context) BackendEnabled(tag device.BackendTag) bool {
	enabled, explicit := c.cfg.BackendEnabled[tag]
	return !explicit || enabled
}

// Open opens deviceIndex on backend tag and registers the accelerator with
// this Context, so Destroy releases it if the caller does not release it
// itself first. Returns an UnsupportedBackend DeviceError if tag is
// disabled by configuration, without ever calling into pkg/device.
func (c *Context) Open(tag device.BackendTag, deviceIndex int) (*device.Accelerator, error) {
	if !c.BackendEnabled(tag) {
		c.log.Warnf("hxc: refusing to open backend %s: disabled by configuration", tag)
		return nil, device.NewDeviceError(device.UnsupportedBackend, fmt.Sprintf("backend %s is disabled by configuration", tag))
	}

	accel, err := device.Open(tag, deviceIndex)
	if err != nil {
		return nil, err
	}
	if err := c.scope.Track(accel); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.accels = append(c.accels, accel)
	c.mu.Unlock()
	return accel, nil
}

// Accelerators reports every accelerator this Context has opened and not
// yet had independently released.
func (c *Context) Accelerators() []*device.Accelerator {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*device.Accelerator, 0, len(c.accels))
	for _, a := range c.accels {
		if !a.Closed() {
			out = append(out, a)
		}
	}
	return out
}

// knownBackends is the fixed set of BackendTags a Context will ever try to
// enumerate; a backend with no driver registered for this build contributes
// nothing rather than failing enumeration as a whole.
var knownBackends = []device.BackendTag{device.BackendCPU, device.BackendPTX, device.BackendOpenCL}

// Enumerate reports every available accelerator across every enabled
// backend with a registered driver. It never opens a context for any of
// them.
func (c *Context) Enumerate() (map[device.BackendTag][]device.CapabilityDescriptor, error) {
	out := make(map[device.BackendTag][]device.CapabilityDescriptor)
	for _, tag := range knownBackends {
		if !c.BackendEnabled(tag) {
			continue
		}
		caps, err := device.EnumerateBackend(tag)
		if err != nil {
			var derr *device.DeviceError
			if errors.As(err, &derr) && derr.Kind == device.UnsupportedBackend {
				continue // no driver registered for this build; not an error
			}
			return nil, err
		}
		out[tag] = caps
	}
	return out, nil
}

// Destroy releases every accelerator this Context opened, innermost
// resources first. Safe to call more than once.
func (c *Context) Destroy() error {
	return c.scope.Close()
}

// defaultContext is constructed lazily by Default, never at package init,
// so importing this package never opens a device or allocates a cache
// before a caller asks for one.
var (
	defaultOnce sync.Once
	defaultCtx  *Context
)

// Default returns a process-wide Context built from LoadConfigFromEnv,
// created on first use. Provided for callers that want a single shared
// cache without threading a *Context through their own call graph; nothing
// in this package uses it implicitly, and most callers should prefer
// constructing their own Context with NewContext.
func Default() *Context {
	defaultOnce.Do(func() {
		defaultCtx = NewContext(LoadConfigFromEnv())
	})
	return defaultCtx
}
