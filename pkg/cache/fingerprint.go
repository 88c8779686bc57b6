package cache

import (
	"fmt"

	"github.com/cespare/xxhash/v2"

	"github.com/orneryd/hxc/pkg/device"
	"github.com/orneryd/hxc/pkg/ir"
)

// Fingerprint identifies a compiled artifact: the exact source module, the
// backend it was lowered for, the capability set it was lowered against, and
// the pass pipeline that produced it. Any change to any of these four
// invalidates reuse: a module recompiled for a different compute
// capability, or through a different pipeline configuration, is a different
// cache entry even though the source IR is identical.
type Fingerprint struct {
	ModuleHash uint64
	Backend    device.BackendTag
	CapsHash   uint64
	PipelineID string
}

// NewFingerprint derives a Fingerprint from a module, the backend it will be
// lowered for, and the capability descriptor and pipeline ID that governed
// the lowering.
func NewFingerprint(m *ir.Module, backend device.BackendTag, caps device.CapabilityDescriptor, pipelineID string) Fingerprint {
	return Fingerprint{
		ModuleHash: m.ContentHash(),
		Backend:    backend,
		CapsHash:   hashCaps(caps),
		PipelineID: pipelineID,
	}
}

func hashCaps(caps device.CapabilityDescriptor) uint64 {
	h := xxhash.New()
	fmt.Fprintf(h, "%s|%v|%v|%d|%d|%v|%v|%d",
		caps.ComputeCapability, caps.MaxGridDim, caps.MaxGroupDim, caps.MaxSharedMemBytes,
		caps.MaxSIMDWidth, caps.SupportsTensorCore, caps.TensorPrecisions, caps.PreferredAlignment)
	return h.Sum64()
}

// Key renders the fingerprint as a single comparable string, suitable both
// as a map key and as a filename stem for on-disk persistence.
func (f Fingerprint) Key() string {
	return fmt.Sprintf("%016x.%s.%016x.%s", f.ModuleHash, f.Backend, f.CapsHash, f.PipelineID)
}
