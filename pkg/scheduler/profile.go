package scheduler

// DeviceProfile describes one device's performance characteristics for
// assignment purposes. It round-trips through YAML so a host process can
// load a device-profile file rather than hardcoding figures (see
// pkg/device.CapabilityDescriptor for the capability-only counterpart).
type DeviceProfile struct {
	Name               string    `yaml:"name"`
	PeakGFLOPS         float64   `yaml:"peak_gflops"`
	MemoryBandwidthGBs float64   `yaml:"memory_bandwidth_gbs"`
	TensorTier         float64   `yaml:"tensor_tier"`
	MatrixTier         float64   `yaml:"matrix_tier"` // AI/matrix-extension performance
	SIMDTier           float64   `yaml:"simd_tier"`
	AvgLatencyMicros   float64   `yaml:"avg_latency_micros"`
	PerfPerWatt        float64   `yaml:"perf_per_watt"`
	SupportedOps       []OpClass `yaml:"supported_ops"`
}

// Supports reports whether the profile's capability set admits op, which
// is the eligibility test every assignment policy consults before scoring
// a device for a node.
func (p DeviceProfile) Supports(op OpClass) bool {
	for _, o := range p.SupportedOps {
		if o == op {
			return true
		}
	}
	return false
}

// WorkloadClass classifies a graph's dominant resource pressure.
type WorkloadClass int

const (
	ComputeBound WorkloadClass = iota
	MemoryBound
	Mixed
)

func (w WorkloadClass) String() string {
	switch w {
	case ComputeBound:
		return "compute-bound"
	case MemoryBound:
		return "memory-bound"
	default:
		return "mixed"
	}
}

// WorkloadAnalysis summarizes a graph's aggregate shape.
type WorkloadAnalysis struct {
	TotalFLOPs       float64
	TotalMemOps      float64
	ComputeIntensity float64 // TotalFLOPs / TotalMemOps
	Classification   WorkloadClass
	Parallelism      float64 // max simultaneously-ready nodes / total nodes
}

// computeIntensityThresholds separate compute-bound from memory-bound from
// mixed workloads; a workload at or above the high threshold is
// compute-bound, one at or below the low threshold is memory-bound,
// everything between is mixed.
const (
	highIntensityThreshold = 10.0
	lowIntensityThreshold  = 1.0
)

// Analyze computes a WorkloadAnalysis over g. It requires g to be acyclic
// (to compute its level structure for the parallelism figure) and returns
// CyclicGraph otherwise.
func Analyze(g *Graph) (WorkloadAnalysis, error) {
	levels, err := g.topoLevels()
	if err != nil {
		return WorkloadAnalysis{}, err
	}

	var a WorkloadAnalysis
	for _, n := range g.Nodes {
		a.TotalFLOPs += n.EstFLOPs
		a.TotalMemOps += n.EstMemOps
	}
	if a.TotalMemOps > 0 {
		a.ComputeIntensity = a.TotalFLOPs / a.TotalMemOps
	}

	switch {
	case a.ComputeIntensity >= highIntensityThreshold:
		a.Classification = ComputeBound
	case a.ComputeIntensity <= lowIntensityThreshold:
		a.Classification = MemoryBound
	default:
		a.Classification = Mixed
	}

	maxLevel := 0
	for _, level := range levels {
		if len(level) > maxLevel {
			maxLevel = len(level)
		}
	}
	if len(g.Nodes) > 0 {
		a.Parallelism = float64(maxLevel) / float64(len(g.Nodes))
	}
	return a, nil
}
