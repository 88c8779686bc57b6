package scheduler

import "sort"

// Policy selects which assignment strategy Assign uses.
type Policy int

const (
	PerformanceOptimized Policy = iota
	EnergyEfficient
	LoadBalanced
	LatencyOptimized
	RespectHints
)

// Assign computes a device name for every node in g using devices as the
// candidate pool. The returned map is keyed by node ID.
func Assign(g *Graph, devices map[string]DeviceProfile, policy Policy) (map[string]string, error) {
	switch policy {
	case PerformanceOptimized:
		return assignPerformanceOptimized(g, devices)
	case EnergyEfficient:
		return assignEnergyEfficient(g, devices)
	case LoadBalanced:
		return assignLoadBalanced(g, devices)
	case LatencyOptimized:
		return assignLatencyOptimized(g, devices)
	case RespectHints:
		return assignRespectHints(g, devices)
	default:
		return assignPerformanceOptimized(g, devices)
	}
}

// eligibleDevices returns the profiles admitting op, sorted by name for
// deterministic tie-breaking.
func eligibleDevices(devices map[string]DeviceProfile, op OpClass) []DeviceProfile {
	var out []DeviceProfile
	for _, p := range devices {
		if p.Supports(op) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// smallMatmulThreshold separates a tensor-matmul large enough to route to
// the best tensor device from one small enough to stay on a general
// matrix-extension device.
const smallMatmulThreshold = 512

func assignPerformanceOptimized(g *Graph, devices map[string]DeviceProfile) (map[string]string, error) {
	out := make(map[string]string, len(g.Nodes))
	for id, n := range g.Nodes {
		elig := eligibleDevices(devices, n.Op)
		if len(elig) == 0 {
			return nil, newSchedulingError(NoEligibleDevice, id, "no device supports this op class")
		}
		var best DeviceProfile
		bestScore := -1.0
		for _, p := range elig {
			score := performanceScore(n, p)
			if score > bestScore {
				bestScore = score
				best = p
			}
		}
		out[id] = best.Name
	}
	return out, nil
}

func performanceScore(n *Node, p DeviceProfile) float64 {
	switch n.Op {
	case OpTensorMatmul:
		if n.OperandSize > smallMatmulThreshold {
			return p.TensorTier
		}
		return p.MatrixTier
	case OpConvolution:
		return p.MatrixTier
	case OpSmallMatmul:
		return p.MatrixTier
	case OpVector:
		return p.SIMDTier
	case OpMemoryBound:
		return p.MemoryBandwidthGBs
	default:
		return p.PeakGFLOPS
	}
}

func assignEnergyEfficient(g *Graph, devices map[string]DeviceProfile) (map[string]string, error) {
	out := make(map[string]string, len(g.Nodes))
	for id, n := range g.Nodes {
		elig := eligibleDevices(devices, n.Op)
		if len(elig) == 0 {
			if cpu, ok := devices["cpu"]; ok {
				out[id] = cpu.Name
				continue
			}
			return nil, newSchedulingError(NoEligibleDevice, id, "no device supports this op class and no cpu fallback is registered")
		}
		best := elig[0]
		for _, p := range elig[1:] {
			if p.PerfPerWatt > best.PerfPerWatt {
				best = p
			}
		}
		out[id] = best.Name
	}
	return out, nil
}

func assignLatencyOptimized(g *Graph, devices map[string]DeviceProfile) (map[string]string, error) {
	out := make(map[string]string, len(g.Nodes))
	for id, n := range g.Nodes {
		elig := eligibleDevices(devices, n.Op)
		if len(elig) == 0 {
			return nil, newSchedulingError(NoEligibleDevice, id, "no device supports this op class")
		}
		best := elig[0]
		for _, p := range elig[1:] {
			if p.AvgLatencyMicros < best.AvgLatencyMicros {
				best = p
			}
		}
		out[id] = best.Name
	}
	return out, nil
}

func assignRespectHints(g *Graph, devices map[string]DeviceProfile) (map[string]string, error) {
	out := make(map[string]string, len(g.Nodes))
	for id, n := range g.Nodes {
		if n.PreferredDevice == "" {
			return nil, newSchedulingError(NoEligibleDevice, id, "respect-hints policy requires a preferred device")
		}
		if _, ok := devices[n.PreferredDevice]; !ok {
			return nil, newSchedulingError(NoEligibleDevice, id, "preferred device "+n.PreferredDevice+" is not in the device pool")
		}
		out[id] = n.PreferredDevice
	}
	return out, nil
}

// assignLoadBalanced walks the graph in topological order, always assigning
// a node to whichever eligible device currently carries the least estimated
// accumulated time, so a long-running earlier node naturally steers later
// nodes away from it.
func assignLoadBalanced(g *Graph, devices map[string]DeviceProfile) (map[string]string, error) {
	levels, err := g.topoLevels()
	if err != nil {
		return nil, err
	}
	load := make(map[string]float64, len(devices))
	out := make(map[string]string, len(g.Nodes))

	for _, level := range levels {
		for _, id := range level {
			n := g.Nodes[id]
			elig := eligibleDevices(devices, n.Op)
			if len(elig) == 0 {
				if cpu, ok := devices["cpu"]; ok {
					elig = []DeviceProfile{cpu}
				} else {
					return nil, newSchedulingError(NoEligibleDevice, id, "no device supports this op class and no cpu fallback is registered")
				}
			}
			best := elig[0]
			for _, p := range elig[1:] {
				if load[p.Name] < load[best.Name] {
					best = p
				}
			}
			out[id] = best.Name
			load[best.Name] += estimateNodeTime(n, best)
		}
	}
	return out, nil
}

func estimateNodeTime(n *Node, p DeviceProfile) float64 {
	if p.PeakGFLOPS <= 0 {
		return 0
	}
	return n.EstFLOPs / (p.PeakGFLOPS * 1e9)
}
