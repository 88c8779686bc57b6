package scheduler

import "sort"

// TransferRecord is one planned cross-device copy, emitted for any Edge
// whose producer and consumer landed on different devices.
type TransferRecord struct {
	Producer     string
	Consumer     string
	FromDevice   string
	ToDevice     string
	Bytes        int
	Pattern      AccessPattern
	Priority     int // AccessPattern.Priority(); higher issues first
	EstimateSecs float64
}

// ExecutionPlan is the scheduler's output: a level schedule respecting the
// graph's partial order, the device each node was assigned to, and the
// prioritized transfer plan for cross-device edges.
type ExecutionPlan struct {
	Levels      [][]string
	Assignments map[string]string
	Transfers   []TransferRecord
}

// BuildPlan assigns every node in g to a device under policy, computes the
// level schedule, and derives the transfer plan for cross-device edges.
func BuildPlan(g *Graph, devices map[string]DeviceProfile, policy Policy) (*ExecutionPlan, error) {
	levels, err := g.topoLevels()
	if err != nil {
		return nil, err
	}
	assignments, err := Assign(g, devices, policy)
	if err != nil {
		return nil, err
	}

	var transfers []TransferRecord
	for _, e := range g.Edges {
		from, to := assignments[e.Producer], assignments[e.Consumer]
		if from == "" || to == "" || from == to {
			continue
		}
		transfers = append(transfers, TransferRecord{
			Producer: e.Producer, Consumer: e.Consumer,
			FromDevice: from, ToDevice: to,
			Bytes: e.Bytes, Pattern: e.Pattern, Priority: e.Pattern.Priority(),
			EstimateSecs: estimateTransferTime(e.Bytes, devices[from]),
		})
	}
	sort.SliceStable(transfers, func(i, j int) bool { return transfers[i].Priority > transfers[j].Priority })

	return &ExecutionPlan{Levels: levels, Assignments: assignments, Transfers: transfers}, nil
}

// Validate checks the plan's internal consistency: every assigned node must
// appear in exactly one level, and every transfer's endpoints must match the
// device each side was actually assigned to. BuildPlan always returns a
// valid plan; Validate exists for plans reconstructed from a serialized form
// (e.g. replayed from a log) where that guarantee no longer holds.
func (p *ExecutionPlan) Validate() error {
	leveled := make(map[string]bool, len(p.Assignments))
	for _, level := range p.Levels {
		for _, id := range level {
			if leveled[id] {
				return &SchedulingError{Kind: InconsistentPlan, NodeID: id, Detail: "node appears in more than one level"}
			}
			leveled[id] = true
			if _, ok := p.Assignments[id]; !ok {
				return &SchedulingError{Kind: InconsistentPlan, NodeID: id, Detail: "leveled node has no device assignment"}
			}
		}
	}
	for id := range p.Assignments {
		if !leveled[id] {
			return &SchedulingError{Kind: InconsistentPlan, NodeID: id, Detail: "assigned node appears in no level"}
		}
	}
	for _, t := range p.Transfers {
		if p.Assignments[t.Producer] != t.FromDevice {
			return &SchedulingError{Kind: InconsistentPlan, NodeID: t.Producer, Detail: "transfer FromDevice does not match producer's assignment"}
		}
		if p.Assignments[t.Consumer] != t.ToDevice {
			return &SchedulingError{Kind: InconsistentPlan, NodeID: t.Consumer, Detail: "transfer ToDevice does not match consumer's assignment"}
		}
	}
	return nil
}

func estimateTransferTime(bytes int, from DeviceProfile) float64 {
	if from.MemoryBandwidthGBs <= 0 {
		return 0
	}
	return float64(bytes) / (from.MemoryBandwidthGBs * 1e9)
}

// PriorityBands groups the plan's transfers into contiguous runs sharing
// the same priority, highest first. Transfers within one band may overlap;
// the engine issues bands in order and waits for each to drain before the
// next.
func (p *ExecutionPlan) PriorityBands() [][]TransferRecord {
	var bands [][]TransferRecord
	var current []TransferRecord
	for i, t := range p.Transfers {
		if i > 0 && t.Priority != p.Transfers[i-1].Priority {
			bands = append(bands, current)
			current = nil
		}
		current = append(current, t)
	}
	if len(current) > 0 {
		bands = append(bands, current)
	}
	return bands
}
