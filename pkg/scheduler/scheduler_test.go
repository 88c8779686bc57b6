package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func diamondGraph() *Graph {
	g := NewGraph()
	g.AddNode(&Node{ID: "a", Op: OpGeneral, EstFLOPs: 10, EstMemOps: 5})
	g.AddNode(&Node{ID: "b", Op: OpVector, EstFLOPs: 20, EstMemOps: 5})
	g.AddNode(&Node{ID: "c", Op: OpVector, EstFLOPs: 20, EstMemOps: 5})
	g.AddNode(&Node{ID: "d", Op: OpGeneral, EstFLOPs: 10, EstMemOps: 5})
	g.AddEdge(Edge{Producer: "a", Consumer: "b", Pattern: AccessBroadcast, Bytes: 1024})
	g.AddEdge(Edge{Producer: "a", Consumer: "c", Pattern: AccessSequential, Bytes: 2048})
	g.AddEdge(Edge{Producer: "b", Consumer: "d", Pattern: AccessReduction, Bytes: 512})
	g.AddEdge(Edge{Producer: "c", Consumer: "d", Pattern: AccessReduction, Bytes: 512})
	return g
}

func testDevices() map[string]DeviceProfile {
	return map[string]DeviceProfile{
		"cpu": {Name: "cpu", PeakGFLOPS: 100, MemoryBandwidthGBs: 20, SIMDTier: 50, PerfPerWatt: 2, AvgLatencyMicros: 5,
			SupportedOps: []OpClass{OpGeneral, OpVector, OpMemoryBound, OpSmallMatmul}},
		"gpu0": {Name: "gpu0", PeakGFLOPS: 5000, MemoryBandwidthGBs: 900, TensorTier: 400, MatrixTier: 300, SIMDTier: 800, PerfPerWatt: 10, AvgLatencyMicros: 50,
			SupportedOps: []OpClass{OpGeneral, OpVector, OpTensorMatmul, OpConvolution, OpSmallMatmul, OpMemoryBound}},
	}
}

func TestTopoLevelsOrdersDiamondCorrectly(t *testing.T) {
	g := diamondGraph()
	levels, err := g.topoLevels()
	require.NoError(t, err)
	require.Len(t, levels, 3)
	assert.ElementsMatch(t, []string{"a"}, levels[0])
	assert.ElementsMatch(t, []string{"b", "c"}, levels[1])
	assert.ElementsMatch(t, []string{"d"}, levels[2])
}

func TestTopoLevelsDetectsCycle(t *testing.T) {
	g := NewGraph()
	g.AddNode(&Node{ID: "x"})
	g.AddNode(&Node{ID: "y"})
	g.AddEdge(Edge{Producer: "x", Consumer: "y"})
	g.AddEdge(Edge{Producer: "y", Consumer: "x"})

	_, err := g.topoLevels()
	require.Error(t, err)
	var serr *SchedulingError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, CyclicGraph, serr.Kind)
}

func TestAnalyzeClassifiesWorkload(t *testing.T) {
	g := diamondGraph()
	a, err := Analyze(g)
	require.NoError(t, err)
	assert.InDelta(t, 60.0, a.TotalFLOPs, 0.001)
	assert.InDelta(t, 20.0, a.TotalMemOps, 0.001)
	assert.InDelta(t, 3.0, a.ComputeIntensity, 0.001)
	assert.Equal(t, Mixed, a.Classification)
	assert.InDelta(t, 2.0/4.0, a.Parallelism, 0.001)
}

func TestAssignPerformanceOptimizedPrefersTensorDevice(t *testing.T) {
	g := NewGraph()
	g.AddNode(&Node{ID: "mm", Op: OpTensorMatmul, OperandSize: 1024})
	out, err := Assign(g, testDevices(), PerformanceOptimized)
	require.NoError(t, err)
	assert.Equal(t, "gpu0", out["mm"])
}

func TestAssignEnergyEfficientPicksBestPerfPerWatt(t *testing.T) {
	g := NewGraph()
	g.AddNode(&Node{ID: "v", Op: OpVector})
	out, err := Assign(g, testDevices(), EnergyEfficient)
	require.NoError(t, err)
	assert.Equal(t, "gpu0", out["v"])
}

func TestAssignRespectHintsUsesPreference(t *testing.T) {
	g := NewGraph()
	g.AddNode(&Node{ID: "n", Op: OpGeneral, PreferredDevice: "cpu"})
	out, err := Assign(g, testDevices(), RespectHints)
	require.NoError(t, err)
	assert.Equal(t, "cpu", out["n"])
}

func TestAssignRespectHintsErrorsWithoutPreference(t *testing.T) {
	g := NewGraph()
	g.AddNode(&Node{ID: "n", Op: OpGeneral})
	_, err := Assign(g, testDevices(), RespectHints)
	require.Error(t, err)
}

func TestBuildPlanEmitsTransfersForCrossDeviceEdges(t *testing.T) {
	g := NewGraph()
	g.AddNode(&Node{ID: "a", Op: OpGeneral, PreferredDevice: "cpu"})
	g.AddNode(&Node{ID: "b", Op: OpTensorMatmul, OperandSize: 2048, PreferredDevice: "gpu0"})
	g.AddEdge(Edge{Producer: "a", Consumer: "b", Pattern: AccessBroadcast, Bytes: 4096})

	plan, err := BuildPlan(g, testDevices(), RespectHints)
	require.NoError(t, err)
	require.Len(t, plan.Transfers, 1)
	assert.Equal(t, "cpu", plan.Transfers[0].FromDevice)
	assert.Equal(t, "gpu0", plan.Transfers[0].ToDevice)
}

func TestPriorityBandsGroupsByDescendingPriority(t *testing.T) {
	plan := &ExecutionPlan{Transfers: []TransferRecord{
		{Producer: "a", Consumer: "b", Priority: AccessBroadcast.Priority()},
		{Producer: "c", Consumer: "d", Priority: AccessBroadcast.Priority()},
		{Producer: "e", Consumer: "f", Priority: AccessRandom.Priority()},
	}}
	bands := plan.PriorityBands()
	require.Len(t, bands, 2)
	assert.Len(t, bands[0], 2)
	assert.Len(t, bands[1], 1)
}

func TestDeviceProfileYAMLRoundTrip(t *testing.T) {
	p := DeviceProfile{
		Name: "gpu0", PeakGFLOPS: 5000, MemoryBandwidthGBs: 900,
		TensorTier: 400, MatrixTier: 300, SIMDTier: 800,
		AvgLatencyMicros: 50, PerfPerWatt: 10,
		SupportedOps: []OpClass{OpGeneral, OpTensorMatmul},
	}
	data, err := yaml.Marshal(p)
	require.NoError(t, err)

	var out DeviceProfile
	require.NoError(t, yaml.Unmarshal(data, &out))
	assert.Equal(t, p, out)
}

func TestLoadBalancedSpreadsWorkAcrossDevices(t *testing.T) {
	g := NewGraph()
	for i := 0; i < 4; i++ {
		g.AddNode(&Node{ID: string(rune('a' + i)), Op: OpVector, EstFLOPs: 1000})
	}
	out, err := Assign(g, testDevices(), LoadBalanced)
	require.NoError(t, err)
	assert.Len(t, out, 4)
}

func TestBuildPlanProducesAValidPlan(t *testing.T) {
	g := diamondGraph()
	plan, err := BuildPlan(g, testDevices(), PerformanceOptimized)
	require.NoError(t, err)
	require.NoError(t, plan.Validate())
}

func TestValidateRejectsTransferMismatchedAgainstAssignment(t *testing.T) {
	plan := &ExecutionPlan{
		Levels:      [][]string{{"a"}, {"b"}},
		Assignments: map[string]string{"a": "cpu", "b": "gpu0"},
		Transfers:   []TransferRecord{{Producer: "a", Consumer: "b", FromDevice: "gpu0", ToDevice: "gpu0"}},
	}
	err := plan.Validate()
	require.Error(t, err)
	var serr *SchedulingError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, InconsistentPlan, serr.Kind)
}

func TestValidateRejectsNodeMissingAssignment(t *testing.T) {
	plan := &ExecutionPlan{
		Levels:      [][]string{{"a"}},
		Assignments: map[string]string{},
	}
	err := plan.Validate()
	require.Error(t, err)
	var serr *SchedulingError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, InconsistentPlan, serr.Kind)
}
