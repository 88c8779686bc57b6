package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/hxc/pkg/device"
	"github.com/orneryd/hxc/pkg/scheduler"
)

func TestExecuteDispatchesLevelsInOrderWithBarrier(t *testing.T) {
	plan := &scheduler.ExecutionPlan{
		Levels:      [][]string{{"a", "b"}, {"c"}},
		Assignments: map[string]string{"a": "gpu0", "b": "gpu0", "c": "gpu0"},
	}

	var mu sync.Mutex
	var order []string
	dispatch := func(ctx context.Context, nodeID, deviceName string) error {
		mu.Lock()
		order = append(order, nodeID)
		mu.Unlock()
		return nil
	}

	err := Execute(context.Background(), plan, dispatch, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, order[:2])
	assert.Equal(t, "c", order[2])
}

func TestExecuteRunsTransferBandsBeforeLevels(t *testing.T) {
	plan := &scheduler.ExecutionPlan{
		Levels:      [][]string{{"n"}},
		Assignments: map[string]string{"n": "gpu0"},
		Transfers: []scheduler.TransferRecord{
			{Producer: "x", Consumer: "n", Priority: 5},
		},
	}

	var transferred, dispatched int32
	transfer := func(ctx context.Context, r scheduler.TransferRecord) error {
		atomic.StoreInt32(&transferred, 1)
		return nil
	}
	dispatch := func(ctx context.Context, nodeID, deviceName string) error {
		if atomic.LoadInt32(&transferred) == 0 {
			t.Fatal("node dispatched before its transfer ran")
		}
		atomic.StoreInt32(&dispatched, 1)
		return nil
	}

	require.NoError(t, Execute(context.Background(), plan, dispatch, transfer))
	assert.Equal(t, int32(1), dispatched)
}

func TestExecuteLevelErrorLetsSiblingsFinishAndCountsDiscarded(t *testing.T) {
	plan := &scheduler.ExecutionPlan{
		Levels:      [][]string{{"a", "b", "c"}},
		Assignments: map[string]string{"a": "d", "b": "d", "c": "d"},
	}

	var finished int32
	dispatch := func(ctx context.Context, nodeID, deviceName string) error {
		atomic.AddInt32(&finished, 1)
		return errors.New("boom: " + nodeID)
	}

	err := Execute(context.Background(), plan, dispatch, nil)
	require.Error(t, err)
	var lerr *LevelError
	require.True(t, errors.As(err, &lerr))
	assert.Equal(t, int32(3), atomic.LoadInt32(&finished), "every sibling must run to completion")
	assert.Equal(t, 2, lerr.Discarded)
}

func TestExecuteStopsBeforeNextLevelOnCancellation(t *testing.T) {
	plan := &scheduler.ExecutionPlan{
		Levels:      [][]string{{"a"}, {"b"}},
		Assignments: map[string]string{"a": "d", "b": "d"},
	}

	ctx, cancel := context.WithCancel(context.Background())
	var secondLevelRan bool
	dispatch := func(ctx context.Context, nodeID, deviceName string) error {
		if nodeID == "a" {
			cancel()
		}
		if nodeID == "b" {
			secondLevelRan = true
		}
		return nil
	}

	err := Execute(ctx, plan, dispatch, nil)
	require.ErrorIs(t, err, device.Cancelled)
	assert.False(t, secondLevelRan)
}
