// Package engine implements the execution engine of spec §4.6: given a
// scheduler.ExecutionPlan, it first issues every memory transfer grouped by
// descending priority (waiting for each band to drain before the next
// starts), then dispatches every compute-graph node level by level,
// awaiting each level's completion before moving to the next. It uses
// golang.org/x/sync/errgroup for both the per-band transfer fan-out and the
// per-level node fan-out, since both need the same shape: run N operations
// concurrently, keep the first error, and, for node dispatch, let siblings
// already running finish rather than aborting them.
package engine

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/orneryd/hxc/pkg/device"
	"github.com/orneryd/hxc/pkg/scheduler"
)

// NodeDispatcher executes one compute-graph node on the device it was
// assigned to, returning once that node's work has been submitted (and, for
// a synchronous backend, completed).
type NodeDispatcher func(ctx context.Context, nodeID, deviceName string) error

// TransferFunc performs one planned cross-device copy.
type TransferFunc func(ctx context.Context, t scheduler.TransferRecord) error

// LevelError reports an error from within one execution level: the first
// error encountered, plus a count of how many further node errors in the
// same level were discarded rather than reported (spec §7 propagation
// policy: siblings already dispatched are allowed to finish, and only the
// first failure surfaces).
type LevelError struct {
	Level     int
	Err       error
	Discarded int
}

func (e *LevelError) Error() string {
	return e.Err.Error()
}

func (e *LevelError) Unwrap() error { return e.Err }

// Execute runs plan to completion against dispatch and transfer. Cancelling
// ctx is observed only between transfer bands and between execution
// levels: cooperative cancellation per spec §5, submitted work always
// finishes, but nothing new is enqueued once cancellation is observed. On
// cancellation, Execute returns device.Cancelled after letting the current
// band/level finish.
func Execute(ctx context.Context, plan *scheduler.ExecutionPlan, dispatch NodeDispatcher, transfer TransferFunc) error {
	for _, band := range plan.PriorityBands() {
		if err := runBand(ctx, band, transfer); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return device.Cancelled
		}
	}

	for i, level := range plan.Levels {
		if ctx.Err() != nil {
			return device.Cancelled
		}
		if err := runLevel(ctx, i, level, plan.Assignments, dispatch); err != nil {
			return err
		}
	}
	return nil
}

func runBand(ctx context.Context, band []scheduler.TransferRecord, transfer TransferFunc) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, t := range band {
		t := t
		g.Go(func() error { return transfer(gctx, t) })
	}
	return g.Wait()
}

// runLevel dispatches every node in level concurrently on a plain
// errgroup.Group, so sibling dispatches are never cancelled on a peer's
// failure: each dispatcher receives the caller's ctx unchanged, only to
// observe cancellation itself. This function always waits
// for every goroutine to return before surfacing an error, counting how
// many returned one beyond the first.
func runLevel(ctx context.Context, levelIdx int, level []string, assignments map[string]string, dispatch NodeDispatcher) error {
	var g errgroup.Group
	errCount := make(chan struct{}, len(level))

	for _, nodeID := range level {
		nodeID := nodeID
		deviceName := assignments[nodeID]
		g.Go(func() error {
			if err := dispatch(ctx, nodeID, deviceName); err != nil {
				errCount <- struct{}{}
				return err
			}
			return nil
		})
	}

	err := g.Wait()
	close(errCount)
	if err == nil {
		return nil
	}

	discarded := 0
	for range errCount {
		discarded++
	}
	return &LevelError{Level: levelIdx, Err: err, Discarded: discarded - 1}
}
