package memory

import (
	"github.com/orneryd/hxc/pkg/device"
	"github.com/orneryd/hxc/pkg/ir"
)

// Transfer copies sizeBytes from src to dst, both possibly on different
// accelerators. Submitted through stream, the copy obeys that stream's
// FIFO ordering. When src and dst are on different devices with no direct
// peer path (this package never probes for one: every cross-device copy
// here goes through a host-pinned staging buffer), the fact is observable
// only in timing, never correctness.
func Transfer(stream *device.Stream, dst, src *Buffer, sizeBytes int) error {
	if src.Disposed() || dst.Disposed() {
		return newMemoryError(DisposedBuffer, "transfer source or destination already released")
	}

	sameDevice := src.Accelerator() == dst.Accelerator()
	done := make(chan error, 1)
	stream.Submit(func() error {
		var err error
		if sameDevice {
			if copyErr := dst.Accelerator().Driver().Copy(dst.Accelerator().Context(), dst.mem, src.mem, sizeBytes, device.CopyDeviceToDevice); copyErr != nil {
				err = device.NewDeviceError(device.DriverFailure, copyErr.Error())
			}
		} else {
			err = transferViaStaging(dst, src, sizeBytes)
		}
		done <- err
		return err
	})
	if err := stream.Drain(); err != nil {
		return newMemoryError(TransferFailed, err.Error())
	}
	return <-done
}

// transferViaStaging copies src to a host-pinned staging buffer sized to
// sizeBytes, then from staging to dst. This is always correct, regardless of
// whether the two devices actually share a peer path, but pays two hops
// instead of one.
func transferViaStaging(dst, src *Buffer, sizeBytes int) error {
	staging, err := Allocate(src.Accelerator(), src.elemType, sizeBytes/elemSizeOrOne(src.elemType), LayoutPageLocked)
	if err != nil {
		return err
	}
	defer staging.Release()

	if err := src.Accelerator().Driver().Copy(src.Accelerator().Context(), staging.mem, src.mem, sizeBytes, device.CopyDeviceToHost); err != nil {
		return device.NewDeviceError(device.DriverFailure, err.Error())
	}
	if err := dst.Accelerator().Driver().Copy(dst.Accelerator().Context(), dst.mem, staging.mem, sizeBytes, device.CopyHostToDevice); err != nil {
		return device.NewDeviceError(device.DriverFailure, err.Error())
	}
	return nil
}

func elemSizeOrOne(ty ir.Type) int {
	if s := ty.SizeBytes(); s > 0 {
		return s
	}
	return 1
}
