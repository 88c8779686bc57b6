// Package memory implements the buffer, view, and transfer model: typed
// device allocations, non-owning sub-range views, page-locked host mirrors,
// and device-to-device transfers staged through pinned host memory when
// direct peer access is unavailable.
package memory

import (
	"sync"

	"github.com/orneryd/hxc/pkg/device"
	"github.com/orneryd/hxc/pkg/ir"
)

// Layout distinguishes how a Buffer's storage is backed.
type Layout int

const (
	LayoutDense     Layout = iota // plain device-resident allocation
	LayoutPageLocked              // simultaneously addressable from host and device
)

// Buffer is a typed, scoped device allocation. It is a Releasable: once
// Release runs, every View derived from it becomes invalid to dereference.
type Buffer struct {
	mu       sync.RWMutex
	accel    *device.Accelerator
	mem      device.MemHandle
	elemType ir.Type
	count    int
	layout   Layout
	disposed bool

	// pinnedHost holds the host-visible mirror for LayoutPageLocked buffers;
	// nil for LayoutDense buffers.
	pinnedHost []byte
	// externallyOwned marks a buffer created via CreatePageLockFromPinned,
	// whose host storage belongs to the caller and is never freed here.
	externallyOwned bool
}

// Allocate creates a contiguous buffer of count elements of elemType on
// accel, aligned to the device's preferred alignment.
func Allocate(accel *device.Accelerator, elemType ir.Type, count int, layout Layout) (*Buffer, error) {
	if count <= 0 {
		return nil, newMemoryError(InvalidLayout, "count must be positive")
	}
	sizeBytes := alignedSize(accel, elemType, count)
	mem, err := accel.Driver().Alloc(accel.Context(), sizeBytes)
	if err != nil {
		return nil, newMemoryError(OutOfMemory, err.Error())
	}
	b := &Buffer{accel: accel, mem: mem, elemType: elemType, count: count, layout: layout}
	if layout == LayoutPageLocked {
		b.pinnedHost = make([]byte, sizeBytes)
	}
	accel.AddRef()
	return b, nil
}

// CreatePageLockFromPinned wraps externally pinned host storage as a
// page-locked buffer. Ownership of host remains with the caller: host is
// never freed by Release, but any device-side mirror this wrapper created
// is.
func CreatePageLockFromPinned(accel *device.Accelerator, elemType ir.Type, host []byte) (*Buffer, error) {
	if len(host) == 0 {
		return nil, newMemoryError(InvalidLayout, "pinned host slice is empty")
	}
	size := elemType.SizeBytes()
	if size == 0 {
		size = 1
	}
	if len(host)%size != 0 {
		return nil, newMemoryError(AlignmentViolation, "pinned host slice length is not a multiple of the element size")
	}
	mem, err := accel.Driver().Alloc(accel.Context(), len(host))
	if err != nil {
		return nil, newMemoryError(OutOfMemory, err.Error())
	}
	accel.AddRef()
	return &Buffer{
		accel: accel, mem: mem, elemType: elemType, count: len(host) / size,
		layout: LayoutPageLocked, pinnedHost: host, externallyOwned: true,
	}, nil
}

func alignedSize(accel *device.Accelerator, elemType ir.Type, count int) int {
	align := accel.Capabilities().PreferredAlignment
	if align <= 0 {
		align = 1
	}
	raw := elemType.SizeBytes() * count
	if raw%align == 0 {
		return raw
	}
	return raw + (align - raw%align)
}

// Release frees the device allocation. Safe to call more than once.
// CreatePageLockFromPinned buffers never free the caller's host storage.
func (b *Buffer) Release() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.disposed {
		return nil
	}
	b.disposed = true
	b.accel.ReleaseRef()
	if err := b.accel.Driver().Free(b.accel.Context(), b.mem); err != nil {
		return newMemoryError(TransferFailed, err.Error())
	}
	return nil
}

// Disposed reports whether Release has run.
func (b *Buffer) Disposed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.disposed
}

// Count returns the element count the buffer was allocated for.
func (b *Buffer) Count() int { return b.count }

// ElemType returns the element type.
func (b *Buffer) ElemType() ir.Type { return b.elemType }

// Handle exposes the underlying device memory handle for transfer/launch
// plumbing within this package and pkg/engine.
func (b *Buffer) Handle() device.MemHandle { return b.mem }

// Accelerator returns the device this buffer lives on.
func (b *Buffer) Accelerator() *device.Accelerator { return b.accel }

// HostMirror returns the page-locked host-visible byte slice, or nil for a
// LayoutDense buffer.
func (b *Buffer) HostMirror() []byte { return b.pinnedHost }

// View is a non-owning sub-range of a Buffer with its own element offset
// and length. Views borrow the buffer's lifetime; calling any method on a
// View whose backing Buffer has been disposed is a fatal usage error,
// since the underlying device memory may already be reassigned.
type View struct {
	buf    *Buffer
	offset int
	length int
}

// NewView creates a sub-range [offset, offset+length) of buf. offset and
// length are in elements, not bytes.
func NewView(buf *Buffer, offset, length int) (*View, error) {
	if buf.Disposed() {
		panic("memory: NewView on a disposed buffer")
	}
	if offset < 0 || length < 0 || offset+length > buf.count {
		return nil, newMemoryError(ViewOutOfRange, "view range exceeds buffer bounds")
	}
	return &View{buf: buf, offset: offset, length: length}, nil
}

// Buffer returns the underlying buffer this view borrows from.
func (v *View) Buffer() *Buffer { return v.buf }

// Offset and Length report the view's element-space sub-range.
func (v *View) Offset() int { return v.offset }
func (v *View) Length() int { return v.length }

// ByteRange reports the view's byte-space sub-range within the buffer,
// panicking if the backing buffer has since been disposed.
func (v *View) ByteRange() (start, end int) {
	if v.buf.Disposed() {
		panic("memory: ByteRange on a view of a disposed buffer")
	}
	elemSize := v.buf.elemType.SizeBytes()
	return v.offset * elemSize, (v.offset + v.length) * elemSize
}
