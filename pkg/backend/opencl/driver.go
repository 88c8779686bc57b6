package opencl

import "github.com/orneryd/hxc/pkg/device"

// Driver is a stub reporting zero devices; see the package comment in
// opencl.go for why no cgo bridge ships here.
type Driver struct{}

func (Driver) Enumerate() ([]device.CapabilityDescriptor, error) { return nil, nil }

func (Driver) CreateContext(deviceIndex int) (device.ContextHandle, error) {
	return 0, device.NewDeviceError(device.NoSuchDevice, "opencl: no OpenCL platform available in this build")
}

func (Driver) Alloc(ctx device.ContextHandle, sizeBytes int) (device.MemHandle, error) {
	return 0, device.NewDeviceError(device.AllocationFailed, "opencl: no OpenCL platform available in this build")
}

func (Driver) Free(ctx device.ContextHandle, mem device.MemHandle) error { return nil }

func (Driver) Copy(ctx device.ContextHandle, dst, src device.MemHandle, sizeBytes int, kind device.CopyKind) error {
	return device.NewDeviceError(device.TransferFailed, "opencl: no OpenCL platform available in this build")
}

func (Driver) LoadModule(ctx device.ContextHandle, artifact []byte) (device.ModuleHandle, error) {
	return 0, device.NewDeviceError(device.ContextCreationFailed, "opencl: no OpenCL platform available in this build")
}

func (Driver) Launch(ctx device.ContextHandle, mod device.ModuleHandle, entry string, grid, group [3]int, smemBytes int, args []device.LaunchArg) (device.Future, error) {
	return nil, device.NewDeviceError(device.ContextCreationFailed, "opencl: no OpenCL platform available in this build")
}
