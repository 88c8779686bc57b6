package ptx

import "github.com/orneryd/hxc/pkg/device"

// Driver is a stub: it reports zero devices so that pkg/device.Open always
// fails for device.BackendPTX on a build without a CUDA toolchain present,
// mirroring the cuda_stub pattern of reporting unavailability rather than
// faking execution. EmitModule in ptx.go is fully functional independent of
// this driver and is what the kernel cache and transform pipeline exercise.
type Driver struct{}

func (Driver) Enumerate() ([]device.CapabilityDescriptor, error) {
	return nil, nil
}

func (Driver) CreateContext(deviceIndex int) (device.ContextHandle, error) {
	return 0, device.NewDeviceError(device.NoSuchDevice, "ptx: no CUDA device available in this build")
}

func (Driver) Alloc(ctx device.ContextHandle, sizeBytes int) (device.MemHandle, error) {
	return 0, device.NewDeviceError(device.AllocationFailed, "ptx: no CUDA device available in this build")
}

func (Driver) Free(ctx device.ContextHandle, mem device.MemHandle) error { return nil }

func (Driver) Copy(ctx device.ContextHandle, dst, src device.MemHandle, sizeBytes int, kind device.CopyKind) error {
	return device.NewDeviceError(device.TransferFailed, "ptx: no CUDA device available in this build")
}

func (Driver) LoadModule(ctx device.ContextHandle, artifact []byte) (device.ModuleHandle, error) {
	return 0, device.NewDeviceError(device.ContextCreationFailed, "ptx: no CUDA device available in this build")
}

func (Driver) Launch(ctx device.ContextHandle, mod device.ModuleHandle, entry string, grid, group [3]int, smemBytes int, args []device.LaunchArg) (device.Future, error) {
	return nil, device.NewDeviceError(device.ContextCreationFailed, "ptx: no CUDA device available in this build")
}
