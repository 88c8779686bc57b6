package device

// CheckLaunchBounds verifies a requested 3-D grid and group size are
// component-wise within the device's inclusive maxima and that the
// requested dynamic shared memory fits, before any Driver.Launch call is
// made. kernel.Kernel.Launch calls this before handing a launch to the
// backend's Driver.
func CheckLaunchBounds(caps CapabilityDescriptor, grid, group [3]int, dynamicSharedBytes int) error {
	for i := 0; i < 3; i++ {
		if grid[i] <= 0 || grid[i] > caps.MaxGridDim[i] {
			return &LaunchError{
				Kind: LaunchBoundsExceeded, Requested: grid, Limit: caps.MaxGridDim,
				Detail: "grid dimension out of range",
			}
		}
		if group[i] <= 0 || group[i] > caps.MaxGroupDim[i] {
			return &LaunchError{
				Kind: LaunchBoundsExceeded, Requested: group, Limit: caps.MaxGroupDim,
				Detail: "group dimension out of range",
			}
		}
	}
	if dynamicSharedBytes > caps.MaxSharedMemBytes {
		return &LaunchError{
			Kind:      SharedMemoryExceeded,
			Requested: [3]int{dynamicSharedBytes, 0, 0},
			Limit:     [3]int{caps.MaxSharedMemBytes, 0, 0},
			Detail:    "dynamic shared memory request exceeds device limit",
		}
	}
	return nil
}
