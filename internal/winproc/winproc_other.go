//go:build !windows

package winproc

// Suspend is unsupported off Windows.
func Suspend(pid uint32) error { return ErrUnsupportedPlatform }

// Resume is unsupported off Windows.
func Resume(pid uint32) error { return ErrUnsupportedPlatform }

// Kill is unsupported off Windows.
func Kill(pid uint32) error { return ErrUnsupportedPlatform }

// ParentPID always reports failure off Windows.
func ParentPID(pid uint32) uint32 { return InvalidPID }

// ImageName is unsupported off Windows.
func ImageName(pid uint32) (string, error) { return "", ErrUnsupportedPlatform }

// IsExecutableAllocation is unsupported off Windows.
func IsExecutableAllocation(pid uint32, baseAddress uintptr) (bool, error) {
	return false, ErrUnsupportedPlatform
}
