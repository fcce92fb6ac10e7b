//go:build windows

package winproc

import (
	"fmt"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	ntdll                        = syscall.NewLazyDLL("ntdll.dll")
	psapiDLL                     = syscall.NewLazyDLL("psapi.dll")
	procNtSuspendProcess         = ntdll.NewProc("NtSuspendProcess")
	procNtResumeProcess          = ntdll.NewProc("NtResumeProcess")
	procNtQueryInformationProc   = ntdll.NewProc("NtQueryInformationProcess")
	procEnumProcessModules       = psapiDLL.NewProc("EnumProcessModules")
	procGetModuleBaseNameW       = psapiDLL.NewProc("GetModuleBaseNameW")
)

// processBasicInformation mirrors the fixed-size prefix of
// PROCESS_BASIC_INFORMATION that NtQueryInformationProcess fills in; only
// InheritedFromUniqueProcessId is consumed, matching GetParentProcessID in
// suspend.cpp.
type processBasicInformation struct {
	ExitStatus                   uintptr
	PebBaseAddress                uintptr
	AffinityMask                  uintptr
	BasePriority                  uintptr
	UniqueProcessId               uintptr
	InheritedFromUniqueProcessId  uintptr
}

const processQueryInformation = 0x0400
const processBasicInformationClass = 0

// Suspend calls NtSuspendProcess on pid, exactly as suspend_process does.
func Suspend(pid uint32) error {
	h, err := windows.OpenProcess(windows.PROCESS_ALL_ACCESS, false, pid)
	if err != nil {
		return fmt.Errorf("winproc: OpenProcess(%d): %w", pid, err)
	}
	defer windows.CloseHandle(h)

	r, _, _ := procNtSuspendProcess.Call(uintptr(h))
	if r != 0 {
		return fmt.Errorf("winproc: NtSuspendProcess(%d) failed: status=0x%x", pid, r)
	}
	return nil
}

// Resume calls NtResumeProcess on pid.
func Resume(pid uint32) error {
	h, err := windows.OpenProcess(windows.PROCESS_ALL_ACCESS, false, pid)
	if err != nil {
		return fmt.Errorf("winproc: OpenProcess(%d): %w", pid, err)
	}
	defer windows.CloseHandle(h)

	r, _, _ := procNtResumeProcess.Call(uintptr(h))
	if r != 0 {
		return fmt.Errorf("winproc: NtResumeProcess(%d) failed: status=0x%x", pid, r)
	}
	return nil
}

// Kill terminates pid with exit code 0, mirroring kill_suspicious.
func Kill(pid uint32) error {
	h, err := windows.OpenProcess(windows.PROCESS_TERMINATE, false, pid)
	if err != nil {
		return fmt.Errorf("winproc: OpenProcess(%d): %w", pid, err)
	}
	defer windows.CloseHandle(h)

	if err := windows.TerminateProcess(h, 0); err != nil {
		return fmt.Errorf("winproc: TerminateProcess(%d): %w", pid, err)
	}
	return nil
}

// ParentPID returns the parent of pid, or InvalidPID if it could not be
// determined (process exited, insufficient privileges), matching
// GetParentProcessID.
func ParentPID(pid uint32) uint32 {
	h, err := windows.OpenProcess(processQueryInformation, false, pid)
	if err != nil {
		return InvalidPID
	}
	defer windows.CloseHandle(h)

	var pbi processBasicInformation
	var retLen uint32
	r, _, _ := procNtQueryInformationProc.Call(
		uintptr(h),
		uintptr(processBasicInformationClass),
		uintptr(unsafe.Pointer(&pbi)),
		unsafe.Sizeof(pbi),
		uintptr(unsafe.Pointer(&retLen)),
	)
	if r != 0 {
		return InvalidPID
	}
	return uint32(pbi.InheritedFromUniqueProcessId)
}

// ImageName resolves the base name of the main module of pid, matching
// get_image_name's EnumProcessModules + GetModuleBaseName pair.
func ImageName(pid uint32) (string, error) {
	h, err := windows.OpenProcess(windows.PROCESS_QUERY_INFORMATION|windows.PROCESS_VM_READ, false, pid)
	if err != nil {
		return "", fmt.Errorf("winproc: OpenProcess(%d): %w", pid, err)
	}
	defer windows.CloseHandle(h)

	var mod windows.Handle
	var needed uint32
	r, _, _ := procEnumProcessModules.Call(
		uintptr(h),
		uintptr(unsafe.Pointer(&mod)),
		unsafe.Sizeof(mod),
		uintptr(unsafe.Pointer(&needed)),
	)
	if r == 0 {
		return "", fmt.Errorf("winproc: EnumProcessModules(%d) failed", pid)
	}

	buf := make([]uint16, windows.MAX_PATH)
	n, _, _ := procGetModuleBaseNameW.Call(
		uintptr(h),
		uintptr(mod),
		uintptr(unsafe.Pointer(&buf[0])),
		uintptr(len(buf)),
	)
	if n == 0 {
		return "", fmt.Errorf("winproc: GetModuleBaseNameW(%d) failed", pid)
	}
	return windows.UTF16ToString(buf[:n]), nil
}

// executableFlags mirrors EXECUTABLE_FLAGS in etw_listener.cpp.
const executableFlags = windows.PAGE_EXECUTE | windows.PAGE_EXECUTE_READ | windows.PAGE_EXECUTE_READWRITE | windows.PAGE_EXECUTE_WRITECOPY

// IsExecutableAllocation walks the memory regions belonging to the same
// allocation as baseAddress in pid's address space, returning true if any
// region within that allocation carries an executable protection flag
// either now or at allocation time. This is a byte-for-byte port of
// isAllocationExecutable's do/while VirtualQueryEx walk.
func IsExecutableAllocation(pid uint32, baseAddress uintptr) (bool, error) {
	h, err := windows.OpenProcess(windows.PROCESS_QUERY_INFORMATION|windows.PROCESS_VM_OPERATION, false, pid)
	if err != nil {
		return false, fmt.Errorf("winproc: OpenProcess(%d): %w", pid, err)
	}
	defer windows.CloseHandle(h)

	var base uintptr
	addr := baseAddress
	isExec := false

	for {
		var mbi windows.MemoryBasicInformation
		err := windows.VirtualQueryEx(h, addr, &mbi, unsafe.Sizeof(mbi))
		if err != nil || mbi.AllocationBase == 0 {
			break
		}

		if base == 0 {
			base = mbi.AllocationBase
		}
		if base != mbi.AllocationBase {
			break
		}

		if mbi.AllocationProtect&executableFlags != 0 || mbi.Protect&executableFlags != 0 {
			isExec = true
		}
		addr += uintptr(mbi.RegionSize)
	}

	return isExec, nil
}
