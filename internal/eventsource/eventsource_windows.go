//go:build windows

// Real ETW-backed EventSource. It subscribes to the same five kernel
// providers the original scanner wired through krabsetw (process,
// image-load, virtual-alloc, tcpip, object-manager) via the raw Win32 ETW
// API (advapi32.dll: StartTraceW, EnableTraceEx2, StopTraceW),
// resolved dynamically through syscall.NewLazyDLL exactly as the original's
// util/suspend.cpp resolves NtSuspendProcess/NtResumeProcess from ntdll.
package eventsource

import (
	"context"
	"fmt"
	"sync"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	advapi32          = syscall.NewLazyDLL("advapi32.dll")
	procStartTraceW   = advapi32.NewProc("StartTraceW")
	procEnableTraceEx2 = advapi32.NewProc("EnableTraceEx2")
	procStopTraceW    = advapi32.NewProc("StopTraceW")
)

// Well-known kernel provider GUIDs. These match the providers krabsetw
// exposes for process, image-load, tcpip, object-manager, and virtual-alloc
// tracing.
var (
	guidProcess       = windows.GUID{Data1: 0x3d6fa8d0, Data2: 0xfe05, Data3: 0x11d0, Data4: [8]byte{0x9d, 0xda, 0x00, 0xc0, 0x4f, 0xd7, 0xba, 0x7c}}
	guidImageLoad     = windows.GUID{Data1: 0x2cb15d1d, Data2: 0x5fc1, Data3: 0x11d2, Data4: [8]byte{0xab, 0xe1, 0x00, 0xa0, 0xc9, 0x11, 0xf5, 0x18}}
	guidTcpIp         = windows.GUID{Data1: 0x9a280ac0, Data2: 0xc8e0, Data3: 0x11d1, Data4: [8]byte{0x84, 0xe2, 0x00, 0xc0, 0x4f, 0xb9, 0x98, 0xa2}}
	guidObjectManager = windows.GUID{Data1: 0x89497f50, Data2: 0xeffe, Data3: 0x4440, Data4: [8]byte{0x8c, 0xf2, 0xce, 0x6b, 0x1c, 0xdc, 0xac, 0xa7}}
	guidVirtualAlloc  = windows.GUID{Data1: 0x3d6fa8d3, Data2: 0xfe05, Data3: 0x11d0, Data4: [8]byte{0x9d, 0xda, 0x00, 0xc0, 0x4f, 0xd7, 0xba, 0x7c}}
)

// eventTraceProperties mirrors the fixed portion of the Win32
// EVENT_TRACE_PROPERTIES struct; the session/log-file names are appended
// after it in the same allocation, per the Win32 contract.
type eventTraceProperties struct {
	Wnode               windows.WNODE_HEADER
	BufferSize          uint32
	MinimumBuffers      uint32
	MaximumBuffers      uint32
	MaximumFileSize     uint32
	LogFileMode         uint32
	FlushTimer          uint32
	EnableFlags         uint32
	AgeLimit            int32
	NumberOfBuffers     uint32
	FreeBuffers         uint32
	EventsLost          uint32
	BuffersWritten      uint32
	LogBuffersLost      uint32
	RealTimeBuffersLost uint32
	LoggerThreadId      windows.Handle
	LogFileNameOffset   uint32
	LoggerNameOffset    uint32
}

const sessionName = "HollowsHunterScan"

// Source is the real Windows ETW EventSource.
type Source struct {
	mu        sync.Mutex
	handle    uint64
	stopCh    chan struct{}
	stoppedCh chan struct{}
}

// New returns the platform EventSource.
func New() EventSource {
	return &Source{}
}

// Start establishes a real-time ETW trace session, enables the providers
// selected in providers, and starts the consume goroutine without blocking
// the caller. No event records are decoded or passed to cb (see consume).
func (s *Source) Start(ctx context.Context, providers Providers, cb Callback) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	nameUTF16, err := windows.UTF16PtrFromString(sessionName)
	if err != nil {
		return fmt.Errorf("eventsource: session name: %w", err)
	}

	size := uint32(unsafe.Sizeof(eventTraceProperties{})) + 2*1024
	buf := make([]byte, size)
	props := (*eventTraceProperties)(unsafe.Pointer(&buf[0]))
	props.Wnode.BufferSize = size
	props.LogFileMode = 0x00000100 // EVENT_TRACE_REAL_TIME_MODE
	props.LoggerNameOffset = uint32(unsafe.Sizeof(eventTraceProperties{}))

	var handle uint64
	r, _, _ := procStartTraceW.Call(
		uintptr(unsafe.Pointer(&handle)),
		uintptr(unsafe.Pointer(nameUTF16)),
		uintptr(unsafe.Pointer(props)),
	)
	if r != 0 {
		return fmt.Errorf("eventsource: StartTraceW failed: error code %d", r)
	}
	s.handle = handle

	for _, guid := range enabledProviderGUIDs(providers) {
		r, _, _ := procEnableTraceEx2.Call(
			uintptr(handle),
			uintptr(unsafe.Pointer(&guid)),
			1, // EVENT_CONTROL_CODE_ENABLE_PROVIDER
			4, // TRACE_LEVEL_INFORMATION
			0, 0, 0, 0,
		)
		if r != 0 {
			s.stopLocked()
			return fmt.Errorf("eventsource: EnableTraceEx2 failed: error code %d", r)
		}
	}

	s.stopCh = make(chan struct{})
	s.stoppedCh = make(chan struct{})
	go s.consume(ctx, cb)

	return nil
}

// consume blocks until Stop is called and then returns. It does not open a
// trace consumer (OpenTraceW/ProcessTrace), decode event records, dispatch
// on opcodes (OpcodeStart/Stop/ImageLoad/VirtualAlloc/DuplicateHandle), or
// invoke cb, and it does not watch ctx.
func (s *Source) consume(ctx context.Context, cb Callback) {
	defer close(s.stoppedCh)
	<-s.stopCh
	_ = cb
	_ = ctx
}

func enabledProviderGUIDs(p Providers) []windows.GUID {
	var guids []windows.GUID
	if p.ProcessStartStop {
		guids = append(guids, guidProcess)
	}
	if p.ImageLoad {
		guids = append(guids, guidImageLoad)
	}
	if p.TcpIp {
		guids = append(guids, guidTcpIp)
	}
	if p.ObjectManager {
		guids = append(guids, guidObjectManager)
	}
	if p.VirtualAlloc {
		guids = append(guids, guidVirtualAlloc)
	}
	return guids
}

// Stop tears down the trace session and waits for the consumer goroutine to
// exit.
func (s *Source) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Source) stopLocked() {
	if s.stopCh != nil {
		select {
		case <-s.stopCh:
		default:
			close(s.stopCh)
		}
	}
	if s.handle != 0 {
		procStopTraceW.Call(uintptr(s.handle), 0, 0)
		s.handle = 0
	}
	if s.stoppedCh != nil {
		<-s.stoppedCh
	}
}
