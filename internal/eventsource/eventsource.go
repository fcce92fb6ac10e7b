// Package eventsource defines the Event variant and the EventSource
// contract: the external kernel trace subscription the core consumes but
// does not implement (spec.md §6, "EventSource contract"). A real Windows
// ETW-backed implementation lives in eventsource_windows.go (build-tagged);
// every other platform gets a stub that reports an initialization failure
// on Start, mirroring the teacher's own real-vs-stub split for
// platform-bound subsystems.
package eventsource

import (
	"context"

	"github.com/hollows-hunter/agent/internal/scanstat"
)

// Pid is re-exported for convenience.
type Pid = scanstat.Pid

// Kind discriminates the Event variant.
type Kind int

const (
	ProcessStart Kind = iota
	ProcessStop
	ImageLoad
	TcpIp
	VirtualAlloc
	HandleDuplicate
)

func (k Kind) String() string {
	switch k {
	case ProcessStart:
		return "ProcessStart"
	case ProcessStop:
		return "ProcessStop"
	case ImageLoad:
		return "ImageLoad"
	case TcpIp:
		return "TcpIp"
	case VirtualAlloc:
		return "VirtualAlloc"
	case HandleDuplicate:
		return "HandleDuplicate"
	default:
		return "Unknown"
	}
}

// Event is the tagged variant emitted by EventSource, per spec.md §3. Only
// the fields relevant to Kind are populated; the rest are zero.
type Event struct {
	Kind Kind

	Pid           Pid    // ProcessStart, ProcessStop, ImageLoad, TcpIp, VirtualAlloc
	ParentPid     Pid    // ProcessStart
	ImageFileName string // ProcessStart, ImageLoad

	TcpKind string // TcpIp

	BaseAddress uintptr // VirtualAlloc

	TargetPid Pid // HandleDuplicate
}

// Providers enumerates the fixed set of kernel providers the dispatcher
// subscribes to. Each field corresponds to one ETWProfile (INI) key, but
// the agent always starts the source with AllProviders().
type Providers struct {
	ProcessStartStop bool // WATCH_PROCESS_START
	ImageLoad        bool // WATCH_IMG_LOAD
	VirtualAlloc     bool // WATCH_ALLOCATION
	TcpIp            bool // WATCH_TCP_IP
	ObjectManager    bool // WATCH_OBJ_MGR
}

// AllProviders returns a Providers with every provider enabled.
func AllProviders() Providers {
	return Providers{true, true, true, true, true}
}

// Callback receives one Event at a time. It runs on a thread owned by the
// EventSource subscription (spec.md §9: "event callbacks on foreign
// threads"); it must return promptly. The core never calls Callback
// directly from goroutines it will block.
type Callback func(Event)

// EventSource is the external kernel trace subscription contract (spec.md
// §6). Start subscribes to the configured Providers and begins invoking cb
// for every observed event; it returns once the subscription is
// established, not when tracing ends. Stop unsubscribes and blocks until
// the internal consuming goroutine has exited.
type EventSource interface {
	Start(ctx context.Context, providers Providers, cb Callback) error
	Stop()
}

// ETW opcode constants, named rather than left as magic numbers, matching
// the provider-filtering logic of the original etw_listener.cpp.
const (
	OpcodeStart           = 1
	OpcodeStop            = 2
	OpcodeImageLoad       = 10
	OpcodeVirtualAlloc    = 98
	OpcodeDuplicateHandle = 34
)
