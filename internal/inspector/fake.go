package inspector

import (
	"context"
	"sync"
)

// Fake is an in-memory Inspector used by tests and by the polling/scheduler
// test suites elsewhere in this module. It returns a pre-programmed Finding
// per PID (falling back to a default) and records every PID it was invoked
// with, so tests can assert on single-flight and debounce behavior.
type Fake struct {
	mu       sync.Mutex
	Findings map[Pid]Finding
	Default  Finding
	Calls    []Pid
}

// NewFake returns a ready-to-use Fake.
func NewFake() *Fake {
	return &Fake{Findings: make(map[Pid]Finding)}
}

// Inspect implements Inspector.
func (f *Fake) Inspect(_ context.Context, pid Pid, _ Options) Finding {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, pid)
	if finding, ok := f.Findings[pid]; ok {
		finding.Pid = pid
		return finding
	}
	d := f.Default
	d.Pid = pid
	return d
}

// CallCount returns how many times Inspect has been called, total.
func (f *Fake) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Calls)
}

// FakeNamer resolves a fixed image name for every PID, or a per-PID override.
type FakeNamer struct {
	mu      sync.Mutex
	Names   map[Pid]string
	Default string
}

// NewFakeNamer returns a ready-to-use FakeNamer.
func NewFakeNamer() *FakeNamer {
	return &FakeNamer{Names: make(map[Pid]string)}
}

// ImageName implements ImageNamer.
func (n *FakeNamer) ImageName(_ context.Context, pid Pid) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if name, ok := n.Names[pid]; ok {
		return name, nil
	}
	return n.Default, nil
}
