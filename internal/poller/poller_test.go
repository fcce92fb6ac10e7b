package poller

import (
	"context"
	"testing"

	"github.com/hollows-hunter/agent/internal/filter"
	"github.com/hollows-hunter/agent/internal/inspector"
)

func testBuild(pid Pid) inspector.ScanTarget {
	return inspector.ScanTarget{OutDir: "out"}
}

func TestRunOncePollsFiltersAndAggregates(t *testing.T) {
	enumerate := func(ctx context.Context) ([]Pid, error) {
		return []Pid{1, 2, 3}, nil
	}
	names := inspector.NewFakeNamer()
	names.Names[1] = "good.exe"
	names.Names[2] = "bad.exe"
	names.Names[3] = "good.exe"
	lists := filter.NewLists([]string{"good.exe"}, nil, nil)
	findings := inspector.NewFake()

	p := New(enumerate, lists, findings, names, testBuild, TimeGate{}, nil)

	rep, err := p.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if rep.TotalCount() != 2 {
		t.Fatalf("expected 2 watched pids scanned (1 and 3), got %d", rep.TotalCount())
	}
	if findings.CallCount() != 2 {
		t.Fatalf("expected inspector invoked exactly twice, got %d", findings.CallCount())
	}
}

func TestRunOnceSkipsUnwatchedPids(t *testing.T) {
	enumerate := func(ctx context.Context) ([]Pid, error) {
		return []Pid{1, 2}, nil
	}
	names := inspector.NewFakeNamer()
	names.Names[1] = "watched.exe"
	names.Names[2] = "ignored.exe"
	lists := filter.NewLists(nil, []string{"ignored.exe"}, nil)
	findings := inspector.NewFake()

	p := New(enumerate, lists, findings, names, testBuild, TimeGate{}, nil)

	rep, err := p.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if rep.TotalCount() != 1 {
		t.Fatalf("expected 1 scanned pid (ignored one dropped), got %d", rep.TotalCount())
	}
}
