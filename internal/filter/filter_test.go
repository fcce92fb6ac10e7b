package filter

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestIsWatchedEmptyListsWatchesEverything(t *testing.T) {
	l := NewLists(nil, nil, nil)
	if !l.IsWatched(1, "anything.exe") {
		t.Fatal("expected empty lists to watch everything")
	}
}

func TestIsWatchedAllowByPid(t *testing.T) {
	l := NewLists(nil, nil, []Pid{42})
	if !l.IsWatched(42, "whatever.exe") {
		t.Fatal("expected pid in pids_list to be watched")
	}
	if l.IsWatched(43, "whatever.exe") {
		t.Fatal("expected pid not in any list, with a non-empty pids_list, to be dropped")
	}
}

func TestIsWatchedAllowByName(t *testing.T) {
	l := NewLists([]string{"calc.exe"}, nil, nil)
	if !l.IsWatched(1, `C:\Windows\System32\CALC.EXE`) {
		t.Fatal("expected case-insensitive basename match against names_list")
	}
}

// Scenario 5 from spec.md §8: ignore-list wins only when not on allow list.
func TestIgnoreListWinsOnlyWhenNotOnAllowList(t *testing.T) {
	l := NewLists([]string{"foo.exe"}, []string{"bar.exe"}, nil)

	if !l.IsWatched(1, "foo.exe") {
		t.Fatal("foo.exe is on the allow list and must be watched")
	}
	if l.IsWatched(2, "bar.exe") {
		t.Fatal("bar.exe is on the ignore list and not on any allow list; must be dropped")
	}
	if l.IsWatched(3, "baz.exe") {
		t.Fatal("baz.exe is on neither list; with a non-empty allow list configured it must be dropped")
	}
}

type fakeTimer struct {
	ct  time.Time
	err error
}

func (f fakeTimer) CreationTime(context.Context, Pid) (time.Time, error) { return f.ct, f.err }

func TestPassesTimeThresholdUndefinedAlwaysPasses(t *testing.T) {
	if !PassesTimeThreshold(context.Background(), fakeTimer{err: errors.New("boom")}, 1, time.Now(), 0, false) {
		t.Fatal("ptimes undefined must always pass")
	}
}

func TestPassesTimeThresholdTooYoung(t *testing.T) {
	now := time.Now()
	timer := fakeTimer{ct: now.Add(-500 * time.Millisecond)}
	if PassesTimeThreshold(context.Background(), timer, 1, now, 2*time.Second, true) {
		t.Fatal("expected a process younger than ptimes to fail the threshold")
	}
}

func TestPassesTimeThresholdOldEnough(t *testing.T) {
	now := time.Now()
	timer := fakeTimer{ct: now.Add(-5 * time.Second)}
	if !PassesTimeThreshold(context.Background(), timer, 1, now, 2*time.Second, true) {
		t.Fatal("expected a process older than ptimes to pass the threshold")
	}
}

func TestPassesTimeThresholdLookupFailure(t *testing.T) {
	now := time.Now()
	timer := fakeTimer{err: errors.New("no such process")}
	if PassesTimeThreshold(context.Background(), timer, 1, now, 2*time.Second, true) {
		t.Fatal("expected a failed creation-time lookup to fail the threshold")
	}
}
