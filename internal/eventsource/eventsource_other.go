//go:build !windows

package eventsource

import (
	"context"
	"errors"
)

// stubSource is installed on every non-Windows GOOS. ETW is a Windows-only
// kernel tracing facility; there is no portable equivalent, so Start always
// fails with an initialization error (spec.md §7, error kind 1).
type stubSource struct{}

// New returns the platform EventSource. On this platform it always fails
// to start.
func New() EventSource {
	return &stubSource{}
}

func (s *stubSource) Start(ctx context.Context, providers Providers, cb Callback) error {
	return errors.New("eventsource: ETW kernel tracing is only available on windows")
}

func (s *stubSource) Stop() {}
