package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"news_bot/internal/ingest"
)

type mockPoller struct {
	calls   atomic.Int32
	block   chan struct{}
	started chan struct{}
	err     error
}

func (m *mockPoller) Poll(context.Context) (ingest.Stats, error) {
	m.calls.Add(1)
	if m.started != nil {
		m.started <- struct{}{}
	}
	if m.block != nil {
		<-m.block
	}
	return ingest.Stats{}, m.err
}

func newScheduler(p Poller, schedule string) *Scheduler {
	return New(p, schedule, slog.New(slog.DiscardHandler))
}

func TestRunOnce(t *testing.T) {
	p := &mockPoller{err: errors.New("unexpected status 502")}
	s := newScheduler(p, "")

	if !s.RunOnce(context.Background()) {
		t.Fatal("RunOnce() = false, want true")
	}
	if !s.RunOnce(context.Background()) {
		t.Fatal("RunOnce() = false after a failed pass")
	}
	if got := p.calls.Load(); got != 2 {
		t.Errorf("calls = %d, want 2", got)
	}
}

func TestRunOnceSkipsOverlap(t *testing.T) {
	p := &mockPoller{block: make(chan struct{}), started: make(chan struct{}, 1)}
	s := newScheduler(p, "")

	done := make(chan bool, 1)
	go func() { done <- s.RunOnce(context.Background()) }()
	<-p.started

	if s.RunOnce(context.Background()) {
		t.Error("overlapping RunOnce() = true, want false")
	}
	close(p.block)
	if !<-done {
		t.Error("first RunOnce() = false, want true")
	}

	if got := p.calls.Load(); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
}

func TestRunPollsUntilCancelled(t *testing.T) {
	p := &mockPoller{}
	s := newScheduler(p, "@every 1s")

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()

	deadline := time.Now().Add(3 * time.Second)
	for p.calls.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("calls = %d after 3s, want at least 2", p.calls.Load())
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRunInvalidSchedule(t *testing.T) {
	s := newScheduler(&mockPoller{}, "not a schedule")
	if err := s.Run(context.Background()); err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestRunWaitsForInitialPass(t *testing.T) {
	p := &mockPoller{block: make(chan struct{}), started: make(chan struct{}, 1)}
	s := newScheduler(p, "@every 1h")

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()

	<-p.started
	cancel()

	select {
	case <-errc:
		t.Fatal("Run returned while the initial pass was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(p.block)
	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the pass finished")
	}
	if s.running.Load() {
		t.Error("pass still marked running after Run returned")
	}
}
