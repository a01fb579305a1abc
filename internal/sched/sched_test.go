package sched

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestRunnerRunsJobOnInterval(t *testing.T) {
	var runs atomic.Int32
	r := NewRunner(Job{
		Name:  "counter",
		Every: 10 * time.Millisecond,
		Run: func(ctx context.Context) error {
			runs.Add(1)
			return nil
		},
	})

	r.Start(context.Background())
	time.Sleep(60 * time.Millisecond)
	r.Stop()

	if got := runs.Load(); got < 2 {
		t.Errorf("runs = %d, want at least 2", got)
	}
}

func TestRunnerSurvivesFailuresAndPanics(t *testing.T) {
	var runs atomic.Int32
	r := NewRunner(Job{
		Name:  "flaky",
		Every: 5 * time.Millisecond,
		Run: func(ctx context.Context) error {
			switch runs.Add(1) {
			case 1:
				return errors.New("boom")
			case 2:
				panic("worse boom")
			}
			return nil
		},
	})

	r.Start(context.Background())
	time.Sleep(50 * time.Millisecond)
	r.Stop()

	if got := runs.Load(); got < 3 {
		t.Errorf("runs = %d, want at least 3", got)
	}
}

func TestRunnerStopWaitsForJobs(t *testing.T) {
	started := make(chan struct{})
	var finished atomic.Bool
	r := NewRunner(Job{
		Name:    "slow",
		Every:   time.Hour,
		Timeout: time.Second,
		Run: func(ctx context.Context) error {
			close(started)
			time.Sleep(20 * time.Millisecond)
			finished.Store(true)
			return nil
		},
	})

	r.Start(context.Background())
	<-started
	r.Stop()

	if !finished.Load() {
		t.Error("Stop returned before the in-flight run finished")
	}
}

func TestRunnerStopIdempotent(t *testing.T) {
	r := NewRunner()
	r.Start(context.Background())
	r.Stop()
	r.Stop()
}
