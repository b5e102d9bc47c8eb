package mcgsync

import (
	"sync"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/inventory_backend/models"
)

// NOTE: These tests are intentionally DB-free. They validate the single-flight
// guard and the pull-window gate that keep auto-pull runs from overlapping;
// the full pull path is covered by the docker-gated regression test.

func TestScheduler_SingleFlightGuard(t *testing.T) {
	s := NewScheduler()

	if !s.tryAcquire(1) {
		t.Fatal("first acquire should succeed")
	}
	// A tick landing while the run is still in flight must skip, not queue.
	if s.tryAcquire(1) {
		t.Fatal("second acquire while in flight should fail")
	}
	// A different connection is unaffected.
	if !s.tryAcquire(2) {
		t.Fatal("acquire for another connection should succeed")
	}

	s.release(1)
	if !s.tryAcquire(1) {
		t.Fatal("acquire after release should succeed")
	}
}

func TestScheduler_SlowRunBlocksOverlap(t *testing.T) {
	s := NewScheduler()

	started := make(chan struct{})
	finish := make(chan struct{})
	var wg sync.WaitGroup

	if !s.tryAcquire(7) {
		t.Fatal("acquire failed")
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer s.release(7)
		close(started)
		<-finish // the run outlives several ticks
	}()

	<-started
	// Ticks arriving mid-run all observe the guard.
	for i := 0; i < 3; i++ {
		if s.tryAcquire(7) {
			t.Fatal("tick overlapped an in-flight run")
		}
	}

	close(finish)
	wg.Wait()

	if !s.tryAcquire(7) {
		t.Fatal("guard not released after the run finished")
	}
}

func TestAutoPullDue(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	recent := now.Add(-10 * time.Minute)
	stale := now.Add(-2 * time.Hour)

	enabled := SyncSettings{Enabled: true, AutoPullEnabled: true, PullEveryMinutes: 60}

	cases := []struct {
		name     string
		lastSync *time.Time
		settings SyncSettings
		want     bool
	}{
		{"never synced", nil, enabled, true},
		{"window elapsed", &stale, enabled, true},
		{"window not elapsed", &recent, enabled, false},
		{"sync disabled", &stale, SyncSettings{Enabled: false, AutoPullEnabled: true, PullEveryMinutes: 60}, false},
		{"auto pull disabled", &stale, SyncSettings{Enabled: true, AutoPullEnabled: false, PullEveryMinutes: 60}, false},
	}
	for _, tc := range cases {
		conn := models.McgConnection{LastSyncAt: tc.lastSync}
		if got := autoPullDue(conn, tc.settings, now); got != tc.want {
			t.Fatalf("%s: autoPullDue = %v, want %v", tc.name, got, tc.want)
		}
	}
}
