package connectivity

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func newTestTracker() *Tracker {
	return NewTracker(zerolog.Nop())
}

func TestTracker_StartsOnline(t *testing.T) {
	tr := newTestTracker()

	if !tr.Online() {
		t.Error("new tracker should start online")
	}
	if got := tr.State().State; got != StateOnline {
		t.Errorf("State = %q, want %q", got, StateOnline)
	}
}

func TestTracker_FailureFlipsOffline(t *testing.T) {
	tr := newTestTracker()

	tr.ReportFailure(errors.New("dial tcp: connection refused"))
	if tr.Online() {
		t.Error("tracker should be offline after a failure")
	}

	tr.ReportFailure(errors.New("dial tcp: connection refused"))
	snap := tr.State()
	if snap.ConsecutiveFailures != 2 {
		t.Errorf("ConsecutiveFailures = %d, want 2", snap.ConsecutiveFailures)
	}
}

func TestTracker_RecoveryFiresCallbacksOnce(t *testing.T) {
	tr := newTestTracker()
	ctx := context.Background()

	fired := 0
	tr.ReportFailure(errors.New("offline"))
	tr.Register("drain-queue", func(ctx context.Context) { fired++ })

	tr.ReportSuccess(ctx)
	if fired != 1 {
		t.Fatalf("callback fired %d times, want 1", fired)
	}
	if !tr.Online() {
		t.Error("tracker should be online after success")
	}

	// One-shot: a second recovery cycle must not re-fire it.
	tr.ReportFailure(errors.New("offline again"))
	tr.ReportSuccess(ctx)
	if fired != 1 {
		t.Errorf("callback re-fired, total %d", fired)
	}
}

func TestTracker_SameTagCoalesces(t *testing.T) {
	tr := newTestTracker()
	ctx := context.Background()

	fired := 0
	tr.ReportFailure(errors.New("offline"))
	for i := 0; i < 5; i++ {
		tr.Register("drain-queue", func(ctx context.Context) { fired++ })
	}

	tr.ReportSuccess(ctx)
	if fired != 1 {
		t.Errorf("coalesced tag fired %d times, want 1", fired)
	}
}

func TestTracker_CallbacksFireInTagOrder(t *testing.T) {
	tr := newTestTracker()
	ctx := context.Background()

	var order []string
	tr.ReportFailure(errors.New("offline"))
	tr.Register("b-sync", func(ctx context.Context) { order = append(order, "b-sync") })
	tr.Register("a-drain", func(ctx context.Context) { order = append(order, "a-drain") })

	tr.ReportSuccess(ctx)
	if len(order) != 2 || order[0] != "a-drain" || order[1] != "b-sync" {
		t.Errorf("callback order = %v, want [a-drain b-sync]", order)
	}
}

func TestTracker_SuccessWhileOnlineIsQuiet(t *testing.T) {
	tr := newTestTracker()
	ctx := context.Background()

	fired := 0
	tr.Register("drain-queue", func(ctx context.Context) { fired++ })

	// No transition happened, so the registration stays parked.
	tr.ReportSuccess(ctx)
	if fired != 0 {
		t.Errorf("callback fired without a transition, %d times", fired)
	}
	if got := tr.State().PendingRegistrations; got != 1 {
		t.Errorf("PendingRegistrations = %d, want 1", got)
	}
}

func TestTracker_SuccessResetsFailureCount(t *testing.T) {
	tr := newTestTracker()
	ctx := context.Background()

	tr.ReportFailure(errors.New("offline"))
	tr.ReportFailure(errors.New("offline"))
	tr.ReportSuccess(ctx)

	if got := tr.State().ConsecutiveFailures; got != 0 {
		t.Errorf("ConsecutiveFailures = %d, want 0 after success", got)
	}
}
