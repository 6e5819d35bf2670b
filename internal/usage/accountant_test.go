package usage

import (
	"testing"
	"time"

	"github.com/nestline/chatnest/internal/storage"
)

var base = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func at(offset time.Duration) time.Time {
	return base.Add(offset)
}

func login(t time.Time) storage.UsageEvent {
	return storage.UsageEvent{SubjectID: "child-1", Kind: storage.EventLogin, OccurredAt: t}
}

func logout(t time.Time) storage.UsageEvent {
	return storage.UsageEvent{SubjectID: "child-1", Kind: storage.EventLogout, OccurredAt: t}
}

func TestComputeUsageClosedSessionRoundsUp(t *testing.T) {
	// Login at T, logout at T+90s: ceiling of 1.5 minutes is 2.
	events := []storage.UsageEvent{
		login(at(0)),
		logout(at(90 * time.Second)),
	}

	window := ComputeUsage(events, at(time.Hour))

	if len(window.Sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(window.Sessions))
	}
	if window.Sessions[0].Minutes != 2 {
		t.Errorf("expected 2 minutes, got %d", window.Sessions[0].Minutes)
	}
	if window.Sessions[0].Active {
		t.Error("closed session should not be active")
	}
	if window.TotalMinutes != 2 {
		t.Errorf("expected TotalMinutes 2, got %d", window.TotalMinutes)
	}
}

func TestComputeUsageTrailingLoginOpenSession(t *testing.T) {
	events := []storage.UsageEvent{login(at(0))}

	window := ComputeUsage(events, at(5*time.Minute))

	if len(window.Sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(window.Sessions))
	}
	if !window.Sessions[0].Active {
		t.Error("expected open session to be active")
	}
	if window.Sessions[0].Minutes != 5 {
		t.Errorf("expected 5 minutes, got %d", window.Sessions[0].Minutes)
	}
	if window.TotalMinutes != 5 {
		t.Errorf("expected TotalMinutes 5, got %d", window.TotalMinutes)
	}
}

func TestComputeUsageStrayLogoutIgnored(t *testing.T) {
	events := []storage.UsageEvent{logout(at(0))}

	window := ComputeUsage(events, at(time.Hour))

	if len(window.Sessions) != 0 {
		t.Fatalf("expected no sessions, got %d", len(window.Sessions))
	}
	if window.TotalMinutes != 0 {
		t.Errorf("expected TotalMinutes 0, got %d", window.TotalMinutes)
	}
}

func TestComputeUsageDoubleLoginDiscardsEarlierStart(t *testing.T) {
	// The second login replaces the open start; the 09:00-09:10 interval
	// is discarded and only 09:10-09:20 counts.
	events := []storage.UsageEvent{
		login(at(0)),
		login(at(10 * time.Minute)),
		logout(at(20 * time.Minute)),
	}

	window := ComputeUsage(events, at(time.Hour))

	if len(window.Sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(window.Sessions))
	}
	if window.Sessions[0].Minutes != 10 {
		t.Errorf("expected 10 minutes, got %d", window.Sessions[0].Minutes)
	}
	if !window.Sessions[0].Start.Equal(at(10 * time.Minute)) {
		t.Errorf("expected session start %v, got %v", at(10*time.Minute), window.Sessions[0].Start)
	}
	if window.TotalMinutes != 10 {
		t.Errorf("expected TotalMinutes 10, got %d", window.TotalMinutes)
	}
}

func TestComputeUsageNegativeIntervalClampedToZero(t *testing.T) {
	// Logout before login (clock skew): duration clamps to zero.
	events := []storage.UsageEvent{
		login(at(10 * time.Minute)),
		logout(at(5 * time.Minute)),
	}

	window := ComputeUsage(events, at(time.Hour))

	if len(window.Sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(window.Sessions))
	}
	if window.Sessions[0].Minutes != 0 {
		t.Errorf("expected 0 minutes, got %d", window.Sessions[0].Minutes)
	}
	if window.TotalMinutes != 0 {
		t.Errorf("expected TotalMinutes 0, got %d", window.TotalMinutes)
	}
}

func TestComputeUsageEmptyEvents(t *testing.T) {
	window := ComputeUsage(nil, at(0))

	if window.TotalMinutes != 0 {
		t.Errorf("expected TotalMinutes 0, got %d", window.TotalMinutes)
	}
	if len(window.Sessions) != 0 {
		t.Errorf("expected no sessions, got %d", len(window.Sessions))
	}
}

func TestComputeUsageMultipleSessions(t *testing.T) {
	events := []storage.UsageEvent{
		login(at(0)),
		logout(at(20 * time.Minute)),
		login(at(25 * time.Minute)),
		logout(at(50 * time.Minute)),
	}

	window := ComputeUsage(events, at(2*time.Hour))

	if len(window.Sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(window.Sessions))
	}
	if window.TotalMinutes != 45 {
		t.Errorf("expected TotalMinutes 45 (20+25), got %d", window.TotalMinutes)
	}
}

func TestComputeUsageIdempotent(t *testing.T) {
	events := []storage.UsageEvent{
		login(at(0)),
		logout(at(7 * time.Minute)),
		login(at(30 * time.Minute)),
	}
	now := at(42 * time.Minute)

	first := ComputeUsage(events, now)
	second := ComputeUsage(events, now)

	if first.TotalMinutes != second.TotalMinutes {
		t.Errorf("totals differ: %d vs %d", first.TotalMinutes, second.TotalMinutes)
	}
	if len(first.Sessions) != len(second.Sessions) {
		t.Fatalf("session counts differ: %d vs %d", len(first.Sessions), len(second.Sessions))
	}
	for i := range first.Sessions {
		if first.Sessions[i] != second.Sessions[i] {
			t.Errorf("session %d differs: %+v vs %+v", i, first.Sessions[i], second.Sessions[i])
		}
	}
}

func TestComputeUsageClosingSessionNeverShrinksTotal(t *testing.T) {
	open := []storage.UsageEvent{login(at(0))}
	openWindow := ComputeUsage(open, at(10*time.Minute))

	closed := append(open, logout(at(15*time.Minute)))
	closedWindow := ComputeUsage(closed, at(30*time.Minute))

	if closedWindow.TotalMinutes < openWindow.TotalMinutes {
		t.Errorf("closing a session shrank the total: %d -> %d",
			openWindow.TotalMinutes, closedWindow.TotalMinutes)
	}
}

func TestComputeUsageTotalNeverNegative(t *testing.T) {
	sequences := [][]storage.UsageEvent{
		{logout(at(0)), logout(at(time.Minute))},
		{login(at(10 * time.Minute)), logout(at(0))},
		{logout(at(0)), login(at(time.Minute)), login(at(2 * time.Minute))},
		nil,
	}

	for i, events := range sequences {
		window := ComputeUsage(events, at(5*time.Minute))
		if window.TotalMinutes < 0 {
			t.Errorf("sequence %d: negative total %d", i, window.TotalMinutes)
		}
		for _, s := range window.Sessions {
			if s.Minutes < 0 {
				t.Errorf("sequence %d: negative session minutes %d", i, s.Minutes)
			}
		}
	}
}

func TestEvaluateLimit(t *testing.T) {
	tests := []struct {
		name          string
		totalMinutes  int
		limit         int
		wantExceeded  bool
		wantRemaining int
		wantPercent   int
	}{
		{"at limit is exceeded", 60, 60, true, 0, 100},
		{"under limit", 45, 60, false, 15, 75},
		{"over limit", 75, 60, true, 0, 125},
		{"zero usage", 0, 60, false, 60, 0},
		{"zero limit does not divide", 30, 0, true, 0, 0},
		{"unlimited sentinel", 300, UnlimitedMinutes, false, UnlimitedMinutes - 300, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict := EvaluateLimit(Window{TotalMinutes: tt.totalMinutes}, tt.limit)

			if verdict.Exceeded != tt.wantExceeded {
				t.Errorf("Exceeded = %v, want %v", verdict.Exceeded, tt.wantExceeded)
			}
			if verdict.RemainingMinutes != tt.wantRemaining {
				t.Errorf("RemainingMinutes = %d, want %d", verdict.RemainingMinutes, tt.wantRemaining)
			}
			if verdict.UsagePercent != tt.wantPercent {
				t.Errorf("UsagePercent = %d, want %d", verdict.UsagePercent, tt.wantPercent)
			}
		})
	}
}

func TestEndToEndLimitScenario(t *testing.T) {
	// 20 + 25 minutes of usage against a 30 minute limit.
	events := []storage.UsageEvent{
		login(at(0)),
		logout(at(20 * time.Minute)),
		login(at(25 * time.Minute)),
		logout(at(50 * time.Minute)),
	}

	window := ComputeUsage(events, at(3*time.Hour))
	verdict := EvaluateLimit(window, 30)

	if window.TotalMinutes != 45 {
		t.Fatalf("expected TotalMinutes 45, got %d", window.TotalMinutes)
	}
	if !verdict.Exceeded {
		t.Error("expected limit to be exceeded")
	}
	if verdict.RemainingMinutes != 0 {
		t.Errorf("expected RemainingMinutes 0, got %d", verdict.RemainingMinutes)
	}
}

func TestCeilMinutes(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want int
	}{
		{0, 0},
		{-time.Minute, 0},
		{time.Second, 1},
		{time.Minute, 1},
		{time.Minute + time.Second, 2},
		{90 * time.Second, 2},
		{10 * time.Minute, 10},
	}

	for _, tt := range tests {
		if got := ceilMinutes(tt.d); got != tt.want {
			t.Errorf("ceilMinutes(%v) = %d, want %d", tt.d, got, tt.want)
		}
	}
}
