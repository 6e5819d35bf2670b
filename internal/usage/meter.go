package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/nestline/chatnest/internal/metrics"
	"github.com/nestline/chatnest/internal/storage"
	"github.com/rs/zerolog"
)

// Meter ties the pure accountant to an event store and a clock. It is the
// single entry point callers use to record events and evaluate windows; the
// fold itself stays in ComputeUsage.
type Meter struct {
	events storage.UsageEventStore
	clock  Clock
	logger zerolog.Logger
}

// NewMeter creates a usage meter.
func NewMeter(events storage.UsageEventStore, clock Clock, logger zerolog.Logger) *Meter {
	if clock == nil {
		clock = RealClock{}
	}
	return &Meter{
		events: events,
		clock:  clock,
		logger: logger.With().Str("component", "usage-meter").Logger(),
	}
}

// Now exposes the meter's clock.
func (m *Meter) Now() time.Time {
	return m.clock.Now()
}

// RecordLogin appends a login event for the subject at the current time.
func (m *Meter) RecordLogin(ctx context.Context, subjectID string) error {
	now := m.clock.Now()
	if err := m.events.Append(ctx, storage.UsageEvent{
		SubjectID:  subjectID,
		Kind:       storage.EventLogin,
		OccurredAt: now,
	}); err != nil {
		return fmt.Errorf("append login event: %w", err)
	}

	m.logger.Debug().
		Str("subject_id", subjectID).
		Time("occurred_at", now).
		Msg("Recorded login event")

	return nil
}

// RecordLogout appends a logout event and reports the minutes the closed
// session consumed.
func (m *Meter) RecordLogout(ctx context.Context, subjectID string) error {
	now := m.clock.Now()
	if err := m.events.Append(ctx, storage.UsageEvent{
		SubjectID:  subjectID,
		Kind:       storage.EventLogout,
		OccurredAt: now,
	}); err != nil {
		return fmt.Errorf("append logout event: %w", err)
	}

	window, err := m.WindowFor(ctx, subjectID)
	if err != nil {
		// The event is recorded; the metric is best-effort.
		m.logger.Warn().Err(err).Str("subject_id", subjectID).Msg("Failed to recompute window after logout")
		return nil
	}

	if n := len(window.Sessions); n > 0 && !window.Sessions[n-1].Active {
		closed := window.Sessions[n-1]
		metrics.UsageMinutesConsumed.WithLabelValues(subjectID).Add(float64(closed.Minutes))
	}

	m.logger.Debug().
		Str("subject_id", subjectID).
		Int("total_minutes", window.TotalMinutes).
		Msg("Recorded logout event")

	return nil
}

// WindowFor recomputes the subject's usage window for the current calendar
// day. The event store returns a consistent snapshot ordered ascending by
// timestamp, which is the precondition ComputeUsage relies on.
func (m *Meter) WindowFor(ctx context.Context, subjectID string) (Window, error) {
	now := m.clock.Now()

	events, err := m.events.ListForDay(ctx, subjectID, Day(now))
	if err != nil {
		return Window{}, fmt.Errorf("list usage events: %w", err)
	}

	return ComputeUsage(events, now), nil
}

// Check evaluates the subject's current window against a daily limit.
// It is called on every child login attempt; results are never cached
// because events accumulate continuously.
func (m *Meter) Check(ctx context.Context, subjectID string, dailyLimitMinutes int) (Window, Verdict, error) {
	window, err := m.WindowFor(ctx, subjectID)
	if err != nil {
		return Window{}, Verdict{}, err
	}
	return window, EvaluateLimit(window, dailyLimitMinutes), nil
}
