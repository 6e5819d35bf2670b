package usage

import (
	"context"
	"time"

	"github.com/nestline/chatnest/internal/storage"
	"github.com/rs/zerolog"
)

// RetentionScheduler prunes usage events and chat sessions past the
// retention window once per day. The daily "reset" itself is implicit:
// windows are always computed from the current day's events.
type RetentionScheduler struct {
	events        storage.UsageEventStore
	chats         storage.ChatStore
	runTime       time.Time // only hour and minute are used
	retentionDays int
	logger        zerolog.Logger
	stopChan      chan struct{}
}

// NewRetentionScheduler creates a retention scheduler. runTime is the time
// of day to prune, in HH:MM format.
func NewRetentionScheduler(events storage.UsageEventStore, chats storage.ChatStore, runTime string, retentionDays int, logger zerolog.Logger) (*RetentionScheduler, error) {
	parsed, err := time.Parse("15:04", runTime)
	if err != nil {
		return nil, err
	}

	if retentionDays <= 0 {
		retentionDays = 90
	}

	return &RetentionScheduler{
		events:        events,
		chats:         chats,
		runTime:       parsed,
		retentionDays: retentionDays,
		logger:        logger.With().Str("component", "retention-scheduler").Logger(),
		stopChan:      make(chan struct{}),
	}, nil
}

// Start begins the scheduler loop.
func (rs *RetentionScheduler) Start() {
	go rs.run()
	rs.logger.Info().
		Str("run_time", rs.runTime.Format("15:04")).
		Int("retention_days", rs.retentionDays).
		Msg("Retention scheduler started")
}

// Stop stops the scheduler.
func (rs *RetentionScheduler) Stop() {
	close(rs.stopChan)
	rs.logger.Info().Msg("Retention scheduler stopped")
}

func (rs *RetentionScheduler) run() {
	for {
		nextRun := rs.calculateNextRun()
		waitDuration := time.Until(nextRun)

		rs.logger.Info().
			Time("next_run", nextRun).
			Dur("wait_duration", waitDuration).
			Msg("Scheduled next retention prune")

		select {
		case <-time.After(waitDuration):
			rs.prune()
		case <-rs.stopChan:
			return
		}
	}
}

// calculateNextRun returns the next occurrence of the configured run time.
func (rs *RetentionScheduler) calculateNextRun() time.Time {
	now := time.Now()

	todayRun := time.Date(
		now.Year(), now.Month(), now.Day(),
		rs.runTime.Hour(), rs.runTime.Minute(), 0, 0,
		now.Location(),
	)

	if now.After(todayRun) {
		return todayRun.AddDate(0, 0, 1)
	}

	return todayRun
}

// prune removes data older than the retention window.
func (rs *RetentionScheduler) prune() {
	rs.logger.Info().Msg("Pruning data past retention window")

	cutoff := time.Now().AddDate(0, 0, -rs.retentionDays)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	eventsDeleted, err := rs.events.DeleteDaysBefore(ctx, Day(cutoff))
	if err != nil {
		rs.logger.Error().Err(err).Msg("Failed to prune old usage events")
	} else {
		rs.logger.Info().
			Int("days_deleted", eventsDeleted).
			Str("cutoff_day", Day(cutoff)).
			Msg("Old usage events pruned")
	}

	sessionsDeleted, err := rs.chats.DeleteSessionsBefore(ctx, cutoff)
	if err != nil {
		rs.logger.Error().Err(err).Msg("Failed to prune old chat sessions")
		return
	}

	rs.logger.Info().
		Int("sessions_deleted", sessionsDeleted).
		Msg("Old chat sessions pruned")
}
