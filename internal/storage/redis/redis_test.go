package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/nestline/chatnest/internal/config"
	"github.com/nestline/chatnest/internal/storage"
	"github.com/nestline/chatnest/internal/usage"
)

func setupTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)

	// miniredis.Addr() returns "host:port", so Port stays zero
	cfg := config.RedisConfig{
		Host:         mr.Addr(),
		Port:         0,
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 5,
		DialTimeout:  "5s",
		ReadTimeout:  "3s",
		WriteTimeout: "3s",
	}

	store, err := Open(cfg)
	if err != nil {
		t.Fatalf("Failed to open Redis store: %v", err)
	}

	return store, mr
}

func TestEventStore_AppendAndList(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	events := store.UsageEvents()

	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	day := usage.Day(base)

	seq := []storage.UsageEvent{
		{SubjectID: "child-1", Kind: storage.EventLogin, OccurredAt: base},
		{SubjectID: "child-1", Kind: storage.EventLogout, OccurredAt: base.Add(20 * time.Minute)},
		{SubjectID: "child-1", Kind: storage.EventLogin, OccurredAt: base.Add(1 * time.Hour)},
	}

	for _, ev := range seq {
		if err := events.Append(ctx, ev); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	listed, err := events.ListForDay(ctx, "child-1", day)
	if err != nil {
		t.Fatalf("ListForDay failed: %v", err)
	}

	if len(listed) != 3 {
		t.Fatalf("Expected 3 events, got %d", len(listed))
	}

	for i, ev := range listed {
		if ev.Kind != seq[i].Kind {
			t.Errorf("Event %d: expected kind %s, got %s", i, seq[i].Kind, ev.Kind)
		}
		if !ev.OccurredAt.Equal(seq[i].OccurredAt) {
			t.Errorf("Event %d: expected time %v, got %v", i, seq[i].OccurredAt, ev.OccurredAt)
		}
		if ev.SubjectID != "child-1" {
			t.Errorf("Event %d: expected subject child-1, got %s", i, ev.SubjectID)
		}
	}
}

func TestEventStore_ListReturnsAscendingOrder(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	events := store.UsageEvents()

	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	// Append out of order, the sorted set must restore occurrence order
	offsets := []time.Duration{30 * time.Minute, 0, 15 * time.Minute}
	for _, off := range offsets {
		ev := storage.UsageEvent{
			SubjectID:  "child-1",
			Kind:       storage.EventLogin,
			OccurredAt: base.Add(off),
		}
		if err := events.Append(ctx, ev); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	listed, err := events.ListForDay(ctx, "child-1", usage.Day(base))
	if err != nil {
		t.Fatalf("ListForDay failed: %v", err)
	}

	if len(listed) != 3 {
		t.Fatalf("Expected 3 events, got %d", len(listed))
	}

	for i := 1; i < len(listed); i++ {
		if listed[i].OccurredAt.Before(listed[i-1].OccurredAt) {
			t.Errorf("Events out of order: %v before %v", listed[i].OccurredAt, listed[i-1].OccurredAt)
		}
	}
}

func TestEventStore_ListForDayEmpty(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()

	listed, err := store.UsageEvents().ListForDay(ctx, "nobody", "2025-03-10")
	if err != nil {
		t.Fatalf("ListForDay failed: %v", err)
	}

	if len(listed) != 0 {
		t.Errorf("Expected no events, got %d", len(listed))
	}
}

func TestEventStore_DaysAreIsolated(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	events := store.UsageEvents()

	monday := time.Date(2025, 3, 10, 23, 50, 0, 0, time.UTC)
	tuesday := time.Date(2025, 3, 11, 0, 10, 0, 0, time.UTC)

	if err := events.Append(ctx, storage.UsageEvent{SubjectID: "child-1", Kind: storage.EventLogin, OccurredAt: monday}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := events.Append(ctx, storage.UsageEvent{SubjectID: "child-1", Kind: storage.EventLogout, OccurredAt: tuesday}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	mondayEvents, err := events.ListForDay(ctx, "child-1", usage.Day(monday))
	if err != nil {
		t.Fatalf("ListForDay failed: %v", err)
	}
	if len(mondayEvents) != 1 || mondayEvents[0].Kind != storage.EventLogin {
		t.Errorf("Expected one login on Monday, got %v", mondayEvents)
	}

	tuesdayEvents, err := events.ListForDay(ctx, "child-1", usage.Day(tuesday))
	if err != nil {
		t.Fatalf("ListForDay failed: %v", err)
	}
	if len(tuesdayEvents) != 1 || tuesdayEvents[0].Kind != storage.EventLogout {
		t.Errorf("Expected one logout on Tuesday, got %v", tuesdayEvents)
	}
}

func TestEventStore_SubjectsAreIsolated(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	events := store.UsageEvents()

	at := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	if err := events.Append(ctx, storage.UsageEvent{SubjectID: "child-1", Kind: storage.EventLogin, OccurredAt: at}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := events.Append(ctx, storage.UsageEvent{SubjectID: "child-2", Kind: storage.EventLogin, OccurredAt: at}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	listed, err := events.ListForDay(ctx, "child-1", usage.Day(at))
	if err != nil {
		t.Fatalf("ListForDay failed: %v", err)
	}
	if len(listed) != 1 {
		t.Errorf("Expected 1 event for child-1, got %d", len(listed))
	}
}

func TestEventStore_DayKeyHasTTL(t *testing.T) {
	store, mr := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	at := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	err := store.UsageEvents().Append(ctx, storage.UsageEvent{
		SubjectID:  "child-1",
		Kind:       storage.EventLogin,
		OccurredAt: at,
	})
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	key := eventsKey("child-1", usage.Day(at))
	ttl := mr.TTL(key)
	if ttl <= 0 {
		t.Errorf("Expected positive TTL on %s, got %v", key, ttl)
	}
}

func TestEventStore_DeleteDaysBefore(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	events := store.UsageEvents()

	days := []time.Time{
		time.Date(2025, 1, 5, 9, 0, 0, 0, time.UTC),
		time.Date(2025, 2, 5, 9, 0, 0, 0, time.UTC),
		time.Date(2025, 3, 5, 9, 0, 0, 0, time.UTC),
	}
	for _, d := range days {
		err := events.Append(ctx, storage.UsageEvent{SubjectID: "child-1", Kind: storage.EventLogin, OccurredAt: d})
		if err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	deleted, err := events.DeleteDaysBefore(ctx, "2025-03-01")
	if err != nil {
		t.Fatalf("DeleteDaysBefore failed: %v", err)
	}
	if deleted != 2 {
		t.Errorf("Expected 2 deleted day keys, got %d", deleted)
	}

	remaining, err := events.ListForDay(ctx, "child-1", "2025-03-05")
	if err != nil {
		t.Fatalf("ListForDay failed: %v", err)
	}
	if len(remaining) != 1 {
		t.Errorf("Expected March events to survive, got %d", len(remaining))
	}

	gone, err := events.ListForDay(ctx, "child-1", "2025-01-05")
	if err != nil {
		t.Fatalf("ListForDay failed: %v", err)
	}
	if len(gone) != 0 {
		t.Errorf("Expected January events to be deleted, got %d", len(gone))
	}
}
