package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/nestline/chatnest/internal/storage"
	"github.com/nestline/chatnest/internal/usage"
	"github.com/redis/go-redis/v9"
)

// defaultEventRetention bounds how long day keys live in Redis.
// The retention scheduler deletes earlier, this is the backstop.
const defaultEventRetention = 120 * 24 * time.Hour

type eventStore struct {
	client    *redis.Client
	retention time.Duration
}

// eventMember is the sorted-set member encoding of a single event.
// The score carries the timestamp, so reads come back in occurrence order.
type eventMember struct {
	Kind       storage.EventKind `json:"kind"`
	OccurredAt time.Time         `json:"occurred_at"`
}

func eventsKey(subjectID, day string) string {
	return fmt.Sprintf("chatnest:usage:events:%s:%s", subjectID, day)
}

// Append records a login or logout event in the subject's day log
func (s *eventStore) Append(ctx context.Context, event storage.UsageEvent) error {
	member, err := json.Marshal(eventMember{
		Kind:       event.Kind,
		OccurredAt: event.OccurredAt,
	})
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	script := redis.NewScript(appendEventScript)
	key := eventsKey(event.SubjectID, usage.Day(event.OccurredAt))

	keys := []string{key}
	args := []interface{}{
		strconv.FormatInt(event.OccurredAt.UnixNano(), 10),
		string(member),
		int64(s.retention.Seconds()),
	}

	return script.Run(ctx, s.client, keys, args...).Err()
}

// ListForDay returns the subject's events for a day in ascending timestamp order
func (s *eventStore) ListForDay(ctx context.Context, subjectID, day string) ([]storage.UsageEvent, error) {
	members, err := s.client.ZRange(ctx, eventsKey(subjectID, day), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	events := make([]storage.UsageEvent, 0, len(members))
	for _, raw := range members {
		var m eventMember
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			// Skip entries we cannot decode rather than failing the whole read
			continue
		}

		events = append(events, storage.UsageEvent{
			SubjectID:  subjectID,
			Kind:       m.Kind,
			OccurredAt: m.OccurredAt,
		})
	}

	return events, nil
}

// DeleteDaysBefore removes event logs for days earlier than the cutoff day
func (s *eventStore) DeleteDaysBefore(ctx context.Context, cutoffDay string) (int, error) {
	var cursor uint64
	var deletedCount int

	for {
		var keys []string
		var err error
		keys, cursor, err = s.client.Scan(ctx, cursor, "chatnest:usage:events:*", 100).Result()
		if err != nil {
			return deletedCount, err
		}

		toDelete := make([]string, 0, len(keys))
		for _, key := range keys {
			// Key layout puts the day in the final segment, dates compare
			// lexicographically in YYYY-MM-DD form
			if len(key) < len("2006-01-02") {
				continue
			}
			day := key[len(key)-len("2006-01-02"):]
			if day < cutoffDay {
				toDelete = append(toDelete, key)
			}
		}

		if len(toDelete) > 0 {
			deleted, err := s.client.Del(ctx, toDelete...).Result()
			if err != nil {
				return deletedCount, err
			}
			deletedCount += int(deleted)
		}

		if cursor == 0 {
			break
		}
	}

	return deletedCount, nil
}
