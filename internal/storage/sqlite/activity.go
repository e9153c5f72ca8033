package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/splitledger/core/internal/models"
	"github.com/splitledger/core/internal/storage"
)

var _ storage.ActivityStore = (*Store)(nil)

// Save is idempotent: a duplicate dedupe_key (spec.md §5, §9 "activity
// events may be duplicated ... persistence layer should dedupe on a natural
// key") is silently ignored rather than erroring, so JobRunner's
// at-least-once delivery never surfaces a false failure.
func (s *Store) Save(ctx context.Context, e models.ActivityEvent) error {
	if e.ID == "" {
		e.ID = ulid.Make().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	payload, err := encodePayload(e.Payload)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO activity_events (id, dedupe_key, event_type, user_id, scope, expense_id, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.DedupeKey(), string(e.Type), e.UserID, nullableString(e.Scope), nullableString(e.ExpenseID),
		payload, e.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *Store) ListActivityByUser(ctx context.Context, userID string, cursor string, limit int) (storage.Page[models.ActivityEvent], error) {
	return s.listActivity(ctx, "user_id = ?", userID, cursor, limit)
}

func (s *Store) ListActivityByScope(ctx context.Context, scope string, cursor string, limit int) (storage.Page[models.ActivityEvent], error) {
	return s.listActivity(ctx, "scope = ?", scope, cursor, limit)
}

func (s *Store) listActivity(ctx context.Context, where, arg, cursor string, limit int) (storage.Page[models.ActivityEvent], error) {
	limit = storage.NormalizeLimit(limit)
	sortValue, id, err := storage.DecodeCursor(cursor)
	if err != nil {
		return storage.Page[models.ActivityEvent]{}, err
	}

	query := `SELECT id, event_type, user_id, COALESCE(scope,''), COALESCE(expense_id,''), payload, created_at
	          FROM activity_events WHERE ` + where
	args := []any{arg}
	if sortValue != "" {
		query += ` AND (created_at < ? OR (created_at = ? AND id < ?))`
		args = append(args, sortValue, sortValue, id)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return storage.Page[models.ActivityEvent]{}, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var events []models.ActivityEvent
	var createdNs []int64
	for rows.Next() {
		var e models.ActivityEvent
		var eventType, payload string
		var createdAt int64
		if err := rows.Scan(&e.ID, &eventType, &e.UserID, &e.Scope, &e.ExpenseID, &payload, &createdAt); err != nil {
			return storage.Page[models.ActivityEvent]{}, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
		}
		e.Type = models.EventType(eventType)
		decoded, err := decodePayload(payload)
		if err != nil {
			return storage.Page[models.ActivityEvent]{}, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
		}
		e.Payload = decoded
		e.CreatedAt = time.Unix(0, createdAt)
		events = append(events, e)
		createdNs = append(createdNs, createdAt)
	}
	if err := rows.Err(); err != nil {
		return storage.Page[models.ActivityEvent]{}, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}

	page := storage.Page[models.ActivityEvent]{HasMore: len(events) > limit}
	if page.HasMore {
		events = events[:limit]
		createdNs = createdNs[:limit]
	}
	page.Data = events
	if page.HasMore && len(events) > 0 {
		last := len(events) - 1
		page.NextCursor = storage.EncodeCursor(fmt.Sprintf("%d", createdNs[last]), events[last].ID)
	}
	return page, nil
}

// encodePayload/decodePayload store ActivityEvent.Payload as a JSON object,
// the same encoding the teacher's other JSON-shaped columns use rather than
// a hand-rolled delimited format.
func encodePayload(payload map[string]string) (string, error) {
	if len(payload) == 0 {
		return "", nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodePayload(s string) (map[string]string, error) {
	if s == "" {
		return nil, nil
	}
	var out map[string]string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, err
	}
	return out, nil
}
