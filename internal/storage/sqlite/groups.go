package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/splitledger/core/internal/models"
	"github.com/splitledger/core/internal/storage"
)

var _ storage.GroupStore = (*Store)(nil)

func (s *Store) CreateGroup(ctx context.Context, g *models.Group) error {
	if g.ID == "" {
		g.ID = uuid.New().String()
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO groups (id, name, creator_id, created_at) VALUES (?, ?, ?, ?)`,
		g.ID, g.Name, g.CreatorID, g.CreatedAt.UnixNano(),
	); err != nil {
		return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}

	for member := range g.Members {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO group_members (group_id, user_id) VALUES (?, ?)`, g.ID, member,
		); err != nil {
			return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *Store) GetGroup(ctx context.Context, id string) (*models.Group, error) {
	g := &models.Group{ID: id, Members: make(map[string]struct{})}
	var createdNs int64
	var deletedNs sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT name, creator_id, created_at, deleted_at FROM groups WHERE id = ?`, id,
	).Scan(&g.Name, &g.CreatorID, &createdNs, &deletedNs)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("group not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	g.CreatedAt = time.Unix(0, createdNs)
	if deletedNs.Valid {
		t := time.Unix(0, deletedNs.Int64)
		g.DeletedAt = &t
	}

	rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM group_members WHERE group_id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	defer rows.Close()
	for rows.Next() {
		var member string
		if err := rows.Scan(&member); err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
		}
		g.Members[member] = struct{}{}
	}
	return g, rows.Err()
}

func (s *Store) AddMembers(ctx context.Context, groupID string, userIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	defer tx.Rollback()
	for _, u := range userIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO group_members (group_id, user_id) VALUES (?, ?)`, groupID, u,
		); err != nil {
			return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	return nil
}

// SoftDelete marks a group deleted, but only if byUserID is the creator
// (spec.md §3: "Groups are created then soft-deleted only by creator").
func (s *Store) SoftDelete(ctx context.Context, groupID, byUserID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE groups SET deleted_at = ? WHERE id = ? AND creator_id = ? AND deleted_at IS NULL`,
		time.Now().UnixNano(), groupID, byUserID,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: only the creator may delete group %s", models.ErrNotMember, groupID)
	}
	return nil
}

func (s *Store) ListGroups(ctx context.Context) ([]models.Group, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM groups WHERE deleted_at IS NULL ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}

	out := make([]models.Group, 0, len(ids))
	for _, id := range ids {
		g, err := s.GetGroup(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, *g)
	}
	return out, nil
}
