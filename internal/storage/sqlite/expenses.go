package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/splitledger/core/internal/models"
	"github.com/splitledger/core/internal/money"
	"github.com/splitledger/core/internal/storage"
)

var _ storage.ExpenseStore = (*Store)(nil)

func (s *Store) CreateExpense(ctx context.Context, e *models.Expense) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if e.Date.IsZero() {
		e.Date = e.CreatedAt
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO expenses (id, scope, payer_id, amount, split_mode, expense_date, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Scope, e.PayerID, int64(e.Amount), string(e.SplitMode), e.Date.UnixNano(), e.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}

	for _, p := range e.Participants {
		var exact, pct any
		if p.ExactAmount != nil {
			exact = int64(*p.ExactAmount)
		}
		if p.PercentBp != nil {
			pct = *p.PercentBp
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO expense_participants (expense_id, user_id, exact_amount, percent_bp) VALUES (?, ?, ?, ?)`,
			e.ID, p.UserID, exact, pct,
		); err != nil {
			return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
		}
	}

	for _, sp := range e.Splits {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO expense_splits (expense_id, user_id, amount) VALUES (?, ?, ?)`,
			e.ID, sp.UserID, int64(sp.Amount),
		); err != nil {
			return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *Store) GetExpense(ctx context.Context, id string) (*models.Expense, error) {
	e := &models.Expense{ID: id}
	var amount int64
	var splitMode string
	var dateNs, createdNs int64
	err := s.db.QueryRowContext(ctx,
		`SELECT scope, payer_id, amount, split_mode, expense_date, created_at FROM expenses WHERE id = ?`, id,
	).Scan(&e.Scope, &e.PayerID, &amount, &splitMode, &dateNs, &createdNs)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("expense not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	e.Amount = money.Cents(amount)
	e.SplitMode = models.SplitMode(splitMode)
	e.Date = time.Unix(0, dateNs)
	e.CreatedAt = time.Unix(0, createdNs)

	if err := s.loadParticipants(ctx, e); err != nil {
		return nil, err
	}
	if err := s.loadSplits(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

func (s *Store) loadParticipants(ctx context.Context, e *models.Expense) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, exact_amount, percent_bp FROM expense_participants WHERE expense_id = ?`, e.ID)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	defer rows.Close()
	for rows.Next() {
		var p models.Participant
		var exact, pct sql.NullInt64
		if err := rows.Scan(&p.UserID, &exact, &pct); err != nil {
			return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
		}
		if exact.Valid {
			v := money.Cents(exact.Int64)
			p.ExactAmount = &v
		}
		if pct.Valid {
			v := int(pct.Int64)
			p.PercentBp = &v
		}
		e.Participants = append(e.Participants, p)
	}
	return rows.Err()
}

func (s *Store) loadSplits(ctx context.Context, e *models.Expense) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, amount FROM expense_splits WHERE expense_id = ?`, e.ID)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	defer rows.Close()
	for rows.Next() {
		var sp models.Split
		var amt int64
		if err := rows.Scan(&sp.UserID, &amt); err != nil {
			return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
		}
		sp.Amount = money.Cents(amt)
		e.Splits = append(e.Splits, sp)
	}
	return rows.Err()
}

// ListExpensesByScope returns a cursor page of expenses for scope, newest first.
func (s *Store) ListExpensesByScope(ctx context.Context, scope string, cursor string, limit int) (storage.Page[models.Expense], error) {
	limit = storage.NormalizeLimit(limit)
	sortValue, id, err := storage.DecodeCursor(cursor)
	if err != nil {
		return storage.Page[models.Expense]{}, err
	}

	query := `SELECT id, created_at FROM expenses WHERE scope = ?`
	args := []any{scope}
	if sortValue != "" {
		query += ` AND (created_at < ? OR (created_at = ? AND id < ?))`
		args = append(args, sortValue, sortValue, id)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return storage.Page[models.Expense]{}, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	var ids []string
	var createdNs []int64
	for rows.Next() {
		var i string
		var c int64
		if err := rows.Scan(&i, &c); err != nil {
			rows.Close()
			return storage.Page[models.Expense]{}, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
		}
		ids = append(ids, i)
		createdNs = append(createdNs, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return storage.Page[models.Expense]{}, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}

	hasMore := len(ids) > limit
	if hasMore {
		ids = ids[:limit]
		createdNs = createdNs[:limit]
	}

	page := storage.Page[models.Expense]{HasMore: hasMore}
	for i, expID := range ids {
		e, err := s.GetExpense(ctx, expID)
		if err != nil {
			return storage.Page[models.Expense]{}, err
		}
		page.Data = append(page.Data, *e)
		if i == len(ids)-1 && hasMore {
			page.NextCursor = storage.EncodeCursor(fmt.Sprintf("%d", createdNs[i]), expID)
		}
	}
	return page, nil
}

// ListExpensesByScopeOrdered returns every expense for scope in createdAt ascending
// order, used only by Recompute (spec.md §4.7).
func (s *Store) ListExpensesByScopeOrdered(ctx context.Context, scope string) ([]models.Expense, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM expenses WHERE scope = ? ORDER BY created_at ASC, id ASC`, scope)
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

	out := make([]models.Expense, 0, len(ids))
	for _, id := range ids {
		e, err := s.GetExpense(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, nil
}
