package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/splitledger/core/internal/models"
	"github.com/splitledger/core/internal/money"
	"github.com/splitledger/core/internal/storage"
)

var _ storage.BalanceStore = (*Store)(nil)

// GetPair returns the balance row for (scope, debtor, creditor), or nil if
// absent (spec.md §4.3). A row with amount=0 never exists, by invariant N2.
func (s *Store) GetPair(ctx context.Context, scope, debtor, creditor string) (*models.BalanceEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT amount, COALESCE(last_expense_id, ''), updated_at FROM balances
		 WHERE scope = ? AND debtor = ? AND creditor = ?`,
		scope, debtor, creditor,
	)
	var amount int64
	var lastExpenseID string
	var updatedAt int64
	if err := row.Scan(&amount, &lastExpenseID, &updatedAt); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	return &models.BalanceEntry{
		Scope: scope, Debtor: debtor, Creditor: creditor,
		Amount: money.Cents(amount), LastExpenseID: lastExpenseID,
		UpdatedAt: time.Unix(0, updatedAt),
	}, nil
}

// UpsertAtomic applies one delta to a single (scope, debtor, creditor) row
// inside a transaction, deleting the row if the result is zero (invariant
// N2). Callers are expected to already hold the scope lock; this method's
// atomicity is per-key, not a substitute for that lock across multiple keys.
func (s *Store) UpsertAtomic(ctx context.Context, scope, debtor, creditor string, d storage.Delta) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	var current int64
	err = tx.QueryRowContext(ctx,
		`SELECT amount FROM balances WHERE scope = ? AND debtor = ? AND creditor = ?`,
		scope, debtor, creditor,
	).Scan(&current)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}

	var next int64
	switch d.Kind {
	case storage.Increment:
		next = current + int64(d.Amount)
	case storage.Decrement:
		next = current - int64(d.Amount)
		if next < 0 {
			return fmt.Errorf("%w: decrement below zero for (%s,%s,%s)", models.ErrInvalidSettlement, scope, debtor, creditor)
		}
	case storage.Set:
		next = int64(d.Amount)
	case storage.Delete:
		next = 0
	default:
		return fmt.Errorf("unknown delta kind %d", d.Kind)
	}

	now := time.Now().UnixNano()
	if next <= 0 {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM balances WHERE scope = ? AND debtor = ? AND creditor = ?`,
			scope, debtor, creditor,
		); err != nil {
			return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
		}
	} else {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO balances (scope, debtor, creditor, amount, last_expense_id, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(scope, debtor, creditor) DO UPDATE SET
			   amount = excluded.amount,
			   last_expense_id = excluded.last_expense_id,
			   updated_at = excluded.updated_at`,
			scope, debtor, creditor, next, nullableString(d.ExpenseID), now,
		); err != nil {
			return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *Store) ScanByDebtor(ctx context.Context, userID string) ([]models.BalanceEntry, error) {
	return s.scan(ctx, "debtor = ?", userID)
}

func (s *Store) ScanByCreditor(ctx context.Context, userID string) ([]models.BalanceEntry, error) {
	return s.scan(ctx, "creditor = ?", userID)
}

func (s *Store) ScanByScope(ctx context.Context, scope string) ([]models.BalanceEntry, error) {
	return s.scan(ctx, "scope = ?", scope)
}

func (s *Store) scan(ctx context.Context, where string, arg string) ([]models.BalanceEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT scope, debtor, creditor, amount, COALESCE(last_expense_id, ''), updated_at
		 FROM balances WHERE `+where,
		arg,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var out []models.BalanceEntry
	for rows.Next() {
		var e models.BalanceEntry
		var amount int64
		var updatedAt int64
		if err := rows.Scan(&e.Scope, &e.Debtor, &e.Creditor, &amount, &e.LastExpenseID, &updatedAt); err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
		}
		e.Amount = money.Cents(amount)
		e.UpdatedAt = time.Unix(0, updatedAt)
		// amount=0 rows are never persisted (N2), but guard defensively.
		if e.Amount.Positive() {
			out = append(out, e)
		}
	}
	return out, rows.Err()
}

// BulkReplace atomically replaces every balance row for scope, used only by
// Recompute (spec.md §4.7).
func (s *Store) BulkReplace(ctx context.Context, scope string, entries []models.BalanceEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM balances WHERE scope = ?`, scope); err != nil {
		return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}

	now := time.Now().UnixNano()
	for _, e := range entries {
		if !e.Amount.Positive() {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO balances (scope, debtor, creditor, amount, last_expense_id, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			scope, e.Debtor, e.Creditor, int64(e.Amount), nullableString(e.LastExpenseID), now,
		); err != nil {
			return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	return nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
