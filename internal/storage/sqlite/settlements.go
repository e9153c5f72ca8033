package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/splitledger/core/internal/models"
	"github.com/splitledger/core/internal/money"
	"github.com/splitledger/core/internal/storage"
)

var _ storage.SettlementStore = (*Store)(nil)

func (s *Store) CreateSettlement(ctx context.Context, st *models.Settlement) error {
	if st.ID == "" {
		st.ID = uuid.New().String()
	}
	if st.CreatedAt.IsZero() {
		st.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settlements (id, scope, debtor_id, creditor_id, amount, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		st.ID, st.Scope, st.DebtorID, st.CreditorID, int64(st.Amount), st.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *Store) ListSettlementsByScope(ctx context.Context, scope string) ([]models.Settlement, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, scope, debtor_id, creditor_id, amount, created_at FROM settlements WHERE scope = ? ORDER BY created_at DESC`,
		scope,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var out []models.Settlement
	for rows.Next() {
		var st models.Settlement
		var amount int64
		var createdNs int64
		if err := rows.Scan(&st.ID, &st.Scope, &st.DebtorID, &st.CreditorID, &amount, &createdNs); err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
		}
		st.Amount = money.Cents(amount)
		st.CreatedAt = time.Unix(0, createdNs)
		out = append(out, st)
	}
	return out, rows.Err()
}
