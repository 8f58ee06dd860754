package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/cagedesk/cagedesk/internal/chips"
	"github.com/cagedesk/cagedesk/internal/shared"
)

type dbtx interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Store gives other modules row-level access to the session table inside
// their own transactions. Composite operations lock the session row first,
// so two transactions never interleave updates to the same session.
type Store struct {
	db dbtx
}

// NewStore wraps a transaction or pool.
func NewStore(db dbtx) *Store {
	return &Store{db: db}
}

const sessionColumns = `id, session_date, opening_float, primary_balance, cash_in_hand, online_money, secondary_balance, chip_counters, outstanding_credit, closed, opened_by, closed_by, opened_at, closed_at`

// GetForUpdate locks and loads the session row.
func (s *Store) GetForUpdate(ctx context.Context, id int64) (Session, error) {
	row := s.db.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1 FOR UPDATE`, id)
	return scanSession(row, shared.NotFound("session", id))
}

// UpdateState writes the session's mutable balances, counters, and close state.
func (s *Store) UpdateState(ctx context.Context, sess Session) error {
	countersJSON, err := json.Marshal(sess.Inventory)
	if err != nil {
		return fmt.Errorf("session: marshal counters: %w", err)
	}
	tag, err := s.db.Exec(ctx, `
UPDATE sessions SET
  primary_balance = $2, cash_in_hand = $3, online_money = $4, secondary_balance = $5,
  chip_counters = $6, outstanding_credit = $7, closed = $8, closed_by = $9, closed_at = $10
WHERE id = $1`,
		sess.ID,
		sess.Pools.Primary, sess.Pools.CashInHand, sess.Pools.OnlineMoney, sess.Pools.Secondary,
		countersJSON, sess.OutstandingCredit, sess.Closed, sess.ClosedBy, sess.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("session: update state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound("session", sess.ID)
	}
	return nil
}

func scanSession(row pgx.Row, missing error) (Session, error) {
	var (
		sess         Session
		countersJSON []byte
	)
	err := row.Scan(&sess.ID, &sess.SessionDate, &sess.OpeningFloat,
		&sess.Pools.Primary, &sess.Pools.CashInHand, &sess.Pools.OnlineMoney, &sess.Pools.Secondary,
		&countersJSON, &sess.OutstandingCredit, &sess.Closed,
		&sess.OpenedBy, &sess.ClosedBy, &sess.OpenedAt, &sess.ClosedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Session{}, missing
		}
		return Session{}, fmt.Errorf("session: scan: %w", err)
	}
	if len(countersJSON) > 0 {
		var inv chips.Inventory
		if err := json.Unmarshal(countersJSON, &inv); err != nil {
			return Session{}, fmt.Errorf("session: decode counters: %w", err)
		}
		sess.Inventory = inv
	}
	return sess, nil
}
