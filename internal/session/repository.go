package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cagedesk/cagedesk/internal/platform/db"
	"github.com/cagedesk/cagedesk/internal/shared"
	"github.com/cagedesk/cagedesk/internal/txlog"
)

// Repository persists sessions, shifts, and cashiers in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx, store: NewStore(tx), txlog: txlog.NewRepository(tx)})
	})
}

// GetSession loads a session by id.
func (r *Repository) GetSession(ctx context.Context, id int64) (Session, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	return scanSession(row, shared.NotFound("session", id))
}

// GetOpenByDate loads the open session for a date.
func (r *Repository) GetOpenByDate(ctx context.Context, date time.Time) (Session, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE session_date = $1 AND NOT closed`, date)
	return scanSession(row, ErrNoOpenSession)
}

// ListOpenIDs returns the ids of every session not yet closed. The
// reconciliation sweep walks these.
func (r *Repository) ListOpenIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM sessions WHERE NOT closed ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("session: list open ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetCashier loads a cashier by id.
func (r *Repository) GetCashier(ctx context.Context, id int64) (Cashier, error) {
	var c Cashier
	err := r.pool.QueryRow(ctx, `SELECT id, name, pin_hash FROM cashiers WHERE id = $1`, id).
		Scan(&c.ID, &c.Name, &c.PINHash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Cashier{}, shared.NotFound("cashier", id)
		}
		return Cashier{}, fmt.Errorf("session: get cashier: %w", err)
	}
	return c, nil
}

// ListShifts returns the session's shifts, oldest first.
func (r *Repository) ListShifts(ctx context.Context, sessionID int64) ([]Shift, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, session_id, cashier_id, started_at, ended_at, ended_by FROM shifts WHERE session_id = $1 ORDER BY id`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("session: list shifts: %w", err)
	}
	defer rows.Close()

	var shifts []Shift
	for rows.Next() {
		var s Shift
		if err := rows.Scan(&s.ID, &s.SessionID, &s.CashierID, &s.StartedAt, &s.EndedAt, &s.EndedBy); err != nil {
			return nil, err
		}
		shifts = append(shifts, s)
	}
	return shifts, rows.Err()
}

type txRepo struct {
	tx    pgx.Tx
	store *Store
	txlog *txlog.Repository
}

func (t *txRepo) GetOpenByDateForUpdate(ctx context.Context, date time.Time) (Session, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE session_date = $1 AND NOT closed FOR UPDATE`, date)
	return scanSession(row, ErrNoOpenSession)
}

func (t *txRepo) GetSessionForUpdate(ctx context.Context, id int64) (Session, error) {
	return t.store.GetForUpdate(ctx, id)
}

func (t *txRepo) InsertSession(ctx context.Context, sess Session) (int64, error) {
	countersJSON, err := json.Marshal(sess.Inventory)
	if err != nil {
		return 0, fmt.Errorf("session: marshal counters: %w", err)
	}
	var id int64
	err = t.tx.QueryRow(ctx, `
INSERT INTO sessions
  (session_date, opening_float, primary_balance, cash_in_hand, online_money, secondary_balance, chip_counters, outstanding_credit, closed, opened_by, opened_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, FALSE, $9, $10)
RETURNING id`,
		sess.SessionDate, sess.OpeningFloat,
		sess.Pools.Primary, sess.Pools.CashInHand, sess.Pools.OnlineMoney, sess.Pools.Secondary,
		countersJSON, sess.OutstandingCredit, sess.OpenedBy, sess.OpenedAt,
	).Scan(&id)
	if err != nil {
		if conflict := openSessionConflict(err, sess.SessionDate); conflict != nil {
			return 0, conflict
		}
		return 0, fmt.Errorf("session: insert: %w", err)
	}
	return id, nil
}

// openSessionConflict maps the sessions_open_per_date unique violation to the
// state error callers already handle. The open-by-date lookup catches most
// duplicates; this covers the race where two opens pass it concurrently.
func openSessionConflict(err error, date time.Time) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "sessions_open_per_date" {
		return shared.SessionStatef("a session is already open for %s", date.Format("2006-01-02"))
	}
	return nil
}

func (t *txRepo) UpdateSessionState(ctx context.Context, sess Session) error {
	return t.store.UpdateState(ctx, sess)
}

func (t *txRepo) InsertShift(ctx context.Context, shift Shift) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO shifts (session_id, cashier_id, started_at) VALUES ($1, $2, $3) RETURNING id`,
		shift.SessionID, shift.CashierID, shift.StartedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("session: insert shift: %w", err)
	}
	return id, nil
}

func (t *txRepo) GetShiftForUpdate(ctx context.Context, id int64) (Shift, error) {
	var s Shift
	err := t.tx.QueryRow(ctx,
		`SELECT id, session_id, cashier_id, started_at, ended_at, ended_by FROM shifts WHERE id = $1 FOR UPDATE`, id).
		Scan(&s.ID, &s.SessionID, &s.CashierID, &s.StartedAt, &s.EndedAt, &s.EndedBy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Shift{}, shared.NotFound("shift", id)
		}
		return Shift{}, fmt.Errorf("session: get shift: %w", err)
	}
	return s, nil
}

func (t *txRepo) UpdateShift(ctx context.Context, shift Shift) error {
	_, err := t.tx.Exec(ctx, `UPDATE shifts SET ended_at = $2, ended_by = $3 WHERE id = $1`,
		shift.ID, shift.EndedAt, shift.EndedBy)
	if err != nil {
		return fmt.Errorf("session: update shift: %w", err)
	}
	return nil
}

func (t *txRepo) EndOpenShifts(ctx context.Context, sessionID, endedBy int64, at time.Time) (int, error) {
	tag, err := t.tx.Exec(ctx,
		`UPDATE shifts SET ended_at = $2, ended_by = $3 WHERE session_id = $1 AND ended_at IS NULL`,
		sessionID, at, endedBy)
	if err != nil {
		return 0, fmt.Errorf("session: end open shifts: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (t *txRepo) InsertTransaction(ctx context.Context, tx txlog.Transaction) (int64, error) {
	return t.txlog.Insert(ctx, tx)
}

func (t *txRepo) Summarize(ctx context.Context, sessionID int64) (txlog.Sums, error) {
	return t.txlog.Summarize(ctx, sessionID)
}

func (t *txRepo) CountPendingCreditRequests(ctx context.Context, sessionID int64) (int, error) {
	var count int
	err := t.tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM credit_requests WHERE session_id = $1 AND status = 'PENDING'`, sessionID).
		Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("session: count pending credit requests: %w", err)
	}
	return count, nil
}

func (t *txRepo) SessionOutstanding(ctx context.Context, sessionID int64) (float64, error) {
	var total float64
	err := t.tx.QueryRow(ctx,
		`SELECT COALESCE(SUM(outstanding), 0) FROM credit_records WHERE session_id = $1 AND NOT fully_settled`, sessionID).
		Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("session: sum outstanding: %w", err)
	}
	return total, nil
}
