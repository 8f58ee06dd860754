package credit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cagedesk/cagedesk/internal/chips"
	"github.com/cagedesk/cagedesk/internal/platform/db"
	"github.com/cagedesk/cagedesk/internal/session"
	"github.com/cagedesk/cagedesk/internal/shared"
	"github.com/cagedesk/cagedesk/internal/txlog"
)

// Repository persists credit records, requests, and player profiles.
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
		return fn(ctx, &txRepo{tx: tx, sessions: session.NewStore(tx), txlog: txlog.NewRepository(tx)})
	})
}

// GetProfile loads a player's credit profile.
func (r *Repository) GetProfile(ctx context.Context, playerID int64) (Profile, error) {
	return scanProfile(r.pool.QueryRow(ctx,
		`SELECT player_id, name, credit_limit, lifetime_outstanding FROM player_profiles WHERE player_id = $1`,
		playerID), playerID)
}

// ListProfileIDs returns every known player id.
func (r *Repository) ListProfileIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT player_id FROM player_profiles ORDER BY player_id`)
	if err != nil {
		return nil, fmt.Errorf("credit: list profile ids: %w", err)
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

const recordColumns = `id, session_id, player_id, issued, settled, outstanding, fully_settled, breakdown, issued_by, issued_at, updated_at`

// ListRecords returns a session's credit records oldest-first, optionally
// narrowed to a player when playerID is non-zero.
func (r *Repository) ListRecords(ctx context.Context, sessionID, playerID int64) ([]Record, error) {
	query := `SELECT ` + recordColumns + ` FROM credit_records WHERE session_id = $1`
	args := []any{sessionID}
	if playerID != 0 {
		query += ` AND player_id = $2`
		args = append(args, playerID)
	}
	query += ` ORDER BY id`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("credit: list records: %w", err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

// ListRequests returns a session's credit requests, optionally filtered by
// status.
func (r *Repository) ListRequests(ctx context.Context, sessionID int64, status RequestStatus) ([]Request, error) {
	query := `SELECT id, session_id, player_id, amount, breakdown, status, note, requested_by, requested_at, decided_by, decided_at
FROM credit_requests WHERE session_id = $1`
	args := []any{sessionID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, status)
	}
	query += ` ORDER BY id`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("credit: list requests: %w", err)
	}
	defer rows.Close()

	var requests []Request
	for rows.Next() {
		req, err := scanRequestRow(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, req)
	}
	return requests, rows.Err()
}

type txRepo struct {
	tx       pgx.Tx
	sessions *session.Store
	txlog    *txlog.Repository
}

func (t *txRepo) GetSessionForUpdate(ctx context.Context, id int64) (session.Session, error) {
	return t.sessions.GetForUpdate(ctx, id)
}

func (t *txRepo) UpdateSessionState(ctx context.Context, sess session.Session) error {
	return t.sessions.UpdateState(ctx, sess)
}

func (t *txRepo) GetProfileForUpdate(ctx context.Context, playerID int64) (Profile, error) {
	return scanProfile(t.tx.QueryRow(ctx,
		`SELECT player_id, name, credit_limit, lifetime_outstanding FROM player_profiles WHERE player_id = $1 FOR UPDATE`,
		playerID), playerID)
}

func (t *txRepo) UpdateProfileOutstanding(ctx context.Context, playerID int64, outstanding float64) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE player_profiles SET lifetime_outstanding = $2 WHERE player_id = $1`,
		playerID, outstanding)
	if err != nil {
		return fmt.Errorf("credit: update profile outstanding: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound("player", playerID)
	}
	return nil
}

func (t *txRepo) LifetimeOutstanding(ctx context.Context, playerID int64) (float64, error) {
	var total float64
	err := t.tx.QueryRow(ctx,
		`SELECT COALESCE(SUM(outstanding), 0) FROM credit_records WHERE player_id = $1 AND NOT fully_settled`,
		playerID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("credit: lifetime outstanding: %w", err)
	}
	return total, nil
}

func (t *txRepo) SessionOutstanding(ctx context.Context, sessionID int64) (float64, error) {
	var total float64
	err := t.tx.QueryRow(ctx,
		`SELECT COALESCE(SUM(outstanding), 0) FROM credit_records WHERE session_id = $1 AND NOT fully_settled`,
		sessionID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("credit: session outstanding: %w", err)
	}
	return total, nil
}

func (t *txRepo) ListOpenRecordsForUpdate(ctx context.Context, sessionID, playerID int64) ([]Record, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT `+recordColumns+` FROM credit_records
WHERE session_id = $1 AND player_id = $2 AND NOT fully_settled
ORDER BY id FOR UPDATE`,
		sessionID, playerID)
	if err != nil {
		return nil, fmt.Errorf("credit: list open records: %w", err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

func (t *txRepo) InsertRecord(ctx context.Context, rec Record) (int64, error) {
	breakdownJSON, err := json.Marshal(rec.Breakdown)
	if err != nil {
		return 0, fmt.Errorf("credit: marshal breakdown: %w", err)
	}
	var id int64
	err = t.tx.QueryRow(ctx, `
INSERT INTO credit_records
  (session_id, player_id, issued, settled, outstanding, fully_settled, breakdown, issued_by, issued_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING id`,
		rec.SessionID, rec.PlayerID, rec.Issued, rec.Settled, rec.Outstanding,
		rec.FullySettled, breakdownJSON, rec.IssuedBy, rec.IssuedAt, rec.UpdatedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("credit: insert record: %w", err)
	}
	return id, nil
}

func (t *txRepo) ApplySettlement(ctx context.Context, alloc Allocation, at time.Time) error {
	tag, err := t.tx.Exec(ctx, `
UPDATE credit_records
SET settled = settled + $2, outstanding = outstanding - $2, fully_settled = $3, updated_at = $4
WHERE id = $1`,
		alloc.RecordID, alloc.Amount, alloc.FullySettled, at)
	if err != nil {
		return fmt.Errorf("credit: apply settlement: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound("credit record", alloc.RecordID)
	}
	return nil
}

func (t *txRepo) InsertRequest(ctx context.Context, req Request) (int64, error) {
	breakdownJSON, err := json.Marshal(req.Breakdown)
	if err != nil {
		return 0, fmt.Errorf("credit: marshal breakdown: %w", err)
	}
	var id int64
	err = t.tx.QueryRow(ctx, `
INSERT INTO credit_requests
  (session_id, player_id, amount, breakdown, status, note, requested_by, requested_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING id`,
		req.SessionID, req.PlayerID, req.Amount, breakdownJSON,
		req.Status, req.Note, req.RequestedBy, req.RequestedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("credit: insert request: %w", err)
	}
	return id, nil
}

func (t *txRepo) GetRequestForUpdate(ctx context.Context, id int64) (Request, error) {
	row := t.tx.QueryRow(ctx,
		`SELECT id, session_id, player_id, amount, breakdown, status, note, requested_by, requested_at, decided_by, decided_at
FROM credit_requests WHERE id = $1 FOR UPDATE`, id)
	req, err := scanRequestRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Request{}, shared.NotFound("credit request", id)
		}
		return Request{}, err
	}
	return req, nil
}

func (t *txRepo) UpdateRequest(ctx context.Context, req Request) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE credit_requests SET status = $2, note = $3, decided_by = $4, decided_at = $5 WHERE id = $1`,
		req.ID, req.Status, req.Note, req.DecidedBy, req.DecidedAt)
	if err != nil {
		return fmt.Errorf("credit: update request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound("credit request", req.ID)
	}
	return nil
}

func (t *txRepo) InsertTransaction(ctx context.Context, tx txlog.Transaction) (int64, error) {
	return t.txlog.Insert(ctx, tx)
}

func scanProfile(row pgx.Row, playerID int64) (Profile, error) {
	var p Profile
	err := row.Scan(&p.PlayerID, &p.Name, &p.CreditLimit, &p.LifetimeOutstanding)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Profile{}, shared.NotFound("player", playerID)
		}
		return Profile{}, fmt.Errorf("credit: scan profile: %w", err)
	}
	return p, nil
}

func collectRecords(rows pgx.Rows) ([]Record, error) {
	var records []Record
	for rows.Next() {
		var (
			rec           Record
			breakdownJSON []byte
		)
		err := rows.Scan(&rec.ID, &rec.SessionID, &rec.PlayerID, &rec.Issued, &rec.Settled,
			&rec.Outstanding, &rec.FullySettled, &breakdownJSON, &rec.IssuedBy, &rec.IssuedAt, &rec.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("credit: scan record: %w", err)
		}
		if len(breakdownJSON) > 0 {
			var b chips.Breakdown
			if err := json.Unmarshal(breakdownJSON, &b); err != nil {
				return nil, fmt.Errorf("credit: decode breakdown: %w", err)
			}
			rec.Breakdown = b
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanRequestRow(row pgx.Row) (Request, error) {
	var (
		req           Request
		breakdownJSON []byte
	)
	err := row.Scan(&req.ID, &req.SessionID, &req.PlayerID, &req.Amount, &breakdownJSON,
		&req.Status, &req.Note, &req.RequestedBy, &req.RequestedAt, &req.DecidedBy, &req.DecidedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Request{}, err
		}
		return Request{}, fmt.Errorf("credit: scan request: %w", err)
	}
	if len(breakdownJSON) > 0 {
		var b chips.Breakdown
		if err := json.Unmarshal(breakdownJSON, &b); err != nil {
			return Request{}, fmt.Errorf("credit: decode breakdown: %w", err)
		}
		req.Breakdown = b
	}
	return req, nil
}
