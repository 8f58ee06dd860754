package cage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cagedesk/cagedesk/internal/credit"
	"github.com/cagedesk/cagedesk/internal/platform/db"
	"github.com/cagedesk/cagedesk/internal/session"
	"github.com/cagedesk/cagedesk/internal/shared"
	"github.com/cagedesk/cagedesk/internal/txlog"
)

// Repository backs the cage operations with PostgreSQL. It composes the
// session row store and the transaction log so a composite operation
// commits counters, credit rows, and the appended ledger row together.
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

// GetTransaction loads one ledger row.
func (r *Repository) GetTransaction(ctx context.Context, id int64) (txlog.Transaction, error) {
	return txlog.NewRepository(r.pool).Get(ctx, id)
}

// ListTransactions lists ledger rows per the filter.
func (r *Repository) ListTransactions(ctx context.Context, filter txlog.Filter) ([]txlog.Transaction, error) {
	return txlog.NewRepository(r.pool).List(ctx, filter)
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

func (t *txRepo) InsertTransaction(ctx context.Context, tx txlog.Transaction) (int64, error) {
	return t.txlog.Insert(ctx, tx)
}

func (t *txRepo) GetTransactionForUpdate(ctx context.Context, id int64) (txlog.Transaction, error) {
	return t.txlog.GetForUpdate(ctx, id)
}

func (t *txRepo) HasReversal(ctx context.Context, id int64) (bool, error) {
	return t.txlog.HasReversal(ctx, id)
}

func (t *txRepo) UpdateTransactionNote(ctx context.Context, id int64, note string) error {
	return t.txlog.UpdateNote(ctx, id, note)
}

func (t *txRepo) ListOpenRecordsForUpdate(ctx context.Context, sessionID, playerID int64) ([]credit.Record, error) {
	rows, err := t.tx.Query(ctx, `
SELECT id, session_id, player_id, issued, settled, outstanding, fully_settled, issued_by, issued_at, updated_at
FROM credit_records
WHERE session_id = $1 AND player_id = $2 AND NOT fully_settled
ORDER BY id FOR UPDATE`,
		sessionID, playerID)
	if err != nil {
		return nil, fmt.Errorf("cage: list open records: %w", err)
	}
	defer rows.Close()

	var records []credit.Record
	for rows.Next() {
		var rec credit.Record
		err := rows.Scan(&rec.ID, &rec.SessionID, &rec.PlayerID, &rec.Issued, &rec.Settled,
			&rec.Outstanding, &rec.FullySettled, &rec.IssuedBy, &rec.IssuedAt, &rec.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("cage: scan record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (t *txRepo) ApplySettlement(ctx context.Context, alloc credit.Allocation, at time.Time) error {
	tag, err := t.tx.Exec(ctx, `
UPDATE credit_records
SET settled = settled + $2, outstanding = outstanding - $2, fully_settled = $3, updated_at = $4
WHERE id = $1`,
		alloc.RecordID, alloc.Amount, alloc.FullySettled, at)
	if err != nil {
		return fmt.Errorf("cage: apply settlement: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound("credit record", alloc.RecordID)
	}
	return nil
}

func (t *txRepo) SessionOutstanding(ctx context.Context, sessionID int64) (float64, error) {
	var total float64
	err := t.tx.QueryRow(ctx,
		`SELECT COALESCE(SUM(outstanding), 0) FROM credit_records WHERE session_id = $1 AND NOT fully_settled`,
		sessionID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("cage: session outstanding: %w", err)
	}
	return total, nil
}

func (t *txRepo) LifetimeOutstanding(ctx context.Context, playerID int64) (float64, error) {
	var total float64
	err := t.tx.QueryRow(ctx,
		`SELECT COALESCE(SUM(outstanding), 0) FROM credit_records WHERE player_id = $1 AND NOT fully_settled`,
		playerID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("cage: lifetime outstanding: %w", err)
	}
	return total, nil
}

func (t *txRepo) UpdateProfileOutstanding(ctx context.Context, playerID int64, outstanding float64) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE player_profiles SET lifetime_outstanding = $2 WHERE player_id = $1`,
		playerID, outstanding)
	if err != nil {
		return fmt.Errorf("cage: update profile outstanding: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound("player", playerID)
	}
	return nil
}
