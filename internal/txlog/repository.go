package txlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/cagedesk/cagedesk/internal/chips"
	"github.com/cagedesk/cagedesk/internal/pools"
	"github.com/cagedesk/cagedesk/internal/shared"
)

type dbtx interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Repository reads and appends cage_transactions rows. It runs against a
// pool or an open pgx transaction, so composite operations can append rows
// inside the same transaction that moves the session counters.
type Repository struct {
	db dbtx
}

// NewRepository constructs a Repository over a pool or transaction.
func NewRepository(db dbtx) *Repository {
	return &Repository{db: db}
}

const insertSQL = `
INSERT INTO cage_transactions
  (code, session_id, tx_type, player_id, amount, chip_value, breakdown, wallet, note, meta, reversal_of, created_by, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
RETURNING id`

// Insert appends one transaction row and returns its id.
func (r *Repository) Insert(ctx context.Context, tx Transaction) (int64, error) {
	breakdownJSON, err := json.Marshal(tx.Breakdown)
	if err != nil {
		return 0, fmt.Errorf("txlog: marshal breakdown: %w", err)
	}
	metaJSON, err := json.Marshal(tx.Meta)
	if err != nil {
		return 0, fmt.Errorf("txlog: marshal meta: %w", err)
	}
	createdAt := tx.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	var id int64
	err = r.db.QueryRow(ctx, insertSQL,
		tx.Code, tx.SessionID, string(tx.Type), tx.PlayerID, tx.Amount, tx.ChipValue,
		breakdownJSON, string(tx.Wallet), tx.Note, metaJSON, tx.ReversalOf, tx.CreatedBy, createdAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("txlog: insert: %w", err)
	}
	return id, nil
}

const selectColumns = `id, code, session_id, tx_type, player_id, amount, chip_value, breakdown, wallet, note, meta, reversal_of, created_by, created_at`

// Get loads one transaction by id.
func (r *Repository) Get(ctx context.Context, id int64) (Transaction, error) {
	row := r.db.QueryRow(ctx, `SELECT `+selectColumns+` FROM cage_transactions WHERE id = $1`, id)
	tx, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, shared.NotFound("transaction", id)
		}
		return Transaction{}, err
	}
	return tx, nil
}

// GetForUpdate locks and loads one transaction by id.
func (r *Repository) GetForUpdate(ctx context.Context, id int64) (Transaction, error) {
	row := r.db.QueryRow(ctx, `SELECT `+selectColumns+` FROM cage_transactions WHERE id = $1 FOR UPDATE`, id)
	tx, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, shared.NotFound("transaction", id)
		}
		return Transaction{}, err
	}
	return tx, nil
}

// HasReversal reports whether a reversal row already references id.
func (r *Repository) HasReversal(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM cage_transactions WHERE reversal_of = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("txlog: has reversal: %w", err)
	}
	return exists, nil
}

// List returns session transactions, newest first, honoring the filter.
func (r *Repository) List(ctx context.Context, filter Filter) ([]Transaction, error) {
	query := `SELECT ` + selectColumns + ` FROM cage_transactions WHERE session_id = $1`
	args := []interface{}{filter.SessionID}
	argPos := 2
	if filter.Type != "" {
		query += fmt.Sprintf(" AND tx_type = $%d", argPos)
		args = append(args, string(filter.Type))
		argPos++
	}
	if filter.PlayerID != 0 {
		query += fmt.Sprintf(" AND player_id = $%d", argPos)
		args = append(args, filter.PlayerID)
		argPos++
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	query += fmt.Sprintf(" ORDER BY id DESC LIMIT $%d", argPos)
	args = append(args, limit)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("txlog: list: %w", err)
	}
	defer rows.Close()

	var txs []Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

// UpdateNote edits the display note, the only mutation an appended row admits.
func (r *Repository) UpdateNote(ctx context.Context, id int64, note string) error {
	tag, err := r.db.Exec(ctx, `UPDATE cage_transactions SET note = $2 WHERE id = $1`, id, note)
	if err != nil {
		return fmt.Errorf("txlog: update note: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound("transaction", id)
	}
	return nil
}

// Summarize aggregates the session's rows for the close summary. Reversal
// rows and the originals they undo cancel in pool state, so both sides of a
// reversed pair are excluded.
func (r *Repository) Summarize(ctx context.Context, sessionID int64) (Sums, error) {
	const query = `
SELECT
  COALESCE(SUM(amount) FILTER (WHERE tx_type IN ('buy_in','deposit_cash','settle_credit','add_float')), 0),
  COALESCE(SUM(amount) FILTER (WHERE tx_type = 'cash_payout'), 0),
  COALESCE(SUM(amount) FILTER (WHERE tx_type IN ('expense','dealer_tip')), 0),
  COUNT(DISTINCT player_id) FILTER (WHERE player_id IS NOT NULL),
  COUNT(*)
FROM cage_transactions t
WHERE t.session_id = $1
  AND t.reversal_of IS NULL
  AND NOT EXISTS (SELECT 1 FROM cage_transactions r WHERE r.reversal_of = t.id)`
	var sums Sums
	err := r.db.QueryRow(ctx, query, sessionID).Scan(
		&sums.TotalDeposits, &sums.TotalWithdrawals, &sums.TotalExpenses,
		&sums.PlayerCount, &sums.TransactionCount,
	)
	if err != nil {
		return Sums{}, fmt.Errorf("txlog: summarize: %w", err)
	}
	return sums, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (Transaction, error) {
	var (
		tx            Transaction
		txType        string
		wallet        string
		breakdownJSON []byte
		metaJSON      []byte
	)
	err := row.Scan(&tx.ID, &tx.Code, &tx.SessionID, &txType, &tx.PlayerID, &tx.Amount, &tx.ChipValue,
		&breakdownJSON, &wallet, &tx.Note, &metaJSON, &tx.ReversalOf, &tx.CreatedBy, &tx.CreatedAt)
	if err != nil {
		return Transaction{}, err
	}
	tx.Type = Type(txType)
	tx.Wallet = pools.Pool(wallet)
	if len(breakdownJSON) > 0 {
		var b chips.Breakdown
		if err := json.Unmarshal(breakdownJSON, &b); err != nil {
			return Transaction{}, fmt.Errorf("txlog: decode breakdown: %w", err)
		}
		tx.Breakdown = b
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &tx.Meta); err != nil {
			return Transaction{}, fmt.Errorf("txlog: decode meta: %w", err)
		}
	}
	return tx, nil
}
