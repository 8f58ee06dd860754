package cage

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/cagedesk/cagedesk/internal/credit"
	"github.com/cagedesk/cagedesk/internal/observability"
	"github.com/cagedesk/cagedesk/internal/pools"
	"github.com/cagedesk/cagedesk/internal/session"
	"github.com/cagedesk/cagedesk/internal/shared"
	"github.com/cagedesk/cagedesk/internal/txlog"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetTransaction(ctx context.Context, id int64) (txlog.Transaction, error)
	ListTransactions(ctx context.Context, filter txlog.Filter) ([]txlog.Transaction, error)
}

// TxRepository exposes the transactional operations the composite cage
// operations need. The session row is locked first on every mutating path.
type TxRepository interface {
	GetSessionForUpdate(ctx context.Context, id int64) (session.Session, error)
	UpdateSessionState(ctx context.Context, sess session.Session) error
	InsertTransaction(ctx context.Context, tx txlog.Transaction) (int64, error)
	GetTransactionForUpdate(ctx context.Context, id int64) (txlog.Transaction, error)
	HasReversal(ctx context.Context, id int64) (bool, error)
	UpdateTransactionNote(ctx context.Context, id int64, note string) error
	ListOpenRecordsForUpdate(ctx context.Context, sessionID, playerID int64) ([]credit.Record, error)
	ApplySettlement(ctx context.Context, alloc credit.Allocation, at time.Time) error
	SessionOutstanding(ctx context.Context, sessionID int64) (float64, error)
	LifetimeOutstanding(ctx context.Context, playerID int64) (float64, error)
	UpdateProfileOutstanding(ctx context.Context, playerID int64, outstanding float64) error
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// SummaryInvalidator drops a cached session summary after a mutation.
type SummaryInvalidator interface {
	Invalidate(ctx context.Context, sessionID int64) error
}

// Service coordinates the composite cage operations.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	idempotency *shared.IdempotencyStore
	metrics     *observability.Metrics
	cache       SummaryInvalidator
	now         func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, idem *shared.IdempotencyStore, metrics *observability.Metrics, cache SummaryInvalidator) *Service {
	return &Service{repo: repo, audit: audit, idempotency: idem, metrics: metrics, cache: cache, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// BuyIn sells chips for money: chips leave the tray, the paying mode's
// pool and the secondary mirror are credited.
func (s *Service) BuyIn(ctx context.Context, input BuyInInput) (Result, error) {
	if input.Amount <= 0 {
		return Result{}, shared.Validationf("buy-in amount must be positive, got %.2f", input.Amount)
	}
	if !input.Mode.Valid() {
		return Result{}, shared.Validationf("unknown payment mode %q", input.Mode)
	}
	if err := input.Breakdown.Validate(); err != nil {
		return Result{}, err
	}
	if input.Breakdown.IsZero() {
		return Result{}, shared.Validationf("buy-in requires a chip breakdown")
	}
	if err := input.Breakdown.ValidateAgainstAmount(input.Amount); err != nil {
		return Result{}, err
	}

	return s.run(ctx, txlog.TypeBuyIn, input.Code, input.ActorID, func(ctx context.Context, tx TxRepository, code string, now time.Time) (Result, error) {
		sess, err := tx.GetSessionForUpdate(ctx, input.SessionID)
		if err != nil {
			return Result{}, err
		}
		if err := sess.EnsureOpen(); err != nil {
			return Result{}, err
		}
		if err := sess.Inventory.GiveOut(input.Breakdown); err != nil {
			return Result{}, err
		}
		pool, err := sess.Pools.CreditInflow(input.Mode, input.Amount)
		if err != nil {
			return Result{}, err
		}

		message := fmt.Sprintf("Buy-in of %s via %s", shared.FormatINR(input.Amount), input.Mode)
		txID, err := tx.InsertTransaction(ctx, txlog.Transaction{
			Code:      code,
			SessionID: input.SessionID,
			Type:      txlog.TypeBuyIn,
			PlayerID:  optionalID(input.PlayerID),
			Amount:    input.Amount,
			ChipValue: input.Breakdown.Value(),
			Breakdown: input.Breakdown,
			Wallet:    pool,
			Note:      joinNote(message, input.Note),
			Meta:      map[string]any{txlog.MetaMode: input.Mode},
			CreatedBy: input.ActorID,
			CreatedAt: now,
		})
		if err != nil {
			return Result{}, err
		}
		if err := tx.UpdateSessionState(ctx, sess); err != nil {
			return Result{}, err
		}
		return Result{TransactionID: txID, Code: code, Pools: sess.Pools, Message: message}, nil
	}, map[string]any{"session_id": input.SessionID, "player_id": input.PlayerID, "amount": input.Amount})
}

// Payout redeems chips: the tray takes the chips back, cash leaves
// cash-in-hand first then the primary float, and any chip value beyond the
// cash paid settles the player's open credit oldest-first. Chip value must
// account for the cash plus the settled portion.
func (s *Service) Payout(ctx context.Context, input PayoutInput) (Result, error) {
	if input.CashAmount < 0 {
		return Result{}, shared.Validationf("payout amount must not be negative, got %.2f", input.CashAmount)
	}
	if err := input.Breakdown.Validate(); err != nil {
		return Result{}, err
	}
	if input.Breakdown.IsZero() {
		return Result{}, shared.Validationf("payout requires returned chips")
	}
	chipValue := input.Breakdown.Value()
	settleAmount := chipValue - input.CashAmount
	if settleAmount < -shared.AmountTolerance {
		return Result{}, shared.Validationf("cash %.2f exceeds returned chip value %.2f", input.CashAmount, chipValue)
	}
	if settleAmount > shared.AmountTolerance && input.PlayerID == 0 {
		return Result{}, shared.Validationf("chip value %.2f exceeds cash %.2f and no player given for credit settlement", chipValue, input.CashAmount)
	}

	return s.run(ctx, txlog.TypeCashPayout, input.Code, input.ActorID, func(ctx context.Context, tx TxRepository, code string, now time.Time) (Result, error) {
		sess, err := tx.GetSessionForUpdate(ctx, input.SessionID)
		if err != nil {
			return Result{}, err
		}
		if err := sess.EnsureOpen(); err != nil {
			return Result{}, err
		}

		// validate everything before the first mutation
		var debits []pools.Debit
		if input.CashAmount > 0 {
			debits, err = sess.Pools.PlanCashOutflow(input.CashAmount)
			if err != nil {
				return Result{}, err
			}
		}
		var allocations []credit.Allocation
		if settleAmount > shared.AmountTolerance {
			records, err := tx.ListOpenRecordsForUpdate(ctx, input.SessionID, input.PlayerID)
			if err != nil {
				return Result{}, err
			}
			allocations, err = credit.AllocateSettlement(records, settleAmount)
			if err != nil {
				return Result{}, err
			}
		}

		surplus, err := sess.Inventory.ReceiveBack(input.Breakdown)
		if err != nil {
			return Result{}, err
		}
		sess.Pools.ApplyDebits(debits)
		for _, alloc := range allocations {
			if err := tx.ApplySettlement(ctx, alloc, now); err != nil {
				return Result{}, err
			}
		}

		meta := map[string]any{txlog.MetaDebits: debits}
		if len(allocations) > 0 {
			meta[txlog.MetaSettled] = allocations
		}
		if surplus > 0 {
			meta[txlog.MetaChipSurplus] = surplus
		}
		message := payoutMessage(input.CashAmount, settleAmount, debits)
		txID, err := tx.InsertTransaction(ctx, txlog.Transaction{
			Code:      code,
			SessionID: input.SessionID,
			Type:      txlog.TypeCashPayout,
			PlayerID:  optionalID(input.PlayerID),
			Amount:    input.CashAmount,
			ChipValue: chipValue,
			Breakdown: input.Breakdown,
			Wallet:    walletOf(debits),
			Note:      joinNote(message, input.Note),
			Meta:      meta,
			CreatedBy: input.ActorID,
			CreatedAt: now,
		})
		if err != nil {
			return Result{}, err
		}

		if len(allocations) > 0 {
			if err := s.recomputeOutstanding(ctx, tx, &sess, input.PlayerID); err != nil {
				return Result{}, err
			}
		}
		if err := tx.UpdateSessionState(ctx, sess); err != nil {
			return Result{}, err
		}
		return Result{
			TransactionID: txID,
			Code:          code,
			Pools:         sess.Pools,
			Debits:        debits,
			Settled:       allocations,
			ChipSurplus:   surplus,
			Message:       message,
		}, nil
	}, map[string]any{"session_id": input.SessionID, "player_id": input.PlayerID, "cash": input.CashAmount, "chip_value": chipValue})
}

// Expense disburses club spending from cash pools.
func (s *Service) Expense(ctx context.Context, input OutflowInput) (Result, error) {
	return s.cashOutflow(ctx, txlog.TypeExpense, input)
}

// DealerTip disburses a dealer gratuity from cash pools.
func (s *Service) DealerTip(ctx context.Context, input OutflowInput) (Result, error) {
	return s.cashOutflow(ctx, txlog.TypeDealerTip, input)
}

func (s *Service) cashOutflow(ctx context.Context, txType txlog.Type, input OutflowInput) (Result, error) {
	if input.Amount <= 0 {
		return Result{}, shared.Validationf("%s amount must be positive, got %.2f", txType, input.Amount)
	}

	return s.run(ctx, txType, input.Code, input.ActorID, func(ctx context.Context, tx TxRepository, code string, now time.Time) (Result, error) {
		sess, err := tx.GetSessionForUpdate(ctx, input.SessionID)
		if err != nil {
			return Result{}, err
		}
		if err := sess.EnsureOpen(); err != nil {
			return Result{}, err
		}
		debits, err := sess.Pools.PlanCashOutflow(input.Amount)
		if err != nil {
			return Result{}, err
		}
		sess.Pools.ApplyDebits(debits)

		meta := map[string]any{txlog.MetaDebits: debits}
		if input.Category != "" {
			meta[txlog.MetaCategory] = input.Category
		}
		message := fmt.Sprintf("%s of %s (%s)", strings.ReplaceAll(string(txType), "_", " "), shared.FormatINR(input.Amount), describeDebits(debits))
		txID, err := tx.InsertTransaction(ctx, txlog.Transaction{
			Code:      code,
			SessionID: input.SessionID,
			Type:      txType,
			Amount:    input.Amount,
			Wallet:    walletOf(debits),
			Note:      joinNote(message, input.Note),
			Meta:      meta,
			CreatedBy: input.ActorID,
			CreatedAt: now,
		})
		if err != nil {
			return Result{}, err
		}
		if err := tx.UpdateSessionState(ctx, sess); err != nil {
			return Result{}, err
		}
		return Result{TransactionID: txID, Code: code, Pools: sess.Pools, Debits: debits, Message: message}, nil
	}, map[string]any{"session_id": input.SessionID, "amount": input.Amount, "category": input.Category})
}

// DepositCash accepts money into the cage outside a buy-in.
func (s *Service) DepositCash(ctx context.Context, input DepositCashInput) (Result, error) {
	if input.Amount <= 0 {
		return Result{}, shared.Validationf("deposit amount must be positive, got %.2f", input.Amount)
	}
	if !input.Mode.Valid() {
		return Result{}, shared.Validationf("unknown payment mode %q", input.Mode)
	}

	return s.run(ctx, txlog.TypeDepositCash, input.Code, input.ActorID, func(ctx context.Context, tx TxRepository, code string, now time.Time) (Result, error) {
		sess, err := tx.GetSessionForUpdate(ctx, input.SessionID)
		if err != nil {
			return Result{}, err
		}
		if err := sess.EnsureOpen(); err != nil {
			return Result{}, err
		}
		pool, err := sess.Pools.CreditInflow(input.Mode, input.Amount)
		if err != nil {
			return Result{}, err
		}
		message := fmt.Sprintf("Deposit of %s via %s", shared.FormatINR(input.Amount), input.Mode)
		txID, err := tx.InsertTransaction(ctx, txlog.Transaction{
			Code:      code,
			SessionID: input.SessionID,
			Type:      txlog.TypeDepositCash,
			PlayerID:  optionalID(input.PlayerID),
			Amount:    input.Amount,
			Wallet:    pool,
			Note:      joinNote(message, input.Note),
			Meta:      map[string]any{txlog.MetaMode: input.Mode},
			CreatedBy: input.ActorID,
			CreatedAt: now,
		})
		if err != nil {
			return Result{}, err
		}
		if err := tx.UpdateSessionState(ctx, sess); err != nil {
			return Result{}, err
		}
		return Result{TransactionID: txID, Code: code, Pools: sess.Pools, Message: message}, nil
	}, map[string]any{"session_id": input.SessionID, "amount": input.Amount})
}

// DepositChips takes chips back into the tray with no cash movement.
func (s *Service) DepositChips(ctx context.Context, input DepositChipsInput) (Result, error) {
	if err := input.Breakdown.Validate(); err != nil {
		return Result{}, err
	}
	if input.Breakdown.IsZero() {
		return Result{}, shared.Validationf("chip deposit requires a breakdown")
	}

	return s.run(ctx, txlog.TypeDepositChips, input.Code, input.ActorID, func(ctx context.Context, tx TxRepository, code string, now time.Time) (Result, error) {
		sess, err := tx.GetSessionForUpdate(ctx, input.SessionID)
		if err != nil {
			return Result{}, err
		}
		if err := sess.EnsureOpen(); err != nil {
			return Result{}, err
		}
		surplus, err := sess.Inventory.ReceiveBack(input.Breakdown)
		if err != nil {
			return Result{}, err
		}
		meta := map[string]any{}
		if surplus > 0 {
			meta[txlog.MetaChipSurplus] = surplus
		}
		message := fmt.Sprintf("Chips worth %s returned to tray", shared.FormatINR(input.Breakdown.Value()))
		txID, err := tx.InsertTransaction(ctx, txlog.Transaction{
			Code:      code,
			SessionID: input.SessionID,
			Type:      txlog.TypeDepositChips,
			PlayerID:  optionalID(input.PlayerID),
			ChipValue: input.Breakdown.Value(),
			Breakdown: input.Breakdown,
			Note:      joinNote(message, input.Note),
			Meta:      meta,
			CreatedBy: input.ActorID,
			CreatedAt: now,
		})
		if err != nil {
			return Result{}, err
		}
		if err := tx.UpdateSessionState(ctx, sess); err != nil {
			return Result{}, err
		}
		return Result{TransactionID: txID, Code: code, Pools: sess.Pools, ChipSurplus: surplus, Message: message}, nil
	}, map[string]any{"session_id": input.SessionID, "chip_value": input.Breakdown.Value()})
}

// AddFloat tops up owner capital in the primary pool mid-session.
func (s *Service) AddFloat(ctx context.Context, input AddFloatInput) (Result, error) {
	if input.Amount <= 0 {
		return Result{}, shared.Validationf("float amount must be positive, got %.2f", input.Amount)
	}

	return s.run(ctx, txlog.TypeAddFloat, input.Code, input.ActorID, func(ctx context.Context, tx TxRepository, code string, now time.Time) (Result, error) {
		sess, err := tx.GetSessionForUpdate(ctx, input.SessionID)
		if err != nil {
			return Result{}, err
		}
		if err := sess.EnsureOpen(); err != nil {
			return Result{}, err
		}
		if err := sess.Pools.AddFloat(input.Amount); err != nil {
			return Result{}, err
		}
		message := fmt.Sprintf("Float top-up of %s", shared.FormatINR(input.Amount))
		txID, err := tx.InsertTransaction(ctx, txlog.Transaction{
			Code:      code,
			SessionID: input.SessionID,
			Type:      txlog.TypeAddFloat,
			Amount:    input.Amount,
			Wallet:    pools.PoolPrimary,
			Note:      joinNote(message, input.Note),
			CreatedBy: input.ActorID,
			CreatedAt: now,
		})
		if err != nil {
			return Result{}, err
		}
		if err := tx.UpdateSessionState(ctx, sess); err != nil {
			return Result{}, err
		}
		return Result{TransactionID: txID, Code: code, Pools: sess.Pools, Message: message}, nil
	}, map[string]any{"session_id": input.SessionID, "amount": input.Amount})
}

// AdjustBalance applies a signed manual correction to one named pool. The
// note is mandatory; the adjustment is as auditable as it is rare.
func (s *Service) AdjustBalance(ctx context.Context, input AdjustInput) (Result, error) {
	if strings.TrimSpace(input.Note) == "" {
		return Result{}, shared.Validationf("balance adjustment requires a note")
	}
	if !input.Pool.Valid() {
		return Result{}, shared.Validationf("unknown pool %q", input.Pool)
	}
	if input.Delta == 0 {
		return Result{}, shared.Validationf("adjustment delta must be non-zero")
	}

	return s.run(ctx, txlog.TypeBalanceAdjustment, input.Code, input.ActorID, func(ctx context.Context, tx TxRepository, code string, now time.Time) (Result, error) {
		sess, err := tx.GetSessionForUpdate(ctx, input.SessionID)
		if err != nil {
			return Result{}, err
		}
		if err := sess.EnsureOpen(); err != nil {
			return Result{}, err
		}
		if err := sess.Pools.Adjust(input.Pool, input.Delta); err != nil {
			return Result{}, err
		}
		message := fmt.Sprintf("Manual adjustment of %+.2f on %s", input.Delta, input.Pool)
		txID, err := tx.InsertTransaction(ctx, txlog.Transaction{
			Code:      code,
			SessionID: input.SessionID,
			Type:      txlog.TypeBalanceAdjustment,
			Amount:    math.Abs(input.Delta),
			Wallet:    input.Pool,
			Note:      joinNote(message, input.Note),
			Meta:      map[string]any{txlog.MetaPool: input.Pool, txlog.MetaDelta: input.Delta},
			CreatedBy: input.ActorID,
			CreatedAt: now,
		})
		if err != nil {
			return Result{}, err
		}
		if err := tx.UpdateSessionState(ctx, sess); err != nil {
			return Result{}, err
		}
		return Result{TransactionID: txID, Code: code, Pools: sess.Pools, Message: message}, nil
	}, map[string]any{"session_id": input.SessionID, "pool": input.Pool, "delta": input.Delta})
}

// Reverse appends a new row undoing the original's counter effects and
// back-referencing it. Credit rows and payouts that settled credit are not
// reversible here; those need their records unwound by an operator.
func (s *Service) Reverse(ctx context.Context, transactionID, actorID int64, note string) (Result, error) {
	now := s.now().UTC()
	var result Result
	var sessionID int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		orig, err := tx.GetTransactionForUpdate(ctx, transactionID)
		if err != nil {
			return err
		}
		if orig.Reversed() {
			return shared.Validationf("transaction %d is itself a reversal", orig.ID)
		}
		if reversed, err := tx.HasReversal(ctx, orig.ID); err != nil {
			return err
		} else if reversed {
			return shared.Validationf("transaction %d already reversed", orig.ID)
		}
		if err := reversible(orig); err != nil {
			return err
		}
		sessionID = orig.SessionID

		sess, err := tx.GetSessionForUpdate(ctx, orig.SessionID)
		if err != nil {
			return err
		}
		if err := sess.EnsureOpen(); err != nil {
			return err
		}
		meta, err := applyInverse(&sess, orig)
		if err != nil {
			return err
		}

		message := fmt.Sprintf("Reversal of %s %s", orig.Type, orig.Code)
		txID, err := tx.InsertTransaction(ctx, txlog.Transaction{
			Code:       fmt.Sprintf("%s-R", orig.Code),
			SessionID:  orig.SessionID,
			Type:       orig.Type,
			PlayerID:   orig.PlayerID,
			Amount:     orig.Amount,
			ChipValue:  orig.ChipValue,
			Breakdown:  orig.Breakdown,
			Wallet:     orig.Wallet,
			Note:       joinNote(message, note),
			Meta:       meta,
			ReversalOf: &orig.ID,
			CreatedBy:  actorID,
			CreatedAt:  now,
		})
		if err != nil {
			return err
		}
		if err := tx.UpdateSessionState(ctx, sess); err != nil {
			return err
		}
		result = Result{TransactionID: txID, Code: fmt.Sprintf("%s-R", orig.Code), Pools: sess.Pools, Message: message}
		return nil
	})
	s.observe(ctx, "reversal", sessionID, actorID, err, map[string]any{"transaction_id": transactionID})
	if err != nil {
		return Result{}, err
	}
	return result, nil
}

// RenameTransaction edits the free-text note, the one permitted mutation
// of a recorded row.
func (s *Service) RenameTransaction(ctx context.Context, transactionID, actorID int64, note string) error {
	if strings.TrimSpace(note) == "" {
		return shared.Validationf("note must not be empty")
	}
	var sessionID int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		orig, err := tx.GetTransactionForUpdate(ctx, transactionID)
		if err != nil {
			return err
		}
		sessionID = orig.SessionID
		return tx.UpdateTransactionNote(ctx, transactionID, note)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, sessionID, actorID, "cage:rename", map[string]any{"transaction_id": transactionID})
	return nil
}

// GetTransaction loads one ledger row.
func (s *Service) GetTransaction(ctx context.Context, id int64) (txlog.Transaction, error) {
	return s.repo.GetTransaction(ctx, id)
}

// ListTransactions lists ledger rows newest-first per the filter.
func (s *Service) ListTransactions(ctx context.Context, filter txlog.Filter) ([]txlog.Transaction, error) {
	return s.repo.ListTransactions(ctx, filter)
}

type operation func(ctx context.Context, tx TxRepository, code string, now time.Time) (Result, error)

// run wraps one composite operation: idempotency key, transaction,
// metrics, cache invalidation, and audit.
func (s *Service) run(ctx context.Context, txType txlog.Type, code string, actorID int64, op operation, auditMeta map[string]any) (Result, error) {
	now := s.now().UTC()
	if code == "" {
		code = fmt.Sprintf("CAGE-%d", now.UnixNano())
	}
	key := fmt.Sprintf("%s:%s", txType, code)
	insertedKey := false
	if s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, key, "cage"); err != nil {
			return Result{}, err
		}
		insertedKey = true
	}

	var result Result
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		result, err = op(ctx, tx, code, now)
		return err
	})
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, key)
		}
		s.metrics.ObserveOperation(string(txType), err)
		return Result{}, err
	}

	sessionID, _ := auditMeta["session_id"].(int64)
	s.observe(ctx, string(txType), sessionID, actorID, nil, auditMeta)
	return result, nil
}

func (s *Service) observe(ctx context.Context, opName string, sessionID, actorID int64, err error, meta map[string]any) {
	s.metrics.ObserveOperation(opName, err)
	if err != nil {
		return
	}
	if s.cache != nil && sessionID != 0 {
		_ = s.cache.Invalidate(ctx, sessionID)
	}
	s.recordAudit(ctx, sessionID, actorID, "cage:"+opName, meta)
}

func (s *Service) recomputeOutstanding(ctx context.Context, tx TxRepository, sess *session.Session, playerID int64) error {
	total, err := tx.SessionOutstanding(ctx, sess.ID)
	if err != nil {
		return err
	}
	sess.OutstandingCredit = total

	lifetime, err := tx.LifetimeOutstanding(ctx, playerID)
	if err != nil {
		return err
	}
	return tx.UpdateProfileOutstanding(ctx, playerID, lifetime)
}

func (s *Service) recordAudit(ctx context.Context, sessionID, actorID int64, action string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:   actorID,
		SessionID: sessionID,
		Action:    action,
		Entity:    "cage_transaction",
		EntityID:  fmt.Sprint(sessionID),
		Meta:      meta,
	})
}

// reversible rejects rows whose undo would touch credit records.
func reversible(orig txlog.Transaction) error {
	switch orig.Type {
	case txlog.TypeCreditIssued, txlog.TypeSettleCredit, txlog.TypeOpeningChips:
		return shared.Validationf("%s transactions are not reversible", orig.Type)
	case txlog.TypeCashPayout:
		if _, ok := orig.Meta[txlog.MetaSettled]; ok {
			return shared.Validationf("payout %d settled credit and cannot be reversed", orig.ID)
		}
	}
	return nil
}

// applyInverse undoes the original row's pool and tray effects on the
// locked session. The returned meta carries anything the reversal row must
// record, such as surplus from a clamped chip return.
func applyInverse(sess *session.Session, orig txlog.Transaction) (map[string]any, error) {
	switch orig.Type {
	case txlog.TypeBuyIn:
		surplus, err := sess.Inventory.ReceiveBack(orig.Breakdown)
		if err != nil {
			return nil, err
		}
		sess.Pools.ApplyDebits([]pools.Debit{{Pool: orig.Wallet, Amount: orig.Amount}})
		if surplus > 0 {
			return map[string]any{txlog.MetaChipSurplus: surplus}, nil
		}
	case txlog.TypeCashPayout:
		debits, err := decodeDebits(orig.Meta)
		if err != nil {
			return nil, err
		}
		if err := sess.Inventory.GiveOut(orig.Breakdown); err != nil {
			return nil, err
		}
		sess.Pools.ApplyCredits(debits)
	case txlog.TypeExpense, txlog.TypeDealerTip:
		debits, err := decodeDebits(orig.Meta)
		if err != nil {
			return nil, err
		}
		sess.Pools.ApplyCredits(debits)
	case txlog.TypeDepositCash:
		sess.Pools.ApplyDebits([]pools.Debit{{Pool: orig.Wallet, Amount: orig.Amount}})
	case txlog.TypeDepositChips:
		if err := sess.Inventory.GiveOut(orig.Breakdown); err != nil {
			return nil, err
		}
	case txlog.TypeAddFloat:
		if err := sess.Pools.Adjust(pools.PoolPrimary, -orig.Amount); err != nil {
			return nil, err
		}
	case txlog.TypeBalanceAdjustment:
		delta, err := decodeDelta(orig.Meta)
		if err != nil {
			return nil, err
		}
		if err := sess.Pools.Adjust(orig.Wallet, -delta); err != nil {
			return nil, err
		}
	default:
		return nil, shared.Validationf("%s transactions are not reversible", orig.Type)
	}
	return nil, nil
}

// decodeDebits recovers the allocation plan from jsonb meta.
func decodeDebits(meta map[string]any) ([]pools.Debit, error) {
	raw, ok := meta[txlog.MetaDebits]
	if !ok {
		return nil, nil
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("cage: encode debits meta: %w", err)
	}
	var debits []pools.Debit
	if err := json.Unmarshal(encoded, &debits); err != nil {
		return nil, fmt.Errorf("cage: decode debits meta: %w", err)
	}
	return debits, nil
}

func decodeDelta(meta map[string]any) (float64, error) {
	switch v := meta[txlog.MetaDelta].(type) {
	case float64:
		return v, nil
	case json.Number:
		return v.Float64()
	default:
		return 0, fmt.Errorf("cage: adjustment delta missing from meta")
	}
}

func optionalID(id int64) *int64 {
	if id == 0 {
		return nil
	}
	return &id
}

func walletOf(debits []pools.Debit) pools.Pool {
	if len(debits) == 0 {
		return ""
	}
	return debits[0].Pool
}

func joinNote(message, note string) string {
	if strings.TrimSpace(note) == "" {
		return message
	}
	return message + ": " + note
}

func describeDebits(debits []pools.Debit) string {
	parts := make([]string, 0, len(debits))
	for _, d := range debits {
		parts = append(parts, fmt.Sprintf("%s %s", d.Pool, shared.FormatINR(d.Amount)))
	}
	if len(parts) == 0 {
		return "no cash moved"
	}
	return strings.Join(parts, ", ")
}

func payoutMessage(cash, settled float64, debits []pools.Debit) string {
	msg := fmt.Sprintf("Payout of %s (%s)", shared.FormatINR(cash), describeDebits(debits))
	if settled > shared.AmountTolerance {
		msg += fmt.Sprintf(", %s applied to outstanding credit", shared.FormatINR(settled))
	}
	return msg
}
