package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/cagedesk/cagedesk/internal/chips"
	"github.com/cagedesk/cagedesk/internal/shared"
	"github.com/cagedesk/cagedesk/internal/txlog"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetSession(ctx context.Context, id int64) (Session, error)
	GetOpenByDate(ctx context.Context, date time.Time) (Session, error)
	GetCashier(ctx context.Context, id int64) (Cashier, error)
	ListShifts(ctx context.Context, sessionID int64) ([]Shift, error)
}

// TxRepository exposes the transactional operations the lifecycle needs.
type TxRepository interface {
	GetOpenByDateForUpdate(ctx context.Context, date time.Time) (Session, error)
	GetSessionForUpdate(ctx context.Context, id int64) (Session, error)
	InsertSession(ctx context.Context, sess Session) (int64, error)
	UpdateSessionState(ctx context.Context, sess Session) error
	InsertShift(ctx context.Context, shift Shift) (int64, error)
	GetShiftForUpdate(ctx context.Context, id int64) (Shift, error)
	UpdateShift(ctx context.Context, shift Shift) error
	EndOpenShifts(ctx context.Context, sessionID, endedBy int64, at time.Time) (int, error)
	InsertTransaction(ctx context.Context, tx txlog.Transaction) (int64, error)
	Summarize(ctx context.Context, sessionID int64) (txlog.Sums, error)
	CountPendingCreditRequests(ctx context.Context, sessionID int64) (int, error)
	SessionOutstanding(ctx context.Context, sessionID int64) (float64, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// SummaryCache caches computed summaries between mutations.
type SummaryCache interface {
	Get(ctx context.Context, sessionID int64) (*Summary, error)
	Set(ctx context.Context, summary Summary) error
	Invalidate(ctx context.Context, sessionID int64) error
}

// Service coordinates the session lifecycle.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
	cache SummaryCache
	now   func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, cache SummaryCache) *Service {
	return &Service{repo: repo, audit: audit, cache: cache, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func (s *Service) today() time.Time {
	now := s.now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

// Open starts today's session. A second open session for the same date is
// rejected; a closed same-date session does not block a fresh one.
func (s *Service) Open(ctx context.Context, input OpenInput) (Session, error) {
	if input.CashierID == 0 {
		return Session{}, shared.Validationf("cashier required to open a session")
	}
	if input.OpeningFloat < 0 {
		return Session{}, shared.Validationf("opening float must not be negative, got %.2f", input.OpeningFloat)
	}
	if err := input.OpeningChips.Validate(); err != nil {
		return Session{}, err
	}

	date := s.today()
	now := s.now().UTC()
	var created Session
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		existing, err := tx.GetOpenByDateForUpdate(ctx, date)
		if err != nil && !errors.Is(err, ErrNoOpenSession) {
			return err
		}
		if err == nil {
			return shared.SessionStatef("session %d is already open for %s", existing.ID, date.Format("2006-01-02"))
		}

		sess := Session{
			SessionDate:  date,
			OpeningFloat: input.OpeningFloat,
			Inventory:    chips.NewInventory(input.OpeningChips),
			OpenedBy:     input.CashierID,
			OpenedAt:     now,
		}
		sess.Pools.Primary = input.OpeningFloat
		id, err := tx.InsertSession(ctx, sess)
		if err != nil {
			return err
		}
		sess.ID = id

		if input.OpeningFloat > 0 {
			_, err = tx.InsertTransaction(ctx, txlog.Transaction{
				Code:      uuid.NewString(),
				SessionID: id,
				Type:      txlog.TypeAddFloat,
				Amount:    input.OpeningFloat,
				Wallet:    "PRIMARY",
				Note:      fmt.Sprintf("Opening float %s", shared.FormatINR(input.OpeningFloat)),
				CreatedBy: input.CashierID,
				CreatedAt: now,
			})
			if err != nil {
				return err
			}
		}
		if !input.OpeningChips.IsZero() {
			_, err = tx.InsertTransaction(ctx, txlog.Transaction{
				Code:      uuid.NewString(),
				SessionID: id,
				Type:      txlog.TypeOpeningChips,
				ChipValue: input.OpeningChips.Value(),
				Breakdown: input.OpeningChips,
				Note:      fmt.Sprintf("Opening chips worth %s", shared.FormatINR(input.OpeningChips.Value())),
				CreatedBy: input.CashierID,
				CreatedAt: now,
			})
			if err != nil {
				return err
			}
		}

		// the opener's shift starts with the session
		if _, err := tx.InsertShift(ctx, Shift{SessionID: id, CashierID: input.CashierID, StartedAt: now}); err != nil {
			return err
		}
		created = sess
		return nil
	})
	if err != nil {
		return Session{}, err
	}
	s.recordAudit(ctx, created.ID, input.CashierID, "session:open", map[string]any{
		"opening_float": input.OpeningFloat,
		"opening_chips": input.OpeningChips,
	})
	return created, nil
}

// Close computes the summary from recorded rows, ends every active shift,
// and flips the one-way closed flag. Pending credit requests block closure;
// chips in circulation and outstanding credit only warn.
func (s *Service) Close(ctx context.Context, input CloseInput) (Summary, error) {
	if input.CloserID == 0 {
		return Summary{}, shared.Validationf("closer required to close a session")
	}
	now := s.now().UTC()
	var summary Summary
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sess, err := tx.GetSessionForUpdate(ctx, input.SessionID)
		if err != nil {
			return err
		}
		if sess.Closed {
			return shared.SessionStatef("session %d is already closed", sess.ID)
		}

		pending, err := tx.CountPendingCreditRequests(ctx, sess.ID)
		if err != nil {
			return err
		}
		if pending > 0 {
			return shared.Validationf("%d pending credit request(s) must be resolved before close", pending)
		}

		summary, err = s.buildSummary(ctx, tx, sess)
		if err != nil {
			return err
		}

		if _, err := tx.EndOpenShifts(ctx, sess.ID, input.CloserID, now); err != nil {
			return err
		}

		sess.Closed = true
		sess.ClosedBy = &input.CloserID
		sess.ClosedAt = &now
		sess.OutstandingCredit = summary.OutstandingCredit
		return tx.UpdateSessionState(ctx, sess)
	})
	if err != nil {
		return Summary{}, err
	}
	s.invalidateSummary(ctx, input.SessionID)
	s.recordAudit(ctx, input.SessionID, input.CloserID, "session:close", map[string]any{
		"chips_in_circulation": summary.ChipsInCirculation,
		"outstanding_credit":   summary.OutstandingCredit,
		"warnings":             summary.Warnings,
	})
	return summary, nil
}

// Current returns today's open session.
func (s *Service) Current(ctx context.Context) (Session, error) {
	sess, err := s.repo.GetOpenByDate(ctx, s.today())
	if err != nil {
		if errors.Is(err, ErrNoOpenSession) {
			return Session{}, shared.SessionStatef("no open session for %s", s.today().Format("2006-01-02"))
		}
		return Session{}, err
	}
	return sess, nil
}

// Get returns a session by id.
func (s *Service) Get(ctx context.Context, id int64) (Session, error) {
	return s.repo.GetSession(ctx, id)
}

// GetSummary computes the live summary for a session, serving from cache
// when a mutation has not invalidated it.
func (s *Service) GetSummary(ctx context.Context, sessionID int64) (Summary, error) {
	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, sessionID); err == nil && cached != nil {
			return *cached, nil
		}
	}
	var summary Summary
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sess, err := tx.GetSessionForUpdate(ctx, sessionID)
		if err != nil {
			return err
		}
		summary, err = s.buildSummary(ctx, tx, sess)
		return err
	})
	if err != nil {
		return Summary{}, err
	}
	if s.cache != nil {
		_ = s.cache.Set(ctx, summary)
	}
	return summary, nil
}

// StartShift opens a shift for a joining cashier after verifying their PIN.
func (s *Service) StartShift(ctx context.Context, input StartShiftInput) (Shift, error) {
	if input.CashierID == 0 {
		return Shift{}, shared.Validationf("cashier required to start a shift")
	}
	cashier, err := s.repo.GetCashier(ctx, input.CashierID)
	if err != nil {
		return Shift{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(cashier.PINHash), []byte(input.PIN)); err != nil {
		return Shift{}, ErrInvalidPIN
	}
	now := s.now().UTC()
	var shift Shift
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sess, err := tx.GetSessionForUpdate(ctx, input.SessionID)
		if err != nil {
			return err
		}
		if err := sess.EnsureOpen(); err != nil {
			return err
		}
		shift = Shift{SessionID: sess.ID, CashierID: input.CashierID, StartedAt: now}
		id, err := tx.InsertShift(ctx, shift)
		if err != nil {
			return err
		}
		shift.ID = id
		return nil
	})
	if err != nil {
		return Shift{}, err
	}
	return shift, nil
}

// EndShift stamps a shift closed.
func (s *Service) EndShift(ctx context.Context, shiftID, actorID int64) (Shift, error) {
	now := s.now().UTC()
	var shift Shift
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		shift, err = tx.GetShiftForUpdate(ctx, shiftID)
		if err != nil {
			return err
		}
		if !shift.Active() {
			return shared.Validationf("shift %d already ended", shiftID)
		}
		shift.EndedAt = &now
		shift.EndedBy = &actorID
		return tx.UpdateShift(ctx, shift)
	})
	if err != nil {
		return Shift{}, err
	}
	return shift, nil
}

// ListShifts returns the session's shifts.
func (s *Service) ListShifts(ctx context.Context, sessionID int64) ([]Shift, error) {
	return s.repo.ListShifts(ctx, sessionID)
}

func (s *Service) buildSummary(ctx context.Context, tx TxRepository, sess Session) (Summary, error) {
	sums, err := tx.Summarize(ctx, sess.ID)
	if err != nil {
		return Summary{}, err
	}
	outstanding, err := tx.SessionOutstanding(ctx, sess.ID)
	if err != nil {
		return Summary{}, err
	}
	summary := Summary{
		SessionID:          sess.ID,
		TotalDeposits:      sums.TotalDeposits,
		TotalWithdrawals:   sums.TotalWithdrawals,
		TotalExpenses:      sums.TotalExpenses,
		ChipsInCirculation: sess.Inventory.OutValue(),
		OutstandingCredit:  outstanding,
		PlayerCount:        sums.PlayerCount,
		TransactionCount:   sums.TransactionCount,
		Pools:              sess.Pools,
	}
	if summary.ChipsInCirculation > 0 {
		summary.Warnings = append(summary.Warnings,
			fmt.Sprintf("chips worth %s still in circulation", shared.FormatINR(summary.ChipsInCirculation)))
	}
	if summary.OutstandingCredit > shared.AmountTolerance {
		summary.Warnings = append(summary.Warnings,
			fmt.Sprintf("outstanding credit of %s remains unsettled", shared.FormatINR(summary.OutstandingCredit)))
	}
	summary.Message = fmt.Sprintf("Session %s: deposits %s, withdrawals %s, expenses %s over %d transactions",
		sess.SessionDate.Format("2006-01-02"),
		shared.FormatINR(summary.TotalDeposits),
		shared.FormatINR(summary.TotalWithdrawals),
		shared.FormatINR(summary.TotalExpenses),
		summary.TransactionCount)
	return summary, nil
}

func (s *Service) invalidateSummary(ctx context.Context, sessionID int64) {
	if s.cache != nil {
		_ = s.cache.Invalidate(ctx, sessionID)
	}
}

func (s *Service) recordAudit(ctx context.Context, sessionID, actorID int64, action string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:   actorID,
		SessionID: sessionID,
		Action:    action,
		Entity:    "session",
		EntityID:  fmt.Sprint(sessionID),
		Meta:      meta,
	})
}
