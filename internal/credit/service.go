package credit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cagedesk/cagedesk/internal/session"
	"github.com/cagedesk/cagedesk/internal/shared"
	"github.com/cagedesk/cagedesk/internal/txlog"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetProfile(ctx context.Context, playerID int64) (Profile, error)
	ListProfileIDs(ctx context.Context) ([]int64, error)
	ListRecords(ctx context.Context, sessionID, playerID int64) ([]Record, error)
	ListRequests(ctx context.Context, sessionID int64, status RequestStatus) ([]Request, error)
}

// TxRepository exposes the transactional operations issuance and
// settlement need. The session row is locked first on every path that
// mutates counters.
type TxRepository interface {
	GetSessionForUpdate(ctx context.Context, id int64) (session.Session, error)
	UpdateSessionState(ctx context.Context, sess session.Session) error
	GetProfileForUpdate(ctx context.Context, playerID int64) (Profile, error)
	UpdateProfileOutstanding(ctx context.Context, playerID int64, outstanding float64) error
	LifetimeOutstanding(ctx context.Context, playerID int64) (float64, error)
	SessionOutstanding(ctx context.Context, sessionID int64) (float64, error)
	ListOpenRecordsForUpdate(ctx context.Context, sessionID, playerID int64) ([]Record, error)
	InsertRecord(ctx context.Context, rec Record) (int64, error)
	ApplySettlement(ctx context.Context, alloc Allocation, at time.Time) error
	InsertRequest(ctx context.Context, req Request) (int64, error)
	GetRequestForUpdate(ctx context.Context, id int64) (Request, error)
	UpdateRequest(ctx context.Context, req Request) error
	InsertTransaction(ctx context.Context, tx txlog.Transaction) (int64, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// SummaryInvalidator drops a cached session summary after a mutation.
type SummaryInvalidator interface {
	Invalidate(ctx context.Context, sessionID int64) error
}

// Service coordinates the credit ledger.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
	cache SummaryInvalidator
	now   func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, cache SummaryInvalidator) *Service {
	return &Service{repo: repo, audit: audit, cache: cache, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Issue extends credit to a player. The lifetime limit is checked against
// outstanding recomputed from rows. When the tray cannot serve the
// requested breakdown the issuance is parked as a pending request with no
// state mutated.
func (s *Service) Issue(ctx context.Context, input IssueInput) (IssueResult, error) {
	if err := validateIssue(input); err != nil {
		return IssueResult{}, err
	}
	now := s.now().UTC()
	var result IssueResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sess, err := tx.GetSessionForUpdate(ctx, input.SessionID)
		if err != nil {
			return err
		}
		if err := sess.EnsureOpen(); err != nil {
			return err
		}
		if err := s.checkLimit(ctx, tx, input.PlayerID, input.Amount); err != nil {
			return err
		}

		if !sess.Inventory.CanGiveOut(input.Breakdown) {
			req := Request{
				SessionID:   input.SessionID,
				PlayerID:    input.PlayerID,
				Amount:      input.Amount,
				Breakdown:   input.Breakdown,
				Status:      StatusPending,
				RequestedBy: input.ActorID,
				RequestedAt: now,
			}
			id, err := tx.InsertRequest(ctx, req)
			if err != nil {
				return err
			}
			req.ID = id
			result = IssueResult{Pending: true, Request: &req}
			return nil
		}

		rec, err := s.issueInTx(ctx, tx, sess, input, now)
		if err != nil {
			return err
		}
		result = IssueResult{Record: &rec}
		return nil
	})
	if err != nil {
		return IssueResult{}, err
	}
	s.invalidate(ctx, input.SessionID)
	action := "credit:issue"
	if result.Pending {
		action = "credit:request_pending"
	}
	s.recordAudit(ctx, input.SessionID, input.ActorID, action, map[string]any{
		"player_id": input.PlayerID,
		"amount":    input.Amount,
	})
	return result, nil
}

// issueInTx gives out chips, writes the record and ledger row, and
// recomputes the affected aggregates. The caller holds the session lock.
func (s *Service) issueInTx(ctx context.Context, tx TxRepository, sess session.Session, input IssueInput, now time.Time) (Record, error) {
	if err := sess.Inventory.GiveOut(input.Breakdown); err != nil {
		return Record{}, err
	}
	rec := Record{
		SessionID:   input.SessionID,
		PlayerID:    input.PlayerID,
		Issued:      input.Amount,
		Outstanding: input.Amount,
		Breakdown:   input.Breakdown,
		IssuedBy:    input.ActorID,
		IssuedAt:    now,
		UpdatedAt:   now,
	}
	id, err := tx.InsertRecord(ctx, rec)
	if err != nil {
		return Record{}, err
	}
	rec.ID = id

	_, err = tx.InsertTransaction(ctx, txlog.Transaction{
		Code:      uuid.NewString(),
		SessionID: input.SessionID,
		Type:      txlog.TypeCreditIssued,
		PlayerID:  &input.PlayerID,
		Amount:    input.Amount,
		ChipValue: input.Breakdown.Value(),
		Breakdown: input.Breakdown,
		Note:      fmt.Sprintf("Credit of %s issued", shared.FormatINR(input.Amount)),
		CreatedBy: input.ActorID,
		CreatedAt: now,
	})
	if err != nil {
		return Record{}, err
	}

	if err := s.recomputeAggregates(ctx, tx, &sess, input.PlayerID); err != nil {
		return Record{}, err
	}
	return rec, tx.UpdateSessionState(ctx, sess)
}

// Settle applies a cash or online settlement across the player's open
// records oldest-first. The pool credited follows the payment mode: cash
// funds cash_in_hand plus the secondary mirror, online funds online_money
// only.
func (s *Service) Settle(ctx context.Context, input SettleInput) ([]Allocation, error) {
	if input.Amount <= 0 {
		return nil, shared.Validationf("settlement amount must be positive, got %.2f", input.Amount)
	}
	if !input.Mode.Valid() {
		return nil, shared.Validationf("unknown payment mode %q", input.Mode)
	}
	now := s.now().UTC()
	var allocations []Allocation
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sess, err := tx.GetSessionForUpdate(ctx, input.SessionID)
		if err != nil {
			return err
		}
		if err := sess.EnsureOpen(); err != nil {
			return err
		}
		records, err := tx.ListOpenRecordsForUpdate(ctx, input.SessionID, input.PlayerID)
		if err != nil {
			return err
		}
		allocations, err = AllocateSettlement(records, input.Amount)
		if err != nil {
			return err
		}
		for _, alloc := range allocations {
			if err := tx.ApplySettlement(ctx, alloc, now); err != nil {
				return err
			}
		}

		pool, err := sess.Pools.SettlementInflow(input.Mode, input.Amount)
		if err != nil {
			return err
		}
		_, err = tx.InsertTransaction(ctx, txlog.Transaction{
			Code:      uuid.NewString(),
			SessionID: input.SessionID,
			Type:      txlog.TypeSettleCredit,
			PlayerID:  &input.PlayerID,
			Amount:    input.Amount,
			Wallet:    pool,
			Note:      fmt.Sprintf("Credit settlement of %s received", shared.FormatINR(input.Amount)),
			Meta: map[string]any{
				txlog.MetaSettled: allocations,
				txlog.MetaMode:    input.Mode,
			},
			CreatedBy: input.ActorID,
			CreatedAt: now,
		})
		if err != nil {
			return err
		}

		if err := s.recomputeAggregates(ctx, tx, &sess, input.PlayerID); err != nil {
			return err
		}
		return tx.UpdateSessionState(ctx, sess)
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, input.SessionID)
	s.recordAudit(ctx, input.SessionID, input.ActorID, "credit:settle", map[string]any{
		"player_id": input.PlayerID,
		"amount":    input.Amount,
		"mode":      input.Mode,
	})
	return allocations, nil
}

// ApproveRequest re-checks limit and tray availability before issuing the
// parked credit. A tray still short of the breakdown fails the approval
// rather than re-parking it.
func (s *Service) ApproveRequest(ctx context.Context, requestID, actorID int64) (Record, error) {
	now := s.now().UTC()
	var rec Record
	var sessionID int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		req, err := tx.GetRequestForUpdate(ctx, requestID)
		if err != nil {
			return err
		}
		if req.Status != StatusPending {
			return shared.Validationf("credit request %d already %s", req.ID, req.Status)
		}
		sessionID = req.SessionID

		sess, err := tx.GetSessionForUpdate(ctx, req.SessionID)
		if err != nil {
			return err
		}
		if err := sess.EnsureOpen(); err != nil {
			return err
		}
		if err := s.checkLimit(ctx, tx, req.PlayerID, req.Amount); err != nil {
			return err
		}

		rec, err = s.issueInTx(ctx, tx, sess, IssueInput{
			SessionID: req.SessionID,
			PlayerID:  req.PlayerID,
			Amount:    req.Amount,
			Breakdown: req.Breakdown,
			ActorID:   actorID,
		}, now)
		if err != nil {
			return err
		}

		req.Status = StatusApproved
		req.DecidedBy = &actorID
		req.DecidedAt = &now
		return tx.UpdateRequest(ctx, req)
	})
	if err != nil {
		return Record{}, err
	}
	s.invalidate(ctx, sessionID)
	s.recordAudit(ctx, sessionID, actorID, "credit:approve", map[string]any{"request_id": requestID})
	return rec, nil
}

// RejectRequest records the decision without touching inventory or records.
func (s *Service) RejectRequest(ctx context.Context, requestID, actorID int64, note string) (Request, error) {
	now := s.now().UTC()
	var req Request
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		req, err = tx.GetRequestForUpdate(ctx, requestID)
		if err != nil {
			return err
		}
		if req.Status != StatusPending {
			return shared.Validationf("credit request %d already %s", req.ID, req.Status)
		}
		req.Status = StatusRejected
		req.Note = note
		req.DecidedBy = &actorID
		req.DecidedAt = &now
		return tx.UpdateRequest(ctx, req)
	})
	if err != nil {
		return Request{}, err
	}
	s.recordAudit(ctx, req.SessionID, actorID, "credit:reject", map[string]any{"request_id": requestID})
	return req, nil
}

// PlayerStanding returns the profile with lifetime outstanding recomputed
// from open records rather than the stored aggregate.
func (s *Service) PlayerStanding(ctx context.Context, playerID int64) (Profile, error) {
	var profile Profile
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		profile, err = tx.GetProfileForUpdate(ctx, playerID)
		if err != nil {
			return err
		}
		profile.LifetimeOutstanding, err = tx.LifetimeOutstanding(ctx, playerID)
		return err
	})
	return profile, err
}

// ListRecords returns a session's credit records, optionally narrowed to a
// player.
func (s *Service) ListRecords(ctx context.Context, sessionID, playerID int64) ([]Record, error) {
	return s.repo.ListRecords(ctx, sessionID, playerID)
}

// ListRequests returns a session's credit requests filtered by status.
func (s *Service) ListRequests(ctx context.Context, sessionID int64, status RequestStatus) ([]Request, error) {
	return s.repo.ListRequests(ctx, sessionID, status)
}

// ReconcilePlayer recomputes the player's lifetime outstanding from open
// records and corrects the stored aggregate when it has drifted.
func (s *Service) ReconcilePlayer(ctx context.Context, playerID int64) (*Drift, error) {
	var drift *Drift
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		profile, err := tx.GetProfileForUpdate(ctx, playerID)
		if err != nil {
			return err
		}
		computed, err := tx.LifetimeOutstanding(ctx, playerID)
		if err != nil {
			return err
		}
		if shared.AmountsEqual(profile.LifetimeOutstanding, computed) {
			return nil
		}
		drift = &Drift{PlayerID: playerID, Stored: profile.LifetimeOutstanding, Computed: computed}
		return tx.UpdateProfileOutstanding(ctx, playerID, computed)
	})
	if err != nil {
		return nil, err
	}
	return drift, nil
}

// ReconcileSession recomputes a session's outstanding-credit total from
// open records and corrects the session row when it has drifted.
func (s *Service) ReconcileSession(ctx context.Context, sessionID int64) (*Drift, error) {
	var drift *Drift
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sess, err := tx.GetSessionForUpdate(ctx, sessionID)
		if err != nil {
			return err
		}
		computed, err := tx.SessionOutstanding(ctx, sessionID)
		if err != nil {
			return err
		}
		if shared.AmountsEqual(sess.OutstandingCredit, computed) {
			return nil
		}
		drift = &Drift{SessionID: sessionID, Stored: sess.OutstandingCredit, Computed: computed}
		sess.OutstandingCredit = computed
		return tx.UpdateSessionState(ctx, sess)
	})
	if err != nil {
		return nil, err
	}
	return drift, nil
}

// ListProfileIDs exposes the player population for sweep jobs.
func (s *Service) ListProfileIDs(ctx context.Context) ([]int64, error) {
	return s.repo.ListProfileIDs(ctx)
}

func (s *Service) checkLimit(ctx context.Context, tx TxRepository, playerID int64, amount float64) error {
	profile, err := tx.GetProfileForUpdate(ctx, playerID)
	if err != nil {
		return err
	}
	outstanding, err := tx.LifetimeOutstanding(ctx, playerID)
	if err != nil {
		return err
	}
	if profile.CreditLimit-outstanding < amount {
		return &shared.CreditLimitExceededError{
			PlayerID:    playerID,
			Limit:       profile.CreditLimit,
			Outstanding: outstanding,
			Requested:   amount,
		}
	}
	return nil
}

// recomputeAggregates refreshes the session and lifetime outstanding
// totals from rows after any record mutation.
func (s *Service) recomputeAggregates(ctx context.Context, tx TxRepository, sess *session.Session, playerID int64) error {
	sessionTotal, err := tx.SessionOutstanding(ctx, sess.ID)
	if err != nil {
		return err
	}
	sess.OutstandingCredit = sessionTotal

	lifetime, err := tx.LifetimeOutstanding(ctx, playerID)
	if err != nil {
		return err
	}
	return tx.UpdateProfileOutstanding(ctx, playerID, lifetime)
}

func validateIssue(input IssueInput) error {
	if input.PlayerID == 0 {
		return shared.Validationf("player required for credit issuance")
	}
	if input.Amount <= 0 {
		return shared.Validationf("credit amount must be positive, got %.2f", input.Amount)
	}
	if err := input.Breakdown.Validate(); err != nil {
		return err
	}
	if input.Breakdown.IsZero() {
		return shared.Validationf("credit issuance requires a chip breakdown")
	}
	if err := input.Breakdown.ValidateAgainstAmount(input.Amount); err != nil {
		return err
	}
	return nil
}

func (s *Service) invalidate(ctx context.Context, sessionID int64) {
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
		Entity:    "credit",
		EntityID:  fmt.Sprint(sessionID),
		Meta:      meta,
	})
}
