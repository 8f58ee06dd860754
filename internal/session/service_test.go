package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/cagedesk/cagedesk/internal/chips"
	"github.com/cagedesk/cagedesk/internal/shared"
	"github.com/cagedesk/cagedesk/internal/txlog"
)

type memoryRepo struct {
	sessions     map[int64]*Session
	shifts       map[int64]*Shift
	cashiers     map[int64]Cashier
	transactions []txlog.Transaction
	pendingReqs  int
	outstanding  float64
	nextSession  int64
	nextShift    int64
	nextTx       int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		sessions: map[int64]*Session{},
		shifts:   map[int64]*Shift{},
		cashiers: map[int64]Cashier{},
	}
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, m)
}

func (m *memoryRepo) GetSession(_ context.Context, id int64) (Session, error) {
	sess, ok := m.sessions[id]
	if !ok {
		return Session{}, shared.NotFound("session", id)
	}
	return *sess, nil
}

func (m *memoryRepo) GetOpenByDate(ctx context.Context, date time.Time) (Session, error) {
	return m.GetOpenByDateForUpdate(ctx, date)
}

func (m *memoryRepo) GetCashier(_ context.Context, id int64) (Cashier, error) {
	c, ok := m.cashiers[id]
	if !ok {
		return Cashier{}, shared.NotFound("cashier", id)
	}
	return c, nil
}

func (m *memoryRepo) ListShifts(_ context.Context, sessionID int64) ([]Shift, error) {
	var out []Shift
	for i := int64(1); i <= m.nextShift; i++ {
		if s, ok := m.shifts[i]; ok && s.SessionID == sessionID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (m *memoryRepo) GetOpenByDateForUpdate(_ context.Context, date time.Time) (Session, error) {
	for _, sess := range m.sessions {
		if !sess.Closed && sess.SessionDate.Equal(date) {
			return *sess, nil
		}
	}
	return Session{}, ErrNoOpenSession
}

func (m *memoryRepo) GetSessionForUpdate(ctx context.Context, id int64) (Session, error) {
	return m.GetSession(ctx, id)
}

func (m *memoryRepo) InsertSession(_ context.Context, sess Session) (int64, error) {
	m.nextSession++
	sess.ID = m.nextSession
	m.sessions[sess.ID] = &sess
	return sess.ID, nil
}

func (m *memoryRepo) UpdateSessionState(_ context.Context, sess Session) error {
	if _, ok := m.sessions[sess.ID]; !ok {
		return shared.NotFound("session", sess.ID)
	}
	copied := sess
	m.sessions[sess.ID] = &copied
	return nil
}

func (m *memoryRepo) InsertShift(_ context.Context, shift Shift) (int64, error) {
	m.nextShift++
	shift.ID = m.nextShift
	m.shifts[shift.ID] = &shift
	return shift.ID, nil
}

func (m *memoryRepo) GetShiftForUpdate(_ context.Context, id int64) (Shift, error) {
	s, ok := m.shifts[id]
	if !ok {
		return Shift{}, shared.NotFound("shift", id)
	}
	return *s, nil
}

func (m *memoryRepo) UpdateShift(_ context.Context, shift Shift) error {
	copied := shift
	m.shifts[shift.ID] = &copied
	return nil
}

func (m *memoryRepo) EndOpenShifts(_ context.Context, sessionID, endedBy int64, at time.Time) (int, error) {
	ended := 0
	for _, s := range m.shifts {
		if s.SessionID == sessionID && s.EndedAt == nil {
			s.EndedAt = &at
			s.EndedBy = &endedBy
			ended++
		}
	}
	return ended, nil
}

func (m *memoryRepo) InsertTransaction(_ context.Context, tx txlog.Transaction) (int64, error) {
	m.nextTx++
	tx.ID = m.nextTx
	m.transactions = append(m.transactions, tx)
	return tx.ID, nil
}

func (m *memoryRepo) Summarize(_ context.Context, sessionID int64) (txlog.Sums, error) {
	var sums txlog.Sums
	reversed := map[int64]struct{}{}
	for _, tx := range m.transactions {
		if tx.ReversalOf != nil {
			reversed[*tx.ReversalOf] = struct{}{}
		}
	}
	players := map[int64]struct{}{}
	for _, tx := range m.transactions {
		if tx.SessionID != sessionID || tx.ReversalOf != nil {
			continue
		}
		if _, ok := reversed[tx.ID]; ok {
			continue
		}
		sums.TransactionCount++
		if tx.PlayerID != nil {
			players[*tx.PlayerID] = struct{}{}
		}
		switch tx.Type {
		case txlog.TypeBuyIn, txlog.TypeDepositCash, txlog.TypeSettleCredit, txlog.TypeAddFloat:
			sums.TotalDeposits += tx.Amount
		case txlog.TypeCashPayout:
			sums.TotalWithdrawals += tx.Amount
		case txlog.TypeExpense, txlog.TypeDealerTip:
			sums.TotalExpenses += tx.Amount
		}
	}
	sums.PlayerCount = len(players)
	return sums, nil
}

func (m *memoryRepo) CountPendingCreditRequests(_ context.Context, _ int64) (int, error) {
	return m.pendingReqs, nil
}

func (m *memoryRepo) SessionOutstanding(_ context.Context, _ int64) (float64, error) {
	return m.outstanding, nil
}

type nopAudit struct{}

func (nopAudit) Record(context.Context, shared.AuditLog) error { return nil }

func fixedClock() func() time.Time {
	at := time.Date(2025, 3, 14, 18, 0, 0, 0, time.UTC)
	return func() time.Time { return at }
}

func newTestService(repo *memoryRepo) *Service {
	svc := NewService(repo, nopAudit{}, nil)
	svc.WithNow(fixedClock())
	return svc
}

func TestOpenSeedsFloatChipsAndShift(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)

	sess, err := svc.Open(context.Background(), OpenInput{
		OpeningFloat: 50000,
		OpeningChips: chips.Breakdown{500: 50},
		CashierID:    7,
	})
	require.NoError(t, err)
	require.Equal(t, 50000.0, sess.Pools.Primary)
	require.Equal(t, 0.0, sess.Pools.CashInHand)
	require.Equal(t, 50, sess.Inventory[500].Current)
	require.Equal(t, 50, sess.Inventory[500].Opening)

	require.Len(t, repo.transactions, 2)
	require.Equal(t, txlog.TypeAddFloat, repo.transactions[0].Type)
	require.Equal(t, 50000.0, repo.transactions[0].Amount)
	require.Equal(t, txlog.TypeOpeningChips, repo.transactions[1].Type)
	require.Equal(t, 25000.0, repo.transactions[1].ChipValue)

	shifts, err := svc.ListShifts(context.Background(), sess.ID)
	require.NoError(t, err)
	require.Len(t, shifts, 1)
	require.True(t, shifts[0].Active())
}

func TestOpenRejectsSecondSameDay(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)

	_, err := svc.Open(context.Background(), OpenInput{OpeningFloat: 1000, CashierID: 7})
	require.NoError(t, err)

	_, err = svc.Open(context.Background(), OpenInput{OpeningFloat: 2000, CashierID: 7})
	var stateErr *shared.SessionStateError
	require.ErrorAs(t, err, &stateErr)
}

func TestOpenAfterCloseSameDayAllowed(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)

	first, err := svc.Open(context.Background(), OpenInput{OpeningFloat: 1000, CashierID: 7})
	require.NoError(t, err)
	_, err = svc.Close(context.Background(), CloseInput{SessionID: first.ID, CloserID: 7})
	require.NoError(t, err)

	second, err := svc.Open(context.Background(), OpenInput{OpeningFloat: 500, CashierID: 7})
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)
}

func TestOpenValidation(t *testing.T) {
	svc := newTestService(newMemoryRepo())

	_, err := svc.Open(context.Background(), OpenInput{OpeningFloat: 100})
	var valErr *shared.ValidationError
	require.ErrorAs(t, err, &valErr)

	_, err = svc.Open(context.Background(), OpenInput{OpeningFloat: -5, CashierID: 7})
	require.ErrorAs(t, err, &valErr)

	_, err = svc.Open(context.Background(), OpenInput{CashierID: 7, OpeningChips: chips.Breakdown{250: 1}})
	require.ErrorAs(t, err, &valErr)
}

func TestCloseSummaryWarningsAndShiftEnd(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)

	sess, err := svc.Open(context.Background(), OpenInput{
		OpeningFloat: 10000,
		OpeningChips: chips.Breakdown{100: 100},
		CashierID:    7,
	})
	require.NoError(t, err)

	// chips out and credit left open at close time
	stored := repo.sessions[sess.ID]
	require.NoError(t, stored.Inventory.GiveOut(chips.Breakdown{100: 30}))
	repo.outstanding = 4000

	summary, err := svc.Close(context.Background(), CloseInput{SessionID: sess.ID, CloserID: 9})
	require.NoError(t, err)
	require.Equal(t, 3000.0, summary.ChipsInCirculation)
	require.Equal(t, 4000.0, summary.OutstandingCredit)
	require.Len(t, summary.Warnings, 2)
	require.Equal(t, 10000.0, summary.TotalDeposits)

	closed, err := svc.Get(context.Background(), sess.ID)
	require.NoError(t, err)
	require.True(t, closed.Closed)
	require.NotNil(t, closed.ClosedAt)
	require.Equal(t, int64(9), *closed.ClosedBy)

	shifts, err := svc.ListShifts(context.Background(), sess.ID)
	require.NoError(t, err)
	require.Len(t, shifts, 1)
	require.False(t, shifts[0].Active())
}

func TestCloseSummaryExcludesReversedPairs(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)

	sess, err := svc.Open(context.Background(), OpenInput{OpeningFloat: 10000, CashierID: 7})
	require.NoError(t, err)

	// a buy-in and its reversal cancel in pool state
	buyInID, err := repo.InsertTransaction(context.Background(), txlog.Transaction{
		SessionID: sess.ID, Type: txlog.TypeBuyIn, Amount: 5000,
	})
	require.NoError(t, err)
	_, err = repo.InsertTransaction(context.Background(), txlog.Transaction{
		SessionID: sess.ID, Type: txlog.TypeBuyIn, Amount: 5000, ReversalOf: &buyInID,
	})
	require.NoError(t, err)

	summary, err := svc.Close(context.Background(), CloseInput{SessionID: sess.ID, CloserID: 7})
	require.NoError(t, err)
	require.Equal(t, 10000.0, summary.TotalDeposits)
	require.Equal(t, 1, summary.TransactionCount)
}

func TestCloseTwiceRejected(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)

	sess, err := svc.Open(context.Background(), OpenInput{OpeningFloat: 100, CashierID: 7})
	require.NoError(t, err)
	_, err = svc.Close(context.Background(), CloseInput{SessionID: sess.ID, CloserID: 7})
	require.NoError(t, err)

	_, err = svc.Close(context.Background(), CloseInput{SessionID: sess.ID, CloserID: 7})
	var stateErr *shared.SessionStateError
	require.ErrorAs(t, err, &stateErr)
}

func TestCloseBlockedByPendingCreditRequests(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)

	sess, err := svc.Open(context.Background(), OpenInput{OpeningFloat: 100, CashierID: 7})
	require.NoError(t, err)
	repo.pendingReqs = 2

	_, err = svc.Close(context.Background(), CloseInput{SessionID: sess.ID, CloserID: 7})
	var valErr *shared.ValidationError
	require.ErrorAs(t, err, &valErr)

	sessAfter, err := svc.Get(context.Background(), sess.ID)
	require.NoError(t, err)
	require.False(t, sessAfter.Closed)
}

func TestCurrentWithoutOpenSession(t *testing.T) {
	svc := newTestService(newMemoryRepo())
	_, err := svc.Current(context.Background())
	var stateErr *shared.SessionStateError
	require.ErrorAs(t, err, &stateErr)
}

func TestStartShiftVerifiesPIN(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)

	hash, err := bcrypt.GenerateFromPassword([]byte("4321"), bcrypt.MinCost)
	require.NoError(t, err)
	repo.cashiers[12] = Cashier{ID: 12, Name: "Asha", PINHash: string(hash)}

	sess, err := svc.Open(context.Background(), OpenInput{OpeningFloat: 100, CashierID: 7})
	require.NoError(t, err)

	_, err = svc.StartShift(context.Background(), StartShiftInput{SessionID: sess.ID, CashierID: 12, PIN: "9999"})
	require.ErrorIs(t, err, ErrInvalidPIN)

	shift, err := svc.StartShift(context.Background(), StartShiftInput{SessionID: sess.ID, CashierID: 12, PIN: "4321"})
	require.NoError(t, err)
	require.True(t, shift.Active())
	require.Equal(t, int64(12), shift.CashierID)
}

func TestEndShift(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)

	sess, err := svc.Open(context.Background(), OpenInput{OpeningFloat: 100, CashierID: 7})
	require.NoError(t, err)
	shifts, err := svc.ListShifts(context.Background(), sess.ID)
	require.NoError(t, err)

	ended, err := svc.EndShift(context.Background(), shifts[0].ID, 7)
	require.NoError(t, err)
	require.False(t, ended.Active())

	_, err = svc.EndShift(context.Background(), shifts[0].ID, 7)
	var valErr *shared.ValidationError
	require.ErrorAs(t, err, &valErr)
}
