package cage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cagedesk/cagedesk/internal/chips"
	"github.com/cagedesk/cagedesk/internal/credit"
	"github.com/cagedesk/cagedesk/internal/pools"
	"github.com/cagedesk/cagedesk/internal/session"
	"github.com/cagedesk/cagedesk/internal/shared"
	"github.com/cagedesk/cagedesk/internal/txlog"
)

type memoryRepo struct {
	sessions     map[int64]*session.Session
	records      map[int64]*credit.Record
	profiles     map[int64]float64
	transactions map[int64]*txlog.Transaction
	nextRecord   int64
	nextTx       int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		sessions:     map[int64]*session.Session{},
		records:      map[int64]*credit.Record{},
		profiles:     map[int64]float64{},
		transactions: map[int64]*txlog.Transaction{},
	}
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, m)
}

func (m *memoryRepo) GetTransaction(_ context.Context, id int64) (txlog.Transaction, error) {
	tx, ok := m.transactions[id]
	if !ok {
		return txlog.Transaction{}, shared.NotFound("transaction", id)
	}
	return *tx, nil
}

func (m *memoryRepo) ListTransactions(_ context.Context, filter txlog.Filter) ([]txlog.Transaction, error) {
	var out []txlog.Transaction
	for i := m.nextTx; i >= 1; i-- {
		tx, ok := m.transactions[i]
		if !ok || tx.SessionID != filter.SessionID {
			continue
		}
		if filter.Type != "" && tx.Type != filter.Type {
			continue
		}
		if filter.PlayerID != 0 && (tx.PlayerID == nil || *tx.PlayerID != filter.PlayerID) {
			continue
		}
		out = append(out, *tx)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (m *memoryRepo) GetSessionForUpdate(_ context.Context, id int64) (session.Session, error) {
	sess, ok := m.sessions[id]
	if !ok {
		return session.Session{}, shared.NotFound("session", id)
	}
	copied := *sess
	copied.Inventory = sess.Inventory.Clone()
	return copied, nil
}

func (m *memoryRepo) UpdateSessionState(_ context.Context, sess session.Session) error {
	if _, ok := m.sessions[sess.ID]; !ok {
		return shared.NotFound("session", sess.ID)
	}
	copied := sess
	m.sessions[sess.ID] = &copied
	return nil
}

func (m *memoryRepo) InsertTransaction(_ context.Context, tx txlog.Transaction) (int64, error) {
	m.nextTx++
	tx.ID = m.nextTx
	m.transactions[tx.ID] = &tx
	return tx.ID, nil
}

func (m *memoryRepo) GetTransactionForUpdate(ctx context.Context, id int64) (txlog.Transaction, error) {
	return m.GetTransaction(ctx, id)
}

func (m *memoryRepo) HasReversal(_ context.Context, id int64) (bool, error) {
	for _, tx := range m.transactions {
		if tx.ReversalOf != nil && *tx.ReversalOf == id {
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryRepo) UpdateTransactionNote(_ context.Context, id int64, note string) error {
	tx, ok := m.transactions[id]
	if !ok {
		return shared.NotFound("transaction", id)
	}
	tx.Note = note
	return nil
}

func (m *memoryRepo) ListOpenRecordsForUpdate(_ context.Context, sessionID, playerID int64) ([]credit.Record, error) {
	var out []credit.Record
	for i := int64(1); i <= m.nextRecord; i++ {
		rec, ok := m.records[i]
		if !ok || rec.SessionID != sessionID || rec.PlayerID != playerID || rec.FullySettled {
			continue
		}
		out = append(out, *rec)
	}
	return out, nil
}

func (m *memoryRepo) ApplySettlement(_ context.Context, alloc credit.Allocation, at time.Time) error {
	rec, ok := m.records[alloc.RecordID]
	if !ok {
		return shared.NotFound("credit record", alloc.RecordID)
	}
	rec.Settled += alloc.Amount
	rec.Outstanding -= alloc.Amount
	rec.FullySettled = alloc.FullySettled
	rec.UpdatedAt = at
	return nil
}

func (m *memoryRepo) SessionOutstanding(_ context.Context, sessionID int64) (float64, error) {
	var total float64
	for _, rec := range m.records {
		if rec.SessionID == sessionID && !rec.FullySettled {
			total += rec.Outstanding
		}
	}
	return total, nil
}

func (m *memoryRepo) LifetimeOutstanding(_ context.Context, playerID int64) (float64, error) {
	var total float64
	for _, rec := range m.records {
		if rec.PlayerID == playerID && !rec.FullySettled {
			total += rec.Outstanding
		}
	}
	return total, nil
}

func (m *memoryRepo) UpdateProfileOutstanding(_ context.Context, playerID int64, outstanding float64) error {
	m.profiles[playerID] = outstanding
	return nil
}

func (m *memoryRepo) addRecord(sessionID, playerID int64, issued float64, at time.Time) int64 {
	m.nextRecord++
	m.records[m.nextRecord] = &credit.Record{
		ID:          m.nextRecord,
		SessionID:   sessionID,
		PlayerID:    playerID,
		Issued:      issued,
		Outstanding: issued,
		IssuedAt:    at,
		UpdatedAt:   at,
	}
	return m.nextRecord
}

type nopAudit struct{}

func (nopAudit) Record(context.Context, shared.AuditLog) error { return nil }

func newTestService(repo *memoryRepo) *Service {
	svc := NewService(repo, nopAudit{}, nil, nil, nil)
	svc.WithNow(func() time.Time { return time.Date(2024, 3, 15, 21, 0, 0, 0, time.UTC) })
	return svc
}

func seedSession(repo *memoryRepo, cashInHand, primary, online float64, tray chips.Breakdown) *session.Session {
	sess := &session.Session{
		ID:           1,
		SessionDate:  time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
		OpeningFloat: primary,
		Pools: pools.Pools{
			Primary:     primary,
			CashInHand:  cashInHand,
			OnlineMoney: online,
			Secondary:   cashInHand + online,
		},
		Inventory: chips.NewInventory(tray),
		OpenedBy:  7,
	}
	repo.sessions[sess.ID] = sess
	return sess
}

func TestBuyInMovesChipsAndCash(t *testing.T) {
	repo := newMemoryRepo()
	seedSession(repo, 0, 50000, 0, chips.Breakdown{500: 100})
	svc := newTestService(repo)

	res, err := svc.BuyIn(context.Background(), BuyInInput{
		SessionID: 1,
		PlayerID:  11,
		Amount:    5000,
		Mode:      pools.PayModeCash,
		Breakdown: chips.Breakdown{500: 10},
		ActorID:   7,
	})
	require.NoError(t, err)
	require.NotZero(t, res.TransactionID)
	require.NotEmpty(t, res.Code)

	sess := repo.sessions[1]
	require.InDelta(t, 5000, sess.Pools.CashInHand, 0.001)
	require.InDelta(t, 5000, sess.Pools.Secondary, 0.001)
	require.InDelta(t, 50000, sess.Pools.Primary, 0.001)
	require.Equal(t, 90, sess.Inventory[500].Current)
	require.Equal(t, 10, sess.Inventory[500].Out)

	tx := repo.transactions[res.TransactionID]
	require.Equal(t, txlog.TypeBuyIn, tx.Type)
	require.Equal(t, pools.PoolCashInHand, tx.Wallet)
	require.InDelta(t, 5000, tx.ChipValue, 0.001)
}

func TestBuyInOnlineCreditsOnlinePool(t *testing.T) {
	repo := newMemoryRepo()
	seedSession(repo, 0, 50000, 0, chips.Breakdown{500: 100})
	svc := newTestService(repo)

	_, err := svc.BuyIn(context.Background(), BuyInInput{
		SessionID: 1,
		Amount:    2000,
		Mode:      pools.PayModeUPI,
		Breakdown: chips.Breakdown{500: 4},
		ActorID:   7,
	})
	require.NoError(t, err)

	sess := repo.sessions[1]
	require.InDelta(t, 2000, sess.Pools.OnlineMoney, 0.001)
	require.InDelta(t, 2000, sess.Pools.Secondary, 0.001)
	require.Zero(t, sess.Pools.CashInHand)
}

func TestBuyInRejectsBreakdownMismatch(t *testing.T) {
	repo := newMemoryRepo()
	seedSession(repo, 0, 50000, 0, chips.Breakdown{500: 100})
	svc := newTestService(repo)

	_, err := svc.BuyIn(context.Background(), BuyInInput{
		SessionID: 1,
		Amount:    5000,
		Mode:      pools.PayModeCash,
		Breakdown: chips.Breakdown{500: 9},
		ActorID:   7,
	})
	var verr *shared.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Zero(t, repo.nextTx)
}

func TestBuyInShortTrayRejected(t *testing.T) {
	repo := newMemoryRepo()
	seedSession(repo, 0, 50000, 0, chips.Breakdown{500: 5})
	svc := newTestService(repo)

	_, err := svc.BuyIn(context.Background(), BuyInInput{
		SessionID: 1,
		Amount:    5000,
		Mode:      pools.PayModeCash,
		Breakdown: chips.Breakdown{500: 10},
		ActorID:   7,
	})
	var ierr *shared.InsufficientInventoryError
	require.ErrorAs(t, err, &ierr)

	sess := repo.sessions[1]
	require.Equal(t, 5, sess.Inventory[500].Current)
	require.Zero(t, sess.Pools.CashInHand)
}

func TestPayoutCashOnly(t *testing.T) {
	repo := newMemoryRepo()
	sess := seedSession(repo, 6000, 50000, 0, chips.Breakdown{500: 100})
	require.NoError(t, sess.Inventory.GiveOut(chips.Breakdown{500: 20}))
	svc := newTestService(repo)

	res, err := svc.Payout(context.Background(), PayoutInput{
		SessionID:  1,
		PlayerID:   11,
		CashAmount: 4000,
		Breakdown:  chips.Breakdown{500: 8},
		ActorID:    7,
	})
	require.NoError(t, err)
	require.Len(t, res.Debits, 1)
	require.Equal(t, pools.PoolCashInHand, res.Debits[0].Pool)

	got := repo.sessions[1]
	require.InDelta(t, 2000, got.Pools.CashInHand, 0.001)
	require.InDelta(t, 50000, got.Pools.Primary, 0.001)
	require.Equal(t, 88, got.Inventory[500].Current)
	require.Equal(t, 12, got.Inventory[500].Out)
}

func TestPayoutSplitsAcrossCashThenPrimary(t *testing.T) {
	repo := newMemoryRepo()
	sess := seedSession(repo, 3000, 50000, 9999, chips.Breakdown{500: 100})
	require.NoError(t, sess.Inventory.GiveOut(chips.Breakdown{500: 20}))
	svc := newTestService(repo)

	res, err := svc.Payout(context.Background(), PayoutInput{
		SessionID:  1,
		CashAmount: 8000,
		Breakdown:  chips.Breakdown{500: 16},
		ActorID:    7,
	})
	require.NoError(t, err)
	require.Equal(t, []pools.Debit{
		{Pool: pools.PoolCashInHand, Amount: 3000},
		{Pool: pools.PoolPrimary, Amount: 5000},
	}, res.Debits)

	got := repo.sessions[1]
	require.Zero(t, got.Pools.CashInHand)
	require.InDelta(t, 45000, got.Pools.Primary, 0.001)
	require.InDelta(t, 9999, got.Pools.OnlineMoney, 0.001, "online money never funds a cash payout")
}

func TestPayoutInsufficientFundsLeavesStateUntouched(t *testing.T) {
	repo := newMemoryRepo()
	sess := seedSession(repo, 3000, 4000, 0, chips.Breakdown{500: 100})
	require.NoError(t, sess.Inventory.GiveOut(chips.Breakdown{500: 16}))
	svc := newTestService(repo)

	_, err := svc.Payout(context.Background(), PayoutInput{
		SessionID:  1,
		CashAmount: 8000,
		Breakdown:  chips.Breakdown{500: 16},
		ActorID:    7,
	})
	var ferr *shared.InsufficientFundsError
	require.ErrorAs(t, err, &ferr)
	require.InDelta(t, 1000, ferr.Shortfall, 0.001)
	require.InDelta(t, 7000, ferr.Available, 0.001)

	got := repo.sessions[1]
	require.InDelta(t, 3000, got.Pools.CashInHand, 0.001)
	require.InDelta(t, 4000, got.Pools.Primary, 0.001)
	require.Equal(t, 84, got.Inventory[500].Current)
	require.Zero(t, repo.nextTx)
}

func TestPayoutAutoSettlesCreditOldestFirst(t *testing.T) {
	repo := newMemoryRepo()
	sess := seedSession(repo, 10000, 50000, 0, chips.Breakdown{500: 100})
	require.NoError(t, sess.Inventory.GiveOut(chips.Breakdown{500: 24}))
	issued := time.Date(2024, 3, 15, 18, 0, 0, 0, time.UTC)
	first := repo.addRecord(1, 11, 3000, issued)
	second := repo.addRecord(1, 11, 2000, issued.Add(time.Hour))
	svc := newTestService(repo)

	res, err := svc.Payout(context.Background(), PayoutInput{
		SessionID:  1,
		PlayerID:   11,
		CashAmount: 8000,
		Breakdown:  chips.Breakdown{500: 24},
		ActorID:    7,
	})
	require.NoError(t, err)
	require.Equal(t, []credit.Allocation{
		{RecordID: first, Amount: 3000, FullySettled: true},
		{RecordID: second, Amount: 1000},
	}, res.Settled)

	require.True(t, repo.records[first].FullySettled)
	require.InDelta(t, 1000, repo.records[second].Outstanding, 0.001)

	got := repo.sessions[1]
	require.InDelta(t, 2000, got.Pools.CashInHand, 0.001)
	require.InDelta(t, 1000, got.OutstandingCredit, 0.001)
	require.InDelta(t, 1000, repo.profiles[11], 0.001)

	tx := repo.transactions[res.TransactionID]
	require.Contains(t, tx.Meta, txlog.MetaSettled)
}

func TestPayoutSettlementBeyondOutstandingRejected(t *testing.T) {
	repo := newMemoryRepo()
	sess := seedSession(repo, 10000, 50000, 0, chips.Breakdown{500: 100})
	require.NoError(t, sess.Inventory.GiveOut(chips.Breakdown{500: 10}))
	repo.addRecord(1, 11, 1000, time.Date(2024, 3, 15, 18, 0, 0, 0, time.UTC))
	svc := newTestService(repo)

	_, err := svc.Payout(context.Background(), PayoutInput{
		SessionID:  1,
		PlayerID:   11,
		CashAmount: 2000,
		Breakdown:  chips.Breakdown{500: 10},
		ActorID:    7,
	})
	var verr *shared.ValidationError
	require.ErrorAs(t, err, &verr)

	got := repo.sessions[1]
	require.InDelta(t, 10000, got.Pools.CashInHand, 0.001)
	require.Equal(t, 90, got.Inventory[500].Current)
}

func TestPayoutCashExceedingChipValueRejected(t *testing.T) {
	repo := newMemoryRepo()
	seedSession(repo, 10000, 50000, 0, chips.Breakdown{500: 100})
	svc := newTestService(repo)

	_, err := svc.Payout(context.Background(), PayoutInput{
		SessionID:  1,
		CashAmount: 6000,
		Breakdown:  chips.Breakdown{500: 10},
		ActorID:    7,
	})
	var verr *shared.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestPayoutSettlementWithoutPlayerRejected(t *testing.T) {
	repo := newMemoryRepo()
	seedSession(repo, 10000, 50000, 0, chips.Breakdown{500: 100})
	svc := newTestService(repo)

	_, err := svc.Payout(context.Background(), PayoutInput{
		SessionID:  1,
		CashAmount: 4000,
		Breakdown:  chips.Breakdown{500: 10},
		ActorID:    7,
	})
	var verr *shared.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestExpenseDrawsCashFirst(t *testing.T) {
	repo := newMemoryRepo()
	seedSession(repo, 1500, 50000, 0, chips.Breakdown{})
	svc := newTestService(repo)

	res, err := svc.Expense(context.Background(), OutflowInput{
		SessionID: 1,
		Amount:    2000,
		Category:  "food",
		Note:      "staff dinner",
		ActorID:   7,
	})
	require.NoError(t, err)
	require.Equal(t, []pools.Debit{
		{Pool: pools.PoolCashInHand, Amount: 1500},
		{Pool: pools.PoolPrimary, Amount: 500},
	}, res.Debits)

	got := repo.sessions[1]
	require.Zero(t, got.Pools.CashInHand)
	require.InDelta(t, 49500, got.Pools.Primary, 0.001)

	tx := repo.transactions[res.TransactionID]
	require.Equal(t, txlog.TypeExpense, tx.Type)
	require.Equal(t, "food", tx.Meta[txlog.MetaCategory])
}

func TestDealerTipRecordsType(t *testing.T) {
	repo := newMemoryRepo()
	seedSession(repo, 5000, 50000, 0, chips.Breakdown{})
	svc := newTestService(repo)

	res, err := svc.DealerTip(context.Background(), OutflowInput{SessionID: 1, Amount: 500, ActorID: 7})
	require.NoError(t, err)
	require.Equal(t, txlog.TypeDealerTip, repo.transactions[res.TransactionID].Type)
	require.InDelta(t, 4500, repo.sessions[1].Pools.CashInHand, 0.001)
}

func TestDepositChipsClampsSurplus(t *testing.T) {
	repo := newMemoryRepo()
	sess := seedSession(repo, 0, 50000, 0, chips.Breakdown{500: 100})
	require.NoError(t, sess.Inventory.GiveOut(chips.Breakdown{500: 4}))
	svc := newTestService(repo)

	res, err := svc.DepositChips(context.Background(), DepositChipsInput{
		SessionID: 1,
		PlayerID:  11,
		Breakdown: chips.Breakdown{500: 6},
		ActorID:   7,
	})
	require.NoError(t, err)
	require.InDelta(t, 1000, res.ChipSurplus, 0.001)

	got := repo.sessions[1]
	require.Equal(t, 102, got.Inventory[500].Current)
	require.Zero(t, got.Inventory[500].Out)
	require.InDelta(t, 1000, repo.transactions[res.TransactionID].Meta[txlog.MetaChipSurplus], 0.001)
}

func TestAddFloatCreditsPrimary(t *testing.T) {
	repo := newMemoryRepo()
	seedSession(repo, 0, 50000, 0, chips.Breakdown{})
	svc := newTestService(repo)

	res, err := svc.AddFloat(context.Background(), AddFloatInput{SessionID: 1, Amount: 20000, ActorID: 7})
	require.NoError(t, err)
	require.InDelta(t, 70000, repo.sessions[1].Pools.Primary, 0.001)
	require.Equal(t, pools.PoolPrimary, repo.transactions[res.TransactionID].Wallet)
}

func TestAdjustRequiresNote(t *testing.T) {
	repo := newMemoryRepo()
	seedSession(repo, 5000, 50000, 0, chips.Breakdown{})
	svc := newTestService(repo)

	_, err := svc.AdjustBalance(context.Background(), AdjustInput{
		SessionID: 1,
		Pool:      pools.PoolCashInHand,
		Delta:     -200,
		ActorID:   7,
	})
	var verr *shared.ValidationError
	require.ErrorAs(t, err, &verr)

	res, err := svc.AdjustBalance(context.Background(), AdjustInput{
		SessionID: 1,
		Pool:      pools.PoolCashInHand,
		Delta:     -200,
		Note:      "count correction",
		ActorID:   7,
	})
	require.NoError(t, err)
	require.InDelta(t, 4800, repo.sessions[1].Pools.CashInHand, 0.001)
	require.InDelta(t, 4800, repo.sessions[1].Pools.Secondary, 0.001)
	require.InDelta(t, 200, repo.transactions[res.TransactionID].Amount, 0.001)
}

func TestOperationOnClosedSessionRejected(t *testing.T) {
	repo := newMemoryRepo()
	sess := seedSession(repo, 5000, 50000, 0, chips.Breakdown{500: 100})
	sess.Closed = true
	svc := newTestService(repo)

	_, err := svc.BuyIn(context.Background(), BuyInInput{
		SessionID: 1,
		Amount:    500,
		Mode:      pools.PayModeCash,
		Breakdown: chips.Breakdown{500: 1},
		ActorID:   7,
	})
	var serr *shared.SessionStateError
	require.ErrorAs(t, err, &serr)
}

func TestReverseBuyIn(t *testing.T) {
	repo := newMemoryRepo()
	seedSession(repo, 0, 50000, 0, chips.Breakdown{500: 100})
	svc := newTestService(repo)

	res, err := svc.BuyIn(context.Background(), BuyInInput{
		SessionID: 1,
		PlayerID:  11,
		Amount:    5000,
		Mode:      pools.PayModeCash,
		Breakdown: chips.Breakdown{500: 10},
		ActorID:   7,
	})
	require.NoError(t, err)

	rev, err := svc.Reverse(context.Background(), res.TransactionID, 7, "keyed wrong player")
	require.NoError(t, err)
	require.Equal(t, res.Code+"-R", rev.Code)

	got := repo.sessions[1]
	require.Zero(t, got.Pools.CashInHand)
	require.Zero(t, got.Pools.Secondary)
	require.Equal(t, 100, got.Inventory[500].Current)
	require.Zero(t, got.Inventory[500].Out)

	row := repo.transactions[rev.TransactionID]
	require.Equal(t, txlog.TypeBuyIn, row.Type)
	require.NotNil(t, row.ReversalOf)
	require.Equal(t, res.TransactionID, *row.ReversalOf)
}

func TestReverseBuyInRecordsClampedSurplus(t *testing.T) {
	repo := newMemoryRepo()
	seedSession(repo, 0, 50000, 0, chips.Breakdown{500: 100})
	svc := newTestService(repo)

	res, err := svc.BuyIn(context.Background(), BuyInInput{
		SessionID: 1,
		PlayerID:  11,
		Amount:    5000,
		Mode:      pools.PayModeCash,
		Breakdown: chips.Breakdown{500: 10},
		ActorID:   7,
	})
	require.NoError(t, err)

	// the player already returned most of the chips before the reversal
	_, err = svc.DepositChips(context.Background(), DepositChipsInput{
		SessionID: 1,
		PlayerID:  11,
		Breakdown: chips.Breakdown{500: 8},
		ActorID:   7,
	})
	require.NoError(t, err)

	rev, err := svc.Reverse(context.Background(), res.TransactionID, 7, "keyed wrong amount")
	require.NoError(t, err)

	got := repo.sessions[1]
	require.Equal(t, 108, got.Inventory[500].Current)
	require.Zero(t, got.Inventory[500].Out)
	require.InDelta(t, 4000, repo.transactions[rev.TransactionID].Meta[txlog.MetaChipSurplus], 0.001)
}

func TestReverseExpenseRestoresDebitedPools(t *testing.T) {
	repo := newMemoryRepo()
	seedSession(repo, 1500, 50000, 0, chips.Breakdown{})
	svc := newTestService(repo)

	res, err := svc.Expense(context.Background(), OutflowInput{SessionID: 1, Amount: 2000, ActorID: 7})
	require.NoError(t, err)

	_, err = svc.Reverse(context.Background(), res.TransactionID, 7, "")
	require.NoError(t, err)

	got := repo.sessions[1]
	require.InDelta(t, 1500, got.Pools.CashInHand, 0.001)
	require.InDelta(t, 50000, got.Pools.Primary, 0.001)
}

func TestReverseTwiceRejected(t *testing.T) {
	repo := newMemoryRepo()
	seedSession(repo, 5000, 50000, 0, chips.Breakdown{})
	svc := newTestService(repo)

	res, err := svc.DealerTip(context.Background(), OutflowInput{SessionID: 1, Amount: 500, ActorID: 7})
	require.NoError(t, err)

	rev, err := svc.Reverse(context.Background(), res.TransactionID, 7, "")
	require.NoError(t, err)

	_, err = svc.Reverse(context.Background(), res.TransactionID, 7, "")
	var verr *shared.ValidationError
	require.ErrorAs(t, err, &verr)

	_, err = svc.Reverse(context.Background(), rev.TransactionID, 7, "")
	require.ErrorAs(t, err, &verr)
}

func TestReversePayoutWithSettlementRejected(t *testing.T) {
	repo := newMemoryRepo()
	sess := seedSession(repo, 10000, 50000, 0, chips.Breakdown{500: 100})
	require.NoError(t, sess.Inventory.GiveOut(chips.Breakdown{500: 10}))
	repo.addRecord(1, 11, 2000, time.Date(2024, 3, 15, 18, 0, 0, 0, time.UTC))
	svc := newTestService(repo)

	res, err := svc.Payout(context.Background(), PayoutInput{
		SessionID:  1,
		PlayerID:   11,
		CashAmount: 3000,
		Breakdown:  chips.Breakdown{500: 10},
		ActorID:    7,
	})
	require.NoError(t, err)
	require.Len(t, res.Settled, 1)

	_, err = svc.Reverse(context.Background(), res.TransactionID, 7, "")
	var verr *shared.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestRenameTransaction(t *testing.T) {
	repo := newMemoryRepo()
	seedSession(repo, 5000, 50000, 0, chips.Breakdown{})
	svc := newTestService(repo)

	res, err := svc.DealerTip(context.Background(), OutflowInput{SessionID: 1, Amount: 500, ActorID: 7})
	require.NoError(t, err)

	require.NoError(t, svc.RenameTransaction(context.Background(), res.TransactionID, 7, "tip for table 3"))
	require.Equal(t, "tip for table 3", repo.transactions[res.TransactionID].Note)

	err = svc.RenameTransaction(context.Background(), res.TransactionID, 7, "   ")
	var verr *shared.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestListTransactionsFilters(t *testing.T) {
	repo := newMemoryRepo()
	seedSession(repo, 0, 50000, 0, chips.Breakdown{500: 100})
	svc := newTestService(repo)

	for i := 0; i < 3; i++ {
		_, err := svc.BuyIn(context.Background(), BuyInInput{
			SessionID: 1,
			PlayerID:  11,
			Amount:    500,
			Mode:      pools.PayModeCash,
			Breakdown: chips.Breakdown{500: 1},
			ActorID:   7,
		})
		require.NoError(t, err)
	}
	_, err := svc.DealerTip(context.Background(), OutflowInput{SessionID: 1, Amount: 100, ActorID: 7})
	require.NoError(t, err)

	all, err := svc.ListTransactions(context.Background(), txlog.Filter{SessionID: 1})
	require.NoError(t, err)
	require.Len(t, all, 4)

	buyIns, err := svc.ListTransactions(context.Background(), txlog.Filter{SessionID: 1, Type: txlog.TypeBuyIn})
	require.NoError(t, err)
	require.Len(t, buyIns, 3)

	limited, err := svc.ListTransactions(context.Background(), txlog.Filter{SessionID: 1, Limit: 2})
	require.NoError(t, err)
	require.Len(t, limited, 2)
}
