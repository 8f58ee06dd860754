// Package txlog is the append-only recorder for every balance-affecting cage
// action. Rows are immutable once written; a reversal is a new row referencing
// the original, and the only permitted edit is the display note.
package txlog

import (
	"time"

	"github.com/cagedesk/cagedesk/internal/chips"
	"github.com/cagedesk/cagedesk/internal/pools"
)

// Type enumerates recorded cage actions.
type Type string

const (
	TypeBuyIn             Type = "buy_in"
	TypeCashPayout        Type = "cash_payout"
	TypeCreditIssued      Type = "credit_issued"
	TypeSettleCredit      Type = "settle_credit"
	TypeDepositCash       Type = "deposit_cash"
	TypeDepositChips      Type = "deposit_chips"
	TypeExpense           Type = "expense"
	TypeDealerTip         Type = "dealer_tip"
	TypeBalanceAdjustment Type = "balance_adjustment"
	TypeAddFloat          Type = "add_float"
	TypeOpeningChips      Type = "opening_chips"
)

// Valid reports whether t is a recorded transaction type.
func (t Type) Valid() bool {
	switch t {
	case TypeBuyIn, TypeCashPayout, TypeCreditIssued, TypeSettleCredit,
		TypeDepositCash, TypeDepositChips, TypeExpense, TypeDealerTip,
		TypeBalanceAdjustment, TypeAddFloat, TypeOpeningChips:
		return true
	}
	return false
}

// Meta keys used for structured allocation detail on a transaction row.
// Debits/credits hold []pools.Debit; the rest are scalars.
const (
	MetaDebits      = "debits"
	MetaCredits     = "credits"
	MetaChipSurplus = "chip_surplus"
	MetaSettled     = "settled"
	MetaPool        = "pool"
	MetaDelta       = "delta"
	MetaCategory    = "category"
	MetaMode        = "mode"
)

// Transaction is one immutable ledger row.
type Transaction struct {
	ID         int64
	Code       string
	SessionID  int64
	Type       Type
	PlayerID   *int64
	Amount     float64
	ChipValue  float64
	Breakdown  chips.Breakdown
	Wallet     pools.Pool
	Note       string
	Meta       map[string]any
	ReversalOf *int64
	CreatedBy  int64
	CreatedAt  time.Time
}

// Reversed reports whether the row itself is a reversal entry.
func (t Transaction) Reversed() bool {
	return t.ReversalOf != nil
}

// Filter narrows transaction listings.
type Filter struct {
	SessionID int64
	Type      Type
	PlayerID  int64
	Limit     int
}

// Sums aggregates session transactions for the close summary. Values are
// derived from rows, never from incremental counters.
type Sums struct {
	TotalDeposits    float64
	TotalWithdrawals float64
	TotalExpenses    float64
	PlayerCount      int
	TransactionCount int
}
