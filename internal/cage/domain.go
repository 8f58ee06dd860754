// Package cage implements the composite cashier operations: buy-in,
// payout with automatic credit settlement, expenses, tips, deposits, float
// top-ups, balance adjustments, and reversals. Every operation locks the
// session row, validates fully before mutating, appends one ledger row,
// and commits counters and the row as a single transaction.
package cage

import (
	"github.com/cagedesk/cagedesk/internal/chips"
	"github.com/cagedesk/cagedesk/internal/credit"
	"github.com/cagedesk/cagedesk/internal/pools"
	"github.com/cagedesk/cagedesk/internal/txlog"
)

// BuyInInput describes a chip purchase by a player.
type BuyInInput struct {
	SessionID int64
	PlayerID  int64
	Amount    float64
	Mode      pools.PayMode
	Breakdown chips.Breakdown
	Note      string
	Code      string
	ActorID   int64
}

// PayoutInput describes a chip redemption. The returned chips' value in
// excess of the cash paid settles the player's open credit oldest-first.
type PayoutInput struct {
	SessionID  int64
	PlayerID   int64
	CashAmount float64
	Breakdown  chips.Breakdown
	Note       string
	Code       string
	ActorID    int64
}

// OutflowInput describes a cash-only disbursement (expense or dealer tip).
type OutflowInput struct {
	SessionID int64
	Amount    float64
	Category  string
	Note      string
	Code      string
	ActorID   int64
}

// DepositCashInput describes money handed to the cage outside a buy-in.
type DepositCashInput struct {
	SessionID int64
	PlayerID  int64
	Amount    float64
	Mode      pools.PayMode
	Note      string
	Code      string
	ActorID   int64
}

// DepositChipsInput describes chips returned to the tray with no cash
// leaving the cage.
type DepositChipsInput struct {
	SessionID int64
	PlayerID  int64
	Breakdown chips.Breakdown
	Note      string
	Code      string
	ActorID   int64
}

// AddFloatInput describes an owner top-up of operating capital.
type AddFloatInput struct {
	SessionID int64
	Amount    float64
	Note      string
	Code      string
	ActorID   int64
}

// AdjustInput describes a manual correction to one named pool.
type AdjustInput struct {
	SessionID int64
	Pool      pools.Pool
	Delta     float64
	Note      string
	Code      string
	ActorID   int64
}

// Result reports a completed operation: the appended ledger row, the
// balances after commit, and a human-readable summary of the allocation.
type Result struct {
	TransactionID int64               `json:"transaction_id"`
	Code          string              `json:"code"`
	Pools         pools.Pools         `json:"pools"`
	Debits        []pools.Debit       `json:"debits,omitempty"`
	Settled       []credit.Allocation `json:"settled,omitempty"`
	ChipSurplus   float64             `json:"chip_surplus,omitempty"`
	Message       string              `json:"message"`
}

// ListFilter narrows transaction listings for the audit surface.
type ListFilter = txlog.Filter
