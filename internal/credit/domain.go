// Package credit owns player credit records: lifetime-limit-guarded
// issuance, FIFO partial settlement, the pending-approval queue for
// requests the chip tray cannot serve, and recompute-based reconciliation
// of outstanding aggregates.
package credit

import (
	"time"

	"github.com/cagedesk/cagedesk/internal/chips"
	"github.com/cagedesk/cagedesk/internal/pools"
	"github.com/cagedesk/cagedesk/internal/shared"
)

// Record is one credit issuance to a player within a session. Outstanding
// is authoritative only at the row level; every aggregate is recomputed by
// summing rows.
type Record struct {
	ID           int64           `json:"id"`
	SessionID    int64           `json:"session_id"`
	PlayerID     int64           `json:"player_id"`
	Issued       float64         `json:"issued"`
	Settled      float64         `json:"settled"`
	Outstanding  float64         `json:"outstanding"`
	FullySettled bool            `json:"fully_settled"`
	Breakdown    chips.Breakdown `json:"breakdown,omitempty"`
	IssuedBy     int64           `json:"issued_by"`
	IssuedAt     time.Time       `json:"issued_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// RequestStatus enumerates the pending-credit decision states.
type RequestStatus string

const (
	StatusPending  RequestStatus = "PENDING"
	StatusApproved RequestStatus = "APPROVED"
	StatusRejected RequestStatus = "REJECTED"
)

// Request is a credit issuance the chip tray could not serve at request
// time, parked for an admin decision. Pending requests block session close.
type Request struct {
	ID          int64           `json:"id"`
	SessionID   int64           `json:"session_id"`
	PlayerID    int64           `json:"player_id"`
	Amount      float64         `json:"amount"`
	Breakdown   chips.Breakdown `json:"breakdown"`
	Status      RequestStatus   `json:"status"`
	Note        string          `json:"note,omitempty"`
	RequestedBy int64           `json:"requested_by"`
	RequestedAt time.Time       `json:"requested_at"`
	DecidedBy   *int64          `json:"decided_by,omitempty"`
	DecidedAt   *time.Time      `json:"decided_at,omitempty"`
}

// Profile is the player's lifetime credit standing, aggregated across
// sessions. The ledger consults it, it does not own player identity.
type Profile struct {
	PlayerID            int64   `json:"player_id"`
	Name                string  `json:"name"`
	CreditLimit         float64 `json:"credit_limit"`
	LifetimeOutstanding float64 `json:"lifetime_outstanding"`
}

// Available is the credit headroom left under the lifetime limit.
func (p Profile) Available() float64 {
	return p.CreditLimit - p.LifetimeOutstanding
}

// IssueInput describes a credit issuance request.
type IssueInput struct {
	SessionID int64
	PlayerID  int64
	Amount    float64
	Breakdown chips.Breakdown
	ActorID   int64
}

// IssueResult reports either the created record or the parked request.
type IssueResult struct {
	Pending bool     `json:"pending"`
	Record  *Record  `json:"record,omitempty"`
	Request *Request `json:"request,omitempty"`
}

// SettleInput describes a cash-funded settlement.
type SettleInput struct {
	SessionID int64
	PlayerID  int64
	Amount    float64
	Mode      pools.PayMode
	ActorID   int64
}

// Allocation is one record's share of a settlement amount.
type Allocation struct {
	RecordID     int64   `json:"record_id"`
	Amount       float64 `json:"amount"`
	FullySettled bool    `json:"fully_settled"`
}

// AllocateSettlement splits amount across open records oldest-first,
// consuming each record's outstanding before touching the next. A record
// whose residual falls to the rounding tolerance is marked fully settled.
// Over-settlement beyond the total outstanding is rejected.
func AllocateSettlement(records []Record, amount float64) ([]Allocation, error) {
	if amount <= 0 {
		return nil, shared.Validationf("settlement amount must be positive, got %.2f", amount)
	}
	var total float64
	for _, rec := range records {
		if !rec.FullySettled {
			total += rec.Outstanding
		}
	}
	if amount > total+shared.AmountTolerance {
		return nil, shared.Validationf("settlement of %.2f exceeds outstanding %.2f", amount, total)
	}

	remaining := amount
	var allocations []Allocation
	for _, rec := range records {
		if rec.FullySettled || remaining <= 0 {
			continue
		}
		applied := rec.Outstanding
		if applied > remaining {
			applied = remaining
		}
		remaining -= applied
		allocations = append(allocations, Allocation{
			RecordID:     rec.ID,
			Amount:       applied,
			FullySettled: rec.Outstanding-applied <= shared.AmountTolerance,
		})
	}
	return allocations, nil
}

// Drift is one corrected aggregate found by a reconciliation pass.
type Drift struct {
	PlayerID  int64   `json:"player_id,omitempty"`
	SessionID int64   `json:"session_id,omitempty"`
	Stored    float64 `json:"stored"`
	Computed  float64 `json:"computed"`
}
