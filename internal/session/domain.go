// Package session owns the single-day cashier session: opening balances,
// embedded chip counters and cash pools, shifts, and the one-way close.
package session

import (
	"errors"
	"time"

	"github.com/cagedesk/cagedesk/internal/chips"
	"github.com/cagedesk/cagedesk/internal/pools"
	"github.com/cagedesk/cagedesk/internal/shared"
)

// Session is one day's cashier operating period. Pool balances and chip
// counters are embedded so a composite operation can lock and update them as
// one row.
type Session struct {
	ID                int64           `json:"id"`
	SessionDate       time.Time       `json:"session_date"`
	OpeningFloat      float64         `json:"opening_float"`
	Pools             pools.Pools     `json:"pools"`
	Inventory         chips.Inventory `json:"inventory"`
	OutstandingCredit float64         `json:"outstanding_credit"`
	Closed            bool            `json:"closed"`
	OpenedBy          int64           `json:"opened_by"`
	ClosedBy          *int64          `json:"closed_by,omitempty"`
	OpenedAt          time.Time       `json:"opened_at"`
	ClosedAt          *time.Time      `json:"closed_at,omitempty"`
}

// EnsureOpen rejects mutation of a closed session.
func (s *Session) EnsureOpen() error {
	if s.Closed {
		return shared.SessionStatef("session %d for %s is closed", s.ID, s.SessionDate.Format("2006-01-02"))
	}
	return nil
}

// Shift is a cashier's continuous working period within a session.
type Shift struct {
	ID        int64      `json:"id"`
	SessionID int64      `json:"session_id"`
	CashierID int64      `json:"cashier_id"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	EndedBy   *int64     `json:"ended_by,omitempty"`
}

// Active reports whether the shift is still open.
func (s Shift) Active() bool {
	return s.EndedAt == nil
}

// Cashier is a cage operator. The PIN hash guards shift starts.
type Cashier struct {
	ID      int64
	Name    string
	PINHash string
}

// Summary is the close-time (or live) aggregate view, derived from
// transaction and credit rows rather than incremental counters.
type Summary struct {
	SessionID          int64       `json:"session_id"`
	TotalDeposits      float64     `json:"total_deposits"`
	TotalWithdrawals   float64     `json:"total_withdrawals"`
	TotalExpenses      float64     `json:"total_expenses"`
	ChipsInCirculation float64     `json:"chips_in_circulation"`
	OutstandingCredit  float64     `json:"outstanding_credit"`
	PlayerCount        int         `json:"player_count"`
	TransactionCount   int         `json:"transaction_count"`
	Pools              pools.Pools `json:"pools"`
	Warnings           []string    `json:"warnings,omitempty"`
	Message            string      `json:"message"`
}

// OpenInput describes a session-open request.
type OpenInput struct {
	OpeningFloat float64
	OpeningChips chips.Breakdown
	CashierID    int64
}

// CloseInput describes a session-close request.
type CloseInput struct {
	SessionID int64
	CloserID  int64
}

// StartShiftInput describes a shift-start request for a joining cashier.
type StartShiftInput struct {
	SessionID int64
	CashierID int64
	PIN       string
}

// ErrNoOpenSession is returned by repositories when no open session exists
// for the requested date.
var ErrNoOpenSession = errors.New("session: no open session")

// ErrInvalidPIN indicates a failed cashier PIN check.
var ErrInvalidPIN = errors.New("session: invalid cashier pin")
