package shared

import (
	"fmt"
	"sort"
	"strings"
)

// ValidationError reports malformed or inconsistent input, such as a chip
// breakdown whose value does not match the declared amount, or a settlement
// request exceeding the player's outstanding credit.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Msg
}

// Validationf builds a ValidationError from a format string.
func Validationf(format string, args ...any) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// NotFoundError reports an unknown session, player, transaction, or credit record.
type NotFoundError struct {
	Entity string
	Ref    string
}

func (e *NotFoundError) Error() string {
	if e.Ref == "" {
		return e.Entity + " not found"
	}
	return fmt.Sprintf("%s %s not found", e.Entity, e.Ref)
}

// NotFound builds a NotFoundError.
func NotFound(entity string, ref any) *NotFoundError {
	return &NotFoundError{Entity: entity, Ref: fmt.Sprint(ref)}
}

// SessionStateError reports a lifecycle violation: no open session, a second
// open session for the same date, or a mutation against a closed session.
type SessionStateError struct {
	Msg string
}

func (e *SessionStateError) Error() string {
	return "session state: " + e.Msg
}

// SessionStatef builds a SessionStateError from a format string.
func SessionStatef(format string, args ...any) *SessionStateError {
	return &SessionStateError{Msg: fmt.Sprintf(format, args...)}
}

// InsufficientFundsError reports a cash-restricted outflow exceeding the
// eligible pools. Shortfall is the amount that could not be covered.
type InsufficientFundsError struct {
	Requested float64
	Available float64
	Shortfall float64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: requested %.2f, available %.2f, shortfall %.2f",
		e.Requested, e.Available, e.Shortfall)
}

// InsufficientInventoryError reports requested chip counts exceeding the
// denominations held by the cashier. Shortfalls maps denomination to the
// number of missing chips.
type InsufficientInventoryError struct {
	Shortfalls map[int]int
}

func (e *InsufficientInventoryError) Error() string {
	denoms := make([]int, 0, len(e.Shortfalls))
	for d := range e.Shortfalls {
		denoms = append(denoms, d)
	}
	sort.Ints(denoms)
	parts := make([]string, 0, len(denoms))
	for _, d := range denoms {
		parts = append(parts, fmt.Sprintf("%d x%d", d, e.Shortfalls[d]))
	}
	return "insufficient chip inventory: short " + strings.Join(parts, ", ")
}

// CreditLimitExceededError reports a credit issuance that would breach the
// player's lifetime limit.
type CreditLimitExceededError struct {
	PlayerID    int64
	Limit       float64
	Outstanding float64
	Requested   float64
}

func (e *CreditLimitExceededError) Error() string {
	return fmt.Sprintf("credit limit exceeded: player %d requested %.2f with %.2f available (limit %.2f, outstanding %.2f)",
		e.PlayerID, e.Requested, e.Limit-e.Outstanding, e.Limit, e.Outstanding)
}
