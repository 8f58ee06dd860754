// Package pools encodes the session's segregated cash pools and the rules
// deciding which pool funds which operation.
package pools

import (
	"github.com/cagedesk/cagedesk/internal/shared"
)

// Pool identifies a cash pool on the session.
type Pool string

const (
	// PoolPrimary is the owner float supplied at session open.
	PoolPrimary Pool = "PRIMARY"
	// PoolCashInHand holds physical cash collected during the session.
	PoolCashInHand Pool = "CASH_IN_HAND"
	// PoolOnlineMoney holds electronically received funds. It never funds a
	// cash-restricted outflow.
	PoolOnlineMoney Pool = "ONLINE_MONEY"
)

// Valid reports whether p names a real pool.
func (p Pool) Valid() bool {
	switch p {
	case PoolPrimary, PoolCashInHand, PoolOnlineMoney:
		return true
	}
	return false
}

// PayMode tags how money changed hands.
type PayMode string

const (
	PayModeCash PayMode = "CASH"
	PayModeUPI  PayMode = "UPI"
	PayModeBank PayMode = "BANK_TRANSFER"
	PayModeCard PayMode = "CARD"
)

// Valid reports whether m is a supported payment mode.
func (m PayMode) Valid() bool {
	switch m {
	case PayModeCash, PayModeUPI, PayModeBank, PayModeCard:
		return true
	}
	return false
}

// Online reports whether the mode settles electronically.
func (m PayMode) Online() bool {
	return m.Valid() && m != PayModeCash
}

// Pools carries the session's balances. Secondary is a legacy aggregate
// mirror of cash-in-hand plus online money; it is maintained per the rules
// below rather than recomputed, matching how downstream reports read it.
type Pools struct {
	Primary     float64 `json:"primary"`
	CashInHand  float64 `json:"cash_in_hand"`
	OnlineMoney float64 `json:"online_money"`
	Secondary   float64 `json:"secondary"`
}

// Debit is one pool movement inside an outflow allocation.
type Debit struct {
	Pool   Pool    `json:"pool"`
	Amount float64 `json:"amount"`
}

// TotalCashAvailable is the amount eligible for cash-restricted outflows:
// cash-in-hand plus the primary float. Online money is never eligible.
func (p Pools) TotalCashAvailable() float64 {
	return p.CashInHand + p.Primary
}

// PlanCashOutflow allocates a cash-restricted outflow (payout, expense,
// dealer tip): cash-in-hand first, primary float for the remainder. The plan
// is computed against current balances without mutating them; an insufficient
// total rejects the whole operation with the shortfall.
func (p Pools) PlanCashOutflow(amount float64) ([]Debit, error) {
	if amount <= 0 {
		return nil, shared.Validationf("outflow amount must be positive, got %.2f", amount)
	}
	available := p.TotalCashAvailable()
	if amount > available+shared.AmountTolerance {
		return nil, &shared.InsufficientFundsError{
			Requested: amount,
			Available: available,
			Shortfall: amount - available,
		}
	}
	var debits []Debit
	remaining := amount
	if p.CashInHand > 0 {
		fromCash := remaining
		if fromCash > p.CashInHand {
			fromCash = p.CashInHand
		}
		debits = append(debits, Debit{Pool: PoolCashInHand, Amount: fromCash})
		remaining -= fromCash
	}
	if remaining > shared.AmountTolerance {
		debits = append(debits, Debit{Pool: PoolPrimary, Amount: remaining})
	}
	return debits, nil
}

// ApplyDebits mutates balances according to a previously validated plan.
// Debiting cash-in-hand also debits the secondary mirror.
func (p *Pools) ApplyDebits(debits []Debit) {
	for _, d := range debits {
		switch d.Pool {
		case PoolCashInHand:
			p.CashInHand -= d.Amount
			p.Secondary -= d.Amount
		case PoolPrimary:
			p.Primary -= d.Amount
		case PoolOnlineMoney:
			p.OnlineMoney -= d.Amount
			p.Secondary -= d.Amount
		}
	}
}

// ApplyCredits reverses a debit plan, used when a transaction is reversed.
func (p *Pools) ApplyCredits(debits []Debit) {
	for _, d := range debits {
		switch d.Pool {
		case PoolCashInHand:
			p.CashInHand += d.Amount
			p.Secondary += d.Amount
		case PoolPrimary:
			p.Primary += d.Amount
		case PoolOnlineMoney:
			p.OnlineMoney += d.Amount
			p.Secondary += d.Amount
		}
	}
}

// CreditInflow applies a buy-in or deposit: cash credits cash-in-hand, online
// modes credit online money. Both maintain the legacy secondary mirror. The
// target pool is returned for the transaction record.
func (p *Pools) CreditInflow(mode PayMode, amount float64) (Pool, error) {
	if !mode.Valid() {
		return "", shared.Validationf("unknown payment mode %q", mode)
	}
	if amount <= 0 {
		return "", shared.Validationf("inflow amount must be positive, got %.2f", amount)
	}
	if mode.Online() {
		p.OnlineMoney += amount
		p.Secondary += amount
		return PoolOnlineMoney, nil
	}
	p.CashInHand += amount
	p.Secondary += amount
	return PoolCashInHand, nil
}

// SettlementInflow applies a credit-settlement receipt. Cash settles into
// cash-in-hand with the mirror; online settles into online money only,
// leaving the legacy mirror untouched.
func (p *Pools) SettlementInflow(mode PayMode, amount float64) (Pool, error) {
	if !mode.Valid() {
		return "", shared.Validationf("unknown payment mode %q", mode)
	}
	if amount <= 0 {
		return "", shared.Validationf("settlement amount must be positive, got %.2f", amount)
	}
	if mode.Online() {
		p.OnlineMoney += amount
		return PoolOnlineMoney, nil
	}
	p.CashInHand += amount
	p.Secondary += amount
	return PoolCashInHand, nil
}

// AddFloat credits owner capital into the primary pool.
func (p *Pools) AddFloat(amount float64) error {
	if amount <= 0 {
		return shared.Validationf("float amount must be positive, got %.2f", amount)
	}
	p.Primary += amount
	return nil
}

// Adjust applies a signed correction to one named pool. Cash-in-hand and
// online-money adjustments move the secondary mirror with them.
func (p *Pools) Adjust(pool Pool, delta float64) error {
	if !pool.Valid() {
		return shared.Validationf("unknown pool %q", pool)
	}
	if delta == 0 {
		return shared.Validationf("adjustment delta must be non-zero")
	}
	switch pool {
	case PoolPrimary:
		p.Primary += delta
	case PoolCashInHand:
		p.CashInHand += delta
		p.Secondary += delta
	case PoolOnlineMoney:
		p.OnlineMoney += delta
		p.Secondary += delta
	}
	return nil
}
