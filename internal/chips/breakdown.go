// Package chips implements the per-denomination chip arithmetic used by the
// cage: breakdown valuation and the cashier inventory counters.
package chips

import (
	"encoding/json"
	"sort"
	"strconv"

	"github.com/cagedesk/cagedesk/internal/shared"
)

// Denomination is a chip face value in rupees.
type Denomination int

// Denominations lists the chip values the club operates with.
var Denominations = []Denomination{100, 500, 1000, 5000, 10000}

// Known reports whether d is an operated denomination.
func (d Denomination) Known() bool {
	for _, known := range Denominations {
		if d == known {
			return true
		}
	}
	return false
}

// Breakdown maps denomination to chip count for one operation.
type Breakdown map[Denomination]int

// Value returns the monetary value of the breakdown.
func (b Breakdown) Value() float64 {
	var total float64
	for denom, count := range b {
		total += float64(denom) * float64(count)
	}
	return total
}

// Count returns the total number of chips in the breakdown.
func (b Breakdown) Count() int {
	var total int
	for _, count := range b {
		total += count
	}
	return total
}

// IsZero reports whether the breakdown moves no chips.
func (b Breakdown) IsZero() bool {
	for _, count := range b {
		if count != 0 {
			return false
		}
	}
	return true
}

// Validate rejects unknown denominations and negative counts.
func (b Breakdown) Validate() error {
	for denom, count := range b {
		if !denom.Known() {
			return shared.Validationf("unknown chip denomination %d", denom)
		}
		if count < 0 {
			return shared.Validationf("negative chip count %d for denomination %d", count, denom)
		}
	}
	return nil
}

// ValidateAgainstAmount checks that the declared monetary amount matches the
// breakdown value within tolerance.
func (b Breakdown) ValidateAgainstAmount(amount float64) error {
	if err := b.Validate(); err != nil {
		return err
	}
	if !shared.AmountsEqual(b.Value(), amount) {
		return shared.Validationf("chip breakdown value %.2f does not match amount %.2f", b.Value(), amount)
	}
	return nil
}

// Clone returns an independent copy.
func (b Breakdown) Clone() Breakdown {
	out := make(Breakdown, len(b))
	for denom, count := range b {
		out[denom] = count
	}
	return out
}

// Denoms returns the denominations present in ascending order.
func (b Breakdown) Denoms() []Denomination {
	denoms := make([]Denomination, 0, len(b))
	for d := range b {
		denoms = append(denoms, d)
	}
	sort.Slice(denoms, func(i, j int) bool { return denoms[i] < denoms[j] })
	return denoms
}

// MarshalJSON encodes the breakdown with string keys so it round-trips
// through jsonb columns.
func (b Breakdown) MarshalJSON() ([]byte, error) {
	out := make(map[string]int, len(b))
	for denom, count := range b {
		out[strconv.Itoa(int(denom))] = count
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the string-keyed form.
func (b *Breakdown) UnmarshalJSON(data []byte) error {
	raw := map[string]int{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Breakdown, len(raw))
	for key, count := range raw {
		denom, err := strconv.Atoi(key)
		if err != nil {
			return err
		}
		out[Denomination(denom)] = count
	}
	*b = out
	return nil
}
