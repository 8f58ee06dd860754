package chips

import (
	"encoding/json"
	"strconv"

	"github.com/cagedesk/cagedesk/internal/shared"
)

// Counter tracks one denomination within a session: chips received at open,
// chips currently in the tray, and chips tracked as held by players.
type Counter struct {
	Opening int `json:"opening"`
	Current int `json:"current"`
	Out     int `json:"out"`
}

// Inventory holds the session's counters per denomination.
type Inventory map[Denomination]Counter

// NewInventory seeds counters from the opening breakdown. Every operated
// denomination gets a counter even when it opens at zero.
func NewInventory(opening Breakdown) Inventory {
	inv := make(Inventory, len(Denominations))
	for _, denom := range Denominations {
		count := opening[denom]
		inv[denom] = Counter{Opening: count, Current: count}
	}
	return inv
}

// Clone returns an independent copy.
func (inv Inventory) Clone() Inventory {
	out := make(Inventory, len(inv))
	for denom, c := range inv {
		out[denom] = c
	}
	return out
}

// CurrentValue is the monetary value of chips in the tray.
func (inv Inventory) CurrentValue() float64 {
	var total float64
	for denom, c := range inv {
		total += float64(denom) * float64(c.Current)
	}
	return total
}

// OutValue is the monetary value of chips tracked as held by players.
func (inv Inventory) OutValue() float64 {
	var total float64
	for denom, c := range inv {
		total += float64(denom) * float64(c.Out)
	}
	return total
}

// Shortfall returns, per denomination, how many chips the tray is missing to
// satisfy the breakdown. Empty when the breakdown is fully available.
func (inv Inventory) Shortfall(b Breakdown) map[int]int {
	short := map[int]int{}
	for denom, count := range b {
		if count <= 0 {
			continue
		}
		if have := inv[denom].Current; have < count {
			short[int(denom)] = count - have
		}
	}
	return short
}

// CanGiveOut reports whether the full breakdown is currently available.
func (inv Inventory) CanGiveOut(b Breakdown) bool {
	return len(inv.Shortfall(b)) == 0
}

// GiveOut moves chips from the tray to players. The whole breakdown is
// validated before any counter changes, so a shortfall on any denomination
// leaves the inventory untouched.
func (inv Inventory) GiveOut(b Breakdown) error {
	if err := b.Validate(); err != nil {
		return err
	}
	if short := inv.Shortfall(b); len(short) > 0 {
		return &shared.InsufficientInventoryError{Shortfalls: short}
	}
	for denom, count := range b {
		c := inv[denom]
		c.Current -= count
		c.Out += count
		inv[denom] = c
	}
	return nil
}

// ReceiveBack moves chips from players into the tray. The out counter floors
// at zero; the returned surplus is the monetary value of chips received
// beyond what was tracked as out, which callers must record rather than
// discard.
func (inv Inventory) ReceiveBack(b Breakdown) (surplus float64, err error) {
	if err := b.Validate(); err != nil {
		return 0, err
	}
	for denom, count := range b {
		c := inv[denom]
		c.Current += count
		if count > c.Out {
			surplus += float64(denom) * float64(count-c.Out)
			c.Out = 0
		} else {
			c.Out -= count
		}
		inv[denom] = c
	}
	return surplus, nil
}

// MarshalJSON encodes counters with string denomination keys for jsonb storage.
func (inv Inventory) MarshalJSON() ([]byte, error) {
	out := make(map[string]Counter, len(inv))
	for denom, c := range inv {
		out[strconv.Itoa(int(denom))] = c
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the string-keyed form.
func (inv *Inventory) UnmarshalJSON(data []byte) error {
	raw := map[string]Counter{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Inventory, len(raw))
	for key, c := range raw {
		denom, err := strconv.Atoi(key)
		if err != nil {
			return err
		}
		out[Denomination(denom)] = c
	}
	*inv = out
	return nil
}
