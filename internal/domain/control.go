package domain

import "time"

// SymbolControl is the per-asset cooldown/blacklist gate.
// Activity is a pure comparison of the stored expiries against now.
type SymbolControl struct {
	Symbol         string
	CooldownUntil  *time.Time
	BlacklistUntil *time.Time
	Reason         string
	UpdatedAt      time.Time
}

// CooldownActive reports whether the cooldown has not yet expired at now.
func (c *SymbolControl) CooldownActive(now time.Time) bool {
	return c.CooldownUntil != nil && now.Before(*c.CooldownUntil)
}

// BlacklistActive reports whether the blacklist has not yet expired at now.
func (c *SymbolControl) BlacklistActive(now time.Time) bool {
	return c.BlacklistUntil != nil && now.Before(*c.BlacklistUntil)
}

// Blocked reports whether any gate is active at now.
func (c *SymbolControl) Blocked(now time.Time) bool {
	return c.CooldownActive(now) || c.BlacklistActive(now)
}

// Expired reports whether no gate can become active again without a new write.
func (c *SymbolControl) Expired(now time.Time) bool {
	return !c.Blocked(now)
}

// Clone returns a deep copy of the control.
func (c *SymbolControl) Clone() *SymbolControl {
	out := *c
	if c.CooldownUntil != nil {
		t := *c.CooldownUntil
		out.CooldownUntil = &t
	}
	if c.BlacklistUntil != nil {
		t := *c.BlacklistUntil
		out.BlacklistUntil = &t
	}
	return &out
}
