package domain

import "time"

// CreditBalance is a user's spendable enhancement allowance.
type CreditBalance struct {
	UserID    string
	Credits   int
	Unlimited bool
	UpdatedAt time.Time
}

// CanSpend reports whether the balance covers amount credits.
func (b CreditBalance) CanSpend(amount int) bool {
	return b.Unlimited || b.Credits >= amount
}

// EnhancementCost is the number of credits a single admitted photo consumes.
const EnhancementCost = 1
