package domain

import (
	"context"
	"time"
)

// PhotoRepository persists enhancement job records. Every state transition is
// a conditional update so concurrent invocations cannot both win.
type PhotoRepository interface {
	GetByID(ctx context.Context, id string) (*Photo, error)
	// Claim moves the photo from one of the claimable statuses to PROCESSING
	// and increments its attempt counter. It returns ErrConflict when the
	// photo exists but is not claimable.
	Claim(ctx context.Context, id string, at time.Time) (*Photo, error)
	// Complete stores the result and marks the photo COMPLETED in one write.
	// It only applies while the photo is PROCESSING.
	Complete(ctx context.Context, id, resultRef, resultChecksum string, at time.Time) error
	// Fail marks a PROCESSING photo FAILED with a classified error.
	Fail(ctx context.Context, id string, code ErrorCode, message string, at time.Time) error
	// Reset returns a photo to PENDING and clears its result. It applies only
	// when the photo is still in status from and was last updated before
	// notAfter.
	Reset(ctx context.Context, id string, from PhotoStatus, notAfter, at time.Time) error
	ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]Photo, error)
	ListStalledProcessing(ctx context.Context, updatedBefore time.Time, limit int) ([]Photo, error)
	ListCompleted(ctx context.Context, updatedAfter time.Time, limit int) ([]Photo, error)
	UpdateDetails(ctx context.Context, id, ownerID, title, description string, at time.Time) (*Photo, error)
}

// CreditLedger tracks spendable credits per user.
type CreditLedger interface {
	GetBalance(ctx context.Context, userID string) (*CreditBalance, error)
	// Debit atomically subtracts amount unless that would go below zero, in
	// which case it returns ErrInsufficientCredits. Unlimited balances are
	// left untouched.
	Debit(ctx context.Context, userID string, amount int) (*CreditBalance, error)
	Grant(ctx context.Context, userID string, amount int) (*CreditBalance, error)
	SetUnlimited(ctx context.Context, userID string, unlimited bool) (*CreditBalance, error)
}

// AdmissionStore creates a photo record and debits its owner as one unit.
type AdmissionStore interface {
	// Admit inserts photo as PENDING and charges cost credits to its owner.
	// Neither effect persists if the other cannot be applied; an exhausted
	// balance yields ErrInsufficientCredits.
	Admit(ctx context.Context, photo *Photo, cost int) (*CreditBalance, error)
}

// AttemptRepository keeps the enhancement attempt history.
type AttemptRepository interface {
	Record(ctx context.Context, attempt *Attempt) error
	ListByPhoto(ctx context.Context, photoID string, limit int) ([]Attempt, error)
}

// ObjectStore persists image bytes under opaque keys.
type ObjectStore interface {
	Write(ctx context.Context, key string, data []byte) (string, error)
	Read(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}
