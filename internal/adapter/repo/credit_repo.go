package repo

import (
	"context"
	"fmt"

	"photoenhance/internal/domain"
	"photoenhance/internal/infra"
	"photoenhance/internal/sqlinline"
)

// CreditLedgerPG implements domain.CreditLedger on the user_credits table.
type CreditLedgerPG struct {
	sql infra.SQLExecutor
}

// NewCreditLedger creates a credit ledger backed by PostgreSQL.
func NewCreditLedger(sql infra.SQLExecutor) *CreditLedgerPG {
	return &CreditLedgerPG{sql: sql}
}

// GetBalance returns the balance for userID. Users without a row have zero credits.
func (l *CreditLedgerPG) GetBalance(ctx context.Context, userID string) (*domain.CreditBalance, error) {
	b := domain.CreditBalance{UserID: userID}
	err := l.sql.QueryRow(ctx, sqlinline.QSelectCreditBalance, userID).Scan(&b.Credits, &b.Unlimited, &b.UpdatedAt)
	if err != nil {
		if infra.IsNoRows(err) {
			return &b, nil
		}
		return nil, err
	}
	return &b, nil
}

// Debit subtracts amount credits with a conditional update.
func (l *CreditLedgerPG) Debit(ctx context.Context, userID string, amount int) (*domain.CreditBalance, error) {
	if amount < 0 {
		return nil, fmt.Errorf("debit %d credits: amount must not be negative", amount)
	}
	b := domain.CreditBalance{UserID: userID}
	err := l.sql.QueryRow(ctx, sqlinline.QDebitCredits, userID, amount).Scan(&b.Credits, &b.Unlimited, &b.UpdatedAt)
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrInsufficientCredits
		}
		return nil, err
	}
	return &b, nil
}

// Grant adds amount credits, creating the balance row when needed.
func (l *CreditLedgerPG) Grant(ctx context.Context, userID string, amount int) (*domain.CreditBalance, error) {
	if amount < 0 {
		return nil, fmt.Errorf("grant %d credits: amount must not be negative", amount)
	}
	b := domain.CreditBalance{UserID: userID}
	if err := l.sql.QueryRow(ctx, sqlinline.QGrantCredits, userID, amount).Scan(&b.Credits, &b.Unlimited, &b.UpdatedAt); err != nil {
		return nil, err
	}
	return &b, nil
}

// SetUnlimited toggles the unlimited flag.
func (l *CreditLedgerPG) SetUnlimited(ctx context.Context, userID string, unlimited bool) (*domain.CreditBalance, error) {
	b := domain.CreditBalance{UserID: userID}
	if err := l.sql.QueryRow(ctx, sqlinline.QSetUnlimitedCredits, userID, unlimited).Scan(&b.Credits, &b.Unlimited, &b.UpdatedAt); err != nil {
		return nil, err
	}
	return &b, nil
}

var _ domain.CreditLedger = (*CreditLedgerPG)(nil)
