// Package memstore keeps photos, balances and attempts in process memory.
// It backs the "memory" database driver and the pipeline tests.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"photoenhance/internal/domain"

	"github.com/google/uuid"
)

type Store struct {
	mu       sync.Mutex
	photos   map[string]domain.Photo
	balances map[string]domain.CreditBalance
	attempts map[string][]domain.Attempt
}

func New() *Store {
	return &Store{
		photos:   make(map[string]domain.Photo),
		balances: make(map[string]domain.CreditBalance),
		attempts: make(map[string][]domain.Attempt),
	}
}

// PutPhoto inserts or replaces a record verbatim.
func (s *Store) PutPhoto(p domain.Photo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.photos[p.ID] = clonePhoto(p)
}

// SetBalance overwrites a user's balance.
func (s *Store) SetBalance(userID string, credits int, unlimited bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[userID] = domain.CreditBalance{UserID: userID, Credits: credits, Unlimited: unlimited, UpdatedAt: time.Now().UTC()}
}

// Photos returns a snapshot of every stored record ordered by creation.
func (s *Store) Photos() []domain.Photo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Photo, 0, len(s.photos))
	for _, p := range s.photos {
		out = append(out, clonePhoto(p))
	}
	sortByCreated(out)
	return out
}

func (s *Store) GetByID(ctx context.Context, id string) (*domain.Photo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.photos[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := clonePhoto(p)
	return &cp, nil
}

func (s *Store) Claim(ctx context.Context, id string, at time.Time) (*domain.Photo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.photos[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if !p.Status.Claimable() {
		return nil, fmt.Errorf("claim %s from %s: %w", id, p.Status, domain.ErrConflict)
	}
	started := at
	p.Status = domain.StatusProcessing
	p.Attempts++
	p.ErrorCode = ""
	p.ErrorMessage = ""
	p.StartedAt = &started
	p.UpdatedAt = at
	s.photos[id] = p
	cp := clonePhoto(p)
	return &cp, nil
}

func (s *Store) Complete(ctx context.Context, id, resultRef, resultChecksum string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.photos[id]
	if !ok {
		return domain.ErrNotFound
	}
	if p.Status != domain.StatusProcessing {
		return fmt.Errorf("complete %s from %s: %w", id, p.Status, domain.ErrConflict)
	}
	done := at
	p.Status = domain.StatusCompleted
	p.ResultRef = resultRef
	p.ResultChecksum = resultChecksum
	p.ErrorCode = ""
	p.ErrorMessage = ""
	p.CompletedAt = &done
	p.UpdatedAt = at
	s.photos[id] = p
	return nil
}

func (s *Store) Fail(ctx context.Context, id string, code domain.ErrorCode, message string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.photos[id]
	if !ok {
		return domain.ErrNotFound
	}
	if p.Status != domain.StatusProcessing {
		return fmt.Errorf("fail %s from %s: %w", id, p.Status, domain.ErrConflict)
	}
	p.Status = domain.StatusFailed
	p.ErrorCode = string(code)
	p.ErrorMessage = message
	p.UpdatedAt = at
	s.photos[id] = p
	return nil
}

func (s *Store) Reset(ctx context.Context, id string, from domain.PhotoStatus, notAfter, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.photos[id]
	if !ok {
		return domain.ErrNotFound
	}
	if p.Status != from || !p.UpdatedAt.Before(notAfter) {
		return fmt.Errorf("reset %s from %s: %w", id, p.Status, domain.ErrConflict)
	}
	p.Status = domain.StatusPending
	p.ResultRef = ""
	p.ResultChecksum = ""
	p.CompletedAt = nil
	p.UpdatedAt = at
	s.photos[id] = p
	return nil
}

func (s *Store) ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]domain.Photo, error) {
	return s.list(limit, func(p domain.Photo) bool {
		return p.Status == domain.StatusPending && p.CreatedAt.Before(createdBefore)
	}, false), nil
}

func (s *Store) ListStalledProcessing(ctx context.Context, updatedBefore time.Time, limit int) ([]domain.Photo, error) {
	return s.list(limit, func(p domain.Photo) bool {
		return p.Status == domain.StatusProcessing && p.UpdatedAt.Before(updatedBefore)
	}, false), nil
}

func (s *Store) ListCompleted(ctx context.Context, updatedAfter time.Time, limit int) ([]domain.Photo, error) {
	return s.list(limit, func(p domain.Photo) bool {
		return p.Status == domain.StatusCompleted && !p.UpdatedAt.Before(updatedAfter)
	}, true), nil
}

func (s *Store) UpdateDetails(ctx context.Context, id, ownerID, title, description string, at time.Time) (*domain.Photo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.photos[id]
	if !ok || p.OwnerID != ownerID {
		return nil, domain.ErrNotFound
	}
	p.Title = title
	p.Description = description
	p.UpdatedAt = at
	s.photos[id] = p
	cp := clonePhoto(p)
	return &cp, nil
}

func (s *Store) GetBalance(ctx context.Context, userID string) (*domain.CreditBalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.balanceLocked(userID)
	return &b, nil
}

func (s *Store) Debit(ctx context.Context, userID string, amount int) (*domain.CreditBalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.debitLocked(userID, amount)
}

func (s *Store) Grant(ctx context.Context, userID string, amount int) (*domain.CreditBalance, error) {
	if amount < 0 {
		return nil, fmt.Errorf("grant %d credits: amount must not be negative", amount)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.balanceLocked(userID)
	b.Credits += amount
	b.UpdatedAt = time.Now().UTC()
	s.balances[userID] = b
	return &b, nil
}

func (s *Store) SetUnlimited(ctx context.Context, userID string, unlimited bool) (*domain.CreditBalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.balanceLocked(userID)
	b.Unlimited = unlimited
	b.UpdatedAt = time.Now().UTC()
	s.balances[userID] = b
	return &b, nil
}

func (s *Store) Admit(ctx context.Context, photo *domain.Photo, cost int) (*domain.CreditBalance, error) {
	if photo == nil {
		return nil, fmt.Errorf("admit: photo is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.photos[photo.ID]; exists {
		return nil, fmt.Errorf("admit %s: %w", photo.ID, domain.ErrConflict)
	}
	balance, err := s.debitLocked(photo.OwnerID, cost)
	if err != nil {
		return nil, err
	}
	photo.Status = domain.StatusPending
	photo.ResultRef = ""
	photo.ResultChecksum = ""
	if photo.UpdatedAt.IsZero() {
		photo.UpdatedAt = photo.CreatedAt
	}
	s.photos[photo.ID] = clonePhoto(*photo)
	return balance, nil
}

func (s *Store) Record(ctx context.Context, attempt *domain.Attempt) error {
	if attempt == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if attempt.ID == "" {
		attempt.ID = uuid.NewString()
	}
	s.attempts[attempt.PhotoID] = append(s.attempts[attempt.PhotoID], *attempt)
	return nil
}

func (s *Store) ListByPhoto(ctx context.Context, photoID string, limit int) ([]domain.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	history := s.attempts[photoID]
	out := make([]domain.Attempt, 0, len(history))
	for i := len(history) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, history[i])
	}
	return out, nil
}

func (s *Store) debitLocked(userID string, amount int) (*domain.CreditBalance, error) {
	b := s.balanceLocked(userID)
	if b.Unlimited || amount == 0 {
		return &b, nil
	}
	if b.Credits < amount {
		return nil, domain.ErrInsufficientCredits
	}
	b.Credits -= amount
	b.UpdatedAt = time.Now().UTC()
	s.balances[userID] = b
	return &b, nil
}

func (s *Store) balanceLocked(userID string) domain.CreditBalance {
	if b, ok := s.balances[userID]; ok {
		return b
	}
	return domain.CreditBalance{UserID: userID}
}

func (s *Store) list(limit int, match func(domain.Photo) bool, newestFirst bool) []domain.Photo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Photo, 0)
	for _, p := range s.photos {
		if match(p) {
			out = append(out, clonePhoto(p))
		}
	}
	sortByCreated(out)
	if newestFirst {
		sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func sortByCreated(photos []domain.Photo) {
	sort.SliceStable(photos, func(i, j int) bool {
		if photos[i].CreatedAt.Equal(photos[j].CreatedAt) {
			return photos[i].ID < photos[j].ID
		}
		return photos[i].CreatedAt.Before(photos[j].CreatedAt)
	})
}

func clonePhoto(p domain.Photo) domain.Photo {
	if p.StartedAt != nil {
		v := *p.StartedAt
		p.StartedAt = &v
	}
	if p.CompletedAt != nil {
		v := *p.CompletedAt
		p.CompletedAt = &v
	}
	return p
}

var (
	_ domain.PhotoRepository   = (*Store)(nil)
	_ domain.CreditLedger      = (*Store)(nil)
	_ domain.AdmissionStore    = (*Store)(nil)
	_ domain.AttemptRepository = (*Store)(nil)
)
