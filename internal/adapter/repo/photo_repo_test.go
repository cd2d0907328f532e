package repo

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"photoenhance/internal/domain"
	"photoenhance/internal/sqlinline"
)

const testPhotoID = "3f1c2a4e-8a7b-4c5d-9e0f-112233445566"

type stubRow struct {
	values []any
	err    error
}

func (r stubRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.values) {
		return errors.New("dest/value length mismatch")
	}
	for i, d := range dest {
		target := reflect.ValueOf(d).Elem()
		if r.values[i] == nil {
			target.Set(reflect.Zero(target.Type()))
			continue
		}
		target.Set(reflect.ValueOf(r.values[i]))
	}
	return nil
}

type call struct {
	query string
	args  []any
}

type stubExecutor struct {
	rows  map[string]stubRow
	tags  map[string]string
	calls []call
}

func (s *stubExecutor) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	s.calls = append(s.calls, call{query: query, args: args})
	return pgconn.NewCommandTag(s.tags[query]), nil
}

func (s *stubExecutor) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	s.calls = append(s.calls, call{query: query, args: args})
	row, ok := s.rows[query]
	if !ok {
		return stubRow{err: pgx.ErrNoRows}
	}
	return row
}

func (s *stubExecutor) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func photoRow(status string, resultRef *string) stubRow {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	return stubRow{values: []any{
		testPhotoID, "user-1", "photos/user-1/p/source.png", "cat.png", "image/png", "abc", int64(2048),
		resultRef, "", status, 1, "", "", "title", "desc",
		now, now, nil, nil,
	}}
}

func TestGetByIDMapsNoRows(t *testing.T) {
	repo := NewPhotoRepository(&stubExecutor{})
	if _, err := repo.GetByID(context.Background(), testPhotoID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetByIDRejectsMalformedID(t *testing.T) {
	exec := &stubExecutor{}
	repo := NewPhotoRepository(exec)
	if _, err := repo.GetByID(context.Background(), "not-a-uuid"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if len(exec.calls) != 0 {
		t.Fatalf("expected no queries, got %d", len(exec.calls))
	}
}

func TestGetByIDScansNullableColumns(t *testing.T) {
	ref := "photos/user-1/p/enhanced-1.png"
	exec := &stubExecutor{rows: map[string]stubRow{sqlinline.QSelectPhotoByID: photoRow("COMPLETED", &ref)}}
	photo, err := NewPhotoRepository(exec).GetByID(context.Background(), testPhotoID)
	if err != nil {
		t.Fatalf("GetByID error: %v", err)
	}
	if photo.Status != domain.StatusCompleted || photo.ResultRef != ref {
		t.Fatalf("unexpected photo: %+v", photo)
	}
	if photo.StartedAt != nil {
		t.Fatalf("expected nil StartedAt, got %v", photo.StartedAt)
	}
}

func TestClaimConflictReportsCurrentStatus(t *testing.T) {
	exec := &stubExecutor{rows: map[string]stubRow{sqlinline.QSelectPhotoByID: photoRow("PROCESSING", nil)}}
	_, err := NewPhotoRepository(exec).Claim(context.Background(), testPhotoID, time.Now())
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if len(exec.calls) != 2 || exec.calls[0].query != sqlinline.QClaimPhoto {
		t.Fatalf("expected claim then lookup, got %d calls", len(exec.calls))
	}
}

func TestCompleteZeroRowsIsConflict(t *testing.T) {
	exec := &stubExecutor{
		rows: map[string]stubRow{sqlinline.QSelectPhotoByID: photoRow("FAILED", nil)},
		tags: map[string]string{sqlinline.QCompletePhoto: "UPDATE 0"},
	}
	err := NewPhotoRepository(exec).Complete(context.Background(), testPhotoID, "r", "c", time.Now())
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestFailUpdatesProcessingRow(t *testing.T) {
	exec := &stubExecutor{tags: map[string]string{sqlinline.QFailPhoto: "UPDATE 1"}}
	err := NewPhotoRepository(exec).Fail(context.Background(), testPhotoID, domain.CodeUpstreamTimeout, "budget exceeded", time.Now())
	if err != nil {
		t.Fatalf("Fail error: %v", err)
	}
	if got := exec.calls[0].args[1]; got != "UPSTREAM_TIMEOUT" {
		t.Fatalf("expected code argument, got %v", got)
	}
}

func TestAdmitWithoutBalanceRow(t *testing.T) {
	repo := NewPhotoRepository(&stubExecutor{})
	_, err := repo.Admit(context.Background(), &domain.Photo{ID: testPhotoID, OwnerID: "user-1"}, 1)
	if !errors.Is(err, domain.ErrInsufficientCredits) {
		t.Fatalf("expected ErrInsufficientCredits, got %v", err)
	}
}

func TestAdmitReturnsRemainingBalance(t *testing.T) {
	id := testPhotoID
	exec := &stubExecutor{rows: map[string]stubRow{
		sqlinline.QAdmitPhoto: {values: []any{4, false, &id}},
	}}
	photo := &domain.Photo{ID: testPhotoID, OwnerID: "user-1"}
	balance, err := NewPhotoRepository(exec).Admit(context.Background(), photo, 1)
	if err != nil {
		t.Fatalf("Admit error: %v", err)
	}
	if balance.Credits != 4 || balance.UserID != "user-1" {
		t.Fatalf("unexpected balance: %+v", balance)
	}
	if photo.Status != domain.StatusPending {
		t.Fatalf("expected PENDING, got %s", photo.Status)
	}
	if got := exec.calls[0].args[11]; got != 1 {
		t.Fatalf("expected cost argument 1, got %v", got)
	}
}

func TestDebitInsufficient(t *testing.T) {
	ledger := NewCreditLedger(&stubExecutor{})
	if _, err := ledger.Debit(context.Background(), "user-1", 1); !errors.Is(err, domain.ErrInsufficientCredits) {
		t.Fatalf("expected ErrInsufficientCredits, got %v", err)
	}
}

func TestGetBalanceDefaultsToZero(t *testing.T) {
	balance, err := NewCreditLedger(&stubExecutor{}).GetBalance(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("GetBalance error: %v", err)
	}
	if balance.Credits != 0 || balance.Unlimited {
		t.Fatalf("unexpected balance: %+v", balance)
	}
}
