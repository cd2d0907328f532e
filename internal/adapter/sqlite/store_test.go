package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"photoenhance/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "photos.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seedPhoto(t *testing.T, s *Store, p domain.Photo) {
	t.Helper()
	var resultRef any
	if p.ResultRef != "" {
		resultRef = p.ResultRef
	}
	_, err := s.db.Exec(`
		INSERT INTO photos (id, owner_id, source_ref, source_name, source_checksum, result_ref, result_checksum,
		                    status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.OwnerID, p.SourceRef, p.SourceName, p.SourceChecksum, resultRef, p.ResultChecksum,
		string(p.Status), nanos(p.CreatedAt), nanos(p.UpdatedAt))
	require.NoError(t, err)
}

func TestAdmitDebitsAndCreates(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	_, err := s.Grant(ctx, "u1", 1)
	require.NoError(t, err)

	now := time.Now().UTC()
	photo := &domain.Photo{ID: "p1", OwnerID: "u1", SourceRef: "photos/u1/p1/source.png", SourceName: "cat.png", CreatedAt: now}
	balance, err := s.Admit(ctx, photo, domain.EnhancementCost)
	require.NoError(t, err)
	assert.Equal(t, 0, balance.Credits)

	got, err := s.GetByID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, got.Status)
	assert.Equal(t, "cat.png", got.SourceName)
	assert.Empty(t, got.ResultRef)

	_, err = s.Admit(ctx, &domain.Photo{ID: "p2", OwnerID: "u1", SourceRef: "x", CreatedAt: now}, domain.EnhancementCost)
	require.ErrorIs(t, err, domain.ErrInsufficientCredits)
	_, err = s.GetByID(ctx, "p2")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestConcurrentAdmissionsRespectBalance(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	_, err := s.Grant(ctx, "u1", 3)
	require.NoError(t, err)

	var ok int64
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := &domain.Photo{ID: "p" + string(rune('a'+i)), OwnerID: "u1", SourceRef: "s", CreatedAt: time.Now().UTC()}
			if _, err := s.Admit(ctx, p, 1); err == nil {
				atomic.AddInt64(&ok, 1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(3), ok)
	b, err := s.GetBalance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, b.Credits)
}

func TestUnlimitedBalance(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	_, err := s.SetUnlimited(ctx, "vip", true)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		b, err := s.Debit(ctx, "vip", 1)
		require.NoError(t, err)
		assert.True(t, b.Unlimited)
		assert.Equal(t, 0, b.Credits)
	}
}

func TestClaimCompleteLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Now().UTC()
	seedPhoto(t, s, domain.Photo{ID: "p1", OwnerID: "u1", SourceRef: "src", Status: domain.StatusPending, CreatedAt: now, UpdatedAt: now})

	claimed, err := s.Claim(ctx, "p1", now)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, claimed.Status)
	assert.Equal(t, 1, claimed.Attempts)
	require.NotNil(t, claimed.StartedAt)

	_, err = s.Claim(ctx, "p1", now)
	require.ErrorIs(t, err, domain.ErrConflict)

	require.NoError(t, s.Complete(ctx, "p1", "res", "sum", now))
	got, err := s.GetByID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)
	assert.True(t, got.Consistent())

	err = s.Fail(ctx, "p1", domain.CodeInternal, "late", now)
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestClaimMissingPhoto(t *testing.T) {
	_, err := newTestStore(t).Claim(context.Background(), "nope", time.Now())
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestSweepQueries(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Now().UTC()
	old := now.Add(-10 * time.Minute)
	seedPhoto(t, s, domain.Photo{ID: "stale", OwnerID: "u1", SourceRef: "a", Status: domain.StatusPending, CreatedAt: old, UpdatedAt: old})
	seedPhoto(t, s, domain.Photo{ID: "fresh", OwnerID: "u1", SourceRef: "b", Status: domain.StatusPending, CreatedAt: now, UpdatedAt: now})
	seedPhoto(t, s, domain.Photo{ID: "bad", OwnerID: "u1", SourceRef: "c", ResultRef: "c", Status: domain.StatusCompleted, CreatedAt: old, UpdatedAt: old})
	seedPhoto(t, s, domain.Photo{ID: "stuck", OwnerID: "u1", SourceRef: "d", Status: domain.StatusProcessing, CreatedAt: old, UpdatedAt: old})

	stale, err := s.ListStalePending(ctx, now.Add(-5*time.Minute), 50)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "stale", stale[0].ID)

	stuck, err := s.ListStalledProcessing(ctx, now.Add(-time.Minute), 50)
	require.NoError(t, err)
	require.Len(t, stuck, 1)
	assert.Equal(t, "stuck", stuck[0].ID)

	completed, err := s.ListCompleted(ctx, now.Add(-time.Hour), 50)
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.False(t, completed[0].Consistent())

	require.NoError(t, s.Reset(ctx, "bad", domain.StatusCompleted, now, now))
	reset, err := s.GetByID(ctx, "bad")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, reset.Status)
	assert.Empty(t, reset.ResultRef)

	err = s.Reset(ctx, "bad", domain.StatusCompleted, now, now)
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestAttemptHistory(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.Record(ctx, &domain.Attempt{PhotoID: "p1", Attempt: 1, Outcome: domain.StatusFailed, ErrorCode: "UPSTREAM_TIMEOUT", Latency: 50 * time.Second}))
	require.NoError(t, s.Record(ctx, &domain.Attempt{PhotoID: "p1", Attempt: 2, Outcome: domain.StatusCompleted, Confidence: 0.9, CreatedAt: time.Now().UTC().Add(time.Second)}))

	history, err := s.ListByPhoto(ctx, "p1", 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 2, history[0].Attempt)
	assert.Equal(t, 50*time.Second, history[1].Latency)
}
