package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"photoenhance/internal/adapter/memstore"
	"photoenhance/internal/domain"
	"photoenhance/internal/imaging"
	"photoenhance/internal/imaging/imagingtest"
	"photoenhance/internal/providers/enhance"
)

const owner = "user-1"

type orchFixture struct {
	store    *memstore.Store
	objects  *memObjects
	enhancer *scriptedEnhancer
	cache    *countingCache
	orch     *Orchestrator
}

func newOrchFixture(t *testing.T, enhancer *scriptedEnhancer, budget time.Duration) *orchFixture {
	t.Helper()
	f := &orchFixture{
		store:    memstore.New(),
		objects:  newMemObjects(),
		enhancer: enhancer,
		cache:    newCountingCache(),
	}
	f.orch = NewOrchestrator(f.store, f.store, f.objects, enhancer, f.cache, OrchestratorConfig{Budget: budget}, testLogger)
	return f
}

// seed stores a source object and a record in the given status.
func (f *orchFixture) seed(t *testing.T, id string, status domain.PhotoStatus) domain.Photo {
	t.Helper()
	data := imagingtest.PNG(48, 32, int64(len(id)))
	key := domain.SourceKey(owner, id, ".png")
	_, err := f.objects.Write(context.Background(), key, data)
	require.NoError(t, err)
	p := domain.Photo{
		ID:             id,
		OwnerID:        owner,
		SourceRef:      key,
		SourceName:     "holiday.png",
		SourceMIME:     imaging.MIMEPNG,
		SourceChecksum: imaging.Checksum(data),
		SourceBytes:    int64(len(data)),
		Status:         status,
		CreatedAt:      baseTime,
		UpdatedAt:      baseTime,
	}
	f.store.PutPhoto(p)
	return p
}

func (f *orchFixture) photo(t *testing.T, id string) *domain.Photo {
	t.Helper()
	p, err := f.store.GetByID(context.Background(), id)
	require.NoError(t, err)
	return p
}

func TestEnhanceCompletesPendingPhoto(t *testing.T) {
	f := newOrchFixture(t, flipEnhancer(), time.Second)
	src := f.seed(t, "p1", domain.StatusPending)

	out, err := f.orch.Enhance(context.Background(), domain.EndUser(owner), "p1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, out.Status)
	assert.False(t, out.Noop)
	assert.Equal(t, 1, out.Metrics.Attempt)
	assert.InDelta(t, 0.9, out.Metrics.Confidence, 1e-9)

	got := f.photo(t, "p1")
	assert.Equal(t, domain.StatusCompleted, got.Status)
	assert.True(t, got.Consistent())
	assert.NotEqual(t, src.SourceRef, got.ResultRef)
	assert.NotEqual(t, src.SourceChecksum, got.ResultChecksum)
	assert.Equal(t, got.ResultRef, out.ResultRef)
	assert.Equal(t, int32(1), f.enhancer.calls.Load())

	stored, err := f.objects.Read(context.Background(), got.ResultRef)
	require.NoError(t, err)
	assert.Equal(t, got.ResultChecksum, imaging.Checksum(stored))

	history, err := f.store.ListByPhoto(context.Background(), "p1", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, domain.StatusCompleted, history[0].Outcome)
	assert.Equal(t, string(domain.CallerEndUser), history[0].Caller)
	assert.Contains(t, f.cache.invalidated, "p1")
}

func TestEnhanceCompletedPhotoIsNoop(t *testing.T) {
	f := newOrchFixture(t, flipEnhancer(), time.Second)
	p := f.seed(t, "p1", domain.StatusCompleted)
	p.ResultRef = domain.ResultKey(owner, "p1", 1, ".png")
	f.store.PutPhoto(p)

	out, err := f.orch.Enhance(context.Background(), domain.EndUser(owner), "p1")
	require.NoError(t, err)
	assert.True(t, out.Noop)
	assert.Equal(t, p.ResultRef, out.ResultRef)
	assert.Equal(t, int32(0), f.enhancer.calls.Load())
}

func TestEnhanceRejectsWithoutMutation(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(f *orchFixture)
		caller domain.Caller
		id     string
		want   domain.ErrorCode
	}{
		{
			name:   "missing photo",
			caller: domain.EndUser(owner),
			id:     "nope",
			want:   domain.CodeNotFound,
		},
		{
			name:   "other user",
			setup:  func(f *orchFixture) {},
			caller: domain.EndUser("intruder"),
			id:     "p1",
			want:   domain.CodeNotFound,
		},
		{
			name:   "anonymous",
			caller: domain.EndUser(""),
			id:     "p1",
			want:   domain.CodeUnauthorized,
		},
		{
			name: "already processing",
			setup: func(f *orchFixture) {
				p, _ := f.store.GetByID(context.Background(), "p1")
				p.Status = domain.StatusProcessing
				f.store.PutPhoto(*p)
			},
			caller: domain.EndUser(owner),
			id:     "p1",
			want:   domain.CodeAlreadyProcessing,
		},
		{
			name: "completed but inconsistent",
			setup: func(f *orchFixture) {
				p, _ := f.store.GetByID(context.Background(), "p1")
				p.Status = domain.StatusCompleted
				p.ResultRef = p.SourceRef
				f.store.PutPhoto(*p)
			},
			caller: domain.InternalService("api", ""),
			id:     "p1",
			want:   domain.CodeAlreadyTerminal,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newOrchFixture(t, flipEnhancer(), time.Second)
			f.seed(t, "p1", domain.StatusPending)
			if tt.setup != nil {
				tt.setup(f)
			}
			before := f.store.Photos()

			_, err := f.orch.Enhance(context.Background(), tt.caller, tt.id)
			require.Error(t, err)
			assert.Equal(t, tt.want, domain.CodeOf(err))
			assert.Equal(t, before, f.store.Photos())
			assert.Equal(t, int32(0), f.enhancer.calls.Load())
		})
	}
}

func TestEnhanceFailureClassification(t *testing.T) {
	tests := []struct {
		name     string
		enhancer *scriptedEnhancer
		prepare  func(f *orchFixture)
		want     domain.ErrorCode
	}{
		{
			name: "upstream error",
			enhancer: &scriptedEnhancer{fn: func(ctx context.Context, req enhance.Request) (*enhance.Result, error) {
				return nil, &enhance.UpstreamError{StatusCode: 500, Message: "boom"}
			}},
			want: domain.CodeUpstreamServiceError,
		},
		{
			name: "empty result",
			enhancer: &scriptedEnhancer{fn: func(ctx context.Context, req enhance.Request) (*enhance.Result, error) {
				return &enhance.Result{}, nil
			}},
			want: domain.CodeUpstreamServiceError,
		},
		{
			name: "result identical to source",
			enhancer: &scriptedEnhancer{fn: func(ctx context.Context, req enhance.Request) (*enhance.Result, error) {
				return &enhance.Result{Data: req.Data, MIME: req.MIME}, nil
			}},
			want: domain.CodeUpstreamServiceError,
		},
		{
			name: "transport failure",
			enhancer: &scriptedEnhancer{fn: func(ctx context.Context, req enhance.Request) (*enhance.Result, error) {
				return nil, errors.Join(enhance.ErrTransport, errors.New("connection refused"))
			}},
			want: domain.CodeNetworkError,
		},
		{
			name:     "source unreadable",
			enhancer: flipEnhancer(),
			prepare: func(f *orchFixture) {
				_ = f.objects.Delete(context.Background(), domain.SourceKey(owner, "p1", ".png"))
			},
			want: domain.CodeNetworkError,
		},
		{
			name:     "result write fails",
			enhancer: flipEnhancer(),
			prepare: func(f *orchFixture) {
				f.objects.failWrite = func(key string) error { return errors.New("disk full") }
			},
			want: domain.CodeStorageError,
		},
		{
			name: "enhancer panics",
			enhancer: &scriptedEnhancer{fn: func(ctx context.Context, req enhance.Request) (*enhance.Result, error) {
				panic("unexpected")
			}},
			want: domain.CodeInternal,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newOrchFixture(t, tt.enhancer, time.Second)
			f.seed(t, "p1", domain.StatusPending)
			if tt.prepare != nil {
				tt.prepare(f)
			}

			out, err := f.orch.Enhance(context.Background(), domain.EndUser(owner), "p1")
			require.Error(t, err)
			assert.Equal(t, tt.want, domain.CodeOf(err))
			require.NotNil(t, out)
			assert.Equal(t, domain.StatusFailed, out.Status)

			got := f.photo(t, "p1")
			assert.Equal(t, domain.StatusFailed, got.Status)
			assert.Equal(t, string(tt.want), got.ErrorCode)
			assert.Empty(t, got.ResultRef)
			assert.True(t, got.Consistent())
		})
	}
}

func TestEnhanceBudgetExceededMarksTimeout(t *testing.T) {
	f := newOrchFixture(t, blockingEnhancer(), 50*time.Millisecond)
	f.seed(t, "p1", domain.StatusPending)

	start := time.Now()
	_, err := f.orch.Enhance(context.Background(), domain.EndUser(owner), "p1")
	assert.Less(t, time.Since(start), 2*time.Second)
	require.Error(t, err)
	assert.Equal(t, domain.CodeUpstreamTimeout, domain.CodeOf(err))

	got := f.photo(t, "p1")
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Equal(t, string(domain.CodeUpstreamTimeout), got.ErrorCode)
}

func TestEnhanceFailureMessageStaysValidUTF8(t *testing.T) {
	upstream := strings.Repeat("ошибка сервиса ", 80) + "\xff\xfe"
	f := newOrchFixture(t, &scriptedEnhancer{fn: func(ctx context.Context, req enhance.Request) (*enhance.Result, error) {
		return nil, &enhance.UpstreamError{StatusCode: 503, Message: upstream}
	}}, time.Second)
	f.seed(t, "p1", domain.StatusPending)

	_, err := f.orch.Enhance(context.Background(), domain.EndUser(owner), "p1")
	require.Error(t, err)
	require.Greater(t, len(err.Error()), maxErrorMessage)

	got := f.photo(t, "p1")
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.True(t, utf8.ValidString(got.ErrorMessage))
	assert.Equal(t, maxErrorMessage, utf8.RuneCountInString(got.ErrorMessage))
	assert.True(t, strings.HasPrefix(got.ErrorMessage, string(domain.CodeUpstreamServiceError)))
}

func TestEnhanceDetachesFromCallerCancellation(t *testing.T) {
	var sawCancelled bool
	enhancer := &scriptedEnhancer{fn: func(ctx context.Context, req enhance.Request) (*enhance.Result, error) {
		sawCancelled = ctx.Err() != nil
		return flipEnhancer().fn(ctx, req)
	}}
	f := newOrchFixture(t, enhancer, time.Second)
	f.seed(t, "p1", domain.StatusPending)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out, err := f.orch.Enhance(ctx, domain.EndUser(owner), "p1")
	require.NoError(t, err)
	assert.False(t, sawCancelled)
	assert.Equal(t, domain.StatusCompleted, out.Status)
}

func TestEnhanceRetriesFailedPhoto(t *testing.T) {
	f := newOrchFixture(t, flipEnhancer(), time.Second)
	p := f.seed(t, "p1", domain.StatusFailed)
	p.Attempts = 1
	p.ErrorCode = string(domain.CodeUpstreamTimeout)
	f.store.PutPhoto(p)

	out, err := f.orch.Enhance(context.Background(), domain.InternalService("api", ""), "p1")
	require.NoError(t, err)
	assert.Equal(t, 2, out.Metrics.Attempt)
	got := f.photo(t, "p1")
	assert.Equal(t, domain.StatusCompleted, got.Status)
	assert.Empty(t, got.ErrorCode)
	assert.Equal(t, domain.ResultKey(owner, "p1", 2, ".png"), got.ResultRef)
}

func TestConcurrentEnhanceCallsUpstreamOnce(t *testing.T) {
	release := make(chan struct{})
	enhancer := &scriptedEnhancer{fn: func(ctx context.Context, req enhance.Request) (*enhance.Result, error) {
		<-release
		return flipEnhancer().fn(ctx, req)
	}}
	f := newOrchFixture(t, enhancer, 5*time.Second)
	f.seed(t, "p1", domain.StatusPending)

	const callers = 8
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.orch.Enhance(context.Background(), domain.EndUser(owner), "p1")
		}(i)
	}
	require.Eventually(t, func() bool { return f.enhancer.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), f.enhancer.calls.Load())
	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.Contains(t, []domain.ErrorCode{domain.CodeAlreadyProcessing, domain.CodeAlreadyTerminal}, domain.CodeOf(err))
	}
	assert.GreaterOrEqual(t, succeeded, 1)
	assert.Equal(t, domain.StatusCompleted, f.photo(t, "p1").Status)
}
