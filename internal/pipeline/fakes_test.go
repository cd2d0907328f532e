package pipeline

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"photoenhance/internal/domain"
	"photoenhance/internal/providers/enhance"
)

var testLogger = zerolog.New(io.Discard)

// memObjects is an in-memory object store with failure injection.
type memObjects struct {
	mu        sync.Mutex
	data      map[string][]byte
	failWrite func(key string) error
	deleted   []string
}

func newMemObjects() *memObjects {
	return &memObjects{data: make(map[string][]byte)}
}

func (m *memObjects) Write(ctx context.Context, key string, data []byte) (string, error) {
	if m.failWrite != nil {
		if err := m.failWrite(key); err != nil {
			return "", err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), data...)
	return key, nil
}

func (m *memObjects) Read(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.data[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return append([]byte(nil), d...), nil
}

func (m *memObjects) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	m.deleted = append(m.deleted, key)
	return nil
}

func (m *memObjects) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}

// scriptedEnhancer delegates to fn and counts calls.
type scriptedEnhancer struct {
	calls atomic.Int32
	fn    func(ctx context.Context, req enhance.Request) (*enhance.Result, error)
}

func (s *scriptedEnhancer) Model() string { return "scripted" }

func (s *scriptedEnhancer) Enhance(ctx context.Context, req enhance.Request) (*enhance.Result, error) {
	s.calls.Add(1)
	return s.fn(ctx, req)
}

// flipEnhancer returns the source with every byte inverted.
func flipEnhancer() *scriptedEnhancer {
	return &scriptedEnhancer{fn: func(ctx context.Context, req enhance.Request) (*enhance.Result, error) {
		out := make([]byte, len(req.Data))
		for i, b := range req.Data {
			out[i] = ^b
		}
		return &enhance.Result{Data: out, MIME: req.MIME, Confidence: 0.9}, nil
	}}
}

// blockingEnhancer waits for ctx to end.
func blockingEnhancer() *scriptedEnhancer {
	return &scriptedEnhancer{fn: func(ctx context.Context, req enhance.Request) (*enhance.Result, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
}

// countingCache records invalidations and serves whatever was Set.
type countingCache struct {
	mu          sync.Mutex
	entries     map[string]domain.Photo
	gets        int
	invalidated []string
	getErr      error
}

func newCountingCache() *countingCache {
	return &countingCache{entries: make(map[string]domain.Photo)}
}

func (c *countingCache) Get(ctx context.Context, id string) (*domain.Photo, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	if c.getErr != nil {
		return nil, false, c.getErr
	}
	p, ok := c.entries[id]
	if !ok {
		return nil, false, nil
	}
	return &p, true, nil
}

func (c *countingCache) Set(ctx context.Context, p *domain.Photo) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[p.ID] = *p
	return nil
}

func (c *countingCache) Invalidate(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
	c.invalidated = append(c.invalidated, id)
	return nil
}

var errTransient = errors.New("transient")

var baseTime = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
