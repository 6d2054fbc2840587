package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowchain/ccpm/internal/circuitbreaker"
)

type fakeStore struct {
	data map[string]string
	err  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: make(map[string]string)}
}

func (f *fakeStore) Get(ctx context.Context, key string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	v, ok := f.data[key]
	if !ok {
		return "", ErrMiss
	}
	return v, nil
}

func (f *fakeStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if f.err != nil {
		return f.err
	}
	f.data[key] = value
	return nil
}

func (f *fakeStore) Del(ctx context.Context, keys ...string) error {
	if f.err != nil {
		return f.err
	}
	for _, k := range keys {
		delete(f.data, k)
	}
	return nil
}

func TestReportRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := New(newFakeStore(), DefaultConfig())

	_, ok := c.Report(ctx, "p1")
	assert.False(t, ok)

	c.SetReport(ctx, "p1", "project on schedule")
	report, ok := c.Report(ctx, "p1")
	require.True(t, ok)
	assert.Equal(t, "project on schedule", report)

	// Projects are isolated.
	_, ok = c.Report(ctx, "p2")
	assert.False(t, ok)
}

func TestInvalidateDropsAllProjectKeys(t *testing.T) {
	ctx := context.Background()
	c := New(newFakeStore(), DefaultConfig())

	c.SetReport(ctx, "p1", "report")
	c.SetGraphView(ctx, "p1", `{"nodes":[]}`)

	c.Invalidate(ctx, "p1")

	_, ok := c.Report(ctx, "p1")
	assert.False(t, ok)
	_, ok = c.GraphView(ctx, "p1")
	assert.False(t, ok)
}

func TestMissDoesNotTripBreaker(t *testing.T) {
	ctx := context.Background()
	c := New(newFakeStore(), Config{TTL: time.Minute, BreakerFailures: 2, BreakerCooldown: time.Minute})

	for i := 0; i < 10; i++ {
		_, ok := c.Report(ctx, "absent")
		assert.False(t, ok)
	}
	assert.Equal(t, circuitbreaker.Closed, c.BreakerState())
}

func TestStoreFailuresTripBreaker(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	c := New(store, Config{TTL: time.Minute, BreakerFailures: 2, BreakerCooldown: time.Minute})

	store.err = errors.New("connection refused")
	_, _ = c.Report(ctx, "p1")
	_, _ = c.Report(ctx, "p1")
	assert.Equal(t, circuitbreaker.Open, c.BreakerState())

	// Open breaker: reads degrade to misses without touching the store.
	store.err = nil
	store.data["ccpm:report:p1"] = "report"
	_, ok := c.Report(ctx, "p1")
	assert.False(t, ok)
}
