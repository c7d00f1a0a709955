package cache

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/montignypatrik/facnet-validator-core/internal/domain"
)

type fakeSource struct {
	codes    []domain.Code
	loadCalls int
}

func (f *fakeSource) GetCodes(ctx context.Context) ([]domain.Code, error) {
	f.loadCalls++
	return f.codes, nil
}
func (f *fakeSource) GetContexts(ctx context.Context) ([]domain.Context, error) { return nil, nil }
func (f *fakeSource) GetEstablishments(ctx context.Context) ([]domain.Establishment, error) {
	return nil, nil
}
func (f *fakeSource) GetRules(ctx context.Context) ([]domain.Rule, error) { return nil, nil }

func newTestCache(t *testing.T, source Source) *ReferenceCache {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	log := logrus.New().WithField("component", "test")
	return New(client, source, log)
}

func TestGetCodes_PopulatesCacheOnMiss(t *testing.T) {
	source := &fakeSource{codes: []domain.Code{{Code: "19928", TariffValue: 32.10}}}
	c := newTestCache(t, source)
	ctx := context.Background()

	codes, err := c.GetCodes(ctx)
	require.NoError(t, err)
	assert.Len(t, codes, 1)
	assert.Equal(t, 1, source.loadCalls)

	// Second read should be satisfied from cache, not the source.
	codes2, err := c.GetCodes(ctx)
	require.NoError(t, err)
	assert.Equal(t, codes, codes2)
	assert.Equal(t, 1, source.loadCalls)

	stats := c.Stats()
	assert.EqualValues(t, 1, stats.Misses)
	assert.EqualValues(t, 1, stats.Hits)
	assert.EqualValues(t, 2, stats.TotalRequests)
}

func TestInvalidate_ForcesReload(t *testing.T) {
	source := &fakeSource{codes: []domain.Code{{Code: "8875"}}}
	c := newTestCache(t, source)
	ctx := context.Background()

	_, err := c.GetCodes(ctx)
	require.NoError(t, err)
	require.NoError(t, c.Invalidate(ctx, KeyCodes))

	_, err = c.GetCodes(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, source.loadCalls)

	stats := c.Stats()
	assert.EqualValues(t, 1, stats.Invalidations)
}

func TestGetCodes_DegradesWhenRedisDown(t *testing.T) {
	source := &fakeSource{codes: []domain.Code{{Code: "8857"}}}
	log := logrus.New().WithField("component", "test")

	// A client pointed at a closed port degrades rather than erroring out.
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	c := New(client, source, log)

	codes, err := c.GetCodes(context.Background())
	require.NoError(t, err)
	assert.Len(t, codes, 1)

	stats := c.Stats()
	assert.GreaterOrEqual(t, stats.Errors, int64(1))
}
