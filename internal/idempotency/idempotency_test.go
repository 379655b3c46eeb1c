package idempotency

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/eventworker/internal/foundation/errors"
)

func TestFingerprintIgnoresKeyOrder(t *testing.T) {
	var a, b map[string]any
	require.NoError(t, json.Unmarshal([]byte(`{"b":1,"a":{"y":[1,2],"x":"s"}}`), &a))
	require.NoError(t, json.Unmarshal([]byte(`{"a":{"x":"s","y":[1,2]},"b":1}`), &b))

	fa, err := Fingerprint("analytics", a)
	require.NoError(t, err)
	fb, err := Fingerprint("analytics", b)
	require.NoError(t, err)
	assert.Equal(t, fa, fb)
	assert.Len(t, fa, 64)

	other, err := Fingerprint("notification", a)
	require.NoError(t, err)
	assert.NotEqual(t, fa, other, "event type is part of the fingerprint")
}

func TestCanonicalIsCompactAndUnescaped(t *testing.T) {
	out, err := Canonical(map[string]any{"z": "<a&b>", "a": 1})
	require.NoError(t, err)
	assert.Equal(t, `{"a":1,"z":"<a&b>"}`, string(out))
}

func TestMemoryCacheComputesOnce(t *testing.T) {
	c := NewMemoryCache(0)
	calls := 0
	compute := func(context.Context) (json.RawMessage, error) {
		calls++
		return json.RawMessage(`{"n":1}`), nil
	}

	first, hit, err := c.GetOrCompute(t.Context(), "fp", compute)
	require.NoError(t, err)
	assert.False(t, hit)

	second, hit, err := c.GetOrCompute(t.Context(), "fp", compute)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, calls)
}

func TestMemoryCacheDoesNotStoreErrors(t *testing.T) {
	c := NewMemoryCache(0)
	boom := stderrors.New("boom")

	_, _, err := c.GetOrCompute(t.Context(), "fp", func(context.Context) (json.RawMessage, error) { return nil, boom })
	require.ErrorIs(t, err, boom)
	assert.Zero(t, c.Len())

	res, hit, err := c.GetOrCompute(t.Context(), "fp", func(context.Context) (json.RawMessage, error) {
		return json.RawMessage(`1`), nil
	})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, json.RawMessage(`1`), res)
}

func TestMemoryCacheConcurrentCallersConverge(t *testing.T) {
	c := NewMemoryCache(0)
	var calls atomic.Int32
	release := make(chan struct{})

	var wg sync.WaitGroup
	results := make([]json.RawMessage, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, _, err := c.GetOrCompute(context.Background(), "fp", func(context.Context) (json.RawMessage, error) {
				calls.Add(1)
				<-release
				return json.RawMessage(`{"v":42}`), nil
			})
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, r := range results {
		assert.JSONEq(t, `{"v":42}`, string(r))
	}
}

func TestMemoryCacheTTLPrune(t *testing.T) {
	c := NewMemoryCache(time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	_, _, err := c.GetOrCompute(t.Context(), "fp", func(context.Context) (json.RawMessage, error) {
		return json.RawMessage(`1`), nil
	})
	require.NoError(t, err)
	assert.Zero(t, c.Prune())

	now = now.Add(2 * time.Minute)
	_, ok := c.lookup("fp")
	assert.False(t, ok, "expired entries are not served")
	assert.Equal(t, 1, c.Prune())
	assert.Zero(t, c.Len())
}

func TestMemoryCacheRecomputesAfterExpiry(t *testing.T) {
	c := NewMemoryCache(time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	stamp := func(context.Context) (json.RawMessage, error) {
		return json.RawMessage(`"` + now.Format(time.RFC3339) + `"`), nil
	}
	first, hit, err := c.GetOrCompute(t.Context(), "fp", stamp)
	require.NoError(t, err)
	assert.False(t, hit)

	now = now.Add(30 * time.Second)
	again, hit, err := c.GetOrCompute(t.Context(), "fp", stamp)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, first, again)

	now = now.Add(time.Minute)
	later, hit, err := c.GetOrCompute(t.Context(), "fp", stamp)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.NotEqual(t, first, later)
}

type flakyStore struct {
	Store
	loadErr error
}

func (f flakyStore) Load(ctx context.Context, fp string) (json.RawMessage, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return f.Store.Load(ctx, fp)
}

func newSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "idempotency.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStoreFirstWriteWins(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := t.Context()

	_, err := s.Load(ctx, "fp")
	require.ErrorIs(t, err, ErrMiss)

	stored, err := s.StoreIfAbsent(ctx, "fp", json.RawMessage(`{"a":1}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(stored))

	stored, err = s.StoreIfAbsent(ctx, "fp", json.RawMessage(`{"a":2}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(stored), "conflicting write returns the earlier value")
}

func TestSharedCacheOverSQLite(t *testing.T) {
	s := newSQLiteStore(t)
	workerA := NewSharedCache(s)
	workerB := NewSharedCache(s)

	calls := 0
	compute := func(context.Context) (json.RawMessage, error) {
		calls++
		return json.RawMessage(`{"computed":true}`), nil
	}

	_, hit, err := workerA.GetOrCompute(t.Context(), "fp", compute)
	require.NoError(t, err)
	assert.False(t, hit)

	res, hit, err := workerB.GetOrCompute(t.Context(), "fp", compute)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.JSONEq(t, `{"computed":true}`, string(res))
	assert.Equal(t, 1, calls)
}

func TestSharedCacheClassifiesStoreErrors(t *testing.T) {
	c := NewSharedCache(flakyStore{Store: newSQLiteStore(t), loadErr: stderrors.New("disk gone")})
	_, _, err := c.GetOrCompute(t.Context(), "fp", func(context.Context) (json.RawMessage, error) {
		t.Fatal("compute must not run when the lookup fails")
		return nil, nil
	})
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryIdempotency))
	assert.False(t, errors.IsPermanent(err))
}
