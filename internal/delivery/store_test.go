package delivery

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	first, err := s.Claim(ctx, "transaction:1:SUCCESS")
	require.NoError(t, err)
	assert.True(t, first)

	again, err := s.Claim(ctx, "transaction:1:SUCCESS")
	require.NoError(t, err)
	assert.False(t, again, "in-progress delivery must not be claimed twice")

	require.NoError(t, s.Complete(ctx, "transaction:1:SUCCESS"))

	again, err = s.Claim(ctx, "transaction:1:SUCCESS")
	require.NoError(t, err)
	assert.False(t, again, "completed delivery must not be claimed again")

	other, err := s.Claim(ctx, "transaction:1:ERROR")
	require.NoError(t, err)
	assert.True(t, other, "a new status is a new delivery")
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore(time.Hour))
}

func TestMemoryStore_Expiry(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	s := NewMemoryStore(time.Hour)
	s.now = clock.Now
	ctx := context.Background()

	ok, err := s.Claim(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)

	clock.Advance(InProgressExpiry)
	ok, err = s.Claim(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok, "abandoned claim expires")

	require.NoError(t, s.Complete(ctx, "k"))
	clock.Advance(59 * time.Minute)
	ok, _ = s.Claim(ctx, "k")
	assert.False(t, ok)

	clock.Advance(time.Minute)
	ok, _ = s.Claim(ctx, "k")
	assert.True(t, ok, "completed key forgotten after retention")
	assert.Equal(t, 1, s.Len())
}

func TestMemoryStore_ConcurrentClaimHasOneWinner(t *testing.T) {
	s := NewMemoryStore(time.Hour)
	var winners atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := s.Claim(context.Background(), "same"); ok {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), winners.Load())
}

func TestSQLiteStore(t *testing.T) {
	s, err := OpenSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "deliveries.db"), time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	exerciseStore(t, s)
}

func TestSQLiteStore_Expiry(t *testing.T) {
	s, err := OpenSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "deliveries.db"), time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	s.now = clock.Now
	ctx := context.Background()

	ok, err := s.Claim(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)

	clock.Advance(InProgressExpiry + time.Second)
	ok, err = s.Claim(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.Complete(ctx, "k"))
	clock.Advance(2 * time.Hour)
	ok, err = s.Claim(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deliveries.db")
	ctx := context.Background()

	s, err := OpenSQLiteStore(ctx, path, time.Hour)
	require.NoError(t, err)
	_, err = s.Claim(ctx, "bill:1:PAID")
	require.NoError(t, err)
	require.NoError(t, s.Complete(ctx, "bill:1:PAID"))
	require.NoError(t, s.Close())

	s, err = OpenSQLiteStore(ctx, path, time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ok, err := s.Claim(ctx, "bill:1:PAID")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("QIWIGO_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("QIWIGO_TEST_REDIS_ADDR not set")
	}

	s, err := OpenRedisStore(context.Background(), addr, "", 0, time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	prefix := t.Name() + time.Now().Format("150405.000000000")
	ctx := context.Background()

	ok, err := s.Claim(ctx, prefix)
	require.NoError(t, err)
	assert.True(t, ok)

	status, err := s.Status(ctx, prefix)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, status)

	require.NoError(t, s.Complete(ctx, prefix))
	ok, err = s.Claim(ctx, prefix)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOpen(t *testing.T) {
	s, err := Open(context.Background(), Config{})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = Open(context.Background(), Config{Backend: "sqlite", Path: filepath.Join(t.TempDir(), "d.db")})
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)
	require.NoError(t, s.Close())

	_, err = Open(context.Background(), Config{Backend: "etcd"})
	assert.Error(t, err)
}
