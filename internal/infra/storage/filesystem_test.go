package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestFileSystem(t *testing.T) (*FileSystem, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	fs, err := NewFileSystem(t.TempDir(), WithClock(clock.Now))
	require.NoError(t, err)
	return fs, clock
}

func TestNewEntry(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		ttl     time.Duration
		wantTTL int64
	}{
		{name: "whole seconds", ttl: time.Hour, wantTTL: 3600},
		{name: "sub-second rounds up", ttl: 1500 * time.Millisecond, wantTTL: 2},
		{name: "zero", ttl: 0, wantTTL: 0},
		{name: "no expiry", ttl: NoExpiry, wantTTL: -1},
		{name: "any negative", ttl: -time.Hour, wantTTL: -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEntry("k", []byte("v"), tt.ttl, now)
			assert.Equal(t, tt.wantTTL, e.TTL)
			assert.Equal(t, now, e.CreatedAt)
		})
	}
}

func TestEntry_Expired(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	e := NewEntry("k", nil, time.Minute, now)
	assert.False(t, e.Expired(now))
	assert.False(t, e.Expired(now.Add(59*time.Second)))
	assert.True(t, e.Expired(now.Add(time.Minute)))

	zero := NewEntry("k", nil, 0, now)
	assert.True(t, zero.Expired(now))

	forever := NewEntry("k", nil, NoExpiry, now)
	assert.False(t, forever.Expired(now.Add(100*365*24*time.Hour)))
	_, ok := forever.ExpiresAt()
	assert.False(t, ok)
}

func TestMatchKey(t *testing.T) {
	tests := []struct {
		pattern string
		key     string
		want    bool
	}{
		{"", "anything", true},
		{"*", "deprecations:openai:2025-01-01", true},
		{"deprecations:*", "deprecations:openai:2025-01-01", true},
		{"deprecations:openai:*", "deprecations:anthropic:2025-01-01", false},
		{"snapshots:?pen", "snapshots:open", true},
		{"deprecations:*", "deprecations:google/vertex:2025-01-01", true},
		{"deprecations:*:2025-01-01", "deprecations:google/vertex:2025-01-01", true},
		{"deprecations:*:2025-01-01", "deprecations:google/vertex:2025-01-02", false},
		{"deprecations:google?vertex:*", "deprecations:google/vertex:2025-01-01", true},
		{"http:[a-c]*", "http:b.example", true},
		{"http:[!a-c]*", "http:b.example", false},
		{`literal\*`, "literal*", true},
		{`literal\*`, "literally", false},
		{"a.b", "axb", false},
		{"modèle:*", "modèle:x", true},
	}
	for _, tt := range tests {
		got, err := MatchKey(tt.pattern, tt.key)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%q ~ %q", tt.pattern, tt.key)
	}

	for _, bad := range []string{"[", "[]", "abc[", "trailing\\"} {
		_, err := MatchKey(bad, "x")
		assert.ErrorIs(t, err, ErrBadPattern, bad)
	}
}

func TestFileSystem_PutGet(t *testing.T) {
	fs, _ := newTestFileSystem(t)
	ctx := context.Background()

	require.NoError(t, fs.Put(ctx, "deprecations:openai:2025-03-14", []byte(`{"a":1}`), time.Hour))

	got, ok, err := fs.Get(ctx, "deprecations:openai:2025-03-14")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"a":1}`, string(got))

	_, ok, err = fs.Get(ctx, "deprecations:openai:2025-03-13")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileSystem_Overwrite(t *testing.T) {
	fs, _ := newTestFileSystem(t)
	ctx := context.Background()

	require.NoError(t, fs.Put(ctx, "k", []byte("one"), time.Hour))
	require.NoError(t, fs.Put(ctx, "k", []byte("two"), time.Hour))

	got, ok, err := fs.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "two", string(got))

	files, err := os.ReadDir(fs.Dir())
	require.NoError(t, err)
	assert.Len(t, files, 1, "temp files must not be left behind")
}

func TestFileSystem_ExpiryIsLazyAndStaleSurvives(t *testing.T) {
	fs, clock := newTestFileSystem(t)
	ctx := context.Background()

	require.NoError(t, fs.Put(ctx, "k", []byte("v"), time.Hour))
	clock.Advance(time.Hour)

	_, ok, err := fs.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok, "expired entry must read as absent")

	got, ok, err := fs.GetStale(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok, "expired entry must still be served stale")
	assert.Equal(t, "v", string(got))

	_, err = os.Stat(filepath.Join(fs.Dir(), FileName("k")))
	assert.NoError(t, err, "get must not delete the expired file")
}

func TestFileSystem_ZeroTTLExpiresImmediately(t *testing.T) {
	fs, _ := newTestFileSystem(t)
	ctx := context.Background()

	require.NoError(t, fs.Put(ctx, "k", []byte("v"), 0))

	_, ok, err := fs.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = fs.GetStale(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFileSystem_NoExpiry(t *testing.T) {
	fs, clock := newTestFileSystem(t)
	ctx := context.Background()

	require.NoError(t, fs.Put(ctx, "records:all", []byte("[]"), NoExpiry))
	clock.Advance(10 * 365 * 24 * time.Hour)

	_, ok, err := fs.Get(ctx, "records:all")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFileSystem_Delete(t *testing.T) {
	fs, _ := newTestFileSystem(t)
	ctx := context.Background()

	require.NoError(t, fs.Put(ctx, "k", []byte("v"), time.Hour))
	require.NoError(t, fs.Delete(ctx, "k"))
	require.NoError(t, fs.Delete(ctx, "k"), "deleting an absent key is not an error")

	_, ok, err := fs.GetStale(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileSystem_List(t *testing.T) {
	fs, clock := newTestFileSystem(t)
	ctx := context.Background()

	require.NoError(t, fs.Put(ctx, "deprecations:openai:2025-03-14", []byte("1"), time.Hour))
	require.NoError(t, fs.Put(ctx, "deprecations:anthropic:2025-03-14", []byte("2"), time.Hour))
	require.NoError(t, fs.Put(ctx, "deprecations:google:2025-03-14", []byte("3"), time.Minute))
	require.NoError(t, fs.Put(ctx, "deprecations:google/vertex:2025-03-14", []byte("5"), time.Hour))
	require.NoError(t, fs.Put(ctx, "snapshots:openai", []byte("4"), time.Hour))
	clock.Advance(2 * time.Minute)

	keys, err := fs.List(ctx, "deprecations:*")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"deprecations:anthropic:2025-03-14",
		"deprecations:google/vertex:2025-03-14",
		"deprecations:openai:2025-03-14",
	}, keys)

	all, err := fs.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestFileSystem_SkipsCorruptAndForeignFiles(t *testing.T) {
	fs, _ := newTestFileSystem(t)
	ctx := context.Background()

	require.NoError(t, fs.Put(ctx, "good", []byte("v"), time.Hour))
	require.NoError(t, os.WriteFile(filepath.Join(fs.Dir(), "deadbeef"+entrySuffix), []byte("{not json"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(fs.Dir(), "README.md"), []byte("hello"), 0o644))

	keys, err := fs.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"good"}, keys)

	// a corrupt file under a key's own name is a read error for that key
	require.NoError(t, os.WriteFile(filepath.Join(fs.Dir(), FileName("bad")), []byte("{"), 0o644))
	_, _, err = fs.Get(ctx, "bad")
	assert.True(t, errors.Is(err, ErrStorage))
}

func TestFileSystem_Clear(t *testing.T) {
	fs, _ := newTestFileSystem(t)
	ctx := context.Background()

	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, fs.Put(ctx, k, []byte(k), time.Hour))
	}
	require.NoError(t, fs.Clear(ctx))

	keys, err := fs.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestFileSystem_Purge(t *testing.T) {
	fs, clock := newTestFileSystem(t)
	ctx := context.Background()

	require.NoError(t, fs.Put(ctx, "old", []byte("1"), time.Hour))
	require.NoError(t, fs.Put(ctx, "recent", []byte("2"), 3*time.Hour))
	require.NoError(t, fs.Put(ctx, "forever", []byte("3"), NoExpiry))
	clock.Advance(4 * time.Hour)

	n, err := fs.Purge(ctx, 2*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, ok, _ := fs.GetStale(ctx, "old")
	assert.False(t, ok)
	_, ok, _ = fs.GetStale(ctx, "recent")
	assert.True(t, ok, "expired within grace must survive a purge")
	_, ok, _ = fs.GetStale(ctx, "forever")
	assert.True(t, ok)
}

func TestFileSystem_Stats(t *testing.T) {
	fs, clock := newTestFileSystem(t)
	ctx := context.Background()

	require.NoError(t, fs.Put(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, fs.Put(ctx, "b", []byte("2"), time.Hour))
	clock.Advance(2 * time.Minute)

	st, err := fs.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Entries)
	assert.Equal(t, 1, st.Expired)
	assert.Greater(t, st.SizeBytes, int64(0))
}

func TestFileSystem_EmptyKeyAndCancelledContext(t *testing.T) {
	fs, _ := newTestFileSystem(t)

	err := fs.Put(context.Background(), "", []byte("v"), time.Hour)
	assert.True(t, errors.Is(err, ErrEmptyKey))
	assert.True(t, errors.Is(err, ErrStorage))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = fs.Put(ctx, "k", []byte("v"), time.Hour)
	assert.True(t, errors.Is(err, context.Canceled))

	var se *Error
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "put", se.Op)
	assert.Equal(t, "k", se.Key)
}

func TestFileSystem_ConcurrentWritersNeverTearReads(t *testing.T) {
	fs, _ := newTestFileSystem(t)
	ctx := context.Background()

	values := []string{strings.Repeat("a", 4096), strings.Repeat("b", 4096)}
	require.NoError(t, fs.Put(ctx, "k", []byte(values[0]), time.Hour))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_ = fs.Put(ctx, "k", []byte(values[(i+j)%2]), time.Hour)
			}
		}(i)
	}
	for j := 0; j < 100; j++ {
		got, ok, err := fs.Get(ctx, "k")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Contains(t, values, string(got))
	}
	wg.Wait()
}
