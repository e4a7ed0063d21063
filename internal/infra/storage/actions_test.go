package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestActions(t *testing.T) (*Actions, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	a, err := NewActions(ActionsConfig{Dir: t.TempDir()}, WithClock(clock.Now))
	require.NoError(t, err)
	return a, clock
}

func TestActions_ManifestTracksKeys(t *testing.T) {
	a, clock := newTestActions(t)
	ctx := context.Background()

	require.NoError(t, a.Put(ctx, "deprecations:openai:2025-03-14", []byte("1"), time.Hour))
	clock.Advance(time.Minute)
	require.NoError(t, a.Put(ctx, "records:all", []byte("2"), NoExpiry))

	st, err := a.State()
	require.NoError(t, err)
	assert.Equal(t, StateVersion, st.Version)
	require.Len(t, st.Entries, 2)
	assert.Equal(t, statusActive, st.Entries["records:all"].Status)
	assert.Equal(t, clock.Now(), st.Entries["records:all"].AddedAt)
	assert.Equal(t, clock.Now(), st.LastUpdated)

	require.NoError(t, a.Delete(ctx, "records:all"))
	st, err = a.State()
	require.NoError(t, err)
	assert.NotContains(t, st.Entries, "records:all")

	require.NoError(t, a.Clear(ctx))
	st, err = a.State()
	require.NoError(t, err)
	assert.Empty(t, st.Entries)
}

func TestActions_ManifestOnDisk(t *testing.T) {
	a, _ := newTestActions(t)
	require.NoError(t, a.Put(context.Background(), "k", []byte("v"), time.Hour))

	data, err := os.ReadFile(filepath.Join(a.Dir(), StateFileName))
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Contains(t, raw, "version")
	assert.Contains(t, raw, "created_at")
	assert.Contains(t, raw, "last_updated")
	assert.Contains(t, raw, "entries")

	keys, err := a.List(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, []string{"k"}, keys, "the manifest must not be listed as an entry")
}

func TestActions_CorruptManifestStartsFresh(t *testing.T) {
	a, _ := newTestActions(t)
	require.NoError(t, os.WriteFile(filepath.Join(a.Dir(), StateFileName), []byte("{broken"), 0o644))

	require.NoError(t, a.Put(context.Background(), "k", []byte("v"), time.Hour))

	st, err := a.State()
	require.NoError(t, err)
	assert.Len(t, st.Entries, 1)
}

func TestActions_CacheKeys(t *testing.T) {
	a, err := NewActions(ActionsConfig{Dir: t.TempDir(), KeyPrefix: "models", KeyVersion: "v2"})
	require.NoError(t, err)

	now := time.Date(2025, 3, 14, 23, 30, 0, 0, time.FixedZone("JST", 9*3600))

	assert.Equal(t, "models-v2-2025-03-14", a.CacheKey(now))

	want := []string{
		"models-v2-2025-03-14",
		"models-v2-2025-03-",
		"models-v2-2025-",
		"models-v2-",
	}
	if diff := cmp.Diff(want, a.RestoreKeys(now)); diff != "" {
		t.Errorf("RestoreKeys mismatch (-want +got):\n%s", diff)
	}

	plan := a.Plan(now)
	assert.Equal(t, a.Dir(), plan.Path)
	assert.Equal(t, want[0], plan.Key)
}

func TestActions_DefaultKeyParts(t *testing.T) {
	a, err := NewActions(ActionsConfig{Dir: t.TempDir()})
	require.NoError(t, err)
	now := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "deprecations-cache-v1-2025-01-02", a.CacheKey(now))
}

func TestActions_PurgeUpdatesManifest(t *testing.T) {
	a, clock := newTestActions(t)
	ctx := context.Background()

	require.NoError(t, a.Put(ctx, "old", []byte("1"), time.Minute))
	require.NoError(t, a.Put(ctx, "new", []byte("2"), time.Hour))
	clock.Advance(10 * time.Minute)

	n, err := a.Purge(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	st, err := a.State()
	require.NoError(t, err)
	assert.NotContains(t, st.Entries, "old")
	assert.Contains(t, st.Entries, "new")
}

func TestActions_Info(t *testing.T) {
	a, _ := newTestActions(t)
	ctx := context.Background()

	require.NoError(t, a.Put(ctx, "a", []byte("1"), time.Hour))
	require.NoError(t, a.Put(ctx, "b", []byte("2"), time.Hour))

	info, err := a.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, info.Entries)
	assert.Equal(t, 2, info.ManifestEntries)
	assert.Greater(t, info.SizeBytes, int64(0))
}

func TestActionsDir(t *testing.T) {
	assert.Equal(t, ActionsSubdir, ActionsDir(""))
	assert.Equal(t, filepath.Join("/work", ActionsSubdir), ActionsDir("/work"))
}
