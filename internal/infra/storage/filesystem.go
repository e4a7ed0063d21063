package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	// DefaultDir is where the plain filesystem backend keeps its entries.
	DefaultDir = ".cache/deprecations"

	entrySuffix = ".cache"
	tempPrefix  = ".tmp-"
)

// FileSystem stores one JSON entry file per key in a single directory.
// File names are the SHA-256 of the key, so any key maps to exactly one file.
type FileSystem struct {
	dir string
	now func() time.Time
}

// NewFileSystem creates the directory if needed and returns a backend rooted there.
func NewFileSystem(dir string, opts ...Option) (*FileSystem, error) {
	if dir == "" {
		dir = DefaultDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, wrapErr("init", "", err)
	}
	o := applyOptions(opts)
	return &FileSystem{dir: dir, now: o.now}, nil
}

// Dir returns the directory the backend writes to.
func (f *FileSystem) Dir() string { return f.dir }

// FileName returns the file name used for key.
func FileName(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:]) + entrySuffix
}

func (f *FileSystem) path(key string) string {
	return filepath.Join(f.dir, FileName(key))
}

// Put implements Backend.
func (f *FileSystem) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := checkKey("put", key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return wrapErr("put", key, err)
	}

	data, err := json.Marshal(NewEntry(key, value, ttl, f.now()))
	if err != nil {
		return wrapErr("put", key, fmt.Errorf("encode entry: %w", err))
	}
	return wrapErr("put", key, writeFileAtomic(f.path(key), data, 0o644))
}

// Get implements Backend.
func (f *FileSystem) Get(ctx context.Context, key string) ([]byte, bool, error) {
	entry, ok, err := f.read(ctx, "get", key)
	if err != nil || !ok {
		return nil, false, err
	}
	if entry.Expired(f.now()) {
		return nil, false, nil
	}
	return entry.Data, true, nil
}

// GetStale implements Backend.
func (f *FileSystem) GetStale(ctx context.Context, key string) ([]byte, bool, error) {
	entry, ok, err := f.read(ctx, "get_stale", key)
	if err != nil || !ok {
		return nil, false, err
	}
	return entry.Data, true, nil
}

// Entry returns the raw envelope for key regardless of expiry.
func (f *FileSystem) Entry(ctx context.Context, key string) (Entry, bool, error) {
	return f.read(ctx, "entry", key)
}

func (f *FileSystem) read(ctx context.Context, op, key string) (Entry, bool, error) {
	if err := checkKey(op, key); err != nil {
		return Entry{}, false, err
	}
	if err := ctx.Err(); err != nil {
		return Entry{}, false, wrapErr(op, key, err)
	}

	entry, err := readEntry(f.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, wrapErr(op, key, err)
	}
	if entry.Key != key {
		return Entry{}, false, nil
	}
	return entry, true, nil
}

// Delete implements Backend.
func (f *FileSystem) Delete(ctx context.Context, key string) error {
	if err := checkKey("delete", key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return wrapErr("delete", key, err)
	}
	if err := os.Remove(f.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return wrapErr("delete", key, err)
	}
	return nil
}

// List implements Backend.
func (f *FileSystem) List(ctx context.Context, pattern string) ([]string, error) {
	now := f.now()
	var keys []string
	err := f.walk(ctx, "list", func(_ string, entry Entry) error {
		if entry.Expired(now) {
			return nil
		}
		ok, err := MatchKey(pattern, entry.Key)
		if err != nil {
			return err
		}
		if ok {
			keys = append(keys, entry.Key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

// Clear implements Backend.
func (f *FileSystem) Clear(ctx context.Context) error {
	files, err := f.entryFiles(ctx, "clear")
	if err != nil {
		return err
	}
	for _, name := range files {
		if err := os.Remove(filepath.Join(f.dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return wrapErr("clear", "", err)
		}
	}
	return nil
}

// Purge implements Backend.
func (f *FileSystem) Purge(ctx context.Context, grace time.Duration) (int, error) {
	removed, err := f.purge(ctx, grace)
	return len(removed), err
}

// purge removes long-expired entries and returns their keys.
func (f *FileSystem) purge(ctx context.Context, grace time.Duration) ([]string, error) {
	now := f.now()
	var removed []string
	err := f.walk(ctx, "purge", func(file string, entry Entry) error {
		if !entry.purgeable(now, grace) {
			return nil
		}
		if err := os.Remove(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		removed = append(removed, entry.Key)
		return nil
	})
	sort.Strings(removed)
	return removed, err
}

// Stats summarises the directory contents.
type Stats struct {
	Dir       string `json:"dir"`
	Entries   int    `json:"entries"`
	Expired   int    `json:"expired"`
	SizeBytes int64  `json:"size_bytes"`
}

// Stats walks the directory and counts live and expired entries.
func (f *FileSystem) Stats(ctx context.Context) (Stats, error) {
	now := f.now()
	st := Stats{Dir: f.dir}
	err := f.walk(ctx, "stats", func(file string, entry Entry) error {
		st.Entries++
		if entry.Expired(now) {
			st.Expired++
		}
		if info, err := os.Stat(file); err == nil {
			st.SizeBytes += info.Size()
		}
		return nil
	})
	return st, err
}

// walk decodes every entry file in the directory. Unreadable files are
// logged and skipped so one corrupt file cannot hide the others.
func (f *FileSystem) walk(ctx context.Context, op string, fn func(file string, entry Entry) error) error {
	files, err := f.entryFiles(ctx, op)
	if err != nil {
		return err
	}
	for _, name := range files {
		if err := ctx.Err(); err != nil {
			return wrapErr(op, "", err)
		}
		file := filepath.Join(f.dir, name)
		entry, err := readEntry(file)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			slog.Warn("skipping unreadable cache entry",
				slog.String("file", file),
				slog.Any("error", err))
			continue
		}
		if err := fn(file, entry); err != nil {
			return wrapErr(op, entry.Key, err)
		}
	}
	return nil
}

func (f *FileSystem) entryFiles(ctx context.Context, op string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, wrapErr(op, "", err)
	}
	dirEntries, err := os.ReadDir(f.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr(op, "", err)
	}
	names := make([]string, 0, len(dirEntries))
	for _, de := range dirEntries {
		name := de.Name()
		if de.IsDir() || !strings.HasSuffix(name, entrySuffix) || strings.HasPrefix(name, tempPrefix) {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}

func readEntry(file string) (Entry, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return Entry{}, err
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return Entry{}, fmt.Errorf("decode entry %s: %w", filepath.Base(file), err)
	}
	return entry, nil
}
