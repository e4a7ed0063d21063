// Package storage provides durable key to blob persistence with TTL metadata.
// Every backend stores values inside an Entry envelope and evaluates expiry
// lazily on read. An expired entry stays on disk until Purge removes it, so
// stale reads keep working after the normal read path reports a miss.
package storage

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"
)

// NoExpiry marks an entry that never expires.
const NoExpiry time.Duration = -1

// ErrStorage classifies every error produced by a backend.
var ErrStorage = errors.New("storage error")

// ErrEmptyKey is returned for operations on the empty key.
var ErrEmptyKey = errors.New("key must not be empty")

// Error describes a failed backend operation.
type Error struct {
	Op  string
	Key string
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage %s %q: %v", e.Op, e.Key, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error { return e.Err }

// Is reports true for ErrStorage.
func (e *Error) Is(target error) bool { return target == ErrStorage }

func wrapErr(op, key string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return &Error{Op: op, Key: key, Err: err}
}

// Backend is the persistence contract shared by every storage variant.
// Keys are opaque strings; values are opaque bytes.
type Backend interface {
	// Put writes value under key. Readers never observe a partial write.
	// A negative ttl (NoExpiry) never expires; a zero ttl is expired on the next read.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get returns the value if present and not expired.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// GetStale returns the value regardless of expiry. It never deletes anything.
	GetStale(ctx context.Context, key string) ([]byte, bool, error)

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns the live keys matching a glob pattern (MatchKey syntax), sorted.
	List(ctx context.Context, pattern string) ([]string, error)

	// Clear removes every entry.
	Clear(ctx context.Context) error

	// Purge deletes entries that expired more than grace ago and returns how many were removed.
	Purge(ctx context.Context, grace time.Duration) (int, error)
}

// Entry is the envelope persisted for every key.
type Entry struct {
	Key       string    `json:"key"`
	Data      []byte    `json:"data"`
	CreatedAt time.Time `json:"created_at"`
	// TTL is in whole seconds; a negative value never expires.
	TTL int64 `json:"ttl"`
}

// NewEntry builds an entry created at now. Sub-second TTLs round up so a
// positive ttl is never expired on creation.
func NewEntry(key string, value []byte, ttl time.Duration, now time.Time) Entry {
	seconds := int64(-1)
	if ttl >= 0 {
		seconds = int64(math.Ceil(ttl.Seconds()))
	}
	return Entry{Key: key, Data: value, CreatedAt: now.UTC(), TTL: seconds}
}

// ExpiresAt returns the instant the entry expires and false when it never does.
func (e Entry) ExpiresAt() (time.Time, bool) {
	if e.TTL < 0 {
		return time.Time{}, false
	}
	return e.CreatedAt.Add(time.Duration(e.TTL) * time.Second), true
}

// Expired reports whether the entry is expired at now.
func (e Entry) Expired(now time.Time) bool {
	at, ok := e.ExpiresAt()
	if !ok {
		return false
	}
	return !now.Before(at)
}

// purgeable reports whether the entry expired at least grace before now.
func (e Entry) purgeable(now time.Time, grace time.Duration) bool {
	at, ok := e.ExpiresAt()
	if !ok {
		return false
	}
	return !now.Before(at.Add(grace))
}

// ErrBadPattern is returned for key patterns with an unterminated class or
// a trailing escape.
var ErrBadPattern = errors.New("malformed key pattern")

// MatchKey reports whether key matches the glob pattern. '*' matches any run
// of characters, '/' and ':' included, '?' matches one character, [...] is a
// character class ([!...] negated) and '\' escapes the next character. An
// empty pattern matches everything.
func MatchKey(pattern, key string) (bool, error) {
	if pattern == "" || pattern == "*" {
		return true, nil
	}
	re, err := globRegexp(pattern)
	if err != nil {
		return false, err
	}
	return re.MatchString(key), nil
}

func globRegexp(pattern string) (*regexp.Regexp, error) {
	src := []rune(pattern)
	var b strings.Builder
	b.WriteString(`^(?s:`)
	for i := 0; i < len(src); i++ {
		switch c := src[i]; c {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		case '\\':
			if i+1 == len(src) {
				return nil, fmt.Errorf("%w: %q", ErrBadPattern, pattern)
			}
			i++
			b.WriteString(regexp.QuoteMeta(string(src[i])))
		case '[':
			end := i + 1
			for end < len(src) && src[end] != ']' {
				end++
			}
			if end == len(src) || end == i+1 {
				return nil, fmt.Errorf("%w: %q", ErrBadPattern, pattern)
			}
			class := string(src[i+1 : end])
			if class[0] == '!' {
				class = "^" + class[1:]
			}
			b.WriteString("[" + class + "]")
			i = end
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	b.WriteString(")$")

	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrBadPattern, pattern)
	}
	return re, nil
}

// Option configures a backend.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the clock used for timestamps and expiry checks.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func applyOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func checkKey(op, key string) error {
	if key == "" {
		return &Error{Op: op, Err: ErrEmptyKey}
	}
	return nil
}
