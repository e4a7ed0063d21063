// Package main provides a CLI for inspecting and maintaining the record cache.
// Usage: cachectl [--output json] <plan|status|list|show|purge|clear> [args]
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"deprecations-feed/internal/config"
	"deprecations-feed/internal/domain/entity"
	"deprecations-feed/internal/infra/db"
	"deprecations-feed/internal/infra/storage"
	"deprecations-feed/internal/observability/logging"
	envconfig "deprecations-feed/internal/pkg/config"
	"deprecations-feed/internal/usecase/cache"
)

const usage = `Usage: cachectl [--output text|json] <command> [args]

Commands:
  plan              print the CI cache path, key and restore keys
                    (also written to $GITHUB_OUTPUT when set)
  status            print entry counts and size of the cache
  list [pattern]    list live keys, optionally filtered by a glob
  show [--date D] [provider...]
                    print provider snapshots: the latest within
                    CACHE_LOOKBACK_DAYS, or exactly day D (YYYY-MM-DD)
  purge [--grace D] delete entries that expired more than D ago
  clear             delete every entry
`

var errUsage = errors.New("invalid usage")

// StatusOutput is the JSON form of the status command.
type StatusOutput struct {
	Backend         string     `json:"backend"`
	Dir             string     `json:"dir,omitempty"`
	Entries         int        `json:"entries"`
	Expired         int        `json:"expired"`
	SizeBytes       int64      `json:"size_bytes"`
	ManifestEntries *int       `json:"manifest_entries,omitempty"`
	LastUpdated     *time.Time `json:"last_updated,omitempty"`
}

// SnapshotOutput is one provider snapshot printed by show.
type SnapshotOutput struct {
	Provider string          `json:"provider"`
	Day      string          `json:"day"`
	Records  []entity.Record `json:"records"`
}

// cli carries the streams and collaborators of one invocation.
type cli struct {
	stdout  io.Writer
	stderr  io.Writer
	cfg     config.CacheConfig
	backend storage.Backend
	kind    storage.Kind
	json    bool
	now     func() time.Time
	logger  *slog.Logger
}

func main() {
	logger := logging.NewTextLogger()
	slog.SetDefault(logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr, logger)
	cancel()
	os.Exit(code)
}

// run parses args, opens the configured backend and executes one command.
// It returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer, logger *slog.Logger) int {
	fs := flag.NewFlagSet("cachectl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { fmt.Fprint(stderr, usage) }
	output := fs.String("output", "text", "Output format: text or json")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	l := envconfig.NewLoader(nil)
	cfg := config.LoadCacheConfig(l)
	for _, warning := range l.Warnings {
		logger.Warn("Configuration fallback applied", slog.String("warning", warning))
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "Error: invalid cache configuration: %v\n", err)
		return 1
	}

	c := &cli{
		stdout: stdout,
		stderr: stderr,
		cfg:    cfg,
		json:   *output == "json",
		now:    time.Now,
		logger: logger,
	}

	command, rest := fs.Arg(0), fs.Args()[1:]
	if command != "plan" {
		closeDB, err := c.open(ctx)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		defer closeDB()
	}

	var err error
	switch command {
	case "plan":
		err = c.plan()
	case "status":
		err = c.status(ctx)
	case "list":
		err = c.list(ctx, rest)
	case "show":
		err = c.show(ctx, rest)
	case "purge":
		err = c.purge(ctx, rest)
	case "clear":
		err = c.clear(ctx)
	default:
		fmt.Fprintf(stderr, "Error: unknown command %q\n\n", command)
		fs.Usage()
		return 2
	}

	if errors.Is(err, errUsage) {
		fs.Usage()
		return 2
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %s failed: %v\n", command, err)
		return 1
	}
	return 0
}

// open selects the backend and returns a function releasing it.
func (c *cli) open(ctx context.Context) (func(), error) {
	var conn *sql.DB
	if c.cfg.ResolvedBackend() == config.BackendPostgres {
		var err error
		conn, err = db.Open(ctx)
		if err != nil {
			return nil, err
		}
	}
	backend, kind, err := storage.Select(c.cfg, conn)
	if err != nil {
		if conn != nil {
			_ = conn.Close()
		}
		return nil, err
	}
	c.backend, c.kind = backend, kind
	return func() {
		if conn != nil {
			_ = conn.Close()
		}
	}, nil
}

// plan prints the cache plan for the CI cache step. The plan is computed
// from configuration alone and does not open the backend.
func (c *cli) plan() error {
	dir := c.cfg.Dir
	if dir == "" {
		dir = storage.ActionsDir(c.cfg.Workspace)
	}
	a, err := storage.NewActions(storage.ActionsConfig{
		Dir:        dir,
		KeyPrefix:  c.cfg.KeyPrefix,
		KeyVersion: c.cfg.KeyVersion,
	})
	if err != nil {
		return err
	}
	p := a.Plan(c.now())

	if path := os.Getenv("GITHUB_OUTPUT"); path != "" {
		if err := writeGitHubOutput(path, p); err != nil {
			return fmt.Errorf("write GITHUB_OUTPUT: %w", err)
		}
		c.logger.Info("cache plan written to GITHUB_OUTPUT", slog.String("key", p.Key))
	}

	if c.json {
		return c.encode(p)
	}
	fmt.Fprintf(c.stdout, "path: %s\n", p.Path)
	fmt.Fprintf(c.stdout, "key: %s\n", p.Key)
	fmt.Fprintf(c.stdout, "restore-keys:\n")
	for _, k := range p.RestoreKeys {
		fmt.Fprintf(c.stdout, "  %s\n", k)
	}
	return nil
}

// writeGitHubOutput appends the plan as step outputs. restore-keys is
// multi-line and uses the heredoc syntax.
func writeGitHubOutput(path string, p storage.Plan) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	var b strings.Builder
	fmt.Fprintf(&b, "path=%s\n", p.Path)
	fmt.Fprintf(&b, "key=%s\n", p.Key)
	b.WriteString("restore-keys<<EOF\n")
	for _, k := range p.RestoreKeys {
		b.WriteString(k + "\n")
	}
	b.WriteString("EOF\n")
	_, err = f.WriteString(b.String())
	return err
}

func (c *cli) status(ctx context.Context) error {
	out := StatusOutput{Backend: string(c.kind)}
	switch b := c.backend.(type) {
	case *storage.Actions:
		info, err := b.Info(ctx)
		if err != nil {
			return err
		}
		out.Dir, out.Entries, out.Expired, out.SizeBytes = info.Dir, info.Entries, info.Expired, info.SizeBytes
		out.ManifestEntries = &info.ManifestEntries
		out.LastUpdated = &info.LastUpdated
	case *storage.FileSystem:
		st, err := b.Stats(ctx)
		if err != nil {
			return err
		}
		out.Dir, out.Entries, out.Expired, out.SizeBytes = st.Dir, st.Entries, st.Expired, st.SizeBytes
	default:
		keys, err := c.backend.List(ctx, "")
		if err != nil {
			return err
		}
		out.Entries = len(keys)
	}

	if c.json {
		return c.encode(out)
	}
	fmt.Fprintf(c.stdout, "backend: %s\n", out.Backend)
	if out.Dir != "" {
		fmt.Fprintf(c.stdout, "dir: %s\n", out.Dir)
	}
	fmt.Fprintf(c.stdout, "entries: %d\n", out.Entries)
	fmt.Fprintf(c.stdout, "expired: %d\n", out.Expired)
	fmt.Fprintf(c.stdout, "size: %d bytes\n", out.SizeBytes)
	if out.ManifestEntries != nil {
		fmt.Fprintf(c.stdout, "manifest entries: %d\n", *out.ManifestEntries)
	}
	if out.LastUpdated != nil && !out.LastUpdated.IsZero() {
		fmt.Fprintf(c.stdout, "last updated: %s\n", out.LastUpdated.Format(time.RFC3339))
	}
	return nil
}

func (c *cli) list(ctx context.Context, args []string) error {
	if len(args) > 1 {
		return errUsage
	}
	pattern := ""
	if len(args) == 1 {
		pattern = args[0]
	}
	keys, err := c.backend.List(ctx, pattern)
	if err != nil {
		return err
	}
	if c.json {
		if keys == nil {
			keys = []string{}
		}
		return c.encode(keys)
	}
	for _, k := range keys {
		fmt.Fprintln(c.stdout, k)
	}
	return nil
}

// show prints dated provider snapshots. Without --date it walks back from
// today up to LookbackDays for each provider; with --date it reads that day
// only. Without provider arguments every provider with a snapshot in range
// is shown.
func (c *cli) show(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	dateFlag := fs.String("date", "", "Read the snapshots of this day (YYYY-MM-DD)")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	m := cache.NewManager(c.backend, cache.Options{
		DefaultTTL: c.cfg.DefaultTTL,
		RecordTTL:  c.cfg.RecordTTL,
		Now:        c.now,
		Logger:     c.logger,
	})
	providers := fs.Args()

	var out []SnapshotOutput
	if *dateFlag != "" {
		day, err := time.Parse(time.DateOnly, *dateFlag)
		if err != nil {
			return fmt.Errorf("invalid --date %q: %w", *dateFlag, err)
		}
		if len(providers) == 0 {
			if providers, err = m.Providers(ctx, day); err != nil {
				return err
			}
		}
		all, err := m.GetAll(ctx, providers, day)
		if err != nil {
			return err
		}
		for _, p := range providers {
			if records, ok := all[p]; ok {
				out = append(out, SnapshotOutput{Provider: p, Day: *dateFlag, Records: records})
			}
		}
	} else {
		today := c.now().UTC()
		days := max(c.cfg.LookbackDays, 1)
		if len(providers) == 0 {
			var err error
			if providers, err = providersSince(ctx, m, today, days); err != nil {
				return err
			}
		}
		for _, p := range providers {
			records, day, ok, err := m.LatestRecords(ctx, p, today, days)
			if err != nil {
				return err
			}
			if ok {
				out = append(out, SnapshotOutput{Provider: p, Day: day.Format(time.DateOnly), Records: records})
			}
		}
	}

	if c.json {
		if out == nil {
			out = []SnapshotOutput{}
		}
		return c.encode(out)
	}
	if len(out) == 0 {
		fmt.Fprintln(c.stdout, "no snapshots found")
		return nil
	}
	for _, snap := range out {
		fmt.Fprintf(c.stdout, "%s (%s): %d records\n", snap.Provider, snap.Day, len(snap.Records))
		for _, r := range snap.Records {
			replacement := r.Replacement
			if replacement == "" {
				replacement = "-"
			}
			fmt.Fprintf(c.stdout, "  %s\tretires %s\treplacement %s\n",
				r.Model, r.RetirementDate.Format(time.DateOnly), replacement)
		}
	}
	return nil
}

// providersSince lists, sorted and unique, the providers with a live
// snapshot on today or one of the days-1 days before it.
func providersSince(ctx context.Context, m *cache.Manager, today time.Time, days int) ([]string, error) {
	seen := make(map[string]bool)
	var providers []string
	for i := 0; i < days; i++ {
		ps, err := m.Providers(ctx, today.AddDate(0, 0, -i))
		if err != nil {
			return nil, err
		}
		for _, p := range ps {
			if !seen[p] {
				seen[p] = true
				providers = append(providers, p)
			}
		}
	}
	sort.Strings(providers)
	return providers, nil
}

func (c *cli) purge(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("purge", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	grace := fs.Duration("grace", c.cfg.PurgeGrace, "Keep entries that expired less than this long ago")
	if err := fs.Parse(args); err != nil || fs.NArg() > 0 {
		return errUsage
	}
	if *grace < 0 {
		return fmt.Errorf("grace must not be negative")
	}

	n, err := c.backend.Purge(ctx, *grace)
	if err != nil {
		return err
	}
	c.logger.Info("cache purged", slog.Int("removed", n), slog.Duration("grace", *grace))
	if c.json {
		return c.encode(map[string]int{"removed": n})
	}
	fmt.Fprintf(c.stdout, "removed %d entries\n", n)
	return nil
}

func (c *cli) clear(ctx context.Context) error {
	if err := c.backend.Clear(ctx); err != nil {
		return err
	}
	c.logger.Info("cache cleared", slog.String("backend", string(c.kind)))
	if c.json {
		return c.encode(map[string]bool{"cleared": true})
	}
	fmt.Fprintln(c.stdout, "cache cleared")
	return nil
}

func (c *cli) encode(v any) error {
	encoder := json.NewEncoder(c.stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
