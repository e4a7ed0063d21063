package source

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"deprecations-feed/internal/domain/entity"
	"deprecations-feed/internal/utils/text"
)

// FeedSource reads deprecation notices from an RSS or Atom changelog.
type FeedSource struct {
	source  entity.Source
	fetcher Fetcher
}

// NewFeedSource creates a task for a feed source.
func NewFeedSource(s entity.Source, fetcher Fetcher) *FeedSource {
	return &FeedSource{source: s, fetcher: fetcher}
}

// Name implements collect.Task.
func (f *FeedSource) Name() string { return f.source.Name }

// Produce implements collect.Task.
func (f *FeedSource) Produce(ctx context.Context) ([]entity.RawRecord, error) {
	body, err := f.fetcher.Fetch(ctx, f.source.URL)
	if err != nil {
		return nil, err
	}
	return ParseFeed(f.source, body)
}

type feedPatterns struct {
	model, retirement, deprecation, replacement *regexp.Regexp
}

func compileFeedPatterns(p *entity.FeedPatterns) (feedPatterns, error) {
	var out feedPatterns
	for _, c := range []struct {
		dst  **regexp.Regexp
		expr string
	}{
		{&out.model, p.Model},
		{&out.retirement, p.RetirementDate},
		{&out.deprecation, p.DeprecationDate},
		{&out.replacement, p.Replacement},
	} {
		if c.expr == "" {
			continue
		}
		re, err := regexp.Compile(c.expr)
		if err != nil {
			return feedPatterns{}, err
		}
		*c.dst = re
	}
	return out, nil
}

// ParseFeed extracts raw records from a feed document. An entry yields one
// record per model its text mentions; entries that mention no model or no
// retirement date are skipped. Feeds list the newest entry first, so the
// first entry naming a model wins.
func ParseFeed(s entity.Source, body []byte) ([]entity.RawRecord, error) {
	if s.Feed == nil {
		return nil, fmt.Errorf("%s: feed source without patterns", s.Name)
	}
	patterns, err := compileFeedPatterns(s.Feed)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.Name, err)
	}

	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse %s feed: %w", s.Name, err)
	}
	if len(feed.Items) == 0 {
		return nil, fmt.Errorf("%s: feed has no entries", s.Name)
	}

	seen := make(map[string]bool)
	var out []entity.RawRecord
	for _, item := range feed.Items {
		content := entryText(item)

		retirement := firstGroup(patterns.retirement, content)
		if retirement == "" {
			continue
		}
		deprecation := firstGroup(patterns.deprecation, content)
		if deprecation == "" {
			deprecation = published(item)
		}
		link := strings.TrimSpace(item.Link)
		if link == "" {
			link = s.URL
		}

		for _, m := range patterns.model.FindAllStringSubmatch(content, -1) {
			model := strings.Trim(m[1], ".,;:`'\"")
			if model == "" || seen[model] {
				continue
			}
			seen[model] = true
			out = append(out, entity.RawRecord{
				Provider:        s.Provider,
				Model:           model,
				DeprecationDate: deprecation,
				RetirementDate:  retirement,
				SourceURL:       link,
				Replacement:     firstGroup(patterns.replacement, content),
				Notes:           text.Truncate(text.Squash(item.Title), 200),
			})
		}
	}

	slog.Debug("parsed source feed",
		slog.String("source", s.Name),
		slog.Int("entries", len(feed.Items)),
		slog.Int("records", len(out)))
	return out, nil
}

// entryText joins an entry's title and body with markup removed.
func entryText(item *gofeed.Item) string {
	parts := []string{item.Title, stripMarkup(item.Description), stripMarkup(item.Content)}
	return text.Squash(strings.Join(parts, " "))
}

func stripMarkup(fragment string) string {
	if fragment == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return fragment
	}
	return doc.Text()
}

func firstGroup(re *regexp.Regexp, s string) string {
	if re == nil {
		return ""
	}
	m := re.FindStringSubmatch(s)
	if len(m) < 2 {
		return ""
	}
	return strings.TrimSpace(m[1])
}

func published(item *gofeed.Item) string {
	switch {
	case item.PublishedParsed != nil:
		return item.PublishedParsed.UTC().Format(time.DateOnly)
	case item.UpdatedParsed != nil:
		return item.UpdatedParsed.UTC().Format(time.DateOnly)
	default:
		return ""
	}
}
