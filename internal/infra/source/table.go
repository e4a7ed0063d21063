package source

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"deprecations-feed/internal/domain/entity"
	"deprecations-feed/internal/utils/text"
)

// TableSource scrapes one record per table row of a provider page.
type TableSource struct {
	source  entity.Source
	fetcher Fetcher
}

// NewTableSource creates a task for a table source.
func NewTableSource(s entity.Source, fetcher Fetcher) *TableSource {
	return &TableSource{source: s, fetcher: fetcher}
}

// Name implements collect.Task.
func (t *TableSource) Name() string { return t.source.Name }

// Produce implements collect.Task. Rows without a model cell, such as
// header rows, are skipped. A page on which no row yields a model is an
// error: the layout has most likely changed.
func (t *TableSource) Produce(ctx context.Context) ([]entity.RawRecord, error) {
	body, err := t.fetcher.Fetch(ctx, t.source.URL)
	if err != nil {
		return nil, err
	}
	return ParseTable(t.source, body)
}

// ParseTable extracts raw records from an HTML page with the source's selectors.
func ParseTable(s entity.Source, body []byte) ([]entity.RawRecord, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse %s page: %w", s.Name, err)
	}
	base, _ := url.Parse(s.URL)
	sel := s.Selectors

	var out []entity.RawRecord
	rows := doc.Find(sel.Row)
	rows.Each(func(_ int, row *goquery.Selection) {
		model := cell(row, sel.Model)
		if model == "" {
			return
		}
		out = append(out, entity.RawRecord{
			Provider:        s.Provider,
			Model:           model,
			DeprecationDate: cell(row, sel.DeprecationDate),
			RetirementDate:  cell(row, sel.RetirementDate),
			SourceURL:       link(row, sel.Link, base, s.URL),
			Replacement:     cell(row, sel.Replacement),
			Notes:           cell(row, sel.Notes),
		})
	})

	if len(out) == 0 {
		return nil, fmt.Errorf("%s: no rows matched %q (%d candidates)", s.Name, sel.Row, rows.Length())
	}
	slog.Debug("parsed source table",
		slog.String("source", s.Name),
		slog.Int("rows", rows.Length()),
		slog.Int("records", len(out)))
	return out, nil
}

func cell(row *goquery.Selection, selector string) string {
	if selector == "" {
		return ""
	}
	v := text.Squash(row.Find(selector).First().Text())
	if v == "-" || strings.EqualFold(v, "n/a") {
		return ""
	}
	return v
}

// link resolves the href of the first element matching selector against the
// page URL, falling back to the page itself.
func link(row *goquery.Selection, selector string, base *url.URL, fallback string) string {
	if selector == "" || base == nil {
		return fallback
	}
	href, ok := row.Find(selector).First().Attr("href")
	if !ok || strings.TrimSpace(href) == "" {
		return fallback
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return fallback
	}
	return base.ResolveReference(ref).String()
}
