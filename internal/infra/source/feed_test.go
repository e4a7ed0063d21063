package source

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deprecations-feed/internal/domain/entity"
)

const changelogRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>Changelog</title>
  <link>https://docs.mistral.ai/changelog</link>
  <item>
    <title>Deprecating mistral-small-2312</title>
    <link>https://docs.mistral.ai/changelog#2024-12-02</link>
    <pubDate>Mon, 02 Dec 2024 10:00:00 GMT</pubDate>
    <description><![CDATA[<p>We are deprecating <code>mistral-small-2312</code>.
      It will be retired on 2025-03-30. Please use mistral-small-latest.</p>]]></description>
  </item>
  <item>
    <title>New model: codestral-2501</title>
    <link>https://docs.mistral.ai/changelog#2024-11-20</link>
    <pubDate>Wed, 20 Nov 2024 10:00:00 GMT</pubDate>
    <description>Codestral 25.01 is available.</description>
  </item>
  <item>
    <title>Deprecating open-mistral-7b</title>
    <pubDate>Fri, 01 Nov 2024 10:00:00 GMT</pubDate>
    <description>We are deprecating open-mistral-7b. A retirement date will follow.</description>
  </item>
  <item>
    <title>Deprecation notice</title>
    <pubDate>Tue, 01 Oct 2024 10:00:00 GMT</pubDate>
    <description>We are deprecating mistral-small-2312, retired on 2025-01-01.</description>
  </item>
</channel>
</rss>`

const changelogAtom = `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Release notes</title>
  <id>urn:example:release-notes</id>
  <updated>2025-01-15T00:00:00Z</updated>
  <entry>
    <title>Deprecating claude-instant-1.2</title>
    <id>urn:example:1</id>
    <updated>2025-01-15T00:00:00Z</updated>
    <summary>We are deprecating claude-instant-1.2; it will be retired on 2025-07-21.</summary>
  </entry>
</feed>`

func testFeedSource() entity.Source {
	return entity.Source{
		Name:     "mistral-changelog",
		Provider: "mistral",
		URL:      "https://docs.mistral.ai/changelog/rss.xml",
		Kind:     entity.SourceKindFeed,
		Feed: &entity.FeedPatterns{
			Model:          `(?i)deprecating (\S+)`,
			RetirementDate: `retired on (\d{4}-\d{2}-\d{2})`,
			Replacement:    `use ([a-z0-9.\-]*[a-z0-9])`,
		},
	}
}

func TestParseFeed(t *testing.T) {
	got, err := ParseFeed(testFeedSource(), []byte(changelogRSS))
	require.NoError(t, err)

	want := []entity.RawRecord{
		{
			Provider:        "mistral",
			Model:           "mistral-small-2312",
			DeprecationDate: "2024-12-02",
			RetirementDate:  "2025-03-30",
			SourceURL:       "https://docs.mistral.ai/changelog#2024-12-02",
			Replacement:     "mistral-small-latest",
			Notes:           "Deprecating mistral-small-2312",
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ParseFeed() mismatch (-want +got):\n%s", diff)
	}
}

func TestParseFeed_DeprecationPattern(t *testing.T) {
	s := testFeedSource()
	s.Feed.DeprecationDate = `deprecated on (\d{4}-\d{2}-\d{2})`

	body := `<rss version="2.0"><channel><title>c</title>
<item><title>Deprecating gpt-x</title>
<description>gpt-x was deprecated on 2024-05-01 and will be retired on 2024-11-01.</description></item>
</channel></rss>`

	got, err := ParseFeed(s, []byte(body))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "2024-05-01", got[0].DeprecationDate)
	assert.Equal(t, "2024-11-01", got[0].RetirementDate)
	assert.Equal(t, s.URL, got[0].SourceURL, "entries without a link fall back to the feed URL")
	assert.Empty(t, got[0].Replacement)
}

func TestFeedSource_Produce(t *testing.T) {
	s := testFeedSource()
	s.Provider = "anthropic"
	s.URL = "https://example.com/release-notes.atom"

	task := NewFeedSource(s, stubFetcher{s.URL: changelogAtom})
	assert.Equal(t, "mistral-changelog", task.Name())

	got, err := task.Produce(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "claude-instant-1.2", got[0].Model, "trailing punctuation is trimmed")
	assert.Equal(t, "2025-01-15", got[0].DeprecationDate)
	assert.Equal(t, "2025-07-21", got[0].RetirementDate)
}

func TestParseFeed_Errors(t *testing.T) {
	s := testFeedSource()

	_, err := ParseFeed(s, []byte("<html>not a feed</html>"))
	assert.Error(t, err)

	_, err = ParseFeed(s, []byte(`<rss version="2.0"><channel><title>empty</title></channel></rss>`))
	assert.ErrorContains(t, err, "no entries")

	s.Feed = nil
	_, err = ParseFeed(s, []byte(changelogRSS))
	assert.Error(t, err)
}
