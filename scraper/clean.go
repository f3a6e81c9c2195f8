package scraper

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"newsradar/pkg/radar"
)

// CleanItems trims scraped fields and reduces HTML summaries to text, deriving topics from the cleaned text.
func CleanItems(items []radar.NewsItem) []radar.NewsItem {
	out := make([]radar.NewsItem, 0, len(items))
	for i := range items {
		it := &items[i]
		out = append(out, newItem(
			strings.TrimSpace(it.Title),
			strings.TrimSpace(it.Date),
			strings.TrimSpace(it.SourceURL),
			cleanSummary(it.Summary),
		))
	}
	return out
}

// cleanSummary reduces HTML fragments to their text. Plain text is only trimmed.
func cleanSummary(s string) string {
	s = strings.TrimSpace(s)
	if !strings.Contains(s, "<") || !strings.Contains(s, ">") {
		return s
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}
	doc.Find("script, style, noscript").Remove()
	return strings.Join(strings.Fields(doc.Text()), " ")
}
