package scraper

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"newsradar/pkg/radar"
)

// UnknownSource is the source name kept when an item's URL does not parse.
const UnknownSource = "Unknown source"

// ErrMissingColumns is returned when the header has no title or url column.
var ErrMissingColumns = errors.New("CSV header must contain title and url columns")

// Header aliases matched case-insensitively by substring, first match wins.
var columnAliases = map[string][]string{
	"title":   {"title", "titulo", "título"},
	"date":    {"date", "fecha"},
	"url":     {"url", "enlace", "link"},
	"summary": {"summary", "description", "resumen", "descripcion", "descripción"},
}

type columns struct {
	title, date, url, summary int
}

func detectColumns(header []string) (columns, error) {
	cols := columns{title: -1, date: -1, url: -1, summary: -1}
	targets := []struct {
		idx  *int
		name string
	}{
		{&cols.title, "title"},
		{&cols.date, "date"},
		{&cols.url, "url"},
		{&cols.summary, "summary"},
	}
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		for _, t := range targets {
			if *t.idx < 0 && matchesAlias(h, columnAliases[t.name]) {
				*t.idx = i
				break
			}
		}
	}
	if cols.title < 0 || cols.url < 0 {
		return cols, fmt.Errorf("%w: got %v", ErrMissingColumns, header)
	}
	return cols, nil
}

func matchesAlias(h string, aliases []string) bool {
	for _, a := range aliases {
		if strings.Contains(h, a) {
			return true
		}
	}
	return false
}

func field(rec []string, i int) string {
	if i < 0 || i >= len(rec) {
		return ""
	}
	return rec[i]
}

// ParseCSV reads scraper output. Rows without a title or url are dropped; an empty input yields no items.
// Field values are kept verbatim; CleanItems normalizes raw scraper output.
func ParseCSV(r io.Reader) ([]radar.NewsItem, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols, err := detectColumns(header)
	if err != nil {
		return nil, err
	}

	var items []radar.NewsItem
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}

		title := field(rec, cols.title)
		link := field(rec, cols.url)
		if strings.TrimSpace(title) == "" || strings.TrimSpace(link) == "" {
			continue
		}
		items = append(items, newItem(title, field(rec, cols.date), link, field(rec, cols.summary)))
	}
	return items, nil
}

func newItem(title, date, link, summary string) radar.NewsItem {
	return radar.NewsItem{
		ID:         uuid.NewSHA1(uuid.NameSpaceURL, []byte(link)).String(),
		Title:      title,
		Summary:    summary,
		Date:       date,
		SourceURL:  link,
		SourceName: SourceName(strings.TrimSpace(link)),
		Topics:     InferTopics(title + " " + summary),
	}
}

// WriteCSV emits items with the header title,date,url,summary.
func WriteCSV(w io.Writer, items []radar.NewsItem) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"title", "date", "url", "summary"}); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i := range items {
		it := &items[i]
		if err := cw.Write([]string{it.Title, it.Date, it.SourceURL, it.Summary}); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// SourceName is the URL host without a leading "www.".
func SourceName(link string) string {
	u, err := url.Parse(link)
	if err != nil || u.Hostname() == "" {
		return UnknownSource
	}
	return strings.TrimPrefix(u.Hostname(), "www.")
}
