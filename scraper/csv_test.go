package scraper

import (
	"bytes"
	"errors"
	"reflect"
	"strings"
	"testing"

	"newsradar/pkg/radar"
)

func TestParseCSVEnglishHeader(t *testing.T) {
	input := "title,date,url,description\n" +
		`"Budget, approved",2024-01-01,https://www.example.com/a,"The senate said ""yes"""` + "\n" +
		"No url,2024-01-01,,summary\n" +
		",2024-01-01,https://example.com/b,missing title\n" +
		"Plain,,https://news.example.org/c,\n"

	items, err := ParseCSV(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ParseCSV() error = %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d: %+v", len(items), items)
	}

	first := items[0]
	if first.Title != "Budget, approved" || first.Summary != `The senate said "yes"` {
		t.Errorf("quoting not preserved: %+v", first)
	}
	if first.SourceName != "example.com" {
		t.Errorf("SourceName = %q, want example.com", first.SourceName)
	}
	if first.ID == "" || first.ID == items[1].ID {
		t.Errorf("expected distinct non-empty IDs, got %q and %q", first.ID, items[1].ID)
	}
	if items[1].SourceName != "news.example.org" {
		t.Errorf("SourceName = %q", items[1].SourceName)
	}
}

func TestParseCSVLocalizedHeader(t *testing.T) {
	input := "\ufeffTitulo,Fecha,URL,Resumen\n" +
		"Kicillof anunció medidas,2024-05-18,https://www.clarin.com/x,<p>El <b>gobernador</b> habló</p>\n"

	items, err := ParseCSV(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ParseCSV() error = %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}
	it := items[0]
	if it.Date != "2024-05-18" || it.SourceURL != "https://www.clarin.com/x" {
		t.Errorf("unexpected item: %+v", it)
	}
	if it.Summary != "<p>El <b>gobernador</b> habló</p>" {
		t.Errorf("Summary = %q, want the raw field", it.Summary)
	}
}

func TestCleanItems(t *testing.T) {
	raw := []radar.NewsItem{
		{Title: "  Kicillof anunció medidas ", Date: " 2024-05-18", SourceURL: " https://www.clarin.com/x ", Summary: "<p>El <b>gobernador</b> habló</p><script>x()</script>"},
		{Title: "Plain", SourceURL: "https://example.com/p", Summary: "  3 < 4 is true  "},
	}
	items := CleanItems(raw)
	if len(items) != 2 {
		t.Fatalf("got %d items", len(items))
	}
	it := items[0]
	if it.Title != "Kicillof anunció medidas" || it.Date != "2024-05-18" || it.SourceURL != "https://www.clarin.com/x" {
		t.Errorf("fields not trimmed: %+v", it)
	}
	if it.Summary != "El gobernador habló" {
		t.Errorf("Summary = %q, want HTML reduced to text", it.Summary)
	}
	if it.SourceName != "clarin.com" {
		t.Errorf("SourceName = %q", it.SourceName)
	}
	if !reflect.DeepEqual(it.Topics, []string{"Provincial Government"}) {
		t.Errorf("Topics = %v", it.Topics)
	}
	if items[1].Summary != "3 < 4 is true" {
		t.Errorf("plain summary = %q", items[1].Summary)
	}
	if raw[0].Title != "  Kicillof anunció medidas " {
		t.Error("input slice must not be modified")
	}
}

func TestParseCSVErrors(t *testing.T) {
	if _, err := ParseCSV(strings.NewReader("news title,link\nx,y\n")); err != nil {
		t.Errorf("link alias should satisfy the url column, got %v", err)
	}
	_, err := ParseCSV(strings.NewReader("name,when\nx,y\n"))
	if !errors.Is(err, ErrMissingColumns) {
		t.Errorf("expected ErrMissingColumns, got %v", err)
	}
	items, err := ParseCSV(strings.NewReader(""))
	if err != nil || len(items) != 0 {
		t.Errorf("empty input: items=%v err=%v", items, err)
	}
}

func TestCSVRoundTrip(t *testing.T) {
	in := []radar.NewsItem{
		{Title: `Quote "inside", comma`, Date: "2024-01-01", SourceURL: "https://example.com/1", Summary: "line one\nline two"},
		{Title: "Ünïcode", Date: "", SourceURL: "https://example.com/2", Summary: ""},
		{Title: "Senate", Date: "2024-01-02", SourceURL: "https://example.com/3", Summary: `Senate votes 3<b>2, "final"`},
		{Title: "  padded title ", Date: " 2024-01-03 ", SourceURL: "https://example.com/4", Summary: " <p>kept</p> "},
	}
	var buf bytes.Buffer
	if err := WriteCSV(&buf, in); err != nil {
		t.Fatalf("WriteCSV() error = %v", err)
	}
	if !strings.HasPrefix(buf.String(), "title,date,url,summary\n") {
		t.Errorf("unexpected header: %q", buf.String())
	}

	out, err := ParseCSV(&buf)
	if err != nil {
		t.Fatalf("ParseCSV() error = %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("got %d items, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i].Title != in[i].Title || out[i].Date != in[i].Date || out[i].SourceURL != in[i].SourceURL || out[i].Summary != in[i].Summary {
			t.Errorf("item %d changed: got %+v, want %+v", i, out[i], in[i])
		}
	}
}

func TestSourceName(t *testing.T) {
	tests := map[string]string{
		"https://www.lanacion.com.ar/politica/x": "lanacion.com.ar",
		"http://example.com:8080/a":              "example.com",
		"not a url":                              UnknownSource,
		"#":                                      UnknownSource,
	}
	for in, want := range tests {
		if got := SourceName(in); got != want {
			t.Errorf("SourceName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestInferTopics(t *testing.T) {
	tests := []struct {
		text string
		want []string
	}{
		{"El Senado aprobó el presupuesto", []string{"Economy", "Legislature"}},
		{"Kicillof y Magario con el gobernador", []string{"Provincial Government"}},
		{"Nuevo hospital y escuela", []string{"Education", "Health"}},
		{"Inflation hits the dollar as the president speaks", []string{"Economy", "Politics"}},
		{"Partido de fútbol", []string{"General"}},
		{"", []string{"General"}},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			if got := InferTopics(tt.text); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("InferTopics(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}
