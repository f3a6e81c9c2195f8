package email

import (
	"fmt"
	"strings"
	"time"

	"newsradar/pkg/radar"
)

const baseStyle = "body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, Arial, sans-serif; line-height: 1.6; color: #333; margin: 0; padding: 20px; }\n" +
	".container { max-width: 600px; margin: 0 auto; background: #f9f9f9; border-radius: 8px; overflow: hidden; }\n" +
	".header { background: #2563eb; color: white; padding: 20px; text-align: center; }\n" +
	".header.muted { background: #6b7280; }\n" +
	".content { background: white; padding: 20px; }\n" +
	".footer { background: #f3f4f6; padding: 15px; text-align: center; font-size: 12px; color: #6b7280; }\n"

const digestStyle = ".news-item { margin-bottom: 20px; padding: 15px; border-left: 4px solid #2563eb; background: #f8fafc; border-radius: 4px; }\n" +
	".news-title { font-size: 18px; font-weight: bold; margin-bottom: 8px; color: #1e40af; }\n" +
	".news-summary { margin-bottom: 10px; color: #4b5563; }\n" +
	".news-source { font-size: 12px; color: #6b7280; }\n" +
	".link { color: #2563eb; text-decoration: none; }\n" +
	"@media (prefers-color-scheme: dark) {\n" +
	".content { background: #1a1a1a; color: #e0e0e0; }\n" +
	".news-item { background: #2a2a2a; }\n" +
	".news-title { color: #93c5fd; }\n" +
	".news-summary { color: #d1d5db; }\n" +
	"}\n"

func writeHead(b *strings.Builder, title, extraStyle string) {
	b.WriteString("<!DOCTYPE html>\n<html lang=\"en\">\n<head>\n")
	b.WriteString("<meta charset=\"utf-8\">\n")
	b.WriteString("<meta name=\"viewport\" content=\"width=device-width, initial-scale=1\">\n")
	b.WriteString(fmt.Sprintf("<title>%s</title>\n", escapeHTML(title)))
	b.WriteString("<style>\n")
	b.WriteString(baseStyle)
	b.WriteString(extraStyle)
	b.WriteString("</style>\n</head>\n<body>\n<div class=\"container\">\n")
}

func writeFooter(b *strings.Builder, lines ...string) {
	b.WriteString("<div class=\"footer\">\n")
	b.WriteString("<p>This email was sent automatically by News Radar</p>\n")
	for _, l := range lines {
		b.WriteString(fmt.Sprintf("<p>%s</p>\n", escapeHTML(l)))
	}
	b.WriteString("</div>\n</div>\n</body>\n</html>")
}

func formatDigestBody(d *radar.Digest) string {
	var b strings.Builder
	writeHead(&b, "Monitored News - News Radar", digestStyle)

	b.WriteString("<div class=\"header\">\n")
	b.WriteString("<h1>&#128240; Monitored News</h1>\n")
	b.WriteString(fmt.Sprintf("<p>%s</p>\n", escapeHTML(longDate(d.Date))))
	b.WriteString("</div>\n")

	b.WriteString("<div class=\"content\">\n")
	b.WriteString("<p>News found with your monitoring settings:</p>\n")
	for i, item := range d.Items {
		b.WriteString("<div class=\"news-item\">\n")
		b.WriteString(fmt.Sprintf("<div class=\"news-title\">%d. %s</div>\n", i+1, escapeHTML(item.Title)))

		summary := item.Summary
		if strings.TrimSpace(summary) == "" {
			summary = "No summary available"
		}
		b.WriteString(fmt.Sprintf("<div class=\"news-summary\">%s</div>\n", escapeHTML(summary)))

		source := item.SourceName
		if source == "" {
			source = "Unknown"
		}
		date := item.Date
		if date == "" {
			date = "No date"
		}
		b.WriteString("<div class=\"news-source\">\n")
		b.WriteString(fmt.Sprintf("Source: %s | %s", escapeHTML(source), escapeHTML(date)))
		if hasLink(item.SourceURL) && isSafeURL(item.SourceURL) {
			b.WriteString(fmt.Sprintf(" | <a href=\"%s\" class=\"link\">Read more</a>", escapeHTML(item.SourceURL)))
		}
		b.WriteString("\n</div>\n")
		b.WriteString("</div>\n")
	}
	b.WriteString("</div>\n")

	writeFooter(&b, fmt.Sprintf("Total news: %d", d.Total))
	return b.String()
}

func formatNoNewsBody(date time.Time) string {
	var b strings.Builder
	writeHead(&b, "No new news - News Radar", "")

	b.WriteString("<div class=\"header muted\">\n")
	b.WriteString("<h1>&#128240; News Radar</h1>\n")
	b.WriteString(fmt.Sprintf("<p>%s</p>\n", escapeHTML(longDate(date))))
	b.WriteString("</div>\n")

	b.WriteString("<div class=\"content\" style=\"text-align: center;\">\n")
	b.WriteString("<h2>No new news</h2>\n")
	b.WriteString("<p>No new news was found with your configured monitoring settings.</p>\n")
	b.WriteString("<p>We will keep monitoring your configured sources and keywords.</p>\n")
	b.WriteString("</div>\n")

	writeFooter(&b)
	return b.String()
}

func formatTestBody(cfg *radar.EmailConfig, now time.Time) string {
	var b strings.Builder
	writeHead(&b, "Email configuration test - News Radar", "")

	b.WriteString("<div class=\"header\">\n<h1>Configuration test</h1>\n</div>\n")
	b.WriteString("<div class=\"content\">\n")
	b.WriteString("<p>Your SMTP settings are working. News Radar digests will be sent from this account.</p>\n")
	b.WriteString("<ul>\n")
	b.WriteString(fmt.Sprintf("<li>Server: %s:%d</li>\n", escapeHTML(cfg.Host), smtpPort(cfg)))
	b.WriteString(fmt.Sprintf("<li>User: %s</li>\n", escapeHTML(cfg.Username)))
	b.WriteString(fmt.Sprintf("<li>Sent: %s</li>\n", escapeHTML(now.Format("Jan 2, 2006 at 3:04 PM MST"))))
	b.WriteString("</ul>\n</div>\n")

	writeFooter(&b)
	return b.String()
}

func longDate(t time.Time) string {
	return t.Format("Monday, January 2, 2006")
}

// hasLink filters the placeholder URLs the scraper emits when it has no link.
func hasLink(u string) bool {
	u = strings.TrimSpace(u)
	return u != "" && u != "#" && u != "N/A"
}

func escapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	s = strings.ReplaceAll(s, "'", "&#39;")
	return s
}

// isSafeURL only allows absolute http(s) links in emails.
func isSafeURL(urlStr string) bool {
	urlStr = strings.TrimSpace(strings.ToLower(urlStr))
	return strings.HasPrefix(urlStr, "http://") || strings.HasPrefix(urlStr, "https://")
}
