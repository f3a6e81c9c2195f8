package scraper

import "regexp"

// TopicGeneral is assigned when no rule matches.
const TopicGeneral = "General"

var topicRules = []struct {
	re    *regexp.Regexp
	topic string
}{
	{regexp.MustCompile(`(?i)econom[íi]a|economy|inflaci[óo]n|inflation|d[óo]lar|dollar|finanzas|finance|presupuesto|budget|fiscal`), "Economy"},
	{regexp.MustCompile(`(?i)pol[íi]tica|politic|gobierno|government|presidente|president|ministro|minister|diputado|senador|senator|candidato|candidate|elecci[óo]n|election`), "Politics"},
	{regexp.MustCompile(`(?i)senado|senate|legislatura|legislature|parlamento|parliament|c[áa]mara|congreso|congress`), "Legislature"},
	{regexp.MustCompile(`(?i)kicillof|axel|gobernador|governor`), "Provincial Government"},
	{regexp.MustCompile(`(?i)magario|ver[óo]nica|vicegobernadora`), "Provincial Government"},
	{regexp.MustCompile(`(?i)educaci[óo]n|education|escuela|school|universidad|university|docente|teacher|estudiante|student`), "Education"},
	{regexp.MustCompile(`(?i)salud|health|hospital|m[ée]dico|doctor|enfermedad|disease|pandemia|pandemic|covid`), "Health"},
}

// InferTopics tags text using ordered keyword rules. The result is never empty and has no duplicates.
func InferTopics(text string) []string {
	var topics []string
	seen := make(map[string]bool)
	for _, r := range topicRules {
		if seen[r.topic] || !r.re.MatchString(text) {
			continue
		}
		seen[r.topic] = true
		topics = append(topics, r.topic)
	}
	if len(topics) == 0 {
		return []string{TopicGeneral}
	}
	return topics
}
