package analysis

import (
	"sort"
	"strings"
	"unicode"
)

const fallbackSummaryRunes = 300

var topicKeywords = map[string][]string{
	"business":      {"company", "market", "revenue", "profit", "startup", "customer", "sales", "industry"},
	"economy":       {"inflation", "price", "prices", "economy", "gdp", "interest rate", "unemployment", "tariff"},
	"education":     {"school", "student", "university", "teacher", "course", "learning", "curriculum"},
	"entertainment": {"movie", "film", "music", "album", "concert", "celebrity", "television", "streaming"},
	"environment":   {"climate", "emission", "carbon", "pollution", "renewable", "wildlife", "sustainability"},
	"finance":       {"stock", "bank", "investment", "investor", "bond", "crypto", "loan", "dividend"},
	"health":        {"health", "medical", "disease", "patient", "hospital", "vaccine", "doctor", "nutrition"},
	"politics":      {"election", "government", "senate", "policy", "minister", "parliament", "vote", "law"},
	"science":       {"research", "study", "scientist", "experiment", "physics", "biology", "space", "laboratory"},
	"sports":        {"match", "team", "league", "player", "tournament", "coach", "championship", "score"},
	"technology":    {"software", "technology", "computer", "internet", "app", "data", "ai", "device"},
}

// KeywordTags returns the topics whose keywords occur in text, most frequent first.
func KeywordTags(text string) []string {
	lower := " " + normalizeWords(text) + " "
	type hit struct {
		topic string
		count int
	}
	hits := make([]hit, 0, len(topicKeywords))
	for topic, words := range topicKeywords {
		count := 0
		for _, w := range words {
			count += strings.Count(lower, " "+w+" ")
		}
		if count > 0 {
			hits = append(hits, hit{topic: topic, count: count})
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].count != hits[j].count {
			return hits[i].count > hits[j].count
		}
		return hits[i].topic < hits[j].topic
	})
	tags := make([]string, 0, len(hits))
	for _, h := range hits {
		tags = append(tags, h.topic)
	}
	return tags
}

// Fallback classifies text by keywords and summarizes it with its opening sentences.
func Fallback(text string) Result {
	tags := KeywordTags(text)
	category := "general"
	if len(tags) > 0 {
		category = tags[0]
	}
	return Result{
		Summary:  leadSummary(text),
		Tags:     tags,
		Category: category,
		Source:   SourceFallback,
	}
}

func leadSummary(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= fallbackSummaryRunes {
		return text
	}
	cut := string(runes[:fallbackSummaryRunes])
	if i := strings.LastIndexAny(cut, ".!?"); i > fallbackSummaryRunes/2 {
		return cut[:i+1]
	}
	if i := strings.LastIndex(cut, " "); i > 0 {
		cut = cut[:i]
	}
	return cut + "..."
}

func normalizeWords(text string) string {
	return strings.Join(strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}), " ")
}
