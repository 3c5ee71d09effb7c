package analyzer

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/deusflow/truthly/internal/models"
)

var (
	trustKeywords = []string{
		"official", "confirmed", "announced", "statement", "government", "ministry",
		"department", "agency", "authority", "commission", "reuters", "associated press",
		"pti", "ani", "according to", "sources said", "spokesperson", "press release",
		"verified", "investigation", "report", "study", "research", "data", "statistics",
		"published", "journal", "university",
	}

	suspicionKeywords = []string{
		"shocking", "unbelievable", "secret", "conspiracy", "exposed", "you won't believe",
		"leaked", "hidden truth", "they don't want", "breaking exclusive", "viral",
		"must watch", "click here", "miracle cure", "doctors hate", "instant",
		"guaranteed", "shocking revelation", "cover-up", "bombshell", "explosive",
	}

	clickbaitKeywords = []string{
		"you won't believe", "shocking", "incredible", "amazing", "this will blow your mind",
		"number", "list", "reasons why", "hate this trick", "doctors don't want", "secret that",
	}

	emotionalKeywords = []string{
		"outrageous", "incredible", "unbelievable", "shocking", "devastating",
	}

	qualityKeywords = []string{
		"research", "study", "data", "statistics", "expert", "professor", "university",
		"institute", "published", "journal", "peer-reviewed", "methodology", "findings",
		"analysis", "investigation",
	}

	// Official-government language that makes a trusted source's claim
	// more likely to be reported than invented.
	governmentPattern = regexp.MustCompile(`(?i)\b(government|ministry|minister|officials?|parliament|supreme court|high court|election commission|prime minister|president|cabinet|spokesperson)\b`)

	shortKeywordRe = map[string]*regexp.Regexp{}
)

func init() {
	for _, list := range [][]string{trustKeywords, suspicionKeywords, clickbaitKeywords, emotionalKeywords, qualityKeywords} {
		for _, k := range list {
			if len(k) <= 3 && !strings.Contains(k, " ") {
				shortKeywordRe[k] = regexp.MustCompile(`\b` + regexp.QuoteMeta(k) + `\b`)
			}
		}
	}
}

// countMatches counts how many keywords occur in text. Short tokens must
// match a whole word so "ani" does not match "animal".
func countMatches(text string, keywords []string) int {
	text = strings.ToLower(text)
	n := 0
	for _, k := range keywords {
		if re, ok := shortKeywordRe[k]; ok {
			if re.MatchString(text) {
				n++
			}
			continue
		}
		if strings.Contains(text, k) {
			n++
		}
	}
	return n
}

// MentionsGovernment reports whether text uses official-government language.
func MentionsGovernment(text string) bool {
	return governmentPattern.MatchString(text)
}

type contentSignals struct {
	trust, suspicion, clickbait, emotional, quality int
	words                                int
	avgSentenceLength                    float64
}

func readSignals(title, content string) contentSignals {
	full := title + " " + content

	sentences := 0
	for _, s := range strings.Split(content, ".") {
		if utf8.RuneCountInString(strings.TrimSpace(s)) > 10 {
			sentences++
		}
	}
	words := len(strings.Fields(content))

	return contentSignals{
		trust:             countMatches(full, trustKeywords),
		suspicion:         countMatches(full, suspicionKeywords),
		clickbait:         countMatches(full, clickbaitKeywords),
		emotional:         countMatches(full, emotionalKeywords),
		quality:           countMatches(full, qualityKeywords),
		words:             words,
		avgSentenceLength: float64(words) / float64(max(sentences, 1)),
	}
}

// SynthesizeSummary writes a short summary naming which content signals
// pushed the verdict one way or the other.
func SynthesizeSummary(title, content, label string, confidence int) string {
	sig := readSignals(title, content)

	var parts []string
	if label == models.LabelTrustworthy {
		switch {
		case confidence >= 85:
			parts = append(parts, "High confidence in content authenticity.")
		case confidence >= 70:
			parts = append(parts, "Good confidence in content reliability.")
		default:
			parts = append(parts, "Moderate confidence in content trustworthiness.")
		}

		var reasons []string
		switch {
		case sig.trust >= 3:
			reasons = append(reasons, "multiple authoritative source references")
		case sig.trust >= 1:
			reasons = append(reasons, "official source references")
		}
		switch {
		case sig.quality >= 2:
			reasons = append(reasons, "evidence-based reporting patterns")
		case sig.quality >= 1:
			reasons = append(reasons, "factual reporting indicators")
		}
		if sig.avgSentenceLength >= 15 && sig.avgSentenceLength <= 25 {
			reasons = append(reasons, "professional writing structure")
		}
		if sig.words >= 200 {
			reasons = append(reasons, "comprehensive coverage")
		}
		if sig.clickbait == 0 {
			reasons = append(reasons, "absence of sensationalist language")
		}
		if sig.suspicion == 0 {
			reasons = append(reasons, "no conspiracy-related terminology")
		}
		if sig.emotional == 0 {
			reasons = append(reasons, "measured tone")
		}

		if len(reasons) > 0 {
			parts = append(parts, fmt.Sprintf("Supporting factors: %s.", strings.Join(reasons, ", ")))
		} else {
			parts = append(parts, "Content follows standard journalistic patterns.")
		}
	} else {
		switch {
		case confidence >= 85:
			parts = append(parts, "High confidence this content is misleading.")
		case confidence >= 70:
			parts = append(parts, "Strong indicators of unreliable information.")
		default:
			parts = append(parts, "Multiple concerns about content authenticity.")
		}

		var concerns []string
		switch {
		case sig.suspicion >= 3:
			concerns = append(concerns, "extensive use of conspiracy language")
		case sig.suspicion >= 1:
			concerns = append(concerns, "suspicious terminology patterns")
		}
		switch {
		case sig.clickbait >= 3:
			concerns = append(concerns, "heavy clickbait characteristics")
		case sig.clickbait >= 1:
			concerns = append(concerns, "sensationalist language")
		}
		if sig.emotional >= 1 {
			concerns = append(concerns, "emotionally charged language")
		}
		if sig.trust == 0 {
			concerns = append(concerns, "lack of authoritative sources")
		}
		if sig.quality == 0 {
			concerns = append(concerns, "absence of evidence-based reporting")
		}
		if sig.avgSentenceLength > 30 || sig.avgSentenceLength < 10 {
			concerns = append(concerns, "unusual writing structure")
		}
		if sig.words < 100 {
			concerns = append(concerns, "insufficient detail for verification")
		}
		if len(concerns) == 0 {
			concerns = append(concerns, "overall content pattern analysis")
		}
		parts = append(parts, fmt.Sprintf("Key issues: %s.", strings.Join(concerns, ", ")))

		if sig.suspicion >= 2 {
			parts = append(parts, "Contains multiple conspiracy-theory indicators.")
		}
		if sig.clickbait >= 2 {
			parts = append(parts, "Uses manipulative headline techniques.")
		}
	}

	summary := strings.Join(parts, " ")
	if utf8.RuneCountInString(summary) > 300 {
		summary = string([]rune(summary)[:297]) + "..."
	}
	return summary
}

// pickSummary keeps a provider summary when it says something substantive.
func pickSummary(providerSummary, title, content, label string, confidence int) string {
	if s := strings.TrimSpace(providerSummary); utf8.RuneCountInString(s) > 50 {
		return s
	}
	return SynthesizeSummary(title, content, label, confidence)
}
