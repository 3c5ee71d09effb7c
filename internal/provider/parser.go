package provider

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/deusflow/truthly/internal/models"
)

// DefaultConfidence is used when a reply carries no usable confidence.
const DefaultConfidence = 70

var (
	verdictRe    = regexp.MustCompile(`(?i)VERDICT\s*:\s*\[?\s*\**\s*(untrustworthy|trustworthy|unreliable|reliable|fake|real)`)
	confidenceRe = regexp.MustCompile(`(?i)CONFIDENCE\s*:\s*\[?\s*(\d{1,3}(?:\.\d+)?)`)
	summaryRe    = sectionRe("SUMMARY")
	reasoningRe  = sectionRe("REASONING")
)

// sectionRe captures the text after KEY: up to the next "| KEY:", a new
// "KEY:" line, or the end of the reply.
func sectionRe(key string) *regexp.Regexp {
	return regexp.MustCompile(`(?s)(?i:` + key + `)\s*:\s*(.+?)\s*(?:\|\s*[A-Z_]{3,}\s*:|\n\s*[A-Z_]{3,}\s*:|$)`)
}

// ParsedVerdict holds the fields read from a model reply.
type ParsedVerdict struct {
	Label         string
	Confidence    int
	HasConfidence bool
	Summary       string
	Reasoning     string
}

// ParseResult is either Parsed (non-nil) or Unparsed with the raw reply.
type ParseResult struct {
	Parsed  *ParsedVerdict
	RawText string
}

func (r ParseResult) OK() bool { return r.Parsed != nil }

// ParseVerdictText reads VERDICT/CONFIDENCE/SUMMARY/REASONING tokens from a
// free-text reply. Without a VERDICT token the result is Unparsed.
func ParseVerdictText(raw string) ParseResult {
	res := ParseResult{RawText: raw}

	m := verdictRe.FindStringSubmatch(raw)
	if m == nil {
		return res
	}
	label, ok := models.NormalizeLabel(m[1])
	if !ok {
		return res
	}

	p := &ParsedVerdict{Label: label}
	if cm := confidenceRe.FindStringSubmatch(raw); cm != nil {
		if f, err := strconv.ParseFloat(cm[1], 64); err == nil {
			p.Confidence = clampConfidence(f)
			p.HasConfidence = true
		}
	}
	if sm := summaryRe.FindStringSubmatch(raw); sm != nil {
		p.Summary = strings.TrimSpace(sm[1])
	}
	if rm := reasoningRe.FindStringSubmatch(raw); rm != nil {
		p.Reasoning = strings.TrimSpace(rm[1])
	}

	res.Parsed = p
	return res
}

// Verdict converts the result into a provider verdict. Unparsed replies fail
// open: Trustworthy at defaultConfidence with the raw reply as reasoning.
func (r ParseResult) Verdict(defaultConfidence int) *models.ProviderVerdict {
	if r.Parsed == nil {
		return &models.ProviderVerdict{
			Label:      models.LabelTrustworthy,
			Confidence: defaultConfidence,
			Reasoning:  "Unstructured model reply: " + truncate(strings.TrimSpace(r.RawText), 200),
		}
	}

	v := &models.ProviderVerdict{
		Label:      r.Parsed.Label,
		Confidence: defaultConfidence,
		Summary:    r.Parsed.Summary,
		Reasoning:  r.Parsed.Reasoning,
	}
	if r.Parsed.HasConfidence {
		v.Confidence = r.Parsed.Confidence
	}
	if v.Reasoning == "" {
		v.Reasoning = truncate(strings.TrimSpace(r.RawText), 200)
	}
	return v
}

// jsonVerdict is the reply shape requested from JSON-mode models.
type jsonVerdict struct {
	Label      string          `json:"label"`
	Confidence json.RawMessage `json:"confidence"`
	Summary    string          `json:"summary"`
	Reasoning  string          `json:"reasoning"`
}

// parseJSONVerdict decodes a JSON reply and falls back to the text parser.
func parseJSONVerdict(raw string) *models.ProviderVerdict {
	var jv jsonVerdict
	if err := json.Unmarshal([]byte(extractJSONObject(raw)), &jv); err == nil {
		if label, ok := models.NormalizeLabel(jv.Label); ok {
			v := &models.ProviderVerdict{
				Label:      label,
				Confidence: DefaultConfidence,
				Summary:    strings.TrimSpace(jv.Summary),
				Reasoning:  strings.TrimSpace(jv.Reasoning),
			}
			if c, ok := parseLooseNumber(jv.Confidence); ok {
				v.Confidence = clampConfidence(c)
			}
			return v
		}
	}
	return ParseVerdictText(raw).Verdict(DefaultConfidence)
}

// extractJSONObject trims code fences and prose around the first {...}.
func extractJSONObject(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return s
	}
	return s[start : end+1]
}

// parseLooseNumber accepts 85, 85.5, "85" or "85%".
func parseLooseNumber(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%"))
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}
