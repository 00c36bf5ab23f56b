package sessionaudit

import (
	"regexp"
	"strconv"
	"strings"
)

// MentionClass names the domain dimension a mention refers to.
type MentionClass string

const (
	MentionRest    MentionClass = "rest_seconds"
	MentionRIR     MentionClass = "rir"
	MentionTempo   MentionClass = "tempo"
	MentionSetType MentionClass = "set_type"
)

// Span is the exact character range of a mention within the free text.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Mention is one structured value extracted from free text, with exact
// character-span provenance.
type Mention struct {
	Class MentionClass `json:"class"`
	Field string       `json:"field"`
	Value any          `json:"value"`
	Quote string       `json:"quote"`
	Span  Span         `json:"span"`
}

var (
	restPattern = regexp.MustCompile(`(?i)\brest(?:ed)?\s*(?:for\s*)?(\d+(?:\.\d+)?)\s*(seconds|second|secs|sec|s|minutes|minute|mins|min|m)\b`)
	// "90 sec rest" / "2 min rest"
	restTrailingPattern = regexp.MustCompile(`(?i)\b(\d+(?:\.\d+)?)\s*(seconds|second|secs|sec|s|minutes|minute|mins|min|m)\s+(?:of\s+)?rest\b`)

	rirPattern        = regexp.MustCompile(`(?i)\b(\d+)\s*(?:rir|reps?\s+in\s+reserve)\b`)
	rirPrefixPattern  = regexp.MustCompile(`(?i)\brir\s*[:=]?\s*(\d+)\b`)
	tempoPattern      = regexp.MustCompile(`(?i)\btempo\s*[:=]?\s*(\d(?:[\s-]?\d){2,3})\b`)
	tempoPlainPattern = regexp.MustCompile(`\b(\d-\d-\d(?:-\d)?)\s+tempo\b`)
)

// setTypePhrases maps free-text phrases to canonical set types.
// Longer phrases are matched first so "drop set" wins over "set".
var setTypePhrases = []struct {
	phrase  string
	setType string
}{
	{"drop set", "drop_set"},
	{"dropset", "drop_set"},
	{"back-off set", "backoff"},
	{"backoff set", "backoff"},
	{"warm-up", "warmup"},
	{"warmup", "warmup"},
	{"warm up set", "warmup"},
	{"to failure", "failure"},
	{"amrap", "amrap"},
	{"top set", "top_set"},
}

// ExtractMentions scans free text for domain mentions. Every mention
// carries the exact span it was extracted from; downstream repair events
// cite that provenance.
func ExtractMentions(text string) []Mention {
	if text == "" {
		return nil
	}
	var mentions []Mention
	mentions = append(mentions, extractRest(text)...)
	mentions = append(mentions, extractRIR(text)...)
	mentions = append(mentions, extractTempo(text)...)
	mentions = append(mentions, extractSetType(text)...)
	return mentions
}

func extractRest(text string) []Mention {
	var out []Mention
	seen := make(map[int]bool)
	for _, re := range []*regexp.Regexp{restPattern, restTrailingPattern} {
		for _, m := range re.FindAllStringSubmatchIndex(text, -1) {
			if seen[m[0]] {
				continue
			}
			seen[m[0]] = true
			value := text[m[2]:m[3]]
			unit := strings.ToLower(text[m[4]:m[5]])
			n, err := strconv.ParseFloat(value, 64)
			if err != nil {
				continue
			}
			if strings.HasPrefix(unit, "m") {
				n *= 60
			}
			out = append(out, Mention{
				Class: MentionRest,
				Field: "rest_seconds",
				Value: int(n),
				Quote: text[m[0]:m[1]],
				Span:  Span{Start: m[0], End: m[1]},
			})
		}
	}
	return out
}

func extractRIR(text string) []Mention {
	var out []Mention
	seen := make(map[int]bool)
	for _, re := range []*regexp.Regexp{rirPattern, rirPrefixPattern} {
		for _, m := range re.FindAllStringSubmatchIndex(text, -1) {
			if seen[m[0]] {
				continue
			}
			seen[m[0]] = true
			n, err := strconv.Atoi(text[m[2]:m[3]])
			if err != nil {
				continue
			}
			out = append(out, Mention{
				Class: MentionRIR,
				Field: "rir",
				Value: n,
				Quote: text[m[0]:m[1]],
				Span:  Span{Start: m[0], End: m[1]},
			})
		}
	}
	return out
}

func extractTempo(text string) []Mention {
	var out []Mention
	seen := make(map[int]bool)
	for _, re := range []*regexp.Regexp{tempoPattern, tempoPlainPattern} {
		for _, m := range re.FindAllStringSubmatchIndex(text, -1) {
			if seen[m[0]] {
				continue
			}
			seen[m[0]] = true
			raw := text[m[2]:m[3]]
			normalized := strings.Map(func(r rune) rune {
				if r >= '0' && r <= '9' {
					return r
				}
				return -1
			}, raw)
			out = append(out, Mention{
				Class: MentionTempo,
				Field: "tempo",
				Value: normalized,
				Quote: text[m[0]:m[1]],
				Span:  Span{Start: m[0], End: m[1]},
			})
		}
	}
	return out
}

func extractSetType(text string) []Mention {
	lower := strings.ToLower(text)
	var out []Mention
	claimed := make([]bool, len(text))
	for _, p := range setTypePhrases {
		idx := 0
		for {
			pos := strings.Index(lower[idx:], p.phrase)
			if pos < 0 {
				break
			}
			start := idx + pos
			end := start + len(p.phrase)
			idx = end
			if claimed[start] {
				continue
			}
			for i := start; i < end; i++ {
				claimed[i] = true
			}
			out = append(out, Mention{
				Class: MentionSetType,
				Field: "set_type",
				Value: p.setType,
				Quote: text[start:end],
				Span:  Span{Start: start, End: end},
			})
		}
	}
	return out
}

// exhaustionPhrases signal the narrative describes near-maximal effort.
var exhaustionPhrases = []string{
	"exhausted", "totally spent", "completely spent", "wiped out",
	"gassed", "nothing left", "drained", "dead after",
}

// impliesExhaustion reports whether the narrative reads as near-maximal
// effort. Used to flag contradictions against a low structured rating.
func impliesExhaustion(text string) bool {
	lower := strings.ToLower(text)
	for _, p := range exhaustionPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
