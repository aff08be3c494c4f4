package topics

import (
	"sort"
	"strings"

	"github.com/YCLstock/finnews-bot/internal/langdetect"
)

// Mapper resolves raw user keywords into canonical topic codes using a
// loaded Vocabulary. It is stateless apart from the vocabulary and safe
// for concurrent use.
type Mapper struct {
	vocab *Vocabulary
}

// Result is the outcome of mapping one keyword set.
type Result struct {
	// Topics holds at most vocab.MaxTopics codes, strongest first.
	Topics []string
	// Scores carries the accumulated confidence per matched topic,
	// including topics truncated out of Topics.
	Scores map[string]float64
	// Matched maps each topic code to the keywords that contributed
	// to it.
	Matched map[string][]string
	// UsedFallback is true when no keyword matched any mapping and the
	// vocabulary's fallback topic was substituted.
	UsedFallback bool
}

// KeywordMatch describes how a single keyword resolved, for the explain
// and preview surfaces.
type KeywordMatch struct {
	Keyword    string  `json:"keyword"`
	Language   string  `json:"language"`
	TopicCode  string  `json:"topic_code,omitempty"`
	Method     string  `json:"match_method,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Matched    bool    `json:"matched"`
}

func NewMapper(vocab *Vocabulary) *Mapper {
	return &Mapper{vocab: vocab}
}

func (m *Mapper) Vocabulary() *Vocabulary {
	return m.vocab
}

// Map accumulates mapping confidence per topic across all keywords,
// orders topics by score (ties broken by topic priority) and truncates
// to the vocabulary's topic cap. The result is never empty: keyword
// sets that match nothing resolve to the fallback topic.
func (m *Mapper) Map(keywords []string) Result {
	result := Result{
		Scores:  make(map[string]float64),
		Matched: make(map[string][]string),
	}

	for _, raw := range keywords {
		keyword := normalizeKeyword(raw)
		if keyword == "" {
			continue
		}
		for _, mapping := range m.vocab.mappings {
			if !mappingMatches(mapping, keyword) {
				continue
			}
			result.Scores[mapping.TopicCode] += mapping.Confidence
			if !containsString(result.Matched[mapping.TopicCode], raw) {
				result.Matched[mapping.TopicCode] = append(result.Matched[mapping.TopicCode], raw)
			}
		}
	}

	if len(result.Scores) == 0 {
		result.Topics = []string{m.vocab.FallbackTopic}
		result.UsedFallback = true
		return result
	}

	codes := make([]string, 0, len(result.Scores))
	for code := range result.Scores {
		codes = append(codes, code)
	}
	sort.SliceStable(codes, func(i, j int) bool {
		si, sj := result.Scores[codes[i]], result.Scores[codes[j]]
		if si != sj {
			return si > sj
		}
		return m.topicPriority(codes[i]) < m.topicPriority(codes[j])
	})

	if len(codes) > m.vocab.MaxTopics {
		codes = codes[:m.vocab.MaxTopics]
	}
	result.Topics = codes
	return result
}

// MatchTopic resolves a single keyword to its strongest topic. Exact
// matches beat substring matches at equal confidence. Used by the
// rule-based clusterer to group keywords by theme.
func (m *Mapper) MatchTopic(keyword string) (string, float64, bool) {
	normalized := normalizeKeyword(keyword)
	if normalized == "" {
		return "", 0, false
	}

	var (
		bestCode string
		bestConf float64
		bestRank int
		found    bool
	)
	for _, mapping := range m.vocab.mappings {
		if !mappingMatches(mapping, normalized) {
			continue
		}
		rank := matchRank(mapping.MatchMethod)
		switch {
		case !found,
			mapping.Confidence > bestConf,
			mapping.Confidence == bestConf && rank > bestRank,
			mapping.Confidence == bestConf && rank == bestRank && m.topicPriority(mapping.TopicCode) < m.topicPriority(bestCode):
			bestCode = mapping.TopicCode
			bestConf = mapping.Confidence
			bestRank = rank
			found = true
		}
	}
	return bestCode, bestConf, found
}

// Explain reports, per keyword, the detected language and the mapping
// that won. Keywords that match nothing are reported with Matched false
// rather than dropped.
func (m *Mapper) Explain(keywords []string) []KeywordMatch {
	out := make([]KeywordMatch, 0, len(keywords))
	for _, raw := range keywords {
		match := KeywordMatch{
			Keyword:  raw,
			Language: langdetect.KeywordLanguage(raw),
		}
		if code, conf, ok := m.MatchTopic(raw); ok {
			match.TopicCode = code
			match.Confidence = conf
			match.Matched = true
			match.Method = m.matchMethodFor(code, normalizeKeyword(raw), conf)
		}
		out = append(out, match)
	}
	return out
}

func (m *Mapper) matchMethodFor(code, keyword string, confidence float64) string {
	for _, mapping := range m.vocab.mappings {
		if mapping.TopicCode != code || mapping.Confidence != confidence {
			continue
		}
		if mappingMatches(mapping, keyword) {
			return mapping.MatchMethod
		}
	}
	return ""
}

func (m *Mapper) topicPriority(code string) int {
	if topic, ok := m.vocab.byCode[code]; ok {
		return topic.Priority
	}
	return int(^uint(0) >> 1)
}

func mappingMatches(mapping Mapping, keyword string) bool {
	entry := strings.ToLower(mapping.Keyword)
	switch mapping.MatchMethod {
	case MatchMethodExact:
		return entry == keyword
	case MatchMethodSubstring:
		return strings.Contains(keyword, entry) || strings.Contains(entry, keyword)
	default:
		return false
	}
}

func matchRank(method string) int {
	if method == MatchMethodExact {
		return 2
	}
	return 1
}

func normalizeKeyword(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

func containsString(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}
