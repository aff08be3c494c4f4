package scoring

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/YCLstock/finnews-bot/internal/db"
)

const (
	DefaultTagWeight     = 0.7
	DefaultKeywordWeight = 0.3

	weightSumEpsilon = 1e-9
)

// Profile carries the subscription fields relevance is computed
// against.
type Profile struct {
	SubscribedTags []string
	Keywords       []string
}

// ScoredArticle is one candidate with its component and final scores.
type ScoredArticle struct {
	Article      db.NewsArticle
	TagScore     float64
	KeywordScore float64
	FinalScore   float64
}

// Scorer blends canonical-tag overlap with raw keyword text matching.
// Tag overlap dominates: tags are the noise-filtered signal, keyword
// hits rescue articles on themes the vocabulary does not know yet.
type Scorer struct {
	tagWeight     float64
	keywordWeight float64
}

func NewScorer(tagWeight, keywordWeight float64) (*Scorer, error) {
	if tagWeight < 0 || keywordWeight < 0 {
		return nil, fmt.Errorf("scoring weights must be non-negative: tag=%v keyword=%v", tagWeight, keywordWeight)
	}
	if math.Abs(tagWeight+keywordWeight-1) > weightSumEpsilon {
		return nil, fmt.Errorf("scoring weights must sum to 1, got %v", tagWeight+keywordWeight)
	}
	return &Scorer{tagWeight: tagWeight, keywordWeight: keywordWeight}, nil
}

func DefaultScorer() *Scorer {
	return &Scorer{tagWeight: DefaultTagWeight, keywordWeight: DefaultKeywordWeight}
}

// TagScore is the fraction of the subscribed tags the article carries.
// An empty subscription scores zero rather than dividing by zero.
func (s *Scorer) TagScore(articleTags, subscribedTags []string) float64 {
	if len(subscribedTags) == 0 {
		return 0
	}
	have := make(map[string]struct{}, len(articleTags))
	for _, tag := range articleTags {
		have[normalizeTag(tag)] = struct{}{}
	}
	matched := 0
	seen := make(map[string]struct{}, len(subscribedTags))
	for _, tag := range subscribedTags {
		normalized := normalizeTag(tag)
		if _, dup := seen[normalized]; dup {
			continue
		}
		seen[normalized] = struct{}{}
		if _, ok := have[normalized]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(seen))
}

// KeywordScore is the fraction of the user's keywords found in the
// article's title or summary, case-insensitively.
func (s *Scorer) KeywordScore(title, summary string, keywords []string) float64 {
	if len(keywords) == 0 {
		return 0
	}
	haystack := strings.ToLower(title + "\n" + summary)
	matched := 0
	counted := 0
	seen := make(map[string]struct{}, len(keywords))
	for _, raw := range keywords {
		keyword := strings.ToLower(strings.TrimSpace(raw))
		if keyword == "" {
			continue
		}
		if _, dup := seen[keyword]; dup {
			continue
		}
		seen[keyword] = struct{}{}
		counted++
		if strings.Contains(haystack, keyword) {
			matched++
		}
	}
	if counted == 0 {
		return 0
	}
	return float64(matched) / float64(counted)
}

// Score computes both components and their weighted blend for one
// article.
func (s *Scorer) Score(article db.NewsArticle, profile Profile) ScoredArticle {
	tagScore := s.TagScore(article.TagList(), profile.SubscribedTags)
	keywordScore := s.KeywordScore(article.Title, article.Summary, profile.Keywords)
	return ScoredArticle{
		Article:      article,
		TagScore:     round4(tagScore),
		KeywordScore: round4(keywordScore),
		FinalScore:   round4(s.tagWeight*tagScore + s.keywordWeight*keywordScore),
	}
}

// Rank scores every candidate and orders them best first. Ties on the
// final score go to the fresher article.
func (s *Scorer) Rank(articles []db.NewsArticle, profile Profile) []ScoredArticle {
	scored := make([]ScoredArticle, 0, len(articles))
	for _, article := range articles {
		scored = append(scored, s.Score(article, profile))
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].FinalScore != scored[j].FinalScore {
			return scored[i].FinalScore > scored[j].FinalScore
		}
		return scored[i].Article.PublishedAt.After(scored[j].Article.PublishedAt)
	})
	return scored
}

// SelectTopN truncates a ranked list to the per-push cap. There is no
// minimum-score cutoff: a window is filled whenever enough candidates
// exist.
func SelectTopN(ranked []ScoredArticle, n int) []ScoredArticle {
	if n <= 0 || len(ranked) == 0 {
		return nil
	}
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	out := make([]ScoredArticle, len(ranked))
	copy(out, ranked)
	return out
}

func normalizeTag(tag string) string {
	return strings.ToUpper(strings.TrimSpace(tag))
}

func round4(value float64) float64 {
	return math.Round(value*10000) / 10000
}
