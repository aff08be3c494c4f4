package scoring

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/YCLstock/finnews-bot/internal/db"
)

func article(t *testing.T, title, summary string, tags []string, publishedAt time.Time) db.NewsArticle {
	t.Helper()
	raw, err := json.Marshal(tags)
	if err != nil {
		t.Fatalf("marshal tags: %v", err)
	}
	return db.NewsArticle{
		Title:       title,
		Summary:     summary,
		Tags:        raw,
		PublishedAt: publishedAt,
	}
}

func TestNewScorerValidatesWeights(t *testing.T) {
	t.Parallel()

	if _, err := NewScorer(0.7, 0.3); err != nil {
		t.Fatalf("expected valid weights, got %v", err)
	}
	if _, err := NewScorer(0.7, 0.4); err == nil {
		t.Fatal("expected error for weights not summing to 1")
	}
	if _, err := NewScorer(-0.1, 1.1); err == nil {
		t.Fatal("expected error for negative weight")
	}
}

func TestTagScore(t *testing.T) {
	t.Parallel()

	scorer := DefaultScorer()
	cases := []struct {
		name       string
		article    []string
		subscribed []string
		want       float64
	}{
		{"full overlap", []string{"APPLE"}, []string{"APPLE"}, 1},
		{"half overlap", []string{"APPLE"}, []string{"APPLE", "CRYPTO"}, 0.5},
		{"no overlap", []string{"TESLA"}, []string{"APPLE"}, 0},
		{"empty subscription", []string{"APPLE"}, nil, 0},
		{"case insensitive", []string{"apple"}, []string{"APPLE"}, 1},
		{"duplicate subscribed tags collapse", []string{"APPLE"}, []string{"APPLE", "apple"}, 1},
	}
	for _, tc := range cases {
		if got := scorer.TagScore(tc.article, tc.subscribed); got != tc.want {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestKeywordScore(t *testing.T) {
	t.Parallel()

	scorer := DefaultScorer()
	title := "Apple 供應鏈傳出新消息"
	summary := "蘋果公司與台積電擴大合作"

	if got := scorer.KeywordScore(title, summary, []string{"蘋果"}); got != 1 {
		t.Fatalf("expected full keyword match, got %v", got)
	}
	if got := scorer.KeywordScore(title, summary, []string{"蘋果", "特斯拉"}); got != 0.5 {
		t.Fatalf("expected half keyword match, got %v", got)
	}
	if got := scorer.KeywordScore(title, summary, []string{"APPLE"}); got != 1 {
		t.Fatalf("expected case-insensitive match against title, got %v", got)
	}
	if got := scorer.KeywordScore(title, summary, nil); got != 0 {
		t.Fatalf("expected zero for no keywords, got %v", got)
	}
}

// A user subscribed to 蘋果 alongside an unrelated beverage keyword
// should still see the Apple company article ranked first: tag overlap
// outweighs raw text hits.
func TestRankPrefersTagOverlapOverTextHits(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, time.March, 14, 8, 0, 0, 0, time.UTC)
	company := article(t, "蘋果發表新晶片", "Apple 公布新一代處理器", []string{"APPLE"}, now)
	beverage := article(t, "蘋果西打銷量創新高", "老牌汽水蘋果西打回歸", []string{"LATEST"}, now)

	profile := Profile{
		SubscribedTags: []string{"APPLE"},
		Keywords:       []string{"蘋果", "蘋果西打"},
	}
	ranked := DefaultScorer().Rank([]db.NewsArticle{beverage, company}, profile)

	if ranked[0].Article.Title != company.Title {
		t.Fatalf("expected company article first, got %q", ranked[0].Article.Title)
	}
	if ranked[0].FinalScore <= ranked[1].FinalScore {
		t.Fatalf("expected strict ordering, got %v vs %v", ranked[0].FinalScore, ranked[1].FinalScore)
	}
}

// Articles sharing the user's canonical tag surface even when none of
// the raw keywords appear in the text.
func TestRankSurfacesTagOnlyMatches(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, time.March, 14, 8, 0, 0, 0, time.UTC)
	supplyChain := article(t, "台積電擴產挹注供應鏈", "晶圓代工產能提升", []string{"APPLE", "STOCK_MARKET"}, now)

	profile := Profile{
		SubscribedTags: []string{"APPLE"},
		Keywords:       []string{"iphone"},
	}
	scored := DefaultScorer().Score(supplyChain, profile)

	if scored.TagScore != 1 {
		t.Fatalf("expected full tag score, got %v", scored.TagScore)
	}
	if scored.KeywordScore != 0 {
		t.Fatalf("expected zero keyword score, got %v", scored.KeywordScore)
	}
	if scored.FinalScore != 0.7 {
		t.Fatalf("expected 0.7 final score, got %v", scored.FinalScore)
	}
}

// Out-of-vocabulary keywords still reach the user through the text
// component: a matching title alone scores the keyword weight.
func TestScoreOutOfVocabularyKeywordFloor(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, time.March, 14, 8, 0, 0, 0, time.UTC)
	quantum := article(t, "量子計算新突破", "研究團隊展示量子優勢", []string{"AI_TECH"}, now)

	profile := Profile{
		SubscribedTags: []string{"LATEST"},
		Keywords:       []string{"量子計算"},
	}
	scored := DefaultScorer().Score(quantum, profile)

	if scored.FinalScore != 0.3 {
		t.Fatalf("expected keyword-weight floor 0.3, got %v", scored.FinalScore)
	}
}

func TestRankBreaksTiesByRecency(t *testing.T) {
	t.Parallel()

	older := article(t, "Apple earnings beat", "", []string{"APPLE"},
		time.Date(2026, time.March, 14, 6, 0, 0, 0, time.UTC))
	newer := article(t, "Apple guidance raised", "", []string{"APPLE"},
		time.Date(2026, time.March, 14, 7, 0, 0, 0, time.UTC))

	profile := Profile{SubscribedTags: []string{"APPLE"}}
	ranked := DefaultScorer().Rank([]db.NewsArticle{older, newer}, profile)

	if ranked[0].Article.Title != newer.Title {
		t.Fatalf("expected fresher article first on tie, got %q", ranked[0].Article.Title)
	}
}

func TestSelectTopN(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, time.March, 14, 8, 0, 0, 0, time.UTC)
	articles := make([]db.NewsArticle, 0, 7)
	for i := 0; i < 7; i++ {
		articles = append(articles, article(t, "Apple update", "", []string{"APPLE"}, now.Add(time.Duration(i)*time.Minute)))
	}
	ranked := DefaultScorer().Rank(articles, Profile{SubscribedTags: []string{"APPLE"}})

	if got := SelectTopN(ranked, 5); len(got) != 5 {
		t.Fatalf("expected 5 selected, got %d", len(got))
	}
	if got := SelectTopN(ranked, 10); len(got) != 7 {
		t.Fatalf("expected all 7 when under the cap, got %d", len(got))
	}
	if got := SelectTopN(ranked, 0); got != nil {
		t.Fatalf("expected nil for zero cap, got %v", got)
	}
}
