package topics

import (
	"testing"
)

func loadTestVocabulary(t *testing.T) *Vocabulary {
	t.Helper()
	vocab, err := LoadBuiltinVocabulary()
	if err != nil {
		t.Fatalf("load builtin vocabulary: %v", err)
	}
	return vocab
}

func TestMapperMapExactChinese(t *testing.T) {
	t.Parallel()

	mapper := NewMapper(loadTestVocabulary(t))
	result := mapper.Map([]string{"蘋果"})

	if result.UsedFallback {
		t.Fatal("expected a vocabulary match, got fallback")
	}
	if len(result.Topics) == 0 || result.Topics[0] != "APPLE" {
		t.Fatalf("expected APPLE as top topic, got %v", result.Topics)
	}
	if got := result.Matched["APPLE"]; len(got) != 1 || got[0] != "蘋果" {
		t.Fatalf("expected matched keyword recorded, got %v", got)
	}
}

func TestMapperMapSubstring(t *testing.T) {
	t.Parallel()

	mapper := NewMapper(loadTestVocabulary(t))
	result := mapper.Map([]string{"iphone 17 pro"})

	if result.UsedFallback {
		t.Fatal("expected substring match, got fallback")
	}
	if result.Topics[0] != "APPLE" {
		t.Fatalf("expected APPLE, got %v", result.Topics)
	}
}

func TestMapperMapAccumulatesAcrossKeywords(t *testing.T) {
	t.Parallel()

	mapper := NewMapper(loadTestVocabulary(t))
	result := mapper.Map([]string{"bitcoin", "ethereum", "apple"})

	if result.Topics[0] != "CRYPTO" {
		t.Fatalf("expected CRYPTO to accumulate highest score, got %v (scores %v)", result.Topics, result.Scores)
	}
	if result.Scores["CRYPTO"] <= result.Scores["APPLE"] {
		t.Fatalf("expected CRYPTO score above APPLE, got %v", result.Scores)
	}
}

func TestMapperMapTruncatesToMaxTopics(t *testing.T) {
	t.Parallel()

	mapper := NewMapper(loadTestVocabulary(t))
	result := mapper.Map([]string{"apple", "tesla", "bitcoin", "gold", "inflation"})

	if len(result.Topics) != DefaultMaxTopics {
		t.Fatalf("expected %d topics, got %v", DefaultMaxTopics, result.Topics)
	}
	if len(result.Scores) < 5 {
		t.Fatalf("expected truncated topics to keep their scores, got %v", result.Scores)
	}
}

func TestMapperMapTieBreaksOnPriority(t *testing.T) {
	t.Parallel()

	// oil (ENERGY, priority 7) and gold (COMMODITIES, priority 8) both
	// carry confidence 0.8: the lower priority integer wins the tie.
	mapper := NewMapper(loadTestVocabulary(t))
	result := mapper.Map([]string{"oil", "gold"})

	if result.Scores["ENERGY"] != result.Scores["COMMODITIES"] {
		t.Fatalf("test assumes equal scores, got %v", result.Scores)
	}
	if result.Topics[0] != "ENERGY" {
		t.Fatalf("expected ENERGY first on priority tie-break, got %v", result.Topics)
	}
}

func TestMapperMapFallsBackWhenNothingMatches(t *testing.T) {
	t.Parallel()

	mapper := NewMapper(loadTestVocabulary(t))
	result := mapper.Map([]string{"量子計算", "zzzz"})

	if !result.UsedFallback {
		t.Fatal("expected fallback for out-of-vocabulary keywords")
	}
	if len(result.Topics) != 1 || result.Topics[0] != "LATEST" {
		t.Fatalf("expected fallback topic LATEST, got %v", result.Topics)
	}
}

func TestMapperMapNeverReturnsEmpty(t *testing.T) {
	t.Parallel()

	mapper := NewMapper(loadTestVocabulary(t))
	for _, keywords := range [][]string{nil, {}, {""}, {"   "}} {
		result := mapper.Map(keywords)
		if len(result.Topics) == 0 {
			t.Fatalf("expected non-empty topics for %v", keywords)
		}
	}
}

func TestMatchTopicPrefersExactOverSubstring(t *testing.T) {
	t.Parallel()

	mapper := NewMapper(loadTestVocabulary(t))
	code, conf, ok := mapper.MatchTopic("bitcoin")
	if !ok {
		t.Fatal("expected a match for bitcoin")
	}
	if code != "CRYPTO" || conf != 1.0 {
		t.Fatalf("expected exact CRYPTO match at 1.0, got %s %v", code, conf)
	}
}

func TestMatchTopicNoMatch(t *testing.T) {
	t.Parallel()

	mapper := NewMapper(loadTestVocabulary(t))
	if _, _, ok := mapper.MatchTopic("量子計算"); ok {
		t.Fatal("expected no match for out-of-vocabulary keyword")
	}
}

func TestExplainReportsLanguageAndMethod(t *testing.T) {
	t.Parallel()

	mapper := NewMapper(loadTestVocabulary(t))
	matches := mapper.Explain([]string{"蘋果", "bitcoin", "量子計算"})

	if len(matches) != 3 {
		t.Fatalf("expected one entry per keyword, got %d", len(matches))
	}
	if matches[0].Language != "zh" || matches[0].TopicCode != "APPLE" || matches[0].Method != MatchMethodExact {
		t.Fatalf("unexpected explain entry for 蘋果: %+v", matches[0])
	}
	if !matches[1].Matched || matches[1].TopicCode != "CRYPTO" {
		t.Fatalf("unexpected explain entry for bitcoin: %+v", matches[1])
	}
	if matches[2].Matched {
		t.Fatalf("expected 量子計算 to be reported unmatched: %+v", matches[2])
	}
}
