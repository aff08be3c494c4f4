package langdetect

import (
	"strings"
	"sync"
	"unicode"

	lingua "github.com/pemistahl/lingua-go"
)

var (
	detectorOnce sync.Once
	detector     lingua.LanguageDetector
)

// KeywordLanguage returns the ISO 639-1 code for a subscription keyword.
// Keywords are short, so detection is restricted to the languages the
// topic vocabulary actually carries; Han runes short-circuit to "zh"
// because statistical detection is unreliable on one or two characters.
func KeywordLanguage(keyword string) string {
	sample := strings.TrimSpace(keyword)
	if sample == "" {
		return ""
	}

	for _, r := range sample {
		if unicode.Is(unicode.Han, r) {
			return "zh"
		}
	}

	letterCount := 0
	for _, r := range sample {
		if unicode.IsLetter(r) {
			letterCount++
		}
	}
	if letterCount < 2 {
		return ""
	}

	language, exists := getDetector().DetectLanguageOf(sample)
	if !exists {
		return ""
	}

	code := strings.ToLower(language.IsoCode639_1().String())
	if len(code) != 2 {
		return ""
	}
	return code
}

func getDetector() lingua.LanguageDetector {
	detectorOnce.Do(func() {
		detector = lingua.NewLanguageDetectorBuilder().
			FromLanguages(lingua.English, lingua.Chinese, lingua.Japanese).
			WithPreloadedLanguageModels().
			Build()
	})
	return detector
}
