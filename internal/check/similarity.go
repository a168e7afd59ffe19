package check

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/thruflo/keqa/internal/api"
)

// Default thresholds for cross-article comparisons.
const (
	DefaultTitleThreshold   = 0.7
	DefaultOverlapThreshold = 0.3
)

// Similarity returns the matching-blocks ratio of a and b over characters,
// in [0, 1]. Two empty strings are identical.
func Similarity(a, b string) float64 {
	return ratio(runes(a), runes(b))
}

// WordOverlap returns the matching-blocks ratio over lower-cased word
// sequences.
func WordOverlap(a, b string) float64 {
	return ratio(words(a), words(b))
}

func ratio(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	return difflib.NewMatcher(a, b).Ratio()
}

func runes(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}

func words(s string) []string {
	return strings.Fields(strings.ToLower(s))
}

// Pair is two articles whose score met a threshold.
type Pair struct {
	A, B           string
	TitleA, TitleB string
	Score          float64
}

// SimilarTitles returns article pairs whose case-insensitive title
// similarity is at least threshold.
func SimilarTitles(articles []api.Article, threshold float64) []Pair {
	titles := make([]string, len(articles))
	for i, a := range articles {
		titles[i] = strings.ToLower(strings.TrimSpace(a.Title))
	}
	return pairs(articles, threshold, func(i, j int) float64 {
		return Similarity(titles[i], titles[j])
	})
}

// OverlappingContent returns article pairs whose plain-text word overlap is
// at least threshold.
func OverlappingContent(articles []api.Article, threshold float64) []Pair {
	texts := make([]string, len(articles))
	for i, a := range articles {
		texts[i] = PlainText(a.Content)
	}
	return pairs(articles, threshold, func(i, j int) float64 {
		return WordOverlap(texts[i], texts[j])
	})
}

func pairs(articles []api.Article, threshold float64, score func(i, j int) float64) []Pair {
	var out []Pair
	for i := 0; i < len(articles); i++ {
		for j := i + 1; j < len(articles); j++ {
			s := score(i, j)
			if s >= threshold {
				out = append(out, Pair{
					A:      articles[i].ID,
					B:      articles[j].ID,
					TitleA: articles[i].Title,
					TitleB: articles[j].Title,
					Score:  s,
				})
			}
		}
	}
	return out
}
