// Package analyzer computes descriptive statistics for a text document.
// Everything here is pure: the same text always yields the same Stats.
package analyzer

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/hyperjump/docstat/internal/models"
)

// DefaultTopN is the number of entries kept in a word cloud when no size is configured.
const DefaultTopN = 50

// paragraphSeparators are tried in order at each position; the first match wins.
var paragraphSeparators = []string{"\r\n\r\n", "\n\n"}

// Stats is the result of analyzing one text.
// WordFrequencies holds every surviving token ordered by descending count,
// ties in first-seen order.
type Stats struct {
	ParagraphCount  int
	WordCount       int
	SymbolCount     int
	WordFrequencies models.WordCloud
}

// Analyze returns paragraph, word and symbol counts plus the full frequency table.
func Analyze(text string) Stats {
	if text == "" {
		return Stats{WordFrequencies: models.WordCloud{}}
	}

	paragraphs := CountParagraphs(text)
	if paragraphs == 0 && strings.TrimSpace(text) != "" {
		paragraphs = 1
	}

	freqs := WordFrequencies(text)
	words := 0
	for _, wf := range freqs {
		words += wf.Count
	}

	return Stats{
		ParagraphCount:  paragraphs,
		WordCount:       words,
		SymbolCount:     utf8.RuneCountInString(text),
		WordFrequencies: freqs,
	}
}

// CountParagraphs returns the number of non-empty blocks between blank-line separators.
// A block made only of spaces still counts; only zero-length blocks are dropped.
func CountParagraphs(text string) int {
	count := 0
	start := 0
	for i := 0; i < len(text); {
		sep := matchSeparator(text[i:])
		if sep == 0 {
			i++
			continue
		}
		if i > start {
			count++
		}
		i += sep
		start = i
	}
	if start < len(text) {
		count++
	}
	return count
}

func matchSeparator(s string) int {
	for _, sep := range paragraphSeparators {
		if strings.HasPrefix(s, sep) {
			return len(sep)
		}
	}
	return 0
}

// Tokenize lower-cases text, splits it on runs of non-word runes and drops
// tokens of a single rune.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !isWordRune(r)
	})
	tokens := fields[:0]
	for _, f := range fields {
		if utf8.RuneCountInString(f) > 1 {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

// isWordRune matches letters, decimal digits, nonspacing marks and connector punctuation.
func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.Is(unicode.Nd, r) ||
		unicode.Is(unicode.Mn, r) || unicode.Is(unicode.Pc, r)
}

// WordFrequencies counts tokens and orders them by descending count.
// The sort is stable, so equal counts keep first-seen order.
func WordFrequencies(text string) models.WordCloud {
	index := make(map[string]int)
	freqs := models.WordCloud{}
	for _, tok := range Tokenize(text) {
		if i, ok := index[tok]; ok {
			freqs[i].Count++
			continue
		}
		index[tok] = len(freqs)
		freqs = append(freqs, models.WordFrequency{Word: tok, Count: 1})
	}
	sort.SliceStable(freqs, func(i, j int) bool {
		return freqs[i].Count > freqs[j].Count
	})
	return freqs
}

// TopN returns the first n entries of an already ordered table.
// n <= 0 falls back to DefaultTopN. The input is not modified.
func TopN(freqs models.WordCloud, n int) models.WordCloud {
	if n <= 0 {
		n = DefaultTopN
	}
	if len(freqs) < n {
		n = len(freqs)
	}
	out := make(models.WordCloud, n)
	copy(out, freqs[:n])
	return out
}
