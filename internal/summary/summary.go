// Package summary derives a short summary and keyword tags from question
// text without calling a language model.
package summary

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// MaxSummaryRunes bounds the summary length, ellipsis included.
	MaxSummaryRunes = 140
	// MaxTags bounds the number of generated tags.
	MaxTags = 5

	minKeywordRunes = 3
)

// Report is the output of a Summarizer.
type Report struct {
	Summary string
	Tags    []string
}

// Summarizer reviews a question and reports a summary and tags.
type Summarizer interface {
	Summarize(text string) Report
}

// HeuristicSummarizer uses the first sentence as the summary and the most
// frequent non stop-words as tags.
type HeuristicSummarizer struct{}

// NewHeuristicSummarizer returns a HeuristicSummarizer.
func NewHeuristicSummarizer() *HeuristicSummarizer { return &HeuristicSummarizer{} }

// Summarize implements Summarizer.
func (*HeuristicSummarizer) Summarize(text string) Report {
	text = strings.Join(strings.Fields(text), " ")
	return Report{Summary: firstSentence(text), Tags: keywords(text)}
}

func firstSentence(text string) string {
	end := len(text)
	for i, r := range text {
		if r == '.' || r == '?' || r == '!' {
			end = i + utf8.RuneLen(r)
			break
		}
	}
	s := strings.TrimSpace(text[:end])
	if utf8.RuneCountInString(s) <= MaxSummaryRunes {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:MaxSummaryRunes-1])) + "…"
}

func keywords(text string) []string {
	counts := map[string]int{}
	first := map[string]int{}
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-'
	})
	for i, w := range words {
		w = strings.Trim(w, "-")
		if utf8.RuneCountInString(w) < minKeywordRunes || stopWords[w] || isNumber(w) {
			continue
		}
		if _, seen := first[w]; !seen {
			first[w] = i
		}
		counts[w]++
	}

	tags := make([]string, 0, len(counts))
	for w := range counts {
		tags = append(tags, w)
	}
	sort.Slice(tags, func(i, j int) bool {
		if counts[tags[i]] != counts[tags[j]] {
			return counts[tags[i]] > counts[tags[j]]
		}
		return first[tags[i]] < first[tags[j]]
	})
	if len(tags) > MaxTags {
		tags = tags[:MaxTags]
	}
	return tags
}

func isNumber(w string) bool {
	for _, r := range w {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

var stopWords = func() map[string]bool {
	m := map[string]bool{}
	for _, w := range strings.Fields(`
		about above after again against all also and any are aren't because been
		before being below between both but can can't cannot could did does doing
		don't down during each few for from further get got had has have having
		her here hers herself him himself his how into its itself just let me more
		most much must myself nor not now off once only other our ours ourselves out
		over own same she should some such than that the their theirs them
		themselves then there these they this those through too under until very
		was way we were what when where which while who whom why will with would
		you your yours yourself yourselves please thanks thank anyone anybody
		going really think know like want need make made many any
	`) {
		m[w] = true
	}
	return m
}()
