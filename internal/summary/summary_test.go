package summary_test

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/d9705996/ama/internal/summary"
	"github.com/stretchr/testify/assert"
)

func TestSummarize_FirstSentence(t *testing.T) {
	r := summary.NewHeuristicSummarizer().Summarize("When will the roadmap ship?  I keep hearing Q3. Is that right?")
	assert.Equal(t, "When will the roadmap ship?", r.Summary)
}

func TestSummarize_NoTerminator(t *testing.T) {
	r := summary.NewHeuristicSummarizer().Summarize("  plans for\nremote   work  ")
	assert.Equal(t, "plans for remote work", r.Summary)
}

func TestSummarize_Truncates(t *testing.T) {
	long := strings.Repeat("word ", 60)
	r := summary.NewHeuristicSummarizer().Summarize(long)
	assert.Equal(t, summary.MaxSummaryRunes, utf8.RuneCountInString(r.Summary))
	assert.True(t, strings.HasSuffix(r.Summary, "…"))
}

func TestSummarize_Tags(t *testing.T) {
	r := summary.NewHeuristicSummarizer().Summarize(
		"What is the plan for hiring? Hiring in Europe, hiring in Asia, and the budget for the budget-review in 2025.")
	assert.Equal(t, []string{"hiring", "plan", "europe", "asia", "budget"}, r.Tags)
}

func TestSummarize_TagsSkipStopWordsAndShortWords(t *testing.T) {
	r := summary.NewHeuristicSummarizer().Summarize("Why is it so? Can we do it?")
	assert.Empty(t, r.Tags)
}
