package steps

import (
	"math"
	"regexp"
	"unicode/utf8"

	"github.com/yungbote/lifeprint-backend/internal/platform/gcp"
)

var (
	speechWordRE       = regexp.MustCompile(`[\x{4e00}-\x{9fff}]|[a-zA-Z]+`)
	sentenceTerminalRE = regexp.MustCompile(`[。！？.!?]`)
)

// SpeechMetrics are the naive language measurements stored on a cognition record.
type SpeechMetrics struct {
	WordCount          int     `json:"word_count"`
	UniqueWordCount    int     `json:"unique_word_count"`
	VocabularyRichness float64 `json:"vocabulary_richness"`
	AvgSegmentLength   float64 `json:"avg_segment_length"`
	SentenceComplexity float64 `json:"sentence_complexity"`
	TotalDurationSec   float64 `json:"total_duration_sec"`
}

// AnalyzeSpeech counts each CJK ideograph and each latin run as one word.
// Sentence count comes from terminal punctuation and is floored at 1.
func AnalyzeSpeech(text string, segments []gcp.Segment) SpeechMetrics {
	words := speechWordRE.FindAllString(text, -1)
	unique := make(map[string]struct{}, len(words))
	for _, w := range words {
		unique[w] = struct{}{}
	}

	var segChars int
	for _, s := range segments {
		segChars += utf8.RuneCountInString(s.Text)
	}
	avgSeg := 0.0
	if len(segments) > 0 {
		avgSeg = float64(segChars) / float64(len(segments))
	}
	total := 0.0
	if len(segments) > 0 {
		total = segments[len(segments)-1].End
	}

	sentences := len(sentenceTerminalRE.FindAllString(text, -1))
	if sentences < 1 {
		sentences = 1
	}

	return SpeechMetrics{
		WordCount:          len(words),
		UniqueWordCount:    len(unique),
		VocabularyRichness: roundTo(float64(len(unique))/math.Max(float64(len(words)), 1), 3),
		AvgSegmentLength:   roundTo(avgSeg, 1),
		SentenceComplexity: roundTo(float64(len(words))/float64(sentences), 2),
		TotalDurationSec:   total,
	}
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
