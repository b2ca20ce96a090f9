package executors

import (
	"context"
	"math"

	"github.com/vaakshakti/pipeline/internal/models"
)

// LinguisticExecutor computes complexity and flow features of the transcript.
// It is deterministic: the same transcript always yields the same scores.
type LinguisticExecutor struct{}

// NewLinguisticExecutor creates the linguistic analysis stage.
func NewLinguisticExecutor() *LinguisticExecutor { return &LinguisticExecutor{} }

func (e *LinguisticExecutor) Kind() models.ComponentKind { return models.KindLinguistic }

func (e *LinguisticExecutor) Execute(ctx context.Context, in models.ComponentInput) (interface{}, error) {
	words := tokenize(in.Transcript)
	sentences := splitSentences(in.Transcript)

	res := &models.LinguisticResult{
		WordCount:     len(words),
		SentenceCount: len(sentences),
	}
	if len(words) == 0 {
		return res, nil
	}

	if len(sentences) > 0 {
		res.AvgSentenceLength = float64(len(words)) / float64(len(sentences))
	}

	unique := make(map[string]bool, len(words))
	for _, w := range words {
		unique[w] = true
	}
	res.LexicalDiversity = float64(len(unique)) / float64(len(words))

	lengths := make([]float64, len(sentences))
	for i, s := range sentences {
		lengths[i] = float64(len(tokenize(s)))
	}
	// Length spread, normalized to roughly [0, 1] for conversational speech.
	res.SentenceComplexity = math.Sqrt(variance(lengths)) / 10

	res.CoherenceScore = coherence(sentences)
	res.FluencyScore = fluency(lengths, words)
	return res, nil
}

// coherence measures topical flow as the mean content-word overlap between
// consecutive sentences. A single sentence is trivially coherent.
func coherence(sentences []string) float64 {
	if len(sentences) < 2 {
		return 1.0
	}
	var overlaps []float64
	prev := contentWords(sentences[0])
	for i := 1; i < len(sentences); i++ {
		cur := contentWords(sentences[i])
		if len(prev) > 0 && len(cur) > 0 {
			overlaps = append(overlaps, jaccard(prev, cur))
		}
		prev = cur
	}
	if len(overlaps) == 0 {
		return 0.5
	}
	return mean(overlaps)
}

func jaccard(a, b map[string]bool) float64 {
	inter := 0
	for w := range a {
		if b[w] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// fluency combines sentence length regularity, closeness to a comfortable
// average length, and freedom from excessive word repetition.
func fluency(sentenceLengths []float64, words []string) float64 {
	if len(sentenceLengths) == 0 || len(words) == 0 {
		return 0
	}
	var factors []float64

	avg := mean(sentenceLengths)
	if len(sentenceLengths) > 1 && avg > 0 {
		factors = append(factors, clamp01(1-math.Sqrt(variance(sentenceLengths))/avg))
	}

	const optimalLength = 15.0
	factors = append(factors, clamp01(1-math.Abs(avg-optimalLength)/optimalLength))

	freq := make(map[string]int, len(words))
	for _, w := range words {
		freq[w]++
	}
	overused := 0
	for _, n := range freq {
		if n > 3 {
			overused++
		}
	}
	factors = append(factors, clamp01(1-float64(overused)/float64(len(freq))))

	return mean(factors)
}

func clamp01(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}
