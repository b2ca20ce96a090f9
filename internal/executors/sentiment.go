package executors

import (
	"context"

	"github.com/vaakshakti/pipeline/internal/models"
)

// Polarity thresholds for the sentiment label.
const (
	positiveThreshold = 0.05
	negativeThreshold = -0.05
)

// positiveWords and negativeWords form a compact valence lexicon tuned for
// spoken practice answers.
var positiveWords = map[string]bool{
	"good": true, "great": true, "excellent": true, "amazing": true,
	"wonderful": true, "fantastic": true, "love": true, "like": true,
	"enjoy": true, "happy": true, "glad": true, "best": true, "better": true,
	"nice": true, "awesome": true, "beautiful": true, "perfect": true,
	"interesting": true, "helpful": true, "positive": true, "success": true,
	"successful": true, "easy": true, "confident": true, "excited": true,
	"fun": true, "favorite": true, "well": true, "right": true, "important": true,
}

var negativeWords = map[string]bool{
	"bad": true, "terrible": true, "awful": true, "horrible": true,
	"hate": true, "dislike": true, "sad": true, "unhappy": true, "worst": true,
	"worse": true, "difficult": true, "hard": true, "problem": true,
	"wrong": true, "negative": true, "fail": true, "failed": true,
	"failure": true, "boring": true, "angry": true, "afraid": true,
	"scared": true, "worried": true, "nervous": true, "poor": true,
	"annoying": true, "stressful": true, "confusing": true, "ugly": true,
}

// emotionLexicon maps each recognized emotion to its signal words.
var emotionLexicon = map[string][]string{
	"joy":      {"happy", "glad", "excited", "love", "enjoy", "fun", "wonderful", "amazing", "delighted", "proud"},
	"sadness":  {"sad", "unhappy", "miss", "lonely", "cry", "disappointed", "sorry", "regret", "lost"},
	"anger":    {"angry", "furious", "annoyed", "annoying", "hate", "mad", "frustrated", "unfair"},
	"fear":     {"afraid", "scared", "worried", "nervous", "anxious", "terrified", "fear", "panic"},
	"surprise": {"surprised", "surprising", "sudden", "unexpected", "wow", "unbelievable", "shocked"},
}

// SentimentEmotionExecutor scores transcript sentiment against the valence
// lexicon and picks the dominant emotion from keyword evidence. Deterministic
// for a given transcript.
type SentimentEmotionExecutor struct{}

// NewSentimentEmotionExecutor creates the sentiment and emotion stage.
func NewSentimentEmotionExecutor() *SentimentEmotionExecutor { return &SentimentEmotionExecutor{} }

func (e *SentimentEmotionExecutor) Kind() models.ComponentKind { return models.KindSentimentEmotion }

func (e *SentimentEmotionExecutor) Execute(ctx context.Context, in models.ComponentInput) (interface{}, error) {
	words := tokenize(in.Transcript)
	res := &models.SentimentEmotionResult{
		SentimentLabel:  "neutral",
		DominantEmotion: "neutral",
	}
	if len(words) == 0 {
		return res, nil
	}

	pos, neg := 0, 0
	for _, w := range words {
		if positiveWords[w] {
			pos++
		}
		if negativeWords[w] {
			neg++
		}
	}
	// Valence hits per word, scaled so short answers with a clear tone still
	// clear the labeling thresholds.
	score := float64(pos-neg) / float64(len(words)) * 5
	if score > 1 {
		score = 1
	}
	if score < -1 {
		score = -1
	}
	res.SentimentScore = score
	res.SentimentConfidence = absFloat(score)
	switch {
	case score >= positiveThreshold:
		res.SentimentLabel = "positive"
	case score <= negativeThreshold:
		res.SentimentLabel = "negative"
	}

	scores := make(map[string]float64, len(emotionLexicon))
	wordSet := make(map[string]int, len(words))
	for _, w := range words {
		wordSet[w]++
	}
	for emotion, signals := range emotionLexicon {
		hits := 0
		for _, s := range signals {
			hits += wordSet[s]
		}
		if hits > 0 {
			scores[emotion] = float64(hits) / float64(len(words))
		}
	}
	if len(scores) > 0 {
		res.EmotionScores = scores
		best, bestScore := "", 0.0
		for emotion, s := range scores {
			if s > bestScore || (s == bestScore && emotion < best) {
				best, bestScore = emotion, s
			}
		}
		res.DominantEmotion = best
		res.EmotionConfidence = clamp01(bestScore * 10)
	}
	return res, nil
}

func absFloat(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
