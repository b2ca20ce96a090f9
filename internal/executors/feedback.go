package executors

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/vaakshakti/pipeline/internal/models"
)

const grammarPromptTemplate = `You are an English grammar coach reviewing a spoken answer.

The speaker was asked:
"%s"

Their transcribed answer:
%s

Correct the grammar of the answer. List each correction briefly, then show
the corrected version. If the grammar is already good, say so in one sentence.`

const pronunciationPromptTemplate = `You are a pronunciation coach reviewing a spoken answer.

The speaker was asked:
"%s"

Their transcribed answer:
%s

These words fell below the clarity threshold:
%s

For each word, give one short, practical pronunciation tip.`

const contentPromptTemplate = `You are an English communication evaluator.

The user was asked the following question:
"%s"

Compare the student's answer to the ideal answer.

User's Spoken Answer:
%s

Ideal Answer:
%s

Evaluate based on:
- Relevance to the question
- Structure and fluency
- Grammar and vocabulary

Then provide:
1. A short comparison
2. 2 suggestions to improve`

// clearSpeechFeedback is returned without a model call when no words were
// flagged.
const clearSpeechFeedback = "Your speech was clear!"

// FeedbackExecutor synthesizes grammar, pronunciation and content feedback
// through the language model, then derives the session rating. The model
// calls are independent, so a retried run that repeats a completed call
// produces equivalent feedback.
type FeedbackExecutor struct {
	ollama       *ollamaClient
	defaultModel string
}

// NewFeedbackExecutor creates the feedback synthesis stage.
func NewFeedbackExecutor(ollama *ollamaClient, defaultModel string) *FeedbackExecutor {
	return &FeedbackExecutor{ollama: ollama, defaultModel: defaultModel}
}

func (e *FeedbackExecutor) Kind() models.ComponentKind { return models.KindFeedbackSynthesis }

func (e *FeedbackExecutor) Execute(ctx context.Context, in models.ComponentInput) (interface{}, error) {
	model := in.Model
	if model == "" {
		model = e.defaultModel
	}

	grammar, err := e.ollama.generate(ctx, model, fmt.Sprintf(grammarPromptTemplate, in.Question, in.Transcript))
	if err != nil {
		return nil, err
	}

	pronunciation := clearSpeechFeedback
	if len(in.FlaggedWords) > 0 {
		pronunciation, err = e.ollama.generate(ctx, model,
			fmt.Sprintf(pronunciationPromptTemplate, in.Question, in.Transcript, formatFlaggedWords(in.FlaggedWords)))
		if err != nil {
			return nil, err
		}
	}

	content, err := e.ollama.generate(ctx, model, fmt.Sprintf(contentPromptTemplate, in.Question, in.Transcript, in.IdealAnswer))
	if err != nil {
		return nil, err
	}

	return &models.FeedbackResult{
		GrammarFeedback:       grammar,
		PronunciationFeedback: pronunciation,
		ContentEvaluation:     content,
		Rating:                calculateRating(grammar, content),
	}, nil
}

// formatFlaggedWords renders the low-confidence words as a bulleted list for
// the pronunciation prompt.
func formatFlaggedWords(words []models.FlaggedWord) string {
	lines := make([]string, len(words))
	for i, w := range words {
		lines[i] = fmt.Sprintf("- %q (%d%%) recognition confidence", w.Word, int(math.Round(w.Probability*100)))
	}
	return strings.Join(lines, "\n")
}

// calculateRating scores the session on [1, 5]. Short feedback means few
// issues were found, so concise grammar and content feedback each earn a
// point over the baseline.
func calculateRating(grammarFeedback, contentEvaluation string) float64 {
	score := 3.0
	if grammarFeedback != "" && len(grammarFeedback) < 300 {
		score += 1.0
	}
	if contentEvaluation != "" && len(contentEvaluation) < 500 {
		score += 1.0
	}
	score = math.Round(score*10) / 10
	return math.Max(1.0, math.Min(5.0, score))
}
