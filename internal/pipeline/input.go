package pipeline

import (
	"encoding/json"
	"fmt"

	"github.com/vaakshakti/pipeline/internal/models"
)

// assembleInput builds the executor input for a component from the submission
// context and the results of its completed dependencies.
func assembleInput(task *models.Task, kind models.ComponentKind, byKind map[models.ComponentKind]*models.Component) (models.ComponentInput, error) {
	in := models.ComponentInput{
		TaskID:      task.ID,
		Topic:       task.Topic,
		Difficulty:  task.Difficulty,
		Question:    task.Question,
		IdealAnswer: task.IdealAnswer,
		Model:       task.Model,
	}

	switch kind {
	case models.KindTranscription, models.KindAudioFeatures:
		in.AudioRef = task.AudioRef
	case models.KindLinguistic, models.KindSentimentEmotion, models.KindFeedbackSynthesis:
		tr, err := transcriptionOf(byKind)
		if err != nil {
			return in, err
		}
		in.Transcript = tr.Transcript
		if kind == models.KindFeedbackSynthesis {
			in.FlaggedWords = tr.FlaggedWords
		}
	default:
		return in, fmt.Errorf("unknown component kind %q", kind)
	}
	return in, nil
}

// transcriptionOf decodes the completed transcription result of a task.
func transcriptionOf(byKind map[models.ComponentKind]*models.Component) (*models.TranscriptionResult, error) {
	comp, ok := byKind[models.KindTranscription]
	if !ok || comp.State != models.ComponentCompleted {
		return nil, fmt.Errorf("transcription result not available")
	}
	var tr models.TranscriptionResult
	if err := json.Unmarshal([]byte(comp.Result), &tr); err != nil {
		return nil, fmt.Errorf("decode transcription result: %w", err)
	}
	return &tr, nil
}

// startMessage is the human-readable status while a component runs.
func startMessage(kind models.ComponentKind) string {
	switch kind {
	case models.KindTranscription:
		return "Transcription in progress..."
	case models.KindAudioFeatures:
		return "Audio feature extraction in progress..."
	case models.KindLinguistic:
		return "Linguistic analysis in progress..."
	case models.KindSentimentEmotion:
		return "Sentiment and emotion analysis in progress..."
	case models.KindFeedbackSynthesis:
		return "Feedback synthesis in progress..."
	default:
		return "Analysis in progress..."
	}
}
