// Package models defines the core domain types for the evaluation pipeline.
package models

import "time"

// TaskState represents the current state of an evaluation task.
type TaskState string

const (
	TaskPending    TaskState = "pending"
	TaskProcessing TaskState = "processing"
	TaskCompleted  TaskState = "completed"
	TaskFailed     TaskState = "failed"
)

// Terminal reports whether no further task transitions occur.
func (s TaskState) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// ComponentState represents the state of a single analysis component.
type ComponentState string

const (
	ComponentPending    ComponentState = "pending"
	ComponentProcessing ComponentState = "processing"
	ComponentCompleted  ComponentState = "completed"
	ComponentFailed     ComponentState = "failed"
	ComponentSkipped    ComponentState = "skipped"
)

// Terminal reports whether no further component transitions occur.
func (s ComponentState) Terminal() bool {
	return s == ComponentCompleted || s == ComponentFailed || s == ComponentSkipped
}

// ComponentKind identifies one analysis stage of an evaluation.
type ComponentKind string

const (
	KindTranscription     ComponentKind = "transcription"
	KindAudioFeatures     ComponentKind = "audio_features"
	KindLinguistic        ComponentKind = "linguistic_analysis"
	KindSentimentEmotion  ComponentKind = "sentiment_emotion"
	KindFeedbackSynthesis ComponentKind = "feedback_synthesis"
)

// AllKinds lists every component kind in dispatch order.
func AllKinds() []ComponentKind {
	return []ComponentKind{
		KindTranscription,
		KindAudioFeatures,
		KindLinguistic,
		KindSentimentEmotion,
		KindFeedbackSynthesis,
	}
}

// DependsOn returns the component kinds that must complete before this kind
// may start. The mapping is fixed at compile time.
func (k ComponentKind) DependsOn() []ComponentKind {
	switch k {
	case KindLinguistic, KindSentimentEmotion, KindFeedbackSynthesis:
		return []ComponentKind{KindTranscription}
	default:
		return nil
	}
}

// DefaultRequiredKinds returns the component kinds whose success is mandatory
// for task success unless overridden by configuration.
func DefaultRequiredKinds() []ComponentKind {
	return []ComponentKind{KindTranscription, KindLinguistic, KindFeedbackSynthesis}
}

// Task represents one end-to-end evaluation request.
type Task struct {
	ID            string          `json:"id"`
	State         TaskState       `json:"state"`
	Progress      int             `json:"progress"`
	StatusMessage string          `json:"status_message,omitempty"`
	Topic         string          `json:"topic"`
	Difficulty    string          `json:"difficulty"`
	Question      string          `json:"question"`
	IdealAnswer   string          `json:"ideal_answer"`
	AudioRef      string          `json:"audio_ref"`
	Model         string          `json:"model,omitempty"`
	Required      []ComponentKind `json:"required_components"`
	Result        string          `json:"result,omitempty"` // JSON, set only when completed
	ErrorMessage  string          `json:"error_message,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
}

// RequiredSet returns the required kinds as a lookup set.
func (t *Task) RequiredSet() map[ComponentKind]bool {
	set := make(map[ComponentKind]bool, len(t.Required))
	for _, k := range t.Required {
		set[k] = true
	}
	return set
}

// Component represents one analysis stage belonging to exactly one task.
type Component struct {
	ID            string         `json:"id"`
	ParentTaskID  string         `json:"parent_task_id"`
	Kind          ComponentKind  `json:"kind"`
	State         ComponentState `json:"state"`
	StatusMessage string         `json:"status_message,omitempty"`
	Result        string         `json:"result,omitempty"` // JSON, set only when completed
	ErrorMessage  string         `json:"error_message,omitempty"`
	Attempt       int            `json:"attempt"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
}

// ComponentInput carries everything an executor may need. The scheduler
// assembles it from the submission context and upstream results.
type ComponentInput struct {
	TaskID       string        `json:"task_id"`
	AudioRef     string        `json:"audio_ref,omitempty"`
	Topic        string        `json:"topic,omitempty"`
	Difficulty   string        `json:"difficulty,omitempty"`
	Question     string        `json:"question,omitempty"`
	IdealAnswer  string        `json:"ideal_answer,omitempty"`
	Model        string        `json:"model,omitempty"`
	Transcript   string        `json:"transcript,omitempty"`
	FlaggedWords []FlaggedWord `json:"flagged_words,omitempty"`
}

// FlaggedWord is a transcribed word whose recognition confidence fell below
// the clarity threshold; it feeds pronunciation feedback.
type FlaggedWord struct {
	Word        string  `json:"word"`
	Probability float64 `json:"probability"`
}

// --- Typed component results ---

// TranscriptionResult is the output of the transcription component.
type TranscriptionResult struct {
	Transcript   string        `json:"transcript"`
	Language     string        `json:"language,omitempty"`
	FlaggedWords []FlaggedWord `json:"flagged_words,omitempty"`
}

// AudioFeaturesResult holds prosodic and acoustic features of the recording.
type AudioFeaturesResult struct {
	DurationSeconds      float64 `json:"duration_seconds"`
	AverageEnergy        float64 `json:"average_energy"`
	EnergyVariance       float64 `json:"energy_variance"`
	ZeroCrossingRate     float64 `json:"zero_crossing_rate"`
	PauseFrequency       float64 `json:"pause_frequency"`
	AveragePauseDuration float64 `json:"average_pause_duration"`
}

// LinguisticResult holds linguistic complexity features of the transcript.
type LinguisticResult struct {
	WordCount          int     `json:"word_count"`
	SentenceCount      int     `json:"sentence_count"`
	AvgSentenceLength  float64 `json:"avg_sentence_length"`
	LexicalDiversity   float64 `json:"lexical_diversity"`
	SentenceComplexity float64 `json:"sentence_complexity"`
	CoherenceScore     float64 `json:"coherence_score"`
	FluencyScore       float64 `json:"fluency_score"`
}

// SentimentEmotionResult holds sentiment and emotion signals from the transcript.
type SentimentEmotionResult struct {
	SentimentScore      float64            `json:"sentiment_score"`
	SentimentLabel      string             `json:"sentiment_label"`
	SentimentConfidence float64            `json:"sentiment_confidence"`
	DominantEmotion     string             `json:"dominant_emotion"`
	EmotionConfidence   float64            `json:"emotion_confidence"`
	EmotionScores       map[string]float64 `json:"emotion_scores,omitempty"`
}

// FeedbackResult is the output of feedback synthesis.
type FeedbackResult struct {
	GrammarFeedback       string  `json:"grammar_feedback"`
	PronunciationFeedback string  `json:"pronunciation_feedback"`
	ContentEvaluation     string  `json:"content_evaluation"`
	Rating                float64 `json:"rating"`
}

// PracticeSession is the consolidated report persisted once a task completes.
type PracticeSession struct {
	ID                    int64     `json:"id"`
	ParentTaskID          string    `json:"parent_task_id"`
	Topic                 string    `json:"topic"`
	Difficulty            string    `json:"difficulty"`
	Question              string    `json:"question"`
	IdealAnswer           string    `json:"ideal_answer"`
	Transcript            string    `json:"transcript"`
	GrammarFeedback       string    `json:"grammar_feedback,omitempty"`
	PronunciationFeedback string    `json:"pronunciation_feedback,omitempty"`
	ContentEvaluation     string    `json:"content_evaluation,omitempty"`
	AudioFeatures         string    `json:"audio_features,omitempty"`      // JSON
	LinguisticFeatures    string    `json:"linguistic_features,omitempty"` // JSON
	SentimentEmotion      string    `json:"sentiment_emotion,omitempty"`   // JSON
	SpeakingRateWPM       float64   `json:"speaking_rate_wpm,omitempty"`
	Rating                float64   `json:"rating"`
	CreatedAt             time.Time `json:"created_at"`
}

// TaskResult is the task-level result payload pointing at the stored report.
type TaskResult struct {
	PracticeSessionID int64 `json:"practice_session_id"`
}

// Event is an append-only audit record of a pipeline transition.
type Event struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"task_id"`
	Component string    `json:"component,omitempty"`
	Action    string    `json:"action"`
	Outcome   string    `json:"outcome"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
