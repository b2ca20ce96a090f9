package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/vaakshakti/pipeline/internal/audit"
	"github.com/vaakshakti/pipeline/internal/models"
	"github.com/vaakshakti/pipeline/internal/store"
)

// Aggregator turns component outcomes into task-level progress and, once
// every component is terminal, into a finalized task. Finalization goes
// through a store-level compare-and-set, so however many completion events
// race, exactly one pass writes the terminal state and the report.
type Aggregator struct {
	store  *store.Store
	events *audit.EventWriter
	log    *logrus.Logger
}

// NewAggregator creates a status aggregator.
func NewAggregator(s *store.Store, events *audit.EventWriter, log *logrus.Logger) *Aggregator {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Aggregator{store: s, events: events, log: log}
}

// TryFinalize recomputes task progress and finalizes the task when possible.
// It is safe to call after every component transition; calls on a task that
// is not yet finished, or already terminal, are no-ops beyond the progress
// update.
func (a *Aggregator) TryFinalize(ctx context.Context, taskID string) error {
	task, err := a.store.GetTask(taskID)
	if err != nil {
		return fmt.Errorf("aggregator load task: %w", err)
	}
	if task.State.Terminal() {
		return nil
	}

	components, err := a.store.GetComponents(taskID)
	if err != nil {
		return fmt.Errorf("aggregator load components: %w", err)
	}
	if len(components) == 0 {
		return Aggregation("progress", fmt.Errorf("task %s has no components", taskID))
	}

	// Progress reflects delivered components only; a failed component is
	// terminal but contributes nothing.
	terminal, done := 0, 0
	for i := range components {
		switch components[i].State {
		case models.ComponentCompleted, models.ComponentSkipped:
			terminal++
			done++
		case models.ComponentFailed:
			terminal++
		}
	}
	progress := done * 100 / len(components)
	msg := fmt.Sprintf("%d/%d components processed.", done, len(components))
	if err := a.store.SetTaskProgress(taskID, progress, msg); err != nil {
		return fmt.Errorf("update progress: %w", err)
	}

	required := task.RequiredSet()

	// A failed required component fails the whole task as soon as it is
	// observed; optional results that are still in flight do not hold the
	// terminal state back.
	if failed := firstRequiredFailure(components, required); failed != nil {
		return a.finalizeFailed(taskID, failed)
	}

	if terminal < len(components) {
		return nil
	}

	report, err := a.buildReport(task, components)
	if err != nil {
		// Inconsistent terminal state. The task must not hang in
		// processing forever, so it fails loudly.
		aerr := Aggregation("build report", err)
		a.log.WithError(aerr).WithField("task_id", taskID).Error("aggregation failed")
		won, ferr := a.store.FinalizeTask(taskID, models.TaskFailed, "", aerr.Error(), "Evaluation failed.")
		if ferr != nil {
			return fmt.Errorf("finalize after aggregation error: %w", ferr)
		}
		if won {
			a.events.Record(taskID, "", "task.finalize", "failed", aerr.Error())
		}
		return aerr
	}

	sessionID, err := a.store.SavePracticeSession(report)
	if err != nil {
		return fmt.Errorf("save practice session: %w", err)
	}

	resultJSON, err := json.Marshal(models.TaskResult{PracticeSessionID: sessionID})
	if err != nil {
		return fmt.Errorf("encode task result: %w", err)
	}

	won, err := a.store.FinalizeTask(taskID, models.TaskCompleted, string(resultJSON), "", "Evaluation complete. Results ready.")
	if err != nil {
		return fmt.Errorf("finalize task: %w", err)
	}
	if !won {
		return nil
	}

	a.events.Record(taskID, "", "task.finalize", "completed", fmt.Sprintf("practice_session_id=%d", sessionID))
	a.log.WithFields(logrus.Fields{
		"task_id":             taskID,
		"practice_session_id": sessionID,
		"rating":              report.Rating,
	}).Info("task completed")
	return nil
}

// firstRequiredFailure returns the earliest failed required component, in
// creation order, or nil when none has failed.
func firstRequiredFailure(components []models.Component, required map[models.ComponentKind]bool) *models.Component {
	for i := range components {
		comp := &components[i]
		if comp.State == models.ComponentFailed && required[comp.Kind] {
			return comp
		}
	}
	return nil
}

func (a *Aggregator) finalizeFailed(taskID string, failed *models.Component) error {
	errMsg := failed.ErrorMessage
	if errMsg == "" {
		errMsg = fmt.Sprintf("%s failed", failed.Kind)
	}
	won, err := a.store.FinalizeTask(taskID, models.TaskFailed, "", errMsg, "Evaluation failed.")
	if err != nil {
		return fmt.Errorf("finalize failed task: %w", err)
	}
	if won {
		a.events.Record(taskID, failed.Kind, "task.finalize", "failed", errMsg)
		a.log.WithFields(logrus.Fields{
			"task_id":   taskID,
			"component": failed.Kind,
			"error":     errMsg,
		}).Warn("task failed")
	}
	return nil
}

// buildReport assembles the consolidated practice session from terminal
// component results. Required results must be present; optional components
// that were skipped or failed simply leave their section empty.
func (a *Aggregator) buildReport(task *models.Task, components []models.Component) (*models.PracticeSession, error) {
	byKind := make(map[models.ComponentKind]*models.Component, len(components))
	for i := range components {
		byKind[components[i].Kind] = &components[i]
	}

	ps := &models.PracticeSession{
		ParentTaskID: task.ID,
		Topic:        task.Topic,
		Difficulty:   task.Difficulty,
		Question:     task.Question,
		IdealAnswer:  task.IdealAnswer,
	}

	var tr models.TranscriptionResult
	if err := decodeCompleted(byKind, models.KindTranscription, &tr); err != nil {
		return nil, err
	}
	ps.Transcript = tr.Transcript

	if comp := byKind[models.KindFeedbackSynthesis]; comp != nil && comp.State == models.ComponentCompleted {
		var fb models.FeedbackResult
		if err := json.Unmarshal([]byte(comp.Result), &fb); err != nil {
			return nil, fmt.Errorf("decode %s result: %w", models.KindFeedbackSynthesis, err)
		}
		ps.GrammarFeedback = fb.GrammarFeedback
		ps.PronunciationFeedback = fb.PronunciationFeedback
		ps.ContentEvaluation = fb.ContentEvaluation
		ps.Rating = fb.Rating
	} else if isRequired(task, models.KindFeedbackSynthesis) {
		return nil, fmt.Errorf("required %s result missing", models.KindFeedbackSynthesis)
	}

	if comp := byKind[models.KindLinguistic]; comp != nil && comp.State == models.ComponentCompleted {
		ps.LinguisticFeatures = comp.Result
	} else if comp == nil || comp.State != models.ComponentSkipped {
		// Linguistic analysis is required by default; reaching here with it
		// failed means the required set and the component states disagree.
		if isRequired(task, models.KindLinguistic) {
			return nil, fmt.Errorf("required %s result missing", models.KindLinguistic)
		}
	}

	if comp := byKind[models.KindSentimentEmotion]; comp != nil && comp.State == models.ComponentCompleted {
		ps.SentimentEmotion = comp.Result
	}

	if comp := byKind[models.KindAudioFeatures]; comp != nil && comp.State == models.ComponentCompleted {
		ps.AudioFeatures = comp.Result
		var af models.AudioFeaturesResult
		if err := json.Unmarshal([]byte(comp.Result), &af); err != nil {
			return nil, fmt.Errorf("decode %s result: %w", models.KindAudioFeatures, err)
		}
		ps.SpeakingRateWPM = speakingRate(tr.Transcript, af.DurationSeconds)
	}

	return ps, nil
}

// decodeCompleted unmarshals the result of a component that must be completed.
func decodeCompleted(byKind map[models.ComponentKind]*models.Component, kind models.ComponentKind, out interface{}) error {
	comp, ok := byKind[kind]
	if !ok || comp.State != models.ComponentCompleted {
		return fmt.Errorf("required %s result missing", kind)
	}
	if err := json.Unmarshal([]byte(comp.Result), out); err != nil {
		return fmt.Errorf("decode %s result: %w", kind, err)
	}
	return nil
}

func isRequired(task *models.Task, kind models.ComponentKind) bool {
	for _, k := range task.Required {
		if k == kind {
			return true
		}
	}
	return false
}

// speakingRate computes words per minute from the transcript and the measured
// recording duration. Zero when the duration is unknown.
func speakingRate(transcript string, durationSeconds float64) float64 {
	if durationSeconds <= 0 {
		return 0
	}
	words := len(strings.Fields(transcript))
	return float64(words) / (durationSeconds / 60.0)
}
