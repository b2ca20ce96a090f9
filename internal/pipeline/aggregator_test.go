package pipeline

import (
	"context"
	"encoding/json"
	"math"
	"sync"
	"testing"

	"github.com/vaakshakti/pipeline/internal/models"
)

var (
	testAudioFeatures = models.AudioFeaturesResult{
		DurationSeconds:  30,
		AverageEnergy:    0.12,
		ZeroCrossingRate: 0.08,
	}
	testLinguistic = models.LinguisticResult{
		WordCount:        18,
		SentenceCount:    2,
		LexicalDiversity: 0.83,
		CoherenceScore:   0.4,
		FluencyScore:     0.7,
	}
	testSentiment = models.SentimentEmotionResult{
		SentimentScore:  0.4,
		SentimentLabel:  "positive",
		DominantEmotion: "joy",
	}
	testFeedback = models.FeedbackResult{
		GrammarFeedback:       "Your grammar is solid.",
		PronunciationFeedback: "Practice the word mountains.",
		ContentEvaluation:     "Good coverage of the question.",
		Rating:                5.0,
	}
)

func completeAll(t *testing.T, env *testEnv, byKind map[models.ComponentKind]*models.Component) {
	t.Helper()
	env.completeComponent(t, byKind[models.KindTranscription].ID, testTranscription)
	env.completeComponent(t, byKind[models.KindAudioFeatures].ID, testAudioFeatures)
	env.completeComponent(t, byKind[models.KindLinguistic].ID, testLinguistic)
	env.completeComponent(t, byKind[models.KindSentimentEmotion].ID, testSentiment)
	env.completeComponent(t, byKind[models.KindFeedbackSynthesis].ID, testFeedback)
}

func TestTryFinalizeUpdatesProgress(t *testing.T) {
	env := newTestEnv(t)
	task, byKind := env.createEvaluation(t, nil)

	env.completeComponent(t, byKind[models.KindTranscription].ID, testTranscription)
	env.completeComponent(t, byKind[models.KindAudioFeatures].ID, testAudioFeatures)

	if err := env.aggregator.TryFinalize(context.Background(), task.ID); err != nil {
		t.Fatalf("TryFinalize: %v", err)
	}

	got, _ := env.store.GetTask(task.ID)
	if got.State != models.TaskProcessing {
		t.Errorf("Task should still be processing, got %s", got.State)
	}
	if got.Progress != 40 {
		t.Errorf("Expected progress 40, got %d", got.Progress)
	}
	if got.StatusMessage != "2/5 components processed." {
		t.Errorf("Unexpected status message: %q", got.StatusMessage)
	}
}

func TestTryFinalizeFailedComponentAddsNoProgress(t *testing.T) {
	env := newTestEnv(t)
	task, byKind := env.createEvaluation(t, nil)

	env.completeComponent(t, byKind[models.KindTranscription].ID, testTranscription)
	env.failComponent(t, byKind[models.KindAudioFeatures].ID, "unreadable audio")

	if err := env.aggregator.TryFinalize(context.Background(), task.ID); err != nil {
		t.Fatalf("TryFinalize: %v", err)
	}

	got, _ := env.store.GetTask(task.ID)
	if got.State != models.TaskProcessing {
		t.Fatalf("Task should still be processing, got %s", got.State)
	}
	// One of five components delivered a result; the failed one counts for
	// nothing even though it is terminal.
	if got.Progress != 20 {
		t.Errorf("Expected progress 20, got %d", got.Progress)
	}
	if got.StatusMessage != "1/5 components processed." {
		t.Errorf("Unexpected status message: %q", got.StatusMessage)
	}
}

func TestTryFinalizeCompletesTask(t *testing.T) {
	env := newTestEnv(t)
	task, byKind := env.createEvaluation(t, nil)
	completeAll(t, env, byKind)

	if err := env.aggregator.TryFinalize(context.Background(), task.ID); err != nil {
		t.Fatalf("TryFinalize: %v", err)
	}

	got, _ := env.store.GetTask(task.ID)
	if got.State != models.TaskCompleted {
		t.Fatalf("Expected completed, got %s (error: %s)", got.State, got.ErrorMessage)
	}
	if got.Progress != 100 {
		t.Errorf("Expected progress 100, got %d", got.Progress)
	}
	if got.StatusMessage != "Evaluation complete. Results ready." {
		t.Errorf("Unexpected status message: %q", got.StatusMessage)
	}

	var result models.TaskResult
	if err := json.Unmarshal([]byte(got.Result), &result); err != nil {
		t.Fatalf("Task result is not valid JSON: %v", err)
	}

	session, err := env.store.GetPracticeSession(result.PracticeSessionID)
	if err != nil {
		t.Fatalf("GetPracticeSession: %v", err)
	}
	if session.Transcript != testTranscription.Transcript {
		t.Errorf("Session transcript mismatch: %q", session.Transcript)
	}
	if session.GrammarFeedback != testFeedback.GrammarFeedback {
		t.Errorf("Grammar feedback mismatch: %q", session.GrammarFeedback)
	}
	if session.Rating != 5.0 {
		t.Errorf("Expected rating 5.0, got %v", session.Rating)
	}
	// 18 words over 30 seconds is 36 words per minute.
	if math.Abs(session.SpeakingRateWPM-36) > 0.01 {
		t.Errorf("Expected speaking rate 36 WPM, got %v", session.SpeakingRateWPM)
	}
	if session.LinguisticFeatures == "" || session.SentimentEmotion == "" || session.AudioFeatures == "" {
		t.Error("Optional analysis sections missing from session")
	}
}

func TestTryFinalizeRequiredFailureFailsTask(t *testing.T) {
	env := newTestEnv(t)
	task, byKind := env.createEvaluation(t, nil)

	env.completeComponent(t, byKind[models.KindTranscription].ID, testTranscription)
	env.failComponent(t, byKind[models.KindLinguistic].ID, "analysis crashed")

	if err := env.aggregator.TryFinalize(context.Background(), task.ID); err != nil {
		t.Fatalf("TryFinalize: %v", err)
	}

	got, _ := env.store.GetTask(task.ID)
	if got.State != models.TaskFailed {
		t.Fatalf("Expected failed, got %s", got.State)
	}
	if got.ErrorMessage != "analysis crashed" {
		t.Errorf("Expected the component error, got %q", got.ErrorMessage)
	}

	// Later completions cannot resurrect the task.
	env.completeComponent(t, byKind[models.KindFeedbackSynthesis].ID, testFeedback)
	if err := env.aggregator.TryFinalize(context.Background(), task.ID); err != nil {
		t.Fatalf("TryFinalize: %v", err)
	}
	got, _ = env.store.GetTask(task.ID)
	if got.State != models.TaskFailed {
		t.Errorf("Task state changed after finalization: %s", got.State)
	}
}

func TestTryFinalizeOptionalFailureDoesNotFailTask(t *testing.T) {
	env := newTestEnv(t)
	task, byKind := env.createEvaluation(t, nil)

	env.completeComponent(t, byKind[models.KindTranscription].ID, testTranscription)
	env.completeComponent(t, byKind[models.KindLinguistic].ID, testLinguistic)
	env.completeComponent(t, byKind[models.KindFeedbackSynthesis].ID, testFeedback)
	env.failComponent(t, byKind[models.KindAudioFeatures].ID, "unreadable audio")
	applied, err := env.store.MarkComponentSkipped(byKind[models.KindSentimentEmotion].ID, "Skipped: dependency transcription did not complete.")
	if err != nil || !applied {
		t.Fatalf("MarkComponentSkipped applied=%v err=%v", applied, err)
	}

	if err := env.aggregator.TryFinalize(context.Background(), task.ID); err != nil {
		t.Fatalf("TryFinalize: %v", err)
	}

	got, _ := env.store.GetTask(task.ID)
	if got.State != models.TaskCompleted {
		t.Fatalf("Expected completed despite optional failures, got %s (error: %s)", got.State, got.ErrorMessage)
	}

	var result models.TaskResult
	if err := json.Unmarshal([]byte(got.Result), &result); err != nil {
		t.Fatalf("Task result is not valid JSON: %v", err)
	}
	session, err := env.store.GetPracticeSession(result.PracticeSessionID)
	if err != nil {
		t.Fatalf("GetPracticeSession: %v", err)
	}
	if session.SentimentEmotion != "" || session.AudioFeatures != "" {
		t.Error("Failed optional sections should be empty in the session")
	}
	if session.SpeakingRateWPM != 0 {
		t.Errorf("Speaking rate should be unset without audio features, got %v", session.SpeakingRateWPM)
	}
}

func TestTryFinalizeConcurrent(t *testing.T) {
	env := newTestEnv(t)
	task, byKind := env.createEvaluation(t, nil)
	completeAll(t, env, byKind)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := env.aggregator.TryFinalize(context.Background(), task.ID); err != nil {
				t.Errorf("TryFinalize: %v", err)
			}
		}()
	}
	wg.Wait()

	got, _ := env.store.GetTask(task.ID)
	if got.State != models.TaskCompleted {
		t.Fatalf("Expected completed, got %s", got.State)
	}

	// All racers must agree on a single stored session.
	var result models.TaskResult
	if err := json.Unmarshal([]byte(got.Result), &result); err != nil {
		t.Fatalf("Task result is not valid JSON: %v", err)
	}
	if _, err := env.store.GetPracticeSession(result.PracticeSessionID); err != nil {
		t.Fatalf("GetPracticeSession: %v", err)
	}
}
