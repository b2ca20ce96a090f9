package pipeline

import (
	"context"
	"strings"
	"testing"

	"github.com/vaakshakti/pipeline/internal/models"
)

func TestOnEventDispatchesIndependentComponents(t *testing.T) {
	env := newTestEnv(t)
	task, byKind := env.createEvaluation(t, nil)

	if err := env.scheduler.OnEvent(context.Background(), task.ID); err != nil {
		t.Fatalf("OnEvent: %v", err)
	}

	items := env.drainQueue(t)
	if len(items) != 2 {
		t.Fatalf("Expected 2 dispatched items, got %d", len(items))
	}
	dispatched := map[models.ComponentKind]bool{}
	for _, item := range items {
		dispatched[item.Kind] = true
		if item.Input.AudioRef != task.AudioRef {
			t.Errorf("Item %s missing audio ref", item.Kind)
		}
	}
	if !dispatched[models.KindTranscription] || !dispatched[models.KindAudioFeatures] {
		t.Errorf("Wrong components dispatched: %v", dispatched)
	}

	// Transcript-dependent components stay pending.
	for _, kind := range []models.ComponentKind{models.KindLinguistic, models.KindSentimentEmotion, models.KindFeedbackSynthesis} {
		if st := env.componentState(t, byKind[kind].ID); st != models.ComponentPending {
			t.Errorf("Component %s should be pending, got %s", kind, st)
		}
	}
}

func TestOnEventNoDoubleDispatch(t *testing.T) {
	env := newTestEnv(t)
	task, _ := env.createEvaluation(t, nil)

	for i := 0; i < 3; i++ {
		if err := env.scheduler.OnEvent(context.Background(), task.ID); err != nil {
			t.Fatalf("OnEvent: %v", err)
		}
	}

	if items := env.drainQueue(t); len(items) != 2 {
		t.Errorf("Expected 2 items after repeated scans, got %d", len(items))
	}
}

func TestOnEventUnlocksDependentsAfterTranscription(t *testing.T) {
	env := newTestEnv(t)
	task, byKind := env.createEvaluation(t, nil)

	if err := env.scheduler.OnEvent(context.Background(), task.ID); err != nil {
		t.Fatalf("OnEvent: %v", err)
	}
	env.drainQueue(t)

	env.completeComponent(t, byKind[models.KindTranscription].ID, testTranscription)

	if err := env.scheduler.OnEvent(context.Background(), task.ID); err != nil {
		t.Fatalf("OnEvent: %v", err)
	}

	items := env.drainQueue(t)
	if len(items) != 3 {
		t.Fatalf("Expected 3 unlocked items, got %d", len(items))
	}
	for _, item := range items {
		if item.Input.Transcript != testTranscription.Transcript {
			t.Errorf("Item %s missing transcript", item.Kind)
		}
		if item.Kind == models.KindFeedbackSynthesis {
			if len(item.Input.FlaggedWords) != 1 || item.Input.FlaggedWords[0].Word != "mountains" {
				t.Errorf("Feedback input missing flagged words: %+v", item.Input.FlaggedWords)
			}
		}
	}
}

func TestOnEventFailFastPropagation(t *testing.T) {
	env := newTestEnv(t)
	task, byKind := env.createEvaluation(t, nil)

	if err := env.scheduler.OnEvent(context.Background(), task.ID); err != nil {
		t.Fatalf("OnEvent: %v", err)
	}
	env.drainQueue(t)

	env.failComponent(t, byKind[models.KindTranscription].ID, "no speech detected")

	if err := env.scheduler.OnEvent(context.Background(), task.ID); err != nil {
		t.Fatalf("OnEvent: %v", err)
	}

	// Required dependents fail, the optional one is skipped, and nothing new
	// is dispatched.
	if items := env.drainQueue(t); len(items) != 0 {
		t.Errorf("Expected no dispatches after upstream failure, got %d", len(items))
	}
	for _, kind := range []models.ComponentKind{models.KindLinguistic, models.KindFeedbackSynthesis} {
		if st := env.componentState(t, byKind[kind].ID); st != models.ComponentFailed {
			t.Errorf("Required %s should be failed, got %s", kind, st)
		}
	}
	if st := env.componentState(t, byKind[models.KindSentimentEmotion].ID); st != models.ComponentSkipped {
		t.Errorf("Optional sentiment_emotion should be skipped, got %s", st)
	}

	comp, err := env.store.GetComponent(byKind[models.KindLinguistic].ID)
	if err != nil {
		t.Fatalf("GetComponent: %v", err)
	}
	if !strings.Contains(comp.ErrorMessage, string(ErrorUpstream)) {
		t.Errorf("Upstream failure not recorded in error message: %q", comp.ErrorMessage)
	}
}

func TestOnEventMarksTaskProcessing(t *testing.T) {
	env := newTestEnv(t)
	task, _, err := env.store.CreateEvaluation(
		"travel", "intermediate", "Describe your last trip.", "An ideal answer.",
		"/tmp/audio.wav", "", models.DefaultRequiredKinds(),
	)
	if err != nil {
		t.Fatalf("CreateEvaluation: %v", err)
	}
	if task.State != models.TaskPending {
		t.Fatalf("New task should be pending, got %s", task.State)
	}

	if err := env.scheduler.OnEvent(context.Background(), task.ID); err != nil {
		t.Fatalf("OnEvent: %v", err)
	}

	got, _ := env.store.GetTask(task.ID)
	if got.State != models.TaskProcessing {
		t.Errorf("Expected processing after first dispatch, got %s", got.State)
	}
}

func TestOnEventLeavesTaskPendingWhenDispatchFails(t *testing.T) {
	env := newTestEnv(t)
	task, components, err := env.store.CreateEvaluation(
		"travel", "intermediate", "Describe your last trip.", "An ideal answer.",
		"/tmp/audio.wav", "", models.DefaultRequiredKinds(),
	)
	if err != nil {
		t.Fatalf("CreateEvaluation: %v", err)
	}
	env.queue.Close()

	if err := env.scheduler.OnEvent(context.Background(), task.ID); err == nil {
		t.Fatal("Expected an enqueue error with a closed queue")
	}

	// The task never left pending and the claimed component was put back, so
	// a later sweep can dispatch both.
	got, _ := env.store.GetTask(task.ID)
	if got.State != models.TaskPending {
		t.Errorf("Expected pending after failed dispatch, got %s", got.State)
	}
	for _, comp := range components {
		if st := env.componentState(t, comp.ID); st != models.ComponentPending {
			t.Errorf("Component %s should be pending, got %s", comp.Kind, st)
		}
	}
}

func TestOnEventIgnoresTerminalTask(t *testing.T) {
	env := newTestEnv(t)
	task, _ := env.createEvaluation(t, nil)

	won, err := env.store.FinalizeTask(task.ID, models.TaskFailed, "", "boom", "Evaluation failed.")
	if err != nil || !won {
		t.Fatalf("FinalizeTask won=%v err=%v", won, err)
	}

	if err := env.scheduler.OnEvent(context.Background(), task.ID); err != nil {
		t.Fatalf("OnEvent: %v", err)
	}
	if items := env.drainQueue(t); len(items) != 0 {
		t.Errorf("Terminal task dispatched %d items", len(items))
	}
}
