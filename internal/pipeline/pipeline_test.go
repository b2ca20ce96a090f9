package pipeline

import (
	"context"
	"encoding/json"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vaakshakti/pipeline/internal/audit"
	"github.com/vaakshakti/pipeline/internal/models"
	"github.com/vaakshakti/pipeline/internal/queue"
	"github.com/vaakshakti/pipeline/internal/store"
)

type testEnv struct {
	store      *store.Store
	queue      *queue.Memory
	events     *audit.EventWriter
	scheduler  *Scheduler
	aggregator *Aggregator
	log        *logrus.Logger
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	log := logrus.New()
	log.SetOutput(io.Discard)

	q := queue.NewMemory(64)
	events := audit.NewEventWriter(s, log)
	return &testEnv{
		store:      s,
		queue:      q,
		events:     events,
		scheduler:  NewScheduler(s, q, events, log),
		aggregator: NewAggregator(s, events, log),
		log:        log,
	}
}

func (env *testEnv) createEvaluation(t *testing.T, required []models.ComponentKind) (*models.Task, map[models.ComponentKind]*models.Component) {
	t.Helper()
	if required == nil {
		required = models.DefaultRequiredKinds()
	}
	task, components, err := env.store.CreateEvaluation(
		"travel", "intermediate", "Describe your last trip.", "An ideal answer.",
		"/tmp/audio.wav", "mistral:latest", required,
	)
	if err != nil {
		t.Fatalf("Failed to create evaluation: %v", err)
	}
	if err := env.store.MarkTaskProcessing(task.ID, "Processing started..."); err != nil {
		t.Fatalf("MarkTaskProcessing: %v", err)
	}
	byKind := make(map[models.ComponentKind]*models.Component, len(components))
	for i := range components {
		byKind[components[i].Kind] = &components[i]
	}
	return task, byKind
}

// drainQueue collects every item available within a short window.
func (env *testEnv) drainQueue(t *testing.T) []queue.Item {
	t.Helper()
	var items []queue.Item
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		item, err := env.queue.Dequeue(ctx)
		cancel()
		if err != nil {
			return items
		}
		items = append(items, item)
	}
}

// completeComponent drives a component through claim and completion outside
// the worker pool.
func (env *testEnv) completeComponent(t *testing.T, id string, result interface{}) {
	t.Helper()
	comp, err := env.store.GetComponent(id)
	if err != nil {
		t.Fatalf("GetComponent: %v", err)
	}
	if comp.State == models.ComponentPending {
		if _, err := env.store.ClaimComponent(id, "working"); err != nil {
			t.Fatalf("ClaimComponent: %v", err)
		}
	}
	data, err := json.Marshal(result)
	if err != nil {
		t.Fatalf("marshal result: %v", err)
	}
	applied, err := env.store.CompleteComponent(id, string(data), "done")
	if err != nil || !applied {
		t.Fatalf("CompleteComponent applied=%v err=%v", applied, err)
	}
}

func (env *testEnv) failComponent(t *testing.T, id, msg string) {
	t.Helper()
	comp, err := env.store.GetComponent(id)
	if err != nil {
		t.Fatalf("GetComponent: %v", err)
	}
	if comp.State == models.ComponentPending {
		if _, err := env.store.ClaimComponent(id, "working"); err != nil {
			t.Fatalf("ClaimComponent: %v", err)
		}
	}
	applied, err := env.store.FailComponent(id, msg, "Component failed.")
	if err != nil || !applied {
		t.Fatalf("FailComponent applied=%v err=%v", applied, err)
	}
}

func (env *testEnv) componentState(t *testing.T, id string) models.ComponentState {
	t.Helper()
	comp, err := env.store.GetComponent(id)
	if err != nil {
		t.Fatalf("GetComponent: %v", err)
	}
	return comp.State
}

// waitFor polls until the condition holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("Timeout waiting for condition")
}

var testTranscription = models.TranscriptionResult{
	Transcript: "I visited the mountains last summer. The views were amazing and I enjoyed every day of the trip.",
	Language:   "en",
	FlaggedWords: []models.FlaggedWord{
		{Word: "mountains", Probability: 0.72},
	},
}
