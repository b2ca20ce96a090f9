// Package executors implements the analysis stages of the evaluation
// pipeline. Each executor is a pure function of its input plus, for the
// model-backed stages, a call to an external inference service. Executors are
// idempotent so that at-least-once delivery is safe.
package executors

import (
	"net/http"
	"time"

	"github.com/vaakshakti/pipeline/internal/models"
	"github.com/vaakshakti/pipeline/internal/pipeline"
)

// Config holds the endpoints and defaults shared by the executors.
type Config struct {
	// ASRURL is the base URL of the transcription service.
	ASRURL string
	// OllamaURL is the base URL of the Ollama inference server.
	OllamaURL string
	// DefaultModel is used for feedback synthesis when a task names none.
	DefaultModel string
	// HTTPTimeout bounds a single outbound request. The worker pool applies
	// its own per-attempt timeout on top through the context.
	HTTPTimeout time.Duration
}

// StaticRegistry is a closed mapping from component kind to executor, built
// once at startup.
type StaticRegistry struct {
	executors map[models.ComponentKind]pipeline.Executor
}

// NewRegistry builds the production registry with one executor per kind.
func NewRegistry(cfg Config) *StaticRegistry {
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "mistral:latest"
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Minute
	}
	client := &http.Client{Timeout: cfg.HTTPTimeout}
	ollama := newOllamaClient(cfg.OllamaURL, client)

	reg := &StaticRegistry{executors: make(map[models.ComponentKind]pipeline.Executor)}
	for _, exec := range []pipeline.Executor{
		NewTranscriptionExecutor(cfg.ASRURL, client),
		NewAudioFeaturesExecutor(),
		NewLinguisticExecutor(),
		NewSentimentEmotionExecutor(),
		NewFeedbackExecutor(ollama, cfg.DefaultModel),
	} {
		reg.executors[exec.Kind()] = exec
	}
	return reg
}

// ForKind resolves the executor for a component kind.
func (r *StaticRegistry) ForKind(kind models.ComponentKind) (pipeline.Executor, bool) {
	exec, ok := r.executors[kind]
	return exec, ok
}
