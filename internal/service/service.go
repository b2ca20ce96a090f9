// Package service provides the business logic between the HTTP API and the
// pipeline: accepting evaluations and projecting task status.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vaakshakti/pipeline/internal/audiostore"
	"github.com/vaakshakti/pipeline/internal/audit"
	"github.com/vaakshakti/pipeline/internal/models"
	"github.com/vaakshakti/pipeline/internal/pipeline"
	"github.com/vaakshakti/pipeline/internal/store"
)

// Sentinel errors for submission validation.
var (
	ErrMissingAudio     = errors.New("audio recording is required")
	ErrMissingQuestion  = errors.New("question is required")
	ErrUnknownComponent = errors.New("unknown component kind")
)

// Service wires submissions into the pipeline and answers status queries.
type Service struct {
	store     *store.Store
	audio     *audiostore.Store
	scheduler *pipeline.Scheduler
	events    *audit.EventWriter
	log       *logrus.Logger
}

// New creates the evaluation service.
func New(s *store.Store, audio *audiostore.Store, sch *pipeline.Scheduler, events *audit.EventWriter, log *logrus.Logger) *Service {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{store: s, audio: audio, scheduler: sch, events: events, log: log}
}

// Submission is one evaluation request.
type Submission struct {
	Topic       string
	Difficulty  string
	Question    string
	IdealAnswer string
	Model       string
	// Required overrides the default required component set when non-empty.
	Required []models.ComponentKind
	// Audio is the uploaded recording; Filename supplies the extension.
	Audio    io.Reader
	Filename string
}

// SubmitEvaluation stores the recording, creates the task with all of its
// components, and kicks off scheduling. The task is durable before this
// returns; dispatch failures surface through status polling, not here.
func (s *Service) SubmitEvaluation(ctx context.Context, sub Submission) (*models.Task, error) {
	if sub.Audio == nil {
		return nil, ErrMissingAudio
	}
	if sub.Question == "" {
		return nil, ErrMissingQuestion
	}

	required := sub.Required
	if len(required) == 0 {
		required = models.DefaultRequiredKinds()
	}
	known := make(map[models.ComponentKind]bool)
	for _, k := range models.AllKinds() {
		known[k] = true
	}
	for _, k := range required {
		if !known[k] {
			return nil, fmt.Errorf("%w: %s", ErrUnknownComponent, k)
		}
	}

	audioRef, err := s.audio.Save(sub.Audio, sub.Filename)
	if err != nil {
		return nil, fmt.Errorf("store audio: %w", err)
	}

	task, _, err := s.store.CreateEvaluation(sub.Topic, sub.Difficulty, sub.Question, sub.IdealAnswer, audioRef, sub.Model, required)
	if err != nil {
		s.audio.Remove(audioRef)
		return nil, fmt.Errorf("create evaluation: %w", err)
	}

	s.events.Record(task.ID, "", "task.submit", "success", "")

	// The task stays pending until the scheduler gets its first component in
	// flight; a dispatch failure here leaves it pending for the sweeper.
	if err := s.scheduler.OnEvent(ctx, task.ID); err != nil {
		s.log.WithError(err).WithField("task_id", task.ID).Warn("initial dispatch incomplete")
	}

	return s.store.GetTask(task.ID)
}

// ComponentStatus is the per-component slice of a status response. Each entry
// carries the component id and its intermediate result, so a polling client
// can read, say, the transcript before the whole task finishes.
type ComponentStatus struct {
	ComponentID   string                `json:"component_id"`
	Kind          models.ComponentKind  `json:"component_type"`
	Status        models.ComponentState `json:"status"`
	StatusMessage string                `json:"status_message,omitempty"`
	Attempt       int                   `json:"attempt"`
	Result        json.RawMessage       `json:"result,omitempty"`
	ErrorMessage  string                `json:"error_message,omitempty"`
	UpdatedAt     time.Time             `json:"updated_at"`
	CompletedAt   *time.Time            `json:"completed_at,omitempty"`
}

// TaskStatus is the polling payload for one task.
type TaskStatus struct {
	TaskID        string            `json:"task_id"`
	Status        models.TaskState  `json:"status"`
	Progress      int               `json:"progress"`
	StatusMessage string            `json:"status_message,omitempty"`
	Result        json.RawMessage   `json:"result,omitempty"`
	ErrorMessage  string            `json:"error_message,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
	CompletedAt   *time.Time        `json:"completed_at,omitempty"`
	Components    []ComponentStatus `json:"components"`
}

// TaskStatus projects the current task state for polling clients. A freshly
// submitted task reports processing with zero progress.
func (s *Service) TaskStatus(taskID string) (*TaskStatus, error) {
	task, err := s.store.GetTask(taskID)
	if err != nil {
		return nil, err
	}
	components, err := s.store.GetComponents(taskID)
	if err != nil {
		return nil, err
	}

	st := &TaskStatus{
		TaskID:        task.ID,
		Status:        task.State,
		Progress:      task.Progress,
		StatusMessage: task.StatusMessage,
		ErrorMessage:  task.ErrorMessage,
		CreatedAt:     task.CreatedAt,
		UpdatedAt:     task.UpdatedAt,
		CompletedAt:   task.CompletedAt,
		Components:    make([]ComponentStatus, 0, len(components)),
	}
	if task.Result != "" {
		st.Result = json.RawMessage(task.Result)
	}
	for _, comp := range components {
		cs := ComponentStatus{
			ComponentID:   comp.ID,
			Kind:          comp.Kind,
			Status:        comp.State,
			StatusMessage: comp.StatusMessage,
			Attempt:       comp.Attempt,
			ErrorMessage:  comp.ErrorMessage,
			UpdatedAt:     comp.UpdatedAt,
			CompletedAt:   comp.CompletedAt,
		}
		if comp.Result != "" {
			cs.Result = json.RawMessage(comp.Result)
		}
		st.Components = append(st.Components, cs)
	}
	return st, nil
}

// Session returns a stored practice session report.
func (s *Service) Session(id int64) (*models.PracticeSession, error) {
	return s.store.GetPracticeSession(id)
}

// Events returns the audit trail of a task, oldest first.
func (s *Service) Events(taskID string) ([]models.Event, error) {
	if _, err := s.store.GetTask(taskID); err != nil {
		return nil, err
	}
	return s.store.GetEvents(taskID)
}
