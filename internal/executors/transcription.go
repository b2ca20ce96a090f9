package executors

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/vaakshakti/pipeline/internal/models"
	"github.com/vaakshakti/pipeline/internal/pipeline"
)

// flagThreshold is the word-level recognition confidence below which a word
// is reported for pronunciation feedback.
const flagThreshold = 0.85

// TranscriptionExecutor sends the recording to the speech-to-text service and
// returns the transcript with low-confidence words flagged.
type TranscriptionExecutor struct {
	baseURL string
	client  *http.Client
}

// NewTranscriptionExecutor creates the transcription stage.
func NewTranscriptionExecutor(baseURL string, client *http.Client) *TranscriptionExecutor {
	if client == nil {
		client = http.DefaultClient
	}
	return &TranscriptionExecutor{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (e *TranscriptionExecutor) Kind() models.ComponentKind { return models.KindTranscription }

type asrWord struct {
	Word        string  `json:"word"`
	Probability float64 `json:"probability"`
}

type asrSegment struct {
	Start float64   `json:"start"`
	End   float64   `json:"end"`
	Text  string    `json:"text"`
	Words []asrWord `json:"words,omitempty"`
}

type asrResponse struct {
	Segments []asrSegment `json:"segments"`
	Language string       `json:"language"`
}

// Execute uploads the audio file and assembles the transcript. A missing
// audio file or an empty transcript is permanent; transport failures and
// server errors are transient.
func (e *TranscriptionExecutor) Execute(ctx context.Context, in models.ComponentInput) (interface{}, error) {
	if _, err := os.Stat(in.AudioRef); err != nil {
		return nil, pipeline.Permanent("transcribe", fmt.Errorf("audio file not found: %w", err))
	}

	resp, err := e.post(ctx, in.AudioRef)
	if err != nil {
		return nil, err
	}

	var transcript strings.Builder
	var flagged []models.FlaggedWord
	for _, seg := range resp.Segments {
		if transcript.Len() > 0 {
			transcript.WriteString(" ")
		}
		transcript.WriteString(strings.TrimSpace(seg.Text))
		for _, w := range seg.Words {
			if w.Probability > 0 && w.Probability < flagThreshold {
				flagged = append(flagged, models.FlaggedWord{
					Word:        strings.TrimSpace(w.Word),
					Probability: w.Probability,
				})
			}
		}
	}

	text := strings.TrimSpace(transcript.String())
	if text == "" {
		return nil, pipeline.Permanent("transcribe", errors.New("no speech detected"))
	}

	return &models.TranscriptionResult{
		Transcript:   text,
		Language:     resp.Language,
		FlaggedWords: flagged,
	}, nil
}

func (e *TranscriptionExecutor) post(ctx context.Context, wavPath string) (*asrResponse, error) {
	var b bytes.Buffer
	w := multipart.NewWriter(&b)

	fw, err := w.CreateFormFile("file", filepath.Base(wavPath))
	if err != nil {
		return nil, pipeline.Permanent("transcribe", err)
	}
	fd, err := os.Open(wavPath)
	if err != nil {
		return nil, pipeline.Permanent("transcribe", fmt.Errorf("open audio: %w", err))
	}
	defer fd.Close()

	if _, err = io.Copy(fw, fd); err != nil {
		return nil, pipeline.Transient("transcribe", fmt.Errorf("read audio: %w", err))
	}
	if err = w.Close(); err != nil {
		return nil, pipeline.Permanent("transcribe", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/transcribe", &b)
	if err != nil {
		return nil, pipeline.Permanent("transcribe", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, pipeline.Transient("transcribe", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, classifyStatus("transcribe", resp.StatusCode, string(body))
	}

	var out asrResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, pipeline.Transient("transcribe", fmt.Errorf("decode response: %w", err))
	}
	return &out, nil
}

// classifyStatus maps an HTTP error status to the retry policy: client errors
// will not improve on retry, server errors and throttling might.
func classifyStatus(op string, status int, body string) error {
	err := fmt.Errorf("%s: %s", http.StatusText(status), strings.TrimSpace(body))
	if status >= 400 && status < 500 && status != http.StatusTooManyRequests {
		return pipeline.Permanent(op, err)
	}
	return pipeline.Transient(op, err)
}
