package executors

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/vaakshakti/pipeline/internal/models"
	"github.com/vaakshakti/pipeline/internal/pipeline"
)

func writeTestAudio(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "answer.wav")
	if err := os.WriteFile(path, []byte("fake audio bytes"), 0644); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	return path
}

func asrServer(t *testing.T, resp asrResponse) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/transcribe" {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		if _, _, err := r.FormFile("file"); err != nil {
			http.Error(w, "missing file part", http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestTranscriptionAssemblesTranscript(t *testing.T) {
	srv := asrServer(t, asrResponse{
		Language: "en",
		Segments: []asrSegment{
			{Text: " I visited the mountains ", Words: []asrWord{
				{Word: "I", Probability: 0.99},
				{Word: "mountains", Probability: 0.72},
			}},
			{Text: "last summer.", Words: []asrWord{
				{Word: "summer", Probability: 0.91},
			}},
		},
	})

	exec := NewTranscriptionExecutor(srv.URL, srv.Client())
	out, err := exec.Execute(context.Background(), models.ComponentInput{AudioRef: writeTestAudio(t)})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	res := out.(*models.TranscriptionResult)

	if res.Transcript != "I visited the mountains last summer." {
		t.Errorf("Transcript = %q", res.Transcript)
	}
	if res.Language != "en" {
		t.Errorf("Language = %q, want en", res.Language)
	}
	if len(res.FlaggedWords) != 1 || res.FlaggedWords[0].Word != "mountains" {
		t.Errorf("FlaggedWords = %+v, want only mountains", res.FlaggedWords)
	}
}

func TestTranscriptionEmptyIsPermanent(t *testing.T) {
	srv := asrServer(t, asrResponse{Language: "en"})

	exec := NewTranscriptionExecutor(srv.URL, srv.Client())
	_, err := exec.Execute(context.Background(), models.ComponentInput{AudioRef: writeTestAudio(t)})
	if err == nil {
		t.Fatal("Expected an error for an empty transcript")
	}
	var perr *pipeline.Error
	if !errors.As(err, &perr) || perr.Kind != pipeline.ErrorPermanent {
		t.Errorf("Empty transcript should be permanent, got %v", err)
	}
}

func TestTranscriptionMissingAudioIsPermanent(t *testing.T) {
	exec := NewTranscriptionExecutor("http://127.0.0.1:0", http.DefaultClient)
	_, err := exec.Execute(context.Background(), models.ComponentInput{AudioRef: "/does/not/exist.wav"})
	if err == nil {
		t.Fatal("Expected an error for a missing file")
	}
	if pipeline.Classify(err) != pipeline.ErrorPermanent {
		t.Errorf("Missing audio should classify permanent, got %v", pipeline.Classify(err))
	}
}

func TestTranscriptionServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model loading", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	exec := NewTranscriptionExecutor(srv.URL, srv.Client())
	_, err := exec.Execute(context.Background(), models.ComponentInput{AudioRef: writeTestAudio(t)})
	if err == nil {
		t.Fatal("Expected an error")
	}
	if pipeline.Classify(err) != pipeline.ErrorTransient {
		t.Errorf("503 should classify transient, got %v", pipeline.Classify(err))
	}
}

func TestClassifyStatus(t *testing.T) {
	if pipeline.Classify(classifyStatus("op", http.StatusBadRequest, "bad input")) != pipeline.ErrorPermanent {
		t.Error("400 should be permanent")
	}
	if pipeline.Classify(classifyStatus("op", http.StatusTooManyRequests, "slow down")) != pipeline.ErrorTransient {
		t.Error("429 should be transient")
	}
	if pipeline.Classify(classifyStatus("op", http.StatusInternalServerError, "boom")) != pipeline.ErrorTransient {
		t.Error("500 should be transient")
	}
}
