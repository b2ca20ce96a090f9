package executors

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/vaakshakti/pipeline/internal/pipeline"
)

// ollamaClient calls an Ollama server's generate endpoint with streaming
// disabled.
type ollamaClient struct {
	baseURL string
	client  *http.Client
}

func newOllamaClient(baseURL string, client *http.Client) *ollamaClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &ollamaClient{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// generate runs one completion and returns the model output.
func (c *ollamaClient) generate(ctx context.Context, model, prompt string) (string, error) {
	body, err := json.Marshal(generateRequest{Model: model, Prompt: prompt, Stream: false})
	if err != nil {
		return "", pipeline.Permanent("ollama generate", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", pipeline.Permanent("ollama generate", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", pipeline.Transient("ollama generate", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", classifyStatus("ollama generate", resp.StatusCode, string(msg))
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", pipeline.Transient("ollama generate", fmt.Errorf("decode response: %w", err))
	}
	if strings.TrimSpace(out.Response) == "" {
		return "", pipeline.Transient("ollama generate", fmt.Errorf("model %s returned an empty response", model))
	}
	return strings.TrimSpace(out.Response), nil
}
