package main

import (
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vaakshakti/pipeline/internal/models"
	"github.com/vaakshakti/pipeline/internal/service"
)

// DefaultClientTimeout is the default timeout for API requests.
const DefaultClientTimeout = 30 * time.Second

var apiAddr string

var apiClient = &http.Client{
	Timeout: DefaultClientTimeout,
}

var submitCmd = &cobra.Command{
	Use:   "submit [audio-file]",
	Short: "Submit a recording for evaluation",
	Args:  cobra.ExactArgs(1),
	RunE:  runSubmit,
}

var statusCmd = &cobra.Command{
	Use:   "status [task-id]",
	Short: "Show evaluation status",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

var sessionCmd = &cobra.Command{
	Use:   "session [session-id]",
	Short: "Show a completed practice session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSession,
}

var eventsCmd = &cobra.Command{
	Use:   "events [task-id]",
	Short: "Show the audit trail of a task",
	Args:  cobra.ExactArgs(1),
	RunE:  runEvents,
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check daemon health",
	RunE:  runHealth,
}

var (
	submitTopic      string
	submitDifficulty string
	submitQuestion   string
	submitIdeal      string
	submitModel      string
	submitComponents string
	submitWait       bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&apiAddr, "api", "http://127.0.0.1:8080", "Daemon API address")
	rootCmd.AddCommand(submitCmd, statusCmd, sessionCmd, eventsCmd, healthCmd)

	submitCmd.Flags().StringVar(&submitTopic, "topic", "", "Practice topic")
	submitCmd.Flags().StringVar(&submitDifficulty, "difficulty", "", "Difficulty level")
	submitCmd.Flags().StringVar(&submitQuestion, "question", "", "Question that was answered (required)")
	submitCmd.Flags().StringVar(&submitIdeal, "ideal-answer", "", "Reference answer for content evaluation")
	submitCmd.Flags().StringVar(&submitModel, "model", "", "Feedback model override")
	submitCmd.Flags().StringVar(&submitComponents, "components", "", "Comma-separated required components")
	submitCmd.Flags().BoolVar(&submitWait, "wait", false, "Poll until the evaluation finishes")
	submitCmd.MarkFlagRequired("question")
}

func apiGet(path string) ([]byte, error) {
	resp, err := apiClient.Get(apiAddr + path)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

func runSubmit(cmd *cobra.Command, args []string) error {
	audioPath := args[0]
	f, err := os.Open(audioPath)
	if err != nil {
		return err
	}
	defer f.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		fields := map[string]string{
			"topic":               submitTopic,
			"difficulty":          submitDifficulty,
			"question":            submitQuestion,
			"ideal_answer":        submitIdeal,
			"model":               submitModel,
			"required_components": submitComponents,
		}
		for k, v := range fields {
			if v != "" {
				if err := mw.WriteField(k, v); err != nil {
					pw.CloseWithError(err)
					return
				}
			}
		}
		fw, err := mw.CreateFormFile("audio_file", filepath.Base(audioPath))
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(fw, f); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	resp, err := apiClient.Post(apiAddr+"/api/v1/speech/evaluate", mw.FormDataContentType(), pr)
	if err != nil {
		return fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("API error (%d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var submitted struct {
		TaskID  string `json:"task_id"`
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &submitted); err != nil {
		return err
	}

	fmt.Printf("Task ID: %s\n", submitted.TaskID)
	fmt.Printf("Status:  %s\n", submitted.Status)

	if !submitWait {
		return nil
	}
	return pollUntilDone(submitted.TaskID)
}

func pollUntilDone(taskID string) error {
	for {
		time.Sleep(2 * time.Second)
		status, err := fetchStatus(taskID)
		if err != nil {
			return err
		}
		fmt.Printf("  %3d%%  %s\n", status.Progress, status.StatusMessage)
		if status.Status.Terminal() {
			printStatus(status)
			if status.Status == models.TaskFailed {
				return fmt.Errorf("evaluation failed: %s", status.ErrorMessage)
			}
			return nil
		}
	}
}

func fetchStatus(taskID string) (*service.TaskStatus, error) {
	body, err := apiGet("/api/v1/tasks/" + taskID + "/status")
	if err != nil {
		return nil, err
	}
	var status service.TaskStatus
	if err := json.Unmarshal(body, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	status, err := fetchStatus(args[0])
	if err != nil {
		return err
	}
	printStatus(status)
	return nil
}

func printStatus(status *service.TaskStatus) {
	fmt.Printf("Task:     %s\n", status.TaskID)
	fmt.Printf("Status:   %s\n", status.Status)
	fmt.Printf("Progress: %d%%\n", status.Progress)
	if status.StatusMessage != "" {
		fmt.Printf("Message:  %s\n", status.StatusMessage)
	}
	if status.ErrorMessage != "" {
		fmt.Printf("Error:    %s\n", status.ErrorMessage)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "COMPONENT\tSTATUS\tATTEMPT\tDETAIL")
	for _, c := range status.Components {
		detail := c.StatusMessage
		if c.ErrorMessage != "" {
			detail = truncate(c.ErrorMessage, 60)
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", c.Kind, c.Status, c.Attempt, detail)
	}
	w.Flush()

	if len(status.Result) > 0 {
		var result models.TaskResult
		if err := json.Unmarshal(status.Result, &result); err == nil && result.PracticeSessionID != 0 {
			fmt.Printf("Session:  %d\n", result.PracticeSessionID)
		}
	}
}

func runSession(cmd *cobra.Command, args []string) error {
	body, err := apiGet("/api/v1/sessions/" + args[0])
	if err != nil {
		return err
	}
	var session models.PracticeSession
	if err := json.Unmarshal(body, &session); err != nil {
		return err
	}

	fmt.Printf("Session:    %d\n", session.ID)
	fmt.Printf("Topic:      %s (%s)\n", session.Topic, session.Difficulty)
	fmt.Printf("Question:   %s\n", session.Question)
	fmt.Printf("Transcript: %s\n", session.Transcript)
	fmt.Printf("Rating:     %.1f / 5\n", session.Rating)
	if session.GrammarFeedback != "" {
		fmt.Printf("\nGrammar:\n%s\n", session.GrammarFeedback)
	}
	if session.PronunciationFeedback != "" {
		fmt.Printf("\nPronunciation:\n%s\n", session.PronunciationFeedback)
	}
	if session.ContentEvaluation != "" {
		fmt.Printf("\nContent:\n%s\n", session.ContentEvaluation)
	}
	return nil
}

func runEvents(cmd *cobra.Command, args []string) error {
	body, err := apiGet("/api/v1/tasks/" + args[0] + "/events")
	if err != nil {
		return err
	}
	var events []models.Event
	if err := json.Unmarshal(body, &events); err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Println("No events found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tCOMPONENT\tACTION\tOUTCOME\tDETAIL")
	for _, e := range events {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			e.CreatedAt.Format(time.RFC3339), e.Component, e.Action, e.Outcome, truncate(e.Detail, 60))
	}
	return w.Flush()
}

func runHealth(cmd *cobra.Command, args []string) error {
	body, err := apiGet("/health")
	if err != nil {
		return err
	}
	fmt.Println(strings.TrimSpace(string(body)))
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
