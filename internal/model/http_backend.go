package model

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"time"

	"github.com/book-expert/music-service/internal/audio"
	"github.com/book-expert/music-service/internal/core"
)

// API endpoints and paths.
const (
	apiLoadModel    = "/v1/models/load"
	apiGenerate     = "/v1/generate"
	apiTaskFmt      = "/v1/tasks/%s"
	apiTaskAudioFmt = "/v1/tasks/%s/audio?index=%d"
	apiHealth       = "/health"
)

// HTTP headers.
const (
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	contentTypeJSON   = "application/json"
)

// Task states reported by the inference server.
const (
	TaskRunning   = "running"
	TaskSucceeded = "succeeded"
	TaskFailed    = "failed"
)

// Error messages.
const (
	errFmtUnexpectedContentType = "unexpected content type: expected audio/wav, got %s"
	errFmtServiceErrorWithCode  = "music service error (%s): %s (code: %s)"
	errFmtServiceNonOKStatus    = "music service returned non-OK status: %s, body: %s"
	errFmtTaskFailed            = "generation task %s failed: %s"
	errFmtSampleRateMismatch    = "audio sample rate %d Hz does not match model rate %d Hz"
)

// Static errors.
var (
	ErrReceivedEmptyAudio = errors.New("received empty audio data")
	ErrEmptyTaskID        = errors.New("music service returned an empty task id")
	ErrNoPrompts          = errors.New("at least one prompt is required")
)

// HTTPClient talks to a MusicGen inference server.
type HTTPClient struct {
	httpClient   *http.Client
	baseURL      string
	pollInterval time.Duration
}

// LoadRequest asks the server to load a pretrained model.
type LoadRequest struct {
	Model string `json:"model"`
}

// LoadResponse describes the loaded model.
type LoadResponse struct {
	Model      string `json:"model"`
	SampleRate int    `json:"sample_rate"`
}

// GenerateRequest defines the JSON payload for a generation task. The parameters
// travel with each request; nothing is set on shared server state.
type GenerateRequest struct {
	Model       string   `json:"model"`
	Prompts     []string `json:"prompts"`
	Duration    int      `json:"duration"`
	TopK        int      `json:"top_k"`
	UseSampling bool     `json:"use_sampling"`
}

// GenerateResponse carries the id of a submitted task.
type GenerateResponse struct {
	TaskID string `json:"task_id"`
}

// TaskStatus is the polled state of a generation task.
type TaskStatus struct {
	TaskID    string `json:"task_id"`
	Status    string `json:"status"`
	Generated int    `json:"generated"`
	Total     int    `json:"total"`
	Error     string `json:"error,omitempty"`
}

// ErrorResponse represents a structured error response from the server.
type ErrorResponse struct {
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code,omitempty"`
}

// NewHTTPClient creates a client for the server at baseURL. The timeout applies to
// each HTTP request; pollInterval spaces task status polls.
func NewHTTPClient(baseURL string, timeout, pollInterval time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL:      baseURL,
		pollInterval: pollInterval,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// LoadModel loads the named pretrained configuration on the server.
func (c *HTTPClient) LoadModel(ctx context.Context, modelName string) (*LoadResponse, error) {
	var resp LoadResponse

	err := c.doJSON(ctx, http.MethodPost, apiLoadModel, LoadRequest{Model: modelName}, &resp)
	if err != nil {
		return nil, fmt.Errorf("failed to load model '%s': %w", modelName, err)
	}

	return &resp, nil
}

// SubmitGeneration starts a generation task and returns its id.
func (c *HTTPClient) SubmitGeneration(ctx context.Context, req GenerateRequest) (string, error) {
	if len(req.Prompts) == 0 {
		return "", ErrNoPrompts
	}

	var resp GenerateResponse

	err := c.doJSON(ctx, http.MethodPost, apiGenerate, req, &resp)
	if err != nil {
		return "", fmt.Errorf("failed to submit generation: %w", err)
	}

	if resp.TaskID == "" {
		return "", ErrEmptyTaskID
	}

	return resp.TaskID, nil
}

// TaskStatus fetches the current state of a task.
func (c *HTTPClient) TaskStatus(ctx context.Context, taskID string) (*TaskStatus, error) {
	var status TaskStatus

	err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf(apiTaskFmt, url.PathEscape(taskID)), nil, &status)
	if err != nil {
		return nil, fmt.Errorf("failed to query task %s: %w", taskID, err)
	}

	return &status, nil
}

// DownloadAudio returns the WAV bytes for one batch element of a finished task.
func (c *HTTPClient) DownloadAudio(ctx context.Context, taskID string, index int) ([]byte, error) {
	path := fmt.Sprintf(apiTaskAudioFmt, url.PathEscape(taskID), index)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set(headerAccept, audio.MediaTypeWAV)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to download audio from %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	contentType := resp.Header.Get(headerContentType)

	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || mediaType != audio.MediaTypeWAV {
		return nil, fmt.Errorf(errFmtUnexpectedContentType, contentType)
	}

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio data: %w", err)
	}

	if len(audioData) == 0 {
		return nil, ErrReceivedEmptyAudio
	}

	return audioData, nil
}

// HealthCheck verifies that the inference server is running.
func (c *HTTPClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+apiHealth, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed for service at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status: %s", resp.Status)
	}

	return nil
}

// WaitForTask polls until the task leaves the running state, reporting each poll.
func (c *HTTPClient) WaitForTask(ctx context.Context, taskID string, progress core.ProgressFunc) (*TaskStatus, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		status, err := c.TaskStatus(ctx, taskID)
		if err != nil {
			return nil, err
		}

		progress.Report(status.Generated, status.Total)

		switch status.Status {
		case TaskSucceeded:
			return status, nil
		case TaskFailed:
			return nil, fmt.Errorf(errFmtTaskFailed, taskID, status.Error)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *HTTPClient) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader = http.NoBody

	if body != nil {
		requestBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}

		reader = bytes.NewReader(requestBody)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		httpReq.Header.Set(headerContentType, contentTypeJSON)
	}

	httpReq.Header.Set(headerAccept, contentTypeJSON)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request to music service at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}

	err = json.NewDecoder(resp.Body).Decode(out)
	if err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}

// parseErrorResponse decodes a structured JSON error, falling back to the raw body.
func (c *HTTPClient) parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var errorResp ErrorResponse

	err := json.Unmarshal(body, &errorResp)
	if err == nil && errorResp.Detail != "" {
		return fmt.Errorf(errFmtServiceErrorWithCode, resp.Status, errorResp.Detail, errorResp.ErrorCode)
	}

	return fmt.Errorf(errFmtServiceNonOKStatus, resp.Status, string(body))
}

// HTTPLoader loads models through an inference server.
type HTTPLoader struct {
	client *HTTPClient
}

// NewHTTPLoader creates a loader that uses client.
func NewHTTPLoader(client *HTTPClient) *HTTPLoader {
	return &HTTPLoader{client: client}
}

// Load asks the server to load modelName and returns a handle bound to it.
func (l *HTTPLoader) Load(ctx context.Context, modelName string) (core.ModelHandle, error) {
	resp, err := l.client.LoadModel(ctx, modelName)
	if err != nil {
		return nil, err
	}

	sampleRate := resp.SampleRate
	if sampleRate == 0 {
		sampleRate = audio.DefaultSampleRate
	}

	return &HTTPHandle{
		client:     l.client,
		modelName:  modelName,
		sampleRate: sampleRate,
	}, nil
}

// HTTPHandle is a model loaded on a remote inference server.
type HTTPHandle struct {
	client     *HTTPClient
	modelName  string
	sampleRate int
}

// SampleRate returns the model's output sample rate.
func (h *HTTPHandle) SampleRate() int {
	return h.sampleRate
}

// Generate submits one task for the whole batch, waits for it and decodes each output.
func (h *HTTPHandle) Generate(
	ctx context.Context,
	prompts []string,
	params core.GenerationParams,
	progress core.ProgressFunc,
) ([]core.SampleBuffer, error) {
	taskID, err := h.client.SubmitGeneration(ctx, GenerateRequest{
		Model:       h.modelName,
		Prompts:     prompts,
		Duration:    params.DurationSeconds,
		TopK:        params.TopK,
		UseSampling: params.UseSampling,
	})
	if err != nil {
		return nil, err
	}

	_, err = h.client.WaitForTask(ctx, taskID, progress)
	if err != nil {
		return nil, err
	}

	batch := make([]core.SampleBuffer, 0, len(prompts))

	for i := range prompts {
		data, err := h.client.DownloadAudio(ctx, taskID, i)
		if err != nil {
			return nil, err
		}

		buffer, sampleRate, err := audio.DecodeWAV(data)
		if err != nil {
			return nil, err
		}

		if sampleRate != h.sampleRate {
			return nil, fmt.Errorf(errFmtSampleRateMismatch, sampleRate, h.sampleRate)
		}

		batch = append(batch, buffer)
	}

	return batch, nil
}
