/**
 * Vision Client - AI field detection for check images
 *
 * Sends the full check image to the vision service and returns per-field
 * detections with bounding boxes and raw confidences. The service picks the
 * vision model; this client only speaks its HTTP envelope.
 *
 * Long-running requests may be answered with 202 Accepted and a task ID;
 * the client then polls the task until it completes, fails or ctx ends.
 */

package clients

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/adverant/nexus/checkscan-worker/internal/engine"
	"github.com/adverant/nexus/checkscan-worker/internal/logging"
)

// CheckFields are the fields the vision service is asked to detect
var CheckFields = []string{"payee", "amount", "date", "check_number", "bank", "micr"}

// VisionClient handles communication with the vision service
type VisionClient struct {
	baseURL      string
	apiKey       string
	httpClient   *http.Client
	pollInterval time.Duration
	logger       *logging.Logger
}

// VisionConfig configures a VisionClient
type VisionConfig struct {
	BaseURL string
	APIKey  string
	// Timeout bounds a single HTTP exchange; the caller's ctx bounds the
	// whole detection including polling
	Timeout      time.Duration
	PollInterval time.Duration
}

// CheckFieldsRequest represents a request to detect check fields in an image
type CheckFieldsRequest struct {
	Image          string   `json:"image"`  // Base64 encoded image
	Format         string   `json:"format"` // "base64"
	Fields         []string `json:"fields"`
	PreferAccuracy bool     `json:"preferAccuracy"`
	JobID          string   `json:"jobId,omitempty"`
}

// CheckFieldsResponse represents a synchronous response from the detect endpoint
type CheckFieldsResponse struct {
	Success bool            `json:"success"`
	Data    CheckFieldsData `json:"data"`
	Message string          `json:"message"`
}

// CheckFieldsData contains the detections and model metadata
type CheckFieldsData struct {
	Detections     []engine.Detection `json:"detections"`
	ModelUsed      string             `json:"modelUsed"`
	ProcessingTime int64              `json:"processingTime"` // milliseconds
	TaskID         string             `json:"taskId,omitempty"`
}

// TaskStatusResponse represents the response from polling /api/tasks/:taskId
type TaskStatusResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    struct {
		Task TaskInfo `json:"task"`
	} `json:"data"`
}

// TaskInfo contains detailed task information
type TaskInfo struct {
	ID       string          `json:"id"`
	Status   string          `json:"status"`   // "pending", "processing", "completed", "failed"
	Progress int             `json:"progress"` // 0-100
	Result   json.RawMessage `json:"result,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// StatusError is returned when the vision service answers with an
// unexpected HTTP status
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("vision service returned status %d: %s", e.StatusCode, e.Body)
}

// Temporary reports whether retrying might succeed
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// NewVisionClient creates a new vision client
func NewVisionClient(cfg VisionConfig) *VisionClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	return &VisionClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		pollInterval: cfg.PollInterval,
		logger:       logging.NewLogger("VisionClient"),
	}
}

// Detect implements engine.VisionEngine
func (c *VisionClient) Detect(ctx context.Context, img []byte) (*engine.VisionResult, error) {
	data, err := c.DetectFields(ctx, &CheckFieldsRequest{
		Image:          base64.StdEncoding.EncodeToString(img),
		Format:         "base64",
		Fields:         CheckFields,
		PreferAccuracy: true,
		JobID:          engine.JobIDFrom(ctx),
	})
	if err != nil {
		return nil, err
	}
	return &engine.VisionResult{Detections: data.Detections, ModelUsed: data.ModelUsed}, nil
}

// DetectFields posts a detection request and waits for its result
func (c *VisionClient) DetectFields(ctx context.Context, req *CheckFieldsRequest) (*CheckFieldsData, error) {
	c.logger.Info("Requesting check field detection",
		"jobId", req.JobID,
		"fields", len(req.Fields),
		"imageSize", len(req.Image))

	endpoint := fmt.Sprintf("%s/api/internal/vision/check-fields", c.baseURL)

	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(httpReq)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request to vision service failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var out CheckFieldsResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if !out.Success {
		return nil, fmt.Errorf("vision operation failed: %s", out.Message)
	}

	if resp.StatusCode == http.StatusAccepted {
		if out.Data.TaskID == "" {
			return nil, fmt.Errorf("vision service accepted the request without a task ID")
		}
		return c.WaitForTask(ctx, out.Data.TaskID)
	}

	c.logger.Info("Check field detection complete",
		"jobId", req.JobID,
		"modelUsed", out.Data.ModelUsed,
		"detections", len(out.Data.Detections),
		"processingTime", out.Data.ProcessingTime)

	return &out.Data, nil
}

// GetTaskStatus fetches the status of an async task
func (c *VisionClient) GetTaskStatus(ctx context.Context, taskID string) (*TaskInfo, error) {
	endpoint := fmt.Sprintf("%s/api/tasks/%s", c.baseURL, taskID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create status request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("status request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read status response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var status TaskStatusResponse
	if err := json.Unmarshal(body, &status); err != nil {
		return nil, fmt.Errorf("failed to parse status response: %w", err)
	}
	return &status.Data.Task, nil
}

// WaitForTask polls an async task until it completes or fails. Transient
// poll errors are retried until ctx ends; a 4xx status stops polling.
func (c *VisionClient) WaitForTask(ctx context.Context, taskID string) (*CheckFieldsData, error) {
	c.logger.Info("Waiting for vision task", "taskId", taskID)

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("context cancelled while waiting for task %s: %w", taskID, ctx.Err())

		case <-ticker.C:
			task, err := c.GetTaskStatus(ctx, taskID)
			if err != nil {
				var se *StatusError
				if errors.As(err, &se) && !se.Temporary() {
					return nil, fmt.Errorf("vision task %s cannot be polled: %w", taskID, err)
				}
				c.logger.Warn("Failed to get task status", "taskId", taskID, "error", err)
				continue
			}

			switch task.Status {
			case "completed":
				var data CheckFieldsData
				if err := json.Unmarshal(task.Result, &data); err != nil {
					return nil, fmt.Errorf("failed to parse task result: %w", err)
				}
				c.logger.Info("Vision task completed",
					"taskId", taskID,
					"modelUsed", data.ModelUsed,
					"detections", len(data.Detections))
				return &data, nil

			case "failed":
				return nil, fmt.Errorf("vision task %s failed: %s", taskID, task.Error)

			case "pending", "processing":
				c.logger.Debug("Vision task in progress", "taskId", taskID, "progress", task.Progress)

			default:
				c.logger.Warn("Unknown task status", "taskId", taskID, "status", task.Status)
			}
		}
	}
}

// HealthCheck verifies the vision service is available
func (c *VisionClient) HealthCheck(ctx context.Context) error {
	endpoint := fmt.Sprintf("%s/api/health", c.baseURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return nil
}

func (c *VisionClient) setHeaders(req *http.Request) {
	req.Header.Set("X-Source", "checkscan-worker")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}
