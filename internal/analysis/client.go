// Package analysis calls the frame-analysis collaborator service, which
// answers a natural-language prompt about a video moment or a captured
// live frame.
package analysis

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/streamlens/streamlens/internal/logger"
)

// DefaultPrompt is used when the operator has not set one.
const DefaultPrompt = "How many people do you see in this image?"

// Result is the collaborator's answer.
type Result struct {
	Success   bool   `json:"success"`
	Timestamp string `json:"timestamp"`
	FramePath string `json:"frame_path,omitempty"`
	Analysis  string `json:"analysis"`
	Error     string `json:"error,omitempty"`
}

type recordedRequest struct {
	TimeSeconds   float64 `json:"timeSeconds"`
	DeviceID      string  `json:"deviceId"`
	VideoFilename string  `json:"videoFilename"`
	Prompt        string  `json:"prompt"`
}

type liveRequest struct {
	ImageData    string `json:"imageData"`
	Prompt       string `json:"prompt"`
	DeviceID     string `json:"deviceId"`
	StreamName   string `json:"streamName"`
	IsLiveStream bool   `json:"isLiveStream"`
}

// Client talks to the analysis service. Requests are not retried; a failed
// analysis is reported to the operator as-is.
type Client struct {
	baseURL  string
	deviceID string
	http     *http.Client

	mu     sync.Mutex
	prompt string
}

// NewClient creates a client for the service at baseURL.
func NewClient(baseURL, deviceID string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{
		baseURL:  baseURL,
		deviceID: deviceID,
		http:     httpClient,
		prompt:   DefaultPrompt,
	}
}

// Prompt returns the active analysis prompt.
func (c *Client) Prompt() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.prompt
}

// SetPrompt replaces the analysis prompt; empty restores the default.
func (c *Client) SetPrompt(p string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p == "" {
		p = DefaultPrompt
	}
	c.prompt = p
}

// AnalyzeRecorded asks the service about a moment in a recorded video,
// identified by filename and position.
func (c *Client) AnalyzeRecorded(ctx context.Context, filename string, position time.Duration) (*Result, error) {
	req := recordedRequest{
		TimeSeconds:   position.Seconds(),
		DeviceID:      c.deviceID,
		VideoFilename: filename,
		Prompt:        c.Prompt(),
	}
	return c.post(ctx, "/api/analyze", req)
}

// AnalyzeLive sends a captured frame for analysis. The frame is inlined as
// a base64 JPEG data URL.
func (c *Client) AnalyzeLive(ctx context.Context, streamName string, frameJPEG []byte) (*Result, error) {
	req := liveRequest{
		ImageData:    "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(frameJPEG),
		Prompt:       c.Prompt(),
		DeviceID:     c.deviceID,
		StreamName:   streamName,
		IsLiveStream: true,
	}
	return c.post(ctx, "/api/analyze-stream", req)
}

func (c *Client) post(ctx context.Context, path string, payload any) (*Result, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode analysis request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("analysis request: %w", err)
	}
	defer resp.Body.Close()

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode analysis response (HTTP %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		if result.Error != "" {
			return nil, fmt.Errorf("analysis failed (HTTP %d): %s", resp.StatusCode, result.Error)
		}
		return nil, fmt.Errorf("analysis failed with HTTP %d", resp.StatusCode)
	}

	logger.Debug("Analysis", "%s answered in %s", path, time.Since(start).Round(time.Millisecond))
	return &result, nil
}
