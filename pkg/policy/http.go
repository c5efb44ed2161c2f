package policy

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/substrate-robotics/armloop/pkg/robot"
)

// HTTPConfig configures a Client.
type HTTPConfig struct {
	// Endpoint is the inference server URL, e.g. "http://127.0.0.1:9090/predict".
	Endpoint string `json:"endpoint"`
	// Timeout is the hard per-request deadline.
	Timeout time.Duration `json:"timeout"`
	// ChunkSize is the action horizon L the server is expected to return.
	ChunkSize int `json:"chunk_size"`
}

// Validate checks the configuration fail-fast at construction time.
func (c HTTPConfig) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("policy: endpoint is required")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("policy: timeout must be positive, got %v", c.Timeout)
	}
	if c.ChunkSize < 1 {
		return fmt.Errorf("policy: chunk size must be >= 1, got %d", c.ChunkSize)
	}
	return nil
}

type predictRequest struct {
	Qpos     []float64 `json:"qpos"`
	Qvel     []float64 `json:"qvel"`
	ImageB64 string    `json:"image_b64,omitempty"`
}

type predictResponse struct {
	Actions [][]float64 `json:"actions"`
	Error   string      `json:"error,omitempty"`
}

// Client calls a policy inference server over HTTP. One JSON POST per
// Predict; the request deadline is the configured timeout.
type Client struct {
	cfg    HTTPConfig
	client *http.Client
}

// NewClient creates an HTTP oracle client.
func NewClient(cfg HTTPConfig) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Reset notifies the server that a new episode begins. A missing /reset
// route is tolerated: stateless policies have nothing to reset.
func (c *Client) Reset() error {
	req, err := http.NewRequest(http.MethodPost, c.cfg.Endpoint+"/reset", nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("policy reset: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("policy reset: unexpected status %s", resp.Status)
	}
	return nil
}

// Predict posts the observation and decodes the returned action chunk.
func (c *Client) Predict(ctx context.Context, state robot.JointState, image []byte) (ActionChunk, error) {
	body := predictRequest{
		Qpos: state.Q,
		Qvel: state.Dq,
	}
	if len(image) > 0 {
		body.ImageB64 = base64.StdEncoding.EncodeToString(image)
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return ActionChunk{}, fmt.Errorf("encode observation: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return ActionChunk{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return ActionChunk{}, fmt.Errorf("policy predict: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ActionChunk{}, fmt.Errorf("policy predict: unexpected status %s", resp.Status)
	}

	var decoded predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return ActionChunk{}, fmt.Errorf("decode prediction: %w", err)
	}
	if decoded.Error != "" {
		return ActionChunk{}, fmt.Errorf("policy predict: server error: %s", decoded.Error)
	}

	chunk := ActionChunk{Actions: decoded.Actions}
	if err := chunk.Validate(c.cfg.ChunkSize, len(state.Q)); err != nil {
		return ActionChunk{}, err
	}
	return chunk, nil
}
