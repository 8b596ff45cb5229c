// Package faceclient calls the external embedding extractor service. The
// core only consumes a fixed-length vector or the service's failure message;
// detection and preprocessing live entirely on the other side of this client.
package faceclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

// Client calls the face embedding microservice.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	// Skip short-circuits the service with a deterministic vector, for dev
	// environments without the extractor running.
	Skip bool

	dim int
}

// New creates a client. dim is the expected embedding length, used only by
// Skip mode.
func New(baseURL string, dim int, skip bool) *Client {
	return &Client{
		BaseURL: baseURL,
		Skip:    skip,
		dim:     dim,
		HTTP: &http.Client{
			Timeout: 30 * time.Second, // embedding extraction can take a while
		},
	}
}

// Extract requests an embedding for the captured image bytes. A response
// without a vector is an error carrying the service's message verbatim.
func (c *Client) Extract(ctx context.Context, image []byte) ([]float32, error) {
	if c.Skip {
		vec := make([]float32, c.dim)
		for i := range vec {
			vec[i] = 1
		}
		return vec, nil
	}
	if len(image) == 0 {
		return nil, fmt.Errorf("image bytes required")
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile("file", "capture.jpg")
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(image); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/embed", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("face service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("face service error %s: %s", resp.Status, string(bodyBytes))
	}

	var out struct {
		Embedding []float32 `json:"embedding"`
		Error     string    `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(out.Embedding) == 0 {
		if out.Error != "" {
			return nil, fmt.Errorf("%s", out.Error)
		}
		return nil, fmt.Errorf("no face detected in image")
	}
	return out.Embedding, nil
}

// Health checks if the face service is available.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("face service unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("face service unhealthy: %s", resp.Status)
	}
	return nil
}
