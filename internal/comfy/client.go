// Package comfy is a stateless wrapper around the generation engine's HTTP
// surface. Retry policy belongs to callers; the client reports what the
// engine said and nothing more.
package comfy

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/artforge/artforge-be/internal/graph"
)

var (
	// ErrEngineUnavailable means the engine could not be reached at all.
	ErrEngineUnavailable = errors.New("generation engine unavailable")
	// ErrEngineRejected means the engine reached but refused the graph.
	ErrEngineRejected = errors.New("generation engine rejected the graph")
	// ErrExecutionNotFound means the engine has no history for the handle.
	ErrExecutionNotFound = errors.New("execution not found")
)

// ArtifactRef locates one produced binary on the engine.
type ArtifactRef struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// OutputBundle is the per-node output report from execution history.
type OutputBundle struct {
	Images    []ArtifactRef `json:"images"`
	Videos    []ArtifactRef `json:"videos"`
	Gifs      []ArtifactRef `json:"gifs"`
	Filenames []ArtifactRef `json:"filenames"`
}

// Execution is the engine's view of one submitted graph.
type Execution struct {
	Completed bool
	Status    string
	Outputs   map[string]OutputBundle
}

// Client talks to one engine instance.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the engine at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

type submitRequest struct {
	Prompt   graph.Graph `json:"prompt"`
	ClientID string      `json:"client_id"`
}

type submitResponse struct {
	PromptID   string         `json:"prompt_id"`
	Error      any            `json:"error"`
	NodeErrors map[string]any `json:"node_errors"`
}

// Submit sends a compiled graph for execution and returns the engine's
// execution handle.
func (c *Client) Submit(ctx context.Context, g graph.Graph, clientID string) (string, error) {
	body, err := json.Marshal(submitRequest{Prompt: g, ClientID: clientID})
	if err != nil {
		return "", fmt.Errorf("encode graph: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/prompt", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read engine response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d: %s", ErrEngineRejected, resp.StatusCode, truncate(data, 512))
	}

	var parsed submitResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("decode engine response: %w", err)
	}
	if len(parsed.NodeErrors) > 0 || parsed.Error != nil {
		return "", fmt.Errorf("%w: %s", ErrEngineRejected, truncate(data, 512))
	}
	if parsed.PromptID == "" {
		return "", fmt.Errorf("%w: empty prompt id", ErrEngineRejected)
	}

	return parsed.PromptID, nil
}

// historyEntry mirrors the engine's history payload for one handle.
type historyEntry struct {
	Status struct {
		Completed bool   `json:"completed"`
		StatusStr string `json:"status_str"`
	} `json:"status"`
	Outputs map[string]OutputBundle `json:"outputs"`
}

// History fetches the execution status and outputs for a handle.
func (c *Client) History(ctx context.Context, promptID string) (*Execution, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/history/"+url.PathEscape(promptID), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("engine history: unexpected status %d", resp.StatusCode)
	}

	var parsed map[string]historyEntry
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}

	entry, ok := parsed[promptID]
	if !ok {
		return nil, ErrExecutionNotFound
	}

	return &Execution{
		Completed: entry.Status.Completed,
		Status:    entry.Status.StatusStr,
		Outputs:   entry.Outputs,
	}, nil
}

// FetchArtifact downloads one produced binary by filename, subfolder, and
// artifact class ("output", "temp", "input").
func (c *Client) FetchArtifact(ctx context.Context, filename, subfolder, artifactType string) ([]byte, error) {
	q := url.Values{}
	q.Set("filename", filename)
	q.Set("subfolder", subfolder)
	q.Set("type", artifactType)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/view?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("engine view: unexpected status %d for %s", resp.StatusCode, filename)
	}

	return io.ReadAll(resp.Body)
}

type uploadResponse struct {
	Name      string `json:"name"`
	Subfolder string `json:"subfolder"`
}

// UploadArtifact pushes an input binary into the engine's input directory
// and returns the name the engine stored it under.
func (c *Client) UploadArtifact(ctx context.Context, data []byte, filename string) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	part, err := mw.CreateFormFile("image", filename)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	if err := mw.WriteField("overwrite", "true"); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload/image", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("engine upload: unexpected status %d", resp.StatusCode)
	}

	var parsed uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode upload response: %w", err)
	}
	if parsed.Name == "" {
		parsed.Name = filename
	}

	return parsed.Name, nil
}

// UploadDataURL decodes an inline base64 data URL (as embedded in workflow
// image nodes) and uploads it under the given filename.
func (c *Client) UploadDataURL(ctx context.Context, dataURL, filename string) (string, error) {
	idx := strings.Index(dataURL, ",")
	if !strings.HasPrefix(dataURL, "data:") || idx < 0 {
		return "", fmt.Errorf("not a data URL")
	}

	raw, err := base64.StdEncoding.DecodeString(dataURL[idx+1:])
	if err != nil {
		return "", fmt.Errorf("decode data URL: %w", err)
	}

	return c.UploadArtifact(ctx, raw, filename)
}

func truncate(data []byte, n int) string {
	if len(data) > n {
		return string(data[:n]) + "..."
	}
	return string(data)
}
