package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"renderbot/internal/domain"
	"renderbot/internal/infra"
)

const (
	downloadAttempts = 3
	downloadRetryGap = time.Second
	errorSummaryMax  = 350
)

// Options configures the engine HTTP client.
type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Client is a stateless-per-call HTTP gateway to the node-graph rendering
// engine. Read-only calls (history, queue, stats, schema) never return an
// error; they record the failure for diagnostics and hand back an empty
// payload so polling can continue.
type Client struct {
	baseURL    string
	httpClient *http.Client
	clientID   string
	logger     *infra.Logger

	mu      sync.Mutex
	lastErr string
}

// NewClient constructs an engine gateway with a fresh client-session token.
func NewClient(opts Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("engine: base url is required")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 600 * time.Second}
	}
	return &Client{
		baseURL:    base,
		httpClient: httpClient,
		clientID:   uuid.New().String(),
		logger:     opts.Logger,
	}, nil
}

// LastError returns the most recently recorded engine failure text.
func (c *Client) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *Client) setLastError(msg string) {
	c.mu.Lock()
	c.lastErr = msg
	c.mu.Unlock()
}

// Submit posts a parameterized job graph and returns the engine's submission
// handle. A non-success response is summarized into a SubmissionRejectedError;
// the handle is never returned empty without an error.
func (c *Client) Submit(ctx context.Context, graph any) (string, error) {
	c.setLastError("")

	payload := map[string]any{"prompt": graph, "client_id": c.clientID}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("engine: encode submission: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/prompt", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("engine: build submission: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.setLastError(err.Error())
		return "", fmt.Errorf("engine: submit: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		reason := summarizeSubmitError(raw)
		c.setLastError(reason)
		if c.logger != nil {
			c.logger.Warn().Int("status", resp.StatusCode).Str("reason", reason).Msg("engine: submission rejected")
		}
		return "", &domain.SubmissionRejectedError{Reason: reason}
	}

	var decoded struct {
		PromptID string `json:"prompt_id"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil || decoded.PromptID == "" {
		reason := "engine returned no submission handle"
		c.setLastError(reason)
		return "", &domain.SubmissionRejectedError{Reason: reason}
	}
	return decoded.PromptID, nil
}

// History fetches the status payload for a submission handle. Failures are
// swallowed: polling retries on the next tick.
func (c *Client) History(ctx context.Context, handle string) History {
	var h History
	if err := c.getJSON(ctx, "/history/"+url.PathEscape(handle), &h); err != nil {
		c.warn("history", err)
		return History{}
	}
	return h
}

// QueueSnapshot returns the submission handles currently running and pending
// on the engine. Best effort: both lists are empty on any failure.
func (c *Client) QueueSnapshot(ctx context.Context) (running, pending []string) {
	var snap struct {
		Running [][]any `json:"queue_running"`
		Pending [][]any `json:"queue_pending"`
	}
	if err := c.getJSON(ctx, "/queue", &snap); err != nil {
		c.warn("queue", err)
		return nil, nil
	}
	return handlesFromTuples(snap.Running), handlesFromTuples(snap.Pending)
}

// The queue endpoint reports entries as [number, handle, graph, ...] tuples.
func handlesFromTuples(tuples [][]any) []string {
	var out []string
	for _, t := range tuples {
		if len(t) < 2 {
			continue
		}
		if id, ok := t[1].(string); ok && id != "" {
			out = append(out, id)
		}
	}
	return out
}

// SystemStats fetches the engine's resource report, empty on failure.
func (c *Client) SystemStats(ctx context.Context) SystemStats {
	var stats SystemStats
	if err := c.getJSON(ctx, "/system_stats", &stats); err != nil {
		c.warn("system_stats", err)
		return SystemStats{}
	}
	return stats
}

// CheckHealth reports whether the engine answers its stats endpoint.
func (c *Client) CheckHealth(ctx context.Context) bool {
	return len(c.SystemStats(ctx)) > 0
}

// ListOptions introspects the engine's node schema and returns the enumerated
// valid values for one selectable field, sorted and de-duplicated. An empty
// set means selection is impossible; callers must treat it that way.
func (c *Client) ListOptions(ctx context.Context, nodeType, field string) []string {
	var schema map[string]struct {
		Input struct {
			Required map[string]json.RawMessage `json:"required"`
		} `json:"input"`
	}
	if err := c.getJSON(ctx, "/object_info", &schema); err != nil {
		c.warn("object_info", err)
		return nil
	}

	node, ok := schema[nodeType]
	if !ok {
		return nil
	}
	raw, ok := node.Input.Required[field]
	if !ok {
		return nil
	}
	// Field config shape: [[choices...], {meta...}].
	var cfg []json.RawMessage
	if err := json.Unmarshal(raw, &cfg); err != nil || len(cfg) == 0 {
		return nil
	}
	var choices []string
	if err := json.Unmarshal(cfg[0], &choices); err != nil {
		return nil
	}

	seen := map[string]struct{}{}
	var out []string
	for _, choice := range choices {
		choice = strings.TrimSpace(choice)
		if choice == "" {
			continue
		}
		if _, dup := seen[choice]; dup {
			continue
		}
		seen[choice] = struct{}{}
		out = append(out, choice)
	}
	sort.Strings(out)
	return out
}

// FetchArtifact downloads artifact bytes, retrying transient failures a fixed
// number of times before giving up with a DownloadError.
func (c *Client) FetchArtifact(ctx context.Context, ref ArtifactRef) ([]byte, error) {
	q := url.Values{}
	q.Set("filename", ref.Filename)
	q.Set("subfolder", ref.Subfolder)
	q.Set("type", ref.Type)
	target := c.baseURL + "/view?" + q.Encode()

	var lastErr error
	for attempt := 1; attempt <= downloadAttempts; attempt++ {
		data, err := c.download(ctx, target)
		if err == nil {
			return data, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		if attempt < downloadAttempts {
			select {
			case <-time.After(downloadRetryGap):
			case <-ctx.Done():
				return nil, &domain.DownloadError{Filename: ref.Filename, Err: ctx.Err()}
			}
		}
	}
	return nil, &domain.DownloadError{Filename: ref.Filename, Err: lastErr}
}

func (c *Client) download(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// Upload pushes caller-supplied input bytes (a seed image) into the engine's
// input namespace and returns the server-assigned stored name. The legacy and
// prefixed upload endpoints are tried in order.
func (c *Client) Upload(ctx context.Context, data []byte, filename, subfolder string) (string, error) {
	var lastErr error
	for _, endpoint := range []string{"/upload/image", "/api/upload/image"} {
		name, err := c.uploadTo(ctx, endpoint, data, filename, subfolder)
		if err == nil {
			return name, nil
		}
		lastErr = err
	}
	return "", fmt.Errorf("engine: upload %s: %w", filename, lastErr)
}

func (c *Client) uploadTo(ctx context.Context, endpoint string, data []byte, filename, subfolder string) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("image", filename)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	_ = mw.WriteField("type", "input")
	_ = mw.WriteField("subfolder", subfolder)
	_ = mw.WriteField("overwrite", "true")
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}

	var decoded struct {
		Name     string `json:"name"`
		Filename string `json:"filename"`
		File     string `json:"file"`
	}
	if err := json.Unmarshal(raw, &decoded); err == nil {
		for _, name := range []string{decoded.Name, decoded.Filename, decoded.File} {
			if strings.TrimSpace(name) != "" {
				return strings.TrimSpace(name), nil
			}
		}
	}
	return filename, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) warn(op string, err error) {
	c.setLastError(err.Error())
	if c.logger != nil {
		c.logger.Warn().Err(err).Str("op", op).Msg("engine: read call failed")
	}
}

// summarizeSubmitError extracts a human-readable reason from the engine's
// structured error body: per-node error lists first, then the generic error
// object, then the raw body.
func summarizeSubmitError(body []byte) string {
	var decoded struct {
		NodeErrors map[string]struct {
			Errors []struct {
				Message string `json:"message"`
				Details string `json:"details"`
			} `json:"errors"`
		} `json:"node_errors"`
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &decoded); err == nil {
		var parts []string
		nodeIDs := make([]string, 0, len(decoded.NodeErrors))
		for id := range decoded.NodeErrors {
			nodeIDs = append(nodeIDs, id)
		}
		sort.Strings(nodeIDs)
		for _, id := range nodeIDs {
			errs := decoded.NodeErrors[id].Errors
			if len(errs) > 3 {
				errs = errs[:3]
			}
			for _, e := range errs {
				msg := e.Details
				if msg == "" {
					msg = e.Message
				}
				if msg != "" {
					parts = append(parts, fmt.Sprintf("node %s: %s", id, msg))
				}
			}
		}
		if len(parts) > 0 {
			return truncate(strings.Join(parts, "; "), errorSummaryMax)
		}
		if s := strings.Trim(decoded.Error.Type+": "+decoded.Error.Message, ": "); s != "" {
			return truncate(s, errorSummaryMax)
		}
	}
	return truncate(string(body), errorSummaryMax)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
