package replicate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"adstudio/internal/infra/credentials"
)

// ErrMissingToken indicates no API token is configured.
var ErrMissingToken = errors.New("replicate: api token is required")

// Options configures the Replicate predictions client.
type Options struct {
	Token        credentials.TokenFunc
	BaseURL      string
	HTTPClient   *http.Client
	PollInterval time.Duration
	Logger       zerolog.Logger
}

// Client runs models through the Replicate predictions API.
type Client struct {
	token        credentials.TokenFunc
	baseURL      string
	httpClient   *http.Client
	pollInterval time.Duration
	logger       zerolog.Logger
}

type prediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  any             `json:"error"`
	URLs   struct {
		Get string `json:"get"`
	} `json:"urls"`
}

type errorResponse struct {
	Detail string `json:"detail"`
	Title  string `json:"title"`
}

func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.replicate.com/v1"
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = time.Second
	}
	token := opts.Token
	if token == nil {
		token = credentials.Static("")
	}
	return &Client{
		token:        token,
		baseURL:      baseURL,
		httpClient:   httpClient,
		pollInterval: poll,
		logger:       opts.Logger,
	}
}

// HasCredentials reports whether a token resolves for remote calls.
func (c *Client) HasCredentials(ctx context.Context) bool {
	tok, err := c.token(ctx)
	return err == nil && tok != ""
}

// Run executes model (either "owner/name" or "owner/name:version") with input
// and returns the first URL found in the prediction output.
func (c *Client) Run(ctx context.Context, model string, input map[string]any) (string, error) {
	token, err := c.token(ctx)
	if err != nil {
		return "", fmt.Errorf("replicate: resolve token: %w", err)
	}
	if token == "" {
		return "", ErrMissingToken
	}

	endpoint, body := c.createRequest(model, input)
	pred, err := c.do(ctx, token, http.MethodPost, endpoint, body)
	if err != nil {
		return "", err
	}

	for !terminal(pred.Status) {
		next := pred.URLs.Get
		if next == "" {
			next = c.baseURL + "/predictions/" + pred.ID
		}
		timer := time.NewTimer(c.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", fmt.Errorf("replicate: prediction %s: %w", pred.ID, ctx.Err())
		case <-timer.C:
		}
		pred, err = c.do(ctx, token, http.MethodGet, next, nil)
		if err != nil {
			return "", err
		}
	}

	if pred.Status != "succeeded" {
		return "", fmt.Errorf("replicate: prediction %s %s: %s", pred.ID, pred.Status, errorText(pred.Error))
	}
	out := firstOutputURL(pred.Output)
	if out == "" {
		return "", fmt.Errorf("replicate: prediction %s returned no output", pred.ID)
	}
	c.logger.Debug().Str("model", model).Str("prediction_id", pred.ID).Msg("replicate: prediction succeeded")
	return out, nil
}

func (c *Client) createRequest(model string, input map[string]any) (string, map[string]any) {
	if _, version, ok := strings.Cut(model, ":"); ok {
		return c.baseURL + "/predictions", map[string]any{"version": version, "input": input}
	}
	return c.baseURL + "/models/" + model + "/predictions", map[string]any{"input": input}
}

func (c *Client) do(ctx context.Context, token, method, endpoint string, payload any) (*prediction, error) {
	var reader io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("replicate: encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("replicate: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Prefer", "wait")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("replicate: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("replicate: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var detail errorResponse
		if err := json.Unmarshal(raw, &detail); err == nil && detail.Detail != "" {
			return nil, fmt.Errorf("replicate: status %d: %s", resp.StatusCode, detail.Detail)
		}
		return nil, fmt.Errorf("replicate: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var pred prediction
	if err := json.Unmarshal(raw, &pred); err != nil {
		return nil, fmt.Errorf("replicate: decode response: %w", err)
	}
	if pred.ID == "" && !terminal(pred.Status) {
		return nil, errors.New("replicate: malformed prediction response")
	}
	return &pred, nil
}

func terminal(status string) bool {
	switch status {
	case "succeeded", "failed", "canceled":
		return true
	}
	return false
}

func errorText(v any) string {
	switch e := v.(type) {
	case nil:
		return "no error detail"
	case string:
		return e
	default:
		raw, _ := json.Marshal(e)
		return string(raw)
	}
}

// firstOutputURL accepts a bare string, a list of strings or an object with
// a url-like field.
func firstOutputURL(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return strings.TrimSpace(single)
	}
	var list []any
	if err := json.Unmarshal(raw, &list); err == nil {
		for _, item := range list {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
		return ""
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err == nil {
		for _, key := range []string{"url", "output", "video", "image"} {
			if s, ok := obj[key].(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}
