// Package upstream is the HTTP client shared by the service-to-service calls.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "github.com/foch-qualite/sequad/internal/shared/errors"
)

// maxErrorBody bounds how much of an error response is kept as its message.
const maxErrorBody = 4096

// Config holds configuration for an upstream JSON service
type Config struct {
	// Target names the service in errors, logs and metrics.
	Target  string
	BaseURL string
	Timeout time.Duration
	// Token is sent as a bearer token when set.
	Token string
}

// Client performs JSON GET requests against one upstream service.
type Client struct {
	target     string
	baseURL    string
	token      string
	httpClient *http.Client
}

// New creates a new upstream client
func New(cfg Config) *Client {
	return &Client{
		target:  cfg.Target,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// Target returns the service name used in errors.
func (c *Client) Target() string {
	return c.target
}

// GetRows fetches path and decodes a JSON array, one raw message per element.
// Non-200 answers become Upstream errors carrying the status and message;
// deadline overruns become Timeout errors.
func (c *Client) GetRows(ctx context.Context, path string, params url.Values) ([]json.RawMessage, error) {
	var rows []json.RawMessage
	if err := c.GetJSON(ctx, path, params, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// GetJSON fetches path and decodes the JSON body into out.
func (c *Client) GetJSON(ctx context.Context, path string, params url.Values, out any) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return apperrors.Internal(fmt.Errorf("build %s request: %w", c.target, err))
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.transportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return apperrors.Upstream(c.target, resp.StatusCode, errorMessage(body), nil)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if mapped, ok := apperrors.As(apperrors.FromContext(c.target, err)); ok {
			return mapped
		}
		return apperrors.Upstream(c.target, resp.StatusCode, "invalid JSON response", err)
	}
	return nil
}

func (c *Client) transportError(err error) error {
	mapped := apperrors.FromContext(c.target, err)
	if _, ok := apperrors.As(mapped); ok {
		return mapped
	}
	return apperrors.Upstream(c.target, 0, "", err)
}

// errorMessage extracts a readable message from an error body: the
// "error" or "detail" field of a JSON object, else the trimmed text.
func errorMessage(body []byte) string {
	var payload struct {
		Error  string `json:"error"`
		Detail any    `json:"detail"`
	}
	if json.Unmarshal(body, &payload) == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if s, ok := payload.Detail.(string); ok && s != "" {
			return s
		}
	}
	return strings.TrimSpace(string(body))
}
