// Package docstore implements the storage interfaces against a PostgREST
// compatible document store (Supabase and friends). Every call is one HTTP
// round trip; there is no transaction spanning two of them. The conditional
// semantics ride on PostgREST filters: the version check and the claimed
// transition are row filters on the write, and a reused idempotency key
// surfaces as a unique violation.
package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Config holds the document store connection settings.
type Config struct {
	URL        string `yaml:"url"`
	ServiceKey string `yaml:"service_key"`
	// TimeoutSeconds bounds each request; zero means 30 seconds.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

type client struct {
	baseURL    string
	serviceKey string
	http       *http.Client
}

func newClient(cfg Config) *client {
	timeout := 30 * time.Second
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	return &client{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		serviceKey: cfg.ServiceKey,
		http:       &http.Client{Timeout: timeout},
	}
}

// apiError carries the store's HTTP status so callers can map unique
// violations and not-found responses onto domain errors.
type apiError struct {
	Status int
	Body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("document store: status %d: %s", e.Status, e.Body)
}

func (c *client) tableURL(table, filter string) string {
	u := c.baseURL + "/rest/v1/" + table
	if filter != "" {
		u += "?" + filter
	}
	return u
}

func (c *client) do(ctx context.Context, method, rawURL string, body interface{}, prefer string, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return err
	}
	req.Header.Set("apikey", c.serviceKey)
	req.Header.Set("Authorization", "Bearer "+c.serviceKey)
	req.Header.Set("Content-Type", "application/json")
	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(resp.Body)
		return &apiError{Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func eq(field, value string) string {
	return field + "=eq." + url.QueryEscape(value)
}

func statusOf(err error) int {
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}
