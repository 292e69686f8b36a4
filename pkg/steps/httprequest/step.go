// Package httprequest provides a step executor that performs an HTTP request.
package httprequest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ciroautuori/automato/pkg/models"
	"github.com/ciroautuori/automato/pkg/protocol"
	"github.com/ciroautuori/automato/pkg/template"
)

// ErrMissingURL is returned when the step config has no url.
var ErrMissingURL = errors.New("http_request step requires a 'url'")

const maxResponseBody = 4 * 1024 * 1024

// Step performs one HTTP request. The engine enforces the deadline through
// the invocation context; the step does not carry its own timeout or retry
// policy.
type Step struct {
	URL     string
	Method  string
	Headers map[string]string
	Body    string
}

func NewStep(config map[string]any) (*Step, error) {
	url, _ := config["url"].(string)
	if url == "" {
		return nil, ErrMissingURL
	}

	method, _ := config["method"].(string)
	if method == "" {
		method = http.MethodGet
	}

	body, _ := config["body"].(string)

	headers := make(map[string]string)

	if headersConfig, ok := config["headers"].(map[string]any); ok {
		for k, v := range headersConfig {
			if strVal, ok := v.(string); ok {
				headers[k] = strVal
			}
		}
	}

	return &Step{
		URL:     url,
		Method:  strings.ToUpper(method),
		Headers: headers,
		Body:    body,
	}, nil
}

func (s *Step) Execute(ctx context.Context, executionCtx models.ExecutionContext, logger *slog.Logger) (*protocol.Result, error) {
	logger = logger.With("step_type", "http_request")

	req, err := s.buildRequest(ctx, executionCtx)
	if err != nil {
		return nil, err
	}

	logger.InfoContext(ctx, "Performing HTTP request", "method", req.Method, "url", req.URL.String())

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}

	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			logger.ErrorContext(ctx, "failed to close response body", "error", closeErr)
		}
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	output := map[string]any{
		"status_code": resp.StatusCode,
		"url":         req.URL.String(),
	}

	var decoded any
	if err := json.Unmarshal(raw, &decoded); err == nil {
		output["body"] = decoded
	} else {
		output["body"] = string(raw)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return &protocol.Result{Output: output}, fmt.Errorf("http request returned status %d", resp.StatusCode)
	}

	return &protocol.Result{Output: output}, nil
}

func (s *Step) buildRequest(ctx context.Context, executionCtx models.ExecutionContext) (*http.Request, error) {
	url, err := template.RenderString(s.URL, executionCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to render url: %w", err)
	}

	var body io.Reader

	if s.Body != "" {
		rendered, err := template.RenderString(s.Body, executionCtx)
		if err != nil {
			return nil, fmt.Errorf("failed to render body: %w", err)
		}

		body = strings.NewReader(rendered)
	}

	req, err := http.NewRequestWithContext(ctx, s.Method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	for key, value := range s.Headers {
		rendered, err := template.RenderString(value, executionCtx)
		if err != nil {
			return nil, fmt.Errorf("failed to render header %q: %w", key, err)
		}

		req.Header.Set(key, rendered)
	}

	return req, nil
}
