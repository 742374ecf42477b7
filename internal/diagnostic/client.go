// Package diagnostic calls an OpenAI-compatible chat completion endpoint to
// turn a trace group into an insight. The orchestrator owns timeout and
// retry; this package owns transport, the circuit breaker, and response
// validation.
package diagnostic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/tracelens/tracelens/internal/apperr"
	"github.com/tracelens/tracelens/internal/domain/insight"
	"github.com/tracelens/tracelens/internal/domain/trace"
	"github.com/tracelens/tracelens/internal/infrastructure/logging"
	"github.com/tracelens/tracelens/internal/infrastructure/resilience"
)

const completionsPath = "/chat/completions"

// Config holds the endpoint settings.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
}

// Client implements insight.Backend against a chat completion API.
type Client struct {
	http    *resty.Client
	breaker *resilience.Breaker
	model   string
	log     *logging.Logger
}

// NewClient builds the backend client. The retryablehttp round tripper
// absorbs connection-level flakes; application-level retries belong to the
// caller, so resty itself never retries.
func NewClient(cfg Config, log *logging.Logger) *Client {
	if log == nil {
		log = logging.Nop()
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 1
	retryClient.RetryWaitMin = 200 * time.Millisecond
	retryClient.RetryWaitMax = 1 * time.Second
	retryClient.Logger = nil
	retryClient.CheckRetry = connectionRetryPolicy

	restyClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetHeader("User-Agent", "tracelens/1.0").
		SetHeader("Content-Type", "application/json").
		SetAuthToken(cfg.APIKey).
		SetTransport(&retryablehttp.RoundTripper{Client: retryClient})

	breaker := resilience.NewBreaker("diagnostic-backend", resilience.Settings{
		MaxRequests: 2,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &Client{
		http:    restyClient,
		breaker: breaker,
		model:   cfg.Model,
		log:     log.Named("diagnostic"),
	}
}

// Generate produces an AI insight for the trace group.
func (c *Client) Generate(ctx context.Context, group trace.Group, baseline insight.Insight) (insight.Insight, error) {
	body, err := c.buildRequest(group, baseline)
	if err != nil {
		return insight.Insight{}, apperr.Wrap(apperr.CodeInternal, "failed to encode completion request", err)
	}

	raw, err := c.breaker.Execute(func() (any, error) {
		return c.post(ctx, body)
	})
	if err != nil {
		if errors.Is(err, resilience.ErrCircuitOpen) || errors.Is(err, resilience.ErrTooManyRequests) {
			return insight.Insight{}, apperr.Wrap(apperr.CodeAIUnavailable, "diagnostic backend circuit open", err)
		}
		return insight.Insight{}, err
	}
	return parseInsight(raw.(*completionResponse))
}

// connectionRetryPolicy retries transport failures only. Response statuses
// pass through untouched so status classification stays in one place.
func connectionRetryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	return resp == nil && err != nil, nil
}

// statusError marks a non-2xx completion response. Retryability depends on
// the status code, so it survives as a typed error.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("diagnostic backend returned HTTP %d: %s", e.code, e.body)
}

func (c *Client) post(ctx context.Context, body completionRequest) (*completionResponse, error) {
	var out completionResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		Post(completionsPath)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		snippet := string(resp.Body())
		if len(snippet) > 256 {
			snippet = snippet[:256]
		}
		return nil, &statusError{code: resp.StatusCode(), body: snippet}
	}
	return &out, nil
}

// completionRequest is the OpenAI-compatible chat completion payload.
type completionRequest struct {
	Model          string              `json:"model"`
	Messages       []completionMessage `json:"messages"`
	Temperature    float64             `json:"temperature"`
	ResponseFormat *responseFormat     `json:"response_format,omitempty"`
}

type completionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

const systemPrompt = `You are a backend performance analyst. Given a trace of ` +
	`instrumentation events and a heuristic baseline, respond with a single JSON ` +
	`object with these fields: "summary" (one sentence), "severity" (one of ` +
	`"info", "warn", "error"), "rootCause" (string, may be empty), "suggestions" ` +
	`(array of strings), "signals" (array of {"kind", "message"} objects). ` +
	`Respond with JSON only.`

func (c *Client) buildRequest(group trace.Group, baseline insight.Insight) (completionRequest, error) {
	traceJSON, err := json.Marshal(group)
	if err != nil {
		return completionRequest{}, err
	}
	baselineJSON, err := json.Marshal(baseline)
	if err != nil {
		return completionRequest{}, err
	}

	user := fmt.Sprintf("Trace:\n%s\n\nHeuristic baseline:\n%s", traceJSON, baselineJSON)
	return completionRequest{
		Model: c.model,
		Messages: []completionMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: user},
		},
		Temperature:    0.2,
		ResponseFormat: &responseFormat{Type: "json_object"},
	}, nil
}

// modelInsight is the shape the model is instructed to emit.
type modelInsight struct {
	Summary     string           `json:"summary"`
	Severity    string           `json:"severity"`
	RootCause   string           `json:"rootCause"`
	Suggestions []string         `json:"suggestions"`
	Signals     []insight.Signal `json:"signals"`
}

func parseInsight(resp *completionResponse) (insight.Insight, error) {
	if len(resp.Choices) == 0 {
		return insight.Insight{}, apperr.New(apperr.CodeAIInvalidResponse, "completion response has no choices")
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	content = stripCodeFence(content)

	var parsed modelInsight
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return insight.Insight{}, apperr.Wrap(apperr.CodeAIInvalidResponse, "completion content is not valid JSON", err)
	}
	if strings.TrimSpace(parsed.Summary) == "" {
		return insight.Insight{}, apperr.New(apperr.CodeAIInvalidResponse, "completion is missing a summary")
	}
	switch parsed.Severity {
	case insight.SeverityInfo, insight.SeverityWarn, insight.SeverityError:
	default:
		return insight.Insight{}, apperr.New(apperr.CodeAIInvalidResponse, "completion has an unknown severity")
	}

	return insight.Insight{
		Summary:     parsed.Summary,
		Severity:    parsed.Severity,
		RootCause:   parsed.RootCause,
		Suggestions: parsed.Suggestions,
		Signals:     parsed.Signals,
		Source:      insight.SourceAI,
	}, nil
}

// stripCodeFence tolerates models that wrap JSON in a markdown fence despite
// the json_object response format.
func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

var _ insight.Backend = (*Client)(nil)
