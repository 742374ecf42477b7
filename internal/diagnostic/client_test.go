package diagnostic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracelens/tracelens/internal/apperr"
	"github.com/tracelens/tracelens/internal/domain/event"
	"github.com/tracelens/tracelens/internal/domain/insight"
	"github.com/tracelens/tracelens/internal/domain/trace"
)

func testGroup(t *testing.T) trace.Group {
	t.Helper()
	d := 30.0
	g, ok := trace.ForTrace([]event.Event{{
		ID: "e1", TenantID: "t1", AppName: "shop", Type: event.TypeHTTP,
		Operation: "GET /products", Ts: 1000, DurationMs: &d,
		Level: event.LevelInfo, TraceID: "tr1",
		Payload: map[string]any{"statusCode": float64(200)},
	}}, "tr1")
	require.True(t, ok)
	return g
}

func completionBody(content string) string {
	body, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
	})
	return string(body)
}

func newServerClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL, APIKey: "key", Model: "gpt-test"}, nil)
}

func TestGenerateParsesCompletion(t *testing.T) {
	var gotAuth string
	client := newServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		assert.Equal(t, "/chat/completions", r.URL.Path)

		var req completionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-test", req.Model)
		require.Len(t, req.Messages, 2)
		assert.Contains(t, req.Messages[1].Content, "GET /products")

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completionBody(`{
			"summary": "healthy request",
			"severity": "info",
			"rootCause": "",
			"suggestions": ["nothing to do"],
			"signals": [{"kind": "status", "message": "HTTP 200"}]
		}`)))
	})

	baseline := insight.Derive(testGroup(t), time.Now())
	got, err := client.Generate(context.Background(), testGroup(t), baseline)
	require.NoError(t, err)

	assert.Equal(t, "Bearer key", gotAuth)
	assert.Equal(t, "healthy request", got.Summary)
	assert.Equal(t, insight.SeverityInfo, got.Severity)
	assert.Equal(t, insight.SourceAI, got.Source)
	require.Len(t, got.Signals, 1)
	assert.Equal(t, "status", got.Signals[0].Kind)
}

func TestGenerateToleratesCodeFence(t *testing.T) {
	client := newServerClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completionBody("```json\n{\"summary\": \"ok\", \"severity\": \"info\"}\n```")))
	})

	got, err := client.Generate(context.Background(), testGroup(t), insight.Insight{})
	require.NoError(t, err)
	assert.Equal(t, "ok", got.Summary)
}

func TestGenerateInvalidCompletions(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"not json", "the trace looks healthy to me"},
		{"missing summary", `{"severity": "info"}`},
		{"unknown severity", `{"summary": "x", "severity": "critical"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newServerClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(completionBody(tt.content)))
			})

			_, err := client.Generate(context.Background(), testGroup(t), insight.Insight{})
			assert.Equal(t, apperr.CodeAIInvalidResponse, apperr.CodeOf(err))
			assert.False(t, Retryable(err), "malformed completions are not retried")
		})
	}
}

func TestGenerateEmptyChoices(t *testing.T) {
	client := newServerClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices": []}`))
	})

	_, err := client.Generate(context.Background(), testGroup(t), insight.Insight{})
	assert.Equal(t, apperr.CodeAIInvalidResponse, apperr.CodeOf(err))
}

func TestGenerateUpstreamStatus(t *testing.T) {
	client := newServerClient(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	})

	_, err := client.Generate(context.Background(), testGroup(t), insight.Insight{})
	require.Error(t, err)
	assert.True(t, Retryable(err), "5xx upstream failures are transient")
}

func TestGenerateCircuitOpens(t *testing.T) {
	client := newServerClient(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	})

	var lastErr error
	for i := 0; i < 10; i++ {
		_, lastErr = client.Generate(context.Background(), testGroup(t), insight.Insight{})
		require.Error(t, lastErr)
	}
	assert.Equal(t, apperr.CodeAIUnavailable, apperr.CodeOf(lastErr))
	assert.False(t, Retryable(lastErr))
}
