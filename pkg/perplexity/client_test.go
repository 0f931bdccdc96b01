package perplexity

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatCompletion(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantErr    string
		wantStatus int
		wantText   string
	}{
		{
			name:   "success",
			status: http.StatusOK,
			body: `{
				"id": "cmpl-123",
				"choices": [{"index": 0, "message": {"role": "assistant", "content": "{\"risks\": []}"}}],
				"citations": ["https://example.com/a"],
				"usage": {"prompt_tokens": 10, "completion_tokens": 5}
			}`,
			wantText: `{"risks": []}`,
		},
		{
			name:       "rate_limit",
			status:     http.StatusTooManyRequests,
			body:       `{"error": "rate limit exceeded"}`,
			wantErr:    "unexpected status 429",
			wantStatus: 429,
		},
		{
			name:       "server_error",
			status:     http.StatusBadGateway,
			body:       `oops`,
			wantErr:    "unexpected status 502",
			wantStatus: 502,
		},
		{
			name:    "malformed_response",
			status:  http.StatusOK,
			body:    `{invalid json`,
			wantErr: "unmarshal response",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "/chat/completions", r.URL.Path)
				assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

				var req ChatCompletionRequest
				assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
				assert.Equal(t, "sonar", req.Model)
				assert.Equal(t, "week", req.SearchRecencyFilter)

				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body)) //nolint:errcheck
			}))
			defer srv.Close()

			c := NewClient("test-key", WithBaseURL(srv.URL), WithModel("sonar"))
			resp, err := c.ChatCompletion(context.Background(), ChatCompletionRequest{
				Messages:            []Message{{Role: "user", Content: "news"}},
				SearchRecencyFilter: "week",
			})

			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				if tt.wantStatus != 0 {
					var se *StatusError
					require.True(t, errors.As(err, &se))
					assert.Equal(t, tt.wantStatus, se.StatusCode)
				}
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantText, resp.Content())
			assert.Equal(t, []string{"https://example.com/a"}, resp.Citations)
		})
	}
}

func TestChatCompletion_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := NewClient("k", WithBaseURL(srv.URL)).ChatCompletion(ctx, ChatCompletionRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "send request")
}

func TestOptions(t *testing.T) {
	hc := &http.Client{Timeout: time.Second}
	c := NewClient("k", WithBaseURL(""), WithModel(""), WithHTTPClient(hc)).(*httpClient)
	assert.Equal(t, defaultBaseURL, c.baseURL)
	assert.Equal(t, defaultModel, c.model)
	assert.Same(t, hc, c.http)
}

func TestContent_Empty(t *testing.T) {
	var r *ChatCompletionResponse
	assert.Empty(t, r.Content())
	assert.Empty(t, (&ChatCompletionResponse{}).Content())
}
