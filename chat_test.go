package caseflow

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewGroqClientValidation(t *testing.T) {
	_, err := NewGroqClient(GroqClientOptions{Model: "m"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "api key is required")

	_, err = NewGroqClient(GroqClientOptions{APIKey: "k"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "model is required")
}

func TestGroqClientComplete(t *testing.T) {
	var captured chatCompletionRequest
	var authHeader string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		authHeader = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": "  {\"action\": \"complete\"}  "}},
			},
		})
	}))
	defer server.Close()

	client, err := NewGroqClient(GroqClientOptions{
		APIKey:  "sk-test",
		Model:   "llama-3.3-70b-versatile",
		BaseURL: server.URL,
	})
	require.NoError(t, err)

	content, err := client.Complete(context.Background(), "choose the next action")
	require.NoError(t, err)
	require.Equal(t, `{"action": "complete"}`, content, "response is trimmed")

	require.Equal(t, "Bearer sk-test", authHeader)
	require.Equal(t, "llama-3.3-70b-versatile", captured.Model)
	require.Len(t, captured.Messages, 1)
	require.Equal(t, "user", captured.Messages[0].Role)
	require.Equal(t, "choose the next action", captured.Messages[0].Content)
}

func TestGroqClientErrors(t *testing.T) {
	t.Run("http error includes body snippet", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, `{"error": "rate limit exceeded"}`, http.StatusTooManyRequests)
		}))
		defer server.Close()

		client, err := NewGroqClient(GroqClientOptions{APIKey: "k", Model: "m", BaseURL: server.URL})
		require.NoError(t, err)

		_, err = client.Complete(context.Background(), "prompt")
		require.Error(t, err)
		require.Contains(t, err.Error(), "rate limit exceeded")
	})

	t.Run("empty choices", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
		}))
		defer server.Close()

		client, err := NewGroqClient(GroqClientOptions{APIKey: "k", Model: "m", BaseURL: server.URL})
		require.NoError(t, err)

		_, err = client.Complete(context.Background(), "prompt")
		require.Error(t, err)
		require.Contains(t, err.Error(), "no choices")
	})
}
