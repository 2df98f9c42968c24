package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ClawAgent/internal/llm"
)

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(Config{})
	require.Error(t, err)
}

func TestInvokeSuccess(t *testing.T) {
	var captured struct {
		Authorization string
		Body          struct {
			Model    string        `json:"model"`
			Messages []wireMessage `json:"messages"`
		}
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.Authorization = r.Header.Get("Authorization")
		defer r.Body.Close()
		if err := json.NewDecoder(r.Body).Decode(&captured.Body); err != nil {
			t.Errorf("failed to decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": `["open the page"]`}},
			},
		})
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "test", BaseURL: srv.URL, Timeout: time.Second})
	require.NoError(t, err)
	client.httpClient = srv.Client()

	out, err := client.Invoke(context.Background(), []llm.Message{
		llm.System("plan"),
		llm.Human("task"),
		llm.Assistant("earlier"),
	})
	require.NoError(t, err)
	assert.Equal(t, `["open the page"]`, out)

	assert.True(t, strings.HasPrefix(captured.Authorization, "Bearer "))
	assert.Equal(t, defaultModelName, captured.Body.Model)
	require.Len(t, captured.Body.Messages, 3)
	assert.Equal(t, "system", captured.Body.Messages[0].Role)
	assert.Equal(t, "user", captured.Body.Messages[1].Role)
	assert.Equal(t, "assistant", captured.Body.Messages[2].Role)
}

func TestInvokeHTTPErrorIsClassified(t *testing.T) {
	status := http.StatusServiceUnavailable
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", status)
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "test", BaseURL: srv.URL, Timeout: time.Second})
	require.NoError(t, err)
	client.httpClient = srv.Client()

	_, err = client.Invoke(context.Background(), []llm.Message{llm.Human("x")})
	require.Error(t, err)
	assert.Equal(t, llm.ErrorKindTransient, llm.Classify(err))

	status = http.StatusUnauthorized
	_, err = client.Invoke(context.Background(), []llm.Message{llm.Human("x")})
	require.Error(t, err)
	assert.Equal(t, llm.ErrorKindFatal, llm.Classify(err))
}
