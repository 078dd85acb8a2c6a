package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatdeck/internal/model"
	"chatdeck/internal/utils"
)

func TestChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/chat", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, map[string]string{"prompt": "hi", "model": "m", "session_id": "s1"}, req)

		w.Write([]byte(`{"response_text":"hello"}`))
	}))
	defer srv.Close()

	c := New(srv.URL+"/", time.Second)
	reply, err := c.Chat(context.Background(), model.ChatRequest{Prompt: "hi", Model: "m", SessionID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, "hello", reply)
}

func TestChat_BackendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"error":"model down"}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, time.Second).Chat(context.Background(), model.ChatRequest{Prompt: "hi"})

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, "model down", apiErr.Message)
}

func TestChat_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(url, time.Second).Chat(context.Background(), model.ChatRequest{Prompt: "hi"})
	assert.Error(t, err)
}

func TestPlayground_ErrorWithoutMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, time.Second).Playground(context.Background(), model.PlaygroundRequest{Task: "summarize", Input: "x"})

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "Something went wrong", apiErr.Message)
}

func TestPlayground_Cancel(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := New(srv.URL, 5*time.Second).Playground(ctx, model.PlaygroundRequest{Task: "summarize", Input: "x"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/models", r.URL.Path)
		w.Write([]byte(`{"models":[{"id":"a","name":"A"}]}`))
	}))
	defer srv.Close()

	models, err := New(srv.URL, time.Second).Models(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.Equal(t, "a", models[0].ID)
}

func TestStreamChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat/stream", r.URL.Path)
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))

		sse := utils.NewSSEWriter(w)
		sse.WriteJSON("message", model.StreamChunk{Content: "Hello"})
		sse.WriteJSON("message", model.StreamChunk{Content: " world"})
		sse.Close()
	}))
	defer srv.Close()

	var chunks []string
	full, err := New(srv.URL, time.Second).StreamChat(context.Background(), model.ChatRequest{Prompt: "hi"}, func(s string) {
		chunks = append(chunks, s)
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello world", full)
	assert.Equal(t, []string{"Hello", " world"}, chunks)
}

func TestStreamChat_ErrorEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sse := utils.NewSSEWriter(w)
		sse.WriteJSON("message", model.StreamChunk{Content: "partial"})
		sse.WriteJSON("error", model.ErrorResponse{Error: "model down"})
		sse.Close()
	}))
	defer srv.Close()

	full, err := New(srv.URL, time.Second).StreamChat(context.Background(), model.ChatRequest{Prompt: "hi"}, nil)
	assert.Equal(t, "partial", full)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "model down", apiErr.Message)
}

func TestStreamChat_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"Prompt is required"}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, time.Second).StreamChat(context.Background(), model.ChatRequest{}, nil)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
}
