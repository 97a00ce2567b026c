package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOllamaComplete(t *testing.T) {
	var got ollamaGenerateRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ollamaGenerateResponse{
			Model:    got.Model,
			Response: "  It's sunny and 72 degrees.  ",
			Done:     true,
		})
	}))
	defer server.Close()

	cfg := DefaultConfig("ollama")
	cfg.BaseURL = server.URL
	p := NewOllamaProvider(cfg)

	reply, err := p.Complete(context.Background(), "Question: weather?")
	require.NoError(t, err)
	assert.Equal(t, "It's sunny and 72 degrees.", reply)

	assert.Equal(t, "llama3.2:3b", got.Model)
	assert.Equal(t, "Question: weather?", got.Prompt)
	assert.False(t, got.Stream)
	assert.Equal(t, 0.7, got.Options.Temperature)
	assert.Equal(t, 0.9, got.Options.TopP)
	assert.Equal(t, 150, got.Options.NumPredict)
}

func TestOllamaComplete_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model not found"}`, http.StatusNotFound)
	}))
	defer server.Close()

	p := NewOllamaProvider(&Config{BaseURL: server.URL, Model: "missing"})
	_, err := p.Complete(context.Background(), "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
	assert.Contains(t, err.Error(), "model not found")
}

func TestOllamaComplete_EmptyReply(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ollamaGenerateResponse{Response: "   ", Done: true})
	}))
	defer server.Close()

	p := NewOllamaProvider(&Config{BaseURL: server.URL})
	_, err := p.Complete(context.Background(), "hi")
	assert.ErrorIs(t, err, ErrEmptyReply)
}

func TestOllamaComplete_ContextCancel(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	p := NewOllamaProvider(&Config{BaseURL: server.URL})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := p.Complete(ctx, "hi")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}
