package intelligence

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"forest/internal/config"
)

func TestGeminiClient_Request(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req geminiRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		if len(req.Contents) != 1 || req.Contents[0].Parts[0].Text != "hello" {
			t.Errorf("unexpected prompt payload: %+v", req.Contents)
		}
		if req.SystemInstruction == nil {
			t.Error("expected system instruction to be set")
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"candidates": []map[string]interface{}{
				{"content": map[string]interface{}{
					"parts": []map[string]string{{"text": "world"}},
				}},
			},
		})
	}))
	defer server.Close()

	client := NewGeminiClient(GeminiConfig{
		APIKey:  "test-key",
		BaseURL: server.URL,
		Model:   "gemini-test",
		Timeout: 5 * time.Second,
	})

	got, err := client.Request(context.Background(), Request{
		Prompt: "hello", System: "be brief", MaxTokens: 100, Temperature: 0.2,
	})
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if got != "world" {
		t.Errorf("expected %q, got %q", "world", got)
	}
}

func TestGeminiClient_NoAPIKey(t *testing.T) {
	client := NewGeminiClient(GeminiConfig{})
	if _, err := client.Request(context.Background(), Request{Prompt: "x"}); err == nil {
		t.Fatal("expected error without API key")
	}
}

func TestOpenAIClient_Request(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected auth header: %s", got)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": "done"}},
			},
		})
	}))
	defer server.Close()

	client := NewOpenAIClient(OpenAIConfig{
		APIKey:  "test-key",
		BaseURL: server.URL,
		Model:   "test-model",
		Timeout: 5 * time.Second,
	})

	got, err := client.Request(context.Background(), Request{Prompt: "hi", MaxTokens: 50})
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if got != "done" {
		t.Errorf("expected %q, got %q", "done", got)
	}
}

func TestOpenAIClient_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]string{"message": "model overloaded", "type": "server_error"},
		})
	}))
	defer server.Close()

	client := NewOpenAIClient(OpenAIConfig{APIKey: "k", BaseURL: server.URL})
	if _, err := client.Request(context.Background(), Request{Prompt: "hi"}); err == nil {
		t.Fatal("expected API error to propagate")
	}
}

func TestNewClientFromConfig(t *testing.T) {
	// No key: provider absent, not an error.
	c, err := NewClientFromConfig(config.LLMConfig{}, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c != nil {
		t.Error("expected nil client without API key")
	}

	c, err = NewClientFromConfig(config.LLMConfig{Provider: "gemini", APIKey: "k"}, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c == nil || c.Name() == "" {
		t.Error("expected gemini client")
	}

	if _, err := NewClientFromConfig(config.LLMConfig{Provider: "cohere", APIKey: "k"}, 0); err == nil {
		t.Error("expected error for unsupported provider")
	}
}
