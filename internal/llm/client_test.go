package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestComplete_OpenAIFormat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer key" {
			t.Errorf("Authorization = %q", got)
		}
		w.Write([]byte(`{"choices": [{"message": {"content": "hello"}}]}`))
	}))
	defer srv.Close()

	c := NewClient(Config{Provider: ProviderOpenAI, APIKey: "key", Model: "m", BaseURL: srv.URL}, nil)
	got, err := c.Complete(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != "hello" {
		t.Errorf("Complete = %q", got)
	}
}

func TestComplete_AnthropicFormat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("x-api-key"); got != "key" {
			t.Errorf("x-api-key = %q", got)
		}
		w.Write([]byte(`{"content": [{"text": "hello"}]}`))
	}))
	defer srv.Close()

	c := NewClient(Config{Provider: ProviderAnthropic, APIKey: "key", Model: "m", BaseURL: srv.URL}, nil)
	got, err := c.Complete(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != "hello" {
		t.Errorf("Complete = %q", got)
	}
}

func TestComplete_OllamaFormat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"message": {"content": "hello"}}`))
	}))
	defer srv.Close()

	c := NewClient(Config{Provider: ProviderOllama, Model: "m", BaseURL: srv.URL}, nil)
	got, err := c.Complete(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != "hello" {
		t.Errorf("Complete = %q", got)
	}
}

func TestComplete_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(Config{Provider: ProviderOpenAI, APIKey: "key", Model: "m", BaseURL: srv.URL}, nil)
	if _, err := c.Complete(context.Background(), "hi"); err == nil {
		t.Error("Complete succeeded on 429, want error")
	}
}

func TestComplete_MissingAPIKey(t *testing.T) {
	c := NewClient(Config{Provider: ProviderOpenAI, Model: "m"}, nil)
	if _, err := c.Complete(context.Background(), "hi"); err == nil {
		t.Error("Complete succeeded without API key, want error")
	}
}
