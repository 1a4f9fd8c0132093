package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

var testReq = Request{
	System:      "facts only",
	User:        "What is the exit load?",
	Temperature: 0.1,
	MaxTokens:   250,
}

func newTestOpenAI(t *testing.T, h http.HandlerFunc) *OpenAI {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewOpenAI(OpenAIConfig{
		BaseURL: srv.URL + "/",
		APIKey:  "sk-test",
		Model:   "gpt-4o-mini",
		Timeout: time.Second,
		Headers: map[string]string{"X-Title": "mffacts"},
	})
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestOpenAI_Complete(t *testing.T) {
	var got chatRequest
	c := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" || r.Header.Get("X-Title") != "mffacts" {
			t.Errorf("headers = %v", r.Header)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"Exit load is 1%."}}]}`)
	})

	text, err := c.Complete(context.Background(), testReq).Unwrap()
	if err != nil {
		t.Fatal(err)
	}
	if text != "Exit load is 1%." {
		t.Errorf("text = %q", text)
	}
	if got.Model != "gpt-4o-mini" || len(got.Messages) != 2 || got.Messages[0].Role != "system" ||
		got.Messages[1].Content != testReq.User || got.MaxTokens != 250 || got.Temperature != 0.1 {
		t.Errorf("request = %+v", got)
	}
}

func TestOpenAI_StatusKinds(t *testing.T) {
	tests := []struct {
		status int
		want   UpstreamKind
	}{
		{http.StatusUnauthorized, UpstreamAuth},
		{http.StatusTooManyRequests, UpstreamRateLimit},
		{http.StatusBadGateway, UpstreamUnavailable},
		{http.StatusBadRequest, UpstreamAPI},
	}
	for _, tt := range tests {
		c := newTestOpenAI(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tt.status)
			fmt.Fprint(w, `{"error":{"message":"Incorrect API key provided","type":"invalid_request_error"}}`)
		})
		_, err := c.Complete(context.Background(), testReq).Unwrap()
		ue, ok := AsUpstream(err)
		if !ok {
			t.Fatalf("status %d: expected upstream error, got %v", tt.status, err)
		}
		if ue.Kind != tt.want {
			t.Errorf("status %d: kind = %s, want %s", tt.status, ue.Kind, tt.want)
		}
		if !strings.Contains(err.Error(), "Incorrect API key provided") {
			t.Errorf("error lost service message: %v", err)
		}
	}
}

func TestOpenAI_NoChoices(t *testing.T) {
	c := newTestOpenAI(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"choices":[]}`)
	})
	_, err := c.Complete(context.Background(), testReq).Unwrap()
	if !errors.Is(err, ErrEmptyCompletion) {
		t.Fatalf("err = %v", err)
	}
	if _, ok := AsUpstream(err); ok {
		t.Error("an empty completion is not an upstream failure")
	}
}

func TestOpenAI_Timeout(t *testing.T) {
	done := make(chan struct{})
	c := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-done:
		}
	})
	// Registered after the server's Close cleanup, so it runs first and
	// releases the handler before Close waits on open connections.
	t.Cleanup(func() { close(done) })
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Complete(ctx, testReq).Unwrap()
	ue, ok := AsUpstream(err)
	if !ok || ue.Kind != UpstreamTimeout {
		t.Fatalf("err = %v", err)
	}
}

func TestNewOpenAI_RequiresKeyAndModel(t *testing.T) {
	if _, err := NewOpenAI(OpenAIConfig{Model: "m"}); err == nil {
		t.Error("expected error for missing key")
	}
	if _, err := NewOpenAI(OpenAIConfig{APIKey: "k"}); err == nil {
		t.Error("expected error for missing model")
	}
}

func newTestAnthropic(t *testing.T, h http.HandlerFunc) *Anthropic {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	a, err := NewAnthropic(AnthropicConfig{APIKey: "sk-ant", BaseURL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func TestAnthropic_Complete(t *testing.T) {
	var body map[string]any
	a := newTestAnthropic(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"msg_1","type":"message","role":"assistant","model":"claude-3-5-haiku-latest",
			"content":[{"type":"text","text":"The exit load is 1%."}],
			"stop_reason":"end_turn","usage":{"input_tokens":10,"output_tokens":5}}`)
	})

	text, err := a.Complete(context.Background(), testReq).Unwrap()
	if err != nil {
		t.Fatal(err)
	}
	if text != "The exit load is 1%." {
		t.Errorf("text = %q", text)
	}
	if body["max_tokens"] != float64(250) || body["model"] != DefaultClaudeModel {
		t.Errorf("request body = %v", body)
	}
}

func TestAnthropic_SkipsNonTextBlocks(t *testing.T) {
	a := newTestAnthropic(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"msg_2","type":"message","role":"assistant","model":"claude-3-5-haiku-latest",
			"content":[
				{"type":"tool_use","id":"toolu_1","name":"lookup","input":{"q":"nav"}},
				{"type":"text","text":"Exit load: Nil."}
			],
			"stop_reason":"end_turn","usage":{"input_tokens":10,"output_tokens":5}}`)
	})

	text, err := a.Complete(context.Background(), testReq).Unwrap()
	if err != nil {
		t.Fatal(err)
	}
	if text != "Exit load: Nil." {
		t.Errorf("text = %q", text)
	}
}

func TestAnthropic_NoTextIsEmptyCompletion(t *testing.T) {
	a := newTestAnthropic(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"msg_3","type":"message","role":"assistant","model":"claude-3-5-haiku-latest",
			"content":[{"type":"tool_use","id":"toolu_1","name":"lookup","input":{}}],
			"stop_reason":"tool_use","usage":{"input_tokens":10,"output_tokens":5}}`)
	})

	_, err := a.Complete(context.Background(), testReq).Unwrap()
	if !errors.Is(err, ErrEmptyCompletion) {
		t.Errorf("err = %v, want ErrEmptyCompletion", err)
	}
}

func TestAnthropic_AuthError(t *testing.T) {
	calls := 0
	a := newTestAnthropic(t, func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`)
	})
	_, err := a.Complete(context.Background(), testReq).Unwrap()
	ue, ok := AsUpstream(err)
	if !ok || ue.Kind != UpstreamAuth {
		t.Fatalf("err = %v", err)
	}
	if calls != 1 {
		t.Errorf("server called %d times, want 1", calls)
	}
}

func TestUpstream(t *testing.T) {
	tests := []struct {
		err  error
		want UpstreamKind
	}{
		{context.DeadlineExceeded, UpstreamTimeout},
		{errors.New("Error 429, Status: RESOURCE_EXHAUSTED"), UpstreamRateLimit},
		{errors.New("you exceeded your current quota"), UpstreamRateLimit},
		{errors.New("API key not valid"), UpstreamAuth},
		{errors.New("bad request"), UpstreamAPI},
	}
	for _, tt := range tests {
		ue, ok := AsUpstream(Upstream(tt.err))
		if !ok || ue.Kind != tt.want {
			t.Errorf("Upstream(%v) = %v, want kind %s", tt.err, ue, tt.want)
		}
	}

	tagged := NewUpstreamError(UpstreamAuth, errors.New("x"))
	if Upstream(tagged) != error(tagged) {
		t.Error("tagged errors should pass through")
	}
	if Upstream(nil) != nil {
		t.Error("nil should stay nil")
	}
}

func TestNewGemini_RequiresKey(t *testing.T) {
	if _, err := NewGemini(context.Background(), GeminiConfig{}); err == nil {
		t.Error("expected error for missing key")
	}
}

func TestUpstreamError(t *testing.T) {
	base := errors.New("429 too many requests")
	var err error = NewUpstreamError(UpstreamRateLimit, base)
	wrapped := errors.Join(errors.New("ctx"), err)

	ue, ok := AsUpstream(wrapped)
	if !ok {
		t.Fatal("expected AsUpstream to find the error")
	}
	if ue.Kind != UpstreamRateLimit {
		t.Errorf("kind = %s, want rate_limit", ue.Kind)
	}
	if !errors.Is(err, base) {
		t.Error("expected Unwrap to reach the cause")
	}
	if ue.Error() != base.Error() {
		t.Errorf("Error() = %q", ue.Error())
	}
	if _, ok := AsUpstream(errors.New("plain")); ok {
		t.Error("plain errors are not upstream errors")
	}
}
