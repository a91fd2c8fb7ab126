package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrWong99/parley/pkg/provider/llm"
)

func TestNew_Validation(t *testing.T) {
	t.Parallel()
	if _, err := New("", "gpt-4o-mini"); err == nil {
		t.Error("expected error for empty api key")
	}
	if _, err := New("sk", ""); err == nil {
		t.Error("expected error for empty model")
	}
}

func TestConvertMessage(t *testing.T) {
	t.Parallel()
	sys, err := convertMessage(llm.Message{Role: llm.RoleSystem, Content: "rules"})
	if err != nil || sys.OfSystem == nil {
		t.Errorf("system: %v %+v", err, sys)
	}
	usr, err := convertMessage(llm.Message{Role: llm.RoleUser, Content: "hi"})
	if err != nil || usr.OfUser == nil {
		t.Errorf("user: %v %+v", err, usr)
	}
	asst, err := convertMessage(llm.Message{Role: llm.RoleAssistant, Content: "hello"})
	if err != nil || asst.OfAssistant == nil {
		t.Errorf("assistant: %v %+v", err, asst)
	}
	if _, err := convertMessage(llm.Message{Role: "tool"}); err == nil {
		t.Error("expected error for unknown role")
	}
}

func TestComplete_AgainstCompatibleServer(t *testing.T) {
	t.Parallel()

	var gotModel, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		var body struct {
			Model string `json:"model"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotModel = body.Model

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1,
			"model": "gpt-4o-mini",
			"choices": [{"index": 0, "finish_reason": "stop",
				"message": {"role": "assistant", "content": "YES"}}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 1, "total_tokens": 13}
		}`))
	}))
	t.Cleanup(srv.Close)

	p, err := New("sk-test", "gpt-4o-mini", WithBaseURL(srv.URL+"/"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	resp, err := p.Complete(context.Background(), llm.CompletionRequest{
		SystemPrompt: "Answer YES or NO.",
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: "what time is it?"}},
		MaxTokens:    3,
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "YES" || resp.Usage.TotalTokens != 13 {
		t.Errorf("resp = %+v", resp)
	}
	if gotModel != "gpt-4o-mini" || gotAuth != "Bearer sk-test" {
		t.Errorf("request model=%q auth=%q", gotModel, gotAuth)
	}
}
