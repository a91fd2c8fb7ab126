package classifier

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/parley/internal/resilience"
	"github.com/MrWong99/parley/pkg/provider/llm"
	"github.com/MrWong99/parley/pkg/provider/llm/mock"
)

func TestHeuristic_Defaults(t *testing.T) {
	t.Parallel()
	c := New(nil)

	tests := []struct {
		utterance string
		want      bool
	}{
		{"Is it going to rain tomorrow?", true},
		{"so what's next?", true},
		{"Tell me a joke", true},
		{"could you, like, check that", true},
		{"ok pleas", true}, // fuzzy match for "please"
		{"I was thinking about lunch", false},
		{"hmm", false},
		{"", false},
	}
	for _, tc := range tests {
		t.Run(tc.utterance, func(t *testing.T) {
			if got := c.Heuristic(tc.utterance); got != tc.want {
				t.Errorf("Heuristic(%q) = %v, want %v", tc.utterance, got, tc.want)
			}
		})
	}
}

func TestHeuristic_CustomTriggers(t *testing.T) {
	t.Parallel()
	c := New(nil, WithTriggers("Hey Parley", "was meinst du"))

	if !c.Heuristic("hey parley turn the lights on") {
		t.Error("custom trigger not matched")
	}
	if !c.Heuristic("Und, was meinst du dazu") {
		t.Error("second custom trigger not matched")
	}
	if c.Heuristic("tell me a joke") {
		t.Error("default trigger still active after WithTriggers")
	}
	if !c.Heuristic("anything?") {
		t.Error("question mark must always trigger")
	}
}

func TestClassify_Remote(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		answer string
		want   bool
	}{
		{"yes", "YES", true},
		{"lowercase yes", "yes.", true},
		{"no", "No", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p := &mock.Provider{Response: &llm.CompletionResponse{Content: tc.answer}}
			c := New(p)

			d := c.Classify(context.Background(), "What's the weather?", []string{"hello", "What's the weather?"})
			if d.Respond != tc.want || d.Source != SourceRemote {
				t.Errorf("Classify = %+v, want respond=%v source=remote", d, tc.want)
			}
			if p.CallCount() != 1 {
				t.Fatalf("provider calls = %d, want 1", p.CallCount())
			}
			prompt := p.Calls[0].Req.Messages[0].Content
			if !strings.Contains(prompt, "- hello\n") {
				t.Errorf("prompt missing context: %q", prompt)
			}
			if strings.Count(prompt, "What's the weather?") != 1 {
				t.Errorf("latest utterance should appear once: %q", prompt)
			}
		})
	}
}

func TestClassify_FallsBack(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		provider  *mock.Provider
		utterance string
		want      bool
	}{
		{"error with question", &mock.Provider{Err: errors.New("boom")}, "where are my keys?", true},
		{"error without trigger", &mock.Provider{Err: errors.New("boom")}, "I guess that is fine", false},
		{"timeout", &mock.Provider{Delay: time.Second}, "is it late?", true},
		{"malformed", &mock.Provider{Response: &llm.CompletionResponse{Content: "maybe"}}, "hm ok", false},
		{"empty", &mock.Provider{}, "help me", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			c := New(tc.provider, WithTimeout(20*time.Millisecond))

			d := c.Classify(context.Background(), tc.utterance, nil)
			if d.Source != SourceHeuristic {
				t.Errorf("source = %q, want heuristic", d.Source)
			}
			if d.Respond != tc.want {
				t.Errorf("respond = %v, want %v", d.Respond, tc.want)
			}
		})
	}
}

func TestClassify_OpenBreakerSkipsProvider(t *testing.T) {
	t.Parallel()
	p := &mock.Provider{Err: errors.New("unavailable")}
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:         "classifier",
		MaxFailures:  1,
		ResetTimeout: time.Hour,
	})
	c := New(p, WithBreaker(cb))

	c.ShouldRespond(context.Background(), "first", nil)
	if got := c.ShouldRespond(context.Background(), "second?", nil); !got {
		t.Error("heuristic should answer while breaker is open")
	}
	if p.CallCount() != 1 {
		t.Errorf("provider calls = %d, want 1", p.CallCount())
	}
	if cb.State() != resilience.StateOpen {
		t.Errorf("breaker state = %s, want open", cb.State())
	}
}
