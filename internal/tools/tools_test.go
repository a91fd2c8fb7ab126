package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func echoTool(name string) Tool {
	return Tool{
		Definition: Function(name, "echo", nil),
		Progress:   "Echoing…",
		Handler: func(_ context.Context, args string) (Result, error) {
			return Result{Output: "echo " + args}, nil
		},
	}
}

func failingTool(name string, err error) Tool {
	return Tool{
		Definition: Function(name, "", nil),
		Handler: func(context.Context, string) (Result, error) {
			return Result{}, err
		},
	}
}

func TestDispatch(t *testing.T) {
	t.Parallel()
	d, err := NewDispatcher([]Tool{
		echoTool("echo"),
		failingTool("camera", ErrDeviceUnavailable),
		failingTool("args", InvalidArguments(errors.New("bad"))),
		failingTool("remote", errors.New("503")),
		{
			Definition: Function("panics", "", nil),
			Handler:    func(context.Context, string) (Result, error) { panic("kaboom") },
		},
	})
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}

	tests := []struct {
		name     string
		tool     string
		wantKind string
		wantOut  string
	}{
		{name: "success", tool: "echo", wantOut: "echo {}"},
		{name: "unknown", tool: "teleport", wantKind: "invalid_arguments"},
		{name: "device", tool: "camera", wantKind: "device_unavailable"},
		{name: "arguments", tool: "args", wantKind: "invalid_arguments"},
		{name: "upstream", tool: "remote", wantKind: "upstream_failure"},
		{name: "panic", tool: "panics", wantKind: "upstream_failure"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			out := d.Dispatch(context.Background(), tc.tool, "{}", "call_"+tc.name)
			if out.CallID != "call_"+tc.name || out.Name != tc.tool {
				t.Errorf("outcome identity = %q/%q", out.CallID, out.Name)
			}
			if out.Output == "" || out.Status == "" {
				t.Fatalf("empty output or status: %+v", out)
			}
			if tc.wantKind == "" {
				if out.Err != nil || out.Output != tc.wantOut {
					t.Errorf("outcome = %+v, want output %q", out, tc.wantOut)
				}
				return
			}
			if out.Err == nil {
				t.Fatal("expected error")
			}
			var body map[string]string
			if err := json.Unmarshal([]byte(out.Output), &body); err != nil {
				t.Fatalf("error output is not JSON: %q", out.Output)
			}
			if body["kind"] != tc.wantKind {
				t.Errorf("kind = %q, want %q", body["kind"], tc.wantKind)
			}
		})
	}
}

func TestDispatch_UnknownToolMentionsName(t *testing.T) {
	t.Parallel()
	d, _ := NewDispatcher(nil)
	out := d.Dispatch(context.Background(), "teleport", `{"to":"mars"}`, "c1")
	if !strings.Contains(out.Output, "teleport") {
		t.Errorf("output %q does not name the tool", out.Output)
	}
}

func TestDispatch_Timeout(t *testing.T) {
	t.Parallel()
	slow := Tool{
		Definition: Function("slow", "", nil),
		Handler: func(ctx context.Context, _ string) (Result, error) {
			<-ctx.Done()
			return Result{}, ctx.Err()
		},
	}
	d, _ := NewDispatcher([]Tool{slow}, WithTimeout(10*time.Millisecond))
	out := d.Dispatch(context.Background(), "slow", "", "c1")
	if !errors.Is(out.Err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", out.Err)
	}
}

func TestRegister(t *testing.T) {
	t.Parallel()
	_, err := NewDispatcher([]Tool{echoTool("a"), echoTool("a"), {Definition: Function("b", "", nil)}})
	if err == nil {
		t.Fatal("expected duplicate and missing-handler errors")
	}
	for _, want := range []string{`"a" already registered`, `"b" has no handler`} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}

func TestManifestAndProgress(t *testing.T) {
	t.Parallel()
	d, _ := NewDispatcher([]Tool{echoTool("z"), echoTool("a")})

	m := d.Manifest()
	if len(m) != 2 || m[0].Name != "z" || m[1].Name != "a" {
		t.Errorf("manifest = %+v, want registration order", m)
	}
	if m[0].Type != "function" || m[0].Parameters["type"] != "object" {
		t.Errorf("definition = %+v", m[0])
	}
	if got := d.Progress("z"); got != "Echoing…" {
		t.Errorf("Progress(z) = %q", got)
	}
	if got := d.Progress("nope"); got != "Running nope…" {
		t.Errorf("Progress(nope) = %q", got)
	}
}

func TestErrorClassification(t *testing.T) {
	t.Parallel()
	wrapped := Upstream(errors.Join(errors.New("ctx"), ErrDeviceUnavailable))
	if KindOf(wrapped) != KindDeviceUnavailable || !errors.Is(wrapped, ErrDeviceUnavailable) {
		t.Errorf("wrapped device error classified as %s", KindOf(wrapped))
	}
	if KindOf(errors.New("x")) != KindUpstreamFailure {
		t.Error("plain error should be upstream failure")
	}
	inv := InvalidArguments(errors.New("x"))
	if Upstream(inv) != inv {
		t.Error("Upstream must keep an existing classification")
	}
	if errors.Is(inv, ErrDeviceUnavailable) {
		t.Error("invalid arguments must not match ErrDeviceUnavailable")
	}
}
