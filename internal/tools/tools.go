// Package tools resolves function calls requested by the conversation service
// into local actions and renders their outcome as text.
//
// Each tool sub-package exports a constructor returning a [Tool]. The
// [Dispatcher] owns the registered tools, builds the manifest advertised in
// session.update, and turns every call into an [Outcome], including calls
// that fail or name a tool it does not know. It never returns an error:
// failures become result text so the service's pending call is always
// resolved.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/protocol"
)

// ── Errors ───────────────────────────────────────────────────────────────────

// ErrDeviceUnavailable is returned by device collaborators (the camera) when
// no device session can be reached.
var ErrDeviceUnavailable = errors.New("device unavailable")

// Kind classifies tool failures.
type Kind int

const (
	KindUpstreamFailure Kind = iota
	KindDeviceUnavailable
	KindInvalidArguments
)

func (k Kind) String() string {
	switch k {
	case KindDeviceUnavailable:
		return "device_unavailable"
	case KindInvalidArguments:
		return "invalid_arguments"
	default:
		return "upstream_failure"
	}
}

// Error is a classified tool failure.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string { return e.Kind.String() + ": " + e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrDeviceUnavailable) hold for any
// KindDeviceUnavailable error.
func (e *Error) Is(target error) bool {
	return target == ErrDeviceUnavailable && e.Kind == KindDeviceUnavailable
}

// InvalidArguments wraps err as a [KindInvalidArguments] failure.
func InvalidArguments(err error) error { return &Error{Kind: KindInvalidArguments, Err: err} }

// Upstream wraps err as a [KindUpstreamFailure] failure unless it is already
// classified.
func Upstream(err error) error {
	if err == nil {
		return nil
	}
	var te *Error
	if errors.As(err, &te) {
		return err
	}
	if errors.Is(err, ErrDeviceUnavailable) {
		return &Error{Kind: KindDeviceUnavailable, Err: err}
	}
	return &Error{Kind: KindUpstreamFailure, Err: err}
}

// KindOf returns the failure kind of err. Unclassified errors are upstream
// failures.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	if errors.Is(err, ErrDeviceUnavailable) {
		return KindDeviceUnavailable
	}
	return KindUpstreamFailure
}

// ── Tool ─────────────────────────────────────────────────────────────────────

// Image is binary image content produced by a tool.
type Image struct {
	MIMEType string
	Data     []byte
}

// Result is a successful tool outcome.
type Result struct {
	// Output is sent back as the function_call_output.
	Output string

	// Status replaces the progress message text. Empty uses Output.
	Status string

	// Image, when set, is attached to the conversation as an input image.
	Image *Image
}

// Tool is one callable function.
type Tool struct {
	// Definition is advertised to the service in the tool manifest.
	Definition protocol.Tool

	// Progress is the text of the progress message shown while the call
	// runs, e.g. "Capturing photo…".
	Progress string

	// Handler executes the tool with the raw JSON arguments. It must honour
	// ctx and be safe for concurrent use.
	Handler func(ctx context.Context, args string) (Result, error)
}

// Function returns a manifest entry for a function tool.
func Function(name, description string, parameters map[string]any) protocol.Tool {
	if parameters == nil {
		parameters = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return protocol.Tool{Type: "function", Name: name, Description: description, Parameters: parameters}
}

// DecodeArgs unmarshals args into v. Empty args decode as an empty object.
// Failures are [KindInvalidArguments].
func DecodeArgs(args string, v any) error {
	if strings.TrimSpace(args) == "" {
		args = "{}"
	}
	if err := json.Unmarshal([]byte(args), v); err != nil {
		return InvalidArguments(fmt.Errorf("decode arguments: %w", err))
	}
	return nil
}

// ── Dispatcher ───────────────────────────────────────────────────────────────

// DefaultTimeout bounds a single tool call.
const DefaultTimeout = 30 * time.Second

// Outcome is the resolution of one function call.
type Outcome struct {
	CallID string
	Name   string

	// Output is the text sent as the function_call_output. It is never
	// empty.
	Output string

	// Status is the final text of the call's progress message.
	Status string

	Image *Image

	// Err is the failure, if any, already rendered into Output.
	Err error
}

// Option configures a [Dispatcher].
type Option func(*Dispatcher)

// WithTimeout overrides [DefaultTimeout].
func WithTimeout(d time.Duration) Option {
	return func(di *Dispatcher) {
		if d > 0 {
			di.timeout = d
		}
	}
}

// WithMetrics records calls into m.
func WithMetrics(m *observe.Metrics) Option {
	return func(di *Dispatcher) { di.metrics = m }
}

// Dispatcher is safe for concurrent use.
type Dispatcher struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	order   []string
	timeout time.Duration
	metrics *observe.Metrics
}

// NewDispatcher returns a Dispatcher with tools registered in order.
// Registration errors are returned joined.
func NewDispatcher(tools []Tool, opts ...Option) (*Dispatcher, error) {
	d := &Dispatcher{tools: make(map[string]Tool), timeout: DefaultTimeout}
	for _, o := range opts {
		o(d)
	}
	var errs []error
	for _, t := range tools {
		errs = append(errs, d.Register(t))
	}
	return d, errors.Join(errs...)
}

// Register adds t. Names must be unique and non-empty and a handler is
// required.
func (d *Dispatcher) Register(t Tool) error {
	name := t.Definition.Name
	if name == "" {
		return errors.New("tools: tool name must not be empty")
	}
	if t.Handler == nil {
		return fmt.Errorf("tools: tool %q has no handler", name)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, dup := d.tools[name]; dup {
		return fmt.Errorf("tools: tool %q already registered", name)
	}
	d.tools[name] = t
	d.order = append(d.order, name)
	return nil
}

// Manifest returns the definitions of all registered tools in registration
// order.
func (d *Dispatcher) Manifest() []protocol.Tool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]protocol.Tool, 0, len(d.order))
	for _, name := range d.order {
		out = append(out, d.tools[name].Definition)
	}
	return out
}

// Progress returns the progress message text for a call to name.
func (d *Dispatcher) Progress(name string) string {
	d.mu.RLock()
	t, ok := d.tools[name]
	d.mu.RUnlock()
	if ok && t.Progress != "" {
		return t.Progress
	}
	return "Running " + name + "…"
}

// Dispatch runs the tool called name with the JSON arguments args and
// returns its outcome. Unknown tools, invalid arguments, failures and panics
// all produce an error Output.
func (d *Dispatcher) Dispatch(ctx context.Context, name, args, callID string) (out Outcome) {
	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "tools.dispatch")
	span.SetAttributes(attribute.String("tool", name), attribute.String("call_id", callID))
	log := observe.Logger(ctx).With("tool", name, "call_id", callID)

	out = Outcome{CallID: callID, Name: name}
	defer func() {
		if r := recover(); r != nil {
			out.Err = fmt.Errorf("tool panicked: %v", r)
			out.Output, out.Status = errorText(out.Err), "Failed"
			out.Image = nil
		}
		status := "ok"
		if out.Err != nil {
			status = KindOf(out.Err).String()
			span.RecordError(out.Err)
			span.SetStatus(codes.Error, out.Err.Error())
			log.Warn("tool call failed", "err", out.Err)
		} else {
			log.Debug("tool call completed", "duration", time.Since(start))
		}
		if d.metrics != nil {
			d.metrics.RecordToolCall(ctx, name, status, time.Since(start).Seconds())
		}
		span.End()
	}()

	d.mu.RLock()
	t, ok := d.tools[name]
	d.mu.RUnlock()
	if !ok {
		out.Err = &Error{Kind: KindInvalidArguments, Err: fmt.Errorf("unknown tool %q", name)}
		out.Output, out.Status = errorText(out.Err), "Unknown tool "+name
		return out
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	res, err := t.Handler(ctx, args)
	if err != nil {
		out.Err = Upstream(err)
		out.Output = errorText(out.Err)
		out.Status = failureStatus(out.Err)
		return out
	}

	out.Output = res.Output
	if out.Output == "" {
		out.Output = "done"
	}
	out.Status = res.Status
	if out.Status == "" {
		out.Status = out.Output
	}
	out.Image = res.Image
	return out
}

// errorText renders err as the JSON object sent back to the service.
func errorText(err error) string {
	body, _ := json.Marshal(map[string]string{
		"error": err.Error(),
		"kind":  KindOf(err).String(),
	})
	return string(body)
}

func failureStatus(err error) string {
	switch KindOf(err) {
	case KindDeviceUnavailable:
		return "Device unavailable"
	case KindInvalidArguments:
		return "Invalid request"
	default:
		return "Failed"
	}
}

// LogValue lets an Outcome be logged as a group.
func (o Outcome) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("call_id", o.CallID),
		slog.String("name", o.Name),
		slog.Bool("image", o.Image != nil),
	}
	if o.Err != nil {
		attrs = append(attrs, slog.String("err", o.Err.Error()))
	}
	return slog.GroupValue(attrs...)
}
