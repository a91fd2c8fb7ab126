// Package photo provides the "capture_photo" tool. It takes a still image
// from a [Camera] and returns it both as text for the function result and as
// an image attachment for the conversation.
package photo

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/MrWong99/parley/internal/tools"
)

// Name is the function name advertised to the service.
const Name = "capture_photo"

const (
	// DefaultRetryWindow is how long capture keeps retrying while the camera
	// reports [tools.ErrDeviceUnavailable].
	DefaultRetryWindow = 5 * time.Second

	defaultRetryInterval = 500 * time.Millisecond
)

// Camera captures still images. CapturePhoto returns an error matching
// [tools.ErrDeviceUnavailable] when no camera session can be reached.
type Camera interface {
	CapturePhoto(ctx context.Context) ([]byte, error)
}

// Option configures the tool.
type Option func(*config)

type config struct {
	window   time.Duration
	interval time.Duration
}

// WithRetryWindow overrides [DefaultRetryWindow]. Zero disables retries.
func WithRetryWindow(d time.Duration) Option {
	return func(c *config) { c.window = max(d, 0) }
}

// WithRetryInterval sets the pause between capture attempts.
func WithRetryInterval(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.interval = d
		}
	}
}

type args struct {
	// Reason is what the assistant wants to look at. It is informational
	// only and echoed in the result.
	Reason string `json:"reason,omitempty"`
}

// New returns the capture_photo tool backed by cam.
func New(cam Camera, opts ...Option) tools.Tool {
	cfg := config{window: DefaultRetryWindow, interval: defaultRetryInterval}
	for _, o := range opts {
		o(&cfg)
	}

	return tools.Tool{
		Definition: tools.Function(Name,
			"Take a photo with the user's camera to see what they are looking at. The image is attached to the conversation.",
			map[string]any{
				"type": "object",
				"properties": map[string]any{
					"reason": map[string]any{
						"type":        "string",
						"description": "What you want to look at.",
					},
				},
			}),
		Progress: "Capturing photo…",
		Handler: func(ctx context.Context, raw string) (tools.Result, error) {
			var a args
			if err := tools.DecodeArgs(raw, &a); err != nil {
				return tools.Result{}, err
			}
			img, err := capture(ctx, cam, cfg)
			if err != nil {
				return tools.Result{}, err
			}
			mime := http.DetectContentType(img)
			out := fmt.Sprintf("Photo captured (%d KB, %s). The image follows as the next conversation item.", (len(img)+1023)/1024, mime)
			return tools.Result{
				Output: out,
				Status: "Photo captured",
				Image:  &tools.Image{MIMEType: mime, Data: img},
			}, nil
		},
	}
}

// capture retries while the camera is unavailable, up to the configured
// window. Any other failure is returned immediately.
func capture(ctx context.Context, cam Camera, cfg config) ([]byte, error) {
	if cam == nil {
		return nil, tools.Upstream(fmt.Errorf("photo: no camera configured: %w", tools.ErrDeviceUnavailable))
	}

	var img []byte
	attempt := func(ctx context.Context) error {
		b, err := cam.CapturePhoto(ctx)
		switch {
		case errors.Is(err, tools.ErrDeviceUnavailable):
			return retry.RetryableError(err)
		case err != nil:
			return err
		case len(b) == 0:
			return errors.New("camera returned an empty image")
		}
		img = b
		return nil
	}

	var err error
	if cfg.window == 0 {
		err = attempt(ctx)
	} else {
		err = retry.Do(ctx, retry.WithMaxDuration(cfg.window, retry.NewConstant(cfg.interval)), attempt)
	}
	if err != nil {
		return nil, tools.Upstream(fmt.Errorf("photo: %w", err))
	}
	return img, nil
}
