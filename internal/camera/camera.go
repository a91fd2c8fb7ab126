// Package camera provides the image source behind the capture_photo tool: a
// network camera that serves a JPEG snapshot over HTTP (most IP cameras and
// phone webcam apps expose one).
package camera

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/MrWong99/parley/internal/tools"
)

const (
	// DefaultTimeout bounds one snapshot request.
	DefaultTimeout = 5 * time.Second

	// maxSnapshot limits the size of an accepted image.
	maxSnapshot = 10 << 20
)

// Option configures a [Snapshot].
type Option func(*Snapshot)

// WithClient replaces the HTTP client.
func WithClient(c *http.Client) Option { return func(s *Snapshot) { s.client = c } }

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option { return func(s *Snapshot) { s.timeout = d } }

// Snapshot fetches still images from an HTTP endpoint.
//
// A camera that cannot be reached (connection refused, DNS failure, request
// timeout) or answers 503 is reported as [tools.ErrDeviceUnavailable], so
// the photo tool keeps retrying while the device comes up. Any other failure
// is returned as is.
type Snapshot struct {
	url     string
	client  *http.Client
	timeout time.Duration
}

// New returns a camera fetching snapshots from url.
func New(url string, opts ...Option) *Snapshot {
	s := &Snapshot{
		url:     url,
		client:  &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		timeout: DefaultTimeout,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// CapturePhoto returns the encoded bytes of one snapshot.
func (s *Snapshot) CapturePhoto(ctx context.Context) ([]byte, error) {
	if s.url == "" {
		return nil, fmt.Errorf("camera: no snapshot url configured: %w", tools.ErrDeviceUnavailable)
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("camera: build request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		if unreachable(err) {
			return nil, fmt.Errorf("camera: %w: %v", tools.ErrDeviceUnavailable, err)
		}
		return nil, fmt.Errorf("camera: request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusServiceUnavailable:
		return nil, fmt.Errorf("camera: %w: status %d", tools.ErrDeviceUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("camera: unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSnapshot+1))
	if err != nil {
		return nil, fmt.Errorf("camera: read snapshot: %w", err)
	}
	switch {
	case len(data) == 0:
		return nil, errors.New("camera: empty snapshot")
	case len(data) > maxSnapshot:
		return nil, fmt.Errorf("camera: snapshot larger than %d bytes", maxSnapshot)
	}
	return data, nil
}

// unreachable reports whether err means the device is not (yet) reachable
// rather than misbehaving.
func unreachable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}
