package camera

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MrWong99/parley/internal/tools"
)

var jpeg = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}

func TestSnapshot_CapturePhoto(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		status      int
		body        []byte
		wantErr     bool
		unavailable bool
	}{
		{name: "ok", status: http.StatusOK, body: jpeg},
		{name: "warming up", status: http.StatusServiceUnavailable, wantErr: true, unavailable: true},
		{name: "forbidden", status: http.StatusForbidden, wantErr: true},
		{name: "empty", status: http.StatusOK, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write(tc.body)
			}))
			t.Cleanup(srv.Close)

			got, err := New(srv.URL).CapturePhoto(context.Background())
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tc.wantErr)
			}
			if errors.Is(err, tools.ErrDeviceUnavailable) != tc.unavailable {
				t.Errorf("unavailable = %v, want %v (err %v)", !tc.unavailable, tc.unavailable, err)
			}
			if !tc.wantErr && !bytes.Equal(got, tc.body) {
				t.Errorf("body = %x, want %x", got, tc.body)
			}
		})
	}
}

func TestSnapshot_UnreachableIsUnavailable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(url).CapturePhoto(context.Background())
	if !errors.Is(err, tools.ErrDeviceUnavailable) {
		t.Errorf("err = %v, want ErrDeviceUnavailable", err)
	}

	_, err = New("").CapturePhoto(context.Background())
	if !errors.Is(err, tools.ErrDeviceUnavailable) {
		t.Errorf("no url: err = %v, want ErrDeviceUnavailable", err)
	}
}

func TestSnapshot_Timeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	_, err := New(srv.URL, WithTimeout(20*time.Millisecond)).CapturePhoto(context.Background())
	if !errors.Is(err, tools.ErrDeviceUnavailable) {
		t.Errorf("err = %v, want ErrDeviceUnavailable", err)
	}
}
