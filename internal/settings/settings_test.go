package settings

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSettings_MemoriesPersist(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "settings.yaml")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.SetMemory(" Favourite_Food ", "ramen"); err != nil {
		t.Fatalf("SetMemory: %v", err)
	}
	if err := s.SetMemory("city", "Berlin"); err != nil {
		t.Fatalf("SetMemory: %v", err)
	}
	if ok, err := s.DeleteMemory("CITY"); err != nil || !ok {
		t.Fatalf("DeleteMemory = %v, %v; want true, nil", ok, err)
	}
	if ok, err := s.DeleteMemory("city"); err != nil || ok {
		t.Fatalf("DeleteMemory missing = %v, %v; want false, nil", ok, err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	got := reopened.Memories()
	if len(got) != 1 || got["favourite_food"] != "ramen" {
		t.Errorf("memories = %v", got)
	}
	if v, ok := reopened.Memory("favourite_food"); !ok || v != "ramen" {
		t.Errorf("Memory = %q, %v", v, ok)
	}
}

func TestSettings_ToolFlags(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "settings.yaml")
	if err := os.WriteFile(path, []byte("tools:\n  web_search: false\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	tests := []struct {
		name string
		want bool
	}{
		{"web_search", false},
		{"capture_photo", true},
	}
	for _, tc := range tests {
		if got := s.ToolEnabled(tc.name); got != tc.want {
			t.Errorf("ToolEnabled(%q) = %v, want %v", tc.name, got, tc.want)
		}
	}

	if err := s.SetToolEnabled("capture_photo", false); err != nil {
		t.Fatal(err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), "capture_photo: false") {
		t.Errorf("file = %s", raw)
	}
}

func TestSettings_MemoriesIsACopy(t *testing.T) {
	t.Parallel()

	s, err := Open("")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SetMemory("name", "Ada"); err != nil {
		t.Fatal(err)
	}
	m := s.Memories()
	m["name"] = "changed"
	if v, _ := s.Memory("name"); v != "Ada" {
		t.Errorf("Memory = %q, want Ada", v)
	}
	if err := s.SetMemory("  ", "x"); err == nil {
		t.Error("SetMemory with blank key: want error")
	}
}

func TestSettings_InvalidFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "settings.yaml")
	if err := os.WriteFile(path, []byte("memories: [not, a, map]\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path); err == nil {
		t.Error("Open: want error for malformed file")
	}
}

func TestStaticLocation(t *testing.T) {
	t.Parallel()

	if _, ok := StaticLocation("  ").Describe(context.Background()); ok {
		t.Error("blank location reported as known")
	}
	if got, ok := StaticLocation("Lisbon, Portugal").Describe(context.Background()); !ok || got != "Lisbon, Portugal" {
		t.Errorf("Describe = %q, %v", got, ok)
	}
}
