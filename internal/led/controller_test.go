package led

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func TestNoopController(t *testing.T) {
	ctrl := newNoop(discard)
	if err := ctrl.Set("user", true, PatternSolid); err != nil {
		t.Errorf("Set() returned error: %v", err)
	}
	if len(ctrl.Available()) != 0 || len(ctrl.Patterns()) != 0 || ctrl.Indicator() != "" {
		t.Error("noop controller should expose nothing")
	}
}

// fakeLED creates a sysfs LED directory under root.
func fakeLED(t *testing.T, root, name string) string {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	return dir
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestSysfsSet(t *testing.T) {
	root := t.TempDir()
	dir := fakeLED(t, root, "usr_led")
	ctrl := newSysfs(root, map[string]string{"user": "usr_led"}, "user")

	tests := []struct {
		enabled    bool
		pattern    string
		trigger    string
		brightness string
	}{
		{true, PatternSolid, "none", "1"},
		{false, PatternSolid, "none", "0"},
		{true, PatternBlink, "heartbeat", "0"},
	}
	for _, tt := range tests {
		if err := ctrl.Set("user", tt.enabled, tt.pattern); err != nil {
			t.Fatalf("Set(%v, %q): %v", tt.enabled, tt.pattern, err)
		}
		if got := readFile(t, filepath.Join(dir, "trigger")); got != tt.trigger {
			t.Errorf("Set(%v, %q) trigger = %q, want %q", tt.enabled, tt.pattern, got, tt.trigger)
		}
		if got := readFile(t, filepath.Join(dir, "brightness")); got != tt.brightness {
			t.Errorf("Set(%v, %q) brightness = %q, want %q", tt.enabled, tt.pattern, got, tt.brightness)
		}
	}
}

func TestSysfsSetErrors(t *testing.T) {
	ctrl := newSysfs(t.TempDir(), map[string]string{"user": "usr_led"}, "user")
	if err := ctrl.Set("nonexistent", true, ""); err == nil {
		t.Error("expected error for unsupported LED type")
	}
	if err := ctrl.Set("user", true, ""); err == nil {
		t.Error("expected error for missing LED directory")
	}
}

func TestSysfsAvailable(t *testing.T) {
	ctrl := newSysfs(t.TempDir(), map[string]string{"user": "usr_led", "system": "sys_led"}, "user")
	if got := ctrl.Available(); !slices.Equal(got, []string{"system", "user"}) {
		t.Errorf("Available() = %v", got)
	}
	if got := ctrl.Patterns(); !slices.Contains(got, PatternSolid) || !slices.Contains(got, PatternBlink) {
		t.Errorf("Patterns() = %v", got)
	}
}
