package led

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
)

const sysfsLEDPath = "/sys/class/leds"

// sysfs drives LEDs through the Linux LED class interface.
type sysfs struct {
	root      string
	leds      map[string]string // LED type -> sysfs name
	indicator string
}

func newSysfs(root string, leds map[string]string, indicator string) *sysfs {
	return &sysfs{root: root, leds: leds, indicator: indicator}
}

// trigger maps a pattern to the kernel trigger implementing it.
func trigger(pattern string) string {
	switch pattern {
	case PatternSolid:
		return "none"
	case PatternBlink, "heartbeat":
		return "heartbeat"
	default:
		return pattern
	}
}

func (s *sysfs) Set(ledType string, enabled bool, pattern string) error {
	name, ok := s.leds[ledType]
	if !ok {
		return fmt.Errorf("LED type %q not supported on this board", ledType)
	}

	dir := filepath.Join(s.root, name)
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("LED %q not found at %s: %w", ledType, dir, err)
	}

	if pattern != "" {
		if err := os.WriteFile(filepath.Join(dir, "trigger"), []byte(trigger(pattern)), 0o644); err != nil {
			return fmt.Errorf("failed to set LED trigger: %w", err)
		}
	}

	// A running trigger owns the brightness.
	if pattern == PatternBlink || pattern == "heartbeat" {
		return nil
	}
	brightness := "0"
	if enabled {
		brightness = "1"
	}
	if err := os.WriteFile(filepath.Join(dir, "brightness"), []byte(brightness), 0o644); err != nil {
		return fmt.Errorf("failed to set LED brightness: %w", err)
	}
	return nil
}

func (s *sysfs) Available() []string {
	types := make([]string, 0, len(s.leds))
	for ledType := range s.leds {
		types = append(types, ledType)
	}
	slices.Sort(types)
	return types
}

func (s *sysfs) Patterns() []string {
	return []string{PatternSolid, PatternBlink, "heartbeat"}
}

func (s *sysfs) Indicator() string { return s.indicator }
