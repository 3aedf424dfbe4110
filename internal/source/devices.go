package source

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/smazurov/avrec/internal/ffmpeg"
	"github.com/smazurov/avrec/internal/process"
)

// Device is one capture device ffmpeg can open.
type Device struct {
	Name        string `json:"name" example:"hw:CARD=PCH,DEV=0" doc:"Device name as passed to ffmpeg"`
	Description string `json:"description" example:"HDA Intel PCH" doc:"Human-readable description"`
	Default     bool   `json:"default" doc:"Marked as the default device"`
}

// ListDevices asks ffmpeg for the devices of an input kind.
func ListDevices(ctx context.Context, input ffmpeg.SourceKind) ([]Device, error) {
	out, err := process.Output(ctx, ffmpeg.SourcesListArgs(input)...)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s devices: %w", input, err)
	}
	return parseSources(string(out)), nil
}

// parseSources reads `ffmpeg -sources` output:
//
//	Auto-detected sources for alsa:
//	* default [Default ALSA Output]
//	  hw:CARD=PCH,DEV=0 [HDA Intel PCH, ALC3246 Analog]
func parseSources(output string) []Device {
	var devices []Device
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "Auto-detected") || strings.TrimSpace(line) == "" {
			continue
		}

		var d Device
		line = strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(line, "*"); ok {
			d.Default = true
			line = strings.TrimSpace(rest)
		}
		if i := strings.Index(line, " ["); i >= 0 && strings.HasSuffix(line, "]") {
			d.Description = line[i+2 : len(line)-1]
			line = line[:i]
		}
		d.Name = line
		if d.Name != "" {
			devices = append(devices, d)
		}
	}
	return devices
}

// ResolveAudioDevice returns configured when ffmpeg lists it, or the ALSA
// default otherwise, reporting whether it fell back. An empty listing keeps
// the configured name.
func ResolveAudioDevice(configured string, devices []Device) (string, bool) {
	if configured == "" {
		return "default", false
	}
	if len(devices) == 0 {
		return configured, false
	}
	for _, d := range devices {
		if d.Name == configured {
			return configured, false
		}
	}
	return "default", true
}

// ResolveVideoDevice turns a device path or a stable /dev/v4l id into a
// path ffmpeg can open.
func ResolveVideoDevice(device string) (string, error) {
	if strings.HasPrefix(device, "/dev/") {
		if _, err := os.Stat(device); err != nil {
			return "", fmt.Errorf("video device %s: %w", device, err)
		}
		return device, nil
	}

	for _, dir := range []string{"/dev/v4l/by-id/", "/dev/v4l/by-path/"} {
		path := dir + device
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no video device found for %q", device)
}
