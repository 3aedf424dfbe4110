// Package models holds the request and response bodies of the HTTP API.
package models

import (
	"time"

	"github.com/smazurov/avrec/internal/encoders"
	"github.com/smazurov/avrec/internal/ffmpeg"
)

// Health check models
type HealthData struct {
	Status  string `json:"status" example:"ok" doc:"Service status"`
	Message string `json:"message" example:"API is healthy" doc:"Status message"`
}

type HealthResponse struct {
	Body HealthData
}

// Version models
type VersionData struct {
	Version   string `json:"version" example:"dev" doc:"Application version"`
	GitCommit string `json:"git_commit" example:"abc1234" doc:"Git commit SHA"`
	BuildDate string `json:"build_date" example:"2024-12-15 14:30" doc:"Build timestamp"`
	BuildID   string `json:"build_id" example:"a1b2c3d4" doc:"Unique build identifier"`
	GoVersion string `json:"go_version" example:"go1.24.0" doc:"Go compiler version"`
	Compiler  string `json:"compiler" example:"gc" doc:"Compiler used"`
	Platform  string `json:"platform" example:"linux/arm64" doc:"Platform"`
}

type VersionResponse struct {
	Body VersionData
}

// Recording models

// StartRecordingData overrides the configured session options. Omitted
// fields keep their configured values.
type StartRecordingData struct {
	Container   string `json:"container,omitempty" enum:"mp4,webm" example:"mp4" doc:"Container format"`
	OutputDir   string `json:"output_dir,omitempty" example:"/var/lib/avrec" doc:"Directory receiving the recording"`
	Video       *bool  `json:"video,omitempty" doc:"Record a video track"`
	Audio       *bool  `json:"audio,omitempty" doc:"Record an audio track"`
	VideoDevice string `json:"video_device,omitempty" example:"/dev/video0" doc:"V4L2 device, lavfi:<graph> or test"`
	AudioDevice string `json:"audio_device,omitempty" example:"hw:1,0" doc:"ALSA or PulseAudio device, lavfi:<graph> or test"`
	Width       int    `json:"width,omitempty" minimum:"0" example:"1920" doc:"Frame width"`
	Height      int    `json:"height,omitempty" minimum:"0" example:"1080" doc:"Frame height"`
	FrameRate   int    `json:"framerate,omitempty" minimum:"0" example:"30" doc:"Frame rate"`
}

type StartRecordingRequest struct {
	Body *StartRecordingData `required:"false"`
}

type TrackData struct {
	Kind          string `json:"kind" example:"video" doc:"Track kind: audio or video"`
	State         string `json:"state" example:"capturing" doc:"Pipeline state"`
	Encoder       string `json:"encoder,omitempty" example:"h264_vaapi" doc:"Encoder in use"`
	LastTimestamp int64  `json:"last_timestamp_us" example:"1200000" doc:"Presentation time of the last sample in microseconds"`
	PausedUs      int64  `json:"paused_us" example:"0" doc:"Paused time removed from timestamps in microseconds"`
	SourceDropped int    `json:"source_dropped" example:"0" doc:"Raw frames dropped by the source"`
	Error         string `json:"error,omitempty" doc:"Why the track failed or was skipped"`
}

type ContainerData struct {
	Open    bool           `json:"open" doc:"Whether the container accepts samples"`
	Closed  bool           `json:"closed" doc:"Whether the container has been finalized"`
	Tracks  int            `json:"tracks" example:"2" doc:"Registered tracks"`
	Ready   int            `json:"ready" example:"2" doc:"Tracks that reported their output format"`
	Active  int            `json:"active" example:"2" doc:"Tracks still writing"`
	Written map[string]int `json:"written" doc:"Samples written per track"`
	Dropped int            `json:"dropped" doc:"Samples dropped outside the open window"`
}

type RecordingData struct {
	Active    bool          `json:"active" doc:"Whether a session is recording or paused"`
	SessionID string        `json:"session_id,omitempty" doc:"Current or last session identifier"`
	State     string        `json:"state,omitempty" example:"recording" doc:"Session state"`
	Path      string        `json:"path,omitempty" example:"recordings/2025-01-27-10-30-00.mp4" doc:"Output file"`
	Started   time.Time     `json:"started,omitempty" doc:"When the session started"`
	Tracks    []TrackData   `json:"tracks" doc:"Per-track pipeline status"`
	Container ContainerData `json:"container" doc:"Container coordinator counters"`
	Error     string        `json:"error,omitempty" doc:"Aggregated session failure"`
}

type RecordingResponse struct {
	Body RecordingData
}

// Encoder models

type EncodersRequest struct {
	Track string `query:"track" enum:"video,audio" default:"video" doc:"Track whose encoder candidates to list"`
}

type EncodersData struct {
	Track      string               `json:"track" example:"video" doc:"Track kind"`
	Mime       string               `json:"mime" example:"video/avc" doc:"Codec MIME type"`
	Candidates []encoders.Candidate `json:"candidates" doc:"Encoders in order of preference"`
}

type EncodersResponse struct {
	Body EncodersData
}

type ValidationResponse struct {
	Body *encoders.ValidationResults
}

// Log models

type LogsRequest struct {
	Limit int `query:"limit" minimum:"0" maximum:"1000" default:"100" doc:"Most recent entries to return, 0 for all"`
}

type LogEntryData struct {
	Timestamp  time.Time      `json:"timestamp" doc:"Log timestamp"`
	Level      string         `json:"level" example:"info" doc:"Log level"`
	Module     string         `json:"module" example:"recorder" doc:"Source module"`
	Message    string         `json:"message" doc:"Log message"`
	Attributes map[string]any `json:"attributes,omitempty" doc:"Structured log attributes"`
}

type LogsResponse struct {
	Body struct {
		Entries []LogEntryData `json:"entries" doc:"Entries, oldest first"`
	}
}

// Metrics models

type TrackMetricsData struct {
	Samples       int64 `json:"samples" doc:"Samples written"`
	Bytes         int64 `json:"bytes" doc:"Payload bytes written"`
	Dropped       int64 `json:"dropped" doc:"Samples dropped"`
	SourceDropped int64 `json:"source_dropped" doc:"Raw frames dropped by the source"`
	Faults        int64 `json:"faults" doc:"Encoder faults"`
	LastTimestamp int64 `json:"last_timestamp_us" doc:"Presentation time of the last sample in microseconds"`
}

type TrackMetricsResponse struct {
	Body struct {
		Tracks map[string]TrackMetricsData `json:"tracks" doc:"Counters per track"`
	}
}

// Options models for FFmpeg capture configuration
type OptionsData struct {
	Options []ffmpeg.Option `json:"options" doc:"All available FFmpeg capture options with metadata"`
}

type OptionsResponse struct {
	Body OptionsData
}
