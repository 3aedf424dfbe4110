package events

// Event type constants for kelindar/event.
const (
	TypeSessionStateChanged uint32 = iota + 1
	TypePipelineStateChanged
	TypePipelineFailed
	TypeContainerOpened
	TypeContainerClosed
	TypeLogEntry
	TypeEncoderMetrics
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// Publisher is the publishing side of the bus. Components take a Publisher
// so tests can pass nil or a recorder.
type Publisher interface {
	Publish(ev Event)
}

// Session states carried by SessionStateChangedEvent.
const (
	SessionRecording = "recording"
	SessionPaused    = "paused"
	SessionStopped   = "stopped"
)

// SessionStateChangedEvent is published when a recording session starts,
// pauses, resumes or ends.
type SessionStateChangedEvent struct {
	SessionID string `json:"session_id" example:"5f0c2f7e-3f0a-4a57-9a53-0b8cf1d3e1a2" doc:"Recording session identifier"`
	State     string `json:"state" example:"recording" doc:"Session state: recording, paused, stopped"`
	Path      string `json:"path" example:"/var/lib/avrec/2025-01-27-10-30-00.mp4" doc:"Output file"`
	Error     string `json:"error,omitempty" doc:"Aggregated failure when the session ended abnormally"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for SessionStateChangedEvent.
func (e SessionStateChangedEvent) Type() uint32 { return TypeSessionStateChanged }

// GetSessionID implements the indicator event interface used by the LED manager.
func (e SessionStateChangedEvent) GetSessionID() string {
	return e.SessionID
}

// IsActive reports whether media is being captured.
func (e SessionStateChangedEvent) IsActive() bool {
	return e.State == SessionRecording
}

// PipelineStateChangedEvent is published on every encoder pipeline transition.
type PipelineStateChangedEvent struct {
	SessionID string `json:"session_id" doc:"Recording session identifier"`
	Track     string `json:"track" example:"video" doc:"Track kind: audio or video"`
	From      string `json:"from" example:"preparing" doc:"Previous state"`
	To        string `json:"to" example:"capturing" doc:"New state"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for PipelineStateChangedEvent.
func (e PipelineStateChangedEvent) Type() uint32 { return TypePipelineStateChanged }

// PipelineFailedEvent is published when an encoder fault ends a pipeline.
type PipelineFailedEvent struct {
	SessionID string `json:"session_id" doc:"Recording session identifier"`
	Track     string `json:"track" example:"audio" doc:"Track kind"`
	Error     string `json:"error" doc:"Failure description"`
	Fatal     bool   `json:"fatal" doc:"Whether the failure ends the whole session"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for PipelineFailedEvent.
func (e PipelineFailedEvent) Type() uint32 { return TypePipelineFailed }

// ContainerOpenedEvent is published when every track is ready and the
// container starts accepting samples.
type ContainerOpenedEvent struct {
	SessionID string `json:"session_id" doc:"Recording session identifier"`
	Tracks    int    `json:"tracks" example:"2" doc:"Number of tracks in the container"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for ContainerOpenedEvent.
func (e ContainerOpenedEvent) Type() uint32 { return TypeContainerOpened }

// ContainerClosedEvent is published after the container writer is released.
type ContainerClosedEvent struct {
	SessionID string         `json:"session_id" doc:"Recording session identifier"`
	Opened    bool           `json:"opened" doc:"Whether the container was ever started"`
	Samples   map[string]int `json:"samples" doc:"Samples written per track"`
	Dropped   int            `json:"dropped" doc:"Samples dropped outside the open window"`
	Timestamp string         `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for ContainerClosedEvent.
func (e ContainerClosedEvent) Type() uint32 { return TypeContainerClosed }

// LogEntryEvent represents a log entry for SSE streaming.
type LogEntryEvent struct {
	Seq        uint64         `json:"seq" example:"42" doc:"Monotonic sequence number for deduplication"`
	Timestamp  string         `json:"timestamp" example:"2025-01-09T10:30:00.123Z" doc:"Log timestamp"`
	Level      string         `json:"level" example:"info" doc:"Log level"`
	Module     string         `json:"module" example:"api" doc:"Source module"`
	Message    string         `json:"message" doc:"Log message"`
	Attributes map[string]any `json:"attributes,omitempty" doc:"Structured log attributes"`
}

// Type returns the event type identifier for LogEntryEvent.
func (e LogEntryEvent) Type() uint32 { return TypeLogEntry }

// EncoderMetricsEvent carries the latest progress report of one encoder.
type EncoderMetricsEvent struct {
	Encoder         string `json:"encoder" example:"video" doc:"Encoder identifier"`
	FPS             string `json:"fps" example:"30.00" doc:"Frames per second"`
	DroppedFrames   string `json:"dropped_frames" example:"0" doc:"Frames dropped by the encoder"`
	DuplicateFrames string `json:"duplicate_frames" example:"0" doc:"Frames duplicated by the encoder"`
	Speed           string `json:"speed" example:"1.00" doc:"Speed relative to real time"`
	Timestamp       string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for EncoderMetricsEvent.
func (e EncoderMetricsEvent) Type() uint32 { return TypeEncoderMetrics }
