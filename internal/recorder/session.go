package recorder

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/smazurov/avrec/internal/events"
	"github.com/smazurov/avrec/internal/media"
	"github.com/smazurov/avrec/internal/metrics"
	"github.com/smazurov/avrec/internal/mux"
	"github.com/smazurov/avrec/internal/pipeline"
)

// Session is one recording: a coordinator, its container file and the
// pipelines feeding it. A session is never restarted.
type Session struct {
	ID      string
	Path    string
	Started time.Time
	Options Options

	coord     *mux.Coordinator
	pipelines []*pipeline.Pipeline
	skipped   map[media.TrackKind]error
	listener  pipeline.Listener
	events    events.Publisher
	logger    *slog.Logger

	cancel context.CancelFunc

	mu     sync.Mutex
	state  string
	result error
	done   chan struct{}
}

// OnPrepared implements pipeline.Listener.
func (s *Session) OnPrepared(p *pipeline.Pipeline) {
	if s.listener != nil {
		s.listener.OnPrepared(p)
	}
}

// OnStopped implements pipeline.Listener. A session-fatal failure of one
// pipeline stops every sibling.
func (s *Session) OnStopped(p *pipeline.Pipeline) {
	if err := p.Err(); err != nil && media.IsFatalToSession(err) {
		s.logger.Error("Session-fatal pipeline failure, stopping session", "track", p.Kind(), "error", err)
		s.stop()
	}
	if s.listener != nil {
		s.listener.OnStopped(p)
	}
}

// Done is closed once every pipeline has released and the container is closed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Wait blocks until the session ends or ctx is done and returns the
// aggregated pipeline failures.
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return s.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the aggregated failures of a finished session.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

// State returns the session state: recording, paused or stopped.
func (s *Session) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) active() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

func (s *Session) setState(state string, err error) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()

	ev := events.SessionStateChangedEvent{
		SessionID: s.ID,
		State:     state,
		Path:      s.Path,
		Timestamp: events.Now(),
	}
	if err != nil {
		ev.Error = err.Error()
	}
	events.Publish(s.events, ev)
}

// stop fans Stop out to every pipeline and cancels barrier waits.
func (s *Session) stop() {
	s.cancel()
	for _, p := range s.pipelines {
		if err := p.Stop(); err != nil {
			s.logger.Warn("Failed to stop pipeline", "track", p.Kind(), "error", err)
		}
	}
}

func (s *Session) pause() error {
	var result *multierror.Error
	for _, p := range s.pipelines {
		if p.State() != pipeline.Capturing {
			continue
		}
		if err := p.Pause(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return err
	}
	s.setState(events.SessionPaused, nil)
	return nil
}

func (s *Session) resume() error {
	var result *multierror.Error
	for _, p := range s.pipelines {
		if p.State() != pipeline.Paused {
			continue
		}
		if err := p.Resume(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return err
	}
	s.setState(events.SessionRecording, nil)
	return nil
}

// watch waits for every pipeline and the container, then records the result.
func (s *Session) watch(onDone func(*Session)) {
	var result *multierror.Error
	for _, p := range s.pipelines {
		<-p.Done()
		if err := p.Err(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	<-s.coord.Done()
	s.cancel()

	err := result.ErrorOrNil()
	s.mu.Lock()
	s.result = err
	s.mu.Unlock()

	snap := s.coord.Snapshot()
	if err != nil {
		s.logger.Error("Recording finished with errors", "path", s.Path, "error", err, "samples", snap.Written, "dropped", snap.Dropped)
	} else {
		s.logger.Info("Recording finished", "path", s.Path, "duration", time.Since(s.Started).Round(time.Millisecond), "samples", snap.Written, "dropped", snap.Dropped)
	}
	metrics.SessionEnded()
	s.setState(events.SessionStopped, err)
	close(s.done)

	if onDone != nil {
		onDone(s)
	}
}

// TrackStatus reports one pipeline.
type TrackStatus struct {
	Kind          media.TrackKind
	State         string
	Encoder       string
	LastTimestamp time.Duration
	Paused        time.Duration
	SourceDropped int
	Error         string
}

// Status is a snapshot of the recorder.
type Status struct {
	Active    bool
	SessionID string
	State     string
	Path      string
	Started   time.Time
	Tracks    []TrackStatus
	Container mux.Snapshot
	Error     string
}

func (s *Session) status() Status {
	st := Status{
		Active:    s.active(),
		SessionID: s.ID,
		State:     s.State(),
		Path:      s.Path,
		Started:   s.Started,
		Container: s.coord.Snapshot(),
	}
	for _, p := range s.pipelines {
		info := p.Info()
		ts := TrackStatus{
			Kind:          info.Kind,
			State:         info.State.String(),
			Encoder:       info.Encoder,
			LastTimestamp: time.Duration(info.LastTimestamp) * time.Microsecond,
			Paused:        info.Paused,
			SourceDropped: info.SourceDropped,
		}
		if info.Err != nil {
			ts.Error = info.Err.Error()
		} else if err := s.skipped[info.Kind]; err != nil {
			ts.Error = err.Error()
		}
		st.Tracks = append(st.Tracks, ts)
	}
	if err := s.Err(); err != nil {
		st.Error = err.Error()
	}
	return st
}
