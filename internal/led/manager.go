package led

import (
	"log/slog"
	"sync"

	"github.com/smazurov/avrec/internal/events"
)

// Manager mirrors the recording session state on the indicator LED:
// solid while recording, blinking while paused, off otherwise.
type Manager struct {
	controller  Controller
	eventBus    *events.Bus
	logger      *slog.Logger
	unsubscribe func()

	mu    sync.Mutex
	state string
}

// NewManager creates a Manager. Nothing happens until Start.
func NewManager(controller Controller, eventBus *events.Bus, logger *slog.Logger) *Manager {
	return &Manager{
		controller: controller,
		eventBus:   eventBus,
		logger:     logger,
		state:      events.SessionStopped,
	}
}

// Start turns the indicator off and follows session events.
func (m *Manager) Start() {
	m.apply(events.SessionStopped)
	m.unsubscribe = m.eventBus.Subscribe(func(e events.SessionStateChangedEvent) {
		m.handleEvent(e)
	})
	m.logger.Info("LED manager started", "indicator", m.controller.Indicator())
}

// Stop unsubscribes and turns the indicator off.
func (m *Manager) Stop() {
	if m.unsubscribe != nil {
		m.unsubscribe()
		m.unsubscribe = nil
	}
	m.apply(events.SessionStopped)
	m.logger.Info("LED manager stopped")
}

func (m *Manager) handleEvent(e events.SessionStateChangedEvent) {
	m.logger.Debug("Session state changed", "session_id", e.GetSessionID(), "state", e.State)
	m.apply(e.State)
}

func (m *Manager) apply(state string) {
	led := m.controller.Indicator()
	if led == "" {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = state

	var err error
	switch state {
	case events.SessionRecording:
		err = m.controller.Set(led, true, PatternSolid)
	case events.SessionPaused:
		err = m.controller.Set(led, true, PatternBlink)
	default:
		err = m.controller.Set(led, false, PatternSolid)
	}
	if err != nil {
		m.logger.Warn("Failed to set indicator LED", "led", led, "state", state, "error", err)
	}
}

// State is the session state last shown on the LED.
func (m *Manager) State() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// GetController returns the controller for direct API access.
func (m *Manager) GetController() Controller {
	return m.controller
}
