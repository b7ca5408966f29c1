package session

import (
	"time"

	"github.com/GriffinCanCode/meeting-pilot/internal/transcript"
)

// EventType names a session event.
type EventType string

const (
	EventState        EventType = "state"
	EventTranscript   EventType = "transcript"
	EventAnalysis     EventType = "analysis"
	EventConnectivity EventType = "connectivity"
	EventSummary      EventType = "summary"
)

// Event is published on the manager's event channel.
type Event struct {
	Type       EventType            `json:"type"`
	SessionID  string               `json:"session_id,omitempty"`
	Time       time.Time            `json:"time"`
	State      string               `json:"state,omitempty"`
	Finalizing bool                 `json:"finalizing,omitempty"`
	Text       string               `json:"text,omitempty"`
	Insights   *transcript.Insights `json:"insights,omitempty"`
	Online     *bool                `json:"online,omitempty"`
	Summary    string               `json:"summary,omitempty"`
}

// Events returns the event channel. Slow readers miss events rather than
// stalling the pipeline.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// emit sends an event (non-blocking).
func (m *Manager) emit(ev Event) {
	ev.Time = m.now()
	select {
	case m.events <- ev:
	default:
	}
}

// OnStateChange registers fn to run after every state transition.
// Callbacks run outside the state lock.
func (m *Manager) OnStateChange(fn func(state State, finalizing bool)) {
	m.hooksMu.Lock()
	defer m.hooksMu.Unlock()
	m.hooks = append(m.hooks, fn)
}

func (m *Manager) notify(id string, state State, finalizing bool) {
	m.hooksMu.Lock()
	hooks := append([]func(State, bool){}, m.hooks...)
	m.hooksMu.Unlock()

	for _, fn := range hooks {
		fn(state, finalizing)
	}
	m.emit(Event{Type: EventState, SessionID: id, State: state.String(), Finalizing: finalizing})
}
