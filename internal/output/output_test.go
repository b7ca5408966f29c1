package output

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/GriffinCanCode/meeting-pilot/internal/audio"
	"github.com/GriffinCanCode/meeting-pilot/internal/session"
	"github.com/GriffinCanCode/meeting-pilot/internal/store"
	"github.com/GriffinCanCode/meeting-pilot/internal/transcript"
)

func TestEvent(t *testing.T) {
	var buf bytes.Buffer
	f := NewFormatter(&buf)
	offline := false

	f.Event(session.Event{Type: session.EventState, State: "recording"})
	f.Event(session.Event{Type: session.EventTranscript, Text: "we ship friday"})
	f.Event(session.Event{Type: session.EventAnalysis, Insights: &transcript.Insights{
		Decisions:   []string{"Ship Friday"},
		ActionItems: []transcript.ActionItem{{Item: "Write notes", Assignee: "Ana"}},
	}})
	f.Event(session.Event{Type: session.EventConnectivity, Online: &offline})
	f.Event(session.Event{Type: session.EventSummary, Summary: "Short."})

	out := buf.String()
	assert.NotContains(t, out, "recording")
	assert.Contains(t, out, "we ship friday")
	assert.Contains(t, out, "decision: Ship Friday")
	assert.Contains(t, out, "Write notes (Ana)")
	assert.Contains(t, out, "Offline")
	assert.Contains(t, out, "Short.")
}

func TestDevices(t *testing.T) {
	var buf bytes.Buffer
	NewFormatter(&buf).Devices([]audio.Device{
		{Index: 0, Name: "Speakers", MaxOutputChannels: 2},
		{Index: 2, Name: "USB Mic", MaxInputChannels: 1, DefaultSampleRate: 48000, IsDefaultInput: true},
	})
	out := buf.String()
	assert.NotContains(t, out, "Speakers")
	assert.Contains(t, out, "*   2  USB Mic")
	assert.Contains(t, out, "48000 Hz")
}

func TestSessions(t *testing.T) {
	var buf bytes.Buffer
	f := NewFormatter(&buf)
	f.Sessions(nil)
	assert.Contains(t, buf.String(), "No sessions found")

	buf.Reset()
	f.Sessions([]store.Session{{
		StartTime: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC),
		Duration:  "45m",
		Summary:   "Budget review\nmore detail",
		Topics:    []string{"budget", "hiring"},
	}})
	out := buf.String()
	assert.Contains(t, out, "Budget review")
	assert.NotContains(t, out, "more detail")
	assert.True(t, strings.Contains(out, "topics: budget, hiring"))
}
