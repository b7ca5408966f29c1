// Package session runs recording sessions: it consumes captured chunks,
// routes them through transcription and analysis, retries what failed
// while offline, and persists a summary when the session ends.
package session

import (
	"context"
	"time"

	"github.com/GriffinCanCode/meeting-pilot/internal/audio"
	apperrors "github.com/GriffinCanCode/meeting-pilot/internal/errors"
	"github.com/GriffinCanCode/meeting-pilot/internal/resilience"
	"github.com/GriffinCanCode/meeting-pilot/internal/store"
	"github.com/GriffinCanCode/meeting-pilot/internal/transcript"
)

// State is the session lifecycle state.
type State int

const (
	Idle State = iota
	Recording
	Processing
	Error
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	case Processing:
		return "processing"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name.
func (s *State) UnmarshalText(b []byte) error {
	for _, st := range []State{Idle, Recording, Processing, Error} {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return apperrors.Newf(apperrors.CodeInvalidArgument, "unknown session state %q", b)
}

// Sentinel errors returned by Start and Stop.
var (
	ErrNotRecording     = apperrors.New(apperrors.CodeInvalidArgument, "no session is recording")
	ErrStopInProgress   = apperrors.New(apperrors.CodeInvalidArgument, "stop already in progress")
	ErrAlreadyRecording = apperrors.New(apperrors.CodeInvalidArgument, "a session is already recording")
)

// Failure reasons for retry entries.
const (
	ReasonTranscribe = "transcribe"
	ReasonAnalyze    = "analyze"
)

// FailedChunk is a chunk waiting for another attempt. A chunk that failed
// only at analysis keeps its transcription so the retry skips transcribing.
type FailedChunk struct {
	Chunk         audio.Chunk
	Reason        string
	Transcription *transcript.Record
}

// SummaryRequest is the input for the end-of-session summary.
type SummaryRequest struct {
	Transcript string
	Confidence *float64
	Insights   transcript.Insights
}

// Transcriber turns a chunk into text.
type Transcriber interface {
	Transcribe(ctx context.Context, chunk audio.Chunk) (*transcript.Record, error)
}

// Analyzer extracts insights from text and summarizes whole sessions.
type Analyzer interface {
	Analyze(ctx context.Context, text string) (*transcript.Analysis, error)
	Summarize(ctx context.Context, req SummaryRequest) (string, error)
}

// Capture is the audio side of a session. *audio.Source implements it.
type Capture interface {
	Start(opts audio.StartOptions) error
	Stop()
	NextChunk(timeout time.Duration) (audio.Chunk, bool)
	Drain() []audio.Chunk
	Cleanup()
}

// History receives finished sessions. *store.Store implements it.
type History interface {
	AddSession(in store.SessionInput) error
}

var (
	_ Capture = (*audio.Source)(nil)
	_ History = (*store.Store)(nil)
)

// StartOptions selects the capture device for a session.
type StartOptions struct {
	UseLineIn   bool
	DeviceIndex *int
}

// Info is a snapshot of the manager for status displays.
type Info struct {
	State          State                     `json:"state"`
	Finalizing     bool                      `json:"finalizing"`
	SessionID      string                    `json:"session_id,omitempty"`
	StartTime      time.Time                 `json:"start_time,omitzero"`
	Online         bool                      `json:"online"`
	PendingRetries int                       `json:"pending_retries"`
	Transcriptions int                       `json:"transcriptions"`
	Analyses       int                       `json:"analyses"`
	LastError      string                    `json:"last_error,omitempty"`
	Limits         []resilience.LimiterStats `json:"limits"`
}
