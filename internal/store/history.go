package store

import (
	"strings"
	"time"
)

// SessionInput is what the session manager hands over when a session finishes.
type SessionInput struct {
	ID                string
	StartTime         time.Time
	Duration          time.Duration
	Summary           string
	Transcript        string
	ActionItems       []ActionItem
	Decisions         []string
	Topics            []string
	Participants      []string
	ChunkCount        int
	AverageConfidence *float64
}

// AddSession appends a finished session, extends the histories and saves.
func (s *Store) AddSession(in SessionInput) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := cloneDocument(s.doc)
	doc.Sessions = append(doc.Sessions, Session{
		ID:                in.ID,
		StartTime:         in.StartTime,
		DurationSeconds:   in.Duration.Seconds(),
		Duration:          FormatDuration(in.Duration),
		Summary:           in.Summary,
		Transcript:        in.Transcript,
		ActionItems:       nonNil(in.ActionItems),
		Decisions:         nonNil(in.Decisions),
		Topics:            nonNil(in.Topics),
		Participants:      in.Participants,
		ChunkCount:        in.ChunkCount,
		AverageConfidence: in.AverageConfidence,
	})
	doc.Participants.Add(in.Participants...)
	for _, item := range in.ActionItems {
		doc.ActionItemHistory = append(doc.ActionItemHistory, ActionItemEntry{
			ActionItem: item, SessionID: in.ID, Date: in.StartTime,
		})
	}
	for _, d := range in.Decisions {
		doc.DecisionHistory = append(doc.DecisionHistory, DecisionEntry{
			Decision: d, SessionID: in.ID, Date: in.StartTime,
		})
	}

	return s.saveLocked(doc)
}

// Search returns sessions whose summary, transcript, topics, action items or
// decisions contain query, case-insensitively, newest first.
func (s *Store) Search(query string) []Session {
	q := strings.ToLower(strings.TrimSpace(query))
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Session
	for i := len(s.doc.Sessions) - 1; i >= 0; i-- {
		sess := s.doc.Sessions[i]
		if q == "" || sessionMatches(sess, q) {
			out = append(out, sess)
		}
	}
	return out
}

// Recent returns up to n most recent sessions, newest first.
func (s *Store) Recent(n int) []Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Session
	for i := len(s.doc.Sessions) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.doc.Sessions[i])
	}
	return out
}

func sessionMatches(s Session, q string) bool {
	contains := func(v string) bool { return strings.Contains(strings.ToLower(v), q) }

	if contains(s.Summary) || contains(s.Transcript) {
		return true
	}
	for _, t := range s.Topics {
		if contains(t) {
			return true
		}
	}
	for _, d := range s.Decisions {
		if contains(d) {
			return true
		}
	}
	for _, a := range s.ActionItems {
		if contains(a.Item) || contains(a.Assignee) {
			return true
		}
	}
	return false
}

func cloneDocument(d Document) Document {
	out := Document{
		Sessions:          append([]Session(nil), d.Sessions...),
		Participants:      make(StringSet, len(d.Participants)),
		ActionItemHistory: append([]ActionItemEntry(nil), d.ActionItemHistory...),
		DecisionHistory:   append([]DecisionEntry(nil), d.DecisionHistory...),
	}
	for p := range d.Participants {
		out.Participants[p] = struct{}{}
	}
	if out.Sessions == nil {
		out.Sessions = []Session{}
	}
	if out.ActionItemHistory == nil {
		out.ActionItemHistory = []ActionItemEntry{}
	}
	if out.DecisionHistory == nil {
		out.DecisionHistory = []DecisionEntry{}
	}
	return out
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
