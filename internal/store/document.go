// Package store persists the cross-session history document with
// crash-safe atomic rewrites and backup recovery.
package store

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// ActionItem is a task extracted from a session.
type ActionItem struct {
	Item     string `json:"item"`
	Assignee string `json:"assignee,omitempty"`
}

// Session summarizes one finished recording.
type Session struct {
	ID                string       `json:"id"`
	StartTime         time.Time    `json:"start_time"`
	DurationSeconds   float64      `json:"duration_seconds"`
	Duration          string       `json:"duration"`
	Summary           string       `json:"summary"`
	Transcript        string       `json:"transcript,omitempty"`
	ActionItems       []ActionItem `json:"action_items"`
	Decisions         []string     `json:"decisions"`
	Topics            []string     `json:"topics"`
	Participants      []string     `json:"participants,omitempty"`
	ChunkCount        int          `json:"chunk_count"`
	AverageConfidence *float64     `json:"average_confidence,omitempty"`
}

// ActionItemEntry is an action item in the running history.
type ActionItemEntry struct {
	ActionItem
	SessionID string    `json:"session_id"`
	Date      time.Time `json:"date"`
}

// DecisionEntry is a decision in the running history.
type DecisionEntry struct {
	Decision  string    `json:"decision"`
	SessionID string    `json:"session_id"`
	Date      time.Time `json:"date"`
}

// Document is the root persisted object. It only ever grows.
type Document struct {
	Sessions          []Session         `json:"sessions"`
	Participants      StringSet         `json:"participants"`
	ActionItemHistory []ActionItemEntry `json:"action_item_history"`
	DecisionHistory   []DecisionEntry   `json:"decision_history"`
}

// NewDocument returns an empty document.
func NewDocument() Document {
	return Document{
		Sessions:          []Session{},
		Participants:      StringSet{},
		ActionItemHistory: []ActionItemEntry{},
		DecisionHistory:   []DecisionEntry{},
	}
}

// StringSet is a set of strings serialized as a sorted JSON array.
type StringSet map[string]struct{}

// Add inserts values, ignoring empty strings.
func (s StringSet) Add(values ...string) {
	for _, v := range values {
		if v != "" {
			s[v] = struct{}{}
		}
	}
}

// Sorted returns the members in lexical order.
func (s StringSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	slices.Sort(out)
	return out
}

func (s StringSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

func (s *StringSet) UnmarshalJSON(data []byte) error {
	var values []string
	if err := json.Unmarshal(data, &values); err != nil {
		return err
	}
	set := make(StringSet, len(values))
	set.Add(values...)
	*s = set
	return nil
}

// decode parses and validates a serialized document. The root must be an
// object carrying a sessions array; missing auxiliary keys are defaulted.
func decode(data []byte) (Document, error) {
	var probe struct {
		Sessions *[]json.RawMessage `json:"sessions"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return Document{}, fmt.Errorf("parse document: %w", err)
	}
	if probe.Sessions == nil {
		return Document{}, fmt.Errorf("invalid document: missing sessions")
	}

	doc := NewDocument()
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("decode document: %w", err)
	}
	if doc.Participants == nil {
		doc.Participants = StringSet{}
	}
	if doc.ActionItemHistory == nil {
		doc.ActionItemHistory = []ActionItemEntry{}
	}
	if doc.DecisionHistory == nil {
		doc.DecisionHistory = []DecisionEntry{}
	}
	return doc, nil
}

// FormatDuration renders a session length as "Xh Ym" or "Ym".
func FormatDuration(d time.Duration) string {
	minutes := int(d / time.Minute)
	if h := minutes / 60; h > 0 {
		return fmt.Sprintf("%dh %dm", h, minutes%60)
	}
	return fmt.Sprintf("%dm", minutes)
}
