package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	apperrors "github.com/GriffinCanCode/meeting-pilot/internal/errors"
	"github.com/GriffinCanCode/meeting-pilot/internal/resilience"
	"github.com/GriffinCanCode/meeting-pilot/internal/store"
	"github.com/GriffinCanCode/meeting-pilot/internal/trace"
	"github.com/GriffinCanCode/meeting-pilot/internal/transcript"
)

// Report is the full record of one session, written next to the shards.
type Report struct {
	ID                string                `json:"id"`
	StartTime         time.Time             `json:"start_time"`
	EndTime           time.Time             `json:"end_time"`
	DurationSeconds   float64               `json:"duration_seconds"`
	Duration          string                `json:"duration"`
	Summary           string                `json:"summary"`
	Transcript        string                `json:"transcript"`
	AverageConfidence *float64              `json:"average_confidence,omitempty"`
	ChunkCount        int                   `json:"chunk_count"`
	Insights          transcript.Insights   `json:"insights"`
	Transcriptions    []transcript.Record   `json:"transcriptions"`
	Analyses          []transcript.Analysis `json:"analyses"`
}

// ReportPath is where the report for session id is written.
func ReportPath(dataDir, id string) string {
	return filepath.Join(dataDir, "sessions", fmt.Sprintf("session_%s.json", id))
}

// ReadReport loads a session report.
func ReadReport(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.CodeNotFound, "read report %s", path)
	}
	var rep Report
	if err := json.Unmarshal(data, &rep); err != nil {
		return nil, apperrors.Wrapf(err, apperrors.CodeInvalidResponse, "parse report %s", path)
	}
	return &rep, nil
}

// finalize reassembles the session, summarizes it and persists the result.
func (m *Manager) finalize(r *run) error {
	log := trace.Logger(r.ctx)

	if err := r.log.Flush(); err != nil {
		log.Warn("final shard flush failed, using in-memory tail", "error", err)
	}
	records, analyses, err := r.log.Reassemble()
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeStoreIO, "reassemble transcript")
	}
	if len(records) == 0 {
		log.Info("session produced no transcript, nothing to persist")
		return nil
	}

	end := m.now()
	base := transcript.JoinText(records)
	text := transcript.Annotate(base, records)
	confidence := transcript.AverageConfidence(records)
	insights := transcript.Merge(analyses)

	summary := m.summarize(r, SummaryRequest{Transcript: text, Confidence: confidence, Insights: insights})

	rep := Report{
		ID:                r.id,
		StartTime:         r.start,
		EndTime:           end,
		DurationSeconds:   end.Sub(r.start).Seconds(),
		Duration:          store.FormatDuration(end.Sub(r.start)),
		Summary:           summary,
		Transcript:        text,
		AverageConfidence: confidence,
		ChunkCount:        int(r.chunks.Load()),
		Insights:          insights,
		Transcriptions:    records,
		Analyses:          analyses,
	}
	if err := writeReport(ReportPath(m.cfg.DataDir, r.id), rep); err != nil {
		log.Error("failed to write session report", "error", err)
	}

	items := make([]store.ActionItem, 0, len(insights.ActionItems))
	for _, it := range insights.ActionItems {
		items = append(items, store.ActionItem{Item: it.Item, Assignee: it.Assignee})
	}
	err = m.history.AddSession(store.SessionInput{
		ID:                r.id,
		StartTime:         r.start,
		Duration:          end.Sub(r.start),
		Summary:           summary,
		Transcript:        text,
		ActionItems:       items,
		Decisions:         insights.Decisions,
		Topics:            insights.KeyPoints,
		Participants:      insights.Participants,
		ChunkCount:        rep.ChunkCount,
		AverageConfidence: confidence,
	})
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeStoreIO, "save session")
	}

	m.emit(Event{Type: EventSummary, SessionID: r.id, Summary: summary, Insights: &insights})
	log.Info("session saved", "records", len(records), "analyses", len(analyses), "chunks", rep.ChunkCount)
	return nil
}

// summarize asks the analyzer for a summary, falling back to one built
// from the merged insights.
func (m *Manager) summarize(r *run, req SummaryRequest) string {
	ctx, cancel := m.workContext(r)
	defer cancel()
	ctx, span := trace.StartSpan(ctx, "session.summarize")
	defer span.End()

	summary, err := resilience.Do(ctx, m.al, m.cfg.Retry, func(ctx context.Context) (string, error) {
		return m.analyzer.Summarize(ctx, req)
	})
	if err == nil && strings.TrimSpace(summary) != "" {
		return summary
	}
	trace.Logger(ctx).Warn("summary unavailable, using extracted insights", "error", err)
	return fallbackSummary(req.Insights)
}

func fallbackSummary(in transcript.Insights) string {
	var b strings.Builder
	b.WriteString("Automatic summary unavailable.")
	section := func(title string, values []string) {
		if len(values) == 0 {
			return
		}
		fmt.Fprintf(&b, "\n%s:", title)
		for _, v := range values {
			fmt.Fprintf(&b, "\n- %s", v)
		}
	}
	section("Key points", in.KeyPoints)
	section("Decisions", in.Decisions)

	items := make([]string, 0, len(in.ActionItems))
	for _, it := range in.ActionItems {
		if it.Assignee != "" {
			items = append(items, fmt.Sprintf("%s (%s)", it.Item, it.Assignee))
		} else {
			items = append(items, it.Item)
		}
	}
	section("Action items", items)
	return b.String()
}

func writeReport(path string, rep Report) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(path, data)
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
