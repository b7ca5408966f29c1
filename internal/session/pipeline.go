package session

import (
	"context"
	"os"
	"strings"

	"github.com/GriffinCanCode/meeting-pilot/internal/audio"
	apperrors "github.com/GriffinCanCode/meeting-pilot/internal/errors"
	"github.com/GriffinCanCode/meeting-pilot/internal/resilience"
	"github.com/GriffinCanCode/meeting-pilot/internal/syncx"
	"github.com/GriffinCanCode/meeting-pilot/internal/trace"
	"github.com/GriffinCanCode/meeting-pilot/internal/transcript"
)

// consume is the single consumer of the chunk queue for one session.
func (m *Manager) consume(r *run) {
	defer close(r.done)

	for {
		if r.ctx.Err() != nil {
			return
		}
		if m.online.Load() && r.retryLen() > 0 {
			m.setProcessing(r)
			m.retryBatch(r.ctx, r)
			m.setRecording(r)
		}

		chunk, ok := m.source.NextChunk(m.cfg.PopTimeout)
		if !ok {
			continue
		}
		r.chunks.Add(1)
		m.setProcessing(r)
		m.processChunk(r, chunk)
		m.setRecording(r)
	}
}

// setProcessing marks a mid-recording chunk. It never touches a session
// that Stop has already claimed.
func (m *Manager) setProcessing(r *run) {
	m.transition(r, Recording, Processing)
}

func (m *Manager) setRecording(r *run) {
	m.transition(r, Processing, Recording)
}

func (m *Manager) transition(r *run, from, to State) {
	changed := syncx.Update(m.status, func(s *status) bool {
		if s.run != r || s.finalizing || s.state != from {
			return false
		}
		s.state = to
		return true
	})
	if changed {
		m.notify(r.id, to, false)
	}
}

// workContext bounds the external work for one chunk or for the summary.
// Transcription and analysis of a chunk share it, so a chunk never outlives
// CallTimeout. It is detached from the session's cancellation so Stop does
// not abort a call already in flight.
func (m *Manager) workContext(r *run) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(r.ctx), m.cfg.CallTimeout)
}

// processChunk transcribes and analyses one chunk. It reports whether the
// chunk completed.
func (m *Manager) processChunk(r *run, chunk audio.Chunk) bool {
	ctx, cancel := m.workContext(r)
	defer cancel()

	tctx, span := trace.StartSpan(ctx, "session.transcribe")
	span.SetAttr("chunk", chunk.ID)
	rec, err := resilience.Do(tctx, m.tl, m.cfg.Retry, func(ctx context.Context) (*transcript.Record, error) {
		return m.transcriber.Transcribe(ctx, chunk)
	})
	span.End()
	if err != nil {
		return m.fail(r, FailedChunk{Chunk: chunk, Reason: ReasonTranscribe}, err)
	}
	m.markOnline(r)

	if rec == nil || strings.TrimSpace(rec.Text) == "" {
		trace.Logger(ctx).Debug("empty transcription, dropping chunk", "chunk", chunk.ID)
		m.discard(chunk)
		return false
	}
	if rec.ChunkStart.IsZero() {
		rec.ChunkStart = chunk.StartTime
	}
	m.touch()

	if !r.commit(func() { r.log.AppendTranscription(*rec) }) {
		trace.Logger(ctx).Warn("skipped late transcription", "chunk", chunk.ID)
		m.retryLater(r, FailedChunk{Chunk: chunk, Reason: ReasonTranscribe})
		return false
	}
	m.emit(Event{Type: EventTranscript, SessionID: r.id, Text: rec.Text})

	return m.analyze(ctx, r, chunk, *rec)
}

// analyze runs analysis for a transcribed chunk, then flushes on a boundary.
func (m *Manager) analyze(ctx context.Context, r *run, chunk audio.Chunk, rec transcript.Record) bool {
	defer m.flush(r)

	ctx, span := trace.StartSpan(ctx, "session.analyze")
	defer span.End()
	span.SetAttr("chunk", chunk.ID)

	an, err := resilience.Do(ctx, m.al, m.cfg.Retry, func(ctx context.Context) (*transcript.Analysis, error) {
		return m.analyzer.Analyze(ctx, rec.Text)
	})
	if err != nil {
		return m.fail(r, FailedChunk{Chunk: chunk, Reason: ReasonAnalyze, Transcription: &rec}, err)
	}
	m.markOnline(r)

	if an == nil {
		an = &transcript.Analysis{}
	}
	an.ChunkStart = rec.ChunkStart
	if an.ProducedAt.IsZero() {
		an.ProducedAt = m.now()
	}
	if !r.commit(func() { r.log.AppendAnalysis(*an) }) {
		// The transcription is already part of the saved session.
		trace.Logger(ctx).Warn("skipped late analysis", "chunk", chunk.ID)
		m.discard(chunk)
		return false
	}
	m.emit(Event{Type: EventAnalysis, SessionID: r.id, Insights: &an.Insights})

	m.discard(chunk)
	return true
}

func (m *Manager) flush(r *run) {
	if err := r.log.MaybeFlush(); err != nil {
		// The tail keeps the records; the next boundary retries the write.
		trace.Logger(r.ctx).Error("failed to flush transcript shard", "error", err)
	}
}

// fail routes a failed chunk by error class: transient failures wait in
// the retry queue and take the manager offline, everything else is dropped.
func (m *Manager) fail(r *run, fc FailedChunk, err error) bool {
	log := trace.Logger(r.ctx)
	class := apperrors.Classify(err)

	if class == apperrors.Transient {
		m.retryLater(r, fc)
		if m.online.Swap(false) {
			log.Warn("external service unreachable, going offline", "reason", fc.Reason, "error", err)
			online := false
			m.emit(Event{Type: EventConnectivity, SessionID: r.id, Online: &online})
		} else {
			log.Debug("chunk queued for retry", "chunk", fc.Chunk.ID, "reason", fc.Reason, "error", err)
		}
		return false
	}

	log.Warn("dropping chunk", "chunk", fc.Chunk.ID, "reason", fc.Reason, "class", class, "error", err)
	m.discard(fc.Chunk)
	return false
}

func (m *Manager) markOnline(r *run) {
	if m.online.Swap(true) {
		return
	}
	trace.Logger(r.ctx).Info("external service reachable again", "pending_retries", r.retryLen())
	online := true
	m.emit(Event{Type: EventConnectivity, SessionID: r.id, Online: &online})
}

// retryBatch re-attempts up to RetryBatch failed chunks. When an attempt
// takes the manager offline, or ctx ends, the rest of the batch goes back
// to the head.
func (m *Manager) retryBatch(ctx context.Context, r *run) {
	batch := r.takeRetries(m.cfg.RetryBatch)
	for i, fc := range batch {
		if ctx.Err() != nil {
			m.requeue(r, batch[i:])
			return
		}
		var ok bool
		if fc.Reason == ReasonAnalyze && fc.Transcription != nil {
			wctx, cancel := m.workContext(r)
			ok = m.analyze(wctx, r, fc.Chunk, *fc.Transcription)
			cancel()
		} else {
			ok = m.processChunk(r, fc.Chunk)
		}
		if !ok && !m.online.Load() {
			m.requeue(r, batch[i+1:])
			return
		}
	}
}

// retryLater queues a failed chunk on the run. Once the run is sealed the
// chunk is carried to the next session instead.
func (m *Manager) retryLater(r *run, fc FailedChunk) {
	if r.pushRetry(fc) {
		return
	}
	trace.Logger(r.ctx).Warn("session already closed, carrying chunk to the next session", "chunk", fc.Chunk.ID, "reason", fc.Reason)
	m.restoreCarry([]FailedChunk{fc})
}

func (m *Manager) requeue(r *run, fc []FailedChunk) {
	if r.requeue(fc) {
		return
	}
	for _, f := range fc {
		trace.Logger(r.ctx).Warn("session already closed, carrying chunk to the next session", "chunk", f.Chunk.ID, "reason", f.Reason)
	}
	m.restoreCarry(fc)
}

// discard removes a chunk's audio once nothing will read it again.
func (m *Manager) discard(chunk audio.Chunk) {
	if m.cfg.KeepAudio || chunk.Path == "" {
		return
	}
	if err := os.Remove(chunk.Path); err != nil && !os.IsNotExist(err) {
		trace.Logger(context.Background()).Debug("failed to remove chunk audio", "path", chunk.Path, "error", err)
	}
}
