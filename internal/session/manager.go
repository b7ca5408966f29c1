package session

import (
	"context"
	stderrors "errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/GriffinCanCode/meeting-pilot/internal/audio"
	apperrors "github.com/GriffinCanCode/meeting-pilot/internal/errors"
	"github.com/GriffinCanCode/meeting-pilot/internal/resilience"
	"github.com/GriffinCanCode/meeting-pilot/internal/syncx"
	"github.com/GriffinCanCode/meeting-pilot/internal/trace"
	"github.com/GriffinCanCode/meeting-pilot/internal/transcript"
)

// Deps are the collaborators a Manager drives.
type Deps struct {
	Source      Capture
	Transcriber Transcriber
	Analyzer    Analyzer
	History     History

	// Limiters default to one per collaborator with default settings.
	TranscribeLimiter *resilience.Limiter
	AnalyzeLimiter    *resilience.Limiter

	Now func() time.Time
}

// status is the only cross-goroutine mutable state besides the queue.
type status struct {
	state      State
	finalizing bool
	stopping   bool
	run        *run
	lastErr    string
}

// run is one session. The consumer goroutine owns it until Stop seals it.
type run struct {
	id     string
	start  time.Time
	ctx    context.Context
	cancel context.CancelFunc
	log    *transcript.Log
	done   chan struct{}
	chunks atomic.Int64

	// retryMu also guards appends to log; once sealed, late results are
	// carried to the next session.
	retryMu sync.Mutex
	retry   []FailedChunk
	sealed  bool
}

// Manager owns the session state machine and its background goroutines.
type Manager struct {
	cfg         Config
	source      Capture
	transcriber Transcriber
	analyzer    Analyzer
	history     History
	tl, al      *resilience.Limiter
	now         func() time.Time

	startMu sync.Mutex
	status  *syncx.RWGuard[status]

	online       atomic.Bool
	lastActivity atomic.Int64
	consumers    sync.WaitGroup

	// failed chunks carried between sessions
	carryMu sync.Mutex
	carry   []FailedChunk

	hooksMu sync.Mutex
	hooks   []func(State, bool)
	events  chan Event
}

// New creates an idle manager and loads failed chunks left by a previous run.
func New(cfg Config, deps Deps) (*Manager, error) {
	if deps.Source == nil || deps.Transcriber == nil || deps.Analyzer == nil || deps.History == nil {
		return nil, apperrors.New(apperrors.CodeConfigInvalid, "session manager needs a source, transcriber, analyzer and history")
	}
	if cfg.DataDir == "" {
		return nil, apperrors.New(apperrors.CodeConfigInvalid, "session data dir is required")
	}
	cfg = cfg.withDefaults()

	m := &Manager{
		cfg:         cfg,
		source:      deps.Source,
		transcriber: deps.Transcriber,
		analyzer:    deps.Analyzer,
		history:     deps.History,
		tl:          deps.TranscribeLimiter,
		al:          deps.AnalyzeLimiter,
		now:         deps.Now,
		status:      syncx.NewGuard(status{state: Idle}),
		events:      make(chan Event, cfg.EventBuffer),
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.tl == nil {
		m.tl = resilience.NewLimiter(resilience.DefaultLimiterConfig("transcribe"))
	}
	if m.al == nil {
		m.al = resilience.NewLimiter(resilience.DefaultLimiterConfig("analyze"))
	}
	m.online.Store(true)

	carried, err := loadFailedChunks(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	m.carry = carried
	return m, nil
}

// Start begins a session. It is allowed from Idle and from Error.
func (m *Manager) Start(ctx context.Context, opts StartOptions) error {
	m.startMu.Lock()
	defer m.startMu.Unlock()

	err := syncx.Update(m.status, func(s *status) error {
		if s.stopping {
			return ErrStopInProgress
		}
		if s.state == Recording || s.state == Processing {
			return ErrAlreadyRecording
		}
		return nil
	})
	if err != nil {
		return err
	}

	id := uuid.NewString()
	runCtx, cancel := context.WithCancel(trace.WithSession(context.WithoutCancel(ctx), id))
	log := trace.Logger(runCtx)

	tlog, err := transcript.NewLog(filepath.Join(m.cfg.DataDir, "transcripts"), id, m.cfg.FlushEvery, m.cfg.KeepInMemory)
	if err != nil {
		cancel()
		return m.failStart(id, apperrors.Wrap(err, apperrors.CodeStoreIO, "create transcript log"))
	}

	r := &run{
		id:     id,
		start:  m.now(),
		ctx:    runCtx,
		cancel: cancel,
		log:    tlog,
		done:   make(chan struct{}),
		retry:  m.takeCarry(),
	}
	m.online.Store(true)
	m.touch()

	err = m.source.Start(audio.StartOptions{
		UseLineIn:   opts.UseLineIn,
		DeviceIndex: opts.DeviceIndex,
		OnFrame:     m.observeFrame,
	})
	if err != nil {
		cancel()
		m.restoreCarry(r.takeRetries(r.retryLen()))
		return m.failStart(id, err)
	}

	m.status.Set(status{state: Recording, run: r})
	m.notify(id, Recording, false)

	m.consumers.Add(1)
	go func() {
		defer m.consumers.Done()
		m.consume(r)
	}()
	go m.watch(r)

	log.Info("session started", "carried_retries", r.retryLen())
	return nil
}

func (m *Manager) failStart(id string, err error) error {
	m.status.Write(func(s *status) {
		s.state = Error
		s.run = nil
		s.lastErr = err.Error()
	})
	m.notify(id, Error, false)
	trace.Logger(context.Background()).Error("session start failed", "session", id, "error", err, "class", apperrors.Classify(err))
	return err
}

// Stop runs the finalize sequence. Exactly one concurrent caller executes
// it; the others get ErrStopInProgress.
func (m *Manager) Stop() error {
	var r *run
	err := syncx.Update(m.status, func(s *status) error {
		if s.stopping {
			return ErrStopInProgress
		}
		if s.run == nil || (s.state != Recording && s.state != Processing) {
			return ErrNotRecording
		}
		s.stopping = true
		s.finalizing = true
		s.state = Processing
		r = s.run
		return nil
	})
	if err != nil {
		return err
	}

	m.notify(r.id, Processing, true)
	log := trace.Logger(r.ctx)
	log.Info("stopping session")

	m.source.Stop()
	r.cancel()

	select {
	case <-r.done:
	case <-time.After(m.cfg.JoinTimeout):
		log.Warn("consumer did not exit in time, continuing", "timeout", m.cfg.JoinTimeout)
	}

	m.drain(r)

	leftover := r.seal()
	finalErr := m.finalize(r)

	if len(leftover) > 0 {
		log.Warn("carrying failed chunks to the next session", "count", len(leftover))
		m.restoreCarry(leftover)
	}

	final := Idle
	m.status.Write(func(s *status) {
		s.state = Idle
		s.lastErr = ""
		if finalErr != nil {
			s.state = Error
			s.lastErr = finalErr.Error()
			final = Error
		}
		s.finalizing = false
		s.stopping = false
		s.run = nil
	})
	m.notify(r.id, final, false)

	if finalErr != nil {
		log.Error("session finalize failed", "error", finalErr)
		return finalErr
	}
	log.Info("session stopped", "duration", m.now().Sub(r.start).Round(time.Second))
	return nil
}

// drain processes chunks still queued after capture stopped, within the
// drain budget. Chunks past the budget are carried over, not processed.
func (m *Manager) drain(r *run) {
	log := trace.Logger(r.ctx)
	deadline := m.now().Add(m.cfg.DrainBudget)

	pending := m.source.Drain()
	for i, c := range pending {
		if !m.now().Before(deadline) {
			skipped := pending[i:]
			log.Warn("drain budget exceeded, skipping queued chunks",
				"skipped", len(skipped), "budget", m.cfg.DrainBudget)
			for _, s := range skipped {
				log.Warn("skipped chunk", "chunk", s.ID, "path", s.Path, "start", s.StartTime)
				m.retryLater(r, FailedChunk{Chunk: s, Reason: ReasonTranscribe})
			}
			return
		}
		r.chunks.Add(1)
		m.processChunk(r, c)
	}

	for m.online.Load() && r.retryLen() > 0 && m.now().Before(deadline) {
		m.retryBatch(context.Background(), r)
	}
}

// Cleanup stops any session, persists pending failed chunks and releases
// the audio backend.
func (m *Manager) Cleanup() {
	err := m.Stop()
	switch {
	case stderrors.Is(err, ErrStopInProgress):
		m.waitStopped()
	case err != nil && !stderrors.Is(err, ErrNotRecording):
		trace.Logger(context.Background()).Warn("stop during cleanup failed", "error", err)
	}
	if !m.waitConsumers(m.cfg.JoinTimeout) {
		trace.Logger(context.Background()).Warn("consumer still running at cleanup, its chunk is not persisted", "timeout", m.cfg.JoinTimeout)
	}

	if pending := m.takeCarry(); len(pending) > 0 {
		if path, err := saveFailedChunks(m.cfg.DataDir, "", pending, m.now()); err != nil {
			m.restoreCarry(pending)
			trace.Logger(context.Background()).Error("failed to persist failed chunks", "count", len(pending), "error", err)
		} else {
			trace.Logger(context.Background()).Info("persisted failed chunks", "count", len(pending), "path", path)
		}
	}
	m.source.Cleanup()
}

// waitStopped blocks until a stop running elsewhere has finished.
func (m *Manager) waitStopped() {
	for syncx.View(m.status, func(s status) bool { return s.stopping }) {
		time.Sleep(stopPollInterval)
	}
}

// waitConsumers waits for consumers that outlived their session's Stop, so
// the chunks they carry over are persisted.
func (m *Manager) waitConsumers(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		m.consumers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// State returns the current state.
func (m *Manager) State() State {
	return syncx.View(m.status, func(s status) State { return s.state })
}

// Info returns a status snapshot.
func (m *Manager) Info() Info {
	st := m.status.Get()
	info := Info{
		State:      st.state,
		Finalizing: st.finalizing,
		Online:     m.online.Load(),
		LastError:  st.lastErr,
		Limits:     []resilience.LimiterStats{m.tl.Stats(), m.al.Stats()},
	}
	if r := st.run; r != nil {
		info.SessionID = r.id
		info.StartTime = r.start
		info.PendingRetries = r.retryLen()
		info.Transcriptions, info.Analyses = r.log.Counts()
	}
	m.carryMu.Lock()
	info.PendingRetries += len(m.carry)
	m.carryMu.Unlock()
	return info
}

func (m *Manager) takeCarry() []FailedChunk {
	m.carryMu.Lock()
	defer m.carryMu.Unlock()
	out := m.carry
	m.carry = nil
	return out
}

func (m *Manager) restoreCarry(fc []FailedChunk) {
	m.carryMu.Lock()
	defer m.carryMu.Unlock()
	m.carry = append(m.carry, fc...)
}

// pushRetry queues fc unless the run is sealed.
func (r *run) pushRetry(fc FailedChunk) bool {
	r.retryMu.Lock()
	defer r.retryMu.Unlock()
	if r.sealed {
		return false
	}
	r.retry = append(r.retry, fc)
	return true
}

// requeue puts entries back at the head of the retry queue unless the run
// is sealed.
func (r *run) requeue(fc []FailedChunk) bool {
	if len(fc) == 0 {
		return true
	}
	r.retryMu.Lock()
	defer r.retryMu.Unlock()
	if r.sealed {
		return false
	}
	r.retry = append(append([]FailedChunk(nil), fc...), r.retry...)
	return true
}

// commit runs fn unless the run is sealed.
func (r *run) commit(fn func()) bool {
	r.retryMu.Lock()
	defer r.retryMu.Unlock()
	if r.sealed {
		return false
	}
	fn()
	return true
}

// seal closes the run to late results and returns its pending retries.
func (r *run) seal() []FailedChunk {
	r.retryMu.Lock()
	defer r.retryMu.Unlock()
	r.sealed = true
	out := r.retry
	r.retry = nil
	return out
}

func (r *run) takeRetries(n int) []FailedChunk {
	r.retryMu.Lock()
	defer r.retryMu.Unlock()
	n = min(n, len(r.retry))
	out := append([]FailedChunk(nil), r.retry[:n]...)
	r.retry = r.retry[n:]
	return out
}

func (r *run) retryLen() int {
	r.retryMu.Lock()
	defer r.retryMu.Unlock()
	return len(r.retry)
}
