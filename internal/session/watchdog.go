package session

import (
	stderrors "errors"
	"math"
	"time"

	"github.com/GriffinCanCode/meeting-pilot/internal/trace"
)

// watch stops the session after SilenceTimeout without activity. It
// triggers at most one Stop and then exits.
func (m *Manager) watch(r *run) {
	ticker := time.NewTicker(m.cfg.WatchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
		}

		silent := m.now().Sub(time.Unix(0, m.lastActivity.Load()))
		if silent < m.cfg.SilenceTimeout {
			continue
		}

		trace.Logger(r.ctx).Info("no audio activity, stopping session",
			"silent_for", silent.Round(time.Second), "timeout", m.cfg.SilenceTimeout)
		go func() {
			if err := m.Stop(); err != nil && !stderrors.Is(err, ErrStopInProgress) && !stderrors.Is(err, ErrNotRecording) {
				trace.Logger(r.ctx).Error("silence stop failed", "error", err)
			}
		}()
		return
	}
}

// touch records activity now.
func (m *Manager) touch() {
	m.lastActivity.Store(m.now().UnixNano())
}

// observeFrame is the capture frame callback. Frames louder than the
// activity threshold count as activity.
func (m *Manager) observeFrame(samples []int16, _ int) error {
	if rms(samples) > m.cfg.ActivityThreshold {
		m.touch()
	}
	return nil
}

func rms(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}
