// Package output renders CLI messages.
package output

import (
	"fmt"
	"io"
	"strings"

	"github.com/GriffinCanCode/meeting-pilot/internal/audio"
	"github.com/GriffinCanCode/meeting-pilot/internal/session"
	"github.com/GriffinCanCode/meeting-pilot/internal/store"
)

type Formatter struct {
	w io.Writer
}

func NewFormatter(w io.Writer) *Formatter {
	return &Formatter{w: w}
}

func (f *Formatter) Error(msg string) {
	fmt.Fprintf(f.w, "❌ %s\n", msg)
}

func (f *Formatter) Info(msg string) {
	fmt.Fprintf(f.w, "ℹ️  %s\n", msg)
}

func (f *Formatter) Success(msg string) {
	fmt.Fprintf(f.w, "✅ %s\n", msg)
}

func (f *Formatter) Warning(msg string) {
	fmt.Fprintf(f.w, "⚠️  %s\n", msg)
}

func (f *Formatter) RecordingStarted(device string) {
	fmt.Fprintf(f.w, "🎙️  Recording from %s (Ctrl+C to stop)\n", device)
}

// Event prints one session event. State events other than finalization
// are skipped to keep the console quiet.
func (f *Formatter) Event(ev session.Event) {
	switch ev.Type {
	case session.EventState:
		if ev.Finalizing {
			fmt.Fprintf(f.w, "⏹️  Finalizing session...\n")
		}
	case session.EventTranscript:
		fmt.Fprintf(f.w, "📝 %s\n", ev.Text)
	case session.EventAnalysis:
		if ev.Insights == nil {
			return
		}
		for _, d := range ev.Insights.Decisions {
			fmt.Fprintf(f.w, "   ✔ decision: %s\n", d)
		}
		for _, a := range ev.Insights.ActionItems {
			if a.Assignee != "" {
				fmt.Fprintf(f.w, "   ☐ %s (%s)\n", a.Item, a.Assignee)
			} else {
				fmt.Fprintf(f.w, "   ☐ %s\n", a.Item)
			}
		}
	case session.EventConnectivity:
		if ev.Online != nil && *ev.Online {
			f.Success("Back online, retrying queued chunks")
		} else {
			f.Warning("Offline, chunks will be retried")
		}
	case session.EventSummary:
		fmt.Fprintf(f.w, "\n🤖 Summary:\n%s\n", ev.Summary)
	}
}

func (f *Formatter) Devices(devices []audio.Device) {
	inputs := 0
	for _, d := range devices {
		if !d.IsInput() {
			continue
		}
		inputs++
		marker := " "
		if d.IsDefaultInput {
			marker = "*"
		}
		fmt.Fprintf(f.w, "%s %3d  %-40s %d ch  %.0f Hz\n", marker, d.Index, d.Name, d.MaxInputChannels, d.DefaultSampleRate)
	}
	if inputs == 0 {
		f.Info("No input devices found")
	}
}

func (f *Formatter) Sessions(sessions []store.Session) {
	if len(sessions) == 0 {
		f.Info("No sessions found")
		return
	}
	fmt.Fprintf(f.w, "📁 Sessions:\n\n")
	for _, s := range sessions {
		fmt.Fprintf(f.w, "  %s  %-8s %s\n", s.StartTime.Local().Format("2006-01-02 15:04"), s.Duration, firstLine(s.Summary))
		if len(s.Topics) > 0 {
			fmt.Fprintf(f.w, "  %16s  topics: %s\n", "", strings.Join(s.Topics, ", "))
		}
	}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
