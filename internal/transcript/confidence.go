package transcript

import (
	"fmt"
	"log/slog"
	"strings"
)

// Confidence annotation policy.
const (
	LowConfidence      = 0.70
	VeryLowConfidence  = 0.50
	MinFlaggedWords    = 3
	MinWordCoverage    = 0.8
	MinAnnotatedLength = 0.8
)

// Annotate rebuilds the transcript from word data, marking runs of
// low-confidence words with footnotes. Word data must cover at least
// MinWordCoverage of records, and the result must keep MinAnnotatedLength
// of the base text; otherwise base is returned unchanged.
func Annotate(base string, records []Record) string {
	if len(records) == 0 {
		return base
	}

	withWords := 0
	var words []Word
	for _, r := range records {
		if len(r.Words) > 0 {
			withWords++
			words = append(words, r.Words...)
		}
	}
	coverage := float64(withWords) / float64(len(records))
	if len(words) == 0 || coverage < MinWordCoverage {
		if len(words) > 0 {
			slog.Warn("word coverage too low for confidence annotation", "coverage", coverage)
		}
		return base
	}

	annotated := annotateWords(words)
	if float64(len(annotated)) < float64(len(base))*MinAnnotatedLength {
		slog.Warn("confidence annotation shortened transcript, using base text",
			"annotated_chars", len(annotated), "base_chars", len(base))
		return base
	}
	return annotated
}

type flagged struct {
	text string
	avg  float64
}

func annotateWords(words []Word) string {
	var parts []string
	var notes []flagged
	var run []Word

	flush := func() {
		if len(run) == 0 {
			return
		}
		texts := make([]string, len(run))
		var sum float64
		for i, w := range run {
			texts[i] = w.Text
			sum += confidenceOf(w)
		}
		if len(run) >= MinFlaggedWords {
			section := strings.Join(texts, " ")
			notes = append(notes, flagged{text: section, avg: sum / float64(len(run))})
			parts = append(parts, fmt.Sprintf("%s[%d]", section, len(notes)))
		} else {
			parts = append(parts, texts...)
		}
		run = run[:0]
	}

	for _, w := range words {
		if confidenceOf(w) < LowConfidence {
			run = append(run, w)
			continue
		}
		flush()
		parts = append(parts, w.Text)
	}
	flush()

	out := strings.Join(parts, " ")
	if len(notes) == 0 {
		return out
	}

	var b strings.Builder
	b.WriteString(out)
	b.WriteString("\n\n---\nTranscript Notes:")
	for i, n := range notes {
		qualifier := "lower confidence"
		if n.avg < VeryLowConfidence {
			qualifier = "may be inaccurate"
		}
		fmt.Fprintf(&b, "\n[%d] Low confidence (%.0f%%): %q %s", i+1, n.avg*100, n.text, qualifier)
	}
	return b.String()
}

func confidenceOf(w Word) float64 {
	if w.Confidence == nil {
		return 1.0
	}
	return *w.Confidence
}
