// Package transcript holds per-session transcription and analysis records,
// the disk-backed log that bounds their memory, and final reassembly.
package transcript

import (
	"strings"
	"time"
)

// Word is one recognized word with timing relative to its chunk.
type Word struct {
	Text       string   `json:"text"`
	Start      float64  `json:"start"`
	End        float64  `json:"end"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// Record is the transcription of one chunk.
type Record struct {
	Text       string    `json:"text"`
	Confidence *float64  `json:"confidence,omitempty"`
	ChunkStart time.Time `json:"chunk_start"`
	Words      []Word    `json:"words,omitempty"`
}

// ActionItem is a task with an optional owner.
type ActionItem struct {
	Item     string `json:"item"`
	Assignee string `json:"assignee,omitempty"`
}

// Insights is the structured output of analysing one chunk.
type Insights struct {
	ActionItems  []ActionItem `json:"action_items,omitempty"`
	Decisions    []string     `json:"decisions,omitempty"`
	KeyPoints    []string     `json:"key_points,omitempty"`
	Participants []string     `json:"participants,omitempty"`
	UnclearItems []string     `json:"unclear_items,omitempty"`
}

// Analysis pairs insights with the chunk they came from.
type Analysis struct {
	ProducedAt time.Time `json:"produced_at"`
	ChunkStart time.Time `json:"chunk_start"`
	Insights   Insights  `json:"insights"`
}

// JoinText concatenates record texts as paragraphs.
func JoinText(records []Record) string {
	parts := make([]string, 0, len(records))
	for _, r := range records {
		if t := strings.TrimSpace(r.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n\n")
}

// AverageConfidence is the mean of the records that report a confidence.
func AverageConfidence(records []Record) *float64 {
	var sum float64
	n := 0
	for _, r := range records {
		if r.Confidence != nil {
			sum += *r.Confidence
			n++
		}
	}
	if n == 0 {
		return nil
	}
	avg := sum / float64(n)
	return &avg
}

// Merge folds many analyses into one set of insights, dropping repeats.
func Merge(analyses []Analysis) Insights {
	var out Insights
	seenItem := map[string]bool{}
	seen := map[string]map[string]bool{
		"decision": {}, "point": {}, "participant": {}, "unclear": {},
	}
	add := func(kind string, dst *[]string, values []string) {
		for _, v := range values {
			key := strings.ToLower(strings.TrimSpace(v))
			if key == "" || seen[kind][key] {
				continue
			}
			seen[kind][key] = true
			*dst = append(*dst, strings.TrimSpace(v))
		}
	}

	for _, a := range analyses {
		for _, item := range a.Insights.ActionItems {
			key := strings.ToLower(strings.TrimSpace(item.Item))
			if key == "" || seenItem[key] {
				continue
			}
			seenItem[key] = true
			out.ActionItems = append(out.ActionItems, item)
		}
		add("decision", &out.Decisions, a.Insights.Decisions)
		add("point", &out.KeyPoints, a.Insights.KeyPoints)
		add("participant", &out.Participants, a.Insights.Participants)
		add("unclear", &out.UnclearItems, a.Insights.UnclearItems)
	}
	return out
}
