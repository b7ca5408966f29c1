package transcript

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Log is an append-only record log with a memory-resident tail. Every
// flushEvery transcriptions the unflushed records are written to a shard
// file and the tail is trimmed to the last keep entries.
type Log struct {
	dir        string
	sessionID  string
	flushEvery int
	keep       int

	mu       sync.Mutex
	records  []Record
	analyses []Analysis
	// unflushed counts at the end of records/analyses
	pendingRecords  int
	pendingAnalyses int
	total           int
	totalAnalyses   int
	seq             int
}

// NewLog creates the shard directory and an empty log.
func NewLog(dir, sessionID string, flushEvery, keep int) (*Log, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create shard dir: %w", err)
	}
	if flushEvery <= 0 {
		flushEvery = 5
	}
	if keep <= 0 {
		keep = 10
	}
	return &Log{dir: dir, sessionID: sessionID, flushEvery: flushEvery, keep: keep}, nil
}

// Dir returns the shard directory.
func (l *Log) Dir() string { return l.dir }

// AppendTranscription adds a record to the tail.
func (l *Log) AppendTranscription(r Record) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, r)
	l.pendingRecords++
	l.total++
}

// AppendAnalysis adds an analysis to the tail.
func (l *Log) AppendAnalysis(a Analysis) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.analyses = append(l.analyses, a)
	l.pendingAnalyses++
	l.totalAnalyses++
}

// MaybeFlush flushes when the transcription count sits on a flush boundary.
func (l *Log) MaybeFlush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.total == 0 || l.total%l.flushEvery != 0 || l.pendingRecords+l.pendingAnalyses == 0 {
		return nil
	}
	return l.flushLocked()
}

// Flush writes all unflushed records to the next shard and trims the tail.
func (l *Log) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pendingRecords+l.pendingAnalyses == 0 {
		return nil
	}
	return l.flushLocked()
}

func (l *Log) flushLocked() error {
	l.seq++
	if l.pendingRecords > 0 {
		batch := l.records[len(l.records)-l.pendingRecords:]
		if err := writeShard(l.shardPath("transcriptions", l.seq), batch); err != nil {
			l.seq--
			return err
		}
	}
	if l.pendingAnalyses > 0 {
		batch := l.analyses[len(l.analyses)-l.pendingAnalyses:]
		if err := writeShard(l.shardPath("analyses", l.seq), batch); err != nil {
			// Transcriptions already reached disk under this sequence.
			l.pendingRecords = 0
			return err
		}
	}

	slog.Debug("flushed session shard",
		"session", l.sessionID, "seq", l.seq,
		"transcriptions", l.pendingRecords, "analyses", l.pendingAnalyses)

	l.pendingRecords, l.pendingAnalyses = 0, 0
	l.records = trimTail(l.records, l.keep)
	l.analyses = trimTail(l.analyses, l.keep)
	return nil
}

// Tail returns copies of the in-memory records and analyses.
func (l *Log) Tail() ([]Record, []Analysis) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Record(nil), l.records...), append([]Analysis(nil), l.analyses...)
}

// Counts returns the totals appended over the log's lifetime.
func (l *Log) Counts() (transcriptions, analyses int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total, l.totalAnalyses
}

// Reassemble reads every shard, adds the tail and returns ordered,
// deduplicated records and analyses.
func (l *Log) Reassemble() ([]Record, []Analysis, error) {
	shardRecords, err := readShards[Record](l.dir, l.sessionID, "transcriptions")
	if err != nil {
		return nil, nil, err
	}
	shardAnalyses, err := readShards[Analysis](l.dir, l.sessionID, "analyses")
	if err != nil {
		return nil, nil, err
	}
	records, analyses := l.Tail()
	return Reassemble(shardRecords, records), ReassembleAnalyses(shardAnalyses, analyses), nil
}

func (l *Log) shardPath(kind string, seq int) string {
	return filepath.Join(l.dir, fmt.Sprintf("%s_%s_%06d.json", l.sessionID, kind, seq))
}

func trimTail[T any](s []T, keep int) []T {
	if len(s) <= keep {
		return s
	}
	return append([]T(nil), s[len(s)-keep:]...)
}

func writeShard[T any](path string, batch []T) error {
	data, err := json.MarshalIndent(batch, "", "  ")
	if err != nil {
		return fmt.Errorf("encode shard: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write shard: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("commit shard: %w", err)
	}
	return nil
}

// readShards loads shards of one kind in filename order. Unreadable shards
// are logged and skipped so one bad file cannot lose the whole session.
func readShards[T any](dir, sessionID, kind string) ([]T, error) {
	paths, err := filepath.Glob(filepath.Join(dir, fmt.Sprintf("%s_%s_*.json", sessionID, kind)))
	if err != nil {
		return nil, err
	}
	// Glob returns lexical order; zero-padded sequence numbers make that numeric.
	var out []T
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			slog.Warn("skipping unreadable shard", "path", p, "error", err)
			continue
		}
		var batch []T
		if err := json.Unmarshal(data, &batch); err != nil {
			slog.Warn("skipping corrupt shard", "path", p, "error", err)
			continue
		}
		out = append(out, batch...)
	}
	return out, nil
}
