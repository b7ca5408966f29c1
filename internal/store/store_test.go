package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDoc(id string) Document {
	doc := NewDocument()
	conf := 0.91
	doc.Sessions = append(doc.Sessions, Session{
		ID:                id,
		StartTime:         time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC),
		DurationSeconds:   3900,
		Duration:          "1h 5m",
		Summary:           "quarterly planning",
		ActionItems:       []ActionItem{{Item: "draft roadmap", Assignee: "sam"}},
		Decisions:         []string{"ship in May"},
		Topics:            []string{"roadmap"},
		AverageConfidence: &conf,
	})
	doc.Participants.Add("sam", "alex")
	return doc
}

func TestSaveThenLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.json")
	s, err := Open(path)
	require.NoError(t, err)

	doc := sampleDoc("s1")
	require.NoError(t, s.Save(doc))

	loaded, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, doc, loaded)

	_, err = os.Stat(path + ".bak")
	assert.True(t, errors.Is(err, os.ErrNotExist), "first save must not create a backup")
	_, err = os.Stat(path + ".tmp")
	assert.True(t, errors.Is(err, os.ErrNotExist), "temp file must not survive")
}

func TestCrashBeforeRenameKeepsPriorDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.json")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Save(sampleDoc("before")))

	renameFile = func(string, string) error { return errors.New("power loss") }
	t.Cleanup(func() { renameFile = os.Rename })

	err = s.Save(sampleDoc("after"))
	require.Error(t, err)

	loaded, err := s.Load()
	require.NoError(t, err)
	require.Len(t, loaded.Sessions, 1)
	assert.Equal(t, "before", loaded.Sessions[0].ID)

	_, err = os.Stat(path + ".tmp")
	assert.True(t, errors.Is(err, os.ErrNotExist), "temp file must be removed on failure")
}

func TestSecondSaveWritesBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.json")
	s, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, s.Save(sampleDoc("one")))
	require.NoError(t, s.Save(sampleDoc("two")))

	bak, err := readDocument(path + ".bak")
	require.NoError(t, err)
	assert.Equal(t, "one", bak.Sessions[0].ID)
}

func TestLoadRecoversFromBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.json")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Save(sampleDoc("one")))
	require.NoError(t, s.Save(sampleDoc("two")))

	require.NoError(t, os.WriteFile(path, []byte(`{"sessions": [`), 0o644))

	loaded, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, "one", loaded.Sessions[0].ID)

	restored, err := readDocument(path)
	require.NoError(t, err, "backup should be restored as the live file")
	assert.Equal(t, "one", restored.Sessions[0].ID)
}

func TestLoadSchemaInvalidFallsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"participants": []}`), 0o644))

	s, err := Open(path)
	require.NoError(t, err)
	assert.Empty(t, s.Document().Sessions)
	assert.NotNil(t, s.Document().Sessions)
}

func TestLoadBothCorruptStartsFresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))
	require.NoError(t, os.WriteFile(path+".bak", []byte("{}"), 0o644))

	s, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, NewDocument(), s.Document())
}

func TestLoadUnreadableIsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.json")
	require.NoError(t, os.Mkdir(path, 0o755))

	_, err := Open(path)
	assert.Error(t, err)
}

func TestAddSessionAndSearch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.json")
	s, err := Open(path)
	require.NoError(t, err)

	start := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.AddSession(SessionInput{
		ID:           "a",
		StartTime:    start,
		Duration:     95 * time.Minute,
		Summary:      "Budget review",
		ActionItems:  []ActionItem{{Item: "send invoice", Assignee: "kim"}},
		Decisions:    []string{"freeze hiring"},
		Topics:       []string{"budget"},
		Participants: []string{"kim", "lee"},
	}))
	require.NoError(t, s.AddSession(SessionInput{
		ID:        "b",
		StartTime: start.Add(24 * time.Hour),
		Duration:  20 * time.Minute,
		Summary:   "Design sync",
		Topics:    []string{"onboarding flow"},
	}))

	reopened, err := Open(path)
	require.NoError(t, err)
	doc := reopened.Document()

	require.Len(t, doc.Sessions, 2)
	assert.Equal(t, "1h 35m", doc.Sessions[0].Duration)
	assert.Equal(t, "20m", doc.Sessions[1].Duration)
	assert.Equal(t, []string{"kim", "lee"}, doc.Participants.Sorted())
	require.Len(t, doc.ActionItemHistory, 1)
	assert.Equal(t, "a", doc.ActionItemHistory[0].SessionID)
	require.Len(t, doc.DecisionHistory, 1)
	assert.Equal(t, "freeze hiring", doc.DecisionHistory[0].Decision)

	hits := reopened.Search("INVOICE")
	require.Len(t, hits, 1)
	assert.Equal(t, "a", hits[0].ID)

	assert.Len(t, reopened.Search(""), 2)
	assert.Equal(t, "b", reopened.Recent(1)[0].ID)
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0m"},
		{59 * time.Second, "0m"},
		{45 * time.Minute, "45m"},
		{60 * time.Minute, "1h 0m"},
		{125 * time.Minute, "2h 5m"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatDuration(tt.d), tt.d.String())
	}
}
