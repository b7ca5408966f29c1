package session

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/GriffinCanCode/meeting-pilot/internal/errors"
	"github.com/GriffinCanCode/meeting-pilot/internal/transcript"
)

func TestFailedChunksSurviveRestart(t *testing.T) {
	dir := t.TempDir()
	h := newHarnessIn(t, dir, nil)
	h.tr.fallback = apperrors.New(apperrors.CodeUnavailable, "dial tcp: connection refused")

	c := realChunk(t, dir, 0)
	require.NoError(t, h.m.Start(context.Background(), StartOptions{}))
	h.src.queue.Push(c)
	require.Eventually(t, func() bool { return h.m.Info().PendingRetries == 1 }, time.Second, time.Millisecond)
	require.NoError(t, h.m.Stop())

	assert.Equal(t, 1, h.m.Info().PendingRetries, "leftovers carry over after stop")
	h.m.Cleanup()
	assert.Equal(t, int32(1), h.src.cleanups.Load())

	files, err := filepath.Glob(filepath.Join(dir, failedChunksPattern))
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.FileExists(t, c.Path, "audio is kept for the retry")

	var f failedFile
	data, err := os.ReadFile(files[0])
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &f))
	require.Len(t, f.Chunks, 1)
	assert.Equal(t, c.Path, f.Chunks[0].Path)
	assert.Equal(t, ReasonTranscribe, f.Chunks[0].Reason)
	assert.InDelta(t, 30.0, f.Chunks[0].DurationSeconds, 1e-9)

	// The next process picks them up and retries them automatically.
	next := newHarnessIn(t, dir, nil)
	assert.Equal(t, 1, next.m.Info().PendingRetries)
	files, _ = filepath.Glob(filepath.Join(dir, failedChunksPattern))
	assert.Empty(t, files)

	require.NoError(t, next.m.Start(context.Background(), StartOptions{}))
	require.Eventually(t, func() bool { return next.m.Info().Analyses == 1 }, time.Second, time.Millisecond)
	require.NoError(t, next.m.Stop())
	assert.NoFileExists(t, c.Path, "processed audio is removed")
}

func TestLoadFailedChunksSkipsMissingAudio(t *testing.T) {
	dir := t.TempDir()
	kept := realChunk(t, dir, 1)
	gone := chunk(2)
	rec := &transcript.Record{Text: "hello", ChunkStart: kept.StartTime}

	path, err := saveFailedChunks(dir, "s1", []FailedChunk{
		{Chunk: kept, Reason: ReasonAnalyze, Transcription: rec},
		{Chunk: gone, Reason: ReasonTranscribe},
	}, t0)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(path, "failed_chunks_20240601_090000.json"))

	loaded, err := loadFailedChunks(dir)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, kept.Path, loaded[0].Chunk.Path)
	assert.Equal(t, "chunk_1", loaded[0].Chunk.ID)
	assert.Equal(t, 30*time.Second, loaded[0].Chunk.Duration)
	assert.True(t, loaded[0].Chunk.StartTime.Equal(kept.StartTime))
	assert.Equal(t, ReasonAnalyze, loaded[0].Reason)
	require.NotNil(t, loaded[0].Transcription)
	assert.Equal(t, "hello", loaded[0].Transcription.Text)
	assert.NoFileExists(t, path)
}

func TestLoadFailedChunksLeavesCorruptFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "failed_chunks_20240101_000000.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	loaded, err := loadFailedChunks(dir)
	require.NoError(t, err)
	assert.Empty(t, loaded)
	assert.FileExists(t, path)
}

func TestSaveFailedChunksDoesNotOverwrite(t *testing.T) {
	dir := t.TempDir()
	c := realChunk(t, dir, 0)
	first, err := saveFailedChunks(dir, "", []FailedChunk{{Chunk: c, Reason: ReasonTranscribe}}, t0)
	require.NoError(t, err)
	second, err := saveFailedChunks(dir, "", []FailedChunk{{Chunk: c, Reason: ReasonTranscribe}}, t0)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}
