package stt

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/meeting-pilot/internal/audio"
	apperrors "github.com/GriffinCanCode/meeting-pilot/internal/errors"
	"github.com/GriffinCanCode/meeting-pilot/internal/trace"
)

func writeChunk(t *testing.T) audio.Chunk {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chunk.wav")
	require.NoError(t, audio.WriteWAV(path, []int16{10, -10, 10, -10}, 16000, 1))
	return audio.Chunk{ID: "c1", Path: path, StartTime: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC), SampleRate: 16000, Channels: 1}
}

func TestTranscribe(t *testing.T) {
	var (
		path, auth, session string
		fields              map[string]string
		fileSize            int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		auth = r.Header.Get("Authorization")
		session = r.Header.Get(trace.SessionIDKey)
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		fields = map[string]string{}
		for k, v := range r.MultipartForm.Value {
			fields[k] = v[0]
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(f)
		fileSize = len(data)

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"text": " hello there ",
			"segments": [{"text": "hello", "avg_logprob": 0}, {"text": "there", "avg_logprob": -0.6931471805599453}],
			"words": [{"word": "hello", "start": 0.0, "end": 0.4}, {"word": "there", "start": 0.5, "end": 0.9}]
		}`)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL + "/", APIKey: "sk-test", Language: "en"})
	chunk := writeChunk(t)
	rec, err := c.Transcribe(trace.WithSession(context.Background(), "sess-1"), chunk)
	require.NoError(t, err)

	assert.Equal(t, TranscriptionsPath, path)
	assert.Equal(t, "Bearer sk-test", auth)
	assert.Equal(t, "sess-1", session)
	assert.Equal(t, DefaultModel, fields["model"])
	assert.Equal(t, "verbose_json", fields["response_format"])
	assert.Equal(t, "word", fields["timestamp_granularities[]"])
	assert.Equal(t, "en", fields["language"])
	assert.Equal(t, 44+8, fileSize)

	assert.Equal(t, "hello there", rec.Text)
	require.NotNil(t, rec.Confidence)
	assert.InDelta(t, 0.75, *rec.Confidence, 1e-9)
	assert.True(t, rec.ChunkStart.Equal(chunk.StartTime))
	require.Len(t, rec.Words, 2)
	assert.Equal(t, "there", rec.Words[1].Text)
	assert.Nil(t, rec.Words[1].Confidence)
}

func TestTranscribeStatusClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		code   apperrors.Code
		class  apperrors.Class
	}{
		{"rate limited", http.StatusTooManyRequests, apperrors.CodeRateLimited, apperrors.Transient},
		{"server error", http.StatusBadGateway, apperrors.CodeUnavailable, apperrors.Transient},
		{"gateway timeout", http.StatusGatewayTimeout, apperrors.CodeTimeout, apperrors.Transient},
		{"bad request", http.StatusBadRequest, apperrors.CodeInvalidArgument, apperrors.Permanent},
		{"unauthorized", http.StatusUnauthorized, apperrors.CodeConfigInvalid, apperrors.Permanent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, `{"error": {"message": "nope", "type": "x"}}`)
			}))
			defer srv.Close()

			_, err := New(Config{BaseURL: srv.URL}).Transcribe(context.Background(), writeChunk(t))
			require.Error(t, err)
			assert.True(t, apperrors.IsCode(err, tt.code), "got %v", err)
			assert.Equal(t, tt.class, apperrors.Classify(err))
			assert.Contains(t, err.Error(), "nope")
		})
	}
}

func TestTranscribeUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(Config{BaseURL: url}).Transcribe(context.Background(), writeChunk(t))
	require.Error(t, err)
	assert.Equal(t, apperrors.Transient, apperrors.Classify(err))
}

func TestTranscribeInvalidBody(t *testing.T) {
	for name, body := range map[string]string{
		"not json":     `<html>`,
		"missing text": `{"segments": []}`,
	} {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_, _ = io.WriteString(w, body)
			}))
			defer srv.Close()

			_, err := New(Config{BaseURL: srv.URL}).Transcribe(context.Background(), writeChunk(t))
			assert.True(t, apperrors.IsCode(err, apperrors.CodeInvalidResponse))
			assert.Equal(t, apperrors.Permanent, apperrors.Classify(err))
		})
	}
}

func TestTranscribeMissingFile(t *testing.T) {
	_, err := New(Config{BaseURL: "http://127.0.0.1:1"}).Transcribe(context.Background(), audio.Chunk{Path: filepath.Join(t.TempDir(), "gone.wav")})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeInvalidArgument))
}

func TestSegmentConfidence(t *testing.T) {
	assert.Nil(t, segmentConfidence(nil))
	assert.Nil(t, segmentConfidence([]segment{{Text: "x"}}))
	pos := 0.5
	got := segmentConfidence([]segment{{AvgLogprob: &pos}})
	require.NotNil(t, got)
	assert.InDelta(t, 1.0, *got, 1e-9)
}
