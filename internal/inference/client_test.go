package inference

import (
	"context"
	"encoding/base64"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/GriffinCanCode/meeting-pilot/internal/audio"
	apperrors "github.com/GriffinCanCode/meeting-pilot/internal/errors"
	"github.com/GriffinCanCode/meeting-pilot/internal/resilience"
	"github.com/GriffinCanCode/meeting-pilot/internal/session"
	"github.com/GriffinCanCode/meeting-pilot/internal/trace"
)

// fakeService answers every method through a single handler.
type fakeService struct {
	mu       sync.Mutex
	requests map[string]*structpb.Struct
	metadata map[string]metadata.MD
	reply    func(method string, req *structpb.Struct) (*structpb.Struct, error)
}

func (f *fakeService) handle(_ any, stream grpc.ServerStream) error {
	method, _ := grpc.MethodFromServerStream(stream)
	req := &structpb.Struct{}
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	md, _ := metadata.FromIncomingContext(stream.Context())

	f.mu.Lock()
	f.requests[method] = req
	f.metadata[method] = md
	f.mu.Unlock()

	resp, err := f.reply(method, req)
	if err != nil {
		return err
	}
	return stream.SendMsg(resp)
}

func (f *fakeService) request(method string) *structpb.Struct {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[method]
}

func newTestClient(t *testing.T, reply func(string, *structpb.Struct) (*structpb.Struct, error)) (*Client, *fakeService, *health.Server) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	svc := &fakeService{requests: map[string]*structpb.Struct{}, metadata: map[string]metadata.MD{}, reply: reply}
	hs := health.NewServer()

	srv := grpc.NewServer(grpc.UnknownServiceHandler(svc.handle))
	healthpb.RegisterHealthServer(srv, hs)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	c, err := New("passthrough:///bufnet", grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, svc, hs
}

func mustStruct(t *testing.T, m map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	require.NoError(t, err)
	return s
}

func writeChunk(t *testing.T) audio.Chunk {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chunk.wav")
	require.NoError(t, audio.WriteWAV(path, []int16{1, 2, 3, 4}, 16000, 1))
	return audio.Chunk{ID: "c1", Path: path, StartTime: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC), SampleRate: 16000, Channels: 1}
}

func TestTranscribe(t *testing.T) {
	c, svc, _ := newTestClient(t, func(method string, _ *structpb.Struct) (*structpb.Struct, error) {
		if method != MethodTranscribe {
			return nil, status.Errorf(codes.Unimplemented, "unexpected %s", method)
		}
		return mustStruct(t, map[string]any{
			"text":       "hello there",
			"confidence": 0.82,
			"words": []any{
				map[string]any{"text": "hello", "start": 0.0, "end": 0.4, "confidence": 0.9},
				map[string]any{"text": "there", "start": 0.5, "end": 0.9},
			},
		}), nil
	})
	chunk := writeChunk(t)
	ctx := trace.WithSession(context.Background(), "sess-9")

	rec, err := c.Transcribe(ctx, chunk)
	require.NoError(t, err)
	assert.Equal(t, "hello there", rec.Text)
	require.NotNil(t, rec.Confidence)
	assert.InDelta(t, 0.82, *rec.Confidence, 1e-9)
	assert.True(t, rec.ChunkStart.Equal(chunk.StartTime))
	require.Len(t, rec.Words, 2)
	require.NotNil(t, rec.Words[0].Confidence)
	assert.Nil(t, rec.Words[1].Confidence)

	req := svc.request(MethodTranscribe)
	raw, err := base64.StdEncoding.DecodeString(req.GetFields()["audio_b64"].GetStringValue())
	require.NoError(t, err)
	onDisk, err := os.ReadFile(chunk.Path)
	require.NoError(t, err)
	assert.Equal(t, onDisk, raw)
	assert.Equal(t, 16000.0, req.GetFields()["sample_rate"].GetNumberValue())

	svc.mu.Lock()
	md := svc.metadata[MethodTranscribe]
	svc.mu.Unlock()
	assert.Equal(t, []string{"sess-9"}, md.Get(trace.SessionIDKey))
	assert.Len(t, md.Get(trace.TraceIDKey), 1)
}

func TestTranscribeMissingText(t *testing.T) {
	c, _, _ := newTestClient(t, func(string, *structpb.Struct) (*structpb.Struct, error) {
		return mustStruct(t, map[string]any{"confidence": 0.5}), nil
	})
	_, err := c.Transcribe(context.Background(), writeChunk(t))
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeInvalidResponse))
	assert.Equal(t, apperrors.Permanent, apperrors.Classify(err))
}

func TestTranscribeMissingFile(t *testing.T) {
	c, _, _ := newTestClient(t, nil)
	_, err := c.Transcribe(context.Background(), audio.Chunk{Path: filepath.Join(t.TempDir(), "nope.wav")})
	require.Error(t, err)
	assert.Equal(t, apperrors.Permanent, apperrors.Classify(err))
}

func TestErrorsAreClassified(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want apperrors.Class
	}{
		{"unavailable", status.Error(codes.Unavailable, "backend down"), apperrors.Transient},
		{"exhausted", status.Error(codes.ResourceExhausted, "quota"), apperrors.Transient},
		{"invalid", status.Error(codes.InvalidArgument, "bad audio"), apperrors.Permanent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _, _ := newTestClient(t, func(string, *structpb.Struct) (*structpb.Struct, error) {
				return nil, tt.err
			})
			_, err := c.Analyze(context.Background(), "text")
			require.Error(t, err)
			assert.Equal(t, tt.want, apperrors.Classify(err))
		})
	}
}

func TestAnalyze(t *testing.T) {
	c, svc, _ := newTestClient(t, func(string, *structpb.Struct) (*structpb.Struct, error) {
		return mustStruct(t, map[string]any{
			"action_items": []any{
				map[string]any{"task": "Send the deck", "assignee": "Ana"},
				"Book a room",
			},
			"decisions":    []any{"Ship Friday"},
			"key_points":   []any{map[string]any{"point": "Budget approved"}},
			"participants": []any{"Ana", "Ben"},
		}), nil
	})

	an, err := c.Analyze(context.Background(), "we will ship friday")
	require.NoError(t, err)
	assert.Equal(t, "we will ship friday", svc.request(MethodAnalyze).GetFields()["text"].GetStringValue())
	require.Len(t, an.Insights.ActionItems, 2)
	assert.Equal(t, "Send the deck", an.Insights.ActionItems[0].Item)
	assert.Equal(t, "Ana", an.Insights.ActionItems[0].Assignee)
	assert.Equal(t, "Book a room", an.Insights.ActionItems[1].Item)
	assert.Equal(t, []string{"Ship Friday"}, an.Insights.Decisions)
	assert.Equal(t, []string{"Budget approved"}, an.Insights.KeyPoints)
	assert.Equal(t, []string{"Ana", "Ben"}, an.Insights.Participants)
	assert.False(t, an.ProducedAt.IsZero())
}

func TestSummarize(t *testing.T) {
	c, svc, _ := newTestClient(t, func(string, *structpb.Struct) (*structpb.Struct, error) {
		return mustStruct(t, map[string]any{"summary": "Short meeting."}), nil
	})
	conf := 0.9
	got, err := c.Summarize(context.Background(), session.SummaryRequest{Transcript: "full text", Confidence: &conf})
	require.NoError(t, err)
	assert.Equal(t, "Short meeting.", got)
	assert.InDelta(t, 0.9, svc.request(MethodSummarize).GetFields()["confidence"].GetNumberValue(), 1e-9)
}

func TestSummarizeEmpty(t *testing.T) {
	c, _, _ := newTestClient(t, func(string, *structpb.Struct) (*structpb.Struct, error) {
		return &structpb.Struct{}, nil
	})
	_, err := c.Summarize(context.Background(), session.SummaryRequest{Transcript: "x"})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeInvalidResponse))
}

func TestHealth(t *testing.T) {
	c, _, hs := newTestClient(t, nil)

	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	err := c.Healthy(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeUnavailable))

	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	l := resilience.NewLimiter(resilience.DefaultLimiterConfig("analyze"))
	require.NoError(t, c.WaitReady(context.Background(), l, 1))
	assert.Equal(t, 1, l.Stats().TotalCalls, "health probes go through the limiter")
}

func TestWaitReadyRespectsOpenCircuit(t *testing.T) {
	c, _, hs := newTestClient(t, nil)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	cfg := resilience.DefaultLimiterConfig("analyze")
	cfg.Breaker.Threshold = 1
	l := resilience.NewLimiter(cfg)
	l.Record(false)

	err := c.WaitReady(context.Background(), l, 3)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
}
