// Package inference is the gRPC client for the speech-to-text and analysis
// service. Messages travel as google.protobuf.Struct so the service can
// evolve its payloads without regenerating stubs.
package inference

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/GriffinCanCode/meeting-pilot/internal/audio"
	apperrors "github.com/GriffinCanCode/meeting-pilot/internal/errors"
	"github.com/GriffinCanCode/meeting-pilot/internal/resilience"
	"github.com/GriffinCanCode/meeting-pilot/internal/session"
	"github.com/GriffinCanCode/meeting-pilot/internal/trace"
	"github.com/GriffinCanCode/meeting-pilot/internal/transcript"
)

// Client implements session.Transcriber and session.Analyzer over gRPC.
type Client struct {
	conn   *grpc.ClientConn
	health healthpb.HealthClient
}

var (
	_ session.Transcriber = (*Client)(nil)
	_ session.Analyzer    = (*Client)(nil)
)

// New connects lazily to addr. Extra options are appended after the defaults.
func New(addr string, opts ...grpc.DialOption) (*Client, error) {
	base := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                DefaultKeepaliveTime,
			Timeout:             DefaultKeepaliveTimeout,
			PermitWithoutStream: true,
		}),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallSendMsgSize(MaxMessageSize),
			grpc.MaxCallRecvMsgSize(MaxMessageSize),
		),
		grpc.WithChainUnaryInterceptor(trace.UnaryClientInterceptor()),
	}
	conn, err := grpc.NewClient(addr, append(base, opts...)...)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.CodeConfigInvalid, "inference client for %s", addr)
	}
	return &Client{conn: conn, health: healthpb.NewHealthClient(conn)}, nil
}

// Close closes the gRPC connection
func (c *Client) Close() error {
	return c.conn.Close()
}

// Healthy reports whether the service answers SERVING.
func (c *Client) Healthy(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, HealthCheckTimeout)
	defer cancel()
	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return apperrors.FromGRPCError(err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return apperrors.Newf(apperrors.CodeUnavailable, "inference service %s", resp.GetStatus())
	}
	return nil
}

// WaitReady polls Healthy behind l with backoff until it succeeds or
// retries run out. Probes count against l like any other call.
func (c *Client) WaitReady(ctx context.Context, l *resilience.Limiter, retries int) error {
	cfg := resilience.DefaultRetryConfig()
	cfg.MaxRetries = retries
	cfg.BaseDelay = DefaultHealthCheckInterval / 4
	cfg.MaxDelay = DefaultHealthCheckInterval
	// A server without the health service answers Unimplemented; stop early.
	cfg.IsRetryable = resilience.IsRetryableGRPC
	_, err := resilience.Do(ctx, l, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.Healthy(ctx)
	})
	return err
}

// Transcribe sends a chunk's WAV file for transcription.
func (c *Client) Transcribe(ctx context.Context, chunk audio.Chunk) (*transcript.Record, error) {
	ctx, span := trace.StartSpan(ctx, "inference.transcribe")
	defer span.End()
	span.SetAttr("chunk", chunk.ID)

	data, err := os.ReadFile(chunk.Path)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.CodeInvalidArgument, "read chunk %s", chunk.Path)
	}

	req, err := structpb.NewStruct(map[string]any{
		"audio_b64":   base64.StdEncoding.EncodeToString(data),
		"format":      "wav",
		"sample_rate": chunk.SampleRate,
		"channels":    chunk.Channels,
	})
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "encode transcribe request")
	}

	resp, err := c.call(ctx, MethodTranscribe, req)
	if err != nil {
		return nil, err
	}
	rec, err := decodeTranscription(resp)
	if err != nil {
		return nil, err
	}
	rec.ChunkStart = chunk.StartTime
	span.SetAttr("chars", len(rec.Text))
	return rec, nil
}

// Analyze extracts insights from one chunk of text.
func (c *Client) Analyze(ctx context.Context, text string) (*transcript.Analysis, error) {
	ctx, span := trace.StartSpan(ctx, "inference.analyze")
	defer span.End()

	req, err := structpb.NewStruct(map[string]any{"text": text})
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "encode analyze request")
	}
	resp, err := c.call(ctx, MethodAnalyze, req)
	if err != nil {
		return nil, err
	}
	return &transcript.Analysis{ProducedAt: time.Now(), Insights: decodeInsights(resp)}, nil
}

// Summarize produces the session summary from the full transcript.
func (c *Client) Summarize(ctx context.Context, in session.SummaryRequest) (string, error) {
	ctx, span := trace.StartSpan(ctx, "inference.summarize")
	defer span.End()

	fields := map[string]any{"transcript": in.Transcript}
	if in.Confidence != nil {
		fields["confidence"] = *in.Confidence
	}
	req, err := structpb.NewStruct(fields)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.CodeInternal, "encode summarize request")
	}
	resp, err := c.call(ctx, MethodSummarize, req)
	if err != nil {
		return "", err
	}
	summary := stringField(resp, "summary")
	if summary == "" {
		return "", apperrors.New(apperrors.CodeInvalidResponse, "empty summary")
	}
	return summary, nil
}

func (c *Client) call(ctx context.Context, method string, req *structpb.Struct) (*structpb.Struct, error) {
	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, method, req, resp); err != nil {
		return nil, apperrors.FromGRPCError(err).WithMetadata("method", method)
	}
	return resp, nil
}

func decodeTranscription(s *structpb.Struct) (*transcript.Record, error) {
	fields := s.GetFields()
	if _, ok := fields["text"]; !ok {
		return nil, apperrors.New(apperrors.CodeInvalidResponse, "transcription response missing text")
	}
	rec := &transcript.Record{Text: stringField(s, "text")}
	if v, ok := fields["confidence"]; ok {
		if _, isNum := v.GetKind().(*structpb.Value_NumberValue); isNum {
			c := v.GetNumberValue()
			rec.Confidence = &c
		}
	}
	for _, w := range fields["words"].GetListValue().GetValues() {
		ws := w.GetStructValue()
		if ws == nil {
			continue
		}
		word := transcript.Word{
			Text:  stringField(ws, "text"),
			Start: ws.GetFields()["start"].GetNumberValue(),
			End:   ws.GetFields()["end"].GetNumberValue(),
		}
		if cv, ok := ws.GetFields()["confidence"]; ok {
			c := cv.GetNumberValue()
			word.Confidence = &c
		}
		rec.Words = append(rec.Words, word)
	}
	return rec, nil
}

func decodeInsights(s *structpb.Struct) transcript.Insights {
	var in transcript.Insights
	for _, v := range s.GetFields()["action_items"].GetListValue().GetValues() {
		switch kind := v.GetKind().(type) {
		case *structpb.Value_StringValue:
			in.ActionItems = append(in.ActionItems, transcript.ActionItem{Item: kind.StringValue})
		case *structpb.Value_StructValue:
			item := stringField(kind.StructValue, "item")
			if item == "" {
				item = stringField(kind.StructValue, "task")
			}
			in.ActionItems = append(in.ActionItems, transcript.ActionItem{
				Item:     item,
				Assignee: stringField(kind.StructValue, "assignee"),
			})
		}
	}
	in.Decisions = stringList(s, "decisions", "decision")
	in.KeyPoints = stringList(s, "key_points", "point")
	in.Participants = stringList(s, "participants", "name")
	in.UnclearItems = stringList(s, "unclear_items", "item")
	return in
}

func stringField(s *structpb.Struct, key string) string {
	return s.GetFields()[key].GetStringValue()
}

// stringList reads a list of strings, accepting objects carrying them under field.
func stringList(s *structpb.Struct, key, field string) []string {
	var out []string
	for _, v := range s.GetFields()[key].GetListValue().GetValues() {
		switch kind := v.GetKind().(type) {
		case *structpb.Value_StringValue:
			out = append(out, kind.StringValue)
		case *structpb.Value_StructValue:
			if str := stringField(kind.StructValue, field); str != "" {
				out = append(out, str)
			}
		default:
			out = append(out, fmt.Sprint(v.AsInterface()))
		}
	}
	return out
}
