// Package stt transcribes chunks through an OpenAI-compatible
// /audio/transcriptions endpoint.
package stt

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"math"
	"net/http"
	"os"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/GriffinCanCode/meeting-pilot/internal/audio"
	apperrors "github.com/GriffinCanCode/meeting-pilot/internal/errors"
	"github.com/GriffinCanCode/meeting-pilot/internal/session"
	"github.com/GriffinCanCode/meeting-pilot/internal/trace"
	"github.com/GriffinCanCode/meeting-pilot/internal/transcript"
)

// Config selects the endpoint and model.
type Config struct {
	BaseURL  string
	APIKey   string
	Model    string
	Language string
}

// Client implements session.Transcriber over HTTP.
type Client struct {
	http  *resty.Client
	model string
	lang  string
}

var _ session.Transcriber = (*Client)(nil)

// New builds a client. Missing fields take the package defaults.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	rc := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		rc.SetAuthToken(cfg.APIKey)
	}
	return &Client{http: rc, model: cfg.Model, lang: cfg.Language}
}

type verboseResponse struct {
	Text     *string   `json:"text"`
	Segments []segment `json:"segments"`
	Words    []word    `json:"words"`
}

type segment struct {
	Text       string   `json:"text"`
	AvgLogprob *float64 `json:"avg_logprob"`
}

type word struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Transcribe uploads the chunk's WAV file.
func (c *Client) Transcribe(ctx context.Context, chunk audio.Chunk) (*transcript.Record, error) {
	ctx, span := trace.StartSpan(ctx, "stt.transcribe")
	defer span.End()
	span.SetAttr("chunk", chunk.ID)

	if _, err := os.Stat(chunk.Path); err != nil {
		return nil, apperrors.Wrapf(err, apperrors.CodeInvalidArgument, "read chunk %s", chunk.Path)
	}

	form := map[string]string{
		"model":                     c.model,
		"response_format":           "verbose_json",
		"timestamp_granularities[]": "word",
	}
	if c.lang != "" {
		form["language"] = c.lang
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(trace.Headers(ctx)).
		SetFile("file", chunk.Path).
		SetMultipartFormData(form).
		Post(TranscriptionsPath)
	if err != nil {
		if stderrors.Is(err, context.DeadlineExceeded) {
			return nil, apperrors.Wrap(err, apperrors.CodeTimeout, "transcription request")
		}
		return nil, apperrors.Wrap(err, apperrors.CodeUnavailable, "transcription request")
	}
	if resp.IsError() {
		return nil, statusError(resp)
	}

	var body verboseResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInvalidResponse, "decode transcription")
	}
	if body.Text == nil {
		return nil, apperrors.New(apperrors.CodeInvalidResponse, "transcription response missing text")
	}

	rec := &transcript.Record{
		Text:       strings.TrimSpace(*body.Text),
		Confidence: segmentConfidence(body.Segments),
		ChunkStart: chunk.StartTime,
	}
	for _, w := range body.Words {
		rec.Words = append(rec.Words, transcript.Word{Text: w.Word, Start: w.Start, End: w.End})
	}
	span.SetAttr("chars", len(rec.Text))
	return rec, nil
}

// statusError maps an HTTP failure onto the error taxonomy.
func statusError(resp *resty.Response) error {
	msg := strings.TrimSpace(resp.String())
	var ae apiError
	if json.Unmarshal(resp.Body(), &ae) == nil && ae.Error.Message != "" {
		msg = ae.Error.Message
	}

	var code apperrors.Code
	switch sc := resp.StatusCode(); {
	case sc == http.StatusTooManyRequests:
		code = apperrors.CodeRateLimited
	case sc == http.StatusRequestTimeout || sc == http.StatusGatewayTimeout:
		code = apperrors.CodeTimeout
	case sc >= 500:
		code = apperrors.CodeUnavailable
	case sc == http.StatusUnauthorized || sc == http.StatusForbidden:
		code = apperrors.CodeConfigInvalid
	default:
		code = apperrors.CodeInvalidArgument
	}
	return apperrors.Newf(code, "transcription failed: %s", msg).
		WithMetadata("status", resp.Status())
}

// segmentConfidence averages exp(avg_logprob) over segments that report one.
func segmentConfidence(segs []segment) *float64 {
	var sum float64
	var n int
	for _, s := range segs {
		if s.AvgLogprob == nil {
			continue
		}
		sum += math.Min(1, math.Exp(*s.AvgLogprob))
		n++
	}
	if n == 0 {
		return nil
	}
	avg := sum / float64(n)
	return &avg
}
