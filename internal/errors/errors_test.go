package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestAppErrorMessage(t *testing.T) {
	err := Wrap(stderrors.New("boom"), CodeStoreIO, "save failed").WithMetadata("path", "/tmp/x")
	want := "[STORE_IO] save failed map[path:/tmp/x] caused by: boom"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestIsCodeThroughWrapping(t *testing.T) {
	inner := New(CodeDeviceNotFound, "no mic")
	wrapped := fmt.Errorf("start: %w", inner)

	if !IsCode(wrapped, CodeDeviceNotFound) {
		t.Error("IsCode() = false through fmt wrapping, want true")
	}
	if IsCode(wrapped, CodeUnavailable) {
		t.Error("IsCode() matched the wrong code")
	}
}

func TestGRPCRoundTrip(t *testing.T) {
	err := New(CodeRateLimited, "slow down")
	st, ok := status.FromError(err)
	if !ok {
		t.Fatal("status.FromError() did not recognise AppError")
	}
	if st.Code() != codes.ResourceExhausted {
		t.Errorf("grpc code = %v, want ResourceExhausted", st.Code())
	}

	back := FromGRPCError(status.Error(codes.DeadlineExceeded, "late"))
	if back.Code != CodeTimeout {
		t.Errorf("FromGRPCError code = %v, want TIMEOUT", back.Code)
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Class
	}{
		{"nil", nil, Permanent},
		{"unavailable code", New(CodeUnavailable, "down"), Transient},
		{"circuit open", New(CodeCircuitOpen, "open"), Transient},
		{"device missing", New(CodeDeviceNotFound, "none"), Resource},
		{"stream failed", Wrap(stderrors.New("x"), CodeStreamFailed, "open"), Resource},
		{"empty transcription", New(CodeTranscriptionEmpty, "empty"), Permanent},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), Transient},
		{"net error", timeoutErr{}, Transient},
		{"grpc unavailable", status.Error(codes.Unavailable, "x"), Transient},
		{"grpc invalid", status.Error(codes.InvalidArgument, "bad"), Permanent},
		{"text connection", stderrors.New("Connection refused by host"), Transient},
		{"text dns", stderrors.New("lookup api.example.com: no such host"), Transient},
		{"text ssl", stderrors.New("SSL handshake failed"), Transient},
		{"malformed", stderrors.New("unexpected field in payload"), Permanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(New(CodeTimeout, "x")) {
		t.Error("timeout should be retryable")
	}
	if IsRetryable(New(CodeInvalidResponse, "x")) {
		t.Error("invalid response should not be retryable")
	}
}
