package errors

import (
	"context"
	stderrors "errors"
	"net"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Class is the handling category of a failure.
type Class int

const (
	// Permanent failures are logged and the work item dropped.
	Permanent Class = iota
	// Transient failures are retried later.
	Transient
	// Resource failures abort session start.
	Resource
)

func (c Class) String() string {
	switch c {
	case Transient:
		return "transient"
	case Resource:
		return "resource"
	default:
		return "permanent"
	}
}

// networkIndicators are matched against error text when nothing structured applies.
var networkIndicators = []string{
	"connection", "network", "timeout", "timed out", "unreachable",
	"dns", "no such host", "socket", "ssl", "tls", "certificate",
	"getaddrinfo", "http", "eof", "refused", "reset by peer", "broken pipe",
}

// Classify decides how a failure from an external call should be handled.
// Structured signals win; the text heuristic is the last resort.
func Classify(err error) Class {
	if err == nil {
		return Permanent
	}

	code, isApp := CodeOf(err)
	if isApp {
		switch code {
		case CodeUnavailable, CodeTimeout, CodeRateLimited, CodeCircuitOpen:
			return Transient
		case CodeDeviceNotFound, CodeStreamFailed:
			return Resource
		case CodeInvalidArgument, CodeTranscriptionEmpty, CodeInvalidResponse, CodeConfigInvalid, CodeNotFound:
			return Permanent
		}
	}

	if stderrors.Is(err, context.DeadlineExceeded) {
		return Transient
	}

	var netErr net.Error
	if stderrors.As(err, &netErr) {
		return Transient
	}

	// AppError satisfies GRPCStatus, so only consult status for foreign errors.
	if st, ok := status.FromError(err); ok && !isApp && st.Code() != codes.Unknown {
		switch st.Code() {
		case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
			return Transient
		default:
			return Permanent
		}
	}

	msg := strings.ToLower(err.Error())
	for _, ind := range networkIndicators {
		if strings.Contains(msg, ind) {
			return Transient
		}
	}
	return Permanent
}
