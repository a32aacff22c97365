package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestAppErrorString(t *testing.T) {
	cause := stderrors.New("permission denied")
	err := Wrap(cause, DeviceUnavailable, "open microphone").WithMetadata("device", "Built-in Microphone")

	s := err.Error()
	for _, want := range []string{"[DEVICE_UNAVAILABLE]", "open microphone", "Built-in Microphone", "caused by: permission denied"} {
		if !strings.Contains(s, want) {
			t.Errorf("Error() = %q, missing %q", s, want)
		}
	}
	if !stderrors.Is(err, cause) {
		t.Error("errors.Is should find the cause")
	}
}

func TestIsCodeThroughWrapping(t *testing.T) {
	err := fmt.Errorf("upload: %w", New(TransportFailure, "connection reset"))

	if !IsCode(err, TransportFailure) {
		t.Error("IsCode should see through fmt.Errorf wrapping")
	}
	if IsCode(err, PlaybackFailure) {
		t.Error("IsCode matched the wrong code")
	}
	if CodeOf(stderrors.New("plain")) != Unknown {
		t.Error("CodeOf(plain error) should be Unknown")
	}
}

func TestCodeMappings(t *testing.T) {
	tests := []struct {
		code     Code
		grpc     codes.Code
		httpCode int
	}{
		{DeviceUnavailable, codes.FailedPrecondition, http.StatusServiceUnavailable},
		{TransportFailure, codes.Unavailable, http.StatusBadGateway},
		{MalformedPayload, codes.DataLoss, http.StatusUnprocessableEntity},
		{PlaybackFailure, codes.Internal, http.StatusBadGateway},
		{InvalidArgument, codes.InvalidArgument, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.code.String(), func(t *testing.T) {
			e := New(tt.code, "x")
			if got := e.GRPCCode(); got != tt.grpc {
				t.Errorf("GRPCCode() = %v, want %v", got, tt.grpc)
			}
			if got := e.HTTPStatus(); got != tt.httpCode {
				t.Errorf("HTTPStatus() = %d, want %d", got, tt.httpCode)
			}
		})
	}
}

func TestGRPCStatusRoundTrip(t *testing.T) {
	orig := New(PlaybackFailure, "unsupported container").WithMetadata("uri", "https://cdn/x.ogg")

	st, ok := status.FromError(orig)
	if !ok {
		t.Fatal("status.FromError should recognise AppError")
	}
	if st.Code() != codes.Internal {
		t.Errorf("status code = %v, want Internal", st.Code())
	}

	var info *errdetails.ErrorInfo
	for _, d := range st.Details() {
		if ei, ok := d.(*errdetails.ErrorInfo); ok {
			info = ei
		}
	}
	if info == nil {
		t.Fatal("status carries no ErrorInfo detail")
	}
	if info.GetReason() != "PLAYBACK_FAILURE" || info.GetDomain() != ErrorDomain {
		t.Errorf("reason = %q domain = %q", info.GetReason(), info.GetDomain())
	}
	if info.GetMetadata()["uri"] != "https://cdn/x.ogg" {
		t.Errorf("metadata = %v", info.GetMetadata())
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(New(TransportFailure, "x")) {
		t.Error("TransportFailure should be retryable")
	}
	if IsRetryable(New(MalformedPayload, "x")) {
		t.Error("MalformedPayload should not be retryable")
	}
	if IsRetryable(nil) {
		t.Error("nil should not be retryable")
	}
}
