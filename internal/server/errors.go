package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"TokenLottery/internal/core"
	"TokenLottery/internal/lottery"
	"TokenLottery/internal/query"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// ErrorCodeKey is the trailer carrying the lifecycle error code of a failed
// command, e.g. "SaleClosed".
const ErrorCodeKey = "lottery-error-code"

// CodeForKind maps a lifecycle error kind to its gRPC code.
func CodeForKind(k lottery.Kind) codes.Code {
	switch k {
	case lottery.KindAuthorization:
		return codes.PermissionDenied
	case lottery.KindTiming, lottery.KindStateConflict, lottery.KindFunds:
		return codes.FailedPrecondition
	case lottery.KindIntegrity:
		return codes.InvalidArgument
	case lottery.KindTransient:
		return codes.Unavailable
	default:
		return codes.Unknown
	}
}

// ToStatus converts any error returned by the command or query services into
// a gRPC status error.
func ToStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	if le, ok := lottery.AsError(err); ok {
		return status.Error(CodeForKind(le.Kind), le.Error())
	}
	switch {
	case errors.Is(err, core.ErrInvalidEvent):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, query.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, core.ErrSequencerStopped):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// grpcError converts err and attaches the lifecycle code as a trailer.
func grpcError(ctx context.Context, err error) error {
	if le, ok := lottery.AsError(err); ok {
		_ = grpc.SetTrailer(ctx, metadata.Pairs(ErrorCodeKey, string(le.Code)))
	}
	return ToStatus(err)
}

// ErrorBody is the JSON body of a failed gateway request.
type ErrorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	ErrorCode string `json:"error_code,omitempty"`
}

func writeError(w http.ResponseWriter, err error) {
	st, _ := status.FromError(ToStatus(err))
	body := ErrorBody{Code: st.Code().String(), Message: st.Message()}
	if le, ok := lottery.AsError(err); ok {
		body.ErrorCode = string(le.Code)
	}
	writeJSON(w, runtime.HTTPStatusFromCode(st.Code()), body)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func invalidArgument(msg string) error {
	return status.Error(codes.InvalidArgument, msg)
}
