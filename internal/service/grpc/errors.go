package grpcsvc

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/commerce/internal/domain"
)

// toStatus переводит ошибку ядра в gRPC status; код ошибки уходит в сообщение.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return status.Error(codes.Canceled, err.Error())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return status.Error(codes.DeadlineExceeded, err.Error())
	}

	code := CodeForError(err)
	if code == codes.Internal {
		return status.Error(code, "internal error")
	}
	return status.Errorf(code, "%s: %s", domain.CodeOf(err), err.Error())
}

// CodeForError — соответствие категорий ошибок кодам gRPC.
func CodeForError(err error) codes.Code {
	switch domain.KindOf(err) {
	case domain.KindValidation:
		return codes.InvalidArgument
	case domain.KindNotFound:
		return codes.NotFound
	case domain.KindConflict:
		switch {
		case errors.Is(err, domain.ErrProductAlreadyExists),
			errors.Is(err, domain.ErrAccountAlreadyExists),
			errors.Is(err, domain.ErrOrderAlreadyExists),
			errors.Is(err, domain.ErrDuplicateReservation),
			errors.Is(err, domain.ErrIdempotencyKeyReused):
			return codes.AlreadyExists
		case errors.Is(err, domain.ErrIdempotencyRequestInFlight),
			errors.Is(err, domain.ErrOrderVersionConflict):
			return codes.Aborted
		default:
			return codes.FailedPrecondition
		}
	case domain.KindForbidden:
		return codes.PermissionDenied
	case domain.KindInsufficientResource:
		return codes.ResourceExhausted
	case domain.KindExpired:
		return codes.FailedPrecondition
	default:
		return codes.Internal
	}
}
