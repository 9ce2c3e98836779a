package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/fieldsync/internal/common"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// mapError classifies a transport error. Anything not recognised as the
// caller's fault is treated as transient and retried.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{common.ErrAuthRejected, common.ErrTransient, common.ErrConflict, common.ErrValidation} {
		if errors.Is(err, known) {
			return err
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", common.ErrTransient, err)
	}

	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("%w: %w", common.ErrTransient, err)
	}
	msg := st.Message()
	switch st.Code() {
	case codes.Unauthenticated, codes.PermissionDenied:
		return fmt.Errorf("%w: %s", common.ErrAuthRejected, msg)
	case codes.Aborted, codes.AlreadyExists:
		return fmt.Errorf("%w: %s", common.ErrConflict, msg)
	case codes.NotFound:
		return fmt.Errorf("%w: %w: %s", common.ErrValidation, common.ErrNotFound, msg)
	case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange, codes.Unimplemented:
		return fmt.Errorf("%w: %s", common.ErrValidation, msg)
	default:
		return fmt.Errorf("%w: %s: %s", common.ErrTransient, st.Code(), msg)
	}
}
