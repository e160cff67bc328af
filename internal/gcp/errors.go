package gcp

import (
	"errors"
	"fmt"
	"net"
	"net/http"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Lllllllleong/documentocrflow/internal/backend"
)

// Classify maps Google API and gRPC errors onto the backend taxonomy so the
// stages can apply their per-item policies. Errors it does not recognise are
// returned unchanged.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return wrapAs(op, backend.ErrNotFound, err)
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch {
		case gerr.Code == http.StatusUnauthorized || gerr.Code == http.StatusForbidden:
			return wrapAs(op, backend.ErrAuthentication, err)
		case gerr.Code == http.StatusNotFound:
			return wrapAs(op, backend.ErrNotFound, err)
		case gerr.Code == http.StatusTooManyRequests || gerr.Code >= 500:
			return backend.Unavailable(op, err)
		}
		return err
	}

	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Unauthenticated, codes.PermissionDenied:
			return wrapAs(op, backend.ErrAuthentication, err)
		case codes.NotFound:
			return wrapAs(op, backend.ErrNotFound, err)
		case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted:
			return backend.Unavailable(op, err)
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return backend.Unavailable(op, err)
	}
	return err
}

func wrapAs(op string, kind, err error) error {
	return fmt.Errorf("%s: %w: %w", op, kind, err)
}
