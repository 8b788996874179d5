package container

import (
	"context"
	"errors"
	"net/http"

	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"

	"github.com/seantiz/fnworker/internal/backend"
)

// subject says what an engine "not found" refers to.
type subject int

const (
	subjectContainer subject = iota
	subjectImage
)

// classify converts an engine client error into a backend error. message
// names the step that failed.
func classify(err error, subj subject, message string) error {
	if err == nil {
		return nil
	}
	var be *backend.Error
	if errors.As(err, &be) {
		return err
	}

	kind := backend.KindEngineProtocol
	switch {
	case client.IsErrConnectionFailed(err):
		kind = backend.KindConnectionUnavailable
	case errdefs.IsNotFound(err) && subj == subjectImage:
		kind = backend.KindImageNotFound
	case errdefs.IsNotFound(err):
		kind = backend.KindContainerNotFound
	case errdefs.IsConflict(err):
		kind = backend.KindContainerConflict
	case errdefs.IsDeadline(err), errors.Is(err, context.DeadlineExceeded):
		kind = backend.KindTimeout
	}

	return &backend.Error{
		Kind:       kind,
		StatusCode: statusCode(err),
		Message:    message,
		Cause:      err,
	}
}

// statusCode recovers the engine HTTP status class of err.
func statusCode(err error) int {
	switch {
	case client.IsErrConnectionFailed(err):
		return 0
	case errdefs.IsInvalidParameter(err):
		return http.StatusBadRequest
	case errdefs.IsUnauthorized(err):
		return http.StatusUnauthorized
	case errdefs.IsForbidden(err):
		return http.StatusForbidden
	case errdefs.IsNotFound(err):
		return http.StatusNotFound
	case errdefs.IsConflict(err):
		return http.StatusConflict
	case errdefs.IsNotImplemented(err):
		return http.StatusNotImplemented
	case errdefs.IsUnavailable(err):
		return http.StatusServiceUnavailable
	case errdefs.IsDeadline(err), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
