package errs

import "net/http"

const (
	ArgsError           = http.StatusBadRequest
	UnauthorizedError   = http.StatusUnauthorized
	ForbiddenError      = http.StatusForbidden
	ServerInternalError = http.StatusInternalServerError

	ConfigError = 1001 // missing credentials / identity, fatal
	ClosedError = 1002 // operation after teardown began
)

var (
	ErrArgs         = NewCodeError(ArgsError, "ArgsError")
	ErrUnauthorized = NewCodeError(UnauthorizedError, "Unauthorized")
	ErrForbidden    = NewCodeError(ForbiddenError, "Forbidden")
	ErrInternal     = NewCodeError(ServerInternalError, "ServerInternalError")
	ErrConfig       = NewCodeError(ConfigError, "ConfigError")
	ErrClosed       = NewCodeError(ClosedError, "Closed")
)

// HTTPStatus maps an error onto the status code a handler should answer with.
func HTTPStatus(err error) int {
	switch Code(err) {
	case ArgsError:
		return http.StatusBadRequest
	case UnauthorizedError:
		return http.StatusUnauthorized
	case ForbiddenError:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
