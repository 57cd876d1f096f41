package httpapi

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"

	auth "github.com/goliatone/go-auth-issuer"
	"github.com/goliatone/go-auth-issuer/federation"
)

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error    string         `json:"error"`
	Code     string         `json:"code,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// statusFor maps err to an HTTP status. go-errors codes win, then the
// category, then 500.
func statusFor(err error) int {
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		return http.StatusInternalServerError
	}
	if rich.Code >= 400 && rich.Code < 600 {
		return rich.Code
	}
	switch rich.Category {
	case goerrors.CategoryValidation, goerrors.CategoryBadInput:
		return http.StatusBadRequest
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryConflict:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// errorBody builds the public error payload. Server errors keep their
// details in the log.
func errorBody(err error, status int) ErrorResponse {
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || status >= http.StatusInternalServerError {
		return ErrorResponse{Error: http.StatusText(status)}
	}

	res := ErrorResponse{Error: rich.Message, Code: rich.TextCode}
	for _, key := range []string{"field", "reason", "provider"} {
		if v, ok := rich.Metadata[key]; ok {
			if res.Metadata == nil {
				res.Metadata = map[string]any{}
			}
			res.Metadata[key] = v
		}
	}
	return res
}

// ErrorHandler is the fiber error handler for the API.
func ErrorHandler(logger auth.Logger) fiber.ErrorHandler {
	if logger == nil {
		logger = auth.DefaultLogger()
	}
	return func(c *fiber.Ctx, err error) error {
		if fe, ok := err.(*fiber.Error); ok {
			return c.Status(fe.Code).JSON(ErrorResponse{Error: fe.Message})
		}

		status := statusFor(err)
		if failure, ok := federation.AsFailure(err); ok && status == http.StatusInternalServerError {
			if failure.State == federation.StateIdentityVerified {
				status = http.StatusUnauthorized
			}
		}

		if status >= http.StatusInternalServerError {
			logger.Error("%s %s failed: %v", c.Method(), c.Path(), err)
		} else {
			logger.Debug("%s %s rejected: %v", c.Method(), c.Path(), err)
		}

		return c.Status(status).JSON(errorBody(err, status))
	}
}
