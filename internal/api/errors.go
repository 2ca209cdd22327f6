package api

import (
	"errors"
	"net/http"

	"studiobook/internal/domain"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// errorResponse is the body of every non-2xx reply.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func httpStatus(kind domain.Kind) int {
	switch kind {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindForbidden:
		return http.StatusForbidden
	case domain.KindLessonClosed, domain.KindLessonFull, domain.KindInsufficientCapacity:
		return http.StatusConflict
	case domain.KindInvalidQuantity, domain.KindValidation:
		return http.StatusBadRequest
	default:
		return http.StatusServiceUnavailable
	}
}

func grpcCode(kind domain.Kind) codes.Code {
	switch kind {
	case domain.KindNotFound:
		return codes.NotFound
	case domain.KindForbidden:
		return codes.PermissionDenied
	case domain.KindLessonClosed, domain.KindLessonFull:
		return codes.FailedPrecondition
	case domain.KindInsufficientCapacity:
		return codes.ResourceExhausted
	case domain.KindInvalidQuantity, domain.KindValidation:
		return codes.InvalidArgument
	default:
		return codes.Unavailable
	}
}

// grpcError converts a domain error into a status error.
func grpcError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		return status.Error(codes.InvalidArgument, verrs.Error())
	}
	return status.Error(grpcCode(domain.KindOf(err)), err.Error())
}

// ErrorHandler renders echo and domain errors as JSON.
func ErrorHandler(logger *zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code := http.StatusInternalServerError
		resp := errorResponse{Error: "internal", Message: err.Error()}

		var he *echo.HTTPError
		var typed *domain.Error
		var verrs validator.ValidationErrors
		switch {
		case errors.As(err, &he):
			code = he.Code
			resp.Error = http.StatusText(code)
			if m, ok := he.Message.(string); ok {
				resp.Message = m
			}
		case errors.As(err, &verrs):
			code = http.StatusBadRequest
			resp.Error = string(domain.KindValidation)
			resp.Message = verrs.Error()
		case errors.As(err, &typed):
			code = httpStatus(typed.Kind)
			resp.Error = string(typed.Kind)
		}

		if code >= http.StatusInternalServerError {
			logger.Error().Err(err).Str("path", c.Path()).Int("status", code).Msg("request failed")
		}

		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(code)
			return
		}
		_ = c.JSON(code, resp)
	}
}
