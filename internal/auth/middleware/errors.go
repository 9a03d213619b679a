package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/Matteomic94/ElementMedica-sub000/internal/auth/domain"
	"github.com/Matteomic94/ElementMedica-sub000/internal/platform/validation"
)

// ErrorBody is the failure envelope shared by every endpoint.
type ErrorBody struct {
	Success bool        `json:"success"`
	Error   ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string              `json:"code"`
	Message string              `json:"message"`
	Fields  map[string][]string `json:"fields,omitempty"`
}

// ErrorHandler renders errors in the failure envelope. Auth errors keep their code, except that
// principal states collapse to "unauthenticated". Internal failures are logged and never leak
// detail.
func ErrorHandler(log zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		status, body := render(err)
		if status >= http.StatusInternalServerError {
			log.Error().Err(err).
				Str("method", c.Request().Method).
				Str("path", c.Path()).
				Str("code", body.Error.Code).
				Msg("request failed")
		}
		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(status)
			return
		}
		_ = c.JSON(status, body)
	}
}

func render(err error) (int, ErrorBody) {
	if fields := validation.Fields(err); fields != nil {
		return http.StatusBadRequest, ErrorBody{Error: ErrorDetail{Code: "validation_failed", Message: "invalid request", Fields: fields}}
	}
	var de *domain.Error
	if errors.As(err, &de) || domain.KindOf(err) == domain.KindInternalTimeout {
		code := domain.CodeOf(err)
		if strings.HasPrefix(code, "principal_") {
			code = domain.KindUnauthenticated.String()
		}
		return domain.StatusOf(err), ErrorBody{Error: ErrorDetail{Code: code, Message: domain.PublicMessage(err)}}
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code, ErrorBody{Error: ErrorDetail{Code: httpCode(he.Code), Message: strings.ToLower(http.StatusText(he.Code))}}
	}
	return http.StatusInternalServerError, ErrorBody{Error: ErrorDetail{Code: domain.ErrInternal.Code, Message: domain.PublicMessage(err)}}
}

func httpCode(status int) string {
	text := http.StatusText(status)
	if text == "" {
		return "http_error"
	}
	return strings.ReplaceAll(strings.ToLower(text), " ", "_")
}
