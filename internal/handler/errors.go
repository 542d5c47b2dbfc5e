package handler

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"regexp"

	"github.com/labstack/echo/v4"

	"chat-relay/internal/client"
	"chat-relay/internal/metrics"
	"chat-relay/internal/model"
	"chat-relay/internal/service"
)

// Error codes returned in the envelope's "code" field.
const (
	CodeMissingHeaders   = "missing_headers"
	CodeRequestFailed    = "request_failed"
	CodeTargetForbidden  = "target_forbidden"
	CodeNotFound         = "not_found"
	CodeMethodNotAllowed = "method_not_allowed"
	CodeRequestTooLarge  = "request_too_large"
	CodeRateLimited      = "rate_limited"
	CodeProxyFailed      = "proxy_failed"
	CodeInternal         = "internal_error"
)

const (
	typeInvalidRequest = "invalid_request_error"
	typeRateLimit      = "rate_limit_error"
	typeProxy          = "proxy_error"
	typeServer         = "server_error"
)

// credentialPattern matches bearer tokens and key-like query values that may
// appear in upstream URLs or transport errors.
var credentialPattern = regexp.MustCompile(`(?i)(bearer\s+|(?:api[-_]?key|key|token|access_token)=)[^&\s"]+`)

// ErrorBody is the payload of the JSON error envelope.
type ErrorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

// ErrorResponse is the JSON error envelope: {"error":{"message","type","code"}}.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

type failure struct {
	status int
	body   ErrorBody
}

// classify maps an error to its status code and envelope.
func classify(err error) failure {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return classifyHTTPError(he)
	}

	switch {
	case errors.Is(err, service.ErrMissingHeaders), errors.Is(err, service.ErrInvalidTarget):
		return failure{http.StatusBadRequest, ErrorBody{err.Error(), typeInvalidRequest, CodeMissingHeaders}}
	case errors.Is(err, service.ErrTargetForbidden):
		return failure{http.StatusForbidden, ErrorBody{err.Error(), typeInvalidRequest, CodeTargetForbidden}}
	case errors.Is(err, service.ErrRequestBody):
		return failure{http.StatusBadRequest, ErrorBody{"failed to read request body", typeInvalidRequest, CodeRequestFailed}}
	case errors.Is(err, context.Canceled):
		return failure{http.StatusBadGateway, ErrorBody{"client disconnected", typeProxy, CodeProxyFailed}}
	case errors.Is(err, service.ErrUpstreamEncoding),
		errors.Is(err, client.ErrTooManyRedirects),
		errors.Is(err, context.DeadlineExceeded):
		return failure{http.StatusBadGateway, ErrorBody{upstreamMessage(err), typeProxy, CodeProxyFailed}}
	}

	var netErr net.Error
	var urlErr *url.Error
	if errors.As(err, &netErr) || errors.As(err, &urlErr) {
		return failure{http.StatusBadGateway, ErrorBody{upstreamMessage(err), typeProxy, CodeProxyFailed}}
	}

	return failure{http.StatusInternalServerError, ErrorBody{"internal server error", typeServer, CodeInternal}}
}

func classifyHTTPError(he *echo.HTTPError) failure {
	msg := http.StatusText(he.Code)
	if s, ok := he.Message.(string); ok && s != "" {
		msg = s
	}

	switch he.Code {
	case http.StatusNotFound:
		return failure{he.Code, ErrorBody{msg, typeInvalidRequest, CodeNotFound}}
	case http.StatusMethodNotAllowed:
		return failure{he.Code, ErrorBody{msg, typeInvalidRequest, CodeMethodNotAllowed}}
	case http.StatusRequestEntityTooLarge:
		return failure{he.Code, ErrorBody{msg, typeInvalidRequest, CodeRequestTooLarge}}
	case http.StatusTooManyRequests:
		return failure{he.Code, ErrorBody{msg, typeRateLimit, CodeRateLimited}}
	}
	if he.Code >= http.StatusInternalServerError {
		return failure{http.StatusInternalServerError, ErrorBody{"internal server error", typeServer, CodeInternal}}
	}
	return failure{he.Code, ErrorBody{msg, typeInvalidRequest, CodeRequestFailed}}
}

// upstreamMessage describes an upstream failure without leaking credentials.
func upstreamMessage(err error) string {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = urlErr.Err
	}
	return "upstream request failed: " + sanitizeError(err)
}

// sanitizeError redacts credentials from error messages that may contain upstream URLs.
func sanitizeError(err error) string {
	return credentialPattern.ReplaceAllString(err.Error(), "${1}[REDACTED]")
}

// writeError sends the envelope for f. HEAD requests get the status only.
func writeError(c echo.Context, f failure) error {
	if c.Request().Method == http.MethodHead {
		return c.NoContent(f.status)
	}
	return c.JSON(f.status, ErrorResponse{Error: f.body})
}

// recordFailure counts a failed request when metrics are enabled.
func recordFailure(m *metrics.Metrics, code string, phase model.Phase) {
	if m != nil {
		m.RelayFailures.WithLabelValues(code, string(phase)).Inc()
	}
}

// ErrorHandler replaces echo's default HTTPErrorHandler so that routing
// errors, middleware rejections and recovered panics share the relay's
// error envelope. Nothing is written once the response has started.
func ErrorHandler(logger *slog.Logger) echo.HTTPErrorHandler {
	logger = logger.With("component", "error_handler")

	return func(err error, c echo.Context) {
		f := classify(err)
		req := c.Request()

		if c.Response().Committed {
			logger.Warn("error after response started",
				"err", sanitizeError(err),
				"method", req.Method,
				"path", req.URL.Path,
			)
			return
		}

		if f.status >= http.StatusInternalServerError {
			logger.Error("request failed",
				"err", sanitizeError(err),
				"method", req.Method,
				"path", req.URL.Path,
				"status", f.status,
			)
		}

		if werr := writeError(c, f); werr != nil {
			logger.Error("writing error response", "err", werr)
		}
	}
}
