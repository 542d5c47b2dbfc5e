package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"chat-relay/internal/metrics"
	"chat-relay/internal/model"
	"chat-relay/internal/service"
	"chat-relay/internal/throttle"
)

const (
	copyBufferSize   = 32 * 1024
	abortLogInterval = 10 * time.Second
)

// RelayHandler forwards requests to the upstream named by each request and
// streams the response back.
type RelayHandler struct {
	service *service.RelayService
	metrics *metrics.Metrics
	logger  *slog.Logger
	aborts  *throttle.Throttle
}

// NewRelayHandler creates a RelayHandler. The metrics parameter is optional.
func NewRelayHandler(svc *service.RelayService, m *metrics.Metrics, logger *slog.Logger) *RelayHandler {
	return &RelayHandler{
		service: svc,
		metrics: m,
		logger:  logger.With("component", "relay_handler"),
		aborts:  throttle.New(abortLogInterval),
	}
}

// API relays a JSON or SSE call to an AI API.
func (h *RelayHandler) API(c echo.Context) error {
	return h.relay(c, model.VariantAPI)
}

// Fetch relays a web page for rendering in an embedding view.
func (h *RelayHandler) Fetch(c echo.Context) error {
	return h.relay(c, model.VariantHTML)
}

func (h *RelayHandler) relay(c echo.Context, variant model.Variant) error {
	req := c.Request()

	pr := &model.ProxyRequest{
		Ctx:           req.Context(),
		Variant:       variant,
		Method:        req.Method,
		Query:         req.URL.Query(),
		Header:        req.Header,
		Body:          req.Body,
		ContentLength: req.ContentLength,
	}

	resp, err := h.service.Forward(pr)
	if err != nil {
		return h.fail(c, phaseOf(err), err)
	}
	defer func() { _ = resp.Body.Close() }()

	out := c.Response().Header()
	for key, vals := range resp.Header {
		out[key] = vals
	}
	c.Response().WriteHeader(resp.StatusCode)

	n, err := stream(c.Response(), resp.Body)
	if h.metrics != nil {
		h.metrics.RelayedBytes.WithLabelValues(string(variant)).Add(float64(n))
	}
	if err != nil {
		h.streamFailed(c, err)
	}
	return nil
}

// stream copies body to the client, flushing after every chunk so SSE
// events are delivered as they arrive.
func stream(w *echo.Response, body io.Reader) (int64, error) {
	buf := make([]byte, copyBufferSize)
	var written int64
	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			m, werr := w.Write(buf[:n])
			written += int64(m)
			if werr != nil {
				return written, fmt.Errorf("write to client: %w", werr)
			}
			w.Flush()
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, fmt.Errorf("read from upstream: %w", rerr)
		}
	}
}

// fail logs and renders an error raised before the response started.
func (h *RelayHandler) fail(c echo.Context, phase model.Phase, err error) error {
	f := classify(err)
	recordFailure(h.metrics, f.body.Code, phase)

	level := slog.LevelWarn
	if f.status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	h.logger.Log(c.Request().Context(), level, "relay failed",
		"err", sanitizeError(err),
		"phase", phase,
		"status", f.status,
		"code", f.body.Code,
		"path", c.Request().URL.Path,
	)

	if c.Response().Committed {
		return nil
	}
	return writeError(c, f)
}

// streamFailed handles an error after the status line was sent: the client
// gets a truncated body and the failure is only logged.
func (h *RelayHandler) streamFailed(c echo.Context, err error) {
	req := c.Request()
	code := classify(err).body.Code
	recordFailure(h.metrics, code, model.PhaseRelaying)

	if errors.Is(err, context.Canceled) || req.Context().Err() != nil {
		h.logAbort(req.URL.Path, err)
		return
	}

	h.logger.Error("streaming response body",
		"err", sanitizeError(err),
		"phase", model.PhaseRelaying,
		"path", req.URL.Path,
	)
}

// logAbort warns about a client disconnect at most once per abortLogInterval,
// with the time since the previous warning.
func (h *RelayHandler) logAbort(path string, err error) {
	prev := h.aborts.Last()
	h.aborts.Do(func() {
		attrs := []any{"path", path, "err", sanitizeError(err)}
		if !prev.IsZero() {
			attrs = append(attrs, "since_last", time.Since(prev).Round(time.Millisecond))
		}
		h.logger.Warn("client aborted stream", attrs...)
	})
}

// phaseOf reports where a Forward error happened.
func phaseOf(err error) model.Phase {
	switch {
	case errors.Is(err, service.ErrMissingHeaders),
		errors.Is(err, service.ErrInvalidTarget),
		errors.Is(err, service.ErrTargetForbidden):
		return model.PhaseValidating
	}
	return model.PhaseForwarding
}
