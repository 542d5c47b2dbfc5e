// Package service implements the core relay forwarding logic.
package service

import (
	"errors"
	"fmt"
	"log/slog"

	"chat-relay/internal/client"
	"chat-relay/internal/config"
	"chat-relay/internal/htmlinject"
	"chat-relay/internal/model"
)

var (
	// ErrMissingHeaders is returned when the target location or credential is absent.
	ErrMissingHeaders = errors.New("missing target headers")
	// ErrInvalidTarget is returned when a supplied target URL cannot be used.
	ErrInvalidTarget = errors.New("invalid target URL")
	// ErrTargetForbidden is returned when the target host is not in upstream.allowed_hosts.
	ErrTargetForbidden = errors.New("target host not allowed")
	// ErrRequestBody wraps failures reading the client's request body.
	ErrRequestBody = errors.New("read request body")
	// ErrUpstreamEncoding is returned when an encoded upstream body cannot be decoded.
	ErrUpstreamEncoding = errors.New("decode upstream body")
)

// RelayService resolves targets, rewrites requests and prepares upstream
// responses for streaming back to the client.
type RelayService struct {
	client *client.UpstreamClient
	cfg    *config.Config
	logger *slog.Logger
}

// NewRelayService creates a RelayService.
func NewRelayService(c *client.UpstreamClient, cfg *config.Config, logger *slog.Logger) *RelayService {
	return &RelayService{
		client: c,
		cfg:    cfg,
		logger: logger.With("component", "relay_service"),
	}
}

// Forward sends a ProxyRequest to the upstream it names and returns the
// response ready to relay. The caller is responsible for closing the response
// body.
func (s *RelayService) Forward(pr *model.ProxyRequest) (*model.ProxyResponse, error) {
	target, err := s.resolveTarget(pr)
	if err != nil {
		return nil, err
	}
	if !s.hostAllowed(target.URL.Hostname()) {
		return nil, fmt.Errorf("%w: %s", ErrTargetForbidden, target.URL.Hostname())
	}

	header := s.buildRequestHeaders(pr.Header, target, pr.Variant)
	body := requestBody(pr.Method, pr.Body)

	s.logger.Debug("forwarding request",
		"variant", pr.Variant,
		"method", pr.Method,
		"host", target.URL.Host,
		"path", target.URL.Path,
	)

	resp, err := s.client.DoStream(pr.Ctx, pr.Method, target.URL, header, body, pr.ContentLength)
	if err != nil {
		return nil, fmt.Errorf("forward to upstream: %w", err)
	}

	s.prepareResponse(pr, resp)
	return resp, nil
}

func (s *RelayService) resolveTarget(pr *model.ProxyRequest) (*model.Target, error) {
	if pr.Variant == model.VariantHTML {
		return ResolveFetchTarget(pr.Query, pr.Header)
	}
	return ResolveAPITarget(pr.Header, s.cfg.Relay.APIVersion, s.cfg.Relay.ChatPath)
}

// hostAllowed checks host against upstream.allowed_hosts; an empty list allows any host.
func (s *RelayService) hostAllowed(host string) bool {
	if len(s.cfg.Upstream.AllowedHosts) == 0 {
		return true
	}
	for _, pattern := range s.cfg.Upstream.AllowedHosts {
		if matchHost(pattern, host) {
			return true
		}
	}
	return false
}

// prepareResponse filters headers and wraps the body so it can be relayed
// verbatim: encodings are undone (the content-encoding header is always
// dropped) and, for the HTML relay, pages get a <base> element.
func (s *RelayService) prepareResponse(pr *model.ProxyRequest, resp *model.ProxyResponse) {
	html := pr.Variant == model.VariantHTML
	header := filterResponseHeaders(resp.Header, html && !s.cfg.Fetch.KeepFrameHeaders)
	withBody := bodyAllowed(pr.Method, resp.StatusCode)

	if enc := resp.Header.Get("Content-Encoding"); enc != "" && enc != "identity" {
		header.Del("Content-Length")
		if withBody && resp.ContentLength != 0 {
			body, decoded := decodeBody(enc, resp.Body)
			if !decoded {
				s.logger.Warn("relaying body with unsupported content-encoding",
					"encoding", enc,
					"host", resp.FinalURL.Host,
				)
			}
			resp.Body = body
		}
	}

	if html {
		if header.Get("Content-Type") == "" {
			header.Set("Content-Type", contentTypeForPath(resp.FinalURL.Path))
		}
		if withBody && isHTML(header.Get("Content-Type")) {
			resp.Body = htmlinject.NewReader(resp.Body, resp.FinalURL.String())
			header.Del("Content-Length")
		}
	}

	resp.Header = header
}

