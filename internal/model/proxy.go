// Package model defines shared types for the relay.
package model

import (
	"context"
	"io"
	"net/http"
	"net/url"
)

// Variant selects which relay surface is handling a request.
type Variant string

const (
	// VariantAPI forwards JSON/SSE calls to an AI API with a bearer credential.
	VariantAPI Variant = "api"
	// VariantHTML fetches arbitrary pages for rendering in an embedding view.
	VariantHTML Variant = "html"
)

// Phase names the step of a request's lifecycle where it failed.
type Phase string

const (
	PhaseValidating Phase = "validating"
	PhaseForwarding Phase = "forwarding"
	PhaseRelaying   Phase = "relaying"
)

// Target is the resolved upstream address and credential for one request.
// It is derived from inbound headers or query parameters and never stored.
type Target struct {
	URL        *url.URL
	Credential string
}

// Origin returns scheme://host of the target.
func (t *Target) Origin() string {
	return t.URL.Scheme + "://" + t.URL.Host
}

// ProxyRequest represents a client request to be forwarded upstream.
type ProxyRequest struct {
	Ctx           context.Context
	Variant       Variant
	Method        string
	Query         url.Values
	Header        http.Header
	Body          io.ReadCloser
	ContentLength int64
}

// ProxyResponse represents the upstream response to be streamed back.
type ProxyResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
	// ContentLength is the upstream body length, or -1 when unknown.
	ContentLength int64
	// FinalURL is the upstream URL after redirects were followed.
	FinalURL *url.URL
}
