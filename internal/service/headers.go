package service

import (
	"net/http"
	"strings"

	"chat-relay/internal/model"
)

// hopByHopHeaders are connection-scoped and never forwarded in either direction.
var hopByHopHeaders = map[string]bool{
	"Connection":          true,
	"Proxy-Connection":    true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

// droppedRequestHeaders are inbound headers replaced or withheld from the upstream.
var droppedRequestHeaders = map[string]bool{
	"Host":              true,
	"Accept-Encoding":   true,
	"Content-Length":    true,
	"Authorization":     true,
	HeaderTargetURL:     true,
	HeaderTargetAPIKey:  true,
	HeaderTargetBaseURL: true,
	"Forwarded":         true,
	"X-Real-Ip":         true,
	"X-Client-Ip":       true,
	"True-Client-Ip":    true,
	"Cdn-Loop":          true,
	"X-Request-Id":      true,
}

// droppedRequestPrefixes cover client-IP and edge headers injected by proxies and CDNs.
var droppedRequestPrefixes = []string{"X-Forwarded-", "Cf-"}

// droppedResponseHeaders never reach the client.
var droppedResponseHeaders = map[string]bool{
	"Content-Encoding":    true,
	"Content-Disposition": true,
}

// frameHeaders stop a fetched page from rendering inside an embedding view.
var frameHeaders = map[string]bool{
	"X-Frame-Options":                     true,
	"Content-Security-Policy":             true,
	"Content-Security-Policy-Report-Only": true,
}

// buildRequestHeaders returns a fresh header set for the outbound request.
// The inbound header map is only read.
func (s *RelayService) buildRequestHeaders(src http.Header, target *model.Target, variant model.Variant) http.Header {
	connTokens := connectionTokens(src)

	dst := make(http.Header, len(src)+4)
	for key, vals := range src {
		ck := http.CanonicalHeaderKey(key)
		if hopByHopHeaders[ck] || droppedRequestHeaders[ck] || connTokens[ck] || hasAnyPrefix(ck, droppedRequestPrefixes) {
			continue
		}
		if variant == model.VariantHTML && (ck == "Origin" || ck == "Referer") {
			continue
		}
		dst[ck] = append([]string(nil), vals...)
	}

	if target.Credential != "" {
		dst.Set("Authorization", "Bearer "+target.Credential)
	}
	dst.Set("Host", target.URL.Host)

	userAgent := s.cfg.Relay.UserAgent
	if variant == model.VariantHTML {
		origin := target.Origin()
		dst.Set("Referer", origin+"/")
		dst.Set("Origin", origin)
		userAgent = s.cfg.Fetch.UserAgent
	}
	if dst.Get("User-Agent") == "" && userAgent != "" {
		dst.Set("User-Agent", userAgent)
	}

	return dst
}

// filterResponseHeaders returns a copy of src without the headers the relay
// must not pass on. stripFrame also removes framing/CSP headers.
func filterResponseHeaders(src http.Header, stripFrame bool) http.Header {
	connTokens := connectionTokens(src)

	dst := make(http.Header, len(src))
	for key, vals := range src {
		ck := http.CanonicalHeaderKey(key)
		if hopByHopHeaders[ck] || droppedResponseHeaders[ck] || connTokens[ck] {
			continue
		}
		if strings.HasPrefix(ck, "Access-Control-") {
			continue
		}
		if stripFrame && frameHeaders[ck] {
			continue
		}
		dst[ck] = vals
	}
	return dst
}

// connectionTokens returns the header names listed in Connection, which are
// hop-by-hop for this message.
func connectionTokens(h http.Header) map[string]bool {
	vals := h.Values("Connection")
	if len(vals) == 0 {
		return nil
	}
	tokens := make(map[string]bool)
	for _, v := range vals {
		for _, tok := range strings.Split(v, ",") {
			if tok = strings.TrimSpace(tok); tok != "" {
				tokens[http.CanonicalHeaderKey(tok)] = true
			}
		}
	}
	return tokens
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
