package service

import (
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"chat-relay/internal/model"
)

// Request headers carrying the upstream target.
const (
	HeaderTargetURL     = "X-Target-Url"
	HeaderTargetAPIKey  = "X-Target-Api-Key"
	HeaderTargetBaseURL = "X-Target-Base-Url"
)

// QueryTargetURL is the query parameter carrying the upstream URL for the HTML relay.
const QueryTargetURL = "url"

// versionSegment matches API version path segments such as v1, v4 or v1beta.
var versionSegment = regexp.MustCompile(`(?i)^v\d+[a-z0-9]*$`)

// ResolveAPITarget reads the upstream URL and credential for the API relay.
// x-target-url (direct-URL mode) wins over x-target-base-url (base-URL mode).
func ResolveAPITarget(header http.Header, version, suffix string) (*model.Target, error) {
	credential := parseCredential(header.Get(HeaderTargetAPIKey))

	var (
		u   *url.URL
		err error
	)
	switch {
	case strings.TrimSpace(header.Get(HeaderTargetURL)) != "":
		u, err = parseTargetURL(header.Get(HeaderTargetURL), HeaderTargetURL)
	case strings.TrimSpace(header.Get(HeaderTargetBaseURL)) != "":
		var normalized string
		normalized, err = NormalizeBaseURL(header.Get(HeaderTargetBaseURL), version, suffix)
		if err == nil {
			u, err = parseTargetURL(normalized, HeaderTargetBaseURL)
		}
	default:
		return nil, fmt.Errorf("%w: %s or %s is required", ErrMissingHeaders,
			strings.ToLower(HeaderTargetURL), strings.ToLower(HeaderTargetBaseURL))
	}
	if err != nil {
		return nil, err
	}

	if credential == "" {
		return nil, fmt.Errorf("%w: %s is required", ErrMissingHeaders, strings.ToLower(HeaderTargetAPIKey))
	}

	return &model.Target{URL: u, Credential: credential}, nil
}

// ResolveFetchTarget reads the upstream URL for the HTML relay from the ?url=
// query parameter, falling back to x-target-url. The credential is optional.
func ResolveFetchTarget(query url.Values, header http.Header) (*model.Target, error) {
	raw, source := query.Get(QueryTargetURL), "url parameter"
	if strings.TrimSpace(raw) == "" {
		raw, source = header.Get(HeaderTargetURL), strings.ToLower(HeaderTargetURL)
	}
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("%w: url parameter or %s is required", ErrMissingHeaders, strings.ToLower(HeaderTargetURL))
	}

	u, err := parseTargetURL(raw, source)
	if err != nil {
		return nil, err
	}
	return &model.Target{URL: u, Credential: parseCredential(header.Get(HeaderTargetAPIKey))}, nil
}

// NormalizeBaseURL completes an API base URL into a full endpoint URL:
// trailing slashes are trimmed, /<version> is appended when the path does not
// already end in a version segment, then suffix is appended. A base that
// already ends in suffix is returned as is.
func NormalizeBaseURL(base, version, suffix string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", fmt.Errorf("%w: %s is not a valid URL", ErrInvalidTarget, strings.ToLower(HeaderTargetBaseURL))
	}

	p := strings.TrimRight(u.Path, "/")
	if !strings.HasSuffix(p, suffix) {
		last := p[strings.LastIndex(p, "/")+1:]
		if !versionSegment.MatchString(last) {
			p += "/" + version
		}
		p += suffix
	}

	u.Path = p
	u.RawPath = ""
	return u.String(), nil
}

func parseTargetURL(raw, source string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %s is not a valid URL", ErrInvalidTarget, source)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %s must be an absolute http or https URL", ErrInvalidTarget, source)
	}
	return u, nil
}

// parseCredential accepts a bare key or one already prefixed with "Bearer ".
func parseCredential(raw string) string {
	v := strings.TrimSpace(raw)
	if len(v) > 7 && strings.EqualFold(v[:7], "bearer ") {
		v = strings.TrimSpace(v[7:])
	}
	return v
}

// matchHost reports whether host matches pattern, which is either an exact
// host name or a "*.example.com" wildcard.
func matchHost(pattern, host string) bool {
	p := strings.ToLower(strings.TrimSpace(pattern))
	h := strings.ToLower(strings.TrimSpace(host))
	if p == "" || h == "" {
		return false
	}
	if strings.HasPrefix(p, "*.") {
		return strings.HasSuffix(h, p[1:])
	}
	return p == h
}
