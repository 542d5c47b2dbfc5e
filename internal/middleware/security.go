package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// hopByHopHeaders are headers that should not be forwarded by proxies.
var hopByHopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"TE",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// SecurityHeaders returns an Echo middleware that adds security headers
// and strips hop-by-hop headers from incoming requests. Paths listed in
// embeddable are served without X-Frame-Options so they can be framed.
func SecurityHeaders(embeddable ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()

			for _, v := range req.Header.Values("Connection") {
				for _, tok := range strings.Split(v, ",") {
					if tok = strings.TrimSpace(tok); tok != "" {
						req.Header.Del(tok)
					}
				}
			}
			for _, h := range hopByHopHeaders {
				req.Header.Del(h)
			}

			// Set before the handler runs: streamed responses commit their
			// headers long before next returns.
			h := c.Response().Header()
			h.Set("X-Content-Type-Options", "nosniff")
			if !isEmbeddable(req, embeddable) {
				h.Set("X-Frame-Options", "DENY")
			}

			return next(c)
		}
	}
}

func isEmbeddable(req *http.Request, paths []string) bool {
	for _, p := range paths {
		if req.URL.Path == p {
			return true
		}
	}
	return false
}
