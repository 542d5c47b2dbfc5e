package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// corsAllowHeaders are always allowed on cross-origin requests; the target
// headers carry the upstream address and credential.
var corsAllowHeaders = []string{
	"authorization",
	"x-client-info",
	"apikey",
	"content-type",
	"accept",
	"x-target-url",
	"x-target-api-key",
	"x-target-base-url",
}

const (
	corsAllowMethods = "GET, POST, PUT, PATCH, DELETE, HEAD, OPTIONS"
	corsMaxAge       = "86400"
)

// CORS returns an Echo middleware that answers every OPTIONS request as a
// preflight with 204 and marks all other responses as readable from any
// origin. Unlike echo's CORS middleware it does not depend on the request
// carrying an Origin header, which native clients omit.
func CORS() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			h := c.Response().Header()
			h.Set(echo.HeaderAccessControlAllowOrigin, "*")

			if req.Method != http.MethodOptions {
				return next(c)
			}

			h.Set(echo.HeaderAccessControlAllowMethods, corsAllowMethods)
			h.Set(echo.HeaderAccessControlAllowHeaders, allowHeaders(req.Header.Values(echo.HeaderAccessControlRequestHeaders)))
			h.Set(echo.HeaderAccessControlMaxAge, corsMaxAge)
			h.Add(echo.HeaderVary, echo.HeaderAccessControlRequestHeaders)
			return c.NoContent(http.StatusNoContent)
		}
	}
}

// allowHeaders merges the fixed allow list with the headers a preflight asks for.
func allowHeaders(requested []string) string {
	seen := make(map[string]bool, len(corsAllowHeaders))
	out := make([]string, 0, len(corsAllowHeaders)+len(requested))
	for _, name := range corsAllowHeaders {
		seen[name] = true
		out = append(out, name)
	}
	for _, v := range requested {
		for _, name := range strings.Split(v, ",") {
			name = strings.ToLower(strings.TrimSpace(name))
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true
			out = append(out, name)
		}
	}
	return strings.Join(out, ", ")
}
