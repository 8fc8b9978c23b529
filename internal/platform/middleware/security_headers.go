package middleware

import (
	"github.com/labstack/echo/v4"
)

// SecurityHeaders sets security response headers on every request. Responses
// here carry PHI and signed capability tokens (including QR images of them),
// so nothing may be cached, indexed or embedded.
func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()

			// Prevent MIME type sniffing
			h.Set("X-Content-Type-Options", "nosniff")

			// A QR image framed by a hostile page could be scanned out of
			// context; deny all embedding.
			h.Set("X-Frame-Options", "DENY")

			// Disable browser XSS filter — modern best practice is to rely
			// on Content-Security-Policy instead of the legacy filter.
			h.Set("X-XSS-Protection", "0")

			// Strict CSP: the API serves JSON and standalone QR images,
			// neither of which loads subresources.
			h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")

			// HTTP Strict Transport Security — 1 year including subdomains.
			h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")

			// Do not send Referer header to downstream services.
			h.Set("Referrer-Policy", "no-referrer")

			// Disable browser features that an API does not need.
			h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")

			// A cached response could replay a capability token or PHI to
			// the wrong party; no-store covers HTTP/1.1, Pragma covers
			// legacy intermediaries.
			h.Set("Cache-Control", "no-store")
			h.Set("Pragma", "no-cache")

			// Token and QR endpoints must never appear in search indexes.
			h.Set("X-Robots-Tag", "noindex, nofollow")

			return next(c)
		}
	}
}
