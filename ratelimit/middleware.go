package ratelimit

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// ClientID resolves the client identity for admission checks: the first
// address in X-Forwarded-For when present, else the direct peer address.
// A spoofed header can defeat the limiter; the service trusts its fronting
// proxy to set the header honestly.
func ClientID(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first := fwd
		if i := strings.Index(fwd, ","); i >= 0 {
			first = fwd[:i]
		}
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Middleware rejects over-limit requests with 429 and a Retry-After header.
// Rejections are part of normal operation and are not logged as errors.
func Middleware(gate *Gate) gin.HandlerFunc {
	return func(c *gin.Context) {
		decision := gate.Admit(ClientID(c.Request), time.Now())
		if !decision.Allowed {
			c.Header("Retry-After", strconv.Itoa(decision.RetryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate limit exceeded",
				"retry_after": decision.RetryAfter,
			})
			return
		}
		c.Next()
	}
}
