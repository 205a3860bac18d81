package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
)

// RateLimit limits requests per IP address to the given number per minute.
// Applied to the mutating control endpoints so a misbehaving dashboard cannot
// trigger a scan storm.
func RateLimit(requestsPerMinute int) func(http.Handler) http.Handler {
	return httprate.LimitByIP(requestsPerMinute, time.Minute)
}
