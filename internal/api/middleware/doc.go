// Package middleware provides the HTTP middleware of the kernel debug API.
//
// Middleware stack:
//   - RequestID: X-Request-ID propagation, generated with google/uuid
//   - Logger: one structured log line per request
//   - CORS: cross-origin access for browser dashboards
//   - RateLimit: per-IP token bucket, idle clients are swept
//
// Example Usage:
//
//	router.Use(middleware.RequestID(), middleware.Logger(log))
//	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
//	router.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))
package middleware
