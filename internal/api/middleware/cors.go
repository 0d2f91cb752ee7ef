package middleware

import (
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// CORSConfig controls which browser origins may call the kernel API.
type CORSConfig struct {
	// AllowOrigins lists exact origins. Empty or containing "*" admits
	// every origin.
	AllowOrigins     []string
	AllowMethods     []string
	AllowHeaders     []string
	ExposeHeaders    []string
	AllowCredentials bool
	MaxAge           time.Duration
}

// dashboardHeaders are the request headers the console dashboard sends.
var dashboardHeaders = []string{
	"Content-Type",
	"Content-Length",
	"Accept",
	"Origin",
	"Cache-Control",
	RequestIDHeader,
}

// DefaultCORSConfig allows any origin to read the API. Nothing is
// credentialed, so no cookies or auth headers are accepted.
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:  slices.Clone(dashboardHeaders),
		ExposeHeaders: []string{RequestIDHeader},
		MaxAge:        12 * time.Hour,
	}
}

// WithOrigins narrows c to the given origins. Blank entries and trailing
// slashes are dropped; an empty result keeps c's origins.
func (c CORSConfig) WithOrigins(origins []string) CORSConfig {
	var kept []string
	for _, o := range origins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o != "" && !slices.Contains(kept, o) {
			kept = append(kept, o)
		}
	}
	if len(kept) > 0 {
		c.AllowOrigins = kept
	}
	return c
}

// ValidOrigin reports whether o can be served by CORS: "*" or an
// http(s) origin with a host and no path.
func ValidOrigin(o string) bool {
	if o == "*" {
		return true
	}
	u, err := url.Parse(strings.TrimRight(o, "/"))
	if err != nil || u.Host == "" || u.Path != "" || u.RawQuery != "" {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

func (c CORSConfig) options() cors.Config {
	opts := cors.Config{
		AllowMethods:     c.AllowMethods,
		AllowHeaders:     c.AllowHeaders,
		ExposeHeaders:    c.ExposeHeaders,
		AllowCredentials: c.AllowCredentials,
		MaxAge:           c.MaxAge,
	}
	if len(c.AllowOrigins) == 0 || slices.Contains(c.AllowOrigins, "*") {
		opts.AllowAllOrigins = true
	} else {
		opts.AllowOrigins = c.AllowOrigins
	}
	return opts
}

// CORS creates a CORS middleware with the provided configuration.
// Origins must satisfy ValidOrigin.
func CORS(cfg CORSConfig) gin.HandlerFunc {
	return cors.New(cfg.options())
}
