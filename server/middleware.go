package server

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

// authConfig holds admin credentials loaded from the environment. Auth is
// enabled when either a username/password pair or a token is configured.
type authConfig struct {
	adminUsername string
	adminPassword string
	adminToken    string
	enabled       bool
}

func loadAuthConfig() *authConfig {
	username := os.Getenv("ADMIN_USERNAME")
	password := os.Getenv("ADMIN_PASSWORD")
	token := os.Getenv("ADMIN_TOKEN")

	enabled := (username != "" && password != "") || token != ""
	if !enabled {
		slog.Warn("admin auth not configured, session mutation endpoints are unprotected. Set ADMIN_USERNAME+ADMIN_PASSWORD or ADMIN_TOKEN for production")
	}

	return &authConfig{
		adminUsername: username,
		adminPassword: password,
		adminToken:    token,
		enabled:       enabled,
	}
}

// authorize reports whether r carries valid admin credentials, via the
// X-Admin-Token header or Basic Auth. Comparisons are constant time.
func (c *authConfig) authorize(r *http.Request) bool {
	if !c.enabled {
		return true
	}
	if c.adminToken != "" {
		if token := r.Header.Get("X-Admin-Token"); token != "" &&
			subtle.ConstantTimeCompare([]byte(token), []byte(c.adminToken)) == 1 {
			return true
		}
	}
	if c.adminUsername != "" && c.adminPassword != "" {
		if username, password, ok := r.BasicAuth(); ok {
			userMatch := subtle.ConstantTimeCompare([]byte(username), []byte(c.adminUsername)) == 1
			passMatch := subtle.ConstantTimeCompare([]byte(password), []byte(c.adminPassword)) == 1
			if userMatch && passMatch {
				return true
			}
		}
	}
	return false
}

// sessionMutationAuth guards the state-changing session methods (DELETE and
// PATCH) with admin credentials. Reads, the event stream and position reports
// stay open: they are the player's normal traffic.
func sessionMutationAuth(next http.Handler, cfg *authConfig) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete && r.Method != http.MethodPatch {
			next.ServeHTTP(w, r)
			return
		}
		if cfg.authorize(r) {
			next.ServeHTTP(w, r)
			return
		}
		slog.Warn("session mutation rejected, invalid admin credentials",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("remote_addr", r.RemoteAddr))
		w.Header().Set("WWW-Authenticate", `Basic realm="lekker-chat admin"`)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	})
}

// rateLimiterConfig holds rate limiting configuration.
type rateLimiterConfig struct {
	enabled       bool
	requestsPerIP int
	window        time.Duration
}

func loadRateLimiterConfig() *rateLimiterConfig {
	cfg := &rateLimiterConfig{
		enabled:       os.Getenv("RATE_LIMIT_ENABLED") != "0",
		requestsPerIP: 10,
		window:        time.Minute,
	}
	if v := os.Getenv("RATE_LIMIT_REQUESTS_PER_IP"); v != "" {
		if n := parseEnvInt(v, cfg.requestsPerIP); n > 0 {
			cfg.requestsPerIP = n
		}
	}
	if v := os.Getenv("RATE_LIMIT_WINDOW_SECONDS"); v != "" {
		if n := parseEnvInt(v, 60); n > 0 {
			cfg.window = time.Duration(n) * time.Second
		}
	}
	return cfg
}

// ipRateLimiter is a sliding window rate limiter keyed by client IP.
type ipRateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	cfg      *rateLimiterConfig
}

type visitor struct {
	requests []time.Time
	lastSeen time.Time
}

func newIPRateLimiter(ctx context.Context, cfg *rateLimiterConfig) *ipRateLimiter {
	rl := &ipRateLimiter{
		visitors: make(map[string]*visitor),
		cfg:      cfg,
	}
	go rl.cleanupLoop(ctx)
	return rl
}

func (rl *ipRateLimiter) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-ctx.Done():
			return
		}
	}
}

// cleanup drops visitors idle for more than two windows.
func (rl *ipRateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := time.Now()
	for ip, v := range rl.visitors {
		if now.Sub(v.lastSeen) > rl.cfg.window*2 {
			delete(rl.visitors, ip)
		}
	}
}

// allow records a request from ip and reports whether it fits the window.
func (rl *ipRateLimiter) allow(ip string) bool {
	if !rl.cfg.enabled {
		return true
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	v, ok := rl.visitors[ip]
	if !ok {
		rl.visitors[ip] = &visitor{requests: []time.Time{now}, lastSeen: now}
		return true
	}

	cutoff := now.Add(-rl.cfg.window)
	kept := v.requests[:0]
	for _, t := range v.requests {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	v.requests = kept
	v.lastSeen = now

	if len(v.requests) >= rl.cfg.requestsPerIP {
		return false
	}
	v.requests = append(v.requests, now)
	return true
}

// rateLimit caps how fast one client can hit the wrapped handler. Session
// creation loads a full chat log and spins up a sampling loop per request,
// so it is the endpoint worth throttling.
func rateLimit(next http.Handler, limiter *ipRateLimiter) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !limiter.allow(ip) {
			slog.Warn("rate limit exceeded",
				slog.String("ip", ip),
				slog.String("path", r.URL.Path))
			w.Header().Set("Retry-After", "60")
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP extracts the client address, preferring the first entry of
// X-Forwarded-For when a proxy sits in front.
func clientIP(r *http.Request) string {
	ip := r.RemoteAddr
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		if idx := strings.Index(forwarded, ","); idx >= 0 {
			ip = strings.TrimSpace(forwarded[:idx])
		} else {
			ip = strings.TrimSpace(forwarded)
		}
	}
	if idx := strings.LastIndex(ip, ":"); idx >= 0 {
		ip = ip[:idx]
	}
	return ip
}

// parseEnvInt parses s as an int, falling back to def on error.
func parseEnvInt(s string, def int) int {
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
		return def
	}
	return n
}

// withCORS applies a permissive CORS policy for development. Set
// CORS_ALLOWED_ORIGINS to a comma separated list to restrict origins in
// production.
func withCORS(next http.Handler) http.Handler {
	allowed := map[string]struct{}{}
	for _, o := range strings.Split(os.Getenv("CORS_ALLOWED_ORIGINS"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			allowed[o] = struct{}{}
		}
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		switch {
		case len(allowed) == 0:
			w.Header().Set("Access-Control-Allow-Origin", "*")
		default:
			if _, ok := allowed[origin]; ok {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
			}
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Admin-Token, X-Correlation-ID")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
