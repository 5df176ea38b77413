package gateway

import (
	"crypto/subtle"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/deskline/deskline/internal/config"
)

// AuthResult is the outcome of an authentication attempt.
type AuthResult struct {
	OK     bool   `json:"ok"`
	Method string `json:"method,omitempty"` // "none" | "bearer" | "query"
	Reason string `json:"reason,omitempty"`
}

// ResolvedAuth holds the resolved auth configuration for the gateway.
type ResolvedAuth struct {
	Token string
}

// Enabled reports whether requests must carry a token.
func (a ResolvedAuth) Enabled() bool { return a.Token != "" }

// ResolveAuth resolves the gateway token from config and environment.
// Precedence: config value → env variable → empty (auth disabled).
func ResolveAuth(cfg config.GatewayAuth) ResolvedAuth {
	auth := ResolvedAuth{Token: cfg.Token}
	if auth.Token == "" {
		auth.Token = os.Getenv("DESKLINE_GATEWAY_TOKEN")
	}
	return auth
}

// Authorize checks the request's credentials against the resolved server
// auth. Browsers cannot set headers on WebSocket upgrades, so the token is
// also accepted as the "token" query parameter.
func Authorize(serverAuth ResolvedAuth, r *http.Request) AuthResult {
	if !serverAuth.Enabled() {
		return AuthResult{OK: true, Method: "none"}
	}

	token, method := "", ""
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, value, ok := strings.Cut(h, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			return AuthResult{OK: false, Reason: "unsupported authorization scheme"}
		}
		token, method = strings.TrimSpace(value), "bearer"
	} else if q := r.URL.Query().Get("token"); q != "" {
		token, method = q, "query"
	}

	if token == "" {
		return AuthResult{OK: false, Reason: "token required"}
	}
	if !safeEqual(token, serverAuth.Token) {
		return AuthResult{OK: false, Reason: "token_mismatch"}
	}
	return AuthResult{OK: true, Method: method}
}

// requireAuth wraps h with token auth and per-IP failure rate limiting.
func (s *Server) requireAuth(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.auth.Enabled() {
			h(w, r)
			return
		}
		if !s.authLimiter.allow(r.RemoteAddr) {
			s.log.Warn().Str("remote", r.RemoteAddr).Msg("rate limited: too many failed auth attempts")
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		res := Authorize(s.auth, r)
		if !res.OK {
			s.authLimiter.recordFailure(r.RemoteAddr)
			s.log.Warn().Str("remote", r.RemoteAddr).Str("reason", res.Reason).Msg("unauthorized request")
			w.Header().Set("WWW-Authenticate", `Bearer realm="deskline"`)
			writeError(w, http.StatusUnauthorized, res.Reason)
			return
		}
		h(w, r)
	}
}

// safeEqual performs a constant-time string comparison to prevent timing attacks.
// It avoids early-return on length mismatch to prevent leaking secret length via timing.
func safeEqual(a, b string) bool {
	lenMatch := subtle.ConstantTimeEq(int32(len(a)), int32(len(b)))
	cmp := subtle.ConstantTimeCompare([]byte(a), []byte(b))
	return subtle.ConstantTimeSelect(lenMatch, cmp, 0) == 1
}

// authRateLimiter tracks failed auth attempts per IP to prevent brute-force attacks.
type authRateLimiter struct {
	mu       sync.Mutex
	failures map[string][]time.Time
	stop     chan struct{}
	once     sync.Once
}

const (
	authRateWindow   = 5 * time.Minute
	authRateMaxFails = 10
	authRateMaxIPs   = 10000 // max tracked IPs to prevent memory exhaustion
)

func newAuthRateLimiter() *authRateLimiter {
	rl := &authRateLimiter{failures: make(map[string][]time.Time), stop: make(chan struct{})}
	go rl.periodicCleanup()
	return rl
}

// periodicCleanup removes stale entries every minute until close.
func (l *authRateLimiter) periodicCleanup() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
		}
		l.mu.Lock()
		cutoff := time.Now().Add(-authRateWindow)
		for ip, times := range l.failures {
			if kept := recentSince(times, cutoff); len(kept) == 0 {
				delete(l.failures, ip)
			} else {
				l.failures[ip] = kept
			}
		}
		l.mu.Unlock()
	}
}

func (l *authRateLimiter) close() {
	l.once.Do(func() { close(l.stop) })
}

func recentSince(times []time.Time, cutoff time.Time) []time.Time {
	filtered := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			filtered = append(filtered, t)
		}
	}
	return filtered
}

func hostOf(remoteAddr string) string {
	host, _, _ := net.SplitHostPort(remoteAddr)
	if host == "" {
		host = remoteAddr
	}
	return host
}

func (l *authRateLimiter) allow(remoteAddr string) bool {
	host := hostOf(remoteAddr)

	l.mu.Lock()
	defer l.mu.Unlock()

	filtered := recentSince(l.failures[host], time.Now().Add(-authRateWindow))
	if len(filtered) == 0 {
		delete(l.failures, host)
		return true
	}
	l.failures[host] = filtered
	return len(filtered) < authRateMaxFails
}

func (l *authRateLimiter) recordFailure(remoteAddr string) {
	host := hostOf(remoteAddr)

	l.mu.Lock()
	defer l.mu.Unlock()

	// Enforce max entries cap to prevent memory exhaustion from DDoS
	if _, exists := l.failures[host]; !exists && len(l.failures) >= authRateMaxIPs {
		var oldestIP string
		var oldestTime time.Time
		for ip, times := range l.failures {
			if len(times) > 0 && (oldestIP == "" || times[0].Before(oldestTime)) {
				oldestIP = ip
				oldestTime = times[0]
			}
		}
		if oldestIP != "" {
			delete(l.failures, oldestIP)
		}
	}

	l.failures[host] = append(l.failures[host], time.Now())
}
