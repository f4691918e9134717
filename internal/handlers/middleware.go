package handlers

import (
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/markjakearzadon/assetvault-gobackend/internal/auth"
	"github.com/markjakearzadon/assetvault-gobackend/internal/models"
)

// Authenticator turns a bearer token into an auth.Identity on the request
// context.
type Authenticator struct {
	tokens *auth.Tokens
}

func NewAuthenticator(tokens *auth.Tokens) *Authenticator {
	return &Authenticator{tokens: tokens}
}

func (a *Authenticator) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			writeMessage(w, http.StatusUnauthorized, "Authorization header required")
			return
		}
		parts := strings.Fields(header)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			writeMessage(w, http.StatusUnauthorized, "invalid authorization header")
			return
		}
		id, err := a.tokens.Parse(parts[1])
		if err != nil {
			writeMessage(w, http.StatusUnauthorized, "Invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
	})
}

// RequireAdmin authenticates the request and then requires the admin role.
func (a *Authenticator) RequireAdmin(next http.Handler) http.Handler {
	return a.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, _ := auth.FromContext(r.Context())
		if id.Role != models.RoleAdmin {
			writeMessage(w, http.StatusForbidden, "admin role required")
			return
		}
		next.ServeHTTP(w, r)
	}))
}

func identity(r *http.Request) *auth.Identity {
	id, ok := auth.FromContext(r.Context())
	if !ok {
		return &auth.Identity{}
	}
	return id
}

type ipLimiter struct {
	limiter *rate.Limiter
	last    time.Time
}

// RateLimiter throttles requests per client IP.
type RateLimiter struct {
	rps     rate.Limit
	burst   int
	proxies TrustedProxies

	mu        sync.Mutex
	clients   map[string]*ipLimiter
	lastSweep time.Time
	now       func() time.Time
}

const limiterIdle = 30 * time.Minute

// NewRateLimiter keys clients by peer address, or by X-Forwarded-For when
// the peer is one of proxies.
func NewRateLimiter(rps float64, burst int, proxies TrustedProxies) *RateLimiter {
	return &RateLimiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		proxies: proxies,
		clients: make(map[string]*ipLimiter),
		now:     time.Now,
	}
}

func (l *RateLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) > 5*time.Minute {
		for k, c := range l.clients {
			if now.Sub(c.last) > limiterIdle {
				delete(l.clients, k)
			}
		}
		l.lastSweep = now
	}

	c, ok := l.clients[ip]
	if !ok {
		c = &ipLimiter{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.clients[ip] = c
	}
	c.last = now
	return c.limiter.AllowN(now, 1)
}

func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.allow(l.proxies.ClientIP(r)) {
			writeMessage(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// remoteIP is the address of the connected peer.
func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// TrustedProxies lists the reverse proxies allowed to report the client
// address in X-Forwarded-For.
type TrustedProxies []netip.Prefix

func (t TrustedProxies) trusts(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range t {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// ClientIP returns the peer address unless the peer is a trusted proxy. In
// that case X-Forwarded-For is read right to left and the first hop that is
// not itself a trusted proxy is the client.
func (t TrustedProxies) ClientIP(r *http.Request) string {
	peer := remoteIP(r)
	if !t.trusts(peer) {
		return peer
	}
	hops := strings.Split(strings.Join(r.Header.Values("X-Forwarded-For"), ","), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" {
			continue
		}
		if !t.trusts(hop) {
			return hop
		}
		peer = hop
	}
	return peer
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// RequestLogger logs one line per request.
func RequestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			log.Info("HTTP request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration", time.Since(start),
				"remote_ip", remoteIP(r),
			)
		})
	}
}
