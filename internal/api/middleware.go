package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"property-acquisition/internal/logging"
	"property-acquisition/internal/observability"
	"property-acquisition/internal/ratelimit"
)

// RequestIDHeader carries the request id in and out.
const RequestIDHeader = "X-Request-ID"

// proxyHeaders are consulted after X-Forwarded-For, in order, and only
// when the peer is a trusted proxy.
var proxyHeaders = []string{"X-Real-IP", "X-Originating-IP", "CF-Connecting-IP", "True-Client-IP"}

// requestLogger attaches a request-scoped logger to the context and logs
// each request once it finished.
func requestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get(RequestIDHeader)
			if _, err := uuid.Parse(requestID); err != nil {
				requestID = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, requestID)

			logger := base.With("request_id", requestID)
			ctx := logging.WithContext(r.Context(), logger)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r.WithContext(ctx))

			logger.Info("request finished",
				"method", r.Method,
				"path", r.URL.Path,
				"client", callerFrom(r).addr,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

// admit applies the guard for endpoint. Exactly one quota governs a request.
func admit(guard *ratelimit.Guard, endpoint, permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if guard == nil {
				next.ServeHTTP(w, r)
				return
			}
			c := callerFrom(r)
			client := c.addr
			admitFn := guard.Admit
			if c.forwarded {
				admitFn = guard.AdmitForwarded
			}
			d, err := admitFn(client, apiKey(r), endpoint, permission)
			if err != nil {
				rejectAdmission(w, r, client, endpoint, err)
				return
			}
			observability.RecordAdmission(string(d.Path), "allowed")
			if d.Path != ratelimit.PathExempt {
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
				w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
				w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.Reset.Unix(), 10))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func rejectAdmission(w http.ResponseWriter, r *http.Request, client, endpoint string, err error) {
	logger := logging.FromContext(r.Context())

	var quota *ratelimit.QuotaError
	switch {
	case errors.As(err, &quota):
		path := ratelimit.PathIP
		if quota.KeyBased {
			path = ratelimit.PathKey
		}
		observability.RecordAdmission(string(path), "rate_limited")
		logger.Warn("rate limit exceeded", "client", client, "endpoint", endpoint, "limit", quota.Limit)
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(quota.Limit))
		w.Header().Set("X-RateLimit-Remaining", "0")
		writeRetryError(w, err.Error(), quota.RetryAfter)
	case errors.Is(err, ratelimit.ErrInvalidKey):
		observability.RecordAdmission(string(ratelimit.PathKey), "invalid_key")
		writeError(w, http.StatusUnauthorized, "invalid api key")
	case errors.Is(err, ratelimit.ErrPermissionDenied):
		observability.RecordAdmission(string(ratelimit.PathKey), "forbidden")
		writeError(w, http.StatusForbidden, "api key lacks permission for "+endpoint)
	default:
		logger.Error("admission failed", "error", err)
		writeError(w, http.StatusInternalServerError, "admission failed")
	}
}

// caller is the resolved client address of a request.
type caller struct {
	addr string
	// forwarded is set when addr came from a proxy header rather than
	// the connection peer.
	forwarded bool
}

type callerKey struct{}

// ParseTrustedProxies parses addresses and CIDR prefixes of the proxies
// whose forwarding headers are believed.
func ParseTrustedProxies(entries []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(entries))
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if strings.Contains(e, "/") {
			p, err := netip.ParsePrefix(e)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", e, err)
			}
			out = append(out, p.Masked())
			continue
		}
		a, err := netip.ParseAddr(e)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", e, err)
		}
		a = a.Unmap()
		out = append(out, netip.PrefixFrom(a, a.BitLen()))
	}
	return out, nil
}

// resolveClient stores the caller of each request in its context.
func resolveClient(trusted []netip.Prefix) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c := resolveCaller(r, trusted)
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey{}, c)))
		})
	}
}

func callerFrom(r *http.Request) caller {
	if c, ok := r.Context().Value(callerKey{}).(caller); ok {
		return c
	}
	return resolveCaller(r, nil)
}

// resolveCaller returns the connection peer unless the peer is a trusted
// proxy, in which case the forwarding headers name the client.
// X-Forwarded-For is walked from the right, skipping trusted hops.
func resolveCaller(r *http.Request, trusted []netip.Prefix) caller {
	peer := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		peer = host
	}
	if peer == "" {
		peer = "127.0.0.1"
	}
	if !isTrusted(peer, trusted) {
		return caller{addr: peer}
	}

	if xff := r.Header.Values("X-Forwarded-For"); len(xff) > 0 {
		hops := strings.Split(strings.Join(xff, ","), ",")
		var leftmost string
		for i := len(hops) - 1; i >= 0; i-- {
			a, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
			if err != nil {
				break
			}
			leftmost = a.Unmap().String()
			if !isTrusted(leftmost, trusted) {
				return caller{addr: leftmost, forwarded: true}
			}
		}
		if leftmost != "" {
			return caller{addr: leftmost, forwarded: true}
		}
	}
	for _, h := range proxyHeaders {
		if a, err := netip.ParseAddr(strings.TrimSpace(r.Header.Get(h))); err == nil {
			return caller{addr: a.Unmap().String(), forwarded: true}
		}
	}
	return caller{addr: peer}
}

func isTrusted(addr string, trusted []netip.Prefix) bool {
	if len(trusted) == 0 {
		return false
	}
	a, err := netip.ParseAddr(addr)
	if err != nil {
		return false
	}
	a = a.Unmap()
	for _, p := range trusted {
		if p.Contains(a) {
			return true
		}
	}
	return false
}

// apiKey reads the key from Authorization: Bearer, X-API-Key or ?api_key.
func apiKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	return r.URL.Query().Get("api_key")
}
