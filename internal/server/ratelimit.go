package server

import (
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"

	"contenthub/internal/observability/metrics"
	"contenthub/internal/ratelimit"
)

// RateLimitConfig controls how the client address used as the rate-limit key
// is resolved. Forwarded headers are ignored unless TrustForwardedHeaders is
// set or the direct peer falls inside TrustedProxies.
type RateLimitConfig struct {
	TrustForwardedHeaders bool
	TrustedProxies        []string
}

type ipSource string

const (
	ipSourceRemoteAddr    ipSource = "remote_addr"
	ipSourceXForwardedFor ipSource = "x_forwarded_for"
	ipSourceXRealIP       ipSource = "x_real_ip"
)

type clientIPResolver struct {
	trustAll bool
	proxies  []netip.Prefix
}

func newClientIPResolver(cfg RateLimitConfig) (*clientIPResolver, error) {
	resolver := &clientIPResolver{trustAll: cfg.TrustForwardedHeaders}
	for _, entry := range cfg.TrustedProxies {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("parse trusted proxy %q: %w", entry, err)
			}
			resolver.proxies = append(resolver.proxies, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("parse trusted proxy %q: %w", entry, err)
		}
		resolver.proxies = append(resolver.proxies, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return resolver, nil
}

// ClientIPFromRequest returns the address a request is attributed to and
// where it came from.
func (c *clientIPResolver) ClientIPFromRequest(r *http.Request) (string, ipSource) {
	remote := clientIP(r.RemoteAddr)
	if !c.trusts(remote) {
		return remote, ipSourceRemoteAddr
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); validIP(ip) {
			return ip, ipSourceXForwardedFor
		}
	}
	if xrip := strings.TrimSpace(r.Header.Get("X-Real-IP")); validIP(xrip) {
		return xrip, ipSourceXRealIP
	}
	return remote, ipSourceRemoteAddr
}

func (c *clientIPResolver) trusts(remote string) bool {
	if c == nil {
		return false
	}
	if c.trustAll {
		return true
	}
	if len(c.proxies) == 0 {
		return false
	}
	addr, err := netip.ParseAddr(remote)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range c.proxies {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

func resolveClientIP(r *http.Request, resolver *clientIPResolver) (string, ipSource) {
	if resolver == nil {
		return clientIP(r.RemoteAddr), ipSourceRemoteAddr
	}
	return resolver.ClientIPFromRequest(r)
}

func validIP(value string) bool {
	_, err := netip.ParseAddr(value)
	return err == nil
}

func clientIP(remoteAddr string) string {
	if remoteAddr == "" {
		return ""
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

// rateLimitMiddleware counts every request against policy. Store failures
// fail closed with 503.
func rateLimitMiddleware(limiter *ratelimit.Limiter, policy ratelimit.Policy, resolver *clientIPResolver, recorder *metrics.Recorder, logger *slog.Logger, next http.Handler) http.Handler {
	if limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, _ := resolveClientIP(r, resolver)
		decision, err := limiter.Allow(r.Context(), policy, ip)
		if err != nil {
			if reqLogger := loggingWithRequest(logger, resolver, r); reqLogger != nil {
				reqLogger.Error("rate limiter failure", "policy", policy.Name, "error", err)
			}
			writeMiddlewareError(w, http.StatusServiceUnavailable, "rate limit failure")
			return
		}
		w.Header().Set("RateLimit-Limit", strconv.Itoa(policy.Limit))
		w.Header().Set("RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		if !decision.Allowed {
			if recorder != nil {
				recorder.ObserveRateLimited(policy.Name)
			}
			if reqLogger := loggingWithRequest(logger, resolver, r); reqLogger != nil {
				reqLogger.Warn("rate limit exceeded", "policy", policy.Name)
			}
			if decision.RetryAfter > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(decision.RetryAfter.Seconds()))))
			}
			writeMiddlewareError(w, http.StatusTooManyRequests, policy.Message)
			return
		}
		next.ServeHTTP(w, r)
	})
}
