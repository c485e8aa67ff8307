package compatapi

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"novastream/config"
	"novastream/internal/store"
)

type contextKey string

const (
	ctxKeyToken    contextKey = "compatapi_token"
	ctxKeyClientIP contextKey = "compatapi_client_ip"
)

// tokenFromContext returns the validated token mounted into this request's
// path, set by authMiddleware.
func tokenFromContext(ctx context.Context) string {
	t, _ := ctx.Value(ctxKeyToken).(string)
	return t
}

func clientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(ctxKeyClientIP).(string)
	return ip
}

// authMiddleware implements spec §4.6 steps 1-4: token validation, proxy
// IP resolution, UA filtering and access-log/counter bookkeeping,
// mirroring the teacher's pinMiddleware short-circuit-on-OPTIONS shape
// in api/routes.go.
func authMiddleware(st *store.Store, cfgManager *config.Manager) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			vars := mux.Vars(r)
			token := vars["token"]
			cfg, _ := cfgManager.Cached()
			clientIP := resolveClientIP(r, cfg.CompatAPI.TrustedProxies)

			status, deny := checkToken(ctx, st, token)
			if deny == "" {
				deny = checkUAFilter(r.UserAgent(), cfg.CompatAPI.UAFilterMode, cfg.CompatAPI.UAFilterList)
			}

			_ = st.RecordAccessLog(ctx, store.AccessLogEntry{
				Token: token, ClientIP: clientIP, UserAgent: r.UserAgent(),
				Path: r.URL.Path, Status: accessLogStatus(deny), CreatedAt: time.Now(),
			})

			if deny != "" {
				writeError(w, status, deny)
				return
			}

			now := time.Now()
			nextReset := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, now.Location())
			_ = st.IncrementTokenCounter(ctx, token, now, nextReset)

			ctx = context.WithValue(ctx, ctxKeyToken, token)
			ctx = context.WithValue(ctx, ctxKeyClientIP, clientIP)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func accessLogStatus(deny string) string {
	if deny == "" {
		return "allowed"
	}
	return deny
}

// checkToken validates existence, enabled flag and expiry, returning the
// HTTP status bucket (for the unified envelope mapping) and a non-empty
// reason code on denial.
func checkToken(ctx context.Context, st *store.Store, token string) (int, string) {
	if token == "" {
		return http.StatusBadRequest, "denied_disabled"
	}
	t, err := st.GetAPIToken(ctx, token)
	if err != nil {
		return http.StatusForbidden, "denied_disabled"
	}
	if !t.IsEnabled {
		return http.StatusForbidden, "denied_disabled"
	}
	if t.ValidUntil != nil && t.ValidUntil.Before(time.Now()) {
		return http.StatusForbidden, "denied_expired"
	}
	return http.StatusOK, ""
}

// checkUAFilter applies the off/whitelist/blacklist gate of spec §4.6
// step 3. list entries are treated as case-insensitive substrings of the
// request's User-Agent header.
func checkUAFilter(ua string, mode config.UAFilterMode, list []string) string {
	switch mode {
	case config.UAFilterWhitelist:
		if !uaListContains(ua, list) {
			return "denied_ua_whitelist"
		}
	case config.UAFilterBlacklist:
		if uaListContains(ua, list) {
			return "denied_ua_blacklist"
		}
	}
	return ""
}

func uaListContains(ua string, list []string) bool {
	lowered := strings.ToLower(ua)
	for _, entry := range list {
		if entry != "" && strings.Contains(lowered, strings.ToLower(entry)) {
			return true
		}
	}
	return false
}

// resolveClientIP implements spec §4.6 step 2: trust X-Forwarded-For /
// X-Real-IP only when RemoteAddr falls inside one of the configured
// trusted-proxy CIDRs, following the same trusted-proxy gate the
// corpus's reverse-proxy middleware uses before trusting forwarded
// headers.
func resolveClientIP(r *http.Request, trustedCIDRs []string) string {
	remoteIP := remoteAddrIP(r.RemoteAddr)
	if !isTrustedProxy(remoteIP, trustedCIDRs) {
		return remoteIP
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		candidate := strings.TrimSpace(parts[0])
		if net.ParseIP(candidate) != nil {
			return candidate
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" && net.ParseIP(xri) != nil {
		return xri
	}
	return remoteIP
}

func remoteAddrIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

func isTrustedProxy(ip string, cidrs []string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	for _, c := range cidrs {
		_, network, err := net.ParseCIDR(c)
		if err != nil {
			continue
		}
		if network.Contains(parsed) {
			return true
		}
	}
	return false
}
