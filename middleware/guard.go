package middleware

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/brewline/cafeauth"
)

// Authenticator is the part of *cafeauth.Engine the guard needs.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*cafeauth.Principal, error)
	Authorize(p *cafeauth.Principal, c cafeauth.Capability) error
}

// Guard rejects requests without a valid bearer token (401), requests whose
// principal lacks any of caps (403), and answers 503 when the backend is
// down.
func Guard(auth Authenticator, caps ...cafeauth.Capability) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if auth == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			p, err := auth.Authenticate(r.Context(), token)
			if err != nil {
				if errors.Is(err, cafeauth.ErrUnavailable) {
					http.Error(w, "service unavailable", http.StatusServiceUnavailable)
					return
				}
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			for _, c := range caps {
				if err := auth.Authorize(p, c); err != nil {
					http.Error(w, "forbidden", http.StatusForbidden)
					return
				}
			}

			next.ServeHTTP(w, r.WithContext(cafeauth.WithPrincipal(r.Context(), p)))
		})
	}
}

// ClientInfo copies the remote address and User-Agent onto the request
// context for lockout keying. X-Forwarded-For is honoured only when
// trustProxy is set.
func ClientInfo(trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := cafeauth.WithClientIP(r.Context(), clientIP(r, trustProxy))
			ctx = cafeauth.WithUserAgent(ctx, r.UserAgent())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}
