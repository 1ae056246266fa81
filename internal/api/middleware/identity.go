package middleware

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"unicode"

	"github.com/formpilot/formpilot/internal/domain"
)

// Context keys
type contextKey string

const (
	ContextKeyUser contextKey = "user"
)

// AnonymousUser is the channel of requests that carry no identity
const AnonymousUser = "anonymous"

const maxUserKeyLength = 128

// GetUser extracts the user key from context
func GetUser(ctx context.Context) string {
	user, ok := ctx.Value(ContextKeyUser).(string)
	if !ok || user == "" {
		return AnonymousUser
	}
	return user
}

// WithUser returns ctx carrying user
func WithUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, ContextKeyUser, user)
}

// IdentityMiddleware names the caller. Authentication happens upstream; the header set by
// the proxy (or the user query parameter, for EventSource clients that cannot set headers)
// selects the progress channel and the completed-sheet set.
type IdentityMiddleware struct {
	header   string
	required bool
}

// IdentityOption configures the identity middleware
type IdentityOption func(*IdentityMiddleware)

// WithRequiredIdentity rejects requests without a user instead of treating them as anonymous
func WithRequiredIdentity(required bool) IdentityOption {
	return func(m *IdentityMiddleware) {
		m.required = required
	}
}

// NewIdentityMiddleware creates an identity middleware reading header
func NewIdentityMiddleware(header string, opts ...IdentityOption) *IdentityMiddleware {
	if header == "" {
		header = "X-User"
	}
	m := &IdentityMiddleware{header: header}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// writeJSONError writes a JSON error response for identity failures
func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}

// Handler returns the middleware handler
func (m *IdentityMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := strings.TrimSpace(r.Header.Get(m.header))
		if user == "" {
			user = strings.TrimSpace(r.URL.Query().Get("user"))
		}

		if user == "" {
			if m.required {
				writeJSONError(w, http.StatusUnauthorized, domain.ErrCodeUnauthorized, m.header+" header required")
				return
			}
			user = AnonymousUser
		}

		if !validUserKey(user) {
			writeJSONError(w, http.StatusBadRequest, domain.ErrCodeValidation, "Invalid user identity")
			return
		}

		if slot, ok := r.Context().Value(contextKeyUserSlot).(*string); ok {
			*slot = user
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}

// validUserKey bounds the key used as a Redis key and channel suffix
func validUserKey(user string) bool {
	if len(user) > maxUserKeyLength {
		return false
	}
	for _, r := range user {
		if unicode.IsControl(r) {
			return false
		}
	}
	return true
}

// clientIP extracts the client IP from the request
func clientIP(r *http.Request) string {
	// Check X-Forwarded-For first (for proxied requests)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
			return ip.String()
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		if ip := net.ParseIP(xri); ip != nil {
			return ip.String()
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}
