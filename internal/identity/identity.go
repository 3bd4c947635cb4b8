// Package identity provides anonymous per-device learner identity.
package identity

import (
	"context"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	LearnerCookieName   = "learnitall_learner"
	TabHeaderName       = "X-Learnitall-Session-ID"
	TabQueryParam       = "session_id"
	DefaultTabID        = "default"
	learnerCookieMaxAge = 30 * 24 * time.Hour
)

type contextKey int

const (
	learnerIDKey contextKey = iota
	tabIDKey
)

var tabIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// LearnerIDFromContext extracts the learner ID from the request context.
func LearnerIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(learnerIDKey).(string); ok {
		return v
	}
	return ""
}

// TabIDFromContext extracts the browser tab ID from the request context.
func TabIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(tabIDKey).(string); ok {
		return v
	}
	return DefaultTabID
}

// Key returns the session registry key for the request: one tutoring session
// per learner and tab.
func Key(ctx context.Context) string {
	return LearnerIDFromContext(ctx) + "/" + TabIDFromContext(ctx)
}

// WithIdentity returns ctx carrying the given learner and tab IDs.
func WithIdentity(ctx context.Context, learnerID, tabID string) context.Context {
	ctx = context.WithValue(ctx, learnerIDKey, learnerID)
	return context.WithValue(ctx, tabIDKey, sanitizeTabID(tabID))
}

func isValidLearnerID(id string) bool {
	parsed, err := uuid.Parse(id)
	return err == nil && parsed.String() == id
}

func sanitizeTabID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || !tabIDPattern.MatchString(id) {
		return DefaultTabID
	}
	return id
}

func setLearnerCookie(w http.ResponseWriter, id string, isDev bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     LearnerCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(learnerCookieMaxAge.Seconds()),
		Expires:  time.Now().Add(learnerCookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
}

func getOrCreateLearnerID(w http.ResponseWriter, r *http.Request, isDev bool) string {
	id := ""
	if c, err := r.Cookie(LearnerCookieName); err == nil && isValidLearnerID(c.Value) {
		id = c.Value
	} else {
		id = uuid.NewString()
	}
	// Refresh the expiry on every request.
	setLearnerCookie(w, id, isDev)
	return id
}

func tabIDFromRequest(r *http.Request) string {
	tab := r.Header.Get(TabHeaderName)
	if tab == "" {
		tab = r.URL.Query().Get(TabQueryParam)
	}
	return sanitizeTabID(tab)
}

// Middleware injects the anonymous learner ID and the per-tab session ID.
func Middleware(isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			learnerID := getOrCreateLearnerID(w, r, isDev)
			ctx := WithIdentity(r.Context(), learnerID, tabIDFromRequest(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IPFromRequest returns a normalized remote IP for optional request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
