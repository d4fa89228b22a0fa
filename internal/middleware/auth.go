package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/runtime-land/land/internal/models"
	apierrors "github.com/runtime-land/land/internal/pkg/errors"
	"github.com/runtime-land/land/internal/pkg/response"
	"github.com/runtime-land/land/internal/tokens"
)

type contextKey string

const (
	// UserKey carries the authenticated *models.User.
	UserKey contextKey = "user"
	// WorkerIPKey carries the ip the worker token call came from.
	WorkerIPKey contextKey = "worker_ip"
)

// UserFromContext returns the authenticated user, or nil.
func UserFromContext(ctx context.Context) *models.User {
	u, _ := ctx.Value(UserKey).(*models.User)
	return u
}

// WorkerIPFromContext returns the calling worker's ip, or "".
func WorkerIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(WorkerIPKey).(string)
	return ip
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

// Auth authenticates admin API calls: the bearer value must be an active
// session or cmdline token, and its owner lands in the request context.
func Auth(registry *tokens.Registry) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			value := bearerToken(r)
			if value == "" {
				response.Error(w, apierrors.ErrUnauthorized)
				return
			}

			var user *models.User
			for _, usage := range []models.TokenUsage{models.TokenUsageSession, models.TokenUsageCmdline} {
				_, u, err := registry.Verify(r.Context(), value, usage)
				if err != nil {
					response.Error(w, apierrors.AsAPIError(err))
					return
				}
				if u != nil {
					user = u
					break
				}
			}
			if user == nil {
				response.Error(w, apierrors.ErrUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), UserKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WorkerAuth authenticates fleet calls: the bearer value must be an active
// worker token. The worker's ip comes from the ?ip query parameter, falling
// back to the remote address.
func WorkerAuth(registry *tokens.Registry) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			value := bearerToken(r)
			if value == "" {
				response.Error(w, apierrors.ErrUnauthorized)
				return
			}
			_, u, err := registry.Verify(r.Context(), value, models.TokenUsageWorker)
			if err != nil {
				response.Error(w, apierrors.AsAPIError(err))
				return
			}
			if u == nil {
				response.Error(w, apierrors.ErrUnauthorized)
				return
			}

			ip := r.URL.Query().Get("ip")
			if ip == "" {
				ip = r.RemoteAddr
				if host, _, ok := strings.Cut(ip, ":"); ok {
					ip = host
				}
			}

			ctx := context.WithValue(r.Context(), UserKey, u)
			ctx = context.WithValue(ctx, WorkerIPKey, ip)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin rejects non-admin users. Must run after Auth.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := UserFromContext(r.Context())
		if user == nil {
			response.Error(w, apierrors.ErrUnauthorized)
			return
		}
		if !user.IsAdmin() {
			response.Error(w, apierrors.ErrForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
