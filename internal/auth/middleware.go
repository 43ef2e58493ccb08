package auth

import (
	"context"
	"net/http"

	"ms-booking/internal/logger"
	"ms-booking/internal/utils"
)

type contextKey string

// RequesterIDKey is the context key under which the authenticated requester id is stored
const RequesterIDKey contextKey = "requesterID"

// Middleware verifies the bearer token on every request and puts the
// requester id on the request context for the handlers downstream.
type Middleware struct {
	Secret string
	Logger *logger.Logger
}

func NewMiddleware(secret string, log *logger.Logger) *Middleware {
	return &Middleware{Secret: secret, Logger: log}
}

func (m *Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := ExtractTokenFromRequest(r)
		if err != nil {
			m.Logger.Warn("AUTH", r.Method+" "+r.URL.Path+": "+err.Error())
			utils.WriteError(w, http.StatusUnauthorized, "missing or malformed authorization header")
			return
		}

		requesterID, err := ExtractRequesterID(token, m.Secret)
		if err != nil {
			m.Logger.Warn("AUTH", r.Method+" "+r.URL.Path+": token rejected: "+err.Error())
			utils.WriteError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), RequesterIDKey, requesterID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequesterFromContext returns the authenticated requester id, if any.
func RequesterFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(RequesterIDKey).(string)
	return id, ok && id != ""
}
