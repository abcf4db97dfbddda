package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/d4l-data4life/go-chat-host/pkg/auth"
	"github.com/d4l-data4life/go-chat-host/pkg/models"
	"github.com/d4l-data4life/go-chat-host/pkg/store"
	"github.com/d4l-data4life/go-svc/pkg/logging"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// ContextKeyUserID is the context key for user ID
	ContextKeyUserID ContextKey = "userID"
	// ContextKeyBearerToken is the context key for bearer token
	ContextKeyBearerToken ContextKey = "bearerToken"
)

// ErrNoSession is returned by GetSession outside of authenticated routes
var ErrNoSession = errors.New("no session")

// Session is the authenticated caller of a request
type Session struct {
	UserID uuid.UUID
}

// GetSession returns the session the auth middleware attached to the request
func GetSession(r *http.Request) (Session, error) {
	userID := GetUserIDFromContext(r.Context())
	if userID == uuid.Nil {
		return Session{}, ErrNoSession
	}
	return Session{UserID: userID}, nil
}

// AuthMiddleware verifies the session JWT and puts the user ID into the context.
// With autoCreateUsers (tokens of a remote identity provider) unknown users are
// created on first sight; otherwise they are rejected.
func AuthMiddleware(s *store.Store, validator auth.TokenValidator, autoCreateUsers bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				writeError(w, r, http.StatusUnauthorized, CodeUnauthorized, "Missing authorization token")
				return
			}

			parsed, err := validator.ValidateJWT(token)
			if err != nil {
				logging.LogDebugf("Rejected token: %v", err)
				writeError(w, r, http.StatusUnauthorized, CodeUnauthorized, "Invalid or expired token")
				return
			}
			userID, err := auth.UserID(*parsed)
			if err != nil {
				writeError(w, r, http.StatusUnauthorized, CodeUnauthorized, "Invalid or expired token")
				return
			}

			if autoCreateUsers {
				if err := models.EnsureUser(s.DB().WithContext(r.Context()), userID); err != nil {
					logging.LogErrorfCtx(r.Context(), err, "Failed to ensure user exists")
					writeError(w, r, http.StatusInternalServerError, CodeInternal, "Failed to ensure user exists")
					return
				}
			} else if _, err := s.GetUser(r.Context(), userID); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					writeError(w, r, http.StatusUnauthorized, CodeUserNotFound, "User not found - please log in again")
					return
				}
				handleError(w, r, err, "user")
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeyUserID, userID)
			ctx = context.WithValue(ctx, ContextKeyBearerToken, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken reads the Authorization header, falling back to the token query
// parameter browsers have to use for WebSockets
func bearerToken(r *http.Request) string {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) == 2 && parts[0] == "Bearer" {
		return strings.TrimSpace(parts[1])
	}
	return r.URL.Query().Get("token")
}

// GetUserIDFromContext retrieves the user ID from the request context
func GetUserIDFromContext(ctx context.Context) uuid.UUID {
	userID, ok := ctx.Value(ContextKeyUserID).(uuid.UUID)
	if !ok {
		return uuid.Nil
	}
	return userID
}

// GetBearerTokenFromContext retrieves the bearer token from the request context
func GetBearerTokenFromContext(ctx context.Context) string {
	token, ok := ctx.Value(ContextKeyBearerToken).(string)
	if !ok {
		return ""
	}
	return token
}

// WithUserID returns a context authenticated as userID
func WithUserID(ctx context.Context, userID uuid.UUID) context.Context {
	return context.WithValue(ctx, ContextKeyUserID, userID)
}

// serviceAuthLogger satisfies the logger go-svc's ServiceSecretAuthenticator reports to
type serviceAuthLogger struct{}

// ErrGeneric logs a rejected service call
func (serviceAuthLogger) ErrGeneric(ctx context.Context, err error) error {
	logging.LogErrorfCtx(ctx, err, "Service authentication error")
	return err
}
