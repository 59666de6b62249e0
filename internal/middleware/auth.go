package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/hlog"

	"github.com/Laffyyy/collabo-tool-sub001/internal/models"
	"github.com/Laffyyy/collabo-tool-sub001/internal/repository"
)

type contextKey string

const (
	UserIDKey    contextKey = "user_id"
	SessionIDKey contextKey = "session_id"
)

// SessionValidator reports whether a server session still exists.
type SessionValidator interface {
	Get(ctx context.Context, sessionID uuid.UUID) (*models.Session, error)
}

// Claims carried by access tokens. sid ties the token to a server session so
// that deleting the session revokes the token before it expires.
type Claims struct {
	SessionID string `json:"sid"`
	Username  string `json:"username"`
	jwt.RegisteredClaims
}

type JWTAuth struct {
	Secret   []byte
	TTL      time.Duration
	sessions SessionValidator
}

func NewJWTAuth(secret string, ttl time.Duration, sessions SessionValidator) *JWTAuth {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &JWTAuth{Secret: []byte(secret), TTL: ttl, sessions: sessions}
}

// GenerateAccessToken creates a signed HS256 token bound to sessionID.
func (j *JWTAuth) GenerateAccessToken(userID, sessionID uuid.UUID, username string) (string, error) {
	now := time.Now()
	claims := Claims{
		SessionID: sessionID.String(),
		Username:  username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.TTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(j.Secret)
}

// ParseToken verifies the signature and expiry and returns the ids it carries.
func (j *JWTAuth) ParseToken(tokenStr string) (userID, sessionID uuid.UUID, err error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return j.Secret, nil
	})
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	if !token.Valid {
		return uuid.Nil, uuid.Nil, jwt.ErrTokenInvalidClaims
	}

	userID, err = uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("invalid subject: %w", err)
	}
	sessionID, err = uuid.Parse(claims.SessionID)
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("invalid session id: %w", err)
	}
	return userID, sessionID, nil
}

// Middleware validates the bearer token and its server session, then attaches
// user_id and session_id to the context.
func (j *JWTAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing authorization header", r)
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid authorization format", r)
			return
		}

		ctx, ok := j.authenticate(w, r, parts[1])
		if !ok {
			return
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// QueryTokenMiddleware is Middleware for clients that cannot set headers,
// such as browser websockets. The token is read from ?token=.
func (j *JWTAuth) QueryTokenMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if token == "" {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing token", r)
			return
		}
		ctx, ok := j.authenticate(w, r, token)
		if !ok {
			return
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (j *JWTAuth) authenticate(w http.ResponseWriter, r *http.Request, tokenStr string) (context.Context, bool) {
	userID, sessionID, err := j.ParseToken(tokenStr)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			writeError(w, http.StatusUnauthorized, "TOKEN_EXPIRED", "Token has expired", r)
		} else {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid token", r)
		}
		return nil, false
	}

	if j.sessions != nil {
		session, err := j.sessions.Get(r.Context(), sessionID)
		switch {
		case errors.Is(err, repository.ErrSessionNotFound):
			writeError(w, http.StatusUnauthorized, "SESSION_EXPIRED", "Session has expired", r)
			return nil, false
		case err != nil:
			hlog.FromRequest(r).Error().Err(err).Msg("session lookup failed")
			writeError(w, http.StatusServiceUnavailable, "SESSION_UNAVAILABLE", "Session store unavailable", r)
			return nil, false
		case session.UserID != userID:
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Token does not match session", r)
			return nil, false
		}
	}

	ctx := context.WithValue(r.Context(), UserIDKey, userID)
	ctx = context.WithValue(ctx, SessionIDKey, sessionID)
	return ctx, true
}

// GetUserID extracts user_id from request context
func GetUserID(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(UserIDKey).(uuid.UUID)
	return id
}

func GetSessionID(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(SessionIDKey).(uuid.UUID)
	return id
}

// WithIdentity returns ctx carrying the given ids. Used by tests and by
// handlers that authenticate outside the HTTP middleware chain.
func WithIdentity(ctx context.Context, userID, sessionID uuid.UUID) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, userID)
	return context.WithValue(ctx, SessionIDKey, sessionID)
}

func writeError(w http.ResponseWriter, status int, code, message string, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(models.ErrorResponse{
		Error: models.APIError{
			Code:      code,
			Message:   message,
			RequestID: chimw.GetReqID(r.Context()),
		},
	})
}
