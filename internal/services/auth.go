package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/Laffyyy/collabo-tool-sub001/internal/middleware"
	"github.com/Laffyyy/collabo-tool-sub001/internal/models"
	"github.com/Laffyyy/collabo-tool-sub001/internal/repository"
)

const refreshTokenTTL = 7 * 24 * time.Hour

// bcryptCost is a var so tests can drop it to bcrypt.MinCost.
var bcryptCost = 12

type userRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetByIdentifier(ctx context.Context, identifier string) (*models.User, error)
	UpdateLastLogin(ctx context.Context, userID uuid.UUID) error
	UpdatePassword(ctx context.Context, userID uuid.UUID, passwordHash string) error
}

type sessionStore interface {
	Create(ctx context.Context, userID uuid.UUID, ttl time.Duration) (*models.Session, error)
	Get(ctx context.Context, sessionID uuid.UUID) (*models.Session, error)
	Extend(ctx context.Context, sessionID uuid.UUID, ttl time.Duration) (*models.Session, error)
	Delete(ctx context.Context, sessionID uuid.UUID) error
	DeleteAllForUser(ctx context.Context, userID uuid.UUID) error
	SaveRefreshToken(ctx context.Context, token string, userID, sessionID uuid.UUID, ttl time.Duration) error
	ConsumeRefreshToken(ctx context.Context, token string) (uuid.UUID, uuid.UUID, error)
	DeleteRefreshToken(ctx context.Context, token string) error
}

// presenceMarker is the slice of PresenceService that login and logout drive.
type presenceMarker interface {
	MarkOnline(ctx context.Context, userID uuid.UUID) error
	MarkOffline(ctx context.Context, userID uuid.UUID) error
}

type AuthService struct {
	users      userRepository
	sessions   sessionStore
	presence   presenceMarker
	jwt        *middleware.JWTAuth
	sessionTTL time.Duration
	now        func() time.Time
}

func NewAuthService(users userRepository, sessions sessionStore, presence presenceMarker, jwt *middleware.JWTAuth, sessionTTL time.Duration) *AuthService {
	return &AuthService{
		users:      users,
		sessions:   sessions,
		presence:   presence,
		jwt:        jwt,
		sessionTTL: sessionTTL,
		now:        time.Now,
	}
}

var (
	emailRegex    = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9._-]{3,32}$`)
)

func (s *AuthService) Register(ctx context.Context, req models.RegisterRequest) (*models.User, error) {
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	req.FullName = strings.TrimSpace(req.FullName)

	fieldErrors := make(map[string]string)
	if !usernameRegex.MatchString(req.Username) {
		fieldErrors["username"] = "Username must be 3-32 letters, digits, dots, dashes or underscores"
	}
	if req.FullName == "" {
		fieldErrors["full_name"] = "Full name is required"
	}
	if !emailRegex.MatchString(req.Email) {
		fieldErrors["email"] = "Invalid email format"
	}
	if err := validatePassword(req.Password); err != nil {
		fieldErrors["password"] = err.Error()
	}
	if len(fieldErrors) > 0 {
		return nil, &ValidationError{Fields: fieldErrors}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: string(hash),
		FullName:     req.FullName,
	}

	if err := s.users.Create(ctx, user); err != nil {
		var dup *repository.DuplicateError
		if errors.As(err, &dup) {
			if strings.Contains(dup.Constraint, "username") {
				return nil, &ConflictError{Message: "Username already taken"}
			}
			return nil, &ConflictError{Message: "Email already in use"}
		}
		return nil, err
	}

	log.Info().Str("user_id", user.ID.String()).Msg("user registered")
	return user, nil
}

// Login checks credentials, opens a server session and marks the user online.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (*models.AuthTokens, error) {
	identifier := strings.TrimSpace(req.Identifier)
	if identifier == "" || req.Password == "" {
		return nil, &ValidationError{Fields: map[string]string{"identifier": "Username or email and password are required"}}
	}

	user, err := s.users.GetByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &UnauthorizedError{Message: "Invalid username or password"}
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, &UnauthorizedError{Message: "Invalid username or password"}
	}

	if !user.IsActive {
		return nil, &ForbiddenError{Message: "Account is deactivated"}
	}

	if err := s.users.UpdateLastLogin(ctx, user.ID); err != nil {
		log.Warn().Err(err).Str("user_id", user.ID.String()).Msg("failed to record last login")
	}

	session, err := s.sessions.Create(ctx, user.ID, s.sessionTTL)
	if err != nil {
		return nil, err
	}

	tokens, err := s.issueTokens(ctx, user, session.ID)
	if err != nil {
		return nil, err
	}

	if err := s.presence.MarkOnline(ctx, user.ID); err != nil {
		log.Warn().Err(err).Str("user_id", user.ID.String()).Msg("failed to mark user online")
	}

	return tokens, nil
}

// RefreshToken rotates the refresh token and issues a new access token for
// the same server session. It does not extend the session.
func (s *AuthService) RefreshToken(ctx context.Context, refreshToken string) (*models.AuthTokens, error) {
	userID, sessionID, err := s.sessions.ConsumeRefreshToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, repository.ErrTokenNotFound) {
			return nil, &UnauthorizedError{Message: "Invalid or expired refresh token. Please log in again."}
		}
		return nil, err
	}

	if _, err := s.sessions.Get(ctx, sessionID); err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, &SessionExpiredError{SessionID: sessionID.String()}
		}
		return nil, err
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &UnauthorizedError{Message: "Account no longer exists"}
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, &ForbiddenError{Message: "Account is deactivated"}
	}

	return s.issueTokens(ctx, user, sessionID)
}

// Logout ends the session and marks the user offline. Missing sessions are
// not an error so logout can be retried.
func (s *AuthService) Logout(ctx context.Context, userID, sessionID uuid.UUID, refreshToken string) error {
	if err := s.sessions.Delete(ctx, sessionID); err != nil {
		return err
	}
	if refreshToken != "" {
		if err := s.sessions.DeleteRefreshToken(ctx, refreshToken); err != nil {
			log.Warn().Err(err).Msg("failed to delete refresh token")
		}
	}
	if err := s.presence.MarkOffline(ctx, userID); err != nil {
		log.Warn().Err(err).Str("user_id", userID.String()).Msg("failed to mark user offline")
	}
	return nil
}

func (s *AuthService) SessionInfo(ctx context.Context, sessionID uuid.UUID) (*models.SessionInfo, error) {
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, &SessionExpiredError{SessionID: sessionID.String()}
		}
		return nil, err
	}

	remaining := session.ExpiresAt.Sub(s.now())
	if remaining < 0 {
		remaining = 0
	}
	return &models.SessionInfo{
		ExpiresAt:       session.ExpiresAt,
		TimeRemainingMs: remaining.Milliseconds(),
		IsActive:        remaining > 0,
	}, nil
}

// ExtendSession resets the session lifetime to the full TTL.
func (s *AuthService) ExtendSession(ctx context.Context, sessionID uuid.UUID) (*models.SessionRefresh, error) {
	session, err := s.sessions.Extend(ctx, sessionID, s.sessionTTL)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, &SessionExpiredError{SessionID: sessionID.String()}
		}
		return nil, err
	}

	return &models.SessionRefresh{
		ExpiresAt:       session.ExpiresAt,
		TimeRemainingMs: session.ExpiresAt.Sub(s.now()).Milliseconds(),
	}, nil
}

func (s *AuthService) issueTokens(ctx context.Context, user *models.User, sessionID uuid.UUID) (*models.AuthTokens, error) {
	accessToken, err := s.jwt.GenerateAccessToken(user.ID, sessionID, user.Username)
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}

	refreshToken, err := generateToken(64)
	if err != nil {
		return nil, err
	}

	if err := s.sessions.SaveRefreshToken(ctx, refreshToken, user.ID, sessionID, refreshTokenTTL); err != nil {
		return nil, err
	}

	return &models.AuthTokens{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int(s.jwt.TTL.Seconds()),
		SessionID:    sessionID,
	}, nil
}

func generateToken(bytes int) (string, error) {
	b := make([]byte, bytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func validatePassword(pw string) error {
	if len(pw) < 8 {
		return fmt.Errorf("Password must be at least 8 characters")
	}
	hasNumber := false
	for _, ch := range pw {
		if unicode.IsDigit(ch) {
			hasNumber = true
			break
		}
	}
	if !hasNumber {
		return fmt.Errorf("Password must contain at least one number")
	}
	return nil
}
