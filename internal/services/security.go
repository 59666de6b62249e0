package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/Laffyyy/collabo-tool-sub001/internal/models"
	"github.com/Laffyyy/collabo-tool-sub001/internal/repository"
	"github.com/Laffyyy/collabo-tool-sub001/internal/worker"
)

const (
	requiredSecurityAnswers = 3
	resetTokenTTL           = 15 * time.Minute
	maxRecoveryAttempts     = 5
	recoveryLockout         = 15 * time.Minute
)

type securityRepository interface {
	ListQuestions(ctx context.Context) ([]models.SecurityQuestion, error)
	ReplaceAnswers(ctx context.Context, userID uuid.UUID, answers []models.SecurityAnswer) error
	GetAnswers(ctx context.Context, userID uuid.UUID) ([]models.SecurityAnswer, error)
	GetUserQuestions(ctx context.Context, userID uuid.UUID) ([]models.SecurityQuestion, error)
}

type recoveryTokenStore interface {
	SaveResetToken(ctx context.Context, token string, userID uuid.UUID, ttl time.Duration) error
	ConsumeResetToken(ctx context.Context, token string) (uuid.UUID, error)
	IncrementAttempts(ctx context.Context, key string, window time.Duration) (int64, error)
	ResetAttempts(ctx context.Context, key string) error
}

type noticeQueue interface {
	Enqueue(ctx context.Context, n worker.Notice) error
}

// SecurityService owns password changes and security-question recovery.
type SecurityService struct {
	users     userRepository
	questions securityRepository
	tokens    recoveryTokenStore
	sessions  sessionStore
	notices   noticeQueue
}

func NewSecurityService(users userRepository, questions securityRepository, tokens recoveryTokenStore, sessions sessionStore, notices noticeQueue) *SecurityService {
	return &SecurityService{
		users:     users,
		questions: questions,
		tokens:    tokens,
		sessions:  sessions,
		notices:   notices,
	}
}

func (s *SecurityService) ListQuestions(ctx context.Context) ([]models.SecurityQuestion, error) {
	return s.questions.ListQuestions(ctx)
}

// SetAnswers replaces the user's security answers. Exactly three distinct
// catalog questions with non-empty answers are required.
func (s *SecurityService) SetAnswers(ctx context.Context, userID uuid.UUID, req models.SetSecurityAnswersRequest) error {
	if len(req.Answers) != requiredSecurityAnswers {
		return &ValidationError{Fields: map[string]string{
			"answers": fmt.Sprintf("Exactly %d security questions are required", requiredSecurityAnswers),
		}}
	}

	catalog, err := s.questions.ListQuestions(ctx)
	if err != nil {
		return err
	}
	known := make(map[int]bool, len(catalog))
	for _, q := range catalog {
		known[q.ID] = true
	}

	fieldErrors := make(map[string]string)
	seen := make(map[int]bool, len(req.Answers))
	for i, a := range req.Answers {
		field := fmt.Sprintf("answers[%d]", i)
		switch {
		case !known[a.QuestionID]:
			fieldErrors[field] = "Unknown security question"
		case seen[a.QuestionID]:
			fieldErrors[field] = "Each security question can only be used once"
		case normalizeAnswer(a.Answer) == "":
			fieldErrors[field] = "Answer is required"
		}
		seen[a.QuestionID] = true
	}
	if len(fieldErrors) > 0 {
		return &ValidationError{Fields: fieldErrors}
	}

	answers := make([]models.SecurityAnswer, 0, len(req.Answers))
	for _, a := range req.Answers {
		hash, err := bcrypt.GenerateFromPassword([]byte(normalizeAnswer(a.Answer)), bcryptCost)
		if err != nil {
			return fmt.Errorf("failed to hash answer: %w", err)
		}
		answers = append(answers, models.SecurityAnswer{UserID: userID, QuestionID: a.QuestionID, AnswerHash: string(hash)})
	}

	return s.questions.ReplaceAnswers(ctx, userID, answers)
}

// RecoveryQuestions returns the questions a user picked, without answers.
func (s *SecurityService) RecoveryQuestions(ctx context.Context, identifier string) ([]models.SecurityQuestion, error) {
	user, err := s.lookupRecoveryUser(ctx, identifier)
	if err != nil {
		return nil, err
	}

	questions, err := s.questions.GetUserQuestions(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if len(questions) == 0 {
		return nil, &NotFoundError{Message: "No security questions on file for this account"}
	}
	return questions, nil
}

// VerifyRecoveryAnswers checks every answer and returns a single-use reset
// token. Repeated failures lock verification for the user.
func (s *SecurityService) VerifyRecoveryAnswers(ctx context.Context, req models.ForgotPasswordVerifyRequest) (string, error) {
	user, err := s.lookupRecoveryUser(ctx, req.Identifier)
	if err != nil {
		return "", err
	}

	// counted before comparing, so parallel guesses share one budget
	attemptsKey := recoveryAttemptsKey(user.ID)
	n, err := s.tokens.IncrementAttempts(ctx, attemptsKey, recoveryLockout)
	if err != nil {
		return "", err
	}
	if n > maxRecoveryAttempts {
		return "", &RateLimitError{Message: "Too many failed attempts. Try again in 15 minutes."}
	}

	stored, err := s.questions.GetAnswers(ctx, user.ID)
	if err != nil {
		return "", err
	}
	if len(stored) == 0 {
		return "", &NotFoundError{Message: "No security questions on file for this account"}
	}

	if !answersMatch(stored, req.Answers) {
		log.Warn().Str("user_id", user.ID.String()).Int64("attempts", n).Msg("security answers rejected")
		if n >= maxRecoveryAttempts {
			return "", &RateLimitError{Message: "Too many failed attempts. Try again in 15 minutes."}
		}
		return "", &UnauthorizedError{Message: "Security answers do not match"}
	}

	if err := s.tokens.ResetAttempts(ctx, attemptsKey); err != nil {
		log.Warn().Err(err).Str("user_id", user.ID.String()).Msg("failed to clear recovery attempts")
	}

	token, err := generateToken(32)
	if err != nil {
		return "", err
	}
	if err := s.tokens.SaveResetToken(ctx, token, user.ID, resetTokenTTL); err != nil {
		return "", fmt.Errorf("failed to store reset token: %w", err)
	}
	return token, nil
}

// ResetPassword consumes a reset token, sets the new password and signs the
// user out everywhere.
func (s *SecurityService) ResetPassword(ctx context.Context, req models.ForgotPasswordResetRequest) error {
	if err := validatePassword(req.NewPassword); err != nil {
		return &ValidationError{Fields: map[string]string{"new_password": err.Error()}}
	}

	userID, err := s.tokens.ConsumeResetToken(ctx, req.ResetToken)
	if err != nil {
		if errors.Is(err, repository.ErrTokenNotFound) {
			return &UnauthorizedError{Message: "Invalid or expired reset token"}
		}
		return err
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}

	if err := s.setPassword(ctx, user.ID, req.NewPassword); err != nil {
		return err
	}

	if err := s.sessions.DeleteAllForUser(ctx, user.ID); err != nil {
		log.Error().Err(err).Str("user_id", user.ID.String()).Msg("failed to revoke sessions after reset")
	}

	s.notify(ctx, user, worker.NoticePasswordReset)
	return nil
}

func (s *SecurityService) ChangePassword(ctx context.Context, userID uuid.UUID, req models.ChangePasswordRequest) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &NotFoundError{Message: "User not found"}
		}
		return err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.CurrentPassword)); err != nil {
		return &UnauthorizedError{Message: "Current password is incorrect"}
	}
	if err := validatePassword(req.NewPassword); err != nil {
		return &ValidationError{Fields: map[string]string{"new_password": err.Error()}}
	}
	if req.NewPassword == req.CurrentPassword {
		return &ValidationError{Fields: map[string]string{"new_password": "New password must be different from the current password"}}
	}

	if err := s.setPassword(ctx, user.ID, req.NewPassword); err != nil {
		return err
	}

	s.notify(ctx, user, worker.NoticePasswordChanged)
	return nil
}

func (s *SecurityService) setPassword(ctx context.Context, userID uuid.UUID, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	return s.users.UpdatePassword(ctx, userID, string(hash))
}

// notify queues an email about the account change. A queue failure is logged,
// the password change itself already happened.
func (s *SecurityService) notify(ctx context.Context, user *models.User, kind string) {
	err := s.notices.Enqueue(ctx, worker.Notice{
		Kind:     kind,
		UserID:   user.ID,
		Email:    user.Email,
		FullName: user.FullName,
	})
	if err != nil {
		log.Error().Err(err).Str("user_id", user.ID.String()).Str("kind", kind).Msg("failed to queue security notice")
	}
}

func (s *SecurityService) lookupRecoveryUser(ctx context.Context, identifier string) (*models.User, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, &ValidationError{Fields: map[string]string{"identifier": "Username or email is required"}}
	}

	user, err := s.users.GetByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &NotFoundError{Message: "Account not found"}
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, &ForbiddenError{Message: "Account is deactivated"}
	}
	return user, nil
}

func answersMatch(stored []models.SecurityAnswer, given []models.SecurityAnswerInput) bool {
	if len(given) != len(stored) {
		return false
	}
	byQuestion := make(map[int]string, len(given))
	for _, a := range given {
		byQuestion[a.QuestionID] = normalizeAnswer(a.Answer)
	}

	ok := true
	for _, want := range stored {
		got, present := byQuestion[want.QuestionID]
		// no early exit: every stored answer is compared
		if !present || bcrypt.CompareHashAndPassword([]byte(want.AnswerHash), []byte(got)) != nil {
			ok = false
		}
	}
	return ok
}

// normalizeAnswer makes answers case- and spacing-insensitive.
func normalizeAnswer(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func recoveryAttemptsKey(userID uuid.UUID) string {
	return "recovery_attempts:" + userID.String()
}
