package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/Laffyyy/collabo-tool-sub001/internal/middleware"
	"github.com/Laffyyy/collabo-tool-sub001/internal/models"
)

type securityService interface {
	ListQuestions(ctx context.Context) ([]models.SecurityQuestion, error)
	SetAnswers(ctx context.Context, userID uuid.UUID, req models.SetSecurityAnswersRequest) error
	RecoveryQuestions(ctx context.Context, identifier string) ([]models.SecurityQuestion, error)
	VerifyRecoveryAnswers(ctx context.Context, req models.ForgotPasswordVerifyRequest) (string, error)
	ResetPassword(ctx context.Context, req models.ForgotPasswordResetRequest) error
	ChangePassword(ctx context.Context, userID uuid.UUID, req models.ChangePasswordRequest) error
}

// SecurityHandler serves password change and security-question recovery.
type SecurityHandler struct {
	security securityService
}

func NewSecurityHandler(security securityService) *SecurityHandler {
	return &SecurityHandler{security: security}
}

func (h *SecurityHandler) ListQuestions(w http.ResponseWriter, r *http.Request) {
	questions, err := h.security.ListQuestions(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"questions": questions})
}

func (h *SecurityHandler) SetAnswers(w http.ResponseWriter, r *http.Request) {
	var req models.SetSecurityAnswersRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}

	if err := h.security.SetAnswers(r.Context(), middleware.GetUserID(r.Context()), req); err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Security questions updated"})
}

func (h *SecurityHandler) RecoveryQuestions(w http.ResponseWriter, r *http.Request) {
	var req models.ForgotPasswordQuestionsRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}

	questions, err := h.security.RecoveryQuestions(r.Context(), req.Identifier)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"questions": questions})
}

func (h *SecurityHandler) VerifyAnswers(w http.ResponseWriter, r *http.Request) {
	var req models.ForgotPasswordVerifyRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}

	token, err := h.security.VerifyRecoveryAnswers(r.Context(), req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"reset_token": token})
}

func (h *SecurityHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req models.ForgotPasswordResetRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}

	if err := h.security.ResetPassword(r.Context(), req); err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Password has been reset. Please sign in again."})
}

func (h *SecurityHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req models.ChangePasswordRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}

	if err := h.security.ChangePassword(r.Context(), middleware.GetUserID(r.Context()), req); err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Password updated successfully"})
}
