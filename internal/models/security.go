package models

import "github.com/google/uuid"

type SecurityQuestion struct {
	ID       int    `json:"id"`
	Question string `json:"question"`
}

// SecurityAnswer is a hashed answer on file for a user.
type SecurityAnswer struct {
	UserID     uuid.UUID
	QuestionID int
	AnswerHash string
}

type SecurityAnswerInput struct {
	QuestionID int    `json:"question_id"`
	Answer     string `json:"answer"`
}

type SetSecurityAnswersRequest struct {
	Answers []SecurityAnswerInput `json:"answers"`
}

type ForgotPasswordQuestionsRequest struct {
	Identifier string `json:"identifier"`
}

type ForgotPasswordVerifyRequest struct {
	Identifier string                `json:"identifier"`
	Answers    []SecurityAnswerInput `json:"answers"`
}

type ForgotPasswordResetRequest struct {
	ResetToken  string `json:"reset_token"`
	NewPassword string `json:"new_password"`
}
