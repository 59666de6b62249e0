package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Laffyyy/collabo-tool-sub001/internal/models"
)

type SecurityQuestionRepo struct {
	pool *pgxpool.Pool
}

func NewSecurityQuestionRepo(pool *pgxpool.Pool) *SecurityQuestionRepo {
	return &SecurityQuestionRepo{pool: pool}
}

func (r *SecurityQuestionRepo) ListQuestions(ctx context.Context) ([]models.SecurityQuestion, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, question FROM security_questions ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	questions := make([]models.SecurityQuestion, 0)
	for rows.Next() {
		var q models.SecurityQuestion
		if err := rows.Scan(&q.ID, &q.Question); err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// ReplaceAnswers swaps the user's full answer set atomically.
func (r *SecurityQuestionRepo) ReplaceAnswers(ctx context.Context, userID uuid.UUID, answers []models.SecurityAnswer) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM user_security_answers WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to clear answers: %w", err)
	}

	for _, a := range answers {
		_, err := tx.Exec(ctx, `
			INSERT INTO user_security_answers (user_id, question_id, answer_hash)
			VALUES ($1, $2, $3)
		`, userID, a.QuestionID, a.AnswerHash)
		if err != nil {
			return mapPostgresError(err)
		}
	}

	return tx.Commit(ctx)
}

func (r *SecurityQuestionRepo) GetAnswers(ctx context.Context, userID uuid.UUID) ([]models.SecurityAnswer, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT user_id, question_id, answer_hash
		FROM user_security_answers
		WHERE user_id = $1
		ORDER BY question_id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	answers := make([]models.SecurityAnswer, 0)
	for rows.Next() {
		var a models.SecurityAnswer
		if err := rows.Scan(&a.UserID, &a.QuestionID, &a.AnswerHash); err != nil {
			return nil, err
		}
		answers = append(answers, a)
	}
	return answers, rows.Err()
}

// GetUserQuestions returns the questions the user picked, without answers.
func (r *SecurityQuestionRepo) GetUserQuestions(ctx context.Context, userID uuid.UUID) ([]models.SecurityQuestion, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT q.id, q.question
		FROM user_security_answers a
		JOIN security_questions q ON q.id = a.question_id
		WHERE a.user_id = $1
		ORDER BY q.id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	questions := make([]models.SecurityQuestion, 0)
	for rows.Next() {
		var q models.SecurityQuestion
		if err := rows.Scan(&q.ID, &q.Question); err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}
