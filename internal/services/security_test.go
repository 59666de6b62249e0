package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/Laffyyy/collabo-tool-sub001/internal/models"
	"github.com/Laffyyy/collabo-tool-sub001/internal/worker"
)

type securityFixture struct {
	svc      *SecurityService
	user     *models.User
	users    *stubUsers
	repo     *stubSecurityRepo
	tokens   *stubTokens
	sessions *stubSessions
	notices  *stubNotices
}

func newSecurityFixture(t *testing.T) *securityFixture {
	user := newTestUser(t, "ana", "password1")
	f := &securityFixture{
		user:     user,
		users:    newStubUsers(user),
		repo:     newStubSecurityRepo(),
		tokens:   newStubTokens(),
		sessions: newStubSessions(),
		notices:  &stubNotices{},
	}
	f.svc = NewSecurityService(f.users, f.repo, f.tokens, f.sessions, f.notices)
	return f
}

var validAnswers = []models.SecurityAnswerInput{
	{QuestionID: 1, Answer: "Rex"},
	{QuestionID: 2, Answer: "  Quezon   City "},
	{QuestionID: 4, Answer: "Dune"},
}

func ans(id int, answer string) models.SecurityAnswerInput {
	return models.SecurityAnswerInput{QuestionID: id, Answer: answer}
}

func (f *securityFixture) enroll(t *testing.T) {
	t.Helper()
	require.NoError(t, f.svc.SetAnswers(context.Background(), f.user.ID, models.SetSecurityAnswersRequest{Answers: validAnswers}))
}

func TestSetAnswers_StoresNormalizedHashes(t *testing.T) {
	f := newSecurityFixture(t)
	f.enroll(t)

	stored := f.repo.answers[f.user.ID]
	require.Len(t, stored, 3)
	assert.Equal(t, 2, stored[1].QuestionID)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored[1].AnswerHash), []byte("quezon city")))
}

func TestSetAnswers_Validation(t *testing.T) {
	tests := []struct {
		name    string
		answers []models.SecurityAnswerInput
		field   string
	}{
		{"too few", validAnswers[:2], "answers"},
		{"too many", append(append([]models.SecurityAnswerInput{}, validAnswers...), models.SecurityAnswerInput{QuestionID: 3, Answer: "x"}), "answers"},
		{"duplicate question", []models.SecurityAnswerInput{ans(1, "a"), ans(1, "b"), ans(2, "c")}, "answers[1]"},
		{"unknown question", []models.SecurityAnswerInput{ans(1, "a"), ans(2, "b"), ans(99, "c")}, "answers[2]"},
		{"blank answer", []models.SecurityAnswerInput{ans(1, "a"), ans(2, "   "), ans(3, "c")}, "answers[1]"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newSecurityFixture(t)
			err := f.svc.SetAnswers(context.Background(), f.user.ID, models.SetSecurityAnswersRequest{Answers: tc.answers})

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Fields, tc.field)
			assert.Empty(t, f.repo.answers)
		})
	}
}

func TestRecoveryQuestions(t *testing.T) {
	f := newSecurityFixture(t)
	ctx := context.Background()

	_, err := f.svc.RecoveryQuestions(ctx, "ana")
	var nf *NotFoundError
	assert.ErrorAs(t, err, &nf, "not enrolled yet")

	f.enroll(t)
	questions, err := f.svc.RecoveryQuestions(ctx, "ana@example.com")
	require.NoError(t, err)
	assert.Len(t, questions, 3)

	_, err = f.svc.RecoveryQuestions(ctx, "ghost")
	assert.ErrorAs(t, err, &nf)
}

func TestRecoveryFlow(t *testing.T) {
	f := newSecurityFixture(t)
	f.enroll(t)
	ctx := context.Background()
	f.sessions.sessions[f.user.ID] = &models.Session{ID: f.user.ID, UserID: f.user.ID}

	token, err := f.svc.VerifyRecoveryAnswers(ctx, models.ForgotPasswordVerifyRequest{
		Identifier: "ana",
		Answers: []models.SecurityAnswerInput{
			{QuestionID: 4, Answer: "DUNE"},
			{QuestionID: 1, Answer: "rex"},
			{QuestionID: 2, Answer: "quezon city"},
		},
	})
	require.NoError(t, err)
	require.NotEmpty(t, token)

	err = f.svc.ResetPassword(ctx, models.ForgotPasswordResetRequest{ResetToken: token, NewPassword: "brand-new-9"})
	require.NoError(t, err)

	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(f.user.PasswordHash), []byte("brand-new-9")))
	assert.Empty(t, f.sessions.sessions)
	assert.Equal(t, f.user.ID, f.sessions.revokedFor[0])
	assert.Eventually(t, func() bool {
		msgs := f.notices.messages()
		return len(msgs) == 1 && msgs[0] == worker.NoticePasswordReset+":ana@example.com"
	}, time.Second, 10*time.Millisecond)

	err = f.svc.ResetPassword(ctx, models.ForgotPasswordResetRequest{ResetToken: token, NewPassword: "another-one-2"})
	var unauth *UnauthorizedError
	assert.ErrorAs(t, err, &unauth, "reset tokens are single use")
}

func TestResetPassword_WeakPasswordKeepsToken(t *testing.T) {
	f := newSecurityFixture(t)
	f.tokens.reset["tok"] = f.user.ID

	err := f.svc.ResetPassword(context.Background(), models.ForgotPasswordResetRequest{ResetToken: "tok", NewPassword: "weak"})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, f.tokens.reset, "tok")
}

func TestVerifyRecoveryAnswers_LocksAfterRepeatedFailures(t *testing.T) {
	f := newSecurityFixture(t)
	f.enroll(t)
	ctx := context.Background()

	wrong := models.ForgotPasswordVerifyRequest{
		Identifier: "ana",
		Answers: []models.SecurityAnswerInput{
			{QuestionID: 1, Answer: "rex"},
			{QuestionID: 2, Answer: "manila"},
			{QuestionID: 4, Answer: "dune"},
		},
	}

	for i := 1; i < maxRecoveryAttempts; i++ {
		_, err := f.svc.VerifyRecoveryAnswers(ctx, wrong)
		var unauth *UnauthorizedError
		require.ErrorAs(t, err, &unauth, "attempt %d", i)
	}

	_, err := f.svc.VerifyRecoveryAnswers(ctx, wrong)
	var limited *RateLimitError
	require.ErrorAs(t, err, &limited)

	// even correct answers are refused while locked
	right := wrong
	right.Answers = validAnswers
	_, err = f.svc.VerifyRecoveryAnswers(ctx, right)
	assert.ErrorAs(t, err, &limited)
	assert.Empty(t, f.tokens.reset)
}

func TestVerifyRecoveryAnswers_ConcurrentGuessesStayWithinLimit(t *testing.T) {
	f := newSecurityFixture(t)
	f.enroll(t)
	ctx := context.Background()

	wrong := models.ForgotPasswordVerifyRequest{
		Identifier: "ana",
		Answers: []models.SecurityAnswerInput{
			{QuestionID: 1, Answer: "rex"},
			{QuestionID: 2, Answer: "manila"},
			{QuestionID: 4, Answer: "dune"},
		},
	}

	const guesses = 10
	reads := f.repo.answerReads()

	var wg sync.WaitGroup
	for i := 0; i < guesses; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.VerifyRecoveryAnswers(ctx, wrong)
			assert.Error(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, f.repo.answerReads()-reads, maxRecoveryAttempts)
	assert.Equal(t, int64(guesses), f.tokens.attemptCount(recoveryAttemptsKey(f.user.ID)))
	assert.Empty(t, f.tokens.reset)
}

func TestVerifyRecoveryAnswers_PartialAnswersRejected(t *testing.T) {
	f := newSecurityFixture(t)
	f.enroll(t)

	_, err := f.svc.VerifyRecoveryAnswers(context.Background(), models.ForgotPasswordVerifyRequest{
		Identifier: "ana",
		Answers:    validAnswers[:2],
	})
	var unauth *UnauthorizedError
	assert.ErrorAs(t, err, &unauth)
}

func TestChangePassword(t *testing.T) {
	f := newSecurityFixture(t)
	ctx := context.Background()

	err := f.svc.ChangePassword(ctx, f.user.ID, models.ChangePasswordRequest{CurrentPassword: "nope", NewPassword: "new-password-1"})
	var unauth *UnauthorizedError
	require.ErrorAs(t, err, &unauth)

	err = f.svc.ChangePassword(ctx, f.user.ID, models.ChangePasswordRequest{CurrentPassword: "password1", NewPassword: "password1"})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields["new_password"], "different")

	err = f.svc.ChangePassword(ctx, f.user.ID, models.ChangePasswordRequest{CurrentPassword: "password1", NewPassword: "short"})
	require.ErrorAs(t, err, &verr)

	require.NoError(t, f.svc.ChangePassword(ctx, f.user.ID, models.ChangePasswordRequest{CurrentPassword: "password1", NewPassword: "new-password-1"}))
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(f.user.PasswordHash), []byte("new-password-1")))
	assert.Eventually(t, func() bool {
		msgs := f.notices.messages()
		return len(msgs) == 1 && msgs[0] == worker.NoticePasswordChanged+":ana@example.com"
	}, time.Second, 10*time.Millisecond)
}
