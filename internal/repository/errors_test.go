package repository

import (
	"errors"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapPostgresError(t *testing.T) {
	assert.NoError(t, mapPostgresError(nil))
	assert.ErrorIs(t, mapPostgresError(pgx.ErrNoRows), pgx.ErrNoRows)

	dup := mapPostgresError(&pgconn.PgError{Code: pgerrcode.UniqueViolation, ConstraintName: "users_email_key"})
	require.ErrorIs(t, dup, ErrDuplicate)
	var de *DuplicateError
	require.True(t, errors.As(dup, &de))
	assert.Equal(t, "users_email_key", de.Constraint)

	fk := mapPostgresError(&pgconn.PgError{Code: pgerrcode.ForeignKeyViolation, Detail: "question 99"})
	assert.ErrorIs(t, fk, ErrInvalidReference)

	other := mapPostgresError(&pgconn.PgError{Code: pgerrcode.DiskFull, Message: "disk full"})
	var pgErr *pgconn.PgError
	assert.True(t, errors.As(other, &pgErr))
	assert.NotErrorIs(t, other, ErrDuplicate)
}
