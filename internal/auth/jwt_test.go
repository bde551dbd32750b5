package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndValidate(t *testing.T) {
	token, err := NewIssuer("s3cret", time.Hour).Issue(42)
	require.NoError(t, err)

	userID, err := NewVerifier("s3cret").ValidateToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, 42, userID)
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	token, err := NewIssuer("one", time.Hour).Issue(1)
	require.NoError(t, err)

	_, err = NewVerifier("two").ValidateToken(context.Background(), token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateRejectsExpired(t *testing.T) {
	issuer := NewIssuer("s3cret", time.Minute)
	issuer.now = func() time.Time { return time.Now().Add(-time.Hour) }
	token, err := issuer.Issue(1)
	require.NoError(t, err)

	_, err = NewVerifier("s3cret").ValidateToken(context.Background(), token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateRejectsGarbage(t *testing.T) {
	_, err := NewVerifier("s3cret").ValidateToken(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = NewVerifier("s3cret").ValidateToken(context.Background(), "not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestIssueRejectsNonPositiveUser(t *testing.T) {
	_, err := NewIssuer("s3cret", time.Hour).Issue(0)
	assert.Error(t, err)
}
