package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdminTokenRoundTrip(t *testing.T) {
	i := NewIssuer("test-secret")

	token, err := i.IssueAdmin()
	require.NoError(t, err)
	assert.NoError(t, i.VerifyAdmin(token))
}

func TestReplayTokenCarriesUser(t *testing.T) {
	i := NewIssuer("test-secret")

	token, err := i.IssueReplay(1739989)
	require.NoError(t, err)

	userID, err := i.VerifyReplay(token)
	require.NoError(t, err)
	assert.Equal(t, int32(1739989), userID)
}

func TestScopesAreNotInterchangeable(t *testing.T) {
	i := NewIssuer("test-secret")

	admin, err := i.IssueAdmin()
	require.NoError(t, err)
	replay, err := i.IssueReplay(1)
	require.NoError(t, err)

	_, err = i.VerifyReplay(admin)
	assert.ErrorIs(t, err, ErrWrongScope)
	assert.ErrorIs(t, i.VerifyAdmin(replay), ErrWrongScope)
}

func TestExpiredTokenRejected(t *testing.T) {
	i := NewIssuer("test-secret")
	now := time.Now()
	i.now = func() time.Time { return now }

	token, err := i.IssueReplay(5)
	require.NoError(t, err)

	now = now.Add(ReplaySessionTTL + time.Minute)
	_, err = i.VerifyReplay(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestWrongSecretRejected(t *testing.T) {
	token, err := NewIssuer("secret-a").IssueAdmin()
	require.NoError(t, err)

	assert.ErrorIs(t, NewIssuer("secret-b").VerifyAdmin(token), ErrInvalidToken)
}

func TestGarbageRejected(t *testing.T) {
	i := NewIssuer("test-secret")
	assert.ErrorIs(t, i.VerifyAdmin("not.a.jwt"), ErrInvalidToken)
	_, err := i.VerifyReplay("")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
