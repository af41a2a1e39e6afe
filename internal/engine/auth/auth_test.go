package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMintVerifyRoundTrip(t *testing.T) {
	tok, err := Mint("s3cret", "cockpit", "alice", []string{"operator"}, time.Hour, time.Now())
	require.NoError(t, err)

	p, err := Verify("s3cret", tok)
	require.NoError(t, err)
	assert.Equal(t, "alice", p.ActorID)
	assert.Equal(t, "jwt", p.Source)
	assert.True(t, p.HasRole("operator"))
	assert.NoError(t, p.Require("operator"))
	assert.NoError(t, p.Require(""))

	var fe ForbiddenError
	require.ErrorAs(t, p.Require("admin"), &fe)
	assert.Equal(t, "admin", fe.Role)
}

func TestVerifyRejects(t *testing.T) {
	tok, err := Mint("s3cret", "", "alice", nil, 0, time.Now())
	require.NoError(t, err)

	_, err = Verify("other", tok)
	assert.Error(t, err)

	_, err = Verify("", tok)
	assert.ErrorIs(t, err, ErrNoSecret)

	expired, err := Mint("s3cret", "", "alice", nil, time.Minute, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	_, err = Verify("s3cret", expired)
	assert.Error(t, err)

	_, err = Verify("s3cret", "not-a-token")
	assert.Error(t, err)
}

func TestMintRequiresSecretAndSubject(t *testing.T) {
	_, err := Mint("", "", "alice", nil, 0, time.Now())
	assert.ErrorIs(t, err, ErrNoSecret)
	_, err = Mint("s3cret", "", " ", nil, 0, time.Now())
	assert.Error(t, err)
}
