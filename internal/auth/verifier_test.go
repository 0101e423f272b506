package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testParams keeps argon2 cheap in tests.
var testParams = Argon2Params{
	Memory:      8 * 1024,
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

func TestHashAndVerifyPassword(t *testing.T) {
	encoded, err := HashPassword("s3cret", testParams)
	require.NoError(t, err)
	assert.Contains(t, encoded, "$argon2id$")

	ok, err := VerifyPassword("s3cret", encoded)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyPassword("wrong", encoded)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyPasswordRejectsMalformedHash(t *testing.T) {
	_, err := VerifyPassword("s3cret", "not-a-hash")
	assert.ErrorIs(t, err, ErrInvalidHash)

	_, err = VerifyPassword("s3cret", "$bcrypt$v=19$m=1,t=1,p=1$c2FsdA$aGFzaA")
	assert.ErrorIs(t, err, ErrInvalidHash)
}

func TestStaticVerifier(t *testing.T) {
	encoded, err := HashPassword("correct horse", testParams)
	require.NoError(t, err)

	verifier, err := NewStaticVerifier(map[string]string{"alice": encoded})
	require.NoError(t, err)
	ctx := context.Background()

	ok, err := verifier.Verify(ctx, "alice", "correct horse")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = verifier.Verify(ctx, "alice", "battery staple")
	require.NoError(t, err)
	assert.False(t, ok)

	// Unknown usernames fail the same way as bad passwords.
	ok, err = verifier.Verify(ctx, "mallory", "correct horse")
	require.NoError(t, err)
	assert.False(t, ok)
}
