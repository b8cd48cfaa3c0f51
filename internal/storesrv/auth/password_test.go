package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := HashPassword("s3cret-passw0rd")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$argon2id$"))

	assert.True(t, VerifyPassword("s3cret-passw0rd", hash))
	assert.False(t, VerifyPassword("wrong-password", hash))
	assert.False(t, VerifyPassword("", hash))
}

func TestHashPasswordUniqueSalts(t *testing.T) {
	h1, err := HashPassword("same")
	require.NoError(t, err)
	h2, err := HashPassword("same")
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
	assert.True(t, VerifyPassword("same", h1))
	assert.True(t, VerifyPassword("same", h2))
}

func TestVerifyPasswordMalformedHash(t *testing.T) {
	assert.False(t, VerifyPassword("x", ""))
	assert.False(t, VerifyPassword("x", "not-a-hash"))
	assert.False(t, VerifyPassword("x", "$argon2i$v=19$m=65536,t=1,p=4$c2FsdA$a2V5"))
	assert.False(t, VerifyPassword("x", "$argon2id$v=19$m=65536,t=1,p=4$!!!$a2V5"))
}
