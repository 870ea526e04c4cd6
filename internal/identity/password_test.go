package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("Password@123", bcrypt.MinCost)
	require.NoError(t, err)
	assert.NotEqual(t, "Password@123", hash)

	assert.True(t, CheckPassword(hash, "Password@123"))
	assert.False(t, CheckPassword(hash, "password@123"))
	assert.False(t, CheckPassword("not-a-hash", "Password@123"))
}
