package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashSecret(t *testing.T) {
	hashed, err := HashSecret("sweep-key-0123456789")
	require.NoError(t, err)
	assert.NotEqual(t, "sweep-key-0123456789", hashed)

	assert.True(t, CheckSecret(hashed, "sweep-key-0123456789"))
	assert.False(t, CheckSecret(hashed, "wrong-key-0123456789"))
	assert.False(t, CheckSecret(hashed, ""))
	assert.False(t, CheckSecret("", "sweep-key-0123456789"))
}

func TestHashSecret_TooShort(t *testing.T) {
	_, err := HashSecret("short")
	assert.Error(t, err)
}
