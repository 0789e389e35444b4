package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("correct horse")
	require.NoError(t, err)
	assert.NotEqual(t, "correct horse", hash)
	assert.True(t, CheckPassword(hash, "correct horse"))
	assert.False(t, CheckPassword(hash, "wrong horse"))
	assert.False(t, CheckPassword("not-a-hash", "correct horse"))
}

func TestValidatePassword(t *testing.T) {
	assert.False(t, ValidatePassword("short"))
	assert.True(t, ValidatePassword("12345678"))
	assert.True(t, ValidatePassword(strings.Repeat("a", 64)))
	assert.False(t, ValidatePassword(strings.Repeat("a", 65)))
}

func TestValidateEmail(t *testing.T) {
	valid := []string{"asha@campus.edu", "a.b+c@x.co.in"}
	invalid := []string{"", "asha", "asha@", "@campus.edu", "asha@campus", strings.Repeat("a", 250) + "@x.com"}
	for _, e := range valid {
		assert.True(t, ValidateEmail(e), e)
	}
	for _, e := range invalid {
		assert.False(t, ValidateEmail(e), e)
	}
}

func TestValidatePhone(t *testing.T) {
	assert.True(t, ValidatePhone("+91 98765 43210"))
	assert.True(t, ValidatePhone("9876543210"))
	assert.False(t, ValidatePhone("call me"))
	assert.False(t, ValidatePhone("12"))
}
