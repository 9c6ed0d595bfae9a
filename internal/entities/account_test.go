package entities

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAccountIdFoldsCase(t *testing.T) {
	assert.Equal(t, NewAccountId("Someone"), NewAccountId("someone"))
	assert.Equal(t, NewAccountId("  Someone  "), NewAccountId("someone"))
}

func TestCachedSessionValidity(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	fresh := NewCachedSession("u", 3, 1, now.Add(-1*time.Hour).Unix())
	assert.True(t, fresh.IsValid(now))

	expired := NewCachedSession("u", 3, 1, now.Add(-25*time.Hour).Unix())
	assert.False(t, expired.IsValid(now))
	assert.Equal(t, int64(0), expired.RemainingSecs(now))
}

func TestCredentialsWithOTP(t *testing.T) {
	c := Credentials{Username: "a", Password: "b"}.WithOTP("123456")
	assert.Equal(t, "123456", c.OTP)
	assert.Equal(t, "a", c.Username)
}
