package services

import (
	"regexp"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, secret string, method jwt.SigningMethod, claims JWTClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestValidateToken(t *testing.T) {
	auth := NewAuthService("secret")
	valid := JWTClaims{
		UserID: 12,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}

	claims, err := auth.ValidateToken(signToken(t, "secret", jwt.SigningMethodHS256, valid))
	require.NoError(t, err)
	assert.Equal(t, uint(12), claims.UserID)

	_, err = auth.ValidateToken(signToken(t, "other", jwt.SigningMethodHS256, valid))
	assert.Error(t, err)

	_, err = auth.ValidateToken(signToken(t, "secret", jwt.SigningMethodHS512, valid))
	assert.Error(t, err)

	expired := valid
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	_, err = auth.ValidateToken(signToken(t, "secret", jwt.SigningMethodHS256, expired))
	assert.Error(t, err)

	anonymous := valid
	anonymous.UserID = 0
	_, err = auth.ValidateToken(signToken(t, "secret", jwt.SigningMethodHS256, anonymous))
	assert.Error(t, err)
}

func TestOTPService(t *testing.T) {
	otp := NewOTPService(6, 4)
	digits := regexp.MustCompile(`^\d{6}$`)

	for i := 0; i < 50; i++ {
		code, err := otp.Generate()
		require.NoError(t, err)
		assert.Regexp(t, digits, code)
	}

	hash, err := otp.Hash("083921")
	require.NoError(t, err)
	assert.True(t, otp.Matches(hash, "083921"))
	assert.False(t, otp.Matches(hash, "83921"))
	assert.False(t, otp.Matches(hash, "000000"))
}
