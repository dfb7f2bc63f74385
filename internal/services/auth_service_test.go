package services

import (
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func setAuthTestConfig() {
	viper.Set("jwt.secret_key", "test-secret")
	viper.Set("jwt.expiry_hours", 1)
	viper.Set("argon2.time", 1)
	viper.Set("argon2.memory", 8*1024)
	viper.Set("argon2.threads", 1)
	viper.Set("argon2.key_length", 32)
	viper.Set("argon2.salt_length", 16)
}

func TestPasswordHashing(t *testing.T) {
	setAuthTestConfig()

	t.Run("round trip", func(t *testing.T) {
		hashed, err := hashPassword("password123")
		assert.NoError(t, err)
		assert.NotEqual(t, "password123", hashed)
		assert.True(t, verifyPassword("password123", hashed))
	})

	t.Run("wrong password", func(t *testing.T) {
		hashed, err := hashPassword("password123")
		assert.NoError(t, err)
		assert.False(t, verifyPassword("wrong", hashed))
	})

	t.Run("unique salts", func(t *testing.T) {
		first, err := hashPassword("password123")
		assert.NoError(t, err)
		second, err := hashPassword("password123")
		assert.NoError(t, err)
		assert.NotEqual(t, first, second)
	})

	t.Run("malformed hash", func(t *testing.T) {
		assert.False(t, verifyPassword("password123", "not-a-hash"))
	})
}

func TestGenerateJWT(t *testing.T) {
	setAuthTestConfig()

	tokenString, err := generateJWT(42, "merchant")
	assert.NoError(t, err)

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return []byte("test-secret"), nil
	})
	assert.NoError(t, err)
	assert.True(t, token.Valid)

	claims, ok := token.Claims.(jwt.MapClaims)
	assert.True(t, ok)
	assert.Equal(t, float64(42), claims["user_id"])
	assert.Equal(t, "merchant", claims["role"])
	assert.NotNil(t, claims["exp"])
}
