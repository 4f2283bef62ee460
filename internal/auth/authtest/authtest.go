// Package authtest mints tokens accepted by auth.JWTVerifier.
package authtest

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const Secret = "test-secret"

func Token(t testing.TB, userID uuid.UUID, name string) string {
	t.Helper()
	return sign(t, userID, name, time.Now().Add(time.Hour))
}

func ExpiredToken(t testing.TB, userID uuid.UUID) string {
	t.Helper()
	return sign(t, userID, "", time.Now().Add(-time.Minute))
}

func sign(t testing.TB, userID uuid.UUID, name string, exp time.Time) string {
	claims := jwt.MapClaims{
		"sub":  userID.String(),
		"name": name,
		"exp":  exp.Unix(),
		"iat":  time.Now().Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(Secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}
