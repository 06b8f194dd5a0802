package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt"
)

const (
	sessionIdClaim = "sid"
	expClaim       = "exp"
)

func signToken(key []byte, sessionId string, expiresAt time.Time) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		sessionIdClaim: sessionId,
		expClaim:       expiresAt.Unix(),
	})

	return token.SignedString(key)
}

// parseToken verifies the signature and expiry of tokenString and returns the
// session id it carries.
func parseToken(key []byte, tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}

		return key, nil
	})
	if err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}

	if !token.Valid {
		return "", fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("invalid token claims")
	}

	sid, ok := claims[sessionIdClaim].(string)
	if !ok || sid == "" {
		return "", fmt.Errorf("invalid session id claim")
	}

	return sid, nil
}
