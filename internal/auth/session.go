package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// sessionIssuer identifies tokens minted by this service.
const sessionIssuer = "crudmeter"

// ErrInvalidSession indicates a session token that failed verification.
var ErrInvalidSession = errors.New("invalid session token")

// SessionClaims are the JWT claims carried by a dashboard session token.
type SessionClaims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// IssueSessionToken mints an HS256 session token for a user.
// Session tokens authenticate the dashboard surface (profile, recharge);
// they are distinct from API keys and carry no credit semantics.
func IssueSessionToken(userID, email, secret string, ttl time.Duration) (string, error) {
	now := time.Now()

	claims := &SessionClaims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    sessionIssuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}

	return signed, nil
}

// VerifySessionToken parses and validates a session token.
func VerifySessionToken(tokenString, secret string) (*SessionClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	}, jwt.WithIssuer(sessionIssuer))

	if err != nil {
		return nil, ErrInvalidSession
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, ErrInvalidSession
	}

	return claims, nil
}
