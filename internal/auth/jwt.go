package auth

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/golang-jwt/jwt/v5"

	"residence-cloud/internal/apperr"
)

// Claims represents JWT claims used by this service.
type Claims struct {
	Role        string `json:"role"`
	ApartmentID string `json:"apt_id,omitempty"`
	jwt.RegisteredClaims
}

// ParseJWT validates a JWT and returns claims.
func ParseJWT(tokenString string, secret []byte) (*Claims, error) {
	if tokenString == "" {
		return nil, errors.Mark(errors.New("auth: empty token"), apperr.ErrUnauthorized)
	}
	if len(secret) == 0 {
		return nil, errors.New("auth: empty secret")
	}

	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &Claims{}
	token, err := parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("auth: invalid signing method")
		}
		return secret, nil
	})
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "auth: parse token"), apperr.ErrUnauthorized)
	}
	if !token.Valid {
		return nil, errors.Mark(errors.New("auth: invalid token"), apperr.ErrUnauthorized)
	}
	if claims.Subject == "" {
		return nil, errors.Mark(errors.New("auth: missing sub"), apperr.ErrUnauthorized)
	}
	role, ok := NormalizeRole(claims.Role)
	if !ok {
		return nil, errors.Mark(errors.New("auth: invalid role"), apperr.ErrUnauthorized)
	}
	if role == RoleUser && claims.ApartmentID == "" {
		return nil, errors.Mark(errors.New("auth: user token without apt_id"), apperr.ErrUnauthorized)
	}
	if claims.ExpiresAt != nil && time.Now().After(claims.ExpiresAt.Time) {
		return nil, errors.Mark(errors.New("auth: token expired"), apperr.ErrUnauthorized)
	}
	return claims, nil
}

// IssueJWT signs an HS256 token for subject. Used by tooling and tests.
func IssueJWT(secret []byte, subject string, role Role, apartmentID string, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("auth: empty secret")
	}
	now := time.Now()
	claims := Claims{
		Role:        string(role),
		ApartmentID: apartmentID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now.Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
