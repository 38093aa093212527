// ABOUTME: JWT session tokens for operator authentication
// ABOUTME: Uses HS256 signing with the configured secret and a role claim

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// MinSecretLength is the minimum accepted HS256 secret length in bytes.
const MinSecretLength = 32

// RoleOperator is the role claim carried by operator session tokens.
const RoleOperator = "operator"

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
	ErrWeakSecret   = fmt.Errorf("jwt secret must be at least %d bytes", MinSecretLength)
)

// TokenVerifier turns a bearer token into a Session.
type TokenVerifier interface {
	Verify(tokenString string) (*Session, error)
}

// JWTVerifier implements TokenVerifier using HS256 signed JWTs
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier creates a new JWT verifier with the given secret
func NewJWTVerifier(secret []byte) (*JWTVerifier, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrWeakSecret
	}
	return &JWTVerifier{secret: secret}, nil
}

// Verify validates the token and builds a Session from its "sub" and "role" claims
func (v *JWTVerifier) Verify(tokenString string) (*Session, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return nil, fmt.Errorf("%w: sub", ErrMissingClaim)
	}

	role, _ := claims["role"].(string)
	return &Session{Identity: sub, Operator: role == RoleOperator}, nil
}

// Generate mints an operator session token for identity that expires after expiresIn
func (v *JWTVerifier) Generate(identity string, expiresIn time.Duration) (string, error) {
	if identity == "" {
		return "", fmt.Errorf("%w: sub", ErrMissingClaim)
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"sub":  identity,
		"role": RoleOperator,
		"iat":  now.Unix(),
		"exp":  now.Add(expiresIn).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
