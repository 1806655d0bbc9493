package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// BoardClaims are the claims the board app's auth service issues.
type BoardClaims struct {
	Name string `json:"name"`
	jwt.RegisteredClaims
}

// SecretResolver validates HS256 tokens signed with a shared secret.
type SecretResolver struct {
	secret []byte
	issuer string
}

func NewSecretResolver(secret, issuer string) (*SecretResolver, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is empty")
	}
	return &SecretResolver{secret: []byte(secret), issuer: issuer}, nil
}

func (s *SecretResolver) Resolve(r *http.Request) (Identity, error) {
	claims, err := s.ValidateToken(ExtractTokenFromRequest(r))
	if err != nil {
		return Identity{}, err
	}
	return identityFromClaims(r, claims.Subject, claims.Name)
}

// ValidateToken parses and verifies a token, returning its claims.
func (s *SecretResolver) ValidateToken(tokenString string) (*BoardClaims, error) {
	tokenString = strings.TrimPrefix(tokenString, "Bearer ")
	if tokenString == "" {
		return nil, ErrMissingToken
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &BoardClaims{}, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*BoardClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// IssueToken signs a token for userID. The board app's auth service uses the
// same format; the relay only needs it for tooling and tests.
func (s *SecretResolver) IssueToken(userID, name string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := BoardClaims{
		Name: name,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}
