package auth

import (
	"errors"
	"net/http"
	"strings"
)

var (
	ErrMissingIdentity = errors.New("userId required")
	ErrMissingToken    = errors.New("token is empty")
	ErrInvalidToken    = errors.New("invalid token")
	ErrExpiredToken    = errors.New("token expired")
)

// Identity is the user a connection acts as.
type Identity struct {
	UserId   string
	UserName string
}

// Resolver establishes the identity of an incoming websocket request.
type Resolver interface {
	Resolve(r *http.Request) (Identity, error)
}

// QueryResolver trusts the userId and userName query parameters as given.
type QueryResolver struct{}

func (QueryResolver) Resolve(r *http.Request) (Identity, error) {
	q := r.URL.Query()
	id := Identity{
		UserId:   strings.TrimSpace(q.Get("userId")),
		UserName: q.Get("userName"),
	}
	if id.UserId == "" {
		return Identity{}, ErrMissingIdentity
	}
	return id, nil
}

// ExtractTokenFromRequest extracts JWT from request (query param or header)
func ExtractTokenFromRequest(r *http.Request) string {
	// Try query parameter first
	token := r.URL.Query().Get("token")
	if token != "" {
		return token
	}

	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}

	return ""
}

// identityFromClaims prefers the verified name claim and falls back to the
// userName query parameter.
func identityFromClaims(r *http.Request, subject, name string) (Identity, error) {
	if subject == "" {
		return Identity{}, ErrMissingIdentity
	}
	if name == "" {
		name = r.URL.Query().Get("userName")
	}
	return Identity{UserId: subject, UserName: name}, nil
}
