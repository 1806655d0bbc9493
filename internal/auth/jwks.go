package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"
)

const jwksRefreshInterval = 24 * time.Hour

type JWKS struct {
	Keys []JWK `json:"keys"`
}

type JWK struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
	Alg string `json:"alg"`
}

// JWKSResolver validates RS256 tokens against the signing keys an issuer
// publishes at /.well-known/jwks.json.
type JWKSResolver struct {
	issuer     string
	httpClient *http.Client

	mu   sync.RWMutex
	jwks *JWKS
	keys map[string]*rsa.PublicKey
}

// NewJWKSResolver fetches the issuer's key set once before returning.
func NewJWKSResolver(ctx context.Context, issuerURL string, httpClient *http.Client) (*JWKSResolver, error) {
	if issuerURL == "" {
		return nil, errors.New("jwks issuer url is empty")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	j := &JWKSResolver{
		issuer:     strings.TrimSuffix(issuerURL, "/"),
		httpClient: httpClient,
		keys:       make(map[string]*rsa.PublicKey),
	}
	if err := j.Refresh(ctx); err != nil {
		return nil, err
	}
	return j, nil
}

// Run refreshes the key set every 24 hours until ctx is done.
func (j *JWKSResolver) Run(ctx context.Context) {
	ticker := time.NewTicker(jwksRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := j.Refresh(ctx); err != nil {
				slog.Error("[AUTH] Error refreshing JWKS", "error", err)
			} else {
				slog.Info("[AUTH] JWKS refreshed successfully")
			}
		}
	}
}

func (j *JWKSResolver) Refresh(ctx context.Context) error {
	jwksURL := j.issuer + "/.well-known/jwks.json"
	slog.Debug("[AUTH] Fetching JWKS", "url", jwksURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, jwksURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build JWKS request: %w", err)
	}
	resp, err := j.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("JWKS endpoint returned status %d", resp.StatusCode)
	}

	var jwks JWKS
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return fmt.Errorf("failed to decode JWKS: %w", err)
	}

	j.mu.Lock()
	j.jwks = &jwks
	// Clear cache to force re-conversion
	j.keys = make(map[string]*rsa.PublicKey)
	j.mu.Unlock()

	slog.Info("[AUTH] JWKS loaded", "keys", len(jwks.Keys))
	return nil
}

func (j *JWKSResolver) Resolve(r *http.Request) (Identity, error) {
	claims, err := j.ValidateToken(ExtractTokenFromRequest(r))
	if err != nil {
		return Identity{}, err
	}
	return identityFromClaims(r, claims.Subject, claims.Name)
}

func (j *JWKSResolver) ValidateToken(tokenString string) (*BoardClaims, error) {
	tokenString = strings.TrimPrefix(tokenString, "Bearer ")
	if tokenString == "" {
		return nil, ErrMissingToken
	}

	token, err := jwt.ParseWithClaims(tokenString, &BoardClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		kid, ok := token.Header["kid"].(string)
		if !ok {
			return nil, errors.New("kid not found in token header")
		}
		return j.publicKey(kid)
	}, jwt.WithIssuer(j.issuer))
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

// publicKey returns the cached RSA key for kid, converting it on first use.
func (j *JWKSResolver) publicKey(kid string) (*rsa.PublicKey, error) {
	j.mu.RLock()
	key, ok := j.keys[kid]
	jwks := j.jwks
	j.mu.RUnlock()
	if ok {
		return key, nil
	}

	if jwks == nil {
		return nil, errors.New("JWKS not initialized")
	}

	for _, jwk := range jwks.Keys {
		if jwk.Kid != kid {
			continue
		}
		key, err := jwkToPublicKey(jwk)
		if err != nil {
			return nil, err
		}
		j.mu.Lock()
		j.keys[kid] = key
		j.mu.Unlock()
		return key, nil
	}

	return nil, fmt.Errorf("key with kid %s not found in JWKS", kid)
}

func jwkToPublicKey(jwk JWK) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(jwk.N)
	if err != nil {
		return nil, fmt.Errorf("failed to decode modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(jwk.E)
	if err != nil {
		return nil, fmt.Errorf("failed to decode exponent: %w", err)
	}

	var e int
	for _, b := range eBytes {
		e = e<<8 + int(b)
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: e,
	}, nil
}
