package services

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"
)

const (
	GoogleJWKSURL = "https://www.googleapis.com/oauth2/v3/certs"

	// minJWKSRefresh bounds how often an unknown kid may force a refetch.
	minJWKSRefresh = 30 * time.Second
)

var (
	ErrInvalidIDToken    = errors.New("invalid ID token")
	ErrInvalidIssuer     = errors.New("invalid issuer")
	ErrMissingSubject    = errors.New("missing subject claim")
	ErrUnknownSigningKey = errors.New("unknown signing key")
)

// IdentityVerifier checks an identity token issued by the external provider.
type IdentityVerifier interface {
	Verify(ctx context.Context, rawToken string) (*Identity, error)
}

// JWKSCache caches the provider's RSA signing keys by kid.
type JWKSCache struct {
	uri        string
	httpClient *http.Client
	ttl        time.Duration

	mu      sync.RWMutex
	keys    map[string]*rsa.PublicKey
	fetched time.Time
}

func NewJWKSCache(uri string, client *http.Client, ttl time.Duration) *JWKSCache {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &JWKSCache{
		uri:        uri,
		httpClient: client,
		ttl:        ttl,
		keys:       make(map[string]*rsa.PublicKey),
	}
}

// GetKey returns the key for kid, refreshing when the cache is stale or the kid
// is unknown. A stale key is served if the refresh fails.
func (c *JWKSCache) GetKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	c.mu.RLock()
	key, ok := c.keys[kid]
	age := time.Since(c.fetched)
	c.mu.RUnlock()

	if ok && age <= c.ttl {
		return key, nil
	}
	if !ok && age < minJWKSRefresh && age <= c.ttl {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSigningKey, kid)
	}

	keys, err := c.refresh(ctx, !ok)
	if err != nil {
		if ok {
			return key, nil
		}
		return nil, err
	}
	key, ok = keys[kid]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSigningKey, kid)
	}
	return key, nil
}

func (c *JWKSCache) refresh(ctx context.Context, force bool) (map[string]*rsa.PublicKey, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Another goroutine may have refreshed while we waited for the lock.
	age := time.Since(c.fetched)
	if len(c.keys) > 0 && (age < minJWKSRefresh || (!force && age <= c.ttl)) {
		return c.keys, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.uri, http.NoBody)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch JWKS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("JWKS fetch failed with status %d", resp.StatusCode)
	}

	var jwks struct {
		Keys []struct {
			Kty string `json:"kty"`
			Kid string `json:"kid"`
			N   string `json:"n"`
			E   string `json:"e"`
		} `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return nil, fmt.Errorf("decode JWKS: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(jwks.Keys))
	for _, k := range jwks.Keys {
		if k.Kty != "RSA" {
			continue
		}
		nBytes, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(k.N, "="))
		if err != nil {
			continue
		}
		eBytes, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(k.E, "="))
		if err != nil {
			continue
		}
		e := 0
		for _, b := range eBytes {
			e = e<<8 + int(b)
		}
		keys[k.Kid] = &rsa.PublicKey{N: new(big.Int).SetBytes(nBytes), E: e}
	}

	c.keys = keys
	c.fetched = time.Now()
	return c.keys, nil
}

type GoogleVerifierConfig struct {
	ClientID string
	Issuers  []string
	// Leeway allows for clock differences with the provider.
	Leeway time.Duration
}

// GoogleVerifier validates Google-issued ID tokens.
type GoogleVerifier struct {
	cfg  GoogleVerifierConfig
	keys *JWKSCache
}

func NewGoogleVerifier(cfg GoogleVerifierConfig, keys *JWKSCache) *GoogleVerifier {
	if len(cfg.Issuers) == 0 {
		cfg.Issuers = []string{"accounts.google.com", "https://accounts.google.com"}
	}
	if cfg.Leeway == 0 {
		cfg.Leeway = time.Minute
	}
	return &GoogleVerifier{cfg: cfg, keys: keys}
}

type googleClaims struct {
	Name          string `json:"name"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Picture       string `json:"picture"`
	jwt.RegisteredClaims
}

func (v *GoogleVerifier) Verify(ctx context.Context, rawToken string) (*Identity, error) {
	if rawToken == "" {
		return nil, ErrInvalidIDToken
	}

	claims := &googleClaims{}
	_, err := jwt.ParseWithClaims(rawToken, claims, func(token *jwt.Token) (any, error) {
		kid, ok := token.Header["kid"].(string)
		if !ok || kid == "" {
			return nil, errors.New("token missing kid header")
		}
		return v.keys.GetKey(ctx, kid)
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithAudience(v.cfg.ClientID),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.cfg.Leeway),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidIDToken, err)
	}

	if !slices.Contains(v.cfg.Issuers, claims.Issuer) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidIssuer, claims.Issuer)
	}
	if claims.Subject == "" {
		return nil, ErrMissingSubject
	}

	return &Identity{
		Subject:       claims.Subject,
		Name:          claims.Name,
		Email:         claims.Email,
		Picture:       claims.Picture,
		EmailVerified: claims.EmailVerified,
	}, nil
}
