package storage

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

const signedURLIssuer = "storage"

var (
	ErrInvalidToken   = errors.New("invalid signed URL token")
	ErrExpiredToken   = errors.New("signed URL has expired")
	ErrMethodMismatch = errors.New("signed URL does not grant this method")
	ErrKeyMismatch    = errors.New("signed URL was issued for a different key")
)

type urlClaims struct {
	jwt.RegisteredClaims
	Method Method `json:"mth"`
}

// URLSigner issues and verifies the tokens behind filesystem signed URLs.
// The object key is the token subject; the granted method is a claim.
type URLSigner struct {
	secret  []byte
	baseURL string
	now     func() time.Time
}

// NewURLSigner creates a signer for URLs under baseURL. An empty secret
// selects a random per-process secret, so URLs do not survive a restart.
func NewURLSigner(secret []byte, baseURL string) (*URLSigner, error) {
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("generating signing secret: %w", err)
		}
		log.Warn().Msg("No local signing secret configured, signed URLs will not survive a restart")
	}

	return &URLSigner{
		secret:  secret,
		baseURL: baseURL,
		now:     time.Now,
	}, nil
}

// Sign returns a URL granting method on key until now+expires.
func (s *URLSigner) Sign(key string, method Method, expires time.Duration) (*SignedURL, error) {
	now := s.now()
	expiresAt := now.Add(expires)

	claims := urlClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    signedURLIssuer,
			Subject:   key,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Method: method,
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("signing URL token: %w", err)
	}

	return &SignedURL{
		URL:       fmt.Sprintf("%s/%s?token=%s", s.baseURL, escapeKey(key), token),
		Method:    method,
		ExpiresAt: expiresAt,
	}, nil
}

// Verify checks that token grants method on key.
func (s *URLSigner) Verify(token, key string, method Method) error {
	parsed, err := jwt.ParseWithClaims(token, &urlClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	}, jwt.WithIssuer(signedURLIssuer), jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrExpiredToken
		}
		return ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*urlClaims)
	if !ok || !parsed.Valid {
		return ErrInvalidToken
	}
	if claims.Subject != key {
		return ErrKeyMismatch
	}
	if claims.Method != method {
		return ErrMethodMismatch
	}
	return nil
}
