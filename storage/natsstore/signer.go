package natsstore

import (
	stderrors "errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/JiseokYu/code-push-server/errors"
)

// URLSigner mints short-lived public read URLs for blobs. The backend
// has no native signed-URL support, so a download front serves the blob
// after verifying an HMAC token carrying the blob id and expiry.
type URLSigner struct {
	base       string
	secret     []byte
	defaultTTL time.Duration
	now        func() time.Time
}

// NewURLSigner creates a signer. base is the public download endpoint,
// defaultTTL applies when Sign is called with a non-positive ttl.
func NewURLSigner(base, secret string, defaultTTL time.Duration) (*URLSigner, error) {
	if base == "" {
		return nil, errors.New(errors.Invalid, "URLSigner", "NewURLSigner", "base url cannot be empty")
	}
	if secret == "" {
		return nil, errors.New(errors.Invalid, "URLSigner", "NewURLSigner", "secret cannot be empty")
	}
	if defaultTTL <= 0 {
		defaultTTL = time.Hour
	}
	return &URLSigner{
		base:       strings.TrimRight(base, "/"),
		secret:     []byte(secret),
		defaultTTL: defaultTTL,
		now:        time.Now,
	}, nil
}

// Sign returns a URL granting read access to the blob until the ttl
// elapses.
func (s *URLSigner) Sign(blobID string, ttl time.Duration) (string, error) {
	if blobID == "" {
		return "", errors.New(errors.Invalid, "URLSigner", "Sign", "blob id cannot be empty")
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:   blobID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", errors.Wrap(errors.Other, err, "URLSigner", "Sign", "sign token")
	}
	return fmt.Sprintf("%s/%s?token=%s", s.base, url.PathEscape(blobID), url.QueryEscape(token)), nil
}

// Verify checks a token and returns the blob id it grants access to. An
// expired token fails Expired, anything else malformed fails Invalid.
func (s *URLSigner) Verify(token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		if stderrors.Is(err, jwt.ErrTokenExpired) {
			return "", errors.Wrap(errors.Expired, err, "URLSigner", "Verify", "validate token")
		}
		return "", errors.Wrap(errors.Invalid, err, "URLSigner", "Verify", "parse token")
	}

	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", errors.New(errors.Invalid, "URLSigner", "Verify", "token carries no blob id")
	}
	return claims.Subject, nil
}
