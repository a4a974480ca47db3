package natsstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JiseokYu/code-push-server/errors"
)

func TestURLSignerSignAndVerify(t *testing.T) {
	signer, err := NewURLSigner("https://packages.example.com/download", "test-secret", time.Hour)
	require.NoError(t, err)

	url, err := signer.Sign("history.abc123", 10*time.Minute)
	require.NoError(t, err)
	assert.Contains(t, url, "https://packages.example.com/download/history.abc123?token=")

	token := url[len("https://packages.example.com/download/history.abc123?token="):]
	// The token is query-escaped in the URL but JWTs are URL-safe already.
	id, err := signer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "history.abc123", id)
}

func TestURLSignerExpiredToken(t *testing.T) {
	signer, err := NewURLSigner("https://example.com", "secret", time.Hour)
	require.NoError(t, err)

	base := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	signer.now = func() time.Time { return base }

	url, err := signer.Sign("blob", time.Minute)
	require.NoError(t, err)
	token := url[len("https://example.com/blob?token="):]

	signer.now = func() time.Time { return base.Add(2 * time.Minute) }
	_, err = signer.Verify(token)
	require.Error(t, err)
	assert.True(t, errors.IsExpired(err))
}

func TestURLSignerRejectsTamperedToken(t *testing.T) {
	signer, err := NewURLSigner("https://example.com", "secret", time.Hour)
	require.NoError(t, err)
	other, err := NewURLSigner("https://example.com", "different-secret", time.Hour)
	require.NoError(t, err)

	url, err := signer.Sign("blob", time.Minute)
	require.NoError(t, err)
	token := url[len("https://example.com/blob?token="):]

	_, err = other.Verify(token)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestURLSignerValidation(t *testing.T) {
	_, err := NewURLSigner("", "secret", time.Hour)
	assert.True(t, errors.IsInvalid(err))

	_, err = NewURLSigner("https://example.com", "", time.Hour)
	assert.True(t, errors.IsInvalid(err))

	signer, err := NewURLSigner("https://example.com/", "secret", 0)
	require.NoError(t, err)
	assert.Equal(t, time.Hour, signer.defaultTTL)

	_, err = signer.Sign("", time.Minute)
	assert.True(t, errors.IsInvalid(err))
}
