// Package storage implements the persistence layer of the code-push
// service: accounts, apps with collaborator ownership, deployments,
// size-bounded package-release history, and API access keys, kept
// cross-referentially correct over a document store and a blob store
// that offer no multi-document transactions.
package storage

import (
	"context"
	"encoding/base64"
	"time"
)

// Collection names of the document store. Reverse lookups are served by
// dedicated index collections whose keys encode the lookup dimension.
const (
	CollectionAccounts       = "accounts"
	CollectionAccountEmails  = "account_emails"
	CollectionApps           = "apps"
	CollectionAppPointers    = "app_pointers"
	CollectionDeployments    = "deployments"
	CollectionDeploymentKeys = "deployment_keys"
	CollectionAccessKeys     = "access_keys"
	CollectionAccessKeyNames = "access_key_names"
	CollectionHealth         = "health"
)

// Collections returns every collection the storage layer uses, in the
// order setup provisions them.
func Collections() []string {
	return []string{
		CollectionAccounts,
		CollectionAccountEmails,
		CollectionApps,
		CollectionAppPointers,
		CollectionDeployments,
		CollectionDeploymentKeys,
		CollectionAccessKeys,
		CollectionAccessKeyNames,
		CollectionHealth,
	}
}

// Health sentinel identifiers and payloads, read by the composite
// liveness check and written during setup.
const (
	HealthSentinelID     = "health"
	HealthSentinelBlobID = "health"
)

// SentinelDocument returns the expected health sentinel document.
func SentinelDocument() []byte {
	return []byte(`{"health":"health"}`)
}

// SentinelBlob returns the expected health sentinel blob content.
func SentinelBlob() []byte {
	return []byte("health")
}

// DocumentStore abstracts the backing document database. Implementations
// return kinded errors: Get reports NotFound for a missing document
// (distinguishable from a found-but-empty value), Create reports
// AlreadyExists on conflict.
type DocumentStore interface {
	// Get retrieves a document by id.
	Get(ctx context.Context, collection, id string) ([]byte, error)

	// Set upserts a document.
	Set(ctx context.Context, collection, id string, data []byte) error

	// Create stores a document only if the id is unused. This is the
	// uniqueness primitive the index-document protocol builds on.
	Create(ctx context.Context, collection, id string, data []byte) error

	// Update applies a read-modify-write under the backend's concurrency
	// control. update receives the current document (nil when absent) and
	// returns the replacement; an error from update aborts without
	// writing.
	Update(ctx context.Context, collection, id string, update func(current []byte) ([]byte, error)) error

	// Delete removes a document. Deleting a missing id is not an error.
	Delete(ctx context.Context, collection, id string) error

	// Keys lists document ids matching a subject filter such as
	// "accountID.*". An empty filter lists the whole collection.
	Keys(ctx context.Context, collection, filter string) ([]string, error)

	// GetAll batch-fetches documents by id. Missing ids are absent from
	// the result rather than errors.
	GetAll(ctx context.Context, collection string, ids []string) (map[string][]byte, error)
}

// BlobStore abstracts the backing blob store holding package histories.
type BlobStore interface {
	// Get downloads a whole blob. Missing blobs report NotFound.
	Get(ctx context.Context, id string) ([]byte, error)

	// Put uploads a whole blob, replacing any previous content.
	Put(ctx context.Context, id string, data []byte) error

	// Delete removes a blob. Deleting a missing id is not an error.
	Delete(ctx context.Context, id string) error

	// SignedReadURL mints a time-limited public read URL for a blob.
	SignedReadURL(ctx context.Context, id string, ttl time.Duration) (string, error)
}

// EncodeKeyToken maps caller-supplied strings (emails, key names) onto
// the restricted character set document ids allow.
func EncodeKeyToken(s string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(s))
}

// DecodeKeyToken reverses EncodeKeyToken.
func DecodeKeyToken(s string) (string, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// compositeKey joins two ids into an index key whose leading token is
// filterable with "first.*".
func compositeKey(first, second string) string {
	return first + "." + second
}

// prefixFilter builds the subject filter matching compositeKey(first, x).
func prefixFilter(first string) string {
	return first + ".*"
}

// historyBlobID derives the package-history blob id for a deployment.
func historyBlobID(deploymentID string) string {
	return "history." + deploymentID
}
