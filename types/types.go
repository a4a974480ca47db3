// Package types defines the persisted entity shapes of the code-push
// storage layer: accounts, apps with collaborator maps, deployments,
// package records, access keys, and the secondary-index documents that
// keep them cross-referentially correct.
package types

import (
	"time"

	"github.com/JiseokYu/code-push-server/errors"
)

// Permission is a collaborator's role on an app.
type Permission string

const (
	// PermissionOwner marks the single owning collaborator of an app.
	PermissionOwner Permission = "Owner"
	// PermissionCollaborator marks a non-owning collaborator.
	PermissionCollaborator Permission = "Collaborator"
)

// Account is a registered account holder. Identity is immutable once
// created; other entities reference accounts by ID only.
type Account struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	Name        string    `json:"name,omitempty"`
	CreatedTime time.Time `json:"createdTime"`
}

// Collaborator is one entry in an app's collaborator map, keyed by email.
// IsCurrentAccount is a read-time projection for the requesting account
// and is never persisted.
type Collaborator struct {
	AccountID        string     `json:"accountId"`
	Permission       Permission `json:"permission"`
	IsCurrentAccount bool       `json:"-"`
}

// App is an application jointly owned by its collaborators. Exactly one
// collaborator carries PermissionOwner at all times.
type App struct {
	ID            string                  `json:"id"`
	Name          string                  `json:"name"`
	Collaborators map[string]Collaborator `json:"collaborators"`
	CreatedTime   time.Time               `json:"createdTime"`
}

// Owner returns the email and entry of the app's owning collaborator.
func (a *App) Owner() (string, Collaborator, bool) {
	for email, c := range a.Collaborators {
		if c.Permission == PermissionOwner {
			return email, c, true
		}
	}
	return "", Collaborator{}, false
}

// CollaboratorByAccountID returns the email and entry for the collaborator
// with the given account id.
func (a *App) CollaboratorByAccountID(accountID string) (string, Collaborator, bool) {
	for email, c := range a.Collaborators {
		if c.AccountID == accountID {
			return email, c, true
		}
	}
	return "", Collaborator{}, false
}

// Validate checks the invariants an app document must satisfy before it
// is persisted.
func (a *App) Validate() error {
	if a.Name == "" {
		return errors.New(errors.Invalid, "App", "Validate", "app name cannot be empty")
	}
	owners := 0
	for _, c := range a.Collaborators {
		if c.Permission == PermissionOwner {
			owners++
		}
	}
	if owners != 1 {
		return errors.New(errors.Invalid, "App", "Validate", "app must have exactly one owner")
	}
	return nil
}

// AppPointer is the reverse-lookup index document for one (account, app)
// pair. The backing store cannot answer "apps where account X appears in
// an embedded collaborator map", so one pointer exists per membership.
type AppPointer struct {
	AccountID string `json:"accountId"`
	AppID     string `json:"appId"`
}

// Deployment is a named release channel of an app. Key is globally
// unique and used for key-addressed lookups independent of the app id.
// Package is a denormalized copy of the history tail.
type Deployment struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Key         string    `json:"key"`
	Package     *Package  `json:"package,omitempty"`
	CreatedTime time.Time `json:"createdTime"`
}

// DeploymentInfo is the key-index document enforcing deployment-key
// global uniqueness and serving key-addressed lookups.
type DeploymentInfo struct {
	AppID        string `json:"appId"`
	DeploymentID string `json:"deploymentId"`
}

// Package is one immutable release record in a deployment's history.
type Package struct {
	AppVersion      string                 `json:"appVersion"`
	BlobURL         string                 `json:"blobUrl"`
	Description     string                 `json:"description,omitempty"`
	DiffPackageMap  map[string]PackageDiff `json:"diffPackageMap,omitempty"`
	IsDisabled      bool                   `json:"isDisabled"`
	IsMandatory     bool                   `json:"isMandatory"`
	Label           string                 `json:"label"`
	ManifestBlobURL string                 `json:"manifestBlobUrl,omitempty"`
	PackageHash     string                 `json:"packageHash"`
	ReleasedBy      string                 `json:"releasedBy,omitempty"`
	ReleaseMethod   string                 `json:"releaseMethod,omitempty"`
	Rollout         *int                   `json:"rollout,omitempty"`
	Size            int64                  `json:"size"`
	UploadTime      time.Time              `json:"uploadTime"`
}

// PackageDiff describes a precomputed diff against an earlier release.
type PackageDiff struct {
	URL  string `json:"url"`
	Size int64  `json:"size"`
}

// ValidateRollout checks the rollout percentage range. nil means full
// rollout.
func (p *Package) ValidateRollout() error {
	if p.Rollout == nil {
		return nil
	}
	if *p.Rollout < 1 || *p.Rollout > 100 {
		return errors.New(errors.Invalid, "Package", "ValidateRollout", "rollout must be between 1 and 100")
	}
	return nil
}

// AccessKey is an API credential created by an account. Expiry is
// evaluated at read time, never purged proactively.
type AccessKey struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	FriendlyName string    `json:"friendlyName,omitempty"`
	Description  string    `json:"description,omitempty"`
	CreatedBy    string    `json:"createdBy"`
	CreatedTime  time.Time `json:"createdTime"`
	Expires      time.Time `json:"expires"`
}

// IsExpired reports whether the key is past its expiry at the given time.
// A zero Expires never expires.
func (k *AccessKey) IsExpired(now time.Time) bool {
	return !k.Expires.IsZero() && !now.Before(k.Expires)
}

// AccessKeyPointer is the name-index document resolving an access key
// name to its owning account, used by the credential-resolution path.
type AccessKeyPointer struct {
	AccountID   string `json:"accountId"`
	AccessKeyID string `json:"accessKeyId"`
}

// EmailPointer is the email-index document enforcing account email
// uniqueness and serving email lookups.
type EmailPointer struct {
	AccountID string `json:"accountId"`
}
