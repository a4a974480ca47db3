package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JiseokYu/code-push-server/errors"
)

func TestAppValidate(t *testing.T) {
	tests := []struct {
		name    string
		app     App
		wantErr bool
	}{
		{
			name: "single owner is valid",
			app: App{
				Name: "my-app",
				Collaborators: map[string]Collaborator{
					"owner@example.com": {AccountID: "a1", Permission: PermissionOwner},
					"dev@example.com":   {AccountID: "a2", Permission: PermissionCollaborator},
				},
			},
		},
		{
			name: "no owner fails",
			app: App{
				Name: "my-app",
				Collaborators: map[string]Collaborator{
					"dev@example.com": {AccountID: "a2", Permission: PermissionCollaborator},
				},
			},
			wantErr: true,
		},
		{
			name: "two owners fails",
			app: App{
				Name: "my-app",
				Collaborators: map[string]Collaborator{
					"a@example.com": {AccountID: "a1", Permission: PermissionOwner},
					"b@example.com": {AccountID: "a2", Permission: PermissionOwner},
				},
			},
			wantErr: true,
		},
		{
			name:    "empty name fails",
			app:     App{Collaborators: map[string]Collaborator{"a@example.com": {AccountID: "a1", Permission: PermissionOwner}}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.app.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsInvalid(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAppOwnerLookup(t *testing.T) {
	app := App{
		Name: "my-app",
		Collaborators: map[string]Collaborator{
			"owner@example.com": {AccountID: "a1", Permission: PermissionOwner},
			"dev@example.com":   {AccountID: "a2", Permission: PermissionCollaborator},
		},
	}

	email, c, ok := app.Owner()
	require.True(t, ok)
	assert.Equal(t, "owner@example.com", email)
	assert.Equal(t, "a1", c.AccountID)

	email, c, ok = app.CollaboratorByAccountID("a2")
	require.True(t, ok)
	assert.Equal(t, "dev@example.com", email)
	assert.Equal(t, PermissionCollaborator, c.Permission)

	_, _, ok = app.CollaboratorByAccountID("unknown")
	assert.False(t, ok)
}

func TestPackageValidateRollout(t *testing.T) {
	pct := func(n int) *int { return &n }

	assert.NoError(t, (&Package{}).ValidateRollout())
	assert.NoError(t, (&Package{Rollout: pct(1)}).ValidateRollout())
	assert.NoError(t, (&Package{Rollout: pct(100)}).ValidateRollout())
	assert.True(t, errors.IsInvalid((&Package{Rollout: pct(0)}).ValidateRollout()))
	assert.True(t, errors.IsInvalid((&Package{Rollout: pct(101)}).ValidateRollout()))
}

func TestAccessKeyIsExpired(t *testing.T) {
	now := time.Now()

	key := AccessKey{Expires: now.Add(time.Hour)}
	assert.False(t, key.IsExpired(now))
	assert.True(t, key.IsExpired(now.Add(time.Hour)))
	assert.True(t, key.IsExpired(now.Add(2*time.Hour)))

	// Zero expiry never expires.
	forever := AccessKey{}
	assert.False(t, forever.IsExpired(now))
}
