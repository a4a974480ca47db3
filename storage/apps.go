package storage

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/JiseokYu/code-push-server/errors"
	"github.com/JiseokYu/code-push-server/types"
)

// AppRepository provides application CRUD and the collaborator/ownership
// protocol. For every (account, app) membership an AppPointer index
// document exists, created and removed alongside collaborator-map
// mutations; membership is re-validated on every read so a diverged
// pointer degrades to a stale listing, never privilege escalation.
type AppRepository struct {
	s *Storage
}

// AddApp persists a new app with the creating account as its sole Owner
// collaborator, then creates the matching AppPointer. If the pointer
// write fails after the app write the app exists without a pointer, a
// recoverable inconsistency surfaced on the next listing.
func (r *AppRepository) AddApp(ctx context.Context, accountID string, app types.App) (types.App, error) {
	if err := r.s.ready(ctx); err != nil {
		return types.App{}, err
	}

	account, err := r.s.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return types.App{}, err
	}

	app.ID = uuid.NewString()
	app.CreatedTime = r.s.now()
	app.Collaborators = map[string]types.Collaborator{
		account.Email: {AccountID: accountID, Permission: types.PermissionOwner},
	}
	if err := app.Validate(); err != nil {
		return types.App{}, err
	}

	if err := r.persistApp(ctx, &app); err != nil {
		return types.App{}, errors.Wrap(errors.Other, err, "AppRepository", "AddApp", "persist app")
	}
	if err := r.createPointer(ctx, accountID, app.ID); err != nil {
		return types.App{}, errors.Wrap(errors.Other, err, "AppRepository", "AddApp", "create app pointer")
	}

	r.s.logger.Debug("app created", "appId", app.ID, "owner", accountID)
	return app, nil
}

// GetApp fetches an app by id. It fails NotFound both when the app does
// not exist and when accountID is not among its collaborators; the
// matching collaborator entry is annotated IsCurrentAccount on the
// returned value only.
func (r *AppRepository) GetApp(ctx context.Context, accountID, appID string) (types.App, error) {
	if err := r.s.ready(ctx); err != nil {
		return types.App{}, err
	}

	data, err := r.s.docs.Get(ctx, CollectionApps, appID)
	if err != nil {
		return types.App{}, errors.Wrap(errors.NotFound, err, "AppRepository", "GetApp", "fetch app")
	}

	var app types.App
	if err := json.Unmarshal(data, &app); err != nil {
		return types.App{}, errors.Wrap(errors.Other, err, "AppRepository", "GetApp", "unmarshal app")
	}

	if !annotateCurrentAccount(&app, accountID) {
		return types.App{}, errors.New(errors.NotFound, "AppRepository", "GetApp", "app not found")
	}
	return app, nil
}

// GetApps lists the apps the account collaborates on, resolved through
// the AppPointer index and re-validated against each app's collaborator
// map. No pointers is an empty result, not an error.
func (r *AppRepository) GetApps(ctx context.Context, accountID string) ([]types.App, error) {
	if err := r.s.ready(ctx); err != nil {
		return nil, err
	}

	pointerKeys, err := r.s.docs.Keys(ctx, CollectionAppPointers, prefixFilter(accountID))
	if err != nil {
		return nil, errors.Wrap(errors.Other, err, "AppRepository", "GetApps", "list app pointers")
	}
	if len(pointerKeys) == 0 {
		return []types.App{}, nil
	}

	appIDs := make([]string, 0, len(pointerKeys))
	for _, key := range pointerKeys {
		appIDs = append(appIDs, strings.TrimPrefix(key, accountID+"."))
	}

	docs, err := r.s.docs.GetAll(ctx, CollectionApps, appIDs)
	if err != nil {
		return nil, errors.Wrap(errors.Other, err, "AppRepository", "GetApps", "batch fetch apps")
	}

	apps := make([]types.App, 0, len(appIDs))
	for _, id := range appIDs {
		data, ok := docs[id]
		if !ok {
			// Pointer without app: divergence from a failed multi-step
			// write. Skip rather than fail the listing.
			continue
		}
		var app types.App
		if err := json.Unmarshal(data, &app); err != nil {
			return nil, errors.Wrap(errors.Other, err, "AppRepository", "GetApps", "unmarshal app")
		}
		if !annotateCurrentAccount(&app, accountID) {
			continue
		}
		apps = append(apps, app)
	}
	return apps, nil
}

// UpdateApp overwrites the full app document after an authorized fetch.
func (r *AppRepository) UpdateApp(ctx context.Context, accountID string, app types.App) error {
	if app.ID == "" {
		return errors.New(errors.Invalid, "AppRepository", "UpdateApp", "app id cannot be empty")
	}
	if _, err := r.GetApp(ctx, accountID, app.ID); err != nil {
		return err
	}
	if err := app.Validate(); err != nil {
		return err
	}
	if err := r.persistApp(ctx, &app); err != nil {
		return errors.Wrap(errors.Other, err, "AppRepository", "UpdateApp", "persist app")
	}
	return nil
}

// TransferApp moves ownership to the account holding targetEmail. The
// current owner is demoted to Collaborator; the target is promoted or
// inserted as Owner, gaining an AppPointer if newly added. It fails
// AlreadyExists when the target already owns the app or already has an
// app of the same name.
func (r *AppRepository) TransferApp(ctx context.Context, accountID, appID, targetEmail string) error {
	if err := r.s.ready(ctx); err != nil {
		return err
	}

	var (
		app    types.App
		target types.Account
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		app, err = r.GetApp(gctx, accountID, appID)
		return err
	})
	g.Go(func() error {
		var err error
		target, err = r.s.accounts.GetAccountByEmail(gctx, targetEmail)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	targetApps, err := r.GetApps(ctx, target.ID)
	if err != nil {
		return err
	}
	for _, existing := range targetApps {
		if existing.ID != app.ID && existing.Name == app.Name {
			return errors.New(errors.AlreadyExists, "AppRepository", "TransferApp", "target already has an app with this name")
		}
	}

	// The demote/promote pair runs inside the CAS loop against the
	// freshest document, so a concurrent collaborator mutation cannot be
	// overwritten.
	var targetIsCollaborator bool
	err = r.mutateApp(ctx, appID, func(app *types.App) error {
		targetEntry, isCollaborator := app.Collaborators[target.Email]
		targetIsCollaborator = isCollaborator
		if isCollaborator && targetEntry.Permission == types.PermissionOwner {
			return errors.New(errors.AlreadyExists, "AppRepository", "TransferApp", "target already owns this app")
		}

		ownerEmail, ownerEntry, ok := app.Owner()
		if !ok {
			return errors.New(errors.Other, "AppRepository", "TransferApp", "app has no owner")
		}
		ownerEntry.Permission = types.PermissionCollaborator
		app.Collaborators[ownerEmail] = ownerEntry

		targetEntry.AccountID = target.ID
		targetEntry.Permission = types.PermissionOwner
		app.Collaborators[target.Email] = targetEntry
		return nil
	})
	if err != nil {
		return errors.Wrap(errors.Other, err, "AppRepository", "TransferApp", "persist app")
	}
	if !targetIsCollaborator {
		// Best-effort trailing step: a missing pointer surfaces as a
		// stale listing, repaired by re-adding the collaborator.
		if err := r.createPointer(ctx, target.ID, app.ID); err != nil {
			return errors.Wrap(errors.Other, err, "AppRepository", "TransferApp", "create app pointer")
		}
	}
	return nil
}

// AddCollaborator inserts the invitee as a Collaborator, then creates
// its AppPointer. The map insert goes through the document CAS loop so
// concurrent invitations to the same app all land.
func (r *AppRepository) AddCollaborator(ctx context.Context, accountID, appID, email string) error {
	if err := r.s.ready(ctx); err != nil {
		return err
	}

	var invitee types.Account
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := r.GetApp(gctx, accountID, appID)
		return err
	})
	g.Go(func() error {
		var err error
		invitee, err = r.s.accounts.GetAccountByEmail(gctx, email)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	err := r.mutateApp(ctx, appID, func(app *types.App) error {
		if _, ok := app.Collaborators[invitee.Email]; ok {
			return errors.New(errors.AlreadyExists, "AppRepository", "AddCollaborator", "account is already a collaborator")
		}
		app.Collaborators[invitee.Email] = types.Collaborator{
			AccountID:  invitee.ID,
			Permission: types.PermissionCollaborator,
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(errors.Other, err, "AppRepository", "AddCollaborator", "persist collaborator")
	}
	if err := r.createPointer(ctx, invitee.ID, appID); err != nil {
		return errors.Wrap(errors.Other, err, "AppRepository", "AddCollaborator", "create app pointer")
	}
	return nil
}

// RemoveCollaborator removes a collaborator entry and its pointer. It
// fails NotFound if the email is not a collaborator and Invalid if it is
// the Owner; ownership must be transferred first.
func (r *AppRepository) RemoveCollaborator(ctx context.Context, accountID, appID, email string) error {
	if _, err := r.GetApp(ctx, accountID, appID); err != nil {
		return err
	}

	var removedAccountID string
	err := r.mutateApp(ctx, appID, func(app *types.App) error {
		entry, ok := app.Collaborators[email]
		if !ok {
			return errors.New(errors.NotFound, "AppRepository", "RemoveCollaborator", "account is not a collaborator")
		}
		if entry.Permission == types.PermissionOwner {
			return errors.New(errors.Invalid, "AppRepository", "RemoveCollaborator", "cannot remove the app owner")
		}
		removedAccountID = entry.AccountID
		delete(app.Collaborators, email)
		return nil
	})
	if err != nil {
		return errors.Wrap(errors.Other, err, "AppRepository", "RemoveCollaborator", "persist app")
	}
	if err := r.s.docs.Delete(ctx, CollectionAppPointers, compositeKey(removedAccountID, appID)); err != nil {
		return errors.Wrap(errors.Other, err, "AppRepository", "RemoveCollaborator", "delete app pointer")
	}
	return nil
}

// RemoveApp is deliberately unimplemented: removing an app requires
// cascading deletion of pointers, deployments, and blob history, which
// has no safe protocol on this backend yet.
func (r *AppRepository) RemoveApp(ctx context.Context, accountID, appID string) error {
	return errors.New(errors.Invalid, "AppRepository", "RemoveApp", "app removal is not supported")
}

// persistApp writes the app document. Annotations never reach the
// backend: IsCurrentAccount is excluded from the serialized shape.
func (r *AppRepository) persistApp(ctx context.Context, app *types.App) error {
	data, err := json.Marshal(app)
	if err != nil {
		return err
	}
	return r.s.docs.Set(ctx, CollectionApps, app.ID, data)
}

// mutateApp applies a read-modify-write to the app document through the
// backend's compare-and-swap primitive. The mutation runs against the
// freshest document on every attempt, so its preconditions hold at
// write time.
func (r *AppRepository) mutateApp(ctx context.Context, appID string, mutate func(app *types.App) error) error {
	return r.s.docs.Update(ctx, CollectionApps, appID, func(current []byte) ([]byte, error) {
		if current == nil {
			return nil, errors.New(errors.NotFound, "AppRepository", "mutateApp", "app not found")
		}
		var app types.App
		if err := json.Unmarshal(current, &app); err != nil {
			return nil, errors.Wrap(errors.Other, err, "AppRepository", "mutateApp", "unmarshal app")
		}
		if err := mutate(&app); err != nil {
			return nil, err
		}
		return json.Marshal(&app)
	})
}

func (r *AppRepository) createPointer(ctx context.Context, accountID, appID string) error {
	data, err := json.Marshal(types.AppPointer{AccountID: accountID, AppID: appID})
	if err != nil {
		return err
	}
	return r.s.docs.Set(ctx, CollectionAppPointers, compositeKey(accountID, appID), data)
}

// annotateCurrentAccount marks the collaborator entry belonging to
// accountID, reporting whether the account is a member at all.
func annotateCurrentAccount(app *types.App, accountID string) bool {
	email, entry, ok := app.CollaboratorByAccountID(accountID)
	if !ok {
		return false
	}
	entry.IsCurrentAccount = true
	app.Collaborators[email] = entry
	return true
}
