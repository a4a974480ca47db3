package storage

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/JiseokYu/code-push-server/errors"
	"github.com/JiseokYu/code-push-server/types"
)

// AccessKeyRepository provides API key issuance, lookup-by-name with
// expiry enforcement, and revocation. Keys are stored per account; the
// name index serves the credential-resolution path and guards name
// uniqueness.
type AccessKeyRepository struct {
	s *Storage
}

// AddAccessKey assigns an id, stamps creation metadata, and persists the
// key. A duplicate name fails AlreadyExists.
func (r *AccessKeyRepository) AddAccessKey(ctx context.Context, accountID string, key types.AccessKey) (types.AccessKey, error) {
	if err := r.s.ready(ctx); err != nil {
		return types.AccessKey{}, err
	}
	if key.Name == "" {
		return types.AccessKey{}, errors.New(errors.Invalid, "AccessKeyRepository", "AddAccessKey", "key name cannot be empty")
	}

	key.ID = uuid.NewString()
	key.CreatedBy = accountID
	key.CreatedTime = r.s.now()

	pointer, err := json.Marshal(types.AccessKeyPointer{AccountID: accountID, AccessKeyID: key.ID})
	if err != nil {
		return types.AccessKey{}, errors.Wrap(errors.Other, err, "AccessKeyRepository", "AddAccessKey", "marshal name index")
	}
	if err := r.s.docs.Create(ctx, CollectionAccessKeyNames, EncodeKeyToken(key.Name), pointer); err != nil {
		return types.AccessKey{}, errors.Wrap(errors.AlreadyExists, err, "AccessKeyRepository", "AddAccessKey", "create name index")
	}

	data, err := json.Marshal(key)
	if err != nil {
		return types.AccessKey{}, errors.Wrap(errors.Other, err, "AccessKeyRepository", "AddAccessKey", "marshal key")
	}
	if err := r.s.docs.Set(ctx, CollectionAccessKeys, compositeKey(accountID, key.ID), data); err != nil {
		return types.AccessKey{}, errors.Wrap(errors.Other, err, "AccessKeyRepository", "AddAccessKey", "persist key")
	}
	return key, nil
}

// GetAccessKey fetches a key by id, failing NotFound if absent or not
// owned by accountID.
func (r *AccessKeyRepository) GetAccessKey(ctx context.Context, accountID, keyID string) (types.AccessKey, error) {
	if err := r.s.ready(ctx); err != nil {
		return types.AccessKey{}, err
	}

	data, err := r.s.docs.Get(ctx, CollectionAccessKeys, compositeKey(accountID, keyID))
	if err != nil {
		return types.AccessKey{}, errors.Wrap(errors.NotFound, err, "AccessKeyRepository", "GetAccessKey", "fetch key")
	}

	var key types.AccessKey
	if err := json.Unmarshal(data, &key); err != nil {
		return types.AccessKey{}, errors.Wrap(errors.Other, err, "AccessKeyRepository", "GetAccessKey", "unmarshal key")
	}
	return key, nil
}

// GetAccessKeys lists all keys created by the account.
func (r *AccessKeyRepository) GetAccessKeys(ctx context.Context, accountID string) ([]types.AccessKey, error) {
	if err := r.s.ready(ctx); err != nil {
		return nil, err
	}

	ids, err := r.s.docs.Keys(ctx, CollectionAccessKeys, prefixFilter(accountID))
	if err != nil {
		return nil, errors.Wrap(errors.Other, err, "AccessKeyRepository", "GetAccessKeys", "list keys")
	}

	docs, err := r.s.docs.GetAll(ctx, CollectionAccessKeys, ids)
	if err != nil {
		return nil, errors.Wrap(errors.Other, err, "AccessKeyRepository", "GetAccessKeys", "batch fetch keys")
	}

	keys := make([]types.AccessKey, 0, len(ids))
	for _, id := range ids {
		data, ok := docs[id]
		if !ok {
			continue
		}
		var key types.AccessKey
		if err := json.Unmarshal(data, &key); err != nil {
			return nil, errors.Wrap(errors.Other, err, "AccessKeyRepository", "GetAccessKeys", "unmarshal key")
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// GetAccessKeyAccountID resolves a key name to its owning account. This
// is the credential-resolution path used by request authentication: a
// missing name fails NotFound, a key past its expiry fails Expired.
func (r *AccessKeyRepository) GetAccessKeyAccountID(ctx context.Context, name string) (string, error) {
	if err := r.s.ready(ctx); err != nil {
		return "", err
	}

	data, err := r.s.docs.Get(ctx, CollectionAccessKeyNames, EncodeKeyToken(name))
	if err != nil {
		return "", errors.Wrap(errors.NotFound, err, "AccessKeyRepository", "GetAccessKeyAccountID", "fetch name index")
	}

	var pointer types.AccessKeyPointer
	if err := json.Unmarshal(data, &pointer); err != nil {
		return "", errors.Wrap(errors.Other, err, "AccessKeyRepository", "GetAccessKeyAccountID", "unmarshal name index")
	}

	key, err := r.GetAccessKey(ctx, pointer.AccountID, pointer.AccessKeyID)
	if err != nil {
		return "", err
	}
	if key.IsExpired(r.s.now()) {
		return "", errors.New(errors.Expired, "AccessKeyRepository", "GetAccessKeyAccountID", "access key has expired")
	}
	return key.CreatedBy, nil
}

// RemoveAccessKey deletes an owned key and its name-index entry, failing
// NotFound if the account does not hold it.
func (r *AccessKeyRepository) RemoveAccessKey(ctx context.Context, accountID, keyID string) error {
	key, err := r.GetAccessKey(ctx, accountID, keyID)
	if err != nil {
		return err
	}

	if err := r.s.docs.Delete(ctx, CollectionAccessKeys, compositeKey(accountID, keyID)); err != nil {
		return errors.Wrap(errors.Other, err, "AccessKeyRepository", "RemoveAccessKey", "delete key")
	}
	// Index removal is the trailing best-effort step; a dangling name
	// entry resolves to a missing key and reads as NotFound.
	if err := r.s.docs.Delete(ctx, CollectionAccessKeyNames, EncodeKeyToken(key.Name)); err != nil {
		return errors.Wrap(errors.Other, err, "AccessKeyRepository", "RemoveAccessKey", "delete name index")
	}
	return nil
}

// UpdateAccessKey patches an owned key's mutable fields (friendly name,
// description, expiry, name), maintaining the name index on rename.
func (r *AccessKeyRepository) UpdateAccessKey(ctx context.Context, accountID string, patch types.AccessKey) error {
	if patch.ID == "" {
		return errors.New(errors.Invalid, "AccessKeyRepository", "UpdateAccessKey", "key id cannot be empty")
	}

	key, err := r.GetAccessKey(ctx, accountID, patch.ID)
	if err != nil {
		return err
	}

	oldName := key.Name
	if patch.Name != "" && patch.Name != key.Name {
		pointer, err := json.Marshal(types.AccessKeyPointer{AccountID: accountID, AccessKeyID: key.ID})
		if err != nil {
			return errors.Wrap(errors.Other, err, "AccessKeyRepository", "UpdateAccessKey", "marshal name index")
		}
		if err := r.s.docs.Create(ctx, CollectionAccessKeyNames, EncodeKeyToken(patch.Name), pointer); err != nil {
			return errors.Wrap(errors.AlreadyExists, err, "AccessKeyRepository", "UpdateAccessKey", "create name index")
		}
		key.Name = patch.Name
	}
	if patch.FriendlyName != "" {
		key.FriendlyName = patch.FriendlyName
	}
	if patch.Description != "" {
		key.Description = patch.Description
	}
	if !patch.Expires.IsZero() {
		key.Expires = patch.Expires
	}

	data, err := json.Marshal(key)
	if err != nil {
		return errors.Wrap(errors.Other, err, "AccessKeyRepository", "UpdateAccessKey", "marshal key")
	}
	if err := r.s.docs.Set(ctx, CollectionAccessKeys, compositeKey(accountID, key.ID), data); err != nil {
		return errors.Wrap(errors.Other, err, "AccessKeyRepository", "UpdateAccessKey", "persist key")
	}

	if oldName != key.Name {
		if err := r.s.docs.Delete(ctx, CollectionAccessKeyNames, EncodeKeyToken(oldName)); err != nil {
			return errors.Wrap(errors.Other, err, "AccessKeyRepository", "UpdateAccessKey", "delete old name index")
		}
	}
	return nil
}
