package storage

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/JiseokYu/code-push-server/errors"
	"github.com/JiseokYu/code-push-server/types"
)

// AccountRepository provides account CRUD and email lookup. Email
// uniqueness is enforced through a create-only write on the email index
// collection, the only uniqueness primitive the backend offers.
type AccountRepository struct {
	s *Storage
}

// AddAccount assigns a new id and persists the account, returning the id.
// A duplicate email fails AlreadyExists.
func (r *AccountRepository) AddAccount(ctx context.Context, account types.Account) (string, error) {
	if err := r.s.ready(ctx); err != nil {
		return "", err
	}
	if account.Email == "" {
		return "", errors.New(errors.Invalid, "AccountRepository", "AddAccount", "email cannot be empty")
	}

	account.ID = uuid.NewString()
	account.CreatedTime = r.s.now()

	pointer, err := json.Marshal(types.EmailPointer{AccountID: account.ID})
	if err != nil {
		return "", errors.Wrap(errors.Other, err, "AccountRepository", "AddAccount", "marshal email pointer")
	}

	// The email index write goes first: it is the uniqueness guard. If
	// the account write below fails the index dangles, surfaced as a
	// NotFound on the next lookup rather than a broken account.
	if err := r.s.docs.Create(ctx, CollectionAccountEmails, EncodeKeyToken(account.Email), pointer); err != nil {
		return "", errors.Wrap(errors.AlreadyExists, err, "AccountRepository", "AddAccount", "create email index")
	}

	data, err := json.Marshal(account)
	if err != nil {
		return "", errors.Wrap(errors.Other, err, "AccountRepository", "AddAccount", "marshal account")
	}
	if err := r.s.docs.Set(ctx, CollectionAccounts, account.ID, data); err != nil {
		return "", errors.Wrap(errors.Other, err, "AccountRepository", "AddAccount", "persist account")
	}

	r.s.logger.Debug("account created", "accountId", account.ID)
	return account.ID, nil
}

// GetAccount fetches an account by id, failing NotFound if absent.
func (r *AccountRepository) GetAccount(ctx context.Context, accountID string) (types.Account, error) {
	if err := r.s.ready(ctx); err != nil {
		return types.Account{}, err
	}

	data, err := r.s.docs.Get(ctx, CollectionAccounts, accountID)
	if err != nil {
		return types.Account{}, errors.Wrap(errors.NotFound, err, "AccountRepository", "GetAccount", "fetch account")
	}

	var account types.Account
	if err := json.Unmarshal(data, &account); err != nil {
		return types.Account{}, errors.Wrap(errors.Other, err, "AccountRepository", "GetAccount", "unmarshal account")
	}
	return account, nil
}

// GetAccountByEmail resolves an email through the index collection,
// failing NotFound if no account holds it.
func (r *AccountRepository) GetAccountByEmail(ctx context.Context, email string) (types.Account, error) {
	if err := r.s.ready(ctx); err != nil {
		return types.Account{}, err
	}

	data, err := r.s.docs.Get(ctx, CollectionAccountEmails, EncodeKeyToken(email))
	if err != nil {
		return types.Account{}, errors.Wrap(errors.NotFound, err, "AccountRepository", "GetAccountByEmail", "fetch email index")
	}

	var pointer types.EmailPointer
	if err := json.Unmarshal(data, &pointer); err != nil {
		return types.Account{}, errors.Wrap(errors.Other, err, "AccountRepository", "GetAccountByEmail", "unmarshal email index")
	}
	return r.GetAccount(ctx, pointer.AccountID)
}

// UpdateAccount is deliberately disabled: account identity is immutable
// once created, and re-enabling mutation requires revisiting the email
// index protocol first.
func (r *AccountRepository) UpdateAccount(ctx context.Context, email string, patch types.Account) error {
	return errors.New(errors.Invalid, "AccountRepository", "UpdateAccount", "account update is not supported")
}
