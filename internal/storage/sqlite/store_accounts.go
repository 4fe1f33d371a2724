package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/keystep-id/keystep/internal/storage"
)

// PutAccount upserts an account record.
func (s *Store) PutAccount(ctx context.Context, account storage.Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(account.ID) == "" {
		return fmt.Errorf("account id is required")
	}
	if strings.TrimSpace(account.Address) == "" {
		return fmt.Errorf("account address is required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO accounts (id, address, secret_hash, totp_secret, has_credential, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	address = excluded.address,
	secret_hash = excluded.secret_hash,
	totp_secret = excluded.totp_secret,
	has_credential = excluded.has_credential,
	updated_at = excluded.updated_at
`,
		account.ID,
		account.Address,
		account.SecretHash,
		account.TOTPSecret,
		boolToInt(account.HasCredential),
		toMillis(account.CreatedAt),
		toMillis(account.UpdatedAt),
	)
	if err != nil {
		if uniqueViolationOn(err, "accounts.address") {
			return storage.ErrAddressTaken
		}
		return fmt.Errorf("put account: %w", err)
	}
	return nil
}

// GetAccount fetches an account by id.
func (s *Store) GetAccount(ctx context.Context, accountID string) (storage.Account, error) {
	if err := ctx.Err(); err != nil {
		return storage.Account{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.Account{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(accountID) == "" {
		return storage.Account{}, fmt.Errorf("account id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, accountSelect+` WHERE id = ?`, accountID)
	return scanAccount(row)
}

// GetAccountByAddress fetches an account by its contact address.
func (s *Store) GetAccountByAddress(ctx context.Context, address string) (storage.Account, error) {
	if err := ctx.Err(); err != nil {
		return storage.Account{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.Account{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(address) == "" {
		return storage.Account{}, fmt.Errorf("address is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, accountSelect+` WHERE address = ?`, address)
	return scanAccount(row)
}

// SetHasCredential updates the denormalized has-credential flag.
func (s *Store) SetHasCredential(ctx context.Context, accountID string, has bool, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(accountID) == "" {
		return fmt.Errorf("account id is required")
	}

	result, err := s.sqlDB.ExecContext(ctx,
		`UPDATE accounts SET has_credential = ?, updated_at = ? WHERE id = ?`,
		boolToInt(has), toMillis(now), accountID,
	)
	if err != nil {
		return fmt.Errorf("set has credential: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set has credential: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// UpdateAccountAddress rewrites the contact address after a verified change.
func (s *Store) UpdateAccountAddress(ctx context.Context, accountID, address string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(accountID) == "" {
		return fmt.Errorf("account id is required")
	}
	if strings.TrimSpace(address) == "" {
		return fmt.Errorf("address is required")
	}

	result, err := s.sqlDB.ExecContext(ctx,
		`UPDATE accounts SET address = ?, updated_at = ? WHERE id = ?`,
		address, toMillis(now), accountID,
	)
	if err != nil {
		if uniqueViolationOn(err, "accounts.address") {
			return storage.ErrAddressTaken
		}
		return fmt.Errorf("update account address: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update account address: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DeleteAccount removes the account row.
func (s *Store) DeleteAccount(ctx context.Context, accountID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(accountID) == "" {
		return fmt.Errorf("account id is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, accountID)
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

const accountSelect = `
SELECT id, address, secret_hash, totp_secret, has_credential, created_at, updated_at
FROM accounts`

func scanAccount(row rowScanner) (storage.Account, error) {
	var account storage.Account
	var hasCredential int
	var createdAt int64
	var updatedAt int64
	err := row.Scan(
		&account.ID,
		&account.Address,
		&account.SecretHash,
		&account.TOTPSecret,
		&hasCredential,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Account{}, storage.ErrNotFound
		}
		return storage.Account{}, fmt.Errorf("scan account: %w", err)
	}
	account.HasCredential = hasCredential != 0
	account.CreatedAt = fromMillis(createdAt)
	account.UpdatedAt = fromMillis(updatedAt)
	return account, nil
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}
