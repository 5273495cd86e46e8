// Package keymanager manages the Ed25519 key pair used to sign and
// verify credentials. The key is held encrypted at rest in the database;
// a memory-only mode backs tests and development.
package keymanager

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog/log"

	"github.com/fenceline/fenceline/internal/common/apperrors"
	"github.com/fenceline/fenceline/internal/common/uuid"
	"github.com/fenceline/fenceline/internal/guardsrv/config"
	"github.com/fenceline/fenceline/internal/guardsrv/db"
	"github.com/fenceline/fenceline/internal/guardsrv/db/dberror"
	"github.com/fenceline/fenceline/internal/guardsrv/guardcommon"
)

// KeyManager provides the active signing key for credential issuance and
// verification.
type KeyManager interface {
	GetActiveKey(ctx context.Context) (*SigningKey, apperrors.Error)
}

// The database-backed implementation protects the private key with a
// password from configuration. Production deployments should front this
// with a KMS; the storage format is deliberately self-contained so the
// swap is local to this package.

var (
	keyManagerInstance *keyManager
	keyManagerOnce     sync.Once
)

// GetKeyManager returns the singleton instance of KeyManager.
func GetKeyManager() KeyManager {
	keyManagerOnce.Do(func() {
		keyManagerInstance = &keyManager{}
	})
	return keyManagerInstance
}

// ResetForTest clears the singleton so tests can exercise key creation.
func ResetForTest() {
	keyManagerOnce = sync.Once{}
	keyManagerInstance = nil
}

// SigningKey is an Ed25519 key pair used for signing credentials.
type SigningKey struct {
	KeyID      uuid.UUID
	PrivateKey ed25519.PrivateKey
	PublicKey  ed25519.PublicKey
	ExpiresAt  time.Time
}

// IsExpired checks if the signing key has expired.
func (sk *SigningKey) IsExpired() bool {
	return !sk.ExpiresAt.IsZero() && sk.ExpiresAt.Before(time.Now())
}

type keyManager struct {
	activeKey *SigningKey
	mu        sync.RWMutex
}

// GetActiveKey retrieves the active signing key, creating one if none
// exists yet.
func (km *keyManager) GetActiveKey(ctx context.Context) (*SigningKey, apperrors.Error) {
	km.mu.RLock()
	key := km.activeKey
	km.mu.RUnlock()
	if key != nil {
		return key, nil
	}
	return km.retrieveOrCreateKey(ctx)
}

func (km *keyManager) retrieveOrCreateKey(ctx context.Context) (*SigningKey, apperrors.Error) {
	km.mu.Lock()
	defer km.mu.Unlock()

	if km.activeKey != nil {
		return km.activeKey, nil
	}

	if config.Config().Auth.KeyStore == "memory" {
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, apperrors.New("unable to generate signing key").Err(err)
		}
		km.activeKey = &SigningKey{
			KeyID:      uuid.New(),
			PrivateKey: priv,
			PublicKey:  pub,
		}
		return km.activeKey, nil
	}

	var stored *storedKey
	err := retry.Do(func() error {
		var err apperrors.Error
		stored, err = getActiveStoredKey(ctx)
		if err != nil {
			if errors.Is(err, dberror.ErrNotFound) {
				return nil
			}
			return retry.Unrecoverable(err)
		}
		return nil
	}, retry.Attempts(3), retry.Delay(1*time.Second), retry.DelayType(retry.BackOffDelay))
	if err != nil {
		return nil, apperrors.New("unable to retrieve signing key").Err(err)
	}

	if stored == nil {
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("unable to generate signing key")
			return nil, apperrors.New("unable to generate signing key").Err(err)
		}

		encKey, err := guardcommon.Encrypt(priv, config.Config().Auth.KeyEncryptionPasswd)
		if err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("unable to encrypt signing key")
			return nil, apperrors.New("unable to encrypt signing key").Err(err)
		}

		stored = &storedKey{
			KeyID:         uuid.New(),
			PublicKey:     pub,
			PrivateKeyEnc: encKey,
			IsActive:      true,
		}

		err = retry.Do(func() error {
			return createStoredKey(ctx, stored)
		}, retry.Attempts(3), retry.Delay(1*time.Second), retry.DelayType(retry.BackOffDelay))
		if err != nil {
			return nil, apperrors.New("unable to persist signing key").Err(err)
		}

		km.activeKey = &SigningKey{
			KeyID:      stored.KeyID,
			PrivateKey: priv,
			PublicKey:  pub,
			ExpiresAt:  stored.ExpiresAt,
		}
	} else {
		decKey, err := guardcommon.Decrypt(stored.PrivateKeyEnc, config.Config().Auth.KeyEncryptionPasswd)
		if err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("unable to decrypt signing key")
			return nil, apperrors.New("unable to decrypt signing key").Err(err)
		}

		km.activeKey = &SigningKey{
			KeyID:      stored.KeyID,
			PrivateKey: decKey,
			PublicKey:  stored.PublicKey,
			ExpiresAt:  stored.ExpiresAt,
		}
	}

	return km.activeKey, nil
}

// storedKey is a row of the signing_keys table.
type storedKey struct {
	KeyID         uuid.UUID
	PublicKey     []byte
	PrivateKeyEnc []byte
	IsActive      bool
	ExpiresAt     time.Time
}

// getActiveStoredKey loads the active key row. Key management runs with
// its own connection; it is not tied to any request or tenant scope.
func getActiveStoredKey(ctx context.Context) (*storedKey, apperrors.Error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, dberror.ErrNoConnection.Err(err)
	}
	defer conn.Close(ctx)

	query := `
		SELECT key_id, public_key, private_key_enc, is_active, COALESCE(expires_at, 'epoch'::timestamptz)
		FROM signing_keys
		WHERE is_active = true`

	var key storedKey
	row := conn.Conn().QueryRowContext(ctx, query)
	errdb := row.Scan(&key.KeyID, &key.PublicKey, &key.PrivateKeyEnc, &key.IsActive, &key.ExpiresAt)
	if errdb != nil {
		if errdb == sql.ErrNoRows {
			return nil, dberror.ErrNotFound.Msg("no active signing key found")
		}
		log.Ctx(ctx).Error().Err(errdb).Msg("failed to get active signing key")
		return nil, dberror.ErrDatabase.Err(errdb)
	}
	if key.ExpiresAt.Unix() == 0 {
		key.ExpiresAt = time.Time{}
	}

	return &key, nil
}

// createStoredKey inserts a new key row, deactivating any existing
// active key in the same transaction.
func createStoredKey(ctx context.Context, key *storedKey) apperrors.Error {
	conn, err := db.Conn(ctx)
	if err != nil {
		return dberror.ErrNoConnection.Err(err)
	}
	defer conn.Close(ctx)

	tx, errdb := conn.Conn().BeginTx(ctx, &sql.TxOptions{})
	if errdb != nil {
		log.Ctx(ctx).Error().Err(errdb).Msg("failed to start transaction")
		return dberror.ErrDatabase.Err(errdb)
	}

	var txErr error
	defer func() {
		if txErr != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				log.Ctx(ctx).Error().Err(rollbackErr).Msg("failed to rollback transaction")
			}
		}
	}()

	if key.IsActive {
		_, txErr = tx.ExecContext(ctx, `
			UPDATE signing_keys
			SET is_active = false
			WHERE is_active = true`)
		if txErr != nil {
			log.Ctx(ctx).Error().Err(txErr).Msg("failed to deactivate existing keys")
			return dberror.ErrDatabase.Err(txErr)
		}
	}

	if key.KeyID == uuid.Nil {
		key.KeyID = uuid.New()
	}

	query := `
		INSERT INTO signing_keys (key_id, public_key, private_key_enc, is_active)
		VALUES ($1, $2, $3, $4)
		RETURNING key_id`

	row := tx.QueryRowContext(ctx, query, key.KeyID, key.PublicKey, key.PrivateKeyEnc, key.IsActive)
	txErr = row.Scan(&key.KeyID)
	if txErr != nil {
		log.Ctx(ctx).Error().Err(txErr).Msg("failed to create signing key")
		return dberror.ErrDatabase.Err(txErr)
	}

	if txErr = tx.Commit(); txErr != nil {
		log.Ctx(ctx).Error().Err(txErr).Msg("failed to commit transaction")
		return dberror.ErrDatabase.Err(txErr)
	}

	return nil
}
