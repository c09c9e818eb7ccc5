package services

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"errors"

	"github.com/dmitrijs2005/wardsync/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/wardsync/internal/cryptox"
	"github.com/dmitrijs2005/wardsync/internal/dbx"
)

// ErrWrongPassphrase is returned by Unlock when the passphrase does not
// match the one the store was initialised with.
var ErrWrongPassphrase = errors.New("wrong passphrase")

const (
	metaSalt     = "crypto:salt"
	metaVerifier = "crypto:verifier"
)

// KeyService manages the at-rest encryption key of the local store.
// The salt and a verifier live in metadata; the key itself never does.
type KeyService interface {
	// Unlock derives the store key from passphrase. On a fresh store it
	// records a new salt and verifier first.
	Unlock(ctx context.Context, passphrase []byte) (*cryptox.Sealer, error)
	// Initialised reports whether a passphrase has been set.
	Initialised(ctx context.Context) (bool, error)
}

type keyService struct {
	db *sql.DB
}

func NewKeyService(db *sql.DB) KeyService {
	return &keyService{db: db}
}

func (s *keyService) Initialised(ctx context.Context) (bool, error) {
	salt, err := metadata.NewSQLiteRepository(s.db).Get(ctx, metaSalt)
	if err != nil {
		return false, err
	}
	return salt != nil, nil
}

func (s *keyService) Unlock(ctx context.Context, passphrase []byte) (*cryptox.Sealer, error) {
	var key []byte
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		meta := metadata.NewSQLiteRepository(tx)

		salt, err := meta.Get(ctx, metaSalt)
		if err != nil {
			return err
		}
		if salt == nil {
			if salt, err = cryptox.NewSalt(); err != nil {
				return err
			}
			key = cryptox.DeriveKey(passphrase, salt)
			if err := meta.Set(ctx, metaSalt, salt); err != nil {
				return err
			}
			return meta.Set(ctx, metaVerifier, cryptox.MakeVerifier(key))
		}

		saved, err := meta.Get(ctx, metaVerifier)
		if err != nil {
			return err
		}
		candidate := cryptox.DeriveKey(passphrase, salt)
		if subtle.ConstantTimeCompare(saved, cryptox.MakeVerifier(candidate)) == 0 {
			return ErrWrongPassphrase
		}
		key = candidate
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cryptox.NewSealer(key)
}
