// Package accounts persists multi-account credentials in a bbolt
// database and tracks which account is active. The push connection and
// REST client read the active credentials at connect/request time, so
// switching accounts takes effect on the next connect cycle.
package accounts

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	bolt "go.etcd.io/bbolt"

	apperrors "github.com/alexjbarnes/dmclient/internal/errors"
	"github.com/alexjbarnes/dmclient/platform"
)

const (
	// storeDirPerm is the permission mode for the store directory.
	storeDirPerm = fs.FileMode(0o700)

	// storeFilePerm is the permission mode for the database file. It holds
	// raw session tokens, so group/world access is never acceptable.
	storeFilePerm = fs.FileMode(0o600)

	// storeOpenTimeout is the maximum time to wait for the bolt file lock.
	storeOpenTimeout = 5 * time.Second
)

var (
	accountsBucket = []byte("accounts")
	metaBucket     = []byte("meta")
	activeKey      = []byte("active")
)

// Account is one stored account.
type Account struct {
	UID          int64  `json:"uid"`
	Name         string `json:"name"`
	SessionToken string `json:"session_token"`
	CSRF         string `json:"csrf"`
	AddedAt      int64  `json:"added_at"`
}

// Credentials converts the stored account to request credentials.
func (a Account) Credentials() platform.Credentials {
	return platform.Credentials{
		UID:          a.UID,
		SessionToken: a.SessionToken,
		CSRF:         a.CSRF,
	}
}

// Store wraps a bbolt database holding all known accounts.
type Store struct {
	db *bolt.DB
}

// Open opens the accounts database at the given path, creating it if it
// does not exist.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), storeDirPerm); err != nil {
		return nil, fmt.Errorf("creating accounts directory: %w", err)
	}

	db, err := bolt.Open(path, storeFilePerm, &bolt.Options{Timeout: storeOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening accounts db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(accountsBucket); err != nil {
			return err
		}

		_, err := tx.CreateBucketIfNotExists(metaBucket)

		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing accounts db: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func uidKey(uid int64) []byte {
	return []byte(strconv.FormatInt(uid, 10))
}

// Put stores or replaces an account. The first account stored becomes
// active automatically.
func (s *Store) Put(a Account) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(a)
		if err != nil {
			return err
		}

		b := tx.Bucket(accountsBucket)
		first := b.Stats().KeyN == 0

		if err := b.Put(uidKey(a.UID), data); err != nil {
			return err
		}

		if first {
			return tx.Bucket(metaBucket).Put(activeKey, uidKey(a.UID))
		}

		return nil
	})
}

// Get returns the account for a uid, or nil if not found.
func (s *Store) Get(uid int64) (*Account, error) {
	var a *Account

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(accountsBucket).Get(uidKey(uid))
		if v == nil {
			return nil
		}

		a = &Account{}

		return json.Unmarshal(v, a)
	})

	return a, err
}

// List returns all stored accounts in uid order.
func (s *Store) List() ([]Account, error) {
	var out []Account

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(accountsBucket).ForEach(func(_, v []byte) error {
			var a Account
			if err := json.Unmarshal(v, &a); err != nil {
				return err
			}

			out = append(out, a)

			return nil
		})
	})

	return out, err
}

// Remove deletes an account. If it was active, the active pointer is
// cleared; Active then fails until SetActive picks another account.
func (s *Store) Remove(uid int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(accountsBucket).Delete(uidKey(uid)); err != nil {
			return err
		}

		meta := tx.Bucket(metaBucket)
		if string(meta.Get(activeKey)) == string(uidKey(uid)) {
			return meta.Delete(activeKey)
		}

		return nil
	})
}

// SetActive marks the given account as active. The account must exist.
func (s *Store) SetActive(uid int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(accountsBucket).Get(uidKey(uid)) == nil {
			return fmt.Errorf("account %d not stored", uid)
		}

		return tx.Bucket(metaBucket).Put(activeKey, uidKey(uid))
	})
}

// Active returns the active account's credentials. Fails with
// ErrAuthUnavailable when no account is active, which aborts a connect
// attempt without scheduling a reconnect.
func (s *Store) Active() (platform.Credentials, error) {
	var a *Account

	err := s.db.View(func(tx *bolt.Tx) error {
		uid := tx.Bucket(metaBucket).Get(activeKey)
		if uid == nil {
			return nil
		}

		v := tx.Bucket(accountsBucket).Get(uid)
		if v == nil {
			return nil
		}

		a = &Account{}

		return json.Unmarshal(v, a)
	})
	if err != nil {
		return platform.Credentials{}, err
	}

	if a == nil {
		return platform.Credentials{}, apperrors.ErrAuthUnavailable
	}

	return a.Credentials(), nil
}
