package securestore

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"go.etcd.io/bbolt"
	bolterrors "go.etcd.io/bbolt/errors"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

var (
	metaBucket    = []byte("meta")
	secretsBucket = []byte("secrets")

	saltKey     = []byte("salt")
	kdfKey      = []byte("kdf")
	verifierKey = []byte("verifier")
)

const (
	saltSize      = 16
	verifierPlain = "ztguard-secure-store"
	verifierAAD   = "verifier"

	// openTimeout bounds the wait for another process's file lock.
	openTimeout = time.Second
)

// KDFParams are the Argon2id parameters used to derive the store key from the passphrase.
// They are persisted on first open so later opens derive the same key.
type KDFParams struct {
	Time      uint32 `json:"time"`
	MemoryKiB uint32 `json:"memory"`
	Threads   uint8  `json:"threads"`
}

// DefaultKDFParams returns the Argon2id parameters used for new stores.
func DefaultKDFParams() KDFParams {
	return KDFParams{Time: 1, MemoryKiB: 64 * 1024, Threads: 4}
}

// BoltStore is a Store backed by a bbolt file. Values are sealed with XChaCha20-Poly1305 under a
// key derived from the passphrase; the entry key is bound as additional data.
type BoltStore struct {
	db   *bbolt.DB
	aead cipher.AEAD
}

var _ Store = (*BoltStore)(nil)

// OpenBoltStore opens (or creates) the store at path. params apply only when the file is new.
// Returns ErrInvalidPassphrase when passphrase does not match the one the store was created with,
// and ErrStoreLocked when another process holds the file.
func OpenBoltStore(path, passphrase string, params KDFParams) (*BoltStore, error) {
	if passphrase == "" {
		return nil, errors.New("securestore: passphrase must be set")
	}
	if params.Time == 0 || params.Threads == 0 || params.MemoryKiB == 0 {
		params = DefaultKDFParams()
	}
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: openTimeout})
	if errors.Is(err, bolterrors.ErrTimeout) {
		return nil, fmt.Errorf("%w: %s", ErrStoreLocked, path)
	}
	if err != nil {
		return nil, fmt.Errorf("securestore: open %s: %w", path, err)
	}
	s := &BoltStore{db: db}
	if err := s.init(passphrase, params); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *BoltStore) init(passphrase string, params KDFParams) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		meta, err := tx.CreateBucketIfNotExists(metaBucket)
		if err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(secretsBucket); err != nil {
			return err
		}

		salt := meta.Get(saltKey)
		if salt == nil {
			// New store: persist salt, params and a verifier sealed under the derived key.
			salt = make([]byte, saltSize)
			if _, err := io.ReadFull(rand.Reader, salt); err != nil {
				return fmt.Errorf("securestore: salt: %w", err)
			}
			rawParams, err := json.Marshal(params)
			if err != nil {
				return err
			}
			if err := s.setKey(passphrase, salt, params); err != nil {
				return err
			}
			verifier, err := s.seal([]byte(verifierPlain), []byte(verifierAAD))
			if err != nil {
				return err
			}
			if err := meta.Put(saltKey, salt); err != nil {
				return err
			}
			if err := meta.Put(kdfKey, rawParams); err != nil {
				return err
			}
			return meta.Put(verifierKey, verifier)
		}

		var stored KDFParams
		if err := json.Unmarshal(meta.Get(kdfKey), &stored); err != nil {
			return fmt.Errorf("securestore: kdf params: %w", err)
		}
		if err := s.setKey(passphrase, salt, stored); err != nil {
			return err
		}
		plain, err := s.open(meta.Get(verifierKey), []byte(verifierAAD))
		if err != nil || string(plain) != verifierPlain {
			return ErrInvalidPassphrase
		}
		return nil
	})
}

func (s *BoltStore) setKey(passphrase string, salt []byte, p KDFParams) error {
	key := argon2.IDKey([]byte(passphrase), salt, p.Time, p.MemoryKiB, p.Threads, chacha20poly1305.KeySize)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return fmt.Errorf("securestore: cipher: %w", err)
	}
	s.aead = aead
	return nil
}

func (s *BoltStore) seal(plain, aad []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("securestore: nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, plain, aad), nil
}

func (s *BoltStore) open(sealed, aad []byte) ([]byte, error) {
	n := s.aead.NonceSize()
	if len(sealed) < n {
		return nil, errors.New("securestore: sealed value too short")
	}
	return s.aead.Open(nil, sealed[:n], sealed[n:], aad)
}

// Get returns the decrypted value for key.
func (s *BoltStore) Get(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	var sealed []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket(secretsBucket).Get([]byte(key)); v != nil {
			sealed = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return "", false, err
	}
	if sealed == nil {
		return "", false, nil
	}
	plain, err := s.open(sealed, []byte(key))
	if err != nil {
		return "", false, fmt.Errorf("securestore: decrypt %s: %w", key, err)
	}
	return string(plain), true, nil
}

// Set encrypts and stores value under key.
func (s *BoltStore) Set(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sealed, err := s.seal([]byte(value), []byte(key))
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(secretsBucket).Put([]byte(key), sealed)
	})
}

// Remove deletes key; missing keys are ignored.
func (s *BoltStore) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(secretsBucket).Delete([]byte(key))
	})
}

// Clear removes every stored secret. The passphrase binding is kept.
func (s *BoltStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(secretsBucket)
		var keys [][]byte
		if err := b.ForEach(func(k, _ []byte) error {
			keys = append(keys, append([]byte(nil), k...))
			return nil
		}); err != nil {
			return err
		}
		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close closes the underlying bbolt file.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
