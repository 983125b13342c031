// Package dbstore implements the db keystore on a bbolt database.
//
// Keys and CRLs are kept in the `keys` and `crls` buckets.
// It is the only keystore that can find CRLs by issuer or subject.
package dbstore

import (
	"context"
	"crypto"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xkmf"
	"github.com/effective-security/xkmf/attr"
	"github.com/effective-security/xkmf/backend/swcrypto"
	"github.com/effective-security/xkmf/plugin"
	"github.com/effective-security/xlog"
	"go.etcd.io/bbolt"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/xkmf", "dbstore")

var (
	bucketKeys = []byte("keys")
	bucketCRLs = []byte("crls")
)

func init() {
	_ = plugin.RegisterLoader(plugin.KeystoreDB, func(cfg *plugin.KeystoreConfig) (plugin.Backend, error) {
		return Open(cfg.Path)
	})
}

// Store is the db keystore
type Store struct {
	db *bbolt.DB
}

// Open opens or creates the database file
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.WithMessage(xkmf.ErrBadParameter, "database path is required")
	}
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, errors.Mark(errors.WithMessagef(err, "unable to open database %q", path), xkmf.ErrOpenFile)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketKeys, bucketCRLs} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, errors.Mark(errors.WithMessage(err, "unable to initialize database"), xkmf.ErrWriteFile)
	}
	return &Store{db: db}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Type returns plugin.KeystoreDB
func (s *Store) Type() plugin.KeystoreType {
	return plugin.KeystoreDB
}

// ImportKey stores the private key under the id
func (s *Store) ImportKey(id string, key crypto.PrivateKey) error {
	if id == "" {
		return errors.WithMessage(xkmf.ErrBadParameter, "key id is required")
	}
	pemKey, err := swcrypto.MarshalPrivateKeyPEM(key)
	if err != nil {
		return err
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketKeys).Put([]byte(id), pemKey)
	})
	if err != nil {
		return errors.Mark(errors.WithMessagef(err, "unable to store key %q", id), xkmf.ErrWriteFile)
	}
	logger.KV(xlog.DEBUG, "status", "imported", "id", id)
	return nil
}

// DeleteKey removes the key
func (s *Store) DeleteKey(id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketKeys)
		if b.Get([]byte(id)) == nil {
			return errors.WithMessagef(xkmf.ErrKeyNotFound, "db keystore: %q", id)
		}
		return b.Delete([]byte(id))
	})
}

// ListKeys returns the key ids
func (s *Store) ListKeys() ([]string, error) {
	var ids []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketKeys).ForEach(func(k, _ []byte) error {
			ids = append(ids, string(k))
			return nil
		})
	})
	return ids, err
}

// ExportPublicKey returns DER encoded SubjectPublicKeyInfo of the key
func (s *Store) ExportPublicKey(_ context.Context, attrs attr.List) ([]byte, error) {
	kh, err := plugin.ParseKeyHandle(attrs)
	if err != nil {
		return nil, err
	}
	key, err := s.loadKey(kh)
	if err != nil {
		return nil, err
	}
	pub, err := swcrypto.PublicKey(key)
	if err != nil {
		return nil, err
	}
	return swcrypto.MarshalPublicKey(pub)
}

// SignData signs the data with the key
func (s *Store) SignData(_ context.Context, attrs attr.List) ([]byte, error) {
	p, err := plugin.ParseSignParams(attrs)
	if err != nil {
		return nil, err
	}
	key, err := s.loadKey(p.Key)
	if err != nil {
		return nil, err
	}
	sig, err := swcrypto.Sign(key, p.Algorithm, p.Data)
	if err != nil {
		return nil, err
	}
	if err = p.CheckSize(sig); err != nil {
		return nil, err
	}
	return sig, nil
}

// VerifyData verifies the signature with the public key
func (s *Store) VerifyData(_ context.Context, attrs attr.List) error {
	p, err := plugin.ParseVerifyParams(attrs)
	if err != nil {
		return err
	}
	return swcrypto.VerifySPKI(p.SPKI, p.Algorithm, p.Data, p.Signature)
}

func (s *Store) loadKey(kh *plugin.KeyHandle) (crypto.PrivateKey, error) {
	if kh == nil {
		return nil, errors.WithMessage(xkmf.ErrBadParameter, "key handle is required")
	}
	id := kh.ID
	if id == "" {
		id = kh.Label
	}
	if id == "" {
		return nil, errors.WithMessage(xkmf.ErrBadParameter, "key id or label is required")
	}

	var pemKey []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket(bucketKeys).Get([]byte(id)); v != nil {
			pemKey = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Mark(errors.WithMessage(err, "unable to read key"), xkmf.ErrOpenFile)
	}
	if pemKey == nil {
		return nil, errors.WithMessagef(xkmf.ErrKeyNotFound, "db keystore: %q", id)
	}
	return swcrypto.ParsePrivateKeyPEM(pemKey)
}
