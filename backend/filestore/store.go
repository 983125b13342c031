// Package filestore implements the file keystore.
//
// Private keys are PEM files named <id>.key in the keystore directory.
// CRLs are PEM or DER files, and the CRL operations of the pkcs11 and
// cloud keystores are served by this backend.
package filestore

import (
	"context"
	"crypto"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/x/fileutil"
	"github.com/effective-security/xkmf"
	"github.com/effective-security/xkmf/attr"
	"github.com/effective-security/xkmf/backend/swcrypto"
	"github.com/effective-security/xkmf/plugin"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/xkmf", "filestore")

// KeyFileExt is the extension of the key files
const KeyFileExt = ".key"

func init() {
	_ = plugin.RegisterLoader(plugin.KeystoreFile, func(cfg *plugin.KeystoreConfig) (plugin.Backend, error) {
		return New(cfg.Path)
	})
}

// Store is the file keystore
type Store struct {
	dir string
}

// New returns the keystore of the directory
func New(dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.WithMessage(xkmf.ErrBadParameter, "keystore directory is required")
	}
	if err := fileutil.FolderExists(dir); err != nil {
		return nil, errors.Mark(errors.WithMessagef(err, "keystore directory"), xkmf.ErrBadParameter)
	}
	return &Store{dir: dir}, nil
}

// Type returns plugin.KeystoreFile
func (s *Store) Type() plugin.KeystoreType {
	return plugin.KeystoreFile
}

// Dir returns the keystore directory
func (s *Store) Dir() string {
	return s.dir
}

// ImportKey stores the private key under the id
func (s *Store) ImportKey(id string, key crypto.PrivateKey) error {
	file, err := s.keyFile(id)
	if err != nil {
		return err
	}
	pemKey, err := swcrypto.MarshalPrivateKeyPEM(key)
	if err != nil {
		return err
	}
	if err = os.WriteFile(file, pemKey, 0600); err != nil {
		return errors.Mark(errors.WithMessagef(err, "unable to store key %q", id), xkmf.ErrWriteFile)
	}
	logger.KV(xlog.DEBUG, "status", "imported", "id", id)
	return nil
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
	file, err := s.keyFile(id)
	if err != nil {
		return nil, err
	}
	pemKey, err := os.ReadFile(file)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.WithMessagef(xkmf.ErrKeyNotFound, "file keystore: %q", id)
		}
		return nil, errors.Mark(errors.WithMessagef(err, "unable to load key %q", id), xkmf.ErrOpenFile)
	}
	return swcrypto.ParsePrivateKeyPEM(pemKey)
}

func (s *Store) keyFile(id string) (string, error) {
	if id == "" || id != filepath.Base(id) || strings.HasPrefix(id, ".") {
		return "", errors.WithMessagef(xkmf.ErrBadParameter, "invalid key id: %q", id)
	}
	return filepath.Join(s.dir, id+KeyFileExt), nil
}
