package filestore_test

import (
	"context"
	"crypto/dsa" //nolint:staticcheck
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xkmf"
	"github.com/effective-security/xkmf/attr"
	"github.com/effective-security/xkmf/backend/filestore"
	"github.com/effective-security/xkmf/oid"
	"github.com/effective-security/xkmf/plugin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	_, err := filestore.New("")
	assert.True(t, errors.Is(err, xkmf.ErrBadParameter))
	_, err = filestore.New(filepath.Join(t.TempDir(), "missing"))
	assert.True(t, errors.Is(err, xkmf.ErrBadParameter))

	dir := t.TempDir()
	s, err := filestore.New(dir)
	require.NoError(t, err)
	assert.Equal(t, plugin.KeystoreFile, s.Type())
	assert.Equal(t, dir, s.Dir())
}

func TestLoader(t *testing.T) {
	dir := t.TempDir()
	b, err := plugin.LoadBackend(&plugin.KeystoreConfig{Type: "file", Path: dir})
	require.NoError(t, err)
	assert.Equal(t, plugin.KeystoreFile, b.Type())
}

func TestSignVerify(t *testing.T) {
	ctx := context.Background()
	s, err := filestore.New(t.TempDir())
	require.NoError(t, err)

	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	dsaKey := new(dsa.PrivateKey)
	require.NoError(t, dsa.GenerateParameters(&dsaKey.Parameters, rand.Reader, dsa.L1024N160))
	require.NoError(t, dsa.GenerateKey(dsaKey, rand.Reader))

	require.NoError(t, s.ImportKey("rsa", rsaKey))
	require.NoError(t, s.ImportKey("ec", ecKey))
	require.NoError(t, s.ImportKey("dsa", dsaKey))

	fi, err := os.Stat(filepath.Join(s.Dir(), "ec.key"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), fi.Mode().Perm())

	tcases := []struct {
		id   string
		alg  oid.AlgorithmIndex
		size int
	}{
		{"rsa", oid.SHA256WithRSA, 256},
		{"ec", oid.SHA256WithECDSA, 64},
		{"dsa", oid.SHA1WithDSA, 40},
	}
	data := []byte("to be signed")
	for _, tc := range tcases {
		t.Run(tc.id, func(t *testing.T) {
			kh := &plugin.KeyHandle{Keystore: plugin.KeystoreFile, ID: tc.id}
			spki, err := s.ExportPublicKey(ctx, attr.New(2).
				Set(attr.KindKeystoreType, plugin.KeystoreFile).
				Set(attr.KindKeyHandle, kh))
			require.NoError(t, err)

			sig, err := s.SignData(ctx, attr.New(5).
				Set(attr.KindKeystoreType, plugin.KeystoreFile).
				Set(attr.KindKeyHandle, kh).
				Set(attr.KindAlgorithmOID, oid.AlgorithmOID(tc.alg)).
				Set(attr.KindData, data).
				Set(attr.KindSignatureSize, tc.size))
			require.NoError(t, err)
			assert.LessOrEqual(t, len(sig), tc.size)

			verify := func(d []byte) error {
				return s.VerifyData(ctx, attr.New(5).
					Set(attr.KindKeystoreType, plugin.KeystoreFile).
					Set(attr.KindAlgorithmOID, oid.AlgorithmOID(tc.alg)).
					Set(attr.KindSPKI, spki).
					Set(attr.KindData, d).
					Set(attr.KindSignature, sig))
			}
			require.NoError(t, verify(data))
			assert.True(t, errors.Is(verify([]byte("other")), xkmf.ErrVerification))

			// signature larger than accepted
			_, err = s.SignData(ctx, attr.New(5).
				Set(attr.KindKeystoreType, plugin.KeystoreFile).
				Set(attr.KindKeyHandle, kh).
				Set(attr.KindAlgorithmOID, oid.AlgorithmOID(tc.alg)).
				Set(attr.KindData, data).
				Set(attr.KindSignatureSize, 8))
			assert.True(t, errors.Is(err, xkmf.ErrBadParameter))
		})
	}
}

func TestKeys_Errors(t *testing.T) {
	ctx := context.Background()
	s, err := filestore.New(t.TempDir())
	require.NoError(t, err)

	export := func(kh *plugin.KeyHandle) error {
		_, err := s.ExportPublicKey(ctx, attr.New(2).
			Set(attr.KindKeystoreType, plugin.KeystoreFile).
			Set(attr.KindKeyHandle, kh))
		return err
	}

	assert.True(t, errors.Is(export(&plugin.KeyHandle{ID: "missing"}), xkmf.ErrKeyNotFound))
	assert.True(t, errors.Is(export(&plugin.KeyHandle{Label: "missing"}), xkmf.ErrKeyNotFound))
	assert.True(t, errors.Is(export(&plugin.KeyHandle{}), xkmf.ErrBadParameter))
	assert.True(t, errors.Is(export(&plugin.KeyHandle{ID: "../etc/passwd"}), xkmf.ErrBadParameter))

	_, err = s.ExportPublicKey(ctx, attr.New(1).Set(attr.KindKeystoreType, plugin.KeystoreFile))
	assert.True(t, errors.Is(err, xkmf.ErrBadParameter))

	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "bad.key"), []byte("not a key"), 0600))
	assert.True(t, errors.Is(export(&plugin.KeyHandle{ID: "bad"}), xkmf.ErrBadParameter))

	assert.True(t, errors.Is(s.ImportKey("", nil), xkmf.ErrBadParameter))
	assert.True(t, errors.Is(s.ImportKey("k", "not a key"), xkmf.ErrBadParameter))
}
