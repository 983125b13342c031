package csr_test

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xkmf"
	"github.com/effective-security/xkmf/attr"
	"github.com/effective-security/xkmf/backend/swcrypto"
	"github.com/effective-security/xkmf/kmf"
	"github.com/effective-security/xkmf/plugin"
	"github.com/stretchr/testify/require"
)

// memBackend keeps the keys in memory
type memBackend struct {
	typ  plugin.KeystoreType
	keys map[string]crypto.PrivateKey
	// raw returned by SignData when set
	raw []byte
}

func (b *memBackend) Type() plugin.KeystoreType { return b.typ }

func (b *memBackend) key(h *plugin.KeyHandle) (crypto.PrivateKey, error) {
	k, ok := b.keys[h.ID]
	if !ok {
		return nil, errors.WithMessagef(xkmf.ErrKeyNotFound, "%s", h)
	}
	return k, nil
}

func (b *memBackend) ExportPublicKey(_ context.Context, attrs attr.List) ([]byte, error) {
	h, err := plugin.ParseKeyHandle(attrs)
	if err != nil {
		return nil, err
	}
	k, err := b.key(h)
	if err != nil {
		return nil, err
	}
	pub, err := swcrypto.PublicKey(k)
	if err != nil {
		return nil, err
	}
	return swcrypto.MarshalPublicKey(pub)
}

func (b *memBackend) SignData(_ context.Context, attrs attr.List) ([]byte, error) {
	p, err := plugin.ParseSignParams(attrs)
	if err != nil {
		return nil, err
	}
	if b.raw != nil {
		return b.raw, nil
	}
	k, err := b.key(p.Key)
	if err != nil {
		return nil, err
	}
	sig, err := swcrypto.Sign(k, p.Algorithm, p.Data)
	if err != nil {
		return nil, err
	}
	return sig, p.CheckSize(sig)
}

func (b *memBackend) VerifyData(_ context.Context, attrs attr.List) error {
	p, err := plugin.ParseVerifyParams(attrs)
	if err != nil {
		return err
	}
	return swcrypto.VerifySPKI(p.SPKI, p.Algorithm, p.Data, p.Signature)
}

// exportOnly lacks sign and verify
type exportOnly struct {
	typ plugin.KeystoreType
	mem *memBackend
}

func (b *exportOnly) Type() plugin.KeystoreType { return b.typ }

func (b *exportOnly) ExportPublicKey(ctx context.Context, attrs attr.List) ([]byte, error) {
	return b.mem.ExportPublicKey(ctx, attrs)
}

// typeOnly is a keystore without capabilities
type typeOnly struct {
	typ plugin.KeystoreType
}

func (b *typeOnly) Type() plugin.KeystoreType { return b.typ }

type fixture struct {
	h   *kmf.Handle
	mem *memBackend
}

func newFixture(t *testing.T) *fixture {
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	mem := &memBackend{
		typ: plugin.KeystoreFile,
		keys: map[string]crypto.PrivateKey{
			"rsa":   rsaKey,
			"ecdsa": ecKey,
		},
	}

	reg := plugin.NewRegistry()
	_, err = reg.Register(mem)
	require.NoError(t, err)
	_, err = reg.Register(&exportOnly{typ: plugin.KeystorePKCS11, mem: mem})
	require.NoError(t, err)
	_, err = reg.Register(&typeOnly{typ: plugin.KeystoreAWSKMS})
	require.NoError(t, err)

	h, err := kmf.New(reg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })

	return &fixture{h: h, mem: mem}
}

func (f *fixture) key(id string) *plugin.KeyHandle {
	return &plugin.KeyHandle{Keystore: plugin.KeystoreFile, ID: id, Label: id}
}
