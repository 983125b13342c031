package plugin_test

import (
	"encoding/asn1"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xkmf"
	"github.com/effective-security/xkmf/attr"
	"github.com/effective-security/xkmf/der"
	"github.com/effective-security/xkmf/oid"
	"github.com/effective-security/xkmf/plugin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_SignParams(t *testing.T) {
	key := &plugin.KeyHandle{Keystore: plugin.KeystoreFile, ID: "k1"}
	attrs := attr.New(5).
		Set(attr.KindKeystoreType, plugin.KeystoreFile).
		Set(attr.KindKeyHandle, key).
		Set(attr.KindAlgorithmOID, oid.SignatureSHA256WithECDSA).
		Set(attr.KindData, []byte("tbs")).
		Set(attr.KindSignatureSize, 64)

	p, err := plugin.ParseSignParams(attrs)
	require.NoError(t, err)
	assert.Same(t, key, p.Key)
	assert.Equal(t, oid.SHA256WithECDSA, p.Algorithm)
	assert.Equal(t, []byte("tbs"), p.Data)
	assert.Equal(t, 64, p.SignatureSize)
	assert.NoError(t, p.CheckSize(make([]byte, 64)))
	assert.True(t, errors.Is(p.CheckSize(make([]byte, 65)), xkmf.ErrBadParameter))

	unknown := attr.New(5).
		Set(attr.KindKeystoreType, plugin.KeystoreFile).
		Set(attr.KindKeyHandle, key).
		Set(attr.KindAlgorithmOID, asn1.ObjectIdentifier{1, 2, 3}).
		Set(attr.KindData, []byte("tbs")).
		Set(attr.KindSignatureSize, 64)
	_, err = plugin.ParseSignParams(unknown)
	assert.True(t, errors.Is(err, xkmf.ErrBadParameter))

	_, err = plugin.ParseSignParams(attrs[:3])
	assert.True(t, errors.Is(err, xkmf.ErrBadParameter))
}

func Test_VerifyParams(t *testing.T) {
	attrs := attr.New(5).
		Set(attr.KindKeystoreType, plugin.KeystoreDB).
		Set(attr.KindAlgorithmOID, oid.SignatureSHA256WithRSA).
		Set(attr.KindSPKI, []byte{0x30}).
		Set(attr.KindData, []byte("tbs")).
		Set(attr.KindSignature, []byte{1, 2})

	p, err := plugin.ParseVerifyParams(attrs)
	require.NoError(t, err)
	assert.Nil(t, p.Key)
	assert.Equal(t, oid.SHA256WithRSA, p.Algorithm)
	assert.Equal(t, []byte{1, 2}, p.Signature)

	// wrong type
	bad := append(attr.New(1).Set(attr.KindKeystoreType, plugin.KeystoreDB), attrs[1:4]...).
		Set(attr.KindSignature, "sig")
	_, err = plugin.ParseVerifyParams(bad)
	assert.True(t, errors.Is(err, xkmf.ErrBadParameter))
}

func Test_ParseKeyHandle(t *testing.T) {
	key := &plugin.KeyHandle{Keystore: plugin.KeystoreDB, ID: "k1"}
	h, err := plugin.ParseKeyHandle(attr.New(2).
		Set(attr.KindKeystoreType, plugin.KeystoreDB).
		Set(attr.KindKeyHandle, key))
	require.NoError(t, err)
	assert.Same(t, key, h)

	_, err = plugin.ParseKeyHandle(attr.New(1).Set(attr.KindKeystoreType, plugin.KeystoreDB))
	assert.True(t, errors.Is(err, xkmf.ErrBadParameter))
}

func Test_CRLParams(t *testing.T) {
	p, err := plugin.ParseCRLParams(&plugin.OpImportCRL, attr.New(4).
		Set(attr.KindKeystoreType, plugin.KeystoreFile).
		Set(attr.KindCRLFilename, "in.crl").
		Set(attr.KindCRLCheck, true).
		Set(attr.KindEncodeFormat, der.FormatPEM))
	require.NoError(t, err)
	assert.Equal(t, "in.crl", p.CRLFilename)
	assert.True(t, p.Check)
	assert.Equal(t, der.FormatPEM, p.Format)
	assert.Empty(t, p.Directory)

	p, err = plugin.ParseCRLParams(&plugin.OpListCRL, attr.New(1).
		Set(attr.KindKeystoreType, plugin.KeystoreFile))
	require.NoError(t, err)
	assert.Equal(t, der.FormatASN1, p.Format)
	assert.False(t, p.Check)

	// missing required CRL file
	_, err = plugin.ParseCRLParams(&plugin.OpImportCRL, attr.New(1).
		Set(attr.KindKeystoreType, plugin.KeystoreFile))
	assert.True(t, errors.Is(err, xkmf.ErrBadParameter))

	// wrong type
	_, err = plugin.ParseCRLParams(&plugin.OpListCRL, attr.New(2).
		Set(attr.KindKeystoreType, plugin.KeystoreFile).
		Set(attr.KindDirectory, 42))
	assert.True(t, errors.Is(err, xkmf.ErrBadParameter))
}
