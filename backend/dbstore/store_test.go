package dbstore_test

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509/pkix"
	"path/filepath"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/x/guid"
	"github.com/effective-security/xkmf"
	"github.com/effective-security/xkmf/attr"
	"github.com/effective-security/xkmf/backend/dbstore"
	"github.com/effective-security/xkmf/crl"
	"github.com/effective-security/xkmf/kmf"
	"github.com/effective-security/xkmf/oid"
	"github.com/effective-security/xkmf/plugin"
	"github.com/effective-security/xkmf/testca"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *dbstore.Store {
	s, err := dbstore.Open(filepath.Join(t.TempDir(), guid.MustCreate()+".db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func dbAttrs() attr.List {
	return attr.New(4).Set(attr.KindKeystoreType, plugin.KeystoreDB)
}

func TestOpen(t *testing.T) {
	_, err := dbstore.Open("")
	assert.True(t, errors.Is(err, xkmf.ErrBadParameter))
	_, err = dbstore.Open(filepath.Join(t.TempDir(), "missing", "kmf.db"))
	assert.True(t, errors.Is(err, xkmf.ErrOpenFile))

	path := filepath.Join(t.TempDir(), "kmf.db")
	b, err := plugin.LoadBackend(&plugin.KeystoreConfig{Type: "db", Path: path})
	require.NoError(t, err)
	assert.Equal(t, plugin.KeystoreDB, b.Type())
	require.NoError(t, b.(*dbstore.Store).Close())
}

func TestKeys(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	ecKey, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	require.NoError(t, err)
	require.NoError(t, s.ImportKey("rsa", rsaKey))
	require.NoError(t, s.ImportKey("ec", ecKey))

	ids, err := s.ListKeys()
	require.NoError(t, err)
	assert.Equal(t, []string{"ec", "rsa"}, ids)

	data := []byte("to be signed")
	for _, tc := range []struct {
		id   string
		alg  oid.AlgorithmIndex
		size int
	}{
		{"rsa", oid.SHA256WithRSA, 256},
		{"ec", oid.SHA384WithECDSA, 96},
	} {
		kh := &plugin.KeyHandle{Keystore: plugin.KeystoreDB, Label: tc.id}
		spki, err := s.ExportPublicKey(ctx, dbAttrs().Set(attr.KindKeyHandle, kh))
		require.NoError(t, err)

		sig, err := s.SignData(ctx, dbAttrs().
			Set(attr.KindKeyHandle, kh).
			Set(attr.KindAlgorithmOID, oid.AlgorithmOID(tc.alg)).
			Set(attr.KindData, data).
			Set(attr.KindSignatureSize, tc.size))
		require.NoError(t, err)
		assert.Len(t, sig, tc.size)

		err = s.VerifyData(ctx, dbAttrs().
			Set(attr.KindAlgorithmOID, oid.AlgorithmOID(tc.alg)).
			Set(attr.KindSPKI, spki).
			Set(attr.KindData, data).
			Set(attr.KindSignature, sig))
		require.NoError(t, err)
	}

	require.NoError(t, s.DeleteKey("rsa"))
	assert.True(t, errors.Is(s.DeleteKey("rsa"), xkmf.ErrKeyNotFound))
	_, err = s.ExportPublicKey(ctx, dbAttrs().Set(attr.KindKeyHandle, &plugin.KeyHandle{ID: "rsa"}))
	assert.True(t, errors.Is(err, xkmf.ErrKeyNotFound))
	_, err = s.ExportPublicKey(ctx, dbAttrs().Set(attr.KindKeyHandle, &plugin.KeyHandle{}))
	assert.True(t, errors.Is(err, xkmf.ErrBadParameter))
	assert.True(t, errors.Is(s.ImportKey("", ecKey), xkmf.ErrBadParameter))
}

func TestCRL(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	dir := t.TempDir()
	now := time.Now().UTC()

	ca1 := testca.NewEntity(testca.Authority, testca.Subject(pkixName("[TEST] CA One")))
	ca2 := testca.NewEntity(testca.Authority, testca.Subject(pkixName("[TEST] CA Two")))
	revoked := ca1.Issue()
	valid := ca1.Issue()
	other := ca2.Issue()

	crl1 := filepath.Join(dir, "ca1.crl")
	crl2 := filepath.Join(dir, "ca2.crl")
	expired := filepath.Join(dir, "expired.crl")
	ca1File := filepath.Join(dir, "ca1.pem")
	require.NoError(t, testca.SaveCRL(crl1, ca1.CRL(now.Add(-time.Hour), now.Add(time.Hour), revoked.Certificate), true))
	require.NoError(t, testca.SaveCRL(crl2, ca2.CRL(now.Add(-time.Hour), now.Add(time.Hour)), false))
	require.NoError(t, testca.SaveCRL(expired, ca1.CRL(now.Add(-2*time.Hour), now.Add(-time.Hour)), false))
	require.NoError(t, ca1.SaveCert(ca1File, true))

	require.NoError(t, s.ImportCRL(ctx, dbAttrs().
		Set(attr.KindCRLFilename, crl1).
		Set(attr.KindCertFilename, ca1File).
		Set(attr.KindCRLCheck, true)))
	require.NoError(t, s.ImportCRL(ctx, dbAttrs().
		Set(attr.KindCRLFilename, crl2).
		Set(attr.KindCRLOutFilename, "two")))

	err := s.ImportCRL(ctx, dbAttrs().
		Set(attr.KindCRLFilename, crl2).
		Set(attr.KindCertFilename, ca1File))
	assert.True(t, errors.Is(err, xkmf.ErrVerification))
	err = s.ImportCRL(ctx, dbAttrs().
		Set(attr.KindCRLFilename, expired).
		Set(attr.KindCRLCheck, true))
	assert.True(t, errors.Is(err, xkmf.ErrCRLExpired))

	name1 := ca1.Certificate.Subject.String()
	list, err := s.ListCRL(ctx, dbAttrs())
	require.NoError(t, err)
	assert.Equal(t, []string{name1, "two"}, list)

	lines, err := s.ListCRL(ctx, dbAttrs().Set(attr.KindCRLName, name1))
	require.NoError(t, err)
	assert.Equal(t, "issuer: "+name1, lines[0])

	found, err := s.FindCRL(ctx, dbAttrs().Set(attr.KindCRLIssuer, ca2.Certificate.Subject.String()))
	require.NoError(t, err)
	assert.Equal(t, []string{"two"}, found)
	found, err = s.FindCRL(ctx, dbAttrs().Set(attr.KindCRLSubject, "ca one"))
	require.NoError(t, err)
	assert.Equal(t, []string{name1}, found)
	found, err = s.FindCRL(ctx, dbAttrs().Set(attr.KindCRLIssuer, "CN=nobody"))
	require.NoError(t, err)
	assert.Empty(t, found)

	// by issuer
	require.NoError(t, s.FindCertInCRL(ctx, dbAttrs().Set(attr.KindCertData, revoked.Certificate.Raw)))
	err = s.FindCertInCRL(ctx, dbAttrs().Set(attr.KindCertData, valid.Certificate.Raw))
	assert.True(t, errors.Is(err, xkmf.ErrNotRevoked))
	err = s.FindCertInCRL(ctx, dbAttrs().Set(attr.KindCertData, other.Certificate.Raw))
	assert.True(t, errors.Is(err, xkmf.ErrNotRevoked))
	// by name
	err = s.FindCertInCRL(ctx, dbAttrs().
		Set(attr.KindCRLName, "two").
		Set(attr.KindCertData, revoked.Certificate.Raw))
	assert.True(t, errors.Is(err, xkmf.ErrBadParameter))
	require.NoError(t, s.FindCertInCRL(ctx, dbAttrs().
		Set(attr.KindCRLName, name1).
		Set(attr.KindCertData, revoked.Certificate.Raw)))
	err = s.FindCertInCRL(ctx, dbAttrs().Set(attr.KindCRLName, name1))
	assert.True(t, errors.Is(err, xkmf.ErrBadParameter))

	require.NoError(t, s.DeleteCRL(ctx, dbAttrs().Set(attr.KindCRLName, "two")))
	err = s.DeleteCRL(ctx, dbAttrs().Set(attr.KindCRLName, "two"))
	assert.True(t, errors.Is(err, xkmf.ErrBadParameter))
	err = s.FindCertInCRL(ctx, dbAttrs().Set(attr.KindCertData, other.Certificate.Raw))
	assert.True(t, errors.Is(err, xkmf.ErrBadParameter))
	err = s.DeleteCRL(ctx, dbAttrs())
	assert.True(t, errors.Is(err, xkmf.ErrBadParameter))
}

func TestRouted(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	dir := t.TempDir()
	now := time.Now().UTC()

	ca := testca.NewEntity(testca.Authority)
	crlFile := filepath.Join(dir, "ca.crl")
	require.NoError(t, testca.SaveCRL(crlFile, ca.CRL(now.Add(-time.Hour), now.Add(time.Hour)), false))

	reg := plugin.NewRegistry()
	_, err := reg.Register(s)
	require.NoError(t, err)
	h, err := kmf.New(reg)
	require.NoError(t, err)

	require.NoError(t, crl.Import(ctx, h, dbAttrs().
		Set(attr.KindCRLFilename, crlFile).
		Set(attr.KindCRLOutFilename, "ca")))
	found, err := crl.Find(ctx, h, dbAttrs().Set(attr.KindCRLIssuer, ca.Certificate.Subject.String()))
	require.NoError(t, err)
	assert.Equal(t, []string{"ca"}, found)
	list, err := crl.List(ctx, h, dbAttrs())
	require.NoError(t, err)
	assert.Equal(t, []string{"ca"}, list)
	require.NoError(t, crl.Delete(ctx, h, dbAttrs().Set(attr.KindCRLName, "ca")))

	// file level operations need the file keystore
	_, err = crl.IsCRLFile(ctx, h, crlFile)
	assert.True(t, errors.Is(err, xkmf.ErrPluginNotFound))
	// CRLs of the file based keystores are not served by db
	_, err = crl.List(ctx, h, attr.New(1).Set(attr.KindKeystoreType, plugin.KeystorePKCS11))
	assert.True(t, errors.Is(err, xkmf.ErrPluginNotFound))
}

func pkixName(cn string) pkix.Name {
	return pkix.Name{CommonName: cn}
}
