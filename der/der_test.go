package der_test

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/hex"
	"net"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xkmf"
	"github.com/effective-security/xkmf/der"
	"github.com/effective-security/xkmf/oid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func generateCSR(t *testing.T, tmpl *x509.CertificateRequest) []byte {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	raw, err := x509.CreateCertificateRequest(rand.Reader, tmpl, key)
	require.NoError(t, err)
	return raw
}

func Test_SignedCSR_RoundTrip(t *testing.T) {
	tcases := []struct {
		name string
		tmpl *x509.CertificateRequest
	}{
		{
			name: "no_extensions",
			tmpl: &x509.CertificateRequest{
				Subject: pkix.Name{CommonName: "localhost"},
			},
		},
		{
			name: "san",
			tmpl: &x509.CertificateRequest{
				Subject: pkix.Name{
					CommonName:   "xkmf",
					Organization: []string{"effective"},
					Country:      []string{"US"},
				},
				DNSNames:       []string{"xkmf.local", "www.xkmf.local"},
				IPAddresses:    []net.IP{net.ParseIP("10.0.0.1")},
				EmailAddresses: []string{"kmf@xkmf.local"},
			},
		},
		{
			name: "extra_extensions",
			tmpl: &x509.CertificateRequest{
				Subject: pkix.Name{CommonName: "ext"},
				ExtraExtensions: []pkix.Extension{
					{Id: oid.ExtensionKeyUsage, Critical: true, Value: []byte{0x03, 0x02, 0x05, 0xa0}},
				},
			},
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			raw := generateCSR(t, tc.tmpl)

			c, err := der.DecodeSignedCSR(raw)
			require.NoError(t, err)
			assert.Equal(t, 0, c.TBS.Version)
			assert.True(t, c.SignatureAlgorithm.Algorithm.Equal(oid.SignatureSHA256WithECDSA))
			assert.True(t, c.TBS.SubjectPublicKeyInfo.Algorithm.Algorithm.Equal(oid.KeyECDSA))

			encoded, err := der.EncodeSignedCSR(c)
			require.NoError(t, err)
			assert.Equal(t, raw, encoded)

			parsed, err := x509.ParseCertificateRequest(raw)
			require.NoError(t, err)
			tbs, err := c.SignedTBS()
			require.NoError(t, err)
			assert.Equal(t, parsed.RawTBSCertificateRequest, tbs)
			assert.Equal(t, parsed.Subject.String(), c.TBS.Subject.String())
			assert.Len(t, c.TBS.Extensions, len(parsed.Extensions))

			spki, err := der.EncodeSPKI(&c.TBS.SubjectPublicKeyInfo)
			require.NoError(t, err)
			assert.Equal(t, parsed.RawSubjectPublicKeyInfo, spki)
		})
	}
}

func Test_TBSCSR_Builder(t *testing.T) {
	name, err := der.NameFromPKIX(pkix.Name{CommonName: "builder", Organization: []string{"xkmf"}})
	require.NoError(t, err)

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	spkiDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	spki, err := der.DecodeSPKI(spkiDER)
	require.NoError(t, err)

	ku, err := der.EncodeKeyUsage(x509.KeyUsageDigitalSignature)
	require.NoError(t, err)

	tbs := &der.TBSCSR{
		Version:              2,
		Subject:              name,
		SubjectPublicKeyInfo: *spki,
		Extensions: []der.Extension{
			{ID: oid.ExtensionKeyUsage, Critical: true, Value: ku},
		},
	}

	raw, err := der.EncodeTBSCSR(tbs)
	require.NoError(t, err)

	decoded, err := der.DecodeTBSCSR(raw)
	require.NoError(t, err)
	assert.Equal(t, tbs, decoded)

	again, err := der.EncodeTBSCSR(decoded)
	require.NoError(t, err)
	assert.Equal(t, raw, again)

	// no extensions: empty attributes
	tbs.Extensions = nil
	raw, err = der.EncodeTBSCSR(tbs)
	require.NoError(t, err)
	decoded, err = der.DecodeTBSCSR(raw)
	require.NoError(t, err)
	assert.Empty(t, decoded.Extensions)
	assert.Empty(t, decoded.Attributes)

	tbs.Version = -1
	_, err = der.EncodeTBSCSR(tbs)
	assert.True(t, errors.Is(err, xkmf.ErrEncoding))
}

func Test_DecodeSignedCSR_Errors(t *testing.T) {
	raw := generateCSR(t, &x509.CertificateRequest{Subject: pkix.Name{CommonName: "err"}})

	tcases := map[string][]byte{
		"empty":     nil,
		"garbage":   []byte{0x01, 0x02, 0x03},
		"truncated": raw[:len(raw)-1],
		"trailing":  append(append([]byte{}, raw...), 0x00),
	}
	for name, data := range tcases {
		t.Run(name, func(t *testing.T) {
			c, err := der.DecodeSignedCSR(data)
			assert.Nil(t, c)
			require.Error(t, err)
			assert.True(t, errors.Is(err, xkmf.ErrEncoding), err.Error())
		})
	}

	c, err := der.DecodeSignedCSR(raw)
	require.NoError(t, err)
	c.Signature = nil
	out, err := der.EncodeSignedCSR(c)
	assert.Nil(t, out)
	assert.True(t, errors.Is(err, xkmf.ErrEncoding))
}

func Test_DSASignature(t *testing.T) {
	// r has the high bit set, s is short
	raw := make([]byte, 64)
	raw[0] = 0x80
	raw[31] = 1
	raw[63] = 2

	sig, err := der.EncodeDSASignature(raw)
	require.NoError(t, err)

	var parsed struct{ R, S asn1.RawValue }
	_, err = asn1.Unmarshal(sig, &parsed)
	require.NoError(t, err)

	back, err := der.DecodeDSASignature(sig, 64)
	require.NoError(t, err)
	assert.Equal(t, raw, back)

	// size derived from the values
	back, err = der.DecodeDSASignature(sig, 0)
	require.NoError(t, err)
	assert.Equal(t, raw, back)

	_, err = der.DecodeDSASignature(sig, 32)
	assert.True(t, errors.Is(err, xkmf.ErrEncoding))

	for _, bad := range [][]byte{nil, {1, 2, 3}, make([]byte, 8)} {
		_, err = der.EncodeDSASignature(bad)
		assert.True(t, errors.Is(err, xkmf.ErrEncoding))
	}

	_, err = der.DecodeDSASignature([]byte{0x30, 0x00}, 64)
	assert.True(t, errors.Is(err, xkmf.ErrEncoding))
	_, err = der.DecodeDSASignature(sig, 3)
	assert.True(t, errors.Is(err, xkmf.ErrEncoding))
}

func Test_OIDSequence(t *testing.T) {
	seq, err := der.EncodeOIDSequence(oid.ExtKeyUsageServerAuth)
	require.NoError(t, err)

	body, err := der.SequenceContents(seq)
	require.NoError(t, err)

	merged, err := der.AppendOIDToSequence(body, oid.ExtKeyUsageClientAuth)
	require.NoError(t, err)

	ids, err := der.DecodeOIDSequence(merged)
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.True(t, ids[0].Equal(oid.ExtKeyUsageServerAuth))
	assert.True(t, ids[1].Equal(oid.ExtKeyUsageClientAuth))

	expected, err := der.EncodeOIDSequence(oid.ExtKeyUsageServerAuth, oid.ExtKeyUsageClientAuth)
	require.NoError(t, err)
	assert.Equal(t, expected, merged)

	empty, err := der.EncodeOIDSequence()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x30, 0x00}, empty)
	ids, err = der.DecodeOIDSequence(empty)
	require.NoError(t, err)
	assert.Empty(t, ids)

	_, err = der.DecodeOIDSequence([]byte{0x30, 0x01, 0x02})
	assert.True(t, errors.Is(err, xkmf.ErrEncoding))
	_, err = der.SequenceContents([]byte{0x31, 0x00})
	assert.True(t, errors.Is(err, xkmf.ErrEncoding))
	_, err = der.AppendToSequence(body, []byte{0x06})
	assert.True(t, errors.Is(err, xkmf.ErrEncoding))
	_, err = der.EncodeOID(asn1.ObjectIdentifier{1})
	assert.True(t, errors.Is(err, xkmf.ErrEncoding))
}

func Test_KeyUsage(t *testing.T) {
	tcases := []struct {
		ku  x509.KeyUsage
		exp string
	}{
		{x509.KeyUsageDigitalSignature, "03020780"},
		{x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment, "030205a0"},
		{x509.KeyUsageCertSign | x509.KeyUsageCRLSign, "03020106"},
		{x509.KeyUsageDecipherOnly, "0303070080"},
	}
	for _, tc := range tcases {
		v, err := der.EncodeKeyUsage(tc.ku)
		require.NoError(t, err)
		assert.Equal(t, tc.exp, hex.EncodeToString(v))

		ku, err := der.DecodeKeyUsage(v)
		require.NoError(t, err)
		assert.Equal(t, tc.ku, ku)
	}

	_, err := der.EncodeKeyUsage(0)
	assert.True(t, errors.Is(err, xkmf.ErrBadParameter))
}

func Test_GeneralName(t *testing.T) {
	tcases := []struct {
		typ   der.GeneralNameType
		value string
		exp   string
	}{
		{der.GeneralNameDNS, "a.b", "8203612e62"},
		{der.GeneralNameEmail, "a@b", "8103614062"},
		{der.GeneralNameURI, "x:y", "8603783a79"},
		{der.GeneralNameIP, "10.0.0.1", "87040a000001"},
		{der.GeneralNameRegisteredID, "1.2.3", "88022a03"},
	}
	var names []der.GeneralName
	for _, tc := range tcases {
		v, err := der.EncodeGeneralName(tc.typ, tc.value)
		require.NoError(t, err)
		assert.Equal(t, tc.exp, hex.EncodeToString(v))
		names = append(names, der.GeneralName{Type: tc.typ, Value: tc.value})
	}

	san, err := der.EncodeSubjectAltName(names...)
	require.NoError(t, err)
	decoded, err := der.DecodeSubjectAltName(san)
	require.NoError(t, err)
	assert.Equal(t, names, decoded)

	_, err = der.EncodeGeneralName(der.GeneralNameIP, "not.ip")
	assert.True(t, errors.Is(err, xkmf.ErrBadParameter))
	_, err = der.EncodeGeneralName(der.GeneralNameDNS, "")
	assert.True(t, errors.Is(err, xkmf.ErrBadParameter))
	_, err = der.EncodeGeneralName(der.GeneralNameType(3), "x")
	assert.True(t, errors.Is(err, xkmf.ErrBadParameter))

	typ, err := der.ParseGeneralNameType("DNS")
	require.NoError(t, err)
	assert.Equal(t, der.GeneralNameDNS, typ)
	assert.Equal(t, "dns", typ.String())
	_, err = der.ParseGeneralNameType("x400")
	assert.Error(t, err)
}

func Test_Extensions(t *testing.T) {
	list := []der.Extension{
		{ID: oid.ExtensionKeyUsage, Critical: true, Value: []byte{0x03, 0x02, 0x07, 0x80}},
		{ID: oid.ExtensionSubjectAltName, Value: []byte{0x30, 0x00}},
	}
	raw, err := der.EncodeExtensions(list)
	require.NoError(t, err)
	decoded, err := der.DecodeExtensions(raw)
	require.NoError(t, err)
	assert.Equal(t, list, decoded)

	assert.Equal(t, 1, der.FindExtension(list, oid.ExtensionSubjectAltName))
	assert.Equal(t, -1, der.FindExtension(list, oid.ExtensionExtendedKeyUsage))

	// explicit FALSE is not DER
	_, err = der.DecodeExtensions([]byte{0x30, 0x0c, 0x30, 0x0a, 0x06, 0x03, 0x55, 0x1d, 0x0f, 0x01, 0x01, 0x00, 0x04, 0x00})
	assert.True(t, errors.Is(err, xkmf.ErrEncoding))
}

func Test_Name(t *testing.T) {
	pn := pkix.Name{
		CommonName:         "xkmf",
		Organization:       []string{"effective"},
		OrganizationalUnit: []string{"kmf"},
		Country:            []string{"US"},
	}
	n, err := der.NameFromPKIX(pn)
	require.NoError(t, err)
	assert.Equal(t, 4, n.Size())
	assert.Equal(t, pn.String(), n.String())

	raw, err := der.EncodeName(n)
	require.NoError(t, err)
	exp, err := asn1.Marshal(pn.ToRDNSequence())
	require.NoError(t, err)
	assert.Equal(t, exp, raw)

	back, err := der.DecodeName(raw)
	require.NoError(t, err)
	assert.Equal(t, n, back)

	c := n.Clone()
	assert.Equal(t, n, c)
	c[0][0].Value[0] = 'X'
	assert.NotEqual(t, n, c)

	empty, err := der.DecodeName([]byte{0x30, 0x00})
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Size())

	_, err = der.DecodeName([]byte{0x30, 0x02, 0x31, 0x00})
	assert.True(t, errors.Is(err, xkmf.ErrEncoding))
}

func Test_Format(t *testing.T) {
	raw := generateCSR(t, &x509.CertificateRequest{Subject: pkix.Name{CommonName: "pem"}})

	assert.Equal(t, der.FormatASN1, der.DetectFormat(raw))
	p := der.ToPEM(der.LabelCSR, raw)
	assert.Contains(t, string(p), "-----BEGIN CERTIFICATE REQUEST-----")
	assert.Equal(t, der.FormatPEM, der.DetectFormat(p))
	assert.Equal(t, der.FormatUndefined, der.DetectFormat([]byte("not a csr")))
	assert.Equal(t, der.FormatUndefined, der.DetectFormat([]byte("-----BEGIN broken")))

	back, err := der.FromPEM(p, der.LabelCRL, der.LabelCSR)
	require.NoError(t, err)
	assert.Equal(t, raw, back)
	_, err = der.FromPEM(p, der.LabelCRL)
	assert.True(t, errors.Is(err, xkmf.ErrEncoding))

	for s, exp := range map[string]der.Format{"pem": der.FormatPEM, "DER": der.FormatASN1, "asn1": der.FormatASN1} {
		f, err := der.ParseFormat(s)
		require.NoError(t, err)
		assert.Equal(t, exp, f)
	}
	_, err = der.ParseFormat("txt")
	assert.True(t, errors.Is(err, xkmf.ErrBadParameter))
	assert.Equal(t, "pem", der.FormatPEM.String())
}
