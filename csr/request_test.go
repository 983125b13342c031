package csr_test

import (
	"crypto/x509"
	"encoding/asn1"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xkmf"
	"github.com/effective-security/xkmf/csr"
	"github.com/effective-security/xkmf/der"
	"github.com/effective-security/xkmf/oid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestCertificateRequestValidate(t *testing.T) {
	tcases := []struct {
		r   *csr.CertificateRequest
		err string
	}{
		{
			r: &csr.CertificateRequest{CommonName: "ekspand.com"},
		},
		{
			r: &csr.CertificateRequest{
				Names: []csr.X509Name{{Organization: "ekspand"}},
			},
		},
		{
			r:   &csr.CertificateRequest{Names: []csr.X509Name{{}}},
			err: "empty name: bad parameter",
		},
		{
			r:   &csr.CertificateRequest{},
			err: "missing subject information: bad parameter",
		},
	}

	for _, tc := range tcases {
		err := tc.r.Validate()
		if tc.err != "" {
			require.Error(t, err)
			assert.Equal(t, tc.err, err.Error())
			assert.True(t, errors.Is(err, xkmf.ErrBadParameter))
		} else {
			assert.NoError(t, err)
		}
	}
}

func TestCertificateRequestName(t *testing.T) {
	r := &csr.CertificateRequest{
		CommonName:   "ekspand.com",
		SerialNumber: "DN_SN_1234",
		Names: []csr.X509Name{
			{
				Organization: "ekspand",
				Province:     "WA",
				Country:      "US",
				EmailAddress: "d@test.com",
			},
		},
	}

	n := r.Name()
	values := map[string]any{}
	for _, rdn := range n.ToRDNSequence() {
		for _, atv := range rdn {
			values[atv.Type.String()] = atv.Value
		}
	}
	assert.Equal(t, map[string]any{
		"2.5.4.5":              "DN_SN_1234",
		"2.5.4.3":              "ekspand.com",
		"2.5.4.10":             "ekspand",
		"2.5.4.8":              "WA",
		"2.5.4.6":              "US",
		"1.2.840.113549.1.9.1": "d@test.com",
	}, values)
	assert.Equal(t, "DN_SN_1234", n.SerialNumber)
	assert.Equal(t, []string{"ekspand"}, n.Organization)

	r.AddSAN("ekspand.com")
	r.AddSAN("ekspand.com")
	r.AddSAN("10.1.1.1")
	assert.Equal(t, []string{"ekspand.com", "10.1.1.1"}, r.SAN)
}

func TestParseSAN(t *testing.T) {
	tcases := []struct {
		san string
		exp der.GeneralName
	}{
		{"ekspand.com", der.GeneralName{Type: der.GeneralNameDNS, Value: "ekspand.com"}},
		{"10.1.1.1", der.GeneralName{Type: der.GeneralNameIP, Value: "10.1.1.1"}},
		{"::1", der.GeneralName{Type: der.GeneralNameIP, Value: "::1"}},
		{"ops@ekspand.com", der.GeneralName{Type: der.GeneralNameEmail, Value: "ops@ekspand.com"}},
		{"spiffe://ekspand.com/kmf", der.GeneralName{Type: der.GeneralNameURI, Value: "spiffe://ekspand.com/kmf"}},
	}
	for _, tc := range tcases {
		assert.Equal(t, tc.exp, csr.ParseSAN(tc.san), tc.san)
	}
}

func TestX509Extension_GetValue(t *testing.T) {
	tcases := []struct {
		value string
		exp   []byte
		err   bool
	}{
		{"hex:0500", []byte{5, 0}, false},
		{"0500", []byte{5, 0}, false},
		{"base64:BQA=", []byte{5, 0}, false},
		{"BQA=", []byte{5, 0}, false},
		{"hex:zz", nil, true},
		{"!!", nil, true},
	}
	for _, tc := range tcases {
		v, err := csr.X509Extension{Value: tc.value}.GetValue()
		if tc.err {
			assert.True(t, errors.Is(err, xkmf.ErrBadParameter), tc.value)
		} else {
			require.NoError(t, err, tc.value)
			assert.Equal(t, tc.exp, v)
		}
	}
}

func TestOID_Marshal(t *testing.T) {
	ext := csr.X509Extension{ID: csr.OID{1, 2, 3, 4}, Critical: true, Value: "0500"}

	js, err := json.Marshal(ext)
	require.NoError(t, err)
	assert.Equal(t, `{"id":"1.2.3.4","critical":true,"value":"0500"}`, string(js))

	var fromJSON csr.X509Extension
	require.NoError(t, json.Unmarshal(js, &fromJSON))
	assert.True(t, ext.ID.Equal(fromJSON.ID))

	ym, err := yaml.Marshal(ext)
	require.NoError(t, err)
	var fromYAML csr.X509Extension
	require.NoError(t, yaml.Unmarshal(ym, &fromYAML))
	assert.Equal(t, ext, fromYAML)

	var id csr.OID
	assert.Error(t, json.Unmarshal([]byte(`1.2`), &id))
	assert.Error(t, json.Unmarshal([]byte(`"1"`), &id))
	assert.Error(t, yaml.Unmarshal([]byte(`id: x.y`), &fromYAML))
}

func TestApply(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "req.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
common_name: kmf.example.com
names:
  - o: Example
    c: US
san:
  - kmf.example.com
  - 10.0.0.1
  - ops@example.com
key_usage:
  - signing
  - key encipherment
ext_key_usage:
  - server auth
  - 1.3.6.1.5.5.7.3.2
  - server auth
extensions:
  - id: 1.2.3.4
    value: hex:0500
`), 0600))

	r, err := csr.LoadRequest(file)
	require.NoError(t, err)

	d := new(csr.Data)
	require.NoError(t, r.Apply(d))
	assert.Equal(t, "CN=kmf.example.com,O=Example,C=US", d.TBS.Subject.String())
	require.Len(t, d.TBS.Extensions, 4)

	names, err := der.DecodeSubjectAltName(d.TBS.Extensions[0].Value)
	require.NoError(t, err)
	assert.Len(t, names, 3)

	assert.True(t, d.TBS.Extensions[1].Critical)
	ku, err := der.DecodeKeyUsage(d.TBS.Extensions[1].Value)
	require.NoError(t, err)
	assert.Equal(t, x509.KeyUsageDigitalSignature|x509.KeyUsageKeyEncipherment, ku)

	ids, err := der.DecodeOIDSequence(d.TBS.Extensions[2].Value)
	require.NoError(t, err)
	assert.Equal(t, []asn1.ObjectIdentifier{oid.ExtKeyUsageServerAuth, oid.ExtKeyUsageClientAuth}, ids)

	assert.Equal(t, asn1.ObjectIdentifier{1, 2, 3, 4}, d.TBS.Extensions[3].ID)
	assert.Equal(t, []byte{5, 0}, d.TBS.Extensions[3].Value)
}

func TestApply_NoMutationOnFailure(t *testing.T) {
	d := new(csr.Data)
	require.NoError(t, d.SetKeyUsage(false, x509.KeyUsageCertSign))
	before := d.Clone()

	for _, r := range []*csr.CertificateRequest{
		{},
		{CommonName: "cn", ExtKeyUsage: []string{"unknown usage"}},
		{CommonName: "cn", KeyUsage: []string{"unknown usage"}},
		{CommonName: "cn", Extensions: []csr.X509Extension{{ID: csr.OID{1, 2, 3}, Value: "!!"}}},
		{CommonName: "cn", SAN: []string{"ok.example.com", "badé.example.com"}},
	} {
		err := r.Apply(d)
		assert.True(t, errors.Is(err, xkmf.ErrBadParameter), "%+v", r)
		assert.Equal(t, before, d)
	}
}

func TestLoadRequest(t *testing.T) {
	dir := t.TempDir()
	js := filepath.Join(dir, "req.json")
	require.NoError(t, os.WriteFile(js, []byte(`{"common_name":"json.example.com","san":["json.example.com"]}`), 0600))
	r, err := csr.LoadRequest(js)
	require.NoError(t, err)
	assert.Equal(t, "json.example.com", r.CommonName)

	_, err = csr.LoadRequest(filepath.Join(dir, "missing.yaml"))
	assert.True(t, errors.Is(err, xkmf.ErrOpenFile))

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{`), 0600))
	_, err = csr.LoadRequest(bad)
	assert.True(t, errors.Is(err, xkmf.ErrBadParameter))
}
