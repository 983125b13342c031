package cli

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509/pkix"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/alecthomas/kong"
	"github.com/effective-security/x/ctl"
	"github.com/effective-security/xkmf/backend/dbstore"
	"github.com/effective-security/xkmf/backend/filestore"
	"github.com/effective-security/xkmf/testca"
	"github.com/stretchr/testify/suite"
)

const cfgTemplate = `keystores:
  - type: file
    path: %s
  - type: db
    path: %s
`

type testSuite struct {
	suite.Suite

	ctl *Cli
	// Out is the outpub buffer
	Out bytes.Buffer

	tmpdir  string
	keysDir string

	ca      *testca.Entity
	leaf    *testca.Entity
	other   *testca.Entity
	caFile  string
	crlFile string
}

func (s *testSuite) SetupTest() {
	s.Out.Reset()
	s.tmpdir = s.T().TempDir()
	s.keysDir = filepath.Join(s.tmpdir, "keys")
	s.Require().NoError(os.MkdirAll(s.keysDir, 0755))

	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	s.Require().NoError(err)
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	s.Require().NoError(err)

	fs, err := filestore.New(s.keysDir)
	s.Require().NoError(err)
	s.Require().NoError(fs.ImportKey("ec", ecKey))
	s.Require().NoError(fs.ImportKey("rsa", rsaKey))

	dbFile := filepath.Join(s.tmpdir, "kmf.db")
	db, err := dbstore.Open(dbFile)
	s.Require().NoError(err)
	s.Require().NoError(db.ImportKey("ec", ecKey))
	s.Require().NoError(db.Close())

	cfg := filepath.Join(s.tmpdir, "kmf.yaml")
	s.Require().NoError(os.WriteFile(cfg, []byte(fmt.Sprintf(cfgTemplate, s.keysDir, dbFile)), 0644))

	s.ctl = &Cli{}
	s.ctl.WithErrWriter(&s.Out).
		WithWriter(&s.Out)

	parser, err := kong.New(s.ctl,
		kong.Name("kmf-tool"),
		kong.Description("CLI tool for certificate requests and CRLs"),
		kong.Writers(&s.Out, &s.Out),
		ctl.BoolPtrMapper,
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
		kong.Vars{})
	if err != nil {
		s.FailNow("unexpected error constructing Kong: %+v", err)
	}

	_, err = parser.Parse([]string{"--cfg=" + cfg})
	if err != nil {
		s.FailNow("unexpected error parsing: %+v", err)
	}

	s.ca = testca.NewEntity(
		testca.Authority,
		testca.Subject(pkix.Name{CommonName: "[TEST] KMF Root CA"}),
	)
	s.leaf = s.ca.Issue(testca.Subject(pkix.Name{CommonName: "[TEST] revoked"}))
	s.other = s.ca.Issue(testca.Subject(pkix.Name{CommonName: "[TEST] good"}))

	s.caFile = filepath.Join(s.tmpdir, "ca.pem")
	s.Require().NoError(s.ca.SaveCert(s.caFile, true))

	now := time.Now()
	s.crlFile = filepath.Join(s.tmpdir, "ca.crl")
	crl := s.ca.CRL(now.Add(-time.Hour), now.Add(time.Hour), s.leaf.Certificate)
	s.Require().NoError(testca.SaveCRL(s.crlFile, crl, false))
}

func (s *testSuite) TearDownTest() {
	s.NoError(s.ctl.Close())
}

// saveCert writes the certificate of the entity in PEM
func (s *testSuite) saveCert(e *testca.Entity, name string) string {
	file := filepath.Join(s.tmpdir, name)
	s.Require().NoError(e.SaveCert(file, true))
	return file
}

// HasText is a helper method to assert that the out stream contains the supplied
// text somewhere
func (s *testSuite) HasText(texts ...string) {
	outStr := s.Out.String()
	for _, t := range texts {
		s.Contains(outStr, t)
	}
}

// HasNoText is a helper method to assert that the out stream does not contain
// the supplied text
func (s *testSuite) HasNoText(texts ...string) {
	outStr := s.Out.String()
	for _, t := range texts {
		s.NotContains(outStr, t)
	}
}
