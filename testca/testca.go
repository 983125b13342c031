// Package testca issues throw-away certificates and CRLs for tests
package testca

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"os"
	"sync/atomic"
	"time"

	"github.com/effective-security/xkmf/der"
)

// Entity is a certificate and its private key
type Entity struct {
	Subject      pkix.Name
	Issuer       *Entity
	PrivateKey   crypto.Signer
	Certificate  *x509.Certificate
	NextSN       int64
	IsCA         bool
	NotBefore    time.Time
	NotAfter     time.Time
	KeyUsage     x509.KeyUsage
	ExtKeyUsage  []x509.ExtKeyUsage
	DNSNames     []string
	CRLDistPoint []string
}

// Option modifies the entity before its certificate is issued
type Option func(*Entity)

// NewEntity returns a self-signed entity, or one issued by the Issuer option
func NewEntity(opts ...Option) *Entity {
	e := &Entity{
		Subject:   pkix.Name{CommonName: "[TEST] Entity"},
		NextSN:    1,
		NotBefore: time.Now().Add(-time.Hour).UTC(),
		NotAfter:  time.Now().Add(24 * time.Hour).UTC(),
		KeyUsage:  x509.KeyUsageDigitalSignature,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.PrivateKey == nil {
		key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			panic(err)
		}
		e.PrivateKey = key
	}

	issuer := e
	if e.Issuer != nil {
		issuer = e.Issuer
	}

	template := &x509.Certificate{
		SerialNumber:          big.NewInt(issuer.nextSerial()),
		Subject:               e.Subject,
		NotBefore:             e.NotBefore,
		NotAfter:              e.NotAfter,
		KeyUsage:              e.KeyUsage,
		ExtKeyUsage:           e.ExtKeyUsage,
		DNSNames:              e.DNSNames,
		CRLDistributionPoints: e.CRLDistPoint,
		BasicConstraintsValid: true,
		IsCA:                  e.IsCA,
	}

	parent := template
	if e.Issuer != nil {
		parent = e.Issuer.Certificate
	}

	raw, err := x509.CreateCertificate(rand.Reader, template, parent, e.PrivateKey.Public(), issuer.PrivateKey)
	if err != nil {
		panic(err)
	}
	e.Certificate, err = x509.ParseCertificate(raw)
	if err != nil {
		panic(err)
	}
	return e
}

// Issue returns an entity issued by e
func (e *Entity) Issue(opts ...Option) *Entity {
	return NewEntity(append([]Option{Issuer(e)}, opts...)...)
}

// Chain returns the certificates from e to the root
func (e *Entity) Chain() []*x509.Certificate {
	var chain []*x509.Certificate
	for c := e; c != nil; c = c.Issuer {
		chain = append(chain, c.Certificate)
	}
	return chain
}

// CRL returns DER encoded CRL signed by e.
// The CRL is valid from thisUpdate to nextUpdate.
func (e *Entity) CRL(thisUpdate, nextUpdate time.Time, revoked ...*x509.Certificate) []byte {
	entries := make([]x509.RevocationListEntry, 0, len(revoked))
	for _, c := range revoked {
		entries = append(entries, x509.RevocationListEntry{
			SerialNumber:   c.SerialNumber,
			RevocationTime: thisUpdate,
		})
	}
	raw, err := x509.CreateRevocationList(rand.Reader, &x509.RevocationList{
		Number:                    big.NewInt(e.nextSerial()),
		ThisUpdate:                thisUpdate,
		NextUpdate:                nextUpdate,
		RevokedCertificateEntries: entries,
	}, e.Certificate, e.PrivateKey)
	if err != nil {
		panic(err)
	}
	return raw
}

// SaveCert writes the certificate in PEM or DER
func (e *Entity) SaveCert(file string, pem bool) error {
	return save(file, e.Certificate.Raw, "CERTIFICATE", pem)
}

// SaveCRL writes the CRL in PEM or DER
func SaveCRL(file string, crl []byte, pem bool) error {
	return save(file, crl, der.LabelCRL, pem)
}

func save(file string, raw []byte, label string, pem bool) error {
	if pem {
		raw = der.ToPEM(label, raw)
	}
	return os.WriteFile(file, raw, 0644)
}

func (e *Entity) nextSerial() int64 {
	return atomic.AddInt64(&e.NextSN, 1) - 1
}

// Authority marks the entity as CA
func Authority(e *Entity) {
	e.IsCA = true
	e.KeyUsage = x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature
}

// Subject sets the subject
func Subject(s pkix.Name) Option {
	return func(e *Entity) {
		e.Subject = s
	}
}

// Issuer sets the issuer
func Issuer(issuer *Entity) Option {
	return func(e *Entity) {
		e.Issuer = issuer
	}
}

// PrivateKey sets the key
func PrivateKey(key crypto.Signer) Option {
	return func(e *Entity) {
		e.PrivateKey = key
	}
}

// NextSerialNumber sets the serial number of the next issued certificate
func NextSerialNumber(sn int64) Option {
	return func(e *Entity) {
		e.NextSN = sn
	}
}

// NotBefore sets the start of the validity period
func NotBefore(t time.Time) Option {
	return func(e *Entity) {
		e.NotBefore = t
	}
}

// NotAfter sets the end of the validity period
func NotAfter(t time.Time) Option {
	return func(e *Entity) {
		e.NotAfter = t
	}
}

// KeyUsage sets the key usage
func KeyUsage(ku x509.KeyUsage) Option {
	return func(e *Entity) {
		e.KeyUsage = ku
	}
}

// ExtKeyUsage sets the extended key usage
func ExtKeyUsage(eku ...x509.ExtKeyUsage) Option {
	return func(e *Entity) {
		e.ExtKeyUsage = eku
	}
}

// DNSName sets the DNS names
func DNSName(names ...string) Option {
	return func(e *Entity) {
		e.DNSNames = names
	}
}

// CrlDpURL sets the CRL distribution points
func CrlDpURL(urls ...string) Option {
	return func(e *Entity) {
		e.CRLDistPoint = urls
	}
}
