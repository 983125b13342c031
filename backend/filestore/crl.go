package filestore

import (
	"bytes"
	"context"
	"crypto/x509"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/x/fileutil"
	"github.com/effective-security/xkmf"
	"github.com/effective-security/xkmf/attr"
	"github.com/effective-security/xkmf/der"
	"github.com/effective-security/xkmf/plugin"
	"github.com/effective-security/xlog"
)

// ImportCRL copies the CRL file into the directory,
// optionally verifying it with the issuer certificate
func (s *Store) ImportCRL(_ context.Context, attrs attr.List) error {
	p, err := plugin.ParseCRLParams(&plugin.OpImportCRL, attrs)
	if err != nil {
		return err
	}

	crl, _, err := ReadCRL(p.CRLFilename)
	if err != nil {
		return err
	}

	if p.CertFilename != "" {
		issuer, err := ReadCert(p.CertFilename)
		if err != nil {
			return err
		}
		if err = crl.CheckSignatureFrom(issuer); err != nil {
			return errors.Mark(errors.WithMessage(err, "CRL signature"), xkmf.ErrVerification)
		}
	}
	if p.Check {
		if err = CheckDate(crl, time.Now()); err != nil {
			return err
		}
	}

	var out []byte
	switch p.Format {
	case der.FormatASN1:
		out = crl.Raw
	case der.FormatPEM:
		out = der.ToPEM(der.LabelCRL, crl.Raw)
	default:
		return errors.WithMessagef(xkmf.ErrBadParameter, "unsupported format: %s", p.Format)
	}

	name := p.CRLOutFilename
	if name == "" {
		name = filepath.Base(p.CRLFilename)
	}
	file := s.crlPath(p.Directory, name)
	if err = os.WriteFile(file, out, 0644); err != nil {
		return errors.Mark(errors.WithMessagef(err, "unable to write CRL"), xkmf.ErrWriteFile)
	}

	logger.KV(xlog.DEBUG, "status", "imported", "crl", file, "issuer", crl.Issuer.String())
	return nil
}

// DeleteCRL removes the CRL file
func (s *Store) DeleteCRL(_ context.Context, attrs attr.List) error {
	p, err := plugin.ParseCRLParams(&plugin.OpDeleteCRL, attrs)
	if err != nil {
		return err
	}
	file, err := s.crlFile(p)
	if err != nil {
		return err
	}
	if _, _, err = ReadCRL(file); err != nil {
		return err
	}
	if err = os.Remove(file); err != nil {
		return errors.Mark(errors.WithMessagef(err, "unable to delete CRL"), xkmf.ErrOpenFile)
	}
	logger.KV(xlog.DEBUG, "status", "deleted", "crl", file)
	return nil
}

// ListCRL returns the content of the CRL file when its name is provided,
// or the names of the CRL files in the directory
func (s *Store) ListCRL(_ context.Context, attrs attr.List) ([]string, error) {
	p, err := plugin.ParseCRLParams(&plugin.OpListCRL, attrs)
	if err != nil {
		return nil, err
	}
	if p.CRLFilename == "" && p.CRLName == "" {
		return s.listDir(p.Directory)
	}

	file, err := s.crlFile(p)
	if err != nil {
		return nil, err
	}
	crl, _, err := ReadCRL(file)
	if err != nil {
		return nil, err
	}
	return Describe(crl), nil
}

// FindCertInCRL returns nil if the certificate is listed in the CRL,
// or xkmf.ErrNotRevoked
func (s *Store) FindCertInCRL(_ context.Context, attrs attr.List) error {
	p, err := plugin.ParseCRLParams(&plugin.OpFindCertInCRL, attrs)
	if err != nil {
		return err
	}
	file, err := s.crlFile(p)
	if err != nil {
		return err
	}

	var cert *x509.Certificate
	switch {
	case len(p.CertData) > 0:
		cert, err = ParseCert(p.CertData)
	case p.CertFilename != "":
		cert, err = ReadCert(p.CertFilename)
	default:
		err = errors.WithMessage(xkmf.ErrBadParameter, "certificate is required")
	}
	if err != nil {
		return err
	}

	crl, _, err := ReadCRL(file)
	if err != nil {
		return err
	}
	return FindCert(crl, cert)
}

// VerifyCRLFile verifies the signature of the CRL file
// with DER or PEM encoded issuer certificate
func (s *Store) VerifyCRLFile(_ context.Context, crlFile string, issuer []byte) error {
	cert, err := ParseCert(issuer)
	if err != nil {
		return err
	}
	crl, _, err := ReadCRL(crlFile)
	if err != nil {
		return err
	}
	if err = crl.CheckSignatureFrom(cert); err != nil {
		return errors.Mark(errors.WithMessage(err, "CRL signature"), xkmf.ErrVerification)
	}
	return nil
}

// CheckCRLDate checks the validity period of the CRL file
func (s *Store) CheckCRLDate(_ context.Context, crlFile string) error {
	crl, _, err := ReadCRL(crlFile)
	if err != nil {
		return err
	}
	return CheckDate(crl, time.Now())
}

// IsCRLFile returns the encoding of the CRL file
func (s *Store) IsCRLFile(_ context.Context, file string) (der.Format, error) {
	_, f, err := ReadCRL(file)
	if err != nil {
		return der.FormatUndefined, err
	}
	return f, nil
}

// ReadCRL returns the parsed CRL file and its encoding
func ReadCRL(file string) (*x509.RevocationList, der.Format, error) {
	if err := fileutil.FileExists(file); err != nil {
		return nil, der.FormatUndefined, errors.Mark(errors.WithMessage(err, "CRL file"), xkmf.ErrOpenFile)
	}
	raw, err := os.ReadFile(file)
	if err != nil {
		return nil, der.FormatUndefined, errors.Mark(errors.WithMessage(err, "CRL file"), xkmf.ErrOpenFile)
	}
	crl, f, err := ParseCRL(raw)
	if err != nil {
		return nil, der.FormatUndefined, errors.WithMessagef(err, "%s", filepath.Base(file))
	}
	return crl, f, nil
}

// ParseCRL returns the CRL decoded from PEM or DER, and its encoding
func ParseCRL(raw []byte) (*x509.RevocationList, der.Format, error) {
	f := der.DetectFormat(raw)
	b := raw
	switch f {
	case der.FormatPEM:
		var err error
		if b, err = der.FromPEM(raw, der.LabelCRL); err != nil {
			return nil, der.FormatUndefined, errors.Mark(err, xkmf.ErrBadCRLFile)
		}
	case der.FormatUndefined:
		return nil, der.FormatUndefined, errors.WithMessage(xkmf.ErrBadCRLFile, "neither PEM nor DER")
	}
	crl, err := x509.ParseRevocationList(b)
	if err != nil {
		return nil, der.FormatUndefined, errors.Mark(errors.WithMessage(err, "unable to parse CRL"), xkmf.ErrBadCRLFile)
	}
	return crl, f, nil
}

// CheckDate returns xkmf.ErrCRLNotYetValid or xkmf.ErrCRLExpired
// if the CRL is not valid at the time
func CheckDate(crl *x509.RevocationList, now time.Time) error {
	if crl.ThisUpdate.After(now) {
		return errors.WithMessagef(xkmf.ErrCRLNotYetValid, "this update %s", crl.ThisUpdate.UTC().Format(time.RFC3339))
	}
	if !crl.NextUpdate.IsZero() && crl.NextUpdate.Before(now) {
		return errors.WithMessagef(xkmf.ErrCRLExpired, "next update %s", crl.NextUpdate.UTC().Format(time.RFC3339))
	}
	return nil
}

// FindCert returns nil if the certificate is listed in the CRL,
// or xkmf.ErrNotRevoked.
// The certificate must be issued by the CRL issuer.
func FindCert(crl *x509.RevocationList, cert *x509.Certificate) error {
	if !bytes.Equal(cert.RawIssuer, crl.RawIssuer) {
		return errors.WithMessagef(xkmf.ErrBadParameter, "certificate issuer %q does not match CRL issuer %q",
			cert.Issuer.String(), crl.Issuer.String())
	}
	for _, rc := range crl.RevokedCertificateEntries {
		if rc.SerialNumber != nil && rc.SerialNumber.Cmp(cert.SerialNumber) == 0 {
			return nil
		}
	}
	return errors.WithMessagef(xkmf.ErrNotRevoked, "serial %s", cert.SerialNumber.Text(16))
}

// Describe returns the printable lines of the CRL
func Describe(crl *x509.RevocationList) []string {
	lines := []string{
		"issuer: " + crl.Issuer.String(),
		"this update: " + crl.ThisUpdate.UTC().Format(time.RFC3339),
	}
	if !crl.NextUpdate.IsZero() {
		lines = append(lines, "next update: "+crl.NextUpdate.UTC().Format(time.RFC3339))
	}
	if crl.Number != nil {
		lines = append(lines, "number: "+crl.Number.String())
	}
	for _, rc := range crl.RevokedCertificateEntries {
		lines = append(lines, fmt.Sprintf("revoked: %s %s",
			strings.ToUpper(rc.SerialNumber.Text(16)),
			rc.RevocationTime.UTC().Format(time.RFC3339)))
	}
	return lines
}

func (s *Store) listDir(dir string) ([]string, error) {
	if dir == "" {
		dir = s.dir
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Mark(errors.WithMessage(err, "CRL directory"), xkmf.ErrOpenFile)
	}

	var list []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".crl", ".pem", ".der":
		default:
			continue
		}
		if _, _, err := ReadCRL(filepath.Join(dir, e.Name())); err != nil {
			logger.KV(xlog.DEBUG, "reason", "skip", "file", e.Name(), "err", err.Error())
			continue
		}
		list = append(list, e.Name())
	}
	return list, nil
}

func (s *Store) crlFile(p *plugin.CRLParams) (string, error) {
	name := p.CRLFilename
	if name == "" {
		name = p.CRLName
	}
	if name == "" {
		return "", errors.WithMessage(xkmf.ErrBadParameter, "CRL file name is required")
	}
	return s.crlPath(p.Directory, name), nil
}

// crlPath returns the name resolved against the directory,
// or the keystore directory
func (s *Store) crlPath(dir, name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	if dir == "" {
		dir = s.dir
	}
	return filepath.Join(dir, name)
}

// ReadCert returns the certificate of the PEM or DER file
func ReadCert(file string) (*x509.Certificate, error) {
	raw, err := os.ReadFile(file)
	if err != nil {
		return nil, errors.Mark(errors.WithMessage(err, "certificate file"), xkmf.ErrOpenFile)
	}
	return ParseCert(raw)
}

// ParseCert returns the certificate decoded from PEM or DER
func ParseCert(raw []byte) (*x509.Certificate, error) {
	b := raw
	if der.DetectFormat(raw) == der.FormatPEM {
		var err error
		if b, err = der.FromPEM(raw, "CERTIFICATE"); err != nil {
			return nil, errors.Mark(err, xkmf.ErrBadParameter)
		}
	}
	cert, err := x509.ParseCertificate(b)
	if err != nil {
		return nil, errors.Mark(errors.WithMessage(err, "unable to parse certificate"), xkmf.ErrBadParameter)
	}
	return cert, nil
}
