package dbstore

import (
	"bytes"
	"context"
	"crypto/x509"
	"encoding/json"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xkmf"
	"github.com/effective-security/xkmf/attr"
	"github.com/effective-security/xkmf/backend/filestore"
	"github.com/effective-security/xkmf/plugin"
	"github.com/effective-security/xlog"
	"go.etcd.io/bbolt"
)

// record is the value of the crls bucket
type record struct {
	Issuer     string    `json:"issuer"`
	RawIssuer  []byte    `json:"raw_issuer"`
	ThisUpdate time.Time `json:"this_update"`
	NextUpdate time.Time `json:"next_update,omitempty"`
	Imported   time.Time `json:"imported"`
	DER        []byte    `json:"der"`
}

// ImportCRL stores the CRL under CRLOutFilename, or the issuer name.
// A CRL with the same name is replaced.
func (s *Store) ImportCRL(_ context.Context, attrs attr.List) error {
	p, err := plugin.ParseCRLParams(&plugin.OpImportCRL, attrs)
	if err != nil {
		return err
	}
	crl, _, err := filestore.ReadCRL(p.CRLFilename)
	if err != nil {
		return err
	}
	if p.CertFilename != "" {
		issuer, err := filestore.ReadCert(p.CertFilename)
		if err != nil {
			return err
		}
		if err = crl.CheckSignatureFrom(issuer); err != nil {
			return errors.Mark(errors.WithMessage(err, "CRL signature"), xkmf.ErrVerification)
		}
	}
	if p.Check {
		if err = filestore.CheckDate(crl, time.Now()); err != nil {
			return err
		}
	}

	name := p.CRLOutFilename
	if name == "" {
		name = crl.Issuer.String()
	}
	value, err := json.Marshal(&record{
		Issuer:     crl.Issuer.String(),
		RawIssuer:  crl.RawIssuer,
		ThisUpdate: crl.ThisUpdate,
		NextUpdate: crl.NextUpdate,
		Imported:   time.Now().UTC(),
		DER:        crl.Raw,
	})
	if err != nil {
		return errors.Mark(errors.WithStack(err), xkmf.ErrEncoding)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketCRLs).Put([]byte(name), value)
	})
	if err != nil {
		return errors.Mark(errors.WithMessage(err, "unable to store CRL"), xkmf.ErrWriteFile)
	}
	logger.KV(xlog.DEBUG, "status", "imported", "crl", name)
	return nil
}

// DeleteCRL removes the CRL by name
func (s *Store) DeleteCRL(_ context.Context, attrs attr.List) error {
	p, err := plugin.ParseCRLParams(&plugin.OpDeleteCRL, attrs)
	if err != nil {
		return err
	}
	name, err := crlName(p)
	if err != nil {
		return err
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketCRLs)
		if b.Get([]byte(name)) == nil {
			return errors.WithMessagef(xkmf.ErrBadParameter, "CRL not found: %q", name)
		}
		return b.Delete([]byte(name))
	})
	if err != nil {
		return err
	}
	logger.KV(xlog.DEBUG, "status", "deleted", "crl", name)
	return nil
}

// ListCRL returns the content of the named CRL,
// or the names of all CRLs
func (s *Store) ListCRL(_ context.Context, attrs attr.List) ([]string, error) {
	p, err := plugin.ParseCRLParams(&plugin.OpListCRL, attrs)
	if err != nil {
		return nil, err
	}
	if p.CRLFilename == "" && p.CRLName == "" {
		return s.find(func(string, *record) bool { return true })
	}

	name, err := crlName(p)
	if err != nil {
		return nil, err
	}
	crl, err := s.get(name)
	if err != nil {
		return nil, err
	}
	return filestore.Describe(crl), nil
}

// FindCRL returns the names of CRLs by issuer or subject.
// The issuer matches the CRL issuer name, the subject matches
// any part of it, ignoring case.
func (s *Store) FindCRL(_ context.Context, attrs attr.List) ([]string, error) {
	p, err := plugin.ParseCRLParams(&plugin.OpFindCRL, attrs)
	if err != nil {
		return nil, err
	}
	subject := strings.ToLower(p.Subject)
	return s.find(func(_ string, r *record) bool {
		if p.Issuer != "" && !strings.EqualFold(r.Issuer, p.Issuer) {
			return false
		}
		if subject != "" && !strings.Contains(strings.ToLower(r.Issuer), subject) {
			return false
		}
		return true
	})
}

// FindCertInCRL returns nil if the certificate is listed in the named CRL,
// or in any CRL of its issuer when the name is not provided.
func (s *Store) FindCertInCRL(_ context.Context, attrs attr.List) error {
	p, err := plugin.ParseCRLParams(&plugin.OpFindCertInCRL, attrs)
	if err != nil {
		return err
	}

	var cert *x509.Certificate
	switch {
	case len(p.CertData) > 0:
		cert, err = filestore.ParseCert(p.CertData)
	case p.CertFilename != "":
		cert, err = filestore.ReadCert(p.CertFilename)
	default:
		err = errors.WithMessage(xkmf.ErrBadParameter, "certificate is required")
	}
	if err != nil {
		return err
	}

	if p.CRLName != "" || p.CRLFilename != "" {
		name, _ := crlName(p)
		crl, err := s.get(name)
		if err != nil {
			return err
		}
		return filestore.FindCert(crl, cert)
	}

	names, err := s.find(func(_ string, r *record) bool {
		return bytes.Equal(r.RawIssuer, cert.RawIssuer)
	})
	if err != nil {
		return err
	}
	if len(names) == 0 {
		return errors.WithMessagef(xkmf.ErrBadParameter, "no CRL for issuer %q", cert.Issuer.String())
	}
	for _, name := range names {
		crl, err := s.get(name)
		if err != nil {
			return err
		}
		if err = filestore.FindCert(crl, cert); !errors.Is(err, xkmf.ErrNotRevoked) {
			return err
		}
	}
	return errors.WithMessagef(xkmf.ErrNotRevoked, "serial %s", cert.SerialNumber.Text(16))
}

func (s *Store) get(name string) (*x509.RevocationList, error) {
	var r record
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketCRLs).Get([]byte(name))
		if v == nil {
			return errors.WithMessagef(xkmf.ErrBadParameter, "CRL not found: %q", name)
		}
		if err := json.Unmarshal(v, &r); err != nil {
			return errors.Mark(errors.WithMessagef(err, "CRL record %q", name), xkmf.ErrEncoding)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	crl, err := x509.ParseRevocationList(r.DER)
	if err != nil {
		return nil, errors.Mark(errors.WithMessagef(err, "CRL record %q", name), xkmf.ErrBadCRLFile)
	}
	return crl, nil
}

func (s *Store) find(match func(name string, r *record) bool) ([]string, error) {
	names := []string{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketCRLs).ForEach(func(k, v []byte) error {
			var r record
			if err := json.Unmarshal(v, &r); err != nil {
				return errors.Mark(errors.WithMessagef(err, "CRL record %q", string(k)), xkmf.ErrEncoding)
			}
			if match(string(k), &r) {
				names = append(names, string(k))
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

func crlName(p *plugin.CRLParams) (string, error) {
	switch {
	case p.CRLName != "":
		return p.CRLName, nil
	case p.CRLFilename != "":
		return p.CRLFilename, nil
	}
	return "", errors.WithMessage(xkmf.ErrBadParameter, "CRL name is required")
}
