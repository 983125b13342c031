// Package crl routes CRL operations to the keystore backends.
//
// The db keystore stores CRLs in its database and is the only keystore that
// can find them by issuer or subject. The file, pkcs11, awskms and gcpkms
// keystores keep CRLs as files, and their CRL operations are served by the
// file keystore.
package crl

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xkmf"
	"github.com/effective-security/xkmf/attr"
	"github.com/effective-security/xkmf/der"
	"github.com/effective-security/xkmf/kmf"
	"github.com/effective-security/xkmf/metricskey"
	"github.com/effective-security/xkmf/plugin"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/xkmf", "crl")

// Route returns the keystore type that serves CRL operations
// of the keystore type
func Route(t plugin.KeystoreType) (plugin.KeystoreType, error) {
	switch t {
	case plugin.KeystoreDB:
		return plugin.KeystoreDB, nil
	case plugin.KeystoreFile, plugin.KeystorePKCS11, plugin.KeystoreAWSKMS, plugin.KeystoreGCPKMS:
		return plugin.KeystoreFile, nil
	}
	return plugin.KeystoreNull, errors.WithMessagef(xkmf.ErrPluginNotFound, "CRL operations are not supported by %s keystore", t)
}

func setup(h *kmf.Handle, attrs attr.List) (plugin.KeystoreType, *plugin.Plugin, error) {
	if err := attr.Validate([]attr.Spec{{Kind: attr.KindKeystoreType}}, nil, attrs); err != nil {
		return plugin.KeystoreNull, nil, err
	}
	kt, err := plugin.KeystoreTypeOf(attrs)
	if err != nil {
		return plugin.KeystoreNull, nil, err
	}
	target, err := Route(kt)
	if err != nil {
		return kt, nil, err
	}
	p, err := h.Plugin(target)
	if err != nil {
		return kt, nil, err
	}
	return kt, p, nil
}

func done(started time.Time, kt plugin.KeystoreType, action string, err error) {
	metricskey.PerfCRLOperation.MeasureSince(started, kt.String(), action)
	if err != nil && !errors.Is(err, xkmf.ErrNotRevoked) {
		logger.KV(xlog.ERROR, "keystore", kt, "action", action, "err", err.Error())
	}
}

// Import imports a CRL into the keystore
func Import(ctx context.Context, h *kmf.Handle, attrs attr.List) error {
	kt, p, err := setup(h, attrs)
	if err != nil {
		return err
	}
	importer, err := p.CRLImporter()
	if err != nil {
		return err
	}

	started := time.Now()
	err = importer.ImportCRL(ctx, attrs)
	done(started, kt, "import", err)
	return err
}

// Delete deletes a CRL from the keystore
func Delete(ctx context.Context, h *kmf.Handle, attrs attr.List) error {
	kt, p, err := setup(h, attrs)
	if err != nil {
		return err
	}
	deleter, err := p.CRLDeleter()
	if err != nil {
		return err
	}

	started := time.Now()
	err = deleter.DeleteCRL(ctx, attrs)
	done(started, kt, "delete", err)
	return err
}

// List returns the CRL listing of the keystore
func List(ctx context.Context, h *kmf.Handle, attrs attr.List) ([]string, error) {
	kt, p, err := setup(h, attrs)
	if err != nil {
		return nil, err
	}
	lister, err := p.CRLLister()
	if err != nil {
		return nil, err
	}

	started := time.Now()
	list, err := lister.ListCRL(ctx, attrs)
	done(started, kt, "list", err)
	if err != nil {
		return nil, err
	}
	return list, nil
}

// Find returns the names of CRLs by issuer or subject.
// Only the db keystore supports it.
func Find(ctx context.Context, h *kmf.Handle, attrs attr.List) ([]string, error) {
	if err := attr.Validate([]attr.Spec{{Kind: attr.KindKeystoreType}}, nil, attrs); err != nil {
		return nil, err
	}
	kt, err := plugin.KeystoreTypeOf(attrs)
	if err != nil {
		return nil, err
	}

	switch kt {
	case plugin.KeystoreDB:
	case plugin.KeystoreFile, plugin.KeystorePKCS11, plugin.KeystoreAWSKMS, plugin.KeystoreGCPKMS:
		return nil, errors.WithMessagef(xkmf.ErrFunctionNotFound, "%s keystore does not support find_crl", kt)
	default:
		return nil, errors.WithMessagef(xkmf.ErrPluginNotFound, "CRL operations are not supported by %s keystore", kt)
	}

	p, err := h.Plugin(kt)
	if err != nil {
		return nil, err
	}
	finder, err := p.CRLFinder()
	if err != nil {
		return nil, err
	}

	started := time.Now()
	list, err := finder.FindCRL(ctx, attrs)
	done(started, kt, "find", err)
	if err != nil {
		return nil, err
	}
	return list, nil
}

// FindCertInCRL returns nil if the certificate is revoked by the CRL,
// or xkmf.ErrNotRevoked
func FindCertInCRL(ctx context.Context, h *kmf.Handle, attrs attr.List) error {
	kt, p, err := setup(h, attrs)
	if err != nil {
		return err
	}
	finder, err := p.CertInCRLFinder()
	if err != nil {
		return err
	}

	started := time.Now()
	err = finder.FindCertInCRL(ctx, attrs)
	done(started, kt, "find_cert", err)
	return err
}

// VerifyFile verifies the signature of the CRL file with the issuer certificate
func VerifyFile(ctx context.Context, h *kmf.Handle, crlFile string, issuer []byte) error {
	if crlFile == "" || len(issuer) == 0 {
		return errors.WithMessage(xkmf.ErrBadParameter, "CRL file and issuer are required")
	}
	ops, err := h.CRLFileOps()
	if err != nil {
		return err
	}

	started := time.Now()
	err = ops.VerifyCRLFile(ctx, crlFile, issuer)
	done(started, plugin.KeystoreFile, "verify_file", err)
	return err
}

// CheckDate checks the validity period of the CRL file
func CheckDate(ctx context.Context, h *kmf.Handle, crlFile string) error {
	if crlFile == "" {
		return errors.WithMessage(xkmf.ErrBadParameter, "CRL file is required")
	}
	ops, err := h.CRLFileOps()
	if err != nil {
		return err
	}

	started := time.Now()
	err = ops.CheckCRLDate(ctx, crlFile)
	done(started, plugin.KeystoreFile, "check_date", err)
	return err
}

// IsCRLFile returns the encoding format of the CRL file,
// or xkmf.ErrBadCRLFile
func IsCRLFile(ctx context.Context, h *kmf.Handle, file string) (der.Format, error) {
	if file == "" {
		return der.FormatUndefined, errors.WithMessage(xkmf.ErrBadParameter, "file is required")
	}
	ops, err := h.CRLFileOps()
	if err != nil {
		return der.FormatUndefined, err
	}
	return ops.IsCRLFile(ctx, file)
}
