// Package plugin provides the registry of keystore backends.
//
// A backend is registered for a single KeystoreType and exposes its
// capabilities by implementing the capability interfaces of this package.
// The capability table of a Plugin is resolved once, at registration.
package plugin

import (
	"context"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xkmf"
	"github.com/effective-security/xkmf/attr"
	"github.com/effective-security/xkmf/der"
	"github.com/effective-security/xkmf/oid"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/xkmf", "plugin")

// KeystoreType identifies the storage technology of a backend
type KeystoreType int

// Keystore types
const (
	KeystoreNull KeystoreType = iota
	// KeystoreDB is the queryable database keystore
	KeystoreDB
	// KeystoreFile is the directory of key and CRL files
	KeystoreFile
	// KeystorePKCS11 is a hardware token
	KeystorePKCS11
	// KeystoreAWSKMS is AWS KMS
	KeystoreAWSKMS
	// KeystoreGCPKMS is Google Cloud KMS
	KeystoreGCPKMS
)

var keystoreNames = []string{
	KeystoreNull:   "null",
	KeystoreDB:     "db",
	KeystoreFile:   "file",
	KeystorePKCS11: "pkcs11",
	KeystoreAWSKMS: "awskms",
	KeystoreGCPKMS: "gcpkms",
}

func (t KeystoreType) String() string {
	if t >= 0 && int(t) < len(keystoreNames) {
		return keystoreNames[t]
	}
	return fmt.Sprintf("keystore(%d)", int(t))
}

// ParseKeystoreType returns the keystore type by name
func ParseKeystoreType(s string) (KeystoreType, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, n := range keystoreNames {
		if n == name && i != int(KeystoreNull) {
			return KeystoreType(i), nil
		}
	}
	return KeystoreNull, errors.WithMessagef(xkmf.ErrBadParameter, "unsupported keystore type: %q", s)
}

// KeyClass of the key
type KeyClass int

// Key classes
const (
	KeyClassPrivate KeyClass = iota
	KeyClassPublic
)

// KeyHandle identifies a key in a keystore.
// ID or Label is resolved by the backend.
type KeyHandle struct {
	Keystore  KeystoreType
	Class     KeyClass
	Algorithm oid.Family
	ID        string
	Label     string
}

func (h *KeyHandle) String() string {
	return fmt.Sprintf("keystore=%s, id=%s, label=%s", h.Keystore, h.ID, h.Label)
}

// Backend is a keystore implementation
type Backend interface {
	// Type returns the keystore type served by the backend
	Type() KeystoreType
}

// PublicKeyExporter exports the public key of KindKeyHandle
// as DER encoded SubjectPublicKeyInfo
type PublicKeyExporter interface {
	ExportPublicKey(ctx context.Context, attrs attr.List) ([]byte, error)
}

// DataSigner signs KindData with KindKeyHandle.
// The signature of DSA and ECDSA keys is returned in raw r||s form.
type DataSigner interface {
	SignData(ctx context.Context, attrs attr.List) ([]byte, error)
}

// DataVerifier verifies KindSignature of KindData with KindSPKI.
// The signature of DSA and ECDSA keys is in raw r||s form.
type DataVerifier interface {
	VerifyData(ctx context.Context, attrs attr.List) error
}

// CRLImporter imports a CRL into the keystore
type CRLImporter interface {
	ImportCRL(ctx context.Context, attrs attr.List) error
}

// CRLDeleter deletes a CRL from the keystore
type CRLDeleter interface {
	DeleteCRL(ctx context.Context, attrs attr.List) error
}

// CRLLister lists a CRL, or CRLs, of the keystore
type CRLLister interface {
	ListCRL(ctx context.Context, attrs attr.List) ([]string, error)
}

// CRLFinder finds CRLs by issuer or subject
type CRLFinder interface {
	FindCRL(ctx context.Context, attrs attr.List) ([]string, error)
}

// CertInCRLFinder returns nil if the certificate is revoked,
// or xkmf.ErrNotRevoked
type CertInCRLFinder interface {
	FindCertInCRL(ctx context.Context, attrs attr.List) error
}

// CRLFileOps is the file level CRL interface of the file keystore
type CRLFileOps interface {
	// VerifyCRLFile verifies the signature of the CRL file with the issuer certificate
	VerifyCRLFile(ctx context.Context, crlFile string, issuer []byte) error
	// CheckCRLDate checks the validity period of the CRL file
	CheckCRLDate(ctx context.Context, crlFile string) error
	// IsCRLFile returns the encoding format of the CRL file,
	// or xkmf.ErrBadCRLFile
	IsCRLFile(ctx context.Context, file string) (der.Format, error)
}

// Plugin is a registered backend with its capability table
type Plugin struct {
	typ     KeystoreType
	backend Backend

	exporter  PublicKeyExporter
	signer    DataSigner
	verifier  DataVerifier
	importer  CRLImporter
	deleter   CRLDeleter
	lister    CRLLister
	finder    CRLFinder
	certFind  CertInCRLFinder
	fileOps   CRLFileOps
	capsNames []string
}

// NewPlugin returns a Plugin with the capability table of the backend
func NewPlugin(b Backend) *Plugin {
	p := &Plugin{
		typ:     b.Type(),
		backend: b,
	}
	add := func(ok bool, name string) {
		if ok {
			p.capsNames = append(p.capsNames, name)
		}
	}
	var ok bool
	p.exporter, ok = b.(PublicKeyExporter)
	add(ok, "export_public_key")
	p.signer, ok = b.(DataSigner)
	add(ok, "sign_data")
	p.verifier, ok = b.(DataVerifier)
	add(ok, "verify_data")
	p.importer, ok = b.(CRLImporter)
	add(ok, "import_crl")
	p.deleter, ok = b.(CRLDeleter)
	add(ok, "delete_crl")
	p.lister, ok = b.(CRLLister)
	add(ok, "list_crl")
	p.finder, ok = b.(CRLFinder)
	add(ok, "find_crl")
	p.certFind, ok = b.(CertInCRLFinder)
	add(ok, "find_cert_in_crl")
	p.fileOps, ok = b.(CRLFileOps)
	add(ok, "crl_file_ops")
	return p
}

// Type returns the keystore type
func (p *Plugin) Type() KeystoreType {
	return p.typ
}

// Backend returns the backend
func (p *Plugin) Backend() Backend {
	return p.backend
}

// Capabilities returns the names of supported capabilities
func (p *Plugin) Capabilities() []string {
	return append([]string{}, p.capsNames...)
}

func (p *Plugin) notFound(name string) error {
	return errors.WithMessagef(xkmf.ErrFunctionNotFound, "%s keystore does not support %s", p.typ, name)
}

// PublicKeyExporter returns the capability or xkmf.ErrFunctionNotFound
func (p *Plugin) PublicKeyExporter() (PublicKeyExporter, error) {
	if p.exporter == nil {
		return nil, p.notFound("export_public_key")
	}
	return p.exporter, nil
}

// DataSigner returns the capability or xkmf.ErrFunctionNotFound
func (p *Plugin) DataSigner() (DataSigner, error) {
	if p.signer == nil {
		return nil, p.notFound("sign_data")
	}
	return p.signer, nil
}

// DataVerifier returns the capability or xkmf.ErrFunctionNotFound
func (p *Plugin) DataVerifier() (DataVerifier, error) {
	if p.verifier == nil {
		return nil, p.notFound("verify_data")
	}
	return p.verifier, nil
}

// CRLImporter returns the capability or xkmf.ErrFunctionNotFound
func (p *Plugin) CRLImporter() (CRLImporter, error) {
	if p.importer == nil {
		return nil, p.notFound("import_crl")
	}
	return p.importer, nil
}

// CRLDeleter returns the capability or xkmf.ErrFunctionNotFound
func (p *Plugin) CRLDeleter() (CRLDeleter, error) {
	if p.deleter == nil {
		return nil, p.notFound("delete_crl")
	}
	return p.deleter, nil
}

// CRLLister returns the capability or xkmf.ErrFunctionNotFound
func (p *Plugin) CRLLister() (CRLLister, error) {
	if p.lister == nil {
		return nil, p.notFound("list_crl")
	}
	return p.lister, nil
}

// CRLFinder returns the capability or xkmf.ErrFunctionNotFound
func (p *Plugin) CRLFinder() (CRLFinder, error) {
	if p.finder == nil {
		return nil, p.notFound("find_crl")
	}
	return p.finder, nil
}

// CertInCRLFinder returns the capability or xkmf.ErrFunctionNotFound
func (p *Plugin) CertInCRLFinder() (CertInCRLFinder, error) {
	if p.certFind == nil {
		return nil, p.notFound("find_cert_in_crl")
	}
	return p.certFind, nil
}

// CRLFileOps returns the file level CRL interface or xkmf.ErrFunctionNotFound
func (p *Plugin) CRLFileOps() (CRLFileOps, error) {
	if p.fileOps == nil {
		return nil, p.notFound("crl_file_ops")
	}
	return p.fileOps, nil
}
