package csr

import (
	"context"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xkmf"
	"github.com/effective-security/xkmf/attr"
	"github.com/effective-security/xkmf/der"
	"github.com/effective-security/xkmf/kmf"
	"github.com/effective-security/xkmf/metricskey"
	"github.com/effective-security/xkmf/oid"
	"github.com/effective-security/xkmf/plugin"
	"github.com/effective-security/xlog"
	"github.com/jinzhu/copier"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/xkmf", "csr")

// Data is a certificate request under construction,
// or a decoded signed request.
// Data is not safe for concurrent modification.
type Data struct {
	TBS                der.TBSCSR
	SignatureAlgorithm der.AlgorithmIdentifier
	Signature          []byte
}

// Clone returns a deep copy of the data
func (d *Data) Clone() *Data {
	c := &Data{
		TBS:                d.TBS,
		SignatureAlgorithm: cloneAlgorithm(d.SignatureAlgorithm),
		Signature:          cloneBytes(d.Signature),
	}
	c.TBS.Subject = d.TBS.Subject.Clone()
	c.TBS.SubjectPublicKeyInfo = der.SPKI{
		Algorithm: cloneAlgorithm(d.TBS.SubjectPublicKeyInfo.Algorithm),
		PublicKey: asn1.BitString{
			Bytes:     cloneBytes(d.TBS.SubjectPublicKeyInfo.PublicKey.Bytes),
			BitLength: d.TBS.SubjectPublicKeyInfo.PublicKey.BitLength,
		},
	}
	if d.TBS.Extensions != nil {
		c.TBS.Extensions = make([]der.Extension, len(d.TBS.Extensions))
		for i, ext := range d.TBS.Extensions {
			ext.ID = append(asn1.ObjectIdentifier{}, ext.ID...)
			ext.Value = cloneBytes(ext.Value)
			c.TBS.Extensions[i] = ext
		}
	}
	if d.TBS.Attributes != nil {
		c.TBS.Attributes = make([]der.Attribute, len(d.TBS.Attributes))
		for i, a := range d.TBS.Attributes {
			c.TBS.Attributes[i] = der.Attribute{
				Type:   append(asn1.ObjectIdentifier{}, a.Type...),
				Values: cloneBytes(a.Values),
			}
		}
	}
	return c
}

// SetPublicKey exports the public key from the keystore and sets it
// as the subject public key info
func (d *Data) SetPublicKey(ctx context.Context, h *kmf.Handle, key *plugin.KeyHandle) error {
	if key == nil {
		return errors.WithMessage(xkmf.ErrBadParameter, "key handle is nil")
	}
	p, err := h.Plugin(key.Keystore)
	if err != nil {
		return err
	}
	exporter, err := p.PublicKeyExporter()
	if err != nil {
		return errors.Mark(err, xkmf.ErrPluginNotFound)
	}

	attrs := attr.New(2).
		Set(attr.KindKeystoreType, key.Keystore).
		Set(attr.KindKeyHandle, key)
	if err = plugin.OpExportPublicKey.Validate(attrs); err != nil {
		return err
	}

	started := time.Now()
	spkiDER, err := exporter.ExportPublicKey(ctx, attrs)
	metricskey.PerfCSROperation.MeasureSince(started, key.Keystore.String(), "export_public_key")
	if err != nil {
		logger.KV(xlog.ERROR, "keystore", key.Keystore, "key", key.ID, "err", err.Error())
		return err
	}

	spki, err := der.DecodeSPKI(spkiDER)
	if err != nil {
		return err
	}
	d.TBS.SubjectPublicKeyInfo = *spki
	logger.KV(xlog.DEBUG, "keystore", key.Keystore, "key", key.ID, "alg", spki.Algorithm.Algorithm)
	return nil
}

// SetVersion sets the version, 0, 1 or 2
func (d *Data) SetVersion(v int) error {
	if v < 0 || v > 2 {
		return errors.WithMessagef(xkmf.ErrBadParameter, "invalid version: %d", v)
	}
	d.TBS.Version = v
	return nil
}

// Version returns the version
func (d *Data) Version() int {
	return d.TBS.Version
}

// SetSubject sets the deep copy of the name as the subject
func (d *Data) SetSubject(name der.Name) error {
	if name == nil {
		return errors.WithMessage(xkmf.ErrBadParameter, "subject is nil")
	}
	var subject der.Name
	err := copier.CopyWithOption(&subject, name, copier.Option{DeepCopy: true})
	if err != nil {
		return errors.Mark(errors.WithMessage(err, "unable to copy subject"), xkmf.ErrMemory)
	}
	d.TBS.Subject = subject
	return nil
}

// SetSubjectName sets the subject from pkix.Name
func (d *Data) SetSubjectName(name pkix.Name) error {
	n, err := der.NameFromPKIX(name)
	if err != nil {
		return err
	}
	if n == nil {
		n = der.Name{}
	}
	d.TBS.Subject = n
	return nil
}

// AddExtension appends the extension
func (d *Data) AddExtension(ext der.Extension) error {
	if len(ext.ID) < 2 {
		return errors.WithMessagef(xkmf.ErrBadParameter, "invalid extension ID: %v", ext.ID)
	}
	ext.ID = append(asn1.ObjectIdentifier{}, ext.ID...)
	ext.Value = cloneBytes(ext.Value)
	d.TBS.Extensions = append(d.TBS.Extensions, ext)
	return nil
}

// SetKeyUsage sets the Key Usage extension,
// replacing the existing one
func (d *Data) SetKeyUsage(critical bool, ku x509.KeyUsage) error {
	val, err := der.EncodeKeyUsage(ku)
	if err != nil {
		return err
	}
	ext := der.Extension{
		ID:       oid.ExtensionKeyUsage,
		Critical: critical,
		Format:   der.ExtensionParsed,
		Value:    val,
	}
	if i := der.FindExtension(d.TBS.Extensions, oid.ExtensionKeyUsage); i >= 0 {
		d.TBS.Extensions[i] = ext
		return nil
	}
	return d.AddExtension(ext)
}

// SetSubjectAltName adds the name to the Subject Alt Name extension,
// creating the extension if the request does not have it
func (d *Data) SetSubjectAltName(critical bool, t der.GeneralNameType, value string) error {
	gn, err := der.EncodeGeneralName(t, value)
	if err != nil {
		return err
	}

	i := der.FindExtension(d.TBS.Extensions, oid.ExtensionSubjectAltName)
	var body []byte
	if i >= 0 {
		body, err = der.SequenceContents(d.TBS.Extensions[i].Value)
		if err != nil {
			return err
		}
	}
	val, err := der.AppendToSequence(body, gn)
	if err != nil {
		return err
	}

	if i >= 0 {
		d.TBS.Extensions[i].Value = val
		d.TBS.Extensions[i].Critical = critical
		return nil
	}
	return d.AddExtension(der.Extension{
		ID:       oid.ExtensionSubjectAltName,
		Critical: critical,
		Format:   der.ExtensionParsed,
		Value:    val,
	})
}

// SetSignatureAlgorithm sets the signature algorithm identifier,
// with the parameters of the public key algorithm.
// The public key must be set first for the parameters to be mirrored.
func (d *Data) SetSignatureAlgorithm(alg oid.AlgorithmIndex) error {
	id := oid.AlgorithmOID(alg)
	if id == nil {
		return errors.WithMessagef(xkmf.ErrBadParameter, "unsupported algorithm: %d", int(alg))
	}
	d.SignatureAlgorithm = der.AlgorithmIdentifier{
		Algorithm:  append(asn1.ObjectIdentifier{}, id...),
		Parameters: cloneBytes(d.TBS.SubjectPublicKeyInfo.Algorithm.Parameters),
	}
	return nil
}

// SignatureAlgorithmIndex returns the index of the signature algorithm
func (d *Data) SignatureAlgorithmIndex() oid.AlgorithmIndex {
	return oid.AlgorithmFromOID(d.SignatureAlgorithm.Algorithm)
}

// AddExtendedKeyUsage adds the OID to the Extended Key Usage extension.
// Adding an OID that is already present does not change the request.
func (d *Data) AddExtendedKeyUsage(id asn1.ObjectIdentifier, critical bool) error {
	if len(id) < 2 {
		return errors.WithMessagef(xkmf.ErrBadParameter, "invalid OID: %v", id)
	}

	i := der.FindExtension(d.TBS.Extensions, oid.ExtensionExtendedKeyUsage)
	var body []byte
	if i >= 0 {
		current := d.TBS.Extensions[i].Value
		ids, err := der.DecodeOIDSequence(current)
		if err != nil {
			return err
		}
		for _, existing := range ids {
			if existing.Equal(id) {
				return nil
			}
		}
		if body, err = der.SequenceContents(current); err != nil {
			return err
		}
	}

	val, err := der.AppendOIDToSequence(body, id)
	if err != nil {
		return err
	}

	if i >= 0 {
		d.TBS.Extensions[i].Value = val
		d.TBS.Extensions[i].Critical = critical
		return nil
	}
	return d.AddExtension(der.Extension{
		ID:       oid.ExtensionExtendedKeyUsage,
		Critical: critical,
		Format:   der.ExtensionParsed,
		Value:    val,
	})
}

// EncodeTBS returns DER encoded CertificationRequestInfo
func (d *Data) EncodeTBS() ([]byte, error) {
	return der.EncodeTBSCSR(&d.TBS)
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte{}, b...)
}

func cloneAlgorithm(a der.AlgorithmIdentifier) der.AlgorithmIdentifier {
	var c der.AlgorithmIdentifier
	if a.Algorithm != nil {
		c.Algorithm = append(asn1.ObjectIdentifier{}, a.Algorithm...)
	}
	c.Parameters = cloneBytes(a.Parameters)
	return c
}
