package plugin

import (
	"encoding/asn1"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xkmf"
	"github.com/effective-security/xkmf/attr"
	"github.com/effective-security/xkmf/der"
	"github.com/effective-security/xkmf/oid"
)

// SignParams are the attributes of OpSignData
type SignParams struct {
	Key           *KeyHandle
	Algorithm     oid.AlgorithmIndex
	Data          []byte
	SignatureSize int
}

// ParseSignParams validates and returns the attributes of OpSignData
func ParseSignParams(attrs attr.List) (*SignParams, error) {
	if err := OpSignData.Validate(attrs); err != nil {
		return nil, err
	}
	key, err := attr.Get[*KeyHandle](attrs, attr.KindKeyHandle)
	if err != nil {
		return nil, err
	}
	alg, err := algorithm(attrs)
	if err != nil {
		return nil, err
	}
	data, err := attr.Get[[]byte](attrs, attr.KindData)
	if err != nil {
		return nil, err
	}
	size, err := attr.Get[int](attrs, attr.KindSignatureSize)
	if err != nil {
		return nil, err
	}
	return &SignParams{
		Key:           key,
		Algorithm:     alg,
		Data:          data,
		SignatureSize: size,
	}, nil
}

// CheckSize returns an error if the signature exceeds the size
// accepted by the caller
func (p *SignParams) CheckSize(sig []byte) error {
	if p.SignatureSize > 0 && len(sig) > p.SignatureSize {
		return errors.WithMessagef(xkmf.ErrBadParameter, "signature size %d exceeds %d", len(sig), p.SignatureSize)
	}
	return nil
}

// VerifyParams are the attributes of OpVerifyData
type VerifyParams struct {
	Key       *KeyHandle
	Algorithm oid.AlgorithmIndex
	SPKI      []byte
	Data      []byte
	Signature []byte
}

// ParseVerifyParams validates and returns the attributes of OpVerifyData
func ParseVerifyParams(attrs attr.List) (*VerifyParams, error) {
	if err := OpVerifyData.Validate(attrs); err != nil {
		return nil, err
	}
	alg, err := algorithm(attrs)
	if err != nil {
		return nil, err
	}
	p := &VerifyParams{Algorithm: alg}
	if p.Key, err = attr.GetOr[*KeyHandle](attrs, attr.KindKeyHandle, nil); err != nil {
		return nil, err
	}
	if p.SPKI, err = attr.Get[[]byte](attrs, attr.KindSPKI); err != nil {
		return nil, err
	}
	if p.Data, err = attr.Get[[]byte](attrs, attr.KindData); err != nil {
		return nil, err
	}
	if p.Signature, err = attr.Get[[]byte](attrs, attr.KindSignature); err != nil {
		return nil, err
	}
	return p, nil
}

// ParseKeyHandle validates and returns the key handle of OpExportPublicKey
func ParseKeyHandle(attrs attr.List) (*KeyHandle, error) {
	if err := OpExportPublicKey.Validate(attrs); err != nil {
		return nil, err
	}
	return attr.Get[*KeyHandle](attrs, attr.KindKeyHandle)
}

func algorithm(attrs attr.List) (oid.AlgorithmIndex, error) {
	id, err := attr.Get[asn1.ObjectIdentifier](attrs, attr.KindAlgorithmOID)
	if err != nil {
		return oid.AlgUnknown, err
	}
	alg := oid.AlgorithmFromOID(id)
	if alg == oid.AlgUnknown {
		return alg, errors.WithMessagef(xkmf.ErrBadParameter, "unsupported algorithm: %s", id)
	}
	return alg, nil
}

// CRLParams are the attributes of the CRL operations
type CRLParams struct {
	Directory      string
	CRLFilename    string
	CRLOutFilename string
	CRLName        string
	CertFilename   string
	CertData       []byte
	Check          bool
	Format         der.Format
	Issuer         string
	Subject        string
}

// ParseCRLParams validates the attributes against the operation
// and returns them
func ParseCRLParams(op *Operation, attrs attr.List) (*CRLParams, error) {
	if err := op.Validate(attrs); err != nil {
		return nil, err
	}
	var err error
	p := new(CRLParams)
	str := func(kind attr.Kind, dst *string) {
		if err == nil {
			*dst, err = attr.GetOr(attrs, kind, "")
		}
	}
	str(attr.KindDirectory, &p.Directory)
	str(attr.KindCRLFilename, &p.CRLFilename)
	str(attr.KindCRLOutFilename, &p.CRLOutFilename)
	str(attr.KindCRLName, &p.CRLName)
	str(attr.KindCertFilename, &p.CertFilename)
	str(attr.KindCRLIssuer, &p.Issuer)
	str(attr.KindCRLSubject, &p.Subject)
	if err != nil {
		return nil, err
	}
	if p.CertData, err = attr.GetOr[[]byte](attrs, attr.KindCertData, nil); err != nil {
		return nil, err
	}
	if p.Check, err = attr.GetOr(attrs, attr.KindCRLCheck, false); err != nil {
		return nil, err
	}
	if p.Format, err = attr.GetOr(attrs, attr.KindEncodeFormat, der.FormatASN1); err != nil {
		return nil, err
	}
	return p, nil
}
