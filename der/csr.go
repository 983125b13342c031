package der

import (
	"encoding/asn1"

	"github.com/effective-security/xkmf/oid"
	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"
)

var tagAttributes = cbasn1.Tag(0).ContextSpecific().Constructed()

// Attribute is a PKCS#10 request attribute.
// Values is the DER content of the SET OF values.
type Attribute struct {
	Type   asn1.ObjectIdentifier
	Values []byte
}

// TBSCSR is the to-be-signed CertificationRequestInfo
type TBSCSR struct {
	Version              int
	Subject              Name
	SubjectPublicKeyInfo SPKI
	// Extensions are carried in the extensionRequest attribute
	Extensions []Extension
	// Attributes are the request attributes other than extensionRequest,
	// in their original order
	Attributes []Attribute
	// hasExtReq is set for a decoded request that carries extensionRequest
	// at extReqIndex among Attributes
	hasExtReq   bool
	extReqIndex int
}

// CSR is the signed CertificationRequest
type CSR struct {
	TBS                TBSCSR
	SignatureAlgorithm AlgorithmIdentifier
	Signature          []byte
}

// EncodeTBSCSR returns DER encoded CertificationRequestInfo
func EncodeTBSCSR(tbs *TBSCSR) ([]byte, error) {
	if tbs.Version < 0 {
		return nil, encodingError(nil, "invalid version %d", tbs.Version)
	}
	b := cryptobyte.NewBuilder(nil)
	addTBSCSR(b, tbs)
	return build(b, "CertificationRequestInfo")
}

// DecodeTBSCSR returns decoded CertificationRequestInfo
func DecodeTBSCSR(data []byte) (*TBSCSR, error) {
	s := cryptobyte.String(data)
	tbs, err := readTBSCSR(&s)
	if err != nil {
		return nil, err
	}
	if !s.Empty() {
		return nil, encodingError(nil, "trailing data after CertificationRequestInfo")
	}
	return tbs, nil
}

// EncodeSignedCSR returns DER encoded CertificationRequest
func EncodeSignedCSR(csr *CSR) ([]byte, error) {
	if csr.TBS.Version < 0 {
		return nil, encodingError(nil, "invalid version %d", csr.TBS.Version)
	}
	if len(csr.Signature) == 0 {
		return nil, encodingError(nil, "missing signature")
	}
	b := cryptobyte.NewBuilder(nil)
	b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
		addTBSCSR(b, &csr.TBS)
		addAlgorithmIdentifier(b, &csr.SignatureAlgorithm)
		addBitString(b, asn1.BitString{Bytes: csr.Signature, BitLength: len(csr.Signature) * 8})
	})
	return build(b, "CertificationRequest")
}

// DecodeSignedCSR returns decoded CertificationRequest
func DecodeSignedCSR(data []byte) (*CSR, error) {
	s := cryptobyte.String(data)
	var seq cryptobyte.String
	if !s.ReadASN1(&seq, cbasn1.SEQUENCE) || !s.Empty() {
		return nil, encodingError(nil, "invalid CertificationRequest")
	}
	tbs, err := readTBSCSR(&seq)
	if err != nil {
		return nil, err
	}
	alg, err := readAlgorithmIdentifier(&seq)
	if err != nil {
		return nil, err
	}
	sig, err := readBitString(&seq)
	if err != nil {
		return nil, err
	}
	if sig.BitLength != len(sig.Bytes)*8 || len(sig.Bytes) == 0 {
		return nil, encodingError(nil, "invalid signature bit string")
	}
	if !seq.Empty() {
		return nil, encodingError(nil, "trailing data in CertificationRequest")
	}
	return &CSR{
		TBS:                *tbs,
		SignatureAlgorithm: alg,
		Signature:          sig.Bytes,
	}, nil
}

// SignedTBS returns the DER encoded CertificationRequestInfo of the request
func (c *CSR) SignedTBS() ([]byte, error) {
	return EncodeTBSCSR(&c.TBS)
}

func addTBSCSR(b *cryptobyte.Builder, tbs *TBSCSR) {
	b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1Int64(int64(tbs.Version))
		addName(b, tbs.Subject)
		addSPKI(b, &tbs.SubjectPublicKeyInfo)
		b.AddASN1(tagAttributes, func(b *cryptobyte.Builder) {
			idx := tbs.extReqPosition()
			for i := 0; i <= len(tbs.Attributes); i++ {
				if i == idx {
					addExtensionRequest(b, tbs.Extensions)
				}
				if i < len(tbs.Attributes) {
					a := tbs.Attributes[i]
					b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
						b.AddASN1ObjectIdentifier(a.Type)
						b.AddASN1(cbasn1.SET, func(b *cryptobyte.Builder) {
							b.AddBytes(a.Values)
						})
					})
				}
			}
		})
	})
}

// extReqPosition returns the index among Attributes to write
// the extensionRequest before, or -1 if it is not written.
// A request built from scratch carries the extensionRequest first.
func (tbs *TBSCSR) extReqPosition() int {
	if tbs.hasExtReq {
		return min(tbs.extReqIndex, len(tbs.Attributes))
	}
	if len(tbs.Extensions) > 0 {
		return 0
	}
	return -1
}

func addExtensionRequest(b *cryptobyte.Builder, list []Extension) {
	b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1ObjectIdentifier(oid.AttributeExtensionRequest)
		b.AddASN1(cbasn1.SET, func(b *cryptobyte.Builder) {
			addExtensions(b, list)
		})
	})
}

func readTBSCSR(s *cryptobyte.String) (*TBSCSR, error) {
	var seq cryptobyte.String
	if !s.ReadASN1(&seq, cbasn1.SEQUENCE) {
		return nil, encodingError(nil, "invalid CertificationRequestInfo")
	}

	var version int64
	if !seq.ReadASN1Int64WithTag(&version, cbasn1.INTEGER) || version < 0 || version > 0x7fffffff {
		return nil, encodingError(nil, "invalid version")
	}
	subject, err := readName(&seq)
	if err != nil {
		return nil, err
	}
	spki, err := readSPKI(&seq)
	if err != nil {
		return nil, err
	}

	tbs := &TBSCSR{
		Version:              int(version),
		Subject:              subject,
		SubjectPublicKeyInfo: *spki,
	}
	found := false

	var attrs cryptobyte.String
	if !seq.ReadASN1(&attrs, tagAttributes) || !seq.Empty() {
		return nil, encodingError(nil, "invalid attributes")
	}
	for !attrs.Empty() {
		var as cryptobyte.String
		var id asn1.ObjectIdentifier
		var values cryptobyte.String
		if !attrs.ReadASN1(&as, cbasn1.SEQUENCE) ||
			!as.ReadASN1ObjectIdentifier(&id) ||
			!as.ReadASN1(&values, cbasn1.SET) ||
			!as.Empty() {
			return nil, encodingError(nil, "invalid attribute")
		}

		if id.Equal(oid.AttributeExtensionRequest) && !found {
			list, err := readExtensions(&values)
			if err != nil {
				return nil, err
			}
			if !values.Empty() {
				return nil, encodingError(nil, "multiple values in extensionRequest")
			}
			found = true
			tbs.Extensions = list
			tbs.extReqIndex = len(tbs.Attributes)
			// the leading position is the default for a non-empty list
			tbs.hasExtReq = tbs.extReqIndex > 0 || len(list) == 0
			continue
		}

		tbs.Attributes = append(tbs.Attributes, Attribute{
			Type:   id,
			Values: append([]byte{}, values...),
		})
	}
	return tbs, nil
}
