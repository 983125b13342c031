package der

import (
	"bytes"
	"encoding/asn1"

	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"
)

// AlgorithmIdentifier is X.509 AlgorithmIdentifier
type AlgorithmIdentifier struct {
	Algorithm asn1.ObjectIdentifier
	// Parameters is the complete DER element of the parameters,
	// or nil when the parameters are absent
	Parameters []byte
}

// Equal returns true if both identifiers are the same
func (a AlgorithmIdentifier) Equal(o AlgorithmIdentifier) bool {
	return a.Algorithm.Equal(o.Algorithm) && bytes.Equal(a.Parameters, o.Parameters)
}

// SPKI is SubjectPublicKeyInfo
type SPKI struct {
	Algorithm AlgorithmIdentifier
	PublicKey asn1.BitString
}

// IsEmpty returns true if the key is not set
func (s *SPKI) IsEmpty() bool {
	return len(s.Algorithm.Algorithm) == 0 && len(s.PublicKey.Bytes) == 0
}

// EncodeSPKI returns DER encoded SubjectPublicKeyInfo
func EncodeSPKI(spki *SPKI) ([]byte, error) {
	b := cryptobyte.NewBuilder(nil)
	addSPKI(b, spki)
	return build(b, "SPKI")
}

// DecodeSPKI returns decoded SubjectPublicKeyInfo
func DecodeSPKI(data []byte) (*SPKI, error) {
	s := cryptobyte.String(data)
	spki, err := readSPKI(&s)
	if err != nil {
		return nil, err
	}
	if !s.Empty() {
		return nil, encodingError(nil, "trailing data after SPKI")
	}
	return spki, nil
}

// EncodeAlgorithmIdentifier returns DER encoded AlgorithmIdentifier
func EncodeAlgorithmIdentifier(a *AlgorithmIdentifier) ([]byte, error) {
	b := cryptobyte.NewBuilder(nil)
	addAlgorithmIdentifier(b, a)
	return build(b, "algorithm identifier")
}

func addAlgorithmIdentifier(b *cryptobyte.Builder, a *AlgorithmIdentifier) {
	b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1ObjectIdentifier(a.Algorithm)
		if a.Parameters != nil {
			b.AddBytes(a.Parameters)
		}
	})
}

func readAlgorithmIdentifier(s *cryptobyte.String) (AlgorithmIdentifier, error) {
	var a AlgorithmIdentifier
	var seq cryptobyte.String
	if !s.ReadASN1(&seq, cbasn1.SEQUENCE) || !seq.ReadASN1ObjectIdentifier(&a.Algorithm) {
		return a, encodingError(nil, "invalid algorithm identifier")
	}
	if !seq.Empty() {
		var params cryptobyte.String
		var tag cbasn1.Tag
		if !seq.ReadAnyASN1Element(&params, &tag) || !seq.Empty() {
			return a, encodingError(nil, "invalid algorithm parameters")
		}
		a.Parameters = append([]byte{}, params...)
	}
	return a, nil
}

func addBitString(b *cryptobyte.Builder, bs asn1.BitString) {
	b.AddASN1(cbasn1.BIT_STRING, func(b *cryptobyte.Builder) {
		pad := len(bs.Bytes)*8 - bs.BitLength
		if pad < 0 || pad > 7 {
			b.SetError(encodingError(nil, "invalid bit string length %d", bs.BitLength))
			return
		}
		b.AddUint8(uint8(pad))
		b.AddBytes(bs.Bytes)
	})
}

func readBitString(s *cryptobyte.String) (asn1.BitString, error) {
	var bs asn1.BitString
	if !s.ReadASN1BitString(&bs) {
		return bs, encodingError(nil, "invalid bit string")
	}
	bs.Bytes = append([]byte{}, bs.Bytes...)
	return bs, nil
}

func addSPKI(b *cryptobyte.Builder, spki *SPKI) {
	b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
		addAlgorithmIdentifier(b, &spki.Algorithm)
		addBitString(b, spki.PublicKey)
	})
}

func readSPKI(s *cryptobyte.String) (*SPKI, error) {
	var seq cryptobyte.String
	if !s.ReadASN1(&seq, cbasn1.SEQUENCE) {
		return nil, encodingError(nil, "invalid SPKI")
	}
	alg, err := readAlgorithmIdentifier(&seq)
	if err != nil {
		return nil, err
	}
	key, err := readBitString(&seq)
	if err != nil {
		return nil, err
	}
	if !seq.Empty() {
		return nil, encodingError(nil, "trailing data in SPKI")
	}
	return &SPKI{
		Algorithm: alg,
		PublicKey: key,
	}, nil
}
