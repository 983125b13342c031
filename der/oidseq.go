package der

import (
	"encoding/asn1"

	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"
)

// EncodeOID returns the DER element of the object identifier
func EncodeOID(id asn1.ObjectIdentifier) ([]byte, error) {
	b := cryptobyte.NewBuilder(nil)
	b.AddASN1ObjectIdentifier(id)
	return build(b, "OID")
}

// EncodeOIDSequence returns SEQUENCE OF OBJECT IDENTIFIER
func EncodeOIDSequence(ids ...asn1.ObjectIdentifier) ([]byte, error) {
	b := cryptobyte.NewBuilder(nil)
	b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
		for _, id := range ids {
			b.AddASN1ObjectIdentifier(id)
		}
	})
	return build(b, "OID sequence")
}

// DecodeOIDSequence returns the OIDs of SEQUENCE OF OBJECT IDENTIFIER
func DecodeOIDSequence(data []byte) ([]asn1.ObjectIdentifier, error) {
	s := cryptobyte.String(data)
	var seq cryptobyte.String
	if !s.ReadASN1(&seq, cbasn1.SEQUENCE) || !s.Empty() {
		return nil, encodingError(nil, "invalid OID sequence")
	}
	ids := []asn1.ObjectIdentifier{}
	for !seq.Empty() {
		var id asn1.ObjectIdentifier
		if !seq.ReadASN1ObjectIdentifier(&id) {
			return nil, encodingError(nil, "invalid OID in sequence")
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// SequenceContents returns the body of a single DER SEQUENCE,
// without its tag and length
func SequenceContents(data []byte) ([]byte, error) {
	s := cryptobyte.String(data)
	var seq cryptobyte.String
	if !s.ReadASN1(&seq, cbasn1.SEQUENCE) || !s.Empty() {
		return nil, encodingError(nil, "invalid sequence")
	}
	return append([]byte{}, seq...), nil
}

// AppendToSequence returns SEQUENCE { body || element }.
// The element must be a single DER element.
func AppendToSequence(body, element []byte) ([]byte, error) {
	es := cryptobyte.String(element)
	var el cryptobyte.String
	var tag cbasn1.Tag
	if !es.ReadAnyASN1Element(&el, &tag) || !es.Empty() {
		return nil, encodingError(nil, "invalid sequence element")
	}

	b := cryptobyte.NewBuilder(nil)
	b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddBytes(body)
		b.AddBytes(element)
	})
	return build(b, "sequence")
}

// AppendOIDToSequence returns SEQUENCE { body || OBJECT IDENTIFIER }
func AppendOIDToSequence(body []byte, id asn1.ObjectIdentifier) ([]byte, error) {
	el, err := EncodeOID(id)
	if err != nil {
		return nil, err
	}
	return AppendToSequence(body, el)
}
