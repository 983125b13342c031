package der

import (
	"crypto/x509/pkix"
	"encoding/asn1"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xkmf"
	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"
)

// AttributeTypeAndValue is a single component of a relative distinguished
// name. The value keeps its original string tag, so that decoded names are
// encoded back unchanged.
type AttributeTypeAndValue struct {
	Type  asn1.ObjectIdentifier
	Tag   cbasn1.Tag
	Value []byte
}

// RDN is a relative distinguished name, SET OF AttributeTypeAndValue
type RDN []AttributeTypeAndValue

// Name is an X.501 name, SEQUENCE OF RDN
type Name []RDN

// NameFromPKIX converts pkix.Name
func NameFromPKIX(n pkix.Name) (Name, error) {
	var name Name
	for _, set := range n.ToRDNSequence() {
		var rdn RDN
		for _, atv := range set {
			raw, err := asn1.Marshal(atv.Value)
			if err != nil {
				return nil, encodingError(err, "marshal %s", atv.Type)
			}
			s := cryptobyte.String(raw)
			var val cryptobyte.String
			var tag cbasn1.Tag
			if !s.ReadAnyASN1(&val, &tag) || !s.Empty() {
				return nil, encodingError(nil, "invalid value of %s", atv.Type)
			}
			rdn = append(rdn, AttributeTypeAndValue{
				Type:  atv.Type,
				Tag:   tag,
				Value: []byte(val),
			})
		}
		name = append(name, rdn)
	}
	return name, nil
}

// ToPKIX converts the name to pkix.Name
func (n Name) ToPKIX() (pkix.Name, error) {
	var name pkix.Name
	raw, err := EncodeName(n)
	if err != nil {
		return name, err
	}
	var seq pkix.RDNSequence
	rest, err := asn1.Unmarshal(raw, &seq)
	if err != nil {
		return name, encodingError(err, "unmarshal name")
	}
	if len(rest) > 0 {
		return name, encodingError(nil, "trailing data after name")
	}
	name.FillFromRDNSequence(&seq)
	return name, nil
}

// String returns the RFC 2253 form of the name
func (n Name) String() string {
	pn, err := n.ToPKIX()
	if err != nil {
		return ""
	}
	return pn.String()
}

// Size returns the number of attributes in the name
func (n Name) Size() int {
	c := 0
	for _, rdn := range n {
		c += len(rdn)
	}
	return c
}

// Clone returns a deep copy of the name
func (n Name) Clone() Name {
	if n == nil {
		return nil
	}
	c := make(Name, len(n))
	for i, rdn := range n {
		c[i] = make(RDN, len(rdn))
		for j, atv := range rdn {
			c[i][j] = AttributeTypeAndValue{
				Type:  append(asn1.ObjectIdentifier{}, atv.Type...),
				Tag:   atv.Tag,
				Value: append([]byte{}, atv.Value...),
			}
		}
	}
	return c
}

// EncodeName returns DER encoded name
func EncodeName(n Name) ([]byte, error) {
	b := cryptobyte.NewBuilder(nil)
	addName(b, n)
	return build(b, "name")
}

// DecodeName returns decoded name
func DecodeName(data []byte) (Name, error) {
	s := cryptobyte.String(data)
	n, err := readName(&s)
	if err != nil {
		return nil, err
	}
	if !s.Empty() {
		return nil, encodingError(nil, "trailing data after name")
	}
	return n, nil
}

func addName(b *cryptobyte.Builder, n Name) {
	b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
		for _, rdn := range n {
			b.AddASN1(cbasn1.SET, func(b *cryptobyte.Builder) {
				for _, atv := range rdn {
					b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
						b.AddASN1ObjectIdentifier(atv.Type)
						b.AddASN1(atv.Tag, func(b *cryptobyte.Builder) {
							b.AddBytes(atv.Value)
						})
					})
				}
			})
		}
	})
}

func readName(s *cryptobyte.String) (Name, error) {
	var seq cryptobyte.String
	if !s.ReadASN1(&seq, cbasn1.SEQUENCE) {
		return nil, encodingError(nil, "invalid name")
	}
	n := Name{}
	for !seq.Empty() {
		var set cryptobyte.String
		if !seq.ReadASN1(&set, cbasn1.SET) {
			return nil, encodingError(nil, "invalid RDN")
		}
		var rdn RDN
		for !set.Empty() {
			var atv cryptobyte.String
			var id asn1.ObjectIdentifier
			var val cryptobyte.String
			var tag cbasn1.Tag
			if !set.ReadASN1(&atv, cbasn1.SEQUENCE) ||
				!atv.ReadASN1ObjectIdentifier(&id) ||
				!atv.ReadAnyASN1(&val, &tag) ||
				!atv.Empty() {
				return nil, encodingError(nil, "invalid attribute in RDN")
			}
			rdn = append(rdn, AttributeTypeAndValue{
				Type:  id,
				Tag:   tag,
				Value: append([]byte{}, val...),
			})
		}
		if len(rdn) == 0 {
			return nil, encodingError(nil, "empty RDN")
		}
		n = append(n, rdn)
	}
	return n, nil
}

func build(b *cryptobyte.Builder, what string) ([]byte, error) {
	out, err := b.Bytes()
	if err != nil {
		return nil, encodingError(err, "encode %s", what)
	}
	return out, nil
}

// encodingError returns the error marked as xkmf.ErrEncoding
func encodingError(cause error, format string, args ...any) error {
	if cause == nil {
		return errors.WithMessagef(xkmf.ErrEncoding, format, args...)
	}
	return errors.Mark(errors.WithMessagef(cause, format, args...), xkmf.ErrEncoding)
}
