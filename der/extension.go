package der

import (
	"crypto/x509"
	"encoding/asn1"
	"net"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xkmf"
	"github.com/effective-security/xkmf/oid"
	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"
)

// ExtensionFormat describes how the extension value was produced
type ExtensionFormat int

// Extension formats
const (
	// ExtensionEncoded is a value taken as-is from a decoded request
	// or supplied by the caller
	ExtensionEncoded ExtensionFormat = iota
	// ExtensionParsed is a value built from typed input, e.g. key usage bits
	ExtensionParsed
)

// Extension is X.509 extension, the Value is the content of extnValue
type Extension struct {
	ID       asn1.ObjectIdentifier
	Critical bool
	Format   ExtensionFormat
	Value    []byte
}

// Size returns the size of the encoded value
func (e *Extension) Size() int {
	return len(e.Value)
}

// FindExtension returns the index of the first extension with the ID, or -1
func FindExtension(list []Extension, id asn1.ObjectIdentifier) int {
	for i := range list {
		if list[i].ID.Equal(id) {
			return i
		}
	}
	return -1
}

// EncodeExtensions returns SEQUENCE OF Extension
func EncodeExtensions(list []Extension) ([]byte, error) {
	b := cryptobyte.NewBuilder(nil)
	addExtensions(b, list)
	return build(b, "extensions")
}

// DecodeExtensions returns the list of SEQUENCE OF Extension
func DecodeExtensions(data []byte) ([]Extension, error) {
	s := cryptobyte.String(data)
	list, err := readExtensions(&s)
	if err != nil {
		return nil, err
	}
	if !s.Empty() {
		return nil, encodingError(nil, "trailing data after extensions")
	}
	return list, nil
}

func addExtensions(b *cryptobyte.Builder, list []Extension) {
	b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
		for _, ext := range list {
			b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
				b.AddASN1ObjectIdentifier(ext.ID)
				if ext.Critical {
					b.AddASN1Boolean(true)
				}
				b.AddASN1OctetString(ext.Value)
			})
		}
	})
}

func readExtensions(s *cryptobyte.String) ([]Extension, error) {
	var seq cryptobyte.String
	if !s.ReadASN1(&seq, cbasn1.SEQUENCE) {
		return nil, encodingError(nil, "invalid extensions")
	}
	list := []Extension{}
	for !seq.Empty() {
		var es cryptobyte.String
		var ext Extension
		if !seq.ReadASN1(&es, cbasn1.SEQUENCE) || !es.ReadASN1ObjectIdentifier(&ext.ID) {
			return nil, encodingError(nil, "invalid extension")
		}
		if es.PeekASN1Tag(cbasn1.BOOLEAN) {
			if !es.ReadASN1Boolean(&ext.Critical) || !ext.Critical {
				// DER does not encode the default value
				return nil, encodingError(nil, "invalid critical flag in %s", ext.ID)
			}
		}
		var val cryptobyte.String
		if !es.ReadASN1(&val, cbasn1.OCTET_STRING) || !es.Empty() {
			return nil, encodingError(nil, "invalid value of extension %s", ext.ID)
		}
		ext.Value = append([]byte{}, val...)
		list = append(list, ext)
	}
	return list, nil
}

// EncodeKeyUsage returns the KeyUsage BIT STRING
func EncodeKeyUsage(ku x509.KeyUsage) ([]byte, error) {
	if ku <= 0 || ku >= 1<<9 {
		return nil, errors.WithMessagef(xkmf.ErrBadParameter, "invalid key usage: %d", ku)
	}
	var a [2]byte
	a[0] = reverseBits(byte(ku))
	a[1] = reverseBits(byte(ku >> 8))
	l := 1
	if a[1] != 0 {
		l = 2
	}
	bits := a[:l]

	b := cryptobyte.NewBuilder(nil)
	addBitString(b, asn1.BitString{Bytes: bits, BitLength: bitLength(bits)})
	return build(b, "key usage")
}

// DecodeKeyUsage returns the key usage bits of the KeyUsage BIT STRING
func DecodeKeyUsage(data []byte) (x509.KeyUsage, error) {
	s := cryptobyte.String(data)
	bs, err := readBitString(&s)
	if err != nil {
		return 0, err
	}
	if !s.Empty() {
		return 0, encodingError(nil, "trailing data after key usage")
	}
	var ku x509.KeyUsage
	for i := 0; i < 9; i++ {
		if bs.At(i) != 0 {
			ku |= 1 << uint(i)
		}
	}
	return ku, nil
}

func reverseBits(in byte) byte {
	var out byte
	for i := 0; i < 8; i++ {
		out <<= 1
		out |= in & 1
		in >>= 1
	}
	return out
}

func bitLength(bits []byte) int {
	n := len(bits) * 8
	for i := range bits {
		v := bits[len(bits)-i-1]
		for bit := uint(0); bit < 8; bit++ {
			if (v>>bit)&1 == 1 {
				return n
			}
			n--
		}
	}
	return 0
}

// GeneralNameType is the context tag of GeneralName
type GeneralNameType int

// Supported GeneralName types
const (
	GeneralNameEmail        GeneralNameType = 1
	GeneralNameDNS          GeneralNameType = 2
	GeneralNameURI          GeneralNameType = 6
	GeneralNameIP           GeneralNameType = 7
	GeneralNameRegisteredID GeneralNameType = 8
)

var generalNameTypes = map[string]GeneralNameType{
	"email": GeneralNameEmail,
	"dns":   GeneralNameDNS,
	"uri":   GeneralNameURI,
	"ip":    GeneralNameIP,
	"oid":   GeneralNameRegisteredID,
}

func (t GeneralNameType) String() string {
	for k, v := range generalNameTypes {
		if v == t {
			return k
		}
	}
	return "unknown"
}

// ParseGeneralNameType returns the type by its name: email, dns, uri, ip or oid
func ParseGeneralNameType(s string) (GeneralNameType, error) {
	if t, ok := generalNameTypes[strings.ToLower(s)]; ok {
		return t, nil
	}
	return 0, errors.WithMessagef(xkmf.ErrBadParameter, "unsupported name type: %q", s)
}

// GeneralName is a typed alternative name
type GeneralName struct {
	Type  GeneralNameType
	Value string
}

// EncodeGeneralName returns the DER element of GeneralName
func EncodeGeneralName(t GeneralNameType, value string) ([]byte, error) {
	if value == "" {
		return nil, errors.WithMessagef(xkmf.ErrBadParameter, "empty %s name", t)
	}

	var content []byte
	switch t {
	case GeneralNameEmail, GeneralNameDNS, GeneralNameURI:
		for i := 0; i < len(value); i++ {
			if value[i] > 0x7f {
				return nil, errors.WithMessagef(xkmf.ErrBadParameter, "%s name is not IA5String: %q", t, value)
			}
		}
		content = []byte(value)
	case GeneralNameIP:
		ip := net.ParseIP(value)
		if ip == nil {
			return nil, errors.WithMessagef(xkmf.ErrBadParameter, "invalid IP: %q", value)
		}
		if ip4 := ip.To4(); ip4 != nil {
			ip = ip4
		}
		content = ip
	case GeneralNameRegisteredID:
		id, err := oid.Parse(value)
		if err != nil {
			return nil, errors.Mark(err, xkmf.ErrBadParameter)
		}
		el, err := EncodeOID(id)
		if err != nil {
			return nil, err
		}
		s := cryptobyte.String(el)
		var c cryptobyte.String
		if !s.ReadASN1(&c, cbasn1.OBJECT_IDENTIFIER) {
			return nil, encodingError(nil, "invalid OID: %s", value)
		}
		content = c
	default:
		return nil, errors.WithMessagef(xkmf.ErrBadParameter, "unsupported name type: %d", int(t))
	}

	b := cryptobyte.NewBuilder(nil)
	b.AddASN1(cbasn1.Tag(t).ContextSpecific(), func(b *cryptobyte.Builder) {
		b.AddBytes(content)
	})
	return build(b, "general name")
}

// EncodeSubjectAltName returns GeneralNames SEQUENCE
func EncodeSubjectAltName(names ...GeneralName) ([]byte, error) {
	var body []byte
	for _, n := range names {
		el, err := EncodeGeneralName(n.Type, n.Value)
		if err != nil {
			return nil, err
		}
		body = append(body, el...)
	}
	b := cryptobyte.NewBuilder(nil)
	b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddBytes(body)
	})
	return build(b, "subject alt name")
}

// DecodeSubjectAltName returns the names of GeneralNames SEQUENCE.
// Names of unsupported types are skipped.
func DecodeSubjectAltName(data []byte) ([]GeneralName, error) {
	s := cryptobyte.String(data)
	var seq cryptobyte.String
	if !s.ReadASN1(&seq, cbasn1.SEQUENCE) || !s.Empty() {
		return nil, encodingError(nil, "invalid subject alt name")
	}
	var list []GeneralName
	for !seq.Empty() {
		var val cryptobyte.String
		var tag cbasn1.Tag
		if !seq.ReadAnyASN1(&val, &tag) {
			return nil, encodingError(nil, "invalid general name")
		}
		t := GeneralNameType(tag ^ cbasn1.Tag(0).ContextSpecific())
		switch t {
		case GeneralNameEmail, GeneralNameDNS, GeneralNameURI:
			list = append(list, GeneralName{Type: t, Value: string(val)})
		case GeneralNameIP:
			if len(val) != net.IPv4len && len(val) != net.IPv6len {
				return nil, encodingError(nil, "invalid IP in general name")
			}
			list = append(list, GeneralName{Type: t, Value: net.IP(val).String()})
		case GeneralNameRegisteredID:
			b := cryptobyte.NewBuilder(nil)
			b.AddASN1(cbasn1.OBJECT_IDENTIFIER, func(b *cryptobyte.Builder) {
				b.AddBytes(val)
			})
			el, err := build(b, "registered ID")
			if err != nil {
				return nil, err
			}
			es := cryptobyte.String(el)
			var id asn1.ObjectIdentifier
			if !es.ReadASN1ObjectIdentifier(&id) {
				return nil, encodingError(nil, "invalid registered ID")
			}
			list = append(list, GeneralName{Type: t, Value: id.String()})
		}
	}
	return list, nil
}
