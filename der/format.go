package der

import (
	"bytes"
	"encoding/pem"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xkmf"
	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"
)

// Format of the encoded object
type Format int

// Supported formats
const (
	FormatUndefined Format = iota
	// FormatASN1 is raw DER
	FormatASN1
	// FormatPEM is base64 DER wrapped with BEGIN/END markers
	FormatPEM
)

// PEM labels
const (
	LabelCSR = "CERTIFICATE REQUEST"
	LabelCRL = "X509 CRL"
)

func (f Format) String() string {
	switch f {
	case FormatASN1:
		return "der"
	case FormatPEM:
		return "pem"
	default:
		return "undefined"
	}
}

// ParseFormat returns the format by name: pem, der or asn1
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pem":
		return FormatPEM, nil
	case "der", "asn1":
		return FormatASN1, nil
	}
	return FormatUndefined, errors.WithMessagef(xkmf.ErrBadParameter, "unsupported format: %q", s)
}

var pemPrefix = []byte("-----BEGIN ")

// DetectFormat returns the format of data.
// FormatUndefined is returned when data is neither a PEM block
// nor a single DER SEQUENCE.
func DetectFormat(data []byte) Format {
	trimmed := bytes.TrimSpace(data)
	if bytes.HasPrefix(trimmed, pemPrefix) {
		if b, _ := pem.Decode(trimmed); b != nil {
			return FormatPEM
		}
		return FormatUndefined
	}

	s := cryptobyte.String(data)
	var seq cryptobyte.String
	if s.ReadASN1(&seq, cbasn1.SEQUENCE) && s.Empty() {
		return FormatASN1
	}
	return FormatUndefined
}

// ToPEM returns the DER bytes armored with the label
func ToPEM(label string, der []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{
		Type:  label,
		Bytes: der,
	})
}

// FromPEM returns the DER bytes of the first PEM block with one of the labels
func FromPEM(data []byte, labels ...string) ([]byte, error) {
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			return nil, errors.WithMessagef(xkmf.ErrEncoding, "PEM block not found: %v", labels)
		}
		for _, l := range labels {
			if block.Type == l {
				return block.Bytes, nil
			}
		}
	}
}
