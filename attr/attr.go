// Package attr provides the validated parameter bag passed to keystore
// backends.
//
// Backends are keystore-agnostic, so every call crossing into a backend
// carries an attribute List. The caller validates the list against a
// specification table before dispatching.
package attr

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xkmf"
)

// Kind is the tag of an attribute
type Kind int

// Attribute kinds
const (
	KindUnknown Kind = iota
	// KindKeystoreType carries plugin.KeystoreType
	KindKeystoreType
	// KindKeyHandle carries plugin.KeyHandle
	KindKeyHandle
	// KindAlgorithmOID carries asn1.ObjectIdentifier of the signature algorithm
	KindAlgorithmOID
	// KindAlgorithmIndex carries oid.AlgorithmIndex
	KindAlgorithmIndex
	// KindData carries []byte to sign or verify
	KindData
	// KindSignatureSize carries int, the maximum signature size the caller accepts
	KindSignatureSize
	// KindSignature carries []byte of the raw signature
	KindSignature
	// KindSPKI carries []byte of the DER encoded SubjectPublicKeyInfo
	KindSPKI
	// KindCertData carries []byte of the DER encoded certificate
	KindCertData
	// KindCertFilename carries string
	KindCertFilename
	// KindCRLFilename carries string
	KindCRLFilename
	// KindCRLOutFilename carries string
	KindCRLOutFilename
	// KindCRLName carries string
	KindCRLName
	// KindCRLCheck carries bool
	KindCRLCheck
	// KindCRLIssuer carries string
	KindCRLIssuer
	// KindCRLSubject carries string
	KindCRLSubject
	// KindEncodeFormat carries der.Format
	KindEncodeFormat
	// KindDirectory carries string
	KindDirectory
)

var kindNames = map[Kind]string{
	KindUnknown:        "unknown",
	KindKeystoreType:   "keystore_type",
	KindKeyHandle:      "key_handle",
	KindAlgorithmOID:   "algorithm_oid",
	KindAlgorithmIndex: "algorithm_index",
	KindData:           "data",
	KindSignatureSize:  "signature_size",
	KindSignature:      "signature",
	KindSPKI:           "spki",
	KindCertData:       "cert_data",
	KindCertFilename:   "cert_filename",
	KindCRLFilename:    "crl_filename",
	KindCRLOutFilename: "crl_out_filename",
	KindCRLName:        "crl_name",
	KindCRLCheck:       "crl_check",
	KindCRLIssuer:      "crl_issuer",
	KindCRLSubject:     "crl_subject",
	KindEncodeFormat:   "encode_format",
	KindDirectory:      "directory",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Attribute is a single tagged value
type Attribute struct {
	Kind  Kind
	Value any
}

// List is an ordered sequence of attributes
type List []Attribute

// New returns a List with capacity for n attributes
func New(n int) List {
	return make(List, 0, n)
}

// Set appends the attribute and returns the list
func (l List) Set(kind Kind, value any) List {
	return append(l, Attribute{Kind: kind, Value: value})
}

// Find returns the first value of the kind
func (l List) Find(kind Kind) (any, bool) {
	for _, a := range l {
		if a.Kind == kind {
			return a.Value, true
		}
	}
	return nil, false
}

// All returns all values of the kind, in order
func (l List) All(kind Kind) []any {
	var list []any
	for _, a := range l {
		if a.Kind == kind {
			list = append(list, a.Value)
		}
	}
	return list
}

// Sizer is implemented by values that report their own size
type Sizer interface {
	Size() int
}

// Size returns the size of the attribute value:
// the length of a byte slice or string, Size() of a Sizer,
// 0 for nil and 1 for any other scalar value.
func Size(v any) int {
	switch t := v.(type) {
	case nil:
		return 0
	case []byte:
		return len(t)
	case string:
		return len(t)
	case Sizer:
		return t.Size()
	default:
		return 1
	}
}

// Spec specifies the constraints of an attribute in a call
type Spec struct {
	Kind       Kind
	Repeatable bool
	// MinSize of the value, inclusive
	MinSize int
	// MaxSize of the value, inclusive; 0 means unbounded
	MaxSize int
}

// Validate checks the list against the required and optional specs.
// Attributes of kinds not named in either table are ignored.
func Validate(required, optional []Spec, list List) error {
	for _, s := range required {
		count, err := check(s, list)
		if err != nil {
			return err
		}
		if count == 0 {
			return errors.WithMessagef(xkmf.ErrBadParameter, "missing required attribute: %s", s.Kind)
		}
	}
	for _, s := range optional {
		if _, err := check(s, list); err != nil {
			return err
		}
	}
	return nil
}

func check(s Spec, list List) (int, error) {
	count := 0
	for _, a := range list {
		if a.Kind != s.Kind {
			continue
		}
		count++
		if count > 1 && !s.Repeatable {
			return count, errors.WithMessagef(xkmf.ErrBadParameter, "attribute is not repeatable: %s", s.Kind)
		}
		if a.Value == nil {
			return count, errors.WithMessagef(xkmf.ErrBadParameter, "nil attribute: %s", s.Kind)
		}
		size := Size(a.Value)
		if size < s.MinSize || (s.MaxSize > 0 && size > s.MaxSize) {
			return count, errors.WithMessagef(xkmf.ErrBadParameter, "attribute %s size %d out of bounds [%d, %d]",
				s.Kind, size, s.MinSize, s.MaxSize)
		}
	}
	return count, nil
}

// ErrAttrNotFound is returned by Get when the list does not carry the kind
var ErrAttrNotFound = errors.Mark(errors.New("attribute not found"), xkmf.ErrBadParameter)

// Get returns the first value of the kind as T
func Get[T any](l List, kind Kind) (T, error) {
	var zero T
	v, ok := l.Find(kind)
	if !ok {
		return zero, errors.WithMessagef(ErrAttrNotFound, "%s", kind)
	}
	t, ok := v.(T)
	if !ok {
		return zero, errors.WithMessagef(xkmf.ErrBadParameter, "attribute %s: unexpected type %T", kind, v)
	}
	return t, nil
}

// GetOr returns the first value of the kind as T, or def if the list
// does not carry the kind
func GetOr[T any](l List, kind Kind, def T) (T, error) {
	if _, ok := l.Find(kind); !ok {
		return def, nil
	}
	return Get[T](l, kind)
}
