package csr

import (
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net"
	"net/mail"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/x/slices"
	"github.com/effective-security/xkmf"
	"github.com/effective-security/xkmf/der"
	"github.com/effective-security/xkmf/oid"
	"gopkg.in/yaml.v3"
)

// X509Name contains the SubjectInfo fields.
type X509Name struct {
	Country            string `json:"c" yaml:"c"`
	Province           string `json:"st" yaml:"st"`
	Locality           string `json:"l" yaml:"l"`
	Organization       string `json:"o" yaml:"o"`
	OrganizationalUnit string `json:"ou" yaml:"ou"`
	EmailAddress       string `json:"email" yaml:"email"` // 1.2.840.113549.1.9.1
	SerialNumber       string `json:"serial_number" yaml:"serial_number"`
}

// X509Subject contains the subject information of the request
type X509Subject struct {
	CommonName   string     `json:"common_name" yaml:"common_name"`
	Names        []X509Name `json:"names" yaml:"names"`
	SerialNumber string     `json:"serial_number" yaml:"serial_number"`
}

// X509Extension represents a raw extension to be included in the request.
// The "value" field must be hex or base64 encoded.
type X509Extension struct {
	ID       OID    `json:"id" yaml:"id"`
	Critical bool   `json:"critical" yaml:"critical"`
	Value    string `json:"value" yaml:"value"`
}

// GetValue returns raw value.
// if prefix is hex or base64, then it's decoded,
// otherwise hex decoding is tried first then base64
func (ext X509Extension) GetValue() ([]byte, error) {
	var rawValue []byte
	var err error
	if strings.HasPrefix(ext.Value, "hex:") {
		rawValue, err = hex.DecodeString(ext.Value[4:])
	} else if strings.HasPrefix(ext.Value, "base64:") {
		rawValue, err = base64.StdEncoding.DecodeString(ext.Value[7:])
	} else {
		rawValue, err = hex.DecodeString(ext.Value)
		if err != nil {
			rawValue, err = base64.StdEncoding.DecodeString(ext.Value)
		}
	}
	if err != nil {
		return nil, errors.Mark(errors.WithMessagef(err, "failed to decode extension: %s", ext.Value), xkmf.ErrBadParameter)
	}
	return rawValue, nil
}

// CertificateRequest is the profile of a request:
// the subject and the extensions to build it with.
type CertificateRequest struct {
	// CommonName of the Subject
	CommonName string `json:"common_name" yaml:"common_name"`
	// Names of the Subject
	Names []X509Name `json:"names" yaml:"names"`
	// SerialNumber of the Subject
	SerialNumber string `json:"serial_number,omitempty" yaml:"serial_number,omitempty"`
	// SAN is Subject Alt Names
	SAN []string `json:"san" yaml:"san"`
	// KeyUsage names, e.g. "signing", "key encipherment"
	KeyUsage []string `json:"key_usage,omitempty" yaml:"key_usage,omitempty"`
	// ExtKeyUsage names or OIDs, e.g. "server auth"
	ExtKeyUsage []string `json:"ext_key_usage,omitempty" yaml:"ext_key_usage,omitempty"`
	// Extensions for the request
	Extensions []X509Extension `json:"extensions,omitempty" yaml:"extensions,omitempty"`
}

// LoadRequest loads the request profile from YAML or JSON file
func LoadRequest(file string) (*CertificateRequest, error) {
	b, err := os.ReadFile(file)
	if err != nil {
		return nil, errors.Mark(errors.WithMessagef(err, "unable to read request"), xkmf.ErrOpenFile)
	}
	r := new(CertificateRequest)
	if strings.HasSuffix(file, ".json") {
		err = json.Unmarshal(b, r)
	} else {
		err = yaml.Unmarshal(b, r)
	}
	if err != nil {
		return nil, errors.Mark(errors.WithMessagef(err, "failed to decode file: %s", file), xkmf.ErrBadParameter)
	}
	return r, nil
}

// Validate provides the default validation logic for the request.
// The only requirement here is that the request have a non-empty subject field.
func (r *CertificateRequest) Validate() error {
	if r.CommonName != "" {
		return nil
	}
	if len(r.Names) == 0 {
		return errors.WithMessage(xkmf.ErrBadParameter, "missing subject information")
	}
	for _, n := range r.Names {
		if isNameEmpty(n) {
			return errors.WithMessage(xkmf.ErrBadParameter, "empty name")
		}
	}
	return nil
}

// AddSAN adds a SAN value to the request
func (r *CertificateRequest) AddSAN(s string) {
	if found := slices.ContainsString(r.SAN, s); !found {
		r.SAN = append(r.SAN, s)
	}
}

// Name returns the PKIX name for the request.
func (r *CertificateRequest) Name() pkix.Name {
	subs := X509Subject{
		CommonName:   r.CommonName,
		SerialNumber: r.SerialNumber,
		Names:        r.Names,
	}

	return subs.Name()
}

// Apply sets the subject and the extensions of the request to data.
// On failure data is not modified.
func (r *CertificateRequest) Apply(data *Data) error {
	if err := r.Validate(); err != nil {
		return err
	}

	c := data.Clone()
	if err := c.SetSubjectName(r.Name()); err != nil {
		return err
	}
	for _, san := range r.SAN {
		gn := ParseSAN(san)
		if err := c.SetSubjectAltName(false, gn.Type, gn.Value); err != nil {
			return err
		}
	}
	if len(r.KeyUsage) > 0 {
		ku, err := oid.ParseKeyUsage(r.KeyUsage...)
		if err != nil {
			return errors.Mark(err, xkmf.ErrBadParameter)
		}
		if err = c.SetKeyUsage(true, ku); err != nil {
			return err
		}
	}
	for _, name := range r.ExtKeyUsage {
		id, err := oid.ParseExtKeyUsage(name)
		if err != nil {
			return errors.Mark(err, xkmf.ErrBadParameter)
		}
		if err = c.AddExtendedKeyUsage(id, false); err != nil {
			return err
		}
	}
	for _, ext := range r.Extensions {
		val, err := ext.GetValue()
		if err != nil {
			return err
		}
		err = c.AddExtension(der.Extension{
			ID:       asn1.ObjectIdentifier(ext.ID),
			Critical: ext.Critical,
			Value:    val,
		})
		if err != nil {
			return err
		}
	}

	*data = *c
	return nil
}

// ParseSAN returns the general name of the SAN value:
// URI if it has a scheme, IP, email or DNS name otherwise
func ParseSAN(san string) der.GeneralName {
	if strings.Contains(san, "://") {
		return der.GeneralName{Type: der.GeneralNameURI, Value: san}
	}
	if ip := net.ParseIP(san); ip != nil {
		return der.GeneralName{Type: der.GeneralNameIP, Value: san}
	}
	if email, err := mail.ParseAddress(san); err == nil && email != nil {
		return der.GeneralName{Type: der.GeneralNameEmail, Value: email.Address}
	}
	return der.GeneralName{Type: der.GeneralNameDNS, Value: san}
}

// isNameEmpty returns true if the name has no identifying information in it.
func isNameEmpty(n X509Name) bool {
	empty := func(s string) bool { return strings.TrimSpace(s) == "" }

	if empty(n.Country) && empty(n.Province) && empty(n.Locality) && empty(n.Organization) && empty(n.OrganizationalUnit) {
		return true
	}
	return false
}

// appendIf appends to a if s is not an empty string.
func appendIf(s string, a *[]string) {
	if s != "" {
		*a = append(*a, s)
	}
}

// Name returns the PKIX name for the subject.
func (s *X509Subject) Name() pkix.Name {
	var name pkix.Name
	name.CommonName = s.CommonName
	name.SerialNumber = s.SerialNumber

	for _, n := range s.Names {
		appendIf(n.Country, &name.Country)
		appendIf(n.Province, &name.Province)
		appendIf(n.Locality, &name.Locality)
		appendIf(n.Organization, &name.Organization)
		appendIf(n.OrganizationalUnit, &name.OrganizationalUnit)

		if n.EmailAddress != "" {
			name.ExtraNames = append(name.ExtraNames, pkix.AttributeTypeAndValue{
				Type:  oid.NameEmailAddress,
				Value: n.EmailAddress,
			})
		}
	}
	return name
}
