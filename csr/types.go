package csr

import (
	"encoding/asn1"
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xkmf/oid"
	"gopkg.in/yaml.v3"
)

// OID is the asn1's ObjectIdentifier, provide a custom
// JSON and YAML marshal / unmarshal.
type OID asn1.ObjectIdentifier

// Equal reports whether oi and other represent the same identifier.
func (o OID) Equal(other OID) bool {
	return asn1.ObjectIdentifier(o).Equal(asn1.ObjectIdentifier(other))
}

func (o OID) String() string {
	return asn1.ObjectIdentifier(o).String()
}

// UnmarshalJSON unmarshals a JSON string into an OID.
func (o *OID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return errors.Errorf("OID JSON string not wrapped in quotes: %s", string(data))
	}
	parsed, err := oid.Parse(s)
	if err != nil {
		return err
	}
	*o = OID(parsed)
	return nil
}

// UnmarshalYAML unmarshals a YAML string into an OID.
func (o *OID) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return errors.WithStack(err)
	}
	parsed, err := oid.Parse(s)
	if err != nil {
		return err
	}
	*o = OID(parsed)
	return nil
}

// MarshalJSON marshals an oid into a JSON string.
func (o OID) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.String())
}

// MarshalYAML marshals an oid into a YAML string.
func (o OID) MarshalYAML() (any, error) {
	return o.String(), nil
}
