package oid

import (
	"crypto/x509"
	"encoding/asn1"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
)

// KeyUsage contains a mapping of string names to key usages.
var KeyUsage = map[string]x509.KeyUsage{
	"signing":            x509.KeyUsageDigitalSignature,
	"digital signature":  x509.KeyUsageDigitalSignature,
	"content commitment": x509.KeyUsageContentCommitment,
	"key encipherment":   x509.KeyUsageKeyEncipherment,
	"key agreement":      x509.KeyUsageKeyAgreement,
	"data encipherment":  x509.KeyUsageDataEncipherment,
	"cert sign":          x509.KeyUsageCertSign,
	"crl sign":           x509.KeyUsageCRLSign,
	"encipher only":      x509.KeyUsageEncipherOnly,
	"decipher only":      x509.KeyUsageDecipherOnly,
}

// KeyUsageName provides map of names
var KeyUsageName = map[x509.KeyUsage]string{
	x509.KeyUsageDigitalSignature:  "signing",
	x509.KeyUsageContentCommitment: "content commitment",
	x509.KeyUsageKeyEncipherment:   "key encipherment",
	x509.KeyUsageKeyAgreement:      "key agreement",
	x509.KeyUsageDataEncipherment:  "data encipherment",
	x509.KeyUsageCertSign:          "cert sign",
	x509.KeyUsageCRLSign:           "crl sign",
	x509.KeyUsageEncipherOnly:      "encipher only",
	x509.KeyUsageDecipherOnly:      "decipher only",
}

// Extended key usage OIDs, RFC 5280 4.2.1.12
var (
	ExtKeyUsageAny             = asn1.ObjectIdentifier{2, 5, 29, 37, 0}
	ExtKeyUsageServerAuth      = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 3, 1}
	ExtKeyUsageClientAuth      = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 3, 2}
	ExtKeyUsageCodeSigning     = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 3, 3}
	ExtKeyUsageEmailProtection = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 3, 4}
	ExtKeyUsageIPSECEndSystem  = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 3, 5}
	ExtKeyUsageIPSECTunnel     = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 3, 6}
	ExtKeyUsageIPSECUser       = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 3, 7}
	ExtKeyUsageTimeStamping    = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 3, 8}
	ExtKeyUsageOCSPSigning     = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 3, 9}
)

// ExtKeyUsage contains a mapping of string names to extended key
// usage OIDs.
var ExtKeyUsage = map[string]asn1.ObjectIdentifier{
	"any":              ExtKeyUsageAny,
	"server auth":      ExtKeyUsageServerAuth,
	"client auth":      ExtKeyUsageClientAuth,
	"code signing":     ExtKeyUsageCodeSigning,
	"email protection": ExtKeyUsageEmailProtection,
	"s/mime":           ExtKeyUsageEmailProtection,
	"ipsec end system": ExtKeyUsageIPSECEndSystem,
	"ipsec tunnel":     ExtKeyUsageIPSECTunnel,
	"ipsec user":       ExtKeyUsageIPSECUser,
	"timestamping":     ExtKeyUsageTimeStamping,
	"ocsp signing":     ExtKeyUsageOCSPSigning,
}

// well-known OIDs
var (
	ExtensionSubjectKeyID          = asn1.ObjectIdentifier{2, 5, 29, 14}
	ExtensionKeyUsage              = asn1.ObjectIdentifier{2, 5, 29, 15}
	ExtensionSubjectAltName        = asn1.ObjectIdentifier{2, 5, 29, 17}
	ExtensionIssuerAltName         = asn1.ObjectIdentifier{2, 5, 29, 18}
	ExtensionBasicConstraints      = asn1.ObjectIdentifier{2, 5, 29, 19}
	ExtensionCRLNumber             = asn1.ObjectIdentifier{2, 5, 29, 20}
	ExtensionNameConstraints       = asn1.ObjectIdentifier{2, 5, 29, 30}
	ExtensionCRLDistributionPoints = asn1.ObjectIdentifier{2, 5, 29, 31}
	ExtensionCertificatePolicies   = asn1.ObjectIdentifier{2, 5, 29, 32}
	ExtensionAuthorityKeyID        = asn1.ObjectIdentifier{2, 5, 29, 35}
	ExtensionExtendedKeyUsage      = asn1.ObjectIdentifier{2, 5, 29, 37}

	// AttributeExtensionRequest is PKCS#9 extensionRequest, RFC 2985
	AttributeExtensionRequest = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 14}

	NameEmailAddress = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 1}
	NameCN           = asn1.ObjectIdentifier{2, 5, 4, 3}
	NameSerial       = asn1.ObjectIdentifier{2, 5, 4, 5}
	NameC            = asn1.ObjectIdentifier{2, 5, 4, 6}
	NameL            = asn1.ObjectIdentifier{2, 5, 4, 7}
	NameST           = asn1.ObjectIdentifier{2, 5, 4, 8}
	NameStreet       = asn1.ObjectIdentifier{2, 5, 4, 9}
	NameO            = asn1.ObjectIdentifier{2, 5, 4, 10}
	NameOU           = asn1.ObjectIdentifier{2, 5, 4, 11}
	NamePostal       = asn1.ObjectIdentifier{2, 5, 4, 17}
)

// DisplayName provides OID name
var DisplayName = map[string]string{
	"2.5.29.14":             "Subject KeyID",
	"2.5.29.15":             "Key Usage",
	"2.5.29.17":             "Subject Alt Name",
	"2.5.29.18":             "Issuer Alt Name",
	"2.5.29.19":             "Basic Constraints",
	"2.5.29.20":             "CRL Number",
	"2.5.29.30":             "Name Constraints",
	"2.5.29.31":             "CRL Distribution Point",
	"2.5.29.32":             "Certificate Policies",
	"2.5.29.35":             "Authority KeyID",
	"2.5.29.37":             "Extended KeyUsage",
	"1.2.840.113549.1.9.14": "Extension Request",
}

// KeyUsages returns sorted list of names
func KeyUsages(ku x509.KeyUsage) []string {
	list := make([]string, 0, len(KeyUsageName))

	for k, v := range KeyUsageName {
		if ku&k == k {
			list = append(list, v)
		}
	}
	sort.Strings(list)
	return list
}

// ParseKeyUsage returns the key usage bits for the names
func ParseKeyUsage(names ...string) (x509.KeyUsage, error) {
	var ku x509.KeyUsage
	for _, n := range names {
		v, ok := KeyUsage[strings.ToLower(strings.TrimSpace(n))]
		if !ok {
			return 0, errors.Errorf("unsupported key usage: %q", n)
		}
		ku |= v
	}
	return ku, nil
}

// ParseExtKeyUsage returns the extended key usage OID by name,
// or parses the dotted form.
func ParseExtKeyUsage(name string) (asn1.ObjectIdentifier, error) {
	if id, ok := ExtKeyUsage[strings.ToLower(strings.TrimSpace(name))]; ok {
		return id, nil
	}
	return Parse(name)
}

// Parse returns OID from its dotted string form
func Parse(s string) (asn1.ObjectIdentifier, error) {
	segments := strings.Split(strings.TrimSpace(s), ".")
	if len(segments) < 2 {
		return nil, errors.Errorf("invalid OID: %q", s)
	}
	id := make(asn1.ObjectIdentifier, len(segments))
	for i, seg := range segments {
		n := 0
		if seg == "" {
			return nil, errors.Errorf("invalid OID: %q", s)
		}
		for _, c := range seg {
			if c < '0' || c > '9' {
				return nil, errors.Errorf("invalid OID: %q", s)
			}
			n = n*10 + int(c-'0')
			if n < 0 {
				return nil, errors.Errorf("invalid OID: %q", s)
			}
		}
		id[i] = n
	}
	return id, nil
}

// Name returns display name of OID, or its dotted form
func Name(id asn1.ObjectIdentifier) string {
	s := id.String()
	if n, ok := DisplayName[s]; ok {
		return n
	}
	return s
}

// Strings returns list of OID string values
func Strings(ids ...asn1.ObjectIdentifier) []string {
	list := make([]string, 0, len(ids))

	for _, k := range ids {
		list = append(list, k.String())
	}

	return list
}
