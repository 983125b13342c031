package oid

import (
	"crypto"
	"encoding/asn1"
	"strings"
)

// Public key algorithms
var (
	KeyRSA   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 1}
	KeyDSA   = asn1.ObjectIdentifier{1, 2, 840, 10040, 4, 1}
	KeyECDSA = asn1.ObjectIdentifier{1, 2, 840, 10045, 2, 1}

	CurveP256 = asn1.ObjectIdentifier{1, 2, 840, 10045, 3, 1, 7}
	CurveP384 = asn1.ObjectIdentifier{1, 3, 132, 0, 34}
	CurveP521 = asn1.ObjectIdentifier{1, 3, 132, 0, 35}
)

// Signature algorithms
var (
	SignatureSHA1WithRSA     = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 5}
	SignatureSHA256WithRSA   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 11}
	SignatureSHA384WithRSA   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 12}
	SignatureSHA512WithRSA   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 13}
	SignatureSHA1WithDSA     = asn1.ObjectIdentifier{1, 2, 840, 10040, 4, 3}
	SignatureSHA256WithDSA   = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 3, 2}
	SignatureSHA1WithECDSA   = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 1}
	SignatureSHA256WithECDSA = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 2}
	SignatureSHA384WithECDSA = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 3}
	SignatureSHA512WithECDSA = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 4}
)

// AlgorithmIndex enumerates the supported signature algorithms
type AlgorithmIndex int

// Supported signature algorithms
const (
	AlgUnknown AlgorithmIndex = iota
	SHA1WithRSA
	SHA256WithRSA
	SHA384WithRSA
	SHA512WithRSA
	SHA1WithDSA
	SHA256WithDSA
	SHA1WithECDSA
	SHA256WithECDSA
	SHA384WithECDSA
	SHA512WithECDSA
)

// Family of the signature algorithm
type Family int

// Algorithm families
const (
	FamilyUnknown Family = iota
	FamilyRSA
	FamilyDSA
	FamilyECDSA
)

func (f Family) String() string {
	switch f {
	case FamilyRSA:
		return "RSA"
	case FamilyDSA:
		return "DSA"
	case FamilyECDSA:
		return "ECDSA"
	default:
		return "unknown"
	}
}

type algInfo struct {
	name   string
	oid    asn1.ObjectIdentifier
	hash   crypto.Hash
	family Family
}

var algorithms = map[AlgorithmIndex]algInfo{
	SHA1WithRSA:     {"SHA1-RSA", SignatureSHA1WithRSA, crypto.SHA1, FamilyRSA},
	SHA256WithRSA:   {"SHA256-RSA", SignatureSHA256WithRSA, crypto.SHA256, FamilyRSA},
	SHA384WithRSA:   {"SHA384-RSA", SignatureSHA384WithRSA, crypto.SHA384, FamilyRSA},
	SHA512WithRSA:   {"SHA512-RSA", SignatureSHA512WithRSA, crypto.SHA512, FamilyRSA},
	SHA1WithDSA:     {"SHA1-DSA", SignatureSHA1WithDSA, crypto.SHA1, FamilyDSA},
	SHA256WithDSA:   {"SHA256-DSA", SignatureSHA256WithDSA, crypto.SHA256, FamilyDSA},
	SHA1WithECDSA:   {"SHA1-ECDSA", SignatureSHA1WithECDSA, crypto.SHA1, FamilyECDSA},
	SHA256WithECDSA: {"SHA256-ECDSA", SignatureSHA256WithECDSA, crypto.SHA256, FamilyECDSA},
	SHA384WithECDSA: {"SHA384-ECDSA", SignatureSHA384WithECDSA, crypto.SHA384, FamilyECDSA},
	SHA512WithECDSA: {"SHA512-ECDSA", SignatureSHA512WithECDSA, crypto.SHA512, FamilyECDSA},
}

func (a AlgorithmIndex) String() string {
	if i, ok := algorithms[a]; ok {
		return i.name
	}
	return "unknown"
}

// AlgorithmOID returns the signature OID for the algorithm, or nil
func AlgorithmOID(a AlgorithmIndex) asn1.ObjectIdentifier {
	if i, ok := algorithms[a]; ok {
		return i.oid
	}
	return nil
}

// AlgorithmFromOID returns the algorithm index for the signature OID,
// or AlgUnknown
func AlgorithmFromOID(id asn1.ObjectIdentifier) AlgorithmIndex {
	for a, i := range algorithms {
		if i.oid.Equal(id) {
			return a
		}
	}
	return AlgUnknown
}

// ParseAlgorithm returns the algorithm by its name, e.g. SHA256-ECDSA
func ParseAlgorithm(name string) AlgorithmIndex {
	name = strings.ToUpper(strings.TrimSpace(name))
	for a, i := range algorithms {
		if i.name == name {
			return a
		}
	}
	return AlgUnknown
}

// Hash returns the digest function of the algorithm
func Hash(a AlgorithmIndex) crypto.Hash {
	return algorithms[a].hash
}

// AlgorithmFamily returns the family of the algorithm
func AlgorithmFamily(a AlgorithmIndex) Family {
	return algorithms[a].family
}

// NeedsSignatureWrap returns true for the algorithms whose raw
// (r,s) signature is carried as SEQUENCE { INTEGER r, INTEGER s }
func NeedsSignatureWrap(a AlgorithmIndex) bool {
	f := AlgorithmFamily(a)
	return f == FamilyDSA || f == FamilyECDSA
}

// KeyFamily returns the family of the public key algorithm
func KeyFamily(id asn1.ObjectIdentifier) Family {
	switch {
	case id.Equal(KeyRSA):
		return FamilyRSA
	case id.Equal(KeyDSA):
		return FamilyDSA
	case id.Equal(KeyECDSA):
		return FamilyECDSA
	}
	return FamilyUnknown
}

// CurveSize returns the byte size of the curve order, or 0
func CurveSize(id asn1.ObjectIdentifier) int {
	switch {
	case id.Equal(CurveP256):
		return 32
	case id.Equal(CurveP384):
		return 48
	case id.Equal(CurveP521):
		return 66
	}
	return 0
}
