package swcrypto

import (
	"crypto"
	"crypto/dsa" //nolint:staticcheck
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/asn1"
	"encoding/pem"
	"math/big"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xkmf"
	"github.com/effective-security/xkmf/der"
	"github.com/effective-security/xkmf/oid"
)

// PEM labels of private keys
const (
	LabelPrivateKey    = "PRIVATE KEY"
	LabelDSAPrivateKey = "DSA PRIVATE KEY"
)

// OpenSSL DSA private key
type dsaPrivateKey struct {
	Version int
	P       *big.Int
	Q       *big.Int
	G       *big.Int
	Y       *big.Int
	X       *big.Int
}

type dsaParameters struct {
	P, Q, G *big.Int
}

// ParsePrivateKeyPEM parses and returns a PEM-encoded private key.
// The private key may be an unencrypted PKCS#8, PKCS#1,
// elliptic curve or OpenSSL DSA private key.
func ParsePrivateKeyPEM(keyPEM []byte) (crypto.PrivateKey, error) {
	var block *pem.Block
	in := keyPEM
	// openssl includes EC PARAMETERS by default
	for {
		block, in = pem.Decode(in)
		if block == nil || block.Type != "EC PARAMETERS" {
			break
		}
	}
	if block == nil {
		return nil, errors.WithMessage(xkmf.ErrBadParameter, "unable to decode private key")
	}
	if procType, ok := block.Headers["Proc-Type"]; ok && strings.Contains(procType, "ENCRYPTED") {
		return nil, errors.WithMessage(xkmf.ErrBadParameter, "private key is encrypted")
	}
	if block.Type == LabelDSAPrivateKey {
		return parseDSAPrivateKey(block.Bytes)
	}
	return ParsePrivateKeyDER(block.Bytes)
}

// ParsePrivateKeyDER parses a PKCS #1, PKCS #8, or EC DER-encoded
// private key.
func ParsePrivateKeyDER(keyDER []byte) (crypto.PrivateKey, error) {
	generalKey, err := x509.ParsePKCS8PrivateKey(keyDER)
	if err != nil {
		generalKey, err = x509.ParsePKCS1PrivateKey(keyDER)
		if err != nil {
			generalKey, err = x509.ParseECPrivateKey(keyDER)
			if err != nil {
				if k, derr := parseDSAPrivateKey(keyDER); derr == nil {
					return k, nil
				}
				return nil, errors.WithMessage(xkmf.ErrBadParameter, "failed to parse key")
			}
		}
	}

	switch typ := generalKey.(type) {
	case *rsa.PrivateKey:
		return typ, nil
	case *ecdsa.PrivateKey:
		return typ, nil
	}
	return nil, errors.WithMessagef(xkmf.ErrBadParameter, "unsupported key type: %T", generalKey)
}

func parseDSAPrivateKey(keyDER []byte) (*dsa.PrivateKey, error) {
	var k dsaPrivateKey
	rest, err := asn1.Unmarshal(keyDER, &k)
	if err != nil || len(rest) > 0 || k.Version != 0 ||
		k.P == nil || k.Q == nil || k.G == nil || k.Y == nil || k.X == nil {
		return nil, errors.WithMessage(xkmf.ErrBadParameter, "failed to parse DSA key")
	}
	return &dsa.PrivateKey{
		PublicKey: dsa.PublicKey{
			Parameters: dsa.Parameters{P: k.P, Q: k.Q, G: k.G},
			Y:          k.Y,
		},
		X: k.X,
	}, nil
}

// MarshalPrivateKeyPEM returns PEM encoded private key:
// PKCS#8 for RSA and ECDSA, OpenSSL format for DSA
func MarshalPrivateKeyPEM(key crypto.PrivateKey) ([]byte, error) {
	if k, ok := key.(*dsa.PrivateKey); ok {
		b, err := asn1.Marshal(dsaPrivateKey{
			P: k.P, Q: k.Q, G: k.G, Y: k.Y, X: k.X,
		})
		if err != nil {
			return nil, errors.Mark(errors.WithMessage(err, "marshal DSA key"), xkmf.ErrEncoding)
		}
		return der.ToPEM(LabelDSAPrivateKey, b), nil
	}

	b, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, errors.Mark(errors.WithMessage(err, "marshal key"), xkmf.ErrBadParameter)
	}
	return der.ToPEM(LabelPrivateKey, b), nil
}

// PublicKey returns the public key of the private key
func PublicKey(key crypto.PrivateKey) (crypto.PublicKey, error) {
	switch k := key.(type) {
	case *rsa.PrivateKey:
		return &k.PublicKey, nil
	case *ecdsa.PrivateKey:
		return &k.PublicKey, nil
	case *dsa.PrivateKey:
		return &k.PublicKey, nil
	case crypto.Signer:
		return k.Public(), nil
	}
	return nil, errors.WithMessagef(xkmf.ErrBadParameter, "unsupported key type: %T", key)
}

// MarshalPublicKey returns DER encoded SubjectPublicKeyInfo
func MarshalPublicKey(pub crypto.PublicKey) ([]byte, error) {
	if k, ok := pub.(*dsa.PublicKey); ok {
		params, err := asn1.Marshal(dsaParameters{P: k.P, Q: k.Q, G: k.G})
		if err != nil {
			return nil, errors.Mark(errors.WithMessage(err, "marshal DSA parameters"), xkmf.ErrEncoding)
		}
		y, err := asn1.Marshal(k.Y)
		if err != nil {
			return nil, errors.Mark(errors.WithMessage(err, "marshal DSA key"), xkmf.ErrEncoding)
		}
		return der.EncodeSPKI(&der.SPKI{
			Algorithm: der.AlgorithmIdentifier{
				Algorithm:  oid.KeyDSA,
				Parameters: params,
			},
			PublicKey: asn1.BitString{Bytes: y, BitLength: 8 * len(y)},
		})
	}

	b, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, errors.Mark(errors.WithMessage(err, "marshal public key"), xkmf.ErrBadParameter)
	}
	return b, nil
}

// ParsePublicKey parses DER encoded SubjectPublicKeyInfo
func ParsePublicKey(spki []byte) (crypto.PublicKey, error) {
	pub, err := x509.ParsePKIXPublicKey(spki)
	if err != nil {
		return nil, errors.Mark(errors.WithMessage(err, "parse public key"), xkmf.ErrEncoding)
	}
	return pub, nil
}

// KeyFamily returns the algorithm family of the public key
func KeyFamily(pub crypto.PublicKey) oid.Family {
	switch pub.(type) {
	case *rsa.PublicKey:
		return oid.FamilyRSA
	case *ecdsa.PublicKey:
		return oid.FamilyECDSA
	case *dsa.PublicKey:
		return oid.FamilyDSA
	}
	return oid.FamilyUnknown
}

// SignatureSize returns the size of the raw signature produced by the key:
// the modulus size for RSA, and the size of r||s for DSA and ECDSA.
// Returns 0 for unsupported keys.
func SignatureSize(pub crypto.PublicKey) int {
	switch k := pub.(type) {
	case *rsa.PublicKey:
		return k.Size()
	case *ecdsa.PublicKey:
		return 2 * ((k.Curve.Params().BitSize + 7) / 8)
	case *dsa.PublicKey:
		return 2 * len(k.Q.Bytes())
	}
	return 0
}
