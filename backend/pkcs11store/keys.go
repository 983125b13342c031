package pkcs11store

import (
	"context"
	"crypto"
	"crypto/dsa" //nolint:staticcheck
	"crypto/rsa"
	"encoding/asn1"
	"math/big"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xkmf"
	"github.com/effective-security/xkmf/attr"
	"github.com/effective-security/xkmf/backend/swcrypto"
	"github.com/effective-security/xkmf/der"
	"github.com/effective-security/xkmf/oid"
	"github.com/effective-security/xkmf/plugin"
	"github.com/effective-security/xlog"
	"github.com/miekg/pkcs11"
	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"
)

// DigestInfo prefixes of PKCS#1 v1.5 signatures, RFC 8017 9.2
var digestInfoPrefix = map[crypto.Hash][]byte{
	crypto.SHA1:   {0x30, 0x21, 0x30, 0x09, 0x06, 0x05, 0x2b, 0x0e, 0x03, 0x02, 0x1a, 0x05, 0x00, 0x04, 0x14},
	crypto.SHA256: {0x30, 0x31, 0x30, 0x0d, 0x06, 0x09, 0x60, 0x86, 0x48, 0x01, 0x65, 0x03, 0x04, 0x02, 0x01, 0x05, 0x00, 0x04, 0x20},
	crypto.SHA384: {0x30, 0x41, 0x30, 0x0d, 0x06, 0x09, 0x60, 0x86, 0x48, 0x01, 0x65, 0x03, 0x04, 0x02, 0x02, 0x05, 0x00, 0x04, 0x30},
	crypto.SHA512: {0x30, 0x51, 0x30, 0x0d, 0x06, 0x09, 0x60, 0x86, 0x48, 0x01, 0x65, 0x03, 0x04, 0x02, 0x03, 0x05, 0x00, 0x04, 0x40},
}

// ExportPublicKey returns DER encoded SubjectPublicKeyInfo of the key
func (s *Store) ExportPublicKey(_ context.Context, attrs attr.List) ([]byte, error) {
	kh, err := plugin.ParseKeyHandle(attrs)
	if err != nil {
		return nil, err
	}

	s.lock.Lock()
	defer s.lock.Unlock()
	if err = s.check(); err != nil {
		return nil, err
	}

	priv, keyType, err := s.findPrivateKey(kh)
	if err != nil {
		return nil, err
	}
	return s.publicKey(priv, keyType)
}

// SignData signs the digest of data on the token
func (s *Store) SignData(_ context.Context, attrs attr.List) ([]byte, error) {
	p, err := plugin.ParseSignParams(attrs)
	if err != nil {
		return nil, err
	}
	digest, h, err := swcrypto.Digest(p.Algorithm, p.Data)
	if err != nil {
		return nil, err
	}

	s.lock.Lock()
	defer s.lock.Unlock()
	if err = s.check(); err != nil {
		return nil, err
	}

	priv, keyType, err := s.findPrivateKey(p.Key)
	if err != nil {
		return nil, err
	}
	if family := keyFamily(keyType); family != oid.AlgorithmFamily(p.Algorithm) {
		return nil, errors.WithMessagef(xkmf.ErrBadParameter, "algorithm %s does not match %s key", p.Algorithm, family)
	}

	var mech uint
	toSign := digest
	switch keyType {
	case pkcs11.CKK_RSA:
		prefix, ok := digestInfoPrefix[h]
		if !ok {
			return nil, errors.WithMessagef(xkmf.ErrBadParameter, "unsupported hash: %s", h)
		}
		mech = pkcs11.CKM_RSA_PKCS
		toSign = append(append([]byte{}, prefix...), digest...)
	case pkcs11.CKK_EC:
		mech = pkcs11.CKM_ECDSA
	case pkcs11.CKK_DSA:
		// the digest is truncated to the size of q
		mech = pkcs11.CKM_DSA
		vals, err := s.attributes(priv, pkcs11.CKA_SUBPRIME)
		if err != nil {
			return nil, err
		}
		if n := len(vals[0].Value); n > 0 && len(toSign) > n {
			toSign = toSign[:n]
		}
	}

	if err = s.mod.SignInit(s.session, []*pkcs11.Mechanism{pkcs11.NewMechanism(mech, nil)}, priv); err != nil {
		return nil, errors.Mark(errors.WithMessage(err, "SignInit"), xkmf.ErrBadParameter)
	}
	sig, err := s.mod.Sign(s.session, toSign)
	if err != nil {
		return nil, errors.Mark(errors.WithMessage(err, "Sign"), xkmf.ErrBadParameter)
	}
	if err = p.CheckSize(sig); err != nil {
		return nil, err
	}

	logger.KV(xlog.DEBUG, "key", p.Key.String(), "alg", p.Algorithm, "size", len(sig))
	return sig, nil
}

// VerifyData verifies the signature in software
func (s *Store) VerifyData(_ context.Context, attrs attr.List) error {
	p, err := plugin.ParseVerifyParams(attrs)
	if err != nil {
		return err
	}
	return swcrypto.VerifySPKI(p.SPKI, p.Algorithm, p.Data, p.Signature)
}

func (s *Store) check() error {
	if s.closed {
		return errors.WithMessage(xkmf.ErrBadParameter, "pkcs11 keystore is closed")
	}
	return nil
}

// findPrivateKey returns the private key object by CKA_ID or CKA_LABEL,
// and its CKA_KEY_TYPE
func (s *Store) findPrivateKey(kh *plugin.KeyHandle) (pkcs11.ObjectHandle, uint, error) {
	if kh == nil || (kh.ID == "" && kh.Label == "") {
		return 0, 0, errors.WithMessage(xkmf.ErrBadParameter, "key id or label is required")
	}
	template := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_PRIVATE_KEY),
	}
	if kh.ID != "" {
		template = append(template, pkcs11.NewAttribute(pkcs11.CKA_ID, []byte(kh.ID)))
	}
	if kh.Label != "" {
		template = append(template, pkcs11.NewAttribute(pkcs11.CKA_LABEL, kh.Label))
	}

	obj, err := s.findObject(template)
	if err != nil {
		return 0, 0, err
	}
	if obj == 0 {
		return 0, 0, errors.WithMessagef(xkmf.ErrKeyNotFound, "pkcs11 keystore: %s", kh)
	}

	vals, err := s.attributes(obj, pkcs11.CKA_KEY_TYPE)
	if err != nil {
		return 0, 0, err
	}
	keyType := ulong(vals[0].Value)
	if keyFamily(keyType) == oid.FamilyUnknown {
		return 0, 0, errors.WithMessagef(xkmf.ErrBadParameter, "unsupported key type: 0x%X", keyType)
	}
	return obj, keyType, nil
}

// publicKey returns SPKI of the public key object matching the private key
func (s *Store) publicKey(priv pkcs11.ObjectHandle, keyType uint) ([]byte, error) {
	vals, err := s.attributes(priv, pkcs11.CKA_ID, pkcs11.CKA_LABEL)
	if err != nil {
		return nil, err
	}
	pubObj, err := s.findObject([]*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_PUBLIC_KEY),
		pkcs11.NewAttribute(pkcs11.CKA_KEY_TYPE, keyType),
		pkcs11.NewAttribute(pkcs11.CKA_ID, vals[0].Value),
		pkcs11.NewAttribute(pkcs11.CKA_LABEL, vals[1].Value),
	})
	if err != nil {
		return nil, err
	}
	if pubObj == 0 {
		return nil, errors.WithMessage(xkmf.ErrKeyNotFound, "public key not found for private key")
	}

	switch keyType {
	case pkcs11.CKK_RSA:
		vals, err = s.attributes(pubObj, pkcs11.CKA_MODULUS, pkcs11.CKA_PUBLIC_EXPONENT)
		if err != nil {
			return nil, err
		}
		return swcrypto.MarshalPublicKey(&rsa.PublicKey{
			N: new(big.Int).SetBytes(vals[0].Value),
			E: int(new(big.Int).SetBytes(vals[1].Value).Int64()),
		})
	case pkcs11.CKK_DSA:
		vals, err = s.attributes(pubObj, pkcs11.CKA_PRIME, pkcs11.CKA_SUBPRIME, pkcs11.CKA_BASE, pkcs11.CKA_VALUE)
		if err != nil {
			return nil, err
		}
		return swcrypto.MarshalPublicKey(&dsa.PublicKey{
			Parameters: dsa.Parameters{
				P: new(big.Int).SetBytes(vals[0].Value),
				Q: new(big.Int).SetBytes(vals[1].Value),
				G: new(big.Int).SetBytes(vals[2].Value),
			},
			Y: new(big.Int).SetBytes(vals[3].Value),
		})
	default:
		vals, err = s.attributes(pubObj, pkcs11.CKA_EC_PARAMS, pkcs11.CKA_EC_POINT)
		if err != nil {
			return nil, err
		}
		return ecSPKI(vals[0].Value, vals[1].Value)
	}
}

// ecSPKI returns SPKI of the named curve and the EC point,
// the point may be wrapped in OCTET STRING
func ecSPKI(params, point []byte) ([]byte, error) {
	var curve asn1.ObjectIdentifier
	in := cryptobyte.String(params)
	if !in.ReadASN1ObjectIdentifier(&curve) || !in.Empty() || oid.CurveSize(curve) == 0 {
		return nil, errors.WithMessage(xkmf.ErrEncoding, "unsupported EC parameters")
	}

	in = cryptobyte.String(point)
	var raw cryptobyte.String
	if in.ReadASN1(&raw, cbasn1.OCTET_STRING) && in.Empty() {
		point = raw
	}

	spki, err := der.EncodeSPKI(&der.SPKI{
		Algorithm: der.AlgorithmIdentifier{
			Algorithm:  oid.KeyECDSA,
			Parameters: params,
		},
		PublicKey: asn1.BitString{Bytes: point, BitLength: 8 * len(point)},
	})
	if err != nil {
		return nil, err
	}
	// the point must be on the curve
	if _, err = swcrypto.ParsePublicKey(spki); err != nil {
		return nil, err
	}
	return spki, nil
}

// findObject returns the first object matching the template, or 0
func (s *Store) findObject(template []*pkcs11.Attribute) (pkcs11.ObjectHandle, error) {
	if err := s.mod.FindObjectsInit(s.session, template); err != nil {
		return 0, errors.Mark(errors.WithMessage(err, "FindObjectsInit"), xkmf.ErrBadParameter)
	}
	defer func() { _ = s.mod.FindObjectsFinal(s.session) }()

	objs, _, err := s.mod.FindObjects(s.session, 1)
	if err != nil {
		return 0, errors.Mark(errors.WithMessage(err, "FindObjects"), xkmf.ErrBadParameter)
	}
	if len(objs) == 0 {
		return 0, nil
	}
	return objs[0], nil
}

func (s *Store) attributes(obj pkcs11.ObjectHandle, types ...uint) ([]*pkcs11.Attribute, error) {
	template := make([]*pkcs11.Attribute, len(types))
	for i, t := range types {
		template[i] = pkcs11.NewAttribute(t, nil)
	}
	vals, err := s.mod.GetAttributeValue(s.session, obj, template)
	if err != nil {
		return nil, errors.Mark(errors.WithMessage(err, "GetAttributeValue"), xkmf.ErrBadParameter)
	}
	if len(vals) != len(types) {
		return nil, errors.WithMessagef(xkmf.ErrBadParameter, "GetAttributeValue returned %d attributes", len(vals))
	}
	return vals, nil
}

func keyFamily(keyType uint) oid.Family {
	switch keyType {
	case pkcs11.CKK_RSA:
		return oid.FamilyRSA
	case pkcs11.CKK_EC:
		return oid.FamilyECDSA
	case pkcs11.CKK_DSA:
		return oid.FamilyDSA
	}
	return oid.FamilyUnknown
}

// ulong decodes CK_ULONG in the native byte order of little-endian hosts
func ulong(b []byte) uint {
	var v uint
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint(b[i])
	}
	return v
}
