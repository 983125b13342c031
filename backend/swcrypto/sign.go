// Package swcrypto provides software signing and verification shared by
// the keystore backends.
//
// DSA and ECDSA signatures cross the backend boundary in the raw r||s form,
// with r and s left padded to the size of the group order.
package swcrypto

import (
	"crypto"
	"crypto/dsa" //nolint:staticcheck
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	_ "crypto/sha1" // register hash
	_ "crypto/sha256"
	_ "crypto/sha512"
	"math/big"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xkmf"
	"github.com/effective-security/xkmf/oid"
)

// Digest returns the hash of data for the signature algorithm
func Digest(alg oid.AlgorithmIndex, data []byte) ([]byte, crypto.Hash, error) {
	h := oid.Hash(alg)
	if h == 0 || !h.Available() {
		return nil, 0, errors.WithMessagef(xkmf.ErrBadParameter, "unsupported algorithm: %s", alg)
	}
	hf := h.New()
	_, _ = hf.Write(data)
	return hf.Sum(nil), h, nil
}

// Sign returns the signature of data.
// RSA signatures are PKCS#1 v1.5, DSA and ECDSA signatures are raw r||s.
func Sign(key crypto.PrivateKey, alg oid.AlgorithmIndex, data []byte) ([]byte, error) {
	pub, err := PublicKey(key)
	if err != nil {
		return nil, err
	}
	if err = checkFamily(pub, alg); err != nil {
		return nil, err
	}
	digest, h, err := Digest(alg, data)
	if err != nil {
		return nil, err
	}

	switch k := key.(type) {
	case *rsa.PrivateKey:
		sig, err := rsa.SignPKCS1v15(rand.Reader, k, h, digest)
		if err != nil {
			return nil, errors.Mark(errors.WithMessage(err, "RSA sign"), xkmf.ErrBadParameter)
		}
		return sig, nil
	case *ecdsa.PrivateKey:
		r, s, err := ecdsa.Sign(rand.Reader, k, digest)
		if err != nil {
			return nil, errors.Mark(errors.WithMessage(err, "ECDSA sign"), xkmf.ErrBadParameter)
		}
		return rawSignature(r, s, SignatureSize(pub)), nil
	case *dsa.PrivateKey:
		r, s, err := dsa.Sign(rand.Reader, k, truncate(digest, k.Q))
		if err != nil {
			return nil, errors.Mark(errors.WithMessage(err, "DSA sign"), xkmf.ErrBadParameter)
		}
		return rawSignature(r, s, SignatureSize(pub)), nil
	}
	return nil, errors.WithMessagef(xkmf.ErrBadParameter, "unsupported key type: %T", key)
}

// Verify verifies the signature of data.
// Returns xkmf.ErrVerification if the signature is not valid.
func Verify(pub crypto.PublicKey, alg oid.AlgorithmIndex, data, sig []byte) error {
	if err := checkFamily(pub, alg); err != nil {
		return err
	}
	digest, h, err := Digest(alg, data)
	if err != nil {
		return err
	}

	var ok bool
	switch k := pub.(type) {
	case *rsa.PublicKey:
		ok = rsa.VerifyPKCS1v15(k, h, digest, sig) == nil
	case *ecdsa.PublicKey:
		r, s, perr := splitSignature(sig, SignatureSize(k))
		if perr != nil {
			return perr
		}
		ok = ecdsa.Verify(k, digest, r, s)
	case *dsa.PublicKey:
		r, s, perr := splitSignature(sig, SignatureSize(k))
		if perr != nil {
			return perr
		}
		ok = dsa.Verify(k, truncate(digest, k.Q), r, s)
	}
	if !ok {
		return errors.WithMessagef(xkmf.ErrVerification, "%s signature", alg)
	}
	return nil
}

// VerifySPKI verifies the signature of data with DER encoded SubjectPublicKeyInfo
func VerifySPKI(spki []byte, alg oid.AlgorithmIndex, data, sig []byte) error {
	pub, err := ParsePublicKey(spki)
	if err != nil {
		return err
	}
	return Verify(pub, alg, data, sig)
}

func checkFamily(pub crypto.PublicKey, alg oid.AlgorithmIndex) error {
	f := KeyFamily(pub)
	if f == oid.FamilyUnknown {
		return errors.WithMessagef(xkmf.ErrBadParameter, "unsupported key type: %T", pub)
	}
	if af := oid.AlgorithmFamily(alg); af != f {
		return errors.WithMessagef(xkmf.ErrBadParameter, "algorithm %s does not match %s key", alg, f)
	}
	return nil
}

func rawSignature(r, s *big.Int, size int) []byte {
	half := size / 2
	raw := make([]byte, size)
	r.FillBytes(raw[:half])
	s.FillBytes(raw[half:])
	return raw
}

func splitSignature(sig []byte, size int) (*big.Int, *big.Int, error) {
	if size == 0 || len(sig) != size {
		return nil, nil, errors.WithMessagef(xkmf.ErrVerification, "invalid signature size %d", len(sig))
	}
	half := size / 2
	return new(big.Int).SetBytes(sig[:half]), new(big.Int).SetBytes(sig[half:]), nil
}

// FIPS 186-3, 4.6: the hash is truncated to the byte length of q
func truncate(digest []byte, q *big.Int) []byte {
	n := len(q.Bytes())
	if len(digest) > n {
		return digest[:n]
	}
	return digest
}
