package csr

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xkmf"
	"github.com/effective-security/xkmf/attr"
	"github.com/effective-security/xkmf/backend/swcrypto"
	"github.com/effective-security/xkmf/der"
	"github.com/effective-security/xkmf/kmf"
	"github.com/effective-security/xkmf/metricskey"
	"github.com/effective-security/xkmf/oid"
	"github.com/effective-security/xkmf/plugin"
	"github.com/effective-security/xlog"
)

// Sign signs the request with the key, and returns DER encoded signed request.
// The signature algorithm must be set on data.
// data is not modified.
func Sign(ctx context.Context, h *kmf.Handle, data *Data, key *plugin.KeyHandle) ([]byte, error) {
	if data == nil || key == nil {
		return nil, errors.WithMessage(xkmf.ErrBadParameter, "request and key handle are required")
	}
	alg := data.SignatureAlgorithmIndex()
	if alg == oid.AlgUnknown {
		return nil, errors.WithMessagef(xkmf.ErrBadParameter, "unsupported signature algorithm: %v", data.SignatureAlgorithm.Algorithm)
	}

	tbs, err := data.EncodeTBS()
	if err != nil {
		return nil, err
	}

	p, err := h.Plugin(key.Keystore)
	if err != nil {
		return nil, err
	}
	signer, err := p.DataSigner()
	if err != nil {
		return nil, err
	}

	size := signatureSize(&data.TBS.SubjectPublicKeyInfo, len(tbs))
	attrs := attr.New(5).
		Set(attr.KindKeystoreType, key.Keystore).
		Set(attr.KindKeyHandle, key).
		Set(attr.KindAlgorithmOID, oid.AlgorithmOID(alg)).
		Set(attr.KindData, tbs).
		Set(attr.KindSignatureSize, size)
	if err = plugin.OpSignData.Validate(attrs); err != nil {
		return nil, err
	}

	started := time.Now()
	sig, err := signer.SignData(ctx, attrs)
	metricskey.PerfCSROperation.MeasureSince(started, key.Keystore.String(), "sign")
	if err != nil {
		logger.KV(xlog.ERROR, "keystore", key.Keystore, "key", key.ID, "alg", alg, "err", err.Error())
		return nil, err
	}
	if len(sig) == 0 || len(sig) > size {
		return nil, errors.WithMessagef(xkmf.ErrEncoding, "unexpected signature size %d, expected up to %d", len(sig), size)
	}

	decoded, err := der.DecodeTBSCSR(tbs)
	if err != nil {
		return nil, err
	}

	if oid.NeedsSignatureWrap(alg) {
		if sig, err = der.EncodeDSASignature(sig); err != nil {
			return nil, err
		}
	}

	signed, err := der.EncodeSignedCSR(&der.CSR{
		TBS:                *decoded,
		SignatureAlgorithm: data.SignatureAlgorithm,
		Signature:          sig,
	})
	if err != nil {
		return nil, err
	}

	logger.KV(xlog.DEBUG, "keystore", key.Keystore, "key", key.ID, "alg", alg, "size", len(signed))
	return signed, nil
}

// Decode returns the request decoded from PEM or DER
func Decode(raw []byte) (*Data, error) {
	if len(raw) == 0 {
		return nil, errors.WithMessage(xkmf.ErrBadParameter, "empty request")
	}

	b := raw
	switch der.DetectFormat(raw) {
	case der.FormatPEM:
		var err error
		b, err = der.FromPEM(raw, der.LabelCSR, "NEW CERTIFICATE REQUEST")
		if err != nil {
			return nil, err
		}
	case der.FormatUndefined:
		return nil, errors.WithMessage(xkmf.ErrEncoding, "request is neither PEM nor DER")
	}

	c, err := der.DecodeSignedCSR(b)
	if err != nil {
		return nil, err
	}
	return &Data{
		TBS:                c.TBS,
		SignatureAlgorithm: c.SignatureAlgorithm,
		Signature:          c.Signature,
	}, nil
}

// Verify verifies the signature of the decoded request with the public key
// of its subject, by the backend of the keystore
func Verify(ctx context.Context, h *kmf.Handle, keystore plugin.KeystoreType, data *Data) error {
	if data == nil || len(data.Signature) == 0 {
		return errors.WithMessage(xkmf.ErrBadParameter, "signed request is required")
	}

	tbs, err := data.EncodeTBS()
	if err != nil {
		return err
	}

	alg := data.SignatureAlgorithmIndex()
	if alg == oid.AlgUnknown {
		return errors.WithMessagef(xkmf.ErrBadParameter, "unsupported signature algorithm: %v", data.SignatureAlgorithm.Algorithm)
	}

	sig := data.Signature
	if oid.NeedsSignatureWrap(alg) {
		sig, err = der.DecodeDSASignature(sig, fixedSignatureSize(&data.TBS.SubjectPublicKeyInfo))
		if err != nil {
			return err
		}
	}

	spki, err := der.EncodeSPKI(&data.TBS.SubjectPublicKeyInfo)
	if err != nil {
		return err
	}

	p, err := h.Plugin(keystore)
	if err != nil {
		return err
	}
	verifier, err := p.DataVerifier()
	if err != nil {
		return err
	}

	attrs := attr.New(5).
		Set(attr.KindKeystoreType, keystore).
		Set(attr.KindAlgorithmOID, oid.AlgorithmOID(alg)).
		Set(attr.KindSPKI, spki).
		Set(attr.KindData, tbs).
		Set(attr.KindSignature, sig)
	if err = plugin.OpVerifyData.Validate(attrs); err != nil {
		return err
	}

	started := time.Now()
	err = verifier.VerifyData(ctx, attrs)
	metricskey.PerfCSROperation.MeasureSince(started, keystore.String(), "verify")
	if err != nil {
		logger.KV(xlog.ERROR, "keystore", keystore, "alg", alg, "err", err.Error())
		return err
	}
	return nil
}

// signatureSize returns the maximum size of the raw signature for the key,
// or twice the size of the data if the key can not be parsed
func signatureSize(spki *der.SPKI, dataSize int) int {
	if n := fixedSignatureSize(spki); n > 0 {
		return n
	}
	return 2 * dataSize
}

// fixedSignatureSize returns the size of the raw signature for the key:
// the modulus size for RSA, and the size of r||s for DSA and ECDSA.
// Returns 0 if the size can not be derived.
func fixedSignatureSize(spki *der.SPKI) int {
	if spki.IsEmpty() {
		return 0
	}
	b, err := der.EncodeSPKI(spki)
	if err != nil {
		return 0
	}
	pub, err := swcrypto.ParsePublicKey(b)
	if err != nil {
		return 0
	}
	return swcrypto.SignatureSize(pub)
}
