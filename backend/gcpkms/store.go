// Package gcpkms implements the gcpkms keystore on Google Cloud KMS
// asymmetric signing keys.
// The key ID is the resource name of the CryptoKeyVersion.
// CRL operations of the keystore are served by the file keystore.
package gcpkms

import (
	"context"
	"crypto"
	"hash/crc32"
	"strings"
	"sync"
	"time"

	kms "cloud.google.com/go/kms/apiv1"
	"cloud.google.com/go/kms/apiv1/kmspb"
	"github.com/cockroachdb/errors"
	"github.com/effective-security/xkmf"
	"github.com/effective-security/xkmf/attr"
	"github.com/effective-security/xkmf/backend/swcrypto"
	"github.com/effective-security/xkmf/der"
	"github.com/effective-security/xkmf/metricskey"
	"github.com/effective-security/xkmf/oid"
	"github.com/effective-security/xkmf/plugin"
	"github.com/effective-security/xlog"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/xkmf", "gcpkms")

// ProviderName is the provider tag of the metrics
const ProviderName = "GCPKMS"

func init() {
	_ = plugin.RegisterLoader(plugin.KeystoreGCPKMS, Load)
}

// KmsClient is the subset of the KeyManagementClient used by the keystore
type KmsClient interface {
	GetPublicKey(context.Context, *kmspb.GetPublicKeyRequest, ...gax.CallOption) (*kmspb.PublicKey, error)
	AsymmetricSign(context.Context, *kmspb.AsymmetricSignRequest, ...gax.CallOption) (*kmspb.AsymmetricSignResponse, error)
	Close() error
}

// KmsClientFactory override for unittest
var KmsClientFactory = func(ctx context.Context, opts ...option.ClientOption) (KmsClient, error) {
	return kms.NewKeyManagementClient(ctx, opts...)
}

type keyInfo struct {
	pub       crypto.PublicKey
	algorithm kmspb.CryptoKeyVersion_CryptoKeyVersionAlgorithm
}

// Store is the gcpkms keystore
type Store struct {
	client KmsClient

	lock sync.RWMutex
	keys map[string]*keyInfo
}

// Load creates the keystore from the configuration attributes:
// Endpoint and CredentialsFile are optional,
// Application Default Credentials are used otherwise.
func Load(cfg *plugin.KeystoreConfig) (plugin.Backend, error) {
	kv := cfg.ParseAttributes()

	var opts []option.ClientOption
	if ep := kv["Endpoint"]; ep != "" {
		opts = append(opts, option.WithEndpoint(ep))
	}
	if file := kv["CredentialsFile"]; file != "" {
		opts = append(opts, option.WithCredentialsFile(file)) //nolint:staticcheck
	}
	return New(context.Background(), opts...)
}

// New returns the keystore with the client options
func New(ctx context.Context, opts ...option.ClientOption) (*Store, error) {
	client, err := KmsClientFactory(ctx, opts...)
	if err != nil {
		return nil, errors.Mark(errors.WithMessage(err, "unable to create KMS client"), xkmf.ErrBadParameter)
	}
	return &Store{
		client: client,
		keys:   map[string]*keyInfo{},
	}, nil
}

// Type returns plugin.KeystoreGCPKMS
func (s *Store) Type() plugin.KeystoreType {
	return plugin.KeystoreGCPKMS
}

// Close closes the client
func (s *Store) Close() error {
	return s.client.Close()
}

// ExportPublicKey returns DER encoded SubjectPublicKeyInfo of the key
func (s *Store) ExportPublicKey(ctx context.Context, attrs attr.List) ([]byte, error) {
	kh, err := plugin.ParseKeyHandle(attrs)
	if err != nil {
		return nil, err
	}
	name, err := keyName(kh)
	if err != nil {
		return nil, err
	}
	ki, err := s.keyInfo(ctx, name)
	if err != nil {
		return nil, err
	}
	return swcrypto.MarshalPublicKey(ki.pub)
}

// SignData signs the digest of data.
// The hash of the algorithm must match the hash of the key version,
// ECDSA signatures are returned as raw r||s.
func (s *Store) SignData(ctx context.Context, attrs attr.List) ([]byte, error) {
	p, err := plugin.ParseSignParams(attrs)
	if err != nil {
		return nil, err
	}
	name, err := keyName(p.Key)
	if err != nil {
		return nil, err
	}
	ki, err := s.keyInfo(ctx, name)
	if err != nil {
		return nil, err
	}
	if family := swcrypto.KeyFamily(ki.pub); family != oid.AlgorithmFamily(p.Algorithm) {
		return nil, errors.WithMessagef(xkmf.ErrBadParameter, "algorithm %s does not match %s key", p.Algorithm, family)
	}
	if err = checkAlgorithm(ki.algorithm, p.Algorithm); err != nil {
		return nil, err
	}

	digest, h, err := swcrypto.Digest(p.Algorithm, p.Data)
	if err != nil {
		return nil, err
	}
	req := &kmspb.AsymmetricSignRequest{
		Name:         name,
		DigestCrc32C: wrapperspb.Int64(checksum(digest)),
	}
	switch h {
	case crypto.SHA256:
		req.Digest = &kmspb.Digest{Digest: &kmspb.Digest_Sha256{Sha256: digest}}
	case crypto.SHA384:
		req.Digest = &kmspb.Digest{Digest: &kmspb.Digest_Sha384{Sha384: digest}}
	case crypto.SHA512:
		req.Digest = &kmspb.Digest{Digest: &kmspb.Digest_Sha512{Sha512: digest}}
	default:
		return nil, errors.WithMessagef(xkmf.ErrBadParameter, "unsupported hash: %s", h)
	}

	started := time.Now()
	resp, err := s.client.AsymmetricSign(ctx, req)
	metricskey.PerfCryptoOperation.MeasureSince(started, ProviderName, "sign")
	if err != nil {
		return nil, errors.Mark(errors.WithMessagef(err, "unable to sign, name=%s", name), xkmf.ErrBadParameter)
	}
	if !resp.GetVerifiedDigestCrc32C() {
		return nil, errors.WithMessage(xkmf.ErrVerification, "digest checksum was not verified by KMS")
	}
	if resp.GetSignatureCrc32C() != nil && resp.GetSignatureCrc32C().GetValue() != checksum(resp.GetSignature()) {
		return nil, errors.WithMessage(xkmf.ErrVerification, "signature checksum mismatch")
	}

	sig := resp.GetSignature()
	if oid.NeedsSignatureWrap(p.Algorithm) {
		if sig, err = der.DecodeDSASignature(sig, swcrypto.SignatureSize(ki.pub)); err != nil {
			return nil, err
		}
	}
	if err = p.CheckSize(sig); err != nil {
		return nil, err
	}
	logger.KV(xlog.DEBUG, "name", name, "alg", p.Algorithm, "size", len(sig))
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

func (s *Store) keyInfo(ctx context.Context, name string) (*keyInfo, error) {
	s.lock.RLock()
	ki, ok := s.keys[name]
	s.lock.RUnlock()
	if ok {
		return ki, nil
	}

	started := time.Now()
	resp, err := s.client.GetPublicKey(ctx, &kmspb.GetPublicKeyRequest{Name: name})
	metricskey.PerfCryptoOperation.MeasureSince(started, ProviderName, "getkey")
	if err != nil {
		if isNotFound(err) {
			return nil, errors.WithMessagef(xkmf.ErrKeyNotFound, "gcpkms keystore: %s", name)
		}
		return nil, errors.Mark(errors.WithMessagef(err, "failed to get public key, name=%s", name), xkmf.ErrBadParameter)
	}
	if resp.GetPemCrc32C() != nil && resp.GetPemCrc32C().GetValue() != checksum([]byte(resp.GetPem())) {
		return nil, errors.WithMessagef(xkmf.ErrVerification, "public key checksum mismatch, name=%s", name)
	}

	b, err := der.FromPEM([]byte(resp.GetPem()), "PUBLIC KEY")
	if err != nil {
		return nil, err
	}
	pub, err := swcrypto.ParsePublicKey(b)
	if err != nil {
		return nil, err
	}

	ki = &keyInfo{pub: pub, algorithm: resp.GetAlgorithm()}
	s.lock.Lock()
	s.keys[name] = ki
	s.lock.Unlock()
	return ki, nil
}

// checkAlgorithm returns an error if the key version can not produce
// signatures of the algorithm
func checkAlgorithm(kva kmspb.CryptoKeyVersion_CryptoKeyVersionAlgorithm, alg oid.AlgorithmIndex) error {
	name := kva.String()
	if strings.HasPrefix(name, "RSA_SIGN_PSS_") || strings.HasPrefix(name, "RSA_SIGN_RAW_") {
		return errors.WithMessagef(xkmf.ErrBadParameter, "unsupported key algorithm: %s", name)
	}
	var suffix string
	switch oid.Hash(alg) {
	case crypto.SHA256:
		suffix = "_SHA256"
	case crypto.SHA384:
		suffix = "_SHA384"
	case crypto.SHA512:
		suffix = "_SHA512"
	default:
		return errors.WithMessagef(xkmf.ErrBadParameter, "unsupported algorithm: %s", alg)
	}
	if !strings.HasSuffix(name, suffix) {
		return errors.WithMessagef(xkmf.ErrBadParameter, "algorithm %s does not match key algorithm %s", alg, name)
	}
	return nil
}

func keyName(kh *plugin.KeyHandle) (string, error) {
	switch {
	case kh == nil:
	case kh.ID != "":
		return kh.ID, nil
	case kh.Label != "":
		return kh.Label, nil
	}
	return "", errors.WithMessage(xkmf.ErrBadParameter, "key version name is required")
}

var crc32c = crc32.MakeTable(crc32.Castagnoli)

func checksum(b []byte) int64 {
	return int64(crc32.Checksum(b, crc32c))
}

func isNotFound(err error) bool {
	st, ok := status.FromError(err)
	return ok && st.Code() == codes.NotFound
}
