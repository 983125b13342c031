// Package awskms implements the awskms keystore on AWS KMS asymmetric keys.
// CRL operations of the keystore are served by the file keystore.
package awskms

import (
	"context"
	"crypto"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/cockroachdb/errors"
	"github.com/effective-security/xkmf"
	"github.com/effective-security/xkmf/attr"
	"github.com/effective-security/xkmf/backend/swcrypto"
	"github.com/effective-security/xkmf/der"
	"github.com/effective-security/xkmf/metricskey"
	"github.com/effective-security/xkmf/oid"
	"github.com/effective-security/xkmf/plugin"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/xkmf", "awskms")

// ProviderName is the provider tag of the metrics
const ProviderName = "AWSKMS"

func init() {
	_ = plugin.RegisterLoader(plugin.KeystoreAWSKMS, Load)
}

// KmsClient is the subset of the KMS API used by the keystore
type KmsClient interface {
	ListKeys(context.Context, *kms.ListKeysInput, ...func(*kms.Options)) (*kms.ListKeysOutput, error)
	DescribeKey(context.Context, *kms.DescribeKeyInput, ...func(*kms.Options)) (*kms.DescribeKeyOutput, error)
	GetPublicKey(context.Context, *kms.GetPublicKeyInput, ...func(*kms.Options)) (*kms.GetPublicKeyOutput, error)
	Sign(context.Context, *kms.SignInput, ...func(*kms.Options)) (*kms.SignOutput, error)
}

// KmsClientFactory override for unittest
var KmsClientFactory = func(cfg aws.Config, optFns ...func(*kms.Options)) KmsClient {
	return kms.NewFromConfig(cfg, optFns...)
}

// Store is the awskms keystore
type Store struct {
	client   KmsClient
	endpoint string
	region   string

	lock sync.RWMutex
	pubs map[string]crypto.PublicKey
}

// Load creates the keystore from the configuration attributes,
// for example "Endpoint=http://localhost:4566,Region=us-west-2".
// Static credentials are taken from AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY
// and AWS_SESSION_TOKEN when set.
func Load(cfg *plugin.KeystoreConfig) (plugin.Backend, error) {
	kv := cfg.ParseAttributes()
	return New(context.Background(), kv["Endpoint"], kv["Region"])
}

// New returns the keystore for the endpoint and region,
// both are optional
func New(ctx context.Context, endpoint, region string) (*Store, error) {
	var awsops []func(*awsconfig.LoadOptions) error
	if region != "" {
		awsops = append(awsops, awsconfig.WithRegion(region))
	}

	id := os.Getenv("AWS_ACCESS_KEY_ID")
	secret := os.Getenv("AWS_SECRET_ACCESS_KEY")
	token := os.Getenv("AWS_SESSION_TOKEN")
	if id != "" && secret != "" {
		awsops = append(awsops, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(id, secret, token)))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsops...)
	if err != nil {
		return nil, errors.Mark(errors.WithMessage(err, "unable to load AWS config"), xkmf.ErrBadParameter)
	}

	var optFns []func(*kms.Options)
	if endpoint != "" {
		optFns = append(optFns, func(o *kms.Options) {
			o.BaseEndpoint = aws.String(endpoint)
		})
	}

	logger.KV(xlog.INFO, "endpoint", endpoint, "region", region)
	return &Store{
		client:   KmsClientFactory(cfg, optFns...),
		endpoint: endpoint,
		region:   region,
		pubs:     map[string]crypto.PublicKey{},
	}, nil
}

// Type returns plugin.KeystoreAWSKMS
func (s *Store) Type() plugin.KeystoreType {
	return plugin.KeystoreAWSKMS
}

// ExportPublicKey returns DER encoded SubjectPublicKeyInfo of the key
func (s *Store) ExportPublicKey(ctx context.Context, attrs attr.List) ([]byte, error) {
	kh, err := plugin.ParseKeyHandle(attrs)
	if err != nil {
		return nil, err
	}
	keyID, err := keyID(kh)
	if err != nil {
		return nil, err
	}
	pub, err := s.publicKey(ctx, keyID)
	if err != nil {
		return nil, err
	}
	return swcrypto.MarshalPublicKey(pub)
}

// SignData signs the digest of data with MessageType DIGEST.
// ECDSA signatures are returned as raw r||s.
func (s *Store) SignData(ctx context.Context, attrs attr.List) ([]byte, error) {
	p, err := plugin.ParseSignParams(attrs)
	if err != nil {
		return nil, err
	}
	keyID, err := keyID(p.Key)
	if err != nil {
		return nil, err
	}
	pub, err := s.publicKey(ctx, keyID)
	if err != nil {
		return nil, err
	}
	if family := swcrypto.KeyFamily(pub); family != oid.AlgorithmFamily(p.Algorithm) {
		return nil, errors.WithMessagef(xkmf.ErrBadParameter, "algorithm %s does not match %s key", p.Algorithm, family)
	}
	spec, err := signingAlgorithm(p.Algorithm)
	if err != nil {
		return nil, err
	}
	digest, _, err := swcrypto.Digest(p.Algorithm, p.Data)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	resp, err := s.client.Sign(ctx, &kms.SignInput{
		KeyId:            aws.String(keyID),
		Message:          digest,
		MessageType:      types.MessageTypeDigest,
		SigningAlgorithm: spec,
	})
	metricskey.PerfCryptoOperation.MeasureSince(started, ProviderName, "sign")
	if err != nil {
		return nil, errors.Mark(errors.WithMessagef(err, "unable to sign, id=%s", keyID), xkmf.ErrBadParameter)
	}

	sig := resp.Signature
	if oid.NeedsSignatureWrap(p.Algorithm) {
		if sig, err = der.DecodeDSASignature(sig, swcrypto.SignatureSize(pub)); err != nil {
			return nil, err
		}
	}
	if err = p.CheckSize(sig); err != nil {
		return nil, err
	}
	logger.KV(xlog.DEBUG, "id", keyID, "alg", spec, "size", len(sig))
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

// ListKeys returns IDs of the signing keys, excluding keys pending deletion
func (s *Store) ListKeys(ctx context.Context) ([]string, error) {
	started := time.Now()
	defer metricskey.PerfCryptoOperation.MeasureSince(started, ProviderName, "listkeys")

	var ids []string
	input := &kms.ListKeysInput{}
	for {
		resp, err := s.client.ListKeys(ctx, input)
		if err != nil {
			return nil, errors.Mark(errors.WithMessage(err, "unable to list keys"), xkmf.ErrBadParameter)
		}
		for _, k := range resp.Keys {
			ki, err := s.client.DescribeKey(ctx, &kms.DescribeKeyInput{KeyId: k.KeyId})
			if err != nil {
				return nil, errors.Mark(errors.WithMessagef(err, "failed to describe key, id=%s", aws.ToString(k.KeyId)), xkmf.ErrBadParameter)
			}
			if ki.KeyMetadata.KeyState == types.KeyStatePendingDeletion ||
				ki.KeyMetadata.KeyUsage != types.KeyUsageTypeSignVerify {
				continue
			}
			ids = append(ids, aws.ToString(k.KeyId))
		}
		if !resp.Truncated || resp.NextMarker == nil {
			break
		}
		input.Marker = resp.NextMarker
	}
	return ids, nil
}

func (s *Store) publicKey(ctx context.Context, keyID string) (crypto.PublicKey, error) {
	s.lock.RLock()
	pub, ok := s.pubs[keyID]
	s.lock.RUnlock()
	if ok {
		return pub, nil
	}

	started := time.Now()
	resp, err := s.client.GetPublicKey(ctx, &kms.GetPublicKeyInput{KeyId: aws.String(keyID)})
	metricskey.PerfCryptoOperation.MeasureSince(started, ProviderName, "getkey")
	if err != nil {
		var nf *types.NotFoundException
		if errors.As(err, &nf) {
			return nil, errors.WithMessagef(xkmf.ErrKeyNotFound, "awskms keystore: %s", keyID)
		}
		return nil, errors.Mark(errors.WithMessagef(err, "failed to get public key, id=%s", keyID), xkmf.ErrBadParameter)
	}
	if pub, err = swcrypto.ParsePublicKey(resp.PublicKey); err != nil {
		return nil, err
	}

	s.lock.Lock()
	s.pubs[keyID] = pub
	s.lock.Unlock()
	return pub, nil
}

// keyID returns the key ID, ARN, or the alias of the key label
func keyID(kh *plugin.KeyHandle) (string, error) {
	switch {
	case kh == nil:
	case kh.ID != "":
		return kh.ID, nil
	case strings.HasPrefix(kh.Label, "alias/"):
		return kh.Label, nil
	case kh.Label != "":
		return "alias/" + kh.Label, nil
	}
	return "", errors.WithMessage(xkmf.ErrBadParameter, "key id or label is required")
}

func signingAlgorithm(alg oid.AlgorithmIndex) (types.SigningAlgorithmSpec, error) {
	switch alg {
	case oid.SHA256WithRSA:
		return types.SigningAlgorithmSpecRsassaPkcs1V15Sha256, nil
	case oid.SHA384WithRSA:
		return types.SigningAlgorithmSpecRsassaPkcs1V15Sha384, nil
	case oid.SHA512WithRSA:
		return types.SigningAlgorithmSpecRsassaPkcs1V15Sha512, nil
	case oid.SHA256WithECDSA:
		return types.SigningAlgorithmSpecEcdsaSha256, nil
	case oid.SHA384WithECDSA:
		return types.SigningAlgorithmSpecEcdsaSha384, nil
	case oid.SHA512WithECDSA:
		return types.SigningAlgorithmSpecEcdsaSha512, nil
	}
	return "", errors.WithMessagef(xkmf.ErrBadParameter, "unsupported algorithm: %s", alg)
}
