// Package xkmf is the CSR and CRL lifecycle engine of a multi-backend key
// management framework.
//
// The engine builds and signs certificate requests, verifies them, and routes
// CRL operations to pluggable keystore backends. The backends perform the
// actual key operations; this module only orchestrates them.
package xkmf

import (
	"github.com/cockroachdb/errors"
)

// Error kinds. Use errors.Is to test the kind of a returned error.
var (
	// ErrBadParameter is returned for malformed or missing input
	ErrBadParameter = errors.New("bad parameter")
	// ErrPluginNotFound is returned when no backend serves the keystore type
	ErrPluginNotFound = errors.New("plugin not found")
	// ErrFunctionNotFound is returned when the backend lacks the capability
	ErrFunctionNotFound = errors.New("function not found")
	// ErrMemory is returned when a buffer could not be sized or allocated
	ErrMemory = errors.New("memory")
	// ErrEncoding is returned for any DER/ASN.1 structural or content error
	ErrEncoding = errors.New("encoding")
	// ErrOpenFile is returned when an output or input file can not be opened
	ErrOpenFile = errors.New("open file")
	// ErrWriteFile is returned when a file write is short or fails
	ErrWriteFile = errors.New("write file")
	// ErrVerification is returned when a signature does not verify
	ErrVerification = errors.New("verification failed")
	// ErrNotRevoked is returned by find-cert-in-crl when the certificate is not listed
	ErrNotRevoked = errors.New("certificate not revoked")
	// ErrCRLExpired is returned when the CRL next update is in the past
	ErrCRLExpired = errors.New("CRL expired")
	// ErrCRLNotYetValid is returned when the CRL this update is in the future
	ErrCRLNotYetValid = errors.New("CRL not yet valid")
	// ErrBadCRLFile is returned when a file does not contain a CRL
	ErrBadCRLFile = errors.New("not a CRL file")
	// ErrKeyNotFound is returned when the key handle does not resolve in the keystore
	ErrKeyNotFound = errors.New("key not found")
)

// IsNotSupported returns true if the error reports that the keystore
// does not support the requested operation, either because no plugin
// serves the keystore type or because the plugin lacks the capability.
func IsNotSupported(err error) bool {
	return errors.Is(err, ErrPluginNotFound) || errors.Is(err, ErrFunctionNotFound)
}

// Kind returns the first known error kind of err, or nil
func Kind(err error) error {
	if err == nil {
		return nil
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

var kinds = []error{
	ErrBadParameter,
	ErrPluginNotFound,
	ErrFunctionNotFound,
	ErrMemory,
	ErrEncoding,
	ErrOpenFile,
	ErrWriteFile,
	ErrVerification,
	ErrNotRevoked,
	ErrCRLExpired,
	ErrCRLNotYetValid,
	ErrBadCRLFile,
	ErrKeyNotFound,
}
