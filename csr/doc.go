// Package csr builds, signs and verifies PKCS#10 certificate requests
// with keys held by keystore backends.
//
// A request is built on Data with the setters, from a CertificateRequest
// profile with Apply, or decoded from PEM or DER with Decode.
// Sign delegates the signature to the backend of the key's keystore,
// and Verify delegates the verification to the backend of the given keystore.
package csr
