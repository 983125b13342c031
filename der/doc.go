// Package der provides the DER/ASN.1 codec of certificate signing requests.
//
// The codec encodes and decodes:
//   - the to-be-signed CertificationRequestInfo (RFC 2986)
//   - the signed CertificationRequest
//   - X.509 names, SubjectPublicKeyInfo and extensions
//   - DSA and ECDSA signatures, converting between the raw (r,s) pair
//     produced by keystore backends and SEQUENCE { INTEGER r, INTEGER s }
//   - SEQUENCE OF OBJECT IDENTIFIER, as used by Extended Key Usage
//
// Decoding a well-formed DER request and encoding it again produces the
// identical bytes. Every structural or content error is reported as
// xkmf.ErrEncoding, and no partial output is returned.
package der
