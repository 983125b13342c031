package der

import (
	"math/big"

	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"
)

// EncodeDSASignature converts the raw r||s signature produced by a keystore
// into SEQUENCE { INTEGER r, INTEGER s }.
// The raw signature has r and s of equal, fixed length.
func EncodeDSASignature(raw []byte) ([]byte, error) {
	if len(raw) == 0 || len(raw)%2 != 0 {
		return nil, encodingError(nil, "invalid raw signature size %d", len(raw))
	}
	half := len(raw) / 2
	r := new(big.Int).SetBytes(raw[:half])
	s := new(big.Int).SetBytes(raw[half:])
	if r.Sign() == 0 || s.Sign() == 0 {
		return nil, encodingError(nil, "invalid signature value")
	}

	b := cryptobyte.NewBuilder(nil)
	b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1BigInt(r)
		b.AddASN1BigInt(s)
	})
	return build(b, "signature")
}

// DecodeDSASignature converts SEQUENCE { INTEGER r, INTEGER s } to the raw
// r||s form of size bytes. When size is 0, r and s are padded to the
// length of the larger of the two.
func DecodeDSASignature(data []byte, size int) ([]byte, error) {
	if size < 0 || size%2 != 0 {
		return nil, encodingError(nil, "invalid raw signature size %d", size)
	}
	in := cryptobyte.String(data)
	var seq cryptobyte.String
	r := new(big.Int)
	s := new(big.Int)
	if !in.ReadASN1(&seq, cbasn1.SEQUENCE) || !in.Empty() ||
		!seq.ReadASN1Integer(r) ||
		!seq.ReadASN1Integer(s) ||
		!seq.Empty() {
		return nil, encodingError(nil, "invalid DSA signature")
	}
	if r.Sign() <= 0 || s.Sign() <= 0 {
		return nil, encodingError(nil, "invalid signature value")
	}

	half := size / 2
	if half == 0 {
		half = max((r.BitLen()+7)/8, (s.BitLen()+7)/8)
	}
	if (r.BitLen()+7)/8 > half || (s.BitLen()+7)/8 > half {
		return nil, encodingError(nil, "signature value exceeds %d bytes", half)
	}

	raw := make([]byte, 2*half)
	r.FillBytes(raw[:half])
	s.FillBytes(raw[half:])
	return raw, nil
}
