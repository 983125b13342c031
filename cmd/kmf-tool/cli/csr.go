package cli

import (
	"crypto"
	"encoding/base64"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xkmf"
	"github.com/effective-security/xkmf/backend/swcrypto"
	"github.com/effective-security/xkmf/csr"
	"github.com/effective-security/xkmf/der"
	"github.com/effective-security/xkmf/oid"
	"github.com/effective-security/xkmf/plugin"
	"github.com/go-jose/go-jose/v3"
)

// CsrCmd is the parent for CSR command
type CsrCmd struct {
	Create CsrCreateCmd `cmd:"" help:"create and sign certificate request"`
	Verify CsrVerifyCmd `cmd:"" help:"verify signature of certificate request"`
	Info   CsrInfoCmd   `cmd:"" help:"print certificate request info"`
}

// CsrCreateCmd specifies flags for Create command
type CsrCreateCmd struct {
	Keystore string   `required:"" help:"keystore of the key: file|db|pkcs11|awskms|gcpkms"`
	Key      string   `help:"key ID"`
	Label    string   `help:"key label"`
	Alg      string   `help:"signature algorithm, e.g. SHA256-ECDSA; derived from the key if not set"`
	Profile  string   `help:"YAML or JSON file with the request profile" type:"existingfile"`
	Subject  string   `help:"subject common name"`
	San      []string `help:"subject alt names"`
	Ku       []string `help:"key usage, e.g. signing,cert sign"`
	Eku      []string `help:"extended key usage names or OIDs"`
	Format   string   `help:"output format: pem|der" default:"pem"`
	Out      string   `help:"output file; if not set, PEM is printed to STDOUT"`
}

// Run the command
func (a *CsrCreateCmd) Run(ctx *Cli) error {
	kt, err := plugin.ParseKeystoreType(a.Keystore)
	if err != nil {
		return err
	}
	if a.Key == "" && a.Label == "" {
		return errors.WithMessage(xkmf.ErrBadParameter, "--key or --label is required")
	}
	format, err := der.ParseFormat(a.Format)
	if err != nil {
		return err
	}

	req := new(csr.CertificateRequest)
	if a.Profile != "" {
		if req, err = csr.LoadRequest(a.Profile); err != nil {
			return err
		}
	}
	if a.Subject != "" {
		req.CommonName = a.Subject
	}
	for _, san := range a.San {
		req.AddSAN(san)
	}
	req.KeyUsage = append(req.KeyUsage, a.Ku...)
	req.ExtKeyUsage = append(req.ExtKeyUsage, a.Eku...)

	h, err := ctx.Handle()
	if err != nil {
		return err
	}

	kh := &plugin.KeyHandle{
		Keystore: kt,
		Class:    plugin.KeyClassPrivate,
		ID:       a.Key,
		Label:    a.Label,
	}
	data := new(csr.Data)
	if err = data.SetPublicKey(ctx.Context(), h, kh); err != nil {
		return err
	}
	alg, err := signatureAlgorithm(a.Alg, &data.TBS.SubjectPublicKeyInfo)
	if err != nil {
		return err
	}
	if err = data.SetSignatureAlgorithm(alg); err != nil {
		return err
	}
	if err = req.Apply(data); err != nil {
		return err
	}

	signed, err := csr.Sign(ctx.Context(), h, data, kh)
	if err != nil {
		return err
	}

	if a.Out == "" {
		_, err = ctx.Writer().Write(der.ToPEM(der.LabelCSR, signed))
		return errors.WithStack(err)
	}
	return csr.WriteFile(signed, format, a.Out)
}

// CsrVerifyCmd specifies flags for Verify command
type CsrVerifyCmd struct {
	Keystore string `help:"keystore to verify with" default:"file"`
	Csr      string `kong:"arg" required:"" help:"CSR file name, or - for STDIN"`
}

// Run the command
func (a *CsrVerifyCmd) Run(ctx *Cli) error {
	kt, err := plugin.ParseKeystoreType(a.Keystore)
	if err != nil {
		return err
	}
	raw, err := ctx.ReadFile(a.Csr)
	if err != nil {
		return err
	}
	data, err := csr.Decode(raw)
	if err != nil {
		return err
	}
	h, err := ctx.Handle()
	if err != nil {
		return err
	}
	if err = csr.Verify(ctx.Context(), h, kt, data); err != nil {
		return err
	}
	ctx.Printf("verified: %s\n", data.TBS.Subject.String())
	return nil
}

// CsrInfoCmd specifies flags for Info command
type CsrInfoCmd struct {
	Csr string `kong:"arg" required:"" help:"CSR file name, or - for STDIN"`
}

// Run the command
func (a *CsrInfoCmd) Run(ctx *Cli) error {
	raw, err := ctx.ReadFile(a.Csr)
	if err != nil {
		return err
	}
	data, err := csr.Decode(raw)
	if err != nil {
		return err
	}

	spki := &data.TBS.SubjectPublicKeyInfo
	ctx.Printf("Version: %d\n", data.Version())
	ctx.Printf("Subject: %s\n", data.TBS.Subject.String())
	ctx.Printf("Key: %s\n", oid.KeyFamily(spki.Algorithm.Algorithm))
	if tp := thumbprint(spki); tp != "" {
		ctx.Printf("Key thumbprint: %s\n", tp)
	}
	ctx.Printf("Signature algorithm: %s\n", data.SignatureAlgorithmIndex())
	for _, ext := range data.TBS.Extensions {
		ctx.Printf("Extension: %s critical=%t\n", oid.Name(ext.ID), ext.Critical)
	}
	return nil
}

// signatureAlgorithm returns the algorithm by name,
// or SHA256 with the family of the key
func signatureAlgorithm(name string, spki *der.SPKI) (oid.AlgorithmIndex, error) {
	if name != "" {
		alg := oid.ParseAlgorithm(name)
		if alg == oid.AlgUnknown {
			return alg, errors.WithMessagef(xkmf.ErrBadParameter, "unsupported algorithm: %q", name)
		}
		return alg, nil
	}
	switch oid.KeyFamily(spki.Algorithm.Algorithm) {
	case oid.FamilyRSA:
		return oid.SHA256WithRSA, nil
	case oid.FamilyECDSA:
		return oid.SHA256WithECDSA, nil
	case oid.FamilyDSA:
		return oid.SHA256WithDSA, nil
	}
	return oid.AlgUnknown, errors.WithMessagef(xkmf.ErrBadParameter, "unsupported key: %s", spki.Algorithm.Algorithm)
}

// thumbprint returns RFC 7638 thumbprint of the key,
// or empty string for keys without JWK representation
func thumbprint(spki *der.SPKI) string {
	b, err := der.EncodeSPKI(spki)
	if err != nil {
		return ""
	}
	pub, err := swcrypto.ParsePublicKey(b)
	if err != nil {
		return ""
	}
	jwk := jose.JSONWebKey{Key: pub}
	tp, err := jwk.Thumbprint(crypto.SHA256)
	if err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(tp)
}
