package cli

import (
	"github.com/effective-security/xkmf/attr"
	"github.com/effective-security/xkmf/crl"
	"github.com/effective-security/xkmf/der"
	"github.com/effective-security/xkmf/plugin"
)

// CRLCmd provides commands for CRL
type CRLCmd struct {
	Import    CRLImportCmd    `cmd:"" help:"import CRL into keystore"`
	Delete    CRLDeleteCmd    `cmd:"" help:"delete CRL from keystore"`
	List      CRLListCmd      `cmd:"" help:"list CRLs, or revoked certificates of the CRL"`
	Find      CRLFindCmd      `cmd:"" help:"find CRLs by issuer or subject"`
	CheckCert CRLCheckCertCmd `cmd:"" help:"check if certificate is revoked"`
	Verify    CRLVerifyCmd    `cmd:"" help:"verify CRL file signature"`
	CheckDate CRLCheckDateCmd `cmd:"" help:"check CRL file validity period"`
	IsCrl     CRLIsCRLCmd     `cmd:"" name:"is-crl" help:"check if the file is CRL, and print its encoding"`
}

// KeystoreFlags are the common flags of the CRL keystore commands
type KeystoreFlags struct {
	Keystore string `help:"keystore: file|db|pkcs11|awskms|gcpkms" default:"file"`
	Dir      string `help:"CRL directory of the file keystore" type:"path"`
}

func (f *KeystoreFlags) attrs() (attr.List, error) {
	kt, err := plugin.ParseKeystoreType(f.Keystore)
	if err != nil {
		return nil, err
	}
	attrs := attr.New(6).Set(attr.KindKeystoreType, kt)
	if f.Dir != "" {
		attrs = attrs.Set(attr.KindDirectory, f.Dir)
	}
	return attrs, nil
}

// CRLImportCmd imports CRL
type CRLImportCmd struct {
	KeystoreFlags `embed:""`

	CRL    string `kong:"arg" required:"" help:"CRL file name" type:"existingfile"`
	Cert   string `help:"issuer certificate to verify the CRL with" type:"existingfile"`
	Out    string `help:"name of the imported CRL"`
	Format string `help:"encoding of the imported CRL file: pem|der" default:"der"`
	Check  bool   `help:"check validity period of the CRL"`
}

// Run the command
func (a *CRLImportCmd) Run(ctx *Cli) error {
	attrs, err := a.attrs()
	if err != nil {
		return err
	}
	format, err := der.ParseFormat(a.Format)
	if err != nil {
		return err
	}
	attrs = attrs.
		Set(attr.KindCRLFilename, a.CRL).
		Set(attr.KindEncodeFormat, format).
		Set(attr.KindCRLCheck, a.Check)
	if a.Cert != "" {
		attrs = attrs.Set(attr.KindCertFilename, a.Cert)
	}
	if a.Out != "" {
		attrs = attrs.Set(attr.KindCRLOutFilename, a.Out)
	}

	h, err := ctx.Handle()
	if err != nil {
		return err
	}
	if err = crl.Import(ctx.Context(), h, attrs); err != nil {
		return err
	}
	ctx.Printf("imported: %s\n", a.CRL)
	return nil
}

// CRLDeleteCmd deletes CRL
type CRLDeleteCmd struct {
	KeystoreFlags `embed:""`

	Name string `kong:"arg" required:"" help:"name of the CRL"`
}

// Run the command
func (a *CRLDeleteCmd) Run(ctx *Cli) error {
	attrs, err := a.attrs()
	if err != nil {
		return err
	}
	h, err := ctx.Handle()
	if err != nil {
		return err
	}
	if err = crl.Delete(ctx.Context(), h, attrs.Set(attr.KindCRLName, a.Name)); err != nil {
		return err
	}
	ctx.Printf("deleted: %s\n", a.Name)
	return nil
}

// CRLListCmd lists CRLs
type CRLListCmd struct {
	KeystoreFlags `embed:""`

	Name string `kong:"arg" optional:"" help:"name of the CRL to print"`
}

// Run the command
func (a *CRLListCmd) Run(ctx *Cli) error {
	attrs, err := a.attrs()
	if err != nil {
		return err
	}
	if a.Name != "" {
		attrs = attrs.Set(attr.KindCRLName, a.Name)
	}
	h, err := ctx.Handle()
	if err != nil {
		return err
	}
	lines, err := crl.List(ctx.Context(), h, attrs)
	if err != nil {
		return err
	}
	for _, l := range lines {
		ctx.Printf("%s\n", l)
	}
	return nil
}

// CRLFindCmd finds CRLs
type CRLFindCmd struct {
	Keystore string `help:"keystore" default:"db"`
	Issuer   string `help:"issuer name of the CRL"`
	Subject  string `help:"part of the issuer name, case insensitive"`
}

// Run the command
func (a *CRLFindCmd) Run(ctx *Cli) error {
	kt, err := plugin.ParseKeystoreType(a.Keystore)
	if err != nil {
		return err
	}
	attrs := attr.New(3).Set(attr.KindKeystoreType, kt)
	if a.Issuer != "" {
		attrs = attrs.Set(attr.KindCRLIssuer, a.Issuer)
	}
	if a.Subject != "" {
		attrs = attrs.Set(attr.KindCRLSubject, a.Subject)
	}
	h, err := ctx.Handle()
	if err != nil {
		return err
	}
	names, err := crl.Find(ctx.Context(), h, attrs)
	if err != nil {
		return err
	}
	return ctx.WriteJSON(names)
}

// CRLCheckCertCmd checks certificate revocation
type CRLCheckCertCmd struct {
	KeystoreFlags `embed:""`

	Cert string `kong:"arg" required:"" help:"certificate file name" type:"existingfile"`
	Name string `help:"name of the CRL; required for the file keystore"`
}

// Run the command
func (a *CRLCheckCertCmd) Run(ctx *Cli) error {
	attrs, err := a.attrs()
	if err != nil {
		return err
	}
	attrs = attrs.Set(attr.KindCertFilename, a.Cert)
	if a.Name != "" {
		attrs = attrs.Set(attr.KindCRLName, a.Name)
	}
	h, err := ctx.Handle()
	if err != nil {
		return err
	}
	if err = crl.FindCertInCRL(ctx.Context(), h, attrs); err != nil {
		return err
	}
	ctx.Printf("revoked: %s\n", a.Cert)
	return nil
}

// CRLVerifyCmd verifies CRL file
type CRLVerifyCmd struct {
	CRL string `kong:"arg" required:"" help:"CRL file name" type:"existingfile"`
	TA  string `name:"ta" required:"" help:"issuer certificate file" type:"existingfile"`
}

// Run the command
func (a *CRLVerifyCmd) Run(ctx *Cli) error {
	ta, err := ctx.ReadFile(a.TA)
	if err != nil {
		return err
	}
	h, err := ctx.Handle()
	if err != nil {
		return err
	}
	if err = crl.VerifyFile(ctx.Context(), h, a.CRL, ta); err != nil {
		return err
	}
	ctx.Printf("verified: %s\n", a.CRL)
	return nil
}

// CRLCheckDateCmd checks CRL dates
type CRLCheckDateCmd struct {
	CRL string `kong:"arg" required:"" help:"CRL file name" type:"existingfile"`
}

// Run the command
func (a *CRLCheckDateCmd) Run(ctx *Cli) error {
	h, err := ctx.Handle()
	if err != nil {
		return err
	}
	if err = crl.CheckDate(ctx.Context(), h, a.CRL); err != nil {
		return err
	}
	ctx.Printf("valid: %s\n", a.CRL)
	return nil
}

// CRLIsCRLCmd detects CRL file
type CRLIsCRLCmd struct {
	File string `kong:"arg" required:"" help:"file name" type:"existingfile"`
}

// Run the command
func (a *CRLIsCRLCmd) Run(ctx *Cli) error {
	h, err := ctx.Handle()
	if err != nil {
		return err
	}
	f, err := crl.IsCRLFile(ctx.Context(), h, a.File)
	if err != nil {
		return err
	}
	ctx.Printf("%s\n", f)
	return nil
}
