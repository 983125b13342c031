package plugin

import (
	"github.com/cockroachdb/errors"
	"github.com/effective-security/xkmf/attr"
)

// Operation describes the attributes of a backend call
type Operation struct {
	Name     string
	Required []attr.Spec
	Optional []attr.Spec
}

// Validate returns xkmf.ErrBadParameter if the attributes do not match
// the operation
func (o *Operation) Validate(attrs attr.List) error {
	if err := attr.Validate(o.Required, o.Optional, attrs); err != nil {
		return errors.WithMessagef(err, "%s", o.Name)
	}
	return nil
}

// Backend operations
var (
	OpExportPublicKey = Operation{
		Name: "export_public_key",
		Required: []attr.Spec{
			{Kind: attr.KindKeystoreType},
			{Kind: attr.KindKeyHandle},
		},
	}

	OpSignData = Operation{
		Name: "sign_data",
		Required: []attr.Spec{
			{Kind: attr.KindKeystoreType},
			{Kind: attr.KindKeyHandle},
			{Kind: attr.KindAlgorithmOID, MinSize: 1},
			{Kind: attr.KindData, MinSize: 1},
			{Kind: attr.KindSignatureSize},
		},
	}

	OpVerifyData = Operation{
		Name: "verify_data",
		Required: []attr.Spec{
			{Kind: attr.KindKeystoreType},
			{Kind: attr.KindAlgorithmOID, MinSize: 1},
			{Kind: attr.KindSPKI, MinSize: 1},
			{Kind: attr.KindData, MinSize: 1},
			{Kind: attr.KindSignature, MinSize: 1},
		},
		Optional: []attr.Spec{
			{Kind: attr.KindKeyHandle},
		},
	}

	OpImportCRL = Operation{
		Name: "import_crl",
		Required: []attr.Spec{
			{Kind: attr.KindKeystoreType},
			{Kind: attr.KindCRLFilename, MinSize: 1},
		},
		Optional: []attr.Spec{
			{Kind: attr.KindDirectory},
			{Kind: attr.KindCRLOutFilename, MinSize: 1},
			{Kind: attr.KindCertFilename, MinSize: 1},
			{Kind: attr.KindCRLCheck},
			{Kind: attr.KindEncodeFormat},
		},
	}

	OpDeleteCRL = Operation{
		Name: "delete_crl",
		Required: []attr.Spec{
			{Kind: attr.KindKeystoreType},
		},
		Optional: []attr.Spec{
			{Kind: attr.KindDirectory},
			{Kind: attr.KindCRLFilename, MinSize: 1},
			{Kind: attr.KindCRLName, MinSize: 1},
		},
	}

	OpListCRL = Operation{
		Name: "list_crl",
		Required: []attr.Spec{
			{Kind: attr.KindKeystoreType},
		},
		Optional: []attr.Spec{
			{Kind: attr.KindDirectory},
			{Kind: attr.KindCRLFilename, MinSize: 1},
			{Kind: attr.KindCRLName, MinSize: 1},
		},
	}

	OpFindCRL = Operation{
		Name: "find_crl",
		Required: []attr.Spec{
			{Kind: attr.KindKeystoreType},
		},
		Optional: []attr.Spec{
			{Kind: attr.KindCRLIssuer, MinSize: 1},
			{Kind: attr.KindCRLSubject, MinSize: 1},
		},
	}

	OpFindCertInCRL = Operation{
		Name: "find_cert_in_crl",
		Required: []attr.Spec{
			{Kind: attr.KindKeystoreType},
		},
		Optional: []attr.Spec{
			{Kind: attr.KindDirectory},
			{Kind: attr.KindCRLFilename, MinSize: 1},
			{Kind: attr.KindCRLName, MinSize: 1},
			{Kind: attr.KindCertFilename, MinSize: 1},
			{Kind: attr.KindCertData, MinSize: 1},
		},
	}
)

// KeystoreTypeOf returns the keystore type of the attributes
func KeystoreTypeOf(attrs attr.List) (KeystoreType, error) {
	return attr.Get[KeystoreType](attrs, attr.KindKeystoreType)
}
