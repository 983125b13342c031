package csr

import (
	"os"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xkmf"
	"github.com/effective-security/xkmf/der"
	"github.com/effective-security/xlog"
)

// WriteFile writes DER encoded signed request to the file in the format.
// The file is created or truncated, with 0600 permissions.
func WriteFile(raw []byte, format der.Format, path string) error {
	if len(raw) == 0 {
		return errors.WithMessage(xkmf.ErrBadParameter, "empty request")
	}
	if path == "" {
		return errors.WithMessage(xkmf.ErrBadParameter, "output file not specified")
	}

	var out []byte
	switch format {
	case der.FormatASN1:
		out = raw
	case der.FormatPEM:
		out = der.ToPEM(der.LabelCSR, raw)
	default:
		return errors.WithMessagef(xkmf.ErrBadParameter, "unsupported format: %s", format)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return errors.Mark(errors.WithMessagef(err, "unable to open: %s", path), xkmf.ErrOpenFile)
	}

	n, err := f.Write(out)
	if err == nil && n != len(out) {
		err = errors.Errorf("short write: %d of %d", n, len(out))
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return errors.Mark(errors.WithMessagef(err, "unable to write: %s", path), xkmf.ErrWriteFile)
	}

	logger.KV(xlog.DEBUG, "file", path, "format", format, "size", len(out))
	return nil
}
