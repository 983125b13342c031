package kmf_test

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xkmf"
	"github.com/effective-security/xkmf/der"
	"github.com/effective-security/xkmf/kmf"
	"github.com/effective-security/xkmf/plugin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type backend struct {
	typ plugin.KeystoreType
}

func (b *backend) Type() plugin.KeystoreType { return b.typ }

type fileBackend struct {
	backend
}

func (b *fileBackend) VerifyCRLFile(context.Context, string, []byte) error { return nil }
func (b *fileBackend) CheckCRLDate(context.Context, string) error          { return nil }
func (b *fileBackend) IsCRLFile(context.Context, string) (der.Format, error) {
	return der.FormatASN1, nil
}

func Test_New(t *testing.T) {
	_, err := kmf.New(nil)
	assert.True(t, errors.Is(err, xkmf.ErrBadParameter))

	reg := plugin.NewRegistry()
	h, err := kmf.New(reg)
	require.NoError(t, err)
	assert.Same(t, reg, h.Registry())

	_, err = h.Plugin(plugin.KeystoreDB)
	assert.True(t, errors.Is(err, xkmf.ErrPluginNotFound))
	assert.Nil(t, h.FindPlugin(plugin.KeystoreDB))

	// no file keystore
	_, err = h.CRLFileOps()
	assert.True(t, errors.Is(err, xkmf.ErrPluginNotFound))

	// file keystore without the file ops
	_, err = reg.Register(&backend{typ: plugin.KeystoreFile})
	require.NoError(t, err)
	_, err = h.CRLFileOps()
	assert.True(t, errors.Is(err, xkmf.ErrFunctionNotFound))
	assert.True(t, xkmf.IsNotSupported(err))

	require.NoError(t, h.Close())
	require.NoError(t, h.Close())
	_, err = h.Plugin(plugin.KeystoreFile)
	assert.True(t, errors.Is(err, xkmf.ErrBadParameter))
	_, err = h.CRLFileOps()
	assert.True(t, errors.Is(err, xkmf.ErrBadParameter))
	assert.Nil(t, h.FindPlugin(plugin.KeystoreFile))
}

func Test_CRLFileOps(t *testing.T) {
	reg := plugin.NewRegistry()
	fb := &fileBackend{backend{typ: plugin.KeystoreFile}}
	_, err := reg.Register(fb)
	require.NoError(t, err)

	h, err := kmf.New(reg)
	require.NoError(t, err)
	defer h.Close()

	ops, err := h.CRLFileOps()
	require.NoError(t, err)
	assert.Same(t, fb, ops)

	p, err := h.Plugin(plugin.KeystoreFile)
	require.NoError(t, err)
	assert.Equal(t, plugin.KeystoreFile, p.Type())

	injected := &fileBackend{}
	h2, err := kmf.New(plugin.NewRegistry(), kmf.WithCRLFileOps(injected))
	require.NoError(t, err)
	ops, err = h2.CRLFileOps()
	require.NoError(t, err)
	assert.Same(t, injected, ops)
}
