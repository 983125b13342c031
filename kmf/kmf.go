// Package kmf provides the Handle, the explicit context of CSR and CRL
// operations.
package kmf

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xkmf"
	"github.com/effective-security/xkmf/plugin"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/xkmf", "kmf")

// Option configures the Handle
type Option interface {
	apply(*options)
}

type options struct {
	fileOps plugin.CRLFileOps
}

type optionFunc func(*options)

func (f optionFunc) apply(o *options) {
	f(o)
}

// WithCRLFileOps sets the provider of the file level CRL operations,
// instead of the file keystore
func WithCRLFileOps(ops plugin.CRLFileOps) Option {
	return optionFunc(func(o *options) {
		o.fileOps = ops
	})
}

// Handle is the context of CSR and CRL operations.
// A Handle may be used concurrently, the CSR data passed to it is not
// shared between calls.
type Handle struct {
	lock     sync.RWMutex
	registry *plugin.Registry
	fileOps  plugin.CRLFileOps
	closed   bool
}

// New returns Handle over the registry
func New(reg *plugin.Registry, opts ...Option) (*Handle, error) {
	if reg == nil {
		return nil, errors.WithMessage(xkmf.ErrBadParameter, "registry is nil")
	}
	var o options
	for _, opt := range opts {
		opt.apply(&o)
	}

	return &Handle{
		registry: reg,
		fileOps:  o.fileOps,
	}, nil
}

// Registry returns the plugin registry
func (h *Handle) Registry() *plugin.Registry {
	return h.registry
}

// FindPlugin returns the plugin of the keystore type, or nil
func (h *Handle) FindPlugin(t plugin.KeystoreType) *plugin.Plugin {
	h.lock.RLock()
	defer h.lock.RUnlock()
	if h.closed {
		return nil
	}
	return h.registry.Find(t)
}

// Plugin returns the plugin of the keystore type.
// xkmf.ErrPluginNotFound is returned if the keystore is not registered.
func (h *Handle) Plugin(t plugin.KeystoreType) (*plugin.Plugin, error) {
	if err := h.check(); err != nil {
		return nil, err
	}
	return h.registry.Get(t)
}

// CRLFileOps returns the file level CRL interface.
// Unless provided with WithCRLFileOps, it is served by the file keystore.
func (h *Handle) CRLFileOps() (plugin.CRLFileOps, error) {
	if err := h.check(); err != nil {
		return nil, err
	}
	if h.fileOps != nil {
		return h.fileOps, nil
	}
	p, err := h.registry.Get(plugin.KeystoreFile)
	if err != nil {
		return nil, err
	}
	return p.CRLFileOps()
}

// Close releases the backends of the registry.
// The Handle can not be used after Close.
func (h *Handle) Close() error {
	h.lock.Lock()
	defer h.lock.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	err := h.registry.Close()
	if err != nil {
		logger.KV(xlog.ERROR, "reason", "close", "err", err.Error())
	}
	return err
}

func (h *Handle) check() error {
	if h == nil {
		return errors.WithMessage(xkmf.ErrBadParameter, "handle is nil")
	}
	h.lock.RLock()
	defer h.lock.RUnlock()
	if h.closed {
		return errors.WithMessage(xkmf.ErrBadParameter, "handle is closed")
	}
	return nil
}
