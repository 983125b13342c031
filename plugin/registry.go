package plugin

import (
	"io"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xkmf"
	"github.com/effective-security/xlog"
)

// Registry maps keystore types to plugins.
// It is safe for concurrent use.
type Registry struct {
	lock    sync.RWMutex
	plugins map[KeystoreType]*Plugin
}

// NewRegistry returns an empty registry
func NewRegistry() *Registry {
	return &Registry{
		plugins: make(map[KeystoreType]*Plugin),
	}
}

// Register adds the backend
func (r *Registry) Register(b Backend) (*Plugin, error) {
	if b == nil {
		return nil, errors.WithMessage(xkmf.ErrBadParameter, "backend is nil")
	}
	t := b.Type()
	if t == KeystoreNull {
		return nil, errors.WithMessage(xkmf.ErrBadParameter, "backend type is not specified")
	}

	r.lock.Lock()
	defer r.lock.Unlock()

	if _, ok := r.plugins[t]; ok {
		return nil, errors.WithMessagef(xkmf.ErrBadParameter, "already registered: %s", t)
	}

	p := NewPlugin(b)
	r.plugins[t] = p

	logger.KV(xlog.DEBUG, "status", "registered", "keystore", t, "caps", p.capsNames)
	return p, nil
}

// Unregister removes the plugin of the type.
// The backend is not closed.
func (r *Registry) Unregister(t KeystoreType) *Plugin {
	r.lock.Lock()
	defer r.lock.Unlock()

	p := r.plugins[t]
	delete(r.plugins, t)
	return p
}

// Find returns the plugin of the type, or nil
func (r *Registry) Find(t KeystoreType) *Plugin {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return r.plugins[t]
}

// Get returns the plugin of the type, or xkmf.ErrPluginNotFound
func (r *Registry) Get(t KeystoreType) (*Plugin, error) {
	p := r.Find(t)
	if p == nil {
		return nil, errors.WithMessagef(xkmf.ErrPluginNotFound, "keystore: %s", t)
	}
	return p, nil
}

// Types returns the registered keystore types, sorted
func (r *Registry) Types() []KeystoreType {
	r.lock.RLock()
	defer r.lock.RUnlock()

	list := make([]KeystoreType, 0, len(r.plugins))
	for t := range r.plugins {
		list = append(list, t)
	}
	sort.Slice(list, func(i, j int) bool { return list[i] < list[j] })
	return list
}

// Close closes the backends and removes all plugins
func (r *Registry) Close() error {
	r.lock.Lock()
	defer r.lock.Unlock()

	var errs error
	for t, p := range r.plugins {
		if c, ok := p.backend.(io.Closer); ok {
			if err := c.Close(); err != nil {
				logger.KV(xlog.ERROR, "keystore", t, "err", err.Error())
				errs = errors.CombineErrors(errs, err)
			}
		}
		delete(r.plugins, t)
	}
	return errs
}
