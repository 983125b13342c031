package plugin

import (
	"io"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xkmf"
	"github.com/effective-security/xlog"
)

// Loader creates a backend from its configuration
type Loader func(cfg *KeystoreConfig) (Backend, error)

var (
	lockLoaders sync.RWMutex
	loaders     = make(map[KeystoreType]Loader)
)

// RegisterLoader registers the loader of the keystore type
func RegisterLoader(t KeystoreType, loader Loader) error {
	lockLoaders.Lock()
	defer lockLoaders.Unlock()

	if _, ok := loaders[t]; ok {
		return errors.Errorf("already registered: %s", t)
	}

	loaders[t] = loader
	return nil
}

// UnregisterLoader removes the loader of the keystore type
func UnregisterLoader(t KeystoreType) (Loader, error) {
	lockLoaders.Lock()
	defer lockLoaders.Unlock()

	if loader, ok := loaders[t]; ok {
		delete(loaders, t)
		return loader, nil
	}

	return nil, errors.Errorf("not registered: %s", t)
}

// RegisteredLoaders returns keystore types with registered loaders
func RegisteredLoaders() []KeystoreType {
	lockLoaders.RLock()
	defer lockLoaders.RUnlock()

	list := []KeystoreType{}
	for t := range loaders {
		list = append(list, t)
	}
	sort.Slice(list, func(i, j int) bool { return list[i] < list[j] })
	return list
}

// LoadBackend creates a single backend
func LoadBackend(cfg *KeystoreConfig) (Backend, error) {
	t, err := cfg.KeystoreType()
	if err != nil {
		return nil, err
	}

	lockLoaders.RLock()
	loader, ok := loaders[t]
	lockLoaders.RUnlock()
	if !ok {
		return nil, errors.WithMessagef(xkmf.ErrPluginNotFound, "loader not registered: %s", t)
	}

	b, err := loader(cfg)
	if err != nil {
		return nil, errors.WithMessagef(err, "unable to load %s keystore", t)
	}
	return b, nil
}

// NewRegistryFromConfig returns registry with loaded backends
func NewRegistryFromConfig(cfg *Config) (*Registry, error) {
	r := NewRegistry()
	for i := range cfg.Keystores {
		b, err := LoadBackend(&cfg.Keystores[i])
		if err != nil {
			_ = r.Close()
			return nil, err
		}
		if _, err = r.Register(b); err != nil {
			if c, ok := b.(io.Closer); ok {
				_ = c.Close()
			}
			_ = r.Close()
			return nil, err
		}
	}
	logger.KV(xlog.INFO, "status", "loaded", "keystores", r.Types())
	return r, nil
}

// Load returns registry with backends loaded from the config file
func Load(configLocation string) (*Registry, error) {
	cfg, err := LoadConfig(configLocation)
	if err != nil {
		return nil, err
	}
	return NewRegistryFromConfig(cfg)
}
