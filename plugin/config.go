package plugin

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xkmf"
	"github.com/effective-security/xlog"
	"gopkg.in/yaml.v3"
)

// Config is the list of keystores
type Config struct {
	Keystores []KeystoreConfig `json:"keystores" yaml:"keystores"`
}

// KeystoreConfig holds the configuration of a keystore backend.
//
// A token may be identified either by serial number or label.
type KeystoreConfig struct {
	// Type of the keystore: file, db, pkcs11, awskms, gcpkms
	Type string `json:"type" yaml:"type"`
	// Path is the directory, the database file or the PKCS#11 library
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
	// TokenSerial is the serial number of the token
	TokenSerial string `json:"token_serial,omitempty" yaml:"token_serial,omitempty"`
	// TokenLabel is the label of the token
	TokenLabel string `json:"token_label,omitempty" yaml:"token_label,omitempty"`
	// Pin is a secret to access the token.
	// If it's prefixed with `file:`, then it will be loaded from the file.
	Pin string `json:"pin,omitempty" yaml:"pin,omitempty"`
	// Attributes is comma separated key=value pairs, e.g. "Region=x,Endpoint=y"
	Attributes string `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

// KeystoreType returns the parsed type
func (c *KeystoreConfig) KeystoreType() (KeystoreType, error) {
	return ParseKeystoreType(c.Type)
}

// ParseAttributes returns Attributes as a map
func (c *KeystoreConfig) ParseAttributes() map[string]string {
	res := make(map[string]string)
	for _, v := range strings.Split(c.Attributes, ",") {
		kv := strings.SplitN(v, "=", 2)
		k := strings.TrimSpace(kv[0])
		if k == "" {
			continue
		}
		if len(kv) == 2 {
			res[k] = strings.TrimSpace(kv[1])
		} else {
			res[k] = ""
		}
	}
	return res
}

// LoadConfig loads the keystore configuration from YAML or JSON file.
// PIN values prefixed with `file:` are resolved against the current
// directory and the directory of the config file.
func LoadConfig(filename string) (*Config, error) {
	cfr, err := os.Open(filename)
	if err != nil {
		return nil, errors.Mark(errors.WithMessagef(err, "unable to open config"), xkmf.ErrOpenFile)
	}
	defer cfr.Close()

	cfg := new(Config)
	if strings.HasSuffix(filename, ".json") {
		err = json.NewDecoder(cfr).Decode(cfg)
	} else {
		err = yaml.NewDecoder(cfr).Decode(cfg)
	}
	if err != nil {
		return nil, errors.Mark(errors.WithMessagef(err, "failed to decode file: %s", filename), xkmf.ErrBadParameter)
	}

	for i := range cfg.Keystores {
		ks := &cfg.Keystores[i]
		if strings.HasPrefix(ks.Pin, "file:") {
			pin, err := loadPin(ks.Pin[5:], filename)
			if err != nil {
				return nil, err
			}
			ks.Pin = pin
		}
	}

	return cfg, nil
}

func loadPin(pinfile, configFile string) (string, error) {
	cwd, _ := os.Getwd()
	folders := []string{
		"",
		cwd,
		filepath.Dir(configFile),
	}

	for _, folder := range folders {
		if resolved, err := resolve(pinfile, folder); err == nil {
			pinfile = resolved
			break
		}
		logger.KV(xlog.DEBUG, "reason", "resolve", "pinfile", pinfile, "basedir", folder)
	}

	pb, err := os.ReadFile(pinfile)
	if err != nil {
		return "", errors.Mark(errors.WithMessagef(err, "unable to load PIN for configuration: %s", configFile), xkmf.ErrOpenFile)
	}
	return strings.TrimSpace(string(pb)), nil
}

// resolve returns absolute file name relative to baseDir
func resolve(file string, baseDir string) (resolved string, err error) {
	if file == "" {
		return file, nil
	}
	if filepath.IsAbs(file) {
		resolved = file
	} else if baseDir != "" {
		resolved = filepath.Join(baseDir, file)
	} else {
		resolved = file
	}
	if _, err := os.Stat(resolved); os.IsNotExist(err) {
		return resolved, errors.WithMessagef(err, "not found: %v", resolved)
	}
	return resolved, nil
}
