// Package pkcs11store implements the pkcs11 keystore on a hardware token.
//
// The private keys never leave the token. Signatures are produced by the
// token with CKM_RSA_PKCS, CKM_ECDSA or CKM_DSA over the digest computed
// in software, and verified in software.
// CRL operations of the pkcs11 keystore are served by the file keystore.
package pkcs11store

import (
	"strings"
	"sync"

	"github.com/awnumar/memguard"
	"github.com/cockroachdb/errors"
	"github.com/effective-security/xkmf"
	"github.com/effective-security/xkmf/plugin"
	"github.com/effective-security/xlog"
	"github.com/miekg/pkcs11"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/xkmf", "pkcs11store")

func init() {
	_ = plugin.RegisterLoader(plugin.KeystorePKCS11, Load)
}

// Module is the subset of the PKCS#11 API used by the keystore,
// implemented by *pkcs11.Ctx
type Module interface {
	GetSlotList(tokenPresent bool) ([]uint, error)
	GetTokenInfo(slotID uint) (pkcs11.TokenInfo, error)
	OpenSession(slotID uint, flags uint) (pkcs11.SessionHandle, error)
	CloseSession(sh pkcs11.SessionHandle) error
	Login(sh pkcs11.SessionHandle, userType uint, pin string) error
	Logout(sh pkcs11.SessionHandle) error
	FindObjectsInit(sh pkcs11.SessionHandle, temp []*pkcs11.Attribute) error
	FindObjects(sh pkcs11.SessionHandle, max int) ([]pkcs11.ObjectHandle, bool, error)
	FindObjectsFinal(sh pkcs11.SessionHandle) error
	GetAttributeValue(sh pkcs11.SessionHandle, o pkcs11.ObjectHandle, a []*pkcs11.Attribute) ([]*pkcs11.Attribute, error)
	SignInit(sh pkcs11.SessionHandle, m []*pkcs11.Mechanism, o pkcs11.ObjectHandle) error
	Sign(sh pkcs11.SessionHandle, message []byte) ([]byte, error)
}

// Config identifies the token.
// A token may be identified either by serial number or label,
// the first token is used when neither is provided.
type Config struct {
	TokenLabel  string
	TokenSerial string
	Pin         string
}

// Store is the pkcs11 keystore.
// The token session is shared, and the calls are serialized.
type Store struct {
	lock    sync.Mutex
	mod     Module
	ctx     *pkcs11.Ctx
	slot    uint
	session pkcs11.SessionHandle
	pin     *memguard.Enclave
	closed  bool
}

// Load opens the PKCS#11 library of the keystore configuration
func Load(cfg *plugin.KeystoreConfig) (plugin.Backend, error) {
	if cfg.Path == "" {
		return nil, errors.WithMessage(xkmf.ErrBadParameter, "PKCS#11 library path is required")
	}
	ctx := pkcs11.New(cfg.Path)
	if ctx == nil {
		return nil, errors.WithMessagef(xkmf.ErrOpenFile, "unable to load PKCS#11 library: %s", cfg.Path)
	}
	if err := ctx.Initialize(); err != nil && !isCode(err, pkcs11.CKR_CRYPTOKI_ALREADY_INITIALIZED) {
		ctx.Destroy()
		return nil, errors.Mark(errors.WithMessage(err, "C_Initialize"), xkmf.ErrBadParameter)
	}

	s, err := New(ctx, &Config{
		TokenLabel:  cfg.TokenLabel,
		TokenSerial: cfg.TokenSerial,
		Pin:         cfg.Pin,
	})
	if err != nil {
		_ = ctx.Finalize()
		ctx.Destroy()
		return nil, err
	}
	s.ctx = ctx
	return s, nil
}

// New opens a session on the token of the module, and logs in
// when the PIN is provided
func New(mod Module, cfg *Config) (*Store, error) {
	slot, err := findSlot(mod, cfg)
	if err != nil {
		return nil, err
	}
	session, err := mod.OpenSession(slot, pkcs11.CKF_SERIAL_SESSION)
	if err != nil {
		return nil, errors.Mark(errors.WithMessagef(err, "OpenSession on slot %d", slot), xkmf.ErrBadParameter)
	}

	s := &Store{
		mod:     mod,
		slot:    slot,
		session: session,
	}
	if cfg.Pin != "" {
		s.pin = memguard.NewEnclave([]byte(cfg.Pin))
		if err = s.login(); err != nil {
			_ = mod.CloseSession(session)
			return nil, err
		}
	}

	logger.KV(xlog.INFO, "status", "opened", "slot", slot, "label", cfg.TokenLabel, "serial", cfg.TokenSerial)
	return s, nil
}

// Type returns plugin.KeystorePKCS11
func (s *Store) Type() plugin.KeystoreType {
	return plugin.KeystorePKCS11
}

// Slot returns the slot of the token
func (s *Store) Slot() uint {
	return s.slot
}

// Close logs out and closes the session
func (s *Store) Close() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	if s.pin != nil {
		_ = s.mod.Logout(s.session)
	}
	err := s.mod.CloseSession(s.session)
	if s.ctx != nil {
		_ = s.ctx.Finalize()
		s.ctx.Destroy()
	}
	if err != nil {
		return errors.WithMessage(err, "CloseSession")
	}
	return nil
}

func (s *Store) login() error {
	buf, err := s.pin.Open()
	if err != nil {
		return errors.Mark(errors.WithMessage(err, "unable to open PIN"), xkmf.ErrMemory)
	}
	defer buf.Destroy()

	err = s.mod.Login(s.session, pkcs11.CKU_USER, buf.String())
	if err != nil && !isCode(err, pkcs11.CKR_USER_ALREADY_LOGGED_IN) {
		return errors.Mark(errors.WithMessage(err, "Login"), xkmf.ErrBadParameter)
	}
	return nil
}

func findSlot(mod Module, cfg *Config) (uint, error) {
	slots, err := mod.GetSlotList(true)
	if err != nil {
		return 0, errors.Mark(errors.WithMessage(err, "GetSlotList"), xkmf.ErrBadParameter)
	}
	if len(slots) == 0 {
		return 0, errors.WithMessage(xkmf.ErrBadParameter, "no slots with tokens found")
	}
	if cfg.TokenLabel == "" && cfg.TokenSerial == "" {
		return slots[0], nil
	}

	for _, slot := range slots {
		ti, err := mod.GetTokenInfo(slot)
		if err != nil {
			logger.KV(xlog.ERROR, "reason", "GetTokenInfo", "slot", slot, "err", err.Error())
			continue
		}
		if cfg.TokenLabel != "" && strings.TrimSpace(ti.Label) == cfg.TokenLabel {
			return slot, nil
		}
		if cfg.TokenSerial != "" && strings.TrimSpace(ti.SerialNumber) == cfg.TokenSerial {
			return slot, nil
		}
	}
	return 0, errors.WithMessagef(xkmf.ErrBadParameter, "token not found: label=%q, serial=%q", cfg.TokenLabel, cfg.TokenSerial)
}

func isCode(err error, code uint) bool {
	var p11err pkcs11.Error
	return errors.As(err, &p11err) && uint(p11err) == code
}
