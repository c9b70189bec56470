//go:build cgo

package token

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/miekg/pkcs11"
)

// PKCS11Token signs with a private key held on a PKCS#11 device. The
// certificate is read from the device at open time.
type PKCS11Token struct {
	ctx     *pkcs11.Ctx
	session pkcs11.SessionHandle
	key     pkcs11.ObjectHandle
	cert    *x509.Certificate
	alias   string

	mu     sync.Mutex
	closed bool
}

// OpenPKCS11 loads the module, logs in with the PIN from the configured
// environment variable and locates the key and certificate.
func OpenPKCS11(cfg *HSMConfig) (*PKCS11Token, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	pin, err := cfg.GetPIN()
	if err != nil {
		return nil, err
	}

	ctx := pkcs11.New(cfg.PKCS11.Lib)
	if ctx == nil {
		return nil, fmt.Errorf("failed to load PKCS#11 module: %s", cfg.PKCS11.Lib)
	}
	if err := ctx.Initialize(); err != nil {
		if p11err, ok := err.(pkcs11.Error); !ok || p11err != pkcs11.CKR_CRYPTOKI_ALREADY_INITIALIZED {
			ctx.Destroy()
			return nil, fmt.Errorf("failed to initialize: %w", err)
		}
	}

	t := &PKCS11Token{ctx: ctx, alias: cfg.Alias()}
	if err := t.open(cfg, pin); err != nil {
		_ = t.Close()
		return nil, err
	}
	return t, nil
}

func (t *PKCS11Token) open(cfg *HSMConfig, pin string) error {
	slot, err := findSlot(t.ctx, cfg.PKCS11)
	if err != nil {
		return fmt.Errorf("failed to find slot: %w", err)
	}
	t.session, err = t.ctx.OpenSession(slot, pkcs11.CKF_SERIAL_SESSION)
	if err != nil {
		return fmt.Errorf("failed to open session: %w", err)
	}
	if err := t.ctx.Login(t.session, pkcs11.CKU_USER, pin); err != nil {
		if p11err, ok := err.(pkcs11.Error); !ok || p11err != pkcs11.CKR_USER_ALREADY_LOGGED_IN {
			return fmt.Errorf("failed to login: %w", err)
		}
	}

	keyTemplate := []*pkcs11.Attribute{pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_PRIVATE_KEY)}
	var keyID []byte
	if cfg.PKCS11.KeyLabel != "" {
		keyTemplate = append(keyTemplate, pkcs11.NewAttribute(pkcs11.CKA_LABEL, cfg.PKCS11.KeyLabel))
	}
	if cfg.PKCS11.KeyID != "" {
		if keyID, err = hex.DecodeString(cfg.PKCS11.KeyID); err != nil {
			return fmt.Errorf("invalid key_id hex: %w", err)
		}
		keyTemplate = append(keyTemplate, pkcs11.NewAttribute(pkcs11.CKA_ID, keyID))
	}
	if t.key, err = t.findOne(keyTemplate, "private key"); err != nil {
		return err
	}

	if keyID == nil {
		attrs, err := t.ctx.GetAttributeValue(t.session, t.key, []*pkcs11.Attribute{
			pkcs11.NewAttribute(pkcs11.CKA_ID, nil),
		})
		if err == nil && len(attrs) > 0 {
			keyID = attrs[0].Value
		}
	}

	certTemplate := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_CERTIFICATE),
		pkcs11.NewAttribute(pkcs11.CKA_CERTIFICATE_TYPE, pkcs11.CKC_X_509),
	}
	switch {
	case cfg.PKCS11.CertLabel != "":
		certTemplate = append(certTemplate, pkcs11.NewAttribute(pkcs11.CKA_LABEL, cfg.PKCS11.CertLabel))
	case len(keyID) > 0:
		certTemplate = append(certTemplate, pkcs11.NewAttribute(pkcs11.CKA_ID, keyID))
	case cfg.PKCS11.KeyLabel != "":
		certTemplate = append(certTemplate, pkcs11.NewAttribute(pkcs11.CKA_LABEL, cfg.PKCS11.KeyLabel))
	}
	certHandle, err := t.findOne(certTemplate, "certificate")
	if err != nil {
		return err
	}
	attrs, err := t.ctx.GetAttributeValue(t.session, certHandle, []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_VALUE, nil),
	})
	if err != nil {
		return fmt.Errorf("failed to read certificate: %w", err)
	}
	if t.cert, err = x509.ParseCertificate(attrs[0].Value); err != nil {
		return fmt.Errorf("failed to parse certificate: %w", err)
	}
	return nil
}

// findSlot finds the slot matching the configuration.
func findSlot(ctx *pkcs11.Ctx, cfg PKCS11Settings) (uint, error) {
	if cfg.Slot != nil {
		return *cfg.Slot, nil
	}

	slots, err := ctx.GetSlotList(true)
	if err != nil {
		return 0, fmt.Errorf("failed to get slot list: %w", err)
	}
	if len(slots) == 0 {
		return 0, fmt.Errorf("no slots with tokens found")
	}

	for _, slot := range slots {
		info, err := ctx.GetTokenInfo(slot)
		if err != nil {
			continue
		}
		if cfg.Token != "" && info.Label == cfg.Token {
			return slot, nil
		}
		if cfg.TokenSerial != "" && info.SerialNumber == cfg.TokenSerial {
			return slot, nil
		}
	}

	if cfg.Token != "" {
		return 0, fmt.Errorf("token with label %q not found", cfg.Token)
	}
	return 0, fmt.Errorf("token with serial %q not found", cfg.TokenSerial)
}

func (t *PKCS11Token) findOne(template []*pkcs11.Attribute, what string) (pkcs11.ObjectHandle, error) {
	if err := t.ctx.FindObjectsInit(t.session, template); err != nil {
		return 0, fmt.Errorf("failed to init find objects: %w", err)
	}
	defer func() { _ = t.ctx.FindObjectsFinal(t.session) }()

	objs, _, err := t.ctx.FindObjects(t.session, 2)
	if err != nil {
		return 0, fmt.Errorf("failed to find objects: %w", err)
	}
	if len(objs) == 0 {
		return 0, fmt.Errorf("%s not found", what)
	}
	if len(objs) > 1 {
		return 0, fmt.Errorf("multiple objects match the %s, please specify both key_label and key_id", what)
	}
	return objs[0], nil
}

// Sign hashes data and signs the digest on the device. ECDSA values come
// back as raw r||s.
func (t *PKCS11Token) Sign(h crypto.Hash, data []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, fmt.Errorf("token is closed")
	}
	if !h.Available() {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedHash, h)
	}
	hh := h.New()
	hh.Write(data)
	digest := hh.Sum(nil)

	var mech *pkcs11.Mechanism
	switch t.cert.PublicKey.(type) {
	case *ecdsa.PublicKey:
		mech = pkcs11.NewMechanism(pkcs11.CKM_ECDSA, nil)
	case *rsa.PublicKey:
		mech = pkcs11.NewMechanism(pkcs11.CKM_RSA_PKCS, nil)
		prefix, ok := digestInfoPrefixes[h]
		if !ok {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedHash, h)
		}
		digest = append(append([]byte(nil), prefix...), digest...)
	default:
		return nil, fmt.Errorf("unsupported key type for signing")
	}

	if err := t.ctx.SignInit(t.session, []*pkcs11.Mechanism{mech}, t.key); err != nil {
		return nil, fmt.Errorf("failed to init sign: %w", err)
	}
	sig, err := t.ctx.Sign(t.session, digest)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}
	return sig, nil
}

// Certificate returns the certificate read from the device.
func (t *PKCS11Token) Certificate() *x509.Certificate { return t.cert }

// Alias returns the token name used in diagnostics.
func (t *PKCS11Token) Alias() string { return t.alias }

// Close logs out and releases the module.
func (t *PKCS11Token) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if t.session != 0 {
		_ = t.ctx.Logout(t.session)
		_ = t.ctx.CloseSession(t.session)
	}
	// C_Finalize is process-wide; the module stays initialized for other users.
	t.ctx.Destroy()
	return nil
}

// DigestInfo prefixes for PKCS#1 v1.5 signatures (RFC 8017)
var digestInfoPrefixes = map[crypto.Hash][]byte{
	crypto.SHA256: {0x30, 0x31, 0x30, 0x0d, 0x06, 0x09, 0x60, 0x86, 0x48, 0x01, 0x65, 0x03, 0x04, 0x02, 0x01, 0x05, 0x00, 0x04, 0x20},
	crypto.SHA384: {0x30, 0x41, 0x30, 0x0d, 0x06, 0x09, 0x60, 0x86, 0x48, 0x01, 0x65, 0x03, 0x04, 0x02, 0x02, 0x05, 0x00, 0x04, 0x30},
	crypto.SHA512: {0x30, 0x51, 0x30, 0x0d, 0x06, 0x09, 0x60, 0x86, 0x48, 0x01, 0x65, 0x03, 0x04, 0x02, 0x03, 0x05, 0x00, 0x04, 0x40},
}
