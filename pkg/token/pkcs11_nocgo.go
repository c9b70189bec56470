//go:build !cgo

package token

import (
	"crypto"
	"crypto/x509"
	"fmt"
)

// PKCS11Token is unavailable in builds without cgo.
type PKCS11Token struct{}

// OpenPKCS11 always fails without cgo.
func OpenPKCS11(cfg *HSMConfig) (*PKCS11Token, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("PKCS#11 support requires CGO (build with CGO_ENABLED=1)")
}

func (t *PKCS11Token) Sign(crypto.Hash, []byte) ([]byte, error) {
	return nil, fmt.Errorf("PKCS#11 support requires CGO")
}

func (t *PKCS11Token) Certificate() *x509.Certificate { return nil }
func (t *PKCS11Token) Alias() string                  { return "" }
func (t *PKCS11Token) Close() error                   { return nil }
