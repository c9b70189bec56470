package token

import (
	"crypto"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/pkcs12"
)

// OpenPKCS12 loads a PKCS#12 keystore holding one key and its certificate.
func OpenPKCS12(path, password string) (*Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read PKCS#12 file: %w", err)
	}
	alias := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return ParsePKCS12(alias, data, password)
}

// ParsePKCS12 decodes a PKCS#12 keystore.
func ParsePKCS12(alias string, data []byte, password string) (*Signer, error) {
	key, cert, err := pkcs12.Decode(data, password)
	if err != nil {
		return nil, fmt.Errorf("failed to decode PKCS#12: %w", err)
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("PKCS#12 key type %T cannot sign", key)
	}
	return NewSigner(alias, signer, cert)
}
