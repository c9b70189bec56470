// Package token provides signing tokens for ASiC signatures: software keys
// loaded from PEM or PKCS#12 files, and keys held on a PKCS#11 device.
//
// Every token signs the preimage handed out by asic.DataToSign. ECDSA tokens
// return either DER or raw r||s; the finalizer accepts both.
package token

import (
	"crypto"
	"crypto/rand"
	"crypto/x509"
	"errors"
	"fmt"
)

var (
	// ErrNoCertificate indicates a token without a signing certificate.
	ErrNoCertificate = errors.New("token has no signing certificate")

	// ErrKeyMismatch indicates a key that does not match the certificate.
	ErrKeyMismatch = errors.New("private key does not match certificate")

	// ErrUnsupportedHash indicates a digest algorithm the token cannot use.
	ErrUnsupportedHash = errors.New("unsupported digest algorithm")
)

// Signer is a token backed by any crypto.Signer.
type Signer struct {
	alias  string
	signer crypto.Signer
	cert   *x509.Certificate
}

// NewSigner wraps signer and its certificate.
func NewSigner(alias string, signer crypto.Signer, cert *x509.Certificate) (*Signer, error) {
	if cert == nil {
		return nil, ErrNoCertificate
	}
	if !publicKeysEqual(signer.Public(), cert.PublicKey) {
		return nil, ErrKeyMismatch
	}
	return &Signer{alias: alias, signer: signer, cert: cert}, nil
}

// Sign hashes data with h and signs the digest.
func (s *Signer) Sign(h crypto.Hash, data []byte) ([]byte, error) {
	if !h.Available() {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedHash, h)
	}
	hh := h.New()
	hh.Write(data)
	return s.signer.Sign(rand.Reader, hh.Sum(nil), h)
}

// Certificate returns the signing certificate.
func (s *Signer) Certificate() *x509.Certificate { return s.cert }

// Alias returns the token name used in diagnostics.
func (s *Signer) Alias() string { return s.alias }

type equaler interface {
	Equal(crypto.PublicKey) bool
}

func publicKeysEqual(a, b crypto.PublicKey) bool {
	if ea, ok := a.(equaler); ok {
		return ea.Equal(b)
	}
	return false
}
