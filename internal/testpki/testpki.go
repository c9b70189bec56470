// Package testpki builds throwaway PKI fixtures for tests: an issuing CA,
// signer certificates, and httptest RFC 3161 and OCSP responders.
package testpki

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"math/big"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/remiblancher/asic/internal/ocsp"
	"github.com/remiblancher/asic/internal/tsa"
	"github.com/remiblancher/asic/pkg/token"
)

// KeyType selects the signer key algorithm.
type KeyType string

const (
	RSA2048 KeyType = "rsa2048"
	P256    KeyType = "p256"
	P384    KeyType = "p384"
	P521    KeyType = "p521"
)

// TSAPolicy is the policy OID of test timestamp tokens.
var TSAPolicy = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 99999, 1}

// NewKey generates a key of the given type.
func NewKey(t testing.TB, kt KeyType) crypto.Signer {
	t.Helper()
	var (
		key crypto.Signer
		err error
	)
	switch kt {
	case RSA2048:
		key, err = rsa.GenerateKey(rand.Reader, 2048)
	case P384:
		key, err = ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	case P521:
		key, err = ecdsa.GenerateKey(elliptic.P521(), rand.Reader)
	default:
		key, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	}
	if err != nil {
		t.Fatalf("Failed to generate %s key: %v", kt, err)
	}
	return key
}

// CA is an in-memory issuing authority.
type CA struct {
	Cert *x509.Certificate
	Key  crypto.Signer

	serial int64
}

// NewCA creates a self-signed P-256 CA valid for a day around now.
func NewCA(t testing.TB) *CA {
	t.Helper()
	key := NewKey(t, P256)
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "Test Issuing CA", Organization: []string{"asic tests"}},
		NotBefore:             time.Now().Add(-24 * time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, key.Public(), key)
	if err != nil {
		t.Fatalf("Failed to create CA certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("Failed to parse CA certificate: %v", err)
	}
	return &CA{Cert: cert, Key: key, serial: 1}
}

// Issue signs a certificate for pub. ext, when set, becomes the extended key
// usage.
func (ca *CA) Issue(t testing.TB, pub crypto.PublicKey, cn string, ext ...x509.ExtKeyUsage) *x509.Certificate {
	t.Helper()
	ca.serial++
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(ca.serial),
		Subject:      pkix.Name{CommonName: cn, Country: []string{"EE"}},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(12 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageContentCommitment,
		ExtKeyUsage:  ext,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, ca.Cert, pub, ca.Key)
	if err != nil {
		t.Fatalf("Failed to issue certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("Failed to parse certificate: %v", err)
	}
	return cert
}

// NewSigner issues a signing certificate and wraps it as a token.
func (ca *CA) NewSigner(t testing.TB, kt KeyType) *token.Signer {
	t.Helper()
	key := NewKey(t, kt)
	cert := ca.Issue(t, key.Public(), "Test Signer "+string(kt))
	s, err := token.NewSigner(string(kt), key, cert)
	if err != nil {
		t.Fatalf("Failed to create signer: %v", err)
	}
	return s
}

// TSA is an httptest RFC 3161 timestamp authority.
type TSA struct {
	Server    *httptest.Server
	Cert      *x509.Certificate
	Responder *tsa.Responder
}

// NewTSA starts a timestamp server with a certificate issued by ca. It is
// closed when the test ends.
func (ca *CA) NewTSA(t testing.TB) *TSA {
	t.Helper()
	key := NewKey(t, P256)
	cert := ca.Issue(t, key.Public(), "Test TSA", x509.ExtKeyUsageTimeStamping)
	r := &tsa.Responder{
		Config: &tsa.TokenConfig{Certificate: cert, Signer: key, Policy: TSAPolicy},
		Serial: &tsa.RandomSerialGenerator{},
	}
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &TSA{Server: srv, Cert: cert, Responder: r}
}

// URL returns the server address.
func (s *TSA) URL() string { return s.Server.URL }

// OCSP is an httptest OCSP responder signing with the CA key.
type OCSP struct {
	Server    *httptest.Server
	Responder *ocsp.Responder
}

// NewOCSP starts an OCSP responder for certificates issued by ca.
func (ca *CA) NewOCSP(t testing.TB) *OCSP {
	t.Helper()
	r := ocsp.NewResponder(ca.Cert, ca.Key)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &OCSP{Server: srv, Responder: r}
}

// URL returns the server address.
func (s *OCSP) URL() string { return s.Server.URL }

// Revoke reports cert as revoked from now on.
func (s *OCSP) Revoke(cert *x509.Certificate) {
	s.Responder.Revoke(cert.SerialNumber, time.Now())
}

// UnreachableURL returns the address of a server that has been shut down.
func UnreachableURL(t testing.TB) string {
	t.Helper()
	srv := httptest.NewServer(nil)
	url := srv.URL
	srv.Close()
	return url
}
