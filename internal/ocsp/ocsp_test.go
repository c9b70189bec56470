package ocsp

import (
	"bytes"
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	xocsp "golang.org/x/crypto/ocsp"
)

type testCA struct {
	cert *x509.Certificate
	key  *ecdsa.PrivateKey
}

func newTestCA(t *testing.T) *testCA {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("Failed to generate CA key: %v", err)
	}
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "Test CA"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("Failed to create CA certificate: %v", err)
	}
	cert, _ := x509.ParseCertificate(der)
	return &testCA{cert: cert, key: key}
}

func (ca *testCA) issue(t *testing.T, serial int64) *x509.Certificate {
	t.Helper()
	key, _ := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	template := &x509.Certificate{
		SerialNumber: big.NewInt(serial),
		Subject:      pkix.Name{CommonName: "Signer"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageContentCommitment,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, ca.cert, &key.PublicKey, ca.key)
	if err != nil {
		t.Fatalf("Failed to issue certificate: %v", err)
	}
	cert, _ := x509.ParseCertificate(der)
	return cert
}

// =============================================================================
// Request Tests
// =============================================================================

func TestU_Request_NonceRoundTrip(t *testing.T) {
	ca := newTestCA(t)
	cert := ca.issue(t, 100)
	nonce := []byte("0123456789abcdef")

	req, err := CreateRequestWithNonce(ca.cert, cert, crypto.SHA256, nonce)
	if err != nil {
		t.Fatalf("CreateRequestWithNonce failed: %v", err)
	}
	der, err := req.Marshal()
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	parsed, err := ParseRequest(der)
	if err != nil {
		t.Fatalf("ParseRequest failed: %v", err)
	}
	if !bytes.Equal(parsed.GetNonce(), nonce) {
		t.Errorf("GetNonce = %x, want %x", parsed.GetNonce(), nonce)
	}
	id := parsed.TBSRequest.RequestList[0].ReqCert
	if id.SerialNumber.Cmp(cert.SerialNumber) != 0 {
		t.Error("serial number mismatch")
	}
	if !id.MatchesIssuer(ca.cert) {
		t.Error("CertID should match issuer")
	}

	// x/crypto must accept the same encoding.
	if _, err := xocsp.ParseRequest(der); err != nil {
		t.Errorf("x/crypto ParseRequest failed: %v", err)
	}
}

func TestU_Request_WithoutNonce(t *testing.T) {
	ca := newTestCA(t)
	req, err := CreateRequestWithNonce(ca.cert, ca.issue(t, 5), crypto.SHA1, nil)
	if err != nil {
		t.Fatalf("CreateRequestWithNonce failed: %v", err)
	}
	if req.GetNonce() != nil {
		t.Error("request should carry no nonce")
	}
}

func TestU_ParseRequest_Garbage(t *testing.T) {
	_, err := ParseRequest([]byte("garbage"))
	if !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("ParseRequest error = %v, want ErrInvalidRequest", err)
	}
}

// =============================================================================
// Client/Responder Tests
// =============================================================================

func TestF_Client_Check_Good(t *testing.T) {
	ca := newTestCA(t)
	cert := ca.issue(t, 200)
	srv := httptest.NewServer(NewResponder(ca.cert, ca.key))
	defer srv.Close()

	nonce := []byte("signature-value-digest")
	res, err := NewClient(srv.URL, 5*time.Second).Check(context.Background(), cert, ca.cert, nonce)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if res.Response.Status != xocsp.Good {
		t.Errorf("Status = %s, want good", StatusString(res.Response.Status))
	}
	if !bytes.Equal(ResponseNonce(res.Response), nonce) {
		t.Error("response nonce not echoed")
	}
	if res.Response.ProducedAt.IsZero() {
		t.Error("ProducedAt should be set")
	}
}

func TestF_Client_Check_Revoked(t *testing.T) {
	ca := newTestCA(t)
	cert := ca.issue(t, 300)
	responder := NewResponder(ca.cert, ca.key)
	responder.Revoke(cert.SerialNumber, time.Now().Add(-time.Minute))
	srv := httptest.NewServer(responder)
	defer srv.Close()

	res, err := NewClient(srv.URL, 5*time.Second).Check(context.Background(), cert, ca.cert, nil)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if res.Response.Status != xocsp.Revoked {
		t.Errorf("Status = %s, want revoked", StatusString(res.Response.Status))
	}
}

func TestF_Client_Check_Unreachable(t *testing.T) {
	ca := newTestCA(t)
	cert := ca.issue(t, 400)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, time.Second).Check(context.Background(), cert, ca.cert, nil)
	if !errors.Is(err, ErrUnreachable) {
		t.Errorf("Check error = %v, want ErrUnreachable", err)
	}

	_, err = NewClient("http://127.0.0.1:1/ocsp", time.Second).Check(context.Background(), cert, ca.cert, nil)
	if !errors.Is(err, ErrUnreachable) {
		t.Errorf("Check error = %v, want ErrUnreachable", err)
	}
}

func TestF_Client_Check_WrongIssuer(t *testing.T) {
	ca := newTestCA(t)
	other := newTestCA(t)
	cert := ca.issue(t, 500)
	srv := httptest.NewServer(NewResponder(other.cert, other.key))
	defer srv.Close()

	_, err := NewClient(srv.URL, time.Second).Check(context.Background(), cert, ca.cert, nil)
	if !errors.Is(err, ErrInvalidResponse) {
		t.Errorf("Check error = %v, want ErrInvalidResponse", err)
	}
}
