package tsa

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/remiblancher/asic/internal/cms"
)

var testPolicy = asn1.ObjectIdentifier{1, 2, 3, 4, 1}

func newTestTokenConfig(t *testing.T) *TokenConfig {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}
	template := &x509.Certificate{
		SerialNumber: big.NewInt(42),
		Subject:      pkix.Name{CommonName: "Test TSA"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageTimeStamping},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("Failed to create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("Failed to parse certificate: %v", err)
	}
	return &TokenConfig{Certificate: cert, Signer: key, Policy: testPolicy}
}

// =============================================================================
// Request Tests
// =============================================================================

func TestU_Request_CreateAndParse(t *testing.T) {
	digest := sha256.Sum256([]byte("test data"))
	req, err := CreateRequest(crypto.SHA256, digest[:], true)
	if err != nil {
		t.Fatalf("CreateRequest failed: %v", err)
	}
	if req.Nonce == nil {
		t.Fatal("CreateRequest should attach a nonce")
	}

	der, err := req.Marshal()
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	parsed, err := ParseRequest(der)
	if err != nil {
		t.Fatalf("ParseRequest failed: %v", err)
	}
	if parsed.Nonce.Cmp(req.Nonce) != 0 {
		t.Error("Nonce mismatch after round trip")
	}
	if !parsed.CertReq {
		t.Error("CertReq should be true")
	}
	if h, _ := parsed.HashAlgorithm(); h != crypto.SHA256 {
		t.Errorf("HashAlgorithm = %v, want SHA256", h)
	}
}

func TestU_Request_DigestLengthMismatch(t *testing.T) {
	if _, err := CreateRequest(crypto.SHA384, make([]byte, 32), false); err == nil {
		t.Error("CreateRequest should reject a digest of the wrong length")
	}
}

func TestU_Request_Parse_InvalidVersion(t *testing.T) {
	digest := sha256.Sum256([]byte("x"))
	imprint, _ := NewMessageImprint(crypto.SHA256, digest[:])
	der, _ := asn1.Marshal(TimeStampReq{Version: 2, MessageImprint: imprint})

	_, err := ParseRequest(der)
	if !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("ParseRequest error = %v, want ErrInvalidRequest", err)
	}
}

// =============================================================================
// Token Tests
// =============================================================================

func TestU_Token_CreateParseVerify(t *testing.T) {
	config := newTestTokenConfig(t)
	data := []byte("container payload")

	for _, h := range []crypto.Hash{crypto.SHA256, crypto.SHA384, crypto.SHA512} {
		t.Run(h.String(), func(t *testing.T) {
			hh := h.New()
			hh.Write(data)
			req, err := CreateRequest(h, hh.Sum(nil), true)
			if err != nil {
				t.Fatalf("CreateRequest failed: %v", err)
			}

			token, err := CreateToken(req, config, &RandomSerialGenerator{})
			if err != nil {
				t.Fatalf("CreateToken failed: %v", err)
			}

			parsed, err := ParseToken(token.SignedData)
			if err != nil {
				t.Fatalf("ParseToken failed: %v", err)
			}
			if !parsed.GenTime().Equal(token.GenTime()) {
				t.Errorf("GenTime = %v, want %v", parsed.GenTime(), token.GenTime())
			}
			if got, _ := parsed.HashAlgorithm(); got != h {
				t.Errorf("HashAlgorithm = %v, want %v", got, h)
			}

			res, err := Verify(token.SignedData, data)
			if err != nil {
				t.Fatalf("Verify failed: %v", err)
			}
			if !res.HashMatch {
				t.Error("HashMatch should be true")
			}
			if !res.SignerCert.Equal(config.Certificate) {
				t.Error("SignerCert mismatch")
			}
		})
	}
}

func TestU_Token_Verify_HashMismatch(t *testing.T) {
	config := newTestTokenConfig(t)
	digest := sha512.Sum384([]byte("original"))
	req, _ := CreateRequest(crypto.SHA384, digest[:], true)
	token, err := CreateToken(req, config, &RandomSerialGenerator{})
	if err != nil {
		t.Fatalf("CreateToken failed: %v", err)
	}

	_, err = Verify(token.SignedData, []byte("modified"))
	if !errors.Is(err, ErrHashMismatch) {
		t.Errorf("Verify error = %v, want ErrHashMismatch", err)
	}
}

func TestU_Token_Parse_Invalid(t *testing.T) {
	_, err := ParseToken([]byte{0x30, 0x03, 0x02, 0x01, 0x01})
	if !errors.Is(err, ErrInvalidToken) {
		t.Errorf("ParseToken error = %v, want ErrInvalidToken", err)
	}
}

func TestU_CreateToken_MissingConfig(t *testing.T) {
	digest := sha256.Sum256([]byte("x"))
	req, _ := CreateRequest(crypto.SHA256, digest[:], false)
	full := newTestTokenConfig(t)

	tests := []struct {
		name   string
		config *TokenConfig
	}{
		{"no certificate", &TokenConfig{Signer: full.Signer, Policy: testPolicy}},
		{"no signer", &TokenConfig{Certificate: full.Certificate, Policy: testPolicy}},
		{"no policy", &TokenConfig{Certificate: full.Certificate, Signer: full.Signer}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := CreateToken(req, tt.config, &RandomSerialGenerator{}); err == nil {
				t.Error("CreateToken should fail")
			}
		})
	}
}

// =============================================================================
// Response Tests
// =============================================================================

func TestU_Response_Rejection(t *testing.T) {
	der, err := NewRejectionResponse(FailBadAlg, "bad alg").Marshal()
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	resp, err := ParseResponse(der)
	if err != nil {
		t.Fatalf("ParseResponse failed: %v", err)
	}
	if resp.IsGranted() {
		t.Error("rejection should not be granted")
	}
	if resp.StatusString() != "rejection" {
		t.Errorf("StatusString = %q", resp.StatusString())
	}
	if resp.FailureString() != "unrecognized or unsupported algorithm" {
		t.Errorf("FailureString = %q", resp.FailureString())
	}
}

// =============================================================================
// Client Tests
// =============================================================================

func TestF_Client_Timestamp(t *testing.T) {
	config := newTestTokenConfig(t)
	srv := httptest.NewServer(&Responder{Config: config})
	defer srv.Close()

	digest := sha256.Sum256([]byte("signature value"))
	token, err := NewClient(srv.URL, 5*time.Second).Timestamp(context.Background(), crypto.SHA256, digest[:])
	if err != nil {
		t.Fatalf("Timestamp failed: %v", err)
	}
	if string(token.HashedMessage()) != string(digest[:]) {
		t.Error("token imprint does not match requested digest")
	}
	if _, err := cms.Verify(token.SignedData); err != nil {
		t.Errorf("token signature invalid: %v", err)
	}
}

func TestF_Client_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	digest := sha256.Sum256([]byte("x"))
	_, err := NewClient(srv.URL, time.Second).Timestamp(context.Background(), crypto.SHA256, digest[:])
	if !errors.Is(err, ErrUnreachable) {
		t.Errorf("Timestamp error = %v, want ErrUnreachable", err)
	}

	_, err = NewClient("http://127.0.0.1:1", time.Second).Timestamp(context.Background(), crypto.SHA256, digest[:])
	if !errors.Is(err, ErrUnreachable) {
		t.Errorf("Timestamp error = %v, want ErrUnreachable", err)
	}
}

func TestF_Client_Rejected(t *testing.T) {
	config := newTestTokenConfig(t)
	config.Policy = nil // CreateToken fails, responder rejects
	srv := httptest.NewServer(&Responder{Config: config})
	defer srv.Close()

	digest := sha256.Sum256([]byte("x"))
	_, err := NewClient(srv.URL, time.Second).Timestamp(context.Background(), crypto.SHA256, digest[:])
	if !errors.Is(err, ErrRejected) {
		t.Errorf("Timestamp error = %v, want ErrRejected", err)
	}
}
