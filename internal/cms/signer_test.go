package cms

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
	"testing"
	"time"
)

// generateTestCertificate creates a self-signed certificate for testing.
func generateTestCertificate(t *testing.T, signer crypto.Signer) *x509.Certificate {
	t.Helper()

	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 64))
	if err != nil {
		t.Fatalf("Failed to generate serial number: %v", err)
	}
	template := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject:      pkix.Name{CommonName: "Test TSA"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, signer.Public(), signer)
	if err != nil {
		t.Fatalf("Failed to create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("Failed to parse certificate: %v", err)
	}
	return cert
}

// =============================================================================
// Functional Tests: Sign and Verify
// =============================================================================

func TestF_Sign_Verify(t *testing.T) {
	ecKey, _ := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	ec384Key, _ := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	rsaKey, _ := rsa.GenerateKey(rand.Reader, 2048)

	tests := []struct {
		name   string
		signer crypto.Signer
		hash   crypto.Hash
		oid    asn1.ObjectIdentifier
	}{
		{"ECDSA-P256-SHA256", ecKey, crypto.SHA256, OIDECDSAWithSHA256},
		{"ECDSA-P384-SHA384", ec384Key, crypto.SHA384, OIDECDSAWithSHA384},
		{"RSA-SHA256", rsaKey, crypto.SHA256, OIDSHA256WithRSA},
		{"RSA-SHA512", rsaKey, crypto.SHA512, OIDSHA512WithRSA},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cert := generateTestCertificate(t, tt.signer)
			content := []byte("tst info " + tt.name)

			der, err := Sign(content, &SignerConfig{
				Certificate:  cert,
				Signer:       tt.signer,
				DigestAlg:    tt.hash,
				IncludeCerts: true,
				ContentType:  OIDTSTInfo,
			})
			if err != nil {
				t.Fatalf("Sign failed: %v", err)
			}

			sd, err := ParseSignedData(der)
			if err != nil {
				t.Fatalf("ParseSignedData failed: %v", err)
			}
			if got := sd.SignerInfos[0].SignatureAlgorithm.Algorithm; !got.Equal(tt.oid) {
				t.Errorf("signature OID = %v, want %v", got, tt.oid)
			}

			result, err := Verify(der)
			if err != nil {
				t.Fatalf("Verify failed: %v", err)
			}
			if string(result.Content) != string(content) {
				t.Errorf("Content = %q, want %q", result.Content, content)
			}
			if !result.ContentType.Equal(OIDTSTInfo) {
				t.Errorf("ContentType = %v, want %v", result.ContentType, OIDTSTInfo)
			}
			if !result.SignerCert.Equal(cert) {
				t.Error("SignerCert does not match signing certificate")
			}
		})
	}
}

func TestF_Sign_SigningTimePreserved(t *testing.T) {
	key, _ := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	cert := generateTestCertificate(t, key)
	when := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	der, err := Sign([]byte("x"), &SignerConfig{
		Certificate:  cert,
		Signer:       key,
		IncludeCerts: true,
		SigningTime:  when,
	})
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	result, err := Verify(der)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !result.SigningTime.Equal(when) {
		t.Errorf("SigningTime = %v, want %v", result.SigningTime, when)
	}
}

func TestF_Verify_TamperedSignature(t *testing.T) {
	key, _ := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	cert := generateTestCertificate(t, key)

	der, err := Sign([]byte("payload"), &SignerConfig{Certificate: cert, Signer: key, IncludeCerts: true})
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	sd, err := ParseSignedData(der)
	if err != nil {
		t.Fatalf("ParseSignedData failed: %v", err)
	}
	sd.SignerInfos[0].Signature[len(sd.SignerInfos[0].Signature)-1] ^= 0xff
	sdDER, err := asn1.Marshal(*sd)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	tampered, err := asn1.Marshal(ContentInfo{
		ContentType: OIDSignedData,
		Content:     asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 0, IsCompound: true, Bytes: sdDER},
	})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	if _, err := Verify(tampered); err == nil {
		t.Error("Verify should fail for tampered signature")
	}
}

func TestU_Verify_WithoutCertificates(t *testing.T) {
	key, _ := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	cert := generateTestCertificate(t, key)

	der, err := Sign([]byte("payload"), &SignerConfig{Certificate: cert, Signer: key})
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	if _, err := Verify(der); err == nil {
		t.Error("Verify should fail without embedded signer certificate")
	}
}

// =============================================================================
// Unit Tests: Parameter validation
// =============================================================================

func TestU_Sign_CertificateMissing(t *testing.T) {
	key, _ := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if _, err := Sign([]byte("x"), &SignerConfig{Signer: key}); err == nil {
		t.Error("Sign should fail without certificate")
	}
}

func TestU_Sign_SignerMissing(t *testing.T) {
	key, _ := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	cert := generateTestCertificate(t, key)
	if _, err := Sign([]byte("x"), &SignerConfig{Certificate: cert}); err == nil {
		t.Error("Sign should fail without signer")
	}
}

func TestU_ParseSignedData_Garbage(t *testing.T) {
	if _, err := ParseSignedData([]byte("not asn1")); err == nil {
		t.Error("ParseSignedData should fail for garbage input")
	}
}

func TestU_HashFromOID(t *testing.T) {
	for _, h := range []crypto.Hash{crypto.SHA1, crypto.SHA256, crypto.SHA384, crypto.SHA512} {
		id, err := DigestAlgorithmIdentifier(h)
		if err != nil {
			t.Fatalf("DigestAlgorithmIdentifier(%v) failed: %v", h, err)
		}
		got, err := HashFromOID(id.Algorithm)
		if err != nil || got != h {
			t.Errorf("HashFromOID(%v) = %v, %v; want %v", id.Algorithm, got, err, h)
		}
	}
	if _, err := HashFromOID(asn1.ObjectIdentifier{1, 2, 3}); err == nil {
		t.Error("HashFromOID should fail for unknown OID")
	}
}
