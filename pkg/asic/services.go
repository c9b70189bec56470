package asic

import (
	"context"
	"crypto"
	"crypto/x509"
	"errors"
	"fmt"
	"time"

	"github.com/remiblancher/asic/internal/metrics"
	"github.com/remiblancher/asic/internal/ocsp"
	"github.com/remiblancher/asic/internal/tsa"
	"github.com/remiblancher/asic/pkg/audit"
)

// Token produces raw signature values. ECDSA tokens may return either DER
// or r||s; the finalizer normalizes both.
type Token interface {
	Sign(h crypto.Hash, data []byte) ([]byte, error)
	Certificate() *x509.Certificate
	// Alias is used for diagnostics only.
	Alias() string
}

// OCSPRequest parametrizes a revocation status request.
type OCSPRequest struct {
	Time  time.Time
	Nonce []byte
}

// OCSPEvidence is a fetched OCSP response.
type OCSPEvidence struct {
	Raw        []byte
	ProducedAt time.Time
	// Status is one of the golang.org/x/crypto/ocsp status constants.
	Status int
	// Issuer is embedded next to the response as validation data.
	Issuer *x509.Certificate
}

// OCSPSource fetches revocation evidence for a signing certificate.
type OCSPSource interface {
	FetchOCSP(ctx context.Context, cert *x509.Certificate, req OCSPRequest) (*OCSPEvidence, error)
}

// TimestampSource fetches RFC 3161 timestamp tokens over a digest.
type TimestampSource interface {
	FetchTimestamp(ctx context.Context, h crypto.Hash, digest []byte) (*TimestampToken, error)
}

// Services bundles the network collaborators used at finalize and extend.
type Services struct {
	OCSP OCSPSource
	TSA  TimestampSource
	// TimestampDigest is the message-imprint algorithm; SHA-256 when zero.
	TimestampDigest crypto.Hash
}

func (s Services) timestampDigest() crypto.Hash {
	if s.TimestampDigest == 0 {
		return crypto.SHA256
	}
	return s.TimestampDigest
}

// OCSPClientSource fetches OCSP responses over HTTP.
type OCSPClientSource struct {
	client *ocsp.Client
	issuer *x509.Certificate
}

// NewOCSPSource returns an OCSPSource for url. issuer is the CA that issued
// the signing certificates and signs the responses.
func NewOCSPSource(url string, issuer *x509.Certificate, timeout time.Duration) *OCSPClientSource {
	return &OCSPClientSource{client: ocsp.NewClient(url, timeout), issuer: issuer}
}

// URL returns the responder address.
func (s *OCSPClientSource) URL() string { return s.client.URL }

// FetchOCSP implements OCSPSource.
func (s *OCSPClientSource) FetchOCSP(ctx context.Context, cert *x509.Certificate, req OCSPRequest) (*OCSPEvidence, error) {
	start := time.Now()
	res, err := s.client.Check(ctx, cert, s.issuer, req.Nonce)
	metrics.ObserveServiceCall(metrics.ServiceOCSP, start, err)

	serial := ""
	if cert != nil {
		serial = cert.SerialNumber.String()
	}
	if err != nil {
		_ = audit.LogOCSPRequest(s.client.URL, serial, "", false)
		if errors.Is(err, ocsp.ErrUnreachable) {
			return nil, &ServiceUnreachableError{Service: "OCSP", URL: s.client.URL, Err: err}
		}
		return nil, NewSignatureError("ocsp", err)
	}
	if err := audit.LogOCSPRequest(s.client.URL, serial, ocsp.StatusString(res.Response.Status), true); err != nil {
		return nil, err
	}

	return &OCSPEvidence{
		Raw:        res.Raw,
		ProducedAt: res.Response.ProducedAt,
		Status:     res.Response.Status,
		Issuer:     s.issuer,
	}, nil
}

// TSAClientSource fetches timestamp tokens over HTTP.
type TSAClientSource struct {
	client *tsa.Client
}

// NewTimestampSource returns a TimestampSource for url.
func NewTimestampSource(url string, timeout time.Duration) *TSAClientSource {
	return &TSAClientSource{client: tsa.NewClient(url, timeout)}
}

// URL returns the TSA address.
func (s *TSAClientSource) URL() string { return s.client.URL }

// FetchTimestamp implements TimestampSource.
func (s *TSAClientSource) FetchTimestamp(ctx context.Context, h crypto.Hash, digest []byte) (*TimestampToken, error) {
	start := time.Now()
	tok, err := s.client.Timestamp(ctx, h, digest)
	metrics.ObserveServiceCall(metrics.ServiceTSA, start, err)
	if err != nil {
		_ = audit.LogTSARequest(s.client.URL, DigestName(h), "", false)
		if errors.Is(err, tsa.ErrUnreachable) {
			return nil, &ServiceUnreachableError{Service: "timestamp", URL: s.client.URL, Err: err}
		}
		return nil, NewSignatureError("timestamp", err)
	}

	token, err := ParseTimestampToken(tok.SignedData)
	if err != nil {
		return nil, NewSignatureError("timestamp", fmt.Errorf("TSA returned an unusable token: %w", err))
	}
	if err := audit.LogTSARequest(s.client.URL, DigestName(h), token.GenTime.Format(time.RFC3339), true); err != nil {
		return nil, err
	}
	return token, nil
}
