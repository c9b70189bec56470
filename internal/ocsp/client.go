package ocsp

import (
	"bytes"
	"context"
	"crypto"
	"crypto/x509"
	"fmt"
	"io"
	"net/http"
	"time"

	xocsp "golang.org/x/crypto/ocsp"
)

const (
	contentTypeRequest  = "application/ocsp-request"
	contentTypeResponse = "application/ocsp-response"

	maxResponseSize = 1 << 20
)

// Client fetches OCSP responses over HTTP POST.
type Client struct {
	URL        string
	HTTPClient *http.Client
	// Hash is the CertID hash algorithm (default SHA-256).
	Hash crypto.Hash
}

// NewClient returns a client for url with the given request timeout.
func NewClient(url string, timeout time.Duration) *Client {
	return &Client{
		URL:        url,
		HTTPClient: &http.Client{Timeout: timeout},
		Hash:       crypto.SHA256,
	}
}

// Result is a decoded OCSP response with its raw encoding.
type Result struct {
	Raw      []byte
	Response *xocsp.Response
}

// Check requests the status of cert. When nonce is non-nil the response
// must echo it. The response signature is checked against issuer.
func (c *Client) Check(ctx context.Context, cert, issuer *x509.Certificate, nonce []byte) (*Result, error) {
	if issuer == nil {
		return nil, NewOCSPError("request", fmt.Errorf("issuer certificate is required"))
	}
	hashAlg := c.Hash
	if hashAlg == 0 {
		hashAlg = crypto.SHA256
	}

	req, err := CreateRequestWithNonce(issuer, cert, hashAlg, nonce)
	if err != nil {
		return nil, err
	}
	reqDER, err := req.Marshal()
	if err != nil {
		return nil, NewOCSPError("request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(reqDER))
	if err != nil {
		return nil, NewOCSPError("fetch", fmt.Errorf("%w: %v", ErrUnreachable, err))
	}
	httpReq.Header.Set("Content-Type", contentTypeRequest)
	httpReq.Header.Set("Accept", contentTypeResponse)

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, NewOCSPError("fetch", fmt.Errorf("%w: %v", ErrUnreachable, err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, NewOCSPError("fetch", fmt.Errorf("%w: HTTP %d", ErrUnreachable, resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, NewOCSPError("fetch", fmt.Errorf("%w: %v", ErrUnreachable, err))
	}

	parsed, err := xocsp.ParseResponseForCert(body, cert, issuer)
	if err != nil {
		return nil, NewOCSPError("parse", fmt.Errorf("%w: %v", ErrInvalidResponse, err))
	}

	if nonce != nil && !bytes.Equal(ResponseNonce(parsed), nonce) {
		return nil, NewOCSPError("parse", ErrNonceMismatch)
	}

	return &Result{Raw: body, Response: parsed}, nil
}

// ResponseNonce returns the nonce echoed in a parsed response, if any.
func ResponseNonce(resp *xocsp.Response) []byte {
	return nonceFromExtensions(resp.Extensions)
}

// StatusString returns a human-readable certificate status.
func StatusString(status int) string {
	switch status {
	case xocsp.Good:
		return "good"
	case xocsp.Revoked:
		return "revoked"
	default:
		return "unknown"
	}
}
