package tsa

import (
	"bytes"
	"context"
	"crypto"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	contentTypeQuery = "application/timestamp-query"
	contentTypeReply = "application/timestamp-reply"

	maxResponseSize = 1 << 20
)

// Client requests timestamp tokens from an RFC 3161 HTTP endpoint.
type Client struct {
	URL        string
	HTTPClient *http.Client
}

// NewClient returns a client for url with the given request timeout.
func NewClient(url string, timeout time.Duration) *Client {
	return &Client{
		URL:        url,
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

// Timestamp requests a token over digest. The response nonce and message
// imprint are checked against the request before the token is returned.
func (c *Client) Timestamp(ctx context.Context, hashAlg crypto.Hash, digest []byte) (*Token, error) {
	req, err := CreateRequest(hashAlg, digest, true)
	if err != nil {
		return nil, err
	}
	reqDER, err := req.Marshal()
	if err != nil {
		return nil, NewTSAError("request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(reqDER))
	if err != nil {
		return nil, NewTSAError("fetch", fmt.Errorf("%w: %v", ErrUnreachable, err))
	}
	httpReq.Header.Set("Content-Type", contentTypeQuery)
	httpReq.Header.Set("Accept", contentTypeReply)

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, NewTSAError("fetch", fmt.Errorf("%w: %v", ErrUnreachable, err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, NewTSAError("fetch", fmt.Errorf("%w: HTTP %d", ErrUnreachable, resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, NewTSAError("fetch", fmt.Errorf("%w: %v", ErrUnreachable, err))
	}

	tsResp, err := ParseResponse(body)
	if err != nil {
		return nil, err
	}
	if !tsResp.IsGranted() {
		return nil, NewTSAError("response", fmt.Errorf("%w: %s %s", ErrRejected, tsResp.StatusString(), tsResp.FailureString()))
	}
	if tsResp.Token == nil {
		return nil, NewTSAError("response", fmt.Errorf("%w: granted without token", ErrInvalidResponse))
	}

	info := tsResp.Token.Info
	if info.Nonce == nil || info.Nonce.Cmp(req.Nonce) != 0 {
		return nil, NewTSAError("response", ErrNonceMismatch)
	}
	if !bytes.Equal(info.MessageImprint.HashedMessage, digest) {
		return nil, NewTSAError("response", ErrHashMismatch)
	}

	return tsResp.Token, nil
}
