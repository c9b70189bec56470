// Package tsa implements the RFC 3161 Time-Stamp Protocol pieces used by
// signature containers: requests, tokens, responses and an HTTP client.
package tsa

import (
	"crypto"
	"crypto/rand"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"math/big"

	"github.com/remiblancher/asic/internal/cms"
)

// TimeStampReq represents a timestamp request (RFC 3161 Section 2.4.1).
type TimeStampReq struct {
	Version        int
	MessageImprint MessageImprint
	ReqPolicy      asn1.ObjectIdentifier `asn1:"optional"`
	Nonce          *big.Int              `asn1:"optional"`
	CertReq        bool                  `asn1:"optional,default:false"`
	Extensions     []pkix.Extension      `asn1:"optional,tag:0"`
}

// MessageImprint contains the hash of the data to be timestamped.
type MessageImprint struct {
	HashAlgorithm pkix.AlgorithmIdentifier
	HashedMessage []byte
}

// ParseRequest parses a DER-encoded TimeStampReq.
func ParseRequest(data []byte) (*TimeStampReq, error) {
	var req TimeStampReq
	rest, err := asn1.Unmarshal(data, &req)
	if err != nil {
		return nil, NewTSAError("parse", fmt.Errorf("%w: %v", ErrInvalidRequest, err))
	}
	if len(rest) > 0 {
		return nil, NewTSAError("parse", fmt.Errorf("%w: trailing data", ErrInvalidRequest))
	}
	if req.Version != 1 {
		return nil, NewTSAError("parse", fmt.Errorf("%w: unsupported TSP version %d", ErrInvalidRequest, req.Version))
	}

	hashAlg, err := cms.HashFromOID(req.MessageImprint.HashAlgorithm.Algorithm)
	if err != nil {
		return nil, NewTSAError("parse", fmt.Errorf("%w: %v", ErrUnsupportedHashAlgorithm, err))
	}
	if len(req.MessageImprint.HashedMessage) != hashAlg.Size() {
		return nil, NewTSAError("parse", fmt.Errorf("%w: hash length %d, expected %d",
			ErrInvalidRequest, len(req.MessageImprint.HashedMessage), hashAlg.Size()))
	}

	return &req, nil
}

// HashAlgorithm returns the crypto.Hash for the message imprint.
func (r *TimeStampReq) HashAlgorithm() (crypto.Hash, error) {
	return cms.HashFromOID(r.MessageImprint.HashAlgorithm.Algorithm)
}

// NewMessageImprint creates a MessageImprint from a precomputed digest.
func NewMessageImprint(hash crypto.Hash, digest []byte) (MessageImprint, error) {
	algID, err := cms.DigestAlgorithmIdentifier(hash)
	if err != nil {
		return MessageImprint{}, err
	}
	if len(digest) != hash.Size() {
		return MessageImprint{}, fmt.Errorf("digest length %d does not match %v", len(digest), hash)
	}
	return MessageImprint{HashAlgorithm: algID, HashedMessage: digest}, nil
}

// CreateRequest creates a TimeStampReq over an already computed digest.
// A random 64-bit nonce is attached.
func CreateRequest(hashAlg crypto.Hash, digest []byte, certReq bool) (*TimeStampReq, error) {
	imprint, err := NewMessageImprint(hashAlg, digest)
	if err != nil {
		return nil, NewTSAError("request", err)
	}
	nonce, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 64))
	if err != nil {
		return nil, NewTSAError("request", fmt.Errorf("failed to generate nonce: %w", err))
	}
	return &TimeStampReq{
		Version:        1,
		MessageImprint: imprint,
		Nonce:          nonce,
		CertReq:        certReq,
	}, nil
}

// Marshal encodes the TimeStampReq as DER.
func (r *TimeStampReq) Marshal() ([]byte, error) {
	return asn1.Marshal(*r)
}
