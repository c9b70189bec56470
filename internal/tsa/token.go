package tsa

import (
	"crypto"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"math/big"
	"time"

	"github.com/remiblancher/asic/internal/cms"
)

// TSTInfo represents the timestamp token info (RFC 3161 Section 2.4.2).
type TSTInfo struct {
	Version        int
	Policy         asn1.ObjectIdentifier
	MessageImprint MessageImprint
	SerialNumber   *big.Int
	GenTime        time.Time        `asn1:"generalized"`
	Accuracy       Accuracy         `asn1:"optional"`
	Ordering       bool             `asn1:"optional,default:false"`
	Nonce          *big.Int         `asn1:"optional"`
	TSA            asn1.RawValue    `asn1:"optional,tag:0"`
	Extensions     []pkix.Extension `asn1:"optional,tag:1"`
}

// Accuracy represents the accuracy of the timestamp (RFC 3161 Section 2.4.2).
type Accuracy struct {
	Seconds int `asn1:"optional"`
	Millis  int `asn1:"optional,tag:0"`
	Micros  int `asn1:"optional,tag:1"`
}

// IsZero returns true if the accuracy is zero.
func (a Accuracy) IsZero() bool {
	return a.Seconds == 0 && a.Millis == 0 && a.Micros == 0
}

// TokenConfig contains options for creating a timestamp token.
type TokenConfig struct {
	Certificate *x509.Certificate
	Signer      crypto.Signer
	Policy      asn1.ObjectIdentifier
	Accuracy    Accuracy
	// Now overrides the generation time; used by test responders.
	Now func() time.Time
}

// SerialGenerator generates unique serial numbers for timestamps.
type SerialGenerator interface {
	Next() (*big.Int, error)
}

// RandomSerialGenerator generates random serial numbers.
type RandomSerialGenerator struct{}

// Next returns a random 128-bit serial number.
func (g *RandomSerialGenerator) Next() (*big.Int, error) {
	max := new(big.Int).Lsh(big.NewInt(1), 128)
	return rand.Int(rand.Reader, max)
}

// Token represents a complete timestamp token.
type Token struct {
	Info       *TSTInfo
	SignedData []byte // CMS SignedData containing the TSTInfo
}

// CreateToken creates a timestamp token from a request.
func CreateToken(req *TimeStampReq, config *TokenConfig, serialGen SerialGenerator) (*Token, error) {
	if config.Certificate == nil {
		return nil, NewTSAError("sign", fmt.Errorf("certificate is required"))
	}
	if config.Signer == nil {
		return nil, NewTSAError("sign", fmt.Errorf("signer is required"))
	}
	if len(config.Policy) == 0 {
		return nil, NewTSAError("sign", fmt.Errorf("policy OID is required"))
	}

	serial, err := serialGen.Next()
	if err != nil {
		return nil, NewTSAError("sign", fmt.Errorf("failed to generate serial: %w", err))
	}

	now := time.Now
	if config.Now != nil {
		now = config.Now
	}

	tstInfo := TSTInfo{
		Version:        1,
		Policy:         config.Policy,
		MessageImprint: req.MessageImprint,
		SerialNumber:   serial,
		GenTime:        now().UTC().Truncate(time.Second),
		Nonce:          req.Nonce,
		Accuracy:       config.Accuracy,
	}

	tstInfoDER, err := asn1.Marshal(tstInfo)
	if err != nil {
		return nil, NewTSAError("sign", fmt.Errorf("failed to marshal TSTInfo: %w", err))
	}

	hashAlg, err := req.HashAlgorithm()
	if err != nil {
		hashAlg = crypto.SHA256
	}

	signedData, err := cms.Sign(tstInfoDER, &cms.SignerConfig{
		Certificate:  config.Certificate,
		Signer:       config.Signer,
		DigestAlg:    hashAlg,
		IncludeCerts: req.CertReq,
		SigningTime:  tstInfo.GenTime,
		ContentType:  cms.OIDTSTInfo,
	})
	if err != nil {
		return nil, NewTSAError("sign", fmt.Errorf("failed to create SignedData: %w", err))
	}

	return &Token{
		Info:       &tstInfo,
		SignedData: signedData,
	}, nil
}

// ParseToken parses a DER-encoded timestamp token (CMS SignedData).
func ParseToken(data []byte) (*Token, error) {
	sd, err := cms.ParseSignedData(data)
	if err != nil {
		return nil, NewTSAError("parse", fmt.Errorf("%w: %v", ErrInvalidToken, err))
	}
	if !sd.EncapContentInfo.EContentType.Equal(cms.OIDTSTInfo) {
		return nil, NewTSAError("parse", fmt.Errorf("%w: unexpected encapsulated content type %v",
			ErrInvalidToken, sd.EncapContentInfo.EContentType))
	}

	tstInfoDER, err := sd.Content()
	if err != nil {
		return nil, NewTSAError("parse", fmt.Errorf("%w: %v", ErrInvalidToken, err))
	}

	var tstInfo TSTInfo
	if _, err := asn1.Unmarshal(tstInfoDER, &tstInfo); err != nil {
		return nil, NewTSAError("parse", fmt.Errorf("%w: failed to parse TSTInfo: %v", ErrInvalidToken, err))
	}

	return &Token{
		Info:       &tstInfo,
		SignedData: data,
	}, nil
}

// GenTime returns the generation time of the token.
func (t *Token) GenTime() time.Time {
	if t.Info == nil {
		return time.Time{}
	}
	return t.Info.GenTime
}

// SerialNumber returns the serial number of the token.
func (t *Token) SerialNumber() *big.Int {
	if t.Info == nil {
		return nil
	}
	return t.Info.SerialNumber
}

// HashAlgorithm returns the hash algorithm used in the message imprint.
func (t *Token) HashAlgorithm() (crypto.Hash, error) {
	if t.Info == nil {
		return 0, fmt.Errorf("no TSTInfo")
	}
	return cms.HashFromOID(t.Info.MessageImprint.HashAlgorithm.Algorithm)
}

// HashedMessage returns the hashed message from the message imprint.
func (t *Token) HashedMessage() []byte {
	if t.Info == nil {
		return nil
	}
	return t.Info.MessageImprint.HashedMessage
}
