package asic

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"fmt"
	"time"

	"github.com/remiblancher/asic/internal/cms"
	"github.com/remiblancher/asic/internal/tsa"
)

// TimestampType tells what a token covers.
type TimestampType int

const (
	// ContentTimestamp covers the data file of a timestamp-only ASiC-S.
	ContentTimestamp TimestampType = iota
	// SignatureTimestamp covers a signature value.
	SignatureTimestamp
	// ArchiveTimestamp covers a signature and all its evidence.
	ArchiveTimestamp
)

func (t TimestampType) String() string {
	switch t {
	case SignatureTimestamp:
		return "signature"
	case ArchiveTimestamp:
		return "archive"
	}
	return "content"
}

// TimestampToken is a parsed RFC 3161 token.
type TimestampToken struct {
	Raw             []byte
	Type            TimestampType
	GenTime         time.Time
	DigestAlgorithm crypto.Hash
	Imprint         []byte
	// Certificate is the TSA certificate embedded in the token, if any.
	Certificate *x509.Certificate
}

// ParseTimestampToken decodes a DER CMS timestamp token.
func ParseTimestampToken(der []byte) (*TimestampToken, error) {
	tok, err := tsa.ParseToken(der)
	if err != nil {
		return nil, err
	}
	h, err := tok.HashAlgorithm()
	if err != nil {
		return nil, tsa.NewTSAError("parse", fmt.Errorf("%w: %v", tsa.ErrUnsupportedHashAlgorithm, err))
	}

	t := &TimestampToken{
		Raw:             append([]byte(nil), der...),
		GenTime:         tok.GenTime().UTC(),
		DigestAlgorithm: h,
		Imprint:         tok.HashedMessage(),
	}
	if sd, err := cms.ParseSignedData(der); err == nil {
		if certs, err := sd.Certs(); err == nil && len(certs) > 0 {
			t.Certificate = certs[0]
		}
	}
	return t, nil
}

// withType returns a copy tagged with typ.
func (t *TimestampToken) withType(typ TimestampType) *TimestampToken {
	c := *t
	c.Type = typ
	return &c
}

// MatchData reports whether the imprint is the digest of data.
func (t *TimestampToken) MatchData(data []byte) bool {
	if t == nil || !t.DigestAlgorithm.Available() {
		return false
	}
	return bytes.Equal(digest(t.DigestAlgorithm, data), t.Imprint)
}

// MessageImprintIntact reports whether the CMS signature over the token
// verifies and its imprint has the length of its digest algorithm.
func (t *TimestampToken) MessageImprintIntact() bool {
	if t == nil || !t.DigestAlgorithm.Available() || len(t.Imprint) != t.DigestAlgorithm.Size() {
		return false
	}
	_, err := cms.Verify(t.Raw)
	return err == nil
}
