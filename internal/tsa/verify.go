package tsa

import (
	"bytes"
	"crypto/x509"
	"fmt"

	"github.com/remiblancher/asic/internal/cms"
)

// VerifyResult contains the result of token verification.
type VerifyResult struct {
	Token      *Token
	SignerCert *x509.Certificate
	// HashMatch is true if Data matched the message imprint.
	HashMatch bool
}

// Verify checks the CMS signature of a token and, when data is given,
// that the message imprint covers it. Certificate chains are not validated.
func Verify(tokenData []byte, data []byte) (*VerifyResult, error) {
	token, err := ParseToken(tokenData)
	if err != nil {
		return nil, err
	}

	res, err := cms.Verify(tokenData)
	if err != nil {
		return nil, NewTSAError("verify", fmt.Errorf("%w: %v", ErrVerificationFailed, err))
	}

	result := &VerifyResult{Token: token, SignerCert: res.SignerCert}
	if data == nil {
		return result, nil
	}

	ok, err := token.Matches(data)
	if err != nil {
		return nil, NewTSAError("verify", err)
	}
	if !ok {
		return nil, NewTSAError("verify", ErrHashMismatch)
	}
	result.HashMatch = true
	return result, nil
}

// Matches reports whether the message imprint is the digest of data.
func (t *Token) Matches(data []byte) (bool, error) {
	hashAlg, err := t.HashAlgorithm()
	if err != nil {
		return false, err
	}
	h := hashAlg.New()
	h.Write(data)
	return bytes.Equal(h.Sum(nil), t.HashedMessage()), nil
}
