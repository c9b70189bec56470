package asic

import (
	"crypto"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/remiblancher/asic/internal/xades"
)

// Policy is an explicit signature policy.
type Policy struct {
	// ID is the policy OID, written as urn:oid:<oid>.
	ID              string
	DigestAlgorithm crypto.Hash
	DigestValue     []byte
	// QualifierURI is where the policy document can be fetched (SPURI).
	QualifierURI string
}

// DefaultBDocPolicy is embedded by B_EPES and LT_TM signatures that carry no
// custom policy.
var DefaultBDocPolicy = Policy{
	ID:              "urn:oid:1.3.6.1.4.1.10015.1000.3.2.1",
	DigestAlgorithm: crypto.SHA256,
	DigestValue:     mustDecode("7pudpH4eXlguSZY2e/pNbKzGsq+fu//woYL1SZFws1A="),
	QualifierURI:    "https://www.sk.ee/repository/bdoc-spec21.pdf",
}

func mustDecode(s string) []byte {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}

// Validate checks that the policy can be embedded.
func (p Policy) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("%w: policy id is required", ErrNotSupported)
	}
	if !p.DigestAlgorithm.Available() {
		return fmt.Errorf("%w: policy digest algorithm", ErrNotSupported)
	}
	if len(p.DigestValue) != p.DigestAlgorithm.Size() {
		return fmt.Errorf("%w: policy digest has %d bytes, want %d", ErrNotSupported, len(p.DigestValue), p.DigestAlgorithm.Size())
	}
	return nil
}

func (p Policy) identifier() string {
	if strings.HasPrefix(p.ID, "urn:oid:") {
		return p.ID
	}
	return "urn:oid:" + p.ID
}

func (p Policy) toXAdES() *xades.Policy {
	return &xades.Policy{
		Identifier:   p.identifier(),
		DigestMethod: p.DigestAlgorithm,
		DigestValue:  append([]byte(nil), p.DigestValue...),
		SPURI:        p.QualifierURI,
	}
}

func policyFromXAdES(p *xades.Policy) *Policy {
	if p == nil {
		return nil
	}
	return &Policy{
		ID:              p.Identifier,
		DigestAlgorithm: p.DigestMethod,
		DigestValue:     p.DigestValue,
		QualifierURI:    p.SPURI,
	}
}

// IsDefault reports whether p is the default BDoc policy.
func (p Policy) IsDefault() bool {
	return p.identifier() == DefaultBDocPolicy.ID
}
