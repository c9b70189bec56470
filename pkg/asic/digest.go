package asic

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	_ "crypto/sha256"
	_ "crypto/sha512"
	"crypto/x509"
	"fmt"
	"strings"
)

var digestNames = map[crypto.Hash]string{
	crypto.SHA224: "SHA224",
	crypto.SHA256: "SHA256",
	crypto.SHA384: "SHA384",
	crypto.SHA512: "SHA512",
}

// ParseDigestAlgorithm parses names such as "SHA256", "sha-384" or "SHA512".
func ParseDigestAlgorithm(s string) (crypto.Hash, error) {
	n := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", ""))
	for h, name := range digestNames {
		if name == n {
			return h, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown digest algorithm %q", ErrNotSupported, s)
}

// DigestName returns the short name of h, e.g. "SHA256".
func DigestName(h crypto.Hash) string {
	if n, ok := digestNames[h]; ok {
		return n
	}
	return h.String()
}

// DefaultDigestFor returns the signature digest matching the key strength of
// cert: SHA-256 for RSA and P-256, SHA-384 for P-384, SHA-512 for P-521.
func DefaultDigestFor(cert *x509.Certificate) crypto.Hash {
	if cert == nil {
		return crypto.SHA256
	}
	if pub, ok := cert.PublicKey.(*ecdsa.PublicKey); ok {
		switch pub.Curve {
		case elliptic.P384():
			return crypto.SHA384
		case elliptic.P521():
			return crypto.SHA512
		}
	}
	return crypto.SHA256
}

func digest(h crypto.Hash, data []byte) []byte {
	hh := h.New()
	hh.Write(data)
	return hh.Sum(nil)
}
