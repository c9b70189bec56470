package asic

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"fmt"
	"math/big"

	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/cryptobyte/asn1"

	"github.com/remiblancher/asic/pkg/audit"
)

const defaultSignAttempts = 3

// normalizeSignatureValue checks value against the key family and returns it
// in the form embedded in XML-DSig: r||s for ECDSA, the raw block for RSA.
func normalizeSignatureValue(pub crypto.PublicKey, value []byte) ([]byte, error) {
	switch k := pub.(type) {
	case *ecdsa.PublicKey:
		size := (k.Curve.Params().BitSize + 7) / 8
		if len(value) == 2*size {
			return append([]byte(nil), value...), nil
		}
		r, s, ok := parseECDSADER(value)
		if !ok {
			return nil, fmt.Errorf("%w: %d bytes is neither r||s nor DER for %s",
				ErrInvalidSignatureValue, len(value), k.Curve.Params().Name)
		}
		n := k.Curve.Params().N
		if r.Sign() <= 0 || s.Sign() <= 0 || r.Cmp(n) >= 0 || s.Cmp(n) >= 0 {
			return nil, fmt.Errorf("%w: ECDSA integers out of range", ErrInvalidSignatureValue)
		}
		out := make([]byte, 2*size)
		r.FillBytes(out[:size])
		s.FillBytes(out[size:])
		return out, nil
	case *rsa.PublicKey:
		if len(value) != k.Size() {
			return nil, fmt.Errorf("%w: RSA value has %d bytes, modulus has %d",
				ErrInvalidSignatureValue, len(value), k.Size())
		}
		return append([]byte(nil), value...), nil
	}
	return nil, fmt.Errorf("%w: unsupported key type %T", ErrInvalidSignatureValue, pub)
}

func parseECDSADER(der []byte) (*big.Int, *big.Int, bool) {
	var (
		r, s  = new(big.Int), new(big.Int)
		inner cryptobyte.String
	)
	input := cryptobyte.String(der)
	if !input.ReadASN1(&inner, asn1.SEQUENCE) ||
		!input.Empty() ||
		!inner.ReadASN1Integer(r) ||
		!inner.ReadASN1Integer(s) ||
		!inner.Empty() {
		return nil, nil, false
	}
	return r, s, true
}

// PlausibleSignatureValue reports whether value has a usable shape for pub.
// Some smart cards occasionally return a fixed-length blob (72 bytes on
// P-256) that is neither r||s nor valid DER.
func PlausibleSignatureValue(pub crypto.PublicKey, value []byte) bool {
	_, err := normalizeSignatureValue(pub, value)
	return err == nil
}

// SignWithRetry asks tok to sign dts until it yields a plausible value, at
// most attempts times. The last value is returned even when implausible, so
// Finalize reports the shape error. Token errors are not retried.
func SignWithRetry(tok Token, dts *DataToSign, attempts int) ([]byte, error) {
	if tok == nil {
		return nil, NewSignatureError("sign", ErrSignatureTokenMissing)
	}
	if attempts < 1 {
		attempts = 1
	}
	cert := dts.params.signingCert

	var value []byte
	for i := 0; i < attempts; i++ {
		v, err := tok.Sign(dts.DigestAlgorithm(), dts.Bytes())
		if err != nil {
			_ = audit.LogKeyAccessed(tok.Alias(), false, err.Error())
			return nil, NewSignatureError("sign", err)
		}
		value = v
		if PlausibleSignatureValue(cert.PublicKey, v) {
			break
		}
		dts.logger.Warn("implausible signature value, signing again",
			"alias", tok.Alias(), "attempt", i+1, "length", len(v))
	}
	if err := audit.LogKeyAccessed(tok.Alias(), true, ""); err != nil {
		return nil, err
	}
	return value, nil
}
