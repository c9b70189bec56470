package cms

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/asn1"
	"fmt"
	"time"
)

// VerifyResult contains the result of signature verification.
type VerifyResult struct {
	// SignerCert is the certificate that signed the content
	SignerCert *x509.Certificate
	// Content is the encapsulated content
	Content []byte
	// SigningTime is the signing time from signed attributes (if present)
	SigningTime time.Time
	// ContentType is the eContentType OID
	ContentType asn1.ObjectIdentifier
}

// Verify checks the first SignerInfo of a SignedData against the embedded
// signer certificate. The certificate chain itself is not validated.
func Verify(der []byte) (*VerifyResult, error) {
	sd, err := ParseSignedData(der)
	if err != nil {
		return nil, err
	}
	if len(sd.SignerInfos) == 0 {
		return nil, fmt.Errorf("no signer info in SignedData")
	}

	certs, err := sd.Certs()
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificates: %w", err)
	}
	si := sd.SignerInfos[0]
	signer := findSigner(certs, si.SID)
	if signer == nil {
		return nil, fmt.Errorf("no signer certificate found in SignedData")
	}

	content, err := sd.Content()
	if err != nil {
		return nil, err
	}

	if err := verifySignerInfo(&si, signer, content); err != nil {
		return nil, fmt.Errorf("signature verification failed: %w", err)
	}

	return &VerifyResult{
		SignerCert:  signer,
		Content:     content,
		SigningTime: sd.SigningTime(),
		ContentType: sd.EncapContentInfo.EContentType,
	}, nil
}

func findSigner(certs []*x509.Certificate, sid IssuerAndSerialNumber) *x509.Certificate {
	for _, c := range certs {
		if c.SerialNumber.Cmp(sid.SerialNumber) == 0 && bytes.Equal(c.RawIssuer, sid.Issuer.FullBytes) {
			return c
		}
	}
	return nil
}

func verifySignerInfo(si *SignerInfo, cert *x509.Certificate, content []byte) error {
	hashAlg, err := HashFromOID(si.DigestAlgorithm.Algorithm)
	if err != nil {
		return err
	}

	if len(si.SignedAttrs) == 0 {
		return verifySignatureBytes(content, si.Signature, cert, hashAlg)
	}

	contentDigest, err := computeDigest(content, hashAlg)
	if err != nil {
		return fmt.Errorf("failed to compute content digest: %w", err)
	}

	found := false
	for _, attr := range si.SignedAttrs {
		if attr.Type.Equal(OIDMessageDigest) && len(attr.Values) > 0 {
			var md []byte
			if _, err := asn1.Unmarshal(attr.Values[0].FullBytes, &md); err != nil {
				return fmt.Errorf("failed to parse message digest: %w", err)
			}
			if !bytes.Equal(md, contentDigest) {
				return fmt.Errorf("message digest mismatch")
			}
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("no message digest attribute found")
	}

	signedAttrsDER, err := MarshalSignedAttrs(si.SignedAttrs)
	if err != nil {
		return fmt.Errorf("failed to marshal signed attributes: %w", err)
	}
	return verifySignatureBytes(signedAttrsDER, si.Signature, cert, hashAlg)
}

func verifySignatureBytes(data, signature []byte, cert *x509.Certificate, hashAlg crypto.Hash) error {
	digest, err := computeDigest(data, hashAlg)
	if err != nil {
		return err
	}

	switch pub := cert.PublicKey.(type) {
	case *ecdsa.PublicKey:
		if !ecdsa.VerifyASN1(pub, digest, signature) {
			return fmt.Errorf("ECDSA signature verification failed")
		}
		return nil
	case *rsa.PublicKey:
		if err := rsa.VerifyPKCS1v15(pub, hashAlg, digest, signature); err != nil {
			return fmt.Errorf("RSA signature verification failed: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unsupported public key type for verification: %T", cert.PublicKey)
	}
}
