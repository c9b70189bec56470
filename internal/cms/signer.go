package cms

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	_ "crypto/sha1"
	_ "crypto/sha256"
	_ "crypto/sha512"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"time"
)

// SignerConfig contains options for signing.
type SignerConfig struct {
	Certificate  *x509.Certificate
	Signer       crypto.Signer
	DigestAlg    crypto.Hash
	IncludeCerts bool
	SigningTime  time.Time
	ContentType  asn1.ObjectIdentifier
}

// Sign creates a CMS SignedData structure with encapsulated content.
func Sign(content []byte, config *SignerConfig) ([]byte, error) {
	if config.Certificate == nil {
		return nil, fmt.Errorf("certificate is required")
	}
	if config.Signer == nil {
		return nil, fmt.Errorf("signer is required")
	}
	if config.DigestAlg == 0 {
		config.DigestAlg = crypto.SHA256
	}
	if config.SigningTime.IsZero() {
		config.SigningTime = time.Now().UTC()
	}
	if len(config.ContentType) == 0 {
		config.ContentType = OIDData
	}

	digest, err := computeDigest(content, config.DigestAlg)
	if err != nil {
		return nil, fmt.Errorf("failed to compute digest: %w", err)
	}

	signedAttrs, err := buildSignedAttrs(config.ContentType, digest, config.SigningTime)
	if err != nil {
		return nil, fmt.Errorf("failed to build signed attributes: %w", err)
	}

	signedAttrsDER, err := MarshalSignedAttrs(signedAttrs)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal signed attributes: %w", err)
	}

	signature, err := signData(signedAttrsDER, config.Signer, config.DigestAlg)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}

	digestAlgID, err := DigestAlgorithmIdentifier(config.DigestAlg)
	if err != nil {
		return nil, err
	}
	sigAlgID, err := signatureAlgorithmIdentifier(config.Signer, config.DigestAlg)
	if err != nil {
		return nil, fmt.Errorf("failed to get signature algorithm: %w", err)
	}

	signerInfo := SignerInfo{
		Version: 1,
		SID: IssuerAndSerialNumber{
			Issuer:       asn1.RawValue{FullBytes: config.Certificate.RawIssuer},
			SerialNumber: config.Certificate.SerialNumber,
		},
		DigestAlgorithm:    digestAlgID,
		SignedAttrs:        signedAttrs,
		SignatureAlgorithm: sigAlgID,
		Signature:          signature,
	}

	octets, err := asn1.Marshal(content)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal content: %w", err)
	}

	signedData := SignedData{
		Version:          3,
		DigestAlgorithms: []pkix.AlgorithmIdentifier{digestAlgID},
		EncapContentInfo: EncapsulatedContentInfo{
			EContentType: config.ContentType,
			EContent:     asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 0, IsCompound: true, Bytes: octets},
		},
		SignerInfos: []SignerInfo{signerInfo},
	}

	if config.IncludeCerts {
		signedData.Certificates = asn1.RawValue{
			Class:      asn1.ClassContextSpecific,
			Tag:        0,
			IsCompound: true,
			Bytes:      config.Certificate.Raw,
		}
	}

	signedDataDER, err := asn1.Marshal(signedData)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal SignedData: %w", err)
	}

	contentInfo := ContentInfo{
		ContentType: OIDSignedData,
		Content:     asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 0, IsCompound: true, Bytes: signedDataDER},
	}

	return asn1.Marshal(contentInfo)
}

func buildSignedAttrs(contentType asn1.ObjectIdentifier, digest []byte, signingTime time.Time) ([]Attribute, error) {
	ctAttr, err := NewAttribute(OIDContentType, contentType)
	if err != nil {
		return nil, err
	}
	mdAttr, err := NewAttribute(OIDMessageDigest, digest)
	if err != nil {
		return nil, err
	}
	stAttr, err := NewAttribute(OIDSigningTime, signingTime.UTC())
	if err != nil {
		return nil, err
	}
	return []Attribute{ctAttr, mdAttr, stAttr}, nil
}

func computeDigest(data []byte, alg crypto.Hash) ([]byte, error) {
	if !alg.Available() {
		return nil, fmt.Errorf("unsupported digest algorithm: %v", alg)
	}
	h := alg.New()
	h.Write(data)
	return h.Sum(nil), nil
}

func signData(data []byte, signer crypto.Signer, digestAlg crypto.Hash) ([]byte, error) {
	digest, err := computeDigest(data, digestAlg)
	if err != nil {
		return nil, err
	}
	return signer.Sign(rand.Reader, digest, digestAlg)
}

// DigestAlgorithmIdentifier returns the AlgorithmIdentifier for a hash.
func DigestAlgorithmIdentifier(alg crypto.Hash) (pkix.AlgorithmIdentifier, error) {
	switch alg {
	case crypto.SHA1:
		return pkix.AlgorithmIdentifier{Algorithm: OIDSHA1}, nil
	case crypto.SHA256:
		return pkix.AlgorithmIdentifier{Algorithm: OIDSHA256}, nil
	case crypto.SHA384:
		return pkix.AlgorithmIdentifier{Algorithm: OIDSHA384}, nil
	case crypto.SHA512:
		return pkix.AlgorithmIdentifier{Algorithm: OIDSHA512}, nil
	default:
		return pkix.AlgorithmIdentifier{}, fmt.Errorf("unsupported digest algorithm: %v", alg)
	}
}

// HashFromOID converts a hash algorithm OID to crypto.Hash.
func HashFromOID(oid asn1.ObjectIdentifier) (crypto.Hash, error) {
	switch {
	case oid.Equal(OIDSHA1):
		return crypto.SHA1, nil
	case oid.Equal(OIDSHA256):
		return crypto.SHA256, nil
	case oid.Equal(OIDSHA384):
		return crypto.SHA384, nil
	case oid.Equal(OIDSHA512):
		return crypto.SHA512, nil
	default:
		return 0, fmt.Errorf("unsupported hash algorithm: %v", oid)
	}
}

func signatureAlgorithmIdentifier(signer crypto.Signer, digestAlg crypto.Hash) (pkix.AlgorithmIdentifier, error) {
	switch signer.Public().(type) {
	case *ecdsa.PublicKey:
		switch digestAlg {
		case crypto.SHA256:
			return pkix.AlgorithmIdentifier{Algorithm: OIDECDSAWithSHA256}, nil
		case crypto.SHA384:
			return pkix.AlgorithmIdentifier{Algorithm: OIDECDSAWithSHA384}, nil
		case crypto.SHA512:
			return pkix.AlgorithmIdentifier{Algorithm: OIDECDSAWithSHA512}, nil
		}
		return pkix.AlgorithmIdentifier{}, fmt.Errorf("unsupported ECDSA digest: %v", digestAlg)
	case *rsa.PublicKey:
		switch digestAlg {
		case crypto.SHA256:
			return pkix.AlgorithmIdentifier{Algorithm: OIDSHA256WithRSA, Parameters: asn1.NullRawValue}, nil
		case crypto.SHA384:
			return pkix.AlgorithmIdentifier{Algorithm: OIDSHA384WithRSA, Parameters: asn1.NullRawValue}, nil
		case crypto.SHA512:
			return pkix.AlgorithmIdentifier{Algorithm: OIDSHA512WithRSA, Parameters: asn1.NullRawValue}, nil
		}
		return pkix.AlgorithmIdentifier{}, fmt.Errorf("unsupported RSA digest: %v", digestAlg)
	default:
		return pkix.AlgorithmIdentifier{}, fmt.Errorf("unsupported public key type: %T", signer.Public())
	}
}
