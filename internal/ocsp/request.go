package ocsp

import (
	"crypto"
	_ "crypto/sha1"
	_ "crypto/sha256"
	_ "crypto/sha512"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/base64"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
)

// OCSPRequest represents an OCSP request (RFC 6960 §4.1.1).
type OCSPRequest struct {
	TBSRequest        TBSRequest
	OptionalSignature asn1.RawValue `asn1:"optional,explicit,tag:0"`
}

// TBSRequest is the to-be-signed part of an OCSP request.
type TBSRequest struct {
	Version           int              `asn1:"optional,explicit,tag:0,default:0"`
	RequestorName     asn1.RawValue    `asn1:"optional,explicit,tag:1"`
	RequestList       []Request        `asn1:"sequence"`
	RequestExtensions []pkix.Extension `asn1:"optional,explicit,tag:2"`
}

// Request represents a single certificate status request.
type Request struct {
	ReqCert                 CertID
	SingleRequestExtensions []pkix.Extension `asn1:"optional,explicit,tag:0"`
}

// CertID identifies a certificate for which status is requested.
type CertID struct {
	HashAlgorithm  pkix.AlgorithmIdentifier
	IssuerNameHash []byte
	IssuerKeyHash  []byte
	SerialNumber   *big.Int
}

var hashOIDs = map[crypto.Hash]asn1.ObjectIdentifier{
	crypto.SHA1:   OIDSHA1,
	crypto.SHA256: OIDSHA256,
	crypto.SHA384: OIDSHA384,
	crypto.SHA512: OIDSHA512,
}

func hashFromOID(oid asn1.ObjectIdentifier) (crypto.Hash, bool) {
	for h, o := range hashOIDs {
		if o.Equal(oid) {
			return h, true
		}
	}
	return 0, false
}

// ParseRequest parses a DER-encoded OCSP request.
func ParseRequest(data []byte) (*OCSPRequest, error) {
	var req OCSPRequest
	rest, err := asn1.Unmarshal(data, &req)
	if err != nil {
		return nil, NewOCSPError("parse", fmt.Errorf("%w: %v", ErrInvalidRequest, err))
	}
	if len(rest) > 0 {
		return nil, NewOCSPError("parse", fmt.Errorf("%w: trailing data", ErrInvalidRequest))
	}
	if req.TBSRequest.Version != 0 {
		return nil, NewOCSPError("parse", fmt.Errorf("%w: unsupported version %d", ErrInvalidRequest, req.TBSRequest.Version))
	}
	if len(req.TBSRequest.RequestList) == 0 {
		return nil, NewOCSPError("parse", fmt.Errorf("%w: no certificate requests", ErrInvalidRequest))
	}
	return &req, nil
}

// ParseRequestFromHTTP parses an OCSP request from an HTTP request.
// Supports both GET (base64 in path) and POST (binary body).
func ParseRequestFromHTTP(r *http.Request) (*OCSPRequest, error) {
	switch r.Method {
	case http.MethodGet:
		path := strings.TrimPrefix(r.URL.Path, "/")
		if path == "" {
			return nil, NewOCSPError("parse", fmt.Errorf("%w: empty GET path", ErrInvalidRequest))
		}
		decoded, err := url.PathUnescape(path)
		if err != nil {
			return nil, NewOCSPError("parse", fmt.Errorf("%w: %v", ErrInvalidRequest, err))
		}
		data, err := base64.StdEncoding.DecodeString(decoded)
		if err != nil {
			if data, err = base64.RawURLEncoding.DecodeString(decoded); err != nil {
				return nil, NewOCSPError("parse", fmt.Errorf("%w: %v", ErrInvalidRequest, err))
			}
		}
		return ParseRequest(data)
	case http.MethodPost:
		data, err := io.ReadAll(io.LimitReader(r.Body, maxResponseSize))
		if err != nil {
			return nil, NewOCSPError("parse", fmt.Errorf("failed to read request body: %w", err))
		}
		if len(data) == 0 {
			return nil, NewOCSPError("parse", fmt.Errorf("%w: empty body", ErrInvalidRequest))
		}
		return ParseRequest(data)
	default:
		return nil, NewOCSPError("parse", fmt.Errorf("unsupported HTTP method: %s", r.Method))
	}
}

// GetNonce extracts the nonce extension from the request, if present.
func (req *OCSPRequest) GetNonce() []byte {
	return nonceFromExtensions(req.TBSRequest.RequestExtensions)
}

func nonceFromExtensions(exts []pkix.Extension) []byte {
	for _, ext := range exts {
		if ext.Id.Equal(OIDOcspNonce) {
			var nonce []byte
			if _, err := asn1.Unmarshal(ext.Value, &nonce); err == nil {
				return nonce
			}
			return ext.Value
		}
	}
	return nil
}

// NonceExtension encodes nonce as an id-pkix-ocsp-nonce extension.
func NonceExtension(nonce []byte) (pkix.Extension, error) {
	value, err := asn1.Marshal(nonce)
	if err != nil {
		return pkix.Extension{}, fmt.Errorf("failed to marshal nonce: %w", err)
	}
	return pkix.Extension{Id: OIDOcspNonce, Value: value}, nil
}

// NewCertID creates a CertID for a certificate issued by the given issuer.
func NewCertID(hashAlg crypto.Hash, issuer *x509.Certificate, serial *big.Int) (*CertID, error) {
	oid, ok := hashOIDs[hashAlg]
	if !ok {
		return nil, fmt.Errorf("unsupported hash algorithm: %v", hashAlg)
	}

	// issuerKeyHash covers the subjectPublicKey BIT STRING value only.
	var spki struct {
		Algorithm pkix.AlgorithmIdentifier
		PublicKey asn1.BitString
	}
	if _, err := asn1.Unmarshal(issuer.RawSubjectPublicKeyInfo, &spki); err != nil {
		return nil, fmt.Errorf("failed to parse issuer SubjectPublicKeyInfo: %w", err)
	}

	nameHash := hashAlg.New()
	nameHash.Write(issuer.RawSubject)
	keyHash := hashAlg.New()
	keyHash.Write(spki.PublicKey.Bytes)

	return &CertID{
		HashAlgorithm:  pkix.AlgorithmIdentifier{Algorithm: oid, Parameters: asn1.NullRawValue},
		IssuerNameHash: nameHash.Sum(nil),
		IssuerKeyHash:  keyHash.Sum(nil),
		SerialNumber:   serial,
	}, nil
}

// CreateRequestWithNonce creates a single-certificate OCSP request carrying
// a nonce extension. A nil nonce omits the extension.
func CreateRequestWithNonce(issuer, cert *x509.Certificate, hashAlg crypto.Hash, nonce []byte) (*OCSPRequest, error) {
	certID, err := NewCertID(hashAlg, issuer, cert.SerialNumber)
	if err != nil {
		return nil, NewOCSPError("request", err)
	}

	req := &OCSPRequest{
		TBSRequest: TBSRequest{
			RequestList: []Request{{ReqCert: *certID}},
		},
	}
	if nonce != nil {
		ext, err := NonceExtension(nonce)
		if err != nil {
			return nil, NewOCSPError("request", err)
		}
		req.TBSRequest.RequestExtensions = []pkix.Extension{ext}
	}
	return req, nil
}

// Marshal encodes the OCSP request to DER format.
func (req *OCSPRequest) Marshal() ([]byte, error) {
	return asn1.Marshal(*req)
}

// MatchesIssuer checks if the CertID's issuer hashes match the given issuer.
func (id *CertID) MatchesIssuer(issuer *x509.Certificate) bool {
	hashAlg, ok := hashFromOID(id.HashAlgorithm.Algorithm)
	if !ok {
		return false
	}
	expected, err := NewCertID(hashAlg, issuer, id.SerialNumber)
	if err != nil {
		return false
	}
	return string(id.IssuerNameHash) == string(expected.IssuerNameHash) &&
		string(id.IssuerKeyHash) == string(expected.IssuerKeyHash)
}
