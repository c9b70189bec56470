// Package xades builds, parses and checks XAdES signatures in the layout used
// by ASiC and BDoc containers. Documents are manipulated with etree and
// canonicalized with exclusive C14N from signedxml.
package xades

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"fmt"
)

// Namespaces
const (
	NamespaceDS       = "http://www.w3.org/2000/09/xmldsig#"
	NamespaceXAdES    = "http://uri.etsi.org/01903/v1.3.2#"
	NamespaceXAdES141 = "http://uri.etsi.org/01903/v1.4.1#"
	NamespaceASiC     = "http://uri.etsi.org/02918/v1.2.1#"
)

// Algorithm URIs
const (
	AlgExcC14N             = "http://www.w3.org/2001/10/xml-exc-c14n#"
	TypeSignedProperties   = "http://uri.etsi.org/01903#SignedProperties"
	QualifierOIDAsURN      = "OIDAsURN"
	encapsulatedOCSPPrefix = "ocsp"
)

// Tags
const (
	tagSignature                 = "Signature"
	tagSignedInfo                = "SignedInfo"
	tagSignatureMethod           = "SignatureMethod"
	tagReference                 = "Reference"
	tagDigestMethod              = "DigestMethod"
	tagDigestValue               = "DigestValue"
	tagSignatureValue            = "SignatureValue"
	tagKeyInfo                   = "KeyInfo"
	tagX509Certificate           = "X509Certificate"
	tagQualifyingProperties      = "QualifyingProperties"
	tagSignedProperties          = "SignedProperties"
	tagSignedSignatureProperties = "SignedSignatureProperties"
	tagSigningTime               = "SigningTime"
	tagSignaturePolicyIdentifier = "SignaturePolicyIdentifier"
	tagIdentifier                = "Identifier"
	tagSPURI                     = "SPURI"
	tagProductionPlace           = "SignatureProductionPlace"
	tagClaimedRole               = "ClaimedRole"
	tagDataObjectFormat          = "DataObjectFormat"
	tagMimeType                  = "MimeType"
	tagUnsignedProperties        = "UnsignedProperties"
	tagUnsignedSigProperties     = "UnsignedSignatureProperties"
	tagSignatureTimeStamp        = "SignatureTimeStamp"
	tagArchiveTimeStamp          = "ArchiveTimeStamp"
	tagEncapsulatedTimeStamp     = "EncapsulatedTimeStamp"
	tagRevocationValues          = "RevocationValues"
	tagOCSPValues                = "OCSPValues"
	tagEncapsulatedOCSPValue     = "EncapsulatedOCSPValue"
	tagCertificateValues         = "CertificateValues"
	tagEncapsulatedX509Cert      = "EncapsulatedX509Certificate"
)

var digestMethodURIs = map[crypto.Hash]string{
	crypto.SHA1:   "http://www.w3.org/2000/09/xmldsig#sha1",
	crypto.SHA224: "http://www.w3.org/2001/04/xmldsig-more#sha224",
	crypto.SHA256: "http://www.w3.org/2001/04/xmlenc#sha256",
	crypto.SHA384: "http://www.w3.org/2001/04/xmldsig-more#sha384",
	crypto.SHA512: "http://www.w3.org/2001/04/xmlenc#sha512",
}

var rsaMethodURIs = map[crypto.Hash]string{
	crypto.SHA1:   "http://www.w3.org/2000/09/xmldsig#rsa-sha1",
	crypto.SHA224: "http://www.w3.org/2001/04/xmldsig-more#rsa-sha224",
	crypto.SHA256: "http://www.w3.org/2001/04/xmldsig-more#rsa-sha256",
	crypto.SHA384: "http://www.w3.org/2001/04/xmldsig-more#rsa-sha384",
	crypto.SHA512: "http://www.w3.org/2001/04/xmldsig-more#rsa-sha512",
}

var ecdsaMethodURIs = map[crypto.Hash]string{
	crypto.SHA1:   "http://www.w3.org/2001/04/xmldsig-more#ecdsa-sha1",
	crypto.SHA224: "http://www.w3.org/2001/04/xmldsig-more#ecdsa-sha224",
	crypto.SHA256: "http://www.w3.org/2001/04/xmldsig-more#ecdsa-sha256",
	crypto.SHA384: "http://www.w3.org/2001/04/xmldsig-more#ecdsa-sha384",
	crypto.SHA512: "http://www.w3.org/2001/04/xmldsig-more#ecdsa-sha512",
}

// DigestMethodURI returns the XML digest method URI for h.
func DigestMethodURI(h crypto.Hash) (string, error) {
	uri, ok := digestMethodURIs[h]
	if !ok {
		return "", fmt.Errorf("%w: digest %v", ErrUnsupportedAlgorithm, h)
	}
	return uri, nil
}

// HashFromDigestURI resolves a digest method URI.
func HashFromDigestURI(uri string) (crypto.Hash, error) {
	for h, u := range digestMethodURIs {
		if u == uri {
			return h, nil
		}
	}
	return 0, fmt.Errorf("%w: digest method %s", ErrUnsupportedAlgorithm, uri)
}

// SignatureMethodURI returns the signature method URI for a public key and hash.
func SignatureMethodURI(pub crypto.PublicKey, h crypto.Hash) (string, error) {
	var table map[crypto.Hash]string
	switch pub.(type) {
	case *rsa.PublicKey:
		table = rsaMethodURIs
	case *ecdsa.PublicKey:
		table = ecdsaMethodURIs
	default:
		return "", fmt.Errorf("%w: key type %T", ErrUnsupportedAlgorithm, pub)
	}
	uri, ok := table[h]
	if !ok {
		return "", fmt.Errorf("%w: signature digest %v", ErrUnsupportedAlgorithm, h)
	}
	return uri, nil
}

// HashFromSignatureURI resolves the digest half of a signature method URI.
func HashFromSignatureURI(uri string) (crypto.Hash, error) {
	for _, table := range []map[crypto.Hash]string{rsaMethodURIs, ecdsaMethodURIs} {
		for h, u := range table {
			if u == uri {
				return h, nil
			}
		}
	}
	return 0, fmt.Errorf("%w: signature method %s", ErrUnsupportedAlgorithm, uri)
}
