package asic

import (
	"crypto/x509"
	"time"

	xocsp "golang.org/x/crypto/ocsp"

	"github.com/remiblancher/asic/internal/xades"
)

// Signature is a finalized signature. It is a value: extension produces a
// new Signature and never mutates an existing one.
type Signature struct {
	doc     *xades.Document
	raw     []byte
	profile Profile
}

func newSignature(doc *xades.Document) (*Signature, error) {
	raw, err := doc.Bytes()
	if err != nil {
		return nil, NewSignatureError("finalize", err)
	}
	return newSignatureFromRaw(doc, raw), nil
}

// newSignatureFromRaw keeps raw as is so a reopened signature is written
// back byte for byte.
func newSignatureFromRaw(doc *xades.Document, raw []byte) *Signature {
	return &Signature{
		doc:     doc,
		raw:     append([]byte(nil), raw...),
		profile: detectProfile(doc),
	}
}

// detectProfile derives the realized level from the evidence present.
func detectProfile(doc *xades.Document) Profile {
	ats, _ := doc.ArchiveTimestamps()
	sts, _ := doc.SignatureTimestamps()
	ocsps, _ := doc.OCSPResponses()
	hasPolicy := doc.Policy() != nil

	switch {
	case len(ats) > 0:
		return ProfileLTA
	case len(sts) > 0 && len(ocsps) > 0:
		return ProfileLT
	case hasPolicy && len(ocsps) > 0:
		return ProfileLTTM
	case hasPolicy:
		return ProfileBEPES
	}
	return ProfileBBES
}

// ID returns the signature id.
func (s *Signature) ID() string { return s.doc.ID() }

// Profile returns the realized profile.
func (s *Signature) Profile() Profile { return s.profile }

// ClaimedSigningTime returns the signer-claimed time from SignedProperties.
func (s *Signature) ClaimedSigningTime() time.Time { return s.doc.SigningTime() }

func (s *Signature) City() string            { return s.doc.ProductionPlace().City }
func (s *Signature) StateOrProvince() string { return s.doc.ProductionPlace().StateOrProvince }
func (s *Signature) PostalCode() string      { return s.doc.ProductionPlace().PostalCode }
func (s *Signature) CountryName() string     { return s.doc.ProductionPlace().CountryName }
func (s *Signature) SignerRoles() []string   { return s.doc.Roles() }

// SigningCertificate returns the certificate from KeyInfo, or nil.
func (s *Signature) SigningCertificate() *x509.Certificate {
	cert, err := s.doc.Certificate()
	if err != nil {
		return nil
	}
	return cert
}

// Policy returns the embedded signature policy, or nil.
func (s *Signature) Policy() *Policy {
	return policyFromXAdES(s.doc.Policy())
}

// SignatureDigestAlgorithm returns the name of the SignedInfo digest.
func (s *Signature) SignatureDigestAlgorithm() string {
	h, err := s.doc.SignatureDigest()
	if err != nil {
		return ""
	}
	return DigestName(h)
}

// ocspResponse returns the most recent parsed OCSP response.
func (s *Signature) ocspResponse() *xocsp.Response {
	raws, err := s.doc.OCSPResponses()
	if err != nil || len(raws) == 0 {
		return nil
	}
	resp, err := xocsp.ParseResponse(raws[len(raws)-1], nil)
	if err != nil {
		return nil
	}
	return resp
}

// OCSPResponseCreationTime returns producedAt of the latest OCSP response,
// or the zero time for B levels.
func (s *Signature) OCSPResponseCreationTime() time.Time {
	if resp := s.ocspResponse(); resp != nil {
		return resp.ProducedAt.UTC()
	}
	return time.Time{}
}

// OCSPCertificate returns the certificate that signed the latest OCSP
// response. Responses signed by the issuing CA carry no certificate, so the
// embedded validation certificates are tried.
func (s *Signature) OCSPCertificate() *x509.Certificate {
	resp := s.ocspResponse()
	if resp == nil {
		return nil
	}
	if resp.Certificate != nil {
		return resp.Certificate
	}
	certs, _ := s.doc.Certificates()
	for _, c := range certs {
		if resp.CheckSignatureFrom(c) == nil {
			return c
		}
	}
	return nil
}

func (s *Signature) signatureTimestamp() *TimestampToken {
	raws, err := s.doc.SignatureTimestamps()
	if err != nil || len(raws) == 0 {
		return nil
	}
	tok, err := ParseTimestampToken(raws[0])
	if err != nil {
		return nil
	}
	return tok.withType(SignatureTimestamp)
}

// TimeStampCreationTime returns the genTime of the signature timestamp, or
// the zero time.
func (s *Signature) TimeStampCreationTime() time.Time {
	if tok := s.signatureTimestamp(); tok != nil {
		return tok.GenTime
	}
	return time.Time{}
}

// TimeStampTokenCertificate returns the TSA certificate of the signature
// timestamp, or nil.
func (s *Signature) TimeStampTokenCertificate() *x509.Certificate {
	if tok := s.signatureTimestamp(); tok != nil {
		return tok.Certificate
	}
	return nil
}

// Timestamps returns every signature and archive timestamp, in that order.
func (s *Signature) Timestamps() []*TimestampToken {
	var out []*TimestampToken
	add := func(raws [][]byte, typ TimestampType) {
		for _, raw := range raws {
			if tok, err := ParseTimestampToken(raw); err == nil {
				out = append(out, tok.withType(typ))
			}
		}
	}
	sts, _ := s.doc.SignatureTimestamps()
	ats, _ := s.doc.ArchiveTimestamps()
	add(sts, SignatureTimestamp)
	add(ats, ArchiveTimestamp)
	return out
}

// TrustedSigningTime returns the earliest time vouched for by a third
// party: the signature timestamp, or the OCSP time for LT_TM. B levels
// have none.
func (s *Signature) TrustedSigningTime() time.Time {
	switch s.profile {
	case ProfileLT, ProfileLTA:
		return s.TimeStampCreationTime()
	case ProfileLTTM:
		return s.OCSPResponseCreationTime()
	}
	return time.Time{}
}

// AdESSignature returns the signature document bytes.
func (s *Signature) AdESSignature() []byte {
	return append([]byte(nil), s.raw...)
}
