package xades

import (
	"crypto"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/beevik/etree"
)

// Document is a parsed XAdES signature held in its container envelope.
type Document struct {
	doc *etree.Document
	sig *etree.Element
}

// Reference is a ds:Reference to a data file.
type Reference struct {
	ID       string
	URI      string
	Name     string
	Digest   crypto.Hash
	Value    []byte
	MimeType string
}

// Parse decodes a signature document. Both an asic:XAdESSignatures envelope
// and a bare ds:Signature root are accepted.
func Parse(data []byte) (*Document, error) {
	if len(data) == 0 {
		return nil, NewXAdESError("parse", fmt.Errorf("%w: empty document", ErrMalformed))
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, NewXAdESError("parse", fmt.Errorf("%w: %v", ErrMalformed, err))
	}
	return newDocument(doc)
}

func newDocument(doc *etree.Document) (*Document, error) {
	if doc.Root() == nil {
		return nil, NewXAdESError("parse", fmt.Errorf("%w: no root element", ErrMalformed))
	}
	sig := findSignature(doc.Root())
	if sig == nil {
		return nil, NewXAdESError("parse", fmt.Errorf("%w: no ds:Signature element", ErrMalformed))
	}
	if child(sig, tagSignedInfo) == nil || child(sig, tagSignatureValue) == nil {
		return nil, NewXAdESError("parse", fmt.Errorf("%w: incomplete ds:Signature", ErrMalformed))
	}
	if signedProperties(sig) == nil {
		return nil, NewXAdESError("parse", fmt.Errorf("%w: no xades:SignedProperties", ErrMalformed))
	}
	return &Document{doc: doc, sig: sig}, nil
}

func findSignature(root *etree.Element) *etree.Element {
	if root == nil {
		return nil
	}
	if root.Tag == tagSignature {
		return root
	}
	return child(root, tagSignature)
}

func child(parent *etree.Element, tag string) *etree.Element {
	if parent == nil {
		return nil
	}
	for _, c := range parent.ChildElements() {
		if c.Tag == tag {
			return c
		}
	}
	return nil
}

func children(parent *etree.Element, tag string) []*etree.Element {
	if parent == nil {
		return nil
	}
	var out []*etree.Element
	for _, c := range parent.ChildElements() {
		if c.Tag == tag {
			out = append(out, c)
		}
	}
	return out
}

func path(parent *etree.Element, tags ...string) *etree.Element {
	e := parent
	for _, t := range tags {
		e = child(e, t)
		if e == nil {
			return nil
		}
	}
	return e
}

func qualifyingProperties(sig *etree.Element) *etree.Element {
	for _, obj := range children(sig, "Object") {
		if qp := child(obj, tagQualifyingProperties); qp != nil {
			return qp
		}
	}
	return nil
}

func signedProperties(sig *etree.Element) *etree.Element {
	return child(qualifyingProperties(sig), tagSignedProperties)
}

func decodeBase64(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(strings.Join(strings.Fields(s), ""))
}

// Bytes serializes the document.
func (d *Document) Bytes() ([]byte, error) {
	return d.doc.WriteToBytes()
}

// Clone returns an independent deep copy.
func (d *Document) Clone() *Document {
	doc := d.doc.Copy()
	return &Document{doc: doc, sig: findSignature(doc.Root())}
}

// ID returns the ds:Signature Id attribute.
func (d *Document) ID() string {
	return d.sig.SelectAttrValue("Id", "")
}

// SigningTime returns the claimed signing time.
func (d *Document) SigningTime() time.Time {
	e := path(signedProperties(d.sig), tagSignedSignatureProperties, tagSigningTime)
	if e == nil {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(e.Text()))
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

// Certificate returns the signer certificate from ds:KeyInfo.
func (d *Document) Certificate() (*x509.Certificate, error) {
	e := path(d.sig, tagKeyInfo, "X509Data", tagX509Certificate)
	if e == nil {
		return nil, NewXAdESError("parse", fmt.Errorf("%w: no signer certificate", ErrMalformed))
	}
	der, err := decodeBase64(e.Text())
	if err != nil {
		return nil, NewXAdESError("parse", fmt.Errorf("%w: certificate encoding: %v", ErrMalformed, err))
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, NewXAdESError("parse", fmt.Errorf("%w: %v", ErrMalformed, err))
	}
	return cert, nil
}

// SignatureValue returns the decoded ds:SignatureValue.
func (d *Document) SignatureValue() ([]byte, error) {
	v, err := decodeBase64(child(d.sig, tagSignatureValue).Text())
	if err != nil {
		return nil, NewXAdESError("parse", fmt.Errorf("%w: signature value encoding: %v", ErrMalformed, err))
	}
	return v, nil
}

// SignatureMethod returns the signature method URI.
func (d *Document) SignatureMethod() string {
	e := child(child(d.sig, tagSignedInfo), tagSignatureMethod)
	if e == nil {
		return ""
	}
	return e.SelectAttrValue("Algorithm", "")
}

// SignatureDigest returns the digest half of the signature method.
func (d *Document) SignatureDigest() (crypto.Hash, error) {
	return HashFromSignatureURI(d.SignatureMethod())
}

// Policy returns the explicit signature policy, or nil.
func (d *Document) Policy() *Policy {
	spi := path(signedProperties(d.sig), tagSignedSignatureProperties, tagSignaturePolicyIdentifier, "SignaturePolicyId")
	if spi == nil {
		return nil
	}
	p := &Policy{}
	if id := path(spi, "SigPolicyId", tagIdentifier); id != nil {
		p.Identifier = strings.TrimSpace(id.Text())
	}
	if ph := child(spi, "SigPolicyHash"); ph != nil {
		if dm := child(ph, tagDigestMethod); dm != nil {
			p.DigestMethod, _ = HashFromDigestURI(dm.SelectAttrValue("Algorithm", ""))
		}
		if dv := child(ph, tagDigestValue); dv != nil {
			p.DigestValue, _ = decodeBase64(dv.Text())
		}
	}
	if uri := path(spi, "SigPolicyQualifiers", "SigPolicyQualifier", tagSPURI); uri != nil {
		p.SPURI = strings.TrimSpace(uri.Text())
	}
	return p
}

// ProductionPlace returns the claimed production place.
func (d *Document) ProductionPlace() ProductionPlace {
	pp := path(signedProperties(d.sig), tagSignedSignatureProperties, tagProductionPlace)
	text := func(tag string) string {
		if e := child(pp, tag); e != nil {
			return e.Text()
		}
		return ""
	}
	return ProductionPlace{
		City:            text("City"),
		StateOrProvince: text("StateOrProvince"),
		PostalCode:      text("PostalCode"),
		CountryName:     text("CountryName"),
	}
}

// Roles returns the claimed signer roles in document order.
func (d *Document) Roles() []string {
	roles := path(signedProperties(d.sig), tagSignedSignatureProperties, "SignerRole", "ClaimedRoles")
	var out []string
	for _, r := range children(roles, tagClaimedRole) {
		out = append(out, r.Text())
	}
	return out
}

// References returns the data-file references in SignedInfo order.
func (d *Document) References() ([]Reference, error) {
	mimeTypes := make(map[string]string)
	sdop := child(signedProperties(d.sig), "SignedDataObjectProperties")
	for _, dof := range children(sdop, tagDataObjectFormat) {
		ref := strings.TrimPrefix(dof.SelectAttrValue("ObjectReference", ""), "#")
		if mt := child(dof, tagMimeType); mt != nil {
			mimeTypes[ref] = mt.Text()
		}
	}

	var refs []Reference
	for _, r := range children(child(d.sig, tagSignedInfo), tagReference) {
		if r.SelectAttrValue("Type", "") == TypeSignedProperties {
			continue
		}
		uri := r.SelectAttrValue("URI", "")
		name, err := url.PathUnescape(uri)
		if err != nil {
			return nil, NewXAdESError("parse", fmt.Errorf("%w: reference URI %q", ErrMalformed, uri))
		}
		ref := Reference{
			ID:       r.SelectAttrValue("Id", ""),
			URI:      uri,
			Name:     name,
			MimeType: mimeTypes[r.SelectAttrValue("Id", "")],
		}
		if dm := child(r, tagDigestMethod); dm != nil {
			if ref.Digest, err = HashFromDigestURI(dm.SelectAttrValue("Algorithm", "")); err != nil {
				return nil, NewXAdESError("parse", err)
			}
		}
		if dv := child(r, tagDigestValue); dv != nil {
			if ref.Value, err = decodeBase64(dv.Text()); err != nil {
				return nil, NewXAdESError("parse", fmt.Errorf("%w: digest encoding: %v", ErrMalformed, err))
			}
		}
		refs = append(refs, ref)
	}
	return refs, nil
}
