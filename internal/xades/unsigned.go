package xades

import (
	"bytes"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"strconv"

	"github.com/beevik/etree"
)

// Resolver returns the content of a referenced data file by name.
type Resolver func(name string) ([]byte, error)

func (d *Document) unsignedSignatureProperties(create bool) *etree.Element {
	qp := qualifyingProperties(d.sig)
	up := child(qp, tagUnsignedProperties)
	if up == nil {
		if !create {
			return nil
		}
		up = qp.CreateElement("xades:UnsignedProperties")
		up.CreateAttr("xmlns:xades", NamespaceXAdES)
	}
	usp := child(up, tagUnsignedSigProperties)
	if usp == nil && create {
		usp = up.CreateElement("xades:UnsignedSignatureProperties")
	}
	return usp
}

func newUnsignedProperty(usp *etree.Element, tag string) *etree.Element {
	e := usp.CreateElement(tag)
	e.CreateAttr("xmlns:ds", NamespaceDS)
	e.CreateAttr("xmlns:xades", NamespaceXAdES)
	return e
}

// SignatureTimestampInput returns the canonical ds:SignatureValue, which is
// the message imprinted by a signature timestamp.
func (d *Document) SignatureTimestampInput() ([]byte, error) {
	c, err := canonicalize(child(d.sig, tagSignatureValue))
	if err != nil {
		return nil, NewXAdESError("extend", err)
	}
	return c, nil
}

// AddSignatureTimestamp appends a signature timestamp token.
func (d *Document) AddSignatureTimestamp(token []byte) {
	usp := d.unsignedSignatureProperties(true)
	n := len(children(usp, tagSignatureTimeStamp))
	ts := newUnsignedProperty(usp, "xades:SignatureTimeStamp")
	ts.CreateAttr("Id", d.ID()+"-T"+strconv.Itoa(n))
	ts.CreateElement("ds:CanonicalizationMethod").CreateAttr("Algorithm", AlgExcC14N)
	ts.CreateElement("xades:EncapsulatedTimeStamp").SetText(base64.StdEncoding.EncodeToString(token))
}

// SignatureTimestamps returns the encapsulated signature timestamp tokens.
func (d *Document) SignatureTimestamps() ([][]byte, error) {
	return encapsulated(children(d.unsignedSignatureProperties(false), tagSignatureTimeStamp), tagEncapsulatedTimeStamp)
}

// AddOCSP appends an OCSP response and the certificates needed to check it.
func (d *Document) AddOCSP(raw []byte, certs ...*x509.Certificate) {
	usp := d.unsignedSignatureProperties(true)

	if len(certs) > 0 {
		cv := child(usp, tagCertificateValues)
		if cv == nil {
			cv = newUnsignedProperty(usp, "xades:CertificateValues")
		}
		for _, c := range certs {
			if !hasEncapsulated(cv, tagEncapsulatedX509Cert, c.Raw) {
				cv.CreateElement("xades:EncapsulatedX509Certificate").SetText(base64.StdEncoding.EncodeToString(c.Raw))
			}
		}
	}

	rv := child(usp, tagRevocationValues)
	if rv == nil {
		rv = newUnsignedProperty(usp, "xades:RevocationValues")
	}
	ov := child(rv, tagOCSPValues)
	if ov == nil {
		ov = rv.CreateElement("xades:OCSPValues")
	}
	v := ov.CreateElement("xades:EncapsulatedOCSPValue")
	v.CreateAttr("Id", d.ID()+"-"+encapsulatedOCSPPrefix+strconv.Itoa(len(children(ov, tagEncapsulatedOCSPValue))-1))
	v.SetText(base64.StdEncoding.EncodeToString(raw))
}

// OCSPResponses returns the encapsulated OCSP responses in document order.
func (d *Document) OCSPResponses() ([][]byte, error) {
	ov := path(d.unsignedSignatureProperties(false), tagRevocationValues, tagOCSPValues)
	return encapsulated(children(ov, tagEncapsulatedOCSPValue), "")
}

// Certificates returns the encapsulated validation certificates.
func (d *Document) Certificates() ([]*x509.Certificate, error) {
	raws, err := encapsulated(children(child(d.unsignedSignatureProperties(false), tagCertificateValues), tagEncapsulatedX509Cert), "")
	if err != nil {
		return nil, err
	}
	certs := make([]*x509.Certificate, 0, len(raws))
	for _, raw := range raws {
		c, err := x509.ParseCertificate(raw)
		if err != nil {
			return nil, NewXAdESError("parse", fmt.Errorf("%w: %v", ErrMalformed, err))
		}
		certs = append(certs, c)
	}
	return certs, nil
}

// ArchiveTimestampInput returns the message imprinted by a new archive
// timestamp: the referenced data, the signed and key info, the signature
// value and every unsigned signature property present so far.
func (d *Document) ArchiveTimestampInput(resolve Resolver) ([]byte, error) {
	return d.archiveInput(resolve, nil)
}

// ArchiveTimestampInputAt returns the message imprinted by the i-th archive
// timestamp, i.e. computed over what preceded it.
func (d *Document) ArchiveTimestampInputAt(resolve Resolver, i int) ([]byte, error) {
	ats := children(d.unsignedSignatureProperties(false), tagArchiveTimeStamp)
	if i < 0 || i >= len(ats) {
		return nil, NewXAdESError("verify", fmt.Errorf("archive timestamp %d not present", i))
	}
	return d.archiveInput(resolve, ats[i])
}

func (d *Document) archiveInput(resolve Resolver, before *etree.Element) ([]byte, error) {
	var buf bytes.Buffer

	refs, err := d.References()
	if err != nil {
		return nil, err
	}
	for _, r := range refs {
		data, err := resolve(r.Name)
		if err != nil {
			return nil, NewXAdESError("extend", fmt.Errorf("%w: %s", ErrMissingReference, r.Name))
		}
		buf.Write(data)
	}

	for _, e := range []*etree.Element{
		signedProperties(d.sig),
		child(d.sig, tagSignedInfo),
		child(d.sig, tagSignatureValue),
		child(d.sig, tagKeyInfo),
	} {
		if e == nil {
			continue
		}
		c, err := canonicalize(e)
		if err != nil {
			return nil, NewXAdESError("extend", err)
		}
		buf.Write(c)
	}

	for _, e := range d.unsignedSignatureProperties(false).ChildElements() {
		if e == before {
			break
		}
		c, err := canonicalize(e)
		if err != nil {
			return nil, NewXAdESError("extend", err)
		}
		buf.Write(c)
	}
	return buf.Bytes(), nil
}

// AddArchiveTimestamp appends an archive timestamp token.
func (d *Document) AddArchiveTimestamp(token []byte) {
	usp := d.unsignedSignatureProperties(true)
	n := len(children(usp, tagArchiveTimeStamp))
	ts := usp.CreateElement("xades141:ArchiveTimeStamp")
	ts.CreateAttr("xmlns:ds", NamespaceDS)
	ts.CreateAttr("xmlns:xades", NamespaceXAdES)
	ts.CreateAttr("xmlns:xades141", NamespaceXAdES141)
	ts.CreateAttr("Id", d.ID()+"-A"+strconv.Itoa(n))
	ts.CreateElement("ds:CanonicalizationMethod").CreateAttr("Algorithm", AlgExcC14N)
	ts.CreateElement("xades:EncapsulatedTimeStamp").SetText(base64.StdEncoding.EncodeToString(token))
}

// ArchiveTimestamps returns the encapsulated archive timestamp tokens.
func (d *Document) ArchiveTimestamps() ([][]byte, error) {
	return encapsulated(children(d.unsignedSignatureProperties(false), tagArchiveTimeStamp), tagEncapsulatedTimeStamp)
}

// encapsulated decodes base64 payloads. With inner set, the payload is read
// from that child of each element; otherwise from the element itself.
func encapsulated(elems []*etree.Element, inner string) ([][]byte, error) {
	var out [][]byte
	for _, e := range elems {
		if inner != "" {
			e = child(e, inner)
			if e == nil {
				return nil, NewXAdESError("parse", fmt.Errorf("%w: missing %s", ErrMalformed, inner))
			}
		}
		raw, err := decodeBase64(e.Text())
		if err != nil {
			return nil, NewXAdESError("parse", fmt.Errorf("%w: %v", ErrMalformed, err))
		}
		out = append(out, raw)
	}
	return out, nil
}

func hasEncapsulated(parent *etree.Element, tag string, raw []byte) bool {
	for _, e := range children(parent, tag) {
		if b, err := decodeBase64(e.Text()); err == nil && bytes.Equal(b, raw) {
			return true
		}
	}
	return false
}
