package xades

import (
	"crypto"
	_ "crypto/sha1"
	_ "crypto/sha256"
	_ "crypto/sha512"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/beevik/etree"
)

// Params describes a signature to be produced.
type Params struct {
	ID              string
	Certificate     *x509.Certificate
	SignatureDigest crypto.Hash
	DataFileDigest  crypto.Hash
	SigningTime     time.Time
	// Policy is embedded as an explicit SignaturePolicyId; nil leaves it out.
	Policy          *Policy
	ProductionPlace ProductionPlace
	Roles           []string
}

// DataObject is a data file covered by the signature.
type DataObject struct {
	Name     string
	MimeType string
	Content  []byte
}

// Policy is a signature policy identifier.
type Policy struct {
	Identifier   string
	DigestMethod crypto.Hash
	DigestValue  []byte
	SPURI        string
}

// ProductionPlace is the claimed signature production place.
type ProductionPlace struct {
	City            string
	StateOrProvince string
	PostalCode      string
	CountryName     string
}

// IsZero reports whether no field is set.
func (p ProductionPlace) IsZero() bool {
	return p == ProductionPlace{}
}

// Draft is a signature whose SignedInfo is complete but whose value is not
// yet known.
type Draft struct {
	doc        *etree.Document
	sig        *etree.Element
	signedInfo *etree.Element
	preimage   []byte
}

// NewDraft builds the signature skeleton for files and returns it together
// with the canonical SignedInfo to be signed.
func NewDraft(p Params, files []DataObject) (*Draft, error) {
	if p.Certificate == nil {
		return nil, NewXAdESError("build", fmt.Errorf("signing certificate is required"))
	}
	if p.ID == "" {
		return nil, NewXAdESError("build", fmt.Errorf("signature id is required"))
	}
	if len(files) == 0 {
		return nil, NewXAdESError("build", fmt.Errorf("no data files to sign"))
	}

	sigMethod, err := SignatureMethodURI(p.Certificate.PublicKey, p.SignatureDigest)
	if err != nil {
		return nil, NewXAdESError("build", err)
	}
	sigDigestURI, err := DigestMethodURI(p.SignatureDigest)
	if err != nil {
		return nil, NewXAdESError("build", err)
	}
	fileDigestURI, err := DigestMethodURI(p.DataFileDigest)
	if err != nil {
		return nil, NewXAdESError("build", err)
	}

	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	root := doc.CreateElement("asic:XAdESSignatures")
	root.CreateAttr("xmlns:asic", NamespaceASiC)
	root.CreateAttr("xmlns:ds", NamespaceDS)
	root.CreateAttr("xmlns:xades", NamespaceXAdES)

	sig := root.CreateElement("ds:Signature")
	sig.CreateAttr("xmlns:ds", NamespaceDS)
	sig.CreateAttr("Id", p.ID)

	signedInfo := sig.CreateElement("ds:SignedInfo")
	signedInfo.CreateAttr("xmlns:ds", NamespaceDS)
	signedInfo.CreateElement("ds:CanonicalizationMethod").CreateAttr("Algorithm", AlgExcC14N)
	signedInfo.CreateElement("ds:SignatureMethod").CreateAttr("Algorithm", sigMethod)

	refIDs := make([]string, len(files))
	for i, f := range files {
		digest, err := digestOf(p.DataFileDigest, f.Content)
		if err != nil {
			return nil, NewXAdESError("build", err)
		}
		refIDs[i] = p.ID + "-RefId" + strconv.Itoa(i)
		ref := signedInfo.CreateElement("ds:Reference")
		ref.CreateAttr("Id", refIDs[i])
		ref.CreateAttr("URI", url.PathEscape(f.Name))
		ref.CreateElement("ds:DigestMethod").CreateAttr("Algorithm", fileDigestURI)
		ref.CreateElement("ds:DigestValue").SetText(base64.StdEncoding.EncodeToString(digest))
	}

	keyInfo := sig.CreateElement("ds:KeyInfo")
	keyInfo.CreateAttr("xmlns:ds", NamespaceDS)
	keyInfo.CreateElement("ds:X509Data").CreateElement("ds:X509Certificate").
		SetText(base64.StdEncoding.EncodeToString(p.Certificate.Raw))

	object := sig.CreateElement("ds:Object")
	qp := object.CreateElement("xades:QualifyingProperties")
	qp.CreateAttr("xmlns:xades", NamespaceXAdES)
	qp.CreateAttr("Target", "#"+p.ID)

	signedProps, err := buildSignedProperties(qp, p, files, refIDs, sigDigestURI)
	if err != nil {
		return nil, err
	}

	spDigest, err := canonicalDigest(p.SignatureDigest, signedProps)
	if err != nil {
		return nil, NewXAdESError("build", err)
	}
	spRef := signedInfo.CreateElement("ds:Reference")
	spRef.CreateAttr("Type", TypeSignedProperties)
	spRef.CreateAttr("URI", "#"+signedProps.SelectAttrValue("Id", ""))
	spRef.CreateElement("ds:Transforms").CreateElement("ds:Transform").CreateAttr("Algorithm", AlgExcC14N)
	spRef.CreateElement("ds:DigestMethod").CreateAttr("Algorithm", sigDigestURI)
	spRef.CreateElement("ds:DigestValue").SetText(base64.StdEncoding.EncodeToString(spDigest))

	preimage, err := canonicalize(signedInfo)
	if err != nil {
		return nil, NewXAdESError("build", err)
	}

	return &Draft{doc: doc, sig: sig, signedInfo: signedInfo, preimage: preimage}, nil
}

func buildSignedProperties(qp *etree.Element, p Params, files []DataObject, refIDs []string, certDigestURI string) (*etree.Element, error) {
	sp := qp.CreateElement("xades:SignedProperties")
	sp.CreateAttr("xmlns:ds", NamespaceDS)
	sp.CreateAttr("xmlns:xades", NamespaceXAdES)
	sp.CreateAttr("Id", p.ID+"-SignedProperties")

	ssp := sp.CreateElement("xades:SignedSignatureProperties")
	ssp.CreateElement("xades:SigningTime").SetText(p.SigningTime.UTC().Format(time.RFC3339))

	certDigest, err := digestOf(p.SignatureDigest, p.Certificate.Raw)
	if err != nil {
		return nil, NewXAdESError("build", err)
	}
	cert := ssp.CreateElement("xades:SigningCertificate").CreateElement("xades:Cert")
	cd := cert.CreateElement("xades:CertDigest")
	cd.CreateElement("ds:DigestMethod").CreateAttr("Algorithm", certDigestURI)
	cd.CreateElement("ds:DigestValue").SetText(base64.StdEncoding.EncodeToString(certDigest))
	is := cert.CreateElement("xades:IssuerSerial")
	is.CreateElement("ds:X509IssuerName").SetText(p.Certificate.Issuer.String())
	is.CreateElement("ds:X509SerialNumber").SetText(p.Certificate.SerialNumber.String())

	if p.Policy != nil {
		policyURI, err := DigestMethodURI(p.Policy.DigestMethod)
		if err != nil {
			return nil, NewXAdESError("build", err)
		}
		spi := ssp.CreateElement("xades:SignaturePolicyIdentifier").CreateElement("xades:SignaturePolicyId")
		id := spi.CreateElement("xades:SigPolicyId").CreateElement("xades:Identifier")
		id.CreateAttr("Qualifier", QualifierOIDAsURN)
		id.SetText(p.Policy.Identifier)
		ph := spi.CreateElement("xades:SigPolicyHash")
		ph.CreateElement("ds:DigestMethod").CreateAttr("Algorithm", policyURI)
		ph.CreateElement("ds:DigestValue").SetText(base64.StdEncoding.EncodeToString(p.Policy.DigestValue))
		if p.Policy.SPURI != "" {
			spi.CreateElement("xades:SigPolicyQualifiers").CreateElement("xades:SigPolicyQualifier").
				CreateElement("xades:SPURI").SetText(p.Policy.SPURI)
		}
	}

	if !p.ProductionPlace.IsZero() {
		pp := ssp.CreateElement("xades:SignatureProductionPlace")
		addOptional(pp, "xades:City", p.ProductionPlace.City)
		addOptional(pp, "xades:StateOrProvince", p.ProductionPlace.StateOrProvince)
		addOptional(pp, "xades:PostalCode", p.ProductionPlace.PostalCode)
		addOptional(pp, "xades:CountryName", p.ProductionPlace.CountryName)
	}

	if len(p.Roles) > 0 {
		roles := ssp.CreateElement("xades:SignerRole").CreateElement("xades:ClaimedRoles")
		for _, r := range p.Roles {
			roles.CreateElement("xades:ClaimedRole").SetText(r)
		}
	}

	sdop := sp.CreateElement("xades:SignedDataObjectProperties")
	for i, f := range files {
		dof := sdop.CreateElement("xades:DataObjectFormat")
		dof.CreateAttr("ObjectReference", "#"+refIDs[i])
		dof.CreateElement("xades:MimeType").SetText(f.MimeType)
	}

	return sp, nil
}

func addOptional(parent *etree.Element, tag, value string) {
	if value != "" {
		parent.CreateElement(tag).SetText(value)
	}
}

// Preimage returns the canonical SignedInfo bytes that the signer signs.
func (d *Draft) Preimage() []byte {
	out := make([]byte, len(d.preimage))
	copy(out, d.preimage)
	return out
}

// Embed inserts the raw signature value and returns the resulting document.
// ECDSA values must already be in r||s form.
func (d *Draft) Embed(value []byte) (*Document, error) {
	if len(value) == 0 {
		return nil, NewXAdESError("embed", fmt.Errorf("empty signature value"))
	}
	doc := d.doc.Copy()
	sig := findSignature(doc.Root())
	signedInfo := child(sig, tagSignedInfo)
	if sig == nil || signedInfo == nil {
		return nil, NewXAdESError("embed", ErrMalformed)
	}

	sv := etree.NewElement("ds:SignatureValue")
	sv.CreateAttr("xmlns:ds", NamespaceDS)
	sv.CreateAttr("Id", sig.SelectAttrValue("Id", "")+"-SIG")
	sv.SetText(base64.StdEncoding.EncodeToString(value))
	sig.InsertChildAt(signedInfo.Index()+1, sv)

	return newDocument(doc)
}
