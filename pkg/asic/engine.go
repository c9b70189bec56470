package asic

import (
	"fmt"

	"github.com/remiblancher/asic/internal/xades"
)

// Draft is an engine-specific signature whose value is not yet known.
type Draft struct {
	x *xades.Draft
}

// Preimage returns the bytes to be signed.
func (d *Draft) Preimage() []byte {
	return d.x.Preimage()
}

// Engine is the AdES encoding collaborator.
type Engine interface {
	// ComputePreimage builds the signature skeleton for the container's data
	// files and the resolved parameters.
	ComputePreimage(c *Container, p Parameters) (*Draft, error)
	// EmbedSignatureValue returns the signature document with value inserted.
	EmbedSignatureValue(d *Draft, value []byte) ([]byte, error)
	// ParseSignature decodes an existing signature document. Nil or
	// malformed input fails with ErrInvalidSignature.
	ParseSignature(data []byte) (*Signature, error)
}

// XAdESEngine produces XAdES signatures in the ASiC envelope.
type XAdESEngine struct{}

var _ Engine = XAdESEngine{}

// ComputePreimage implements Engine.
func (XAdESEngine) ComputePreimage(c *Container, p Parameters) (*Draft, error) {
	files := c.DataFiles()
	if len(files) == 0 {
		return nil, ErrNoDataFiles
	}
	objects := make([]xades.DataObject, len(files))
	for i, f := range files {
		objects[i] = xades.DataObject{Name: f.Name, MimeType: f.MimeType, Content: f.Content}
	}

	xp := xades.Params{
		ID:              p.signatureID,
		Certificate:     p.signingCert,
		SignatureDigest: p.signatureDigest,
		DataFileDigest:  p.dataFileDigest,
		SigningTime:     p.claimedSigningTime,
		ProductionPlace: xades.ProductionPlace{
			City:            p.city,
			StateOrProvince: p.stateOrProvince,
			PostalCode:      p.postalCode,
			CountryName:     p.country,
		},
		Roles: p.Roles(),
	}
	if p.policy != nil {
		xp.Policy = p.policy.toXAdES()
	}

	d, err := xades.NewDraft(xp, objects)
	if err != nil {
		return nil, err
	}
	return &Draft{x: d}, nil
}

// EmbedSignatureValue implements Engine.
func (XAdESEngine) EmbedSignatureValue(d *Draft, value []byte) ([]byte, error) {
	if d == nil || d.x == nil {
		return nil, fmt.Errorf("%w: no draft", ErrInvalidSignature)
	}
	doc, err := d.x.Embed(value)
	if err != nil {
		return nil, err
	}
	return doc.Bytes()
}

// ParseSignature implements Engine.
func (XAdESEngine) ParseSignature(data []byte) (*Signature, error) {
	if len(data) == 0 {
		return nil, NewSignatureError("open", ErrInvalidSignature)
	}
	doc, err := xades.Parse(data)
	if err != nil {
		return nil, NewSignatureError("open", fmt.Errorf("%w: %v", ErrInvalidSignature, err))
	}
	return newSignatureFromRaw(doc, data), nil
}
