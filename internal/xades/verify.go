package xades

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"fmt"
	"math/big"
)

// VerifySignatureValue checks ds:SignatureValue against the canonical
// SignedInfo using the key from ds:KeyInfo.
func (d *Document) VerifySignatureValue() error {
	cert, err := d.Certificate()
	if err != nil {
		return err
	}
	h, err := d.SignatureDigest()
	if err != nil {
		return NewXAdESError("verify", err)
	}
	value, err := d.SignatureValue()
	if err != nil {
		return err
	}
	preimage, err := canonicalize(child(d.sig, tagSignedInfo))
	if err != nil {
		return NewXAdESError("verify", err)
	}
	digest, err := digestOf(h, preimage)
	if err != nil {
		return NewXAdESError("verify", err)
	}

	switch pub := cert.PublicKey.(type) {
	case *ecdsa.PublicKey:
		if len(value) == 0 || len(value)%2 != 0 {
			return NewXAdESError("verify", fmt.Errorf("%w: ECDSA value length %d", ErrSignatureMismatch, len(value)))
		}
		half := len(value) / 2
		r := new(big.Int).SetBytes(value[:half])
		s := new(big.Int).SetBytes(value[half:])
		if !ecdsa.Verify(pub, digest, r, s) {
			return NewXAdESError("verify", ErrSignatureMismatch)
		}
	case *rsa.PublicKey:
		if err := rsa.VerifyPKCS1v15(pub, h, digest, value); err != nil {
			return NewXAdESError("verify", fmt.Errorf("%w: %v", ErrSignatureMismatch, err))
		}
	default:
		return NewXAdESError("verify", fmt.Errorf("%w: key type %T", ErrUnsupportedAlgorithm, pub))
	}
	return nil
}

// VerifySignedProperties recomputes the SignedProperties digest and the
// signing certificate digest.
func (d *Document) VerifySignedProperties() error {
	sp := signedProperties(d.sig)
	var spRef = func() *Reference {
		for _, r := range children(child(d.sig, tagSignedInfo), tagReference) {
			if r.SelectAttrValue("Type", "") != TypeSignedProperties {
				continue
			}
			ref := &Reference{URI: r.SelectAttrValue("URI", "")}
			if dm := child(r, tagDigestMethod); dm != nil {
				ref.Digest, _ = HashFromDigestURI(dm.SelectAttrValue("Algorithm", ""))
			}
			if dv := child(r, tagDigestValue); dv != nil {
				ref.Value, _ = decodeBase64(dv.Text())
			}
			return ref
		}
		return nil
	}()
	if spRef == nil {
		return NewXAdESError("verify", fmt.Errorf("%w: SignedProperties reference", ErrMissingReference))
	}
	if spRef.URI != "#"+sp.SelectAttrValue("Id", "") {
		return NewXAdESError("verify", fmt.Errorf("%w: SignedProperties reference points to %s", ErrMissingReference, spRef.URI))
	}
	got, err := canonicalDigest(spRef.Digest, sp)
	if err != nil {
		return NewXAdESError("verify", err)
	}
	if !bytes.Equal(got, spRef.Value) {
		return NewXAdESError("verify", fmt.Errorf("%w: SignedProperties", ErrDigestMismatch))
	}

	cd := path(sp, tagSignedSignatureProperties, "SigningCertificate", "Cert", "CertDigest")
	if cd == nil {
		return NewXAdESError("verify", fmt.Errorf("%w: no signing certificate digest", ErrMalformed))
	}
	h, err := HashFromDigestURI(child(cd, tagDigestMethod).SelectAttrValue("Algorithm", ""))
	if err != nil {
		return NewXAdESError("verify", err)
	}
	want, err := decodeBase64(child(cd, tagDigestValue).Text())
	if err != nil {
		return NewXAdESError("verify", fmt.Errorf("%w: %v", ErrMalformed, err))
	}
	cert, err := d.Certificate()
	if err != nil {
		return err
	}
	got, err = digestOf(h, cert.Raw)
	if err != nil {
		return NewXAdESError("verify", err)
	}
	if !bytes.Equal(got, want) {
		return NewXAdESError("verify", fmt.Errorf("%w: signing certificate", ErrDigestMismatch))
	}
	return nil
}

// VerifyReferences checks each data-file reference against the content
// returned by resolve.
func (d *Document) VerifyReferences(resolve Resolver) error {
	refs, err := d.References()
	if err != nil {
		return err
	}
	for _, r := range refs {
		data, err := resolve(r.Name)
		if err != nil {
			return NewXAdESError("verify", fmt.Errorf("%w: %s", ErrMissingReference, r.Name))
		}
		got, err := digestOf(r.Digest, data)
		if err != nil {
			return NewXAdESError("verify", err)
		}
		if !bytes.Equal(got, r.Value) {
			return NewXAdESError("verify", fmt.Errorf("%w: %s", ErrDigestMismatch, r.Name))
		}
	}
	return nil
}

// DataFileDigest returns the digest algorithm used by the data-file
// references, or 0 if there are none.
func (d *Document) DataFileDigest() crypto.Hash {
	refs, err := d.References()
	if err != nil || len(refs) == 0 {
		return 0
	}
	return refs[0].Digest
}
