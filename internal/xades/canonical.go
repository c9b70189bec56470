package xades

import (
	"crypto"
	"fmt"

	"github.com/beevik/etree"
	"github.com/leifj/signedxml"
)

// canonicalize renders elem with exclusive C14N. Elements that are
// canonicalized always carry their own namespace declarations so the output
// does not depend on where the element sits in the document.
func canonicalize(elem *etree.Element) ([]byte, error) {
	c := signedxml.ExclusiveCanonicalization{WithComments: false}
	out, err := c.ProcessElement(elem.Copy(), "")
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize %s: %w", elem.Tag, err)
	}
	return []byte(out), nil
}

func digestOf(h crypto.Hash, parts ...[]byte) ([]byte, error) {
	if !h.Available() {
		return nil, fmt.Errorf("%w: digest %v", ErrUnsupportedAlgorithm, h)
	}
	hh := h.New()
	for _, p := range parts {
		hh.Write(p)
	}
	return hh.Sum(nil), nil
}

func canonicalDigest(h crypto.Hash, elem *etree.Element) ([]byte, error) {
	c, err := canonicalize(elem)
	if err != nil {
		return nil, err
	}
	return digestOf(h, c)
}
