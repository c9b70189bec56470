package asic

import (
	"fmt"
	"strings"
)

// DocumentType tags a container format. Custom tags may be registered in a
// Registry and behave as one of the built-in formats.
type DocumentType string

// Built-in container formats.
const (
	ASICE DocumentType = "ASICE"
	ASICS DocumentType = "ASICS"
	BDOC  DocumentType = "BDOC"
)

// Container mimetypes, stored uncompressed as the first archive entry.
const (
	MimeTypeASiCE = "application/vnd.etsi.asic-e+zip"
	MimeTypeASiCS = "application/vnd.etsi.asic-s+zip"
)

// ParseDocumentType parses a container type name, case-insensitively.
func ParseDocumentType(s string) (DocumentType, error) {
	switch t := DocumentType(strings.ToUpper(strings.TrimSpace(strings.ReplaceAll(s, "-", "")))); t {
	case ASICE, ASICS, BDOC:
		return t, nil
	}
	return "", fmt.Errorf("%w: unknown container type %q", ErrNotSupported, s)
}

// MimeType returns the archive mimetype of the format.
func (t DocumentType) MimeType() string {
	if t == ASICS {
		return MimeTypeASiCS
	}
	return MimeTypeASiCE
}

// supportsTimeMark reports whether LT_TM signatures are allowed.
func (t DocumentType) supportsTimeMark() bool {
	return t == BDOC
}

// signatureEntry returns the archive name of the n-th signature document.
func (t DocumentType) signatureEntry(n int) string {
	if t == ASICS {
		return "META-INF/signature.xml"
	}
	return fmt.Sprintf("META-INF/signatures%d.xml", n)
}
