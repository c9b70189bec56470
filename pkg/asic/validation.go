package asic

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/samber/lo"
	xocsp "golang.org/x/crypto/ocsp"

	"github.com/remiblancher/asic/internal/metrics"
	"github.com/remiblancher/asic/internal/ocsp"
)

// Issue is one validation finding. SignatureID is empty for container-level
// findings.
type Issue struct {
	SignatureID string
	Message     string
}

func (i Issue) String() string {
	if i.SignatureID == "" {
		return i.Message
	}
	return i.SignatureID + ": " + i.Message
}

// ValidationResult lists errors and warnings in a stable order: container
// findings first, then each signature in index order.
type ValidationResult struct {
	Errors   []Issue
	Warnings []Issue
}

// Valid reports whether no error was found.
func (r *ValidationResult) Valid() bool { return len(r.Errors) == 0 }

// Report renders the result for humans.
func (r *ValidationResult) Report() string {
	var b strings.Builder
	if r.Valid() {
		b.WriteString("Signature validation: VALID\n")
	} else {
		b.WriteString("Signature validation: INVALID\n")
	}
	for _, e := range r.Errors {
		fmt.Fprintf(&b, "  Error: %s\n", e)
	}
	for _, w := range r.Warnings {
		fmt.Fprintf(&b, "  Warning: %s\n", w)
	}
	return b.String()
}

type validator struct {
	result ValidationResult
}

func (v *validator) errorf(id, format string, args ...any) {
	v.result.Errors = append(v.result.Errors, Issue{SignatureID: id, Message: fmt.Sprintf(format, args...)})
}

func (v *validator) warnf(id, format string, args ...any) {
	v.result.Warnings = append(v.result.Warnings, Issue{SignatureID: id, Message: fmt.Sprintf(format, args...)})
}

// Validate checks the container and every signature. It does not touch the
// network and does not build certificate paths, so repeated calls give the
// same result.
func (c *Container) Validate() *ValidationResult {
	v := &validator{}
	c.validateStructure(v)
	for _, sig := range c.signatures {
		c.validateSignature(v, sig)
	}
	metrics.ObserveValidation(v.result.Valid())
	return &v.result
}

func (c *Container) validateStructure(v *validator) {
	if len(c.files) == 0 {
		v.errorf("", "container has no data files")
	}
	if c.format == ASICS {
		if len(c.files) > 1 {
			v.errorf("", "ASiC-S container holds %d data files, expected one", len(c.files))
		}
		if c.timestamp != nil && len(c.signatures) > 0 {
			v.errorf("", "timestamped ASiC-S container also holds signatures")
		}
		if len(c.signatures) > 1 {
			v.errorf("", "ASiC-S container holds %d signatures, expected one", len(c.signatures))
		}
	}

	if c.timestamp != nil {
		if len(c.files) > 0 && !c.timestamp.MatchData(c.files[0].Content) {
			v.errorf("", "timestamp does not cover data file %s", c.files[0].Name)
		}
		if !c.timestamp.MessageImprintIntact() {
			v.errorf("", "timestamp token signature is invalid")
		}
	}

	if len(c.signatures) == 0 && c.timestamp == nil {
		v.warnf("", "container is not signed")
		return
	}
	if c.timestamp != nil {
		return
	}

	signed := make(map[string]bool)
	for _, sig := range c.signatures {
		refs, err := sig.doc.References()
		if err != nil {
			continue
		}
		for _, r := range refs {
			signed[r.Name] = true
		}
	}
	for _, f := range lo.Reject(c.files, func(f DataFile, _ int) bool { return signed[f.Name] }) {
		v.errorf("", "data file %s is not covered by any signature", f.Name)
	}
}

func (c *Container) validateSignature(v *validator, sig *Signature) {
	id := sig.ID()
	doc := sig.doc

	if err := doc.VerifySignatureValue(); err != nil {
		v.errorf(id, "signature value: %v", err)
	}
	if err := doc.VerifySignedProperties(); err != nil {
		v.errorf(id, "signed properties: %v", err)
	}
	if err := doc.VerifyReferences(c.resolver()); err != nil {
		v.errorf(id, "data file references: %v", err)
	}

	cert := sig.SigningCertificate()
	if cert == nil {
		v.errorf(id, "signing certificate is missing")
		return
	}
	claimed := sig.ClaimedSigningTime()
	if !claimed.IsZero() && (claimed.Before(cert.NotBefore) || claimed.After(cert.NotAfter)) {
		v.warnf(id, "signing certificate is not valid at the claimed signing time %s", claimed.Format("2006-01-02T15:04:05Z"))
	}
	if sig.profile == ProfileLTTM && !c.format.supportsTimeMark() {
		v.errorf(id, "%s signature is not allowed in a %s container", sig.profile, c.docType)
	}

	c.validateOCSP(v, sig)
	c.validateTimestamps(v, sig)
}

func (c *Container) validateOCSP(v *validator, sig *Signature) {
	id := sig.ID()
	raws, err := sig.doc.OCSPResponses()
	if err != nil {
		v.errorf(id, "OCSP responses: %v", err)
		return
	}
	needsOCSP := sig.profile == ProfileLT || sig.profile == ProfileLTTM || sig.profile == ProfileLTA
	if len(raws) == 0 {
		if needsOCSP {
			v.errorf(id, "%s signature has no OCSP response", sig.profile)
		}
		return
	}

	cert := sig.SigningCertificate()
	resp, err := xocsp.ParseResponse(raws[len(raws)-1], nil)
	if err != nil {
		v.errorf(id, "OCSP response: %v", err)
		return
	}
	if resp.SerialNumber == nil || resp.SerialNumber.Cmp(cert.SerialNumber) != 0 {
		v.errorf(id, "OCSP response is for serial %v, not the signing certificate", resp.SerialNumber)
	}
	if resp.Status != xocsp.Good {
		v.errorf(id, "signing certificate OCSP status is %s", ocsp.StatusString(resp.Status))
	}
	if sig.OCSPCertificate() == nil {
		v.warnf(id, "OCSP responder certificate is not embedded")
	}

	if sig.profile == ProfileLTTM {
		value, err := sig.doc.SignatureValue()
		if err != nil {
			return
		}
		nonce := ocsp.ResponseNonce(resp)
		switch {
		case nonce == nil:
			v.errorf(id, "time-mark OCSP response has no nonce")
		case !bytes.Equal(nonce, timeMarkNonce(value)):
			v.errorf(id, "time-mark OCSP nonce does not match the signature value")
		}
	}
}

func (c *Container) validateTimestamps(v *validator, sig *Signature) {
	id := sig.ID()
	doc := sig.doc

	sts, err := doc.SignatureTimestamps()
	if err != nil {
		v.errorf(id, "signature timestamp: %v", err)
	}
	if len(sts) == 0 && (sig.profile == ProfileLT || sig.profile == ProfileLTA) {
		v.errorf(id, "%s signature has no signature timestamp", sig.profile)
	}
	if len(sts) > 0 {
		input, err := doc.SignatureTimestampInput()
		if err != nil {
			v.errorf(id, "signature timestamp input: %v", err)
		}
		for i, raw := range sts {
			checkToken(v, id, fmt.Sprintf("signature timestamp %d", i), raw, input)
		}
	}

	ats, err := doc.ArchiveTimestamps()
	if err != nil {
		v.errorf(id, "archive timestamp: %v", err)
	}
	resolve := c.resolver()
	for i, raw := range ats {
		input, err := doc.ArchiveTimestampInputAt(resolve, i)
		if err != nil {
			v.errorf(id, "archive timestamp %d input: %v", i, err)
			continue
		}
		checkToken(v, id, fmt.Sprintf("archive timestamp %d", i), raw, input)
	}
}

func checkToken(v *validator, id, what string, raw, input []byte) {
	tok, err := ParseTimestampToken(raw)
	if err != nil {
		v.errorf(id, "%s: %v", what, err)
		return
	}
	if !tok.MessageImprintIntact() {
		v.errorf(id, "%s: token signature is invalid", what)
	}
	if input != nil && !tok.MatchData(input) {
		v.errorf(id, "%s does not cover the signature", what)
	}
}
