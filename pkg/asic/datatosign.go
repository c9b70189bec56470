package asic

import (
	"context"
	"crypto"
	"fmt"
	"log/slog"
	"sync"

	"github.com/remiblancher/asic/internal/metrics"
	"github.com/remiblancher/asic/pkg/audit"
)

// DataToSign is the single-use result of BuildDataToSign. It carries the
// preimage to sign and everything Finalize needs to turn a raw signature
// value into a Signature.
type DataToSign struct {
	params   Parameters
	draft    *Draft
	engine   Engine
	docType  DocumentType
	files    []DataFile
	services Services
	logger   *slog.Logger

	mu       sync.Mutex
	consumed bool
}

// Bytes returns the preimage (canonical SignedInfo).
func (d *DataToSign) Bytes() []byte {
	return d.draft.Preimage()
}

// DigestAlgorithm returns the algorithm the signer must hash Bytes with.
func (d *DataToSign) DigestAlgorithm() crypto.Hash {
	return d.params.signatureDigest
}

// Digest returns the hash of Bytes, for signers that take a digest.
func (d *DataToSign) Digest() []byte {
	return digest(d.params.signatureDigest, d.Bytes())
}

// Parameters returns the frozen parameters.
func (d *DataToSign) Parameters() Parameters {
	return d.params.clone()
}

// Consumed reports whether Finalize has accepted a value.
func (d *DataToSign) Consumed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.consumed
}

// Finalize embeds value, runs the post-processing of the profile and returns
// a Signature that is not yet attached to any container. A value of the
// wrong shape leaves the DataToSign usable; any later failure consumes it.
func (d *DataToSign) Finalize(ctx context.Context, value []byte) (*Signature, error) {
	d.mu.Lock()
	if d.consumed {
		d.mu.Unlock()
		return nil, NewSignatureError("finalize", ErrDataToSignConsumed)
	}
	cert := d.params.signingCert
	normalized, err := normalizeSignatureValue(cert.PublicKey, value)
	if err != nil {
		d.mu.Unlock()
		return nil, NewSignatureError("finalize", err)
	}
	d.consumed = true
	d.mu.Unlock()

	sig, err := d.finalize(ctx, normalized)
	profile := d.params.profile.String()
	metrics.ObserveSignature(profile, string(d.docType), err)

	info := auditInfo(d.params, nil)
	info.Container = string(d.docType)
	if err != nil {
		_ = audit.LogSignatureCreated(info, false, err.Error())
		d.logger.Info("signature finalize failed", "id", d.params.signatureID, "profile", profile, "error", err)
		return nil, err
	}
	if err := audit.LogSignatureCreated(info, true, ""); err != nil {
		return nil, err
	}
	d.logger.Info("signature created", "id", sig.ID(), "profile", sig.Profile().String())
	return sig, nil
}

func (d *DataToSign) finalize(ctx context.Context, value []byte) (*Signature, error) {
	raw, err := d.engine.EmbedSignatureValue(d.draft, value)
	if err != nil {
		return nil, NewSignatureError("finalize", err)
	}
	sig, err := d.engine.ParseSignature(raw)
	if err != nil {
		return nil, err
	}

	steps := postProcessing[d.params.profile]
	if len(steps) == 0 {
		return sig, nil
	}
	if sig.doc == nil {
		return nil, NewSignatureError("finalize", fmt.Errorf("%w: engine output cannot carry evidence", ErrNotSupported))
	}

	ev := evidenceRun{
		services: d.services,
		resolve:  resolverFor(d.files),
		cert:     d.params.signingCert,
		logger:   d.logger,
	}
	doc, err := ev.apply(ctx, sig.doc.Clone(), steps)
	if err != nil {
		return nil, err
	}
	return newSignature(doc)
}
