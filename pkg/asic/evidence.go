package asic

import (
	"context"
	"crypto"
	"crypto/x509"
	"fmt"
	"log/slog"
	"time"

	"github.com/samber/lo"
	xocsp "golang.org/x/crypto/ocsp"

	"github.com/remiblancher/asic/internal/ocsp"
	"github.com/remiblancher/asic/internal/xades"
)

// evidenceRun appends OCSP and timestamp evidence to a signature document.
type evidenceRun struct {
	services Services
	resolve  xades.Resolver
	cert     *x509.Certificate
	logger   *slog.Logger
	now      func() time.Time
}

func (e evidenceRun) apply(ctx context.Context, doc *xades.Document, steps []step) (*xades.Document, error) {
	for _, s := range steps {
		var err error
		switch s {
		case stepOCSP:
			err = e.addOCSP(ctx, doc, nil)
		case stepTimeMarkOCSP:
			var value []byte
			value, err = doc.SignatureValue()
			if err == nil {
				err = e.addOCSP(ctx, doc, timeMarkNonce(value))
			}
		case stepSignatureTimestamp:
			err = e.addTimestamp(ctx, doc, SignatureTimestamp)
		case stepArchiveTimestamp:
			err = e.addTimestamp(ctx, doc, ArchiveTimestamp)
		}
		if err != nil {
			return nil, err
		}
		e.logger.Debug("evidence added", "id", doc.ID(), "step", s.String())
	}
	return doc, nil
}

// timeMarkNonce binds an OCSP response to a signature value.
func timeMarkNonce(signatureValue []byte) []byte {
	return digest(crypto.SHA256, signatureValue)
}

func (e evidenceRun) addOCSP(ctx context.Context, doc *xades.Document, nonce []byte) error {
	if e.services.OCSP == nil {
		return NewSignatureError("ocsp", fmt.Errorf("%w: no OCSP source configured", ErrNotSupported))
	}
	now := time.Now
	if e.now != nil {
		now = e.now
	}
	ev, err := e.services.OCSP.FetchOCSP(ctx, e.cert, OCSPRequest{Time: now().UTC(), Nonce: nonce})
	if err != nil {
		return err
	}
	if ev.Status != xocsp.Good {
		e.logger.Warn("signing certificate is not good", "serial", e.cert.SerialNumber.String(),
			"status", ocsp.StatusString(ev.Status))
	}
	doc.AddOCSP(ev.Raw, lo.Compact([]*x509.Certificate{ev.Issuer})...)
	return nil
}

func (e evidenceRun) addTimestamp(ctx context.Context, doc *xades.Document, typ TimestampType) error {
	if e.services.TSA == nil {
		return NewSignatureError("timestamp", fmt.Errorf("%w: no timestamp source configured", ErrNotSupported))
	}

	var (
		input []byte
		err   error
	)
	if typ == ArchiveTimestamp {
		input, err = doc.ArchiveTimestampInput(e.resolve)
	} else {
		input, err = doc.SignatureTimestampInput()
	}
	if err != nil {
		return NewSignatureError("timestamp", err)
	}

	h := e.services.timestampDigest()
	tok, err := e.services.TSA.FetchTimestamp(ctx, h, digest(h, input))
	if err != nil {
		return err
	}
	if !tok.MatchData(input) {
		return NewSignatureError("timestamp", fmt.Errorf("%w: %s timestamp imprint does not match", ErrInvalidSignature, typ))
	}

	if typ == ArchiveTimestamp {
		doc.AddArchiveTimestamp(tok.Raw)
	} else {
		doc.AddSignatureTimestamp(tok.Raw)
	}
	return nil
}

// resolverFor serves data file content by archive name.
func resolverFor(files []DataFile) xades.Resolver {
	byName := lo.SliceToMap(files, func(f DataFile) (string, []byte) { return f.Name, f.Content })
	return func(name string) ([]byte, error) {
		content, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", xades.ErrMissingReference, name)
		}
		return content, nil
	}
}
