package ocsp

import (
	"crypto"
	"crypto/x509"
	"math/big"
	"net/http"
	"sync"
	"time"

	xocsp "golang.org/x/crypto/ocsp"
)

// Responder answers OCSP requests for certificates issued by Issuer.
// Every serial is reported good unless it was passed to Revoke.
type Responder struct {
	Issuer *x509.Certificate
	Signer crypto.Signer
	// Now overrides the clock used for producedAt/thisUpdate.
	Now func() time.Time

	mu      sync.Mutex
	revoked map[string]time.Time
}

// NewResponder creates a responder that signs with the issuer key.
func NewResponder(issuer *x509.Certificate, signer crypto.Signer) *Responder {
	return &Responder{Issuer: issuer, Signer: signer, revoked: make(map[string]time.Time)}
}

// Revoke marks serial as revoked at the given time.
func (r *Responder) Revoke(serial *big.Int, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.revoked == nil {
		r.revoked = make(map[string]time.Time)
	}
	r.revoked[serial.String()] = at
}

// ServeHTTP decodes the request, echoes its nonce and returns a signed
// basic response.
func (r *Responder) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	ocspReq, err := ParseRequestFromHTTP(req)
	if err != nil {
		writeResponse(w, xocsp.MalformedRequestErrorResponse)
		return
	}

	certID := ocspReq.TBSRequest.RequestList[0].ReqCert
	if !certID.MatchesIssuer(r.Issuer) {
		writeResponse(w, xocsp.UnauthorizedErrorResponse)
		return
	}

	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	t := now().UTC().Truncate(time.Second)

	template := xocsp.Response{
		Status:       xocsp.Good,
		SerialNumber: certID.SerialNumber,
		ThisUpdate:   t,
		NextUpdate:   t.Add(time.Hour),
		Certificate:  r.Issuer,
	}
	if h, ok := hashFromOID(certID.HashAlgorithm.Algorithm); ok {
		template.IssuerHash = h
	}

	r.mu.Lock()
	if at, ok := r.revoked[certID.SerialNumber.String()]; ok {
		template.Status = xocsp.Revoked
		template.RevokedAt = at.UTC().Truncate(time.Second)
		template.RevocationReason = xocsp.KeyCompromise
	}
	r.mu.Unlock()

	if nonce := ocspReq.GetNonce(); nonce != nil {
		ext, err := NonceExtension(nonce)
		if err != nil {
			writeResponse(w, xocsp.InternalErrorErrorResponse)
			return
		}
		template.ExtraExtensions = append(template.ExtraExtensions, ext)
	}

	der, err := xocsp.CreateResponse(r.Issuer, r.Issuer, template, r.Signer)
	if err != nil {
		writeResponse(w, xocsp.InternalErrorErrorResponse)
		return
	}
	writeResponse(w, der)
}

func writeResponse(w http.ResponseWriter, der []byte) {
	w.Header().Set("Content-Type", contentTypeResponse)
	_, _ = w.Write(der)
}
