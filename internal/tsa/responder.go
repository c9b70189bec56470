package tsa

import (
	"io"
	"net/http"
)

// Responder serves RFC 3161 requests over HTTP.
type Responder struct {
	Config *TokenConfig
	Serial SerialGenerator
}

// ServeHTTP answers a single timestamp-query.
func (r *Responder) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(req.Body, maxResponseSize))
	if err != nil {
		http.Error(w, "failed to read request", http.StatusBadRequest)
		return
	}

	var resp *Response
	tsReq, err := ParseRequest(body)
	if err != nil {
		resp = NewRejectionResponse(FailBadDataFormat, err.Error())
	} else {
		serial := r.Serial
		if serial == nil {
			serial = &RandomSerialGenerator{}
		}
		token, err := CreateToken(tsReq, r.Config, serial)
		if err != nil {
			resp = NewRejectionResponse(FailSystemFailure, err.Error())
		} else {
			resp = NewGrantedResponse(token)
		}
	}

	der, err := resp.Marshal()
	if err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentTypeReply)
	_, _ = w.Write(der)
}
