package dto

// DataFileRequest is a payload uploaded with a new container.
type DataFileRequest struct {
	Name     string     `json:"name"`
	MimeType string     `json:"mime_type,omitempty"`
	Content  BinaryData `json:"content"`
}

// CreateContainerRequest creates a container from data files, or imports
// an existing serialized container.
type CreateContainerRequest struct {
	// Type is ASICE (default), ASICS or BDOC. Ignored on import.
	Type string `json:"type,omitempty"`

	// Files are added in order.
	Files []DataFileRequest `json:"files,omitempty"`

	// Container is a serialized container to import instead of Files.
	Container *BinaryData `json:"container,omitempty"`
}

// DataFileInfo describes a data file without its content.
type DataFileInfo struct {
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	Size     int    `json:"size"`
}

// SignatureInfo describes a signature.
type SignatureInfo struct {
	ID                 string           `json:"id"`
	Profile            string           `json:"profile"`
	ClaimedSigningTime string           `json:"claimed_signing_time,omitempty"`
	TrustedSigningTime string           `json:"trusted_signing_time,omitempty"`
	OCSPTime           string           `json:"ocsp_time,omitempty"`
	TimestampTime      string           `json:"timestamp_time,omitempty"`
	DigestAlgorithm    string           `json:"digest_algorithm,omitempty"`
	Signer             *CertificateInfo `json:"signer,omitempty"`
	City               string           `json:"city,omitempty"`
	StateOrProvince    string           `json:"state_or_province,omitempty"`
	PostalCode         string           `json:"postal_code,omitempty"`
	Country            string           `json:"country,omitempty"`
	Roles              []string         `json:"roles,omitempty"`
	PolicyID           string           `json:"policy_id,omitempty"`
}

// TimestampInfo describes the ASiC-S timestamp token.
type TimestampInfo struct {
	GenTime         string `json:"gen_time"`
	DigestAlgorithm string `json:"digest_algorithm"`
}

// ContainerResponse describes a stored container.
type ContainerResponse struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Files      []DataFileInfo  `json:"files"`
	Signatures []SignatureInfo `json:"signatures"`
	Timestamp  *TimestampInfo  `json:"timestamp,omitempty"`
}

// PolicyRequest is a custom signature policy.
type PolicyRequest struct {
	ID              string     `json:"id"`
	DigestAlgorithm string     `json:"digest_algorithm"`
	Digest          BinaryData `json:"digest"`
	QualifierURI    string     `json:"qualifier_uri,omitempty"`
}

// DataToSignRequest starts a remote signing session.
type DataToSignRequest struct {
	// Certificate is the signer certificate (PEM or base64 DER).
	Certificate BinaryData `json:"certificate"`

	Profile         string         `json:"profile,omitempty"`
	DigestAlgorithm string         `json:"digest_algorithm,omitempty"`
	DataFileDigest  string         `json:"data_file_digest,omitempty"`
	SignatureID     string         `json:"signature_id,omitempty"`
	City            string         `json:"city,omitempty"`
	StateOrProvince string         `json:"state_or_province,omitempty"`
	PostalCode      string         `json:"postal_code,omitempty"`
	Country         string         `json:"country,omitempty"`
	Roles           []string       `json:"roles,omitempty"`
	Policy          *PolicyRequest `json:"policy,omitempty"`
}

// DataToSignResponse carries the bytes the remote signer must sign.
type DataToSignResponse struct {
	SessionID       string     `json:"session_id"`
	ContainerID     string     `json:"container_id"`
	SignatureID     string     `json:"signature_id"`
	Profile         string     `json:"profile"`
	DigestAlgorithm string     `json:"digest_algorithm"`
	DataToSign      BinaryData `json:"data_to_sign"`
	Digest          BinaryData `json:"digest"`
	ExpiresAt       string     `json:"expires_at"`
}

// FinalizeRequest completes a signing session.
type FinalizeRequest struct {
	// SignatureValue is the raw value: r||s or DER for ECDSA, PKCS#1 v1.5 for RSA.
	SignatureValue BinaryData `json:"signature_value"`
}

// FinalizeResponse reports the attached signature.
type FinalizeResponse struct {
	ContainerID string        `json:"container_id"`
	Signature   SignatureInfo `json:"signature"`
}

// ExtendRequest raises every signature of a container.
type ExtendRequest struct {
	Profile string `json:"profile"`
}

// TimestampRequest timestamps an ASiC-S container.
type TimestampRequest struct {
	DigestAlgorithm string `json:"digest_algorithm,omitempty"`
}

// IssueInfo is one validation finding.
type IssueInfo struct {
	SignatureID string `json:"signature_id,omitempty"`
	Message     string `json:"message"`
}

// ValidationResponse is the result of container validation.
type ValidationResponse struct {
	Valid    bool        `json:"valid"`
	Errors   []IssueInfo `json:"errors,omitempty"`
	Warnings []IssueInfo `json:"warnings,omitempty"`
}
