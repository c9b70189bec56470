package service

import (
	"context"
	"crypto"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/remiblancher/asic/internal/api/dto"
	"github.com/remiblancher/asic/internal/config"
	"github.com/remiblancher/asic/internal/logging"
	"github.com/remiblancher/asic/pkg/asic"
	"github.com/remiblancher/asic/pkg/token"
)

// session is a pending remote signature: the single-use DataToSign waiting
// for the signer's value.
type session struct {
	containerID string
	signatureID string
	dts         *asic.DataToSign
	expiresAt   time.Time
}

// ContainerService provides container operations for the REST API.
type ContainerService struct {
	cfg      *config.Config
	services asic.Services
	store    *Store
	logger   *slog.Logger
	now      func() time.Time

	// ops serializes open-modify-save sequences on the store.
	ops sync.Mutex

	mu       sync.Mutex
	sessions map[string]*session
}

// NewContainerService creates a new ContainerService.
func NewContainerService(cfg *config.Config, services asic.Services, store *Store) *ContainerService {
	if cfg == nil {
		cfg = config.Default()
	}
	if store == nil {
		store = NewStore(nil)
	}
	return &ContainerService{
		cfg:      cfg,
		services: services,
		store:    store,
		logger:   logging.Component("api"),
		now:      time.Now,
		sessions: make(map[string]*session),
	}
}

// Services returns the configured OCSP and TSA collaborators.
func (s *ContainerService) Services() asic.Services { return s.services }

// SetClock replaces the clock used for session expiry.
func (s *ContainerService) SetClock(now func() time.Time) { s.now = now }

// Create stores a new container built from data files, or an imported one.
func (s *ContainerService) Create(ctx context.Context, req *dto.CreateContainerRequest) (*dto.ContainerResponse, error) {
	c, err := s.buildContainer(req)
	if err != nil {
		return nil, err
	}
	id, err := s.store.Create(c)
	if err != nil {
		return nil, err
	}
	logging.FromContext(ctx).Info("container created", "id", id, "type", string(c.Type()), "files", len(c.DataFiles()))
	return containerResponse(id, c), nil
}

func (s *ContainerService) buildContainer(req *dto.CreateContainerRequest) (*asic.Container, error) {
	if req.Container != nil {
		if len(req.Files) > 0 {
			return nil, fmt.Errorf("%w: files and container are mutually exclusive", ErrInvalidRequest)
		}
		data, err := req.Container.Decode()
		if err != nil {
			return nil, fmt.Errorf("%w: container: %v", ErrInvalidRequest, err)
		}
		return asic.OpenBytes(data)
	}

	if len(req.Files) == 0 {
		return nil, fmt.Errorf("%w: at least one file is required", ErrInvalidRequest)
	}
	tag := asic.ASICE
	if req.Type != "" {
		t, err := asic.ParseDocumentType(req.Type)
		if err != nil {
			return nil, err
		}
		tag = t
	}
	c, err := asic.NewContainer(tag)
	if err != nil {
		return nil, err
	}
	for _, f := range req.Files {
		content, err := f.Content.Decode()
		if err != nil {
			return nil, fmt.Errorf("%w: file %s: %v", ErrInvalidRequest, f.Name, err)
		}
		if err := c.AddDataFile(f.Name, f.MimeType, content); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Get describes a stored container.
func (s *ContainerService) Get(ctx context.Context, id string) (*dto.ContainerResponse, error) {
	c, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}
	return containerResponse(id, c), nil
}

// Download returns the serialized container and its file extension.
func (s *ContainerService) Download(ctx context.Context, id string) ([]byte, string, error) {
	data, t, err := s.store.Bytes(id)
	if err != nil {
		return nil, "", err
	}
	return data, extensionFor(t), nil
}

// Delete removes a container and abandons its pending sessions.
func (s *ContainerService) Delete(ctx context.Context, id string) error {
	s.ops.Lock()
	defer s.ops.Unlock()
	if err := s.store.Delete(id); err != nil {
		return err
	}
	s.mu.Lock()
	for sid, sess := range s.sessions {
		if sess.containerID == id {
			delete(s.sessions, sid)
		}
	}
	s.mu.Unlock()
	logging.FromContext(ctx).Info("container deleted", "id", id)
	return nil
}

// DataToSign opens a signing session on a container.
func (s *ContainerService) DataToSign(ctx context.Context, id string, req *dto.DataToSignRequest) (*dto.DataToSignResponse, error) {
	cert, err := decodeCertificate(req.Certificate)
	if err != nil {
		return nil, err
	}
	c, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}

	b := asic.NewSignatureBuilder(c).
		WithSigningCertificate(cert).
		WithServices(s.services).
		WithCity(req.City).
		WithStateOrProvince(req.StateOrProvince).
		WithPostalCode(req.PostalCode).
		WithCountry(req.Country).
		WithRoles(req.Roles...)
	if err := s.applyDefaults(b, req); err != nil {
		return nil, err
	}
	if req.Policy != nil {
		p, err := decodePolicy(req.Policy)
		if err != nil {
			return nil, err
		}
		b.WithOwnSignaturePolicy(p)
	}

	// The id is reserved and the session stored under one lock, so
	// concurrent sessions on a container never share a signature id.
	now := s.now()
	s.mu.Lock()
	s.pruneLocked(now)
	sigID, err := s.reserveSignatureIDLocked(id, c, req.SignatureID)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	dts, err := b.WithSignatureID(sigID).BuildDataToSign()
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	sess := &session{containerID: id, signatureID: sigID, dts: dts, expiresAt: now.Add(s.cfg.Server.SessionTTL)}
	sid := uuid.NewString()
	s.sessions[sid] = sess
	s.mu.Unlock()

	p := dts.Parameters()
	logging.FromContext(ctx).Info("signing session opened",
		"session", sid,
		"container", id,
		"signature", p.SignatureID(),
		"profile", p.Profile().String())

	return &dto.DataToSignResponse{
		SessionID:       sid,
		ContainerID:     id,
		SignatureID:     p.SignatureID(),
		Profile:         p.Profile().String(),
		DigestAlgorithm: asic.DigestName(dts.DigestAlgorithm()),
		DataToSign:      dto.Base64(dts.Bytes()),
		Digest:          dto.Base64(dts.Digest()),
		ExpiresAt:       sess.expiresAt.UTC().Format(time.RFC3339),
	}, nil
}

func (s *ContainerService) applyDefaults(b *asic.Builder, req *dto.DataToSignRequest) error {
	profile, err := s.cfg.Profile()
	if err != nil {
		return err
	}
	if req.Profile != "" {
		if profile, err = asic.ParseProfile(req.Profile); err != nil {
			return err
		}
	}
	b.WithProfile(profile)

	sigDigest := s.cfg.SignatureDigest()
	if req.DigestAlgorithm != "" {
		if sigDigest, err = asic.ParseDigestAlgorithm(req.DigestAlgorithm); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
	}
	if sigDigest != 0 {
		b.WithSignatureDigestAlgorithm(sigDigest)
	}

	fileDigest := s.cfg.DataFileDigest()
	if req.DataFileDigest != "" {
		if fileDigest, err = asic.ParseDigestAlgorithm(req.DataFileDigest); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
	}
	b.WithDataFileDigestAlgorithm(fileDigest)
	return nil
}

// reserveSignatureIDLocked returns the id for a new session on container id.
// An empty requested id picks the first S<n> taken neither by the container
// nor by another pending session.
func (s *ContainerService) reserveSignatureIDLocked(id string, c *asic.Container, requested string) (string, error) {
	taken := lo.SliceToMap(c.Signatures(), func(sig *asic.Signature) (string, bool) { return sig.ID(), true })
	for _, sess := range s.sessions {
		if sess.containerID == id {
			taken[sess.signatureID] = true
		}
	}
	if requested != "" {
		if taken[requested] {
			return "", fmt.Errorf("%w: %q", ErrSignatureIDInUse, requested)
		}
		return requested, nil
	}
	for n := len(c.Signatures()); ; n++ {
		if candidate := "S" + strconv.Itoa(n); !taken[candidate] {
			return candidate, nil
		}
	}
}

func (s *ContainerService) pruneLocked(now time.Time) {
	for sid, sess := range s.sessions {
		if now.After(sess.expiresAt) {
			delete(s.sessions, sid)
		}
	}
}

// Finalize completes a signing session and attaches the signature to its
// container. A value of the wrong shape keeps the session open for a retry.
func (s *ContainerService) Finalize(ctx context.Context, sessionID string, req *dto.FinalizeRequest) (*dto.FinalizeResponse, error) {
	value, err := req.SignatureValue.Decode()
	if err != nil {
		return nil, fmt.Errorf("%w: signature_value: %v", ErrInvalidRequest, err)
	}
	if len(value) == 0 {
		return nil, fmt.Errorf("%w: signature_value is required", ErrInvalidRequest)
	}

	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if ok && s.now().After(sess.expiresAt) {
		delete(s.sessions, sessionID)
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrSessionExpired, sessionID)
	}
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	// Reject before any OCSP or TSA call when the container is gone or the
	// id was attached meanwhile.
	c, err := s.store.Get(sess.containerID)
	if err != nil {
		s.endSession(sessionID)
		return nil, err
	}
	if lo.ContainsBy(c.Signatures(), func(sig *asic.Signature) bool { return sig.ID() == sess.signatureID }) {
		s.endSession(sessionID)
		return nil, fmt.Errorf("%w: %q", ErrSignatureIDInUse, sess.signatureID)
	}

	sig, err := sess.dts.Finalize(ctx, value)
	if err != nil {
		if !errors.Is(err, asic.ErrInvalidSignatureValue) {
			s.endSession(sessionID)
		}
		return nil, err
	}
	s.endSession(sessionID)

	s.ops.Lock()
	defer s.ops.Unlock()
	c, err = s.store.Get(sess.containerID)
	if err != nil {
		return nil, err
	}
	if err := c.AddSignature(sig); err != nil {
		return nil, err
	}
	if err := s.store.Put(sess.containerID, c); err != nil {
		return nil, err
	}

	logging.FromContext(ctx).Info("signature attached",
		"container", sess.containerID,
		"signature", sig.ID(),
		"profile", sig.Profile().String())
	return &dto.FinalizeResponse{ContainerID: sess.containerID, Signature: signatureInfo(sig)}, nil
}

func (s *ContainerService) endSession(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

// PendingSessions returns the number of open signing sessions.
func (s *ContainerService) PendingSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Extend raises every signature of a container to the requested profile.
func (s *ContainerService) Extend(ctx context.Context, id string, req *dto.ExtendRequest) (*dto.ContainerResponse, error) {
	if req.Profile == "" {
		return nil, fmt.Errorf("%w: profile is required", ErrInvalidRequest)
	}
	target, err := asic.ParseProfile(req.Profile)
	if err != nil {
		return nil, err
	}

	s.ops.Lock()
	defer s.ops.Unlock()
	c, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}
	if err := c.ExtendSignatures(ctx, target, s.services); err != nil {
		return nil, err
	}
	if err := s.store.Put(id, c); err != nil {
		return nil, err
	}
	return containerResponse(id, c), nil
}

// Timestamp adds the content timestamp to an ASiC-S container.
func (s *ContainerService) Timestamp(ctx context.Context, id string, req *dto.TimestampRequest) (*dto.ContainerResponse, error) {
	h := s.services.TimestampDigest
	if req.DigestAlgorithm != "" {
		var err error
		if h, err = asic.ParseDigestAlgorithm(req.DigestAlgorithm); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
	}

	s.ops.Lock()
	defer s.ops.Unlock()
	c, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}
	if err := c.AddTimestamp(ctx, s.services.TSA, h); err != nil {
		return nil, err
	}
	if err := s.store.Put(id, c); err != nil {
		return nil, err
	}
	return containerResponse(id, c), nil
}

// Validate validates a stored container.
func (s *ContainerService) Validate(ctx context.Context, id string) (*dto.ValidationResponse, error) {
	c, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}
	res := c.Validate()
	return &dto.ValidationResponse{
		Valid:    res.Valid(),
		Errors:   issues(res.Errors),
		Warnings: issues(res.Warnings),
	}, nil
}

func issues(in []asic.Issue) []dto.IssueInfo {
	return lo.Map(in, func(i asic.Issue, _ int) dto.IssueInfo {
		return dto.IssueInfo{SignatureID: i.SignatureID, Message: i.Message}
	})
}

func decodeCertificate(b dto.BinaryData) (*x509.Certificate, error) {
	data, err := b.Decode()
	if err != nil {
		return nil, fmt.Errorf("%w: certificate: %v", ErrInvalidRequest, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: certificate is required", ErrInvalidRequest)
	}
	if cert, err := token.ParseCertificatePEM(data); err == nil {
		return cert, nil
	}
	cert, err := x509.ParseCertificate(data)
	if err != nil {
		return nil, fmt.Errorf("%w: certificate: %v", ErrInvalidRequest, err)
	}
	return cert, nil
}

func decodePolicy(req *dto.PolicyRequest) (asic.Policy, error) {
	h := crypto.SHA256
	if req.DigestAlgorithm != "" {
		var err error
		if h, err = asic.ParseDigestAlgorithm(req.DigestAlgorithm); err != nil {
			return asic.Policy{}, fmt.Errorf("%w: policy: %v", ErrInvalidRequest, err)
		}
	}
	value, err := req.Digest.Decode()
	if err != nil {
		return asic.Policy{}, fmt.Errorf("%w: policy digest: %v", ErrInvalidRequest, err)
	}
	return asic.Policy{ID: req.ID, DigestAlgorithm: h, DigestValue: value, QualifierURI: req.QualifierURI}, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func certificateInfo(cert *x509.Certificate) *dto.CertificateInfo {
	if cert == nil {
		return nil
	}
	return &dto.CertificateInfo{
		Subject:   cert.Subject.String(),
		Issuer:    cert.Issuer.String(),
		Serial:    cert.SerialNumber.Text(16),
		NotBefore: formatTime(cert.NotBefore),
		NotAfter:  formatTime(cert.NotAfter),
	}
}

func signatureInfo(sig *asic.Signature) dto.SignatureInfo {
	info := dto.SignatureInfo{
		ID:                 sig.ID(),
		Profile:            sig.Profile().String(),
		ClaimedSigningTime: formatTime(sig.ClaimedSigningTime()),
		TrustedSigningTime: formatTime(sig.TrustedSigningTime()),
		OCSPTime:           formatTime(sig.OCSPResponseCreationTime()),
		TimestampTime:      formatTime(sig.TimeStampCreationTime()),
		DigestAlgorithm:    sig.SignatureDigestAlgorithm(),
		Signer:             certificateInfo(sig.SigningCertificate()),
		City:               sig.City(),
		StateOrProvince:    sig.StateOrProvince(),
		PostalCode:         sig.PostalCode(),
		Country:            sig.CountryName(),
		Roles:              sig.SignerRoles(),
	}
	if p := sig.Policy(); p != nil {
		info.PolicyID = p.ID
	}
	return info
}

func containerResponse(id string, c *asic.Container) *dto.ContainerResponse {
	resp := &dto.ContainerResponse{
		ID:   id,
		Type: string(c.Type()),
		Files: lo.Map(c.DataFiles(), func(f asic.DataFile, _ int) dto.DataFileInfo {
			return dto.DataFileInfo{Name: f.Name, MimeType: f.MimeType, Size: f.Size()}
		}),
		Signatures: lo.Map(c.Signatures(), func(sig *asic.Signature, _ int) dto.SignatureInfo {
			return signatureInfo(sig)
		}),
	}
	if tok := c.Timestamp(); tok != nil {
		resp.Timestamp = &dto.TimestampInfo{
			GenTime:         formatTime(tok.GenTime),
			DigestAlgorithm: asic.DigestName(tok.DigestAlgorithm),
		}
	}
	return resp
}
