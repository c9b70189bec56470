package asic

import (
	"context"
	"crypto"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/samber/lo"

	"github.com/remiblancher/asic/internal/logging"
	"github.com/remiblancher/asic/internal/xades"
	"github.com/remiblancher/asic/pkg/audit"
)

// Parameters is a frozen snapshot of signer-supplied configuration.
type Parameters struct {
	city            string
	stateOrProvince string
	postalCode      string
	country         string
	roles           []string

	profile         Profile
	signatureDigest crypto.Hash
	dataFileDigest  crypto.Hash
	signingCert     *x509.Certificate
	signatureID     string
	policy          *Policy
	token           Token

	claimedSigningTime time.Time
}

func (p Parameters) City() string                          { return p.city }
func (p Parameters) StateOrProvince() string               { return p.stateOrProvince }
func (p Parameters) PostalCode() string                    { return p.postalCode }
func (p Parameters) Country() string                       { return p.country }
func (p Parameters) Roles() []string                       { return append([]string(nil), p.roles...) }
func (p Parameters) Profile() Profile                      { return p.profile }
func (p Parameters) SignatureDigestAlgorithm() crypto.Hash { return p.signatureDigest }
func (p Parameters) DataFileDigestAlgorithm() crypto.Hash  { return p.dataFileDigest }
func (p Parameters) SigningCertificate() *x509.Certificate { return p.signingCert }
func (p Parameters) SignatureID() string                   { return p.signatureID }
func (p Parameters) Token() Token                          { return p.token }
func (p Parameters) ClaimedSigningTime() time.Time         { return p.claimedSigningTime }

// Policy returns a copy of the custom policy, or nil.
func (p Parameters) Policy() *Policy {
	if p.policy == nil {
		return nil
	}
	c := *p.policy
	c.DigestValue = append([]byte(nil), p.policy.DigestValue...)
	return &c
}

func (p Parameters) clone() Parameters {
	c := p
	c.roles = p.Roles()
	c.policy = p.Policy()
	return c
}

// Builder assembles Parameters for one signature on one container.
type Builder struct {
	container *Container
	params    Parameters
	registry  *Registry
	services  Services
	now       func() time.Time
	logger    *slog.Logger
}

// NewSignatureBuilder starts a signature for c.
func NewSignatureBuilder(c *Container) *Builder {
	return &Builder{
		container: c,
		params:    Parameters{dataFileDigest: crypto.SHA256},
		now:       time.Now,
		logger:    logging.Component("asic"),
	}
}

func (b *Builder) WithCity(city string) *Builder {
	b.params.city = city
	return b
}

func (b *Builder) WithStateOrProvince(state string) *Builder {
	b.params.stateOrProvince = state
	return b
}

func (b *Builder) WithPostalCode(code string) *Builder {
	b.params.postalCode = code
	return b
}

func (b *Builder) WithCountry(country string) *Builder {
	b.params.country = country
	return b
}

// WithRoles sets the claimed signer roles. Blank roles are dropped.
func (b *Builder) WithRoles(roles ...string) *Builder {
	b.params.roles = lo.Filter(roles, func(r string, _ int) bool { return r != "" })
	return b
}

func (b *Builder) WithProfile(p Profile) *Builder {
	b.params.profile = p
	return b
}

func (b *Builder) WithSignatureDigestAlgorithm(h crypto.Hash) *Builder {
	b.params.signatureDigest = h
	return b
}

func (b *Builder) WithDataFileDigestAlgorithm(h crypto.Hash) *Builder {
	b.params.dataFileDigest = h
	return b
}

func (b *Builder) WithSigningCertificate(cert *x509.Certificate) *Builder {
	b.params.signingCert = cert
	return b
}

// WithSignatureID overrides the default "S<n>" id.
func (b *Builder) WithSignatureID(id string) *Builder {
	b.params.signatureID = id
	return b
}

// WithOwnSignaturePolicy replaces the default BDoc policy. It is only
// accepted together with LT_TM, or with no explicit profile.
func (b *Builder) WithOwnSignaturePolicy(p Policy) *Builder {
	p.DigestValue = append([]byte(nil), p.DigestValue...)
	b.params.policy = &p
	return b
}

// WithSignatureToken sets the token used by InvokeSigning. Its certificate
// is used unless one was set explicitly.
func (b *Builder) WithSignatureToken(t Token) *Builder {
	b.params.token = t
	return b
}

// WithRegistry selects the registry used to resolve the container's engine.
func (b *Builder) WithRegistry(r *Registry) *Builder {
	b.registry = r
	return b
}

// WithServices sets the OCSP and TSA collaborators used at finalize.
func (b *Builder) WithServices(s Services) *Builder {
	b.services = s
	return b
}

// WithClock overrides the source of the claimed signing time.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Parameters returns a snapshot of the configuration so far.
func (b *Builder) Parameters() Parameters {
	return b.params.clone()
}

func (b *Builder) resolveRegistry() *Registry {
	switch {
	case b.registry != nil:
		return b.registry
	case b.container != nil && b.container.registry != nil:
		return b.container.registry
	}
	return DefaultRegistry()
}

// BuildDataToSign validates the configuration, resolves defaults and returns
// the preimage the signer must sign. The container is not modified.
func (b *Builder) BuildDataToSign() (*DataToSign, error) {
	c := b.container
	if c == nil {
		return nil, NewSignatureError("build", fmt.Errorf("%w: no container", ErrNotSupported))
	}
	if c.isTimestamped() {
		_ = audit.LogSignatureRejected(string(c.Type()), b.params.profile.String(), ErrTimestampedContainer.Error())
		return nil, NewSignatureError("build", fmt.Errorf("%w: %w", ErrNotSupported, ErrTimestampedContainer))
	}
	if c.format == ASICS && len(c.signatures) > 0 {
		return nil, NewSignatureError("build", fmt.Errorf("%w: ASiC-S container holds a single signature", ErrNotSupported))
	}
	if len(c.files) == 0 {
		return nil, NewSignatureError("build", ErrNoDataFiles)
	}

	p := b.params.clone()
	if p.signingCert == nil && p.token != nil {
		p.signingCert = p.token.Certificate()
	}
	if p.signingCert == nil {
		return nil, NewSignatureError("build", fmt.Errorf("%w: signing certificate is required", ErrSignatureTokenMissing))
	}
	if p.policy != nil {
		if err := p.policy.Validate(); err != nil {
			return nil, NewSignatureError("build", err)
		}
	}

	effective, err := CheckCompatibility(c.format, p.profile, p.policy != nil)
	if err != nil {
		_ = audit.LogSignatureRejected(string(c.Type()), p.profile.String(), err.Error())
		return nil, NewSignatureError("build", err)
	}
	p.profile = effective
	if p.policy == nil && effective.embedsPolicy() {
		def := DefaultBDocPolicy
		p.policy = &def
	}

	if p.signatureDigest == 0 {
		p.signatureDigest = DefaultDigestFor(p.signingCert)
	}
	if p.dataFileDigest == 0 {
		p.dataFileDigest = crypto.SHA256
	}
	p.claimedSigningTime = b.now().UTC().Truncate(time.Second)

	if p.signatureID == "" {
		p.signatureID = c.nextSignatureID()
	} else if c.hasSignatureID(p.signatureID) {
		return nil, NewSignatureError("build", fmt.Errorf("%w: signature id %q already used", ErrNotSupported, p.signatureID))
	}

	engine, err := b.resolveRegistry().engineFor(c.Type())
	if err != nil {
		return nil, NewSignatureError("build", err)
	}
	draft, err := engine.ComputePreimage(c, p)
	if errors.Is(err, xades.ErrUnsupportedAlgorithm) {
		err = fmt.Errorf("%w: %w", ErrNotSupported, err)
	}
	if err != nil {
		return nil, NewSignatureError("build", err)
	}

	info := auditInfo(p, c)
	if err := audit.LogDataToSignBuilt(info); err != nil {
		return nil, err
	}
	b.logger.Debug("data to sign built",
		"id", p.signatureID,
		"profile", p.profile.String(),
		"container", string(c.Type()),
		"digest", DigestName(p.signatureDigest))

	return &DataToSign{
		params:   p,
		draft:    draft,
		engine:   engine,
		docType:  c.Type(),
		files:    c.DataFiles(),
		services: b.services,
		logger:   b.logger,
	}, nil
}

// InvokeSigning builds the DataToSign, signs it with the configured token
// and finalizes it. The signature is not attached to the container.
func (b *Builder) InvokeSigning(ctx context.Context) (*Signature, error) {
	if b.params.token == nil {
		return nil, NewSignatureError("sign", ErrSignatureTokenMissing)
	}
	dts, err := b.BuildDataToSign()
	if err != nil {
		return nil, err
	}
	value, err := SignWithRetry(b.params.token, dts, defaultSignAttempts)
	if err != nil {
		return nil, err
	}
	return dts.Finalize(ctx, value)
}

// OpenAdESSignature parses an existing signature document using the engine
// registered for the container type.
func (b *Builder) OpenAdESSignature(data []byte) (*Signature, error) {
	tag := ASICE
	if b.container != nil {
		tag = b.container.Type()
	}
	engine, err := b.resolveRegistry().engineFor(tag)
	if err != nil {
		return nil, NewSignatureError("open", err)
	}
	return engine.ParseSignature(data)
}

func auditInfo(p Parameters, c *Container) audit.SignatureInfo {
	info := audit.SignatureInfo{
		ID:        p.signatureID,
		Profile:   p.profile.String(),
		Algorithm: DigestName(p.signatureDigest),
	}
	if c != nil {
		info.Container = string(c.Type())
	}
	if p.signingCert != nil {
		info.Serial = p.signingCert.SerialNumber.String()
		info.Subject = p.signingCert.Subject.String()
	}
	return info
}
