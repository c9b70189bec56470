package asic

import (
	"context"
	"crypto"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/remiblancher/asic/internal/logging"
	"github.com/remiblancher/asic/internal/metrics"
	"github.com/remiblancher/asic/internal/xades"
	"github.com/remiblancher/asic/pkg/audit"
)

// DefaultMimeType is used for data files added without a mimetype.
const DefaultMimeType = "application/octet-stream"

// DataFile is a payload entry of a container.
type DataFile struct {
	Name     string
	MimeType string
	Content  []byte
}

// Size returns the content length in bytes.
func (f DataFile) Size() int { return len(f.Content) }

// Container bundles data files with signatures or, for ASiC-S, a single
// timestamp token.
//
// A Container is not safe for concurrent mutation. Callers serialize
// AddSignature, ExtendSignature and friends on the same container.
type Container struct {
	docType    DocumentType
	format     DocumentType
	files      []DataFile
	signatures []*Signature
	timestamp  *TimestampToken
	registry   *Registry
}

// NewContainer creates an empty container of a type known to the default
// registry.
func NewContainer(tag DocumentType) (*Container, error) {
	return DefaultRegistry().NewContainer(tag)
}

// NewFormatContainer creates an empty container tagged tag that follows the
// rules of the built-in format. Custom registry factories use it.
func NewFormatContainer(tag, format DocumentType) *Container {
	return &Container{docType: tag, format: format}
}

// Type returns the container type tag.
func (c *Container) Type() DocumentType { return c.docType }

// Format returns the built-in format whose rules the container follows.
func (c *Container) Format() DocumentType { return c.format }

// DataFiles returns the data files in archive order.
func (c *Container) DataFiles() []DataFile {
	out := make([]DataFile, len(c.files))
	for i, f := range c.files {
		out[i] = DataFile{Name: f.Name, MimeType: f.MimeType, Content: append([]byte(nil), f.Content...)}
	}
	return out
}

// DataFile returns the data file called name.
func (c *Container) DataFile(name string) (DataFile, bool) {
	f, ok := lo.Find(c.files, func(f DataFile) bool { return f.Name == name })
	return f, ok
}

// Signatures returns the signatures in index order.
func (c *Container) Signatures() []*Signature {
	return append([]*Signature(nil), c.signatures...)
}

// Timestamp returns the ASiC-S timestamp token, or nil.
func (c *Container) Timestamp() *TimestampToken { return c.timestamp }

func (c *Container) isTimestamped() bool {
	return c.format == ASICS && c.timestamp != nil
}

// AddDataFile adds a payload. Files cannot be added once the container is
// signed or timestamped, and ASiC-S holds exactly one.
func (c *Container) AddDataFile(name, mimeType string, content []byte) error {
	if c.isTimestamped() {
		return NewSignatureError("add", fmt.Errorf("%w: %w", ErrNotSupported, ErrTimestampedContainer))
	}
	if c.format == ASICS && len(c.files) > 0 {
		return NewSignatureError("add", fmt.Errorf("%w: ASiC-S container holds exactly one data file", ErrNotSupported))
	}
	if len(c.signatures) > 0 {
		return NewSignatureError("add", fmt.Errorf("%w: cannot add data files to a signed container", ErrNotSupported))
	}
	if err := checkDataFileName(name); err != nil {
		return NewSignatureError("add", err)
	}
	if _, dup := c.DataFile(name); dup {
		return NewSignatureError("add", fmt.Errorf("%w: duplicate data file %q", ErrNotSupported, name))
	}
	if mimeType == "" {
		mimeType = DefaultMimeType
	}
	c.files = append(c.files, DataFile{Name: name, MimeType: mimeType, Content: append([]byte(nil), content...)})
	return nil
}

func checkDataFileName(name string) error {
	clean := path.Clean(name)
	switch {
	case name == "" || strings.HasSuffix(name, "/"):
		return fmt.Errorf("%w: data file name %q", ErrNotSupported, name)
	case clean != name || strings.HasPrefix(name, "/") || strings.HasPrefix(clean, "../"):
		return fmt.Errorf("%w: data file name %q is not a clean relative path", ErrNotSupported, name)
	case name == "mimetype" || strings.HasPrefix(name, "META-INF/"):
		return fmt.Errorf("%w: data file name %q is reserved", ErrNotSupported, name)
	}
	return nil
}

// AddSignature attaches a finalized signature. Its references must name the
// container's data files and match their content.
func (c *Container) AddSignature(sig *Signature) error {
	if sig == nil || sig.doc == nil {
		return NewSignatureError("add", ErrInvalidSignature)
	}
	if c.isTimestamped() {
		_ = audit.LogSignatureRejected(string(c.docType), sig.profile.String(), ErrTimestampedContainer.Error())
		return NewSignatureError("add", fmt.Errorf("%w: %w", ErrNotSupported, ErrTimestampedContainer))
	}
	if c.format == ASICS && len(c.signatures) > 0 {
		return NewSignatureError("add", fmt.Errorf("%w: ASiC-S container holds a single signature", ErrNotSupported))
	}
	if sig.profile == ProfileLTTM && !c.format.supportsTimeMark() {
		return NewSignatureError("add", fmt.Errorf("%w: %s is not allowed for %s containers",
			ErrIllegalSignatureProfile, sig.profile, c.docType))
	}
	if c.hasSignatureID(sig.ID()) {
		return NewSignatureError("add", fmt.Errorf("%w: signature id %q already used", ErrNotSupported, sig.ID()))
	}

	refs, err := sig.doc.References()
	if err != nil {
		return NewSignatureError("add", fmt.Errorf("%w: %v", ErrInvalidSignature, err))
	}
	names := lo.Map(refs, func(r xades.Reference, _ int) string { return r.Name })
	if missing, _ := lo.Difference(names, lo.Map(c.files, func(f DataFile, _ int) string { return f.Name })); len(missing) > 0 {
		return NewSignatureError("add", fmt.Errorf("%w: signature references unknown data files %v", ErrInvalidSignature, missing))
	}
	if err := sig.doc.VerifyReferences(c.resolver()); err != nil {
		return NewSignatureError("add", fmt.Errorf("%w: %v", ErrInvalidSignature, err))
	}

	c.signatures = append(c.signatures, sig)
	return nil
}

// RemoveSignature detaches the signature at index. Later signatures shift
// down by one.
func (c *Container) RemoveSignature(index int) error {
	if index < 0 || index >= len(c.signatures) {
		return NewSignatureError("remove", fmt.Errorf("%w: no signature at index %d", ErrNotSupported, index))
	}
	c.signatures = append(c.signatures[:index:index], c.signatures[index+1:]...)
	return nil
}

func (c *Container) hasSignatureID(id string) bool {
	return lo.ContainsBy(c.signatures, func(s *Signature) bool { return s.ID() == id })
}

// nextSignatureID returns S<n> for the n-th signature. Ids taken by
// reopened or removed signatures fall back to a random one.
func (c *Container) nextSignatureID() string {
	id := "S" + strconv.Itoa(len(c.signatures))
	if !c.hasSignatureID(id) {
		return id
	}
	return "id-" + uuid.NewString()
}

func (c *Container) resolver() xades.Resolver {
	return resolverFor(c.files)
}

// AddTimestamp turns an ASiC-S container into a timestamp-only container:
// a single RFC 3161 token over its single data file.
func (c *Container) AddTimestamp(ctx context.Context, src TimestampSource, h crypto.Hash) error {
	switch {
	case c.format != ASICS:
		return NewSignatureError("timestamp", fmt.Errorf("%w: timestamp token is only for ASiC-S containers", ErrNotSupported))
	case c.timestamp != nil:
		return NewSignatureError("timestamp", fmt.Errorf("%w: container is already timestamped", ErrNotSupported))
	case len(c.signatures) > 0:
		return NewSignatureError("timestamp", fmt.Errorf("%w: signed ASiC-S container cannot be timestamped", ErrNotSupported))
	case len(c.files) != 1:
		return NewSignatureError("timestamp", fmt.Errorf("%w: ASiC-S timestamp needs exactly one data file", ErrNotSupported))
	case src == nil:
		return NewSignatureError("timestamp", fmt.Errorf("%w: no timestamp source configured", ErrNotSupported))
	}
	if h == 0 {
		h = crypto.SHA256
	}

	content := c.files[0].Content
	tok, err := src.FetchTimestamp(ctx, h, digest(h, content))
	if err != nil {
		return err
	}
	if !tok.MatchData(content) {
		return NewSignatureError("timestamp", fmt.Errorf("%w: timestamp imprint does not match the data file", ErrInvalidSignature))
	}
	c.timestamp = tok.withType(ContentTimestamp)

	logging.Component("asic").Info("container timestamped", "file", c.files[0].Name, "gen_time", tok.GenTime)
	return audit.LogContainerTimestamped(DigestName(h), tok.GenTime.Format(time.RFC3339))
}

// ExtendSignature raises the signature at index to target by appending the
// missing evidence. The result replaces the entry at index with the same id;
// the previous Signature value is left untouched.
func (c *Container) ExtendSignature(ctx context.Context, index int, target Profile, services Services) error {
	if index < 0 || index >= len(c.signatures) {
		return NewSignatureError("extend", fmt.Errorf("%w: no signature at index %d", ErrNotSupported, index))
	}
	ext, err := c.extended(ctx, c.signatures[index], target, services)
	if err != nil {
		return err
	}
	c.signatures[index] = ext
	return nil
}

// ExtendSignatures raises every signature to target. Either all signatures
// are replaced or none is.
func (c *Container) ExtendSignatures(ctx context.Context, target Profile, services Services) error {
	out := make([]*Signature, len(c.signatures))
	for i, sig := range c.signatures {
		ext, err := c.extended(ctx, sig, target, services)
		if err != nil {
			return err
		}
		out[i] = ext
	}
	copy(c.signatures, out)
	return nil
}

func (c *Container) extended(ctx context.Context, sig *Signature, target Profile, services Services) (*Signature, error) {
	from := sig.profile
	ext, err := c.extend(ctx, sig, target, services)
	metrics.ObserveExtension(from.String(), target.String(), err)

	info := audit.SignatureInfo{ID: sig.ID(), Container: string(c.docType), Profile: target.String()}
	if cert := sig.SigningCertificate(); cert != nil {
		info.Serial = cert.SerialNumber.String()
		info.Subject = cert.Subject.String()
	}
	if err != nil {
		_ = audit.LogSignatureExtended(info, from.String(), false)
		return nil, err
	}
	if err := audit.LogSignatureExtended(info, from.String(), true); err != nil {
		return nil, err
	}
	return ext, nil
}

func (c *Container) extend(ctx context.Context, sig *Signature, target Profile, services Services) (*Signature, error) {
	steps, err := extensionSteps(sig.profile, target)
	if err != nil {
		return nil, NewSignatureError("extend", err)
	}
	if _, err := CheckCompatibility(c.format, target, false); err != nil {
		return nil, NewSignatureError("extend", err)
	}

	logger := logging.Component("asic")
	ev := evidenceRun{
		services: services,
		resolve:  c.resolver(),
		cert:     sig.SigningCertificate(),
		logger:   logger,
	}
	if ev.cert == nil {
		return nil, NewSignatureError("extend", fmt.Errorf("%w: signing certificate missing", ErrInvalidSignature))
	}
	doc, err := ev.apply(ctx, sig.doc.Clone(), steps)
	if err != nil {
		return nil, err
	}
	ext, err := newSignature(doc)
	if err != nil {
		return nil, err
	}
	logger.Info("signature extended", "id", ext.ID(), "from", sig.profile.String(), "to", ext.profile.String())
	return ext, nil
}
