package asic

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"

	"github.com/remiblancher/asic/internal/asicarchive"
	"github.com/remiblancher/asic/pkg/audit"
)

// TimestampEntry is the archive name of the ASiC-S timestamp token.
const TimestampEntry = "META-INF/timestamp.tst"

var signatureEntryPattern = regexp.MustCompile(`^META-INF/(signatures(\d+)|signature)\.xml$`)

// Bytes serializes the container. Signatures are written as they were
// produced or read, byte for byte.
func (c *Container) Bytes() ([]byte, error) {
	p := &asicarchive.Package{MimeType: c.format.MimeType()}
	for _, f := range c.files {
		p.DataFiles = append(p.DataFiles, asicarchive.Entry{Name: f.Name, MimeType: f.MimeType, Content: f.Content})
	}
	for i, sig := range c.signatures {
		p.Meta = append(p.Meta, asicarchive.Entry{Name: c.format.signatureEntry(i), Content: sig.raw})
	}
	if c.timestamp != nil {
		p.Meta = append(p.Meta, asicarchive.Entry{Name: TimestampEntry, Content: c.timestamp.Raw})
	}

	var buf bytes.Buffer
	if err := asicarchive.Write(&buf, p); err != nil {
		return nil, NewSignatureError("save", err)
	}
	return buf.Bytes(), nil
}

// Save writes the container to path on fs.
func (c *Container) Save(fs billy.Filesystem, path string) error {
	data, err := c.Bytes()
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := fs.MkdirAll(dir, 0o755); err != nil {
			return NewSignatureError("save", err)
		}
	}
	f, err := fs.Create(path)
	if err != nil {
		return NewSignatureError("save", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return NewSignatureError("save", err)
	}
	if err := f.Close(); err != nil {
		return NewSignatureError("save", err)
	}
	return audit.LogContainerSaved(path, string(c.docType), len(c.signatures))
}

// SaveAsFile writes the container to the local filesystem.
func (c *Container) SaveAsFile(path string) error {
	return c.Save(osfs.New(""), path)
}

// AddDataFileFrom reads name from fs and adds it under its base name.
func (c *Container) AddDataFileFrom(fs billy.Filesystem, name, mimeType string) error {
	f, err := fs.Open(name)
	if err != nil {
		return NewSignatureError("add", err)
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return NewSignatureError("add", err)
	}
	return c.AddDataFile(filepath.Base(name), mimeType, content)
}

// Open reads a container from path on fs. A .bdoc extension selects BDOC.
func Open(fs billy.Filesystem, path string) (*Container, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, NewSignatureError("open", err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, NewSignatureError("open", err)
	}

	var hint DocumentType
	if strings.EqualFold(filepath.Ext(path), ".bdoc") {
		hint = BDOC
	}
	return DefaultRegistry().open(data, hint)
}

// OpenFile reads a container from the local filesystem.
func OpenFile(path string) (*Container, error) {
	return Open(osfs.New(""), path)
}

// OpenBytes decodes a serialized container.
func OpenBytes(data []byte) (*Container, error) {
	return DefaultRegistry().open(data, "")
}

// OpenBytes decodes a serialized container, using r to create it and to
// parse its signatures.
func (r *Registry) OpenBytes(data []byte) (*Container, error) {
	return r.open(data, "")
}

func (r *Registry) open(data []byte, hint DocumentType) (*Container, error) {
	p, err := asicarchive.Read(data)
	if err != nil {
		return nil, NewSignatureError("open", err)
	}

	var format DocumentType
	switch p.MimeType {
	case MimeTypeASiCS:
		format = ASICS
	case MimeTypeASiCE, "":
		format = ASICE
	default:
		return nil, NewSignatureError("open", fmt.Errorf("%w: container mimetype %q", ErrNotSupported, p.MimeType))
	}

	engine, err := r.engineFor(format)
	if err != nil {
		return nil, NewSignatureError("open", err)
	}
	sigs, err := parseSignatureEntries(p.Meta, engine)
	if err != nil {
		return nil, err
	}
	if format == ASICE && (hint == BDOC || looksLikeBDoc(sigs)) {
		format = BDOC
	}

	c, err := r.NewContainer(format)
	if err != nil {
		return nil, err
	}
	for _, f := range p.DataFiles {
		mt := f.MimeType
		if mt == "" {
			mt = DefaultMimeType
		}
		c.files = append(c.files, DataFile{Name: f.Name, MimeType: mt, Content: f.Content})
	}
	c.signatures = sigs

	if raw, ok := p.MetaEntry(TimestampEntry); ok {
		tok, err := ParseTimestampToken(raw)
		if err != nil {
			return nil, NewSignatureError("open", err)
		}
		c.timestamp = tok.withType(ContentTimestamp)
	}
	return c, nil
}

// parseSignatureEntries parses signature documents ordered by their number,
// so signatures10.xml follows signatures9.xml.
func parseSignatureEntries(meta []asicarchive.Entry, engine Engine) ([]*Signature, error) {
	type numbered struct {
		n     int
		entry asicarchive.Entry
	}
	var entries []numbered
	for _, e := range meta {
		m := signatureEntryPattern.FindStringSubmatch(e.Name)
		if m == nil {
			continue
		}
		n := -1
		if m[2] != "" {
			n, _ = strconv.Atoi(m[2])
		}
		entries = append(entries, numbered{n: n, entry: e})
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].n < entries[j].n })

	sigs := make([]*Signature, 0, len(entries))
	for _, e := range entries {
		sig, err := engine.ParseSignature(e.entry.Content)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.entry.Name, err)
		}
		sigs = append(sigs, sig)
	}
	return sigs, nil
}

// looksLikeBDoc reports whether any signature uses time-marks, which only
// BDoc allows.
func looksLikeBDoc(sigs []*Signature) bool {
	for _, s := range sigs {
		if s.profile == ProfileLTTM {
			return true
		}
	}
	return false
}
