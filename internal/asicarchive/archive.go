// Package asicarchive reads and writes the ZIP envelope shared by ASiC-E,
// ASiC-S and BDoc containers: an uncompressed mimetype entry first, then the
// data files, then META-INF.
package asicarchive

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

// Reserved entry names.
const (
	MimeTypeEntry = "mimetype"
	ManifestEntry = "META-INF/manifest.xml"
	MetaDir       = "META-INF/"
)

// MaxEntrySize bounds a single decompressed entry.
const MaxEntrySize = 1 << 30

var (
	// ErrInvalidArchive indicates bytes that are not a usable container ZIP.
	ErrInvalidArchive = errors.New("invalid container archive")

	// ErrUnsafeName indicates an entry name escaping the archive root.
	ErrUnsafeName = errors.New("unsafe entry name")
)

// Entry is a named archive member.
type Entry struct {
	Name     string
	MimeType string
	Content  []byte
}

// Package is the decoded content of a container archive.
type Package struct {
	MimeType  string
	DataFiles []Entry
	// Meta holds META-INF entries other than the manifest, in archive order.
	Meta []Entry
}

// MetaEntry returns the META-INF entry called name.
func (p *Package) MetaEntry(name string) ([]byte, bool) {
	for _, e := range p.Meta {
		if e.Name == name {
			return e.Content, true
		}
	}
	return nil, false
}

// Write serializes p. The manifest is generated from the data files.
func Write(w io.Writer, p *Package) error {
	zw := zip.NewWriter(w)

	if p.MimeType != "" {
		mw, err := zw.CreateHeader(&zip.FileHeader{Name: MimeTypeEntry, Method: zip.Store})
		if err != nil {
			return fmt.Errorf("write mimetype: %w", err)
		}
		if _, err := io.WriteString(mw, p.MimeType); err != nil {
			return fmt.Errorf("write mimetype: %w", err)
		}
	}

	for _, f := range p.DataFiles {
		if err := ValidateName(f.Name); err != nil {
			return err
		}
		if err := writeEntry(zw, f.Name, f.Content); err != nil {
			return err
		}
	}

	manifest, err := BuildManifest(p.MimeType, p.DataFiles)
	if err != nil {
		return err
	}
	if err := writeEntry(zw, ManifestEntry, manifest); err != nil {
		return err
	}
	for _, m := range p.Meta {
		if err := writeEntry(zw, m.Name, m.Content); err != nil {
			return err
		}
	}
	return zw.Close()
}

func writeEntry(zw *zip.Writer, name string, content []byte) error {
	fw, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate})
	if err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	if _, err := fw.Write(content); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// Read decodes a container archive. Data file mimetypes come from the
// manifest when present.
func Read(data []byte) (*Package, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}

	p := &Package{}
	var (
		manifest map[string]string
		files    []Entry
	)
	for _, zf := range zr.File {
		if strings.HasSuffix(zf.Name, "/") {
			continue
		}
		if err := ValidateName(zf.Name); err != nil {
			return nil, err
		}
		content, err := readEntry(zf)
		if err != nil {
			return nil, err
		}

		switch {
		case zf.Name == MimeTypeEntry:
			p.MimeType = strings.TrimSpace(string(content))
		case zf.Name == ManifestEntry:
			if manifest, err = ParseManifest(content); err != nil {
				return nil, err
			}
		case strings.HasPrefix(zf.Name, MetaDir):
			p.Meta = append(p.Meta, Entry{Name: zf.Name, Content: content})
		default:
			files = append(files, Entry{Name: zf.Name, Content: content})
		}
	}

	for i := range files {
		files[i].MimeType = manifest[files[i].Name]
	}
	p.DataFiles = files
	return p, nil
}

func readEntry(zf *zip.File) ([]byte, error) {
	if zf.UncompressedSize64 > MaxEntrySize {
		return nil, fmt.Errorf("%w: %s is larger than %d bytes", ErrInvalidArchive, zf.Name, MaxEntrySize)
	}
	rc, err := zf.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrInvalidArchive, zf.Name, err)
	}
	defer rc.Close()

	content, err := io.ReadAll(io.LimitReader(rc, MaxEntrySize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrInvalidArchive, zf.Name, err)
	}
	if len(content) > MaxEntrySize {
		return nil, fmt.Errorf("%w: %s is larger than %d bytes", ErrInvalidArchive, zf.Name, MaxEntrySize)
	}
	return content, nil
}

// ValidateName rejects absolute names, traversal and backslashes.
func ValidateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty name", ErrUnsafeName)
	case strings.HasPrefix(name, "/") || strings.Contains(name, `\`):
		return fmt.Errorf("%w: %q", ErrUnsafeName, name)
	case strings.Contains(name, "\x00"):
		return fmt.Errorf("%w: %q contains NUL", ErrUnsafeName, name)
	}
	clean := path.Clean(name)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return fmt.Errorf("%w: %q escapes the archive root", ErrUnsafeName, name)
	}
	return nil
}
