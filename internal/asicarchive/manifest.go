package asicarchive

import (
	"fmt"

	"github.com/beevik/etree"
)

// NamespaceManifest is the OpenDocument manifest namespace.
const NamespaceManifest = "urn:oasis:names:tc:opendocument:xmlns:manifest:1.0"

// BuildManifest renders META-INF/manifest.xml: a root entry carrying the
// container mimetype, then one entry per data file.
func BuildManifest(mimeType string, files []Entry) ([]byte, error) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8" standalone="no"`)

	root := doc.CreateElement("manifest:manifest")
	root.CreateAttr("xmlns:manifest", NamespaceManifest)
	root.CreateAttr("manifest:version", "1.2")

	entry := root.CreateElement("manifest:file-entry")
	entry.CreateAttr("manifest:full-path", "/")
	entry.CreateAttr("manifest:media-type", mimeType)

	for _, f := range files {
		e := root.CreateElement("manifest:file-entry")
		e.CreateAttr("manifest:full-path", f.Name)
		e.CreateAttr("manifest:media-type", f.MimeType)
	}

	doc.Indent(2)
	out, err := doc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}
	return out, nil
}

// ParseManifest returns the media type of every entry except the root.
func ParseManifest(data []byte) (map[string]string, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("%w: manifest: %v", ErrInvalidArchive, err)
	}
	root := doc.Root()
	if root == nil || root.Tag != "manifest" {
		return nil, fmt.Errorf("%w: manifest root element missing", ErrInvalidArchive)
	}

	out := make(map[string]string)
	for _, e := range root.ChildElements() {
		if e.Tag != "file-entry" {
			continue
		}
		name := attr(e, "full-path")
		if name == "" || name == "/" {
			continue
		}
		out[name] = attr(e, "media-type")
	}
	return out, nil
}

// attr looks an attribute up by local name, whatever its prefix.
func attr(e *etree.Element, key string) string {
	for _, a := range e.Attr {
		if a.Key == key {
			return a.Value
		}
	}
	return ""
}
