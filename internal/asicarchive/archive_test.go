package asicarchive

import (
	"archive/zip"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMime = "application/vnd.etsi.asic-e+zip"

func testPackage() *Package {
	return &Package{
		MimeType: testMime,
		DataFiles: []Entry{
			{Name: "a.txt", MimeType: "text/plain", Content: []byte("alpha")},
			{Name: "docs/b.pdf", MimeType: "application/pdf", Content: []byte("%PDF")},
		},
		Meta: []Entry{
			{Name: "META-INF/signatures0.xml", Content: []byte("<sig/>")},
		},
	}
}

// =============================================================================
// Write / Read
// =============================================================================

func TestU_WriteRead_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, testPackage()))

	p, err := Read(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, testMime, p.MimeType)
	assert.Equal(t, testPackage().DataFiles, p.DataFiles)

	sig, ok := p.MetaEntry("META-INF/signatures0.xml")
	require.True(t, ok)
	assert.Equal(t, []byte("<sig/>"), sig)

	_, ok = p.MetaEntry(ManifestEntry)
	assert.False(t, ok, "manifest is consumed by Read")
}

func TestU_Write_MimetypeFirstAndStored(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, testPackage()))

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	require.NotEmpty(t, zr.File)
	first := zr.File[0]
	assert.Equal(t, MimeTypeEntry, first.Name)
	assert.Equal(t, zip.Store, first.Method)

	names := make([]string, len(zr.File))
	for i, f := range zr.File {
		names[i] = f.Name
	}
	assert.Equal(t, []string{MimeTypeEntry, "a.txt", "docs/b.pdf", ManifestEntry, "META-INF/signatures0.xml"}, names)
}

func TestU_Write_UnsafeName(t *testing.T) {
	p := testPackage()
	p.DataFiles = append(p.DataFiles, Entry{Name: "../escape"})
	assert.ErrorIs(t, Write(&bytes.Buffer{}, p), ErrUnsafeName)
}

func TestU_Read_Invalid(t *testing.T) {
	_, err := Read([]byte("plainly not a zip"))
	assert.ErrorIs(t, err, ErrInvalidArchive)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("../../etc/passwd")
	require.NoError(t, err)
	_, _ = w.Write([]byte("x"))
	require.NoError(t, zw.Close())

	_, err = Read(buf.Bytes())
	assert.ErrorIs(t, err, ErrUnsafeName)
}

func TestU_Read_WithoutManifest(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range map[string]string{"mimetype": testMime, "data.bin": "payload"} {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, _ = w.Write([]byte(content))
	}
	require.NoError(t, zw.Close())

	p, err := Read(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, testMime, p.MimeType)
	require.Len(t, p.DataFiles, 1)
	assert.Equal(t, "data.bin", p.DataFiles[0].Name)
	assert.Empty(t, p.DataFiles[0].MimeType)
}

func TestU_ValidateName(t *testing.T) {
	for _, ok := range []string{"a.txt", "dir/sub/file", "my file.pdf", "..hidden"} {
		assert.NoError(t, ValidateName(ok), ok)
	}
	for _, bad := range []string{"", "/abs", `dir\file`, "..", "../x", "a/../../x", "nul\x00"} {
		assert.ErrorIs(t, ValidateName(bad), ErrUnsafeName, "%q", bad)
	}
}

// =============================================================================
// Manifest
// =============================================================================

func TestU_Manifest_RoundTrip(t *testing.T) {
	data, err := BuildManifest(testMime, testPackage().DataFiles)
	require.NoError(t, err)
	assert.Contains(t, string(data), `manifest:version="1.2"`)
	assert.Contains(t, string(data), NamespaceManifest)
	assert.Contains(t, string(data), `manifest:full-path="/" manifest:media-type="`+testMime+`"`)

	types, err := ParseManifest(data)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a.txt": "text/plain", "docs/b.pdf": "application/pdf"}, types)
}

func TestU_ParseManifest_OtherPrefix(t *testing.T) {
	data := []byte(`<?xml version="1.0"?>
<m:manifest xmlns:m="` + NamespaceManifest + `">
  <m:file-entry m:full-path="/" m:media-type="` + testMime + `"/>
  <m:file-entry m:full-path="x.txt" m:media-type="text/plain"/>
</m:manifest>`)
	types, err := ParseManifest(data)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"x.txt": "text/plain"}, types)
}

func TestU_ParseManifest_Invalid(t *testing.T) {
	_, err := ParseManifest([]byte("<other/>"))
	assert.ErrorIs(t, err, ErrInvalidArchive)
	_, err = ParseManifest([]byte("<unclosed"))
	assert.ErrorIs(t, err, ErrInvalidArchive)
}
