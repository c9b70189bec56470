package asic

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto"
	"io"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remiblancher/asic/internal/testpki"
)

// =============================================================================
// Data files
// =============================================================================

func TestU_AddDataFile(t *testing.T) {
	c, err := NewContainer(ASICE)
	require.NoError(t, err)

	require.NoError(t, c.AddDataFile("a.txt", "", []byte("a")))
	require.NoError(t, c.AddDataFile("dir/b.txt", "text/plain", []byte("b")))

	f, ok := c.DataFile("a.txt")
	require.True(t, ok)
	assert.Equal(t, DefaultMimeType, f.MimeType)
	assert.Equal(t, 1, f.Size())

	for _, name := range []string{"", "a.txt", "mimetype", "META-INF/x.xml", "../x", "/abs", "a/../b", "dir/"} {
		assert.ErrorIs(t, c.AddDataFile(name, "", nil), ErrNotSupported, "%q", name)
	}
	assert.Len(t, c.DataFiles(), 2)
}

func TestU_AddDataFile_ASiCSHoldsOne(t *testing.T) {
	c := newTestContainer(t, ASICS)
	assert.ErrorIs(t, c.AddDataFile("other.txt", "", []byte("x")), ErrNotSupported)
}

func TestU_AddDataFile_SignedContainer(t *testing.T) {
	env := newTestEnv(t)
	c := newTestContainer(t, ASICE)
	signWith(t, c, env.signer(t), Services{}, func(b *Builder) { b.WithProfile(ProfileBBES) })
	assert.ErrorIs(t, c.AddDataFile("late.txt", "", []byte("x")), ErrNotSupported)
}

func TestU_DataFiles_ReturnsCopies(t *testing.T) {
	c := newTestContainer(t, ASICE)
	files := c.DataFiles()
	files[0].Content[0] = 'X'
	f, _ := c.DataFile(files[0].Name)
	assert.Equal(t, testDataFiles[0].Content, f.Content)
}

// =============================================================================
// Signatures
// =============================================================================

func TestU_AddSignature_Rules(t *testing.T) {
	env := newTestEnv(t)

	t.Run("nil", func(t *testing.T) {
		c := newTestContainer(t, ASICE)
		assert.ErrorIs(t, c.AddSignature(nil), ErrInvalidSignature)
	})

	t.Run("duplicate id", func(t *testing.T) {
		c := newTestContainer(t, ASICE)
		sig := signWith(t, c, env.signer(t), Services{}, func(b *Builder) { b.WithProfile(ProfileBBES) })
		assert.ErrorIs(t, c.AddSignature(sig), ErrNotSupported)
	})

	t.Run("unknown data files", func(t *testing.T) {
		c := newTestContainer(t, ASICE)
		sig := signWith(t, c, env.signer(t), Services{}, func(b *Builder) { b.WithProfile(ProfileBBES) })

		other, err := NewContainer(ASICE)
		require.NoError(t, err)
		require.NoError(t, other.AddDataFile("test.txt", "text/plain", []byte("x")))
		assert.ErrorIs(t, other.AddSignature(sig), ErrInvalidSignature)
	})

	t.Run("same name other content", func(t *testing.T) {
		c := newTestContainer(t, ASICE)
		sig := signWith(t, c, env.signer(t), Services{}, func(b *Builder) { b.WithProfile(ProfileBBES) })

		other, err := NewContainer(ASICE)
		require.NoError(t, err)
		require.NoError(t, other.AddDataFile(testDataFiles[0].Name, testDataFiles[0].MimeType, []byte("different")))
		require.NoError(t, other.AddDataFile(testDataFiles[1].Name, testDataFiles[1].MimeType, testDataFiles[1].Content))
		assert.ErrorIs(t, other.AddSignature(sig), ErrInvalidSignature)
		assert.Empty(t, other.Signatures())
	})

	t.Run("timestamped ASiC-S", func(t *testing.T) {
		// Signed over the same payload in a plain ASiC-S, then offered to
		// the timestamped one.
		plain := newTestContainer(t, ASICS)
		sig := signWith(t, plain, env.signer(t), Services{}, func(b *Builder) { b.WithProfile(ProfileBBES) })

		stamped := newTestContainer(t, ASICS)
		src := NewTimestampSource(env.tsa.URL(), 5*time.Second)
		require.NoError(t, stamped.AddTimestamp(context.Background(), src, crypto.SHA256))
		tok := stamped.Timestamp()

		err := stamped.AddSignature(sig)
		require.ErrorIs(t, err, ErrTimestampedContainer)
		assert.ErrorIs(t, err, ErrNotSupported)
		assert.Empty(t, stamped.Signatures())
		assert.Same(t, tok, stamped.Timestamp())
	})

	t.Run("time-mark outside BDOC", func(t *testing.T) {
		bdoc := newTestContainer(t, BDOC)
		sig := signWith(t, bdoc, env.signer(t), env.services(), func(b *Builder) { b.WithProfile(ProfileLTTM) })

		asice := newTestContainer(t, ASICE)
		assert.ErrorIs(t, asice.AddSignature(sig), ErrIllegalSignatureProfile)
	})
}

func TestU_SignatureIDs(t *testing.T) {
	env := newTestEnv(t)
	c := newTestContainer(t, ASICE)
	for i := 0; i < 3; i++ {
		signWith(t, c, env.signer(t), Services{}, func(b *Builder) { b.WithProfile(ProfileBBES) })
	}
	ids := []string{c.Signatures()[0].ID(), c.Signatures()[1].ID(), c.Signatures()[2].ID()}
	assert.Equal(t, []string{"S0", "S1", "S2"}, ids)

	require.NoError(t, c.RemoveSignature(0))
	assert.Equal(t, "S1", c.Signatures()[0].ID())

	// S2 is taken, so the next id is random.
	sig := signWith(t, c, env.signer(t), Services{}, func(b *Builder) { b.WithProfile(ProfileBBES) })
	assert.Regexp(t, `^id-[0-9a-f-]{36}$`, sig.ID())

	assert.ErrorIs(t, c.RemoveSignature(5), ErrNotSupported)
	assert.ErrorIs(t, c.RemoveSignature(-1), ErrNotSupported)
}

// =============================================================================
// Validation
// =============================================================================

func TestU_Validate_Unsigned(t *testing.T) {
	c := newTestContainer(t, ASICE)
	res := c.Validate()
	assert.True(t, res.Valid())
	assert.Equal(t, []string{"container is not signed"}, issueMessages(res.Warnings))

	empty, err := NewContainer(ASICE)
	require.NoError(t, err)
	assert.False(t, empty.Validate().Valid())
}

func TestU_Validate_Idempotent(t *testing.T) {
	env := newTestEnv(t)
	c := newTestContainer(t, BDOC)
	signWith(t, c, env.signer(t), env.services(), func(b *Builder) { b.WithProfile(ProfileLTTM) })
	signWith(t, c, env.signer(t), env.services(), nil)

	first := c.Validate()
	second := c.Validate()
	assert.Equal(t, first, second)
	assert.True(t, first.Valid(), first.Report())
}

func TestU_Validate_TamperedDataFile(t *testing.T) {
	env := newTestEnv(t)
	c := newTestContainer(t, ASICE)
	signWith(t, c, env.signer(t), env.services(), func(b *Builder) { b.WithProfile(ProfileLTA) })
	require.True(t, c.Validate().Valid())

	c.files[0].Content = []byte("tampered")
	res := c.Validate()
	require.False(t, res.Valid())
	assert.Equal(t, "S0", res.Errors[0].SignatureID)
	assert.Contains(t, res.Errors[0].Message, "data file references")
	assert.Contains(t, res.Report(), "INVALID")
}

func TestU_Validate_UncoveredDataFile(t *testing.T) {
	env := newTestEnv(t)
	c := newTestContainer(t, ASICE)
	signWith(t, c, env.signer(t), Services{}, func(b *Builder) { b.WithProfile(ProfileBBES) })

	c.files = append(c.files, DataFile{Name: "sneaky.txt", MimeType: DefaultMimeType, Content: []byte("x")})
	res := c.Validate()
	assert.Contains(t, issueMessages(res.Errors), "data file sneaky.txt is not covered by any signature")
}

func TestF_Validate_RevokedSigner(t *testing.T) {
	env := newTestEnv(t)
	tok := env.signer(t)
	env.ocsp.Revoke(tok.Certificate())

	c := newTestContainer(t, ASICE)
	signWith(t, c, tok, env.services(), nil)

	res := c.Validate()
	require.False(t, res.Valid())
	assert.Contains(t, res.Report(), "OCSP status is")
}

// =============================================================================
// Persistence
// =============================================================================

func TestF_SaveOpen_RoundTrip(t *testing.T) {
	env := newTestEnv(t)
	fs := memfs.New()

	for _, tc := range []struct {
		tag  DocumentType
		path string
	}{
		{ASICE, "out/test.asice"},
		{ASICS, "out/test.asics"},
		{BDOC, "out/test.bdoc"},
	} {
		t.Run(string(tc.tag), func(t *testing.T) {
			c := newTestContainer(t, tc.tag)
			sig := signWith(t, c, env.signer(t), env.services(), func(b *Builder) { b.WithCity("Tartu") })
			require.NoError(t, c.Save(fs, tc.path))

			reopened, err := Open(fs, tc.path)
			require.NoError(t, err)
			assert.Equal(t, tc.tag, reopened.Type())
			assert.Equal(t, c.DataFiles(), reopened.DataFiles())
			require.Len(t, reopened.Signatures(), 1)

			got := reopened.Signatures()[0]
			assert.Equal(t, sig.AdESSignature(), got.AdESSignature())
			assert.Equal(t, sig.ID(), got.ID())
			assert.Equal(t, ProfileLT, got.Profile())
			assert.Equal(t, "Tartu", got.City())
			assert.True(t, reopened.Validate().Valid())

			again, err := reopened.Bytes()
			require.NoError(t, err)
			first, err := c.Bytes()
			require.NoError(t, err)
			assert.Equal(t, entryContents(t, first), entryContents(t, again))
		})
	}
}

func TestF_Save_ArchiveLayout(t *testing.T) {
	env := newTestEnv(t)
	c := newTestContainer(t, ASICE)
	signWith(t, c, env.signer(t), Services{}, func(b *Builder) { b.WithProfile(ProfileBBES) })
	signWith(t, c, env.signer(t), Services{}, func(b *Builder) { b.WithProfile(ProfileBEPES) })

	data, err := c.Bytes()
	require.NoError(t, err)
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	names := make([]string, len(zr.File))
	for i, f := range zr.File {
		names[i] = f.Name
	}
	assert.Equal(t, []string{
		"mimetype",
		"test.txt",
		"my file.pdf",
		"META-INF/manifest.xml",
		"META-INF/signatures0.xml",
		"META-INF/signatures1.xml",
	}, names)
	assert.Equal(t, zip.Store, zr.File[0].Method)
	assert.Equal(t, MimeTypeASiCE, string(entryContents(t, data)["mimetype"]))
}

func TestF_Open_SignatureOrder(t *testing.T) {
	env := newTestEnv(t)
	c := newTestContainer(t, ASICE)
	for i := 0; i < 12; i++ {
		signWith(t, c, env.signer(t), Services{}, func(b *Builder) { b.WithProfile(ProfileBBES) })
	}
	data, err := c.Bytes()
	require.NoError(t, err)

	reopened, err := OpenBytes(data)
	require.NoError(t, err)
	require.Len(t, reopened.Signatures(), 12)
	for i, sig := range reopened.Signatures() {
		assert.Equal(t, c.Signatures()[i].ID(), sig.ID())
	}
}

func TestF_Open_DetectsTimeMarkAsBDoc(t *testing.T) {
	env := newTestEnv(t)
	c := newTestContainer(t, BDOC)
	signWith(t, c, env.signer(t), env.services(), func(b *Builder) { b.WithProfile(ProfileLTTM) })

	data, err := c.Bytes()
	require.NoError(t, err)
	reopened, err := OpenBytes(data)
	require.NoError(t, err)
	assert.Equal(t, BDOC, reopened.Type())
	assert.Equal(t, ProfileLTTM, reopened.Signatures()[0].Profile())
}

func TestU_Open_Invalid(t *testing.T) {
	_, err := OpenBytes([]byte("not a zip"))
	assert.Error(t, err)

	_, err = Open(memfs.New(), "missing.asice")
	assert.Error(t, err)
}

func TestU_AddDataFileFrom(t *testing.T) {
	fs := memfs.New()
	f, err := fs.Create("in/report.txt")
	require.NoError(t, err)
	_, err = f.Write([]byte("report"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	c, err := NewContainer(ASICE)
	require.NoError(t, err)
	require.NoError(t, c.AddDataFileFrom(fs, "in/report.txt", "text/plain"))

	got, ok := c.DataFile("report.txt")
	require.True(t, ok)
	assert.Equal(t, []byte("report"), got.Content)
}

// entryContents maps archive entry names to their contents.
func entryContents(t *testing.T, data []byte) map[string][]byte {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	out := make(map[string][]byte, len(zr.File))
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		b, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		out[f.Name] = b
	}
	return out
}

// =============================================================================
// Extension
// =============================================================================

func TestF_Extend_BDocChain(t *testing.T) {
	env := newTestEnv(t)
	c := newTestContainer(t, BDOC)
	signWith(t, c, env.signer(t), Services{}, func(b *Builder) { b.WithProfile(ProfileBEPES) })
	signWith(t, c, env.signer(t), Services{}, func(b *Builder) { b.WithProfile(ProfileBBES) })
	original := c.Signatures()[0]

	steps := []Profile{ProfileLTTM, ProfileLT, ProfileLTA}
	for _, target := range steps {
		require.NoError(t, c.ExtendSignature(context.Background(), 0, target, env.services()), target.String())
		sig := c.Signatures()[0]
		assert.Equal(t, target, sig.Profile())
		assert.Equal(t, "S0", sig.ID())
		assert.Equal(t, "S1", c.Signatures()[1].ID())
		res := c.Validate()
		assert.True(t, res.Valid(), res.Report())
	}

	// The extended signature is a new value.
	assert.Equal(t, ProfileBEPES, original.Profile())

	final := c.Signatures()[0]
	assert.False(t, final.OCSPResponseCreationTime().IsZero())
	assert.Len(t, final.Timestamps(), 2)
	assert.Equal(t, ArchiveTimestamp, final.Timestamps()[1].Type)
}

func TestF_Extend_LTNotToTimeMark(t *testing.T) {
	env := newTestEnv(t)
	c := newTestContainer(t, BDOC)
	signWith(t, c, env.signer(t), Services{}, func(b *Builder) { b.WithProfile(ProfileBEPES) })
	require.NoError(t, c.ExtendSignature(context.Background(), 0, ProfileLT, env.services()))
	before := c.Signatures()[0].AdESSignature()

	// A signature already anchored by a timestamp cannot take a time-mark.
	err := c.ExtendSignature(context.Background(), 0, ProfileLTTM, env.services())
	assert.ErrorIs(t, err, ErrIllegalSignatureProfile)
	assert.Equal(t, before, c.Signatures()[0].AdESSignature())
	assert.Equal(t, ProfileLT, c.Signatures()[0].Profile())

	require.NoError(t, c.ExtendSignature(context.Background(), 0, ProfileLTA, env.services()))
	assert.Equal(t, ProfileLTA, c.Signatures()[0].Profile())
}

func TestF_Extend_ASiCE(t *testing.T) {
	env := newTestEnv(t)
	c := newTestContainer(t, ASICE)
	signWith(t, c, env.signer(t), Services{}, func(b *Builder) { b.WithProfile(ProfileBBES) })

	require.NoError(t, c.ExtendSignature(context.Background(), 0, ProfileLT, env.services()))
	assert.Equal(t, ProfileLT, c.Signatures()[0].Profile())

	err := c.ExtendSignature(context.Background(), 0, ProfileLTTM, env.services())
	assert.ErrorIs(t, err, ErrIllegalSignatureProfile)

	require.NoError(t, c.ExtendSignature(context.Background(), 0, ProfileLTA, env.services()))
	assert.Equal(t, ProfileLTA, c.Signatures()[0].Profile())
	assert.True(t, c.Validate().Valid())
}

func TestU_Extend_Backward(t *testing.T) {
	env := newTestEnv(t)
	c := newTestContainer(t, ASICE)
	signWith(t, c, env.signer(t), env.services(), func(b *Builder) { b.WithProfile(ProfileLTA) })
	before := c.Signatures()[0].AdESSignature()

	for _, target := range []Profile{ProfileLT, ProfileLTA, ProfileBBES} {
		err := c.ExtendSignature(context.Background(), 0, target, env.services())
		assert.ErrorIs(t, err, ErrIllegalSignatureProfile, target.String())
	}
	assert.Equal(t, before, c.Signatures()[0].AdESSignature())
	assert.ErrorIs(t, c.ExtendSignature(context.Background(), 3, ProfileLTA, env.services()), ErrNotSupported)
}

func TestU_ExtendSignatures_Atomic(t *testing.T) {
	env := newTestEnv(t)
	c := newTestContainer(t, ASICE)
	signWith(t, c, env.signer(t), Services{}, func(b *Builder) { b.WithProfile(ProfileBBES) })
	signWith(t, c, env.signer(t), env.services(), func(b *Builder) { b.WithProfile(ProfileLTA) })
	before := [][]byte{c.Signatures()[0].AdESSignature(), c.Signatures()[1].AdESSignature()}

	// The second signature cannot go back to LT, so the first is not replaced either.
	err := c.ExtendSignatures(context.Background(), ProfileLT, env.services())
	require.ErrorIs(t, err, ErrIllegalSignatureProfile)
	assert.Equal(t, before[0], c.Signatures()[0].AdESSignature())
	assert.Equal(t, before[1], c.Signatures()[1].AdESSignature())
	assert.Equal(t, ProfileBBES, c.Signatures()[0].Profile())
}

func TestU_Extend_NoServices(t *testing.T) {
	env := newTestEnv(t)
	c := newTestContainer(t, ASICE)
	signWith(t, c, env.signer(t), Services{}, func(b *Builder) { b.WithProfile(ProfileBBES) })

	err := c.ExtendSignature(context.Background(), 0, ProfileLT, Services{})
	assert.ErrorIs(t, err, ErrNotSupported)
	assert.Equal(t, ProfileBBES, c.Signatures()[0].Profile())
}

// =============================================================================
// Timestamp-only ASiC-S
// =============================================================================

func TestF_AddTimestamp(t *testing.T) {
	env := newTestEnv(t)
	c := newTestContainer(t, ASICS)
	src := NewTimestampSource(env.tsa.URL(), 5*time.Second)

	require.NoError(t, c.AddTimestamp(context.Background(), src, crypto.SHA256))
	tok := c.Timestamp()
	require.NotNil(t, tok)
	assert.Equal(t, ContentTimestamp, tok.Type)
	assert.True(t, tok.MatchData(testDataFiles[0].Content))
	assert.True(t, c.Validate().Valid())

	_, err := NewSignatureBuilder(c).WithSignatureToken(env.signer(t)).BuildDataToSign()
	require.ErrorIs(t, err, ErrNotSupported)
	assert.ErrorIs(t, err, ErrTimestampedContainer)

	assert.ErrorIs(t, c.AddTimestamp(context.Background(), src, crypto.SHA256), ErrNotSupported)
	assert.ErrorIs(t, c.AddDataFile("more.txt", "", nil), ErrNotSupported)

	fs := memfs.New()
	require.NoError(t, c.Save(fs, "ts.asics"))
	reopened, err := Open(fs, "ts.asics")
	require.NoError(t, err)
	require.NotNil(t, reopened.Timestamp())
	assert.Equal(t, tok.Raw, reopened.Timestamp().Raw)
	assert.True(t, reopened.Validate().Valid())

	_, err = NewSignatureBuilder(reopened).WithSignatureToken(env.signer(t)).BuildDataToSign()
	assert.ErrorIs(t, err, ErrTimestampedContainer)
}

func TestU_AddTimestamp_Rules(t *testing.T) {
	env := newTestEnv(t)
	src := NewTimestampSource(env.tsa.URL(), 5*time.Second)

	asice := newTestContainer(t, ASICE)
	assert.ErrorIs(t, asice.AddTimestamp(context.Background(), src, 0), ErrNotSupported)

	signed := newTestContainer(t, ASICS)
	signWith(t, signed, env.signer(t), Services{}, func(b *Builder) { b.WithProfile(ProfileBBES) })
	assert.ErrorIs(t, signed.AddTimestamp(context.Background(), src, 0), ErrNotSupported)

	empty, err := NewContainer(ASICS)
	require.NoError(t, err)
	assert.ErrorIs(t, empty.AddTimestamp(context.Background(), src, 0), ErrNotSupported)

	c := newTestContainer(t, ASICS)
	assert.ErrorIs(t, c.AddTimestamp(context.Background(), nil, 0), ErrNotSupported)

	unreachable := NewTimestampSource(testpki.UnreachableURL(t), time.Second)
	assert.ErrorIs(t, c.AddTimestamp(context.Background(), unreachable, 0), ErrServiceUnreachable)
	assert.Nil(t, c.Timestamp())
}
