package asic

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/remiblancher/asic/internal/testpki"
	"github.com/remiblancher/asic/pkg/token"
)

type testEnv struct {
	ca   *testpki.CA
	tsa  *testpki.TSA
	ocsp *testpki.OCSP
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ca := testpki.NewCA(t)
	return &testEnv{ca: ca, tsa: ca.NewTSA(t), ocsp: ca.NewOCSP(t)}
}

func (e *testEnv) services() Services {
	return Services{
		OCSP: NewOCSPSource(e.ocsp.URL(), e.ca.Cert, 5*time.Second),
		TSA:  NewTimestampSource(e.tsa.URL(), 5*time.Second),
	}
}

func (e *testEnv) signer(t *testing.T) *token.Signer {
	return e.ca.NewSigner(t, testpki.P256)
}

var (
	testDataFiles = []DataFile{
		{Name: "test.txt", MimeType: "text/plain", Content: []byte("hello asic\n")},
		{Name: "my file.pdf", MimeType: "application/pdf", Content: []byte("%PDF-1.4 not really")},
	}
)

// newTestContainer creates a container with test data files. ASiC-S gets the
// first one only.
func newTestContainer(t *testing.T, tag DocumentType) *Container {
	t.Helper()
	c, err := NewContainer(tag)
	require.NoError(t, err)
	files := testDataFiles
	if c.Format() == ASICS {
		files = files[:1]
	}
	for _, f := range files {
		require.NoError(t, c.AddDataFile(f.Name, f.MimeType, f.Content))
	}
	return c
}

// signWith runs the two-phase protocol with tok and attaches the result.
func signWith(t *testing.T, c *Container, tok *token.Signer, services Services, configure func(*Builder)) *Signature {
	t.Helper()
	b := NewSignatureBuilder(c).WithSignatureToken(tok).WithServices(services)
	if configure != nil {
		configure(b)
	}
	dts, err := b.BuildDataToSign()
	require.NoError(t, err)

	value, err := tok.Sign(dts.DigestAlgorithm(), dts.Bytes())
	require.NoError(t, err)

	sig, err := dts.Finalize(context.Background(), value)
	require.NoError(t, err)
	require.NoError(t, c.AddSignature(sig))
	return sig
}

func issueMessages(issues []Issue) []string {
	out := make([]string, len(issues))
	for i, is := range issues {
		out[i] = is.String()
	}
	return out
}
