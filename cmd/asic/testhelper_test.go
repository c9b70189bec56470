package main

import (
	"bytes"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/remiblancher/asic/internal/testpki"
)

// executeCommand executes a Cobra command with the given args and returns output.
func executeCommand(root *cobra.Command, args ...string) (output string, err error) {
	resetFlags()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)

	err = root.Execute()
	return buf.String(), err
}

// resetFlags resets all command flags to their default values.
func resetFlags() {
	configPath = ""
	auditLogPath = ""
	ocspURL = ""
	tsaURL = ""
	issuerPath = ""

	batchIn = ""
	batchType = ""
	batchAdd = nil
	batchMime = nil
	batchDatst = ""
	batchTST = false
	batchProfile = ""
	batchDigest = ""
	batchCity = ""
	batchState = ""
	batchPostal = ""
	batchCountry = ""
	batchRoles = nil
	tokenFlags.reset()

	extendProfile = ""
	extendOut = ""
	extractOut = ""

	auditTailNum = 10
	auditShowJSON = false
}

// testContext holds test resources.
type testContext struct {
	t       *testing.T
	tempDir string
	ca      *testpki.CA
}

// newTestContext creates a new test context with a temp directory and a CA.
func newTestContext(t *testing.T) *testContext {
	t.Helper()
	chdir(t, t.TempDir())
	return &testContext{t: t, tempDir: t.TempDir(), ca: testpki.NewCA(t)}
}

// path returns a path within the temp directory.
func (tc *testContext) path(name string) string {
	return filepath.Join(tc.tempDir, name)
}

// writeFile writes content to a file in the temp directory.
func (tc *testContext) writeFile(name, content string) string {
	tc.t.Helper()
	path := tc.path(name)
	require.NoError(tc.t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func (tc *testContext) writePEM(name, typ string, der []byte) string {
	tc.t.Helper()
	return tc.writeFile(name, string(pem.EncodeToMemory(&pem.Block{Type: typ, Bytes: der})))
}

// signerFiles writes a P-256 key and a certificate issued by the test CA.
func (tc *testContext) signerFiles() (keyPath, certPath string) {
	tc.t.Helper()
	key := testpki.NewKey(tc.t, testpki.P256)
	cert := tc.ca.Issue(tc.t, key.Public(), "CLI Signer")
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(tc.t, err)
	return tc.writePEM("signer.key", "PRIVATE KEY", der), tc.writePEM("signer.crt", "CERTIFICATE", cert.Raw)
}

// serviceArgs starts OCSP and TSA servers and returns the matching flags.
func (tc *testContext) serviceArgs() []string {
	tc.t.Helper()
	issuer := tc.writePEM("ca.crt", "CERTIFICATE", tc.ca.Cert.Raw)
	return []string{
		"--ocsp-url", tc.ca.NewOCSP(tc.t).URL(),
		"--issuer", issuer,
		"--tsa-url", tc.ca.NewTSA(tc.t).URL(),
	}
}

// chdir changes the working directory to dir and restores it on cleanup
// (equivalent of testing.T.Chdir, which needs Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}
