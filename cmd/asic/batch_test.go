package main

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remiblancher/asic/pkg/asic"
)

// =============================================================================
// Batch: create, add, sign
// =============================================================================

func TestF_Batch_CreateAddSign(t *testing.T) {
	tc := newTestContext(t)
	key, cert := tc.signerFiles()
	doc := tc.writeFile("contract.txt", "terms and conditions")
	pdf := tc.writeFile("annex.pdf", "%PDF-1.4")
	out := tc.path("contract.asice")

	output, err := executeCommand(rootCmd,
		"--in", out,
		"--add", doc, "--mime", "text/plain",
		"--add", pdf, "--mime", "application/pdf",
		"--key", key, "--cert", cert,
		"--profile", "B_BES",
		"--city", "Tallinn", "--country", "EE", "--role", "Manager",
	)
	require.NoError(t, err, output)
	assert.Contains(t, output, "Added data file: contract.txt")
	assert.Contains(t, output, "Signature S0 added (B_BES)")

	c, err := asic.OpenFile(out)
	require.NoError(t, err)
	assert.Equal(t, asic.ASICE, c.Type())
	require.Len(t, c.DataFiles(), 2)
	assert.Equal(t, "application/pdf", c.DataFiles()[1].MimeType)
	require.Len(t, c.Signatures(), 1)
	assert.Equal(t, []string{"Manager"}, c.Signatures()[0].SignerRoles())

	output, err = executeCommand(rootCmd, "verify", out)
	require.NoError(t, err, output)
	assert.Contains(t, output, "Signature validation: VALID")

	output, err = executeCommand(rootCmd, "info", out)
	require.NoError(t, err)
	assert.Contains(t, output, "Container: ASICE")
	assert.Contains(t, output, "Profile:       B_BES")
	assert.Contains(t, output, "Place:         Tallinn, EE")
	assert.Contains(t, output, "Roles:         Manager")
}

func TestF_Batch_SignLTAndExtend(t *testing.T) {
	tc := newTestContext(t)
	key, cert := tc.signerFiles()
	services := tc.serviceArgs()
	out := tc.path("signed.bdoc")

	args := append([]string{"--in", out, "--add", tc.writeFile("a.txt", "a"), "--key", key, "--cert", cert, "--profile", "LT_TM"}, services...)
	output, err := executeCommand(rootCmd, args...)
	require.NoError(t, err, output)
	assert.Contains(t, output, "Signature S0 added (LT_TM)")

	c, err := asic.OpenFile(out)
	require.NoError(t, err)
	assert.Equal(t, asic.BDOC, c.Type())

	output, err = executeCommand(rootCmd, append([]string{"extend", out, "--profile", "LTA"}, services...)...)
	require.NoError(t, err, output)
	assert.Contains(t, output, "Extended 1 signature(s) to LTA")

	c, err = asic.OpenFile(out)
	require.NoError(t, err)
	assert.Equal(t, asic.ProfileLTA, c.Signatures()[0].Profile())
	assert.True(t, c.Validate().Valid())

	_, err = executeCommand(rootCmd, append([]string{"extend", out, "--profile", "LT"}, services...)...)
	assert.ErrorIs(t, err, asic.ErrIllegalSignatureProfile)
}

func TestF_Batch_AppendsToExisting(t *testing.T) {
	tc := newTestContext(t)
	key, cert := tc.signerFiles()
	out := tc.path("two.asice")

	_, err := executeCommand(rootCmd, "--in", out, "--add", tc.writeFile("a.txt", "a"), "--key", key, "--cert", cert, "--profile", "B_BES")
	require.NoError(t, err)
	output, err := executeCommand(rootCmd, "--in", out, "--key", key, "--cert", cert, "--profile", "B_BES")
	require.NoError(t, err, output)
	assert.Contains(t, output, "Signature S1 added")

	output, err = executeCommand(rootCmd, "--in", out, "--add", tc.writeFile("b.txt", "b"))
	require.NoError(t, err)
	assert.Contains(t, output, "Not supported: cannot add data files to a signed container")
}

// =============================================================================
// Batch: ASiC-S and diagnostics
// =============================================================================

func TestF_Batch_TimestampASiCS(t *testing.T) {
	tc := newTestContext(t)
	key, cert := tc.signerFiles()
	services := tc.serviceArgs()
	out := tc.path("data.asics")

	args := append([]string{"--in", out, "--add", tc.writeFile("data.bin", "payload"), "--tst", "--datst", "SHA512"}, services...)
	output, err := executeCommand(rootCmd, args...)
	require.NoError(t, err, output)
	assert.Contains(t, output, "Timestamp added")

	c, err := asic.OpenFile(out)
	require.NoError(t, err)
	require.NotNil(t, c.Timestamp())
	assert.Equal(t, "SHA512", asic.DigestName(c.Timestamp().DigestAlgorithm))

	output, err = executeCommand(rootCmd, append([]string{"--in", out, "--tst"}, services...)...)
	require.NoError(t, err)
	assert.Contains(t, output, asic.DiagnosticTimestampedASiCS)

	output, err = executeCommand(rootCmd, "--in", out, "--key", key, "--cert", cert)
	require.NoError(t, err, "a skipped step does not fail the batch")
	assert.Contains(t, output, asic.DiagnosticTimestampedASiCS)

	output, err = executeCommand(rootCmd, "--in", out, "--add", tc.writeFile("more.bin", "x"))
	require.NoError(t, err)
	assert.Contains(t, output, asic.DiagnosticTimestampedASiCS)

	c, err = asic.OpenFile(out)
	require.NoError(t, err)
	assert.Empty(t, c.Signatures())
	assert.Len(t, c.DataFiles(), 1)

	output, err = executeCommand(rootCmd, "verify", out)
	require.NoError(t, err, output)
}

func TestF_Batch_ASiCSSigningNotSupported(t *testing.T) {
	tc := newTestContext(t)
	key, cert := tc.signerFiles()
	out := tc.path("plain.asics")

	output, err := executeCommand(rootCmd, "--in", out, "--add", tc.writeFile("d.txt", "d"), "--key", key, "--cert", cert)
	require.NoError(t, err)
	assert.Contains(t, output, asic.DiagnosticNotForASiCS)
}

func TestF_Batch_TimestampNotASiCS(t *testing.T) {
	tc := newTestContext(t)
	out := tc.path("e.asice")

	output, err := executeCommand(rootCmd, "--in", out, "--add", tc.writeFile("d.txt", "d"), "--tst")
	require.NoError(t, err)
	assert.Contains(t, output, "Not supported: timestamp token is only for ASiC-S containers")

	output, err = executeCommand(rootCmd, "--in", tc.path("s.asics"), "--type", "ASICS", "--add", tc.writeFile("x.txt", "x"), "--tst")
	require.NoError(t, err)
	assert.Contains(t, output, "Not supported: no timestamp source configured")
}

func TestF_Batch_Errors(t *testing.T) {
	tc := newTestContext(t)
	key, cert := tc.signerFiles()

	_, err := executeCommand(rootCmd, "--in", tc.path("x.asice"), "--type", "ZIP")
	assert.ErrorIs(t, err, asic.ErrNotSupported)

	_, err = executeCommand(rootCmd, "--in", tc.path("x.asice"), "--add", tc.path("missing.txt"))
	assert.Error(t, err)

	_, err = executeCommand(rootCmd, "--in", tc.path("x.asice"), "--add", tc.writeFile("a", "a"), "--key", key)
	assert.Error(t, err)

	_, err = executeCommand(rootCmd, "--in", tc.path("x.asice"), "--add", tc.writeFile("b", "b"),
		"--key", key, "--cert", cert, "--pkcs12", tc.path("p.p12"))
	assert.Error(t, err)

	_, err = executeCommand(rootCmd, "--in", tc.writeFile("junk.asice", "not a zip"))
	assert.Error(t, err)

	_, err = executeCommand(rootCmd, "--in", tc.path("x.asice"), "--ocsp-url", "http://ocsp.example")
	assert.Error(t, err, "OCSP without an issuer is rejected")
}

func TestF_Batch_NoInputShowsHelp(t *testing.T) {
	newTestContext(t)
	output, err := executeCommand(rootCmd)
	require.NoError(t, err)
	assert.Contains(t, output, "asic creates and signs")
}

// =============================================================================
// Extract
// =============================================================================

func TestF_Extract(t *testing.T) {
	tc := newTestContext(t)
	out := tc.path("x.asice")
	_, err := executeCommand(rootCmd, "--in", out, "--add", tc.writeFile("report.txt", "quarterly"))
	require.NoError(t, err)

	output, err := executeCommand(rootCmd, "extract", out, "report.txt")
	require.NoError(t, err)
	assert.Contains(t, output, "quarterly")

	dest := tc.path("extracted.txt")
	_, err = executeCommand(rootCmd, "extract", out, "report.txt", "--out", dest)
	require.NoError(t, err)
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "quarterly", string(data))

	_, err = executeCommand(rootCmd, "extract", out, "nope.txt")
	assert.Error(t, err)
}
