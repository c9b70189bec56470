package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/spf13/cobra"

	"github.com/remiblancher/asic/internal/logging"
	"github.com/remiblancher/asic/pkg/asic"
)

// Batch flags
var (
	batchIn      string
	batchType    string
	batchAdd     []string
	batchMime    []string
	batchDatst   string
	batchTST     bool
	batchProfile string
	batchDigest  string
	batchCity    string
	batchState   string
	batchPostal  string
	batchCountry string
	batchRoles   []string
	tokenFlags   tokenOptions
)

func initBatchFlags() {
	f := rootCmd.Flags()
	f.StringVar(&batchIn, "in", "", "Container to open, or to create if it does not exist")
	f.StringVar(&batchType, "type", "", "Type of a new container: ASICE, ASICS or BDOC (default from the extension, else ASICE)")
	f.StringArrayVar(&batchAdd, "add", nil, "Data file to add (repeatable)")
	f.StringArrayVar(&batchMime, "mime", nil, "Mimetype of the matching --add file (repeatable)")
	f.StringVar(&batchDatst, "datst", "", "Digest algorithm of the ASiC-S timestamp: SHA256, SHA384 or SHA512")
	f.BoolVar(&batchTST, "tst", false, "Add a timestamp token to an ASiC-S container")
	f.StringVar(&batchProfile, "profile", "", "Signature profile: B_BES, B_EPES, LT, LT_TM, LTA")
	f.StringVar(&batchDigest, "digest", "", "Signature digest algorithm (default follows the key)")
	f.StringVar(&batchCity, "city", "", "Signature production city")
	f.StringVar(&batchState, "state", "", "Signature production state or province")
	f.StringVar(&batchPostal, "postal-code", "", "Signature production postal code")
	f.StringVar(&batchCountry, "country", "", "Signature production country")
	f.StringArrayVar(&batchRoles, "role", nil, "Signer role (repeatable)")
	tokenFlags.register(f)
}

// batch holds the state of one batch run.
type batch struct {
	out       io.Writer
	container *asic.Container
	services  asic.Services
}

// skip reports a step that cannot run. The batch goes on.
func (b *batch) skip(ctx context.Context, step, diagnostic string) {
	fmt.Fprintln(b.out, diagnostic)
	logging.FromContext(ctx).Warn("batch step skipped", "step", step, "reason", diagnostic)
}

// notSupported renders an ErrNotSupported failure as a diagnostic.
func notSupported(err error) string {
	msg := err.Error()
	prefix := asic.ErrNotSupported.Error() + ": "
	if i := strings.Index(msg, prefix); i >= 0 {
		msg = msg[i+len(prefix):]
	}
	return "Not supported: " + msg
}

func runBatch(cmd *cobra.Command, args []string) error {
	if batchIn == "" {
		return cmd.Help()
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	path, err := filepath.Abs(batchIn)
	if err != nil {
		return err
	}
	services, err := cfg.Services()
	if err != nil {
		return err
	}
	b := &batch{out: cmd.OutOrStdout(), services: services}

	if err := b.openOrCreate(path); err != nil {
		return err
	}
	if err := b.addFiles(ctx); err != nil {
		return err
	}
	if batchTST {
		if err := b.timestamp(ctx); err != nil {
			return err
		}
	}
	if tokenFlags.set() {
		if err := b.sign(ctx); err != nil {
			return err
		}
	}

	if err := b.container.SaveAsFile(path); err != nil {
		return fmt.Errorf("failed to save container: %w", err)
	}
	fmt.Fprintf(b.out, "Container saved: %s\n", path)
	return nil
}

func (b *batch) openOrCreate(path string) error {
	if _, err := os.Stat(path); err == nil {
		c, err := asic.OpenFile(path)
		if err != nil {
			return fmt.Errorf("failed to open container: %w", err)
		}
		b.container = c
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}

	tag, err := containerType(path)
	if err != nil {
		return err
	}
	c, err := asic.NewContainer(tag)
	if err != nil {
		return err
	}
	b.container = c
	return nil
}

// containerType picks the type of a new container from --type, then from
// the file extension.
func containerType(path string) (asic.DocumentType, error) {
	if batchType != "" {
		return asic.ParseDocumentType(batchType)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".bdoc":
		return asic.BDOC, nil
	case ".asics", ".scs":
		return asic.ASICS, nil
	}
	return asic.ASICE, nil
}

func (b *batch) addFiles(ctx context.Context) error {
	if len(batchAdd) == 0 {
		return nil
	}
	if b.container.Timestamp() != nil {
		b.skip(ctx, "add", asic.DiagnosticTimestampedASiCS)
		return nil
	}

	fs := osfs.New("")
	for i, name := range batchAdd {
		mime := ""
		if i < len(batchMime) {
			mime = batchMime[i]
		}
		abs, err := filepath.Abs(name)
		if err != nil {
			return err
		}
		if err := b.container.AddDataFileFrom(fs, abs, mime); err != nil {
			if errors.Is(err, asic.ErrNotSupported) {
				b.skip(ctx, "add", notSupported(err))
				continue
			}
			return err
		}
		fmt.Fprintf(b.out, "Added data file: %s\n", filepath.Base(name))
	}
	return nil
}

func (b *batch) timestamp(ctx context.Context) error {
	c := b.container
	switch {
	case c.Format() != asic.ASICS:
		b.skip(ctx, "timestamp", "Not supported: timestamp token is only for ASiC-S containers")
		return nil
	case c.Timestamp() != nil:
		b.skip(ctx, "timestamp", asic.DiagnosticTimestampedASiCS)
		return nil
	}

	h := b.services.TimestampDigest
	if batchDatst != "" {
		var err error
		if h, err = asic.ParseDigestAlgorithm(batchDatst); err != nil {
			return err
		}
	}
	if err := c.AddTimestamp(ctx, b.services.TSA, h); err != nil {
		if errors.Is(err, asic.ErrNotSupported) {
			b.skip(ctx, "timestamp", notSupported(err))
			return nil
		}
		return err
	}
	fmt.Fprintf(b.out, "Timestamp added: %s\n", c.Timestamp().GenTime.Format("2006-01-02T15:04:05Z"))
	return nil
}

func (b *batch) sign(ctx context.Context) error {
	c := b.container
	switch {
	case c.Timestamp() != nil:
		b.skip(ctx, "sign", asic.DiagnosticTimestampedASiCS)
		return nil
	case c.Format() == asic.ASICS:
		b.skip(ctx, "sign", asic.DiagnosticNotForASiCS)
		return nil
	}

	tok, closeToken, err := tokenFlags.open()
	if err != nil {
		return err
	}
	defer closeToken()

	builder := asic.NewSignatureBuilder(c).
		WithSignatureToken(tok).
		WithServices(b.services).
		WithCity(batchCity).
		WithStateOrProvince(batchState).
		WithPostalCode(batchPostal).
		WithCountry(batchCountry).
		WithRoles(batchRoles...).
		WithDataFileDigestAlgorithm(cfg.DataFileDigest())
	if err := applySigningFlags(builder); err != nil {
		return err
	}

	sig, err := builder.InvokeSigning(ctx)
	if err != nil {
		return err
	}
	if err := c.AddSignature(sig); err != nil {
		return err
	}
	fmt.Fprintf(b.out, "Signature %s added (%s)\n", sig.ID(), sig.Profile())
	return nil
}

func applySigningFlags(b *asic.Builder) error {
	profile, err := cfg.Profile()
	if err != nil {
		return err
	}
	if batchProfile != "" {
		if profile, err = asic.ParseProfile(batchProfile); err != nil {
			return err
		}
	}
	b.WithProfile(profile)

	h := cfg.SignatureDigest()
	if batchDigest != "" {
		if h, err = asic.ParseDigestAlgorithm(batchDigest); err != nil {
			return err
		}
	}
	if h != 0 {
		b.WithSignatureDigestAlgorithm(h)
	}
	return nil
}
