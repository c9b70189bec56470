package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/remiblancher/asic/pkg/asic"
)

// errInvalidContainer makes verify exit non-zero.
var errInvalidContainer = errors.New("container is invalid")

var verifyCmd = &cobra.Command{
	Use:   "verify <container>",
	Short: "Validate a container and its signatures",
	Long: `Validate the structure of a container and every signature in it:
signature values, data file references, OCSP evidence, time-mark nonces
and timestamp imprints.

No network access is made. The command exits non-zero when an error is
found; warnings alone keep the container valid.`,
	Args: cobra.ExactArgs(1),
	RunE: runVerify,
}

func runVerify(cmd *cobra.Command, args []string) error {
	c, err := asic.OpenFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to open container: %w", err)
	}
	res := c.Validate()
	fmt.Fprint(cmd.OutOrStdout(), res.Report())
	if !res.Valid() {
		return errInvalidContainer
	}
	return nil
}

var infoCmd = &cobra.Command{
	Use:   "info <container>",
	Short: "Describe a container",
	Long:  `List the data files, the signatures and the timestamp of a container.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runInfo,
}

func runInfo(cmd *cobra.Command, args []string) error {
	c, err := asic.OpenFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to open container: %w", err)
	}
	printContainer(cmd.OutOrStdout(), c)
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func printContainer(w io.Writer, c *asic.Container) {
	fmt.Fprintf(w, "Container: %s\n", c.Type())

	fmt.Fprintf(w, "\nData files (%d):\n", len(c.DataFiles()))
	for _, f := range c.DataFiles() {
		fmt.Fprintf(w, "  %s  %s  %d bytes\n", f.Name, f.MimeType, f.Size())
	}

	if tok := c.Timestamp(); tok != nil {
		fmt.Fprintln(w, "\nTimestamp:")
		fmt.Fprintf(w, "  Time:      %s\n", formatTime(tok.GenTime))
		fmt.Fprintf(w, "  Digest:    %s\n", asic.DigestName(tok.DigestAlgorithm))
		if tok.Certificate != nil {
			fmt.Fprintf(w, "  TSA:       %s\n", tok.Certificate.Subject)
		}
	}

	sigs := c.Signatures()
	fmt.Fprintf(w, "\nSignatures (%d):\n", len(sigs))
	for _, sig := range sigs {
		printSignature(w, sig)
	}
}

func printSignature(w io.Writer, sig *asic.Signature) {
	fmt.Fprintf(w, "  %s\n", sig.ID())
	fmt.Fprintf(w, "    Profile:       %s\n", sig.Profile())
	if cert := sig.SigningCertificate(); cert != nil {
		fmt.Fprintf(w, "    Signer:        %s\n", cert.Subject)
	}
	fmt.Fprintf(w, "    Digest:        %s\n", sig.SignatureDigestAlgorithm())
	fmt.Fprintf(w, "    Signing time:  %s\n", formatTime(sig.ClaimedSigningTime()))
	fmt.Fprintf(w, "    Trusted time:  %s\n", formatTime(sig.TrustedSigningTime()))
	fmt.Fprintf(w, "    OCSP time:     %s\n", formatTime(sig.OCSPResponseCreationTime()))
	fmt.Fprintf(w, "    TSA time:      %s\n", formatTime(sig.TimeStampCreationTime()))

	place := lo.Compact([]string{sig.City(), sig.StateOrProvince(), sig.PostalCode(), sig.CountryName()})
	if len(place) > 0 {
		fmt.Fprintf(w, "    Place:         %s\n", strings.Join(place, ", "))
	}
	if roles := sig.SignerRoles(); len(roles) > 0 {
		fmt.Fprintf(w, "    Roles:         %s\n", strings.Join(roles, ", "))
	}
	if p := sig.Policy(); p != nil {
		fmt.Fprintf(w, "    Policy:        %s\n", p.ID)
	}
}

// Extend command flags
var (
	extendProfile string
	extendOut     string
)

var extendCmd = &cobra.Command{
	Use:   "extend <container>",
	Short: "Extend every signature of a container",
	Long: `Raise every signature of a container to a higher profile by appending
the missing OCSP and timestamp evidence. All signatures are extended or
none is.

Allowed transitions:
  B_BES  -> LT, LTA
  B_EPES -> LT_TM (BDoc only)
  LT_TM  -> LT, LTA
  LT     -> LTA`,
	Args: cobra.ExactArgs(1),
	RunE: runExtend,
}

func init() {
	extendCmd.Flags().StringVar(&extendProfile, "profile", "", "Target profile: LT, LT_TM or LTA (required)")
	extendCmd.Flags().StringVar(&extendOut, "out", "", "Output file (default: overwrite the input)")
	_ = extendCmd.MarkFlagRequired("profile")
}

func runExtend(cmd *cobra.Command, args []string) error {
	target, err := asic.ParseProfile(extendProfile)
	if err != nil {
		return err
	}
	c, err := asic.OpenFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to open container: %w", err)
	}
	services, err := cfg.Services()
	if err != nil {
		return err
	}
	if err := c.ExtendSignatures(cmd.Context(), target, services); err != nil {
		return err
	}

	out := extendOut
	if out == "" {
		out = args[0]
	}
	if err := c.SaveAsFile(out); err != nil {
		return fmt.Errorf("failed to save container: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Extended %d signature(s) to %s: %s\n", len(c.Signatures()), target, out)
	return nil
}

var extractOut string

var extractCmd = &cobra.Command{
	Use:   "extract <container> <name>",
	Short: "Extract a data file from a container",
	Long:  `Write the content of a data file to --out, or to stdout.`,
	Args:  cobra.ExactArgs(2),
	RunE:  runExtract,
}

func init() {
	extractCmd.Flags().StringVarP(&extractOut, "out", "o", "", "Output file (default: stdout)")
}

func runExtract(cmd *cobra.Command, args []string) error {
	c, err := asic.OpenFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to open container: %w", err)
	}
	f, ok := c.DataFile(args[1])
	if !ok {
		return fmt.Errorf("data file %q not found in %s", args[1], args[0])
	}
	if extractOut == "" {
		_, err := cmd.OutOrStdout().Write(f.Content)
		return err
	}
	if err := os.WriteFile(extractOut, f.Content, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", extractOut, err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Extracted %s (%d bytes) to %s\n", f.Name, f.Size(), extractOut)
	return nil
}
