// Command asic creates, signs, timestamps, extends and validates ASiC-E,
// ASiC-S and BDoc signature containers.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/remiblancher/asic/internal/config"
	"github.com/remiblancher/asic/internal/logging"
	"github.com/remiblancher/asic/pkg/audit"
)

// Build-time variables (injected by GoReleaser)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Global flags
var (
	configPath   string
	auditLogPath string
	ocspURL      string
	tsaURL       string
	issuerPath   string
)

// cfg is loaded before every command runs.
var cfg *config.Config

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "asic",
	Short: "ASiC signature container toolkit",
	Long: `asic creates and signs ASiC-E, ASiC-S and BDoc signature containers.

Without a subcommand it runs a batch over one container, in this order:
open or create, add data files, timestamp, sign, save.

Signature profiles:
  B_BES, B_EPES   basic signatures (B_EPES embeds a signature policy)
  LT              signature timestamp and OCSP response (default)
  LT_TM           time-mark: OCSP response bound to the signature (BDoc only)
  LTA             LT plus an archive timestamp

Examples:
  # Create a container and sign it with a PKCS#12 keystore
  asic --in contract.asice --add contract.pdf --mime application/pdf \
       --pkcs12 signer.p12 --pkcs12-pass secret --tsa-url http://tsa.example \
       --ocsp-url http://ocsp.example --issuer ca.pem

  # Timestamp-only ASiC-S container
  asic --in data.asics --type ASICS --add data.bin --tst --tsa-url http://tsa.example

  # Validate a container
  asic verify contract.asice`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := loadConfig(cmd); err != nil {
			return err
		}
		logging.SetDefault(cfg.Logger(cmd.ErrOrStderr()))

		// Initialize audit logging
		if cfg.Audit.Log != "" {
			if err := audit.InitFile(cfg.Audit.Log); err != nil {
				return fmt.Errorf("failed to initialize audit log: %w", err)
			}
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		// Close audit log
		return audit.Close()
	},
	RunE: runBatch,
}

// loadConfig reads the configuration file and applies flag overrides.
func loadConfig(cmd *cobra.Command) error {
	c, err := config.Load(configPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("audit-log") {
		c.Audit.Log = auditLogPath
	}
	if flags.Changed("ocsp-url") {
		c.OCSP.URL = ocspURL
	}
	if flags.Changed("tsa-url") {
		c.TSA.URL = tsaURL
	}
	if flags.Changed("issuer") {
		c.OCSP.Issuer = issuerPath
	}
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	cfg = c
	return nil
}

func init() {
	// Global persistent flags
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "Config file (default: ./asic.yaml, $HOME/.asic/asic.yaml, /etc/asic/asic.yaml)")
	pf.StringVar(&auditLogPath, "audit-log", "", "Path to audit log file (or set ASIC_AUDIT_LOG env var)")
	pf.StringVar(&ocspURL, "ocsp-url", "", "OCSP responder URL (overrides ocsp.url)")
	pf.StringVar(&tsaURL, "tsa-url", "", "Timestamp authority URL (overrides tsa.url)")
	pf.StringVar(&issuerPath, "issuer", "", "PEM certificate of the signer's issuing CA, for OCSP")

	initBatchFlags()

	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(extendCmd)
	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(auditCmd)
}
