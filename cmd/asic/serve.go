package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/remiblancher/asic/internal/api/server"
	"github.com/remiblancher/asic/internal/api/service"
)

// Serve command flags
var (
	servePort    int
	serveHost    string
	serveTLSCert string
	serveTLSKey  string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the remote signing API",
	Long: `Start the HTTP API for two-phase remote signing.

A client uploads data files, asks for the data to sign with its
certificate, signs it with its own key and posts the raw signature value
back. The server adds the OCSP and timestamp evidence and keeps the
container until it is downloaded or deleted. Containers live in memory.

Environment variables:
  ASIC_SERVER_HOST   Host to bind to
  ASIC_SERVER_PORT   Port to listen on
  ASIC_OCSP_URL      OCSP responder
  ASIC_TSA_URL       Timestamp authority

Examples:
  asic serve --port 8080 --tsa-url http://tsa.example \
             --ocsp-url http://ocsp.example --issuer ca.pem

  # With TLS
  asic serve --port 8443 --tls-cert server.crt --tls-key server.key`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (default: server.port)")
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to bind to (default: server.host)")
	serveCmd.Flags().StringVar(&serveTLSCert, "tls-cert", "", "TLS certificate file")
	serveCmd.Flags().StringVar(&serveTLSKey, "tls-key", "", "TLS private key file")
}

func runServe(cmd *cobra.Command, args []string) error {
	services, err := cfg.Services()
	if err != nil {
		return err
	}

	sc := server.FromConfig(cfg)
	if servePort != 0 {
		sc.Port = servePort
	}
	if serveHost != "" {
		sc.Host = serveHost
	}
	sc.TLSCert = serveTLSCert
	sc.TLSKey = serveTLSKey

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(sc, version, service.NewContainerService(cfg, services, nil))
	return srv.Start(ctx, cmd.OutOrStdout())
}
