package main

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/remiblancher/asic/pkg/asic"
	"github.com/remiblancher/asic/pkg/token"
)

// tokenOptions selects the signing token. Exactly one source may be set.
type tokenOptions struct {
	pkcs12Path string
	pkcs12Pass string
	pkcs11     string
	keyPath    string
	certPath   string
}

func (o *tokenOptions) register(f *pflag.FlagSet) {
	f.StringVar(&o.pkcs12Path, "pkcs12", "", "PKCS#12 keystore holding the signing key and certificate")
	f.StringVar(&o.pkcs12Pass, "pkcs12-pass", "", "PKCS#12 keystore password")
	f.StringVar(&o.pkcs11, "pkcs11", "", "HSM configuration file (YAML) of a PKCS#11 token")
	f.StringVar(&o.keyPath, "key", "", "PEM private key (with --cert)")
	f.StringVar(&o.certPath, "cert", "", "PEM signing certificate (with --key)")
}

func (o *tokenOptions) reset() { *o = tokenOptions{} }

func (o *tokenOptions) set() bool {
	return o.pkcs12Path != "" || o.pkcs11 != "" || o.keyPath != "" || o.certPath != ""
}

// open loads the selected token. The returned function releases it.
func (o *tokenOptions) open() (asic.Token, func(), error) {
	sources := 0
	for _, v := range []string{o.pkcs12Path, o.pkcs11, o.keyPath + o.certPath} {
		if v != "" {
			sources++
		}
	}
	if sources > 1 {
		return nil, nil, fmt.Errorf("--pkcs12, --pkcs11 and --key/--cert are mutually exclusive")
	}

	switch {
	case o.pkcs12Path != "":
		s, err := token.OpenPKCS12(o.pkcs12Path, o.pkcs12Pass)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {}, nil

	case o.pkcs11 != "":
		hsmCfg, err := token.LoadHSMConfig(o.pkcs11)
		if err != nil {
			return nil, nil, err
		}
		t, err := token.OpenPKCS11(hsmCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open PKCS#11 token: %w", err)
		}
		return t, func() { _ = t.Close() }, nil

	case o.keyPath == "" || o.certPath == "":
		return nil, nil, fmt.Errorf("--key and --cert must be used together")
	}

	s, err := token.LoadPEM(o.keyPath, o.certPath)
	if err != nil {
		return nil, nil, err
	}
	return s, func() {}, nil
}
