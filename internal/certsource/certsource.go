// Package certsource turns the tls.acme section of a configuration
// snapshot into a live *tls.Config, obtaining and renewing certificates
// via ACME (spec §6, tls.acme) or loading a static cert/key pair from
// disk when ACME is not configured.
package certsource

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/caddyserver/certmagic"

	"github.com/relayfront/relayfront/internal/config"
)

// Source produces a *tls.Config for a listener and keeps it current,
// either by certmagic's background ACME renewal loop or by doing
// nothing further once a static cert/key pair has been loaded.
type Source struct {
	tlsConfig *tls.Config
	magic     *certmagic.Config
}

// New builds a Source from the tls section of a snapshot. raw must be
// non-nil; callers should only construct a Source when TLS is actually
// configured for the listener.
func New(ctx context.Context, raw *config.RawTLS) (*Source, error) {
	switch {
	case raw.ACME != nil && raw.ACME.Enabled:
		return newACMESource(ctx, raw.ACME)
	case raw.CertPath != "" && raw.KeyPath != "":
		return newStaticSource(raw.CertPath, raw.KeyPath)
	default:
		return nil, fmt.Errorf("certsource: tls block present but neither acme nor cert_path/key_path is set")
	}
}

// TLSConfig returns the tls.Config to hand to the listener. ALPN
// protocols are layered on by the listen package, which knows which
// protocols the snapshot enables.
func (s *Source) TLSConfig() *tls.Config {
	return s.tlsConfig
}

func newStaticSource(certPath, keyPath string) (*Source, error) {
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("certsource: loading cert/key pair: %w", err)
	}
	return &Source{
		tlsConfig: &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		},
	}, nil
}

// newACMESource configures a certmagic.Config for the requested domains
// and eagerly obtains/renews certificates for them via ManageSync before
// returning, so a cold start never serves a handshake without a cert.
func newACMESource(ctx context.Context, acme *config.RawACME) (*Source, error) {
	if acme.StoragePath != "" {
		certmagic.Default.Storage = &certmagic.FileStorage{Path: acme.StoragePath}
	}

	issuerTemplate := certmagic.ACMEIssuer{
		Email:  acme.Email,
		Agreed: true,
	}
	switch {
	case acme.CAURL != "":
		issuerTemplate.CA = acme.CAURL
	case acme.Staging:
		issuerTemplate.CA = certmagic.LetsEncryptStagingCA
	}

	magic := certmagic.NewDefault()
	magic.Issuers = []certmagic.Issuer{certmagic.NewACMEIssuer(magic, issuerTemplate)}

	if err := magic.ManageSync(ctx, acme.Domains); err != nil {
		return nil, fmt.Errorf("certsource: obtaining certificates: %w", err)
	}

	return &Source{
		tlsConfig: magic.TLSConfig(),
		magic:     magic,
	}, nil
}
