// Package listen builds the network listeners a snapshot's protocols
// section asks for: a plain TCP listener, a TLS listener with ALPN
// negotiated for HTTP/1.1 and (optionally) h2, and an experimental
// HTTP/3-over-QUIC listener sharing the same certificate (spec §6,
// protocols.http3_enabled).
package listen

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"

	"github.com/quic-go/quic-go/http3"
	log "github.com/sirupsen/logrus"

	"github.com/relayfront/relayfront/internal/certsource"
	"github.com/relayfront/relayfront/internal/config"
)

// defaultALPN lists the protocols offered during the TLS handshake when
// HTTP/2 is enabled; http/1.1 always stays last so a client that refuses
// to speak h2 still gets a usable connection.
var defaultALPN = []string{"h2", "http/1.1"}

// Bundle is everything Serve needs to run a listener set: the base
// net.Listener (plain or TLS-wrapped) plus an optional HTTP/3 server
// the caller must Serve itself on its own goroutine.
type Bundle struct {
	Listener net.Listener
	H3       *http3.Server
	h3pc     net.PacketConn
}

// Build constructs the listener(s) described by snap for handler. When
// snap.TLS is nil it returns a plain TCP listener and a nil H3 server.
func Build(ctx context.Context, snap *config.Snapshot, handler http.Handler) (*Bundle, error) {
	ln, err := net.Listen("tcp", snap.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("listen: binding %s: %w", snap.ListenAddr, err)
	}

	if snap.TLS == nil {
		return &Bundle{Listener: ln}, nil
	}

	src, err := certsource.New(ctx, snap.TLS)
	if err != nil {
		ln.Close()
		return nil, err
	}

	tlsCfg := src.TLSConfig().Clone()
	if snap.Protocols.HTTP2Enabled {
		tlsCfg.NextProtos = defaultALPN
	} else {
		tlsCfg.NextProtos = []string{"http/1.1"}
	}

	tlsLn := tls.NewListener(ln, tlsCfg)
	bundle := &Bundle{Listener: tlsLn}

	if snap.Protocols.HTTP3Enabled {
		h3pc, err := net.ListenPacket("udp", snap.ListenAddr)
		if err != nil {
			tlsLn.Close()
			return nil, fmt.Errorf("listen: binding HTTP/3 UDP socket on %s: %w", snap.ListenAddr, err)
		}
		h3TLSCfg := tlsCfg.Clone()
		h3TLSCfg.NextProtos = append([]string{http3.NextProtoH3}, h3TLSCfg.NextProtos...)
		bundle.H3 = &http3.Server{
			Addr:      snap.ListenAddr,
			Handler:   handler,
			TLSConfig: h3TLSCfg,
		}
		bundle.h3pc = h3pc
	}

	return bundle, nil
}

// ServeHTTP3 runs the HTTP/3 server on its UDP packet connection; it
// blocks until the server is closed. Callers should invoke this on its
// own goroutine. A no-op if HTTP/3 was not enabled for this bundle.
func (b *Bundle) ServeHTTP3() error {
	if b.H3 == nil {
		return nil
	}
	return b.H3.Serve(b.h3pc)
}

// Close tears down the HTTP/3 server and its UDP socket. Closing the
// base listener is the caller's responsibility via http.Server.Shutdown,
// which already closes listeners it was handed.
func (b *Bundle) Close() {
	if b.H3 == nil {
		return
	}
	if err := b.H3.Close(); err != nil {
		log.WithError(err).Warn("closing HTTP/3 server")
	}
	if err := b.h3pc.Close(); err != nil {
		log.WithError(err).Warn("closing HTTP/3 UDP socket")
	}
}
