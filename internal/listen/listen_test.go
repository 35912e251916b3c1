package listen

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/relayfront/relayfront/internal/config"
)

func writeSelfSignedPair(t *testing.T, dir string) (certPath, keyPath string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "relayfront-test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}

	certPath = filepath.Join(dir, "cert.pem")
	keyPath = filepath.Join(dir, "key.pem")

	certOut, err := os.Create(certPath)
	if err != nil {
		t.Fatal(err)
	}
	defer certOut.Close()
	pem.Encode(certOut, &pem.Block{Type: "CERTIFICATE", Bytes: der})

	keyBytes, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatal(err)
	}
	keyOut, err := os.Create(keyPath)
	if err != nil {
		t.Fatal(err)
	}
	defer keyOut.Close()
	pem.Encode(keyOut, &pem.Block{Type: "EC PRIVATE KEY", Bytes: keyBytes})
	return certPath, keyPath
}

func TestBuildPlainListenerWithoutTLS(t *testing.T) {
	snap := &config.Snapshot{ListenAddr: "127.0.0.1:0"}

	bundle, err := Build(context.Background(), snap, http.NewServeMux())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer bundle.Listener.Close()

	if bundle.H3 != nil {
		t.Error("expected no HTTP/3 server without TLS configured")
	}
	if _, ok := bundle.Listener.Addr().(interface{ String() string }); !ok {
		t.Error("expected a listener with an address")
	}
}

func TestBuildTLSListenerNegotiatesHTTP2ALPN(t *testing.T) {
	dir := t.TempDir()
	certPath, keyPath := writeSelfSignedPair(t, dir)

	snap := &config.Snapshot{
		ListenAddr: "127.0.0.1:0",
		TLS:        &config.RawTLS{CertPath: certPath, KeyPath: keyPath},
		Protocols:  config.RawProtocols{HTTP2Enabled: true},
	}

	bundle, err := Build(context.Background(), snap, http.NewServeMux())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer bundle.Listener.Close()

	go func() {
		conn, err := bundle.Listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.(*tls.Conn).Handshake()
	}()

	client, err := tls.Dial("tcp", bundle.Listener.Addr().String(), &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{"h2", "http/1.1"},
	})
	if err != nil {
		t.Fatalf("TLS dial failed: %v", err)
	}
	defer client.Close()
	if got := client.ConnectionState().NegotiatedProtocol; got != "h2" {
		t.Errorf("expected ALPN to negotiate h2, got %q", got)
	}

	if bundle.H3 != nil {
		t.Error("expected no HTTP/3 server when protocols.http3_enabled is false")
	}
}

func TestBuildRejectsUnconfiguredTLSBlock(t *testing.T) {
	snap := &config.Snapshot{
		ListenAddr: "127.0.0.1:0",
		TLS:        &config.RawTLS{},
	}
	if _, err := Build(context.Background(), snap, http.NewServeMux()); err == nil {
		t.Fatal("expected an error when tls is present but neither acme nor a cert pair is set")
	}
}
