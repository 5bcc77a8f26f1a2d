package falkordb

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
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ocsp"
)

// testPKI is a throwaway CA and a server certificate for localhost.
type testPKI struct {
	dir      string
	caFile   string
	caPEM    []byte
	certFile string
	keyFile  string
	server   tls.Certificate
	ca       *x509.Certificate
	caKey    *ecdsa.PrivateKey
	leaf     *x509.Certificate
}

func newTestPKI(t *testing.T) *testPKI {
	t.Helper()
	dir := t.TempDir()

	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	caTmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "falkordb test ca"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
	}
	caDER, err := x509.CreateCertificate(rand.Reader, caTmpl, caTmpl, &caKey.PublicKey, caKey)
	require.NoError(t, err)
	caCert, err := x509.ParseCertificate(caDER)
	require.NoError(t, err)

	leafKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	leafTmpl := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: "localhost"},
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
	}
	leafDER, err := x509.CreateCertificate(rand.Reader, leafTmpl, caCert, &leafKey.PublicKey, caKey)
	require.NoError(t, err)
	keyDER, err := x509.MarshalECPrivateKey(leafKey)
	require.NoError(t, err)

	p := &testPKI{dir: dir}
	p.caPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: caDER})
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: leafDER})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})

	p.caFile = filepath.Join(dir, "ca.pem")
	p.certFile = filepath.Join(dir, "client.pem")
	p.keyFile = filepath.Join(dir, "client.key")
	require.NoError(t, os.WriteFile(p.caFile, p.caPEM, 0o600))
	require.NoError(t, os.WriteFile(p.certFile, certPEM, 0o600))
	require.NoError(t, os.WriteFile(p.keyFile, keyPEM, 0o600))

	p.server, err = tls.X509KeyPair(certPEM, keyPEM)
	require.NoError(t, err)
	p.ca, p.caKey = caCert, caKey
	p.leaf, err = x509.ParseCertificate(leafDER)
	require.NoError(t, err)
	return p
}

// ocspResponse returns a response for the server certificate signed by key.
func (p *testPKI) ocspResponse(t *testing.T, status int, key *ecdsa.PrivateKey) []byte {
	t.Helper()
	raw, err := ocsp.CreateResponse(p.ca, p.ca, ocsp.Response{
		Status:       status,
		SerialNumber: p.leaf.SerialNumber,
		ThisUpdate:   time.Now().Add(-time.Minute),
		NextUpdate:   time.Now().Add(time.Hour),
	}, key)
	require.NoError(t, err)
	return raw
}

// listen starts a TLS server that completes handshakes and closes.
func (p *testPKI) listen(t *testing.T) string {
	t.Helper()
	return p.listenStapled(t, nil)
}

// listenStapled is listen with staple attached to every handshake. The
// server presents only its leaf certificate.
func (p *testPKI) listenStapled(t *testing.T, staple []byte) string {
	t.Helper()
	cert := p.server
	cert.OCSPStaple = staple
	ln, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{Certificates: []tls.Certificate{cert}})
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				_ = conn.(*tls.Conn).Handshake()
			}()
		}
	}()
	return ln.Addr().String()
}

func handshake(t *testing.T, cfg TLSConfig, serverName, addr string) error {
	t.Helper()
	if cfg.CertReqs == "" {
		cfg.CertReqs = CertRequired
	}
	dc, err := cfg.build(serverName)
	require.NoError(t, err)
	require.NotNil(t, dc)

	conn, err := dc.dial(context.Background(), &net.Dialer{Timeout: 2 * time.Second}, "tcp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()
	return conn.(*tls.Conn).HandshakeContext(context.Background())
}

func TestTLSDisabled(t *testing.T) {
	dc, err := (&TLSConfig{CACerts: "/does/not/matter"}).build("localhost")
	require.NoError(t, err)
	assert.Nil(t, dc)
}

func TestTLSBuild(t *testing.T) {
	pki := newTestPKI(t)

	t.Run("server name and system roots", func(t *testing.T) {
		dc, err := (&TLSConfig{Enabled: true, CertReqs: CertRequired}).build("db.internal")
		require.NoError(t, err)
		assert.Equal(t, "db.internal", dc.config.ServerName)
		assert.Nil(t, dc.config.RootCAs)
		assert.False(t, dc.config.InsecureSkipVerify)
		assert.Nil(t, dc.config.VerifyConnection)
	})

	t.Run("no verification", func(t *testing.T) {
		dc, err := (&TLSConfig{Enabled: true, CertReqs: CertNone}).build("db")
		require.NoError(t, err)
		assert.True(t, dc.config.InsecureSkipVerify)
		assert.Nil(t, dc.config.VerifyConnection)
	})

	t.Run("skip hostname check verifies chain by hand", func(t *testing.T) {
		dc, err := (&TLSConfig{Enabled: true, CertReqs: CertRequired, SkipHostnameCheck: true}).build("db")
		require.NoError(t, err)
		assert.True(t, dc.config.InsecureSkipVerify)
		assert.NotNil(t, dc.config.VerifyConnection)
	})

	t.Run("client certificate from combined file", func(t *testing.T) {
		combined := filepath.Join(pki.dir, "combined.pem")
		cert, err := os.ReadFile(pki.certFile)
		require.NoError(t, err)
		key, err := os.ReadFile(pki.keyFile)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(combined, append(cert, key...), 0o600))

		dc, err := (&TLSConfig{Enabled: true, CertFile: combined}).build("db")
		require.NoError(t, err)
		assert.Len(t, dc.config.Certificates, 1)
	})

	t.Run("ca sources", func(t *testing.T) {
		for name, cfg := range map[string]TLSConfig{
			"file":      {Enabled: true, CACerts: pki.caFile},
			"directory": {Enabled: true, CAPath: pki.dir},
			"data":      {Enabled: true, CAData: string(pki.caPEM)},
		} {
			dc, err := cfg.build("db")
			require.NoError(t, err, name)
			assert.NotNil(t, dc.config.RootCAs, name)
		}
	})

	t.Run("min version and ciphers", func(t *testing.T) {
		dc, err := (&TLSConfig{
			Enabled:    true,
			MinVersion: "TLSv1.2",
			Ciphers:    "TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256:TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256",
		}).build("db")
		require.NoError(t, err)
		assert.Equal(t, uint16(tls.VersionTLS12), dc.config.MinVersion)
		assert.Equal(t, []uint16{
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
		}, dc.config.CipherSuites)
	})
}

func TestTLSBuildErrors(t *testing.T) {
	pki := newTestPKI(t)
	missing := filepath.Join(t.TempDir(), "missing.pem")

	tests := []struct {
		name string
		cfg  TLSConfig
	}{
		{name: "missing client cert", cfg: TLSConfig{CertFile: missing}},
		{name: "missing ca file", cfg: TLSConfig{CACerts: missing}},
		{name: "ca file without certificates", cfg: TLSConfig{CACerts: pki.keyFile}},
		{name: "missing ca directory", cfg: TLSConfig{CAPath: missing}},
		{name: "bad ca data", cfg: TLSConfig{CAData: "not pem"}},
		{name: "unknown version", cfg: TLSConfig{MinVersion: "SSLv3"}},
		{name: "unknown cipher", cfg: TLSConfig{Ciphers: "TLS_NOT_A_SUITE"}},
		{name: "missing ocsp cert", cfg: TLSConfig{ValidateOCSP: true, OCSPExpectedCert: missing}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.Enabled = true
			_, err := tt.cfg.build("db")
			assert.ErrorIs(t, err, ErrTLSConfig)
		})
	}
}

func TestTLSHandshake(t *testing.T) {
	pki := newTestPKI(t)
	addr := pki.listen(t)

	t.Run("trusted ca", func(t *testing.T) {
		assert.NoError(t, handshake(t, TLSConfig{Enabled: true, CACerts: pki.caFile}, "localhost", addr))
	})

	t.Run("untrusted server", func(t *testing.T) {
		assert.Error(t, handshake(t, TLSConfig{Enabled: true}, "localhost", addr))
	})

	t.Run("hostname mismatch", func(t *testing.T) {
		assert.Error(t, handshake(t, TLSConfig{Enabled: true, CACerts: pki.caFile}, "db.internal", addr))
	})

	t.Run("hostname check skipped", func(t *testing.T) {
		cfg := TLSConfig{Enabled: true, CACerts: pki.caFile, SkipHostnameCheck: true}
		assert.NoError(t, handshake(t, cfg, "db.internal", addr))
	})

	t.Run("hostname check skipped still verifies chain", func(t *testing.T) {
		cfg := TLSConfig{Enabled: true, SkipHostnameCheck: true, CAData: string(newTestPKI(t).caPEM)}
		assert.Error(t, handshake(t, cfg, "db.internal", addr))
	})

	t.Run("verification disabled", func(t *testing.T) {
		assert.NoError(t, handshake(t, TLSConfig{Enabled: true, CertReqs: CertNone}, "db.internal", addr))
	})

	t.Run("stapled ocsp required", func(t *testing.T) {
		cfg := TLSConfig{Enabled: true, CACerts: pki.caFile, ValidateOCSPStapled: true}
		err := handshake(t, cfg, "localhost", addr)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "OCSP")
	})
}

func TestTLSStapledOCSP(t *testing.T) {
	pki := newTestPKI(t)
	forger, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tests := []struct {
		name    string
		staple  []byte
		cfg     TLSConfig
		wantErr string
	}{
		{
			name:   "good response signed by the issuer",
			staple: pki.ocspResponse(t, ocsp.Good, pki.caKey),
			cfg:    TLSConfig{CACerts: pki.caFile, ValidateOCSPStapled: true},
		},
		{
			name:   "issuer found when hostname check is skipped",
			staple: pki.ocspResponse(t, ocsp.Good, pki.caKey),
			cfg:    TLSConfig{CACerts: pki.caFile, ValidateOCSPStapled: true, SkipHostnameCheck: true},
		},
		{
			name:    "forged good response",
			staple:  pki.ocspResponse(t, ocsp.Good, forger),
			cfg:     TLSConfig{CACerts: pki.caFile, ValidateOCSPStapled: true},
			wantErr: "invalid OCSP response",
		},
		{
			name:    "revoked",
			staple:  pki.ocspResponse(t, ocsp.Revoked, pki.caKey),
			cfg:     TLSConfig{CACerts: pki.caFile, ValidateOCSP: true},
			wantErr: "not good",
		},
		{
			name:    "no issuer without verification",
			staple:  pki.ocspResponse(t, ocsp.Good, forger),
			cfg:     TLSConfig{CertReqs: CertNone, ValidateOCSPStapled: true},
			wantErr: "cannot determine the issuer",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr := pki.listenStapled(t, tt.staple)
			tt.cfg.Enabled = true
			err := handshake(t, tt.cfg, "localhost", addr)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestOCSPIssuer(t *testing.T) {
	pki := newTestPKI(t)
	other := newTestPKI(t)

	issuer, err := ocspIssuer(tls.ConnectionState{}, [][]*x509.Certificate{{pki.leaf, pki.ca}})
	require.NoError(t, err)
	assert.Same(t, pki.ca, issuer)

	issuer, err = ocspIssuer(tls.ConnectionState{}, [][]*x509.Certificate{{pki.ca}})
	require.NoError(t, err)
	assert.Same(t, pki.ca, issuer, "self-signed leaf")

	issuer, err = ocspIssuer(
		tls.ConnectionState{PeerCertificates: []*x509.Certificate{pki.leaf, other.ca}},
		[][]*x509.Certificate{{pki.leaf, pki.ca}},
	)
	require.NoError(t, err)
	assert.Same(t, pki.ca, issuer, "verified chain wins over presented chain")

	_, err = ocspIssuer(tls.ConnectionState{PeerCertificates: []*x509.Certificate{pki.leaf}}, nil)
	assert.Error(t, err)
}
