package p2p

import (
	"crypto/tls"
	"crypto/x509"
	"os"

	"github.com/pkg/errors"
)

// Credentials is the node certificate and the CA pool peers are verified against
type Credentials struct {
	Cert  tls.Certificate
	Roots *x509.CertPool
	// Leaf is the parsed node certificate
	Leaf *x509.Certificate
}

// LoadCredentials read PEM files, the node certificate file may carry the agency certificate after the leaf
func LoadCredentials(caFile, certFile, keyFile string) (*Credentials, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, errors.Wrap(err, "load node certificate")
	}

	caPEM, err := os.ReadFile(caFile)
	if err != nil {
		return nil, errors.Wrap(err, "read ca certificate")
	}

	roots := x509.NewCertPool()
	if !roots.AppendCertsFromPEM(caPEM) {
		return nil, errors.Errorf("no certificate found in %s", caFile)
	}

	return NewCredentials(cert, roots)
}

// NewCredentials fill Leaf from cert
func NewCredentials(cert tls.Certificate, roots *x509.CertPool) (*Credentials, error) {
	if len(cert.Certificate) == 0 {
		return nil, errors.New("empty node certificate")
	}

	leaf := cert.Leaf
	if leaf == nil {
		var err error
		if leaf, err = x509.ParseCertificate(cert.Certificate[0]); err != nil {
			return nil, errors.Wrap(err, "parse node certificate")
		}
		cert.Leaf = leaf
	}

	return &Credentials{
		Cert:  cert,
		Roots: roots,
		Leaf:  leaf,
	}, nil
}

// Identity of the local node
func (c *Credentials) Identity() (Identity, error) {
	id, err := NodeIDFromCertificate(c.Leaf)
	if err != nil {
		return Identity{}, err
	}

	return Identity{
		NodeID:     id,
		AgencyName: c.Leaf.Issuer.CommonName,
		NodeName:   c.Leaf.Subject.CommonName,
		Issuer:     c.Leaf.Issuer.String(),
		Subject:    c.Leaf.Subject.String(),
	}, nil
}

var ecdheSuites = []uint16{
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
}

// newTLSConfig build the config shared by both roles. Chain and identity checks are done by
// Verifier in VerifyPeerCertificate, which every socket installs on its own clone.
func newTLSConfig(creds *Credentials) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{creds.Cert},
		ClientAuth:   tls.RequireAnyClientCert,
		// peers are addressed by NodeID, not by host name
		InsecureSkipVerify: true,
		MinVersion:         tls.VersionTLS12,
		// in 1.2 the client handshake completes only after the server accepted the client certificate
		MaxVersion:         tls.VersionTLS12,
		CipherSuites:       ecdheSuites,
		CurvePreferences:   []tls.CurveID{tls.X25519, tls.CurveP256, tls.CurveP384},
	}
}
