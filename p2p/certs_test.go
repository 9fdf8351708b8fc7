package p2p

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bcosnet/go-bcosnet/p2p/vnode"
)

var certSerial int64

type testCert struct {
	cert *x509.Certificate
	key  *ecdsa.PrivateKey
	der  []byte
}

type certTemplate struct {
	cn        string
	org       string
	isCA      bool
	notBefore time.Time
	notAfter  time.Time
}

func newCert(t *testing.T, tpl certTemplate, parent *testCert) *testCert {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	if tpl.notBefore.IsZero() {
		tpl.notBefore = time.Now().Add(-time.Hour)
	}
	if tpl.notAfter.IsZero() {
		tpl.notAfter = time.Now().Add(24 * time.Hour)
	}

	template := &x509.Certificate{
		SerialNumber: big.NewInt(atomic.AddInt64(&certSerial, 1)),
		Subject: pkix.Name{
			CommonName:   tpl.cn,
			Organization: []string{tpl.org},
		},
		NotBefore:             tpl.notBefore,
		NotAfter:              tpl.notAfter,
		BasicConstraintsValid: true,
		IsCA:                  tpl.isCA,
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
	}
	if tpl.isCA {
		template.KeyUsage |= x509.KeyUsageCertSign
	}

	signer, signerKey := template, key
	if parent != nil {
		signer, signerKey = parent.cert, parent.key
	}

	der, err := x509.CreateCertificate(rand.Reader, template, signer, &key.PublicKey, signerKey)
	require.NoError(t, err)

	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	return &testCert{cert: cert, key: key, der: der}
}

// testChain is a chain CA -> agency -> node
type testChain struct {
	ca     *testCert
	agency *testCert
}

func newTestChain(t *testing.T, agency string) *testChain {
	ca := newCert(t, certTemplate{cn: "chain", org: "fisco", isCA: true}, nil)
	return newTestChainWithCA(t, ca, agency)
}

func newTestChainWithCA(t *testing.T, ca *testCert, agency string) *testChain {
	return &testChain{
		ca:     ca,
		agency: newCert(t, certTemplate{cn: agency, org: "fisco", isCA: true}, ca),
	}
}

func (c *testChain) roots() *x509.CertPool {
	pool := x509.NewCertPool()
	pool.AddCert(c.ca.cert)
	return pool
}

func (c *testChain) node(t *testing.T, name string) *testCert {
	return newCert(t, certTemplate{cn: name, org: "fisco"}, c.agency)
}

// rawChain is what a peer sends in the handshake, leaf first
func (c *testChain) rawChain(leaf *testCert) [][]byte {
	return [][]byte{leaf.der, c.agency.der}
}

func (c *testChain) credentials(t *testing.T, leaf *testCert) *Credentials {
	t.Helper()

	creds, err := NewCredentials(tls.Certificate{
		Certificate: c.rawChain(leaf),
		PrivateKey:  leaf.key,
	}, c.roots())
	require.NoError(t, err)

	return creds
}

func nodeIDOf(t *testing.T, c *testCert) vnode.NodeID {
	t.Helper()

	id, err := NodeIDFromCertificate(c.cert)
	require.NoError(t, err)
	return id
}

// writeCredentialFiles store the chain as ca.crt, node.crt and node.key under dir
func (c *testChain) writeCredentialFiles(t *testing.T, dir string, leaf *testCert) (ca, cert, key string) {
	t.Helper()

	ca = filepath.Join(dir, "ca.crt")
	cert = filepath.Join(dir, "node.crt")
	key = filepath.Join(dir, "node.key")

	caPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: c.ca.der})
	require.NoError(t, os.WriteFile(ca, caPEM, 0600))

	var certPEM []byte
	for _, der := range c.rawChain(leaf) {
		certPEM = append(certPEM, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})...)
	}
	require.NoError(t, os.WriteFile(cert, certPEM, 0600))

	keyDER, err := x509.MarshalECPrivateKey(leaf.key)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(key, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0600))

	return
}
