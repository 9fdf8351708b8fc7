package p2p

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"crypto/x509"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/inconshreveable/log15"

	"github.com/bcosnet/go-bcosnet/p2p/vnode"
)

const nodeIDCacheSize = 1024

// Identity is what the peer certificate tells about the peer
type Identity struct {
	NodeID vnode.NodeID
	// AgencyName is the common name of the issuer
	AgencyName string
	// NodeName is the common name of the subject
	NodeName string
	Issuer   string
	Subject  string
}

func (id Identity) String() string {
	return id.NodeID.Brief() + "#" + id.AgencyName + "#" + id.NodeName
}

// NodeIDFromCertificate return the uncompressed EC public key of cert without the 0x04 prefix
func NodeIDFromCertificate(cert *x509.Certificate) (id vnode.NodeID, err error) {
	pub, ok := cert.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return id, fmt.Errorf("public key of %s is not an EC key", cert.Subject.CommonName)
	}

	key, err := pub.ECDH()
	if err != nil {
		return id, err
	}

	raw := key.Bytes()
	if len(raw) != len(id)+1 || raw[0] != 0x04 {
		return id, fmt.Errorf("unsupported EC public key length %d", len(raw))
	}

	copy(id[:], raw[1:])
	return id, nil
}

// VerifyOptions switch the checks Verifier applies to the peer leaf certificate
type VerifyOptions struct {
	// EnforceChain fails the handshake if the chain does not verify against the CA pool
	EnforceChain bool
	CheckIssuer  bool
	// Issuer is compared with pkix.Name.String() of the leaf issuer
	Issuer      string
	CheckExpiry bool
	// MaxDepth is the max count of certificates above the leaf
	MaxDepth int
}

// Verifier derives the peer Identity during the TLS handshake and enforces the access lists
type Verifier struct {
	roots  *x509.CertPool
	access *AccessControl
	opts   VerifyOptions
	cache  *lru.Cache // sha256(cert.Raw) -> vnode.NodeID
	now    func() time.Time
	log    log15.Logger
}

func NewVerifier(roots *x509.CertPool, access *AccessControl, opts VerifyOptions) *Verifier {
	if access == nil {
		access = NewAccessControl()
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultVerifyDepth
	}

	cache, _ := lru.New(nodeIDCacheSize)

	return &Verifier{
		roots:  roots,
		access: access,
		opts:   opts,
		cache:  cache,
		now:    time.Now,
		log:    log15.New("module", "p2p/verifier"),
	}
}

func (v *Verifier) nodeID(cert *x509.Certificate) (vnode.NodeID, error) {
	fp := sha256.Sum256(cert.Raw)
	if id, ok := v.cache.Get(fp); ok {
		return id.(vnode.NodeID), nil
	}

	id, err := NodeIDFromCertificate(cert)
	if err != nil {
		return id, err
	}

	v.cache.Add(fp, id)
	return id, nil
}

func (v *Verifier) reject(code ErrorCode, format string, args ...interface{}) error {
	err := newNetworkError(code, format, args...)
	v.log.Warn("reject peer certificate", "err", err)
	return err
}

// verifyCert is called for every certificate of the chain, root first.
// CA certificates pass with the chain result. For the leaf it fills id.
func (v *Verifier) verifyCert(preverified bool, cert *x509.Certificate, id *Identity) error {
	chainResult := func() error {
		if preverified || !v.opts.EnforceChain {
			return nil
		}
		return v.reject(CertRejected, "chain of %s does not verify", cert.Subject.CommonName)
	}

	if cert.BasicConstraintsValid && cert.IsCA {
		return chainResult()
	}

	nodeID, err := v.nodeID(cert)
	if err != nil {
		return v.reject(CertRejected, "%v", err)
	}

	if err = v.access.Check(nodeID); err != nil {
		v.log.Warn("reject peer certificate", "err", err)
		return err
	}

	if v.opts.CheckIssuer && cert.Issuer.String() != v.opts.Issuer {
		return v.reject(CertRejected, "issuer %q, expect %q", cert.Issuer.String(), v.opts.Issuer)
	}

	if v.opts.CheckExpiry {
		now := v.now()
		if now.Before(cert.NotBefore) || now.After(cert.NotAfter) {
			return v.reject(CertRejected, "certificate of %s expired or not yet valid", nodeID.Brief())
		}
	}

	*id = Identity{
		NodeID:     nodeID,
		AgencyName: cert.Issuer.CommonName,
		NodeName:   cert.Subject.CommonName,
		Issuer:     cert.Issuer.String(),
		Subject:    cert.Subject.String(),
	}

	return chainResult()
}

// VerifyPeerCertificates check the chain presented by the peer, leaf first as in tls.
// It returns the peer Identity, or a *NetworkError the handshake is aborted with.
func (v *Verifier) VerifyPeerCertificates(rawCerts [][]byte) (id Identity, err error) {
	if len(rawCerts) == 0 {
		return id, v.reject(CertRejected, "peer sent no certificate")
	}

	certs := make([]*x509.Certificate, len(rawCerts))
	for i, raw := range rawCerts {
		if certs[i], err = x509.ParseCertificate(raw); err != nil {
			return id, v.reject(CertRejected, "parse certificate: %v", err)
		}
	}

	chain := certs
	preverified := false
	if v.roots != nil {
		intermediates := x509.NewCertPool()
		for _, c := range certs[1:] {
			intermediates.AddCert(c)
		}

		chains, err := certs[0].Verify(x509.VerifyOptions{
			Roots:         v.roots,
			Intermediates: intermediates,
			CurrentTime:   v.now(),
			KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
		})
		if err == nil && len(chains) > 0 {
			preverified = true
			chain = chains[0]
		} else {
			v.log.Debug("peer chain does not verify", "err", err)
		}
	}

	if len(chain) > v.opts.MaxDepth+1 {
		return id, v.reject(CertRejected, "chain depth %d exceeds %d", len(chain)-1, v.opts.MaxDepth)
	}

	// root first
	for i := len(chain) - 1; i >= 0; i-- {
		if err = v.verifyCert(preverified, chain[i], &id); err != nil {
			return Identity{}, err
		}
	}

	if id.NodeID.IsZero() {
		return id, v.reject(CertRejected, "no leaf certificate in chain")
	}

	return id, nil
}

// Check re-evaluates the access lists for a connected peer
func (v *Verifier) Check(nodeID vnode.NodeID) error {
	return v.access.Check(nodeID)
}
