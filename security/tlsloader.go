// Package security is the SslHelper equivalent (§2): a TLS material loader
// consumed by nettransport's TcpListener/TcpLink when a link is configured
// with optional TLS. Go's stdlib crypto/tls replaces the original's dlopen
// of OpenSSL outright (REDESIGN FLAGS: "re-architect [the dlopen] as a
// once-initialized function-pointer table behind a facade" — in Go that
// facade collapses to crypto/tls itself), but the exact
// file-validation check sequence is preserved.
package security

import (
	"crypto/tls"
	"crypto/x509"
	"os"
	"path/filepath"

	"golang.org/x/crypto/pkcs12"

	"github.com/ascend/memfabric-hybrid/cmn"
)

// MaxMaterialSize bounds any single certificate/key/CA file this loader
// will read, guarding against a misconfigured path pointing at something
// enormous (§9 "size <= max").
const MaxMaterialSize = 64 << 10

// LoadMaterial reads path after the check sequence from Design Notes §9:
// realpath, not-a-symlink, is-file, size <= max. "realpath" canonicalizes
// the path that is finally read, without following symlinks; the
// not-a-symlink check then Lstats the caller's original path, so a
// symlinked cert/key is refused outright rather than silently followed.
func LoadMaterial(path string) ([]byte, error) {
	const op = "security.LoadMaterial"
	real, err := filepath.Abs(path)
	if err != nil {
		return nil, cmn.ErrInvalidParam(op, err)
	}
	real = filepath.Clean(real)

	fi, err := os.Lstat(path)
	if err != nil {
		return nil, cmn.ErrInvalidParam(op, err)
	}
	if fi.Mode()&os.ModeSymlink != 0 {
		return nil, cmn.NewErrf(cmn.KindInvalidParam, op, "%s is a symlink", path)
	}
	if !fi.Mode().IsRegular() {
		return nil, cmn.NewErrf(cmn.KindInvalidParam, op, "%s is not a regular file", path)
	}
	if fi.Size() > MaxMaterialSize {
		return nil, cmn.NewErrf(cmn.KindInvalidParam, op, "%s is %d bytes, exceeds max %d", path, fi.Size(), MaxMaterialSize)
	}
	return os.ReadFile(real)
}

// Options configures Load. Either CertPath/KeyPath (PEM) or PKCS12Path
// (a combined .p12/.pfx bundle) must be set.
type Options struct {
	CertPath, KeyPath string
	PKCS12Path        string
	PKCS12Password    string
	CAPath            string
	ServerName        string
	RequireClientCert bool
}

// Load builds a *tls.Config from the configured material, applying
// LoadMaterial's check sequence to every file it touches.
func Load(opts Options) (*tls.Config, error) {
	const op = "security.Load"
	cert, err := loadCertificate(opts)
	if err != nil {
		return nil, err
	}
	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		ServerName:   opts.ServerName,
		MinVersion:   tls.VersionTLS12,
	}
	if opts.CAPath != "" {
		caPEM, err := LoadMaterial(opts.CAPath)
		if err != nil {
			return nil, err
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, cmn.NewErrf(cmn.KindInvalidParam, op, "no certificates parsed from %s", opts.CAPath)
		}
		cfg.RootCAs = pool
		cfg.ClientCAs = pool
	}
	if opts.RequireClientCert {
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return cfg, nil
}

func loadCertificate(opts Options) (tls.Certificate, error) {
	const op = "security.loadCertificate"
	if opts.PKCS12Path != "" {
		raw, err := LoadMaterial(opts.PKCS12Path)
		if err != nil {
			return tls.Certificate{}, err
		}
		key, leaf, err := pkcs12.Decode(raw, opts.PKCS12Password)
		if err != nil {
			return tls.Certificate{}, cmn.ErrInvalidParam(op, err)
		}
		return tls.Certificate{Certificate: [][]byte{leaf.Raw}, PrivateKey: key, Leaf: leaf}, nil
	}
	if opts.CertPath == "" || opts.KeyPath == "" {
		return tls.Certificate{}, cmn.ErrInvalidParam(op, nil)
	}
	certPEM, err := LoadMaterial(opts.CertPath)
	if err != nil {
		return tls.Certificate{}, err
	}
	keyPEM, err := LoadMaterial(opts.KeyPath)
	if err != nil {
		return tls.Certificate{}, err
	}
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return tls.Certificate{}, cmn.ErrInvalidParam(op, err)
	}
	return cert, nil
}
