// ABOUTME: Self-signed TLS certificate generation and reuse
// ABOUTME: Persists per-hostname cert/key pairs under a configurable directory

package certs

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"
)

// Pair points at a certificate and key file on disk.
type Pair struct {
	CertFile string
	KeyFile  string
}

// Ensure returns a cert/key pair for hostname under dir, generating a
// self-signed one on first use and reusing it on later runs. The key file is
// written with mode 0600, the certificate with 0644.
func Ensure(hostname, dir string) (Pair, error) {
	pair := Pair{
		CertFile: filepath.Join(dir, hostname+".crt"),
		KeyFile:  filepath.Join(dir, hostname+".key"),
	}

	if fileExists(pair.CertFile) && fileExists(pair.KeyFile) {
		return pair, nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return Pair{}, fmt.Errorf("creating cert dir: %w", err)
	}
	if err := generate(hostname, pair); err != nil {
		return Pair{}, err
	}
	return pair, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// generate writes a new RSA-2048 self-signed certificate valid for one year,
// with SANs for the hostname plus the usual loopback names.
func generate(hostname string, pair Pair) error {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return fmt.Errorf("generating RSA key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return fmt.Errorf("generating serial number: %w", err)
	}

	now := time.Now()
	template := x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName: hostname,
		},
		NotBefore:             now,
		NotAfter:              now.AddDate(1, 0, 0),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{hostname},
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1"), net.ParseIP("::1")},
	}
	if hostname != "localhost" {
		template.DNSNames = append(template.DNSNames, "localhost")
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return fmt.Errorf("creating certificate: %w", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})

	if err := os.WriteFile(pair.CertFile, certPEM, 0644); err != nil {
		return fmt.Errorf("writing certificate: %w", err)
	}
	if err := os.WriteFile(pair.KeyFile, keyPEM, 0600); err != nil {
		return fmt.Errorf("writing private key: %w", err)
	}
	return nil
}
