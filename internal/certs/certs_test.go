// ABOUTME: Tests for self-signed certificate generation and reuse
// ABOUTME: Covers SANs, file modes, validity window, and idempotent Ensure

package certs

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureGeneratesValidPair(t *testing.T) {
	dir := t.TempDir()

	pair, err := Ensure("myhost", dir)
	require.NoError(t, err)

	// The pair must load as a usable TLS certificate
	_, err = tls.LoadX509KeyPair(pair.CertFile, pair.KeyFile)
	require.NoError(t, err)

	data, err := os.ReadFile(pair.CertFile)
	require.NoError(t, err)
	block, _ := pem.Decode(data)
	require.NotNil(t, block)
	cert, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)

	assert.Equal(t, "myhost", cert.Subject.CommonName)
	assert.Contains(t, cert.DNSNames, "myhost")
	assert.Contains(t, cert.DNSNames, "localhost")
	require.Len(t, cert.IPAddresses, 2)

	// Valid for about a year
	assert.WithinDuration(t, time.Now().AddDate(1, 0, 0), cert.NotAfter, time.Hour)
}

func TestEnsureFileModes(t *testing.T) {
	dir := t.TempDir()

	pair, err := Ensure("myhost", dir)
	require.NoError(t, err)

	keyInfo, err := os.Stat(pair.KeyFile)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), keyInfo.Mode().Perm())

	certInfo, err := os.Stat(pair.CertFile)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0644), certInfo.Mode().Perm())
}

func TestEnsureReusesExistingPair(t *testing.T) {
	dir := t.TempDir()

	first, err := Ensure("myhost", dir)
	require.NoError(t, err)
	firstCert, err := os.ReadFile(first.CertFile)
	require.NoError(t, err)

	second, err := Ensure("myhost", dir)
	require.NoError(t, err)
	secondCert, err := os.ReadFile(second.CertFile)
	require.NoError(t, err)

	assert.Equal(t, first.CertFile, second.CertFile)
	assert.Equal(t, firstCert, secondCert)
}

func TestEnsureLocalhostNoDuplicateSAN(t *testing.T) {
	pair, err := Ensure("localhost", t.TempDir())
	require.NoError(t, err)

	data, err := os.ReadFile(pair.CertFile)
	require.NoError(t, err)
	block, _ := pem.Decode(data)
	cert, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)

	assert.Equal(t, []string{"localhost"}, cert.DNSNames)
}
