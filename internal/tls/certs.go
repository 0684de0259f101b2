// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

// Package tls generates and loads certificates for the gRPC listener.
package tls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	cryptotls "crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"io/fs"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/samber/oops"
)

// File names written by SaveCertificates.
const (
	CACertFile     = "root-ca.crt"
	CAKeyFile      = "root-ca.key"
	ServerCertFile = "grpc.crt"
	ServerKeyFile  = "grpc.key"
)

const organization = "Gatekeep"

// CA holds a certificate authority certificate and private key.
type CA struct {
	Certificate *x509.Certificate
	PrivateKey  *ecdsa.PrivateKey
}

// ServerCert holds a server certificate and private key.
type ServerCert struct {
	Certificate *x509.Certificate
	PrivateKey  *ecdsa.PrivateKey
}

// GenerateCA creates a self-signed root valid for ten years.
func GenerateCA(commonName string) (*CA, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, oops.Code("TLS_KEY_FAILED").Wrap(err)
	}
	serial, err := newSerial()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{organization},
			CommonName:   commonName,
		},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.AddDate(10, 0, 0),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
	}

	cert, err := sign(template, template, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}
	return &CA{Certificate: cert, PrivateKey: key}, nil
}

// GenerateServerCert issues a one-year server certificate for hosts, which may
// mix DNS names and IP addresses.
func GenerateServerCert(ca *CA, hosts []string) (*ServerCert, error) {
	if ca == nil {
		return nil, oops.Code("TLS_INVALID_CA").Errorf("certificate authority is required")
	}
	if len(hosts) == 0 {
		return nil, oops.Code("TLS_NO_HOSTS").Errorf("at least one host is required")
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, oops.Code("TLS_KEY_FAILED").Wrap(err)
	}
	serial, err := newSerial()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{organization},
			CommonName:   hosts[0],
		},
		NotBefore:   now.Add(-time.Minute),
		NotAfter:    now.AddDate(1, 0, 0),
		KeyUsage:    x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, h)
		}
	}

	cert, err := sign(template, ca.Certificate, &key.PublicKey, ca.PrivateKey)
	if err != nil {
		return nil, err
	}
	return &ServerCert{Certificate: cert, PrivateKey: key}, nil
}

// SaveCertificates writes the CA and server pair into dir with owner-only permissions.
func SaveCertificates(dir string, ca *CA, server *ServerCert) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return oops.Code("TLS_SAVE_FAILED").With("dir", dir).Wrap(err)
	}

	caKey, err := x509.MarshalECPrivateKey(ca.PrivateKey)
	if err != nil {
		return oops.Code("TLS_SAVE_FAILED").With("file", CAKeyFile).Wrap(err)
	}
	serverKey, err := x509.MarshalECPrivateKey(server.PrivateKey)
	if err != nil {
		return oops.Code("TLS_SAVE_FAILED").With("file", ServerKeyFile).Wrap(err)
	}

	type pemFile struct {
		name  string
		block *pem.Block
	}
	writes := []pemFile{
		{CACertFile, &pem.Block{Type: "CERTIFICATE", Bytes: ca.Certificate.Raw}},
		{CAKeyFile, &pem.Block{Type: "EC PRIVATE KEY", Bytes: caKey}},
		{ServerCertFile, &pem.Block{Type: "CERTIFICATE", Bytes: server.Certificate.Raw}},
		{ServerKeyFile, &pem.Block{Type: "EC PRIVATE KEY", Bytes: serverKey}},
	}
	for _, w := range writes {
		path := filepath.Join(dir, w.name)
		if err := os.WriteFile(path, pem.EncodeToMemory(w.block), 0o600); err != nil {
			return oops.Code("TLS_SAVE_FAILED").With("file", path).Wrap(err)
		}
	}
	return nil
}

// LoadServerTLS builds a server config from a PEM certificate and key.
func LoadServerTLS(certFile, keyFile string) (*cryptotls.Config, error) {
	pair, err := cryptotls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, oops.Code("TLS_LOAD_FAILED").
			With("cert_file", certFile).
			With("key_file", keyFile).
			Wrap(err)
	}
	return &cryptotls.Config{
		Certificates: []cryptotls.Certificate{pair},
		MinVersion:   cryptotls.VersionTLS13,
	}, nil
}

// LoadCertPool reads a PEM bundle for clients that trust a generated CA.
func LoadCertPool(caFile string) (*x509.CertPool, error) {
	data, err := os.ReadFile(filepath.Clean(caFile))
	if err != nil {
		return nil, oops.Code("TLS_LOAD_FAILED").With("file", caFile).Wrap(err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, oops.Code("TLS_LOAD_FAILED").With("file", caFile).Errorf("no certificates found")
	}
	return pool, nil
}

// EnsureSelfSigned loads the server pair from dir, generating a CA and server
// certificate for hosts on first use. A partially populated dir is an error
// rather than something to overwrite.
func EnsureSelfSigned(dir string, hosts []string) (*cryptotls.Config, error) {
	certPath := filepath.Join(dir, ServerCertFile)
	keyPath := filepath.Join(dir, ServerKeyFile)

	present := 0
	for _, name := range []string{CACertFile, CAKeyFile, ServerCertFile, ServerKeyFile} {
		if exists(filepath.Join(dir, name)) {
			present++
		}
	}
	switch present {
	case 4:
		return LoadServerTLS(certPath, keyPath)
	case 0:
	default:
		return nil, oops.Code("TLS_INCOMPLETE").With("dir", dir).
			Errorf("certificate directory is partially populated; remove it or supply all files")
	}

	ca, err := GenerateCA(organization + " local CA")
	if err != nil {
		return nil, err
	}
	server, err := GenerateServerCert(ca, hosts)
	if err != nil {
		return nil, err
	}
	if err := SaveCertificates(dir, ca, server); err != nil {
		return nil, err
	}
	return LoadServerTLS(certPath, keyPath)
}

func newSerial() (*big.Int, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, oops.Code("TLS_SERIAL_FAILED").Wrap(err)
	}
	return serial, nil
}

func sign(template, parent *x509.Certificate, pub *ecdsa.PublicKey, priv *ecdsa.PrivateKey) (*x509.Certificate, error) {
	der, err := x509.CreateCertificate(rand.Reader, template, parent, pub, priv)
	if err != nil {
		return nil, oops.Code("TLS_SIGN_FAILED").Wrap(err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, oops.Code("TLS_SIGN_FAILED").Wrap(err)
	}
	return cert, nil
}

// exists treats permission errors as present so they are never overwritten.
func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil || !errors.Is(err, fs.ErrNotExist)
}
