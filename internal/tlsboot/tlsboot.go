// Package tlsboot generates a self-signed development certificate when
// none is configured, since fleetd refuses to start without TLS and won't
// fall back to plaintext as a dev escape hatch. Grounded on ManuGH-xg2g's
// internal/tls/cert.go, trimmed to ECDSA P-256 + the core's own network-IP
// detection instead of xg2g's broader SAN set.
package tlsboot

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/skylinesignage/fleetd/internal/errors"
	"github.com/skylinesignage/fleetd/internal/logger"
)

var log = logger.With(logger.SubsystemTransport)

const validityYears = 2

// EnsureCertificates does nothing if both certPath and keyPath already
// exist, otherwise generates a fresh self-signed pair covering
// localhost and the host's own network addresses.
func EnsureCertificates(certPath, keyPath string) error {
	if fileExists(certPath) && fileExists(keyPath) {
		return nil
	}

	ips := networkIPs()
	log.Infow("generating self-signed TLS certificate", "cert", certPath, "key", keyPath, "network_ips", len(ips))
	return generateSelfSigned(certPath, keyPath, ips)
}

func generateSelfSigned(certPath, keyPath string, ips []net.IP) error {
	if dir := filepath.Dir(certPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return errors.Wrap(err, "creating certificate directory")
		}
	}

	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return errors.Wrap(err, "generating private key")
	}

	serialLimit := new(big.Int).Lsh(big.NewInt(1), 128)
	serial, err := rand.Int(rand.Reader, serialLimit)
	if err != nil {
		return errors.Wrap(err, "generating serial number")
	}

	notBefore := time.Now()
	allIPs := append([]net.IP{net.ParseIP("127.0.0.1"), net.ParseIP("::1")}, ips...)

	template := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{Organization: []string{"fleetd self-signed"}, CommonName: "fleetd"},
		NotBefore:             notBefore,
		NotAfter:              notBefore.AddDate(validityYears, 0, 0),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IPAddresses:           allIPs,
		DNSNames:              []string{"localhost"},
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	if err != nil {
		return errors.Wrap(err, "creating certificate")
	}

	certOut, err := os.Create(certPath)
	if err != nil {
		return errors.Wrap(err, "creating certificate file")
	}
	defer certOut.Close()
	if err := pem.Encode(certOut, &pem.Block{Type: "CERTIFICATE", Bytes: der}); err != nil {
		return errors.Wrap(err, "encoding certificate")
	}

	keyOut, err := os.OpenFile(keyPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return errors.Wrap(err, "creating key file")
	}
	defer keyOut.Close()
	privBytes, err := x509.MarshalECPrivateKey(privateKey)
	if err != nil {
		return errors.Wrap(err, "marshaling private key")
	}
	return errors.Wrap(pem.Encode(keyOut, &pem.Block{Type: "EC PRIVATE KEY", Bytes: privBytes}), "encoding private key")
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func networkIPs() []net.IP {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}
	var ips []net.IP
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			var ip net.IP
			switch v := addr.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			}
			if ip == nil || ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
				continue
			}
			ips = append(ips, ip)
		}
	}
	return ips
}
